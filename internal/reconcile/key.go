// Package reconcile folds the unordered, possibly-duplicated stage
// event stream for a run into canonical, chronologically ordered stage
// records.
//
// The upstream execution engine gives no consistency guarantees: events
// for one logical stage can arrive more than once, out of order, with
// conflicting statuses, or not at all. Everything in this package is
// total. Malformed input gets defaults, never an error.
package reconcile

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ordersight/ordersight/internal/model"
)

// Canonical key prefixes, strongest signal first.
const (
	keyPrefixID   = "id:"
	keyPrefixTool = "tool:"
	keyPrefixName = "name:"
)

// orderExtractionKey is the fixed key that the order-extraction tool
// family collapses onto. The engine emits that logical stage under many
// spellings ("OrderExtractionTool", "order_extraction_tool", "Order
// Extraction"), so substring matching on the normalized name is the
// only reliable signal.
const orderExtractionKey = keyPrefixTool + "order_extraction"

var (
	// toolSuffixID matches engine-generated stage ids of the form
	// "<tool_name>_<8 hex chars>".
	toolSuffixID = regexp.MustCompile(`^[A-Za-z0-9_.:-]+_[0-9a-f]{8}$`)

	// fixedHexID matches 24- or 32-char internal object ids.
	fixedHexID = regexp.MustCompile(`^[0-9a-f]{24}$|^[0-9a-f]{32}$`)
)

// isBackendID reports whether id has a backend-generated shape: a UUID
// or one of the fixed-length internal id formats. Such ids are assumed
// stable per logical execution and win over any name-based key.
func isBackendID(id string) bool {
	if id == "" {
		return false
	}
	if _, err := uuid.Parse(id); err == nil {
		return true
	}
	return toolSuffixID.MatchString(id) || fixedHexID.MatchString(id)
}

// normalizeName case-folds s and strips whitespace and punctuation so
// spelling variants of the same tool compare equal.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isOrderExtractionFamily reports whether a normalized tool or stage
// name belongs to the order-extraction family.
func isOrderExtractionFamily(normalized string) bool {
	return strings.Contains(normalized, "orderextract")
}

// CanonicalKey derives the dedup key for ev. First matching rule wins:
//
//  1. backend-generated stage id  -> "id:<id>"
//  2. tool name present           -> "tool:<normalized>"
//  3. fallback to the human label -> "name:<normalized>"
//
// The order-extraction family is force-collapsed to one fixed key in
// rules 2 and 3. Events lacking all three signals collapse onto the
// same "name:unnamedstage" key, an intentional aggressive-dedup
// trade-off that eliminates duplicate-stage artifacts at the cost of
// rare false merges of genuinely distinct same-named stages.
func CanonicalKey(ev model.StageEvent) string {
	if isBackendID(ev.StageID) {
		return keyPrefixID + ev.StageID
	}
	if ev.ToolName != "" {
		n := normalizeName(ev.ToolName)
		if isOrderExtractionFamily(n) {
			return orderExtractionKey
		}
		if n != "" {
			return keyPrefixTool + n
		}
	}
	n := normalizeName(ev.Name)
	if isOrderExtractionFamily(n) {
		return orderExtractionKey
	}
	if n == "" {
		n = normalizeName(model.DefaultStageName)
	}
	return keyPrefixName + n
}
