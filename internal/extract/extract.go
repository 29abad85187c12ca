// Package extract assembles a structured completion summary from the
// free-form and semi-structured outputs of a run's stages.
//
// Every field resolves independently with descending priority: the
// structured output of the stage kind most associated with the field,
// then synonymous keys in merge/aggregation and extraction stages, then
// a generic pattern scan over all stringified outputs, and finally the
// Unknown sentinel. Malformed output is treated as unparseable and
// falls through to the next strategy. Extraction never fails.
package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/ordersight/ordersight/internal/model"
	"github.com/ordersight/ordersight/internal/rules"
)

var (
	paymentURLPattern = regexp.MustCompile(`https://checkout\.stripe\.com/[^\s"'<>\\]+`)
	ledgerHexPattern  = regexp.MustCompile(`\b(?:0x)?[0-9a-fA-F]{64}\b`)
	emailPattern      = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
)

// Extractor resolves CompletionData fields against a rule set.
type Extractor struct {
	rules rules.Rules
}

// New creates an extractor using the given rules.
func New(r rules.Rules) *Extractor {
	return &Extractor{rules: r}
}

// CompletionData extracts the completion summary for a run. Absent
// fields carry model.Unknown; partial success is the expected case.
func (x *Extractor) CompletionData(run model.RunRecord) model.CompletionData {
	data := model.UnknownCompletionData()

	kinds := x.rules.Kinds
	data.OrderID = x.field(run, "order_id", kinds.Finalization, "")
	data.BuyerContact = x.field(run, "buyer_contact", kinds.Extraction, "email")
	data.ItemDescription = x.field(run, "item_description", kinds.Extraction, "")
	data.Quantity = x.field(run, "quantity", kinds.Extraction, "")
	data.DeliveryLocation = x.field(run, "delivery_location", kinds.Extraction, "")
	data.TotalAmount = x.field(run, "total_amount", kinds.Finalization, "")
	data.PaymentReference = x.field(run, "payment_reference", kinds.Payment, "payment_url")
	data.LedgerReference = x.field(run, "ledger_reference", kinds.Ledger, "ledger_hex")
	return data
}

// field resolves one field: associated stage kind, then merge and
// extraction stages, then the generic scan named by scanKind.
func (x *Extractor) field(run model.RunRecord, name string, primary rules.StageMatcher, scanKind string) string {
	synonyms := x.rules.FieldSynonyms[name]

	// (a) structured output of the associated stage kind.
	for _, rec := range stagesMatching(run, primary) {
		if v, ok := lookupSynonym(rec.Output, synonyms); ok {
			return v
		}
		// The value may be embedded in a prose output rather than keyed.
		if scanKind != "" {
			if v, ok := scanText(Stringify(rec.Output), scanKind); ok {
				return v
			}
		}
	}

	// (b) synonymous keys in merge/aggregation, then extraction stages.
	for _, matcher := range []rules.StageMatcher{x.rules.Kinds.Merge, x.rules.Kinds.Extraction} {
		for _, rec := range stagesMatching(run, matcher) {
			if v, ok := lookupSynonym(rec.Output, synonyms); ok {
				return v
			}
		}
	}

	// (c) generic pattern scan over every stage output.
	if scanKind != "" {
		for _, rec := range run.Stages {
			if v, ok := scanText(Stringify(rec.Output), scanKind); ok {
				return v
			}
		}
	}

	return model.Unknown
}

func stagesMatching(run model.RunRecord, m rules.StageMatcher) []model.StageRecord {
	var out []model.StageRecord
	for _, rec := range run.Stages {
		if rec.Output != nil && m.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// lookupSynonym searches the flattened keys of a structured output for
// the first synonym, in synonym priority order.
func lookupSynonym(output any, synonyms []string) (string, bool) {
	flat := flatten(output)
	if len(flat) == 0 {
		return "", false
	}
	for _, syn := range synonyms {
		if v, ok := flat[normalizeKey(syn)]; ok {
			if s := valueString(v); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// flatten collects leaf key/value pairs from a structured output,
// descending up to three levels so wrappers like {"order_details": {..}}
// still expose their fields. A string output is parsed as JSON first;
// anything unparseable yields nil.
func flatten(output any) map[string]any {
	obj := asMap(output)
	if obj == nil {
		return nil
	}
	flat := make(map[string]any)
	walk(obj, flat, 0)
	return flat
}

func asMap(output any) map[string]any {
	switch v := output.(type) {
	case map[string]any:
		return v
	case string:
		var obj map[string]any
		if err := json.Unmarshal([]byte(v), &obj); err == nil {
			return obj
		}
	case json.RawMessage:
		var obj map[string]any
		if err := json.Unmarshal(v, &obj); err == nil {
			return obj
		}
	}
	return nil
}

func walk(obj map[string]any, flat map[string]any, depth int) {
	for k, v := range obj {
		if nested, ok := v.(map[string]any); ok && depth < 3 {
			walk(nested, flat, depth+1)
			continue
		}
		key := normalizeKey(k)
		if _, exists := flat[key]; !exists {
			flat[key] = v
		}
	}
}

// normalizeKey lowercases and strips separators so payment_link,
// paymentLink and "Payment Link" compare equal.
func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// valueString renders a leaf value. Numbers print without a float
// suffix so a JSON quantity of 10 comes back as "10".
func valueString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	}
	return ""
}

// Stringify renders any stage output as text for pattern scans. Also
// used by the completion detector's phrase tier.
func Stringify(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// scanText applies one generic pattern scan to text.
func scanText(text, kind string) (string, bool) {
	if text == "" {
		return "", false
	}
	var m string
	switch kind {
	case "payment_url":
		m = paymentURLPattern.FindString(text)
	case "ledger_hex":
		m = ledgerHexPattern.FindString(text)
	case "email":
		m = emailPattern.FindString(text)
	}
	if m == "" {
		return "", false
	}
	return m, true
}
