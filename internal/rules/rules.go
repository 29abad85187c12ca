// Package rules holds the declarative pattern tables that drive
// completion detection and completion-data extraction.
//
// The upstream engine names stages inconsistently, so everything that
// matches against stage names, tool names or outputs is data here, not
// code: a (pattern, field, priority) table loaded from an embedded YAML
// document and overridable for tests or deployment-specific tool sets.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ordersight/ordersight/internal/model"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// StageMatcher matches a stage record by case-insensitive substring
// against its tool name, label, then stage id, in that priority order.
type StageMatcher struct {
	Tool []string `yaml:"tool"`
	Name []string `yaml:"name"`
	ID   []string `yaml:"id"`
}

// Matches reports whether rec matches any pattern in the matcher.
func (m StageMatcher) Matches(rec model.StageRecord) bool {
	return m.matchField(rec.ToolName, m.Tool) ||
		m.matchField(rec.Name, m.Name) ||
		m.matchField(rec.StageID, m.ID)
}

func (m StageMatcher) matchField(value string, patterns []string) bool {
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, p := range patterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// StageKinds classifies stages by role in the pipeline.
type StageKinds struct {
	Confirmation StageMatcher `yaml:"confirmation"`
	Payment      StageMatcher `yaml:"payment"`
	Ledger       StageMatcher `yaml:"ledger"`
	Finalization StageMatcher `yaml:"finalization"`
	Merge        StageMatcher `yaml:"merge"`
	Extraction   StageMatcher `yaml:"extraction"`
}

// Heuristics bounds the tertiary completion tier.
type Heuristics struct {
	// CompletionRatio is the progress fraction at or above which the
	// ratio-based rules accept.
	CompletionRatio float64 `yaml:"completion_ratio"`
	// CompletedFloor is the absolute completed-stage count at or above
	// which the count-based rule accepts. Failed and skipped stages do
	// not count toward the floor.
	CompletedFloor int `yaml:"completed_floor"`
}

// Rules is the full rule set.
type Rules struct {
	Kinds StageKinds `yaml:"stage_kinds"`

	// ConfirmationPhrases are scanned against the stringified output of
	// every completed stage in the secondary detection tier.
	ConfirmationPhrases []string `yaml:"confirmation_phrases"`

	// FieldSynonyms maps a CompletionData field to the output keys it
	// may appear under, in descending priority.
	FieldSynonyms map[string][]string `yaml:"field_synonyms"`

	Heuristics Heuristics `yaml:"heuristics"`
}

// Default returns the embedded rule set. The embedded document is
// validated by TestDefaultRules, so a parse failure here is a build
// defect; Default panics rather than propagating an impossible error.
func Default() Rules {
	r, err := Parse(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("rules: embedded rules.yaml invalid: %v", err))
	}
	return r
}

// Parse decodes a YAML rule document.
func Parse(data []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("rules: parse: %w", err)
	}
	if r.Heuristics.CompletionRatio <= 0 || r.Heuristics.CompletionRatio > 1 {
		return Rules{}, fmt.Errorf("rules: completion_ratio must be in (0, 1], got %v", r.Heuristics.CompletionRatio)
	}
	if r.Heuristics.CompletedFloor <= 0 {
		return Rules{}, fmt.Errorf("rules: completed_floor must be positive, got %d", r.Heuristics.CompletedFloor)
	}
	return r, nil
}

// LoadFile reads a rule document from disk, for deployments that
// override the embedded defaults.
func LoadFile(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("rules: read %s: %w", path, err)
	}
	return Parse(data)
}
