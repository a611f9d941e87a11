package models

import "time"

// RuleType identifies how a normalization rule's pattern is applied.
const (
	RuleTypeExact           = "exact"
	RuleTypeRegionPrefix    = "region_prefix"
	RuleTypeCorporateSuffix = "corporate_suffix"
	RuleTypeParenthetical   = "parenthetical"
	RuleTypeWhitespace      = "whitespace"
)

// NormalizationRule is a single pattern/replacement transform used to
// canonicalize free-text institution names. Rules are applied in
// descending priority, then insertion order. The rule table is mutable,
// but a batch run always works from an immutable snapshot taken at start.
type NormalizationRule struct {
	ID          int64     `json:"id"`
	RuleType    string    `json:"rule_type"`
	Pattern     string    `json:"pattern"`
	Replacement string    `json:"replacement"`
	Priority    int       `json:"priority"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}
