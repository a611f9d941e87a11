package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/aedregistry/matching-engine/pkg/models"
)

// defaultParenthetical removes parenthesized branch/sub-unit annotations
// when a parenthetical rule carries no pattern of its own.
var defaultParenthetical = regexp.MustCompile(`\([^()]*\)`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Signal records one rule's effect on a name. Signals exist purely so
// an operator can see why two names did or did not converge; they never
// influence the normalized value.
type Signal struct {
	Rule    string `json:"rule"`
	Before  string `json:"before"`
	After   string `json:"after"`
	Applied bool   `json:"applied"`
}

// Result is the outcome of normalizing one raw institution name.
type Result struct {
	Normalized string   `json:"normalized"`
	Signals    []Signal `json:"signals"`
}

type compiledRule struct {
	rule models.NormalizationRule

	// pattern and replacement are the rule's literals folded into the
	// canonical space, so a rule written as "(주)" also strips the
	// full-width "（주）" a field reporter typed.
	pattern     string
	replacement string
	re          *regexp.Regexp // parenthetical rules only
}

// Normalizer applies an immutable snapshot of the active rule set.
// Given the same snapshot, Normalize is a pure function of its input:
// no locale- or time-dependent behavior.
type Normalizer struct {
	rules []compiledRule
}

// New builds a Normalizer from a rule snapshot. Inactive rules are
// dropped; the rest are ordered by descending priority, then insertion
// order. Parenthetical rules with a pattern must compile as a regular
// expression.
func New(rules []models.NormalizationRule) (*Normalizer, error) {
	active := make([]models.NormalizationRule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority > active[j].Priority
		}
		return active[i].ID < active[j].ID
	})

	compiled := make([]compiledRule, 0, len(active))
	for _, r := range active {
		cr := compiledRule{
			rule:        r,
			pattern:     Fold(r.Pattern),
			replacement: Fold(r.Replacement),
		}
		if r.RuleType == models.RuleTypeParenthetical {
			cr.re = defaultParenthetical
			if r.Pattern != "" {
				// NFKC only: lowercasing a regex source could change
				// character classes, and width variants are the concern.
				re, err := regexp.Compile(norm.NFKC.String(r.Pattern))
				if err != nil {
					return nil, fmt.Errorf("rule %d: invalid parenthetical pattern %q: %w", r.ID, r.Pattern, err)
				}
				cr.re = re
			}
		}
		compiled = append(compiled, cr)
	}

	return &Normalizer{rules: compiled}, nil
}

// Normalize canonicalizes a raw institution name. The input is folded
// (NFKC, whitespace collapse, lowercase) before the pattern rules so
// width and case variants cannot slip past them, and folded again last
// so no replacement can leave the canonical space. With both ends
// pinned, normalizing an already-normalized name is a no-op.
func (n *Normalizer) Normalize(raw string) Result {
	s := Fold(raw)
	signals := make([]Signal, 0, len(n.rules))

	for _, cr := range n.rules {
		before := s
		s = applyRule(cr, s)
		signals = append(signals, Signal{
			Rule:    ruleLabel(cr.rule),
			Before:  before,
			After:   s,
			Applied: s != before,
		})
	}

	return Result{Normalized: Fold(s), Signals: signals}
}

// Key returns only the canonical form, for callers that do not need
// the signal trace.
func (n *Normalizer) Key(raw string) string {
	return n.Normalize(raw).Normalized
}

func applyRule(cr compiledRule, s string) string {
	switch cr.rule.RuleType {
	case models.RuleTypeRegionPrefix:
		// Region prefixes are only meaningful at the start of a name.
		if cr.pattern != "" && strings.HasPrefix(s, cr.pattern) {
			return cr.replacement + strings.TrimPrefix(s, cr.pattern)
		}
		return s
	case models.RuleTypeParenthetical:
		return cr.re.ReplaceAllString(s, cr.replacement)
	case models.RuleTypeWhitespace:
		return collapseWhitespace(s)
	default:
		// exact and corporate_suffix are literal replacements; corporate
		// forms like "(주)" appear both as prefixes and suffixes, so all
		// occurrences are replaced.
		if cr.pattern == "" {
			return s
		}
		return strings.ReplaceAll(s, cr.pattern, cr.replacement)
	}
}

func ruleLabel(r models.NormalizationRule) string {
	if r.Pattern == "" {
		return r.RuleType
	}
	return fmt.Sprintf("%s(%s)", r.RuleType, r.Pattern)
}

// Fold applies the fixed final steps of canonicalization: NFKC
// normalization (folds full-width/half-width variants), whitespace
// collapse, trim, and lowercase. It is used on its own for address
// strings, which never go through the institution-name rules.
func Fold(s string) string {
	s = norm.NFKC.String(s)
	s = collapseWhitespace(s)
	return strings.ToLower(s)
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
