// Package normalize turns raw entity names into canonical lookup keys.
//
// Normalization is an ordered pipeline of type-scoped rewrite rules; each
// rule's output feeds the next. The result is deterministic and idempotent:
// Normalize(Normalize(x)) == Normalize(x) for every x.
package normalize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ashita-ai/musubi/internal/model"
)

// Rule is one rewrite step. Pattern is applied as compiled to the working
// string (case-insensitive rules carry the (?i) flag, as the builtin ones
// do) and every match is replaced with Replacement. An empty
// ApplicableTypes set makes the rule universal. Rules run in ascending
// Priority order.
type Rule struct {
	Name            string
	Pattern         *regexp.Regexp
	Replacement     string
	ApplicableTypes map[model.EntityType]struct{}
	Priority        int
}

// AppliesTo reports whether the rule covers the given type.
func (r Rule) AppliesTo(t model.EntityType) bool {
	if len(r.ApplicableTypes) == 0 {
		return true
	}
	_, ok := r.ApplicableTypes[t]
	return ok
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// legal suffixes stripped from company names, longest-match forms included
// explicitly so "incorporated" never degrades to "orporated" via "inc".
var companySuffixRE = regexp.MustCompile(
	`(?i)\b(incorporated|corporation|limited|company|inc|corp|ltd|llc|co|ag|gmbh|nv|bv)\.?\s*$`)

var leadingTheRE = regexp.MustCompile(`(?i)^\s*the\s+`)

var ampersandRE = regexp.MustCompile(`(?i)\s*&\s*|\s+and\s+`)

func companyTypes() map[model.EntityType]struct{} {
	return map[model.EntityType]struct{}{model.EntityTypeCompany: {}}
}

// BuiltinRules returns the default rule set. Company rules strip trailing
// legal suffixes (repeatedly, so "X Holdings Co Ltd" fully reduces), the
// leading article, and ampersand/and joiners.
func BuiltinRules() []Rule {
	return []Rule{
		{
			Name:            "company-legal-suffix",
			Pattern:         companySuffixRE,
			Replacement:     "",
			ApplicableTypes: companyTypes(),
			Priority:        10,
		},
		{
			Name:            "company-leading-the",
			Pattern:         leadingTheRE,
			Replacement:     "",
			ApplicableTypes: companyTypes(),
			Priority:        20,
		},
		{
			Name:            "company-ampersand",
			Pattern:         ampersandRE,
			Replacement:     " ",
			ApplicableTypes: companyTypes(),
			Priority:        30,
		},
	}
}

// Normalizer applies a fixed, ordered rule set.
type Normalizer struct {
	rules []Rule
}

// New creates a Normalizer with the given rules sorted by ascending
// priority. Pass BuiltinRules() for the default behavior.
func New(rules []Rule) *Normalizer {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &Normalizer{rules: sorted}
}

// Normalize applies every applicable rule in priority order, then
// lowercases, collapses whitespace, and trims. Punctuation that survives
// the rules is replaced by a space so "Tesla, Inc." and "Tesla" coincide. Blank input
// yields the empty string.
func (n *Normalizer) Normalize(name string, t model.EntityType) string {
	s := strings.TrimSpace(name)
	if s == "" {
		return ""
	}
	for _, r := range n.rules {
		if !r.AppliesTo(t) {
			continue
		}
		// Suffix rules only match once per pass; re-apply until stable so
		// stacked suffixes ("Co Ltd") fully strip.
		for {
			next := r.Pattern.ReplaceAllString(s, r.Replacement)
			if next == s {
				break
			}
			s = next
		}
	}
	s = strings.ToLower(s)
	s = stripPunct(s)
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// AreEquivalent reports whether two raw names normalize to the same
// non-empty key for the given type.
func (n *Normalizer) AreEquivalent(a, b string, t model.EntityType) bool {
	na := n.Normalize(a, t)
	if na == "" {
		return false
	}
	return na == n.Normalize(b, t)
}

// stripPunct replaces the permitted punctuation characters (.,&'-) with a
// space so they
// never distinguish two otherwise identical names. Other runes pass through
// untouched; input validation upstream already rejects anything exotic.
func stripPunct(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '.', ',', '\'', '&', '-':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
