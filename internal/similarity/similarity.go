// Package similarity scores name pairs with a weighted composite of
// edit-distance, prefix-weighted, and token-overlap metrics.
package similarity

import (
	"fmt"
	"math"
	"strings"
)

// Weights are the composite coefficients. They must be non-negative and sum
// to 1 within 0.001.
type Weights struct {
	Levenshtein float64
	JaroWinkler float64
	Jaccard     float64
}

// DefaultWeights is the standard blend.
var DefaultWeights = Weights{Levenshtein: 0.33, JaroWinkler: 0.34, Jaccard: 0.33}

// Validate checks the weight constraints.
func (w Weights) Validate() error {
	if w.Levenshtein < 0 || w.JaroWinkler < 0 || w.Jaccard < 0 {
		return fmt.Errorf("similarity: weights must be non-negative, got %+v", w)
	}
	sum := w.Levenshtein + w.JaroWinkler + w.Jaccard
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("similarity: weights must sum to 1±0.001, got %.4f", sum)
	}
	return nil
}

// Scorer computes composite similarity scores.
type Scorer struct {
	weights Weights
}

// NewScorer creates a Scorer after validating the weights.
func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Subscores carries the individual metric values for decision provenance.
type Subscores struct {
	Levenshtein float64
	JaroWinkler float64
	Jaccard     float64
	Composite   float64
}

// Score returns the weighted composite in [0,1]. Identical inputs
// short-circuit to 1.0; an empty input scores 0.0 across the board.
func (s *Scorer) Score(a, b string) Subscores {
	if a == "" || b == "" {
		return Subscores{}
	}
	if a == b {
		return Subscores{Levenshtein: 1, JaroWinkler: 1, Jaccard: 1, Composite: 1}
	}
	sub := Subscores{
		Levenshtein: LevenshteinScore(a, b),
		JaroWinkler: JaroWinkler(a, b),
		Jaccard:     JaccardTokens(a, b),
	}
	sub.Composite = s.weights.Levenshtein*sub.Levenshtein +
		s.weights.JaroWinkler*sub.JaroWinkler +
		s.weights.Jaccard*sub.Jaccard
	return sub
}

// LevenshteinScore is 1 - d(a,b)/max(|a|,|b|), computed over runes.
func LevenshteinScore(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// levenshtein computes edit distance with a rolling two-row matrix.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// jaroWinkler constants: scaling factor and common-prefix cap.
const (
	jwScale     = 0.1
	jwPrefixCap = 4
)

// JaroWinkler computes the prefix-weighted Jaro-Winkler similarity with
// scaling factor 0.1 and a common-prefix cap of 4.
func JaroWinkler(a, b string) float64 {
	j := jaro([]rune(a), []rune(b))
	if j == 0 {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prefix := 0
	for i := 0; i < min(len(ra), len(rb), jwPrefixCap); i++ {
		if ra[i] != rb[i] {
			break
		}
		prefix++
	}
	return j + float64(prefix)*jwScale*(1-j)
}

// jaro computes the Jaro similarity with match window max(|a|,|b|)/2 - 1.
func jaro(a, b []rune) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	window := max(len(a), len(b))/2 - 1
	if window < 0 {
		window = 0
	}

	aMatched := make([]bool, len(a))
	bMatched := make([]bool, len(b))
	matches := 0
	for i := range a {
		lo := max(0, i-window)
		hi := min(len(b)-1, i+window)
		for j := lo; j <= hi; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i] = true
			bMatched[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	// Count transpositions across the matched sequences.
	transpositions := 0
	j := 0
	for i := range a {
		if !aMatched[i] {
			continue
		}
		for !bMatched[j] {
			j++
		}
		if a[i] != b[j] {
			transpositions++
		}
		j++
	}

	m := float64(matches)
	return (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions)/2)/m) / 3
}

// JaccardTokens is the Jaccard coefficient over whitespace-tokenized
// lowercase token sets.
func JaccardTokens(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	intersection := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}
