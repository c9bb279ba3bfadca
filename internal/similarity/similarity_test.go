package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeights_Validate(t *testing.T) {
	require.NoError(t, DefaultWeights.Validate())
	require.NoError(t, Weights{Levenshtein: 1}.Validate())

	assert.Error(t, Weights{Levenshtein: 0.5, JaroWinkler: 0.5, Jaccard: 0.5}.Validate())
	assert.Error(t, Weights{Levenshtein: -0.1, JaroWinkler: 0.6, Jaccard: 0.5}.Validate())
	assert.Error(t, Weights{}.Validate())

	// Tolerance of ±0.001 around 1.
	require.NoError(t, Weights{Levenshtein: 0.333, JaroWinkler: 0.333, Jaccard: 0.3335}.Validate())
}

func TestLevenshteinScore(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"kitten", "kitten", 1},
		{"kitten", "sitting", 1 - 3.0/7.0},
		{"abc", "", 0},       // empty operand handled by caller, raw metric still defined
		{"a", "b", 0},        // one substitution over length 1
		{"ab", "ba", 0},      // two substitutions over length 2
		{"tesla", "tesle", 0.8},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, LevenshteinScore(tt.a, tt.b), 1e-9, "%q vs %q", tt.a, tt.b)
	}
}

func TestJaroWinkler(t *testing.T) {
	// Classic reference pairs.
	assert.InDelta(t, 0.9611, JaroWinkler("martha", "marhta"), 0.001)
	assert.InDelta(t, 0.8400, JaroWinkler("dwayne", "duane"), 0.001)
	assert.Equal(t, 0.0, JaroWinkler("abc", "xyz"))
	assert.Equal(t, 1.0, JaroWinkler("same", "same"))
}

func TestJaccardTokens(t *testing.T) {
	assert.Equal(t, 1.0, JaccardTokens("acme systems", "systems acme"))
	assert.InDelta(t, 1.0/3.0, JaccardTokens("acme systems", "acme networks"), 1e-9)
	assert.Equal(t, 0.0, JaccardTokens("alpha", "beta"))
	assert.Equal(t, 0.0, JaccardTokens("", "beta"))

	// Case-insensitive tokenization.
	assert.Equal(t, 1.0, JaccardTokens("Acme Systems", "ACME SYSTEMS"))
}

func TestScorer_Score(t *testing.T) {
	s, err := NewScorer(DefaultWeights)
	require.NoError(t, err)

	t.Run("identical short-circuits to 1", func(t *testing.T) {
		sub := s.Score("microsoft", "microsoft")
		assert.Equal(t, 1.0, sub.Composite)
		assert.Equal(t, 1.0, sub.Levenshtein)
		assert.Equal(t, 1.0, sub.JaroWinkler)
		assert.Equal(t, 1.0, sub.Jaccard)
	})

	t.Run("empty input scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, s.Score("", "microsoft").Composite)
		assert.Equal(t, 0.0, s.Score("microsoft", "").Composite)
		assert.Equal(t, 0.0, s.Score("", "").Composite)
	})

	t.Run("composite stays in unit interval", func(t *testing.T) {
		pairs := [][2]string{
			{"acme systems", "acme systemes"},
			{"microsoft", "microsift"},
			{"a", "zzzzzzzzzz"},
			{"alpha beta gamma", "beta gamma alpha"},
		}
		for _, p := range pairs {
			sub := s.Score(p[0], p[1])
			assert.GreaterOrEqual(t, sub.Composite, 0.0)
			assert.LessOrEqual(t, sub.Composite, 1.0)
		}
	})

	t.Run("composite is the weighted blend", func(t *testing.T) {
		sub := s.Score("acme systems", "acme networks")
		want := 0.33*sub.Levenshtein + 0.34*sub.JaroWinkler + 0.33*sub.Jaccard
		assert.InDelta(t, want, sub.Composite, 1e-9)
	})

	t.Run("single-character typo stays below auto-merge bar", func(t *testing.T) {
		// The token-overlap term punishes any token mismatch, so only
		// near-exact names clear the default 0.92 bar via fuzzy scoring.
		sub := s.Score("microsoft corporation", "microsoft corporatian")
		assert.Greater(t, sub.Composite, 0.70)
		assert.Less(t, sub.Composite, 0.92)
	})

	t.Run("typo variant lands in review band", func(t *testing.T) {
		sub := s.Score("acme systems", "acme systemes")
		assert.GreaterOrEqual(t, sub.Composite, 0.60)
		assert.Less(t, sub.Composite, 0.92)
	})
}

func TestNewScorer_RejectsBadWeights(t *testing.T) {
	_, err := NewScorer(Weights{Levenshtein: 2})
	assert.Error(t, err)
}
