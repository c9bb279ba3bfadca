package normalize

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/musubi/internal/model"
)

func TestNormalize_CompanySuffixes(t *testing.T) {
	n := New(BuiltinRules())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"inc with punctuation", "Tesla, Inc.", "tesla"},
		{"incorporated", "Tesla Incorporated", "tesla"},
		{"corp abbreviated", "Microsoft Corp.", "microsoft"},
		{"corporation", "Microsoft Corporation", "microsoft"},
		{"ltd", "Acme Ltd", "acme"},
		{"limited", "Acme Limited", "acme"},
		{"llc", "Initech LLC", "initech"},
		{"gmbh", "Siemens GmbH", "siemens"},
		{"stacked suffixes", "Nakatomi Trading Co Ltd", "nakatomi trading"},
		{"leading the", "The Coca-Cola Company", "coca cola"},
		{"ampersand", "Johnson & Johnson", "johnson johnson"},
		{"spelled and", "Procter and Gamble", "procter gamble"},
		{"plain name untouched", "Apple", "apple"},
		{"whitespace collapsed", "  Apple   Computer  ", "apple computer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.in, model.EntityTypeCompany))
		})
	}
}

func TestNormalize_TypeScoping(t *testing.T) {
	n := New(BuiltinRules())

	// Company rules must not fire for other types.
	assert.Equal(t, "the road inc", n.Normalize("The Road Inc", model.EntityTypeProduct))
	assert.Equal(t, "road", n.Normalize("The Road Inc", model.EntityTypeCompany))
}

func TestNormalize_BlankInputs(t *testing.T) {
	n := New(BuiltinRules())

	assert.Equal(t, "", n.Normalize("", model.EntityTypeCompany))
	assert.Equal(t, "", n.Normalize("   ", model.EntityTypeCompany))
}

func TestNormalize_Idempotent(t *testing.T) {
	n := New(BuiltinRules())

	inputs := []string{
		"Tesla, Inc.", "The Coca-Cola Company", "Johnson & Johnson",
		"Nakatomi Trading Co Ltd", "  spaced   out  ", "apple", "",
		"Company", "AG Insurance Group",
	}
	for _, in := range inputs {
		once := n.Normalize(in, model.EntityTypeCompany)
		twice := n.Normalize(once, model.EntityTypeCompany)
		assert.Equal(t, once, twice, "normalize not idempotent for %q", in)
	}
}

func TestAreEquivalent(t *testing.T) {
	n := New(BuiltinRules())

	assert.True(t, n.AreEquivalent("Tesla, Inc.", "Tesla Incorporated", model.EntityTypeCompany))
	assert.True(t, n.AreEquivalent("Microsoft Corp.", "microsoft corporation", model.EntityTypeCompany))
	assert.False(t, n.AreEquivalent("Tesla", "Edison", model.EntityTypeCompany))

	// Blank never equals blank: equivalence requires a non-empty key.
	assert.False(t, n.AreEquivalent("", "", model.EntityTypeCompany))
	assert.False(t, n.AreEquivalent("   ", "", model.EntityTypeCompany))
}

func TestNormalize_CustomRulePriority(t *testing.T) {
	re1, err := regexp.Compile(`(?i)alpha`)
	require.NoError(t, err)
	re2, err := regexp.Compile(`(?i)beta`)
	require.NoError(t, err)

	// Lower priority runs first: alpha->beta, then beta->gamma.
	n := New([]Rule{
		{Name: "second", Pattern: re2, Replacement: "gamma", Priority: 2},
		{Name: "first", Pattern: re1, Replacement: "beta", Priority: 1},
	})
	assert.Equal(t, "gamma", n.Normalize("Alpha", model.EntityTypeOther))
}
