package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBespokeVariantOverridesRecipeVariant(t *testing.T) {
	recipe := []Variant{
		{Options: OptionMap{"python": "2.7"}},
		{Options: OptionMap{"python": "3.9"}},
	}
	bespoke := []Variant{
		{Options: OptionMap{"python": "3.9"}, Requirements: []Request{
			{Var: &VarRequest{Var: "debug", Value: "on"}},
		}},
	}

	entries := BuildVariantList(recipe, bespoke)
	require.Len(t, entries, 2)
	assert.Equal(t, VariantSourceRecipe, entries[0].Source)
	// the same-keyed bespoke variant replaced the recipe one in place
	assert.Equal(t, VariantSourceBespoke, entries[1].Source)
	assert.Len(t, entries[1].Requirements, 1)
}

func TestDuplicateVariantsCollapse(t *testing.T) {
	recipe := []Variant{
		{Options: OptionMap{"python": "3.9"}, Requirements: []Request{
			{Var: &VarRequest{Var: "debug", Value: "on"}},
		}},
	}
	bespoke := []Variant{
		// identical options and identical (empty) requirements: one build
		{Options: OptionMap{"gcc": "9.3"}},
		{Options: OptionMap{"gcc": "9.3"}},
	}

	entries := BuildVariantList(recipe, bespoke)
	require.Len(t, entries, 3)
	assert.Equal(t, -1, entries[0].DuplicateOf)
	assert.Equal(t, -1, entries[1].DuplicateOf)
	// the later identical entry collapses onto the earlier one
	assert.Equal(t, 1, entries[2].DuplicateOf)

	unique := UniqueVariants(entries)
	assert.Len(t, unique, 2)
}
