package ident

import (
	"sort"
	"strings"
)

// Variant is one pre-declared set of build option overrides in a recipe,
// optionally carrying additional build requirements.
type Variant struct {
	Options      OptionMap
	Requirements []Request
}

// key identifies a variant by its option overrides alone.
func (v Variant) key() string {
	return v.Options.Digest()
}

// fingerprint identifies a variant by its options and its additional
// requirements together.
func (v Variant) fingerprint() string {
	requirements := make([]string, len(v.Requirements))
	for i, request := range v.Requirements {
		requirements[i] = request.String()
	}
	sort.Strings(requirements)
	return v.key() + "|" + strings.Join(requirements, ";")
}

// VariantSource records where a variant entry came from.
type VariantSource uint8

const (
	// VariantSourceRecipe marks variants declared by the recipe.
	VariantSourceRecipe VariantSource = iota
	// VariantSourceBespoke marks variants supplied via configuration or
	// the command line.
	VariantSourceBespoke
)

func (s VariantSource) String() string {
	if s == VariantSourceBespoke {
		return "bespoke"
	}
	return "recipe"
}

// VariantEntry is one resolved entry of a build variant list.
type VariantEntry struct {
	Variant
	Source VariantSource
	// DuplicateOf is the index of the earlier identical entry, or -1
	// when this entry is unique.
	DuplicateOf int
}

// BuildVariantList combines recipe-declared variants with bespoke ones.
// A bespoke variant with the same option key as a recipe variant replaces
// it in place. Entries that end up with identical options and identical
// additional requirements collapse to a single build: the later entry is
// kept in the list but marked as a duplicate of the earlier one.
func BuildVariantList(recipe []Variant, bespoke []Variant) []VariantEntry {
	entries := make([]VariantEntry, 0, len(recipe)+len(bespoke))
	for _, variant := range recipe {
		entries = append(entries, VariantEntry{
			Variant:     variant,
			Source:      VariantSourceRecipe,
			DuplicateOf: -1,
		})
	}

	for _, variant := range bespoke {
		replaced := false
		for i := range entries {
			if entries[i].Source == VariantSourceRecipe && entries[i].key() == variant.key() {
				entries[i] = VariantEntry{
					Variant:     variant,
					Source:      VariantSourceBespoke,
					DuplicateOf: -1,
				}
				replaced = true
				break
			}
		}
		if !replaced {
			entries = append(entries, VariantEntry{
				Variant:     variant,
				Source:      VariantSourceBespoke,
				DuplicateOf: -1,
			})
		}
	}

	seen := map[string]int{}
	for i := range entries {
		fp := entries[i].fingerprint()
		if first, ok := seen[fp]; ok {
			entries[i].DuplicateOf = first
			continue
		}
		seen[fp] = i
	}
	return entries
}

// UniqueVariants filters a variant list down to the entries that produce
// distinct builds.
func UniqueVariants(entries []VariantEntry) []VariantEntry {
	unique := make([]VariantEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.DuplicateOf < 0 {
			unique = append(unique, entry)
		}
	}
	return unique
}
