package solve

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pakfs/pakfs/ident"
)

func buildFor(t *testing.T, options map[string]string) (ident.Ident, ident.OptionMap) {
	t.Helper()
	values := ident.OptionMap{}
	for name, value := range options {
		values[ident.OptName(name)] = value
	}
	pkg := ident.MustIdent("pkg/1.0").WithBuild(ident.BuildFromOptions(values))
	return pkg, values
}

func TestBuildKeyOrderingByOptionValues(t *testing.T) {
	ordering := []ident.OptName{"python", "debug"}

	type candidate struct {
		options map[string]string
	}
	candidates := []candidate{
		{map[string]string{"python": "2.7", "debug": "on"}},
		{map[string]string{"python": "2.7", "debug": "off"}},
		{map[string]string{"python": "3.9", "debug": "on"}},
		{map[string]string{"python": "3.9", "debug": "off"}},
		{map[string]string{"python": "3.11", "debug": "on"}},
		{map[string]string{"python": "3.11", "debug": "off"}},
	}

	type keyed struct {
		key    BuildKey
		values map[string]string
	}
	var keys []keyed
	for _, c := range candidates {
		pkg, values := buildFor(t, c.options)
		keys = append(keys, keyed{
			key:    NewBuildKey(pkg, ordering, values, false),
			values: c.options,
		})
	}
	// builds are presented in descending key order
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].key.Compare(keys[j].key) > 0
	})

	// the first candidate offered is python=3.11, debug=on: versions
	// order numerically high to low, and "on" > "off" under the
	// reverse text sort
	assert.Equal(t, "3.11", keys[0].values["python"])
	assert.Equal(t, "on", keys[0].values["debug"])
	// the last is the lowest python with debug=off
	last := keys[len(keys)-1].values
	assert.Equal(t, "2.7", last["python"])
	assert.Equal(t, "off", last["debug"])
}

func TestBuildKeyKindOrdering(t *testing.T) {
	binary, values := buildFor(t, map[string]string{"python": "3.9"})
	src := ident.MustIdent("pkg/1.0").WithBuild(ident.Source())
	embedded := ident.MustIdent("pkg/1.0").WithBuild(ident.Embedded("other/1.0"))

	binaryKey := NewBuildKey(binary, []ident.OptName{"python"}, values, false)
	srcKey := NewBuildKey(src, nil, nil, false)
	embedKey := NewBuildKey(embedded, nil, nil, false)

	// descending: binary first, embedded stubs second-last, src last
	assert.Greater(t, binaryKey.Compare(embedKey), 0)
	assert.Greater(t, embedKey.Compare(srcKey), 0)
}

func TestBuildKeyImpossibleRequestsFlagDominates(t *testing.T) {
	better, betterValues := buildFor(t, map[string]string{"python": "2.7"})
	worse, worseValues := buildFor(t, map[string]string{"python": "3.11"})

	ordering := []ident.OptName{"python"}
	possibleKey := NewBuildKey(better, ordering, betterValues, false)
	impossibleKey := NewBuildKey(worse, ordering, worseValues, true)

	// a build with only possible requests outranks a higher version
	// that would introduce an impossible one
	assert.Greater(t, possibleKey.Compare(impossibleKey), 0)
}

func TestBuildKeyValueKinds(t *testing.T) {
	pkg, _ := buildFor(t, nil)
	ordering := []ident.OptName{"opt"}

	versionKey := NewBuildKey(pkg, ordering, ident.OptionMap{"opt": "1.2.3"}, false)
	textKey := NewBuildKey(pkg, ordering, ident.OptionMap{"opt": "apples"}, false)
	notSetKey := NewBuildKey(pkg, ordering, ident.OptionMap{}, false)

	// expanded version ranges outrank text values outrank absent values
	assert.Greater(t, versionKey.Compare(textKey), 0)
	assert.Greater(t, textKey.Compare(notSetKey), 0)
}

func TestBuildKeyTieBreaker(t *testing.T) {
	// "1.2.3" and ">=1.2.3" expand to the same bounds and need the
	// request-text hash to order consistently
	a, ok := expandVersionRange("1.2.3")
	require.True(t, ok)
	b, ok := expandVersionRange(">=1.2.3")
	require.True(t, ok)
	assert.NotEqual(t, 0, a.compare(b))

	again, ok := expandVersionRange("1.2.3")
	require.True(t, ok)
	assert.Equal(t, 0, a.compare(again))
}

func TestPromotionPatterns(t *testing.T) {
	patterns := NewPromotionPatterns("python,debug")
	names := []string{"abi", "debug", "python", "zlib"}
	patterns.PromoteNames(names)
	assert.Equal(t, []string{"python", "debug", "abi", "zlib"}, names)

	// globs match partial names
	patterns = NewPromotionPatterns("*platform*")
	names = []string{"alpha", "spi-platform"}
	patterns.PromoteNames(names)
	assert.Equal(t, []string{"spi-platform", "alpha"}, names)

	// no patterns leaves the order untouched
	NewPromotionPatterns("").PromoteNames(names)
	assert.Equal(t, []string{"spi-platform", "alpha"}, names)
}
