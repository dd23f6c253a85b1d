//go:build property
// +build property

// Property-based tests for the aggregation normalizer. Multi-pack merge
// idempotence hinges on NormalizeForAggregation mapping equal readings to
// equal keys, so its fixed-point behavior is checked over generated input.
package variants_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Angelice80/redletters/pkg/variants"
)

// TestNormalizeIdempotent verifies normalizing is a projection.
// Property: N(N(x)) == N(x) for any x
func TestNormalizeIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("normalize is idempotent", prop.ForAll(
		func(s string) bool {
			once := variants.NormalizeForAggregation(s)
			return variants.NormalizeForAggregation(once) == once
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestNormalizeCaseInsensitive verifies case never distinguishes readings.
// Property: N(upper(x)) == N(lower(x)) for ASCII x
func TestNormalizeCaseInsensitive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("case differences collapse", prop.ForAll(
		func(s string) bool {
			return variants.NormalizeForAggregation(s) ==
				variants.NormalizeForAggregation(upperASCII(s))
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func upperASCII(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'a' && r <= 'z' {
			out[i] = r - ('a' - 'A')
		}
	}
	return string(out)
}
