// Package units provides SI prefix scaling and validation for scan channel
// metadata. Result buffers store values in base units (m, Hz, c/s); display
// layers pick a prefix that keeps numbers readable.
package units

import (
	"fmt"
	"math"
)

// Prefix constants
const (
	Nano  = "n"
	Micro = "u"
	Milli = "m"
	None  = ""
	Kilo  = "k"
	Mega  = "M"
	Giga  = "G"
)

var prefixFactors = map[string]float64{
	Nano:  1e-9,
	Micro: 1e-6,
	Milli: 1e-3,
	None:  1,
	Kilo:  1e3,
	Mega:  1e6,
	Giga:  1e9,
}

// ValidPrefixes contains all valid prefix values, smallest first.
var ValidPrefixes = []string{Nano, Micro, Milli, None, Kilo, Mega, Giga}

// IsValid checks if the given prefix is in the list of valid prefixes.
func IsValid(prefix string) bool {
	_, ok := prefixFactors[prefix]
	return ok
}

// Factor returns the multiplier for a prefix, or 1 for unknown prefixes.
func Factor(prefix string) float64 {
	if f, ok := prefixFactors[prefix]; ok {
		return f
	}
	return 1
}

// Scale converts a base-unit value into the given prefix, e.g.
// Scale(2.5e-6, Micro) == 2.5.
func Scale(value float64, prefix string) float64 {
	return value / Factor(prefix)
}

// BestPrefix picks the prefix that renders the value in [1, 1000), e.g.
// 3.2e-6 -> "u". Zero and non-finite values get no prefix.
func BestPrefix(value float64) string {
	abs := math.Abs(value)
	if abs == 0 || math.IsInf(abs, 0) || math.IsNaN(abs) {
		return None
	}
	for _, p := range []string{Giga, Mega, Kilo, None, Milli, Micro, Nano} {
		if abs >= prefixFactors[p] {
			return p
		}
	}
	return Nano
}

// Format renders a base-unit value with an automatically chosen prefix,
// e.g. Format(3.2e-6, "m") == "3.200 um".
func Format(value float64, unit string) string {
	p := BestPrefix(value)
	return fmt.Sprintf("%.3f %s%s", Scale(value, p), p, unit)
}
