package helpers

// Compact number rendering for interactive device readouts.

import (
	"math"
	"strconv"
	"strings"
)

// RoundSig rounds x to n significant digits.
// Non-finite values pass through unchanged.
func RoundSig(x float64, n int) float64 {
	if x == 0 || !isFinite(x) {
		return x
	}
	digits := -int(math.Floor(math.Log10(math.Abs(x)))) + (n - 1)
	scale := math.Pow(10, float64(digits))
	return math.Round(x*scale) / scale
}

// NumString formats x rounded to n significant digits,
// dropping a trailing ".0". n<=0 means no rounding.
func NumString(x float64, n int) string {
	if n > 0 {
		x = RoundSig(x, n)
	}
	if !isFinite(x) {
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	s := strconv.FormatFloat(x, 'f', -1, 64)
	s = strings.TrimSuffix(s, ".0")
	return s
}

// SIString renders x with an SI magnitude suffix (p n µ m k M).
func SIString(x float64, n int) string {
	x = RoundSig(x, n)
	if x == 0 || !isFinite(x) {
		return NumString(x, 0)
	}

	ax := math.Abs(x)
	switch {
	case ax < 1e-20:
		if x >= 0 {
			return "0"
		}
		return "-0"
	case ax < 999e-12:
		return NumString(x*1e12, n) + "p"
	case ax < 999e-9:
		return NumString(x*1e9, n) + "n"
	case ax < 999e-6:
		return NumString(x*1e6, n) + "µ"
	case ax < 999e-3:
		return NumString(x*1e3, n) + "m"
	case ax > 0.999e6:
		return NumString(x*1e-6, n) + "M"
	case ax > 0.999e3:
		return NumString(x*1e-3, n) + "k"
	}
	return NumString(x, n)
}

func isFinite(x float64) bool { return !math.IsInf(x, 0) && !math.IsNaN(x) }
