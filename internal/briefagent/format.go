package briefagent

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

const notAvailable = "N/A"

// FormatNumber groups thousands and fixes decimals (0-4). Nil is N/A.
func FormatNumber(v *float64, decimals int) string {
	if v == nil {
		return notAvailable
	}
	decimals = max(0, min(decimals, 4))
	return humanize.FormatFloat("#,###."+strings.Repeat("#", decimals), *v)
}

// FormatLargeNumber abbreviates with K/M/B/T from a thousand up. A value that
// would round up to the next unit's threshold is printed in that unit.
func FormatLargeNumber(v *float64) string {
	if v == nil {
		return notAvailable
	}
	n := *v
	abs := math.Abs(n)
	switch {
	case reaches(abs, 1e12, 1e9, 2):
		return fmt.Sprintf("%.2fT", n/1e12)
	case reaches(abs, 1e9, 1e6, 2):
		return fmt.Sprintf("%.2fB", n/1e9)
	case reaches(abs, 1e6, 1e3, 2):
		return fmt.Sprintf("%.2fM", n/1e6)
	case reaches(abs, 1e3, 1, 0):
		return fmt.Sprintf("%.2fK", n/1e3)
	}
	return FormatNumber(v, 0)
}

// reaches reports whether abs, rounded as the smaller unit prints it, is at
// least threshold.
func reaches(abs, threshold, unit float64, decimals int) bool {
	scale := math.Pow10(decimals)
	return math.Round(abs/unit*scale)/scale*unit >= threshold
}

// FormatPercent renders a signed percentage with two decimals.
func FormatPercent(v *float64) string {
	if v == nil {
		return notAvailable
	}
	return humanize.FormatFloat("+#,###.##", *v) + "%"
}
