package derive

import "math"

// DefaultMonthlyAverage is assumed when an item name has no consumption
// history at all. It affects the percentage classification only, never the
// raw averaging in TrailingConsumption.
const DefaultMonthlyAverage = 10

// Level is the threshold-based shortage classification.
type Level string

const (
	LevelCritical Level = "critical"
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelStocked  Level = "stocked"
)

// ShortageLevel classifies current stock against the monthly average.
func ShortageLevel(currentStock, monthlyAverage int) Level {
	switch {
	case currentStock <= 0:
		return LevelCritical
	case float64(currentStock) < 0.5*float64(monthlyAverage):
		return LevelHigh
	case currentStock < monthlyAverage:
		return LevelMedium
	default:
		return LevelStocked
	}
}

// Band is the percentage-based classification used by the shortage report.
// It is a separate rule from Level, applied independently; the two are not
// reconciled and both are exposed.
type Band string

const (
	BandCritical   Band = "critical"    // <= 25%
	BandLow        Band = "low"         // <= 50%
	BandModerate   Band = "moderate"    // <= 75%
	BandSufficient Band = "sufficient"  // > 75%
)

// ShortagePercent is current stock as a percentage of the monthly average,
// floored. A zero average yields 0 rather than dividing.
func ShortagePercent(currentStock, monthlyAverage int) int {
	if monthlyAverage == 0 {
		return 0
	}
	return int(math.Floor(float64(currentStock) / float64(monthlyAverage) * 100))
}

// ShortageBand buckets a shortage percentage.
func ShortageBand(percent int) Band {
	switch {
	case percent <= 25:
		return BandCritical
	case percent <= 50:
		return BandLow
	case percent <= 75:
		return BandModerate
	default:
		return BandSufficient
	}
}

// FallbackAverage substitutes the default average for items with no
// consumption history. Used on the percentage path only.
func FallbackAverage(average int) int {
	if average == 0 {
		return DefaultMonthlyAverage
	}
	return average
}
