// Package scoring provides the condition scoring engine: facility
// condition index, weighted composite scores, and deficiency
// prioritization.
package scoring

import "sort"

// Rating is a qualitative condition band derived from the FCI.
type Rating string

const (
	RatingGood     Rating = "good"
	RatingFair     Rating = "fair"
	RatingPoor     Rating = "poor"
	RatingCritical Rating = "critical"
)

// FCI band thresholds, in percent.
const (
	fciGoodMax = 5.0
	fciFairMax = 10.0
	fciPoorMax = 30.0
)

// Deficiency severity scale, matching models.Deficiency.Severity.
const (
	SeverityCosmetic   = 1
	SeverityLow        = 2
	SeverityMedium     = 3
	SeverityHigh       = 4
	SeverityLifeSafety = 5
)

// highCostThreshold bumps a deficiency's priority when its estimated
// repair cost crosses this amount.
const highCostThreshold = 100000.0

// Component is one weighted input to a composite condition score.
type Component struct {
	Name   string
	Score  float64 // 0-100
	Weight float64
}

// FCI returns the facility condition index as a percentage: the ratio of
// deferred maintenance cost to replacement value. A non-positive
// replacement value yields 0.
func FCI(deferredCost, replacementValue float64) float64 {
	if replacementValue <= 0 {
		return 0
	}
	return deferredCost / replacementValue * 100
}

// RatingFor maps an FCI percentage to its condition band.
func RatingFor(fci float64) Rating {
	switch {
	case fci <= fciGoodMax:
		return RatingGood
	case fci <= fciFairMax:
		return RatingFair
	case fci <= fciPoorMax:
		return RatingPoor
	default:
		return RatingCritical
	}
}

// Composite returns the weighted average of component scores. Components
// with non-positive weight are ignored; zero total weight yields 0.
func Composite(components []Component) float64 {
	var weighted, total float64
	for _, c := range components {
		if c.Weight <= 0 {
			continue
		}
		weighted += c.Score * c.Weight
		total += c.Weight
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// DeficiencyPriority returns a numeric priority for a deficiency based on
// its severity (1 cosmetic through 5 life safety) and estimated repair
// cost. Higher means more urgent. Out-of-range severities yield 0. The
// cost bump never lets a deficiency outrank the next severity band.
func DeficiencyPriority(severity int, estimatedCost float64) int {
	if severity < SeverityCosmetic || severity > SeverityLifeSafety {
		return 0
	}

	priority := severity * 2
	if estimatedCost >= highCostThreshold {
		priority++
	}

	return priority
}

// RankDeficiencies sorts deficiency keys by descending priority. The
// sort is stable so equal priorities keep their input order.
func RankDeficiencies(keys []string, priority func(key string) int) []string {
	ranked := make([]string, len(keys))
	copy(ranked, keys)
	sort.SliceStable(ranked, func(i, j int) bool {
		return priority(ranked[i]) > priority(ranked[j])
	})
	return ranked
}
