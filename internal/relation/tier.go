package relation

// Tier is a categorical confidence bucket stored alongside the raw confidence.
// High-confidence listings filter on the tier index rather than a numeric range,
// since a broad numeric threshold selects most rows and defeats the index.
type Tier string

const (
	TierVeryHigh Tier = "very_high"
	TierHigh     Tier = "high"
	TierStandard Tier = "standard"
)

const (
	veryHighFloor = 0.85
	highFloor     = 0.70
)

// TierFor maps a confidence to its tier.
func TierFor(confidence float64) Tier {
	switch {
	case confidence >= veryHighFloor:
		return TierVeryHigh
	case confidence >= highFloor:
		return TierHigh
	default:
		return TierStandard
	}
}

// TiersAtOrAbove returns every tier that may hold an edge with confidence >= threshold,
// ordered from strongest to weakest.
func TiersAtOrAbove(threshold float64) []Tier {
	tiers := []Tier{TierVeryHigh}
	if threshold < veryHighFloor {
		tiers = append(tiers, TierHigh)
	}
	if threshold < highFloor {
		tiers = append(tiers, TierStandard)
	}
	return tiers
}

// TierStrings converts tiers for use as a SQL text array.
func TierStrings(tiers []Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}
