package importance

import (
	"math"
	"time"

	"github.com/nidhogg/nuka-memgraph/internal/observation"
)

// Tier is a discrete importance bucket.
type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
)

// Component ceilings. They sum to 100 with the largest type base.
const (
	maxRichness  = 30.0
	maxRecency   = 20.0
	maxROI       = 10.0
	maxBackRefs  = 10.0
	halfLifeDays = 30.0

	// tokensPerCostUnit converts discovery tokens into the cost denominator of the ROI term.
	tokensPerCostUnit = 100.0
)

var typeBase = map[observation.Type]float64{
	observation.TypeDecision:  30,
	observation.TypeBugfix:    25,
	observation.TypeFeature:   20,
	observation.TypeRefactor:  15,
	observation.TypeChange:    12,
	observation.TypeDiscovery: 10,
}

// Features are the inputs the score depends on.
type Features struct {
	Type            observation.Type
	NarrativeLength int
	FactCount       int
	ConceptCount    int
	CreatedAtEpoch  int64
	DiscoveryTokens int64
	BackwardRefs    int
}

// FeaturesOf extracts scoring features from an observation and its incoming
// reference count.
func FeaturesOf(o *observation.Observation, backwardRefs int) Features {
	return Features{
		Type:            o.Type,
		NarrativeLength: len(o.Narrative),
		FactCount:       len(o.Facts),
		ConceptCount:    len(o.Concepts),
		CreatedAtEpoch:  o.CreatedAtEpoch,
		DiscoveryTokens: o.DiscoveryTokens,
		BackwardRefs:    backwardRefs,
	}
}

// Breakdown is a score with its components.
type Breakdown struct {
	Score    float64 `json:"score"`
	Tier     Tier    `json:"tier"`
	Type     float64 `json:"type"`
	Richness float64 `json:"richness"`
	Recency  float64 `json:"recency"`
	ROI      float64 `json:"roi"`
	BackRefs float64 `json:"backward_refs"`
}

// Score computes the importance of f at time now. The result is clamped to [0,100].
// Negative inputs are treated as zero; creation times in the future count as new.
func Score(f Features, now time.Time) Breakdown {
	b := Breakdown{
		Type:     typeBase[f.Type],
		Richness: richness(f),
		Recency:  recency(f.CreatedAtEpoch, now),
		BackRefs: saturate(maxBackRefs, float64(nonNeg(f.BackwardRefs)), 3),
	}
	b.ROI = roi(b.Type+b.Richness, f.DiscoveryTokens)

	b.Score = clamp(b.Type+b.Richness+b.Recency+b.ROI+b.BackRefs, 0, 100)
	b.Tier = TierFor(b.Score)
	return b
}

// ScoreAll scores every feature set against the same clock in one pass.
func ScoreAll(fs []Features, now time.Time) []Breakdown {
	out := make([]Breakdown, len(fs))
	for i, f := range fs {
		out[i] = Score(f, now)
	}
	return out
}

// TierFor maps a score to its tier.
func TierFor(score float64) Tier {
	switch {
	case score >= 90:
		return TierCritical
	case score >= 70:
		return TierHigh
	case score >= 40:
		return TierMedium
	default:
		return TierLow
	}
}

// richness rewards longer narratives and more facts and concepts with diminishing returns.
func richness(f Features) float64 {
	r := saturate(15, float64(nonNeg(f.NarrativeLength)), 500) +
		saturate(8, float64(nonNeg(f.FactCount)), 3) +
		saturate(7, float64(nonNeg(f.ConceptCount)), 4)
	return math.Min(r, maxRichness)
}

// recency halves every halfLifeDays.
func recency(createdAtEpoch int64, now time.Time) float64 {
	ageMs := now.UnixMilli() - createdAtEpoch
	if ageMs < 0 {
		ageMs = 0
	}
	ageDays := float64(ageMs) / float64(24*time.Hour/time.Millisecond)
	return maxRecency * math.Pow(0.5, ageDays/halfLifeDays)
}

// roi rewards value produced per unit of discovery cost. Without a recorded cost
// there is nothing to reward.
func roi(value float64, tokens int64) float64 {
	if tokens <= 0 || value <= 0 {
		return 0
	}
	cost := float64(tokens) / tokensPerCostUnit
	return maxROI * math.Min(1, value/cost)
}

// saturate maps x >= 0 onto [0, ceiling) with scale controlling how fast it approaches the ceiling.
func saturate(ceiling, x, scale float64) float64 {
	return ceiling * (1 - math.Exp(-x/scale))
}

func nonNeg(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
