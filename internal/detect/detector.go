package detect

import (
	"time"

	"github.com/nidhogg/nuka-memgraph/internal/observation"
	"github.com/nidhogg/nuka-memgraph/internal/relation"
)

// heuristicWeights overrides the default weight of 1.0 in the aggregate mean.
var heuristicWeights = map[relation.HeuristicKind]float64{
	relation.HeuristicToolSequence:   2.0,
	relation.HeuristicConceptOverlap: 1.5,
}

const defaultWeight = 1.0

// Detector runs the pairwise heuristics and turns their output into relationships.
// It holds no mutable state and is safe for concurrent use.
type Detector struct {
	cfg Config
	now func() time.Time
}

// NewDetector creates a Detector for the given configuration.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg, now: time.Now}
}

// Signals runs every heuristic against the ordered pair and returns those that fired,
// in a fixed order.
func (d *Detector) Signals(source, target *observation.Observation) []relation.Signal {
	checks := [...]func(*observation.Observation, *observation.Observation) (relation.Signal, bool){
		d.conceptOverlap,
		d.fileMatch,
		d.toolSequence,
		d.temporalProximity,
		d.sessionProximity,
	}
	var fired []relation.Signal
	for _, check := range checks {
		if sig, ok := check(source, target); ok {
			fired = append(fired, sig)
		}
	}
	return fired
}

// Aggregate returns the weighted mean confidence of the fired signals, capped at 1.
// It returns 0 for no signals.
func Aggregate(signals []relation.Signal) float64 {
	var sum, weights float64
	for _, s := range signals {
		w, ok := heuristicWeights[s.Kind()]
		if !ok {
			w = defaultWeight
		}
		sum += s.Confidence * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	agg := sum / weights
	if agg > 1 {
		return 1
	}
	return agg
}

// Detect evaluates the ordered pair and returns the resulting relationship, or
// false when no heuristic fired or the aggregate falls below MinConfidence.
func (d *Detector) Detect(source, target *observation.Observation) (*relation.Relationship, bool) {
	if source.ID == target.ID {
		return nil, false
	}
	signals := d.Signals(source, target)
	if len(signals) == 0 {
		return nil, false
	}
	conf := Aggregate(signals)
	if conf < d.cfg.MinConfidence {
		return nil, false
	}
	return &relation.Relationship{
		SourceID:       source.ID,
		TargetID:       target.ID,
		Type:           Classify(signals),
		Confidence:     conf,
		Metadata:       relation.NewMetadata(signals, timeDelta(source, target)),
		CreatedAtEpoch: d.now().UnixMilli(),
	}, true
}
