package relation

// HeuristicKind names one of the independent pairwise checks.
type HeuristicKind string

const (
	HeuristicConceptOverlap HeuristicKind = "concept_overlap"
	HeuristicFileMatch      HeuristicKind = "file_match"
	HeuristicToolSequence   HeuristicKind = "tool_sequence"
	HeuristicTemporal       HeuristicKind = "temporal_proximity"
	HeuristicSession        HeuristicKind = "session_proximity"
)

// Evidence is the heuristic-specific payload carried by a Signal.
// Each concrete type belongs to exactly one HeuristicKind.
type Evidence interface {
	Kind() HeuristicKind
}

// ConceptEvidence records the concepts two observations share.
type ConceptEvidence struct {
	Shared    []string
	UnionSize int
}

func (ConceptEvidence) Kind() HeuristicKind { return HeuristicConceptOverlap }

// FileEvidence records shared files and whether any of them was modified.
type FileEvidence struct {
	Shared   []string
	Modified bool
}

func (FileEvidence) Kind() HeuristicKind { return HeuristicFileMatch }

// ToolEvidence records the normalized tool pattern, e.g. "read->edit".
type ToolEvidence struct {
	Pattern string
}

func (ToolEvidence) Kind() HeuristicKind { return HeuristicToolSequence }

// TemporalEvidence records the absolute time between the two observations.
type TemporalEvidence struct {
	DeltaMs int64
}

func (TemporalEvidence) Kind() HeuristicKind { return HeuristicTemporal }

// SessionEvidence records the shared session.
type SessionEvidence struct {
	SessionID string
}

func (SessionEvidence) Kind() HeuristicKind { return HeuristicSession }

// Signal is one heuristic that fired for a pair.
type Signal struct {
	Confidence float64
	Evidence   Evidence
}

// Kind returns the heuristic that produced the signal.
func (s Signal) Kind() HeuristicKind {
	return s.Evidence.Kind()
}

// HeuristicScore is the persisted form of a fired heuristic.
type HeuristicScore struct {
	Heuristic  HeuristicKind `json:"heuristic"`
	Confidence float64       `json:"confidence"`
}

// Metadata is the fixed-shape evidence bag stored with every relationship.
type Metadata struct {
	Heuristics     []HeuristicScore `json:"heuristics"`
	SharedConcepts []string         `json:"shared_concepts,omitempty"`
	SharedFiles    []string         `json:"shared_files,omitempty"`
	ModifiedFile   bool             `json:"modified_file,omitempty"`
	ToolPattern    string           `json:"tool_pattern,omitempty"`
	SessionID      string           `json:"session_id,omitempty"`
	TimeDeltaMs    int64            `json:"time_delta_ms"`
}

// Fired reports whether the given heuristic contributed to the relationship.
func (m Metadata) Fired(kind HeuristicKind) bool {
	for _, h := range m.Heuristics {
		if h.Heuristic == kind {
			return true
		}
	}
	return false
}

// NewMetadata folds the fired signals into a Metadata value.
// timeDeltaMs is recorded even when the temporal heuristic did not fire.
func NewMetadata(signals []Signal, timeDeltaMs int64) Metadata {
	m := Metadata{
		Heuristics:  make([]HeuristicScore, 0, len(signals)),
		TimeDeltaMs: timeDeltaMs,
	}
	for _, s := range signals {
		m.Heuristics = append(m.Heuristics, HeuristicScore{Heuristic: s.Kind(), Confidence: s.Confidence})
		switch ev := s.Evidence.(type) {
		case ConceptEvidence:
			m.SharedConcepts = ev.Shared
		case FileEvidence:
			m.SharedFiles = ev.Shared
			m.ModifiedFile = ev.Modified
		case ToolEvidence:
			m.ToolPattern = ev.Pattern
		case TemporalEvidence:
			m.TimeDeltaMs = ev.DeltaMs
		case SessionEvidence:
			m.SessionID = ev.SessionID
		}
	}
	return m
}
