package relation

import (
	"fmt"
	"time"
)

// Type categorizes the relationship between two observations.
type Type string

const (
	TypeReferences    Type = "references"
	TypeExtends       Type = "extends"
	TypeConflictsWith Type = "conflicts_with"
	TypeDependsOn     Type = "depends_on"
	TypeFollows       Type = "follows"
	TypeModifies      Type = "modifies"
)

// AllTypes lists every relationship type accepted by the store.
// conflicts_with and depends_on are reserved; detection never emits them.
var AllTypes = []Type{
	TypeReferences,
	TypeExtends,
	TypeConflictsWith,
	TypeDependsOn,
	TypeFollows,
	TypeModifies,
}

// Valid reports whether t is a known relationship type.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseType converts a string into a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown relationship type %q", s)
	}
	return t, nil
}

// Relationship is a directed, typed, confidence-weighted edge between two observations.
type Relationship struct {
	ID             int64    `json:"id,omitempty"`
	SourceID       int64    `json:"source_id"`
	TargetID       int64    `json:"target_id"`
	Type           Type     `json:"relationship_type"`
	Confidence     float64  `json:"confidence"`
	Metadata       Metadata `json:"metadata"`
	CreatedAtEpoch int64    `json:"created_at_epoch"`
}

// Tier returns the denormalized confidence tier for the relationship.
func (r *Relationship) Tier() Tier {
	return TierFor(r.Confidence)
}

// Other returns the endpoint of r that is not id.
func (r *Relationship) Other(id int64) int64 {
	if r.SourceID == id {
		return r.TargetID
	}
	return r.SourceID
}

// CreatedAt returns the creation time as a time.Time.
func (r *Relationship) CreatedAt() time.Time {
	return time.UnixMilli(r.CreatedAtEpoch)
}

// Validate checks the structural invariants of an edge before it is persisted.
func (r *Relationship) Validate() error {
	if r.SourceID == r.TargetID {
		return fmt.Errorf("relationship %d -> %d: source equals target", r.SourceID, r.TargetID)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("relationship %d -> %d: unknown type %q", r.SourceID, r.TargetID, r.Type)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("relationship %d -> %d: confidence %.3f out of range", r.SourceID, r.TargetID, r.Confidence)
	}
	return nil
}

// Filter narrows edge queries by type and minimum confidence.
// Limit <= 0 means unlimited.
type Filter struct {
	Types         []Type
	MinConfidence float64
	Limit         int
}

// Matches reports whether r passes the type and confidence constraints of f.
func (f Filter) Matches(r *Relationship) bool {
	if r.Confidence < f.MinConfidence {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if r.Type == t {
			return true
		}
	}
	return false
}

// TypeStrings converts f.Types for use as a SQL text array. Never nil.
func (f Filter) TypeStrings() []string {
	out := make([]string, 0, len(f.Types))
	for _, t := range f.Types {
		out = append(out, string(t))
	}
	return out
}
