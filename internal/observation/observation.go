package observation

import (
	"context"
	"time"
)

// Type is the kind of work an observation records.
type Type string

const (
	TypeDecision  Type = "decision"
	TypeBugfix    Type = "bugfix"
	TypeFeature   Type = "feature"
	TypeRefactor  Type = "refactor"
	TypeChange    Type = "change"
	TypeDiscovery Type = "discovery"
)

// Observation is an immutable record of something noticed during work.
// It is owned by the long-term store; this module only reads it.
type Observation struct {
	ID              int64    `json:"id"`
	SessionID       string   `json:"session_id"`
	Type            Type     `json:"type"`
	Narrative       string   `json:"narrative"`
	Facts           []string `json:"facts"`
	Concepts        []string `json:"concepts"`
	FilesRead       []string `json:"files_read"`
	FilesModified   []string `json:"files_modified"`
	ToolName        string   `json:"tool_name"`
	DiscoveryTokens int64    `json:"discovery_tokens"`
	CreatedAtEpoch  int64    `json:"created_at_epoch"` // milliseconds
}

// CreatedAt returns the creation time as a time.Time.
func (o *Observation) CreatedAt() time.Time {
	return time.UnixMilli(o.CreatedAtEpoch)
}

// Files returns the union of read and modified files, deduplicated, in first-seen order.
func (o *Observation) Files() []string {
	seen := make(map[string]struct{}, len(o.FilesRead)+len(o.FilesModified))
	out := make([]string, 0, len(o.FilesRead)+len(o.FilesModified))
	for _, list := range [][]string{o.FilesRead, o.FilesModified} {
		for _, f := range list {
			if f == "" {
				continue
			}
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// Accessor is the read-only view over the observation store.
type Accessor interface {
	// GetObservations returns the observations that exist among ids, keyed by id.
	GetObservations(ctx context.Context, ids []int64) (map[int64]*Observation, error)
	// RecentObservations returns up to limit of the most recent observations created
	// at or after sinceEpochMs, ordered by creation time ascending.
	RecentObservations(ctx context.Context, limit int, sinceEpochMs int64) ([]*Observation, error)
}
