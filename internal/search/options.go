package search

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nidhogg/nuka-memgraph/internal/relation"
)

var validate = validator.New()

// Options controls one ranking call. Every field can be overridden per call.
type Options struct {
	Query                     string          `json:"query,omitempty"`
	Limit                     int             `json:"limit" validate:"gt=0"`
	MinRelevance              float64         `json:"min_relevance" validate:"gte=0,lte=1"`
	MinImportance             float64         `json:"min_importance" validate:"gte=0,lte=100"`
	UseHybridScoring          bool            `json:"use_hybrid_scoring"`
	ExpandByRelationships     bool            `json:"expand_by_relationships"`
	MaxNeighborsPerResult     int             `json:"max_neighbors_per_result" validate:"gte=1"`
	MaxExpansionResults       int             `json:"max_expansion_results" validate:"gte=0"`
	RelationshipTypes         []relation.Type `json:"relationship_types,omitempty"`
	MinRelationshipConfidence float64         `json:"min_relationship_confidence" validate:"gte=0,lte=1"`
	// LookupTimeoutMs bounds each importance and graph lookup; 0 disables the bound.
	LookupTimeoutMs int `json:"lookup_timeout_ms" validate:"gte=0"`
}

// DefaultOptions returns the global defaults.
func DefaultOptions() Options {
	return Options{
		Limit:                     10,
		MinRelevance:              0.3,
		MinImportance:             0,
		UseHybridScoring:          true,
		ExpandByRelationships:     false,
		MaxNeighborsPerResult:     3,
		MaxExpansionResults:       100,
		MinRelationshipConfidence: 0.5,
		LookupTimeoutMs:           2000,
	}
}

// Validate returns an *ExecutionError describing the first invalid field.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		ctx := map[string]any{"limit": o.Limit}
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			ctx["field"] = verrs[0].Field()
			ctx["value"] = verrs[0].Value()
		}
		return &ExecutionError{Message: "invalid search options", Context: ctx, Cause: err}
	}
	for _, t := range o.RelationshipTypes {
		if !t.Valid() {
			return &ExecutionError{
				Message: "invalid search options",
				Context: map[string]any{"field": "RelationshipTypes", "value": string(t)},
				Cause:   fmt.Errorf("unknown relationship type %q", t),
			}
		}
	}
	return nil
}

func (o Options) lookupTimeout() time.Duration {
	return time.Duration(o.LookupTimeoutMs) * time.Millisecond
}

func (o Options) neighborFilter() relation.Filter {
	return relation.Filter{
		Types:         o.RelationshipTypes,
		MinConfidence: o.MinRelationshipConfidence,
		Limit:         o.MaxNeighborsPerResult,
	}
}

// Overrides carries per-call changes to a base Options. Nil fields keep the base value.
type Overrides struct {
	Query                     *string         `json:"query,omitempty"`
	Limit                     *int            `json:"limit,omitempty"`
	MinRelevance              *float64        `json:"min_relevance,omitempty"`
	MinImportance             *float64        `json:"min_importance,omitempty"`
	UseHybridScoring          *bool           `json:"use_hybrid_scoring,omitempty"`
	ExpandByRelationships     *bool           `json:"expand_by_relationships,omitempty"`
	MaxNeighborsPerResult     *int            `json:"max_neighbors_per_result,omitempty"`
	MaxExpansionResults       *int            `json:"max_expansion_results,omitempty"`
	RelationshipTypes         []relation.Type `json:"relationship_types,omitempty"`
	MinRelationshipConfidence *float64        `json:"min_relationship_confidence,omitempty"`
	LookupTimeoutMs           *int            `json:"lookup_timeout_ms,omitempty"`
}

// Apply returns base with every non-nil override applied.
func (ov Overrides) Apply(base Options) Options {
	if ov.Query != nil {
		base.Query = *ov.Query
	}
	if ov.Limit != nil {
		base.Limit = *ov.Limit
	}
	if ov.MinRelevance != nil {
		base.MinRelevance = *ov.MinRelevance
	}
	if ov.MinImportance != nil {
		base.MinImportance = *ov.MinImportance
	}
	if ov.UseHybridScoring != nil {
		base.UseHybridScoring = *ov.UseHybridScoring
	}
	if ov.ExpandByRelationships != nil {
		base.ExpandByRelationships = *ov.ExpandByRelationships
	}
	if ov.MaxNeighborsPerResult != nil {
		base.MaxNeighborsPerResult = *ov.MaxNeighborsPerResult
	}
	if ov.MaxExpansionResults != nil {
		base.MaxExpansionResults = *ov.MaxExpansionResults
	}
	if ov.RelationshipTypes != nil {
		base.RelationshipTypes = ov.RelationshipTypes
	}
	if ov.MinRelationshipConfidence != nil {
		base.MinRelationshipConfidence = *ov.MinRelationshipConfidence
	}
	if ov.LookupTimeoutMs != nil {
		base.LookupTimeoutMs = *ov.LookupTimeoutMs
	}
	return base
}

// ExecutionError reports a search call rejected before any work was done.
type ExecutionError struct {
	Message string
	Context map[string]any
	Cause   error
}

func (e *ExecutionError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
