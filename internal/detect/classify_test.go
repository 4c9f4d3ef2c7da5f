package detect

import (
	"testing"

	"github.com/nidhogg/nuka-memgraph/internal/relation"
)

func TestClassifyPriority(t *testing.T) {
	tool := func(p string) relation.Signal {
		return relation.Signal{Confidence: 0.9, Evidence: relation.ToolEvidence{Pattern: p}}
	}
	concept := relation.Signal{Confidence: 0.6, Evidence: relation.ConceptEvidence{}}
	file := relation.Signal{Confidence: 0.65, Evidence: relation.FileEvidence{}}
	temporal := relation.Signal{Confidence: 0.9, Evidence: relation.TemporalEvidence{}}
	session := relation.Signal{Confidence: 0.8, Evidence: relation.SessionEvidence{}}

	tests := []struct {
		name    string
		signals []relation.Signal
		want    relation.Type
	}{
		{"read-edit beats concepts", []relation.Signal{concept, tool("read->edit"), file}, relation.TypeModifies},
		{"task-edit beats concepts", []relation.Signal{concept, tool("task->edit")}, relation.TypeExtends},
		{"read-write falls through to concepts", []relation.Signal{tool("read->write"), concept}, relation.TypeReferences},
		{"concepts beat temporal+file", []relation.Signal{concept, temporal, file}, relation.TypeReferences},
		{"temporal+file", []relation.Signal{temporal, file, session}, relation.TypeFollows},
		{"session only", []relation.Signal{session}, relation.TypeFollows},
		{"search-edit default", []relation.Signal{tool("search->edit")}, relation.TypeFollows},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.signals); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassificationRulesNeverEmitReservedTypes(t *testing.T) {
	for _, r := range classificationRules {
		if r.Type == relation.TypeConflictsWith || r.Type == relation.TypeDependsOn {
			t.Errorf("rule %s emits reserved type %s", r.Name, r.Type)
		}
	}
}

func TestNormalizeTool(t *testing.T) {
	tests := map[string]string{
		"Read":                   "read",
		" EDIT ":                 "edit",
		"MultiEdit":              "edit",
		"Glob":                   "search",
		"mcp__github__read_file": "read",
		"Bash":                   "bash",
	}
	for in, want := range tests {
		if got := NormalizeTool(in); got != want {
			t.Errorf("NormalizeTool(%q) = %q, want %q", in, got, want)
		}
	}
}
