package detect

import (
	"strings"

	"github.com/nidhogg/nuka-memgraph/internal/observation"
	"github.com/nidhogg/nuka-memgraph/internal/relation"
)

const (
	fileModifiedConfidence = 0.85
	fileReadConfidence     = 0.65
	sessionConfidence      = 0.8
	minTemporalConfidence  = 0.5
)

// toolSequences maps a normalized "source->target" tool pattern to its confidence.
var toolSequences = map[string]float64{
	"read->edit":   0.90,
	"read->write":  0.85,
	"task->edit":   0.75,
	"search->edit": 0.80,
}

// toolAliases folds the many spellings of a tool into one of the canonical names.
var toolAliases = map[string]string{
	"read":            "read",
	"read_file":       "read",
	"readfile":        "read",
	"view":            "read",
	"edit":            "edit",
	"multiedit":       "edit",
	"multi_edit":      "edit",
	"edit_file":       "edit",
	"str_replace":     "edit",
	"notebookedit":    "edit",
	"write":           "write",
	"write_file":      "write",
	"create_file":     "write",
	"task":            "task",
	"agent":           "task",
	"search":          "search",
	"grep":            "search",
	"glob":            "search",
	"search_files":    "search",
	"codebase_search": "search",
	"websearch":       "search",
}

// NormalizeTool lowercases a tool name, strips any "mcp__server__" prefix and
// folds known aliases. Unknown names are returned lowercased.
func NormalizeTool(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndex(n, "__"); i >= 0 {
		n = n[i+2:]
	}
	if canon, ok := toolAliases[n]; ok {
		return canon
	}
	return n
}

// conceptOverlap fires when the observations share at least MinConceptOverlap
// concepts. Confidence is the Jaccard similarity of the concept sets.
func (d *Detector) conceptOverlap(source, target *observation.Observation) (relation.Signal, bool) {
	s := toSet(source.Concepts)
	t := toSet(target.Concepts)
	if len(s) == 0 || len(t) == 0 {
		return relation.Signal{}, false
	}

	var shared []string
	seen := make(map[string]struct{}, len(target.Concepts))
	for _, c := range target.Concepts {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if _, ok := s[c]; ok {
			shared = append(shared, c)
		}
	}
	if len(shared) < d.cfg.MinConceptOverlap {
		return relation.Signal{}, false
	}

	union := len(s) + len(t) - len(shared)
	conf := float64(len(shared)) / float64(union)
	if conf > 1 {
		conf = 1
	}
	return relation.Signal{
		Confidence: conf,
		Evidence:   relation.ConceptEvidence{Shared: shared, UnionSize: union},
	}, true
}

// fileMatch fires when the observations touched a common file. A shared file that
// either side modified is stronger evidence than one that was only read.
func (d *Detector) fileMatch(source, target *observation.Observation) (relation.Signal, bool) {
	sFiles := source.Files()
	tFiles := target.Files()
	if len(sFiles) == 0 || len(tFiles) == 0 {
		return relation.Signal{}, false
	}

	tSet := toSet(tFiles)
	var shared []string
	for _, f := range sFiles {
		if _, ok := tSet[f]; ok {
			shared = append(shared, f)
		}
	}
	if len(shared) == 0 {
		return relation.Signal{}, false
	}

	modified := toSet(source.FilesModified)
	for _, f := range target.FilesModified {
		modified[f] = struct{}{}
	}
	wasModified := false
	for _, f := range shared {
		if _, ok := modified[f]; ok {
			wasModified = true
			break
		}
	}

	conf := fileReadConfidence
	if wasModified {
		conf = fileModifiedConfidence
	}
	return relation.Signal{
		Confidence: conf,
		Evidence:   relation.FileEvidence{Shared: shared, Modified: wasModified},
	}, true
}

// toolSequence fires for known productive source->target tool patterns.
func (d *Detector) toolSequence(source, target *observation.Observation) (relation.Signal, bool) {
	pattern := NormalizeTool(source.ToolName) + "->" + NormalizeTool(target.ToolName)
	conf, ok := toolSequences[pattern]
	if !ok {
		return relation.Signal{}, false
	}
	return relation.Signal{
		Confidence: conf,
		Evidence:   relation.ToolEvidence{Pattern: pattern},
	}, true
}

// temporalProximity decays linearly across the configured window and is dropped
// below 0.5, where time alone says little.
func (d *Detector) temporalProximity(source, target *observation.Observation) (relation.Signal, bool) {
	delta := timeDelta(source, target)
	window := d.cfg.TemporalWindowMs
	if delta > window {
		return relation.Signal{}, false
	}
	conf := 1 - float64(delta)/float64(window)
	if conf < minTemporalConfidence {
		return relation.Signal{}, false
	}
	return relation.Signal{
		Confidence: conf,
		Evidence:   relation.TemporalEvidence{DeltaMs: delta},
	}, true
}

// sessionProximity fires when both observations belong to the same session.
func (d *Detector) sessionProximity(source, target *observation.Observation) (relation.Signal, bool) {
	if source.SessionID == "" || source.SessionID != target.SessionID {
		return relation.Signal{}, false
	}
	return relation.Signal{
		Confidence: sessionConfidence,
		Evidence:   relation.SessionEvidence{SessionID: source.SessionID},
	}, true
}

func timeDelta(source, target *observation.Observation) int64 {
	delta := target.CreatedAtEpoch - source.CreatedAtEpoch
	if delta < 0 {
		return -delta
	}
	return delta
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it == "" {
			continue
		}
		set[it] = struct{}{}
	}
	return set
}
