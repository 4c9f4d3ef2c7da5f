package detect

import (
	"github.com/nidhogg/nuka-memgraph/internal/relation"
)

// signalSet indexes fired signals by heuristic for rule predicates.
type signalSet map[relation.HeuristicKind]relation.Signal

func newSignalSet(signals []relation.Signal) signalSet {
	set := make(signalSet, len(signals))
	for _, s := range signals {
		set[s.Kind()] = s
	}
	return set
}

func (s signalSet) has(kinds ...relation.HeuristicKind) bool {
	for _, k := range kinds {
		if _, ok := s[k]; !ok {
			return false
		}
	}
	return true
}

func (s signalSet) toolPattern() string {
	sig, ok := s[relation.HeuristicToolSequence]
	if !ok {
		return ""
	}
	if ev, ok := sig.Evidence.(relation.ToolEvidence); ok {
		return ev.Pattern
	}
	return ""
}

// classificationRule assigns Type when Match holds. Rules are evaluated in order
// and the first match wins.
type classificationRule struct {
	Name  string
	Match func(signalSet) bool
	Type  relation.Type
}

// classificationRules is the priority table. Several heuristics usually co-fire,
// so the order here is the contract.
var classificationRules = []classificationRule{
	{
		Name:  "read-then-edit",
		Match: func(s signalSet) bool { return s.toolPattern() == "read->edit" },
		Type:  relation.TypeModifies,
	},
	{
		Name:  "task-then-edit",
		Match: func(s signalSet) bool { return s.toolPattern() == "task->edit" },
		Type:  relation.TypeExtends,
	},
	{
		Name:  "shared-concepts",
		Match: func(s signalSet) bool { return s.has(relation.HeuristicConceptOverlap) },
		Type:  relation.TypeReferences,
	},
	{
		Name:  "nearby-same-file",
		Match: func(s signalSet) bool { return s.has(relation.HeuristicTemporal, relation.HeuristicFileMatch) },
		Type:  relation.TypeFollows,
	},
}

// Classify picks the relationship type for a set of fired signals.
func Classify(signals []relation.Signal) relation.Type {
	set := newSignalSet(signals)
	for _, rule := range classificationRules {
		if rule.Match(set) {
			return rule.Type
		}
	}
	return relation.TypeFollows
}
