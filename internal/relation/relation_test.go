package relation

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		confidence float64
		want       Tier
	}{
		{1.0, TierVeryHigh},
		{0.85, TierVeryHigh},
		{0.849, TierHigh},
		{0.70, TierHigh},
		{0.699, TierStandard},
		{0.4, TierStandard},
		{0, TierStandard},
	}
	for _, tt := range tests {
		if got := TierFor(tt.confidence); got != tt.want {
			t.Errorf("TierFor(%v) = %s, want %s", tt.confidence, got, tt.want)
		}
	}
}

func TestTiersAtOrAbove(t *testing.T) {
	tests := []struct {
		threshold float64
		want      []Tier
	}{
		{0.9, []Tier{TierVeryHigh}},
		{0.85, []Tier{TierVeryHigh}},
		{0.8, []Tier{TierVeryHigh, TierHigh}},
		{0.7, []Tier{TierVeryHigh, TierHigh}},
		{0.5, []Tier{TierVeryHigh, TierHigh, TierStandard}},
	}
	for _, tt := range tests {
		got := TiersAtOrAbove(tt.threshold)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("TiersAtOrAbove(%v) = %v, want %v", tt.threshold, got, tt.want)
		}
	}
}

func TestParseType(t *testing.T) {
	for _, typ := range AllTypes {
		got, err := ParseType(string(typ))
		if err != nil {
			t.Fatalf("ParseType(%q): %v", typ, err)
		}
		if got != typ {
			t.Errorf("got %q, want %q", got, typ)
		}
	}
	if _, err := ParseType("causes"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestRelationshipValidate(t *testing.T) {
	ok := Relationship{SourceID: 1, TargetID: 2, Type: TypeFollows, Confidence: 0.5}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	self := ok
	self.TargetID = 1
	if err := self.Validate(); err == nil {
		t.Error("expected error for self edge")
	}

	badConf := ok
	badConf.Confidence = 1.2
	if err := badConf.Validate(); err == nil {
		t.Error("expected error for confidence > 1")
	}

	badType := ok
	badType.Type = "blocks"
	if err := badType.Validate(); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestRelationshipOther(t *testing.T) {
	r := Relationship{SourceID: 3, TargetID: 7}
	if r.Other(3) != 7 || r.Other(7) != 3 {
		t.Errorf("Other returned wrong endpoint")
	}
}

func TestFilterMatches(t *testing.T) {
	r := &Relationship{Type: TypeModifies, Confidence: 0.6}

	if !(Filter{}).Matches(r) {
		t.Error("empty filter should match")
	}
	if (Filter{MinConfidence: 0.7}).Matches(r) {
		t.Error("confidence below minimum should not match")
	}
	if (Filter{Types: []Type{TypeReferences}}).Matches(r) {
		t.Error("type outside filter should not match")
	}
	if !(Filter{Types: []Type{TypeReferences, TypeModifies}}).Matches(r) {
		t.Error("type inside filter should match")
	}
	if got := (Filter{}).TypeStrings(); got == nil || len(got) != 0 {
		t.Errorf("TypeStrings should be empty and non-nil, got %#v", got)
	}
}

func TestNewMetadata(t *testing.T) {
	signals := []Signal{
		{Confidence: 0.9, Evidence: ToolEvidence{Pattern: "read->edit"}},
		{Confidence: 0.85, Evidence: FileEvidence{Shared: []string{"auth.go"}, Modified: true}},
		{Confidence: 0.6, Evidence: ConceptEvidence{Shared: []string{"auth"}, UnionSize: 2}},
		{Confidence: 0.8, Evidence: SessionEvidence{SessionID: "s1"}},
		{Confidence: 0.98, Evidence: TemporalEvidence{DeltaMs: 60_000}},
	}
	m := NewMetadata(signals, 0)

	if len(m.Heuristics) != 5 {
		t.Fatalf("got %d heuristics, want 5", len(m.Heuristics))
	}
	if m.ToolPattern != "read->edit" || !m.ModifiedFile || m.SessionID != "s1" || m.TimeDeltaMs != 60_000 {
		t.Errorf("unexpected metadata fold: %+v", m)
	}
	if !m.Fired(HeuristicTemporal) || !m.Fired(HeuristicConceptOverlap) {
		t.Error("expected fired heuristics to be reported")
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Metadata
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(back, m) {
		t.Errorf("metadata did not survive JSON: got %+v, want %+v", back, m)
	}
}

func TestNewMetadataKeepsDeltaWithoutTemporalSignal(t *testing.T) {
	m := NewMetadata([]Signal{{Confidence: 0.8, Evidence: SessionEvidence{SessionID: "s"}}}, 7_200_000)
	if m.TimeDeltaMs != 7_200_000 {
		t.Errorf("got delta %d, want 7200000", m.TimeDeltaMs)
	}
	if m.Fired(HeuristicTemporal) {
		t.Error("temporal should not be reported as fired")
	}
}
