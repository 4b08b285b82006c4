// internal/types/models_test.go
package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventSerialization(t *testing.T) {
	event := Event{
		V:     CurrentEventVersion,
		Type:  EventToolCall,
		TS:    time.Now(),
		RunID: NewRunID(),
		Data:  json.RawMessage(`{"name":"bash"}`),
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	if decoded.Type != event.Type {
		t.Errorf("expected type %s, got %s", event.Type, decoded.Type)
	}
	if decoded.RunID != event.RunID {
		t.Errorf("expected run id %s, got %s", event.RunID, decoded.RunID)
	}
}

func TestEventUnknownFieldsTolerated(t *testing.T) {
	raw := `{"v":99,"type":"future.event","ts":"2026-01-01T00:00:00Z","run_id":"r1","data":{"x":1},"extra":"ignored"}`

	var decoded Event
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("unmarshal with unknown fields should not fail: %v", err)
	}
	if decoded.V != 99 {
		t.Errorf("V = %d, want 99", decoded.V)
	}
	if decoded.Type != "future.event" {
		t.Errorf("Type = %q, want future.event", decoded.Type)
	}
}

func TestDecisionHitRefsAtMostOncePerQAID(t *testing.T) {
	d := Decision{
		HitRefs: []HitRef{
			{QAID: "q1", Shown: true, Used: true},
		},
	}
	seen := map[QAID]bool{}
	for _, hr := range d.HitRefs {
		if seen[hr.QAID] {
			t.Fatalf("duplicate qa_id %s in hit_refs", hr.QAID)
		}
		seen[hr.QAID] = true
	}
}
