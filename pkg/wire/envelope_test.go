package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/lightforgemedia/go-wschannel/pkg/wire"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := wire.NewEnvelope("id-1", wire.TypeEvent, "chat.message", map[string]string{"text": "hi"}, nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	env.Priority = wire.PriorityHigh

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded wire.Envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != "id-1" || decoded.Type != wire.TypeEvent || decoded.Topic != "chat.message" {
		t.Errorf("unexpected envelope: %+v", decoded)
	}
	if decoded.Priority != wire.PriorityHigh {
		t.Errorf("priority lost: %q", decoded.Priority)
	}
	var payload map[string]string
	if err := decoded.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload["text"] != "hi" {
		t.Errorf("payload lost: %v", payload)
	}
}

func TestDecodePayloadNull(t *testing.T) {
	env := &wire.Envelope{Type: wire.TypeAck, Payload: json.RawMessage("null")}
	var v map[string]string
	if err := env.DecodePayload(&v); err != nil {
		t.Fatalf("DecodePayload(null): %v", err)
	}
	if v != nil {
		t.Errorf("expected zero value, got %v", v)
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	order := []wire.Priority{wire.PriorityCritical, wire.PriorityHigh, wire.PriorityNormal, wire.PriorityLow}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("%s should rank before %s", order[i-1], order[i])
		}
	}
	if wire.Priority("bogus").Rank() != wire.PriorityNormal.Rank() {
		t.Error("unknown priority should rank as normal")
	}
	if wire.Priority("bogus").Valid() {
		t.Error("bogus should not be valid")
	}
}

func TestNewIDUnique(t *testing.T) {
	a, b := wire.NewID(), wire.NewID()
	if a == "" || a == b {
		t.Errorf("expected distinct non-empty IDs, got %q and %q", a, b)
	}
}
