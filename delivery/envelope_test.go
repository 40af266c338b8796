package delivery_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xraph/hookline/delivery"
)

func TestEncodeEnvelopeFieldOrder(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	data := map[string]any{"xp": 50, "quest_id": "q1", "badge": "gold"}

	b, err := delivery.EncodeEnvelope("quest.completed", "t1", data, at)
	if err != nil {
		t.Fatal(err)
	}

	want := `{"event":"quest.completed","timestamp":"2026-03-01T11:30:00Z","data":{"badge":"gold","quest_id":"q1","xp":50},"tenant_id":"t1"}`
	if string(b) != want {
		t.Fatalf("got  %s\nwant %s", b, want)
	}
}

func TestEncodeEnvelopeIsDeterministic(t *testing.T) {
	at := time.Now()
	data := map[string]any{"b": 1, "a": []int{3, 2, 1}, "c": map[string]string{"z": "1", "y": "2"}}

	first, err := delivery.EncodeEnvelope("x", "t", data, at)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, _ := delivery.EncodeEnvelope("x", "t", data, at)
		if string(again) != string(first) {
			t.Fatalf("serialization differs: %s vs %s", again, first)
		}
	}
}

func TestEncodeEnvelopeRawData(t *testing.T) {
	b, err := delivery.EncodeEnvelope("x", "t", json.RawMessage(`{"k":"v"}`), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	env, err := delivery.DecodeEnvelope(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(env.Data) != `{"k":"v"}` || env.Event != "x" || env.TenantID != "t" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	if _, err := delivery.EncodeEnvelope("x", "t", []byte(`{nope`), time.Now()); err == nil {
		t.Fatal("expected invalid raw JSON to be rejected")
	}
	if _, err := delivery.EncodeEnvelope("x", "t", make(chan int), time.Now()); err == nil {
		t.Fatal("expected unserializable data to be rejected")
	}
}

func TestEncodeEnvelopeNilData(t *testing.T) {
	b, err := delivery.EncodeEnvelope("x", "t", nil, time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"event":"x","timestamp":"1970-01-01T00:00:00Z","data":null,"tenant_id":"t"}` {
		t.Fatalf("unexpected envelope: %s", b)
	}
}
