package event

import (
	"errors"
	"testing"
	"time"
)

func TestRegistryValidateForAppendStampsKind(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Definition{Type: "thing.erased", Kind: KindDeletion}); err != nil {
		t.Fatalf("register: %v", err)
	}

	evt, err := registry.ValidateForAppend(Event{
		StreamKey:   " user-1 ",
		Type:        "thing.erased",
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600)),
		PayloadJSON: []byte(`{"feed_url":"f"}`),
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if evt.Kind != KindDeletion {
		t.Fatalf("kind = %s, want %s", evt.Kind, KindDeletion)
	}
	if evt.StreamKey != "user-1" {
		t.Fatalf("stream key = %q, want %q", evt.StreamKey, "user-1")
	}
	if evt.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp location = %s, want UTC", evt.Timestamp.Location())
	}
}

func TestRegistryDefaultsKindToFact(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Definition{Type: "thing.happened"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	def, ok := registry.Definition("thing.happened")
	if !ok {
		t.Fatal("expected definition")
	}
	if def.Kind != KindFact {
		t.Fatalf("kind = %s, want %s", def.Kind, KindFact)
	}
}

func TestRegistryRejectsDuplicateAndInvalid(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Definition{Type: "a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(Definition{Type: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := registry.Register(Definition{Type: " "}); !errors.Is(err, ErrTypeRequired) {
		t.Fatalf("err = %v, want %v", err, ErrTypeRequired)
	}
	if err := registry.Register(Definition{Type: "b", Kind: "weird"}); err == nil {
		t.Fatal("expected invalid kind error")
	}
}

func TestRegistryValidateForAppendErrors(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Definition{Type: "a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	now := time.Now()

	tests := []struct {
		name string
		evt  Event
		want error
	}{
		{name: "missing stream", evt: Event{Type: "a", Timestamp: now}, want: ErrStreamKeyRequired},
		{name: "missing type", evt: Event{StreamKey: "s", Timestamp: now}, want: ErrTypeRequired},
		{name: "unknown type", evt: Event{StreamKey: "s", Type: "zzz", Timestamp: now}, want: ErrTypeUnknown},
		{name: "missing timestamp", evt: Event{StreamKey: "s", Type: "a"}, want: ErrTimestampRequired},
		{name: "bad payload", evt: Event{StreamKey: "s", Type: "a", Timestamp: now, PayloadJSON: []byte("{")}, want: ErrPayloadInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := registry.ValidateForAppend(tc.evt)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDecodePayloadEmpty(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	got, err := DecodePayload[payload](Event{Type: "a"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "" {
		t.Fatalf("name = %q, want empty", got.Name)
	}
	if _, err := DecodePayload[payload](Event{Type: "a", PayloadJSON: []byte("[")}); err == nil {
		t.Fatal("expected decode error")
	}
}
