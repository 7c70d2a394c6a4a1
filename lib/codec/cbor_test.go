// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// sampleAttachment mirrors the shape of the relay's handshake message:
// strings, an enum-ish int, and a map of resume offsets.
type sampleAttachment struct {
	ServerID     string            `cbor:"server_id"`
	Role         int               `cbor:"role"`
	ConnectionID string            `cbor:"connection_id,omitempty"`
	Resume       map[uint32]uint64 `cbor:"resume,omitempty"`
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	t.Parallel()

	original := sampleAttachment{
		ServerID:     "srv-1",
		Role:         1,
		ConnectionID: "conn-a",
		Resume:       map[uint32]uint64{1: 1000, 7: 42},
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleAttachment
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.ServerID != original.ServerID || decoded.Role != original.Role ||
		decoded.ConnectionID != original.ConnectionID {
		t.Errorf("round trip: got %+v, want %+v", decoded, original)
	}
	if len(decoded.Resume) != 2 || decoded.Resume[1] != 1000 || decoded.Resume[7] != 42 {
		t.Errorf("resume map: got %v, want %v", decoded.Resume, original.Resume)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()

	value := map[string]any{
		"zebra":  1,
		"apple":  2,
		"middle": 3,
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal iteration %d: %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("non-deterministic encoding on iteration %d", i)
		}
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	// Encode a superset, decode into a struct missing a field. A newer
	// daemon must be able to talk to an older relay.
	superset := map[string]any{
		"server_id":   "srv-2",
		"role":        0,
		"new_hotness": "ignored",
		"extra_field": 9,
	}
	data, err := Marshal(superset)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleAttachment
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal with unknown fields: %v", err)
	}
	if decoded.ServerID != "srv-2" {
		t.Errorf("ServerID: got %q, want %q", decoded.ServerID, "srv-2")
	}
}

func TestUnmarshalIntoAnyUsesStringKeyMaps(t *testing.T) {
	t.Parallel()

	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": 1}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type: got %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Errorf("nested type: got %T, want map[string]any", outer["outer"])
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)

	messages := []sampleAttachment{
		{ServerID: "srv-a", Role: 0},
		{ServerID: "srv-b", Role: 1, ConnectionID: "c1"},
	}
	for _, m := range messages {
		if err := encoder.Encode(m); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range messages {
		var got sampleAttachment
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode message %d: %v", i, err)
		}
		if got.ServerID != want.ServerID || got.ConnectionID != want.ConnectionID {
			t.Errorf("message %d: got %+v, want %+v", i, got, want)
		}
	}
}
