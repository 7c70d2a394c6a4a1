// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"testing"
	"time"
)

func TestAttachmentRoundTrip(t *testing.T) {
	t.Parallel()
	original := Attachment{
		ServerID:     "daemon-7",
		Role:         RoleClient,
		Version:      V2,
		ConnectionID: "4f6b1d2e",
		CreatedAt:    time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Resume:       map[uint32]uint64{1: 4096, 2: 0},
	}

	data, err := EncodeAttachment(original)
	if err != nil {
		t.Fatalf("EncodeAttachment: %v", err)
	}
	decoded, err := DecodeAttachment(data)
	if err != nil {
		t.Fatalf("DecodeAttachment: %v", err)
	}

	if decoded.ServerID != original.ServerID ||
		decoded.Role != original.Role ||
		decoded.Version != original.Version ||
		decoded.ConnectionID != original.ConnectionID {
		t.Errorf("decoded = %+v, want %+v", decoded, original)
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", decoded.CreatedAt, original.CreatedAt)
	}
	if len(decoded.Resume) != 2 || decoded.Resume[1] != 4096 || decoded.Resume[2] != 0 {
		t.Errorf("Resume = %v, want %v", decoded.Resume, original.Resume)
	}
}

func TestDecodeAttachmentRejectsGarbage(t *testing.T) {
	t.Parallel()
	if _, err := DecodeAttachment([]byte{0xff, 0xfe, 0xfd}); err == nil {
		t.Fatalf("DecodeAttachment(garbage): want error")
	}
}

func TestAttachmentValidate(t *testing.T) {
	t.Parallel()
	valid := Attachment{ServerID: "srv", Role: RoleServer, Version: V1}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate(valid server): %v", err)
	}

	v2Client := Attachment{ServerID: "srv", Role: RoleClient, Version: V2, ConnectionID: "c1"}
	if err := v2Client.Validate(); err != nil {
		t.Fatalf("Validate(valid v2 client): %v", err)
	}

	v1Client := Attachment{ServerID: "srv", Role: RoleClient, Version: V1}
	if err := v1Client.Validate(); err != nil {
		t.Fatalf("Validate(valid v1 client): %v", err)
	}

	invalid := []Attachment{
		{Role: RoleServer, Version: V1},
		{ServerID: "srv", Role: 0, Version: V1},
		{ServerID: "srv", Role: RoleClient, Version: 0},
		{ServerID: "srv", Role: RoleClient, Version: V2},
		// Replay is mux-encoded; a v1 client cannot ask for it.
		{ServerID: "srv", Role: RoleClient, Version: V1, Resume: map[uint32]uint64{1: 0}},
	}
	for _, a := range invalid {
		if err := a.Validate(); err == nil {
			t.Errorf("Validate(%+v): want error", a)
		}
	}
}
