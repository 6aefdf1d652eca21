package store

import (
	"testing"
)

func TestUUIDRoundTrip(t *testing.T) {
	t.Run("canonical string survives value/scan", func(t *testing.T) {
		id, err := NewUUID()
		if err != nil {
			t.Fatalf("failed to generate uuid: %v", err)
		}

		v, err := id.Value()
		if err != nil {
			t.Fatalf("failed to encode: %v", err)
		}
		raw, ok := v.([]byte)
		if !ok || len(raw) != 16 {
			t.Fatalf("expected 16 raw bytes, got %T len %d", v, len(raw))
		}

		var back UUID
		if err := back.Scan(raw); err != nil {
			t.Fatalf("failed to scan: %v", err)
		}
		if back.String() != id.String() {
			t.Errorf("round trip changed uuid: %s != %s", back, id)
		}
	})

	t.Run("parse canonical v4 form", func(t *testing.T) {
		const s = "b2dc2cd4-2b0d-4b31-9f3c-9a1f2b3c4d5e"
		id, err := ParseUUID(s)
		if err != nil {
			t.Fatalf("failed to parse: %v", err)
		}
		if id.String() != s {
			t.Errorf("expected %s, got %s", s, id)
		}
	})

	t.Run("reject malformed input", func(t *testing.T) {
		if _, err := ParseUUID("not-a-uuid"); err == nil {
			t.Error("expected error for malformed uuid")
		}
		var id UUID
		if err := id.Scan([]byte{1, 2, 3}); err == nil {
			t.Error("expected error for short byte slice")
		}
	})

	t.Run("v7 uuids are time ordered", func(t *testing.T) {
		a, _ := NewUUID()
		b, _ := NewUUID()
		if a.String() >= b.String() {
			t.Errorf("expected %s < %s", a, b)
		}
	})
}
