package store

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// UUID is a 16-byte file identifier stored as BINARY(16) and exposed to
// clients in the canonical 36-character hyphenated form.
type UUID uuid.UUID

// NewUUID generates a time-ordered (v7) UUID so that primary-key order and
// created_at order broadly agree.
func NewUUID() (UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return UUID{}, fmt.Errorf("failed to generate uuid: %w", err)
	}
	return UUID(id), nil
}

// ParseUUID parses the canonical 36-character form.
func ParseUUID(s string) (UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("invalid file uuid %q: %w", s, err)
	}
	return UUID(id), nil
}

// String returns the canonical hyphenated form.
func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// IsZero reports whether the UUID is the all-zero value.
func (u UUID) IsZero() bool {
	return uuid.UUID(u) == uuid.Nil
}

// Value implements driver.Valuer, encoding as 16 raw big-endian bytes.
func (u UUID) Value() (driver.Value, error) {
	b := [16]byte(u)
	return b[:], nil
}

// Scan implements sql.Scanner, accepting BINARY(16) or a canonical string.
func (u *UUID) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		if len(v) == 16 {
			copy(u[:], v)
			return nil
		}
		// Some drivers hand back the textual form.
		id, err := uuid.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("cannot scan %d bytes into UUID: %w", len(v), err)
		}
		*u = UUID(id)
		return nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return fmt.Errorf("cannot scan %q into UUID: %w", v, err)
		}
		*u = UUID(id)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into UUID", src)
	}
}

// GormDataType tells GORM to map the column to BINARY(16).
func (UUID) GormDataType() string {
	return "binary(16)"
}
