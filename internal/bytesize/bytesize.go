// Package bytesize parses human-readable byte sizes in configuration,
// like "20Mi" or "5MB".
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes that unmarshals from human-readable strings
// ("20Mi", "5MB") or plain byte counts.
type ByteSize uint64

// Common byte size constants.
const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
)

// unitMultipliers maps lowercase unit suffixes to their byte multipliers.
// Binary units multiply by 1024, decimal units by 1000.
var unitMultipliers = map[string]ByteSize{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"m":   MB,
	"mb":  MB,
	"g":   GB,
	"gb":  GB,
	"ki":  KiB,
	"kib": KiB,
	"mi":  MiB,
	"mib": MiB,
	"gi":  GiB,
	"gib": GiB,
}

// ParseByteSize parses strings like "20Mi", "5MB" or "1048576".
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	split := len(s)
	for split > 0 && !isDigit(s[split-1]) {
		split--
	}
	numStr := strings.TrimSpace(s[:split])
	unit := strings.ToLower(strings.TrimSpace(s[split:]))

	multiplier, ok := unitMultipliers[unit]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", s[split:])
	}

	num, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}

	return ByteSize(num) * multiplier, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// UnmarshalText implements encoding.TextUnmarshaler so ByteSize fields
// work directly with mapstructure and yaml.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// String returns a human-readable representation, preferring exact binary
// units.
func (b ByteSize) String() string {
	switch {
	case b >= GiB && b%GiB == 0:
		return fmt.Sprintf("%dGi", b/GiB)
	case b >= MiB && b%MiB == 0:
		return fmt.Sprintf("%dMi", b/MiB)
	case b >= KiB && b%KiB == 0:
		return fmt.Sprintf("%dKi", b/KiB)
	default:
		return fmt.Sprintf("%dB", uint64(b))
	}
}
