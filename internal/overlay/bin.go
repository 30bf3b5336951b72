package overlay

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// Bin is a die classification: a numeric test bin or a special code.
// The zero value is numeric bin 0.
type Bin struct {
	number  int
	special string
}

// NumberBin returns a numeric bin.
func NumberBin(n int) Bin { return Bin{number: n} }

// SpecialBin returns a special-code bin such as "S", "*" or "D".
func SpecialBin(code string) Bin { return Bin{special: code} }

// Reserved and protected bins.
var (
	// DefectBin marks a die that overlaps a substrate defect.
	DefectBin = SpecialBin("D")

	protectedBins = []Bin{SpecialBin("S"), SpecialBin("*"), NumberBin(257)}
)

// IsSpecial reports whether b carries a special code.
func (b Bin) IsSpecial() bool { return b.special != "" }

// Number returns the numeric bin and whether b is numeric.
func (b Bin) Number() (int, bool) { return b.number, b.special == "" }

// Special returns the special code and whether b is special.
func (b Bin) Special() (string, bool) { return b.special, b.special != "" }

// Protected reports whether b marks an alignment or fiducial die that the
// overlay never reclassifies.
func (b Bin) Protected() bool {
	for _, p := range protectedBins {
		if b == p {
			return true
		}
	}
	return false
}

func (b Bin) String() string {
	if b.special != "" {
		return b.special
	}
	return strconv.Itoa(b.number)
}

// ParseBin parses the textual form used in die maps: an integer is a
// numeric bin, anything else a special code.
func ParseBin(s string) (Bin, error) {
	if s == "" {
		return Bin{}, fmt.Errorf("empty bin")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return NumberBin(n), nil
	}
	return SpecialBin(s), nil
}

// MarshalText implements encoding.TextMarshaler.
func (b Bin) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bin) UnmarshalText(text []byte) error {
	parsed, err := ParseBin(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON accepts a bin as a JSON string ("5", "S") or a bare
// integer (5).
func (b *Bin) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return b.UnmarshalText([]byte(s))
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("invalid bin %s", data)
	}
	*b = NumberBin(n)
	return nil
}
