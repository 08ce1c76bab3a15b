package domain

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Selector is a 4-byte function selector.
type Selector [4]byte

// SelectorOf extracts the selector from call data, or false when the data
// is too short to carry one (e.g. a plain value transfer).
func SelectorOf(data []byte) (Selector, bool) {
	if len(data) < 4 {
		return Selector{}, false
	}
	var s Selector
	copy(s[:], data[:4])
	return s, true
}

// ParseSelector parses a 0x-prefixed or bare 8-hex-digit selector.
func ParseSelector(s string) (Selector, error) {
	raw, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return Selector{}, fmt.Errorf("invalid selector %q: %w", s, err)
	}
	if len(raw) != 4 {
		return Selector{}, fmt.Errorf("invalid selector %q: want 4 bytes, got %d", s, len(raw))
	}
	var sel Selector
	copy(sel[:], raw)
	return sel, nil
}

func (s Selector) Bytes() []byte  { return s[:] }
func (s Selector) String() string { return hexutil.Encode(s[:]) }

func (s Selector) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Selector) UnmarshalText(text []byte) error {
	sel, err := ParseSelector(string(text))
	if err != nil {
		return err
	}
	*s = sel
	return nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
