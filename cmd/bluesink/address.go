package main

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 48-bit Bluetooth device address, most significant byte first.
type Address [6]byte

// ParseAddress accepts "AA:BB:CC:DD:EE:FF" (also with '-' or '_' separators).
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("-", ":", "_", ":").Replace(s)
	parts := strings.Split(s, ":")
	if len(parts) != len(a) {
		return a, fmt.Errorf("invalid bluetooth address %q", s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return a, fmt.Errorf("invalid bluetooth address %q", s)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return a, fmt.Errorf("invalid bluetooth address %q: %w", s, err)
		}
		a[i] = b[0]
	}
	return a, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	v, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
