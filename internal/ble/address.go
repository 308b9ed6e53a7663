package ble

import (
	"fmt"
	"strings"

	"tinygo.org/x/bluetooth"
)

// ParseAddress validates a colon-separated 6-byte MAC address and returns it
// in canonical upper-case form.
func ParseAddress(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 17 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	for i := 2; i < len(s); i += 3 {
		if s[i] != ':' {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
	}

	// ParseMAC only accepts upper-case hex digits.
	mac, err := bluetooth.ParseMAC(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return strings.ToUpper(mac.String()), nil
}
