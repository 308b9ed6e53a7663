package ble

import (
	"fmt"
	"strconv"
	"strings"

	"tinygo.org/x/bluetooth"
)

// parseBareUUID parses a UUID given as 4 hex digits (16-bit, expanded with
// the Bluetooth base UUID), 8 hex digits (32-bit) or 32 hex digits without
// hyphens. Hyphenated 128-bit UUIDs are accepted too.
func parseBareUUID(s string) (bluetooth.UUID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch len(s) {
	case 4:
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("bad 16-bit uuid %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	case 8:
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("bad 32-bit uuid %q: %w", s, err)
		}
		return bluetooth.New32BitUUID(uint32(v)), nil
	case 32:
		s = s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
	}
	return bluetooth.ParseUUID(s)
}
