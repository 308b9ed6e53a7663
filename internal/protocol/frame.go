package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// FrameMarker is the first byte of every command frame sent to the treadmill.
const FrameMarker = 0xf0

var (
	ErrInvalidFrame = errors.New("invalid frame")
	ErrChecksum     = errors.New("frame checksum mismatch")
)

// Frame is one vendor command written to the command characteristic.
// Layout (inferred from captures, not documented by the vendor):
//
//	byte 0:     marker (0xf0)
//	byte 1:     command group (0xc1, 0xc3, ...)
//	byte 2:     payload length
//	bytes 3..n: payload
//	last byte:  sum of all preceding bytes, modulo 256
type Frame []byte

// Checksum returns the sum of body modulo 256.
func Checksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum += b
	}
	return sum
}

// Build returns body with its checksum appended.
func Build(body ...byte) Frame {
	f := make(Frame, 0, len(body)+1)
	f = append(f, body...)
	return append(f, Checksum(body))
}

// Validate checks the marker, minimum length and trailing checksum.
func (f Frame) Validate() error {
	if len(f) < 3 {
		return fmt.Errorf("%w: %d bytes, need at least 3", ErrInvalidFrame, len(f))
	}
	if f[0] != FrameMarker {
		return fmt.Errorf("%w: marker 0x%02x, want 0x%02x", ErrInvalidFrame, f[0], FrameMarker)
	}
	want := Checksum(f[:len(f)-1])
	if got := f[len(f)-1]; got != want {
		return fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrChecksum, got, want)
	}
	return nil
}

// Command returns the command byte pair (group, code) when the frame carries one.
func (f Frame) Command() (group, code byte) {
	if len(f) > 1 {
		group = f[1]
	}
	if len(f) > 3 {
		code = f[3]
	}
	return group, code
}

// String formats the frame as space-separated lowercase hex.
func (f Frame) String() string {
	parts := make([]string, len(f))
	for i, b := range f {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, " ")
}

// ParseHex decodes a frame from hex text. Spaces, colons, commas and 0x
// prefixes are ignored, so "f0 c3 03 01 00 00 b7", "f0:c3:..." and
// "0xf0,0xc3,..." all parse. The result is validated.
func ParseHex(s string) (Frame, error) {
	data, err := decodeHex(s)
	if err != nil {
		return nil, err
	}
	f := Frame(data)
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// ParseBody decodes hex text like ParseHex, treats it as a frame without its
// trailing checksum and appends the checksum.
func ParseBody(s string) (Frame, error) {
	data, err := decodeHex(s)
	if err != nil {
		return nil, err
	}
	f := Build(data...)
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func decodeHex(s string) ([]byte, error) {
	clean := strings.ToLower(s)
	clean = strings.ReplaceAll(clean, "0x", "")
	clean = strings.NewReplacer(" ", "", ":", "", ",", "", "-", "", "\t", "").Replace(clean)
	if clean == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidFrame)
	}

	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return data, nil
}
