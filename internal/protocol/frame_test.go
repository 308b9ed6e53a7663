package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumMatchesCapturedFrames(t *testing.T) {
	for _, nf := range Frames {
		t.Run(nf.Name, func(t *testing.T) {
			body := nf.Frame[:len(nf.Frame)-1]
			assert.Equal(t, nf.Frame[len(nf.Frame)-1], Checksum(body))
			assert.NoError(t, nf.Frame.Validate())
		})
	}
}

func TestBuild(t *testing.T) {
	f := Build(0xf0, 0xc3, 0x03, 0x01, 0x00, 0x00)
	assert.Equal(t, Frame{0xf0, 0xc3, 0x03, 0x01, 0x00, 0x00, 0xb7}, f)

	f = Build(0xf0, 0xc3, 0x03, 0x03, 0x14, 0x00)
	assert.Equal(t, byte(0xcd), f[len(f)-1])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		err   error
	}{
		{"power-on", Frame{0xf0, 0xc3, 0x03, 0x01, 0x00, 0x00, 0xb7}, nil},
		{"too short", Frame{0xf0, 0xf0}, ErrInvalidFrame},
		{"empty", Frame{}, ErrInvalidFrame},
		{"bad marker", Frame{0xf1, 0xc3, 0x03, 0x01, 0x00, 0x00, 0xb8}, ErrInvalidFrame},
		{"bad checksum", Frame{0xf0, 0xc3, 0x03, 0x03, 0x15, 0x00, 0xcd}, ErrChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestParseHex(t *testing.T) {
	want := Frame{0xf0, 0xc3, 0x03, 0x01, 0x00, 0x00, 0xb7}
	for _, in := range []string{
		"f0 c3 03 01 00 00 b7",
		"F0C3030100 00B7",
		"f0:c3:03:01:00:00:b7",
		"0xf0, 0xc3, 0x03, 0x01, 0x00, 0x00, 0xb7",
	} {
		got, err := ParseHex(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseHex("f0 c3 03 01 00 00 b8")
	assert.ErrorIs(t, err, ErrChecksum)

	_, err = ParseHex("zz")
	assert.ErrorIs(t, err, ErrInvalidFrame)

	_, err = ParseHex("  ")
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestFrameString(t *testing.T) {
	f, ok := Lookup(SetSpeed)
	require.True(t, ok)
	assert.Equal(t, "f0 c3 03 03 14 00 cd", f.String())

	group, code := f.Command()
	assert.Equal(t, byte(0xc3), group)
	assert.Equal(t, byte(0x03), code)
}

func TestResolve(t *testing.T) {
	f, err := Resolve("heartbeat")
	require.NoError(t, err)
	assert.Equal(t, Frame{0xf0, 0xc3, 0x03, 0x00, 0x00, 0x00, 0xb6}, f)

	f, err = Resolve("f0 c6 01 01 b8")
	require.NoError(t, err)
	assert.Len(t, f, 5)

	_, err = Resolve("warp-speed")
	assert.ErrorIs(t, err, ErrInvalidFrame)
	assert.ErrorContains(t, err, "knight-rider")
}

func TestResolveBody(t *testing.T) {
	f, err := ResolveBody("f0 c3 03 03 0c 00")
	require.NoError(t, err)
	assert.Equal(t, Frame{0xf0, 0xc3, 0x03, 0x03, 0x0c, 0x00, 0xc5}, f)

	f, err = ResolveBody("beep")
	require.NoError(t, err)
	assert.Equal(t, Frame{0xf0, 0xc3, 0x03, 0x03, 0x0b, 0x00, 0xc4}, f)

	_, err = ResolveBody("c3 03 03 0c 00")
	assert.ErrorIs(t, err, ErrInvalidFrame)

	_, err = ParseBody("")
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestCapturedFrames(t *testing.T) {
	for name, want := range map[string]Frame{
		"beep-12":      {0xf0, 0xc3, 0x03, 0x03, 0x12, 0x00, 0xcb},
		"beep-11":      {0xf0, 0xc3, 0x03, 0x03, 0x11, 0x00, 0xca},
		"beep-10":      {0xf0, 0xc3, 0x03, 0x03, 0x10, 0x00, 0xc9},
		"code-0c":      {0xf0, 0xc3, 0x03, 0x03, 0x0c, 0x00, 0xc5},
		"knight-rider": {0xf0, 0xc4, 0x05, 0x00, 0x19, 0x01, 0xaf, 0x4b, 0xcd},
	} {
		f, ok := Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, want, f, name)
		assert.NoError(t, f.Validate(), name)
		assert.Equal(t, want, Build(want[:len(want)-1]...), name)
	}
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	assert.Len(t, names, len(Frames))
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, PowerOn)
	assert.Contains(t, names, SetSpeed)
}
