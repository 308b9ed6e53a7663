package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"tinygo.org/x/bluetooth"

	"treadctl/internal/ble"
	"treadctl/internal/util"
)

// Streams is where commands print. Results and progress go to Out,
// user-facing failures to Err.
type Streams struct {
	Out io.Writer
	Err io.Writer
}

// Stdio returns the process streams.
func Stdio() Streams {
	return Streams{Out: os.Stdout, Err: os.Stderr}
}

func (s Streams) printf(format string, args ...any) {
	fmt.Fprintf(s.Out, format, args...)
}

func (s Streams) println(args ...any) {
	fmt.Fprintln(s.Out, args...)
}

func (s Streams) errorf(format string, args ...any) {
	fmt.Fprintf(s.Err, format, args...)
}

var knownUUIDs = map[bluetooth.UUID]string{
	ble.TreadmillServiceUUID:  "treadmill",
	ble.CommandCharUUID:       "command",
	ble.NotifyCharUUID:        "notify",
	ble.DeviceInfoServiceUUID: "device information",
}

// describeUUID appends a short label to UUIDs the tool knows about.
func describeUUID(u bluetooth.UUID) string {
	if name, ok := knownUUIDs[u]; ok {
		return fmt.Sprintf("%s (%s)", u, name)
	}
	return u.String()
}

// hexBlock indents a hex dump for display under a heading.
func hexBlock(data []byte) string {
	lines := strings.Split(util.HexDump(data), "\n")
	for i := range lines {
		lines[i] = "    " + lines[i]
	}
	return strings.Join(lines, "\n")
}
