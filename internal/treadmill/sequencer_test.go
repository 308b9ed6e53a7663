package treadmill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"treadctl/internal/ble"
	"treadctl/internal/ble/bletest"
	"treadctl/internal/config"
	"treadctl/internal/protocol"
)

const treadmillAddr = "AA:BB:CC:DD:EE:FF"

var (
	powerOnFrame  = protocol.Frame{0xf0, 0xc3, 0x03, 0x01, 0x00, 0x00, 0xb7}
	setSpeedFrame = protocol.Frame{0xf0, 0xc3, 0x03, 0x03, 0x14, 0x00, 0xcd}
)

// timeline records writes and waits in the order they happen.
type timeline struct {
	mu     sync.Mutex
	events []string
	waits  []time.Duration
}

func (tl *timeline) add(s string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.events = append(tl.events, s)
}

func (tl *timeline) sleep(ctx context.Context, d time.Duration) error {
	tl.mu.Lock()
	tl.waits = append(tl.waits, d)
	tl.mu.Unlock()
	tl.add("wait")
	return ctx.Err()
}

func newTestSequencer(t *testing.T, p *bletest.Provider) (*Sequencer, *timeline) {
	t.Helper()
	cfg := config.Defaults()
	seq, err := FromConfig(p, cfg)
	require.NoError(t, err)

	tl := &timeline{}
	seq.Sleep = tl.sleep
	seq.Log = quietLogger()
	seq.Observer = func(e Event) {
		if e.Kind == EventStep && e.Step.Kind == StepWrite {
			tl.add("write " + e.Step.Name)
		}
	}
	return seq, tl
}

func TestApplySpeed(t *testing.T) {
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{bletest.Treadmill(treadmillAddr, "FS-8A1B2C")}}
	seq, tl := newTestSequencer(t, p)

	require.NoError(t, seq.ApplySpeed(context.Background(), treadmillAddr, 5))

	kinds := make([]string, 0)
	for _, op := range p.Ops() {
		kinds = append(kinds, op.Kind)
	}
	assert.Equal(t, []string{"enable", "connect", "write", "write", "disconnect"}, kinds)

	writes := p.OpsOf("write")
	require.Len(t, writes, 2)
	assert.Equal(t, []byte(powerOnFrame), writes[0].Data)
	assert.Equal(t, []byte(setSpeedFrame), writes[1].Data)

	assert.Equal(t, []string{"write " + protocol.PowerOn, "wait", "write " + protocol.SetSpeed}, tl.events)
	assert.Equal(t, []time.Duration{8 * time.Second}, tl.waits)
}

func TestApplySpeedIgnoresSpeedValue(t *testing.T) {
	for _, speed := range []uint8{0, 2, 5, 255} {
		p := &bletest.Provider{Peripherals: []*bletest.Peripheral{bletest.Treadmill(treadmillAddr, "")}}
		seq, _ := newTestSequencer(t, p)

		require.NoError(t, seq.ApplySpeed(context.Background(), treadmillAddr, speed))
		writes := p.OpsOf("write")
		require.Len(t, writes, 2)
		assert.Equal(t, []byte(setSpeedFrame), writes[1].Data, "speed %d", speed)
	}
}

func TestApplySpeedInvalidAddressHasNoSideEffects(t *testing.T) {
	for _, addr := range []string{"", "not-an-address", "AA:BB:CC:DD:EE", "AA:BB:CC:DD:EE:GG"} {
		p := &bletest.Provider{Peripherals: []*bletest.Peripheral{bletest.Treadmill(treadmillAddr, "")}}
		seq, tl := newTestSequencer(t, p)

		err := seq.ApplySpeed(context.Background(), addr, 5)
		assert.ErrorIs(t, err, ble.ErrInvalidAddress, addr)
		assert.Empty(t, p.Ops(), addr)
		assert.Empty(t, tl.events, addr)
	}
}

func TestApplySpeedLowercaseAddress(t *testing.T) {
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{bletest.Treadmill(treadmillAddr, "")}}
	seq, _ := newTestSequencer(t, p)

	require.NoError(t, seq.ApplySpeed(context.Background(), "aa:bb:cc:dd:ee:ff", 5))
	assert.Equal(t, treadmillAddr, p.OpsOf("connect")[0].Address)
}

func TestApplySpeedConnectFailure(t *testing.T) {
	tm := bletest.Treadmill(treadmillAddr, "")
	tm.ConnectErr = errors.New("br-connection-page-timeout")
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{tm}}
	seq, tl := newTestSequencer(t, p)

	err := seq.ApplySpeed(context.Background(), treadmillAddr, 5)
	assert.ErrorContains(t, err, "connect")
	assert.ErrorContains(t, err, "br-connection-page-timeout")
	assert.Empty(t, p.OpsOf("write"))
	assert.Empty(t, p.OpsOf("disconnect"))
	assert.Empty(t, tl.events)
}

func TestApplySpeedAdapterFailure(t *testing.T) {
	p := &bletest.Provider{EnableErr: errors.New("rfkill")}
	seq, _ := newTestSequencer(t, p)

	err := seq.ApplySpeed(context.Background(), treadmillAddr, 5)
	assert.ErrorIs(t, err, ble.ErrAdapter)
	assert.Empty(t, p.OpsOf("connect"))
}

func TestApplySpeedServiceNotFound(t *testing.T) {
	other := bletest.Other(treadmillAddr, "Phone")
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{other}}
	seq, _ := newTestSequencer(t, p)

	err := seq.ApplySpeed(context.Background(), treadmillAddr, 5)
	assert.ErrorIs(t, err, ble.ErrServiceNotFound)
	assert.Empty(t, p.OpsOf("write"))
	assert.Len(t, p.OpsOf("disconnect"), 1)
}

func TestApplySpeedCharacteristicNotFound(t *testing.T) {
	tm := bletest.Treadmill(treadmillAddr, "")
	tm.Characteristics = map[bluetooth.UUID][]bluetooth.UUID{ble.TreadmillServiceUUID: {ble.NotifyCharUUID}}
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{tm}}
	seq, _ := newTestSequencer(t, p)

	err := seq.ApplySpeed(context.Background(), treadmillAddr, 5)
	assert.ErrorIs(t, err, ble.ErrCharacteristicNotFound)
	assert.Len(t, p.OpsOf("disconnect"), 1)
}

func TestApplySpeedWriteFailureStopsSequence(t *testing.T) {
	tm := bletest.Treadmill(treadmillAddr, "")
	tm.WriteErr = errors.New("le-write-failed")
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{tm}}
	seq, tl := newTestSequencer(t, p)

	err := seq.ApplySpeed(context.Background(), treadmillAddr, 5)
	assert.ErrorContains(t, err, "write power-on frame")
	assert.Equal(t, []string{"write " + protocol.PowerOn}, tl.events)
	assert.Len(t, p.OpsOf("disconnect"), 1)
}

func TestApplySpeedShortWrite(t *testing.T) {
	tm := bletest.Treadmill(treadmillAddr, "")
	tm.ShortWrite = true
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{tm}}
	seq, _ := newTestSequencer(t, p)

	err := seq.ApplySpeed(context.Background(), treadmillAddr, 5)
	assert.ErrorIs(t, err, ErrShortWrite)
	assert.Len(t, p.OpsOf("write"), 1)
}

func TestApplySpeedCancelledDuringWait(t *testing.T) {
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{bletest.Treadmill(treadmillAddr, "")}}
	seq, err := FromConfig(p, config.Defaults())
	require.NoError(t, err)
	seq.Log = quietLogger()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err = seq.ApplySpeed(ctx, treadmillAddr, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, p.OpsOf("write"), 1)
	assert.Len(t, p.OpsOf("disconnect"), 1)
}

func TestApplySpeedRealDelay(t *testing.T) {
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{bletest.Treadmill(treadmillAddr, "")}}
	seq, err := NewSequencer(p, DefaultSteps(powerOnFrame, setSpeedFrame, 60*time.Millisecond))
	require.NoError(t, err)
	seq.Log = quietLogger()

	require.NoError(t, seq.ApplySpeed(context.Background(), treadmillAddr, 5))
	writes := p.OpsOf("write")
	require.Len(t, writes, 2)
	assert.GreaterOrEqual(t, writes[1].At.Sub(writes[0].At), 60*time.Millisecond)
}

func TestApplySpeedEvents(t *testing.T) {
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{bletest.Treadmill(treadmillAddr, "")}}
	seq, _ := newTestSequencer(t, p)

	var kinds []EventKind
	var indexes []int
	seq.Observer = func(e Event) {
		kinds = append(kinds, e.Kind)
		if e.Kind == EventStep {
			indexes = append(indexes, e.Index)
			assert.Equal(t, 3, e.Total)
		}
	}

	require.NoError(t, seq.ApplySpeed(context.Background(), treadmillAddr, 5))
	assert.Equal(t, []EventKind{EventConnecting, EventConnected, EventStep, EventStep, EventStep, EventDisconnected}, kinds)
	assert.Equal(t, []int{0, 1, 2}, indexes)
}

func TestNewSequencerRejectsBadFrames(t *testing.T) {
	bad := protocol.Frame{0xf0, 0xc3, 0x03, 0x03, 0x15, 0x00, 0xcd}
	_, err := NewSequencer(&bletest.Provider{}, DefaultSteps(powerOnFrame, bad, time.Second))
	assert.ErrorIs(t, err, protocol.ErrChecksum)

	_, err = NewSequencer(&bletest.Provider{}, []Step{WaitStep(-time.Second)})
	assert.Error(t, err)
}

func TestFromConfigOverrides(t *testing.T) {
	cfg := config.Defaults()
	cfg.Sequence.Delay = 3 * time.Second
	cfg.Sequence.Frames.SetSpeed = "f0 c3 03 03 0b 00 c4"

	seq, err := FromConfig(&bletest.Provider{}, cfg)
	require.NoError(t, err)
	require.Len(t, seq.Steps, 3)
	assert.Equal(t, powerOnFrame, seq.Steps[0].Frame)
	assert.Equal(t, 3*time.Second, seq.Steps[1].Delay)
	assert.Equal(t, protocol.Frame{0xf0, 0xc3, 0x03, 0x03, 0x0b, 0x00, 0xc4}, seq.Steps[2].Frame)
	assert.Equal(t, "write set-speed [f0 c3 03 03 0b 00 c4]", seq.Steps[2].String())
	assert.Equal(t, "wait 3s", seq.Steps[1].String())
}

func TestSend(t *testing.T) {
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{bletest.Treadmill(treadmillAddr, "")}}
	seq, tl := newTestSequencer(t, p)

	heartbeat, _ := protocol.Lookup("heartbeat")
	beep, _ := protocol.Lookup("beep")
	require.NoError(t, seq.Send(context.Background(), treadmillAddr, heartbeat, beep))

	writes := p.OpsOf("write")
	require.Len(t, writes, 2)
	assert.Equal(t, []byte(heartbeat), writes[0].Data)
	assert.Equal(t, []byte(beep), writes[1].Data)
	assert.Empty(t, tl.waits)

	err := seq.Send(context.Background(), treadmillAddr, protocol.Frame{0xf0, 0x00, 0x00})
	assert.ErrorIs(t, err, protocol.ErrChecksum)
}

func TestExplore(t *testing.T) {
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{bletest.Treadmill(treadmillAddr, "")}}
	seq, _ := newTestSequencer(t, p)

	infos, err := seq.Explore(context.Background(), treadmillAddr)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, ble.TreadmillServiceUUID, infos[0].UUID)
	assert.Contains(t, infos[0].Characteristics, ble.CommandCharUUID)
	assert.Len(t, p.OpsOf("disconnect"), 1)

	_, err = seq.Explore(context.Background(), "bogus")
	assert.ErrorIs(t, err, ble.ErrInvalidAddress)
}

func TestExploreLogsDisconnectFailure(t *testing.T) {
	tm := bletest.Treadmill(treadmillAddr, "")
	tm.DisconnectErr = errors.New("le-connection-abort-by-local")
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{tm}}
	seq, _ := newTestSequencer(t, p)
	log, hook := test.NewNullLogger()
	seq.Log = log

	infos, err := seq.Explore(context.Background(), treadmillAddr)
	require.NoError(t, err)
	assert.Len(t, infos, 1)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "Disconnect failed", entry.Message)
	assert.Equal(t, tm.DisconnectErr, entry.Data[logrus.ErrorKey])
	assert.Equal(t, treadmillAddr, entry.Data["address"])
}
