package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treadctl/internal/ble/bletest"
	"treadctl/internal/config"
	"treadctl/internal/treadmill"
)

const addr = "AA:BB:CC:DD:EE:FF"

func newTestModel(t *testing.T, p *bletest.Provider) Model {
	t.Helper()
	log, _ := test.NewNullLogger()

	d := treadmill.NewDiscoverer(treadmill.ModeAuto, p)
	d.Log = log
	seq, err := treadmill.FromConfig(p, config.Defaults())
	require.NoError(t, err)
	seq.Log = log
	seq.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	m := NewModel(d, seq, 20*time.Millisecond)
	t.Cleanup(m.cancel)
	return m
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestScanResultPopulatesList(t *testing.T) {
	m := newTestModel(t, &bletest.Provider{})
	assert.True(t, m.scanning)

	m, _ = update(t, m, scanResultMsg{devices: []treadmill.Handle{
		{Address: "33:00:00:00:00:01", Name: "A"},
		{Address: "DF:00:00:00:00:02"},
	}})
	assert.False(t, m.scanning)
	assert.Len(t, m.devices, 2)
	assert.Contains(t, m.View(), "Unnamed")
	assert.Contains(t, m.View(), "33:00:00:00:00:01")

	m, _ = update(t, m, keyMsg("down"))
	assert.Equal(t, 1, m.cursor)
	m, _ = update(t, m, keyMsg("down"))
	assert.Equal(t, 0, m.cursor)
	m, _ = update(t, m, keyMsg("up"))
	assert.Equal(t, 1, m.cursor)
}

func TestScanResultEmpty(t *testing.T) {
	m := newTestModel(t, &bletest.Provider{})

	m, _ = update(t, m, scanResultMsg{})
	assert.Equal(t, "No treadmill device found", m.errorMsg)

	m, _ = update(t, m, keyMsg("enter"))
	assert.Equal(t, ViewDevices, m.view)

	m, cmd := update(t, m, keyMsg("r"))
	assert.True(t, m.scanning)
	assert.NotNil(t, cmd)
}

func TestScanResultError(t *testing.T) {
	m := newTestModel(t, &bletest.Provider{})
	m, _ = update(t, m, scanResultMsg{err: errors.New("adapter off")})
	assert.Contains(t, m.errorMsg, "adapter off")
}

func TestSpeedAdjust(t *testing.T) {
	m := newTestModel(t, &bletest.Provider{})
	m, _ = update(t, m, scanResultMsg{devices: []treadmill.Handle{{Address: addr}}})
	m, _ = update(t, m, keyMsg("enter"))
	require.Equal(t, ViewSpeed, m.view)
	assert.Equal(t, defaultSpeed, m.speed)

	m, _ = update(t, m, keyMsg("+"))
	m, _ = update(t, m, keyMsg("up"))
	assert.Equal(t, uint8(4), m.speed)

	for i := 0; i < 10; i++ {
		m, _ = update(t, m, keyMsg("down"))
	}
	assert.Equal(t, uint8(0), m.speed)

	m, _ = update(t, m, keyMsg("esc"))
	assert.Equal(t, ViewDevices, m.view)
}

func TestApplySpeedFlow(t *testing.T) {
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{bletest.Treadmill(addr, "FS-8A1B2C")}}
	m := newTestModel(t, p)

	m, _ = update(t, m, scanResultMsg{devices: []treadmill.Handle{{Address: addr, Name: "FS-8A1B2C"}}})
	m, _ = update(t, m, keyMsg("enter"))
	m, cmd := update(t, m, keyMsg("enter"))
	require.Equal(t, ViewApply, m.view)
	require.True(t, m.applying)

	// Drain the sequence the way the program loop would.
	var kinds []treadmill.EventKind
	for i := 0; i < 20 && m.applying; i++ {
		require.NotNil(t, cmd)
		msg := cmd()
		if batch, ok := msg.(tea.BatchMsg); ok {
			msg = batch[0]()
		}
		if ev, ok := msg.(sequenceEventMsg); ok {
			kinds = append(kinds, ev.event.Kind)
		}
		m, cmd = update(t, m, msg)
	}

	assert.False(t, m.applying)
	assert.Empty(t, m.errorMsg)
	assert.Equal(t, 1.0, m.progress.percent)
	assert.Contains(t, m.statusMsg, "Speed command sent to FS-8A1B2C (AA:BB:CC:DD:EE:FF)")
	// Every event must reach the model, in order.
	assert.Equal(t, []treadmill.EventKind{
		treadmill.EventConnecting,
		treadmill.EventConnected,
		treadmill.EventStep,
		treadmill.EventStep,
		treadmill.EventStep,
		treadmill.EventDisconnected,
	}, kinds)
	assert.Len(t, p.OpsOf("write"), 2)
}

func TestApplySpeedFailure(t *testing.T) {
	tm := bletest.Treadmill(addr, "")
	tm.ConnectErr = errors.New("page timeout")
	p := &bletest.Provider{Peripherals: []*bletest.Peripheral{tm}}
	m := newTestModel(t, p)

	m, _ = update(t, m, scanResultMsg{devices: []treadmill.Handle{{Address: addr}}})
	m, _ = update(t, m, keyMsg("enter"))
	m, _ = update(t, m, keyMsg("enter"))

	m, _ = update(t, m, sequenceDoneMsg{err: errors.New("connect: page timeout")})
	assert.False(t, m.applying)
	assert.Contains(t, m.errorMsg, "page timeout")
	assert.Contains(t, m.View(), "page timeout")

	m, _ = update(t, m, keyMsg("esc"))
	assert.Equal(t, ViewSpeed, m.view)
}

func TestBackIgnoredWhileApplying(t *testing.T) {
	m := newTestModel(t, &bletest.Provider{})
	m.view = ViewApply
	m.applying = true

	m, cmd := update(t, m, keyMsg("esc"))
	assert.Equal(t, ViewApply, m.view)
	assert.Nil(t, cmd)
}

func TestEventPercent(t *testing.T) {
	assert.Equal(t, 0.0, eventPercent(treadmill.Event{Kind: treadmill.EventConnecting}))
	assert.Equal(t, connectShare, eventPercent(treadmill.Event{Kind: treadmill.EventConnected, Total: 3}))
	assert.InDelta(t, 0.1+0.8/3, eventPercent(treadmill.Event{Kind: treadmill.EventStep, Index: 1, Total: 3}), 1e-9)
	assert.Equal(t, 1.0, eventPercent(treadmill.Event{Kind: treadmill.EventDisconnected}))
	assert.InDelta(t, 0.1+0.8/3*1.5, stepPercent(1, 3, 0.5), 1e-9)
}

func TestScanHonoursMode(t *testing.T) {
	log, _ := test.NewNullLogger()
	peripherals := func() []*bletest.Peripheral {
		return []*bletest.Peripheral{bletest.Treadmill(addr, "FS-8A1B2C"), bletest.Other("11:22:33:44:55:66", "Watch")}
	}

	t.Run("stream", func(t *testing.T) {
		p := &bletest.Provider{Peripherals: peripherals()}
		d := treadmill.NewDiscoverer(treadmill.ModeStream, p)
		d.Log = log

		msg := scanCmd(context.Background(), d, 50*time.Millisecond)()
		res, ok := msg.(scanResultMsg)
		require.True(t, ok)
		require.NoError(t, res.err)
		require.Len(t, res.devices, 1)
		assert.Equal(t, addr, res.devices[0].Address)
		assert.Empty(t, p.OpsOf("connect"))
		assert.Empty(t, p.OpsOf("enumerate"))
	})

	t.Run("stream finds nothing", func(t *testing.T) {
		p := &bletest.Provider{Peripherals: []*bletest.Peripheral{bletest.Other("11:22:33:44:55:66", "Watch")}}
		d := treadmill.NewDiscoverer(treadmill.ModeStream, p)
		d.Log = log

		res := scanCmd(context.Background(), d, 20*time.Millisecond)().(scanResultMsg)
		assert.NoError(t, res.err)
		assert.Empty(t, res.devices)
	})

	t.Run("enumerate", func(t *testing.T) {
		p := &bletest.Provider{Peripherals: peripherals()}
		d := treadmill.NewDiscoverer(treadmill.ModeEnumerate, p)
		d.Log = log

		res := scanCmd(context.Background(), d, 20*time.Millisecond)().(scanResultMsg)
		require.NoError(t, res.err)
		require.Len(t, res.devices, 1)
		assert.Len(t, p.OpsOf("enumerate"), 1)
		assert.Len(t, p.OpsOf("connect"), 1)
		assert.Empty(t, p.OpsOf("stream"))
	})

	t.Run("unsupported", func(t *testing.T) {
		p := bletest.EnumerateOnly{P: &bletest.Provider{Peripherals: peripherals()}}
		d := treadmill.NewDiscoverer(treadmill.ModeStream, p)
		d.Log = log

		res := scanCmd(context.Background(), d, 20*time.Millisecond)().(scanResultMsg)
		assert.ErrorIs(t, res.err, treadmill.ErrModeUnsupported)
	})
}
