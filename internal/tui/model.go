package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"treadctl/internal/treadmill"
)

// View represents different screens in the TUI.
type View int

const (
	ViewDevices View = iota
	ViewSpeed        // Pick a speed for the selected treadmill
	ViewApply        // Sequence running or finished
)

// defaultSpeed matches the value the fixed set-speed frame selects.
const defaultSpeed uint8 = 2

const tickInterval = 100 * time.Millisecond

// Model is the main Bubbletea model for the TUI.
type Model struct {
	// State
	view   View
	cursor int
	width  int
	height int

	// Data
	scanning  bool
	devices   []treadmill.Handle
	selected  treadmill.Handle
	speed     uint8
	applying  bool
	events    <-chan tea.Msg
	waitStart time.Time
	waitFor   time.Duration
	step      treadmill.Event
	errorMsg  string
	statusMsg string

	// Backend
	ctx        context.Context
	cancel     context.CancelFunc
	discoverer *treadmill.Discoverer
	sequencer  *treadmill.Sequencer
	timeout    time.Duration

	// Components
	keys     KeyMap
	help     help.Model
	spinner  spinner.Model
	progress ProgressState
	styles   Styles
}

// --- Custom messages for async operations ---

// scanResultMsg delivers the treadmills found in one scan window.
type scanResultMsg struct {
	devices []treadmill.Handle
	err     error
}

// sequenceEventMsg relays sequencer progress.
type sequenceEventMsg struct {
	event treadmill.Event
}

// sequenceDoneMsg signals the sequence finished.
type sequenceDoneMsg struct {
	err error
}

// tickMsg animates the bar during waits.
type tickMsg time.Time

func NewModel(d *treadmill.Discoverer, seq *treadmill.Sequencer, timeout time.Duration) Model {
	h := help.New()
	h.ShowAll = false // Use ShortHelp for horizontal layout

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		view:       ViewDevices,
		scanning:   true, // Start scanning on launch
		speed:      defaultSpeed,
		ctx:        ctx,
		cancel:     cancel,
		discoverer: d,
		sequencer:  seq,
		timeout:    timeout,
		keys:       DefaultKeyMap(),
		help:       h,
		spinner:    s,
		progress:   NewProgressState(),
		styles:     DefaultStyles(),
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(scanCmd(m.ctx, m.discoverer, m.timeout), m.spinner.Tick)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case scanResultMsg:
		m.scanning = false
		if msg.err != nil {
			m.errorMsg = fmt.Sprintf("Scan failed: %v", msg.err)
			return m, nil
		}
		m.devices = msg.devices
		m.cursor = 0
		if len(m.devices) == 0 {
			m.errorMsg = "No treadmill device found"
			return m, nil
		}
		m.errorMsg = ""
		m.statusMsg = fmt.Sprintf("Found %d treadmill(s)", len(m.devices))
		return m, nil

	case sequenceEventMsg:
		m.step = msg.event
		m.progress.Update(eventPercent(msg.event), describeEvent(msg.event))
		m.waitFor = 0
		if msg.event.Kind == treadmill.EventStep && msg.event.Step.Kind == treadmill.StepWait {
			m.waitStart = time.Now()
			m.waitFor = msg.event.Step.Delay
			return m, tea.Batch(waitForMsg(m.events), tickCmd())
		}
		return m, waitForMsg(m.events)

	case sequenceDoneMsg:
		m.applying = false
		m.events = nil
		m.waitFor = 0
		if msg.err != nil {
			m.progress.Cancel()
			m.errorMsg = fmt.Sprintf("Failed: %v", msg.err)
			m.statusMsg = ""
			return m, nil
		}
		m.progress.Complete()
		m.errorMsg = ""
		m.statusMsg = fmt.Sprintf("Speed command sent to %s", m.selected)
		return m, nil

	case tickMsg:
		if !m.applying || m.waitFor <= 0 {
			return m, nil
		}
		frac := float64(time.Since(m.waitStart)) / float64(m.waitFor)
		if frac > 1 {
			frac = 1
		}
		remaining := (m.waitFor - time.Since(m.waitStart)).Round(time.Second)
		if remaining < 0 {
			remaining = 0
		}
		m.progress.Update(stepPercent(m.step.Index, m.step.Total, frac),
			fmt.Sprintf("Waiting for the belt (%s left)...", remaining))
		return m, tickCmd()
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		// Cancels any scan or sequence in flight.
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Back):
		return m.goBack()

	case key.Matches(msg, m.keys.Up):
		switch m.view {
		case ViewDevices:
			m.cursor--
			if m.cursor < 0 {
				m.cursor = m.maxCursor()
			}
		case ViewSpeed:
			if m.speed < 255 {
				m.speed++
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		switch m.view {
		case ViewDevices:
			m.cursor++
			if m.cursor > m.maxCursor() {
				m.cursor = 0
			}
		case ViewSpeed:
			if m.speed > 0 {
				m.speed--
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.Select):
		return m.handleSelect()

	case key.Matches(msg, m.keys.Rescan):
		if m.view == ViewDevices && !m.scanning {
			m.scanning = true
			m.devices = nil
			m.errorMsg = ""
			m.statusMsg = "Scanning..."
			return m, tea.Batch(scanCmd(m.ctx, m.discoverer, m.timeout), m.spinner.Tick)
		}
		return m, nil
	}

	return m, nil
}

func (m Model) goBack() (tea.Model, tea.Cmd) {
	switch m.view {
	case ViewDevices:
		m.cancel()
		return m, tea.Quit
	case ViewSpeed:
		m.view = ViewDevices
	case ViewApply:
		// The sequence cannot be abandoned half way; quit cancels it.
		if m.applying {
			return m, nil
		}
		m.view = ViewSpeed
		m.progress.Cancel()
	}
	return m, nil
}

func (m Model) handleSelect() (tea.Model, tea.Cmd) {
	switch m.view {
	case ViewDevices:
		if m.scanning || len(m.devices) == 0 {
			return m, nil
		}
		m.selected = m.devices[m.cursor]
		m.view = ViewSpeed
		m.errorMsg = ""
		m.statusMsg = ""
		return m, nil

	case ViewSpeed:
		if m.applying {
			return m, nil
		}
		m.view = ViewApply
		m.applying = true
		m.errorMsg = ""
		m.statusMsg = ""
		m.progress.Start(fmt.Sprintf("Connecting to %s...", m.selected.Address))
		m.events = applySpeedCmd(m.ctx, m.sequencer, m.selected.Address, m.speed)
		return m, waitForMsg(m.events)
	}
	return m, nil
}

func (m Model) maxCursor() int {
	if len(m.devices) == 0 {
		return 0
	}
	return len(m.devices) - 1
}

func (m Model) View() string {
	var content string

	switch m.view {
	case ViewDevices:
		content = m.viewDevices()
	case ViewSpeed:
		content = m.viewSpeed()
	case ViewApply:
		content = m.viewApply()
	default:
		content = "Unknown view"
	}

	// Help
	helpView := m.styles.Help.Render(m.help.View(m.keys))

	return m.styles.App.Render(
		content + "\n" + helpView,
	)
}

// renderTitleBar renders a consistent title bar with scan status.
func (m Model) renderTitleBar(title string) string {
	var parts []string

	parts = append(parts, m.styles.Title.Render(title))

	switch {
	case m.scanning:
		parts = append(parts, m.spinner.View()+" "+m.styles.Warning.Render(fmt.Sprintf("Scanning (%s)...", m.timeout)))
	case m.applying:
		parts = append(parts, m.styles.StatusOnline.Render("●")+" "+m.styles.Muted.Render(m.selected.Address))
	case m.selected.Address != "":
		parts = append(parts, m.styles.Muted.Render(m.selected.String()))
	default:
		parts = append(parts, m.styles.StatusOffline.Render("○ No device"))
	}

	return strings.Join(parts, "  ")
}

func (m Model) renderStatus(b *strings.Builder) {
	if m.errorMsg != "" {
		b.WriteString(m.styles.Error.Render(m.errorMsg))
		b.WriteString("\n")
	}
	if m.statusMsg != "" {
		b.WriteString(m.styles.Success.Render(m.statusMsg))
		b.WriteString("\n")
	}
}

func (m Model) viewDevices() string {
	var b strings.Builder

	b.WriteString(m.renderTitleBar("Treadmills"))
	b.WriteString("\n")

	if m.errorMsg != "" {
		b.WriteString(m.styles.Error.Render(m.errorMsg))
		b.WriteString("  ")
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf("['%s' to rescan]", m.keys.Rescan.Help().Key)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for i, h := range m.devices {
		if i == m.cursor {
			b.WriteString(m.styles.MenuItemSelected.Render("> " + h.DisplayName()))
		} else {
			b.WriteString(m.styles.MenuItem.Render("  " + h.DisplayName()))
		}
		b.WriteString("\n")
		desc := h.Address
		if h.Adapter != "" {
			desc += " via " + h.Adapter
		}
		b.WriteString(m.styles.MenuItemDim.Render(desc))
		b.WriteString("\n\n")
	}

	return b.String()
}

func (m Model) viewSpeed() string {
	var b strings.Builder

	b.WriteString(m.renderTitleBar("Set speed"))
	b.WriteString("\n\n")

	b.WriteString(m.renderField("Device", m.selected.DisplayName()))
	b.WriteString(m.renderField("Address", m.selected.Address))
	b.WriteString(m.renderField("Speed", m.styles.Highlight.Render(fmt.Sprintf("%d", m.speed))))
	b.WriteString("\n")
	b.WriteString(m.styles.Muted.Render("The treadmill resumes, then receives the fixed speed frame."))
	b.WriteString("\n")
	b.WriteString(m.styles.Muted.Render("Press enter to send."))
	b.WriteString("\n")

	return b.String()
}

func (m Model) viewApply() string {
	var b strings.Builder

	b.WriteString(m.renderTitleBar("Applying"))
	b.WriteString("\n\n")

	if m.progress.IsActive() {
		b.WriteString(m.progress.View())
		b.WriteString("\n\n")
	}
	m.renderStatus(&b)

	return b.String()
}

func (m Model) renderField(label, value string) string {
	return m.styles.Label.Render(label) + m.styles.Value.Render(value) + "\n"
}

func describeEvent(e treadmill.Event) string {
	switch e.Kind {
	case treadmill.EventConnecting:
		return fmt.Sprintf("Connecting to %s...", e.Address)
	case treadmill.EventConnected:
		return "Connected"
	case treadmill.EventStep:
		if e.Step.Kind == treadmill.StepWait {
			return fmt.Sprintf("Waiting for the belt (%s)...", e.Step.Delay)
		}
		return fmt.Sprintf("Writing %s frame", e.Step.Name)
	case treadmill.EventDisconnected:
		return "Disconnected"
	}
	return ""
}

// --- Commands ---

// scanCmd scans with the discoverer's configured strategy. Streaming stops
// at the first treadmill, so the list holds at most one entry.
func scanCmd(ctx context.Context, d *treadmill.Discoverer, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		mode, err := d.Strategy()
		if err != nil {
			return scanResultMsg{err: err}
		}
		if mode != treadmill.ModeStream {
			devices, err := d.ScanAll(ctx, timeout)
			return scanResultMsg{devices: devices, err: err}
		}

		h, err := d.ScanForTreadmill(ctx, timeout)
		switch {
		case errors.Is(err, treadmill.ErrNotFound):
			return scanResultMsg{}
		case err != nil:
			return scanResultMsg{err: err}
		}
		return scanResultMsg{devices: []treadmill.Handle{h}}
	}
}

// applySpeedCmd runs the sequence on its own goroutine and returns the
// channel its progress is delivered on. The channel is closed after the
// final sequenceDoneMsg.
func applySpeedCmd(ctx context.Context, seq *treadmill.Sequencer, address string, speed uint8) <-chan tea.Msg {
	ch := make(chan tea.Msg, 8)
	run := *seq
	run.Observer = func(e treadmill.Event) {
		ch <- sequenceEventMsg{event: e}
	}
	go func() {
		defer close(ch)
		ch <- sequenceDoneMsg{err: run.ApplySpeed(ctx, address, speed)}
	}()
	return ch
}

// waitForMsg delivers the next message from ch.
func waitForMsg(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
