package tui

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"treadctl/internal/treadmill"
)

// Run starts the TUI application.
func Run(d *treadmill.Discoverer, seq *treadmill.Sequencer, timeout time.Duration) error {
	m := NewModel(d, seq, timeout)
	defer m.cancel()
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		return err
	}

	return nil
}
