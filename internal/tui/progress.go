package tui

import (
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"treadctl/internal/treadmill"
)

// ProgressState tracks a running command sequence.
type ProgressState struct {
	progress    progress.Model
	percent     float64
	description string
	isActive    bool
}

// NewProgressState creates a new progress tracking state.
func NewProgressState() ProgressState {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)
	return ProgressState{
		progress: p,
	}
}

// Start begins tracking a new operation.
func (p *ProgressState) Start(description string) {
	p.isActive = true
	p.percent = 0
	p.description = description
}

// Update updates the progress percentage (0.0 to 1.0).
func (p *ProgressState) Update(percent float64, description string) {
	if percent > 1 {
		percent = 1
	}
	p.percent = percent
	if description != "" {
		p.description = description
	}
}

// Complete marks the operation as complete.
func (p *ProgressState) Complete() {
	p.percent = 1.0
	p.isActive = false
}

// Cancel stops the progress without completing.
func (p *ProgressState) Cancel() {
	p.isActive = false
}

// IsActive returns whether an operation is in progress.
func (p *ProgressState) IsActive() bool {
	return p.isActive
}

// View renders the progress bar.
func (p ProgressState) View() string {
	if !p.isActive {
		return ""
	}
	descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	return descStyle.Render(p.description) + "\n" + p.progress.ViewAs(p.percent)
}

// Connecting and disconnecting each take a fixed share of the bar; steps
// share the rest evenly.
const (
	connectShare    = 0.1
	disconnectShare = 0.1
)

// stepPercent is the fraction done when step index of total starts, plus
// frac of that step.
func stepPercent(index, total int, frac float64) float64 {
	if total <= 0 {
		return connectShare
	}
	span := (1 - connectShare - disconnectShare) / float64(total)
	return connectShare + span*(float64(index)+frac)
}

// eventPercent maps a sequencer event to a bar position.
func eventPercent(e treadmill.Event) float64 {
	switch e.Kind {
	case treadmill.EventConnecting:
		return 0
	case treadmill.EventConnected:
		return connectShare
	case treadmill.EventStep:
		return stepPercent(e.Index, e.Total, 0)
	case treadmill.EventDisconnected:
		return 1
	}
	return 0
}
