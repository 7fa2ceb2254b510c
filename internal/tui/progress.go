package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/nanoframework/nf-debugger-sub001/internal/deploy"
)

// Progress update messages for the deployment view

// deployProgressMsg reports progress during a deployment.
type deployProgressMsg deploy.Progress

// deployDoneMsg signals the deployment finished.
type deployDoneMsg struct {
	result *deploy.Result
	err    error
}

// DeployModel renders a running deployment.
type DeployModel struct {
	title    string
	progress progress.Model
	spinner  spinner.Model
	styles   Styles

	last   deploy.Progress
	done   bool
	result *deploy.Result
	err    error
}

// NewDeployModel creates a deployment progress view.
func NewDeployModel(title string) DeployModel {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)
	s := spinner.New()
	s.Spinner = spinner.Dot
	return DeployModel{
		title:    title,
		progress: p,
		spinner:  s,
		styles:   DefaultStyles(),
		last:     deploy.Progress{Phase: deploy.PhasePreparing},
	}
}

// Init implements tea.Model.
func (m DeployModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m DeployModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// ctrl+c only exits once the deployment has finished.
		if msg.String() == "ctrl+c" && m.done {
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case deployProgressMsg:
		m.last = deploy.Progress(msg)
		return m, nil

	case deployDoneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		if msg.err == nil {
			m.last.Phase = deploy.PhaseComplete
		}
		return m, tea.Quit
	}
	return m, nil
}

// Result returns the deployment outcome once the view has finished.
func (m DeployModel) Result() (*deploy.Result, error) {
	return m.result, m.err
}

// View implements tea.Model.
func (m DeployModel) View() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render(m.title))
	b.WriteString("\n\n")

	status := m.last.Phase
	if m.last.TotalBlocks > 0 && !m.done {
		status = fmt.Sprintf("%s block %d/%d at 0x%08X", m.last.Phase, m.last.Block, m.last.TotalBlocks, m.last.Address)
	}
	if !m.done {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(m.styles.Muted.Render(status))
	b.WriteString("\n")
	b.WriteString(m.progress.ViewAs(m.last.Fraction()))
	b.WriteString("\n")

	if m.last.TotalBytes > 0 {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf("%s of %s",
			humanize.IBytes(uint64(m.last.BytesWritten)), humanize.IBytes(uint64(m.last.TotalBytes)))))
		b.WriteString("\n")
	}

	switch {
	case m.err != nil:
		b.WriteString(m.styles.Error.Render("deployment failed: " + m.err.Error()))
		b.WriteString("\n")
	case m.result != nil:
		b.WriteString(m.styles.Success.Render(fmt.Sprintf("deployed %s in %d block(s) (%s)",
			humanize.IBytes(uint64(m.result.Bytes)), len(m.result.Blocks), m.result.Elapsed.Round(time.Millisecond))))
		b.WriteString("\n")
	}
	return m.styles.App.Render(b.String())
}
