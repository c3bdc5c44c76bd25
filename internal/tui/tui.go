// Package tui is the interactive recording front-end. It starts microphone
// jobs and renders their lifecycle events by polling the job's sink.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fmueller/voxserve/internal/job"
)

const pollInterval = 100 * time.Millisecond

// StartFunc starts one capture job of the given duration and returns the
// sink its events arrive on.
type StartFunc func(duration time.Duration) (job.Job, *job.StreamingSink)

type Options struct {
	MinDuration     time.Duration
	MaxDuration     time.Duration
	DefaultDuration time.Duration
	// Device describes the configured microphone in the header.
	Device   string
	Language string
	// Expected prefills the phrase each transcript is checked against.
	Expected string
	Start    StartFunc
	// OnTranscript runs off the event loop for every non-blank transcript.
	OnTranscript func(text string) error
}

type Model struct {
	opts Options

	input    textinput.Model
	phrase   textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	lines   []string
	sink    *job.StreamingSink
	jobID   string
	running bool

	lastTranscript string
	lastVerdict    job.Verdict
}

type tickMsg time.Time

type transcriptHandledMsg struct{ err error }

func New(opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = strconv.Itoa(int(opts.DefaultDuration / time.Second))
	ti.SetValue(ti.Placeholder)
	ti.CharLimit = 3
	ti.Width = 4
	ti.Prompt = ""
	ti.Focus()

	ph := textinput.New()
	ph.Placeholder = "optional"
	ph.SetValue(opts.Expected)
	ph.CharLimit = 200
	ph.Width = 40
	ph.Prompt = ""

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle

	m := Model{
		opts:     opts,
		input:    ti,
		phrase:   ph,
		viewport: viewport.New(80, 16),
		spinner:  sp,
	}
	m.appendLine(helpStyle.Render(fmt.Sprintf(
		"Enter a duration between %d and %d seconds and press Enter to record. Tab edits the expected phrase. Ctrl+C quits.",
		int(opts.MinDuration/time.Second), int(opts.MaxDuration/time.Second))))
	return m
}

// Run blocks until the user quits. Jobs still running at that point keep
// running; the caller decides whether to wait for them.
func Run(ctx context.Context, opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m.start()
		case "tab", "shift+tab":
			if !m.running {
				m.toggleFocus()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-7, 3)
		m.viewport.SetContent(strings.Join(m.lines, "\n"))

	case tickMsg:
		return m.poll()

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case transcriptHandledMsg:
		if msg.err != nil {
			m.appendLine(progressStyle.Render("could not copy transcript: " + msg.err.Error()))
		} else {
			m.appendLine(progressStyle.Render("transcript copied to clipboard"))
		}
		return m, nil
	}

	if !m.running {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
		m.phrase, cmd = m.phrase.Update(msg)
		cmds = append(cmds, cmd)
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) start() (tea.Model, tea.Cmd) {
	if m.running {
		return m, nil
	}

	duration, err := m.duration()
	if err != nil {
		m.appendLine(errorStyle.Render(err.Error()))
		return m, nil
	}
	if m.opts.Start == nil {
		m.appendLine(errorStyle.Render("recording is not available"))
		return m, nil
	}

	started, sink := m.opts.Start(duration)
	m.sink = sink
	m.jobID = started.ID
	m.running = true
	m.lastVerdict = job.VerdictNone
	m.input.Blur()
	m.phrase.Blur()

	// Each recording gets a fresh log.
	m.lines = nil
	m.appendLine(statusStyle.Render(fmt.Sprintf("job %s · %d seconds", started.ID, int(duration/time.Second))))

	return m, tea.Batch(pollCmd(), m.spinner.Tick)
}

func (m Model) duration() (time.Duration, error) {
	raw := strings.TrimSpace(m.input.Value())
	if raw == "" {
		raw = m.input.Placeholder
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("duration must be a whole number of seconds, got %q", raw)
	}

	d := time.Duration(seconds) * time.Second
	if d < m.opts.MinDuration || d > m.opts.MaxDuration {
		return 0, fmt.Errorf("duration must be between %d and %d seconds",
			int(m.opts.MinDuration/time.Second), int(m.opts.MaxDuration/time.Second))
	}
	return d, nil
}

// poll drains the sink. The trigger is re-enabled only by a terminal event.
func (m Model) poll() (tea.Model, tea.Cmd) {
	if m.sink == nil {
		return m, nil
	}

	var cmd tea.Cmd
	for _, ev := range m.sink.Drain() {
		switch ev.Type {
		case job.EventProgress:
			m.appendLine(progressStyle.Render("• " + ev.Message))
		case job.EventCompleted:
			m.lastTranscript = ev.Result.Text
			m.appendLine(transcriptStyle.Render(ev.Result.Text))
			m.lastVerdict = job.CompareExpected(ev.Result.Text, m.phrase.Value())
			switch m.lastVerdict {
			case job.VerdictCorrect:
				m.appendLine(correctStyle.Render("✔ matches the expected phrase"))
			case job.VerdictIncorrect:
				m.appendLine(incorrectStyle.Render("✘ does not match the expected phrase"))
			}
			if m.opts.OnTranscript != nil && !job.IsBlank(ev.Result.Text) {
				cmd = handleTranscript(m.opts.OnTranscript, ev.Result.Text)
			}
		case job.EventFailed:
			m.appendLine(errorStyle.Render(fmt.Sprintf("%s: %s", ev.Kind, ev.Detail)))
		}

		if ev.Terminal() {
			m.running = false
			m.sink = nil
			m.input.Focus()
			return m, cmd
		}
	}
	return m, pollCmd()
}

func (m *Model) toggleFocus() {
	if m.input.Focused() {
		m.input.Blur()
		m.phrase.Focus()
		return
	}
	m.phrase.Blur()
	m.input.Focus()
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("voxserve"))
	b.WriteString(helpStyle.Render(fmt.Sprintf("  microphone %s · language %s", m.opts.Device, m.opts.Language)))
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n\n")

	if m.running {
		b.WriteString(m.spinner.View())
		b.WriteString(statusStyle.Render(" job " + m.jobID + " running"))
	} else {
		b.WriteString("duration (s): ")
		b.WriteString(m.input.View())
		b.WriteString("  expected phrase: ")
		b.WriteString(m.phrase.View())
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter: record · tab: switch field · ↑/↓: scroll · ctrl+c: quit"))
	return b.String()
}

// Running reports whether a job is in flight, which disables the trigger.
func (m Model) Running() bool {
	return m.running
}

func (m Model) Lines() []string {
	return append([]string(nil), m.lines...)
}

func (m Model) LastTranscript() string {
	return m.lastTranscript
}

// LastVerdict is the expected-phrase check of the last transcript.
func (m Model) LastVerdict() job.Verdict {
	return m.lastVerdict
}

func pollCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func handleTranscript(fn func(string) error, text string) tea.Cmd {
	return func() tea.Msg {
		return transcriptHandledMsg{err: fn(text)}
	}
}
