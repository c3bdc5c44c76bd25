package tui

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fmueller/voxserve/internal/capture/capturetest"
	"github.com/fmueller/voxserve/internal/job"
	"github.com/fmueller/voxserve/internal/source"
	"github.com/fmueller/voxserve/internal/store"
	"github.com/stretchr/testify/require"
)

func optionsForTest(start StartFunc) Options {
	return Options{
		MinDuration:     time.Second,
		MaxDuration:     60 * time.Second,
		DefaultDuration: 5 * time.Second,
		Device:          "-1",
		Language:        "pt",
		Start:           start,
	}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()

	next, _ := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model
}

func enter() tea.Msg {
	return tea.KeyMsg{Type: tea.KeyEnter}
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()

	m.input.SetValue("")
	for _, r := range text {
		m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	require.Equal(t, text, m.input.Value())
	return m
}

// pollUntilIdle feeds poll ticks until the model re-enables its trigger.
func pollUntilIdle(t *testing.T, m Model) Model {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for m.Running() {
		require.True(t, time.Now().Before(deadline), "job did not reach a terminal event")
		m = update(t, m, tickMsg(time.Now()))
		time.Sleep(5 * time.Millisecond)
	}
	return m
}

func joined(m Model) string {
	return strings.Join(m.Lines(), "\n")
}

func TestModelRendersEventsAndReenablesTrigger(t *testing.T) {
	t.Parallel()

	var durations []time.Duration
	sink := job.NewStreamingSink(nil)
	m := New(optionsForTest(func(d time.Duration) (job.Job, *job.StreamingSink) {
		durations = append(durations, d)
		return job.Job{ID: "job-1"}, sink
	}))

	m = update(t, m, enter())
	require.True(t, m.Running())
	require.Equal(t, []time.Duration{5 * time.Second}, durations)

	m = update(t, m, enter())
	require.Len(t, durations, 1, "trigger must be disabled while a job runs")

	sink.Accept(job.Event{Type: job.EventProgress, Message: "recording 5 seconds…"})
	m = update(t, m, tickMsg(time.Now()))
	require.True(t, m.Running())
	require.Contains(t, joined(m), "recording 5 seconds…")

	sink.Accept(job.Event{Type: job.EventProgress, Message: "transcribing…"})
	sink.Accept(job.Completed(job.Result{Text: "bom dia", Language: "pt"}))
	m = update(t, m, tickMsg(time.Now()))
	require.False(t, m.Running())
	require.Equal(t, "bom dia", m.LastTranscript())
	require.Contains(t, joined(m), "transcribing…")
	require.Contains(t, joined(m), "bom dia")

	m = update(t, m, enter())
	require.Len(t, durations, 2)
}

func TestModelRejectsDurationOutsideBounds(t *testing.T) {
	t.Parallel()

	starts := 0
	m := New(optionsForTest(func(time.Duration) (job.Job, *job.StreamingSink) {
		starts++
		return job.Job{}, job.NewStreamingSink(nil)
	}))

	for _, value := range []string{"0", "61", "abc"} {
		m = typeText(t, m, value)
		m = update(t, m, enter())
		require.False(t, m.Running(), value)
	}
	require.Zero(t, starts)
	require.Contains(t, joined(m), "between 1 and 60 seconds")

	m = typeText(t, m, "12")
	m = update(t, m, enter())
	require.True(t, m.Running())
	require.Equal(t, 1, starts)
}

func TestModelDeviceUnavailable(t *testing.T) {
	t.Parallel()

	st := store.NewMemStore()
	controller := job.NewController(st, nil, job.Options{})
	rec := capturetest.New()

	var mu sync.Mutex
	starts := 0
	m := New(optionsForTest(func(d time.Duration) (job.Job, *job.StreamingSink) {
		mu.Lock()
		starts++
		mu.Unlock()
		sink := job.NewStreamingSink(nil)
		j := controller.Start(context.Background(), job.Request{
			Language: "pt",
			Source:   source.NewMicrophone(rec, 7, d, nil),
		}, sink)
		return j, sink
	}))

	m = update(t, m, enter())
	m = pollUntilIdle(t, m)

	lines := m.Lines()
	var progress, failures int
	for _, line := range lines {
		if strings.Contains(line, "recording 5 seconds…") {
			progress++
		}
		if strings.Contains(line, string(job.KindDeviceUnavailable)) {
			failures++
		}
	}
	require.Equal(t, 1, progress)
	require.Equal(t, 1, failures)
	require.Empty(t, m.LastTranscript())

	controller.Wait()
	require.Empty(t, st.Live())

	m = update(t, m, enter())
	require.True(t, m.Running())
	mu.Lock()
	require.Equal(t, 2, starts)
	mu.Unlock()
	pollUntilIdle(t, m)
	controller.Wait()
}

func TestModelHandsTranscriptToCallback(t *testing.T) {
	t.Parallel()

	var copied []string
	opts := optionsForTest(nil)
	sink := job.NewStreamingSink(nil)
	opts.Start = func(time.Duration) (job.Job, *job.StreamingSink) { return job.Job{ID: "j"}, sink }
	opts.OnTranscript = func(text string) error {
		copied = append(copied, text)
		return errors.New("no clipboard tool")
	}
	m := New(opts)

	m = update(t, m, enter())
	sink.Accept(job.Completed(job.Result{Text: "olá"}))

	next, cmd := m.Update(tickMsg(time.Now()))
	m = next.(Model)
	require.NotNil(t, cmd)
	m = update(t, m, cmd())

	require.Equal(t, []string{"olá"}, copied)
	require.Contains(t, joined(m), "could not copy transcript: no clipboard tool")
}

func TestModelSkipsCallbackForBlankTranscript(t *testing.T) {
	t.Parallel()

	called := false
	opts := optionsForTest(nil)
	sink := job.NewStreamingSink(nil)
	opts.Start = func(time.Duration) (job.Job, *job.StreamingSink) { return job.Job{ID: "j"}, sink }
	opts.OnTranscript = func(string) error {
		called = true
		return nil
	}
	m := New(opts)

	m = update(t, m, enter())
	sink.Accept(job.Completed(job.Result{Text: job.NoSpeechText}))
	_, cmd := m.Update(tickMsg(time.Now()))
	require.Nil(t, cmd)
	require.False(t, called)
}

func TestModelQuitKeys(t *testing.T) {
	t.Parallel()

	m := New(optionsForTest(nil))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	require.True(t, ok)
}

func TestViewShowsStateAndSettings(t *testing.T) {
	t.Parallel()

	m := New(optionsForTest(func(time.Duration) (job.Job, *job.StreamingSink) {
		return job.Job{ID: "abc"}, job.NewStreamingSink(nil)
	}))
	require.Contains(t, m.View(), "duration (s):")
	require.Contains(t, m.View(), "language pt")

	m = update(t, m, enter())
	require.Contains(t, m.View(), "job abc running")
}

func TestModelStartsEachRecordingWithFreshLines(t *testing.T) {
	t.Parallel()

	var sink *job.StreamingSink
	ids := 0
	m := New(optionsForTest(func(time.Duration) (job.Job, *job.StreamingSink) {
		ids++
		sink = job.NewStreamingSink(nil)
		return job.Job{ID: "job-" + strconv.Itoa(ids)}, sink
	}))

	m = update(t, m, enter())
	sink.Accept(job.Completed(job.Result{Text: "primeira"}))
	m = update(t, m, tickMsg(time.Now()))
	require.Contains(t, joined(m), "primeira")

	m = update(t, m, enter())
	require.NotContains(t, joined(m), "primeira")
	require.Contains(t, joined(m), "job-2")

	sink.Accept(job.Completed(job.Result{Text: "segunda"}))
	m = update(t, m, tickMsg(time.Now()))
	require.Contains(t, joined(m), "segunda")
	require.NotContains(t, joined(m), "job-1")
}

func TestModelChecksExpectedPhrase(t *testing.T) {
	t.Parallel()

	var sink *job.StreamingSink
	opts := optionsForTest(func(time.Duration) (job.Job, *job.StreamingSink) {
		sink = job.NewStreamingSink(nil)
		return job.Job{ID: "j"}, sink
	})
	opts.Expected = "Bom dia!"
	m := New(opts)

	m = update(t, m, enter())
	sink.Accept(job.Completed(job.Result{Text: " bom dia. "}))
	m = update(t, m, tickMsg(time.Now()))
	require.Equal(t, job.VerdictCorrect, m.LastVerdict())
	require.Contains(t, joined(m), "matches the expected phrase")

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m.phrase.SetValue("")
	for _, r := range "boa noite" {
		m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	require.Equal(t, "boa noite", m.phrase.Value())
	require.Equal(t, "5", m.input.Value())

	m = update(t, m, enter())
	require.Equal(t, job.VerdictNone, m.LastVerdict())
	sink.Accept(job.Completed(job.Result{Text: "bom dia"}))
	m = update(t, m, tickMsg(time.Now()))
	require.Equal(t, job.VerdictIncorrect, m.LastVerdict())
	require.Contains(t, joined(m), "does not match the expected phrase")
}

func TestModelWithoutExpectedPhraseHasNoVerdict(t *testing.T) {
	t.Parallel()

	sink := job.NewStreamingSink(nil)
	m := New(optionsForTest(func(time.Duration) (job.Job, *job.StreamingSink) { return job.Job{ID: "j"}, sink }))

	m = update(t, m, enter())
	sink.Accept(job.Completed(job.Result{Text: "bom dia"}))
	m = update(t, m, tickMsg(time.Now()))
	require.Equal(t, job.VerdictNone, m.LastVerdict())
	require.NotContains(t, joined(m), "expected phrase")
}
