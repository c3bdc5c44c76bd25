package job

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamingSinkPreservesOrderUnderContention(t *testing.T) {
	t.Parallel()

	const total = 2000
	sink := NewStreamingSink(nil)

	go func() {
		for i := 1; i < total; i++ {
			sink.Accept(Event{Type: EventProgress, Seq: i})
		}
		sink.Accept(Event{Type: EventCompleted, Seq: total, Result: &Result{Text: "done"}})
	}()

	var got []Event
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for done := false; !done; {
		select {
		case <-sink.Done():
			done = true
		case <-ticker.C:
		}
		got = append(got, sink.Drain()...)
	}

	require.Len(t, got, total)
	for i, ev := range got {
		require.Equal(t, i+1, ev.Seq)
	}
	require.True(t, got[total-1].Terminal())
	require.Empty(t, sink.Drain())
}

func TestSinksIgnoreEventsAfterTerminal(t *testing.T) {
	t.Parallel()

	streaming := NewStreamingSink(nil)
	collecting := NewCollectingSink(nil)
	for _, s := range []Sink{streaming, collecting} {
		s.Accept(Progress("one"))
		s.Accept(Failed(KindWriteFailed, "disk"))
		s.Accept(Progress("late"))
		s.Accept(Completed(Result{Text: "late"}))
	}

	events := streaming.Drain()
	require.Len(t, events, 2)
	require.Equal(t, EventFailed, events[1].Type)

	require.Len(t, collecting.Events(), 2)
	require.Equal(t, KindWriteFailed, collecting.AwaitTerminal().Kind)
}

func TestCollectingSinkAwaitTerminalBlocks(t *testing.T) {
	t.Parallel()

	sink := NewCollectingSink(nil)
	got := make(chan Event, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		got <- sink.AwaitTerminal()
	}()

	sink.Accept(Progress("transcribing…"))
	select {
	case <-got:
		t.Fatal("AwaitTerminal returned before the terminal event")
	case <-time.After(20 * time.Millisecond):
	}

	sink.Accept(Completed(Result{Text: "olá", Language: "pt"}))
	wg.Wait()
	ev := <-got
	require.Equal(t, EventCompleted, ev.Type)
	require.Equal(t, "olá", ev.Result.Text)
	require.Len(t, sink.Events(), 2)
}

func TestStreamingSinkDrainEmpty(t *testing.T) {
	t.Parallel()

	sink := NewStreamingSink(nil)
	require.Nil(t, sink.Drain())
	select {
	case <-sink.Done():
		t.Fatal("done before any terminal event")
	default:
	}
}
