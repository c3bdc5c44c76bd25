package job

import (
	"sync"

	"go.uber.org/zap"
)

// Sink receives the lifecycle events of one job in emission order.
type Sink interface {
	Accept(Event)
}

// eventLog is the ordered, terminal-capped buffer shared by both sinks.
type eventLog struct {
	logger *zap.Logger

	mu       sync.Mutex
	events   []Event
	terminal *Event
	done     chan struct{}
}

func newEventLog(logger *zap.Logger) *eventLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &eventLog{logger: logger, done: make(chan struct{})}
}

func (l *eventLog) accept(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.terminal != nil {
		l.logger.Warn("dropping event after terminal",
			zap.String("job", ev.JobID),
			zap.String("type", string(ev.Type)),
			zap.Int("seq", ev.Seq))
		return
	}
	l.events = append(l.events, ev)
	if ev.Terminal() {
		term := ev
		l.terminal = &term
		close(l.done)
	}
}

// CollectingSink buffers events for a caller that only wants the outcome.
type CollectingSink struct {
	log *eventLog
}

func NewCollectingSink(logger *zap.Logger) *CollectingSink {
	return &CollectingSink{log: newEventLog(logger)}
}

func (s *CollectingSink) Accept(ev Event) {
	s.log.accept(ev)
}

// AwaitTerminal blocks until the completed or failed event arrives.
func (s *CollectingSink) AwaitTerminal() Event {
	<-s.log.done

	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	return *s.log.terminal
}

func (s *CollectingSink) Done() <-chan struct{} {
	return s.log.done
}

func (s *CollectingSink) Events() []Event {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	return append([]Event(nil), s.log.events...)
}

// StreamingSink queues events for a consumer polling on its own schedule.
type StreamingSink struct {
	log *eventLog
}

func NewStreamingSink(logger *zap.Logger) *StreamingSink {
	return &StreamingSink{log: newEventLog(logger)}
}

func (s *StreamingSink) Accept(ev Event) {
	s.log.accept(ev)
}

// Drain returns the events accepted since the previous call. It never
// blocks on the producer.
func (s *StreamingSink) Drain() []Event {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()

	if len(s.log.events) == 0 {
		return nil
	}
	pending := s.log.events
	s.log.events = nil
	return pending
}

// Done is closed once the terminal event has been accepted. Events may still
// be pending in the queue.
func (s *StreamingSink) Done() <-chan struct{} {
	return s.log.done
}
