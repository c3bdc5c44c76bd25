package job

import (
	"strings"
	"time"

	"github.com/fmueller/voxserve/internal/engine"
)

// NoSpeechText replaces transcripts that carry no words.
const NoSpeechText = "(no speech detected)"

const blankAudioToken = "[BLANK_AUDIO]"

type Result = engine.Result

type EventType string

const (
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

type Event struct {
	Type    EventType `json:"type"`
	JobID   string    `json:"job_id"`
	Seq     int       `json:"seq"`
	Time    time.Time `json:"time"`
	Message string    `json:"message,omitempty"`
	Result  *Result   `json:"result,omitempty"`
	Kind    Kind      `json:"kind,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}

func Progress(message string) Event {
	return Event{Type: EventProgress, Message: message}
}

func Completed(result Result) Event {
	return Event{Type: EventCompleted, Result: &result}
}

func Failed(kind Kind, detail string) Event {
	return Event{Type: EventFailed, Kind: kind, Detail: detail}
}

// IsBlank reports whether a transcript holds no speech.
func IsBlank(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed == "" || strings.EqualFold(trimmed, blankAudioToken) || trimmed == NoSpeechText
}

func normalizeText(text string) string {
	if IsBlank(text) {
		return NoSpeechText
	}
	return text
}
