package audio

import (
	"github.com/gabriel-vasile/mimetype"
)

const (
	FormatWAV     = "wav"
	FormatUnknown = "unknown"
)

var formatsByMIME = []struct {
	mime string
	tag  string
}{
	{mime: "audio/wav", tag: FormatWAV},
	{mime: "audio/mpeg", tag: "mp3"},
	{mime: "audio/flac", tag: "flac"},
	{mime: "audio/ogg", tag: "ogg"},
	{mime: "application/ogg", tag: "ogg"},
	{mime: "audio/x-m4a", tag: "m4a"},
	{mime: "audio/mp4", tag: "m4a"},
	{mime: "video/mp4", tag: "mp4"},
	{mime: "audio/webm", tag: "webm"},
	{mime: "video/webm", tag: "webm"},
	{mime: "audio/aac", tag: "aac"},
}

// DetectFormat returns a short tag for the container of an audio payload,
// used both as the artifact format and as the spool file extension.
func DetectFormat(head []byte) string {
	if len(head) == 0 {
		return FormatUnknown
	}

	detected := mimetype.Detect(head)
	for _, f := range formatsByMIME {
		if detected.Is(f.mime) {
			return f.tag
		}
	}
	return FormatUnknown
}
