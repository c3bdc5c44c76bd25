package job

import (
	"strings"
)

type Verdict string

const (
	VerdictNone      Verdict = ""
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
)

// phrasePunctuation is stripped before phrases are compared. Accented
// letters are kept.
const phrasePunctuation = ".,/#!$%^&*;:{}=-_`~()?"

// NormalizePhrase lowercases text, drops punctuation and collapses runs of
// whitespace.
func NormalizePhrase(text string) string {
	stripped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(phrasePunctuation, r) {
			return -1
		}
		return r
	}, strings.ToLower(text))
	return strings.Join(strings.Fields(stripped), " ")
}

// CompareExpected checks a transcript against the phrase the speaker was
// asked to say. A blank expected phrase yields VerdictNone.
func CompareExpected(transcript, expected string) Verdict {
	if strings.TrimSpace(expected) == "" {
		return VerdictNone
	}
	if NormalizePhrase(transcript) == NormalizePhrase(expected) {
		return VerdictCorrect
	}
	return VerdictIncorrect
}
