package wake

import (
	"strings"
	"unicode"
)

// Normalize lowercases text, turns every non letter/digit into a space and
// collapses whitespace. "Hey, Eleven-Labs!" becomes "hey eleven labs".
func Normalize(s string) string {
	return strings.Join(words(s), " ")
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// IsEcho reports whether heard is a re-transcription of spoken: equal after
// normalization, or a word-aligned prefix of spoken of at least minEchoWords
// words. A heard line longer than spoken is never an echo, so an answer that
// repeats the question first still counts as user speech.
func IsEcho(heard, spoken string) bool {
	h, s := words(heard), words(spoken)
	if len(h) == 0 || len(h) > len(s) {
		return false
	}
	if len(h) < len(s) && len(h) < minEchoWords {
		return false
	}
	for i := range h {
		if h[i] != s[i] {
			return false
		}
	}
	return true
}

const minEchoWords = 2
