package conversation

import (
	"strings"
	"unicode"
)

// closingPhrases mark a reply as closing-style. Matching is case-insensitive
// at sentence granularity; like the crisis detector, this is pure string
// work that must never fail.
var closingPhrases = []string{
	"see you tomorrow",
	"until tomorrow",
	"until next time",
	"take care",
	"talk tomorrow",
	"good night",
	"goodnight",
	"rest well",
	"sleep well",
	"have a good evening",
	"have a great evening",
	"wishing you a restful",
	"signing off",
}

// closingCues are the goodbye markers a forced closing must contain.
var closingCues = []string{"tomorrow", "take care"}

func containsClosingPhrase(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range closingPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func containsClosingCue(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range closingCues {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// splitSentences breaks text into sentences, keeping each terminator with
// its sentence. Newlines end a sentence too, so list-style generator output
// splits cleanly.
func splitSentences(s string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		sent := strings.TrimSpace(b.String())
		if sent != "" {
			out = append(out, sent)
		}
		b.Reset()
	}
	for _, r := range s {
		if r == '\n' {
			flush()
			continue
		}
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			flush()
		}
	}
	flush()
	return out
}

// joinSentences re-joins stripped sentences with single spaces so the result
// reads cleanly, never leaving dangling fragments.
func joinSentences(sents []string) string {
	return strings.Join(sents, " ")
}

// stripClosingSentences removes every sentence containing a closing phrase.
func stripClosingSentences(s string) string {
	sents := splitSentences(s)
	kept := sents[:0]
	for _, sent := range sents {
		if !containsClosingPhrase(sent) {
			kept = append(kept, sent)
		}
	}
	return joinSentences(kept)
}

// stripQuestionSentences removes every sentence containing a question mark.
func stripQuestionSentences(s string) string {
	sents := splitSentences(s)
	kept := sents[:0]
	for _, sent := range sents {
		if !strings.Contains(sent, "?") {
			kept = append(kept, sent)
		}
	}
	return joinSentences(kept)
}

// meaningfulLength counts non-space runes, used to judge whether a stripped
// closing still says anything.
func meaningfulLength(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
