package crisis

import "strings"

// Detection is a conservative, case-insensitive keyword match. It runs on
// every inbound message before any generation call and must never fail, so
// it is pure string work with no dependencies. Over-triggering is fine;
// missing a real crisis is the failure mode that matters.
var keywords = []string{
	"kill myself",
	"killing myself",
	"want to die",
	"wish i was dead",
	"wish i were dead",
	"end my life",
	"ending my life",
	"end it all",
	"suicide",
	"suicidal",
	"hurt myself",
	"hurting myself",
	"harm myself",
	"self harm",
	"self-harm",
	"no reason to live",
	"better off dead",
	"don't want to be alive",
	"dont want to be alive",
	"don't want to live",
	"dont want to live",
	"take my own life",
}

// Detect reports whether the message matches any crisis keyword.
func Detect(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Keywords returns a copy of the keyword list, for coverage tests.
func Keywords() []string {
	out := make([]string, len(keywords))
	copy(out, keywords)
	return out
}

// Response returns the fixed supportive message sent instead of a generated
// reply. The session stays open; the user can come back when ready.
func Response(name string) string {
	greeting := "I'm really glad you told me this."
	if name != "" {
		greeting = "I'm really glad you told me this, " + name + "."
	}
	return greeting + ` What you're feeling right now matters, and you don't have to carry it alone.

Please reach out to someone who can support you right now:

- 988 Suicide & Crisis Lifeline (US): call or text 988
- Crisis Text Line: text HOME to 741741
- International Association for Suicide Prevention: https://www.iasp.info/resources/Crisis_Centres/

If you are in immediate danger, please call your local emergency number.

I'll be here whenever you want to continue. There's no pressure to keep going today.`
}
