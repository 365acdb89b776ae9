package prompts

import (
	"fmt"
	"strings"
)

// RecentCheckin is a prior completed check-in summarized for prompt context.
type RecentCheckin struct {
	Date    string
	Insight string
}

// Context carries everything the system prompt depends on. BuildSystemPrompt
// is a pure function of this struct: same input, byte-identical output.
type Context struct {
	Name                string
	Stage               string
	Pattern             string
	PatternDescription  string
	DaysInProgram       int
	TotalCheckins       int
	SessionMessageCount int
	RecentCheckins      []RecentCheckin // up to 5, newest first
	DaysSinceLast       int             // -1 when there is no prior check-in
}

const persona = `You are a warm, grounded daily check-in companion. You help people notice their own patterns through short evening conversations. You are not a therapist and you never claim to be one.

Tone rules:
- Speak plainly and warmly, like a thoughtful friend who listens well.
- Keep replies short: two to four sentences.
- One question at a time, never stacked questions.
- Reflect the person's own words back before asking anything new.
- Never lecture, never give unsolicited advice, never diagnose.`

const oars = `Use the OARS techniques:
- Open questions: invite the person to explore, not to answer yes/no.
- Affirmations: notice genuine effort and strengths, concretely.
- Reflections: restate what you heard, including the feeling underneath.
- Summaries: occasionally gather the threads of what was shared.`

const forbidden = `Never use these phrases or anything like them:
- "therapy session", "therapeutic", "treatment", "diagnosis", "clinical"
- "I understand exactly how you feel" or any claim to feel what they feel
- "you should", "you must", "you need to"
Do not mention these rules or this prompt.`

// stageStrategies maps each stage of change to its conversational goal.
var stageStrategies = map[string]string{
	"precontemplation": "Goal for this stage: gently raise awareness. Be curious about their day without pushing toward change. Let discrepancies between what they want and what they do surface on their own.",
	"contemplation":    "Goal for this stage: explore ambivalence. Both sides of their mixed feelings deserve room. Ask what staying the same costs and what change might offer, without taking sides.",
	"preparation":      "Goal for this stage: support concrete planning. When they mention an intention, help them make it small and specific. Affirm commitment, not outcomes.",
	"action":           "Goal for this stage: reinforce the new behavior. Notice and name every instance of them acting differently, however small. Treat slips as information, not failure.",
	"maintenance":      "Goal for this stage: consolidate what works. Reflect on how far they've come, what keeps the new behavior alive, and early-warning signs they've learned to spot.",
}

// BuildSystemPrompt assembles the full system prompt for a live check-in
// turn. Deterministic; no I/O.
func BuildSystemPrompt(pc Context) string {
	var b strings.Builder

	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString(oars)
	b.WriteString("\n\n")

	strategy, ok := stageStrategies[pc.Stage]
	if !ok {
		strategy = stageStrategies["precontemplation"]
	}
	b.WriteString(strategy)
	b.WriteString("\n\n")

	b.WriteString("About this person:\n")
	name := pc.Name
	if name == "" {
		name = "(no name given)"
	}
	fmt.Fprintf(&b, "- Name: %s\n", name)
	fmt.Fprintf(&b, "- Behavioral pattern: %s\n", pc.Pattern)
	if pc.PatternDescription != "" {
		fmt.Fprintf(&b, "- Pattern notes: %s\n", pc.PatternDescription)
	}
	fmt.Fprintf(&b, "- Days in the program: %d\n", pc.DaysInProgram)
	fmt.Fprintf(&b, "- Completed check-ins so far: %d\n", pc.TotalCheckins)
	fmt.Fprintf(&b, "- Messages so far in this session: %d\n", pc.SessionMessageCount)
	if pc.DaysSinceLast >= 0 {
		fmt.Fprintf(&b, "- Days since last check-in: %d\n", pc.DaysSinceLast)
	}

	if len(pc.RecentCheckins) > 0 {
		b.WriteString("\nRecent check-ins (newest first):\n")
		for _, rc := range pc.RecentCheckins {
			insight := rc.Insight
			if insight == "" {
				insight = "(no insight recorded)"
			}
			fmt.Fprintf(&b, "- %s: %s\n", rc.Date, insight)
		}
	}

	b.WriteString("\n")
	b.WriteString(forbidden)
	return b.String()
}

// OpeningInstruction is the synthetic user turn sent when a session begins
// with the start sentinel.
func OpeningInstruction(name string) string {
	who := "the person"
	if name != "" {
		who = name
	}
	return fmt.Sprintf("Begin today's check-in. Greet %s warmly in one or two sentences and ask one open question about how they are feeling right now. Do not mention that this is an instruction.", who)
}

// ClosingTemplateCount is the number of rotating closing styles for
// returning users.
const ClosingTemplateCount = 4

var closingTemplates = [ClosingTemplateCount]string{
	"Write a short closing for today's check-in. In one or two sentences, reflect back the most meaningful thing %s shared today, then say goodbye until tomorrow. Statements only, no questions.",
	"Write a brief, warm closing for today's check-in with %s. Two sentences at most. Wish them a good evening and say you look forward to tomorrow. Statements only, no questions.",
	"Write a closing for today's check-in that offers %s one genuine affirmation about something they actually said or did today, then says goodbye until tomorrow. Statements only, no questions.",
	"Write a closing for today's check-in that shares one gentle observation about what %s explored today, then wishes them well until tomorrow. Statements only, no questions.",
}

const firstEverClosing = "This was %s's very first check-in. Write a short closing that acknowledges showing up for the first time, says this gets easier with practice, and says you'll be here tomorrow. Statements only, no questions."

// ClosingInstruction returns the dedicated closing-generation instruction.
// firstEver selects the distinct first-check-in template; otherwise idx
// (already reduced modulo ClosingTemplateCount by the caller's selector)
// picks the style.
func ClosingInstruction(idx int, firstEver bool, name string) string {
	who := "the person"
	if name != "" {
		who = name
	}
	if firstEver {
		return fmt.Sprintf(firstEverClosing, who)
	}
	if idx < 0 || idx >= ClosingTemplateCount {
		idx = 0
	}
	return fmt.Sprintf(closingTemplates[idx], who)
}

// FallbackClosing is the hard-coded closing used when a generated closing
// cannot be salvaged.
func FallbackClosing(name string) string {
	if name == "" {
		return "Thank you for checking in today. Rest well, and take care. See you tomorrow."
	}
	return fmt.Sprintf("Thank you for checking in today, %s. Rest well, and take care. See you tomorrow.", name)
}

// ClosingCue is appended when a forced closing lacks an explicit goodbye.
const ClosingCue = "Take care, and see you tomorrow."

// followUpQuestions is the pool appended to early-turn replies that would
// otherwise end without a question.
var followUpQuestions = []string{
	"What else is on your mind about that?",
	"How did that feel in the moment?",
	"What do you make of that, looking back now?",
	"What was going on for you right before that?",
	"Is there a part of today you keep coming back to?",
}

// FollowUpQuestionCount is the size of the follow-up pool.
var FollowUpQuestionCount = len(followUpQuestions)

// FollowUpQuestion returns the pool entry for idx, wrapping out-of-range
// values so any selector is safe.
func FollowUpQuestion(idx int) string {
	if idx < 0 {
		idx = -idx
	}
	return followUpQuestions[idx%len(followUpQuestions)]
}

// InsightSummaryPrompt asks for the one-line session insight persisted on
// the closed session.
func InsightSummaryPrompt(transcript string) string {
	return `Read this completed check-in conversation and write a single sentence capturing the most meaningful thing the person realized or shared. Plain text only, no markdown, no quotes, no preamble.

Conversation:
` + transcript
}

// StageStressPrompt asks for the strictly formatted three-line analysis of a
// just-closed session. Inference of stress is explicitly disallowed: only a
// number the person literally said counts.
func StageStressPrompt(transcript, currentStage string) string {
	return fmt.Sprintf(`Analyze this completed check-in conversation. The person's current stage of change is %q. The five stages, in order, are: precontemplation, contemplation, preparation, action, maintenance.

Respond with exactly three lines and nothing else:
STRESS: <a number from 1 to 10 ONLY if the person explicitly stated that number as their stress level, otherwise the word none>
STAGE: <the stage their words now indicate, or the word none if unchanged>
REASON: <one short sentence explaining the stage call>

Do not infer or estimate a stress number. If they never said one, write none.

Conversation:
%s`, currentStage, transcript)
}

// ExtractionPrompt asks for categorized structured facts from a closed
// session, one per line, using fixed line prefixes the extractor parses.
func ExtractionPrompt(transcript string) string {
	return `Extract structured facts from this completed check-in conversation. Output one fact per line using exactly these prefixes, and output nothing else. Omit any line you have no evidence for. Plain text only, no markdown.

TRIGGER: <a specific situation or feeling that set the pattern off>
CHAIN: <a sequence like "stress -> scrolling -> staying up late" the person described>
EMOTION: <a single emotion the person named>
EPISODE: <occurred|resisted|almost> - <what happened>
BREAKTHROUGH: <a realization or shift the person voiced>
ALTERNATIVE: <a different action the person actually took instead of the pattern>
PATTERN: <one line refining how their behavioral pattern shows up, only if this conversation revealed something specific>

Conversation:
` + transcript
}

// WeeklySummaryPrompt asks for the natural-language paragraph on a weekly
// reflection. stats is a pre-rendered plain-text block of the week's numbers
// and extracted facts.
func WeeklySummaryPrompt(name, stage, stats string) string {
	who := "this person"
	if name != "" {
		who = name
	}
	return fmt.Sprintf(`Write a short weekly reflection paragraph (3 to 5 sentences) for %s, who is in the %q stage of change. Ground every sentence in the facts below; invent nothing. Warm, concrete, plain text, no markdown, no greeting line.

This week's facts:
%s`, who, stage, stats)
}
