package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSystemPromptIsDeterministic(t *testing.T) {
	pc := Context{
		Name:                "Ana",
		Stage:               "contemplation",
		Pattern:             "avoidance",
		PatternDescription:  "puts off hard conversations",
		DaysInProgram:       12,
		TotalCheckins:       9,
		SessionMessageCount: 4,
		RecentCheckins: []RecentCheckin{
			{Date: "2026-08-30", Insight: "noticed the Sunday dread starts at lunch"},
			{Date: "2026-08-29"},
		},
		DaysSinceLast: 1,
	}
	a := BuildSystemPrompt(pc)
	b := BuildSystemPrompt(pc)
	require.Equal(t, a, b)

	assert.Contains(t, a, "Ana")
	assert.Contains(t, a, "avoidance")
	assert.Contains(t, a, "puts off hard conversations")
	assert.Contains(t, a, "explore ambivalence")
	assert.Contains(t, a, "2026-08-30: noticed the Sunday dread starts at lunch")
	assert.Contains(t, a, "(no insight recorded)")
	assert.Contains(t, a, "Days since last check-in: 1")
}

func TestBuildSystemPromptStageStrategies(t *testing.T) {
	for stage, fragment := range map[string]string{
		"precontemplation": "raise awareness",
		"contemplation":    "explore ambivalence",
		"preparation":      "concrete planning",
		"action":           "reinforce the new behavior",
		"maintenance":      "consolidate what works",
	} {
		out := BuildSystemPrompt(Context{Stage: stage, Pattern: "complex"})
		assert.Contains(t, out, fragment, "stage %s", stage)
	}

	// Unknown stages fall back to the first-stage strategy.
	out := BuildSystemPrompt(Context{Stage: "enlightenment", Pattern: "complex"})
	assert.Contains(t, out, "raise awareness")
}

func TestBuildSystemPromptOmitsDaysSinceLastWhenUnknown(t *testing.T) {
	out := BuildSystemPrompt(Context{Stage: "action", Pattern: "overwork", DaysSinceLast: -1})
	assert.NotContains(t, out, "Days since last check-in")
	assert.Contains(t, out, "(no name given)")
}

func TestClosingInstructions(t *testing.T) {
	first := ClosingInstruction(2, true, "Ana")
	assert.Contains(t, first, "very first check-in")
	assert.Contains(t, first, "Ana")

	seen := map[string]bool{}
	for i := 0; i < ClosingTemplateCount; i++ {
		ins := ClosingInstruction(i, false, "Ana")
		assert.NotContains(t, ins, "?", "template %d must not invite questions", i)
		assert.Contains(t, ins, "no questions")
		seen[ins] = true
	}
	assert.Len(t, seen, ClosingTemplateCount, "templates must be distinct")

	// Out-of-range indexes are clamped, not panicking.
	assert.Equal(t, ClosingInstruction(0, false, ""), ClosingInstruction(99, false, ""))
	assert.Equal(t, ClosingInstruction(0, false, ""), ClosingInstruction(-1, false, ""))
}

func TestFallbackClosing(t *testing.T) {
	assert.Contains(t, FallbackClosing(""), "tomorrow")
	assert.Contains(t, FallbackClosing("Ana"), "Ana")
	assert.NotContains(t, FallbackClosing("Ana"), "?")
}

func TestFollowUpQuestionWraps(t *testing.T) {
	require.Greater(t, FollowUpQuestionCount, 0)
	for i := -2; i < FollowUpQuestionCount*2; i++ {
		q := FollowUpQuestion(i)
		assert.True(t, strings.HasSuffix(q, "?"), "question %q", q)
	}
	assert.Equal(t, FollowUpQuestion(0), FollowUpQuestion(FollowUpQuestionCount))
}

func TestAnalysisPromptsCarryTranscript(t *testing.T) {
	transcript := "Person: rough day\nCompanion: tell me more\n"
	assert.Contains(t, InsightSummaryPrompt(transcript), transcript)

	sp := StageStressPrompt(transcript, "preparation")
	assert.Contains(t, sp, transcript)
	assert.Contains(t, sp, `"preparation"`)
	assert.Contains(t, sp, "STRESS:")
	assert.Contains(t, sp, "STAGE:")
	assert.Contains(t, sp, "REASON:")

	ep := ExtractionPrompt(transcript)
	assert.Contains(t, ep, transcript)
	for _, prefix := range []string{"TRIGGER:", "CHAIN:", "EMOTION:", "EPISODE:", "BREAKTHROUGH:", "ALTERNATIVE:", "PATTERN:"} {
		assert.Contains(t, ep, prefix)
	}
}
