package insights

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"innerpath/internal/llm"
	"innerpath/internal/models"
	"innerpath/internal/prompts"
	"innerpath/internal/store"
)

// Service runs everything that happens to a session after it closes: the
// insight summary, the stage/stress analysis, and the structured extraction.
// All of it is best-effort; failures are logged, never surfaced to the user,
// and never touch the session's completed state.
type Service struct {
	store     store.Store
	gen       llm.Generator
	log       *zap.Logger
	timeout   time.Duration
	maxTokens int
}

func NewService(st store.Store, gen llm.Generator, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:     st,
		gen:       gen,
		log:       log,
		timeout:   2 * time.Minute,
		maxTokens: 1024,
	}
}

// Run executes the full post-close pipeline for one session. It satisfies
// conversation.PostCloser and is launched in the background, so it builds
// its own context.
func (s *Service) Run(sessionID int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.SummarizeSession(ctx, sessionID); err != nil {
		s.log.Warn("insight summary failed", zap.Int("session_id", sessionID), zap.Error(err))
	}
	if err := s.AnalyzeStageStress(ctx, sessionID); err != nil {
		s.log.Warn("stage/stress analysis failed", zap.Int("session_id", sessionID), zap.Error(err))
	}
	if _, err := s.ExtractFromCheckin(ctx, sessionID); err != nil {
		s.log.Warn("insight extraction failed", zap.Int("session_id", sessionID), zap.Error(err))
	}
}

// SummarizeSession generates and persists the one-line session insight.
func (s *Service) SummarizeSession(ctx context.Context, sessionID int) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Completed {
		return fmt.Errorf("session %d not completed", sessionID)
	}
	transcript, err := s.renderTranscript(ctx, sessionID)
	if err != nil {
		return err
	}
	out, err := s.gen.Generate(ctx, "",
		[]llm.Message{{Role: models.RoleUser, Content: prompts.InsightSummaryPrompt(transcript)}}, 256)
	if err != nil {
		return err
	}
	insight := StripMarkdown(out)
	if insight == "" {
		return fmt.Errorf("empty insight for session %d", sessionID)
	}
	return s.store.SetSessionInsight(ctx, sessionID, insight)
}

// renderTranscript reads the ordered messages back into the plain-text form
// the analysis prompts consume.
func (s *Service) renderTranscript(ctx context.Context, sessionID int) (string, error) {
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("session %d has no messages", sessionID)
	}
	var b strings.Builder
	for _, m := range msgs {
		speaker := "Person"
		if m.Role == models.RoleAssistant {
			speaker = "Companion"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
	}
	return b.String(), nil
}

var (
	boldRe   = regexp.MustCompile(`\*\*([^*]*)\*\*|__([^_]*)__`)
	headerRe = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
	bulletRe = regexp.MustCompile(`(?m)^\s*[-*•]\s+`)
)

// StripMarkdown removes the generator's markdown artifacts (bold markers,
// headers, bullets, backticks) from free text before it is persisted.
func StripMarkdown(s string) string {
	s = boldRe.ReplaceAllString(s, "$1$2")
	s = headerRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "`", "")
	s = strings.ReplaceAll(s, "*", "")
	return strings.TrimSpace(s)
}
