package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"innerpath/internal/llm"
	"innerpath/internal/models"
	"innerpath/internal/prompts"
)

// ErrNotCompleted is returned when extraction is requested for a session
// that has not closed yet.
var ErrNotCompleted = errors.New("session not completed")

// ErrUnparseable is returned when the generator's output contained no
// recognizable fact lines; the extracted flag stays false so a later sweep
// can retry.
var ErrUnparseable = errors.New("extraction output unparseable")

// ExtractOutcome reports what an extraction call did.
type ExtractOutcome string

const (
	OutcomeExtracted ExtractOutcome = "extracted"
	OutcomeSkipped   ExtractOutcome = "skipped"
)

// extraction holds the parsed structured facts for one session.
type extraction struct {
	Records []models.ExtractedRecord
	Pattern string
}

// ExtractFromCheckin converts a closed session's transcript into structured
// records. Idempotent: the extracted flag is a compare-and-set gate, so
// concurrent or repeated calls write at most one set of records; an
// already-extracted session is a successful no-op.
func (s *Service) ExtractFromCheckin(ctx context.Context, sessionID int) (ExtractOutcome, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !sess.Completed {
		return "", fmt.Errorf("%w: session %d", ErrNotCompleted, sessionID)
	}
	if sess.Extracted {
		return OutcomeSkipped, nil
	}

	transcript, err := s.renderTranscript(ctx, sessionID)
	if err != nil {
		return "", err
	}
	raw, err := s.gen.Generate(ctx, "",
		[]llm.Message{{Role: models.RoleUser, Content: prompts.ExtractionPrompt(transcript)}}, s.maxTokens)
	if err != nil {
		return "", err
	}

	ex := parseExtraction(raw, sess)
	if len(ex.Records) == 0 && ex.Pattern == "" {
		return "", fmt.Errorf("%w: session %d", ErrUnparseable, sessionID)
	}

	won, err := s.store.MarkSessionExtracted(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !won {
		// Another runner got here first; its records stand.
		return OutcomeSkipped, nil
	}

	if err := s.store.InsertExtractedRecords(ctx, ex.Records); err != nil {
		return "", err
	}
	if ex.Pattern != "" {
		if err := s.store.SetPatternDescriptionIfEmpty(ctx, sess.UserID, ex.Pattern); err != nil {
			s.log.Warn("pattern description update failed",
				zap.Int("user_id", sess.UserID), zap.Error(err))
		}
	}
	s.log.Info("session extracted",
		zap.Int("session_id", sessionID),
		zap.Int("records", len(ex.Records)),
	)
	return OutcomeExtracted, nil
}

// RunBackfill extracts up to limit completed, unextracted sessions. Failed
// items are left for the next sweep rather than retried in-process.
func (s *Service) RunBackfill(ctx context.Context, limit int) {
	sessions, err := s.store.ListCompletedUnextracted(ctx, limit)
	if err != nil {
		s.log.Error("backfill listing failed", zap.Error(err))
		return
	}
	for _, sess := range sessions {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.ExtractFromCheckin(ctx, sess.ID); err != nil {
			s.log.Warn("backfill extraction failed",
				zap.Int("session_id", sess.ID), zap.Error(err))
		}
	}
}

// parseExtraction reads the line-prefixed generator output defensively:
// unknown lines are ignored, markdown is stripped, and malformed episode
// subtypes are dropped.
func parseExtraction(raw string, sess *models.CheckinSession) extraction {
	var ex extraction
	add := func(category, desc string) {
		desc = StripMarkdown(desc)
		if desc == "" {
			return
		}
		ex.Records = append(ex.Records, models.ExtractedRecord{
			SessionID:   sess.ID,
			UserID:      sess.UserID,
			Category:    category,
			Description: desc,
			LocalDate:   sess.LocalDate,
		})
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(StripMarkdown(line))
		if line == "" {
			continue
		}
		prefix, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		rest = strings.TrimSpace(rest)
		switch strings.ToUpper(strings.TrimSpace(prefix)) {
		case "TRIGGER":
			add(models.RecordTrigger, rest)
		case "CHAIN":
			add(models.RecordTriggerChain, rest)
		case "EMOTION":
			add(models.RecordEmotion, rest)
		case "EPISODE":
			kind, desc, _ := strings.Cut(rest, "-")
			switch strings.ToLower(strings.TrimSpace(kind)) {
			case "occurred":
				add(models.RecordEpisodeOccurred, strings.TrimSpace(desc))
			case "resisted":
				add(models.RecordEpisodeResisted, strings.TrimSpace(desc))
			case "almost":
				add(models.RecordEpisodeAlmost, strings.TrimSpace(desc))
			}
		case "BREAKTHROUGH":
			add(models.RecordBreakthrough, rest)
		case "ALTERNATIVE":
			add(models.RecordAlternativeAction, rest)
		case "PATTERN":
			if p := StripMarkdown(rest); p != "" {
				ex.Pattern = p
			}
		}
	}
	return ex
}
