package insights

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"innerpath/internal/llm"
	"innerpath/internal/models"
	"innerpath/internal/prompts"
)

// stageStressResult holds whichever fields parsed. Zero values mean "no
// change" for that field; a malformed line never fails the whole analysis.
type stageStressResult struct {
	Stress int // 0 when absent or "none"
	Stage  string
	Reason string
}

var (
	stressLineRe = regexp.MustCompile(`(?mi)^\s*STRESS:\s*(10|[1-9]|none)\s*$`)
	stageLineRe  = regexp.MustCompile(`(?mi)^\s*STAGE:\s*([a-z]+|none)\s*$`)
	reasonLineRe = regexp.MustCompile(`(?mi)^\s*REASON:\s*(.+?)\s*$`)
)

func parseStageStress(raw string) stageStressResult {
	var res stageStressResult
	if m := stressLineRe.FindStringSubmatch(raw); m != nil && m[1] != "none" {
		if n, err := strconv.Atoi(m[1]); err == nil {
			res.Stress = n
		}
	}
	if m := stageLineRe.FindStringSubmatch(raw); m != nil && m[1] != "none" {
		res.Stage = m[1]
	}
	if m := reasonLineRe.FindStringSubmatch(raw); m != nil {
		res.Reason = m[1]
	}
	return res
}

// AnalyzeStageStress runs the post-close stage and stress pass for a
// completed session. Stress is written only when the person literally said
// the number; stage moves forward only, one step at a time.
func (s *Service) AnalyzeStageStress(ctx context.Context, sessionID int) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Completed {
		return fmt.Errorf("session %d not completed", sessionID)
	}
	user, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return err
	}
	transcript, err := s.renderTranscript(ctx, sessionID)
	if err != nil {
		return err
	}

	raw, err := s.gen.Generate(ctx, "",
		[]llm.Message{{Role: models.RoleUser, Content: prompts.StageStressPrompt(transcript, user.Stage)}}, 256)
	if err != nil {
		return err
	}
	res := parseStageStress(raw)

	if res.Stress >= 1 && res.Stress <= 10 {
		stated, err := s.userStatedNumber(ctx, sessionID, res.Stress)
		if err != nil {
			return err
		}
		if stated {
			if err := s.store.SetSessionStress(ctx, sessionID, res.Stress); err != nil {
				return err
			}
		} else {
			s.log.Info("stress rating dropped: not stated verbatim",
				zap.Int("session_id", sessionID), zap.Int("stress", res.Stress))
		}
	}

	if res.Stage != "" && models.ValidStage(res.Stage) && res.Stage != user.Stage {
		if res.Stage == models.NextStage(user.Stage) {
			if err := s.store.SetUserStage(ctx, user.ID, res.Stage); err != nil {
				return err
			}
			s.log.Info("stage advanced",
				zap.Int("user_id", user.ID),
				zap.String("from", user.Stage),
				zap.String("to", res.Stage),
				zap.String("reason", res.Reason),
			)
		} else {
			s.log.Info("stage proposal rejected: not the immediate successor",
				zap.Int("user_id", user.ID),
				zap.String("current", user.Stage),
				zap.String("proposed", res.Stage),
			)
		}
	}
	return nil
}

// userStatedNumber verifies the rating appears verbatim in a user message,
// as a standalone number. The analyzer prompt forbids inference, but the
// generator is untrusted, so this is the hard guard.
func (s *Service) userStatedNumber(ctx context.Context, sessionID, n int) (bool, error) {
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return false, err
	}
	re := regexp.MustCompile(fmt.Sprintf(`(^|\D)%d(\D|$)`, n))
	for _, m := range msgs {
		if m.Role != models.RoleUser {
			continue
		}
		if re.MatchString(m.Content) {
			return true, nil
		}
	}
	return false, nil
}
