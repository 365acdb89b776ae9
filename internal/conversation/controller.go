package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"innerpath/internal/crisis"
	"innerpath/internal/llm"
	"innerpath/internal/models"
	"innerpath/internal/prompts"
	"innerpath/internal/store"
)

// StartSentinel is the literal first message a client sends to open a
// session; it is never persisted as a user message.
const StartSentinel = "__start__"

// ErrValidation marks bad input; no side effects have happened.
var ErrValidation = errors.New("validation failed")

const dateLayout = "2006-01-02"

// minSalvagedClosing is the minimum non-space length a stripped closing must
// keep before we fall back to the canned one.
const minSalvagedClosing = 20

// Config holds the pacing thresholds. Counts are messages already persisted
// in the session across both roles.
type Config struct {
	MinCloseMessages   int // below this a session never closes
	ForceCloseMessages int // at or above this the next turn always closes
	MaxReplyTokens     int
}

func DefaultConfig() Config {
	return Config{MinCloseMessages: 6, ForceCloseMessages: 8, MaxReplyTokens: 512}
}

// Selector picks an index in [0, poolSize) from a seed. The default is
// seed mod poolSize; tests inject their own to force any branch.
type Selector func(poolSize, seed int) int

// PostCloser runs the post-close pipeline (insight summary, stage/stress
// analysis, extraction). It is launched in the background and observes its
// own failures; nothing feeds back into the live conversation.
type PostCloser interface {
	Run(sessionID int)
}

// Result is what the conversation endpoint returns for one turn.
type Result struct {
	Reply      string `json:"reply"`
	SessionID  int    `json:"session_id"`
	IsComplete bool   `json:"is_complete"`
	IsCrisis   bool   `json:"is_crisis"`
}

// Controller is the pacing state machine for one check-in turn. It is
// stateless between turns: everything it needs is reloaded from the store,
// so turns are retryable and horizontally scalable.
type Controller struct {
	store    store.Store
	gen      llm.Generator
	cfg      Config
	selector Selector
	post     PostCloser
	log      *zap.Logger
}

type Option func(*Controller)

func WithSelector(s Selector) Option { return func(c *Controller) { c.selector = s } }

func WithPostCloser(p PostCloser) Option { return func(c *Controller) { c.post = p } }

func New(st store.Store, gen llm.Generator, cfg Config, log *zap.Logger, opts ...Option) *Controller {
	if cfg.MinCloseMessages <= 0 {
		cfg.MinCloseMessages = 6
	}
	if cfg.ForceCloseMessages <= 0 {
		cfg.ForceCloseMessages = 8
	}
	if cfg.MaxReplyTokens <= 0 {
		cfg.MaxReplyTokens = 512
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		store:    st,
		gen:      gen,
		cfg:      cfg,
		selector: func(poolSize, seed int) int { return seed % poolSize },
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleMessage runs one turn. sessionID may be 0; the open session for the
// user's date is found or created either way. now is the caller's reference
// time so day boundaries are testable.
func (c *Controller) HandleMessage(ctx context.Context, userID, sessionID int, text string, now time.Time) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty message", ErrValidation)
	}

	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	name := displayName(user)

	sess, err := c.resolveSession(ctx, userID, sessionID, now)
	if err != nil {
		return nil, err
	}

	// Crisis check runs before anything that can fail, and before any
	// generation call. The session stays open.
	if text != StartSentinel && crisis.Detect(text) {
		reply := crisis.Response(name)
		if _, err := c.store.AppendMessage(ctx, sess.ID, models.RoleUser, text); err != nil {
			return nil, err
		}
		if _, err := c.store.AppendMessage(ctx, sess.ID, models.RoleAssistant, reply); err != nil {
			return nil, err
		}
		c.log.Info("crisis response issued", zap.Int("session_id", sess.ID))
		return &Result{Reply: reply, SessionID: sess.ID, IsCrisis: true}, nil
	}

	count, err := c.store.CountMessages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	totalCompleted, err := c.store.CountCompletedSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if count == 0 && text == StartSentinel {
		return c.openSession(ctx, user, sess, totalCompleted, now)
	}

	if count >= c.cfg.ForceCloseMessages {
		return c.forceClose(ctx, user, sess, text, totalCompleted)
	}

	return c.continueTurn(ctx, user, sess, text, count, totalCompleted, now)
}

func (c *Controller) resolveSession(ctx context.Context, userID, sessionID int, now time.Time) (*models.CheckinSession, error) {
	if sessionID > 0 {
		sess, err := c.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess.UserID != userID {
			return nil, store.ErrNotFound
		}
		if sess.Completed {
			return nil, fmt.Errorf("%w: session already completed", ErrValidation)
		}
		return sess, nil
	}
	return c.store.GetOrCreateOpenSession(ctx, userID, now.Format(dateLayout))
}

// openSession handles the start sentinel: generate a warm greeting plus a
// feeling-check question. The sentinel itself is not persisted.
func (c *Controller) openSession(ctx context.Context, user *models.User, sess *models.CheckinSession, totalCompleted int, now time.Time) (*Result, error) {
	pc, err := c.promptContext(ctx, user, totalCompleted, 0, now)
	if err != nil {
		return nil, err
	}
	history := []llm.Message{{Role: models.RoleUser, Content: prompts.OpeningInstruction(displayName(user))}}
	reply, err := c.gen.Generate(ctx, prompts.BuildSystemPrompt(pc), history, c.cfg.MaxReplyTokens)
	if err != nil {
		return nil, err
	}
	reply = c.ensureContinuation(reply, 0)
	if _, err := c.store.AppendMessage(ctx, sess.ID, models.RoleAssistant, reply); err != nil {
		return nil, err
	}
	return &Result{Reply: reply, SessionID: sess.ID}, nil
}

// continueTurn is the normal path for count < ForceCloseMessages. Below
// MinCloseMessages the reply can never close the session: closing sentences
// are stripped and a question is guaranteed. Between the two thresholds a
// closing-phrase match is accepted as a real close.
func (c *Controller) continueTurn(ctx context.Context, user *models.User, sess *models.CheckinSession, text string, count, totalCompleted int, now time.Time) (*Result, error) {
	pc, err := c.promptContext(ctx, user, totalCompleted, count, now)
	if err != nil {
		return nil, err
	}
	history, err := c.transcript(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	history = append(history, llm.Message{Role: models.RoleUser, Content: text})

	reply, err := c.gen.Generate(ctx, prompts.BuildSystemPrompt(pc), history, c.cfg.MaxReplyTokens)
	if err != nil {
		return nil, err
	}

	closing := false
	if count < c.cfg.MinCloseMessages {
		reply = c.ensureContinuation(reply, count)
	} else if containsClosingPhrase(reply) {
		closing = true
	}

	return c.persistTurn(ctx, user, sess, text, reply, closing)
}

// forceClose handles count >= ForceCloseMessages: a dedicated closing
// request whose template is chosen by the selector over the user's total
// completed check-ins, with a distinct first-ever template. The final text
// never contains a question mark.
func (c *Controller) forceClose(ctx context.Context, user *models.User, sess *models.CheckinSession, text string, totalCompleted int) (*Result, error) {
	name := displayName(user)
	idx := c.selector(prompts.ClosingTemplateCount, totalCompleted)
	instruction := prompts.ClosingInstruction(idx, totalCompleted == 0, name)

	history, err := c.transcript(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	history = append(history, llm.Message{Role: models.RoleUser, Content: text})

	reply, err := c.gen.Generate(ctx, instruction, history, c.cfg.MaxReplyTokens)
	if err != nil {
		return nil, err
	}
	reply = sanitizeClosing(reply, name)

	return c.persistTurn(ctx, user, sess, text, reply, true)
}

// persistTurn writes the user and assistant messages and, on a close, marks
// the session completed and launches the post-close pipeline without
// blocking the response.
func (c *Controller) persistTurn(ctx context.Context, user *models.User, sess *models.CheckinSession, userText, reply string, closing bool) (*Result, error) {
	if _, err := c.store.AppendMessage(ctx, sess.ID, models.RoleUser, userText); err != nil {
		return nil, err
	}
	if _, err := c.store.AppendMessage(ctx, sess.ID, models.RoleAssistant, reply); err != nil {
		return nil, err
	}
	if !closing {
		return &Result{Reply: reply, SessionID: sess.ID}, nil
	}

	if err := c.store.MarkSessionCompleted(ctx, sess.ID); err != nil {
		return nil, err
	}
	c.log.Info("session closed",
		zap.Int("session_id", sess.ID),
		zap.Int("user_id", user.ID),
	)
	if c.post != nil {
		go c.post.Run(sess.ID)
	}
	return &Result{Reply: reply, SessionID: sess.ID, IsComplete: true}, nil
}

// ensureContinuation strips closing-style sentences and guarantees the reply
// asks something, so early turns always continue the conversation.
func (c *Controller) ensureContinuation(reply string, seed int) string {
	stripped := stripClosingSentences(reply)
	if !strings.Contains(stripped, "?") {
		q := prompts.FollowUpQuestion(c.selector(prompts.FollowUpQuestionCount, seed))
		if stripped == "" {
			return q
		}
		return stripped + " " + q
	}
	return stripped
}

// sanitizeClosing enforces the closing contract: no questions, enough
// substance, an explicit goodbye cue.
func sanitizeClosing(reply, name string) string {
	out := stripQuestionSentences(reply)
	if meaningfulLength(out) < minSalvagedClosing {
		out = prompts.FallbackClosing(name)
	}
	if !containsClosingCue(out) {
		out = out + " " + prompts.ClosingCue
	}
	return out
}

func (c *Controller) transcript(ctx context.Context, sessionID int) ([]llm.Message, error) {
	msgs, err := c.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// promptContext assembles the prompt builder's input from stored state.
func (c *Controller) promptContext(ctx context.Context, user *models.User, totalCompleted, count int, now time.Time) (prompts.Context, error) {
	pc := prompts.Context{
		Name:                displayName(user),
		Stage:               user.Stage,
		Pattern:             user.Pattern,
		DaysInProgram:       daysBetween(user.CreatedAt, now) + 1,
		TotalCheckins:       totalCompleted,
		SessionMessageCount: count,
		DaysSinceLast:       -1,
	}
	if user.PatternDescription != nil {
		pc.PatternDescription = *user.PatternDescription
	}

	recent, err := c.store.ListRecentCompleted(ctx, user.ID, 5)
	if err != nil {
		return pc, err
	}
	for _, s := range recent {
		rc := prompts.RecentCheckin{Date: s.LocalDate}
		if s.Insight != nil {
			rc.Insight = *s.Insight
		}
		pc.RecentCheckins = append(pc.RecentCheckins, rc)
	}
	if len(recent) > 0 {
		if last, err := time.Parse(dateLayout, recent[0].LocalDate); err == nil {
			pc.DaysSinceLast = daysBetween(last, now)
		}
	}
	return pc, nil
}

func displayName(u *models.User) string {
	if u.DisplayName != nil {
		return strings.TrimSpace(*u.DisplayName)
	}
	return ""
}

func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	d := int(t.Sub(f).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
