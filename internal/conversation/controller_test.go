package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"innerpath/internal/llm"
	"innerpath/internal/models"
	"innerpath/internal/prompts"
	"innerpath/internal/store"
	"innerpath/internal/store/storetest"
)

// scriptGen returns scripted replies in order and records every call.
type scriptGen struct {
	mu      sync.Mutex
	replies []string
	err     error

	systems   []string
	histories [][]llm.Message
}

func (g *scriptGen) Generate(_ context.Context, systemPrompt string, history []llm.Message, _ int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.systems = append(g.systems, systemPrompt)
	g.histories = append(g.histories, history)
	if len(g.replies) == 0 {
		return "ok", nil
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r, nil
}

type recordCloser struct {
	ch chan int
}

func (r *recordCloser) Run(sessionID int) { r.ch <- sessionID }

func (r *recordCloser) wait(t *testing.T) int {
	t.Helper()
	select {
	case id := <-r.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("post-close pipeline never ran")
		return 0
	}
}

var testNow = time.Date(2026, 9, 1, 20, 0, 0, 0, time.UTC)

func seedUserAndSession(t *testing.T, fake *storetest.Fake, name string, msgs int) (*models.User, *models.CheckinSession) {
	t.Helper()
	var dn *string
	if name != "" {
		dn = &name
	}
	u := fake.SeedUser(models.User{DisplayName: dn, Pattern: models.PatternAvoidance})
	s := fake.SeedSession(models.CheckinSession{UserID: u.ID, LocalDate: testNow.Format("2006-01-02")})
	for i := 0; i < msgs; i++ {
		role := models.RoleAssistant
		content := "how was that for you?"
		if i%2 == 1 {
			role = models.RoleUser
			content = "it was a long day"
		}
		fake.SeedMessages(s.ID, [2]string{role, content})
	}
	return u, s
}

func TestStartSentinelOpensSessionWithoutPersistingIt(t *testing.T) {
	fake := storetest.New()
	u, _ := seedUserAndSession(t, fake, "Ana", 0)
	gen := &scriptGen{replies: []string{"Good evening, Ana! How are you feeling right now?"}}
	c := New(fake, gen, DefaultConfig(), nil)

	res, err := c.HandleMessage(context.Background(), u.ID, 0, StartSentinel, testNow)
	require.NoError(t, err)
	assert.False(t, res.IsComplete)
	assert.False(t, res.IsCrisis)
	assert.Contains(t, res.Reply, "?")

	msgs, err := fake.ListMessages(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "only the greeting is persisted, never the sentinel")
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
}

func TestEarlyTurnStripsClosingsAndGuaranteesQuestion(t *testing.T) {
	fake := storetest.New()
	u, s := seedUserAndSession(t, fake, "Ana", 2)
	gen := &scriptGen{replies: []string{"That sounds heavy. Take care and rest well."}}
	c := New(fake, gen, DefaultConfig(), nil)

	res, err := c.HandleMessage(context.Background(), u.ID, s.ID, "work was rough", testNow)
	require.NoError(t, err)
	assert.False(t, res.IsComplete)
	assert.NotContains(t, strings.ToLower(res.Reply), "take care")
	assert.NotContains(t, strings.ToLower(res.Reply), "rest well")
	assert.Contains(t, res.Reply, "?")

	sess, err := fake.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.False(t, sess.Completed)

	n, _ := fake.CountMessages(context.Background(), s.ID)
	assert.Equal(t, 4, n)
}

func TestEarlyTurnKeepsReplyThatAlreadyAsks(t *testing.T) {
	fake := storetest.New()
	u, s := seedUserAndSession(t, fake, "", 2)
	gen := &scriptGen{replies: []string{"That sounds heavy. What made it feel that way?"}}
	c := New(fake, gen, DefaultConfig(), nil)

	res, err := c.HandleMessage(context.Background(), u.ID, s.ID, "work was rough", testNow)
	require.NoError(t, err)
	assert.Equal(t, "That sounds heavy. What made it feel that way?", res.Reply)
}

func TestMidRangeClosingPhraseClosesSession(t *testing.T) {
	fake := storetest.New()
	u, s := seedUserAndSession(t, fake, "Ana", 6)
	gen := &scriptGen{replies: []string{"You covered a lot today. Sleep well, and see you tomorrow."}}
	post := &recordCloser{ch: make(chan int, 1)}
	c := New(fake, gen, DefaultConfig(), nil, WithPostCloser(post))

	res, err := c.HandleMessage(context.Background(), u.ID, s.ID, "thanks, I feel better", testNow)
	require.NoError(t, err)
	assert.True(t, res.IsComplete)

	sess, err := fake.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, sess.Completed)
	assert.Equal(t, s.ID, post.wait(t))
}

func TestMidRangeNonClosingReplyKeepsSessionOpen(t *testing.T) {
	fake := storetest.New()
	u, s := seedUserAndSession(t, fake, "Ana", 6)
	gen := &scriptGen{replies: []string{"That shift you described matters. What felt different this time?"}}
	c := New(fake, gen, DefaultConfig(), nil)

	res, err := c.HandleMessage(context.Background(), u.ID, s.ID, "I handled it differently today", testNow)
	require.NoError(t, err)
	assert.False(t, res.IsComplete)

	sess, _ := fake.GetSession(context.Background(), s.ID)
	assert.False(t, sess.Completed)
}

func TestForcedCloseStripsQuestionsAndFallsBack(t *testing.T) {
	fake := storetest.New()
	u, s := seedUserAndSession(t, fake, "Ana", 8)
	gen := &scriptGen{replies: []string{"Would you like to stop here? Ok."}}
	post := &recordCloser{ch: make(chan int, 1)}
	c := New(fake, gen, DefaultConfig(), nil, WithPostCloser(post))

	res, err := c.HandleMessage(context.Background(), u.ID, s.ID, "I think that's everything", testNow)
	require.NoError(t, err)
	assert.True(t, res.IsComplete)
	assert.NotContains(t, res.Reply, "?")
	// Too little survived the stripping, so the canned closing is used.
	assert.Equal(t, prompts.FallbackClosing("Ana"), res.Reply)
	post.wait(t)
}

func TestForcedCloseAppendsCueWhenMissing(t *testing.T) {
	fake := storetest.New()
	u, s := seedUserAndSession(t, fake, "Ana", 9)
	gen := &scriptGen{replies: []string{"You showed real honesty today, and naming the pattern out loud matters."}}
	c := New(fake, gen, DefaultConfig(), nil, WithPostCloser(&recordCloser{ch: make(chan int, 1)}))

	res, err := c.HandleMessage(context.Background(), u.ID, s.ID, "good night", testNow)
	require.NoError(t, err)
	assert.True(t, res.IsComplete)
	assert.True(t, strings.HasSuffix(res.Reply, prompts.ClosingCue))
}

func TestForcedCloseUsesSelectedTemplate(t *testing.T) {
	fake := storetest.New()
	u, s := seedUserAndSession(t, fake, "Ana", 8)
	// A prior completed check-in keeps this off the first-ever template.
	fake.SeedSession(models.CheckinSession{UserID: u.ID, LocalDate: "2026-08-31", Completed: true})
	gen := &scriptGen{replies: []string{"Thank you for sharing today. Rest well, and see you tomorrow."}}
	c := New(fake, gen, DefaultConfig(), nil,
		WithSelector(func(poolSize, seed int) int { return 3 }))

	_, err := c.HandleMessage(context.Background(), u.ID, s.ID, "that's all from me", testNow)
	require.NoError(t, err)
	require.Len(t, gen.systems, 1)
	assert.Equal(t, prompts.ClosingInstruction(3, false, "Ana"), gen.systems[0])
}

func TestForcedCloseFirstEverTemplate(t *testing.T) {
	fake := storetest.New()
	u, s := seedUserAndSession(t, fake, "Ana", 8)
	gen := &scriptGen{replies: []string{"You showed up for the first time today, and that is the hardest part. Take care."}}
	c := New(fake, gen, DefaultConfig(), nil)

	_, err := c.HandleMessage(context.Background(), u.ID, s.ID, "ok, done for today", testNow)
	require.NoError(t, err)
	require.Len(t, gen.systems, 1)
	assert.Contains(t, gen.systems[0], "very first check-in")
}

func TestCrisisShortCircuitsBeforeGeneration(t *testing.T) {
	fake := storetest.New()
	u, s := seedUserAndSession(t, fake, "Ana", 4)
	gen := &scriptGen{err: errors.New("generator must not be called")}
	c := New(fake, gen, DefaultConfig(), nil)

	res, err := c.HandleMessage(context.Background(), u.ID, s.ID, "some days I just want to die", testNow)
	require.NoError(t, err)
	assert.True(t, res.IsCrisis)
	assert.False(t, res.IsComplete)
	assert.Contains(t, res.Reply, "988")
	assert.Contains(t, res.Reply, "Ana")

	sess, _ := fake.GetSession(context.Background(), s.ID)
	assert.False(t, sess.Completed, "crisis never closes the session")

	n, _ := fake.CountMessages(context.Background(), s.ID)
	assert.Equal(t, 6, n, "user message and crisis reply are both persisted")
}

func TestGenerationFailurePersistsNothing(t *testing.T) {
	fake := storetest.New()
	u, s := seedUserAndSession(t, fake, "Ana", 2)
	gen := &scriptGen{err: llm.ErrGenerationUnavailable}
	c := New(fake, gen, DefaultConfig(), nil)

	_, err := c.HandleMessage(context.Background(), u.ID, s.ID, "hello", testNow)
	require.ErrorIs(t, err, llm.ErrGenerationUnavailable)

	n, _ := fake.CountMessages(context.Background(), s.ID)
	assert.Equal(t, 2, n, "a failed turn leaves the session untouched")
}

func TestValidationErrors(t *testing.T) {
	fake := storetest.New()
	u, s := seedUserAndSession(t, fake, "Ana", 2)
	c := New(fake, &scriptGen{}, DefaultConfig(), nil)
	ctx := context.Background()

	_, err := c.HandleMessage(ctx, u.ID, s.ID, "   ", testNow)
	assert.ErrorIs(t, err, ErrValidation)

	done := fake.SeedSession(models.CheckinSession{UserID: u.ID, LocalDate: "2026-08-30", Completed: true})
	_, err = c.HandleMessage(ctx, u.ID, done.ID, "hello again", testNow)
	assert.ErrorIs(t, err, ErrValidation)

	other := fake.SeedUser(models.User{})
	_, err = c.HandleMessage(ctx, other.ID, s.ID, "hello", testNow)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = c.HandleMessage(ctx, 999, 0, "hello", testNow)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionResolvedByDateWhenIDOmitted(t *testing.T) {
	fake := storetest.New()
	u, s := seedUserAndSession(t, fake, "Ana", 2)
	gen := &scriptGen{replies: []string{"I hear you. What part stands out most?"}}
	c := New(fake, gen, DefaultConfig(), nil)

	res, err := c.HandleMessage(context.Background(), u.ID, 0, "still thinking about earlier", testNow)
	require.NoError(t, err)
	assert.Equal(t, s.ID, res.SessionID, "the open session for today is reused")
}
