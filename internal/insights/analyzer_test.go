package insights

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"innerpath/internal/llm"
	"innerpath/internal/models"
	"innerpath/internal/store/storetest"
)

// fixedGen always returns the same output; safe for concurrent calls.
type fixedGen struct {
	mu     sync.Mutex
	output string
	err    error
	calls  int
}

func (g *fixedGen) Generate(_ context.Context, _ string, _ []llm.Message, _ int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.output, g.err
}

func TestParseStageStress(t *testing.T) {
	res := parseStageStress("STRESS: 7\nSTAGE: contemplation\nREASON: voiced both sides of it.")
	assert.Equal(t, 7, res.Stress)
	assert.Equal(t, "contemplation", res.Stage)
	assert.Equal(t, "voiced both sides of it.", res.Reason)

	res = parseStageStress("STRESS: none\nSTAGE: none\nREASON: nothing new.")
	assert.Zero(t, res.Stress)
	assert.Empty(t, res.Stage)

	// Out-of-range and malformed lines are dropped, not errors.
	res = parseStageStress("STRESS: 11\nSTAGE: Contemplation maybe\nchatter")
	assert.Zero(t, res.Stress)
	assert.Empty(t, res.Stage)
	assert.Empty(t, res.Reason)

	// Leading whitespace and mixed case still parse.
	res = parseStageStress("  stress: 10\n  Stage: action\n  reason: took the step.")
	assert.Equal(t, 10, res.Stress)
	assert.Equal(t, "action", res.Stage)
}

func seedCompletedSession(fake *storetest.Fake, stage string, userSaid string) (*models.User, *models.CheckinSession) {
	u := fake.SeedUser(models.User{Stage: stage, Pattern: models.PatternRumination})
	s := fake.SeedSession(models.CheckinSession{UserID: u.ID, LocalDate: "2026-09-01", Completed: true})
	fake.SeedMessages(s.ID,
		[2]string{models.RoleAssistant, "how are you feeling tonight?"},
		[2]string{models.RoleUser, userSaid},
		[2]string{models.RoleAssistant, "thank you for naming that"},
	)
	return u, s
}

func TestStressWrittenOnlyWhenStatedVerbatim(t *testing.T) {
	fake := storetest.New()
	_, s := seedCompletedSession(fake, models.StagePrecontemplation, "my stress is about a 7 today")
	gen := &fixedGen{output: "STRESS: 7\nSTAGE: none\nREASON: unchanged."}
	svc := NewService(fake, gen, nil)

	require.NoError(t, svc.AnalyzeStageStress(context.Background(), s.ID))
	sess, _ := fake.GetSession(context.Background(), s.ID)
	require.NotNil(t, sess.StressLevel)
	assert.Equal(t, 7, *sess.StressLevel)
}

func TestStressDroppedWhenNotStated(t *testing.T) {
	fake := storetest.New()
	_, s := seedCompletedSession(fake, models.StagePrecontemplation, "today was pretty tense overall")
	gen := &fixedGen{output: "STRESS: 7\nSTAGE: none\nREASON: unchanged."}
	svc := NewService(fake, gen, nil)

	require.NoError(t, svc.AnalyzeStageStress(context.Background(), s.ID))
	sess, _ := fake.GetSession(context.Background(), s.ID)
	assert.Nil(t, sess.StressLevel, "an inferred rating never persists")
}

func TestStressDigitInsideLargerNumberDoesNotCount(t *testing.T) {
	fake := storetest.New()
	_, s := seedCompletedSession(fake, models.StagePrecontemplation, "I slept 75 minutes past my alarm")
	gen := &fixedGen{output: "STRESS: 7\nSTAGE: none\nREASON: unchanged."}
	svc := NewService(fake, gen, nil)

	require.NoError(t, svc.AnalyzeStageStress(context.Background(), s.ID))
	sess, _ := fake.GetSession(context.Background(), s.ID)
	assert.Nil(t, sess.StressLevel)
}

func TestStageAdvancesOneStepForward(t *testing.T) {
	fake := storetest.New()
	u, s := seedCompletedSession(fake, models.StagePrecontemplation, "maybe this is actually a problem")
	gen := &fixedGen{output: "STRESS: none\nSTAGE: contemplation\nREASON: weighing change for the first time."}
	svc := NewService(fake, gen, nil)

	require.NoError(t, svc.AnalyzeStageStress(context.Background(), s.ID))
	got, _ := fake.GetUser(context.Background(), u.ID)
	assert.Equal(t, models.StageContemplation, got.Stage)
}

func TestStageSkipRejected(t *testing.T) {
	fake := storetest.New()
	u, s := seedCompletedSession(fake, models.StagePrecontemplation, "I already started changing everything")
	gen := &fixedGen{output: "STRESS: none\nSTAGE: action\nREASON: reports acting already."}
	svc := NewService(fake, gen, nil)

	require.NoError(t, svc.AnalyzeStageStress(context.Background(), s.ID))
	got, _ := fake.GetUser(context.Background(), u.ID)
	assert.Equal(t, models.StagePrecontemplation, got.Stage, "stages advance one step at a time")
}

func TestStageRegressionRejected(t *testing.T) {
	fake := storetest.New()
	u, s := seedCompletedSession(fake, models.StageAction, "I slipped back into old habits this week")
	gen := &fixedGen{output: "STRESS: none\nSTAGE: contemplation\nREASON: sounds ambivalent again."}
	svc := NewService(fake, gen, nil)

	require.NoError(t, svc.AnalyzeStageStress(context.Background(), s.ID))
	got, _ := fake.GetUser(context.Background(), u.ID)
	assert.Equal(t, models.StageAction, got.Stage, "stages never move backward")
}

func TestAnalyzeRequiresCompletedSession(t *testing.T) {
	fake := storetest.New()
	u := fake.SeedUser(models.User{})
	s := fake.SeedSession(models.CheckinSession{UserID: u.ID, LocalDate: "2026-09-01"})
	svc := NewService(fake, &fixedGen{output: "STRESS: none\nSTAGE: none\nREASON: n/a"}, nil)

	err := svc.AnalyzeStageStress(context.Background(), s.ID)
	assert.Error(t, err)
}
