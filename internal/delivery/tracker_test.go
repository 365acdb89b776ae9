package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"innerpath/internal/models"
	"innerpath/internal/store/storetest"
)

type sentMail struct {
	To      string
	Subject string
	Text    string
}

type fakeSender struct {
	mu    sync.Mutex
	sends []sentMail
	err   error
}

func (f *fakeSender) Send(_ context.Context, to, _, subject, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sends = append(f.sends, sentMail{To: to, Subject: subject, Text: text})
	return nil
}

func (f *fakeSender) sent() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMail, len(f.sends))
	copy(out, f.sends)
	return out
}

var sweepNow = time.Date(2026, 9, 3, 9, 0, 0, 0, time.UTC) // Thursday; week starts 2026-08-31

func seedUserWithAgg(fake *storetest.Fake, email string) (*models.User, *models.Aggregation) {
	u := fake.SeedUser(models.User{Email: email})
	agg := &models.Aggregation{
		UserID:      u.ID,
		Type:        models.AggregationWeeklySummary,
		PeriodStart: "2026-08-31",
		PeriodEnd:   "2026-09-06",
		Summary:     "a week of small wins",
	}
	_ = fake.UpsertAggregation(context.Background(), agg)
	return u, agg
}

func TestSendWeeklyReflectionOnce(t *testing.T) {
	fake := storetest.New()
	user, agg := seedUserWithAgg(fake, "ana@example.com")
	sender := &fakeSender{}
	tr := NewTracker(fake, sender, nil)

	outcome, err := tr.SendWeeklyReflection(context.Background(), user, agg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)

	sends := sender.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, "ana@example.com", sends[0].To)
	assert.Contains(t, sends[0].Subject, "2026-08-31")
	assert.Equal(t, "a week of small wins", sends[0].Text)

	entries := fake.DeliveryEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.DeliverySent, entries[0].Status)
	assert.Equal(t, models.DeliveryWeeklyReflection, entries[0].Type)

	// A second attempt is deduplicated by the delivery log.
	outcome, err = tr.SendWeeklyReflection(context.Background(), user, agg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Len(t, sender.sent(), 1)
}

func TestSendWeeklyReflectionFailureIsRetryable(t *testing.T) {
	fake := storetest.New()
	user, agg := seedUserWithAgg(fake, "ana@example.com")
	sender := &fakeSender{err: errors.New("smtp on fire")}
	tr := NewTracker(fake, sender, nil)

	outcome, err := tr.SendWeeklyReflection(context.Background(), user, agg)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	entries := fake.DeliveryEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.DeliveryFailed, entries[0].Status)
	require.NotNil(t, entries[0].Error)
	assert.Contains(t, *entries[0].Error, "smtp on fire")

	// The failed row does not block a later successful attempt.
	sender.err = nil
	outcome, err = tr.SendWeeklyReflection(context.Background(), user, agg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
}

func TestSendWeeklyReflectionSkipsUsersWithoutEmail(t *testing.T) {
	fake := storetest.New()
	user, agg := seedUserWithAgg(fake, "")
	tr := NewTracker(fake, &fakeSender{}, nil)

	outcome, err := tr.SendWeeklyReflection(context.Background(), user, agg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Empty(t, fake.DeliveryEntries())
}

func TestRunWeeklyDeliverySweep(t *testing.T) {
	fake := storetest.New()
	u1, agg1 := seedUserWithAgg(fake, "ana@example.com")
	_, _ = seedUserWithAgg(fake, "ben@example.com")
	sender := &fakeSender{}
	tr := NewTracker(fake, sender, nil)

	// u1 already received this week's email.
	_, err := tr.SendWeeklyReflection(context.Background(), u1, agg1)
	require.NoError(t, err)

	tr.RunWeeklyDeliverySweep(context.Background(), sweepNow, 10)
	sends := sender.sent()
	require.Len(t, sends, 2)
	assert.Equal(t, "ben@example.com", sends[1].To, "already-delivered users are skipped")
}

func TestRunReminderSweep(t *testing.T) {
	fake := storetest.New()
	today := sweepNow.Format("2006-01-02")

	doneUser := fake.SeedUser(models.User{Email: "done@example.com"})
	fake.SeedSession(models.CheckinSession{UserID: doneUser.ID, LocalDate: today, Completed: true})

	remindedUser := fake.SeedUser(models.User{Email: "reminded@example.com"})
	_ = fake.InsertDeliveryLog(context.Background(), &models.DeliveryLogEntry{
		UserID:    remindedUser.ID,
		LocalDate: &today,
		Type:      models.DeliveryDailyReminder,
		Channel:   models.ChannelEmail,
		Status:    models.DeliverySent,
	})

	fake.SeedUser(models.User{}) // no email; never listed

	pending := fake.SeedUser(models.User{Email: "pending@example.com"})

	sender := &fakeSender{}
	tr := NewTracker(fake, sender, nil)
	tr.RunReminderSweep(context.Background(), sweepNow, 10)

	sends := sender.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, "pending@example.com", sends[0].To)
	assert.Contains(t, sends[0].Subject, "check-in")

	reminded, err := fake.HasSentReminder(context.Background(), pending.ID, today)
	require.NoError(t, err)
	assert.True(t, reminded, "the sweep records the sent reminder")

	// Running again the same day sends nothing new.
	tr.RunReminderSweep(context.Background(), sweepNow, 10)
	assert.Len(t, sender.sent(), 1)
}

func TestRunReminderSweepHonorsLimit(t *testing.T) {
	fake := storetest.New()
	fake.SeedUser(models.User{Email: "a@example.com"})
	fake.SeedUser(models.User{Email: "b@example.com"})
	fake.SeedUser(models.User{Email: "c@example.com"})

	sender := &fakeSender{}
	tr := NewTracker(fake, sender, nil)
	tr.RunReminderSweep(context.Background(), sweepNow, 2)
	assert.Len(t, sender.sent(), 2)
}
