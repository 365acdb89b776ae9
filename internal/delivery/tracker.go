package delivery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"innerpath/internal/aggregate"
	"innerpath/internal/email"
	"innerpath/internal/models"
	"innerpath/internal/store"
)

const dateLayout = "2006-01-02"

// Outcome reports what a delivery attempt did.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Tracker records and deduplicates outbound notifications. "Eligible to
// send" and "already sent" are separate checks, so a crashed process can be
// re-run without double-sending.
type Tracker struct {
	store  store.Store
	sender email.Sender
	log    *zap.Logger
}

func NewTracker(st store.Store, sender email.Sender, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{store: st, sender: sender, log: log}
}

// SendWeeklyReflection delivers one weekly reflection email, guarded by the
// (aggregation, type, sent) uniqueness of the delivery log.
func (t *Tracker) SendWeeklyReflection(ctx context.Context, user *models.User, agg *models.Aggregation) (Outcome, error) {
	sent, err := t.store.HasSentDelivery(ctx, agg.ID, models.DeliveryWeeklyReflection)
	if err != nil {
		return OutcomeFailed, err
	}
	if sent {
		return OutcomeSkipped, nil
	}
	if user.Email == "" {
		return OutcomeSkipped, nil
	}

	entry := &models.DeliveryLogEntry{
		UserID:        user.ID,
		AggregationID: &agg.ID,
		Type:          models.DeliveryWeeklyReflection,
		Channel:       models.ChannelEmail,
		Status:        models.DeliveryPending,
	}
	if err := t.store.InsertDeliveryLog(ctx, entry); err != nil {
		return OutcomeFailed, err
	}

	subject := fmt.Sprintf("Your weekly reflection (%s)", agg.PeriodStart)
	name := ""
	if user.DisplayName != nil {
		name = *user.DisplayName
	}
	if err := t.sender.Send(ctx, user.Email, name, subject, agg.Summary); err != nil {
		msg := err.Error()
		if uerr := t.store.UpdateDeliveryStatus(ctx, entry.ID, models.DeliveryFailed, &msg); uerr != nil {
			t.log.Error("delivery status update failed", zap.String("entry_id", entry.ID), zap.Error(uerr))
		}
		return OutcomeFailed, err
	}
	if err := t.store.UpdateDeliveryStatus(ctx, entry.ID, models.DeliverySent, nil); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeSent, nil
}

// RunWeeklyDeliverySweep sends the current week's reflections to every user
// who has one and an email address. Safe to re-run; already-sent rows are
// skipped.
func (t *Tracker) RunWeeklyDeliverySweep(ctx context.Context, now time.Time, limit int) {
	start, _ := aggregate.WeekWindow(now)
	aggs, err := t.store.ListAggregationsForPeriod(ctx, models.AggregationWeeklySummary, start)
	if err != nil {
		t.log.Error("weekly delivery listing failed", zap.Error(err))
		return
	}
	handled := 0
	for i := range aggs {
		if ctx.Err() != nil || handled >= limit {
			return
		}
		agg := &aggs[i]
		user, err := t.store.GetUser(ctx, agg.UserID)
		if err != nil {
			t.log.Warn("weekly delivery user lookup failed", zap.Int("user_id", agg.UserID), zap.Error(err))
			continue
		}
		outcome, err := t.SendWeeklyReflection(ctx, user, agg)
		if err != nil {
			t.log.Warn("weekly reflection delivery failed",
				zap.Int("user_id", user.ID), zap.Error(err))
		}
		if outcome != OutcomeSkipped {
			handled++
		}
	}
}

// RunReminderSweep emails every user who has an address and has not
// completed today's check-in. Keyed on (user, date): a reminder goes out at
// most once per day.
func (t *Tracker) RunReminderSweep(ctx context.Context, now time.Time, limit int) {
	users, err := t.store.ListUsersWithEmail(ctx)
	if err != nil {
		t.log.Error("reminder listing failed", zap.Error(err))
		return
	}
	today := now.Format(dateLayout)
	handled := 0
	for i := range users {
		if ctx.Err() != nil || handled >= limit {
			return
		}
		user := &users[i]

		completed, err := t.store.HasCompletedOn(ctx, user.ID, today)
		if err != nil || completed {
			continue
		}
		reminded, err := t.store.HasSentReminder(ctx, user.ID, today)
		if err != nil || reminded {
			continue
		}

		if _, err := t.sendReminder(ctx, user, today); err != nil {
			t.log.Warn("reminder delivery failed", zap.Int("user_id", user.ID), zap.Error(err))
		}
		handled++
	}
}

func (t *Tracker) sendReminder(ctx context.Context, user *models.User, today string) (Outcome, error) {
	entry := &models.DeliveryLogEntry{
		UserID:    user.ID,
		LocalDate: &today,
		Type:      models.DeliveryDailyReminder,
		Channel:   models.ChannelEmail,
		Status:    models.DeliveryPending,
	}
	if err := t.store.InsertDeliveryLog(ctx, entry); err != nil {
		return OutcomeFailed, err
	}

	name := "there"
	if user.DisplayName != nil && *user.DisplayName != "" {
		name = *user.DisplayName
	}
	body := fmt.Sprintf("Hi %s,\n\nYou haven't checked in yet today. A few quiet minutes is all it takes.\n\nSee you there.", name)
	if err := t.sender.Send(ctx, user.Email, name, "Your daily check-in is waiting", body); err != nil {
		msg := err.Error()
		if uerr := t.store.UpdateDeliveryStatus(ctx, entry.ID, models.DeliveryFailed, &msg); uerr != nil {
			t.log.Error("delivery status update failed", zap.String("entry_id", entry.ID), zap.Error(uerr))
		}
		return OutcomeFailed, err
	}
	if err := t.store.UpdateDeliveryStatus(ctx, entry.ID, models.DeliverySent, nil); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeSent, nil
}
