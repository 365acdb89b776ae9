package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"innerpath/internal/aggregate"
	"innerpath/internal/delivery"
	"innerpath/internal/insights"
)

// Jobs wires the four scheduled sweeps. Each is idempotent and bounded, so
// overlapping or re-run invocations are harmless; failed items wait for the
// next tick.
type Jobs struct {
	cron      *cron.Cron
	log       *zap.Logger
	insights  *insights.Service
	agg       *aggregate.Aggregator
	tracker   *delivery.Tracker
	batchSize int
}

func New(log *zap.Logger, svc *insights.Service, agg *aggregate.Aggregator, tracker *delivery.Tracker, batchSize int) *Jobs {
	if log == nil {
		log = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Jobs{
		cron:      cron.New(),
		log:       log,
		insights:  svc,
		agg:       agg,
		tracker:   tracker,
		batchSize: batchSize,
	}
}

func (j *Jobs) Start() error {
	type job struct {
		spec string
		name string
		run  func(ctx context.Context)
	}
	specs := []job{
		{"15 * * * *", "extraction_backfill", func(ctx context.Context) {
			j.insights.RunBackfill(ctx, j.batchSize)
		}},
		{"0 7 * * 1", "weekly_generation", func(ctx context.Context) {
			j.agg.GenerateAll(ctx, time.Now().UTC())
		}},
	}
	// The delivery sweeps only run when an email channel is configured.
	if j.tracker != nil {
		specs = append(specs,
			job{"0 18 * * *", "daily_reminders", func(ctx context.Context) {
				j.tracker.RunReminderSweep(ctx, time.Now().UTC(), j.batchSize)
			}},
			job{"0 9 * * 1", "weekly_delivery", func(ctx context.Context) {
				j.tracker.RunWeeklyDeliverySweep(ctx, time.Now().UTC(), j.batchSize)
			}},
		)
	}

	for _, s := range specs {
		s := s
		_, err := j.cron.AddFunc(s.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			start := time.Now()
			j.log.Info("sweep starting", zap.String("job", s.name))
			s.run(ctx)
			j.log.Info("sweep finished",
				zap.String("job", s.name),
				zap.Duration("took", time.Since(start)),
			)
		})
		if err != nil {
			return err
		}
	}

	j.cron.Start()
	return nil
}

// Stop halts scheduling and waits for running sweeps to finish.
func (j *Jobs) Stop() {
	<-j.cron.Stop().Done()
}
