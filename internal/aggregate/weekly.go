package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"innerpath/internal/llm"
	"innerpath/internal/models"
	"innerpath/internal/prompts"
	"innerpath/internal/store"
)

const dateLayout = "2006-01-02"

// topTriggerLimit caps how many triggers the rollup keeps.
const topTriggerLimit = 5

// CountedItem is a description with its frequency over the week.
type CountedItem struct {
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// Readiness summarizes stage-of-change signals for the week.
type Readiness struct {
	Stage              string `json:"stage"`
	CheckinCount       int    `json:"checkin_count"`
	Breakthroughs      int    `json:"breakthroughs"`
	AlternativeActions int    `json:"alternative_actions"`
}

// WeeklyData is the structured blob stored on a weekly_summary aggregation.
type WeeklyData struct {
	CheckinCount       int            `json:"checkin_count"`
	AverageStress      float64        `json:"average_stress"` // 0 when no session recorded a rating
	RatedSessions      int            `json:"rated_sessions"`
	TopTriggers        []CountedItem  `json:"top_triggers"`
	TriggerChains      []CountedItem  `json:"trigger_chains"`
	Emotions           []string       `json:"emotions"`
	Episodes           map[string]int `json:"episodes"`
	Breakthroughs      []string       `json:"breakthroughs"`
	AlternativeActions []string       `json:"alternative_actions"`
	Readiness          Readiness      `json:"readiness"`
}

// WeekWindow returns the Monday-aligned week containing now, as inclusive
// date strings.
func WeekWindow(now time.Time) (start, end string) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	monday := day.AddDate(0, 0, -offset)
	return monday.Format(dateLayout), monday.AddDate(0, 0, 6).Format(dateLayout)
}

// Aggregator rolls a user's extracted records and completed sessions up
// into one weekly reflection. Re-running a week overwrites, never
// duplicates.
type Aggregator struct {
	store     store.Store
	gen       llm.Generator
	log       *zap.Logger
	maxTokens int
}

func New(st store.Store, gen llm.Generator, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{store: st, gen: gen, log: log, maxTokens: 512}
}

// GenerateWeeklySummary builds and upserts the aggregation for the week
// containing now. Returns (nil, nil) when the user had no completed
// check-ins that week: absence, not an empty record.
func (a *Aggregator) GenerateWeeklySummary(ctx context.Context, userID int, now time.Time) (*models.Aggregation, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	start, end := WeekWindow(now)

	sessions, err := a.store.ListCompletedInRange(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	records, err := a.store.ListRecordsInRange(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}

	data := buildWeeklyData(user, sessions, records)
	summary, err := a.generateSummary(ctx, user, data)
	if err != nil {
		return nil, err
	}

	blob, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	agg := &models.Aggregation{
		UserID:      userID,
		Type:        models.AggregationWeeklySummary,
		PeriodStart: start,
		PeriodEnd:   end,
		Summary:     summary,
		Data:        blob,
	}
	if err := a.store.UpsertAggregation(ctx, agg); err != nil {
		return nil, err
	}
	a.log.Info("weekly summary generated",
		zap.Int("user_id", userID),
		zap.String("period_start", start),
		zap.Int("checkins", data.CheckinCount),
	)
	return agg, nil
}

// GenerateAll runs the weekly rollup for every user. Per-user failures are
// logged and skipped; the next scheduled run retries them via the upsert.
func (a *Aggregator) GenerateAll(ctx context.Context, now time.Time) {
	ids, err := a.store.ListUserIDs(ctx)
	if err != nil {
		a.log.Error("listing users failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := a.GenerateWeeklySummary(ctx, id, now); err != nil {
			a.log.Warn("weekly summary failed", zap.Int("user_id", id), zap.Error(err))
		}
	}
}

func buildWeeklyData(user *models.User, sessions []models.CheckinSession, records []models.ExtractedRecord) WeeklyData {
	data := WeeklyData{
		CheckinCount: len(sessions),
		Episodes:     map[string]int{},
	}

	stressSum := 0
	for _, s := range sessions {
		if s.StressLevel != nil {
			stressSum += *s.StressLevel
			data.RatedSessions++
		}
	}
	if data.RatedSessions > 0 {
		data.AverageStress = float64(stressSum) / float64(data.RatedSessions)
	}

	triggers := map[string]int{}
	chains := map[string]int{}
	emotions := map[string]bool{}
	for _, r := range records {
		switch r.Category {
		case models.RecordTrigger:
			triggers[strings.ToLower(r.Description)]++
		case models.RecordTriggerChain:
			chains[strings.ToLower(r.Description)]++
		case models.RecordEmotion:
			key := strings.ToLower(r.Description)
			if !emotions[key] {
				emotions[key] = true
				data.Emotions = append(data.Emotions, key)
			}
		case models.RecordEpisodeOccurred, models.RecordEpisodeResisted, models.RecordEpisodeAlmost:
			data.Episodes[r.Category]++
		case models.RecordBreakthrough:
			data.Breakthroughs = append(data.Breakthroughs, r.Description)
		case models.RecordAlternativeAction:
			data.AlternativeActions = append(data.AlternativeActions, r.Description)
		}
	}
	data.TopTriggers = topN(triggers, topTriggerLimit)
	data.TriggerChains = topN(chains, topTriggerLimit)
	data.Readiness = Readiness{
		Stage:              user.Stage,
		CheckinCount:       len(sessions),
		Breakthroughs:      len(data.Breakthroughs),
		AlternativeActions: len(data.AlternativeActions),
	}
	return data
}

// topN orders by descending count, then alphabetically for a stable result.
func topN(counts map[string]int, n int) []CountedItem {
	items := make([]CountedItem, 0, len(counts))
	for desc, c := range counts {
		items = append(items, CountedItem{Description: desc, Count: c})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Description < items[j].Description
	})
	if len(items) > n {
		items = items[:n]
	}
	return items
}

func (a *Aggregator) generateSummary(ctx context.Context, user *models.User, data WeeklyData) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "- Completed check-ins: %d\n", data.CheckinCount)
	if data.RatedSessions > 0 {
		fmt.Fprintf(&b, "- Average stated stress: %.1f over %d sessions\n", data.AverageStress, data.RatedSessions)
	}
	for _, t := range data.TopTriggers {
		fmt.Fprintf(&b, "- Trigger (%dx): %s\n", t.Count, t.Description)
	}
	for _, c := range data.TriggerChains {
		fmt.Fprintf(&b, "- Chain (%dx): %s\n", c.Count, c.Description)
	}
	if len(data.Emotions) > 0 {
		fmt.Fprintf(&b, "- Emotions named: %s\n", strings.Join(data.Emotions, ", "))
	}
	episodeLabels := []struct{ cat, label string }{
		{models.RecordEpisodeOccurred, "Episodes occurred"},
		{models.RecordEpisodeResisted, "Episodes resisted"},
		{models.RecordEpisodeAlmost, "Near episodes"},
	}
	for _, e := range episodeLabels {
		if c := data.Episodes[e.cat]; c > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", e.label, c)
		}
	}
	for _, bt := range data.Breakthroughs {
		fmt.Fprintf(&b, "- Breakthrough: %s\n", bt)
	}
	for _, alt := range data.AlternativeActions {
		fmt.Fprintf(&b, "- Alternative action: %s\n", alt)
	}

	name := ""
	if user.DisplayName != nil {
		name = *user.DisplayName
	}
	out, err := a.gen.Generate(ctx, "",
		[]llm.Message{{Role: models.RoleUser, Content: prompts.WeeklySummaryPrompt(name, user.Stage, b.String())}},
		a.maxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
