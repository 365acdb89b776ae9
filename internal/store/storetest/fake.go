// Package storetest provides an in-memory Store for service tests. It
// mirrors the Postgres store's semantics (open-session uniqueness, the
// extracted compare-and-set, upsert keys) without a database.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"innerpath/internal/models"
	"innerpath/internal/store"
)

type Fake struct {
	mu sync.Mutex

	users    map[int]*models.User
	sessions map[int]*models.CheckinSession
	messages map[int][]models.Message
	records  []models.ExtractedRecord
	aggs     map[string]*models.Aggregation // keyed user/type/period_start
	dlog     map[string]*models.DeliveryLogEntry

	nextUserID    int
	nextSessionID int
	nextMessageID int
	nextRecordID  int
	nextLogID     int
}

func New() *Fake {
	return &Fake{
		users:    map[int]*models.User{},
		sessions: map[int]*models.CheckinSession{},
		messages: map[int][]models.Message{},
		aggs:     map[string]*models.Aggregation{},
		dlog:     map[string]*models.DeliveryLogEntry{},
	}
}

// SeedUser adds a user directly, for test setup.
func (f *Fake) SeedUser(u models.User) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == 0 {
		f.nextUserID++
		u.ID = f.nextUserID
	} else if u.ID > f.nextUserID {
		f.nextUserID = u.ID
	}
	if u.Stage == "" {
		u.Stage = models.StagePrecontemplation
	}
	if u.Pattern == "" {
		u.Pattern = models.PatternComplex
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	f.users[u.ID] = &u
	return &u
}

// SeedSession adds a session directly, for test setup.
func (f *Fake) SeedSession(s models.CheckinSession) *models.CheckinSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == 0 {
		f.nextSessionID++
		s.ID = f.nextSessionID
	} else if s.ID > f.nextSessionID {
		f.nextSessionID = s.ID
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	f.sessions[s.ID] = &s
	return &s
}

// SeedMessages appends messages to a session in order, for test setup.
func (f *Fake) SeedMessages(sessionID int, pairs ...[2]string) {
	for _, p := range pairs {
		_, _ = f.AppendMessage(context.Background(), sessionID, p[0], p[1])
	}
}

// Records returns a copy of all inserted extracted records.
func (f *Fake) Records() []models.ExtractedRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ExtractedRecord, len(f.records))
	copy(out, f.records)
	return out
}

// DeliveryEntries returns a copy of the delivery log.
func (f *Fake) DeliveryEntries() []models.DeliveryLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.DeliveryLogEntry, 0, len(f.dlog))
	for _, e := range f.dlog {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *Fake) CreateUser(_ context.Context, email, passwordHash string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextUserID++
	u := &models.User{
		ID:           f.nextUserID,
		Email:        email,
		PasswordHash: passwordHash,
		Pattern:      models.PatternComplex,
		Stage:        models.StagePrecontemplation,
		CreatedAt:    time.Now().UTC(),
	}
	f.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (f *Fake) GetUser(_ context.Context, id int) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *Fake) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *Fake) UpdateUserProfile(_ context.Context, id int, upd store.UserProfileUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	if upd.DisplayName != nil {
		v := *upd.DisplayName
		u.DisplayName = &v
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Pattern != nil {
		u.Pattern = *upd.Pattern
	}
	if upd.PatternDescription != nil {
		v := *upd.PatternDescription
		u.PatternDescription = &v
	}
	return nil
}

func (f *Fake) ListUserIDs(_ context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (f *Fake) ListUsersWithEmail(_ context.Context) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, u := range f.users {
		if u.Email != "" {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) SetUserStage(_ context.Context, id int, stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Stage = stage
	return nil
}

func (f *Fake) SetPatternDescriptionIfEmpty(_ context.Context, id int, desc string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.PatternDescription == nil || *u.PatternDescription == "" {
		u.PatternDescription = &desc
	}
	return nil
}

func (f *Fake) CountCompletedSessions(_ context.Context, userID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.UserID == userID && s.Completed {
			n++
		}
	}
	return n, nil
}

func (f *Fake) GetOrCreateOpenSession(_ context.Context, userID int, localDate string) (*models.CheckinSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.LocalDate == localDate && !s.Completed {
			cp := *s
			return &cp, nil
		}
	}
	f.nextSessionID++
	s := &models.CheckinSession{
		ID:        f.nextSessionID,
		UserID:    userID,
		LocalDate: localDate,
		CreatedAt: time.Now().UTC(),
	}
	f.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (f *Fake) GetSession(_ context.Context, id int) (*models.CheckinSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *Fake) MarkSessionCompleted(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.Completed = true
	return nil
}

func (f *Fake) SetSessionInsight(_ context.Context, id int, insight string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.Insight = &insight
	return nil
}

func (f *Fake) SetSessionStress(_ context.Context, id int, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if level < 1 || level > 10 {
		return fmt.Errorf("stress level out of range: %d", level)
	}
	s, ok := f.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.StressLevel = &level
	return nil
}

func (f *Fake) MarkSessionExtracted(_ context.Context, id int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if s.Extracted {
		return false, nil
	}
	s.Extracted = true
	return true, nil
}

func (f *Fake) ListRecentCompleted(_ context.Context, userID, limit int) ([]models.CheckinSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CheckinSession
	for _, s := range f.sessions {
		if s.UserID == userID && s.Completed {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalDate > out[j].LocalDate })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) ListCompletedInRange(_ context.Context, userID int, from, to string) ([]models.CheckinSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CheckinSession
	for _, s := range f.sessions {
		if s.UserID == userID && s.Completed && s.LocalDate >= from && s.LocalDate <= to {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalDate < out[j].LocalDate })
	return out, nil
}

func (f *Fake) ListCompletedUnextracted(_ context.Context, limit int) ([]models.CheckinSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CheckinSession
	for _, s := range f.sessions {
		if s.Completed && !s.Extracted {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) ListSessions(_ context.Context, userID int, from, to string) ([]models.CheckinSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CheckinSession
	for _, s := range f.sessions {
		if s.UserID != userID {
			continue
		}
		if from != "" && s.LocalDate < from {
			continue
		}
		if to != "" && s.LocalDate > to {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalDate > out[j].LocalDate })
	return out, nil
}

func (f *Fake) HasCompletedOn(_ context.Context, userID int, localDate string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.LocalDate == localDate && s.Completed {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) AppendMessage(_ context.Context, sessionID int, role, content string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[sessionID]; !ok {
		return nil, store.ErrNotFound
	}
	f.nextMessageID++
	m := models.Message{
		ID:        f.nextMessageID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	f.messages[sessionID] = append(f.messages[sessionID], m)
	cp := m
	return &cp, nil
}

func (f *Fake) ListMessages(_ context.Context, sessionID int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[sessionID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *Fake) CountMessages(_ context.Context, sessionID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[sessionID]), nil
}

func (f *Fake) InsertExtractedRecords(_ context.Context, recs []models.ExtractedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range recs {
		f.nextRecordID++
		r.ID = f.nextRecordID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		f.records = append(f.records, r)
	}
	return nil
}

func (f *Fake) ListRecordsInRange(_ context.Context, userID int, from, to string) ([]models.ExtractedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ExtractedRecord
	for _, r := range f.records {
		if r.UserID == userID && r.LocalDate >= from && r.LocalDate <= to {
			out = append(out, r)
		}
	}
	return out, nil
}

func aggKey(userID int, typ, periodStart string) string {
	return fmt.Sprintf("%d/%s/%s", userID, typ, periodStart)
}

func (f *Fake) UpsertAggregation(_ context.Context, agg *models.Aggregation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aggKey(agg.UserID, agg.Type, agg.PeriodStart)
	if existing, ok := f.aggs[key]; ok {
		existing.PeriodEnd = agg.PeriodEnd
		existing.Summary = agg.Summary
		existing.Data = agg.Data
		existing.UpdatedAt = time.Now().UTC()
		agg.ID = existing.ID
		return nil
	}
	if agg.ID == "" {
		agg.ID = key
	}
	cp := *agg
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	f.aggs[key] = &cp
	return nil
}

func (f *Fake) GetAggregation(_ context.Context, userID int, typ, periodStart string) (*models.Aggregation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agg, ok := f.aggs[aggKey(userID, typ, periodStart)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *agg
	return &cp, nil
}

func (f *Fake) ListAggregations(_ context.Context, userID int) ([]models.Aggregation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Aggregation
	for _, a := range f.aggs {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart > out[j].PeriodStart })
	return out, nil
}

func (f *Fake) ListAggregationsForPeriod(_ context.Context, typ, periodStart string) ([]models.Aggregation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Aggregation
	for _, a := range f.aggs {
		if a.Type == typ && a.PeriodStart == periodStart {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *Fake) HasSentDelivery(_ context.Context, aggregationID, typ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.dlog {
		if e.AggregationID != nil && *e.AggregationID == aggregationID &&
			e.Type == typ && e.Status == models.DeliverySent {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) HasSentReminder(_ context.Context, userID int, localDate string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.dlog {
		if e.UserID == userID && e.LocalDate != nil && *e.LocalDate == localDate &&
			e.Type == models.DeliveryDailyReminder && e.Status == models.DeliverySent {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) InsertDeliveryLog(_ context.Context, e *models.DeliveryLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == "" {
		f.nextLogID++
		e.ID = fmt.Sprintf("dl-%04d", f.nextLogID)
	}
	cp := *e
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	f.dlog[e.ID] = &cp
	return nil
}

func (f *Fake) UpdateDeliveryStatus(_ context.Context, id, status string, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.dlog[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Status = status
	e.Error = errMsg
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *Fake) Close() error { return nil }

var _ store.Store = (*Fake)(nil)
