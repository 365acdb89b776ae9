package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"innerpath/internal/models"
	"innerpath/internal/services"
)

// SQLStore is the Postgres-backed Store. Sensitive columns (email, message
// content, session insight) pass through the encryption service on the way
// in and out.
type SQLStore struct {
	db  *sqlx.DB
	enc *services.EncryptionService
}

func NewSQLStore(db *sqlx.DB, enc *services.EncryptionService) *SQLStore {
	return &SQLStore{db: db, enc: enc}
}

func (s *SQLStore) Close() error { return s.db.Close() }

const userCols = `id, email, email_blind_index, password_hash, display_name, pattern, pattern_description, stage, created_at`

func (s *SQLStore) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	u := models.User{Email: email}
	if err := s.enc.EncryptUser(&u); err != nil {
		return nil, fmt.Errorf("encrypt user: %w", err)
	}
	var out models.User
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO users (email, email_blind_index, password_hash) VALUES ($1, $2, $3) RETURNING `+userCols,
		u.Email, u.EmailBlindIndex, passwordHash).StructScan(&out)
	if err != nil {
		return nil, err
	}
	out.Email = email
	return &out, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id int) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userCols+` FROM users WHERE id=$1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.enc.DecryptUser(&u); err != nil {
		return nil, fmt.Errorf("decrypt user: %w", err)
	}
	return &u, nil
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	idx := s.enc.GenerateEmailBlindIndex(email)
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userCols+` FROM users WHERE email_blind_index=$1`, idx)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Email = email
	return &u, nil
}

func (s *SQLStore) UpdateUserProfile(ctx context.Context, id int, upd UserProfileUpdate) error {
	setClauses := []string{}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if upd.DisplayName != nil {
		setClauses = append(setClauses, "display_name="+arg(*upd.DisplayName))
	}
	if upd.Email != nil {
		u := models.User{Email: *upd.Email}
		if err := s.enc.EncryptUser(&u); err != nil {
			return fmt.Errorf("encrypt email: %w", err)
		}
		setClauses = append(setClauses, "email="+arg(u.Email))
		setClauses = append(setClauses, "email_blind_index="+arg(u.EmailBlindIndex))
	}
	if upd.Pattern != nil {
		setClauses = append(setClauses, "pattern="+arg(*upd.Pattern))
	}
	if upd.PatternDescription != nil {
		setClauses = append(setClauses, "pattern_description="+arg(*upd.PatternDescription))
	}
	if len(setClauses) == 0 {
		return nil
	}
	query := "UPDATE users SET " + joinClauses(setClauses) + " WHERE id=" + arg(id)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func joinClauses(parts []string) string {
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += ", " + parts[i]
	}
	return out
}

func (s *SQLStore) ListUserIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM users ORDER BY id`)
	return ids, err
}

func (s *SQLStore) ListUsersWithEmail(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.SelectContext(ctx, &users, `SELECT `+userCols+` FROM users WHERE email <> '' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if err := s.enc.DecryptUser(&users[i]); err != nil {
			return nil, fmt.Errorf("decrypt user %d: %w", users[i].ID, err)
		}
	}
	return users, nil
}

func (s *SQLStore) SetUserStage(ctx context.Context, id int, stage string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET stage=$2 WHERE id=$1`, id, stage)
	return err
}

func (s *SQLStore) SetPatternDescriptionIfEmpty(ctx context.Context, id int, desc string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET pattern_description=$2
		 WHERE id=$1 AND (pattern_description IS NULL OR pattern_description='')`, id, desc)
	return err
}

func (s *SQLStore) CountCompletedSessions(ctx context.Context, userID int) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM checkin_sessions WHERE user_id=$1 AND completed`, userID)
	return n, err
}

const sessionCols = `id, user_id, local_date::text AS local_date, completed, stress_level, insight, extracted, created_at`

func (s *SQLStore) decryptSession(sess *models.CheckinSession) error {
	if sess.Insight != nil && *sess.Insight != "" {
		plain, err := s.enc.DecryptInsight(*sess.Insight)
		if err != nil {
			return err
		}
		sess.Insight = &plain
	}
	return nil
}

func (s *SQLStore) GetOrCreateOpenSession(ctx context.Context, userID int, localDate string) (*models.CheckinSession, error) {
	var sess models.CheckinSession
	err := s.db.GetContext(ctx, &sess,
		`SELECT `+sessionCols+` FROM checkin_sessions
		 WHERE user_id=$1 AND local_date=$2::date AND NOT completed`, userID, localDate)
	if err == nil {
		return &sess, s.decryptSession(&sess)
	}
	if err != sql.ErrNoRows {
		return nil, err
	}
	// Racing creators land on the same row through the partial unique index.
	err = s.db.QueryRowxContext(ctx,
		`INSERT INTO checkin_sessions (user_id, local_date) VALUES ($1, $2::date)
		 ON CONFLICT (user_id, local_date) WHERE NOT completed DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING `+sessionCols, userID, localDate).StructScan(&sess)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLStore) GetSession(ctx context.Context, id int) (*models.CheckinSession, error) {
	var sess models.CheckinSession
	err := s.db.GetContext(ctx, &sess, `SELECT `+sessionCols+` FROM checkin_sessions WHERE id=$1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, s.decryptSession(&sess)
}

func (s *SQLStore) MarkSessionCompleted(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE checkin_sessions SET completed=true WHERE id=$1`, id)
	return err
}

func (s *SQLStore) SetSessionInsight(ctx context.Context, id int, insight string) error {
	encrypted, err := s.enc.EncryptInsight(insight)
	if err != nil {
		return fmt.Errorf("encrypt insight: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE checkin_sessions SET insight=$2 WHERE id=$1`, id, encrypted)
	return err
}

func (s *SQLStore) SetSessionStress(ctx context.Context, id int, level int) error {
	if level < 1 || level > 10 {
		return errors.New("stress level out of range")
	}
	_, err := s.db.ExecContext(ctx, `UPDATE checkin_sessions SET stress_level=$2 WHERE id=$1`, id, level)
	return err
}

func (s *SQLStore) MarkSessionExtracted(ctx context.Context, id int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checkin_sessions SET extracted=true WHERE id=$1 AND NOT extracted`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLStore) ListRecentCompleted(ctx context.Context, userID, limit int) ([]models.CheckinSession, error) {
	var out []models.CheckinSession
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+sessionCols+` FROM checkin_sessions
		 WHERE user_id=$1 AND completed ORDER BY local_date DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.decryptSession(&out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) ListCompletedInRange(ctx context.Context, userID int, from, to string) ([]models.CheckinSession, error) {
	var out []models.CheckinSession
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+sessionCols+` FROM checkin_sessions
		 WHERE user_id=$1 AND completed AND local_date >= $2::date AND local_date <= $3::date
		 ORDER BY local_date`, userID, from, to)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.decryptSession(&out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) ListCompletedUnextracted(ctx context.Context, limit int) ([]models.CheckinSession, error) {
	var out []models.CheckinSession
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+sessionCols+` FROM checkin_sessions
		 WHERE completed AND NOT extracted ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.decryptSession(&out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, userID int, from, to string) ([]models.CheckinSession, error) {
	where := `user_id=$1`
	args := []interface{}{userID}
	if from != "" {
		args = append(args, from)
		where += fmt.Sprintf(" AND local_date >= $%d::date", len(args))
	}
	if to != "" {
		args = append(args, to)
		where += fmt.Sprintf(" AND local_date <= $%d::date", len(args))
	}
	var out []models.CheckinSession
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+sessionCols+` FROM checkin_sessions WHERE `+where+` ORDER BY local_date DESC LIMIT 100`, args...)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.decryptSession(&out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) HasCompletedOn(ctx context.Context, userID int, localDate string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM checkin_sessions WHERE user_id=$1 AND local_date=$2::date AND completed)`,
		userID, localDate)
	return exists, err
}

func (s *SQLStore) AppendMessage(ctx context.Context, sessionID int, role, content string) (*models.Message, error) {
	m := models.Message{SessionID: sessionID, Role: role, Content: content}
	if err := s.enc.EncryptMessage(&m); err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	var out models.Message
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO messages (session_id, role, content) VALUES ($1, $2, $3)
		 RETURNING id, session_id, role, content, created_at`,
		m.SessionID, m.Role, m.Content).StructScan(&out)
	if err != nil {
		return nil, err
	}
	out.Content = content
	return &out, nil
}

func (s *SQLStore) ListMessages(ctx context.Context, sessionID int) ([]models.Message, error) {
	var out []models.Message
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id=$1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.enc.DecryptMessage(&out[i]); err != nil {
			return nil, fmt.Errorf("decrypt message %d: %w", out[i].ID, err)
		}
	}
	return out, nil
}

func (s *SQLStore) CountMessages(ctx context.Context, sessionID int) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE session_id=$1`, sessionID)
	return n, err
}

func (s *SQLStore) InsertExtractedRecords(ctx context.Context, recs []models.ExtractedRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const q = `INSERT INTO extracted_records (session_id, user_id, category, description, local_date)
	           VALUES ($1, $2, $3, $4, $5::date)`
	for i := range recs {
		r := &recs[i]
		if _, err := tx.ExecContext(ctx, q, r.SessionID, r.UserID, r.Category, r.Description, r.LocalDate); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) ListRecordsInRange(ctx context.Context, userID int, from, to string) ([]models.ExtractedRecord, error) {
	var out []models.ExtractedRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, session_id, user_id, category, description, local_date::text AS local_date, created_at
		 FROM extracted_records
		 WHERE user_id=$1 AND local_date >= $2::date AND local_date <= $3::date
		 ORDER BY local_date, id`, userID, from, to)
	return out, err
}

const aggCols = `id, user_id, type, period_start::text AS period_start, period_end::text AS period_end, summary, data, created_at, updated_at`

func (s *SQLStore) UpsertAggregation(ctx context.Context, agg *models.Aggregation) error {
	if agg.ID == "" {
		agg.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO aggregations (id, user_id, type, period_start, period_end, summary, data)
		 VALUES ($1, $2, $3, $4::date, $5::date, $6, $7)
		 ON CONFLICT (user_id, type, period_start)
		 DO UPDATE SET period_end = EXCLUDED.period_end,
		               summary = EXCLUDED.summary,
		               data = EXCLUDED.data,
		               updated_at = NOW()`,
		agg.ID, agg.UserID, agg.Type, agg.PeriodStart, agg.PeriodEnd, agg.Summary, agg.Data)
	return err
}

func (s *SQLStore) GetAggregation(ctx context.Context, userID int, typ, periodStart string) (*models.Aggregation, error) {
	var agg models.Aggregation
	err := s.db.GetContext(ctx, &agg,
		`SELECT `+aggCols+` FROM aggregations WHERE user_id=$1 AND type=$2 AND period_start=$3::date`,
		userID, typ, periodStart)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (s *SQLStore) ListAggregations(ctx context.Context, userID int) ([]models.Aggregation, error) {
	var out []models.Aggregation
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+aggCols+` FROM aggregations WHERE user_id=$1 ORDER BY period_start DESC LIMIT 52`, userID)
	return out, err
}

func (s *SQLStore) ListAggregationsForPeriod(ctx context.Context, typ, periodStart string) ([]models.Aggregation, error) {
	var out []models.Aggregation
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+aggCols+` FROM aggregations WHERE type=$1 AND period_start=$2::date ORDER BY user_id`,
		typ, periodStart)
	return out, err
}

func (s *SQLStore) HasSentDelivery(ctx context.Context, aggregationID, typ string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM delivery_log WHERE aggregation_id=$1 AND type=$2 AND status='sent')`,
		aggregationID, typ)
	return exists, err
}

func (s *SQLStore) HasSentReminder(ctx context.Context, userID int, localDate string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM delivery_log WHERE user_id=$1 AND local_date=$2::date AND type=$3 AND status='sent')`,
		userID, localDate, models.DeliveryDailyReminder)
	return exists, err
}

func (s *SQLStore) InsertDeliveryLog(ctx context.Context, e *models.DeliveryLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_log (id, user_id, aggregation_id, local_date, type, channel, status, error)
		 VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.AggregationID, e.LocalDate, e.Type, e.Channel, e.Status, e.Error)
	return err
}

func (s *SQLStore) UpdateDeliveryStatus(ctx context.Context, id, status string, errMsg *string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE delivery_log SET status=$2, error=$3, updated_at=NOW() WHERE id=$1`, id, status, errMsg)
	return err
}

var _ Store = (*SQLStore)(nil)
