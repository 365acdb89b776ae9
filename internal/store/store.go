package store

import (
	"context"
	"errors"

	"innerpath/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// UserProfileUpdate carries the optional profile fields a user may change.
// Nil fields are left untouched.
type UserProfileUpdate struct {
	DisplayName        *string
	Email              *string
	Pattern            *string
	PatternDescription *string
}

// Store defines all persistence operations the services need. It abstracts
// Postgres so higher layers never depend on a specific DB, and so tests can
// substitute an in-memory fake.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)
	GetUser(ctx context.Context, id int) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUserProfile(ctx context.Context, id int, upd UserProfileUpdate) error
	ListUserIDs(ctx context.Context) ([]int, error)
	ListUsersWithEmail(ctx context.Context) ([]models.User, error)
	SetUserStage(ctx context.Context, id int, stage string) error
	// SetPatternDescriptionIfEmpty writes the description only when none is
	// recorded yet; later extractions never overwrite it.
	SetPatternDescriptionIfEmpty(ctx context.Context, id int, desc string) error
	CountCompletedSessions(ctx context.Context, userID int) (int, error)

	// GetOrCreateOpenSession returns the incomplete session for the given
	// date, creating one if needed. Completed sessions are never reopened.
	GetOrCreateOpenSession(ctx context.Context, userID int, localDate string) (*models.CheckinSession, error)
	GetSession(ctx context.Context, id int) (*models.CheckinSession, error)
	MarkSessionCompleted(ctx context.Context, id int) error
	SetSessionInsight(ctx context.Context, id int, insight string) error
	SetSessionStress(ctx context.Context, id int, level int) error
	// MarkSessionExtracted flips the extracted flag and reports whether this
	// caller won the compare-and-set (false when already extracted).
	MarkSessionExtracted(ctx context.Context, id int) (bool, error)
	ListRecentCompleted(ctx context.Context, userID, limit int) ([]models.CheckinSession, error)
	ListCompletedInRange(ctx context.Context, userID int, from, to string) ([]models.CheckinSession, error)
	ListCompletedUnextracted(ctx context.Context, limit int) ([]models.CheckinSession, error)
	ListSessions(ctx context.Context, userID int, from, to string) ([]models.CheckinSession, error)
	HasCompletedOn(ctx context.Context, userID int, localDate string) (bool, error)

	AppendMessage(ctx context.Context, sessionID int, role, content string) (*models.Message, error)
	ListMessages(ctx context.Context, sessionID int) ([]models.Message, error)
	CountMessages(ctx context.Context, sessionID int) (int, error)

	InsertExtractedRecords(ctx context.Context, recs []models.ExtractedRecord) error
	ListRecordsInRange(ctx context.Context, userID int, from, to string) ([]models.ExtractedRecord, error)

	UpsertAggregation(ctx context.Context, agg *models.Aggregation) error
	GetAggregation(ctx context.Context, userID int, typ, periodStart string) (*models.Aggregation, error)
	ListAggregations(ctx context.Context, userID int) ([]models.Aggregation, error)
	ListAggregationsForPeriod(ctx context.Context, typ, periodStart string) ([]models.Aggregation, error)

	HasSentDelivery(ctx context.Context, aggregationID, typ string) (bool, error)
	HasSentReminder(ctx context.Context, userID int, localDate string) (bool, error)
	InsertDeliveryLog(ctx context.Context, e *models.DeliveryLogEntry) error
	UpdateDeliveryStatus(ctx context.Context, id, status string, errMsg *string) error

	Close() error
}
