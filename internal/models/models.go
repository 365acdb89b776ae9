package models

import "time"

// Stage-of-change values, in order. Transitions only ever move forward,
// one step at a time.
const (
	StagePrecontemplation = "precontemplation"
	StageContemplation    = "contemplation"
	StagePreparation      = "preparation"
	StageAction           = "action"
	StageMaintenance      = "maintenance"
)

// StageOrder lists the stages in their fixed progression order.
var StageOrder = []string{
	StagePrecontemplation,
	StageContemplation,
	StagePreparation,
	StageAction,
	StageMaintenance,
}

// ValidStage reports whether s is a known stage name.
func ValidStage(s string) bool {
	for _, st := range StageOrder {
		if st == s {
			return true
		}
	}
	return false
}

// NextStage returns the immediate successor of s, or "" when s is the last
// stage or unknown.
func NextStage(s string) string {
	for i, st := range StageOrder {
		if st == s && i+1 < len(StageOrder) {
			return StageOrder[i+1]
		}
	}
	return ""
}

// Behavioral pattern labels. "complex" covers mixed or unclassified patterns.
const (
	PatternAvoidance  = "avoidance"
	PatternOverwork   = "overwork"
	PatternRumination = "rumination"
	PatternNumbing    = "numbing"
	PatternComplex    = "complex"
)

// Message roles within a check-in session.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type User struct {
	ID                 int       `db:"id" json:"id"`
	Email              string    `db:"email" json:"email"` // Encrypted in DB
	EmailBlindIndex    string    `db:"email_blind_index" json:"-"`
	PasswordHash       string    `db:"password_hash" json:"-"`
	DisplayName        *string   `db:"display_name" json:"display_name,omitempty"`
	Pattern            string    `db:"pattern" json:"pattern"`
	PatternDescription *string   `db:"pattern_description" json:"pattern_description,omitempty"`
	Stage              string    `db:"stage" json:"stage"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

type CheckinSession struct {
	ID          int       `db:"id" json:"id"`
	UserID      int       `db:"user_id" json:"user_id"`
	LocalDate   string    `db:"local_date" json:"local_date"`
	Completed   bool      `db:"completed" json:"completed"`
	StressLevel *int      `db:"stress_level" json:"stress_level,omitempty"`
	Insight     *string   `db:"insight" json:"insight,omitempty"` // Encrypted in DB
	Extracted   bool      `db:"extracted" json:"extracted"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type Message struct {
	ID        int       `db:"id" json:"id"`
	SessionID int       `db:"session_id" json:"session_id"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"` // Encrypted in DB
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ExtractedRecord categories.
const (
	RecordTrigger           = "trigger"
	RecordTriggerChain      = "trigger_chain"
	RecordEmotion           = "emotion"
	RecordEpisodeOccurred   = "episode_occurred"
	RecordEpisodeResisted   = "episode_resisted"
	RecordEpisodeAlmost     = "episode_almost"
	RecordBreakthrough      = "breakthrough"
	RecordAlternativeAction = "alternative_action"
)

type ExtractedRecord struct {
	ID          int       `db:"id" json:"id"`
	SessionID   int       `db:"session_id" json:"session_id"`
	UserID      int       `db:"user_id" json:"user_id"`
	Category    string    `db:"category" json:"category"`
	Description string    `db:"description" json:"description"`
	LocalDate   string    `db:"local_date" json:"local_date"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Aggregation types.
const (
	AggregationWeeklySummary = "weekly_summary"
)

type Aggregation struct {
	ID          string    `db:"id" json:"id"`
	UserID      int       `db:"user_id" json:"user_id"`
	Type        string    `db:"type" json:"type"`
	PeriodStart string    `db:"period_start" json:"period_start"`
	PeriodEnd   string    `db:"period_end" json:"period_end"`
	Summary     string    `db:"summary" json:"summary"`
	Data        []byte    `db:"data" json:"data"` // JSON blob, see aggregate.WeeklyData
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Delivery types, channels and statuses.
const (
	DeliveryWeeklyReflection = "weekly_reflection"
	DeliveryDailyReminder    = "daily_reminder"

	ChannelEmail = "email"

	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

type DeliveryLogEntry struct {
	ID            string    `db:"id" json:"id"`
	UserID        int       `db:"user_id" json:"user_id"`
	AggregationID *string   `db:"aggregation_id" json:"aggregation_id,omitempty"`
	LocalDate     *string   `db:"local_date" json:"local_date,omitempty"` // reminder key
	Type          string    `db:"type" json:"type"`
	Channel       string    `db:"channel" json:"channel"`
	Status        string    `db:"status" json:"status"`
	Error         *string   `db:"error" json:"error,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
