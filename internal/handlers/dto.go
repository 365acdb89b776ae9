package handlers

import (
	"time"

	"innerpath/internal/models"
)

// UserDTO keeps the API surface stable regardless of how the row is stored:
// plaintext email, RFC3339 created_at, and no hash or blind index.
type UserDTO struct {
	ID                 int     `json:"id"`
	Email              string  `json:"email"`
	CreatedAt          string  `json:"created_at"`
	DisplayName        *string `json:"display_name,omitempty"`
	Pattern            string  `json:"pattern"`
	PatternDescription *string `json:"pattern_description,omitempty"`
	Stage              string  `json:"stage"`
}

func ToUserDTO(u *models.User) UserDTO {
	return UserDTO{
		ID:                 u.ID,
		Email:              u.Email,
		CreatedAt:          u.CreatedAt.Format(time.RFC3339),
		DisplayName:        u.DisplayName,
		Pattern:            u.Pattern,
		PatternDescription: u.PatternDescription,
		Stage:              u.Stage,
	}
}

// CheckinDTO is one check-in session as the API presents it.
type CheckinDTO struct {
	ID          int     `json:"id"`
	LocalDate   string  `json:"local_date"`
	Completed   bool    `json:"completed"`
	StressLevel *int    `json:"stress_level,omitempty"`
	Insight     *string `json:"insight,omitempty"`
}

func ToCheckinDTO(s *models.CheckinSession) CheckinDTO {
	return CheckinDTO{
		ID:          s.ID,
		LocalDate:   s.LocalDate,
		Completed:   s.Completed,
		StressLevel: s.StressLevel,
		Insight:     s.Insight,
	}
}

// MessageDTO is one transcript message.
type MessageDTO struct {
	ID        int    `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func ToMessageDTO(m *models.Message) MessageDTO {
	return MessageDTO{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

// ReflectionDTO is one weekly aggregation. Data is the structured rollup
// blob, passed through verbatim.
type ReflectionDTO struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	Summary     string `json:"summary"`
	Data        any    `json:"data,omitempty"`
}
