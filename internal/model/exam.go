package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusActive    ExamStatus = "ACTIVE"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam is the read-side specification of a scheduled assessment. The attempt
// engine never mutates it after publish; attempts copy the marks fields at
// start time so later edits cannot affect a running attempt.
type Exam struct {
	ID                     uuid.UUID  `json:"id"`
	Title                  string     `json:"title"`
	Subject                string     `json:"subject"`
	AuthorID               int        `json:"author_id"`
	Status                 ExamStatus `json:"status"`
	StartsAt               *time.Time `json:"starts_at,omitempty"`
	EndsAt                 *time.Time `json:"ends_at,omitempty"`
	DurationMinutes        int        `json:"duration_minutes"`
	AllowedAttempts        int        `json:"allowed_attempts"`
	TotalMarks             float64    `json:"total_marks"`
	PassingMarks           float64    `json:"passing_marks"`
	NegativeMarking        bool       `json:"negative_marking"`
	NegativeMarkPercent    float64    `json:"negative_mark_percent"`
	ShowCorrectAnswers     bool       `json:"show_correct_answers"`
	ShowResultsImmediately bool       `json:"show_results_immediately"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Visible reports whether students may see the exam's content.
func (s ExamStatus) Visible() bool {
	return s == ExamStatusPublished || s == ExamStatusActive
}

// Takeable reports whether the exam can accept a new attempt at t.
// A nil schedule bound is open-ended.
func (e *Exam) Takeable(t time.Time) bool {
	if !e.Status.Visible() {
		return false
	}
	if e.StartsAt != nil && t.Before(*e.StartsAt) {
		return false
	}
	if e.EndsAt != nil && t.After(*e.EndsAt) {
		return false
	}
	return true
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title                  string     `json:"title" binding:"required,min=3,max=255"`
	Subject                string     `json:"subject" binding:"required,min=2,max=100"`
	StartsAt               *time.Time `json:"starts_at" binding:"omitempty"`
	EndsAt                 *time.Time `json:"ends_at" binding:"omitempty,gtfield=StartsAt"`
	DurationMinutes        int        `json:"duration_minutes" binding:"required,min=1,max=480"`
	AllowedAttempts        int        `json:"allowed_attempts" binding:"required,min=1,max=20"`
	PassingMarks           float64    `json:"passing_marks" binding:"min=0"`
	NegativeMarking        bool       `json:"negative_marking"`
	NegativeMarkPercent    float64    `json:"negative_mark_percent" binding:"min=0,max=100"`
	ShowCorrectAnswers     bool       `json:"show_correct_answers"`
	ShowResultsImmediately bool       `json:"show_results_immediately"`
}

// ExamPayload is the Redis-cached exam view sent to students (no correct answers).
type ExamPayload struct {
	ExamID    uuid.UUID            `json:"exam_id"`
	Title     string               `json:"title"`
	Subject   string               `json:"subject"`
	Duration  int                  `json:"duration_minutes"`
	Questions []QuestionForStudent `json:"questions"`
}
