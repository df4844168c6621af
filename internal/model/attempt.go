package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states. IN_PROGRESS is the only
// non-terminal state; there is no transition out of a terminal state.
type AttemptStatus string

const (
	AttemptStatusInProgress    AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted     AttemptStatus = "SUBMITTED"
	AttemptStatusAutoSubmitted AttemptStatus = "AUTO_SUBMITTED"
	AttemptStatusAbandoned     AttemptStatus = "ABANDONED"
)

// Terminal reports whether the status is final.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusAutoSubmitted || s == AttemptStatusAbandoned
}

// Attempt is one student's numbered attempt at one exam. Marks fields are a
// snapshot of the exam taken at start time. Derived fields (ObtainedMarks,
// Percentage, Grade, IsPassed, Analytics) are recomputed by the scoring
// package, never written independently.
type Attempt struct {
	ID               uuid.UUID        `json:"id"`
	ExamID           uuid.UUID        `json:"exam_id"`
	StudentID        int              `json:"student_id"`
	AttemptNumber    int              `json:"attempt_number"`
	Status           AttemptStatus    `json:"status"`
	TotalMarks       float64          `json:"total_marks"`
	PassingMarks     float64          `json:"passing_marks"`
	DurationMinutes  int              `json:"duration_minutes"`
	NegativeMarking  bool             `json:"negative_marking"`
	NegativeMarkPct  float64          `json:"negative_mark_percent"`
	ObtainedMarks    float64          `json:"obtained_marks"`
	Percentage       float64          `json:"percentage"`
	Grade            string           `json:"grade,omitempty"`
	IsPassed         bool             `json:"is_passed"`
	StartTime        time.Time        `json:"start_time"`
	EndTime          *time.Time       `json:"end_time,omitempty"`
	TimeSpentMinutes int              `json:"time_spent_minutes"`
	Analytics        AttemptAnalytics `json:"analytics"`
	Proctoring       ProctoringState  `json:"proctoring"`
	Answers          []Answer         `json:"answers"`
}

// Deadline is the instant the attempt auto-submits.
func (a *Attempt) Deadline() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// AnswerFor returns the answer slot for questionID, or nil if the question
// is not part of this attempt.
func (a *Attempt) AnswerFor(questionID uuid.UUID) *Answer {
	for i := range a.Answers {
		if a.Answers[i].QuestionID == questionID {
			return &a.Answers[i]
		}
	}
	return nil
}

// Answer is one fixed slot of an attempt, created at start and never resized.
type Answer struct {
	QuestionID        uuid.UUID       `json:"question_id"`
	Position          int             `json:"position"`
	SelectedAnswer    json.RawMessage `json:"selected_answer,omitempty"`
	IsAnswered        bool            `json:"is_answered"`
	IsCorrect         bool            `json:"is_correct"`
	MarksObtained     float64         `json:"marks_obtained"`
	TimeSpentSeconds  int             `json:"time_spent_seconds"`
	IsMarkedForReview bool            `json:"is_marked_for_review"`
}

// AttemptAnalytics holds per-attempt derived counters, filled at finalization.
type AttemptAnalytics struct {
	CorrectCount         int     `json:"correct_count"`
	WrongCount           int     `json:"wrong_count"`
	UnansweredCount      int     `json:"unanswered_count"`
	MarkedForReviewCount int     `json:"marked_for_review_count"`
	Accuracy             float64 `json:"accuracy"`
	AvgTimePerQuestion   float64 `json:"avg_time_per_question"`
	FastestAnswerSeconds int     `json:"fastest_answer_seconds"`
	SlowestAnswerSeconds int     `json:"slowest_answer_seconds"`
}

// ProctoringState accumulates violation counters for an attempt. Incident
// details are persisted separately in an append-only log.
type ProctoringState struct {
	TabSwitches     int `json:"tab_switches"`
	FullscreenExits int `json:"fullscreen_exits"`
	OtherViolations int `json:"other_violations"`
}

// Total is the violation count a disqualification review consumes.
func (p ProctoringState) Total() int {
	return p.TabSwitches + p.FullscreenExits + p.OtherViolations
}

// ViolationKind enumerates proctoring violation categories.
type ViolationKind string

const (
	ViolationTabSwitch      ViolationKind = "TAB_SWITCH"
	ViolationFullscreenExit ViolationKind = "FULLSCREEN_EXIT"
	ViolationOther          ViolationKind = "OTHER"
)

// Incident is one proctoring log entry.
type Incident struct {
	ID         int64         `json:"id"`
	AttemptID  uuid.UUID     `json:"attempt_id"`
	Kind       ViolationKind `json:"kind"`
	Detail     string        `json:"detail,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// RecordAnswerRequest is the payload for answering a question.
type RecordAnswerRequest struct {
	SelectedAnswer   json.RawMessage `json:"selected_answer" binding:"required"`
	TimeSpentSeconds int             `json:"time_spent_seconds" binding:"min=0"`
	MarkedForReview  bool            `json:"marked_for_review"`
}

// StartAttemptRequest is the payload for starting an attempt.
type StartAttemptRequest struct {
	ExamID uuid.UUID `json:"exam_id" binding:"required"`
}

// ReportViolationRequest is the payload for reporting a proctoring violation.
type ReportViolationRequest struct {
	Kind   string `json:"kind" binding:"required,oneof=TAB_SWITCH FULLSCREEN_EXIT OTHER"`
	Detail string `json:"detail" binding:"omitempty,max=1000"`
}
