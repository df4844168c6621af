package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/veritest/veritest-backend/internal/model"
	"github.com/veritest/veritest-backend/internal/repository"
	"github.com/veritest/veritest-backend/internal/scoring"
)

// startRetries bounds the attempt-number retry loop when two concurrent
// starts mint the same number.
const startRetries = 3

// AttemptStore is the persistence surface the lifecycle manager needs. The
// pgx-backed repository implements it; tests use an in-memory fake.
type AttemptStore interface {
	Create(ctx context.Context, a *model.Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetInProgress(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error)
	CountTerminal(ctx context.Context, examID uuid.UUID, studentID int) (int, error)
	MaxAttemptNumber(ctx context.Context, examID uuid.UUID, studentID int) (int, error)
	UpdateAnswerSlot(ctx context.Context, attemptID uuid.UUID, ans *model.Answer) (bool, error)
	RefreshProgress(ctx context.Context, attemptID uuid.UUID) (bool, error)
	// Finalize applies the terminal transition in a. The store re-reads the
	// answer slots and derives the frozen aggregates from them inside the
	// same transaction as the status flip, then writes the result back into
	// a. Returns false when the attempt was already terminal.
	Finalize(ctx context.Context, a *model.Attempt) (bool, error)
	IncrementViolation(ctx context.Context, attemptID uuid.UUID, kind model.ViolationKind) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error)
}

// ExamResolver reads exam specifications.
type ExamResolver interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// QuestionResolver reads immutable question specifications.
type QuestionResolver interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// IncidentSink receives proctoring incidents for asynchronous persistence.
type IncidentSink interface {
	Enqueue(ctx context.Context, incident model.Incident) error
}

// ResultNotice is the payload queued for the notification dispatcher when a
// finalized attempt's results are ready.
type ResultNotice struct {
	AttemptID     uuid.UUID           `json:"attempt_id"`
	ExamID        uuid.UUID           `json:"exam_id"`
	StudentID     int                 `json:"student_id"`
	Status        model.AttemptStatus `json:"status"`
	ObtainedMarks float64             `json:"obtained_marks"`
	Percentage    float64             `json:"percentage"`
	Grade         string              `json:"grade"`
	IsPassed      bool                `json:"is_passed"`
}

// ResultQueue receives result notices for asynchronous dispatch.
type ResultQueue interface {
	Enqueue(ctx context.Context, notice ResultNotice) error
}

// MonitorPublisher fans attempt lifecycle events out to live observers.
// Publishing is best-effort; failures are logged, never propagated.
type MonitorPublisher interface {
	Publish(ctx context.Context, event MonitorEvent)
}

// MonitorEvent is one live monitoring message for an exam channel.
type MonitorEvent struct {
	Type      string    `json:"type"`
	ExamID    uuid.UUID `json:"exam_id"`
	AttemptID uuid.UUID `json:"attempt_id"`
	StudentID int       `json:"student_id"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// AttemptService is the attempt lifecycle manager: it owns creation,
// eligibility checks and state transitions. All mutations go through
// status-guarded store operations so raced writers no-op.
type AttemptService struct {
	store          AttemptStore
	exams          ExamResolver
	questions      QuestionResolver
	incidents      IncidentSink
	results        ResultQueue
	monitor        MonitorPublisher
	violationLimit int
	log            zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	store AttemptStore,
	exams ExamResolver,
	questions QuestionResolver,
	incidents IncidentSink,
	results ResultQueue,
	monitor MonitorPublisher,
	violationLimit int,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		store:          store,
		exams:          exams,
		questions:      questions,
		incidents:      incidents,
		results:        results,
		monitor:        monitor,
		violationLimit: violationLimit,
		log:            log.With().Str("component", "attempt_service").Logger(),
	}
}

// StartAttempt creates a new attempt for (exam, student) or resumes the
// existing in-progress one. Attempt numbers are minted against the store's
// unique constraint, so two concurrent starts can never both succeed with
// the same number.
func (s *AttemptService) StartAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotAvailable
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	now := time.Now()
	if !exam.Takeable(now) {
		return nil, ErrExamNotAvailable
	}

	// Idempotent resume: an existing in-progress attempt is returned as-is.
	existing, err := s.store.GetInProgress(ctx, examID, studentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check in-progress attempt: %w", err)
	}

	terminal, err := s.store.CountTerminal(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("count terminal attempts: %w", err)
	}
	if terminal >= exam.AllowedAttempts {
		return nil, ErrAttemptLimitExceeded
	}

	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrExamNotAvailable
	}

	for i := 0; i < startRetries; i++ {
		maxNumber, err := s.store.MaxAttemptNumber(ctx, examID, studentID)
		if err != nil {
			return nil, fmt.Errorf("max attempt number: %w", err)
		}

		attempt := newAttempt(exam, studentID, maxNumber+1, questions, now)

		err = s.store.Create(ctx, attempt)
		if err == nil {
			s.monitor.Publish(ctx, MonitorEvent{
				Type: "attempt_started", ExamID: examID,
				AttemptID: attempt.ID, StudentID: studentID, At: now,
			})
			return attempt, nil
		}

		switch repository.ClassifyDuplicate(err) {
		case repository.DuplicateInProgress:
			// Lost the double-start race: the winner's attempt is ours too.
			winner, fetchErr := s.store.GetInProgress(ctx, examID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, fetch failed: %w", fetchErr)
			}
			return winner, nil
		case repository.DuplicateNumber:
			continue
		default:
			return nil, fmt.Errorf("create attempt: %w", err)
		}
	}

	return nil, fmt.Errorf("create attempt: retries exhausted for exam %s student %d", examID, studentID)
}

// newAttempt materializes an attempt from the exam snapshot with one
// unanswered slot per question, in question order.
func newAttempt(exam *model.Exam, studentID, number int, questions []model.Question, now time.Time) *model.Attempt {
	a := &model.Attempt{
		ExamID:          exam.ID,
		StudentID:       studentID,
		AttemptNumber:   number,
		Status:          model.AttemptStatusInProgress,
		TotalMarks:      exam.TotalMarks,
		PassingMarks:    exam.PassingMarks,
		DurationMinutes: exam.DurationMinutes,
		NegativeMarking: exam.NegativeMarking,
		NegativeMarkPct: exam.NegativeMarkPercent,
		StartTime:       now,
		Answers:         make([]model.Answer, len(questions)),
	}
	for i := range questions {
		a.Answers[i] = model.Answer{
			QuestionID: questions[i].ID,
			Position:   questions[i].Position,
		}
	}
	return a
}

// RecordAnswer validates and scores one submitted answer, overwriting the
// question's slot. Re-answering before finalize is allowed; the slot is
// simply overwritten. The slot write and the aggregate refresh are both
// conditional on the attempt still being in progress.
func (s *AttemptService) RecordAnswer(
	ctx context.Context,
	attemptID uuid.UUID,
	callerID int,
	questionID uuid.UUID,
	req *model.RecordAnswerRequest,
) (*model.Answer, error) {
	attempt, err := s.getOwned(ctx, attemptID, callerID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptNotInProgress
	}
	if attempt.AnswerFor(questionID) == nil {
		return nil, ErrQuestionNotInAttempt
	}

	question, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}

	result := scoring.EvaluateWithPolicy(question, req.SelectedAnswer, scoring.NegativePolicy{
		Enabled: attempt.NegativeMarking,
		Percent: attempt.NegativeMarkPct,
	})

	answer := &model.Answer{
		QuestionID:        questionID,
		Position:          question.Position,
		SelectedAnswer:    req.SelectedAnswer,
		IsAnswered:        true,
		IsCorrect:         result.IsCorrect,
		MarksObtained:     result.MarksDelta,
		TimeSpentSeconds:  req.TimeSpentSeconds,
		IsMarkedForReview: req.MarkedForReview,
	}

	ok, err := s.store.UpdateAnswerSlot(ctx, attemptID, answer)
	if err != nil {
		return nil, fmt.Errorf("update answer slot: %w", err)
	}
	if !ok {
		// Finalized between our status check and the write.
		return nil, ErrAttemptNotInProgress
	}

	// Refresh obtained marks/percentage from the slots. A raced finalize
	// makes this a no-op, which is fine: finalize derives from the slots
	// itself.
	if _, err := s.store.RefreshProgress(ctx, attemptID); err != nil {
		return nil, fmt.Errorf("refresh progress: %w", err)
	}

	return answer, nil
}

// Finalize moves an attempt to a terminal submit state and runs the full
// metrics derivation. Idempotent: a second call — or the loser of a manual
// submit racing the timeout auto-submit — observes the winner's result and
// performs no further mutation. callerID 0 is the system (sweeper).
func (s *AttemptService) Finalize(ctx context.Context, attemptID uuid.UUID, callerID int, reason model.AttemptStatus) (*model.Attempt, error) {
	if reason != model.AttemptStatusSubmitted && reason != model.AttemptStatusAutoSubmitted {
		return nil, fmt.Errorf("invalid finalize reason %q", reason)
	}

	attempt, err := s.getOwned(ctx, attemptID, callerID)
	if err != nil {
		return nil, err
	}
	if attempt.Status.Terminal() {
		return attempt, nil
	}

	finalized, err := s.finalizeInProgress(ctx, attempt, reason)
	if err != nil {
		return nil, err
	}

	s.afterFinalize(ctx, finalized)
	return finalized, nil
}

// finalizeInProgress applies the terminal transition to an attempt the
// caller has observed as in-progress. The store derives the frozen
// aggregates from the authoritative answer slots inside the transition, so
// an answer landing between our read and the status flip is still counted.
// When the race is lost the winner's attempt is returned unchanged.
func (s *AttemptService) finalizeInProgress(ctx context.Context, attempt *model.Attempt, reason model.AttemptStatus) (*model.Attempt, error) {
	now := time.Now()
	attempt.Status = reason
	attempt.EndTime = &now
	attempt.TimeSpentMinutes = int(math.Round(now.Sub(attempt.StartTime).Minutes()))

	won, err := s.store.Finalize(ctx, attempt)
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}
	if !won {
		current, err := s.store.GetByID(ctx, attempt.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch finalized attempt: %w", err)
		}
		return current, nil
	}
	return attempt, nil
}

// afterFinalize queues the result notification and publishes the monitor
// event. Both are best-effort.
func (s *AttemptService) afterFinalize(ctx context.Context, attempt *model.Attempt) {
	exam, err := s.exams.GetByID(ctx, attempt.ExamID)
	if err == nil && exam.ShowResultsImmediately {
		notice := ResultNotice{
			AttemptID:     attempt.ID,
			ExamID:        attempt.ExamID,
			StudentID:     attempt.StudentID,
			Status:        attempt.Status,
			ObtainedMarks: attempt.ObtainedMarks,
			Percentage:    attempt.Percentage,
			Grade:         attempt.Grade,
			IsPassed:      attempt.IsPassed,
		}
		if err := s.results.Enqueue(ctx, notice); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to queue result notice")
		}
	}

	s.monitor.Publish(ctx, MonitorEvent{
		Type:      "attempt_finalized",
		ExamID:    attempt.ExamID,
		AttemptID: attempt.ID,
		StudentID: attempt.StudentID,
		Detail:    string(attempt.Status),
		At:        time.Now(),
	})
}

// GetAttempt returns an attempt to its owner or a privileged caller. The
// student view hides correctness details until the attempt is terminal, and
// entirely when the exam withholds correct answers.
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID uuid.UUID, callerID int, privileged bool) (*model.Attempt, error) {
	attempt, err := s.store.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if privileged {
		return attempt, nil
	}
	if attempt.StudentID != callerID {
		return nil, ErrNotOwner
	}

	exam, err := s.exams.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	redactForStudent(attempt, exam)
	return attempt, nil
}

// redactForStudent strips fields the exam's visibility flags withhold.
func redactForStudent(a *model.Attempt, exam *model.Exam) {
	hideCorrectness := !a.Status.Terminal() || !exam.ShowCorrectAnswers
	if !a.Status.Terminal() && !exam.ShowResultsImmediately {
		a.ObtainedMarks = 0
		a.Percentage = 0
	}
	if !a.Status.Terminal() {
		a.Grade = ""
		a.IsPassed = false
	}
	if hideCorrectness {
		for i := range a.Answers {
			a.Answers[i].IsCorrect = false
			a.Answers[i].MarksObtained = 0
		}
	}
}

// ListAttempts returns all attempts of a student, newest first.
func (s *AttemptService) ListAttempts(ctx context.Context, studentID int) ([]model.Attempt, error) {
	return s.store.ListByStudent(ctx, studentID)
}

// RecordViolation accumulates one proctoring violation on an in-progress
// attempt and queues the incident for the batch persister.
func (s *AttemptService) RecordViolation(ctx context.Context, attemptID uuid.UUID, callerID int, kind model.ViolationKind, detail string) error {
	attempt, err := s.getOwned(ctx, attemptID, callerID)
	if err != nil {
		return err
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return ErrAttemptNotInProgress
	}

	ok, err := s.store.IncrementViolation(ctx, attemptID, kind)
	if err != nil {
		return fmt.Errorf("increment violation: %w", err)
	}
	if !ok {
		return ErrAttemptNotInProgress
	}

	incident := model.Incident{
		AttemptID:  attemptID,
		Kind:       kind,
		Detail:     detail,
		RecordedAt: time.Now(),
	}
	if err := s.incidents.Enqueue(ctx, incident); err != nil {
		// The counter is already durable; the detail log is best-effort.
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to queue incident")
	}

	s.monitor.Publish(ctx, MonitorEvent{
		Type:      "violation",
		ExamID:    attempt.ExamID,
		AttemptID: attemptID,
		StudentID: attempt.StudentID,
		Detail:    string(kind),
		At:        time.Now(),
	})
	return nil
}

// Disqualify administratively abandons an in-progress attempt. The decision
// input is the accumulated violation count; callers may override the
// threshold check with force.
func (s *AttemptService) Disqualify(ctx context.Context, attemptID uuid.UUID, force bool) (*model.Attempt, error) {
	attempt, err := s.store.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Status.Terminal() {
		return nil, ErrAttemptNotInProgress
	}
	if !force && attempt.Proctoring.Total() < s.violationLimit {
		return nil, fmt.Errorf("violation count %d below limit %d", attempt.Proctoring.Total(), s.violationLimit)
	}

	now := time.Now()
	attempt.Status = model.AttemptStatusAbandoned
	attempt.EndTime = &now
	attempt.TimeSpentMinutes = int(math.Round(now.Sub(attempt.StartTime).Minutes()))

	won, err := s.store.Finalize(ctx, attempt)
	if err != nil {
		return nil, fmt.Errorf("disqualify attempt: %w", err)
	}
	if !won {
		return nil, ErrAttemptNotInProgress
	}

	s.monitor.Publish(ctx, MonitorEvent{
		Type:      "attempt_disqualified",
		ExamID:    attempt.ExamID,
		AttemptID: attempt.ID,
		StudentID: attempt.StudentID,
		At:        now,
	})
	return attempt, nil
}

// SweepExpired finalizes every in-progress attempt whose deadline has
// passed. Safe to run concurrently with manual submits: each finalize is
// status-guarded. Returns the number of attempts auto-submitted.
func (s *AttemptService) SweepExpired(ctx context.Context, batchSize int) (int, error) {
	ids, err := s.store.ListExpired(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired attempts: %w", err)
	}

	swept := 0
	for _, id := range ids {
		if _, err := s.Finalize(ctx, id, 0, model.AttemptStatusAutoSubmitted); err != nil {
			s.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Auto-submit failed")
			continue
		}
		swept++
	}
	return swept, nil
}

// getOwned fetches an attempt and enforces ownership. callerID 0 bypasses
// the owner check (system callers).
func (s *AttemptService) getOwned(ctx context.Context, attemptID uuid.UUID, callerID int) (*model.Attempt, error) {
	attempt, err := s.store.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if callerID != 0 && attempt.StudentID != callerID {
		return nil, ErrNotOwner
	}
	return attempt, nil
}
