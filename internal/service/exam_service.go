package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/veritest/veritest-backend/internal/config"
	"github.com/veritest/veritest-backend/internal/model"
)

// ExamCatalog is the write surface of the exam specification store.
type ExamCatalog interface {
	ExamResolver
	Create(ctx context.Context, e *model.Exam) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error
	ListPublished(ctx context.Context) ([]model.Exam, error)
}

// QuestionCatalog is the write surface of the question specification store.
type QuestionCatalog interface {
	QuestionResolver
	ReplaceForExam(ctx context.Context, examID uuid.UUID, questions []model.Question) error
}

// ExamService handles exam catalog business logic and the Redis payload
// cache students read exam content from.
type ExamService struct {
	exams     ExamCatalog
	questions QuestionCatalog
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamCatalog, questions QuestionCatalog, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams:     exams,
		questions: questions,
		rdb:       rdb,
		log:       log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotAvailable
		}
		return nil, err
	}
	return exam, nil
}

// ListPublished retrieves the exams students can currently see.
func (s *ExamService) ListPublished(ctx context.Context) ([]model.Exam, error) {
	exams, err := s.exams.ListPublished(ctx)
	if err != nil {
		return nil, err
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	return exams, nil
}

// Create inserts a new exam as DRAFT.
func (s *ExamService) Create(ctx context.Context, authorID int, req *model.CreateExamRequest) (*model.Exam, error) {
	exam := &model.Exam{
		Title:                  req.Title,
		Subject:                req.Subject,
		AuthorID:               authorID,
		StartsAt:               req.StartsAt,
		EndsAt:                 req.EndsAt,
		DurationMinutes:        req.DurationMinutes,
		AllowedAttempts:        req.AllowedAttempts,
		PassingMarks:           req.PassingMarks,
		NegativeMarking:        req.NegativeMarking,
		NegativeMarkPercent:    req.NegativeMarkPercent,
		ShowCorrectAnswers:     req.ShowCorrectAnswers,
		ShowResultsImmediately: req.ShowResultsImmediately,
	}
	if err := s.exams.Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}
	exam.Status = model.ExamStatusDraft
	return exam, nil
}

// ReplaceQuestions swaps the full question list of a draft exam. The exam's
// total marks follow the new list.
func (s *ExamService) ReplaceQuestions(ctx context.Context, examID uuid.UUID, authorID int, req *model.ReplaceQuestionsRequest) error {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrExamNotAvailable
		}
		return fmt.Errorf("get exam: %w", err)
	}
	if exam.AuthorID != authorID {
		return ErrNotExamAuthor
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}

	questions := make([]model.Question, len(req.Questions))
	for i, q := range req.Questions {
		position := q.Position
		if position == 0 {
			position = i + 1
		}
		questions[i] = model.Question{
			ExamID:        examID,
			QuestionText:  q.QuestionText,
			QuestionType:  model.QuestionType(q.QuestionType),
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Marks:         q.Marks,
			NegativeMarks: q.NegativeMarks,
			Position:      position,
		}
	}

	if err := s.questions.ReplaceForExam(ctx, examID, questions); err != nil {
		return fmt.Errorf("replace questions: %w", err)
	}
	return nil
}

// Publish changes an exam's status to PUBLISHED and prewarms the student
// payload cache so first-attempt traffic never hits PostgreSQL for content.
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID, authorID int) error {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrExamNotAvailable
		}
		return fmt.Errorf("get exam: %w", err)
	}
	if exam.AuthorID != authorID {
		return ErrNotExamAuthor
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	if err := s.exams.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam published")
	return nil
}

// GetPayload returns the student-facing exam content. Reads hit the Redis
// cache first and fall back to PostgreSQL, self-healing the cache.
func (s *ExamService) GetPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	key := config.CacheKey.ExamPayloadKey(examID.String())

	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, key).Result()
		if err == nil {
			payload := &model.ExamPayload{}
			if err := json.Unmarshal([]byte(raw), payload); err == nil {
				return payload, nil
			}
			s.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt cached payload, rebuilding")
		} else if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Msg("Payload cache read failed")
		}
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotAvailable
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if !exam.Status.Visible() {
		return nil, ErrExamNotAvailable
	}

	payload, err := s.buildPayload(ctx, exam)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if raw, err := json.Marshal(payload); err == nil {
			if err := s.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
				s.log.Warn().Err(err).Msg("Payload cache self-heal failed")
			}
		}
	}
	return payload, nil
}

// WarmExamCache loads an exam's student payload from PostgreSQL into Redis.
// Shared by Publish and PrewarmAllCaches.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	payload, err := s.buildPayload(ctx, exam)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamPayloadKey(exam.ID.String()), raw, 0).Err(); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(payload.Questions)).
		Msg("Cache warmed")
	return nil
}

func (s *ExamService) buildPayload(ctx context.Context, exam *model.Exam) (*model.ExamPayload, error) {
	questions, err := s.questions.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	studentQuestions := make([]model.QuestionForStudent, len(questions))
	for i := range questions {
		studentQuestions[i] = questions[i].StudentView()
	}

	return &model.ExamPayload{
		ExamID:    exam.ID,
		Title:     exam.Title,
		Subject:   exam.Subject,
		Duration:  exam.DurationMinutes,
		Questions: studentQuestions,
	}, nil
}

// PrewarmAllCaches loads all published exams into Redis on startup, so a
// restart never exposes a cold cache to a thundering herd.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.exams.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}
	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().Int("warmed", warmed).Int("total", len(exams)).Msg("Exam caches prewarmed")
	return nil
}
