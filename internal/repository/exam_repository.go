package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/veritest/veritest-backend/internal/model"
)

// ExamRepository handles exam specification data access. The attempt engine
// only reads exams; writes happen through the catalog service.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `
	id, title, subject, author_id, status, starts_at, ends_at,
	duration_minutes, allowed_attempts, total_marks, passing_marks,
	negative_marking, negative_mark_percent,
	show_correct_answers, show_results_immediately, created_at, updated_at`

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Subject, &e.AuthorID, &e.Status, &e.StartsAt, &e.EndsAt,
		&e.DurationMinutes, &e.AllowedAttempts, &e.TotalMarks, &e.PassingMarks,
		&e.NegativeMarking, &e.NegativeMarkPercent,
		&e.ShowCorrectAnswers, &e.ShowResultsImmediately, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Create inserts a new exam as DRAFT.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (
			title, subject, author_id, status, starts_at, ends_at,
			duration_minutes, allowed_attempts, passing_marks,
			negative_marking, negative_mark_percent,
			show_correct_answers, show_results_immediately
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Subject, e.AuthorID, model.ExamStatusDraft, e.StartsAt, e.EndsAt,
		e.DurationMinutes, e.AllowedAttempts, e.PassingMarks,
		e.NegativeMarking, e.NegativeMarkPercent,
		e.ShowCorrectAnswers, e.ShowResultsImmediately,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// UpdateStatus changes an exam's lifecycle status.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// ListPublished retrieves exams students can currently see.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams
		 WHERE status IN ($1, $2)
		 ORDER BY starts_at ASC NULLS LAST`,
		model.ExamStatusPublished, model.ExamStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Subject, &e.AuthorID, &e.Status,
			&e.StartsAt, &e.EndsAt, &e.DurationMinutes, &e.AllowedAttempts,
			&e.TotalMarks, &e.PassingMarks, &e.NegativeMarking, &e.NegativeMarkPercent,
			&e.ShowCorrectAnswers, &e.ShowResultsImmediately,
			&e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}
