package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/veritest/veritest-backend/internal/stats"
)

// StatsRepository projects terminal attempts into the fact rows the
// aggregation engine consumes. Read-only: nothing here mutates attempts.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

const factQuery = `
	SELECT a.exam_id, a.student_id, e.subject,
	       a.obtained_marks, a.percentage, a.grade, a.is_passed,
	       a.time_spent_minutes, a.end_time
	FROM attempts a
	JOIN exams e ON e.id = a.exam_id
	WHERE a.status IN ('SUBMITTED', 'AUTO_SUBMITTED')`

func collectFacts(rows pgx.Rows) ([]stats.AttemptFact, error) {
	defer rows.Close()

	facts := []stats.AttemptFact{}
	for rows.Next() {
		var f stats.AttemptFact
		var finished *time.Time
		if err := rows.Scan(&f.ExamID, &f.StudentID, &f.Subject,
			&f.ObtainedMarks, &f.Percentage, &f.Grade, &f.IsPassed,
			&f.TimeSpentMinutes, &finished); err != nil {
			return nil, err
		}
		if finished != nil {
			f.FinishedAt = *finished
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// ExamFacts returns the terminal-attempt facts of one exam.
func (r *StatsRepository) ExamFacts(ctx context.Context, examID uuid.UUID) ([]stats.AttemptFact, error) {
	rows, err := r.pool.Query(ctx, factQuery+` AND a.exam_id = $1`, examID)
	if err != nil {
		return nil, err
	}
	return collectFacts(rows)
}

// StudentFacts returns the terminal-attempt facts of one student.
func (r *StatsRepository) StudentFacts(ctx context.Context, studentID int) ([]stats.AttemptFact, error) {
	rows, err := r.pool.Query(ctx, factQuery+` AND a.student_id = $1`, studentID)
	if err != nil {
		return nil, err
	}
	return collectFacts(rows)
}

// FactsSince returns terminal-attempt facts finished at or after from,
// optionally narrowed to one exam.
func (r *StatsRepository) FactsSince(ctx context.Context, from time.Time, examID *uuid.UUID) ([]stats.AttemptFact, error) {
	query := factQuery + ` AND a.end_time >= $1`
	args := []any{from}
	if examID != nil {
		args = append(args, *examID)
		query += ` AND a.exam_id = $2`
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectFacts(rows)
}
