package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/veritest/veritest-backend/internal/model"
	"github.com/veritest/veritest-backend/internal/scoring"
)

// querier is the query surface shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Constraint names the service layer uses to tell the two insert races apart.
const (
	constraintOneInProgress = "attempts_one_in_progress"
	constraintAttemptNumber = "attempts_exam_student_number_key"
)

// DuplicateKind classifies a unique-violation error from Create.
type DuplicateKind int

const (
	DuplicateNone DuplicateKind = iota
	// DuplicateInProgress: another in-progress attempt exists for the same
	// (exam, student) — the caller should resume it.
	DuplicateInProgress
	// DuplicateNumber: a concurrent start minted the same attempt number —
	// the caller should recompute and retry.
	DuplicateNumber
)

// ClassifyDuplicate inspects err for a unique violation on one of the
// attempt constraints.
func ClassifyDuplicate(err error) DuplicateKind {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return DuplicateNone
	}
	switch pgErr.ConstraintName {
	case constraintOneInProgress:
		return DuplicateInProgress
	case constraintAttemptNumber:
		return DuplicateNumber
	default:
		return DuplicateNone
	}
}

// AttemptRepository handles attempt and answer-slot data access. The attempt
// row is the unit of concurrency control: every mutating statement here is
// conditional on status = IN_PROGRESS so a raced write no-ops instead of
// corrupting a finalized attempt.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `
	id, exam_id, student_id, attempt_number, status,
	total_marks, passing_marks, duration_minutes,
	negative_marking, negative_mark_percent,
	obtained_marks, percentage, grade, is_passed,
	start_time, end_time, time_spent_minutes,
	analytics, tab_switches, fullscreen_exits, other_violations`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	var analytics []byte
	err := row.Scan(
		&a.ID, &a.ExamID, &a.StudentID, &a.AttemptNumber, &a.Status,
		&a.TotalMarks, &a.PassingMarks, &a.DurationMinutes,
		&a.NegativeMarking, &a.NegativeMarkPct,
		&a.ObtainedMarks, &a.Percentage, &a.Grade, &a.IsPassed,
		&a.StartTime, &a.EndTime, &a.TimeSpentMinutes,
		&analytics, &a.Proctoring.TabSwitches, &a.Proctoring.FullscreenExits,
		&a.Proctoring.OtherViolations,
	)
	if err != nil {
		return nil, err
	}
	if len(analytics) > 0 {
		if err := json.Unmarshal(analytics, &a.Analytics); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Create inserts an attempt together with its fixed answer slots in one
// transaction. The partial unique index on (exam_id, student_id) WHERE
// status = 'IN_PROGRESS' and the unique (exam_id, student_id, attempt_number)
// key close the double-start race; use ClassifyDuplicate on the error.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO attempts (
			exam_id, student_id, attempt_number, status,
			total_marks, passing_marks, duration_minutes,
			negative_marking, negative_mark_percent, start_time
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		a.ExamID, a.StudentID, a.AttemptNumber, a.Status,
		a.TotalMarks, a.PassingMarks, a.DurationMinutes,
		a.NegativeMarking, a.NegativeMarkPct, a.StartTime,
	).Scan(&a.ID)
	if err != nil {
		return err
	}

	rows := make([][]interface{}, 0, len(a.Answers))
	for i := range a.Answers {
		ans := &a.Answers[i]
		rows = append(rows, []interface{}{
			a.ID, ans.QuestionID, ans.Position,
		})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"attempt_answers"},
		[]string{"attempt_id", "question_id", "position"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetByID retrieves an attempt with its answer slots in slot order.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if a.Answers, err = listAnswers(ctx, r.pool, id); err != nil {
		return nil, err
	}
	return a, nil
}

// GetInProgress retrieves the single in-progress attempt for (exam, student),
// or pgx.ErrNoRows when none exists.
func (r *AttemptRepository) GetInProgress(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE exam_id = $1 AND student_id = $2 AND status = $3`,
		examID, studentID, model.AttemptStatusInProgress))
	if err != nil {
		return nil, err
	}
	if a.Answers, err = listAnswers(ctx, r.pool, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

func listAnswers(ctx context.Context, q querier, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := q.Query(ctx,
		`SELECT question_id, position, selected_answer, is_answered, is_correct,
		        marks_obtained, time_spent_seconds, is_marked_for_review
		 FROM attempt_answers
		 WHERE attempt_id = $1
		 ORDER BY position ASC`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var ans model.Answer
		if err := rows.Scan(&ans.QuestionID, &ans.Position, &ans.SelectedAnswer,
			&ans.IsAnswered, &ans.IsCorrect, &ans.MarksObtained,
			&ans.TimeSpentSeconds, &ans.IsMarkedForReview); err != nil {
			return nil, err
		}
		answers = append(answers, ans)
	}
	return answers, rows.Err()
}

// CountTerminal counts attempts with a terminal submitted status for the
// retake limit. Abandoned attempts do not consume the allowance.
func (r *AttemptRepository) CountTerminal(ctx context.Context, examID uuid.UUID, studentID int) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts
		 WHERE exam_id = $1 AND student_id = $2 AND status IN ($3, $4)`,
		examID, studentID, model.AttemptStatusSubmitted, model.AttemptStatusAutoSubmitted,
	).Scan(&count)
	return count, err
}

// MaxAttemptNumber returns the highest attempt number for (exam, student),
// 0 when no attempt exists yet.
func (r *AttemptRepository) MaxAttemptNumber(ctx context.Context, examID uuid.UUID, studentID int) (int, error) {
	var max int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(attempt_number), 0) FROM attempts
		 WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&max)
	return max, err
}

// UpdateAnswerSlot overwrites one answer slot, guarded on the parent attempt
// still being in progress. The guard takes a share lock on the attempt row,
// so the write serializes against Finalize: it either lands before the
// status flip (and is counted in the frozen aggregates) or observes the
// terminal status and no-ops. Returns false when no row matched — the slot
// does not exist or the attempt has been finalized.
func (r *AttemptRepository) UpdateAnswerSlot(ctx context.Context, attemptID uuid.UUID, ans *model.Answer) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempt_answers AS aa
		 SET selected_answer = $3, is_answered = TRUE, is_correct = $4,
		     marks_obtained = $5, time_spent_seconds = $6,
		     is_marked_for_review = $7, updated_at = NOW()
		 FROM (
			SELECT id FROM attempts WHERE id = $1 AND status = $8 FOR SHARE
		 ) AS a
		 WHERE aa.attempt_id = a.id AND aa.question_id = $2`,
		attemptID, ans.QuestionID, ans.SelectedAnswer, ans.IsCorrect,
		ans.MarksObtained, ans.TimeSpentSeconds, ans.IsMarkedForReview,
		model.AttemptStatusInProgress,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RefreshProgress recomputes obtained marks and percentage from the answer
// slots inside the database, guarded on status, so two concurrent answer
// writes can never lose each other's contribution. Returns false when the
// attempt is no longer in progress.
func (r *AttemptRepository) RefreshProgress(ctx context.Context, attemptID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET obtained_marks = s.total,
		     percentage = CASE WHEN total_marks > 0
		                       THEN s.total / total_marks * 100
		                       ELSE 0 END,
		     updated_at = NOW()
		 FROM (
			SELECT COALESCE(SUM(marks_obtained), 0) AS total
			FROM attempt_answers WHERE attempt_id = $1
		 ) AS s
		 WHERE id = $1 AND status = $2`,
		attemptID, model.AttemptStatusInProgress,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Finalize moves the attempt into a terminal state, conditional on it still
// being in progress. The whole transition is one transaction: the status
// flip locks the attempt row, the answer slots are re-read under that lock,
// and the frozen aggregates are derived from those slots — never from
// whatever snapshot the caller happens to hold. An answer write racing the
// submit therefore either lands before the flip and is counted, or blocks
// on the row lock and no-ops against the terminal status. Returns false
// when another caller won the race; a mutated with the final state when won.
func (r *AttemptRepository) Finalize(ctx context.Context, a *model.Attempt) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE attempts
		 SET status = $2, end_time = $3, time_spent_minutes = $4, updated_at = NOW()
		 WHERE id = $1 AND status = $5`,
		a.ID, a.Status, a.EndTime, a.TimeSpentMinutes,
		model.AttemptStatusInProgress,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if a.Answers, err = listAnswers(ctx, tx, a.ID); err != nil {
		return false, err
	}
	scoring.Derive(a)

	analytics, err := json.Marshal(a.Analytics)
	if err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE attempts
		 SET obtained_marks = $2, percentage = $3, grade = $4, is_passed = $5,
		     analytics = $6
		 WHERE id = $1`,
		a.ID, a.ObtainedMarks, a.Percentage, a.Grade, a.IsPassed, analytics,
	)
	if err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// IncrementViolation bumps one proctoring counter, guarded on status.
func (r *AttemptRepository) IncrementViolation(ctx context.Context, attemptID uuid.UUID, kind model.ViolationKind) (bool, error) {
	var column string
	switch kind {
	case model.ViolationTabSwitch:
		column = "tab_switches"
	case model.ViolationFullscreenExit:
		column = "fullscreen_exits"
	default:
		column = "other_violations"
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET `+column+` = `+column+` + 1, updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		attemptID, model.AttemptStatusInProgress,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpired returns ids of in-progress attempts whose deadline passed at
// or before now. The sweeper finalizes them with AUTO_SUBMITTED.
func (r *AttemptRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM attempts
		 WHERE status = $1
		   AND start_time + duration_minutes * INTERVAL '1 minute' <= $2
		 ORDER BY start_time ASC
		 LIMIT $3`,
		model.AttemptStatusInProgress, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByStudent retrieves all of a student's attempts, newest first, without
// answer slots (list view).
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE student_id = $1
		 ORDER BY start_time DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// InsertIncidents bulk-inserts proctoring incidents.
func (r *AttemptRepository) InsertIncidents(ctx context.Context, incidents []model.Incident) error {
	rows := make([][]interface{}, 0, len(incidents))
	for _, in := range incidents {
		rows = append(rows, []interface{}{in.AttemptID, in.Kind, in.Detail, in.RecordedAt})
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"attempt_incidents"},
		[]string{"attempt_id", "kind", "detail", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// InsertIncident inserts a single incident (fallback path for the worker).
func (r *AttemptRepository) InsertIncident(ctx context.Context, in *model.Incident) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_incidents (attempt_id, kind, detail, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		in.AttemptID, in.Kind, in.Detail, in.RecordedAt)
	return err
}
