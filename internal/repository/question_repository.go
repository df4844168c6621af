package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/veritest/veritest-backend/internal/model"
)

// QuestionRepository handles question specification data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// GetByID retrieves a single question.
func (r *QuestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q := &model.Question{}
	var options []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, question_text, question_type, options,
		        correct_answer, marks, negative_marks, position
		 FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &q.ExamID, &q.QuestionText, &q.QuestionType, &options,
		&q.CorrectAnswer, &q.Marks, &q.NegativeMarks, &q.Position)
	if err != nil {
		return nil, err
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// ListByExam retrieves all questions of an exam in position order.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, question_text, question_type, options,
		        correct_answer, marks, negative_marks, position
		 FROM questions
		 WHERE exam_id = $1
		 ORDER BY position ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var options []byte
		if err := rows.Scan(&q.ID, &q.ExamID, &q.QuestionText, &q.QuestionType,
			&options, &q.CorrectAnswer, &q.Marks, &q.NegativeMarks, &q.Position); err != nil {
			return nil, err
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &q.Options); err != nil {
				return nil, err
			}
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ReplaceForExam swaps an exam's question list atomically and refreshes the
// exam's total marks to the sum over the new list. Only legal while the exam
// is a draft; the catalog service enforces that.
func (r *QuestionRepository) ReplaceForExam(ctx context.Context, examID uuid.UUID, questions []model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE exam_id = $1`, examID); err != nil {
		return err
	}

	for i := range questions {
		q := &questions[i]
		options, err := json.Marshal(q.Options)
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO questions (
				exam_id, question_text, question_type, options,
				correct_answer, marks, negative_marks, position
			 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING id`,
			examID, q.QuestionText, q.QuestionType, options,
			q.CorrectAnswer, q.Marks, q.NegativeMarks, q.Position,
		).Scan(&q.ID)
		if err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE exams
		 SET total_marks = (SELECT COALESCE(SUM(marks), 0) FROM questions WHERE exam_id = $1),
		     updated_at = NOW()
		 WHERE id = $1`, examID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
