package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeFillInBlank    QuestionType = "FILL_IN_BLANK"
	QuestionTypeEssay          QuestionType = "ESSAY"
	QuestionTypeMatching       QuestionType = "MATCHING"
	QuestionTypeOrdering       QuestionType = "ORDERING"
)

// QuestionOption is one selectable choice of an option-based question.
type QuestionOption struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Question is a single immutable question specification. Option-based types
// carry Options; the remaining types carry CorrectAnswer as free-form JSON.
type Question struct {
	ID            uuid.UUID        `json:"id"`
	ExamID        uuid.UUID        `json:"exam_id"`
	QuestionText  string           `json:"question_text"`
	QuestionType  QuestionType     `json:"question_type"`
	Options       []QuestionOption `json:"options,omitempty"`
	CorrectAnswer json.RawMessage  `json:"correct_answer,omitempty"`
	Marks         float64          `json:"marks"`
	NegativeMarks float64          `json:"negative_marks"`
	Position      int              `json:"position"`
}

// CorrectOption returns the option flagged correct, or nil if none is.
func (q *Question) CorrectOption() *QuestionOption {
	for i := range q.Options {
		if q.Options[i].IsCorrect {
			return &q.Options[i]
		}
	}
	return nil
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID    `json:"id"`
	QuestionText string       `json:"question_text"`
	QuestionType QuestionType `json:"question_type"`
	Options      []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"options,omitempty"`
	Marks    float64 `json:"marks"`
	Position int     `json:"position"`
}

// StudentView strips the answer key from a question.
func (q *Question) StudentView() QuestionForStudent {
	v := QuestionForStudent{
		ID:           q.ID,
		QuestionText: q.QuestionText,
		QuestionType: q.QuestionType,
		Marks:        q.Marks,
		Position:     q.Position,
	}
	for _, opt := range q.Options {
		v.Options = append(v.Options, struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		}{ID: opt.ID, Text: opt.Text})
	}
	return v
}

// AddQuestionRequest is the payload for adding a question to an exam.
type AddQuestionRequest struct {
	QuestionText  string           `json:"question_text" binding:"required,min=1,max=2000"`
	QuestionType  string           `json:"question_type" binding:"required,oneof=MULTIPLE_CHOICE TRUE_FALSE FILL_IN_BLANK ESSAY MATCHING ORDERING"`
	Options       []QuestionOption `json:"options" binding:"omitempty,dive"`
	CorrectAnswer json.RawMessage  `json:"correct_answer" binding:"omitempty"`
	Marks         float64          `json:"marks" binding:"required,gt=0"`
	NegativeMarks float64          `json:"negative_marks" binding:"min=0,ltefield=Marks"`
	Position      int              `json:"position" binding:"min=0"`
}

// ReplaceQuestionsRequest is the payload for bulk replacing an exam's questions.
type ReplaceQuestionsRequest struct {
	Questions []AddQuestionRequest `json:"questions" binding:"required,min=1,dive"`
}
