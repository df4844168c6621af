// Package scoring holds the pure grading logic: answer validation per
// question type, the grade scale, and attempt metrics derivation. Nothing in
// this package performs I/O.
package scoring

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/veritest/veritest-backend/internal/model"
)

// Result is the outcome of validating one submitted answer.
type Result struct {
	IsCorrect  bool    `json:"is_correct"`
	MarksDelta float64 `json:"marks_delta"`
}

// NegativePolicy is the exam-level negative-marking snapshot carried by an
// attempt. When Enabled and a question declares no explicit penalty, the
// penalty falls back to Percent of the question's marks.
type NegativePolicy struct {
	Enabled bool
	Percent float64
}

// Evaluate validates a submitted value against a question specification.
// Deterministic, no I/O. An incorrect answer is penalised by the question's
// own NegativeMarks; exam-level policy is applied by EvaluateWithPolicy.
func Evaluate(q *model.Question, submitted json.RawMessage) Result {
	correct := isCorrect(q, submitted)

	switch {
	case q.QuestionType == model.QuestionTypeEssay:
		// Essays are never auto-scored; manual grading happens elsewhere.
		return Result{IsCorrect: false, MarksDelta: 0}
	case correct:
		return Result{IsCorrect: true, MarksDelta: q.Marks}
	case q.NegativeMarks > 0:
		return Result{IsCorrect: false, MarksDelta: -q.NegativeMarks}
	default:
		return Result{IsCorrect: false, MarksDelta: 0}
	}
}

// EvaluateWithPolicy applies the attempt's negative-marking snapshot on top
// of Evaluate: penalties are suppressed when the policy is disabled, and an
// enabled policy supplies a percentage fallback for questions that declare
// no explicit penalty.
func EvaluateWithPolicy(q *model.Question, submitted json.RawMessage, pol NegativePolicy) Result {
	res := Evaluate(q, submitted)
	if res.IsCorrect || q.QuestionType == model.QuestionTypeEssay {
		return res
	}
	if !pol.Enabled {
		res.MarksDelta = 0
		return res
	}
	if q.NegativeMarks == 0 && pol.Percent > 0 {
		res.MarksDelta = -q.Marks * pol.Percent / 100
	}
	return res
}

func isCorrect(q *model.Question, submitted json.RawMessage) bool {
	switch q.QuestionType {
	case model.QuestionTypeMultipleChoice:
		return matchMultipleChoice(q, submitted)
	case model.QuestionTypeTrueFalse:
		return strictEqual(q.CorrectAnswer, submitted)
	case model.QuestionTypeFillInBlank:
		return matchFillInBlank(q, submitted)
	case model.QuestionTypeEssay:
		return false
	default:
		// MATCHING, ORDERING and anything future: structural equality of the
		// serialized values.
		return structuralEqual(q.CorrectAnswer, submitted)
	}
}

// matchMultipleChoice resolves the submitted value to an option. The primary
// branch matches by option id; comparing against the correct option's text is
// a deprecated compatibility path for clients that still submit raw text.
func matchMultipleChoice(q *model.Question, submitted json.RawMessage) bool {
	value, ok := asString(submitted)
	if !ok {
		return false
	}

	for i := range q.Options {
		if q.Options[i].ID == value {
			return q.Options[i].IsCorrect
		}
	}

	correct := q.CorrectOption()
	if correct == nil {
		return false
	}
	return value == correct.Text
}

func matchFillInBlank(q *model.Question, submitted json.RawMessage) bool {
	value, ok := asString(submitted)
	if !ok {
		return false
	}
	want, ok := asString(q.CorrectAnswer)
	if !ok {
		return false
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	return strings.EqualFold(value, strings.TrimSpace(want))
}

// strictEqual compares two JSON values exactly. Strings compare verbatim
// (no case-folding); everything else compares canonically.
func strictEqual(want, got json.RawMessage) bool {
	ws, wok := asString(want)
	gs, gok := asString(got)
	if wok && gok {
		return ws == gs
	}
	return structuralEqual(want, got)
}

// structuralEqual reports deep equality of two JSON documents, ignoring key
// order and insignificant whitespace.
func structuralEqual(want, got json.RawMessage) bool {
	cw, okW := canonical(want)
	cg, okG := canonical(got)
	if !okW || !okG {
		return false
	}
	return bytes.Equal(cw, cg)
}

// canonical re-serializes a JSON document; encoding/json sorts object keys,
// which yields a stable byte form for comparison.
func canonical(raw json.RawMessage) ([]byte, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return out, true
}

// asString decodes raw as a JSON string. Bare (unquoted) input is accepted
// as-is so stored plain-text answer keys keep working.
func asString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return "", false
	}
	return trimmed, true
}
