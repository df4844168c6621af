package scoring

import (
	"encoding/json"
	"testing"

	"github.com/veritest/veritest-backend/internal/model"
)

func geographyQuestion() *model.Question {
	return &model.Question{
		QuestionType: model.QuestionTypeMultipleChoice,
		Options: []model.QuestionOption{
			{ID: "a", Text: "Paris", IsCorrect: true},
			{ID: "b", Text: "London"},
			{ID: "c", Text: "Berlin"},
		},
		Marks:         4,
		NegativeMarks: 1,
	}
}

func TestEvaluate_MultipleChoice(t *testing.T) {
	tests := []struct {
		name      string
		submitted string
		isCorrect bool
		delta     float64
	}{
		{name: "correct by option id", submitted: `"a"`, isCorrect: true, delta: 4},
		{name: "wrong by option id", submitted: `"b"`, isCorrect: false, delta: -1},
		{name: "correct by option text", submitted: `"Paris"`, isCorrect: true, delta: 4},
		{name: "wrong by option text", submitted: `"London"`, isCorrect: false, delta: -1},
		{name: "unknown value", submitted: `"Madrid"`, isCorrect: false, delta: -1},
		{name: "empty", submitted: ``, isCorrect: false, delta: -1},
		{name: "non-string payload", submitted: `{"x":1}`, isCorrect: false, delta: -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(geographyQuestion(), json.RawMessage(tc.submitted))
			if got.IsCorrect != tc.isCorrect || got.MarksDelta != tc.delta {
				t.Fatalf("Evaluate(%s) = %+v, want IsCorrect=%v MarksDelta=%v",
					tc.submitted, got, tc.isCorrect, tc.delta)
			}
		})
	}
}

func TestEvaluate_MultipleChoice_NoPenalty(t *testing.T) {
	q := geographyQuestion()
	q.NegativeMarks = 0

	got := Evaluate(q, json.RawMessage(`"b"`))
	if got.IsCorrect || got.MarksDelta != 0 {
		t.Fatalf("wrong answer without penalty = %+v, want 0 delta", got)
	}
}

func TestEvaluate_TrueFalse(t *testing.T) {
	q := &model.Question{
		QuestionType:  model.QuestionTypeTrueFalse,
		CorrectAnswer: json.RawMessage(`"true"`),
		Marks:         2,
	}

	tests := []struct {
		name      string
		submitted string
		isCorrect bool
	}{
		{name: "exact match", submitted: `"true"`, isCorrect: true},
		{name: "wrong value", submitted: `"false"`, isCorrect: false},
		// String comparison is verbatim: no case folding for TRUE_FALSE.
		{name: "case mismatch", submitted: `"TRUE"`, isCorrect: false},
		{name: "bare value", submitted: `true`, isCorrect: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(q, json.RawMessage(tc.submitted))
			if got.IsCorrect != tc.isCorrect {
				t.Fatalf("Evaluate(%s).IsCorrect = %v, want %v", tc.submitted, got.IsCorrect, tc.isCorrect)
			}
		})
	}
}

func TestEvaluate_FillInBlank(t *testing.T) {
	q := &model.Question{
		QuestionType:  model.QuestionTypeFillInBlank,
		CorrectAnswer: json.RawMessage(`"Pacific"`),
		Marks:         2,
	}

	tests := []struct {
		name      string
		submitted string
		isCorrect bool
	}{
		{name: "exact", submitted: `"Pacific"`, isCorrect: true},
		{name: "case insensitive", submitted: `"pacific"`, isCorrect: true},
		{name: "surrounding whitespace", submitted: `"  Pacific  "`, isCorrect: true},
		{name: "wrong", submitted: `"Atlantic"`, isCorrect: false},
		{name: "whitespace only", submitted: `"   "`, isCorrect: false},
		{name: "empty string", submitted: `""`, isCorrect: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(q, json.RawMessage(tc.submitted))
			if got.IsCorrect != tc.isCorrect {
				t.Fatalf("Evaluate(%s).IsCorrect = %v, want %v", tc.submitted, got.IsCorrect, tc.isCorrect)
			}
		})
	}
}

func TestEvaluate_Essay(t *testing.T) {
	q := &model.Question{
		QuestionType:  model.QuestionTypeEssay,
		Marks:         10,
		NegativeMarks: 2,
	}

	got := Evaluate(q, json.RawMessage(`"a long answer"`))
	if got.IsCorrect || got.MarksDelta != 0 {
		t.Fatalf("essay = %+v, want no auto-score and no penalty", got)
	}
}

func TestEvaluate_Structural(t *testing.T) {
	tests := []struct {
		name      string
		qtype     model.QuestionType
		key       string
		submitted string
		isCorrect bool
	}{
		{
			name: "matching key order ignored", qtype: model.QuestionTypeMatching,
			key: `{"a":"1","b":"2"}`, submitted: `{"b":"2","a":"1"}`, isCorrect: true,
		},
		{
			name: "matching wrong pair", qtype: model.QuestionTypeMatching,
			key: `{"a":"1","b":"2"}`, submitted: `{"a":"2","b":"1"}`, isCorrect: false,
		},
		{
			name: "ordering exact sequence", qtype: model.QuestionTypeOrdering,
			key: `["first","second","third"]`, submitted: `["first","second","third"]`, isCorrect: true,
		},
		{
			name: "ordering wrong sequence", qtype: model.QuestionTypeOrdering,
			key: `["first","second","third"]`, submitted: `["second","first","third"]`, isCorrect: false,
		},
		{
			name: "ordering whitespace ignored", qtype: model.QuestionTypeOrdering,
			key: `["a","b"]`, submitted: ` [ "a" , "b" ] `, isCorrect: true,
		},
		{
			name: "malformed submission", qtype: model.QuestionTypeOrdering,
			key: `["a","b"]`, submitted: `["a",`, isCorrect: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := &model.Question{
				QuestionType:  tc.qtype,
				CorrectAnswer: json.RawMessage(tc.key),
				Marks:         5,
			}
			got := Evaluate(q, json.RawMessage(tc.submitted))
			if got.IsCorrect != tc.isCorrect {
				t.Fatalf("Evaluate(%s).IsCorrect = %v, want %v", tc.submitted, got.IsCorrect, tc.isCorrect)
			}
		})
	}
}

func TestEvaluateWithPolicy(t *testing.T) {
	withPenalty := geographyQuestion() // NegativeMarks: 1
	noPenalty := geographyQuestion()
	noPenalty.NegativeMarks = 0

	tests := []struct {
		name  string
		q     *model.Question
		pol   NegativePolicy
		delta float64
	}{
		{name: "disabled suppresses question penalty", q: withPenalty, pol: NegativePolicy{}, delta: 0},
		{name: "enabled keeps question penalty", q: withPenalty, pol: NegativePolicy{Enabled: true, Percent: 25}, delta: -1},
		{name: "enabled percent fallback", q: noPenalty, pol: NegativePolicy{Enabled: true, Percent: 25}, delta: -1}, // 25% of 4
		{name: "enabled zero percent no fallback", q: noPenalty, pol: NegativePolicy{Enabled: true}, delta: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateWithPolicy(tc.q, json.RawMessage(`"b"`), tc.pol)
			if got.IsCorrect || got.MarksDelta != tc.delta {
				t.Fatalf("EvaluateWithPolicy = %+v, want MarksDelta=%v", got, tc.delta)
			}
		})
	}
}

func TestEvaluateWithPolicy_CorrectUnaffected(t *testing.T) {
	got := EvaluateWithPolicy(geographyQuestion(), json.RawMessage(`"a"`), NegativePolicy{Enabled: true, Percent: 50})
	if !got.IsCorrect || got.MarksDelta != 4 {
		t.Fatalf("correct answer under policy = %+v, want full marks", got)
	}
}
