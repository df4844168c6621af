package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/veritest/veritest-backend/internal/model"
	"github.com/veritest/veritest-backend/internal/scoring"
)

// ─── In-memory fakes ────────────────────────────────────────────────

type fakeStore struct {
	attempts map[uuid.UUID]*model.Attempt
	// createErrs is consumed one per Create call before inserting, to
	// simulate unique-violation races.
	createErrs []error
	// hideInProgress makes GetInProgress miss that many times, simulating
	// the window between a racer's pre-check and its insert.
	hideInProgress int
}

func newFakeStore() *fakeStore {
	return &fakeStore{attempts: map[uuid.UUID]*model.Attempt{}}
}

func copyAttempt(a *model.Attempt) *model.Attempt {
	cp := *a
	cp.Answers = make([]model.Answer, len(a.Answers))
	copy(cp.Answers, a.Answers)
	return &cp
}

func (s *fakeStore) Create(_ context.Context, a *model.Attempt) error {
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return err
		}
	}
	a.ID = uuid.New()
	s.attempts[a.ID] = copyAttempt(a)
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, ok := s.attempts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyAttempt(a), nil
}

func (s *fakeStore) GetInProgress(_ context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	if s.hideInProgress > 0 {
		s.hideInProgress--
		return nil, pgx.ErrNoRows
	}
	for _, a := range s.attempts {
		if a.ExamID == examID && a.StudentID == studentID && a.Status == model.AttemptStatusInProgress {
			return copyAttempt(a), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *fakeStore) CountTerminal(_ context.Context, examID uuid.UUID, studentID int) (int, error) {
	count := 0
	for _, a := range s.attempts {
		if a.ExamID == examID && a.StudentID == studentID &&
			(a.Status == model.AttemptStatusSubmitted || a.Status == model.AttemptStatusAutoSubmitted) {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) MaxAttemptNumber(_ context.Context, examID uuid.UUID, studentID int) (int, error) {
	max := 0
	for _, a := range s.attempts {
		if a.ExamID == examID && a.StudentID == studentID && a.AttemptNumber > max {
			max = a.AttemptNumber
		}
	}
	return max, nil
}

func (s *fakeStore) UpdateAnswerSlot(_ context.Context, attemptID uuid.UUID, ans *model.Answer) (bool, error) {
	a, ok := s.attempts[attemptID]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	slot := a.AnswerFor(ans.QuestionID)
	if slot == nil {
		return false, nil
	}
	*slot = *ans
	return true, nil
}

func (s *fakeStore) RefreshProgress(_ context.Context, attemptID uuid.UUID) (bool, error) {
	a, ok := s.attempts[attemptID]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	var total float64
	for i := range a.Answers {
		total += a.Answers[i].MarksObtained
	}
	a.ObtainedMarks = total
	if a.TotalMarks > 0 {
		a.Percentage = total / a.TotalMarks * 100
	}
	return true, nil
}

// Finalize mirrors the SQL path: the aggregates freeze from the slots as
// stored at the status flip, not from the caller's snapshot.
func (s *fakeStore) Finalize(_ context.Context, a *model.Attempt) (bool, error) {
	stored, ok := s.attempts[a.ID]
	if !ok || stored.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	a.Answers = make([]model.Answer, len(stored.Answers))
	copy(a.Answers, stored.Answers)
	scoring.Derive(a)
	s.attempts[a.ID] = copyAttempt(a)
	return true, nil
}

func (s *fakeStore) IncrementViolation(_ context.Context, attemptID uuid.UUID, kind model.ViolationKind) (bool, error) {
	a, ok := s.attempts[attemptID]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	switch kind {
	case model.ViolationTabSwitch:
		a.Proctoring.TabSwitches++
	case model.ViolationFullscreenExit:
		a.Proctoring.FullscreenExits++
	default:
		a.Proctoring.OtherViolations++
	}
	return true, nil
}

func (s *fakeStore) ListExpired(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, a := range s.attempts {
		if a.Status == model.AttemptStatusInProgress && !a.Deadline().After(now) {
			ids = append(ids, id)
		}
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (s *fakeStore) ListByStudent(_ context.Context, studentID int) ([]model.Attempt, error) {
	var out []model.Attempt
	for _, a := range s.attempts {
		if a.StudentID == studentID {
			out = append(out, *copyAttempt(a))
		}
	}
	return out, nil
}

type fakeExams struct {
	exams map[uuid.UUID]*model.Exam
}

func (f *fakeExams) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

type fakeQuestions struct {
	questions map[uuid.UUID][]model.Question
}

func (f *fakeQuestions) GetByID(_ context.Context, id uuid.UUID) (*model.Question, error) {
	for _, qs := range f.questions {
		for i := range qs {
			if qs[i].ID == id {
				cp := qs[i]
				return &cp, nil
			}
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeQuestions) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	return f.questions[examID], nil
}

type fakeSink struct{ incidents []model.Incident }

func (f *fakeSink) Enqueue(_ context.Context, in model.Incident) error {
	f.incidents = append(f.incidents, in)
	return nil
}

type fakeResults struct{ notices []ResultNotice }

func (f *fakeResults) Enqueue(_ context.Context, n ResultNotice) error {
	f.notices = append(f.notices, n)
	return nil
}

type fakeMonitor struct{ events []MonitorEvent }

func (f *fakeMonitor) Publish(_ context.Context, e MonitorEvent) {
	f.events = append(f.events, e)
}

// ─── Fixture ────────────────────────────────────────────────────────

type fixture struct {
	svc       *AttemptService
	store     *fakeStore
	exams     *fakeExams
	questions *fakeQuestions
	sink      *fakeSink
	results   *fakeResults
	monitor   *fakeMonitor
	examID    uuid.UUID
	q1, q2    uuid.UUID
}

func newFixture(t *testing.T, mutate func(*model.Exam)) *fixture {
	t.Helper()

	examID := uuid.New()
	q1 := uuid.New()
	q2 := uuid.New()

	exam := &model.Exam{
		ID:                     examID,
		Title:                  "Geography Basics",
		Subject:                "Geography",
		Status:                 model.ExamStatusPublished,
		DurationMinutes:        30,
		AllowedAttempts:        2,
		TotalMarks:             6,
		PassingMarks:           4,
		ShowResultsImmediately: true,
		ShowCorrectAnswers:     true,
	}
	if mutate != nil {
		mutate(exam)
	}

	questions := []model.Question{
		{
			ID: q1, ExamID: examID,
			QuestionType: model.QuestionTypeMultipleChoice,
			Options: []model.QuestionOption{
				{ID: "a", Text: "Paris", IsCorrect: true},
				{ID: "b", Text: "London"},
			},
			Marks: 4, NegativeMarks: 1, Position: 1,
		},
		{
			ID: q2, ExamID: examID,
			QuestionType:  model.QuestionTypeTrueFalse,
			CorrectAnswer: json.RawMessage(`"true"`),
			Marks:         2, Position: 2,
		},
	}

	f := &fixture{
		store:     newFakeStore(),
		exams:     &fakeExams{exams: map[uuid.UUID]*model.Exam{examID: exam}},
		questions: &fakeQuestions{questions: map[uuid.UUID][]model.Question{examID: questions}},
		sink:      &fakeSink{},
		results:   &fakeResults{},
		monitor:   &fakeMonitor{},
		examID:    examID,
		q1:        q1,
		q2:        q2,
	}
	f.svc = NewAttemptService(
		f.store,
		f.exams,
		f.questions,
		f.sink,
		f.results,
		f.monitor,
		3,
		zerolog.Nop(),
	)
	return f
}

// ─── StartAttempt ───────────────────────────────────────────────────

func TestStartAttempt(t *testing.T) {
	f := newFixture(t, nil)

	a, err := f.svc.StartAttempt(context.Background(), f.examID, 7)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if a.AttemptNumber != 1 {
		t.Errorf("AttemptNumber = %d, want 1", a.AttemptNumber)
	}
	if a.Status != model.AttemptStatusInProgress {
		t.Errorf("Status = %s, want IN_PROGRESS", a.Status)
	}
	if a.TotalMarks != 6 || a.PassingMarks != 4 || a.DurationMinutes != 30 {
		t.Errorf("snapshot = %v/%v/%v, want 6/4/30", a.TotalMarks, a.PassingMarks, a.DurationMinutes)
	}
	if len(a.Answers) != 2 {
		t.Fatalf("len(Answers) = %d, want one slot per question", len(a.Answers))
	}
	if a.Answers[0].QuestionID != f.q1 || a.Answers[0].Position != 1 {
		t.Errorf("slot 0 = %+v", a.Answers[0])
	}
	if a.Answers[0].IsAnswered {
		t.Errorf("fresh slot must be unanswered")
	}
}

func TestStartAttempt_ResumesInProgress(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, _ := f.svc.StartAttempt(ctx, f.examID, 7)
	second, err := f.svc.StartAttempt(ctx, f.examID, 7)
	if err != nil {
		t.Fatalf("second StartAttempt: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second start created a new attempt, want resume of %s", first.ID)
	}
}

func TestStartAttempt_LimitExceeded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		a, err := f.svc.StartAttempt(ctx, f.examID, 7)
		if err != nil {
			t.Fatalf("start %d: %v", i+1, err)
		}
		if _, err := f.svc.Finalize(ctx, a.ID, 7, model.AttemptStatusSubmitted); err != nil {
			t.Fatalf("finalize %d: %v", i+1, err)
		}
	}

	_, err := f.svc.StartAttempt(ctx, f.examID, 7)
	if !errors.Is(err, ErrAttemptLimitExceeded) {
		t.Fatalf("err = %v, want ErrAttemptLimitExceeded", err)
	}
}

func TestStartAttempt_AbandonedDoesNotConsumeAllowance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Two abandoned attempts, then two submitted ones: all four must start.
	for i := 0; i < 2; i++ {
		a, _ := f.svc.StartAttempt(ctx, f.examID, 7)
		f.store.attempts[a.ID].Status = model.AttemptStatusAbandoned
	}
	for i := 0; i < 2; i++ {
		a, err := f.svc.StartAttempt(ctx, f.examID, 7)
		if err != nil {
			t.Fatalf("start after abandon: %v", err)
		}
		if _, err := f.svc.Finalize(ctx, a.ID, 7, model.AttemptStatusSubmitted); err != nil {
			t.Fatalf("finalize: %v", err)
		}
	}
}

func TestStartAttempt_NumbersAreSequential(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a1, _ := f.svc.StartAttempt(ctx, f.examID, 7)
	f.svc.Finalize(ctx, a1.ID, 7, model.AttemptStatusSubmitted)
	a2, err := f.svc.StartAttempt(ctx, f.examID, 7)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if a2.AttemptNumber != 2 {
		t.Errorf("AttemptNumber = %d, want 2", a2.AttemptNumber)
	}
}

func TestStartAttempt_NotTakeable(t *testing.T) {
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name   string
		mutate func(*model.Exam)
	}{
		{name: "draft", mutate: func(e *model.Exam) { e.Status = model.ExamStatusDraft }},
		{name: "archived", mutate: func(e *model.Exam) { e.Status = model.ExamStatusArchived }},
		{name: "window closed", mutate: func(e *model.Exam) { e.EndsAt = &past }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.mutate)
			_, err := f.svc.StartAttempt(context.Background(), f.examID, 7)
			if !errors.Is(err, ErrExamNotAvailable) {
				t.Fatalf("err = %v, want ErrExamNotAvailable", err)
			}
		})
	}
}

func TestStartAttempt_UnknownExam(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.StartAttempt(context.Background(), uuid.New(), 7)
	if !errors.Is(err, ErrExamNotAvailable) {
		t.Fatalf("err = %v, want ErrExamNotAvailable", err)
	}
}

func dupErr(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

func TestStartAttempt_ConcurrentStartResolves(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// The "winner" of the race already holds the in-progress attempt.
	winner, _ := f.svc.StartAttempt(ctx, f.examID, 7)
	// Simulate the loser: its pre-check misses the winner's row, then its
	// insert hits the partial unique index.
	f.store.hideInProgress = 1
	f.store.createErrs = []error{dupErr("attempts_one_in_progress")}

	got, err := f.svc.StartAttempt(ctx, f.examID, 7)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if got.ID != winner.ID {
		t.Errorf("loser got %s, want winner's attempt %s", got.ID, winner.ID)
	}
}

func TestStartAttempt_DuplicateNumberRetries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.store.createErrs = []error{dupErr("attempts_exam_student_number_key")}

	a, err := f.svc.StartAttempt(ctx, f.examID, 7)
	if err != nil {
		t.Fatalf("StartAttempt after number collision: %v", err)
	}
	if a.ID == uuid.Nil {
		t.Error("retry did not create an attempt")
	}
}

// ─── RecordAnswer ───────────────────────────────────────────────────

func TestRecordAnswer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)

	ans, err := f.svc.RecordAnswer(ctx, a.ID, 7, f.q1, &model.RecordAnswerRequest{
		SelectedAnswer:   json.RawMessage(`"a"`),
		TimeSpentSeconds: 20,
	})
	if err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if !ans.IsCorrect || ans.MarksObtained != 4 {
		t.Errorf("answer = %+v, want correct with 4 marks", ans)
	}

	stored, _ := f.store.GetByID(ctx, a.ID)
	if stored.ObtainedMarks != 4 {
		t.Errorf("ObtainedMarks = %v, want 4 after refresh", stored.ObtainedMarks)
	}
}

func TestRecordAnswer_Overwrite(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)

	f.svc.RecordAnswer(ctx, a.ID, 7, f.q1, &model.RecordAnswerRequest{SelectedAnswer: json.RawMessage(`"b"`)})
	_, err := f.svc.RecordAnswer(ctx, a.ID, 7, f.q1, &model.RecordAnswerRequest{SelectedAnswer: json.RawMessage(`"a"`)})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	stored, _ := f.store.GetByID(ctx, a.ID)
	slot := stored.AnswerFor(f.q1)
	if !slot.IsCorrect || stored.ObtainedMarks != 4 {
		t.Errorf("after overwrite slot=%+v obtained=%v, want correct/4", slot, stored.ObtainedMarks)
	}
}

func TestRecordAnswer_Errors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)
	req := &model.RecordAnswerRequest{SelectedAnswer: json.RawMessage(`"a"`)}

	if _, err := f.svc.RecordAnswer(ctx, a.ID, 8, f.q1, req); !errors.Is(err, ErrNotOwner) {
		t.Errorf("foreign caller err = %v, want ErrNotOwner", err)
	}
	if _, err := f.svc.RecordAnswer(ctx, a.ID, 7, uuid.New(), req); !errors.Is(err, ErrQuestionNotInAttempt) {
		t.Errorf("unknown question err = %v, want ErrQuestionNotInAttempt", err)
	}
	if _, err := f.svc.RecordAnswer(ctx, uuid.New(), 7, f.q1, req); !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("unknown attempt err = %v, want ErrAttemptNotFound", err)
	}

	f.svc.Finalize(ctx, a.ID, 7, model.AttemptStatusSubmitted)
	if _, err := f.svc.RecordAnswer(ctx, a.ID, 7, f.q1, req); !errors.Is(err, ErrAttemptNotInProgress) {
		t.Errorf("finalized attempt err = %v, want ErrAttemptNotInProgress", err)
	}
}

// ─── Finalize ───────────────────────────────────────────────────────

func TestFinalize(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)
	f.svc.RecordAnswer(ctx, a.ID, 7, f.q1, &model.RecordAnswerRequest{SelectedAnswer: json.RawMessage(`"a"`)})
	f.svc.RecordAnswer(ctx, a.ID, 7, f.q2, &model.RecordAnswerRequest{SelectedAnswer: json.RawMessage(`"true"`)})

	got, err := f.svc.Finalize(ctx, a.ID, 7, model.AttemptStatusSubmitted)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if got.Status != model.AttemptStatusSubmitted {
		t.Errorf("Status = %s, want SUBMITTED", got.Status)
	}
	if got.ObtainedMarks != 6 || got.Percentage != 100 {
		t.Errorf("marks = %v/%v%%, want 6/100", got.ObtainedMarks, got.Percentage)
	}
	if got.Grade != "A+" || !got.IsPassed {
		t.Errorf("grade=%s passed=%v, want A+/true", got.Grade, got.IsPassed)
	}
	if got.EndTime == nil {
		t.Error("EndTime not set")
	}
	if got.Analytics.CorrectCount != 2 {
		t.Errorf("Analytics = %+v, want 2 correct", got.Analytics)
	}

	if len(f.results.notices) != 1 {
		t.Fatalf("result notices = %d, want 1", len(f.results.notices))
	}
	if n := f.results.notices[0]; n.AttemptID != a.ID || n.Grade != "A+" {
		t.Errorf("notice = %+v", n)
	}
}

// interleavingStore runs a hook just before the terminal transition,
// simulating a concurrent writer committing between the submit path's
// snapshot read and the status flip.
type interleavingStore struct {
	*fakeStore
	beforeFinalize func()
}

func (s *interleavingStore) Finalize(ctx context.Context, a *model.Attempt) (bool, error) {
	if s.beforeFinalize != nil {
		hook := s.beforeFinalize
		s.beforeFinalize = nil
		hook()
	}
	return s.fakeStore.Finalize(ctx, a)
}

func TestFinalize_CountsAnswerRacingSubmit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	store := &interleavingStore{fakeStore: f.store}
	svc := NewAttemptService(store, f.exams, f.questions, f.sink, f.results, f.monitor, 3, zerolog.Nop())

	a, err := svc.StartAttempt(ctx, f.examID, 7)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}

	// A last-second scored answer lands after the submit path has read the
	// attempt but before the terminal transition commits.
	store.beforeFinalize = func() {
		f.store.UpdateAnswerSlot(ctx, a.ID, &model.Answer{
			QuestionID:    f.q1,
			Position:      1,
			IsAnswered:    true,
			IsCorrect:     true,
			MarksObtained: 4,
		})
		f.store.RefreshProgress(ctx, a.ID)
	}

	got, err := svc.Finalize(ctx, a.ID, 7, model.AttemptStatusSubmitted)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	var slotSum float64
	for i := range got.Answers {
		slotSum += got.Answers[i].MarksObtained
	}
	if got.ObtainedMarks != slotSum {
		t.Errorf("ObtainedMarks = %v but slot sum = %v; the frozen aggregates must cover every committed slot", got.ObtainedMarks, slotSum)
	}
	if got.ObtainedMarks != 4 {
		t.Errorf("ObtainedMarks = %v, want 4 from the late answer", got.ObtainedMarks)
	}
	if got.Analytics.CorrectCount != 1 {
		t.Errorf("Analytics.CorrectCount = %d, want 1", got.Analytics.CorrectCount)
	}
	if !got.IsPassed {
		t.Error("late answer reaches the passing marks, attempt must pass")
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)

	first, err := f.svc.Finalize(ctx, a.ID, 7, model.AttemptStatusSubmitted)
	if err != nil {
		t.Fatalf("first Finalize: %v", err)
	}
	second, err := f.svc.Finalize(ctx, a.ID, 7, model.AttemptStatusAutoSubmitted)
	if err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if second.Status != first.Status {
		t.Errorf("second finalize changed status to %s", second.Status)
	}
	if len(f.results.notices) != 1 {
		t.Errorf("result notices = %d, want exactly 1", len(f.results.notices))
	}
}

func TestFinalize_InvalidReason(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)

	if _, err := f.svc.Finalize(ctx, a.ID, 7, model.AttemptStatusAbandoned); err == nil {
		t.Fatal("ABANDONED must not be a finalize reason")
	}
	if _, err := f.svc.Finalize(ctx, a.ID, 7, model.AttemptStatusInProgress); err == nil {
		t.Fatal("IN_PROGRESS must not be a finalize reason")
	}
}

func TestFinalize_NoNoticeWhenResultsHidden(t *testing.T) {
	f := newFixture(t, func(e *model.Exam) { e.ShowResultsImmediately = false })
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)

	if _, err := f.svc.Finalize(ctx, a.ID, 7, model.AttemptStatusSubmitted); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(f.results.notices) != 0 {
		t.Errorf("result notices = %d, want 0 when results are hidden", len(f.results.notices))
	}
}

// ─── GetAttempt ─────────────────────────────────────────────────────

func TestGetAttempt_RedactsInProgress(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)
	f.svc.RecordAnswer(ctx, a.ID, 7, f.q1, &model.RecordAnswerRequest{SelectedAnswer: json.RawMessage(`"a"`)})

	got, err := f.svc.GetAttempt(ctx, a.ID, 7, false)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.Grade != "" || got.IsPassed {
		t.Errorf("in-progress view leaks grade/pass: %q/%v", got.Grade, got.IsPassed)
	}
	for i := range got.Answers {
		if got.Answers[i].IsCorrect || got.Answers[i].MarksObtained != 0 {
			t.Errorf("in-progress view leaks correctness on slot %d", i)
		}
	}
}

func TestGetAttempt_TerminalShowsCorrectness(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)
	f.svc.RecordAnswer(ctx, a.ID, 7, f.q1, &model.RecordAnswerRequest{SelectedAnswer: json.RawMessage(`"a"`)})
	f.svc.Finalize(ctx, a.ID, 7, model.AttemptStatusSubmitted)

	got, _ := f.svc.GetAttempt(ctx, a.ID, 7, false)
	if got.Grade == "" {
		t.Error("terminal view must include grade")
	}
	if !got.AnswerFor(f.q1).IsCorrect {
		t.Error("terminal view must include correctness when the exam allows it")
	}
}

func TestGetAttempt_HiddenCorrectAnswers(t *testing.T) {
	f := newFixture(t, func(e *model.Exam) { e.ShowCorrectAnswers = false })
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)
	f.svc.RecordAnswer(ctx, a.ID, 7, f.q1, &model.RecordAnswerRequest{SelectedAnswer: json.RawMessage(`"a"`)})
	f.svc.Finalize(ctx, a.ID, 7, model.AttemptStatusSubmitted)

	got, _ := f.svc.GetAttempt(ctx, a.ID, 7, false)
	if got.AnswerFor(f.q1).IsCorrect {
		t.Error("correctness leaked despite show_correct_answers = false")
	}
	if got.Grade == "" {
		t.Error("aggregate result must still be visible")
	}
}

func TestGetAttempt_Privileged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)
	f.svc.RecordAnswer(ctx, a.ID, 7, f.q1, &model.RecordAnswerRequest{SelectedAnswer: json.RawMessage(`"a"`)})

	got, err := f.svc.GetAttempt(ctx, a.ID, 99, true)
	if err != nil {
		t.Fatalf("privileged GetAttempt: %v", err)
	}
	if !got.AnswerFor(f.q1).IsCorrect {
		t.Error("privileged view must be unredacted")
	}

	if _, err := f.svc.GetAttempt(ctx, a.ID, 99, false); !errors.Is(err, ErrNotOwner) {
		t.Errorf("foreign student err = %v, want ErrNotOwner", err)
	}
}

// ─── Violations and disqualification ────────────────────────────────

func TestRecordViolation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)

	if err := f.svc.RecordViolation(ctx, a.ID, 7, model.ViolationTabSwitch, "alt-tab"); err != nil {
		t.Fatalf("RecordViolation: %v", err)
	}

	stored, _ := f.store.GetByID(ctx, a.ID)
	if stored.Proctoring.TabSwitches != 1 {
		t.Errorf("TabSwitches = %d, want 1", stored.Proctoring.TabSwitches)
	}
	if len(f.sink.incidents) != 1 || f.sink.incidents[0].Kind != model.ViolationTabSwitch {
		t.Errorf("incidents = %+v, want one TAB_SWITCH", f.sink.incidents)
	}

	f.svc.Finalize(ctx, a.ID, 7, model.AttemptStatusSubmitted)
	err := f.svc.RecordViolation(ctx, a.ID, 7, model.ViolationTabSwitch, "")
	if !errors.Is(err, ErrAttemptNotInProgress) {
		t.Errorf("violation on finalized attempt err = %v", err)
	}
}

func TestDisqualify(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)

	// Below the threshold (3) and no force: refused.
	if _, err := f.svc.Disqualify(ctx, a.ID, false); err == nil {
		t.Fatal("disqualify below threshold must fail without force")
	}

	for i := 0; i < 3; i++ {
		f.svc.RecordViolation(ctx, a.ID, 7, model.ViolationFullscreenExit, "")
	}

	got, err := f.svc.Disqualify(ctx, a.ID, false)
	if err != nil {
		t.Fatalf("Disqualify: %v", err)
	}
	if got.Status != model.AttemptStatusAbandoned {
		t.Errorf("Status = %s, want ABANDONED", got.Status)
	}

	if _, err := f.svc.Disqualify(ctx, a.ID, true); !errors.Is(err, ErrAttemptNotInProgress) {
		t.Errorf("second disqualify err = %v, want ErrAttemptNotInProgress", err)
	}
}

func TestDisqualify_Force(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)

	got, err := f.svc.Disqualify(ctx, a.ID, true)
	if err != nil {
		t.Fatalf("forced Disqualify: %v", err)
	}
	if got.Status != model.AttemptStatusAbandoned {
		t.Errorf("Status = %s, want ABANDONED", got.Status)
	}
}

// ─── Deadline sweep ─────────────────────────────────────────────────

func TestSweepExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)
	// Backdate past the 30 minute duration.
	f.store.attempts[a.ID].StartTime = time.Now().Add(-45 * time.Minute)

	swept, err := f.svc.SweepExpired(ctx, 100)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	stored, _ := f.store.GetByID(ctx, a.ID)
	if stored.Status != model.AttemptStatusAutoSubmitted {
		t.Errorf("Status = %s, want AUTO_SUBMITTED", stored.Status)
	}
}

func TestSweepExpired_LeavesActiveAttempts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.svc.StartAttempt(ctx, f.examID, 7)

	swept, err := f.svc.SweepExpired(ctx, 100)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if swept != 0 {
		t.Errorf("swept = %d, want 0", swept)
	}
	stored, _ := f.store.GetByID(ctx, a.ID)
	if stored.Status != model.AttemptStatusInProgress {
		t.Errorf("active attempt was swept to %s", stored.Status)
	}
}
