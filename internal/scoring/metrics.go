package scoring

import (
	"github.com/veritest/veritest-backend/internal/model"
)

// DeriveProgress recomputes the aggregate fields that must stay consistent
// while an attempt is in progress: obtained marks as the sum over all answer
// slots, and the percentage derived from it.
func DeriveProgress(a *model.Attempt) {
	var obtained float64
	for i := range a.Answers {
		obtained += a.Answers[i].MarksObtained
	}
	a.ObtainedMarks = obtained

	if a.TotalMarks > 0 {
		a.Percentage = obtained / a.TotalMarks * 100
	} else {
		a.Percentage = 0
	}
}

// Derive performs the full metrics derivation run at finalization: progress
// aggregates plus grade, pass flag and per-attempt analytics. Idempotent —
// calling it twice on an unchanged attempt yields identical fields.
func Derive(a *model.Attempt) {
	DeriveProgress(a)

	a.IsPassed = a.ObtainedMarks >= a.PassingMarks
	a.Grade = Grade(a.Percentage)
	a.Analytics = deriveAnalytics(a.Answers)
}

func deriveAnalytics(answers []model.Answer) model.AttemptAnalytics {
	var an model.AttemptAnalytics
	var totalSeconds int

	for i := range answers {
		ans := &answers[i]
		switch {
		case ans.IsCorrect:
			an.CorrectCount++
		case ans.IsAnswered:
			an.WrongCount++
		default:
			an.UnansweredCount++
		}
		if ans.IsMarkedForReview {
			an.MarkedForReviewCount++
		}

		totalSeconds += ans.TimeSpentSeconds
		if ans.TimeSpentSeconds > 0 {
			if an.FastestAnswerSeconds == 0 || ans.TimeSpentSeconds < an.FastestAnswerSeconds {
				an.FastestAnswerSeconds = ans.TimeSpentSeconds
			}
			if ans.TimeSpentSeconds > an.SlowestAnswerSeconds {
				an.SlowestAnswerSeconds = ans.TimeSpentSeconds
			}
		}
	}

	if attempted := an.CorrectCount + an.WrongCount; attempted > 0 {
		an.Accuracy = float64(an.CorrectCount) / float64(attempted) * 100
	}
	if len(answers) > 0 {
		an.AvgTimePerQuestion = float64(totalSeconds) / float64(len(answers))
	}
	return an
}
