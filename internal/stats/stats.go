// Package stats implements the read-side rollups over terminal attempts:
// exam statistics, student statistics, leaderboards and daily trends. All
// functions are pure; the repository layer supplies the fact rows.
package stats

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// AttemptFact is the projection of one terminal attempt the rollups consume.
type AttemptFact struct {
	ExamID           uuid.UUID `json:"exam_id"`
	StudentID        int       `json:"student_id"`
	Subject          string    `json:"subject"`
	ObtainedMarks    float64   `json:"obtained_marks"`
	Percentage       float64   `json:"percentage"`
	Grade            string    `json:"grade"`
	IsPassed         bool      `json:"is_passed"`
	TimeSpentMinutes int       `json:"time_spent_minutes"`
	FinishedAt       time.Time `json:"finished_at"`
}

// ExamStats aggregates every terminal attempt of one exam.
type ExamStats struct {
	AttemptCount        int            `json:"attempt_count"`
	AvgObtainedMarks    float64        `json:"avg_obtained_marks"`
	AvgPercentage       float64        `json:"avg_percentage"`
	PassRate            float64        `json:"pass_rate"`
	AvgTimeSpentMinutes float64        `json:"avg_time_spent_minutes"`
	GradeHistogram      map[string]int `json:"grade_histogram"`
	PercentageBuckets   map[string]int `json:"percentage_buckets"`
	TimeBuckets         map[string]int `json:"time_buckets"`
}

// SubjectStats is one per-subject rollup inside StudentStats.
type SubjectStats struct {
	Subject       string  `json:"subject"`
	AttemptCount  int     `json:"attempt_count"`
	AvgPercentage float64 `json:"avg_percentage"`
	PassRate      float64 `json:"pass_rate"`
}

// StudentStats aggregates one student's terminal attempts across exams.
type StudentStats struct {
	AttemptCount  int            `json:"attempt_count"`
	AvgMarks      float64        `json:"avg_marks"`
	AvgPercentage float64        `json:"avg_percentage"`
	PassRate      float64        `json:"pass_rate"`
	Improvement   float64        `json:"improvement"`
	Subjects      []SubjectStats `json:"subjects"`
	Strengths     []string       `json:"strengths"`
	Weaknesses    []string       `json:"weaknesses"`
}

// LeaderboardRow ranks one student by mean percentage.
type LeaderboardRow struct {
	Rank          int     `json:"rank"`
	StudentID     int     `json:"student_id"`
	AttemptCount  int     `json:"attempt_count"`
	AvgPercentage float64 `json:"avg_percentage"`
}

// TrendPoint is one calendar day of attempt activity.
type TrendPoint struct {
	Date          string  `json:"date"`
	AttemptCount  int     `json:"attempt_count"`
	AvgPercentage float64 `json:"avg_percentage"`
	PassRate      float64 `json:"pass_rate"`
}

const (
	strengthThreshold = 80
	weaknessThreshold = 60
	improvementWindow = 5
)

// ComputeExamStats rolls up facts belonging to one exam. Empty input yields
// zero counters and empty histograms, never an error.
func ComputeExamStats(facts []AttemptFact) ExamStats {
	s := ExamStats{
		GradeHistogram:    make(map[string]int),
		PercentageBuckets: make(map[string]int),
		TimeBuckets:       make(map[string]int),
	}
	if len(facts) == 0 {
		return s
	}

	var marks, pct, minutes float64
	var passed int
	for _, f := range facts {
		marks += f.ObtainedMarks
		pct += f.Percentage
		minutes += float64(f.TimeSpentMinutes)
		if f.IsPassed {
			passed++
		}
		s.GradeHistogram[f.Grade]++
		s.PercentageBuckets[percentageBucket(f.Percentage)]++
		s.TimeBuckets[timeBucket(f.TimeSpentMinutes)]++
	}

	n := float64(len(facts))
	s.AttemptCount = len(facts)
	s.AvgObtainedMarks = marks / n
	s.AvgPercentage = pct / n
	s.PassRate = float64(passed) / n
	s.AvgTimeSpentMinutes = minutes / n
	return s
}

func percentageBucket(p float64) string {
	switch {
	case p <= 20:
		return "0-20"
	case p <= 40:
		return "21-40"
	case p <= 60:
		return "41-60"
	case p <= 80:
		return "61-80"
	default:
		return "81-100"
	}
}

func timeBucket(minutes int) string {
	switch {
	case minutes < 30:
		return "0-30"
	case minutes < 60:
		return "30-60"
	case minutes < 90:
		return "60-90"
	default:
		return "90+"
	}
}

// ComputeStudentStats rolls up one student's facts. Improvement compares the
// mean percentage of the most recent attempts against the oldest ones, with
// the window clamped to the available count.
func ComputeStudentStats(facts []AttemptFact) StudentStats {
	s := StudentStats{
		Subjects:   []SubjectStats{},
		Strengths:  []string{},
		Weaknesses: []string{},
	}
	if len(facts) == 0 {
		return s
	}

	ordered := make([]AttemptFact, len(facts))
	copy(ordered, facts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].FinishedAt.Before(ordered[j].FinishedAt)
	})

	var marks, pct float64
	var passed int
	bySubject := make(map[string][]AttemptFact)
	for _, f := range ordered {
		marks += f.ObtainedMarks
		pct += f.Percentage
		if f.IsPassed {
			passed++
		}
		bySubject[f.Subject] = append(bySubject[f.Subject], f)
	}

	n := float64(len(ordered))
	s.AttemptCount = len(ordered)
	s.AvgMarks = marks / n
	s.AvgPercentage = pct / n
	s.PassRate = float64(passed) / n
	s.Improvement = improvement(ordered)

	subjects := make([]string, 0, len(bySubject))
	for subject := range bySubject {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	for _, subject := range subjects {
		group := bySubject[subject]
		var subjectPct float64
		var subjectPassed int
		for _, f := range group {
			subjectPct += f.Percentage
			if f.IsPassed {
				subjectPassed++
			}
		}
		avg := subjectPct / float64(len(group))
		s.Subjects = append(s.Subjects, SubjectStats{
			Subject:       subject,
			AttemptCount:  len(group),
			AvgPercentage: avg,
			PassRate:      float64(subjectPassed) / float64(len(group)),
		})
		if avg >= strengthThreshold {
			s.Strengths = append(s.Strengths, subject)
		} else if avg < weaknessThreshold {
			s.Weaknesses = append(s.Weaknesses, subject)
		}
	}
	return s
}

// improvement expects facts ordered oldest first.
func improvement(ordered []AttemptFact) float64 {
	window := improvementWindow
	if len(ordered) < window {
		window = len(ordered)
	}
	if window == 0 {
		return 0
	}

	var oldest, recent float64
	for i := 0; i < window; i++ {
		oldest += ordered[i].Percentage
		recent += ordered[len(ordered)-window+i].Percentage
	}
	return (recent - oldest) / float64(window)
}

// ComputeLeaderboard groups facts by student, ranks by mean percentage
// descending and caps the result at limit.
func ComputeLeaderboard(facts []AttemptFact, limit int) []LeaderboardRow {
	type acc struct {
		count int
		pct   float64
	}
	byStudent := make(map[int]*acc)
	for _, f := range facts {
		a := byStudent[f.StudentID]
		if a == nil {
			a = &acc{}
			byStudent[f.StudentID] = a
		}
		a.count++
		a.pct += f.Percentage
	}

	rows := make([]LeaderboardRow, 0, len(byStudent))
	for studentID, a := range byStudent {
		rows = append(rows, LeaderboardRow{
			StudentID:     studentID,
			AttemptCount:  a.count,
			AvgPercentage: a.pct / float64(a.count),
		})
	}
	RankLeaderboard(rows)

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// RankLeaderboard sorts rows by mean percentage descending, ties broken by
// ascending student id, and assigns ranks 1..n. Every leaderboard read path
// applies this so cached and computed results order ties identically.
func RankLeaderboard(rows []LeaderboardRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AvgPercentage != rows[j].AvgPercentage {
			return rows[i].AvgPercentage > rows[j].AvgPercentage
		}
		return rows[i].StudentID < rows[j].StudentID
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
}

// ComputeTrends buckets facts by calendar day (UTC) and returns points in
// chronological order. Days without attempts are omitted.
func ComputeTrends(facts []AttemptFact) []TrendPoint {
	type acc struct {
		count  int
		pct    float64
		passed int
	}
	byDay := make(map[string]*acc)
	for _, f := range facts {
		day := f.FinishedAt.UTC().Format("2006-01-02")
		a := byDay[day]
		if a == nil {
			a = &acc{}
			byDay[day] = a
		}
		a.count++
		a.pct += f.Percentage
		if f.IsPassed {
			a.passed++
		}
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	points := make([]TrendPoint, 0, len(days))
	for _, day := range days {
		a := byDay[day]
		points = append(points, TrendPoint{
			Date:          day,
			AttemptCount:  a.count,
			AvgPercentage: a.pct / float64(a.count),
			PassRate:      float64(a.passed) / float64(a.count),
		})
	}
	return points
}
