package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veritest/veritest-backend/internal/config"
	"github.com/veritest/veritest-backend/internal/database"
	"github.com/veritest/veritest-backend/internal/logger"
	"github.com/veritest/veritest-backend/internal/model"
	"github.com/veritest/veritest-backend/internal/repository"
	"github.com/veritest/veritest-backend/internal/service"
)

const authorID = 1

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	examService := service.NewExamService(examRepo, questionRepo, rdb, log)

	fmt.Println("=== Seeding sample exams ===")

	seeds := []struct {
		req       model.CreateExamRequest
		questions model.ReplaceQuestionsRequest
	}{
		{
			req: model.CreateExamRequest{
				Title:                  "Geography Basics",
				Subject:                "Geography",
				DurationMinutes:        30,
				AllowedAttempts:        3,
				PassingMarks:           6,
				NegativeMarking:        true,
				NegativeMarkPercent:    25,
				ShowCorrectAnswers:     true,
				ShowResultsImmediately: true,
			},
			questions: model.ReplaceQuestionsRequest{
				Questions: []model.AddQuestionRequest{
					{
						QuestionText: "What is the capital of France?",
						QuestionType: string(model.QuestionTypeMultipleChoice),
						Options: []model.QuestionOption{
							{ID: "a", Text: "Paris", IsCorrect: true},
							{ID: "b", Text: "London"},
							{ID: "c", Text: "Berlin"},
							{ID: "d", Text: "Madrid"},
						},
						Marks:         4,
						NegativeMarks: 1,
						Position:      1,
					},
					{
						QuestionText:  "The Nile is the longest river in the world.",
						QuestionType:  string(model.QuestionTypeTrueFalse),
						CorrectAnswer: json.RawMessage(`"true"`),
						Marks:         2,
						Position:      2,
					},
					{
						QuestionText:  "The largest ocean on Earth is the ____ Ocean.",
						QuestionType:  string(model.QuestionTypeFillInBlank),
						CorrectAnswer: json.RawMessage(`"Pacific"`),
						Marks:         2,
						Position:      3,
					},
					{
						QuestionText: "Describe how plate tectonics shape mountain ranges.",
						QuestionType: string(model.QuestionTypeEssay),
						Marks:        4,
						Position:     4,
					},
				},
			},
		},
		{
			req: model.CreateExamRequest{
				Title:                  "Algebra Midterm",
				Subject:                "Mathematics",
				DurationMinutes:        60,
				AllowedAttempts:        2,
				PassingMarks:           10,
				ShowResultsImmediately: true,
			},
			questions: model.ReplaceQuestionsRequest{
				Questions: []model.AddQuestionRequest{
					{
						QuestionText: "Which value of x satisfies 2x + 3 = 11?",
						QuestionType: string(model.QuestionTypeMultipleChoice),
						Options: []model.QuestionOption{
							{ID: "a", Text: "3"},
							{ID: "b", Text: "4", IsCorrect: true},
							{ID: "c", Text: "5"},
						},
						Marks:    5,
						Position: 1,
					},
					{
						QuestionText:  "Order the steps to solve a linear equation.",
						QuestionType:  string(model.QuestionTypeOrdering),
						CorrectAnswer: json.RawMessage(`["isolate", "simplify", "verify"]`),
						Marks:         5,
						Position:      2,
					},
					{
						QuestionText:  "Match each expression to its simplified form.",
						QuestionType:  string(model.QuestionTypeMatching),
						CorrectAnswer: json.RawMessage(`{"2x+2x":"4x","x*x":"x^2"}`),
						Marks:         10,
						Position:      3,
					},
				},
			},
		},
	}

	for _, seed := range seeds {
		exam, err := examService.Create(ctx, authorID, &seed.req)
		if err != nil {
			log.Fatal().Err(err).Str("title", seed.req.Title).Msg("Failed to create exam")
		}
		if err := examService.ReplaceQuestions(ctx, exam.ID, authorID, &seed.questions); err != nil {
			log.Fatal().Err(err).Str("title", seed.req.Title).Msg("Failed to add questions")
		}
		if err := examService.Publish(ctx, exam.ID, authorID); err != nil {
			log.Fatal().Err(err).Str("title", seed.req.Title).Msg("Failed to publish exam")
		}
		fmt.Printf("Published %q (%s)\n", exam.Title, exam.ID)
	}

	fmt.Println("Seed completed!")
}
