package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/veritest/veritest-backend/internal/config"
	"github.com/veritest/veritest-backend/internal/handler"
	"github.com/veritest/veritest-backend/internal/middleware"
	"github.com/veritest/veritest-backend/internal/response"
	"github.com/veritest/veritest-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Exam    *handler.ExamHandler
	Stats   *handler.StatsHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		studentAPI.GET("/exams", handlers.Exam.ListExams)
		studentAPI.GET("/exams/:exam_id", handlers.Exam.GetExamPayload)
		studentAPI.GET("/exams/:exam_id/leaderboard", handlers.Stats.Leaderboard)

		studentAPI.POST("/exams/:exam_id/attempts", handlers.Attempt.StartAttempt)
		studentAPI.GET("/attempts", handlers.Attempt.ListMyAttempts)
		studentAPI.GET("/attempts/:attempt_id", handlers.Attempt.GetAttempt)
		studentAPI.PUT("/attempts/:attempt_id/answers/:question_id", handlers.Attempt.RecordAnswer)
		studentAPI.POST("/attempts/:attempt_id/submit", handlers.Attempt.SubmitAttempt)
		studentAPI.POST("/attempts/:attempt_id/violations", handlers.Attempt.ReportViolation)

		studentAPI.GET("/stats", handlers.Stats.MyStats)
	}

	// ─── 2. WebSocket Group (Admin WS Auth) ────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAdminWSAuth(authService))
	{
		ws.GET("/admin/exams/:exam_id/monitor", handlers.WS.MonitorExam)
	}

	// ─── 3. Admin Group (JWT) ──────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.POST("/exams", handlers.Exam.CreateExam)
		adminAPI.PUT("/exams/:exam_id/questions", handlers.Exam.ReplaceQuestions)
		adminAPI.POST("/exams/:exam_id/publish", handlers.Exam.PublishExam)

		adminAPI.GET("/attempts/:attempt_id", handlers.Attempt.GetAttemptAdmin)
		adminAPI.POST("/attempts/:attempt_id/disqualify", handlers.Attempt.DisqualifyAttempt)

		adminAPI.GET("/exams/:exam_id/stats", handlers.Stats.ExamStats)
		adminAPI.GET("/students/:student_id/stats", handlers.Stats.StudentStats)
		adminAPI.GET("/trends", handlers.Stats.Trends)
	}

	return router
}
