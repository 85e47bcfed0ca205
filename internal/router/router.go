package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/config"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/handler"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/middleware"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/response"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Student *handler.StudentHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
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

	// Rate limiter for the violation fallback (60 requests per minute per IP):
	// proctoring events can burst, anything past this is abuse.
	violationLimiter := middleware.NewRateLimiter(60, time.Minute)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		studentAPI.POST("/assessments/:assessment_id/attempts", handlers.Student.EnterAttempt)
		studentAPI.GET("/assessments/:assessment_id/paper", handlers.Student.GetPaper)
		studentAPI.GET("/assessments/:assessment_id/attempts/state", handlers.Student.GetState)
		studentAPI.POST("/assessments/:assessment_id/attempts/submit", handlers.Student.SubmitAttempt)
		studentAPI.POST("/assessments/:assessment_id/attempts/violations",
			violationLimiter.Middleware(),
			handlers.Student.ReportViolation,
		)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/assessments/:assessment_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Monitor Group (Proctor JWT) ────────────────────────────────
	monitorAPI := router.Group("/api/v1/monitor")
	monitorAPI.Use(middleware.RequireProctorJWT(authService))
	{
		monitorAPI.GET("/assessments/:assessment_id/progress", handlers.Monitor.GetProgress)
		monitorAPI.GET("/assessments/:assessment_id/stream", handlers.Monitor.MonitorAssessmentSSE)
		monitorAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
