package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/handler"
	"github.com/stemsi/exstem-attempts/internal/middleware"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt      *handler.AttemptHandler
	AdminAttempt *handler.AdminAttemptHandler
	WS           *handler.WSHandler
	System       *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware(log))

	// Brotli for large JSON bodies (attempt views). WebSocket upgrades are skipped inside.
	router.Use(middleware.Compress(cfg.CompressMinBytes))

	// Health checks.
	router.GET("/health", handlers.System.Liveness)
	router.GET("/health/ready", handlers.System.Readiness)

	// ─── 1. Student Group (JWT + Rate Limit) ───────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		limiter.Middleware(),
	)
	{
		studentAPI.POST("/exams/:exam_id/attempts", handlers.Attempt.StartExam)
		studentAPI.GET("/attempts/:attempt_id", handlers.Attempt.AttemptStatus)
		studentAPI.POST("/attempts/:attempt_id/answers", handlers.Attempt.SubmitAnswer)
		studentAPI.POST("/attempts/:attempt_id/submit", handlers.Attempt.SubmitExam)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/attempts/:attempt_id",
			middleware.RequireAnyPermission(model.PermissionAttemptsRead, model.PermissionAttemptsManage),
			handlers.AdminAttempt.GetAttempt,
		)
		adminAPI.POST("/attempts/:attempt_id/abandon",
			middleware.RequirePermission(model.PermissionAttemptsManage),
			handlers.AdminAttempt.AbandonAttempt,
		)
	}

	return router
}
