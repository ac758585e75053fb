package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/finshield/fraud-engine/configs"
	"github.com/finshield/fraud-engine/internal/analytics"
	"github.com/finshield/fraud-engine/internal/audit"
	"github.com/finshield/fraud-engine/internal/auth"
	"github.com/finshield/fraud-engine/internal/engine"
	"github.com/finshield/fraud-engine/internal/gateway"
	"github.com/finshield/fraud-engine/internal/models"
	"github.com/finshield/fraud-engine/internal/queue"
	"github.com/finshield/fraud-engine/internal/repositories"
	"github.com/finshield/fraud-engine/internal/services"
	"github.com/finshield/fraud-engine/internal/velocity"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting Fraud Engine API Server")

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis
	redisClient, err := queue.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	streamClient, err := queue.NewFraudStreamClientWith(redisClient, cfg.Redis, cfg.Worker.DeadLetterStream)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize fraud event stream")
	}
	cacheClient := queue.NewCacheClientWith(redisClient)

	// Initialize repositories
	eventRepo := repositories.NewFraudEventRepository(db)
	reviewRepo := repositories.NewReviewRepository(db)
	operatorRepo := repositories.NewOperatorRepository(db)

	// Initialize services
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, "fraud-engine", cfg.JWT.Expiration)
	authService := services.NewAuthService(operatorRepo, jwtManager)
	analyticsService := analytics.NewService(eventRepo, reviewRepo, cacheClient)

	// Initialize the screening pipeline
	tracker := velocity.NewTracker(redisClient)
	riskEngine := engine.NewEngine(cfg.Fraud, tracker)
	rateLimiter := velocity.NewRateLimiter(redisClient, cfg.Fraud.RateLimitWindow, cfg.Fraud.RateLimitMax)
	recorder := audit.NewRecorder(streamClient, cacheClient, int64(cfg.Fraud.RecentEventsCapacity))
	screeningGateway := gateway.NewGateway(riskEngine, rateLimiter, recorder, cfg.Fraud.ScreenedPaths)

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	setupRoutes(router, jwtManager, authService, analyticsService, screeningGateway, tracker, db, cacheClient)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func setupRoutes(
	router *gin.Engine,
	jwtManager *auth.JWTManager,
	authService *services.AuthService,
	analyticsService *analytics.Service,
	screeningGateway *gateway.Gateway,
	tracker *velocity.Tracker,
	db *repositories.Database,
	cacheClient *queue.CacheClient,
) {
	// Health check
	router.GET("/health", healthHandler(db, cacheClient))

	// API v1 routes
	v1 := router.Group("/api/v1")

	// Operator auth routes (public)
	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", registerHandler(authService))
		authRoutes.POST("/login", loginHandler(authService))
		authRoutes.POST("/refresh", refreshTokenHandler(authService))
	}

	// Customer-facing routes: identity token required, sensitive operations
	// pass through the fraud screening gateway.
	screened := v1.Group("")
	screened.Use(auth.IdentityMiddleware(jwtManager))
	screened.Use(screeningGateway.Middleware())
	{
		screened.POST("/transactions", acceptOperationHandler("transaction"))
		screened.POST("/payments", acceptOperationHandler("payment"))
		screened.POST("/beneficiaries", acceptOperationHandler("beneficiary"))
		screened.POST("/kyc/documents", acceptOperationHandler("kyc_document"))
		screened.GET("/velocity", velocityHandler(tracker))
	}

	// Back-office routes (operators only)
	admin := v1.Group("/admin")
	admin.Use(auth.OperatorMiddleware(jwtManager, models.RoleReviewer, models.RoleAdmin))
	{
		admin.GET("/events/recent", recentEventsHandler(analyticsService))
		admin.GET("/events/identity/:identity_id", identityHistoryHandler(analyticsService))
		admin.GET("/risk/summary", riskSummaryHandler(analyticsService))
		admin.GET("/risk/factors/top", topFactorsHandler(analyticsService))
		admin.GET("/analytics/volume/hourly", hourlyVolumeHandler(analyticsService))
		admin.GET("/metrics/live", liveMetricsHandler(analyticsService))
		admin.GET("/reviews", recentReviewsHandler(analyticsService))
		admin.POST("/reviews/:assessment_id", completeReviewHandler(analyticsService))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-Device-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Handlers

func healthHandler(db *repositories.Database, cacheClient *queue.CacheClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := gin.H{"database": "up", "redis": "up"}

		if err := db.HealthCheck(ctx); err != nil {
			checks["database"] = "down"
			status = http.StatusServiceUnavailable
		}
		if err := cacheClient.HealthCheck(ctx); err != nil {
			checks["redis"] = "down"
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"status":    map[bool]string{true: "healthy", false: "degraded"}[status == http.StatusOK],
			"checks":    checks,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

func registerHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required,email"`
			Password string `json:"password" binding:"required"`
			Role     string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		operator, token, err := authService.Register(c.Request.Context(), req.Email, req.Password, req.Role)
		if err != nil {
			status := http.StatusBadRequest
			if err == repositories.ErrOperatorAlreadyExists {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"operator": operator, "token": token})
	}
}

func loginHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required,email"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		operator, token, err := authService.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			status := http.StatusInternalServerError
			if err == services.ErrInvalidCredentials {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"operator": operator, "token": token})
	}
}

func refreshTokenHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if len(token) > 7 {
			token = token[7:] // Remove "Bearer "
		}

		refreshed, err := authService.Refresh(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": refreshed})
	}
}

// acceptOperationHandler stands in for the downstream business handler. By
// the time it runs the gateway has approved (or flagged) the operation; the
// assessment is attached to the request context.
func acceptOperationHandler(operation string) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := gin.H{
			"success":   true,
			"operation": operation,
			"status":    "accepted",
		}

		if value, exists := c.Get(gateway.ContextAssessmentKey); exists {
			if assessment, ok := value.(*models.RiskAssessment); ok {
				response["assessment_id"] = assessment.ID
				response["risk_level"] = assessment.RiskLevel
				response["requires_review"] = assessment.RequiresReview
				if assessment.RequiresReview {
					response["status"] = "accepted_pending_review"
				}
			}
		}

		c.JSON(http.StatusAccepted, response)
	}
}

func velocityHandler(tracker *velocity.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.IdentityFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		windows := gin.H{}
		for _, window := range []models.VelocityWindow{models.WindowHour, models.WindowDay, models.WindowWeek} {
			counter, err := tracker.Snapshot(c.Request.Context(), user.IdentityID, window)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "velocity store unavailable"})
				return
			}
			windows[string(window)] = counter
		}

		c.JSON(http.StatusOK, gin.H{"identity_id": user.IdentityID, "windows": windows})
	}
}

func recentEventsHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := getIntParam(c, "limit", 50)

		events, err := analyticsService.RecentEvents(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

func identityHistoryHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		identityID, err := uuid.Parse(c.Param("identity_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity_id"})
			return
		}
		days := getIntParam(c, "days", 30)
		limit := getIntParam(c, "limit", 100)

		events, err := analyticsService.IdentityHistory(c.Request.Context(), identityID, days, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"identity_id": identityID, "events": events})
	}
}

func riskSummaryHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 7)

		summary, err := analyticsService.Summary(c.Request.Context(), days)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}

func topFactorsHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 7)
		limit := getIntParam(c, "limit", 10)

		factors, err := analyticsService.TopFactors(c.Request.Context(), days, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"factors": factors})
	}
}

func hourlyVolumeHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		volumes, err := analyticsService.HourlyVolume(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"volumes": volumes})
	}
}

func liveMetricsHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics, err := analyticsService.LiveMetrics(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"metrics": metrics})
	}
}

func recentReviewsHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := getIntParam(c, "limit", 50)

		reviews, err := analyticsService.RecentReviews(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"reviews": reviews})
	}
}

func completeReviewHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		assessmentID, err := uuid.Parse(c.Param("assessment_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assessment_id"})
			return
		}

		var req struct {
			Action string `json:"action" binding:"required"`
			Notes  string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		reviewer := ""
		if value, exists := c.Get(auth.ContextClaimsKey); exists {
			if claims, ok := value.(*auth.Claims); ok {
				reviewer = claims.Email
			}
		}

		review, err := analyticsService.CompleteReview(c.Request.Context(), assessmentID, req.Action, reviewer, req.Notes)
		if err != nil {
			status := http.StatusInternalServerError
			switch err {
			case analytics.ErrInvalidReviewAction:
				status = http.StatusBadRequest
			case repositories.ErrEventNotFound:
				status = http.StatusNotFound
			case repositories.ErrReviewAlreadyExists:
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, review)
	}
}

// Helper functions

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		if result, err := strconv.Atoi(val); err == nil && result > 0 {
			return result
		}
	}
	return defaultValue
}
