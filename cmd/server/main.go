// Package main runs the campus talks HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campus-talks/backend/config"
	"github.com/campus-talks/backend/internal/auth"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/bootstrap"
	"github.com/campus-talks/backend/internal/counter"
	"github.com/campus-talks/backend/internal/feedback"
	"github.com/campus-talks/backend/internal/middleware"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/internal/notify"
	"github.com/campus-talks/backend/internal/proposals"
	"github.com/campus-talks/backend/internal/realtime"
	"github.com/campus-talks/backend/internal/registrations"
	"github.com/campus-talks/backend/internal/sessions"
	"github.com/campus-talks/backend/internal/users"
	"github.com/campus-talks/backend/internal/votes"
	"github.com/campus-talks/backend/pkg/response"
	"github.com/campus-talks/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	infra, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	defer infra.Close()
	store := infra.Store

	var resumes proposals.ResumeStore
	if cfg.AWS.ResumeBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ResumeBucket:         cfg.AWS.ResumeBucket,
			Endpoint:             cfg.AWS.Endpoint,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			resumes = s3Client
		}
	}
	interviewLoc, err := cfg.Proposal.Location()
	if err != nil {
		logger.Warn("falling back to UTC for interviews", zap.Error(err))
	}

	dispatcher := notify.NewDispatcher(infra.Notifier(logger), logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Users and the authorization guard
	userRepo := users.NewRepository(store)
	guard := authz.NewGuard(userRepo, logger)
	userSvc := users.NewService(userRepo, guard, logger)

	// Sessions, upvotes and ratings
	sessionRepo := sessions.NewRepository(store)
	ratings := feedback.NewAggregator(store)
	sessionSvc := sessions.NewService(sessionRepo, guard, votes.NewVoteLedger(store), ratings, dispatcher, logger)

	registrationSvc := registrations.NewService(store, guard, registrations.NewSimulatedGateway(), dispatcher, logger)
	feedbackSvc := feedback.NewService(store, guard, logger)

	proposalSvc := proposals.NewService(proposals.NewRepository(store), guard, userSvc, resumes, dispatcher, logger)
	proposalSvc.SetLocation(interviewLoc)

	hub := realtime.NewHub(store, logger)
	defer hub.Close()

	authHandler := auth.NewHandler(userRepo, jwtService, logger)
	authHandler.SetBootstrapFaculty(cfg.Auth.BootstrapFacultyEmails)

	h := handlers{
		auth:          authHandler,
		users:         users.NewHandler(userSvc, logger),
		sessions:      sessions.NewHandler(sessionSvc, logger),
		registrations: registrations.NewHandler(registrationSvc, logger),
		feedback:      feedback.NewHandler(feedbackSvc, ratings, logger),
		proposals:     proposals.NewHandler(proposalSvc, logger),
		ws: realtime.ServeWs(hub, guard, func(token string) (authz.Identity, error) {
			claims, err := jwtService.Validate(token)
			if err != nil {
				return authz.Identity{}, err
			}
			return claims.Identity(), nil
		}, logger),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	routes(router, jwtService, h)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// A memory store lives in this process only, so its background jobs do too.
	jobsCtx, jobsCancel := context.WithCancel(context.Background())
	defer jobsCancel()
	if cfg.Store.Driver == config.StoreDriverMemory {
		go sessions.NewCompletionJob(sessionRepo, dispatcher, logger).Run(jobsCtx, cfg.Jobs.CompletionInterval)
		reconciler := counter.NewReconciler(store, registrations.NewAttendeeCounter(store), "sessionId", logger)
		go func() {
			if err := reconciler.Run(jobsCtx); err != nil {
				logger.Error("counter reconciler", zap.Error(err))
			}
		}()
		logger.Info("in-process jobs started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	jobsCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

type handlers struct {
	auth          *auth.Handler
	users         *users.Handler
	sessions      *sessions.Handler
	registrations *registrations.Handler
	feedback      *feedback.Handler
	proposals     *proposals.Handler
	ws            gin.HandlerFunc
}

func routes(router *gin.Engine, jwtService *auth.JWTService, h handlers) {
	faculty := middleware.RequireRole(models.RoleFaculty)

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", h.auth.Login)
		authGroup.POST("/register", h.auth.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Users
		api.GET("/users/me", h.users.Me)
		api.POST("/users/:id/approve-faculty", faculty, h.users.ApproveFaculty)

		// Sessions
		api.GET("/sessions", h.sessions.List)
		api.GET("/sessions/ranked", h.sessions.Ranked)
		api.POST("/sessions", h.sessions.Create)
		api.POST("/sessions/review", faculty, h.sessions.Review)
		api.GET("/sessions/:id", h.sessions.Get)
		api.POST("/sessions/:id/approve", faculty, h.sessions.Approve)
		api.POST("/sessions/:id/reject", faculty, h.sessions.Reject)

		// Registrations
		api.POST("/sessions/:id/register", h.registrations.Register)
		api.DELETE("/sessions/:id/register", h.registrations.Unregister)
		api.GET("/sessions/:id/registrations", h.registrations.List)

		// Upvotes
		api.POST("/sessions/:id/upvote", h.sessions.Upvote)
		api.POST("/sessions/:id/upvote/toggle", h.sessions.ToggleUpvote)

		// Feedback
		api.PUT("/sessions/:id/feedback", h.feedback.Submit)
		api.GET("/sessions/:id/rating", h.feedback.Rating)

		// Speaker proposals
		api.POST("/proposals", h.proposals.Submit)
		api.GET("/proposals", h.proposals.List)
		api.POST("/proposals/resume-upload-url", h.proposals.ResumeUploadURL)
		api.POST("/proposals/resume", h.proposals.UploadResume)
		api.GET("/proposals/:id", h.proposals.Get)
		api.POST("/proposals/:id/approve", faculty, h.proposals.Approve)
		api.POST("/proposals/:id/reject", faculty, h.proposals.Reject)
		api.POST("/proposals/:id/schedule", faculty, h.proposals.Schedule)
		api.POST("/proposals/:id/finalize", faculty, h.proposals.Finalize)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", h.ws)
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
