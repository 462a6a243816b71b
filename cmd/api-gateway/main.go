package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/gradebook-api/api/swagger"
	"github.com/noah-isme/gradebook-api/internal/handler"
	"github.com/noah-isme/gradebook-api/internal/repository"
	"github.com/noah-isme/gradebook-api/internal/service"
	"github.com/noah-isme/gradebook-api/pkg/cache"
	"github.com/noah-isme/gradebook-api/pkg/config"
	"github.com/noah-isme/gradebook-api/pkg/database"
	"github.com/noah-isme/gradebook-api/pkg/events"
	"github.com/noah-isme/gradebook-api/pkg/jobs"
	"github.com/noah-isme/gradebook-api/pkg/logger"
	"github.com/noah-isme/gradebook-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/gradebook-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/gradebook-api/pkg/middleware/requestid"
	"github.com/noah-isme/gradebook-api/pkg/storage"
)

// @title Gradebook API
// @version 1.0.0
// @description Classes, weighted grade compositions, grade reviews and notifications.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Database.AutoMigrate {
		if err := migrateUp(cfg, logr); err != nil {
			return err
		}
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	store, err := storage.New(ctx, cfg.Storage, logr)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	publisher := events.Publisher(events.NopPublisher{})
	if cfg.Notifications.RabbitMQURL != "" {
		publisher, err = events.NewRabbitMQPublisher(cfg.Notifications.RabbitMQURL, cfg.Notifications.RabbitMQExchange, logr)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
	}
	defer publisher.Close() //nolint:errcheck

	app := buildApp(ctx, cfg, logr, db, redisClient, store, publisher)
	app.start(context.Background())
	defer app.stop()

	router := newRouter(cfg, logr, app)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func migrateUp(cfg *config.Config, logr *zap.Logger) error {
	migrator, err := database.NewMigrator(cfg.Database, logr)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer migrator.Close() //nolint:errcheck
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

type app struct {
	metrics *service.MetricsService
	auth    *service.AuthService
	users   *repository.UserRepository

	queues []*jobs.Queue

	authHandler         *handler.AuthHandler
	fileHandler         *handler.FileHandler
	classHandler        *handler.ClassHandler
	studentHandler      *handler.StudentHandler
	gradeHandler        *handler.GradeHandler
	compositionHandler  *handler.CompositionHandler
	reviewHandler       *handler.ReviewHandler
	notificationHandler *handler.NotificationHandler
	metricsHandler      *handler.MetricsHandler
}

func buildApp(ctx context.Context, cfg *config.Config, logr *zap.Logger, db *sqlx.DB, redisClient *redis.Client, store storage.ObjectStore, publisher events.Publisher) *app {
	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	fileRepo := repository.NewFileRepository(db)
	classRepo := repository.NewClassRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	compositionRepo := repository.NewCompositionRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.GradeBoard.CacheTTL, logr, cfg.GradeBoard.CacheEnabled)
	// Invalidate logs its own failures; a stale board only lives until its TTL.
	_ = cacheSvc.PurgeGradeBoards(ctx)

	notifications := service.NewNotificationService(notificationRepo, publisher, metrics, logr)
	mail := service.NewMailDispatcher(mailer.New(cfg.Mail, logr), logr)

	queueCfg := jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	}
	notificationQueue := jobs.NewQueue("notifications", notifications.Handle, queueCfg)
	mailQueue := jobs.NewQueue("mail", mail.Handle, queueCfg)
	notifications.SetQueue(notificationQueue)
	mail.SetQueue(mailQueue)

	files := service.NewFileService(fileRepo, store, storage.NewURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL), logr, service.FileServiceConfig{
		MaxSizeBytes: cfg.Storage.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Storage.AllowedMIMEs,
	})

	auth := service.NewAuthService(userRepo, service.AuthDeps{
		Google: service.NewGoogleVerifier(cfg.OAuth.GoogleClientID),
		Mailer: mail,
		Files:  files,
	}, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		ResetTokenSecret:   cfg.JWT.ResetSecret,
		ResetTokenExpiry:   cfg.JWT.ResetExpiration,
		ClientURL:          cfg.Mail.ClientURL,
		Issuer:             cfg.JWT.Issuer,
	})

	classes := service.NewClassService(classRepo, userRepo, mail, notifications, validate, logr, service.ClassServiceConfig{
		JoinCodeLength: cfg.Classes.JoinCodeLength,
		InviteTTL:      cfg.Classes.InviteTTL,
		ClientURL:      cfg.Mail.ClientURL,
	})
	students := service.NewStudentService(studentRepo, classes, cacheSvc, validate, logr)
	grades := service.NewGradeService(gradeRepo, compositionRepo, studentRepo, classes, cacheSvc, cfg.GradeBoard.CacheTTL, logr)
	compositions := service.NewCompositionService(compositionRepo, gradeRepo, studentRepo, classes, cacheSvc, notifications, metrics, validate, logr)
	reviews := service.NewReviewService(reviewRepo, commentRepo, gradeRepo, studentRepo, classes, cacheSvc, notifications, metrics, validate, logr)

	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	return &app{
		metrics: metrics,
		auth:    auth,
		users:   userRepo,
		queues:  []*jobs.Queue{notificationQueue, mailQueue},

		authHandler:         handler.NewAuthHandler(auth),
		fileHandler:         handler.NewFileHandler(files),
		classHandler:        handler.NewClassHandler(classes),
		studentHandler:      handler.NewStudentHandler(students),
		gradeHandler:        handler.NewGradeHandler(grades),
		compositionHandler:  handler.NewCompositionHandler(compositions),
		reviewHandler:       handler.NewReviewHandler(reviews),
		notificationHandler: handler.NewNotificationHandler(notifications),
		metricsHandler:      handler.NewMetricsHandler(metrics, checks),
	}
}

func (a *app) start(ctx context.Context) {
	for _, q := range a.queues {
		q.Start(ctx)
	}
}

// stop drains buffered jobs before the database and publisher close.
func (a *app) stop() {
	for _, q := range a.queues {
		q.Stop()
	}
}

func newRouter(cfg *config.Config, logr *zap.Logger, a *app) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", a.metricsHandler.Health)
	r.GET("/ready", a.metricsHandler.Ready)
	r.GET("/metrics", a.metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), a, logr)
	return r
}
