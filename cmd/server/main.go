package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"storywriter/internal/ai"
	"storywriter/internal/cache"
	"storywriter/internal/config"
	"storywriter/internal/database"
	"storywriter/internal/diagnostics"
	"storywriter/internal/handler"
	"storywriter/internal/logger"
	"storywriter/internal/messaging"
	"storywriter/internal/prompts"
	"storywriter/internal/service"
	"storywriter/internal/worker"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	redisMaxRetries    = 30
	redisRetryDelay    = 2 * time.Second
	rabbitMaxRetries   = 30
	rabbitRetryDelay   = 5 * time.Second
	dumpBufferSize     = 100
	loginAttemptWindow = time.Hour
	shutdownTimeout    = 15 * time.Second
)

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	appLogger := logger.MustNew(logger.Config{
		Level:       cfg.LogLevel,
		Encoding:    cfg.LogEncoding,
		Development: cfg.IsDevelopment(),
	})
	defer func() { _ = appLogger.Sync() }()
	zap.ReplaceGlobals(appLogger)

	if err := cfg.RequireAuthSecrets(); err != nil {
		appLogger.Fatal("Auth secrets are missing", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Инфраструктура ---
	dbPool, err := database.ConnectPostgres(ctx, cfg, database.DefaultRetryPolicy, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()

	if err := database.ApplyMigrations(cfg.GetDSN(), appLogger); err != nil {
		appLogger.Fatal("Failed to apply migrations", zap.Error(err))
	}

	redisClient, err := cache.ConnectRedis(ctx, cfg, redisMaxRetries, redisRetryDelay, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	amqpConn, err := messaging.ConnectRabbitMQ(ctx, cfg.RabbitMQURL, rabbitMaxRetries, rabbitRetryDelay, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer amqpConn.Close()

	aiClient, err := ai.NewAIClient(ai.OptionsFromConfig(cfg), appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create AI client", zap.Error(err))
	}
	promptProvider, err := prompts.NewProvider(appLogger)
	if err != nil {
		appLogger.Fatal("Failed to load prompts", zap.Error(err))
	}

	// --- Репозитории и сервисы ---
	outlineRepo := database.NewPgOutlineRepository(appLogger)
	userRepo := database.NewPgUserRepository(appLogger)
	dumpRepo := database.NewPgGenerationDumpRepository(appLogger)
	txHelper := database.NewTransactionHelper(dbPool, appLogger)

	dumps := diagnostics.NewAsyncSink(dumpRepo, dbPool, dumpBufferSize, appLogger)
	defer dumps.Close()

	runLocker := cache.NewRedisRunLocker(redisClient, cfg.RunLockTTL, appLogger)
	progressBus := cache.NewRedisProgressBus(redisClient, appLogger)
	throttle := cache.NewLoginThrottle(redisClient, cfg.LoginMaxDelay, loginAttemptWindow, appLogger)

	taskPublisher, err := messaging.NewRabbitMQChapterTaskPublisher(amqpConn, cfg.ChapterTaskQueue, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create chapter task publisher", zap.Error(err))
	}
	defer taskPublisher.Close()

	generator := service.NewNarrativeGenerator(aiClient, promptProvider, dumps, service.GeneratorConfigFromConfig(cfg), appLogger)
	outlineService := service.NewOutlineService(dbPool, outlineRepo, generator, taskPublisher, runLocker, appLogger)
	authService := service.NewAuthService(dbPool, userRepo, throttle, service.AuthConfig{
		JWTSecret:      cfg.JWTSecret,
		PasswordPepper: cfg.PasswordPepper,
		AccessTokenTTL: cfg.AccessTokenTTL,
	}, appLogger)

	pipeline := worker.NewChapterPipeline(dbPool, txHelper, outlineRepo, generator, runLocker, progressBus,
		worker.PipelineConfigFromConfig(cfg), appLogger)
	consumer := messaging.NewChapterTaskConsumer(amqpConn, cfg.ChapterTaskQueue, pipeline, appLogger)

	// --- HTTP ---
	h := handler.NewHandler(outlineService, authService, progressBus, cfg.GetAllowedOrigins(), appLogger)
	router := handler.NewRouter(handler.RouterConfig{
		Development:    cfg.IsDevelopment(),
		AllowedOrigins: cfg.GetAllowedOrigins(),
	}, h, appLogger)

	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Создание книги ждет генерацию сюжета
		WriteTimeout: cfg.AITimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := consumer.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		consumer.Stop()
		return nil
	})

	g.Go(func() error {
		appLogger.Info("Starting HTTP server", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Server stopped with error", zap.Error(err))
		return
	}
	appLogger.Info("Server exited properly")
}
