package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"storywriter/internal/ai"
	"storywriter/internal/cache"
	"storywriter/internal/compiler"
	"storywriter/internal/config"
	"storywriter/internal/database"
	"storywriter/internal/diagnostics"
	"storywriter/internal/interfaces"
	"storywriter/internal/logger"
	"storywriter/internal/models"
	"storywriter/internal/prompts"
	"storywriter/internal/service"
	"storywriter/internal/worker"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const usage = `Usage: storywriter <command> [flags]

Commands:
  generate-outline   -user <id> -premise <text> [-title <title>]
  generate-chapters  -book <uuid> -user <id>
  compile-book       -book <uuid> -user <id> [-title <title>] [-format md|txt]
  migrate            [-down <steps>]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	appLogger := logger.MustNew(logger.Config{
		Level:       cfg.LogLevel,
		Encoding:    "console",
		OutputPath:  "stderr",
		Development: cfg.IsDevelopment(),
	})
	defer func() { _ = appLogger.Sync() }()

	// Первый SIGINT останавливает прогон перед следующей главой
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command, args := os.Args[1], os.Args[2:]
	switch command {
	case "generate-outline":
		err = runGenerateOutline(ctx, cfg, appLogger, args)
	case "generate-chapters":
		err = runGenerateChapters(ctx, cfg, appLogger, args)
	case "compile-book":
		err = runCompileBook(ctx, cfg, appLogger, args)
	case "migrate":
		err = runMigrate(cfg, appLogger, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", command, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		_ = appLogger.Sync()
		os.Exit(1)
	}
}

// app - зависимости одной команды CLI.
type app struct {
	pool      *pgxpool.Pool
	repo      interfaces.OutlineRepository
	generator *service.NarrativeGenerator
	outlines  *service.OutlineService
	dumps     *diagnostics.AsyncSink
	logger    *zap.Logger
}

func newApp(ctx context.Context, cfg *config.Config, appLogger *zap.Logger) (*app, error) {
	pool, err := database.ConnectPostgres(ctx, cfg, database.RetryPolicy{MaxRetries: 3, Delay: time.Second}, appLogger)
	if err != nil {
		return nil, err
	}
	aiClient, err := ai.NewAIClient(ai.OptionsFromConfig(cfg), appLogger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	promptProvider, err := prompts.NewProvider(appLogger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	repo := database.NewPgOutlineRepository(appLogger)
	dumps := diagnostics.NewAsyncSink(database.NewPgGenerationDumpRepository(appLogger), pool, 16, appLogger)
	generator := service.NewNarrativeGenerator(aiClient, promptProvider, dumps, service.GeneratorConfigFromConfig(cfg), appLogger)
	return &app{
		pool:      pool,
		repo:      repo,
		generator: generator,
		outlines:  service.NewOutlineService(pool, repo, generator, nil, nil, appLogger),
		dumps:     dumps,
		logger:    appLogger,
	}, nil
}

func (a *app) Close() {
	a.dumps.Close()
	a.pool.Close()
}

func runGenerateOutline(ctx context.Context, cfg *config.Config, appLogger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("generate-outline", flag.ExitOnError)
	userID := fs.Uint64("user", 0, "owner user id")
	title := fs.String("title", "", "book title")
	premise := fs.String("premise", "", "book premise")
	_ = fs.Parse(args)
	if *userID == 0 || *premise == "" {
		return errors.New("flags -user and -premise are required")
	}

	a, err := newApp(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer a.Close()

	outline, err := a.outlines.CreateBook(ctx, *userID, *title, *premise)
	if err != nil {
		return fmt.Errorf("outline generation failed: %w", err)
	}
	fmt.Printf("Outline created: book %s, %d storylines, %d chapters\n",
		outline.Book.ID, len(outline.Storylines), len(outline.Chapters))
	for _, ch := range outline.Chapters {
		fmt.Printf("  %2d. %s\n", ch.Number, ch.Title)
	}
	return nil
}

func runGenerateChapters(ctx context.Context, cfg *config.Config, appLogger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("generate-chapters", flag.ExitOnError)
	bookFlag := fs.String("book", "", "book id")
	userID := fs.Uint64("user", 0, "owner user id")
	_ = fs.Parse(args)
	bookID, err := uuid.Parse(*bookFlag)
	if err != nil || *userID == 0 {
		return errors.New("flags -book (uuid) and -user are required")
	}

	a, err := newApp(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Redis необязателен: без него нет защиты от параллельного прогона с сервером
	var locker interfaces.RunLocker
	redisClient, err := cache.ConnectRedis(ctx, cfg, 1, time.Second, appLogger)
	if err != nil {
		appLogger.Warn("Redis unavailable, running without run lock", zap.Error(err))
	} else {
		defer redisClient.Close()
		locker = cache.NewRedisRunLocker(redisClient, cfg.RunLockTTL, appLogger)
	}

	pipeline := worker.NewChapterPipeline(a.pool, database.NewTransactionHelper(a.pool, appLogger), a.repo, a.generator,
		locker, consoleProgress{}, worker.PipelineConfigFromConfig(cfg), appLogger)
	report, runErr := pipeline.Run(ctx, bookID, *userID)

	if err := worker.PushRunMetrics(context.Background(), cfg.PushgatewayURL, appLogger); err != nil {
		appLogger.Warn("Failed to push run metrics", zap.Error(err))
	}
	if runErr != nil {
		if report != nil {
			fmt.Printf("Generated before stop: %v\n", report.Generated)
		}
		return runErr
	}
	fmt.Printf("Done: generated %d chapters %v, skipped %d\n", len(report.Generated), report.Generated, report.Skipped)
	return nil
}

func runCompileBook(ctx context.Context, cfg *config.Config, appLogger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("compile-book", flag.ExitOnError)
	bookFlag := fs.String("book", "", "book id")
	userID := fs.Uint64("user", 0, "owner user id")
	title := fs.String("title", "", "title; suggested by the model when empty")
	formatFlag := fs.String("format", "md", "output format: md, txt or docx")
	_ = fs.Parse(args)
	bookID, err := uuid.Parse(*bookFlag)
	if err != nil || *userID == 0 {
		return errors.New("flags -book (uuid) and -user are required")
	}
	format, err := compiler.ParseFormat(*formatFlag)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer a.Close()

	book, err := a.outlines.CompileBook(ctx, *userID, bookID, service.CompileOptions{
		Title:        *title,
		SuggestTitle: *title == "",
		Format:       format,
	})
	if err != nil {
		return fmt.Errorf("compile failed: %w", err)
	}

	if err := os.MkdirAll(cfg.BooksDir, 0o755); err != nil {
		return fmt.Errorf("не удалось создать каталог %s: %w", cfg.BooksDir, err)
	}
	path := filepath.Join(cfg.BooksDir, book.FileName)
	if err := os.WriteFile(path, book.Content, 0o644); err != nil {
		return fmt.Errorf("не удалось записать %s: %w", path, err)
	}
	fmt.Printf("Book %q compiled: %d chapters -> %s\n", book.Title, book.Chapters, path)
	return nil
}

func runMigrate(cfg *config.Config, appLogger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	down := fs.Int("down", 0, "roll back this many migrations instead of applying")
	_ = fs.Parse(args)

	if *down > 0 {
		if err := database.RollbackMigrations(cfg.GetDSN(), *down); err != nil {
			return err
		}
		fmt.Printf("Rolled back %d migrations\n", *down)
		return nil
	}
	if err := database.ApplyMigrations(cfg.GetDSN(), appLogger); err != nil {
		return err
	}
	fmt.Println("Migrations applied")
	return nil
}

// consoleProgress печатает события прогона в stdout.
type consoleProgress struct{}

func (consoleProgress) PublishProgress(_ context.Context, event models.ProgressEvent) error {
	switch event.Status {
	case models.ProgressStarted:
		fmt.Printf("Chapter %d: generating %q...\n", event.Chapter, event.Message)
	case models.ProgressCompleted:
		fmt.Printf("Chapter %d: done\n", event.Chapter)
	case models.ProgressFailed:
		fmt.Printf("Chapter %d: failed: %s\n", event.Chapter, event.Message)
	case models.ProgressSkipped:
		fmt.Printf("Chapter %d: skipped (%s)\n", event.Chapter, event.Message)
	case models.ProgressFinished:
		fmt.Printf("Finished: %s\n", event.Message)
	}
	return nil
}
