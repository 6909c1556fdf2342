package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storywriter/internal/config"
	"storywriter/internal/interfaces"
	"storywriter/internal/models"
	"storywriter/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChapterWriter - генерация одной главы (service.NarrativeGenerator).
type ChapterWriter interface {
	GenerateChapter(ctx context.Context, req models.ChapterRequest) (string, string, error)
}

var _ ChapterWriter = (*service.NarrativeGenerator)(nil)

// RunReport - итог одного прогона.
type RunReport struct {
	BookID    uuid.UUID `json:"book_id"`
	Generated []int     `json:"generated"`
	Skipped   int       `json:"skipped"`
	Failed    *int      `json:"failed,omitempty"`
}

// ChapterFailedError - прогон остановлен на главе Chapter.
type ChapterFailedError struct {
	Chapter int
	Err     error
}

func (e *ChapterFailedError) Error() string {
	return fmt.Sprintf("chapter %d failed: %v", e.Chapter, e.Err)
}

func (e *ChapterFailedError) Unwrap() error { return e.Err }

// PipelineConfig - настройки прогона.
type PipelineConfig struct {
	TargetLength string
}

func PipelineConfigFromConfig(cfg *config.Config) PipelineConfig {
	return PipelineConfig{TargetLength: cfg.ChapterLength}
}

// errChapterStale: глава снята с генерации или заменена после загрузки сюжета.
var errChapterStale = errors.New("глава больше не ожидает генерации")

// ChapterPipeline генерирует помеченные главы книги строго по порядку номеров.
//
// Флаг eligible - единственный маркер возобновления: готовая глава сохраняется
// вместе со сброшенным флагом, поэтому повторный прогон начинает с первой
// оставшейся главы. Транзакция не держится во время вызова модели; флаг
// перечитывается перед вызовом и еще раз под блокировкой строки при сохранении.
type ChapterPipeline struct {
	db       interfaces.DBTX
	tx       interfaces.Transactor
	repo     interfaces.OutlineRepository
	writer   ChapterWriter
	locker   interfaces.RunLocker
	progress interfaces.ProgressPublisher
	cfg      PipelineConfig
	logger   *zap.Logger
}

// NewChapterPipeline создает драйвер. locker и progress могут быть nil.
func NewChapterPipeline(
	db interfaces.DBTX,
	tx interfaces.Transactor,
	repo interfaces.OutlineRepository,
	writer ChapterWriter,
	locker interfaces.RunLocker,
	progress interfaces.ProgressPublisher,
	cfg PipelineConfig,
	logger *zap.Logger,
) *ChapterPipeline {
	return &ChapterPipeline{
		db:       db,
		tx:       tx,
		repo:     repo,
		writer:   writer,
		locker:   locker,
		progress: progress,
		cfg:      cfg,
		logger:   logger.Named("ChapterPipeline"),
	}
}

// Run генерирует все главы с eligible=true. Отмена ctx проверяется между главами;
// начатая глава дописывается и сохраняется.
func (p *ChapterPipeline) Run(ctx context.Context, bookID uuid.UUID, userID uint64) (report *RunReport, err error) {
	log := p.logger.With(zap.String("bookID", bookID.String()), zap.Uint64("userID", userID))
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "failed"
		}
		runDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	if p.locker != nil {
		release, lockErr := p.locker.Acquire(ctx, bookID)
		if lockErr != nil {
			return nil, lockErr
		}
		defer release()
	}

	if _, err := p.repo.GetBookForOwner(ctx, p.db, bookID, userID); err != nil {
		return nil, err
	}
	outline, err := p.repo.LoadOutline(ctx, p.db, bookID)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки сюжета: %w", err)
	}
	outline.SortChapters()

	report = &RunReport{BookID: bookID, Generated: []int{}}
	log.Info("Chapter pipeline started", zap.Int("chapters", len(outline.Chapters)))

	for i := range outline.Chapters {
		ch := &outline.Chapters[i]
		if !ch.Eligible {
			report.Skipped++
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Info("Chapter pipeline cancelled", zap.Int("next_chapter", ch.Number))
			return report, fmt.Errorf("прогон остановлен перед главой %d: %w", ch.Number, ctxErr)
		}

		generated, err := p.generateOne(ctx, outline, ch, log)
		if err != nil {
			number := ch.Number
			report.Failed = &number
			chapterFailures.WithLabelValues(failureReason(err)).Inc()
			log.Error("Chapter pipeline aborted", zap.Int("chapter", number), zap.Error(err))
			p.publish(ctx, models.ProgressEvent{BookID: bookID, Chapter: number, Status: models.ProgressFailed, Message: err.Error()})
			return report, &ChapterFailedError{Chapter: number, Err: err}
		}
		if !generated {
			report.Skipped++
			continue
		}
		report.Generated = append(report.Generated, ch.Number)
	}

	log.Info("Chapter pipeline finished",
		zap.Ints("generated", report.Generated),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", time.Since(start)),
	)
	p.publish(ctx, models.ProgressEvent{
		BookID:  bookID,
		Status:  models.ProgressFinished,
		Message: fmt.Sprintf("generated %d chapters", len(report.Generated)),
	})
	return report, nil
}

// generateOne: контекст читается из уже загруженного сюжета, затем вызов модели,
// затем отдельная короткая транзакция на сохранение. false без ошибки - глава
// перестала ожидать генерации и пропущена.
func (p *ChapterPipeline) generateOne(ctx context.Context, outline *models.Outline, ch *models.OutlineChapter, log *zap.Logger) (bool, error) {
	started := time.Now()
	// Начатую главу не прерываем: отмена учитывается только между главами.
	workCtx := context.WithoutCancel(ctx)
	bookID := outline.Book.ID

	current, err := p.repo.GetChapter(workCtx, p.db, bookID, ch.Number)
	if err := stillPending(ch, current, err); err != nil {
		if errors.Is(err, errChapterStale) {
			log.Info("Chapter no longer pending, skipping", zap.Int("chapter", ch.Number))
			return false, nil
		}
		return false, err
	}

	req := models.ChapterRequest{
		BookID:            bookID,
		Chapter:           models.ChapterPlan{Number: ch.Number, Title: ch.Title, Events: ch.Events},
		Premise:           outline.Book.Premise,
		Storylines:        outline.Storylines,
		PreviousSummaries: PreviousSummaries(outline, ch.Number),
		TargetLength:      p.cfg.TargetLength,
	}
	p.publish(ctx, models.ProgressEvent{BookID: bookID, Chapter: ch.Number, Status: models.ProgressStarted, Message: ch.Title})
	log.Info("Generating chapter", zap.Int("chapter", ch.Number), zap.Int("context_chapters", len(req.PreviousSummaries)))

	text, summary, err := p.writer.GenerateChapter(workCtx, req)
	if err != nil {
		return false, err
	}

	err = p.tx.WithTransaction(workCtx, func(txCtx context.Context, tx interfaces.DBTX) error {
		locked, err := p.repo.GetChapterForUpdate(txCtx, tx, bookID, ch.Number)
		if err := stillPending(ch, locked, err); err != nil {
			return err
		}
		return p.repo.UpdateChapter(txCtx, tx, bookID, ch.Number, summary, &text)
	})
	if errors.Is(err, errChapterStale) {
		log.Warn("Chapter changed during generation, result discarded", zap.Int("chapter", ch.Number))
		p.publish(ctx, models.ProgressEvent{BookID: bookID, Chapter: ch.Number, Status: models.ProgressSkipped, Message: errChapterStale.Error()})
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка сохранения главы %d: %w", ch.Number, err)
	}

	now := time.Now().UTC()
	ch.Content = &text
	ch.Summary = &summary
	ch.Eligible = false
	ch.GeneratedAt = &now

	chaptersGenerated.Inc()
	chapterDuration.Observe(time.Since(started).Seconds())
	p.publish(ctx, models.ProgressEvent{BookID: bookID, Chapter: ch.Number, Status: models.ProgressCompleted, Message: summary})
	return true, nil
}

// stillPending сверяет свежее чтение главы со снимком: та же строка и флаг еще стоит.
func stillPending(snapshot *models.OutlineChapter, current *models.Chapter, readErr error) error {
	switch {
	case errors.Is(readErr, models.ErrNotFound):
		return errChapterStale
	case readErr != nil:
		return fmt.Errorf("ошибка чтения главы %d: %w", snapshot.Number, readErr)
	case current.ID != snapshot.ID || !current.Eligible:
		return errChapterStale
	}
	return nil
}

// PreviousSummaries - краткие содержания глав с меньшими номерами, у которых оно есть, по возрастанию.
func PreviousSummaries(outline *models.Outline, number int) []string {
	out := make([]string, 0, number)
	for _, ch := range outline.Chapters {
		if ch.Number >= number {
			break
		}
		if ch.Summary != nil {
			out = append(out, service.FormatChapterSummary(ch.Number, *ch.Summary))
		}
	}
	return out
}

func (p *ChapterPipeline) publish(ctx context.Context, event models.ProgressEvent) {
	if p.progress == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if err := p.progress.PublishProgress(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Warn("Failed to publish progress event",
			zap.String("bookID", event.BookID.String()),
			zap.String("status", string(event.Status)),
			zap.Error(err),
		)
	}
}
