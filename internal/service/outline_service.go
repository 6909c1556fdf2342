package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storywriter/internal/compiler"
	"storywriter/internal/interfaces"
	"storywriter/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultBookTitle = "New book"

// OutlineGenerator - часть генератора, нужная сервису сюжетов.
type OutlineGenerator interface {
	GenerateOutline(ctx context.Context, premise string) ([]string, []models.ChapterPlan, error)
	GenerateTitles(ctx context.Context, summaries []string) []string
}

// RunStatus сообщает, идет ли прогон глав. Реализуется cache.RedisRunLocker.
type RunStatus interface {
	IsLocked(ctx context.Context, bookID uuid.UUID) (bool, error)
}

var _ OutlineGenerator = (*NarrativeGenerator)(nil)

// CompileOptions - параметры сборки книги.
type CompileOptions struct {
	Title string
	// SuggestTitle: при пустом Title взять первое предложенное моделью название вместо названия книги.
	SuggestTitle bool
	Format       compiler.Format
}

// CompiledBook - собранный документ.
type CompiledBook struct {
	Title    string
	FileName string
	Format   compiler.Format
	Content  []byte
	Chapters int
}

// OutlineService - прикладные операции над книгами пользователя.
// Чужая книга неотличима от несуществующей: обе дают models.ErrNotFound.
type OutlineService struct {
	db        interfaces.DBTX
	repo      interfaces.OutlineRepository
	generator OutlineGenerator
	tasks     interfaces.ChapterTaskPublisher
	runs      RunStatus
	logger    *zap.Logger
}

// NewOutlineService создает сервис. tasks и runs могут быть nil (CLI).
func NewOutlineService(db interfaces.DBTX, repo interfaces.OutlineRepository, generator OutlineGenerator, tasks interfaces.ChapterTaskPublisher, runs RunStatus, logger *zap.Logger) *OutlineService {
	return &OutlineService{
		db:        db,
		repo:      repo,
		generator: generator,
		tasks:     tasks,
		runs:      runs,
		logger:    logger.Named("OutlineService"),
	}
}

// CreateBook генерирует сюжет и только потом сохраняет книгу целиком.
func (s *OutlineService) CreateBook(ctx context.Context, userID uint64, title, premise string) (*models.Outline, error) {
	premise = strings.TrimSpace(premise)
	if premise == "" {
		return nil, fmt.Errorf("%w: описание книги пустое", models.ErrInvalidInput)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultBookTitle
	}

	storylines, chapters, err := s.generator.GenerateOutline(ctx, premise)
	if err != nil {
		return nil, err
	}

	bookID, err := s.repo.CreateOutline(ctx, s.db, userID, title, premise, storylines, chapters)
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения сюжета: %w", err)
	}
	s.logger.Info("Book created", zap.String("bookID", bookID.String()), zap.Uint64("userID", userID))
	return s.repo.LoadOutline(ctx, s.db, bookID)
}

// RegenerateOutline заменяет сюжет книги новым. Пустой premise - берется прежний.
// При ошибке генерации старый сюжет не трогается.
func (s *OutlineService) RegenerateOutline(ctx context.Context, userID uint64, bookID uuid.UUID, premise string) (*models.Outline, error) {
	book, err := s.repo.GetBookForOwner(ctx, s.db, bookID, userID)
	if err != nil {
		return nil, err
	}
	premise = strings.TrimSpace(premise)
	if premise == "" {
		premise = book.Premise
	}
	if premise == "" {
		return nil, fmt.Errorf("%w: описание книги пустое", models.ErrInvalidInput)
	}
	if err := s.ensureNoRun(ctx, bookID); err != nil {
		return nil, err
	}

	storylines, chapters, err := s.generator.GenerateOutline(ctx, premise)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceOutline(ctx, s.db, bookID, premise, storylines, chapters); err != nil {
		return nil, fmt.Errorf("ошибка замены сюжета: %w", err)
	}
	s.logger.Info("Outline regenerated", zap.String("bookID", bookID.String()), zap.Int("chapters", len(chapters)))
	return s.repo.LoadOutline(ctx, s.db, bookID)
}

func (s *OutlineService) GetOutline(ctx context.Context, userID uint64, bookID uuid.UUID) (*models.Outline, error) {
	if _, err := s.repo.GetBookForOwner(ctx, s.db, bookID, userID); err != nil {
		return nil, err
	}
	return s.repo.LoadOutline(ctx, s.db, bookID)
}

func (s *OutlineService) ListBooks(ctx context.Context, userID uint64) ([]models.Book, error) {
	return s.repo.ListBooksByOwner(ctx, s.db, userID)
}

// ListAllBooks - только для администратора, роль проверяется здесь же.
func (s *OutlineService) ListAllBooks(ctx context.Context, roles []string) ([]models.BookWithOwner, error) {
	if !models.HasRole(roles, models.RoleAdmin) {
		return nil, models.ErrForbidden
	}
	return s.repo.ListAllBooks(ctx, s.db)
}

// GetChapter возвращает сгенерированную главу; глава без текста считается ненайденной.
func (s *OutlineService) GetChapter(ctx context.Context, userID uint64, bookID uuid.UUID, number int) (*models.Chapter, error) {
	if _, err := s.repo.GetBookForOwner(ctx, s.db, bookID, userID); err != nil {
		return nil, err
	}
	ch, err := s.repo.GetChapter(ctx, s.db, bookID, number)
	if err != nil {
		return nil, err
	}
	if !ch.HasContent() {
		return nil, models.ErrNotFound
	}
	return ch, nil
}

func (s *OutlineService) ToggleChapter(ctx context.Context, userID uint64, bookID uuid.UUID, number int, eligible bool) error {
	if _, err := s.repo.GetBookForOwner(ctx, s.db, bookID, userID); err != nil {
		return err
	}
	if err := s.repo.SetEligible(ctx, s.db, bookID, number, eligible); err != nil {
		return err
	}
	s.logger.Info("Chapter eligibility changed",
		zap.String("bookID", bookID.String()), zap.Int("chapter", number), zap.Bool("eligible", eligible))
	return nil
}

func (s *OutlineService) UpdatePlotEvent(ctx context.Context, userID uint64, bookID uuid.UUID, number int, storyline, description string) error {
	if strings.TrimSpace(storyline) == "" {
		return fmt.Errorf("%w: не указана сюжетная линия", models.ErrInvalidInput)
	}
	if _, err := s.repo.GetBookForOwner(ctx, s.db, bookID, userID); err != nil {
		return err
	}
	return s.repo.UpsertPlotEvent(ctx, s.db, bookID, number, strings.TrimSpace(storyline), description)
}

func (s *OutlineService) DeleteBook(ctx context.Context, userID uint64, bookID uuid.UUID) error {
	if _, err := s.repo.GetBookForOwner(ctx, s.db, bookID, userID); err != nil {
		return err
	}
	return s.repo.DeleteBook(ctx, s.db, bookID)
}

// RequestChapterGeneration ставит задачу прогона глав в очередь и возвращает ее ID.
func (s *OutlineService) RequestChapterGeneration(ctx context.Context, userID uint64, bookID uuid.UUID) (string, error) {
	if s.tasks == nil {
		return "", errors.New("очередь задач не настроена")
	}
	if _, err := s.repo.GetBookForOwner(ctx, s.db, bookID, userID); err != nil {
		return "", err
	}
	if err := s.ensureNoRun(ctx, bookID); err != nil {
		return "", err
	}

	payload := models.ChapterTaskPayload{TaskID: uuid.NewString(), BookID: bookID, UserID: userID}
	if err := s.tasks.PublishChapterTask(ctx, payload); err != nil {
		return "", fmt.Errorf("ошибка постановки задачи генерации глав: %w", err)
	}
	s.logger.Info("Chapter generation requested", zap.String("bookID", bookID.String()), zap.String("taskID", payload.TaskID))
	return payload.TaskID, nil
}

// ensureNoRun возвращает ErrRunInProgress, пока по книге идет прогон глав.
// Недоступный Redis не блокирует операцию: сохранение главы все равно сверяет строку под блокировкой.
func (s *OutlineService) ensureNoRun(ctx context.Context, bookID uuid.UUID) error {
	if s.runs == nil {
		return nil
	}
	locked, err := s.runs.IsLocked(ctx, bookID)
	if err != nil {
		s.logger.Warn("Failed to check run lock, proceeding", zap.String("bookID", bookID.String()), zap.Error(err))
		return nil
	}
	if locked {
		return models.ErrRunInProgress
	}
	return nil
}

// SuggestTitles предлагает названия по кратким содержаниям готовых глав.
func (s *OutlineService) SuggestTitles(ctx context.Context, userID uint64, bookID uuid.UUID) ([]string, error) {
	outline, err := s.GetOutline(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}
	return s.generator.GenerateTitles(ctx, summariesOf(outline)), nil
}

// CompileBook собирает готовые главы в документ.
func (s *OutlineService) CompileBook(ctx context.Context, userID uint64, bookID uuid.UUID, opts CompileOptions) (*CompiledBook, error) {
	outline, err := s.GetOutline(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}
	if opts.Format == "" {
		opts.Format = compiler.FormatMarkdown
	}

	title := strings.TrimSpace(opts.Title)
	if title == "" && opts.SuggestTitle {
		if titles := s.generator.GenerateTitles(ctx, summariesOf(outline)); len(titles) > 0 {
			title = titles[0]
		}
	}
	if title == "" {
		title = outline.Book.Title
	}

	content, n, err := compiler.Compile(outline, title, opts.Format)
	if err != nil {
		return nil, fmt.Errorf("ошибка сборки книги: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: в книге нет сгенерированных глав", models.ErrNotFound)
	}
	s.logger.Info("Book compiled", zap.String("bookID", bookID.String()), zap.Int("chapters", n), zap.String("format", string(opts.Format)))
	return &CompiledBook{
		Title:    title,
		FileName: compiler.FileName(title, opts.Format),
		Format:   opts.Format,
		Content:  content,
		Chapters: n,
	}, nil
}

func summariesOf(outline *models.Outline) []string {
	out := make([]string, 0, len(outline.Chapters))
	for _, ch := range outline.Chapters {
		if ch.Summary != nil {
			out = append(out, FormatChapterSummary(ch.Number, *ch.Summary))
		}
	}
	return out
}
