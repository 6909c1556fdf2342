package interfaces

import (
	"context"

	"storywriter/internal/models"

	"github.com/google/uuid"
)

// OutlineRepository - хранилище сюжета книги (книга, линии, главы, события).
//
// Все методы принимают querier, чтобы вызывающий мог объединять их в одну транзакцию.
// Отсутствующие записи возвращают models.ErrNotFound.
type OutlineRepository interface {
	// CreateOutline атомарно создает книгу, ее линии, главы (eligible=true) и непустые события.
	CreateOutline(ctx context.Context, querier DBTX, userID uint64, title, premise string, storylines []string, chapters []models.ChapterPlan) (uuid.UUID, error)
	// ReplaceOutline атомарно пересоздает линии, главы и события существующей книги.
	ReplaceOutline(ctx context.Context, querier DBTX, bookID uuid.UUID, premise string, storylines []string, chapters []models.ChapterPlan) error
	LoadOutline(ctx context.Context, querier DBTX, bookID uuid.UUID) (*models.Outline, error)

	GetBook(ctx context.Context, querier DBTX, bookID uuid.UUID) (*models.Book, error)
	// GetBookForOwner возвращает ErrNotFound и для чужой книги.
	GetBookForOwner(ctx context.Context, querier DBTX, bookID uuid.UUID, userID uint64) (*models.Book, error)
	ListBooksByOwner(ctx context.Context, querier DBTX, userID uint64) ([]models.Book, error)
	ListAllBooks(ctx context.Context, querier DBTX) ([]models.BookWithOwner, error)
	DeleteBook(ctx context.Context, querier DBTX, bookID uuid.UUID) error

	GetChapter(ctx context.Context, querier DBTX, bookID uuid.UUID, number int) (*models.Chapter, error)
	// GetChapterForUpdate - GetChapter с блокировкой строки (SELECT ... FOR UPDATE); вызывать внутри транзакции.
	GetChapterForUpdate(ctx context.Context, querier DBTX, bookID uuid.UUID, number int) (*models.Chapter, error)
	// UpdateChapter сохраняет summary и (если не nil) текст, снимает флаг eligible.
	UpdateChapter(ctx context.Context, querier DBTX, bookID uuid.UUID, number int, summary string, content *string) error
	SetEligible(ctx context.Context, querier DBTX, bookID uuid.UUID, number int, eligible bool) error
	// UpsertPlotEvent хранит не более одного события на пару (глава, линия); пустое описание удаляет событие.
	UpsertPlotEvent(ctx context.Context, querier DBTX, bookID uuid.UUID, number int, storyline, description string) error
	// DeleteOutline удаляет события, линии и главы, но оставляет саму книгу.
	DeleteOutline(ctx context.Context, querier DBTX, bookID uuid.UUID) error
}

// UserRepository - хранилище пользователей.
type UserRepository interface {
	CreateUser(ctx context.Context, querier DBTX, user *models.User) error
	GetUserByUsername(ctx context.Context, querier DBTX, username string) (*models.User, error)
	GetUserByID(ctx context.Context, querier DBTX, id uint64) (*models.User, error)
}

// GenerationDumpRepository сохраняет сырые промпты/ответы неудачных генераций.
type GenerationDumpRepository interface {
	Save(ctx context.Context, querier DBTX, dump *models.GenerationDump) error
	ListRecent(ctx context.Context, querier DBTX, limit int) ([]models.GenerationDump, error)
}
