package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storywriter/internal/interfaces"
	"storywriter/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var _ interfaces.OutlineRepository = (*pgOutlineRepository)(nil)

type pgOutlineRepository struct {
	logger *zap.Logger
}

// NewPgOutlineRepository создает репозиторий сюжетов на PostgreSQL.
func NewPgOutlineRepository(logger *zap.Logger) interfaces.OutlineRepository {
	return &pgOutlineRepository{logger: logger.Named("PgOutlineRepo")}
}

const (
	insertBookQuery = `
INSERT INTO books (id, user_id, title, premise)
VALUES ($1, $2, $3, $4)`

	bookColumns = `id, user_id, title, premise, created_at`

	getBookQuery         = `SELECT ` + bookColumns + ` FROM books WHERE id = $1`
	getBookForOwnerQuery = `SELECT ` + bookColumns + ` FROM books WHERE id = $1 AND user_id = $2`
	lockBookQuery        = `SELECT id FROM books WHERE id = $1 FOR UPDATE`
	listBooksByOwner     = `SELECT ` + bookColumns + ` FROM books WHERE user_id = $1 ORDER BY created_at DESC`

	listAllBooksQuery = `
SELECT b.id, b.user_id, b.title, b.premise, b.created_at, u.username
FROM books b
JOIN users u ON u.id = b.user_id
ORDER BY b.created_at DESC`

	updatePremiseQuery = `UPDATE books SET premise = $2 WHERE id = $1`
	deleteBookQuery    = `DELETE FROM books WHERE id = $1`

	insertStorylineQuery = `INSERT INTO storylines (book_id, name) VALUES ($1, $2) RETURNING id`
	listStorylinesQuery  = `SELECT id, book_id, name FROM storylines WHERE book_id = $1 ORDER BY id`
	getStorylineIDQuery  = `SELECT id FROM storylines WHERE book_id = $1 AND name = $2`

	insertChapterQuery = `
INSERT INTO chapters (book_id, number, title, generate_flag)
VALUES ($1, $2, $3, TRUE)
RETURNING id`

	chapterColumns = `id, book_id, number, title, generate_flag, content, summary, generated_at`

	listChaptersQuery = `SELECT ` + chapterColumns + ` FROM chapters WHERE book_id = $1 ORDER BY number ASC`
	getChapterQuery   = `SELECT ` + chapterColumns + ` FROM chapters WHERE book_id = $1 AND number = $2`
	getChapterIDQuery = `SELECT id FROM chapters WHERE book_id = $1 AND number = $2`
	lockChapterQuery  = getChapterQuery + ` FOR UPDATE`

	updateChapterQuery = `
UPDATE chapters
SET summary = $3,
    content = COALESCE($4, content),
    generate_flag = FALSE,
    generated_at = NOW()
WHERE book_id = $1 AND number = $2`

	setEligibleQuery = `UPDATE chapters SET generate_flag = $3 WHERE book_id = $1 AND number = $2`

	insertEventQuery = `
INSERT INTO plot_events (chapter_id, storyline_id, description)
VALUES ($1, $2, $3)
ON CONFLICT (chapter_id, storyline_id) DO UPDATE SET description = EXCLUDED.description`

	deleteEventQuery = `DELETE FROM plot_events WHERE chapter_id = $1 AND storyline_id = $2`

	listEventsQuery = `
SELECT e.chapter_id, s.name AS storyline, e.description
FROM plot_events e
JOIN storylines s ON s.id = e.storyline_id
WHERE s.book_id = $1`

	deleteEventsByBookQuery     = `DELETE FROM plot_events WHERE chapter_id IN (SELECT id FROM chapters WHERE book_id = $1)`
	deleteStorylinesByBookQuery = `DELETE FROM storylines WHERE book_id = $1`
	deleteChaptersByBookQuery   = `DELETE FROM chapters WHERE book_id = $1`
)

// CreateOutline создает книгу и весь сюжет одной транзакцией.
func (r *pgOutlineRepository) CreateOutline(ctx context.Context, querier interfaces.DBTX, userID uint64, title, premise string, storylines []string, chapters []models.ChapterPlan) (uuid.UUID, error) {
	bookID := uuid.New()
	logFields := []zap.Field{zap.String("bookID", bookID.String()), zap.Uint64("userID", userID)}

	err := runInTx(ctx, querier, r.logger, func(ctx context.Context, tx interfaces.DBTX) error {
		if _, err := tx.Exec(ctx, insertBookQuery, bookID, userID, title, premise); err != nil {
			return fmt.Errorf("ошибка создания книги: %w", err)
		}
		return r.insertOutline(ctx, tx, bookID, storylines, chapters)
	})
	if err != nil {
		r.logger.Error("Failed to create outline", append(logFields, zap.Error(err))...)
		return uuid.Nil, err
	}

	r.logger.Info("Outline created", append(logFields,
		zap.Int("storylines", len(storylines)),
		zap.Int("chapters", len(chapters)))...)
	return bookID, nil
}

// ReplaceOutline удаляет старый сюжет, обновляет premise и пишет новый, все в одной транзакции.
func (r *pgOutlineRepository) ReplaceOutline(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, premise string, storylines []string, chapters []models.ChapterPlan) error {
	logFields := []zap.Field{zap.String("bookID", bookID.String())}

	err := runInTx(ctx, querier, r.logger, func(ctx context.Context, tx interfaces.DBTX) error {
		var id uuid.UUID
		if err := tx.QueryRow(ctx, lockBookQuery, bookID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrNotFound
			}
			return fmt.Errorf("ошибка блокировки книги: %w", err)
		}
		if err := r.DeleteOutline(ctx, tx, bookID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updatePremiseQuery, bookID, premise); err != nil {
			return fmt.Errorf("ошибка обновления premise: %w", err)
		}
		return r.insertOutline(ctx, tx, bookID, storylines, chapters)
	})
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			r.logger.Error("Failed to replace outline", append(logFields, zap.Error(err))...)
		}
		return err
	}
	r.logger.Info("Outline replaced", append(logFields, zap.Int("chapters", len(chapters)))...)
	return nil
}

// insertOutline пишет линии, главы и непустые события. Вызывается только внутри транзакции.
func (r *pgOutlineRepository) insertOutline(ctx context.Context, tx interfaces.DBTX, bookID uuid.UUID, storylines []string, chapters []models.ChapterPlan) error {
	lineIDs := make(map[string]int64, len(storylines))
	for _, raw := range storylines {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, dup := lineIDs[name]; dup {
			continue
		}
		var id int64
		if err := tx.QueryRow(ctx, insertStorylineQuery, bookID, name).Scan(&id); err != nil {
			return fmt.Errorf("ошибка создания сюжетной линии %q: %w", name, err)
		}
		lineIDs[name] = id
	}

	seen := make(map[int]struct{}, len(chapters))
	for i, ch := range chapters {
		number := ch.Number
		if number <= 0 {
			number = i + 1
		}
		if _, dup := seen[number]; dup {
			return fmt.Errorf("%w: глава %d повторяется в сюжете", models.ErrInvalidInput, number)
		}
		seen[number] = struct{}{}

		title := strings.TrimSpace(ch.Title)
		if title == "" {
			title = fmt.Sprintf("Chapter %d", number)
		}

		var chapterID int64
		if err := tx.QueryRow(ctx, insertChapterQuery, bookID, number, title).Scan(&chapterID); err != nil {
			return fmt.Errorf("ошибка создания главы %d: %w", number, err)
		}

		for storyline, desc := range ch.Events {
			lineID, ok := lineIDs[strings.TrimSpace(storyline)]
			if !ok || strings.TrimSpace(desc) == "" {
				continue
			}
			if _, err := tx.Exec(ctx, insertEventQuery, chapterID, lineID, desc); err != nil {
				return fmt.Errorf("ошибка создания события главы %d: %w", number, err)
			}
		}
	}
	return nil
}

type eventRow struct {
	ChapterID   int64  `db:"chapter_id"`
	Storyline   string `db:"storyline"`
	Description string `db:"description"`
}

// LoadOutline возвращает книгу, имена линий и главы с событиями по номеру главы.
func (r *pgOutlineRepository) LoadOutline(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID) (*models.Outline, error) {
	book, err := r.GetBook(ctx, querier, bookID)
	if err != nil {
		return nil, err
	}

	var lines []models.Storyline
	if err := pgxscan.Select(ctx, querier, &lines, listStorylinesQuery, bookID); err != nil {
		return nil, fmt.Errorf("ошибка загрузки сюжетных линий: %w", err)
	}
	var chapters []models.Chapter
	if err := pgxscan.Select(ctx, querier, &chapters, listChaptersQuery, bookID); err != nil {
		return nil, fmt.Errorf("ошибка загрузки глав: %w", err)
	}
	var events []eventRow
	if err := pgxscan.Select(ctx, querier, &events, listEventsQuery, bookID); err != nil {
		return nil, fmt.Errorf("ошибка загрузки событий: %w", err)
	}

	eventsByChapter := make(map[int64]map[string]string, len(chapters))
	for _, ev := range events {
		if eventsByChapter[ev.ChapterID] == nil {
			eventsByChapter[ev.ChapterID] = make(map[string]string)
		}
		eventsByChapter[ev.ChapterID][ev.Storyline] = ev.Description
	}

	outline := &models.Outline{
		Book:       *book,
		Storylines: make([]string, 0, len(lines)),
		Chapters:   make([]models.OutlineChapter, 0, len(chapters)),
	}
	for _, l := range lines {
		outline.Storylines = append(outline.Storylines, l.Name)
	}
	for _, ch := range chapters {
		evs := eventsByChapter[ch.ID]
		if evs == nil {
			evs = map[string]string{}
		}
		outline.Chapters = append(outline.Chapters, models.OutlineChapter{Chapter: ch, Events: evs})
	}
	outline.SortChapters()
	return outline, nil
}

func (r *pgOutlineRepository) GetBook(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID) (*models.Book, error) {
	return r.getBook(ctx, querier, getBookQuery, bookID)
}

func (r *pgOutlineRepository) GetBookForOwner(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, userID uint64) (*models.Book, error) {
	return r.getBook(ctx, querier, getBookForOwnerQuery, bookID, userID)
}

func (r *pgOutlineRepository) getBook(ctx context.Context, querier interfaces.DBTX, query string, args ...any) (*models.Book, error) {
	var book models.Book
	if err := pgxscan.Get(ctx, querier, &book, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения книги: %w", err)
	}
	return &book, nil
}

func (r *pgOutlineRepository) ListBooksByOwner(ctx context.Context, querier interfaces.DBTX, userID uint64) ([]models.Book, error) {
	books := make([]models.Book, 0)
	if err := pgxscan.Select(ctx, querier, &books, listBooksByOwner, userID); err != nil {
		return nil, fmt.Errorf("ошибка получения списка книг: %w", err)
	}
	return books, nil
}

func (r *pgOutlineRepository) ListAllBooks(ctx context.Context, querier interfaces.DBTX) ([]models.BookWithOwner, error) {
	books := make([]models.BookWithOwner, 0)
	if err := pgxscan.Select(ctx, querier, &books, listAllBooksQuery); err != nil {
		return nil, fmt.Errorf("ошибка получения всех книг: %w", err)
	}
	return books, nil
}

// DeleteBook удаляет книгу каскадно вместе с линиями, главами и событиями.
func (r *pgOutlineRepository) DeleteBook(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID) error {
	tag, err := querier.Exec(ctx, deleteBookQuery, bookID)
	if err != nil {
		return fmt.Errorf("ошибка удаления книги: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	r.logger.Info("Book deleted", zap.String("bookID", bookID.String()))
	return nil
}

func (r *pgOutlineRepository) GetChapter(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, number int) (*models.Chapter, error) {
	var ch models.Chapter
	if err := pgxscan.Get(ctx, querier, &ch, getChapterQuery, bookID, number); err != nil {
		if pgxscan.NotFound(err) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения главы %d: %w", number, err)
	}
	return &ch, nil
}

// GetChapterForUpdate читает главу и блокирует строку до конца транзакции querier.
func (r *pgOutlineRepository) GetChapterForUpdate(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, number int) (*models.Chapter, error) {
	var ch models.Chapter
	if err := pgxscan.Get(ctx, querier, &ch, lockChapterQuery, bookID, number); err != nil {
		if pgxscan.NotFound(err) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка блокировки главы %d: %w", number, err)
	}
	return &ch, nil
}

// UpdateChapter - одно UPDATE: текст, summary, флаг и время меняются атомарно.
func (r *pgOutlineRepository) UpdateChapter(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, number int, summary string, content *string) error {
	tag, err := querier.Exec(ctx, updateChapterQuery, bookID, number, summary, content)
	if err != nil {
		return fmt.Errorf("ошибка сохранения главы %d: %w", number, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	r.logger.Debug("Chapter updated", zap.String("bookID", bookID.String()), zap.Int("chapter", number))
	return nil
}

func (r *pgOutlineRepository) SetEligible(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, number int, eligible bool) error {
	tag, err := querier.Exec(ctx, setEligibleQuery, bookID, number, eligible)
	if err != nil {
		return fmt.Errorf("ошибка изменения флага главы %d: %w", number, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *pgOutlineRepository) UpsertPlotEvent(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, number int, storyline, description string) error {
	logFields := []zap.Field{zap.String("bookID", bookID.String()), zap.Int("chapter", number), zap.String("storyline", storyline)}

	return runInTx(ctx, querier, r.logger, func(ctx context.Context, tx interfaces.DBTX) error {
		var chapterID, lineID int64
		if err := tx.QueryRow(ctx, getChapterIDQuery, bookID, number).Scan(&chapterID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrNotFound
			}
			return fmt.Errorf("ошибка поиска главы: %w", err)
		}
		if err := tx.QueryRow(ctx, getStorylineIDQuery, bookID, storyline).Scan(&lineID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrNotFound
			}
			return fmt.Errorf("ошибка поиска сюжетной линии: %w", err)
		}

		if strings.TrimSpace(description) == "" {
			if _, err := tx.Exec(ctx, deleteEventQuery, chapterID, lineID); err != nil {
				return fmt.Errorf("ошибка удаления события: %w", err)
			}
			r.logger.Debug("Plot event cleared", logFields...)
			return nil
		}
		if _, err := tx.Exec(ctx, insertEventQuery, chapterID, lineID, description); err != nil {
			return fmt.Errorf("ошибка сохранения события: %w", err)
		}
		r.logger.Debug("Plot event upserted", logFields...)
		return nil
	})
}

// DeleteOutline удаляет события, линии и главы книги. Сама книга остается.
func (r *pgOutlineRepository) DeleteOutline(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID) error {
	return runInTx(ctx, querier, r.logger, func(ctx context.Context, tx interfaces.DBTX) error {
		for _, q := range []string{deleteEventsByBookQuery, deleteStorylinesByBookQuery, deleteChaptersByBookQuery} {
			if _, err := tx.Exec(ctx, q, bookID); err != nil {
				return fmt.Errorf("ошибка удаления сюжета: %w", err)
			}
		}
		return nil
	})
}
