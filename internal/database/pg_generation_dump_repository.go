package database

import (
	"context"
	"fmt"
	"time"

	"storywriter/internal/interfaces"
	"storywriter/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ interfaces.GenerationDumpRepository = (*pgGenerationDumpRepository)(nil)

type pgGenerationDumpRepository struct {
	logger *zap.Logger
}

// NewPgGenerationDumpRepository создает репозиторий дампов неудачных генераций.
func NewPgGenerationDumpRepository(logger *zap.Logger) interfaces.GenerationDumpRepository {
	return &pgGenerationDumpRepository{logger: logger.Named("PgGenerationDumpRepo")}
}

const (
	insertDumpQuery = `
INSERT INTO generation_failures (id, kind, book_id, chapter_number, prompt, response, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	listRecentDumpsQuery = `
SELECT id, kind, book_id, chapter_number, prompt, response, error, created_at
FROM generation_failures
ORDER BY created_at DESC
LIMIT $1`

	defaultDumpListLimit = 50
)

func (r *pgGenerationDumpRepository) Save(ctx context.Context, querier interfaces.DBTX, dump *models.GenerationDump) error {
	if dump.ID == uuid.Nil {
		dump.ID = uuid.New()
	}
	if dump.CreatedAt.IsZero() {
		dump.CreatedAt = time.Now().UTC()
	}
	_, err := querier.Exec(ctx, insertDumpQuery,
		dump.ID, dump.Kind, dump.BookID, dump.Chapter, dump.Prompt, dump.Response, dump.Error, dump.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to save generation dump", zap.String("kind", string(dump.Kind)), zap.Error(err))
		return fmt.Errorf("ошибка сохранения дампа генерации: %w", err)
	}
	return nil
}

func (r *pgGenerationDumpRepository) ListRecent(ctx context.Context, querier interfaces.DBTX, limit int) ([]models.GenerationDump, error) {
	if limit <= 0 {
		limit = defaultDumpListLimit
	}
	dumps := make([]models.GenerationDump, 0)
	if err := pgxscan.Select(ctx, querier, &dumps, listRecentDumpsQuery, limit); err != nil {
		return nil, fmt.Errorf("ошибка получения дампов генерации: %w", err)
	}
	return dumps, nil
}
