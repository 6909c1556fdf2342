package interfaces

import (
	"context"
	"time"

	"storywriter/internal/models"

	"github.com/google/uuid"
)

// GenerationParams - параметры запроса к модели.
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
	Timeout     time.Duration
}

// UsageInfo - сведения об использованных токенах.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// AIClient - текстовая генерация. Реализации: openai и ollama.
type AIClient interface {
	GenerateText(ctx context.Context, systemPrompt, userInput string, params GenerationParams) (string, UsageInfo, error)
}

// DumpSink принимает дампы неудачных генераций. Record не должен блокировать.
type DumpSink interface {
	Record(dump models.GenerationDump)
}

// ProgressPublisher рассылает события прогресса генерации глав.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, event models.ProgressEvent) error
}

// RunLocker не дает запустить два прогона глав для одной книги одновременно.
type RunLocker interface {
	// Acquire возвращает models.ErrRunInProgress, если блокировка уже занята.
	Acquire(ctx context.Context, bookID uuid.UUID) (release func(), err error)
}

// ChapterTaskPublisher ставит задачу генерации глав в очередь.
type ChapterTaskPublisher interface {
	PublishChapterTask(ctx context.Context, payload models.ChapterTaskPayload) error
}
