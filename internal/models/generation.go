package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationKind - тип запроса к генератору.
type GenerationKind string

const (
	GenerationKindOutline GenerationKind = "outline"
	GenerationKindChapter GenerationKind = "chapter"
	GenerationKindTitles  GenerationKind = "titles"
)

// GenerationDump - сырой промпт и ответ неудачной генерации, сохраняется для разбора.
type GenerationDump struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Kind      GenerationKind `json:"kind" db:"kind"`
	BookID    *uuid.UUID     `json:"bookId,omitempty" db:"book_id"`
	Chapter   *int           `json:"chapter,omitempty" db:"chapter_number"`
	Prompt    string         `json:"prompt" db:"prompt"`
	Response  string         `json:"response" db:"response"`
	Error     string         `json:"error" db:"error"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
}

// ChapterTaskPayload - задача на генерацию глав книги в очереди.
type ChapterTaskPayload struct {
	TaskID string    `json:"task_id"`
	BookID uuid.UUID `json:"book_id"`
	UserID uint64    `json:"user_id"`
}

// ProgressStatus - стадия обработки главы.
type ProgressStatus string

const (
	ProgressStarted   ProgressStatus = "started"
	ProgressCompleted ProgressStatus = "completed"
	ProgressFailed    ProgressStatus = "failed"
	ProgressSkipped   ProgressStatus = "skipped"
	ProgressFinished  ProgressStatus = "finished"
)

// ProgressEvent публикуется драйвером глав для подписчиков (websocket).
type ProgressEvent struct {
	BookID  uuid.UUID      `json:"book_id"`
	Chapter int            `json:"chapter,omitempty"`
	Status  ProgressStatus `json:"status"`
	Message string         `json:"message,omitempty"`
	At      time.Time      `json:"at"`
}
