package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Book - книга пользователя. Владеет сюжетными линиями и главами.
type Book struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uint64    `json:"userId" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	Premise   string    `json:"premise" db:"premise"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// BookWithOwner используется в админском списке книг.
type BookWithOwner struct {
	Book
	Username string `json:"username" db:"username"`
}

// Storyline - сюжетная линия, имя уникально в пределах книги.
type Storyline struct {
	ID     int64     `json:"id" db:"id"`
	BookID uuid.UUID `json:"bookId" db:"book_id"`
	Name   string    `json:"name" db:"name"`
}

// Chapter - глава книги. Number уникален в пределах книги и задает порядок генерации.
type Chapter struct {
	ID          int64      `json:"id" db:"id"`
	BookID      uuid.UUID  `json:"bookId" db:"book_id"`
	Number      int        `json:"number" db:"number"`
	Title       string     `json:"title" db:"title"`
	Eligible    bool       `json:"eligible" db:"generate_flag"`
	Content     *string    `json:"content,omitempty" db:"content"`
	Summary     *string    `json:"summary,omitempty" db:"summary"`
	GeneratedAt *time.Time `json:"generatedAt,omitempty" db:"generated_at"`
}

// HasContent сообщает, была ли глава уже сгенерирована.
func (c *Chapter) HasContent() bool {
	return c.Content != nil && *c.Content != ""
}

// PlotEvent - "что происходит в линии S в главе C".
type PlotEvent struct {
	ID          int64  `json:"id" db:"id"`
	ChapterID   int64  `json:"chapterId" db:"chapter_id"`
	StorylineID int64  `json:"storylineId" db:"storyline_id"`
	Description string `json:"description" db:"description"`
}

// ChapterPlan - глава в том виде, в каком ее возвращает генератор сюжета.
type ChapterPlan struct {
	Number int               `json:"chapter" validate:"gte=1"`
	Title  string            `json:"title"`
	Events map[string]string `json:"events"`
}

// OutlineChapter - глава вместе с событиями по сюжетным линиям.
type OutlineChapter struct {
	Chapter
	Events map[string]string `json:"events"`
}

// Outline - загруженный сюжет книги.
type Outline struct {
	Book       Book             `json:"book"`
	Storylines []string         `json:"storylines"`
	Chapters   []OutlineChapter `json:"chapters"`
}

// SortChapters упорядочивает главы по номеру.
func (o *Outline) SortChapters() {
	sort.SliceStable(o.Chapters, func(i, j int) bool {
		return o.Chapters[i].Number < o.Chapters[j].Number
	})
}

// ChapterByNumber возвращает главу по номеру или nil.
func (o *Outline) ChapterByNumber(number int) *OutlineChapter {
	for i := range o.Chapters {
		if o.Chapters[i].Number == number {
			return &o.Chapters[i]
		}
	}
	return nil
}

// ChapterRequest - все, что нужно генератору для написания одной главы.
type ChapterRequest struct {
	BookID            uuid.UUID
	Chapter           ChapterPlan
	Premise           string
	Storylines        []string
	PreviousSummaries []string
	TargetLength      string
}
