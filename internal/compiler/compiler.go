// Package compiler собирает сгенерированные главы в один документ.
package compiler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"storywriter/internal/models"
)

// Format - формат итогового документа.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatText     Format = "txt"
	FormatDOCX     Format = "docx"
)

const maxFileNameRunes = 50

var unsafeFileChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)

// ParseFormat принимает "md"/"markdown", "txt"/"text" и "docx"/"word"; пустая строка - markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	case "docx", "word":
		return FormatDOCX, nil
	default:
		return "", fmt.Errorf("%w: неизвестный формат %q", models.ErrInvalidInput, s)
	}
}

// ContentType - MIME тип формата.
func (f Format) ContentType() string {
	switch f {
	case FormatText:
		return "text/plain; charset=utf-8"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// SafeFileName оставляет буквы (любого алфавита), цифры, пробелы, "_" и "-" и обрезает до 50 символов.
func SafeFileName(title string) string {
	safe := unsafeFileChars.ReplaceAllString(title, "")
	runes := []rune(safe)
	if len(runes) > maxFileNameRunes {
		runes = runes[:maxFileNameRunes]
	}
	safe = strings.TrimSpace(string(runes))
	if safe == "" {
		return "book"
	}
	return safe
}

// FileName - имя файла книги с расширением формата.
func FileName(title string, format Format) string {
	return SafeFileName(title) + "." + string(format)
}

// Compile собирает главы с текстом в порядке номеров и возвращает документ и число глав.
// Главы без текста пропускаются.
func Compile(outline *models.Outline, title string, format Format) ([]byte, int, error) {
	chapters := readyChapters(outline)
	if format == FormatDOCX {
		doc, err := compileDOCX(title, chapters)
		if err != nil {
			return nil, 0, err
		}
		return doc, len(chapters), nil
	}
	return []byte(compileText(title, chapters, format)), len(chapters), nil
}

func readyChapters(outline *models.Outline) []models.OutlineChapter {
	chapters := make([]models.OutlineChapter, 0, len(outline.Chapters))
	for _, ch := range outline.Chapters {
		if ch.HasContent() {
			chapters = append(chapters, ch)
		}
	}
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].Number < chapters[j].Number })
	return chapters
}

func chapterHeading(ch models.OutlineChapter) string {
	if ch.Title == "" {
		return fmt.Sprintf("Chapter %d", ch.Number)
	}
	return ch.Title
}

func compileText(title string, chapters []models.OutlineChapter, format Format) string {
	var b strings.Builder
	writeHeading(&b, format, 1, title)
	for _, ch := range chapters {
		writeHeading(&b, format, 2, chapterHeading(ch))
		for _, p := range Paragraphs(*ch.Content) {
			b.WriteString(p)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeHeading(b *strings.Builder, format Format, level int, text string) {
	if format == FormatMarkdown {
		b.WriteString(strings.Repeat("#", level))
		b.WriteString(" ")
		b.WriteString(text)
		b.WriteString("\n\n")
		return
	}
	b.WriteString(text)
	b.WriteString("\n")
	underline := "-"
	if level == 1 {
		underline = "="
	}
	b.WriteString(strings.Repeat(underline, len([]rune(text))))
	b.WriteString("\n\n")
}

// Paragraphs делит текст по пустым строкам и отбрасывает пустые абзацы.
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
