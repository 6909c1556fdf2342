package compiler

import (
	"bytes"
	"fmt"

	"storywriter/internal/models"

	"github.com/fumiama/go-docx"
)

// Размеры шрифта в полупунктах.
const (
	docxTitleSize   = "48"
	docxHeadingSize = "32"
	docxBodySize    = "24"
)

// compileDOCX: название по центру на отдельной странице, затем каждая глава
// с новой страницы - заголовок по центру и абзацы текста.
func compileDOCX(title string, chapters []models.OutlineChapter) ([]byte, error) {
	doc := docx.New().WithDefaultTheme()

	doc.AddParagraph().Justification("center").AddText(title).Size(docxTitleSize).Bold()
	doc.AddParagraph().AddPageBreaks()

	for i, ch := range chapters {
		if i > 0 {
			doc.AddParagraph().AddPageBreaks()
		}
		doc.AddParagraph().Justification("center").AddText(chapterHeading(ch)).Size(docxHeadingSize).Bold()
		for _, p := range Paragraphs(*ch.Content) {
			doc.AddParagraph().AddText(p).Size(docxBodySize)
		}
	}

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("ошибка записи docx: %w", err)
	}
	return buf.Bytes(), nil
}
