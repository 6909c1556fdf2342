package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"storywriter/internal/compiler"
	"storywriter/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) listBooks(c *gin.Context) {
	books, err := h.books.ListBooks(c.Request.Context(), userIDFrom(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *Handler) listAllBooks(c *gin.Context) {
	books, err := h.books.ListAllBooks(c.Request.Context(), rolesFrom(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

// createBook синхронно генерирует сюжет: ответ приходит вместе с готовой структурой.
func (h *Handler) createBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request data: "+err.Error())
		return
	}

	outline, err := h.books.CreateBook(c.Request.Context(), userIDFrom(c), req.Title, req.Premise)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, outline)
}

func (h *Handler) getBook(c *gin.Context) {
	bookID, ok := bookIDParam(c)
	if !ok {
		return
	}
	outline, err := h.books.GetOutline(c.Request.Context(), userIDFrom(c), bookID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, outline)
}

func (h *Handler) deleteBook(c *gin.Context) {
	bookID, ok := bookIDParam(c)
	if !ok {
		return
	}
	if err := h.books.DeleteBook(c.Request.Context(), userIDFrom(c), bookID); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) regenerateOutline(c *gin.Context) {
	bookID, ok := bookIDParam(c)
	if !ok {
		return
	}
	var req regenerateOutlineRequest
	// Тело необязательно: без него используется сохраненная идея книги
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request data: "+err.Error())
			return
		}
	}

	outline, err := h.books.RegenerateOutline(c.Request.Context(), userIDFrom(c), bookID, req.Premise)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, outline)
}

func (h *Handler) generateChapters(c *gin.Context) {
	bookID, ok := bookIDParam(c)
	if !ok {
		return
	}
	taskID, err := h.books.RequestChapterGeneration(c.Request.Context(), userIDFrom(c), bookID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	chapterRunsRequested.Inc()
	c.JSON(http.StatusAccepted, generateChaptersResponse{TaskID: taskID, BookID: bookID.String()})
}

func (h *Handler) getChapter(c *gin.Context) {
	bookID, ok := bookIDParam(c)
	if !ok {
		return
	}
	number, ok := chapterParam(c)
	if !ok {
		return
	}
	chapter, err := h.books.GetChapter(c.Request.Context(), userIDFrom(c), bookID, number)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, chapter)
}

func (h *Handler) toggleChapter(c *gin.Context) {
	bookID, ok := bookIDParam(c)
	if !ok {
		return
	}
	number, ok := chapterParam(c)
	if !ok {
		return
	}
	var req toggleChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request data: "+err.Error())
		return
	}
	if err := h.books.ToggleChapter(c.Request.Context(), userIDFrom(c), bookID, number, *req.Eligible); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) updatePlotEvent(c *gin.Context) {
	bookID, ok := bookIDParam(c)
	if !ok {
		return
	}
	number, ok := chapterParam(c)
	if !ok {
		return
	}
	var req plotEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request data: "+err.Error())
		return
	}
	if err := h.books.UpdatePlotEvent(c.Request.Context(), userIDFrom(c), bookID, number, req.Storyline, req.Description); err != nil {
		handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) suggestTitles(c *gin.Context) {
	bookID, ok := bookIDParam(c)
	if !ok {
		return
	}
	titles, err := h.books.SuggestTitles(c.Request.Context(), userIDFrom(c), bookID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, titlesResponse{Titles: titles})
}

// compileBook отдает собранную книгу файлом. Параметры: format=md|txt|docx, title, suggest=true.
func (h *Handler) compileBook(c *gin.Context) {
	bookID, ok := bookIDParam(c)
	if !ok {
		return
	}
	format, err := compiler.ParseFormat(c.Query("format"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	suggest, _ := strconv.ParseBool(c.DefaultQuery("suggest", "false"))

	book, err := h.books.CompileBook(c.Request.Context(), userIDFrom(c), bookID, service.CompileOptions{
		Title:        c.Query("title"),
		SuggestTitle: suggest,
		Format:       format,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	h.logger.Debug("Sending compiled book", zap.String("bookID", bookID.String()), zap.String("file", book.FileName))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(book.FileName)))
	c.Data(http.StatusOK, book.Format.ContentType(), book.Content)
}
