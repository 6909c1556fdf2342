package handler

import (
	"context"
	"strconv"

	"storywriter/internal/models"
	"storywriter/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookService - операции над книгами (service.OutlineService).
type BookService interface {
	CreateBook(ctx context.Context, userID uint64, title, premise string) (*models.Outline, error)
	RegenerateOutline(ctx context.Context, userID uint64, bookID uuid.UUID, premise string) (*models.Outline, error)
	GetOutline(ctx context.Context, userID uint64, bookID uuid.UUID) (*models.Outline, error)
	ListBooks(ctx context.Context, userID uint64) ([]models.Book, error)
	ListAllBooks(ctx context.Context, roles []string) ([]models.BookWithOwner, error)
	GetChapter(ctx context.Context, userID uint64, bookID uuid.UUID, number int) (*models.Chapter, error)
	ToggleChapter(ctx context.Context, userID uint64, bookID uuid.UUID, number int, eligible bool) error
	UpdatePlotEvent(ctx context.Context, userID uint64, bookID uuid.UUID, number int, storyline, description string) error
	DeleteBook(ctx context.Context, userID uint64, bookID uuid.UUID) error
	RequestChapterGeneration(ctx context.Context, userID uint64, bookID uuid.UUID) (string, error)
	SuggestTitles(ctx context.Context, userID uint64, bookID uuid.UUID) ([]string, error)
	CompileBook(ctx context.Context, userID uint64, bookID uuid.UUID, opts service.CompileOptions) (*service.CompiledBook, error)
}

// Authenticator - регистрация, вход и проверка токенов (service.AuthService).
type Authenticator interface {
	Register(ctx context.Context, username, email, password string) (*models.User, error)
	Login(ctx context.Context, clientIP, username, password string) (*service.TokenDetails, error)
	VerifyAccessToken(tokenString string) (*models.Claims, error)
}

// ProgressSubscriber - подписка на события прогона (cache.RedisProgressBus).
type ProgressSubscriber interface {
	Subscribe(ctx context.Context, bookID uuid.UUID) (<-chan models.ProgressEvent, error)
}

var (
	_ BookService   = (*service.OutlineService)(nil)
	_ Authenticator = (*service.AuthService)(nil)
)

const (
	ctxKeyUserID = "user_id"
	ctxKeyRoles  = "roles"
)

type Handler struct {
	books          BookService
	auth           Authenticator
	progress       ProgressSubscriber
	allowedOrigins []string
	logger         *zap.Logger
}

// NewHandler создает обработчик. progress может быть nil: тогда websocket недоступен.
func NewHandler(books BookService, auth Authenticator, progress ProgressSubscriber, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		books:          books,
		auth:           auth,
		progress:       progress,
		allowedOrigins: allowedOrigins,
		logger:         logger.Named("HTTPHandler"),
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", h.register)
		authGroup.POST("/login", h.login)
	}

	books := router.Group("/books")
	books.Use(h.AuthMiddleware())
	{
		books.GET("", h.listBooks)
		books.POST("", h.createBook)
		books.GET("/:id", h.getBook)
		books.DELETE("/:id", h.deleteBook)
		books.POST("/:id/outline/regenerate", h.regenerateOutline)
		books.POST("/:id/chapters/generate", h.generateChapters)
		books.GET("/:id/chapters/:num", h.getChapter)
		books.PATCH("/:id/chapters/:num/eligible", h.toggleChapter)
		books.PUT("/:id/chapters/:num/events", h.updatePlotEvent)
		books.GET("/:id/titles", h.suggestTitles)
		books.GET("/:id/compile", h.compileBook)
	}

	admin := router.Group("/admin")
	admin.Use(h.AuthMiddleware(), h.RequireAdminRole())
	{
		admin.GET("/books", h.listAllBooks)
	}

	if h.progress != nil {
		router.GET("/ws/books/:id/progress", h.progressSocket)
	}
}

func userIDFrom(c *gin.Context) uint64 {
	return c.GetUint64(ctxKeyUserID)
}

func rolesFrom(c *gin.Context) []string {
	return c.GetStringSlice(ctxKeyRoles)
}

// bookIDParam разбирает :id. Невалидный UUID для клиента неотличим от отсутствующей книги.
func bookIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handleServiceError(c, models.ErrNotFound)
		return uuid.Nil, false
	}
	return id, true
}

func chapterParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("num"))
	if err != nil || n < 1 {
		handleServiceError(c, models.ErrInvalidInput)
		return 0, false
	}
	return n, true
}
