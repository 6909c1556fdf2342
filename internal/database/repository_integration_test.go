package database_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"storywriter/internal/database"
	"storywriter/internal/interfaces"
	"storywriter/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

type RepositoryIntegrationSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pool        *pgxpool.Pool
	tx          *database.TransactionHelper
	outlines    interfaces.OutlineRepository
	users       interfaces.UserRepository
	dumps       interfaces.GenerationDumpRepository
	logger      *zap.Logger
	userID      uint64
}

func (s *RepositoryIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()

	var err error
	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	dsn, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)
	require.NoError(s.T(), database.ApplyMigrations(dsn, s.logger))

	s.pool, err = pgxpool.New(s.ctx, dsn)
	require.NoError(s.T(), err)

	s.tx = database.NewTransactionHelper(s.pool, s.logger)
	s.outlines = database.NewPgOutlineRepository(s.logger)
	s.users = database.NewPgUserRepository(s.logger)
	s.dumps = database.NewPgGenerationDumpRepository(s.logger)
}

func (s *RepositoryIntegrationSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

func (s *RepositoryIntegrationSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE users, books, storylines, chapters, plot_events, generation_failures RESTART IDENTITY CASCADE`)
	s.Require().NoError(err)

	user := &models.User{Username: "writer", Email: "writer@example.com", PasswordHash: "hash"}
	s.Require().NoError(s.users.CreateUser(s.ctx, s.pool, user))
	s.userID = user.ID
}

func TestRepositoryIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(RepositoryIntegrationSuite))
}

func samplePlan() ([]string, []models.ChapterPlan) {
	return []string{"Main", "Romance"}, []models.ChapterPlan{
		{Number: 2, Title: "The Turn", Events: map[string]string{"Main": "twist"}},
		{Number: 1, Title: "The Start", Events: map[string]string{"Main": "hero leaves", "Romance": "  ", "Ghost": "ignored"}},
	}
}

func (s *RepositoryIntegrationSuite) createBook() uuid.UUID {
	lines, chapters := samplePlan()
	bookID, err := s.outlines.CreateOutline(s.ctx, s.pool, s.userID, "Book", "A premise", lines, chapters)
	s.Require().NoError(err)
	return bookID
}

func (s *RepositoryIntegrationSuite) TestCreateAndLoadOutline() {
	bookID := s.createBook()

	outline, err := s.outlines.LoadOutline(s.ctx, s.pool, bookID)
	s.Require().NoError(err)

	s.Equal("A premise", outline.Book.Premise)
	s.ElementsMatch([]string{"Main", "Romance"}, outline.Storylines)
	s.Require().Len(outline.Chapters, 2)
	s.Equal(1, outline.Chapters[0].Number)
	s.Equal(2, outline.Chapters[1].Number)
	s.True(outline.Chapters[0].Eligible)
	s.Equal(map[string]string{"Main": "hero leaves"}, outline.Chapters[0].Events)
	s.Equal(map[string]string{"Main": "twist"}, outline.Chapters[1].Events)
}

func (s *RepositoryIntegrationSuite) TestCreateOutlineRejectsDuplicateChapters() {
	_, err := s.outlines.CreateOutline(s.ctx, s.pool, s.userID, "Dup", "p", []string{"Main"}, []models.ChapterPlan{
		{Number: 1, Title: "a"}, {Number: 1, Title: "b"},
	})
	s.ErrorIs(err, models.ErrInvalidInput)

	books, err := s.outlines.ListBooksByOwner(s.ctx, s.pool, s.userID)
	s.Require().NoError(err)
	s.Empty(books, "book insert must be rolled back")
}

func (s *RepositoryIntegrationSuite) TestCreateOutlineKeepsLongModelStrings() {
	longLine := strings.Repeat("Storyline ", 40)
	longTitle := strings.Repeat("Заголовок ", 60)

	bookID, err := s.outlines.CreateOutline(s.ctx, s.pool, s.userID, "Long", "p", []string{longLine}, []models.ChapterPlan{
		{Number: 1, Title: longTitle, Events: map[string]string{longLine: "event"}},
	})
	s.Require().NoError(err)

	outline, err := s.outlines.LoadOutline(s.ctx, s.pool, bookID)
	s.Require().NoError(err)
	s.Equal([]string{strings.TrimSpace(longLine)}, outline.Storylines)
	s.Require().Len(outline.Chapters, 1)
	s.Equal(strings.TrimSpace(longTitle), outline.Chapters[0].Title)
	s.Equal(map[string]string{strings.TrimSpace(longLine): "event"}, outline.Chapters[0].Events)
}

func (s *RepositoryIntegrationSuite) TestUpdateChapterClearsEligible() {
	bookID := s.createBook()
	content := "Once upon a time"

	s.Require().NoError(s.tx.WithTransaction(s.ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		return s.outlines.UpdateChapter(ctx, tx, bookID, 1, "Chapter 1: hero leaves", &content)
	}))

	ch, err := s.outlines.GetChapter(s.ctx, s.pool, bookID, 1)
	s.Require().NoError(err)
	s.False(ch.Eligible)
	s.Equal(content, *ch.Content)
	s.Equal("Chapter 1: hero leaves", *ch.Summary)
	s.NotNil(ch.GeneratedAt)

	s.Require().NoError(s.outlines.UpdateChapter(s.ctx, s.pool, bookID, 1, "Chapter 1: new", nil))
	ch, err = s.outlines.GetChapter(s.ctx, s.pool, bookID, 1)
	s.Require().NoError(err)
	s.Equal(content, *ch.Content, "nil content keeps the stored text")

	err = s.outlines.UpdateChapter(s.ctx, s.pool, bookID, 99, "x", nil)
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *RepositoryIntegrationSuite) TestGetChapterForUpdateBlocksToggle() {
	bookID := s.createBook()

	s.Require().NoError(s.tx.WithTransaction(s.ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		ch, err := s.outlines.GetChapterForUpdate(ctx, tx, bookID, 1)
		s.Require().NoError(err)
		s.True(ch.Eligible)

		blockedCtx, cancel := context.WithTimeout(s.ctx, 300*time.Millisecond)
		defer cancel()
		err = s.outlines.SetEligible(blockedCtx, s.pool, bookID, 1, false)
		s.Error(err, "toggle waits for the row lock")
		return nil
	}))

	s.Require().NoError(s.outlines.SetEligible(s.ctx, s.pool, bookID, 1, false))
	ch, err := s.outlines.GetChapter(s.ctx, s.pool, bookID, 1)
	s.Require().NoError(err)
	s.False(ch.Eligible)

	_, err = s.outlines.GetChapterForUpdate(s.ctx, s.pool, bookID, 99)
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *RepositoryIntegrationSuite) TestUpsertPlotEvent() {
	bookID := s.createBook()

	s.Require().NoError(s.outlines.UpsertPlotEvent(s.ctx, s.pool, bookID, 2, "Romance", "they meet"))
	s.Require().NoError(s.outlines.UpsertPlotEvent(s.ctx, s.pool, bookID, 2, "Romance", "they meet again"))
	s.Require().NoError(s.outlines.UpsertPlotEvent(s.ctx, s.pool, bookID, 2, "Main", ""))

	outline, err := s.outlines.LoadOutline(s.ctx, s.pool, bookID)
	s.Require().NoError(err)
	s.Equal(map[string]string{"Romance": "they meet again"}, outline.ChapterByNumber(2).Events)

	s.ErrorIs(s.outlines.UpsertPlotEvent(s.ctx, s.pool, bookID, 2, "Unknown", "x"), models.ErrNotFound)
	s.ErrorIs(s.outlines.UpsertPlotEvent(s.ctx, s.pool, bookID, 7, "Main", "x"), models.ErrNotFound)
}

func (s *RepositoryIntegrationSuite) TestReplaceOutline() {
	bookID := s.createBook()

	err := s.outlines.ReplaceOutline(s.ctx, s.pool, bookID, "New premise", []string{"Solo"}, []models.ChapterPlan{
		{Number: 1, Title: "Only", Events: map[string]string{"Solo": "alone"}},
	})
	s.Require().NoError(err)

	outline, err := s.outlines.LoadOutline(s.ctx, s.pool, bookID)
	s.Require().NoError(err)
	s.Equal("New premise", outline.Book.Premise)
	s.Equal([]string{"Solo"}, outline.Storylines)
	s.Require().Len(outline.Chapters, 1)
	s.Equal("Only", outline.Chapters[0].Title)

	err = s.outlines.ReplaceOutline(s.ctx, s.pool, uuid.New(), "p", nil, nil)
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *RepositoryIntegrationSuite) TestOwnershipAndDeletion() {
	bookID := s.createBook()

	_, err := s.outlines.GetBookForOwner(s.ctx, s.pool, bookID, s.userID+1)
	s.ErrorIs(err, models.ErrNotFound)

	all, err := s.outlines.ListAllBooks(s.ctx, s.pool)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal("writer", all[0].Username)

	s.Require().NoError(s.outlines.DeleteOutline(s.ctx, s.pool, bookID))
	outline, err := s.outlines.LoadOutline(s.ctx, s.pool, bookID)
	s.Require().NoError(err)
	s.Empty(outline.Chapters)

	s.Require().NoError(s.outlines.DeleteBook(s.ctx, s.pool, bookID))
	s.ErrorIs(s.outlines.DeleteBook(s.ctx, s.pool, bookID), models.ErrNotFound)
}

func (s *RepositoryIntegrationSuite) TestUsersAndDumps() {
	dup := &models.User{Username: "writer", Email: "other@example.com", PasswordHash: "h"}
	s.ErrorIs(s.users.CreateUser(s.ctx, s.pool, dup), models.ErrUserAlreadyExists)

	u, err := s.users.GetUserByUsername(s.ctx, s.pool, "writer")
	s.Require().NoError(err)
	assert.Equal(s.T(), []string{models.RoleUser}, u.Roles)

	_, err = s.users.GetUserByID(s.ctx, s.pool, 4242)
	s.ErrorIs(err, models.ErrUserNotFound)

	chapter := 3
	s.Require().NoError(s.dumps.Save(s.ctx, s.pool, &models.GenerationDump{
		Kind: models.GenerationKindChapter, Chapter: &chapter, Prompt: "p", Response: "r", Error: "bad json",
	}))
	dumps, err := s.dumps.ListRecent(s.ctx, s.pool, 10)
	s.Require().NoError(err)
	s.Require().Len(dumps, 1)
	s.Equal(models.GenerationKindChapter, dumps[0].Kind)
	s.Equal(3, *dumps[0].Chapter)
}
