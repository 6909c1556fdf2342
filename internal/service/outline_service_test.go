package service

import (
	"context"
	"testing"

	"storywriter/internal/compiler"
	"storywriter/internal/mocks"
	"storywriter/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockOutlineGenerator struct {
	mock.Mock
}

func (m *mockOutlineGenerator) GenerateOutline(ctx context.Context, premise string) ([]string, []models.ChapterPlan, error) {
	ret := m.Called(ctx, premise)
	var lines []string
	if ret.Get(0) != nil {
		lines = ret.Get(0).([]string)
	}
	var chapters []models.ChapterPlan
	if ret.Get(1) != nil {
		chapters = ret.Get(1).([]models.ChapterPlan)
	}
	return lines, chapters, ret.Error(2)
}

func (m *mockOutlineGenerator) GenerateTitles(ctx context.Context, summaries []string) []string {
	ret := m.Called(ctx, summaries)
	return ret.Get(0).([]string)
}

type fakeRunStatus struct{ locked bool }

func (f fakeRunStatus) IsLocked(context.Context, uuid.UUID) (bool, error) { return f.locked, nil }

const ownerID uint64 = 7

func ownedBook(id uuid.UUID) *models.Book {
	return &models.Book{ID: id, UserID: ownerID, Title: "Stored", Premise: "old premise"}
}

func TestCreateBook_PersistsGeneratedOutline(t *testing.T) {
	repo := new(mocks.MockOutlineRepository)
	gen := new(mockOutlineGenerator)
	bookID := uuid.New()
	lines := []string{"Main"}
	plan := []models.ChapterPlan{{Number: 1, Title: "One"}}

	gen.On("GenerateOutline", mock.Anything, "premise").Return(lines, plan, nil).Once()
	repo.On("CreateOutline", mock.Anything, mock.Anything, ownerID, "New book", "premise", lines, plan).Return(bookID, nil).Once()
	repo.On("LoadOutline", mock.Anything, mock.Anything, bookID).Return(&models.Outline{Book: models.Book{ID: bookID}}, nil).Once()

	svc := NewOutlineService(nil, repo, gen, nil, nil, zap.NewNop())
	outline, err := svc.CreateBook(context.Background(), ownerID, "  ", " premise ")

	require.NoError(t, err)
	assert.Equal(t, bookID, outline.Book.ID)
	repo.AssertExpectations(t)
	gen.AssertExpectations(t)
}

func TestCreateBook_GenerationFailureStoresNothing(t *testing.T) {
	repo := new(mocks.MockOutlineRepository)
	gen := new(mockOutlineGenerator)
	gen.On("GenerateOutline", mock.Anything, "p").Return(nil, nil, models.ErrOutlineGenerationFailed).Once()

	svc := NewOutlineService(nil, repo, gen, nil, nil, zap.NewNop())
	_, err := svc.CreateBook(context.Background(), ownerID, "t", "p")

	assert.ErrorIs(t, err, models.ErrOutlineGenerationFailed)
	repo.AssertNotCalled(t, "CreateOutline", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateBook_EmptyPremise(t *testing.T) {
	svc := NewOutlineService(nil, new(mocks.MockOutlineRepository), new(mockOutlineGenerator), nil, nil, zap.NewNop())
	_, err := svc.CreateBook(context.Background(), ownerID, "t", "   ")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestRegenerateOutline(t *testing.T) {
	bookID := uuid.New()

	t.Run("keeps old outline when generation fails", func(t *testing.T) {
		repo := new(mocks.MockOutlineRepository)
		gen := new(mockOutlineGenerator)
		repo.On("GetBookForOwner", mock.Anything, mock.Anything, bookID, ownerID).Return(ownedBook(bookID), nil)
		gen.On("GenerateOutline", mock.Anything, "old premise").Return(nil, nil, models.ErrAIGenerationFailed).Once()

		svc := NewOutlineService(nil, repo, gen, nil, nil, zap.NewNop())
		_, err := svc.RegenerateOutline(context.Background(), ownerID, bookID, "")

		assert.ErrorIs(t, err, models.ErrAIGenerationFailed)
		repo.AssertNotCalled(t, "ReplaceOutline", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("replaces with new premise", func(t *testing.T) {
		repo := new(mocks.MockOutlineRepository)
		gen := new(mockOutlineGenerator)
		lines := []string{"X"}
		plan := []models.ChapterPlan{{Number: 1}}
		repo.On("GetBookForOwner", mock.Anything, mock.Anything, bookID, ownerID).Return(ownedBook(bookID), nil)
		gen.On("GenerateOutline", mock.Anything, "new").Return(lines, plan, nil).Once()
		repo.On("ReplaceOutline", mock.Anything, mock.Anything, bookID, "new", lines, plan).Return(nil).Once()
		repo.On("LoadOutline", mock.Anything, mock.Anything, bookID).Return(&models.Outline{}, nil).Once()

		svc := NewOutlineService(nil, repo, gen, nil, fakeRunStatus{}, zap.NewNop())
		_, err := svc.RegenerateOutline(context.Background(), ownerID, bookID, "new")

		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("rejected while chapters are generated", func(t *testing.T) {
		repo := new(mocks.MockOutlineRepository)
		gen := new(mockOutlineGenerator)
		repo.On("GetBookForOwner", mock.Anything, mock.Anything, bookID, ownerID).Return(ownedBook(bookID), nil)

		svc := NewOutlineService(nil, repo, gen, nil, fakeRunStatus{locked: true}, zap.NewNop())
		_, err := svc.RegenerateOutline(context.Background(), ownerID, bookID, "new")

		assert.ErrorIs(t, err, models.ErrRunInProgress)
		gen.AssertNotCalled(t, "GenerateOutline", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "ReplaceOutline", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestForeignBookLooksMissing(t *testing.T) {
	repo := new(mocks.MockOutlineRepository)
	bookID := uuid.New()
	repo.On("GetBookForOwner", mock.Anything, mock.Anything, bookID, uint64(99)).Return(nil, models.ErrNotFound)

	svc := NewOutlineService(nil, repo, new(mockOutlineGenerator), nil, nil, zap.NewNop())

	_, err := svc.GetOutline(context.Background(), 99, bookID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, svc.ToggleChapter(context.Background(), 99, bookID, 1, true), models.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteBook(context.Background(), 99, bookID), models.ErrNotFound)
	repo.AssertNotCalled(t, "SetEligible", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "DeleteBook", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetChapter_WithoutContentIsNotFound(t *testing.T) {
	repo := new(mocks.MockOutlineRepository)
	bookID := uuid.New()
	repo.On("GetBookForOwner", mock.Anything, mock.Anything, bookID, ownerID).Return(ownedBook(bookID), nil)
	repo.On("GetChapter", mock.Anything, mock.Anything, bookID, 2).Return(&models.Chapter{Number: 2}, nil)

	svc := NewOutlineService(nil, repo, new(mockOutlineGenerator), nil, nil, zap.NewNop())
	_, err := svc.GetChapter(context.Background(), ownerID, bookID, 2)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListAllBooksRequiresAdmin(t *testing.T) {
	repo := new(mocks.MockOutlineRepository)
	repo.On("ListAllBooks", mock.Anything, mock.Anything).Return([]models.BookWithOwner{}, nil).Once()
	svc := NewOutlineService(nil, repo, new(mockOutlineGenerator), nil, nil, zap.NewNop())

	_, err := svc.ListAllBooks(context.Background(), []string{models.RoleUser})
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = svc.ListAllBooks(context.Background(), []string{models.RoleUser, models.RoleAdmin})
	assert.NoError(t, err)
}

func TestRequestChapterGeneration(t *testing.T) {
	bookID := uuid.New()

	t.Run("publishes task", func(t *testing.T) {
		repo := new(mocks.MockOutlineRepository)
		tasks := new(mocks.MockChapterTaskPublisher)
		repo.On("GetBookForOwner", mock.Anything, mock.Anything, bookID, ownerID).Return(ownedBook(bookID), nil)
		tasks.On("PublishChapterTask", mock.Anything, mock.MatchedBy(func(p models.ChapterTaskPayload) bool {
			return p.BookID == bookID && p.UserID == ownerID && p.TaskID != ""
		})).Return(nil).Once()

		svc := NewOutlineService(nil, repo, new(mockOutlineGenerator), tasks, fakeRunStatus{}, zap.NewNop())
		taskID, err := svc.RequestChapterGeneration(context.Background(), ownerID, bookID)

		require.NoError(t, err)
		assert.NotEmpty(t, taskID)
		tasks.AssertExpectations(t)
	})

	t.Run("conflict while running", func(t *testing.T) {
		repo := new(mocks.MockOutlineRepository)
		tasks := new(mocks.MockChapterTaskPublisher)
		repo.On("GetBookForOwner", mock.Anything, mock.Anything, bookID, ownerID).Return(ownedBook(bookID), nil)

		svc := NewOutlineService(nil, repo, new(mockOutlineGenerator), tasks, fakeRunStatus{locked: true}, zap.NewNop())
		_, err := svc.RequestChapterGeneration(context.Background(), ownerID, bookID)

		assert.ErrorIs(t, err, models.ErrRunInProgress)
		tasks.AssertNotCalled(t, "PublishChapterTask", mock.Anything, mock.Anything)
	})
}

func TestCompileBook(t *testing.T) {
	bookID := uuid.New()
	content, summary := "Body.", "Short."
	outline := &models.Outline{
		Book: *ownedBook(bookID),
		Chapters: []models.OutlineChapter{
			{Chapter: models.Chapter{Number: 1, Title: "One", Content: &content, Summary: &summary}},
		},
	}

	repo := new(mocks.MockOutlineRepository)
	gen := new(mockOutlineGenerator)
	repo.On("GetBookForOwner", mock.Anything, mock.Anything, bookID, ownerID).Return(ownedBook(bookID), nil)
	repo.On("LoadOutline", mock.Anything, mock.Anything, bookID).Return(outline, nil)
	gen.On("GenerateTitles", mock.Anything, []string{"Chapter 1: Short."}).Return([]string{"Suggested", "Other"}).Once()

	svc := NewOutlineService(nil, repo, gen, nil, nil, zap.NewNop())

	book, err := svc.CompileBook(context.Background(), ownerID, bookID, CompileOptions{SuggestTitle: true, Format: compiler.FormatMarkdown})
	require.NoError(t, err)
	assert.Equal(t, "Suggested", book.Title)
	assert.Equal(t, "Suggested.md", book.FileName)
	assert.Contains(t, string(book.Content), "## One\n\nBody.")

	book, err = svc.CompileBook(context.Background(), ownerID, bookID, CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Stored", book.Title)
	gen.AssertExpectations(t)
}
