package mocks

import (
	"context"

	"storywriter/internal/interfaces"
	"storywriter/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockUserRepository is a mock type for the UserRepository type
type MockUserRepository struct {
	mock.Mock
}

func (_m *MockUserRepository) CreateUser(ctx context.Context, querier interfaces.DBTX, user *models.User) error {
	ret := _m.Called(ctx, querier, user)
	return ret.Error(0)
}

func (_m *MockUserRepository) GetUserByUsername(ctx context.Context, querier interfaces.DBTX, username string) (*models.User, error) {
	ret := _m.Called(ctx, querier, username)
	var r0 *models.User
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.User)
	}
	return r0, ret.Error(1)
}

func (_m *MockUserRepository) GetUserByID(ctx context.Context, querier interfaces.DBTX, id uint64) (*models.User, error) {
	ret := _m.Called(ctx, querier, id)
	var r0 *models.User
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.User)
	}
	return r0, ret.Error(1)
}

// MockOutlineRepository is a mock type for the OutlineRepository type
type MockOutlineRepository struct {
	mock.Mock
}

func (_m *MockOutlineRepository) CreateOutline(ctx context.Context, querier interfaces.DBTX, userID uint64, title, premise string, storylines []string, chapters []models.ChapterPlan) (uuid.UUID, error) {
	ret := _m.Called(ctx, querier, userID, title, premise, storylines, chapters)
	var r0 uuid.UUID
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(uuid.UUID)
	}
	return r0, ret.Error(1)
}

func (_m *MockOutlineRepository) ReplaceOutline(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, premise string, storylines []string, chapters []models.ChapterPlan) error {
	ret := _m.Called(ctx, querier, bookID, premise, storylines, chapters)
	return ret.Error(0)
}

func (_m *MockOutlineRepository) LoadOutline(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID) (*models.Outline, error) {
	ret := _m.Called(ctx, querier, bookID)
	var r0 *models.Outline
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Outline)
	}
	return r0, ret.Error(1)
}

func (_m *MockOutlineRepository) GetBook(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID) (*models.Book, error) {
	ret := _m.Called(ctx, querier, bookID)
	var r0 *models.Book
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Book)
	}
	return r0, ret.Error(1)
}

func (_m *MockOutlineRepository) GetBookForOwner(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, userID uint64) (*models.Book, error) {
	ret := _m.Called(ctx, querier, bookID, userID)
	var r0 *models.Book
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Book)
	}
	return r0, ret.Error(1)
}

func (_m *MockOutlineRepository) ListBooksByOwner(ctx context.Context, querier interfaces.DBTX, userID uint64) ([]models.Book, error) {
	ret := _m.Called(ctx, querier, userID)
	var r0 []models.Book
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.Book)
	}
	return r0, ret.Error(1)
}

func (_m *MockOutlineRepository) ListAllBooks(ctx context.Context, querier interfaces.DBTX) ([]models.BookWithOwner, error) {
	ret := _m.Called(ctx, querier)
	var r0 []models.BookWithOwner
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.BookWithOwner)
	}
	return r0, ret.Error(1)
}

func (_m *MockOutlineRepository) DeleteBook(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID) error {
	ret := _m.Called(ctx, querier, bookID)
	return ret.Error(0)
}

func (_m *MockOutlineRepository) GetChapter(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, number int) (*models.Chapter, error) {
	ret := _m.Called(ctx, querier, bookID, number)
	var r0 *models.Chapter
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Chapter)
	}
	return r0, ret.Error(1)
}

func (_m *MockOutlineRepository) GetChapterForUpdate(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, number int) (*models.Chapter, error) {
	ret := _m.Called(ctx, querier, bookID, number)
	var r0 *models.Chapter
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Chapter)
	}
	return r0, ret.Error(1)
}

func (_m *MockOutlineRepository) UpdateChapter(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, number int, summary string, content *string) error {
	ret := _m.Called(ctx, querier, bookID, number, summary, content)
	return ret.Error(0)
}

func (_m *MockOutlineRepository) SetEligible(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, number int, eligible bool) error {
	ret := _m.Called(ctx, querier, bookID, number, eligible)
	return ret.Error(0)
}

func (_m *MockOutlineRepository) UpsertPlotEvent(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, number int, storyline, description string) error {
	ret := _m.Called(ctx, querier, bookID, number, storyline, description)
	return ret.Error(0)
}

func (_m *MockOutlineRepository) DeleteOutline(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID) error {
	ret := _m.Called(ctx, querier, bookID)
	return ret.Error(0)
}

// MockGenerationDumpRepository is a mock type for the GenerationDumpRepository type
type MockGenerationDumpRepository struct {
	mock.Mock
}

func (_m *MockGenerationDumpRepository) Save(ctx context.Context, querier interfaces.DBTX, dump *models.GenerationDump) error {
	ret := _m.Called(ctx, querier, dump)
	return ret.Error(0)
}

func (_m *MockGenerationDumpRepository) ListRecent(ctx context.Context, querier interfaces.DBTX, limit int) ([]models.GenerationDump, error) {
	ret := _m.Called(ctx, querier, limit)
	var r0 []models.GenerationDump
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.GenerationDump)
	}
	return r0, ret.Error(1)
}

var (
	_ interfaces.UserRepository           = (*MockUserRepository)(nil)
	_ interfaces.OutlineRepository        = (*MockOutlineRepository)(nil)
	_ interfaces.GenerationDumpRepository = (*MockGenerationDumpRepository)(nil)
)
