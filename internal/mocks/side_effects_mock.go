package mocks

import (
	"context"

	"storywriter/internal/interfaces"
	"storywriter/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockDumpSink is a mock type for the DumpSink type
type MockDumpSink struct {
	mock.Mock
}

func (_m *MockDumpSink) Record(dump models.GenerationDump) {
	_m.Called(dump)
}

// MockProgressPublisher is a mock type for the ProgressPublisher type
type MockProgressPublisher struct {
	mock.Mock
}

func (_m *MockProgressPublisher) PublishProgress(ctx context.Context, event models.ProgressEvent) error {
	ret := _m.Called(ctx, event)
	return ret.Error(0)
}

// MockRunLocker is a mock type for the RunLocker type
type MockRunLocker struct {
	mock.Mock
}

func (_m *MockRunLocker) Acquire(ctx context.Context, bookID uuid.UUID) (func(), error) {
	ret := _m.Called(ctx, bookID)

	var r0 func()
	if rf, ok := ret.Get(0).(func()); ok {
		r0 = rf
	}
	return r0, ret.Error(1)
}

// MockChapterTaskPublisher is a mock type for the ChapterTaskPublisher type
type MockChapterTaskPublisher struct {
	mock.Mock
}

func (_m *MockChapterTaskPublisher) PublishChapterTask(ctx context.Context, payload models.ChapterTaskPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

// MockTransactor выполняет fn сразу, передавая nil вместо транзакции.
type MockTransactor struct {
	mock.Mock
}

func (_m *MockTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx interfaces.DBTX) error) error {
	_m.Called(ctx)
	return fn(ctx, nil)
}

var (
	_ interfaces.DumpSink             = (*MockDumpSink)(nil)
	_ interfaces.ProgressPublisher    = (*MockProgressPublisher)(nil)
	_ interfaces.RunLocker            = (*MockRunLocker)(nil)
	_ interfaces.ChapterTaskPublisher = (*MockChapterTaskPublisher)(nil)
	_ interfaces.Transactor           = (*MockTransactor)(nil)
)
