package diagnostics

import (
	"testing"
	"time"

	"storywriter/internal/mocks"
	"storywriter/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func TestAsyncSinkStoresDumps(t *testing.T) {
	repo := new(mocks.MockGenerationDumpRepository)
	repo.On("Save", mock.Anything, mock.Anything, mock.MatchedBy(func(d *models.GenerationDump) bool {
		return d.Kind == models.GenerationKindChapter && d.Response == "garbage"
	})).Return(nil).Once()

	sink := NewAsyncSink(repo, nil, 4, zap.NewNop())
	sink.Record(models.GenerationDump{Kind: models.GenerationKindChapter, Prompt: "p", Response: "garbage"})
	sink.Close()

	repo.AssertExpectations(t)
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	block := make(chan time.Time)
	repo := new(mocks.MockGenerationDumpRepository)
	repo.On("Save", mock.Anything, mock.Anything, mock.Anything).
		WaitUntil(block).
		Return(nil)

	sink := NewAsyncSink(repo, nil, 1, zap.NewNop())
	for i := 0; i < 10; i++ {
		sink.Record(models.GenerationDump{Kind: models.GenerationKindOutline})
	}
	close(block)
	sink.Close()

	// Один дамп в работе и один в буфере, остальные отброшены без блокировки.
	assert.LessOrEqual(t, len(repo.Calls), 2)
	assert.GreaterOrEqual(t, len(repo.Calls), 1)
}

func TestAsyncSinkIgnoresRecordAfterClose(t *testing.T) {
	repo := new(mocks.MockGenerationDumpRepository)
	sink := NewAsyncSink(repo, nil, 1, zap.NewNop())
	sink.Close()
	sink.Close()

	assert.NotPanics(t, func() {
		sink.Record(models.GenerationDump{Kind: models.GenerationKindTitles})
	})
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}
