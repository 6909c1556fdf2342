package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"storywriter/internal/interfaces"
	"storywriter/internal/mocks"
	"storywriter/internal/models"
	"storywriter/internal/worker"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testOwnerID uint64 = 7

// memoryOutlineStore - хранилище одной книги в памяти. Остальные методы интерфейса не нужны драйверу.
type memoryOutlineStore struct {
	interfaces.OutlineRepository

	mu       sync.Mutex
	outline  models.Outline
	updates  []int
	failSave map[int]error
}

func newMemoryStore(chapters ...models.OutlineChapter) *memoryOutlineStore {
	return &memoryOutlineStore{
		outline: models.Outline{
			Book:       models.Book{ID: uuid.New(), UserID: testOwnerID, Title: "Book", Premise: "A lighthouse keeper"},
			Storylines: []string{"Main", "Sea"},
			Chapters:   chapters,
		},
		failSave: map[int]error{},
	}
}

func (s *memoryOutlineStore) GetBookForOwner(_ context.Context, _ interfaces.DBTX, bookID uuid.UUID, userID uint64) (*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bookID != s.outline.Book.ID || userID != s.outline.Book.UserID {
		return nil, models.ErrNotFound
	}
	book := s.outline.Book
	return &book, nil
}

func (s *memoryOutlineStore) LoadOutline(_ context.Context, _ interfaces.DBTX, bookID uuid.UUID) (*models.Outline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bookID != s.outline.Book.ID {
		return nil, models.ErrNotFound
	}
	copied := s.outline
	copied.Chapters = make([]models.OutlineChapter, len(s.outline.Chapters))
	copy(copied.Chapters, s.outline.Chapters)
	return &copied, nil
}

func (s *memoryOutlineStore) GetChapter(_ context.Context, _ interfaces.DBTX, bookID uuid.UUID, number int) (*models.Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.outline.ChapterByNumber(number)
	if bookID != s.outline.Book.ID || ch == nil {
		return nil, models.ErrNotFound
	}
	copied := ch.Chapter
	return &copied, nil
}

func (s *memoryOutlineStore) GetChapterForUpdate(ctx context.Context, querier interfaces.DBTX, bookID uuid.UUID, number int) (*models.Chapter, error) {
	return s.GetChapter(ctx, querier, bookID, number)
}

func (s *memoryOutlineStore) UpdateChapter(_ context.Context, _ interfaces.DBTX, bookID uuid.UUID, number int, summary string, content *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failSave[number]; err != nil {
		return err
	}
	ch := s.outline.ChapterByNumber(number)
	if bookID != s.outline.Book.ID || ch == nil {
		return models.ErrNotFound
	}
	ch.Summary = &summary
	if content != nil {
		ch.Content = content
	}
	ch.Eligible = false
	s.updates = append(s.updates, number)
	return nil
}

func (s *memoryOutlineStore) setEligible(number int, eligible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outline.ChapterByNumber(number).Eligible = eligible
}

// replaceChapter имитирует пересоздание сюжета: та же позиция, новая строка.
func (s *memoryOutlineStore) replaceChapter(number int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.outline.ChapterByNumber(number)
	ch.ID += 1000
	ch.Title = "Regenerated"
	ch.Eligible = true
	ch.Content = nil
	ch.Summary = nil
}

func (s *memoryOutlineStore) chapter(number int) models.OutlineChapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.outline.ChapterByNumber(number)
}

// scriptedWriter пишет главы по шаблону и запоминает запросы.
type scriptedWriter struct {
	mu       sync.Mutex
	requests []models.ChapterRequest
	failOn   map[int]error
	onCall   func(number int)
}

func (w *scriptedWriter) GenerateChapter(_ context.Context, req models.ChapterRequest) (string, string, error) {
	w.mu.Lock()
	w.requests = append(w.requests, req)
	onCall := w.onCall
	err := w.failOn[req.Chapter.Number]
	w.mu.Unlock()
	if onCall != nil {
		onCall(req.Chapter.Number)
	}
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("text %d", req.Chapter.Number), fmt.Sprintf("summary %d", req.Chapter.Number), nil
}

func (w *scriptedWriter) numbers() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int, 0, len(w.requests))
	for _, r := range w.requests {
		out = append(out, r.Chapter.Number)
	}
	return out
}

func (w *scriptedWriter) request(number int) *models.ChapterRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.requests {
		if w.requests[i].Chapter.Number == number {
			return &w.requests[i]
		}
	}
	return nil
}

func chapter(number int, eligible bool) models.OutlineChapter {
	return models.OutlineChapter{
		Chapter: models.Chapter{ID: int64(number), Number: number, Title: fmt.Sprintf("Chapter %d", number), Eligible: eligible},
		Events:  map[string]string{"Main": fmt.Sprintf("event %d", number)},
	}
}

func withSummary(ch models.OutlineChapter, summary string) models.OutlineChapter {
	ch.Summary = &summary
	text := "old " + summary
	ch.Content = &text
	return ch
}

func newPipeline(store *memoryOutlineStore, writer worker.ChapterWriter, locker interfaces.RunLocker, progress interfaces.ProgressPublisher) *worker.ChapterPipeline {
	tx := new(mocks.MockTransactor)
	tx.On("WithTransaction", mock.Anything).Return().Maybe()
	return worker.NewChapterPipeline(nil, tx, store, writer, locker, progress,
		worker.PipelineConfig{TargetLength: "800 words"}, zap.NewNop())
}

func TestRun_GeneratesEligibleChaptersInOrder(t *testing.T) {
	// Главы в хранилище намеренно не упорядочены
	store := newMemoryStore(chapter(4, true), chapter(1, true), chapter(2, false), chapter(5, true), chapter(3, true))
	writer := &scriptedWriter{}

	report, err := newPipeline(store, writer, nil, nil).Run(context.Background(), store.outline.Book.ID, testOwnerID)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3, 4, 5}, writer.numbers())
	assert.Equal(t, []int{1, 3, 4, 5}, report.Generated)
	assert.Equal(t, 1, report.Skipped)
	assert.Nil(t, report.Failed)
	assert.Equal(t, []int{1, 3, 4, 5}, store.updates)

	for _, n := range []int{1, 3, 4, 5} {
		ch := store.chapter(n)
		assert.False(t, ch.Eligible, "chapter %d", n)
		require.NotNil(t, ch.Content)
		assert.Equal(t, fmt.Sprintf("text %d", n), *ch.Content)
	}
	assert.Nil(t, store.chapter(2).Content)

	req := writer.request(3)
	require.NotNil(t, req)
	assert.Equal(t, "A lighthouse keeper", req.Premise)
	assert.Equal(t, []string{"Main", "Sea"}, req.Storylines)
	assert.Equal(t, "800 words", req.TargetLength)
	assert.Equal(t, map[string]string{"Main": "event 3"}, req.Chapter.Events)
}

func TestRun_FailureStopsRunAndKeepsLaterChapters(t *testing.T) {
	store := newMemoryStore(chapter(1, true), chapter(2, true), chapter(3, true), chapter(4, true), chapter(5, true))
	capabilityErr := fmt.Errorf("%w: upstream 503", models.ErrAIGenerationFailed)
	writer := &scriptedWriter{failOn: map[int]error{3: capabilityErr}}

	report, err := newPipeline(store, writer, nil, nil).Run(context.Background(), store.outline.Book.ID, testOwnerID)
	require.Error(t, err)

	var failed *worker.ChapterFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 3, failed.Chapter)
	assert.ErrorIs(t, err, models.ErrAIGenerationFailed)

	require.NotNil(t, report)
	assert.Equal(t, []int{1, 2}, report.Generated)
	require.NotNil(t, report.Failed)
	assert.Equal(t, 3, *report.Failed)

	assert.Equal(t, []int{1, 2, 3}, writer.numbers(), "chapters after the failed one must not be attempted")
	for _, n := range []int{3, 4, 5} {
		ch := store.chapter(n)
		assert.True(t, ch.Eligible, "chapter %d stays eligible", n)
		assert.Nil(t, ch.Content, "chapter %d stays empty", n)
	}
}

func TestRun_ResumesFromFirstRemainingChapter(t *testing.T) {
	store := newMemoryStore(chapter(1, true), chapter(2, true), chapter(3, true), chapter(4, true))
	writer := &scriptedWriter{failOn: map[int]error{3: models.ErrChapterGenerationFailed}}
	pipeline := newPipeline(store, writer, nil, nil)

	_, err := pipeline.Run(context.Background(), store.outline.Book.ID, testOwnerID)
	require.Error(t, err)

	writer.mu.Lock()
	writer.failOn = nil
	writer.requests = nil
	writer.mu.Unlock()

	report, err := pipeline.Run(context.Background(), store.outline.Book.ID, testOwnerID)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, writer.numbers())
	assert.Equal(t, []int{3, 4}, report.Generated)
	assert.Equal(t, 2, report.Skipped)

	req := writer.request(3)
	require.NotNil(t, req)
	assert.Equal(t, []string{"Chapter 1: summary 1", "Chapter 2: summary 2"}, req.PreviousSummaries)
}

func TestRun_SecondRunIsNoop(t *testing.T) {
	store := newMemoryStore(chapter(1, true), chapter(2, true))
	writer := &scriptedWriter{}
	pipeline := newPipeline(store, writer, nil, nil)

	_, err := pipeline.Run(context.Background(), store.outline.Book.ID, testOwnerID)
	require.NoError(t, err)
	before := store.chapter(2)

	writer.mu.Lock()
	writer.requests = nil
	writer.mu.Unlock()

	report, err := pipeline.Run(context.Background(), store.outline.Book.ID, testOwnerID)
	require.NoError(t, err)
	assert.Empty(t, writer.numbers())
	assert.Empty(t, report.Generated)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, before, store.chapter(2))
}

func TestRun_ContextUsesExistingAndFreshSummaries(t *testing.T) {
	store := newMemoryStore(
		withSummary(chapter(1, false), "the keeper arrives"),
		chapter(2, false), // без краткого содержания в контекст не попадает
		chapter(3, true),
		chapter(4, true),
		withSummary(chapter(6, false), "later chapter"),
	)
	writer := &scriptedWriter{}

	_, err := newPipeline(store, writer, nil, nil).Run(context.Background(), store.outline.Book.ID, testOwnerID)
	require.NoError(t, err)

	assert.Equal(t, []string{"Chapter 1: the keeper arrives"}, writer.request(3).PreviousSummaries)
	assert.Equal(t, []string{"Chapter 1: the keeper arrives", "Chapter 3: summary 3"}, writer.request(4).PreviousSummaries)
}

func TestRun_FirstChapterHasEmptyContext(t *testing.T) {
	store := newMemoryStore(chapter(1, true))
	writer := &scriptedWriter{}

	_, err := newPipeline(store, writer, nil, nil).Run(context.Background(), store.outline.Book.ID, testOwnerID)
	require.NoError(t, err)
	assert.Empty(t, writer.request(1).PreviousSummaries)
}

func TestRun_CancellationStopsBeforeNextChapter(t *testing.T) {
	store := newMemoryStore(chapter(1, true), chapter(2, true), chapter(3, true))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	writer := &scriptedWriter{onCall: func(number int) {
		if number == 1 {
			cancel()
		}
	}}

	report, err := newPipeline(store, writer, nil, nil).Run(ctx, store.outline.Book.ID, testOwnerID)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []int{1}, writer.numbers())
	assert.Equal(t, []int{1}, report.Generated)
	assert.Nil(t, report.Failed)

	first := store.chapter(1)
	assert.False(t, first.Eligible, "chapter in flight is finished and saved")
	assert.True(t, store.chapter(2).Eligible)
}

func TestRun_PersistFailureAbortsRun(t *testing.T) {
	store := newMemoryStore(chapter(1, true), chapter(2, true))
	store.failSave[1] = errors.New("connection reset")
	writer := &scriptedWriter{}

	report, err := newPipeline(store, writer, nil, nil).Run(context.Background(), store.outline.Book.ID, testOwnerID)
	var failed *worker.ChapterFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.Chapter)
	assert.Empty(t, report.Generated)
	assert.True(t, store.chapter(1).Eligible)
	assert.Equal(t, []int{1}, writer.numbers())
}

func TestRun_ChapterUnflaggedBeforeItsTurnIsSkipped(t *testing.T) {
	store := newMemoryStore(chapter(1, true), chapter(2, true), chapter(3, true))
	writer := &scriptedWriter{}
	writer.onCall = func(number int) {
		if number == 1 {
			store.setEligible(2, false)
		}
	}

	report, err := newPipeline(store, writer, nil, nil).Run(context.Background(), store.outline.Book.ID, testOwnerID)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, writer.numbers())
	assert.Equal(t, []int{1, 3}, report.Generated)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []int{1, 3}, store.updates)
	assert.Nil(t, store.chapter(2).Content)
}

func TestRun_ChapterUnflaggedDuringGenerationIsNotSaved(t *testing.T) {
	store := newMemoryStore(chapter(1, true), chapter(2, true))
	writer := &scriptedWriter{}
	writer.onCall = func(number int) {
		if number == 1 {
			store.setEligible(1, false)
		}
	}

	report, err := newPipeline(store, writer, nil, nil).Run(context.Background(), store.outline.Book.ID, testOwnerID)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, writer.numbers())
	assert.Equal(t, []int{2}, report.Generated)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []int{2}, store.updates)
	assert.Nil(t, store.chapter(1).Content)
	assert.Empty(t, writer.request(2).PreviousSummaries, "discarded chapter must not feed the context")
}

func TestRun_ReplacedChapterIsNotOverwritten(t *testing.T) {
	store := newMemoryStore(chapter(1, true), chapter(2, true))
	writer := &scriptedWriter{}
	writer.onCall = func(number int) {
		if number == 1 {
			store.replaceChapter(1)
			store.replaceChapter(2)
		}
	}

	report, err := newPipeline(store, writer, nil, nil).Run(context.Background(), store.outline.Book.ID, testOwnerID)
	require.NoError(t, err)

	assert.Equal(t, []int{1}, writer.numbers(), "chapters of the old outline are not generated")
	assert.Empty(t, report.Generated)
	assert.Equal(t, 2, report.Skipped)
	assert.Empty(t, store.updates)
	for _, n := range []int{1, 2} {
		ch := store.chapter(n)
		assert.True(t, ch.Eligible, "chapter %d", n)
		assert.Nil(t, ch.Content, "chapter %d", n)
		assert.Equal(t, "Regenerated", ch.Title)
	}
}

func TestRun_ForeignBookIsNotFound(t *testing.T) {
	store := newMemoryStore(chapter(1, true))
	writer := &scriptedWriter{}

	report, err := newPipeline(store, writer, nil, nil).Run(context.Background(), store.outline.Book.ID, testOwnerID+1)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Nil(t, report)
	assert.Empty(t, writer.numbers())
}

func TestRun_LockedBookIsRejected(t *testing.T) {
	store := newMemoryStore(chapter(1, true))
	writer := &scriptedWriter{}
	locker := new(mocks.MockRunLocker)
	locker.On("Acquire", mock.Anything, store.outline.Book.ID).Return(nil, models.ErrRunInProgress)

	_, err := newPipeline(store, writer, locker, nil).Run(context.Background(), store.outline.Book.ID, testOwnerID)
	assert.ErrorIs(t, err, models.ErrRunInProgress)
	assert.Empty(t, writer.numbers())
	locker.AssertExpectations(t)
}

func TestRun_ReleasesLockAndPublishesProgress(t *testing.T) {
	store := newMemoryStore(chapter(1, true), chapter(2, false))
	writer := &scriptedWriter{}

	released := false
	locker := new(mocks.MockRunLocker)
	locker.On("Acquire", mock.Anything, store.outline.Book.ID).Return(func() { released = true }, nil)

	progress := new(mocks.MockProgressPublisher)
	var statuses []models.ProgressStatus
	progress.On("PublishProgress", mock.Anything, mock.AnythingOfType("models.ProgressEvent")).
		Run(func(args mock.Arguments) {
			statuses = append(statuses, args.Get(1).(models.ProgressEvent).Status)
		}).
		Return(errors.New("redis down")) // ошибки публикации не влияют на прогон

	report, err := newPipeline(store, writer, locker, progress).Run(context.Background(), store.outline.Book.ID, testOwnerID)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, report.Generated)
	assert.True(t, released)
	assert.Equal(t, []models.ProgressStatus{models.ProgressStarted, models.ProgressCompleted, models.ProgressFinished}, statuses)
}

func TestPreviousSummaries(t *testing.T) {
	outline := &models.Outline{Chapters: []models.OutlineChapter{
		withSummary(chapter(1, false), "one"),
		chapter(2, true),
		withSummary(chapter(3, false), "three"),
		withSummary(chapter(4, false), "four"),
	}}

	assert.Empty(t, worker.PreviousSummaries(outline, 1))
	assert.Equal(t, []string{"Chapter 1: one", "Chapter 3: three"}, worker.PreviousSummaries(outline, 4))
	assert.Equal(t, []string{"Chapter 1: one", "Chapter 3: three", "Chapter 4: four"}, worker.PreviousSummaries(outline, 10))
}
