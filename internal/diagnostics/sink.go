// Package diagnostics сохраняет сырые промпты и ответы неудачных генераций.
package diagnostics

import (
	"context"
	"sync"
	"time"

	"storywriter/internal/interfaces"
	"storywriter/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var droppedDumps = promauto.NewCounter(prometheus.CounterOpts{
	Name: "storywriter_generation_dumps_dropped_total",
	Help: "Generation dumps dropped because the buffer was full.",
})

const saveTimeout = 5 * time.Second

var _ interfaces.DumpSink = (*AsyncSink)(nil)

// AsyncSink пишет дампы в фоне. Record никогда не блокирует генератор.
type AsyncSink struct {
	repo    interfaces.GenerationDumpRepository
	db      interfaces.DBTX
	queue   chan models.GenerationDump
	logger  *zap.Logger
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool
}

// NewAsyncSink запускает фоновую запись. Close дожидается опустошения буфера.
func NewAsyncSink(repo interfaces.GenerationDumpRepository, db interfaces.DBTX, bufferSize int, logger *zap.Logger) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	s := &AsyncSink{
		repo:   repo,
		db:     db,
		queue:  make(chan models.GenerationDump, bufferSize),
		logger: logger.Named("DumpSink"),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *AsyncSink) Record(dump models.GenerationDump) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.logger.Warn("Dump sink closed, dropping dump", zap.String("kind", string(dump.Kind)))
		return
	}
	select {
	case s.queue <- dump:
	default:
		droppedDumps.Inc()
		s.logger.Warn("Dump buffer full, dropping dump", zap.String("kind", string(dump.Kind)))
	}
}

func (s *AsyncSink) run() {
	defer s.wg.Done()
	for dump := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := s.repo.Save(ctx, s.db, &dump); err != nil {
			s.logger.Error("Failed to store generation dump", zap.String("kind", string(dump.Kind)), zap.Error(err))
		}
		cancel()
	}
}

// Close прекращает прием дампов и ждет записи оставшихся.
func (s *AsyncSink) Close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.closeMu.Unlock()
	s.wg.Wait()
}

// LogSink только логирует дампы. Используется, когда БД для диагностики недоступна.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("DumpLog")}
}

func (s *LogSink) Record(dump models.GenerationDump) {
	s.logger.Warn("Generation failure",
		zap.String("kind", string(dump.Kind)),
		zap.String("error", dump.Error),
		zap.Int("prompt_len", len(dump.Prompt)),
		zap.Int("response_len", len(dump.Response)),
	)
}
