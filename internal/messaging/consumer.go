package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"storywriter/internal/models"
	"storywriter/internal/worker"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ChapterRunner - драйвер генерации глав (worker.ChapterPipeline).
type ChapterRunner interface {
	Run(ctx context.Context, bookID uuid.UUID, userID uint64) (*worker.RunReport, error)
}

var _ ChapterRunner = (*worker.ChapterPipeline)(nil)

type deliveryOutcome int

const (
	outcomeAck deliveryOutcome = iota
	outcomeReject
	outcomeRequeue
)

// ChapterTaskConsumer читает задачи из очереди и запускает по ним драйвер глав.
type ChapterTaskConsumer struct {
	conn   *amqp.Connection
	queue  string
	runner ChapterRunner
	logger *zap.Logger

	mu     sync.Mutex
	ch     *amqp.Channel
	cancel context.CancelFunc
	done   chan struct{}
}

func NewChapterTaskConsumer(conn *amqp.Connection, queue string, runner ChapterRunner, logger *zap.Logger) *ChapterTaskConsumer {
	return &ChapterTaskConsumer{
		conn:   conn,
		queue:  queue,
		runner: runner,
		logger: logger.Named("ChapterTaskConsumer"),
	}
}

// Start объявляет очередь и запускает обработку в фоне. Сообщения обрабатываются по одному.
func (c *ChapterTaskConsumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := DeclareChapterTaskTopology(ch, c.queue); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}
	deliveries, err := ch.Consume(
		c.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.ch = ch
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.logger.Info("Chapter task consumer started", zap.String("queue", c.queue))
	go c.loop(runCtx, deliveries, done)
	return nil
}

func (c *ChapterTaskConsumer) loop(ctx context.Context, deliveries <-chan amqp.Delivery, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Chapter task consumer stopping")
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Delivery channel closed")
				return
			}
			switch c.process(ctx, d.Body) {
			case outcomeAck:
				if err := d.Ack(false); err != nil {
					c.logger.Error("Failed to ack delivery", zap.Error(err))
				}
			case outcomeReject:
				if err := d.Nack(false, false); err != nil {
					c.logger.Error("Failed to nack delivery", zap.Error(err))
				}
			case outcomeRequeue:
				if err := d.Nack(false, true); err != nil {
					c.logger.Error("Failed to requeue delivery", zap.Error(err))
				}
			}
		}
	}
}

// process возвращает судьбу сообщения. В DLQ уходят только непригодные к разбору задачи
// и паники. Прогон, прерванный остановкой консьюмера, возвращается в очередь.
// Прочие ошибки прогона логируются, повтор - новой задачей.
func (c *ChapterTaskConsumer) process(ctx context.Context, body []byte) (outcome deliveryOutcome) {
	var payload models.ChapterTaskPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.BookID == uuid.Nil || payload.UserID == 0 {
		c.logger.Error("Malformed chapter task, sending to DLQ", zap.ByteString("body", body), zap.Error(err))
		return outcomeReject
	}

	log := c.logger.With(
		zap.String("task_id", payload.TaskID),
		zap.String("book_id", payload.BookID.String()),
		zap.Uint64("user_id", payload.UserID),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while processing chapter task", zap.Any("panic", r), zap.Stack("stack"))
			outcome = outcomeReject
		}
	}()

	report, err := c.runner.Run(ctx, payload.BookID, payload.UserID)
	var failed *worker.ChapterFailedError
	switch {
	case err == nil:
		log.Info("Chapter task completed", zap.Ints("generated", report.Generated), zap.Int("skipped", report.Skipped))
	case ctx.Err() != nil:
		log.Warn("Chapter task interrupted by shutdown, requeueing", zap.Error(err))
		return outcomeRequeue
	case errors.Is(err, models.ErrRunInProgress):
		log.Warn("Chapter run already in progress, task dropped")
	case errors.As(err, &failed):
		log.Error("Chapter task stopped on failed chapter", zap.Int("chapter", failed.Chapter), zap.Error(err))
	default:
		log.Error("Chapter task failed", zap.Error(err))
	}
	return outcomeAck
}

// Stop прекращает прием сообщений и ждет завершения текущей обработки.
func (c *ChapterTaskConsumer) Stop() {
	c.mu.Lock()
	cancel, done, ch := c.cancel, c.done, c.ch
	c.cancel, c.ch = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	if err := ch.Close(); err != nil {
		c.logger.Warn("Error closing consumer channel", zap.Error(err))
	}
	c.logger.Info("Chapter task consumer stopped")
}
