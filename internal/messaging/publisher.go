package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"storywriter/internal/interfaces"
	"storywriter/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQChapterTaskPublisher отправляет задачи генерации глав в очередь.
type RabbitMQChapterTaskPublisher struct {
	mu     sync.Mutex
	ch     *amqp.Channel
	queue  string
	logger *zap.Logger
}

var _ interfaces.ChapterTaskPublisher = (*RabbitMQChapterTaskPublisher)(nil)

// NewRabbitMQChapterTaskPublisher открывает отдельный канал и объявляет топологию очереди.
func NewRabbitMQChapterTaskPublisher(conn *amqp.Connection, queue string, logger *zap.Logger) (*RabbitMQChapterTaskPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := DeclareChapterTaskTopology(ch, queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	logger.Info("Chapter task queue declared", zap.String("queue", queue))
	return &RabbitMQChapterTaskPublisher{ch: ch, queue: queue, logger: logger.Named("ChapterTaskPublisher")}, nil
}

// PublishChapterTask публикует persistent JSON-сообщение в очередь по умолчанию.
func (p *RabbitMQChapterTaskPublisher) PublishChapterTask(ctx context.Context, payload models.ChapterTaskPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal chapter task: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    payload.TaskID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish chapter task",
			zap.String("task_id", payload.TaskID),
			zap.String("book_id", payload.BookID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish chapter task: %w", err)
	}

	p.logger.Debug("Chapter task published", zap.String("task_id", payload.TaskID), zap.String("book_id", payload.BookID.String()))
	return nil
}

// Close закрывает канал издателя.
func (p *RabbitMQChapterTaskPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}
