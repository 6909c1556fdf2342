package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storywriter/internal/interfaces"
	"storywriter/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const progressChannelPrefix = "book_progress:"

// ProgressChannel - имя pub/sub канала прогресса книги.
func ProgressChannel(bookID uuid.UUID) string {
	return progressChannelPrefix + bookID.String()
}

var _ interfaces.ProgressPublisher = (*RedisProgressBus)(nil)

// RedisProgressBus публикует и раздает события прогресса через Redis pub/sub.
type RedisProgressBus struct {
	client redis.UniversalClient
	logger *zap.Logger
}

func NewRedisProgressBus(client redis.UniversalClient, logger *zap.Logger) *RedisProgressBus {
	return &RedisProgressBus{client: client, logger: logger.Named("ProgressBus")}
}

func (b *RedisProgressBus) PublishProgress(ctx context.Context, event models.ProgressEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события прогресса: %w", err)
	}
	if err := b.client.Publish(ctx, ProgressChannel(event.BookID), payload).Err(); err != nil {
		return fmt.Errorf("ошибка публикации события прогресса: %w", err)
	}
	return nil
}

// Subscribe возвращает канал событий книги. Канал закрывается при отмене ctx.
func (b *RedisProgressBus) Subscribe(ctx context.Context, bookID uuid.UUID) (<-chan models.ProgressEvent, error) {
	sub := b.client.Subscribe(ctx, ProgressChannel(bookID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("ошибка подписки на прогресс: %w", err)
	}

	out := make(chan models.ProgressEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event models.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn("Skipping malformed progress message", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
