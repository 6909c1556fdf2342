package cache

import (
	"context"
	"fmt"
	"time"

	"storywriter/internal/interfaces"
	"storywriter/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const runLockKeyPrefix = "book_run_lock:"

// releaseScript удаляет ключ, только если в нем наш токен.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var _ interfaces.RunLocker = (*RedisRunLocker)(nil)

// RedisRunLocker - блокировка прогона глав на книгу (SET NX + TTL).
type RedisRunLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisRunLocker(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisRunLocker {
	return &RedisRunLocker{client: client, ttl: ttl, logger: logger.Named("RunLocker")}
}

func runLockKey(bookID uuid.UUID) string {
	return runLockKeyPrefix + bookID.String()
}

// Acquire берет блокировку. Если она занята, возвращает models.ErrRunInProgress.
func (l *RedisRunLocker) Acquire(ctx context.Context, bookID uuid.UUID) (func(), error) {
	key := runLockKey(bookID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка установки блокировки прогона: %w", err)
	}
	if !ok {
		l.logger.Info("Run lock is held by another run", zap.String("bookID", bookID.String()))
		return nil, models.ErrRunInProgress
	}

	release := func() {
		// Отдельный контекст: снимаем блокировку даже после отмены прогона.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Error("Failed to release run lock", zap.String("bookID", bookID.String()), zap.Error(err))
		}
	}
	return release, nil
}

// IsLocked сообщает, идет ли сейчас прогон для книги.
func (l *RedisRunLocker) IsLocked(ctx context.Context, bookID uuid.UUID) (bool, error) {
	n, err := l.client.Exists(ctx, runLockKey(bookID)).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка проверки блокировки прогона: %w", err)
	}
	return n > 0, nil
}
