package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const loginAttemptsKeyPrefix = "login_attempts:"

// LoginThrottle считает неудачные входы по IP и вычисляет задержку перед следующей попыткой.
type LoginThrottle struct {
	client   redis.UniversalClient
	maxDelay time.Duration
	window   time.Duration
	logger   *zap.Logger
}

// NewLoginThrottle создает счетчик. Счетчик живет window с момента последней неудачи.
func NewLoginThrottle(client redis.UniversalClient, maxDelay, window time.Duration, logger *zap.Logger) *LoginThrottle {
	return &LoginThrottle{client: client, maxDelay: maxDelay, window: window, logger: logger.Named("LoginThrottle")}
}

// BackoffDelay - задержка для попытки номер attempts: min(2^(n-2) сек, maxDelay); первая попытка без задержки.
func BackoffDelay(attempts int64, maxDelay time.Duration) time.Duration {
	if attempts <= 1 {
		return 0
	}
	shift := attempts - 2
	if shift > 30 {
		return maxDelay
	}
	d := time.Duration(1<<shift) * time.Second
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// Delay возвращает задержку для следующей попытки с этого IP.
func (t *LoginThrottle) Delay(ctx context.Context, ip string) (time.Duration, error) {
	n, err := t.client.Get(ctx, loginAttemptsKeyPrefix+ip).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения счетчика входов: %w", err)
	}
	return BackoffDelay(n+1, t.maxDelay), nil
}

// RegisterFailure увеличивает счетчик неудачных попыток.
func (t *LoginThrottle) RegisterFailure(ctx context.Context, ip string) (int64, error) {
	key := loginAttemptsKeyPrefix + ip
	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("ошибка обновления счетчика входов: %w", err)
	}
	t.logger.Debug("Login failure registered", zap.String("ip", ip), zap.Int64("attempts", incr.Val()))
	return incr.Val(), nil
}

// Reset сбрасывает счетчик после успешного входа.
func (t *LoginThrottle) Reset(ctx context.Context, ip string) error {
	if err := t.client.Del(ctx, loginAttemptsKeyPrefix+ip).Err(); err != nil {
		return fmt.Errorf("ошибка сброса счетчика входов: %w", err)
	}
	return nil
}
