package messaging

import (
	"context"
	"fmt"
	"time"

	"storywriter/internal/utils"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Суффиксы для dead letter exchange и очереди задач.
const (
	deadLetterExchangeSuffix = ".dlx"
	deadLetterQueueSuffix    = ".dlq"
	deadLetterRoutingKey     = "dlq"
)

// ConnectRabbitMQ подключается к брокеру, повторяя попытки до maxRetries.
func ConnectRabbitMQ(ctx context.Context, url string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	logger.Info("Attempting to connect to RabbitMQ",
		zap.String("url", utils.MaskURLPassword(url)),
		zap.Int("max_retries", maxRetries),
		zap.Duration("retry_delay", retryDelay),
	)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			logger.Info("Successfully connected to RabbitMQ", zap.Int("attempt", attempt))
			go watchConnection(conn, logger)
			return conn, nil
		}
		lastErr = err
		logger.Warn("RabbitMQ connection failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err),
		)
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("подключение к RabbitMQ прервано: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
	logger.Error("Failed to connect to RabbitMQ after all retries", zap.Int("attempts", maxRetries), zap.Error(lastErr))
	return nil, fmt.Errorf("не удалось подключиться к RabbitMQ после %d попыток: %w", maxRetries, lastErr)
}

func watchConnection(conn *amqp.Connection, logger *zap.Logger) {
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	if err := <-notifyClose; err != nil {
		logger.Error("RabbitMQ connection closed unexpectedly", zap.Error(err))
		return
	}
	logger.Info("RabbitMQ connection closed gracefully")
}

// DeadLetterQueueName - очередь, куда попадают отклоненные задачи.
func DeadLetterQueueName(queue string) string {
	return queue + deadLetterQueueSuffix
}

// DeclareChapterTaskTopology объявляет durable очередь задач вместе с DLX и DLQ.
func DeclareChapterTaskTopology(ch *amqp.Channel, queue string) error {
	dlx := queue + deadLetterExchangeSuffix
	dlq := DeadLetterQueueName(queue)

	if err := ch.ExchangeDeclare(
		dlx,      // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		return fmt.Errorf("не удалось объявить DLX '%s': %w", dlx, err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("не удалось объявить DLQ '%s': %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, deadLetterRoutingKey, dlx, false, nil); err != nil {
		return fmt.Errorf("не удалось связать DLQ '%s' с DLX '%s': %w", dlq, dlx, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": deadLetterRoutingKey,
	}
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,
	); err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", queue, err)
	}
	return nil
}
