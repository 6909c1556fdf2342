package messaging_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"storywriter/internal/messaging"
	"storywriter/internal/models"
	"storywriter/internal/worker"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	tcrabbit "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"go.uber.org/zap"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls []models.ChapterTaskPayload
}

func (r *recordingRunner) Run(_ context.Context, bookID uuid.UUID, userID uint64) (*worker.RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, models.ChapterTaskPayload{BookID: bookID, UserID: userID})
	return &worker.RunReport{BookID: bookID, Generated: []int{1}}, nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcrabbit.RabbitMQContainer
	conn      *amqp.Connection
	logger    *zap.Logger
	queue     string
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()

	var err error
	s.container, err = tcrabbit.Run(s.ctx, "rabbitmq:3.13-management-alpine")
	require.NoError(s.T(), err, "Failed to start rabbitmq container")

	url, err := s.container.AmqpURL(s.ctx)
	require.NoError(s.T(), err)
	s.conn, err = messaging.ConnectRabbitMQ(s.ctx, url, 10, time.Second, s.logger)
	require.NoError(s.T(), err)
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *RabbitMQIntegrationSuite) SetupTest() {
	s.queue = "chapter_tasks_" + uuid.NewString()[:8]
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) TestPublishedTaskReachesRunner() {
	publisher, err := messaging.NewRabbitMQChapterTaskPublisher(s.conn, s.queue, s.logger)
	s.Require().NoError(err)
	defer publisher.Close()

	runner := &recordingRunner{}
	consumer := messaging.NewChapterTaskConsumer(s.conn, s.queue, runner, s.logger)
	s.Require().NoError(consumer.Start(s.ctx))
	defer consumer.Stop()

	payload := models.ChapterTaskPayload{TaskID: uuid.NewString(), BookID: uuid.New(), UserID: 42}
	s.Require().NoError(publisher.PublishChapterTask(s.ctx, payload))

	s.Eventually(func() bool { return runner.count() == 1 }, 10*time.Second, 50*time.Millisecond)
	runner.mu.Lock()
	s.Equal(payload.BookID, runner.calls[0].BookID)
	s.Equal(payload.UserID, runner.calls[0].UserID)
	runner.mu.Unlock()
}

func (s *RabbitMQIntegrationSuite) TestMalformedTaskGoesToDeadLetterQueue() {
	runner := &recordingRunner{}
	consumer := messaging.NewChapterTaskConsumer(s.conn, s.queue, runner, s.logger)
	s.Require().NoError(consumer.Start(s.ctx))
	defer consumer.Stop()

	ch, err := s.conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	s.Require().NoError(ch.PublishWithContext(s.ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        []byte(`{"book_id": "not-a-uuid"`),
	}))

	s.Eventually(func() bool {
		q, err := ch.QueueDeclarePassive(messaging.DeadLetterQueueName(s.queue), true, false, false, false, nil)
		return err == nil && q.Messages == 1
	}, 10*time.Second, 100*time.Millisecond)
	s.Zero(runner.count())
}
