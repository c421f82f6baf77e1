//go:build integration

package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap/zaptest"

	"github.com/linhptit/strava-webhook-vercel/internal/events"
)

func TestPublishedMutationReachesProcessor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.RunContainer(ctx, testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	topic := "activity_mutations"
	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     "auditor-integration",
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	handler := &recordingHandler{}
	consumerCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = NewProcessor(reader, handler, WithLogger(zaptest.NewLogger(t))).Run(consumerCtx)
	}()

	producer := events.NewKafkaProducer(brokers)
	defer producer.Close()
	publisher := events.NewKafkaPublisher(producer, topic)

	event := events.NewMutationEvent(events.TypeActivityEnriched, "123", "42")
	require.NoError(t, publisher.Publish(ctx, event))

	require.Eventually(t, func() bool {
		got, ok := handler.first()
		return ok && got.Event.EventID == event.EventID
	}, 60*time.Second, 500*time.Millisecond)

	got, _ := handler.first()
	require.Equal(t, "42", got.Event.OwnerID)
	require.Equal(t, "123", got.Event.ActivityID)
}

type recordingHandler struct {
	mu       sync.Mutex
	messages []Message
}

func (h *recordingHandler) Handle(_ context.Context, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	return nil
}

func (h *recordingHandler) first() (Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) == 0 {
		return Message{}, false
	}
	return h.messages[0], true
}
