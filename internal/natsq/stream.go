package natsq

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the name of the dispatch job stream.
	StreamName = "SMS_DISPATCH"

	// SubjectPrefix is the prefix for all dispatch subjects.
	SubjectPrefix = "dispatch.sms"

	// ConsumerName is the durable consumer shared by worker processes.
	ConsumerName = "sms-worker"
)

// StreamManager handles JetStream operations for the dispatch queue.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the dispatch stream exists. The stream is a work
// queue: each job is delivered to one worker and removed once acked.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "SMS conversation turn jobs",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// JobSubject returns the subject for one dispatch id.
func JobSubject(dispatchID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, dispatchID)
}

// PublishJob publishes a serialized job payload under the dispatch id.
func (m *StreamManager) PublishJob(ctx context.Context, dispatchID string, data []byte) error {
	_, err := m.client.JetStream().Publish(ctx, JobSubject(dispatchID), data)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// EnsureConsumer creates or updates the durable worker consumer and
// returns it. Jobs are not redelivered after an ack; a worker that dies
// mid-turn leaves its job to ack-wait expiry, which is the at-least-once
// edge of the queue (the context update itself stays at-most-once).
func (m *StreamManager) EnsureConsumer(ctx context.Context) (jetstream.Consumer, error) {
	consumer, err := m.client.JetStream().CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: fmt.Sprintf("%s.>", SubjectPrefix),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	return consumer, nil
}
