package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
)

// CloudMessage is the payload enqueued per recipient, per spec §4.2 step 6.
type CloudMessage struct {
	Silent           bool            `json:"silent"`
	UserList         []int64         `json:"user_list"`
	NotificationType int             `json:"notification_type"`
	EndedOn          time.Time       `json:"ended_on"`
	Title            string          `json:"title"`
	Body             string          `json:"body"`
	NotificationID   int64           `json:"notification_id"`
	Meta             json.RawMessage `json:"meta,omitempty"`
	Image            string          `json:"image,omitempty"`
}

// Queue publishes CloudMessage tasks to the cloud_message Pub/Sub topic.
type Queue interface {
	Publish(ctx context.Context, msg CloudMessage) error
	Close() error
}

// PubSubQueue is the production Queue, grounded on the teacher's
// Pub/Sub event bus wiring (internal/events/pubsub_bus.go), generalized
// from CloudEvents to the notification pipeline's own cloud_message shape.
type PubSubQueue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func NewPubSubQueue(ctx context.Context, projectID, topicID string) (*PubSubQueue, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("notify: pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("notify: topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("notify: create topic: %w", err)
		}
	}

	return &PubSubQueue{client: client, topic: topic}, nil
}

func (q *PubSubQueue) Publish(ctx context.Context, msg CloudMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal cloud_message: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"notification_type": fmt.Sprintf("%d", msg.NotificationType),
		},
	})
	_, err = result.Get(ctx)
	return err
}

func (q *PubSubQueue) Close() error {
	q.topic.Stop()
	return q.client.Close()
}
