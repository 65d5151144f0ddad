// Package publisher fans committed admin reviews out to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"capstack/internal/review/models"
)

// Producer is satisfied by *kafka.Producer.
type Producer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Event is the wire shape of a review on the topic.
type Event struct {
	Type   string              `json:"type"`
	Review *models.AdminReview `json:"review"`
}

// KafkaAnnouncer keys records by entity so all reviews of one entity land
// on one partition in order.
type KafkaAnnouncer struct {
	producer Producer
}

func NewKafkaAnnouncer(p Producer) *KafkaAnnouncer {
	return &KafkaAnnouncer{producer: p}
}

func (a *KafkaAnnouncer) Announce(ctx context.Context, review *models.AdminReview) error {
	payload, err := json.Marshal(Event{Type: "admin_review." + string(review.Type), Review: review})
	if err != nil {
		return fmt.Errorf("marshal review event: %w", err)
	}
	return a.producer.Publish(ctx, review.EntityID.String(), payload)
}
