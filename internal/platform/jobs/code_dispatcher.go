package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/onlyusedtesla/checkout/internal/services"
)

// PubSubCodeDispatcher hands verification codes to the SMS worker through a Pub/Sub topic.
// The worker owns delivery; this side only guarantees the message was accepted.
type PubSubCodeDispatcher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	timeout time.Duration
}

var _ services.CodeDispatcher = (*PubSubCodeDispatcher)(nil)

func NewPubSubCodeDispatcher(topic *pubsub.Topic) (*PubSubCodeDispatcher, error) {
	if topic == nil {
		return nil, errors.New("pubsub code dispatcher: topic is required")
	}
	return &PubSubCodeDispatcher{
		topic:   topic,
		marshal: json.Marshal,
		timeout: 10 * time.Second,
	}, nil
}

// DispatchCode publishes msg and waits for the server-assigned message id.
// Messages are ordered per phone when the topic enables message ordering.
func (p *PubSubCodeDispatcher) DispatchCode(ctx context.Context, msg services.VerificationCodeMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub code dispatcher: not initialised")
	}
	data, err := p.marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal verification code: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := p.topic.Publish(publishCtx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"pendingId": msg.PendingID,
			"kind":      "verification_code",
			"expiresAt": msg.ExpiresAt.UTC().Format(time.RFC3339),
		},
		OrderingKey: orderingKey(p.topic, msg.Phone),
	})
	id, err := result.Get(publishCtx)
	if err != nil {
		if p.topic.EnableMessageOrdering {
			p.topic.ResumePublish(msg.Phone)
		}
		return "", fmt.Errorf("publish verification code: %w", err)
	}
	return id, nil
}

func orderingKey(topic *pubsub.Topic, phone string) string {
	if topic.EnableMessageOrdering {
		return phone
	}
	return ""
}
