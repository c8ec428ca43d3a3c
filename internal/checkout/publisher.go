// Package checkout hands carts to the checkout service over Kafka and clears
// them again once the checkout has completed.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kokoruadmin/kokoru-cart/internal/domain"
	"github.com/segmentio/kafka-go"
)

const (
	RequestsTopic    = "checkout-requests"
	CompletedTopic   = "checkout-outbox"
	ConsumerGroupID  = "cart-service-consumer"
	requestEventType = "checkout_requested"
)

var ErrEmptyCart = errors.New("cart is empty")

// CheckoutRequested is published when a session asks to check out.
type CheckoutRequested struct {
	CheckoutID  string                `json:"checkout_id"`
	SessionID   string                `json:"session_id"`
	Items       []domain.CheckoutLine `json:"items"`
	Subtotal    float64               `json:"subtotal"`
	RequestedAt time.Time             `json:"requested_at"`
}

type Publisher interface {
	PublishCheckout(ctx context.Context, sessionID string, items []domain.CheckoutLine, subtotal float64) (*CheckoutRequested, error)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
}

func NewKafkaPublisher(brokers ...string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  RequestsTopic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, now: time.Now}
}

// PublishCheckout writes one request keyed by session, so requests from the
// same session stay ordered on their partition.
func (p *KafkaPublisher) PublishCheckout(ctx context.Context, sessionID string, items []domain.CheckoutLine, subtotal float64) (*CheckoutRequested, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	event := &CheckoutRequested{
		CheckoutID:  uuid.NewString(),
		SessionID:   sessionID,
		Items:       items,
		Subtotal:    subtotal,
		RequestedAt: p.now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal checkout request: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(requestEventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return nil, fmt.Errorf("publish checkout request: %w", err)
	}
	return event, nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
