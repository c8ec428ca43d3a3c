package checkout

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// CartClearer empties a session's cart.
type CartClearer interface {
	Clear(ctx context.Context, sessionID string) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer clears carts whose checkout has completed.
type Consumer struct {
	carts  CartClearer
	reader messageReader
	logger *zap.Logger
}

type checkoutCompleted struct {
	CheckoutID string `json:"checkout_id"`
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
}

func NewConsumer(carts CartClearer, logger *zap.Logger, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    CompletedTopic,
		GroupID:  ConsumerGroupID,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(carts, reader, logger)
}

func newConsumer(carts CartClearer, reader messageReader, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{carts: carts, reader: reader, logger: logger}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.consumeOne(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Warn("error closing reader", zap.Error(err))
	}
}

func (c *Consumer) consumeOne(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Warn("error reading message", zap.Error(err))
		}
		return
	}
	c.handleMessage(ctx, m.Value)
}

// handleMessage never fails the loop; a message it cannot use is skipped.
func (c *Consumer) handleMessage(ctx context.Context, value []byte) {
	var event checkoutCompleted
	if err := json.Unmarshal(value, &event); err != nil {
		c.logger.Warn("error parsing message", zap.Error(err))
		return
	}

	sessionID := event.SessionID
	if sessionID == "" {
		sessionID = event.UserID
	}
	if sessionID == "" {
		c.logger.Warn("missing session_id in checkout event", zap.String("checkout_id", event.CheckoutID))
		return
	}

	if err := c.carts.Clear(ctx, sessionID); err != nil {
		c.logger.Error("failed to clear cart",
			zap.String("session_id", sessionID),
			zap.String("checkout_id", event.CheckoutID),
			zap.Error(err))
		return
	}
	c.logger.Info("cart cleared after checkout",
		zap.String("session_id", sessionID),
		zap.String("checkout_id", event.CheckoutID))
}
