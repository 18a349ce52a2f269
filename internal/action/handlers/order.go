package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/action"
	"github.com/lexiqai/meeting-agent/internal/intent"
)

// DefaultOrderStream is where the purchasing worker reads requests from
const DefaultOrderStream = "orders:requests"

const orderStreamMaxLen = 10000

// StreamAdder is the part of a redis client the order handler needs
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// OrderHandler hands order requests to the purchasing worker through a Redis stream
type OrderHandler struct {
	rdb    StreamAdder
	stream string
	now    func() time.Time
	logger zerolog.Logger
}

// NewOrderHandler creates an order handler writing to stream
func NewOrderHandler(rdb StreamAdder, stream string, logger zerolog.Logger) *OrderHandler {
	if stream == "" {
		stream = DefaultOrderStream
	}
	return &OrderHandler{rdb: rdb, stream: stream, now: time.Now, logger: logger.With().Str("handler", "order").Logger()}
}

// Execute implements action.Handler
func (h *OrderHandler) Execute(ctx context.Context, req action.Request) action.Result {
	d, ok := req.Payload.(intent.OrderDetails)
	if !ok {
		return action.Failed(unexpectedPayload(req.Payload))
	}

	id, err := h.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: h.stream,
		MaxLen: orderStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"request_id":   req.ID,
			"session_id":   req.SessionID,
			"item":         d.Item,
			"quantity":     d.Quantity,
			"participants": strings.Join(req.Participants, ","),
			"requested_at": h.now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		return action.Failed(fmt.Errorf("enqueue order: %w", err))
	}

	h.logger.Info().Str("entry_id", id).Str("item", d.Item).Int("quantity", d.Quantity).Msg("Order queued")
	return action.Result{Success: true}
}
