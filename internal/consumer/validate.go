package consumer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/ec-stock-reservation/internal/event"
	"github.com/google/uuid"
)

// ValidationError is a message that can never be processed, no matter how
// often it is retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "Validation failed: " + e.Reason
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate decodes raw and checks it is a well formed expectedType event
// carrying an OrderPlaced payload. The first violation is reported.
func Validate(raw []byte, expectedType string) (event.Envelope, event.OrderPlaced, error) {
	var payload event.OrderPlaced

	env, err := event.Decode(raw)
	if err != nil {
		return env, payload, &ValidationError{Reason: err.Error()}
	}

	if strings.TrimSpace(env.EventID) == "" {
		return env, payload, invalid("eventId is required")
	}
	if _, err := uuid.Parse(env.EventID); err != nil {
		return env, payload, invalid("eventId must be a UUID")
	}
	if strings.TrimSpace(env.CorrelationID) == "" {
		return env, payload, invalid("correlationId is required")
	}
	if _, err := uuid.Parse(env.CorrelationID); err != nil {
		return env, payload, invalid("correlationId must be a UUID")
	}
	if env.EventType != expectedType {
		return env, payload, invalid("eventType must be %s", expectedType)
	}

	if err := env.DecodePayload(&payload); err != nil {
		if errors.Is(err, event.ErrMissingPayload) {
			return env, payload, invalid("payload.orderId is required")
		}
		return env, payload, invalid("payload is malformed: %v", errors.Unwrap(err))
	}
	if strings.TrimSpace(payload.OrderID) == "" {
		return env, payload, invalid("payload.orderId is required")
	}
	if len(payload.Items) == 0 {
		return env, payload, invalid("payload.items is required")
	}
	for i, item := range payload.Items {
		if strings.TrimSpace(item.SKU) == "" {
			return env, payload, invalid("payload.items[%d].sku is required", i)
		}
		if item.Quantity <= 0 {
			return env, payload, invalid("payload.items[%d].quantity must be positive", i)
		}
		if item.Quantity > event.MaxQuantity {
			return env, payload, invalid("payload.items[%d].quantity must be at most %d", i, event.MaxQuantity)
		}
	}

	return env, payload, nil
}
