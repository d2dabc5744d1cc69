package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const Version = 1

var (
	ErrMalformedEnvelope = errors.New("malformed event envelope")
	ErrMissingPayload    = errors.New("payload is missing")
)

// Envelope is the wire format shared by every event on the bus.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	OccurredAt    time.Time       `json:"occurredAt"`
	CorrelationID string          `json:"correlationId"`
	Producer      string          `json:"producer"`
	Version       int             `json:"version"`
	Payload       json.RawMessage `json:"payload"`
}

// DecodeError reports bytes that could not be read as an Envelope.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedEnvelope, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrMalformedEnvelope }

// Codec builds envelopes stamped with a fixed producer name.
type Codec struct {
	producer string
	now      func() time.Time
	newID    func() string
}

func NewCodec(producer string) *Codec {
	return &Codec{
		producer: producer,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

func (c *Codec) Producer() string { return c.producer }

// Build wraps payload in a new envelope. An empty correlationID is replaced
// with a fresh one.
func (c *Codec) Build(eventType, correlationID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	if correlationID == "" {
		correlationID = c.newID()
	}

	return Envelope{
		EventID:       c.newID(),
		EventType:     eventType,
		OccurredAt:    c.now().UTC(),
		CorrelationID: correlationID,
		Producer:      c.producer,
		Version:       Version,
		Payload:       data,
	}, nil
}

func (c *Codec) Encode(eventType, correlationID string, payload any) ([]byte, error) {
	env, err := c.Build(eventType, correlationID, payload)
	if err != nil {
		return nil, err
	}
	return env.Marshal()
}

func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses data into an Envelope. It only checks structure; required
// fields and identifier formats are the caller's concern.
func Decode(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, &DecodeError{Err: errors.New("expected a JSON object")}
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, &DecodeError{Err: err}
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 || bytes.Equal(e.Payload, []byte("null")) {
		return &DecodeError{Err: ErrMissingPayload}
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}
