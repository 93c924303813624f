// Package events publishes terminal payment outcomes to NATS JetStream.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/berniyo/mpesa-lambda/internal/handler"
)

const (
	// TypePaymentOutcome is the envelope type for terminal outcomes.
	TypePaymentOutcome = "payment.stk.outcome"

	envelopeVersion = 1
)

// Envelope wraps event data with routing and tracing metadata.
type Envelope struct {
	ID          string          `json:"event_id"`
	Type        string          `json:"type"`
	Version     int             `json:"version"`
	OccurredAt  time.Time       `json:"occurred_at"`
	AggregateID string          `json:"aggregate_id"`
	Data        json.RawMessage `json:"data"`
}

// NewEnvelope builds an envelope with a fresh ULID.
func NewEnvelope(eventType, aggregateID string, data any, now time.Time) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	return &Envelope{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Type:        eventType,
		Version:     envelopeVersion,
		OccurredAt:  now.UTC(),
		AggregateID: aggregateID,
		Data:        raw,
	}, nil
}

// DecodeData decodes the event data into v.
func (e *Envelope) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// OutcomeEnvelope wraps a processor response, keyed by session id.
func OutcomeEnvelope(resp handler.PaymentResponse, now time.Time) (*Envelope, error) {
	return NewEnvelope(TypePaymentOutcome, resp.SessionID, resp, now)
}
