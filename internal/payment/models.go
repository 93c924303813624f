// Package payment holds the data model shared by the STK push request,
// polling and flow packages.
package payment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Request is a validated STK push request. Phone is always the 9-digit
// canonical number.
type Request struct {
	Amount decimal.Decimal
	Phone  string
}

// Status is the lifecycle state of a payment session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusCancelled, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Transaction is the confirmation payload returned by the gateway.
type Transaction struct {
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
	PhoneNumber   string `json:"phoneNumber"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

// Session tracks one payment attempt from submission to a terminal status.
type Session struct {
	ID           string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	Status       Status    `json:"status"`
	PollAttempts int       `json:"pollAttempts"`
}

// NewSession starts a pending session for the gateway-assigned id.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		Status:    StatusPending,
	}
}

// RecordAttempt sets the number of completed poll queries. Counts never go
// backwards and are frozen once the session is terminal.
func (s *Session) RecordAttempt(attempt int) {
	if s.Status.Terminal() || attempt <= s.PollAttempts {
		return
	}
	s.PollAttempts = attempt
}

// Resolve moves the session to a terminal status. It returns false, leaving
// the session untouched, if the session was already terminal or status is
// not terminal.
func (s *Session) Resolve(status Status) bool {
	if s.Status.Terminal() || !status.Terminal() {
		return false
	}
	s.Status = status
	return true
}

// EventKind classifies a PollEvent.
type EventKind string

const (
	EventPending   EventKind = "pending"
	EventSuccess   EventKind = "success"
	EventCancelled EventKind = "cancelled"
	EventFailed    EventKind = "failed"
	EventTimedOut  EventKind = "timed_out"
)

// PollEvent is emitted by the status poller after each query.
type PollEvent struct {
	Kind        EventKind
	Attempt     int
	Transaction *Transaction
	Message     string
}

// Terminal reports whether the event ends polling.
func (e PollEvent) Terminal() bool {
	return e.Kind != EventPending
}

// Status maps the event onto the session status it resolves to.
func (e PollEvent) Status() Status {
	switch e.Kind {
	case EventSuccess:
		return StatusSuccess
	case EventCancelled:
		return StatusCancelled
	case EventFailed:
		return StatusFailed
	case EventTimedOut:
		return StatusTimedOut
	default:
		return StatusPending
	}
}

// SubmitError reports a rejected or undeliverable STK push request.
type SubmitError struct {
	Reason string
	Err    error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submit payment: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("submit payment: %s", e.Reason)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}
