package flow

import (
	"github.com/berniyo/mpesa-lambda/internal/form"
	"github.com/berniyo/mpesa-lambda/internal/payment"
)

// Phase is the presentation state of the payment form.
type Phase string

const (
	PhaseEditing    Phase = "editing"
	PhaseSubmitting Phase = "submitting"
	PhaseWaiting    Phase = "waiting"
	PhaseSuccess    Phase = "success"
	PhaseError      Phase = "error"
)

// ErrorKind tells the error modal which failure it is showing.
type ErrorKind string

const (
	ErrorSubmit    ErrorKind = "submit"
	ErrorCancelled ErrorKind = "cancelled"
	ErrorFailed    ErrorKind = "failed"
	ErrorTimedOut  ErrorKind = "timed_out"
)

// Feedback is the content of the error modal.
type Feedback struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// State is an immutable snapshot of everything the UI renders. Version
// increases by one with every published transition.
type State struct {
	Version     uint64               `json:"version"`
	Phase       Phase                `json:"phase"`
	Form        form.Form            `json:"form"`
	Validation  form.Result          `json:"validation"`
	WaitingText string               `json:"waitingText,omitempty"`
	Session     *payment.Session     `json:"session,omitempty"`
	Transaction *payment.Transaction `json:"transaction,omitempty"`
	Error       *Feedback            `json:"error,omitempty"`
}

func (s State) clone() State {
	if s.Session != nil {
		sess := *s.Session
		s.Session = &sess
	}
	if s.Transaction != nil {
		txn := *s.Transaction
		s.Transaction = &txn
	}
	if s.Error != nil {
		fb := *s.Error
		s.Error = &fb
	}
	return s
}
