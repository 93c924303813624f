package gateway

import (
	"github.com/shopspring/decimal"

	"github.com/berniyo/mpesa-lambda/internal/payment"
)

// Gateway status values reported by the payment-status endpoint.
const (
	StatusSuccess   = "success"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
	StatusPending   = "pending"
)

// StkPushRequest is the body posted to the stk-push endpoint.
type StkPushRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PhoneNumber string          `json:"phoneNumber"`
}

// StkPushResponse is the gateway's answer to an stk-push request.
type StkPushResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// StatusResponse is the payload returned by the payment-status endpoint.
type StatusResponse struct {
	Success bool                 `json:"success"`
	Status  string               `json:"status,omitempty"`
	Data    *payment.Transaction `json:"data,omitempty"`
	Message string               `json:"message,omitempty"`
}

// errorBody captures the message of a non-2xx response, when there is one.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
