package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/berniyo/mpesa-lambda/internal/payment"
	"github.com/berniyo/mpesa-lambda/internal/phone"
)

const (
	msgResetCode = "Your wallet password reset code is %s. Do not share it with anyone."
	msgReceipt   = "Payment of KES %s received. M-Pesa ref %s."
)

// Result is the soft outcome of a delivery. Callers keep going whatever
// it says.
type Result struct {
	Success  bool     `json:"success"`
	Provider Provider `json:"provider,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Dispatcher formats wallet notifications and hands them to a Sender.
type Dispatcher struct {
	sender     Sender
	normalizer *phone.Normalizer
	logger     *zap.Logger
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger lets callers supply a custom logger.
func WithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithNormalizer overrides the phone normalizer used to build E.164
// numbers.
func WithNormalizer(n *phone.Normalizer) DispatcherOption {
	return func(d *Dispatcher) {
		if n != nil {
			d.normalizer = n
		}
	}
}

// NewDispatcher wraps sender. A nil sender behaves like Disabled.
func NewDispatcher(sender Sender, opts ...DispatcherOption) *Dispatcher {
	if sender == nil {
		sender = Disabled{}
	}
	d := &Dispatcher{
		sender:     sender,
		normalizer: phone.New(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("notify")
	return d
}

// SendPasswordResetCode texts a reset code. Delivery problems are reported
// in the Result, never as an error.
func (d *Dispatcher) SendPasswordResetCode(ctx context.Context, number, code string) Result {
	if code == "" {
		return Result{Provider: d.sender.Name(), Error: "reset code is required"}
	}
	return d.send(ctx, "password_reset", number, fmt.Sprintf(msgResetCode, code))
}

// SendPaymentReceipt texts a confirmation for a successful payment.
func (d *Dispatcher) SendPaymentReceipt(ctx context.Context, number string, txn payment.Transaction) Result {
	return d.send(ctx, "payment_receipt", number, fmt.Sprintf(msgReceipt, txn.Amount, txn.TransactionID))
}

func (d *Dispatcher) send(ctx context.Context, kind, number, message string) Result {
	res := Result{Provider: d.sender.Name()}

	canonical, err := d.normalizer.Normalize(number)
	if err != nil {
		var rej *phone.RejectionError
		if errors.As(err, &rej) {
			res.Error = rej.Message()
		} else {
			res.Error = err.Error()
		}
		return res
	}

	log := d.logger.With(
		zap.String("kind", kind),
		zap.String("provider", string(res.Provider)),
		zap.String("phone", phone.Mask(canonical)))

	if err := d.sender.Send(ctx, d.normalizer.E164(canonical), message); err != nil {
		if errors.Is(err, ErrDisabled) {
			log.Debug("notification skipped")
		} else {
			log.Warn("notification delivery failed", zap.Error(err))
		}
		res.Error = err.Error()
		return res
	}

	log.Info("notification sent")
	res.Success = true
	return res
}
