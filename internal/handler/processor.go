// Package handler runs the STK push flow headlessly for the Lambda entry
// point: validate, submit, poll to a terminal outcome, then report it.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/berniyo/mpesa-lambda/internal/form"
	"github.com/berniyo/mpesa-lambda/internal/notify"
	"github.com/berniyo/mpesa-lambda/internal/payment"
	"github.com/berniyo/mpesa-lambda/internal/phone"
	"github.com/berniyo/mpesa-lambda/internal/poller"
)

const defaultTimeout = 6 * time.Minute

// PaymentClient defines the subset of the gateway client used by the processor.
type PaymentClient interface {
	Submit(ctx context.Context, req payment.Request) (string, error)
}

// PollStarter starts status polling for a submitted session.
type PollStarter interface {
	Start(ctx context.Context, sessionID string, h poller.Handler) *poller.Task
}

// Notifier texts receipts for confirmed payments.
type Notifier interface {
	SendPaymentReceipt(ctx context.Context, phone string, txn payment.Transaction) notify.Result
}

// Amount accepts a JSON number or string and keeps its literal text.
type Amount string

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or string: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

// PaymentEvent represents the payload sent to the Lambda function.
type PaymentEvent struct {
	Amount      Amount         `json:"amount"`
	PhoneNumber string         `json:"phoneNumber,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (e PaymentEvent) number() string {
	if strings.TrimSpace(e.PhoneNumber) != "" {
		return e.PhoneNumber
	}
	return e.Phone
}

// PaymentResponse is emitted after processing completes.
type PaymentResponse struct {
	SessionID   string               `json:"sessionId"`
	Status      payment.Status       `json:"status"`
	Transaction *payment.Transaction `json:"transaction,omitempty"`
	Message     string               `json:"message,omitempty"`
	Attempts    int                  `json:"attempts"`
	Request     PaymentEvent         `json:"request"`
}

// CallbackSender delivers payment outcomes to downstream systems.
type CallbackSender interface {
	Send(ctx context.Context, payload PaymentResponse) error
}

// Callbacks fans an outcome out to several senders.
type Callbacks []CallbackSender

// Send delivers to every sender and joins their errors.
func (c Callbacks) Send(ctx context.Context, payload PaymentResponse) error {
	var errs []error
	for _, s := range c {
		if err := s.Send(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Processor coordinates submission and status polling.
type Processor struct {
	client    PaymentClient
	poller    PollStarter
	validator *form.Validator
	timeout   time.Duration
	logger    *zap.Logger
	callback  CallbackSender
	notifier  Notifier
}

// Option customizes the processor.
type Option func(*Processor)

// WithTimeout bounds the whole polling phase, on top of the poller's
// attempt budget.
func WithTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithValidator replaces the default form validator.
func WithValidator(v *form.Validator) Option {
	return func(p *Processor) {
		if v != nil {
			p.validator = v
		}
	}
}

// WithLogger lets callers supply a custom logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithCallbackSender wires a callback destination invoked after processing concludes.
func WithCallbackSender(sender CallbackSender) Option {
	return func(p *Processor) {
		p.callback = sender
	}
}

// WithNotifier texts a receipt to the payer when a payment succeeds.
func WithNotifier(n Notifier) Option {
	return func(p *Processor) {
		p.notifier = n
	}
}

// NewProcessor builds a Processor with sane defaults.
func NewProcessor(client PaymentClient, p PollStarter, opts ...Option) *Processor {
	proc := &Processor{
		client:    client,
		poller:    p,
		validator: form.New(phone.New()),
		timeout:   defaultTimeout,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(proc)
	}
	proc.logger = proc.logger.Named("processor")

	return proc
}

// Handle implements the AWS Lambda handler entry point. Invalid events and
// rejected submissions are returned as errors; every polled session yields
// a response.
func (p *Processor) Handle(ctx context.Context, event PaymentEvent) (PaymentResponse, error) {
	req, err := p.validator.Request(form.Form{Amount: string(event.Amount), Phone: event.number()})
	if err != nil {
		return PaymentResponse{}, fmt.Errorf("invalid payment event: %w", err)
	}

	log := p.logger.With(zap.String("phone", phone.Mask(req.Phone)), zap.String("amount", req.Amount.String()))
	log.Info("initiating stk push")

	sessionID, err := p.client.Submit(ctx, req)
	if err != nil {
		return PaymentResponse{}, fmt.Errorf("stk push failed: %w", err)
	}

	log = log.With(zap.String("session_id", sessionID))
	log.Info("stk push accepted; starting polling")

	resp := p.await(ctx, sessionID)
	resp.Request = event
	log.Info("payment concluded", zap.String("status", string(resp.Status)), zap.Int("attempts", resp.Attempts))

	deliverCtx := context.WithoutCancel(ctx)
	p.emitCallback(deliverCtx, log, resp)
	if resp.Status == payment.StatusSuccess && resp.Transaction != nil {
		p.sendReceipt(deliverCtx, log, req.Phone, *resp.Transaction)
	}
	return resp, nil
}

func (p *Processor) await(ctx context.Context, sessionID string) PaymentResponse {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	task := p.poller.Start(ctx, sessionID, nil)
	<-task.Done()

	resp := PaymentResponse{SessionID: sessionID, Attempts: task.Attempts()}
	ev, ok := task.Result()
	if !ok {
		resp.Status = payment.StatusTimedOut
		resp.Message = fmt.Sprintf("payment not confirmed within %s", p.timeout)
		return resp
	}

	resp.Status = ev.Status()
	resp.Transaction = ev.Transaction
	resp.Message = ev.Message
	resp.Attempts = ev.Attempt
	return resp
}

func (p *Processor) emitCallback(ctx context.Context, log *zap.Logger, resp PaymentResponse) {
	if p.callback == nil {
		return
	}
	if err := p.callback.Send(ctx, resp); err != nil {
		log.Error("callback delivery failed", zap.Error(err))
	}
}

func (p *Processor) sendReceipt(ctx context.Context, log *zap.Logger, number string, txn payment.Transaction) {
	if p.notifier == nil {
		return
	}
	if res := p.notifier.SendPaymentReceipt(ctx, number, txn); !res.Success {
		log.Warn("receipt not sent", zap.String("provider", string(res.Provider)), zap.String("reason", res.Error))
	}
}
