// Package flow drives the wallet's STK push form: validation, submission,
// the waiting dialog and the success and error modals. The UI layer reads
// State snapshots and subscribes to transitions instead of sharing mutable
// page state with the controller.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/berniyo/mpesa-lambda/internal/form"
	"github.com/berniyo/mpesa-lambda/internal/payment"
	"github.com/berniyo/mpesa-lambda/internal/phone"
	"github.com/berniyo/mpesa-lambda/internal/poller"
)

const (
	DefaultDisplayDelay = 2 * time.Second

	msgWaiting       = "Check your phone and enter your M-Pesa PIN to complete the payment"
	msgWaitingCount  = "Waiting for payment confirmation (%d/%d)"
	msgConfirmed     = "Payment confirmed"
	msgUserCancelled = "Payment cancelled by user"
	msgSubmitFailed  = "Payment request failed"
)

// Submitter sends a validated payment request and returns the session id.
type Submitter interface {
	Submit(ctx context.Context, req payment.Request) (string, error)
}

// PollStarter starts status polling for a submitted session.
type PollStarter interface {
	Start(ctx context.Context, sessionID string, h poller.Handler) *poller.Task
	MaxAttempts() int
}

// Controller owns the active payment session and the presentation state
// derived from it. All methods are safe for concurrent use; subscribers
// observe transitions one at a time in Version order.
type Controller struct {
	validator    *form.Validator
	submitter    Submitter
	poller       PollStarter
	displayDelay time.Duration
	now          func() time.Time
	logger       *zap.Logger

	mu      sync.Mutex
	state   State
	session *payment.Session
	task    *poller.Task
	timer   *time.Timer
	gen     uint64
	closed  bool
	subs    []subscriber
	nextSub int
	pending []State

	notifyMu sync.Mutex
}

type subscriber struct {
	id int
	fn func(State)
}

// Option customizes the controller.
type Option func(*Controller)

// WithDisplayDelay sets how long the final waiting text stays visible
// before the success or error modal replaces it. Zero switches immediately.
func WithDisplayDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.displayDelay = d
		}
	}
}

// WithClock overrides the time source used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger lets callers supply a custom logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a controller in the editing phase with an empty form.
func New(v *form.Validator, s Submitter, p PollStarter, opts ...Option) *Controller {
	if v == nil {
		v = form.New(nil)
	}
	c := &Controller{
		validator:    v,
		submitter:    s,
		poller:       p,
		displayDelay: DefaultDisplayDelay,
		now:          time.Now,
		logger:       zap.NewNop(),
		state:        State{Phase: PhaseEditing},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("flow")
	return c
}

// State returns a snapshot of the current presentation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Subscribe registers fn for every future transition. The returned func
// removes the subscription.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || fn == nil {
		return func() {}
	}

	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// SetAmount records a keystroke in the amount field and revalidates it.
// Edits are ignored outside the editing phase.
func (c *Controller) SetAmount(raw string) form.State {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseEditing {
		return c.state.Validation.Amount
	}
	c.state.Form.Amount = raw
	c.state.Validation.Amount = c.validator.ValidateAmount(raw)
	c.publish()
	return c.state.Validation.Amount
}

// SetPhone records a keystroke in the phone field and revalidates it.
// Edits are ignored outside the editing phase.
func (c *Controller) SetPhone(raw string) form.State {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseEditing {
		return c.state.Validation.Phone
	}
	c.state.Form.Phone = raw
	c.state.Validation.Phone = c.validator.ValidatePhone(raw)
	c.publish()
	return c.state.Validation.Phone
}

// OnSubmit validates the current form and, if it passes, submits it and
// starts polling the returned session. Any previous session is cancelled
// and dropped first. It reports whether a session was started.
func (c *Controller) OnSubmit(ctx context.Context) bool {
	defer c.flush()

	c.mu.Lock()
	if c.closed || c.state.Phase == PhaseSubmitting {
		c.mu.Unlock()
		return false
	}
	c.stopActive()
	c.session = nil

	f := c.state.Form
	c.state.Validation = c.validator.ValidateForm(f)
	req, err := c.validator.Request(f)
	if err != nil {
		c.state.Phase = PhaseEditing
		c.state.Error = nil
		c.state.WaitingText = ""
		c.publish()
		c.mu.Unlock()
		return false
	}

	c.state.Phase = PhaseSubmitting
	c.state.Error = nil
	c.state.Transaction = nil
	c.state.WaitingText = ""
	gen := c.gen
	c.publish()
	c.mu.Unlock()
	c.flush()

	log := c.logger.With(zap.String("phone", phone.Mask(req.Phone)), zap.String("amount", req.Amount.String()))
	sessionID, err := c.submitter.Submit(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		log.Debug("discarding stale submit result")
		return false
	}

	if err != nil {
		log.Warn("payment submission failed", zap.Error(err))
		c.state.Phase = PhaseError
		c.state.Error = &Feedback{Kind: ErrorSubmit, Message: submitMessage(err)}
		c.publish()
		return false
	}

	log.Info("payment submitted", zap.String("session_id", sessionID))
	c.session = payment.NewSession(sessionID, c.now())
	c.state.Phase = PhaseWaiting
	c.state.WaitingText = msgWaiting
	c.task = c.poller.Start(context.WithoutCancel(ctx), sessionID, c.pollHandler(gen))
	c.publish()
	return true
}

// OnCancelWaiting closes the waiting dialog: polling stops immediately and
// the user-cancelled error is shown. It is a no-op outside the waiting
// phase or once the session has already resolved.
func (c *Controller) OnCancelWaiting() {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseWaiting || c.session == nil || c.session.Status.Terminal() {
		return
	}
	c.stopActive()
	c.session.Resolve(payment.StatusCancelled)
	c.state.Phase = PhaseError
	c.state.WaitingText = ""
	c.state.Error = &Feedback{Kind: ErrorCancelled, Message: msgUserCancelled}
	c.logger.Info("payment cancelled by user", zap.String("session_id", c.session.ID))
	c.publish()
}

// OnRetry resubmits the unchanged form from the error phase.
func (c *Controller) OnRetry(ctx context.Context) bool {
	c.mu.Lock()
	phase := c.state.Phase
	c.mu.Unlock()
	if phase != PhaseError {
		return false
	}
	return c.OnSubmit(ctx)
}

// OnDismissError closes the error modal and resets the form.
func (c *Controller) OnDismissError() {
	c.dismiss(PhaseError)
}

// OnDismissSuccess closes the success modal and resets the form.
func (c *Controller) OnDismissSuccess() {
	c.dismiss(PhaseSuccess)
}

// Close cancels any active polling and drops all subscribers.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopActive()
	c.closed = true
	c.subs = nil
	c.pending = nil
}

func (c *Controller) dismiss(from Phase) {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != from {
		return
	}
	c.stopActive()
	c.session = nil
	c.state = State{Version: c.state.Version, Phase: PhaseEditing}
	c.publish()
}

func (c *Controller) pollHandler(gen uint64) poller.Handler {
	return func(ev payment.PollEvent) {
		defer c.flush()
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.gen || c.session == nil {
			return
		}
		c.session.RecordAttempt(ev.Attempt)

		if !ev.Terminal() {
			c.state.WaitingText = fmt.Sprintf(msgWaitingCount, ev.Attempt, c.poller.MaxAttempts())
			c.publish()
			return
		}

		c.session.Resolve(ev.Status())
		c.task = nil
		c.state.Transaction = ev.Transaction
		c.state.WaitingText = ev.Message
		if ev.Kind == payment.EventSuccess {
			c.state.WaitingText = msgConfirmed
		}
		c.publish()

		if c.displayDelay == 0 {
			c.resolve(ev)
			return
		}
		c.timer = time.AfterFunc(c.displayDelay, func() {
			defer c.flush()
			c.mu.Lock()
			defer c.mu.Unlock()
			if gen != c.gen {
				return
			}
			c.timer = nil
			c.resolve(ev)
		})
	}
}

// resolve swaps the waiting dialog for the outcome modal. Callers hold mu.
func (c *Controller) resolve(ev payment.PollEvent) {
	c.state.WaitingText = ""
	if ev.Kind == payment.EventSuccess {
		c.state.Phase = PhaseSuccess
		c.state.Error = nil
	} else {
		c.state.Phase = PhaseError
		c.state.Error = &Feedback{Kind: errorKind(ev.Kind), Message: ev.Message}
	}
	c.publish()
}

// stopActive cancels polling and the display timer and invalidates any
// callbacks already scheduled for them. Callers hold mu.
func (c *Controller) stopActive() {
	c.gen++
	if c.task != nil {
		c.task.Cancel()
		c.task = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// publish queues a snapshot for subscribers. Callers hold mu and must call
// flush after releasing it.
func (c *Controller) publish() {
	c.state.Version++
	if c.closed || len(c.subs) == 0 {
		return
	}
	c.pending = append(c.pending, c.snapshot())
}

func (c *Controller) snapshot() State {
	s := c.state
	s.Session = c.session
	return s.clone()
}

// flush delivers queued snapshots outside mu. Only one goroutine delivers
// at a time, so subscribers see versions in order and may call back into
// the controller.
func (c *Controller) flush() {
	for {
		if !c.notifyMu.TryLock() {
			return
		}
		for {
			c.mu.Lock()
			batch := c.pending
			c.pending = nil
			subs := append([]subscriber(nil), c.subs...)
			c.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, s := range batch {
				for _, sub := range subs {
					sub.fn(s)
				}
			}
		}
		c.notifyMu.Unlock()

		c.mu.Lock()
		more := len(c.pending) > 0
		c.mu.Unlock()
		if !more {
			return
		}
	}
}

func errorKind(k payment.EventKind) ErrorKind {
	switch k {
	case payment.EventCancelled:
		return ErrorCancelled
	case payment.EventTimedOut:
		return ErrorTimedOut
	default:
		return ErrorFailed
	}
}

func submitMessage(err error) string {
	var se *payment.SubmitError
	if errors.As(err, &se) && se.Reason != "" {
		return se.Reason
	}
	return msgSubmitFailed
}
