// Package poller resolves a submitted STK push session by querying its
// status at a fixed interval until a terminal outcome or the attempt budget
// is reached.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/berniyo/mpesa-lambda/internal/gateway"
	"github.com/berniyo/mpesa-lambda/internal/metrics"
	"github.com/berniyo/mpesa-lambda/internal/payment"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultMaxAttempts = 30

	msgPending   = "Waiting for payment confirmation"
	msgCancelled = "Payment cancelled by user"
	msgFailed    = "Payment failed"
	msgTimedOut  = "Payment confirmation timed out"
)

// StatusQuerier is the subset of the gateway client used by the poller.
type StatusQuerier interface {
	PaymentStatus(ctx context.Context, sessionID string) (*gateway.StatusResponse, error)
}

// Handler receives poll events in issuance order, from the task goroutine.
type Handler func(payment.PollEvent)

// Poller starts polling tasks. It is safe for concurrent use.
type Poller struct {
	client      StatusQuerier
	interval    time.Duration
	maxAttempts int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option customizes the poller.
type Option func(*Poller)

// WithInterval adjusts the delay between status queries.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxAttempts bounds the number of status queries per session.
func WithMaxAttempts(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithLogger lets callers supply a custom logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records query and outcome counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// New builds a Poller with the default 10s interval and 30 attempts.
func New(client StatusQuerier, opts ...Option) *Poller {
	p := &Poller{
		client:      client,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("poller")
	return p
}

// MaxAttempts returns the configured attempt budget.
func (p *Poller) MaxAttempts() int {
	return p.maxAttempts
}

// Start begins polling sessionID in a new goroutine. The first query is
// issued one interval after Start. h may be nil.
func (p *Poller) Start(ctx context.Context, sessionID string, h Handler) *Task {
	runCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		sessionID: sessionID,
		handler:   h,
		cancelRun: cancel,
		done:      make(chan struct{}),
	}

	go p.run(runCtx, t)
	return t
}

func (p *Poller) run(ctx context.Context, t *Task) {
	defer close(t.done)
	defer t.cancelRun()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log := p.logger.With(zap.String("session_id", t.sessionID))
	log.Debug("polling started",
		zap.Duration("interval", p.interval),
		zap.Int("max_attempts", p.maxAttempts))

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			t.cancelled.Store(true)
			log.Debug("polling stopped", zap.Int("attempts", attempt-1))
			return
		case <-ticker.C:
		}
		if t.cancelled.Load() {
			return
		}

		resp, err := p.client.PaymentStatus(ctx, t.sessionID)
		t.attempts.Store(int32(attempt))
		if t.cancelled.Load() || ctx.Err() != nil {
			t.cancelled.Store(true)
			return
		}

		if err != nil {
			p.metrics.RecordPollQuery("error")
			log.Warn("payment status query failed", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			p.metrics.RecordPollQuery("ok")
			if ev, ok := classify(resp, attempt); ok {
				p.finish(log, t, ev)
				return
			}
		}

		if attempt == p.maxAttempts {
			p.finish(log, t, payment.PollEvent{Kind: payment.EventTimedOut, Attempt: attempt, Message: msgTimedOut})
			return
		}

		t.emit(payment.PollEvent{Kind: payment.EventPending, Attempt: attempt, Message: msgPending})
	}
}

func (p *Poller) finish(log *zap.Logger, t *Task, ev payment.PollEvent) {
	if !t.emit(ev) {
		return
	}
	p.metrics.RecordOutcome(string(ev.Status()), ev.Attempt)
	log.Info("payment resolved",
		zap.String("outcome", string(ev.Kind)),
		zap.Int("attempts", ev.Attempt))
}

// classify maps a status response to a terminal event. Pending, unknown and
// unsuccessful lookups are non-resolving.
func classify(resp *gateway.StatusResponse, attempt int) (payment.PollEvent, bool) {
	if resp == nil || !resp.Success {
		return payment.PollEvent{}, false
	}

	switch resp.Status {
	case gateway.StatusSuccess:
		return payment.PollEvent{Kind: payment.EventSuccess, Attempt: attempt, Transaction: resp.Data}, true
	case gateway.StatusCancelled:
		return payment.PollEvent{Kind: payment.EventCancelled, Attempt: attempt, Transaction: resp.Data, Message: msgCancelled}, true
	case gateway.StatusFailed:
		msg := resp.Message
		if resp.Data != nil && resp.Data.ErrorMessage != "" {
			msg = resp.Data.ErrorMessage
		}
		if msg == "" {
			msg = msgFailed
		}
		return payment.PollEvent{Kind: payment.EventFailed, Attempt: attempt, Transaction: resp.Data, Message: msg}, true
	default:
		return payment.PollEvent{}, false
	}
}

// Task is the handle of one polling loop.
type Task struct {
	sessionID string
	handler   Handler
	cancelRun context.CancelFunc
	done      chan struct{}

	cancelled atomic.Bool
	attempts  atomic.Int32

	emitMu   sync.Mutex
	mu       sync.Mutex
	result   payment.PollEvent
	resolved bool
}

// SessionID returns the polled session.
func (t *Task) SessionID() string {
	return t.sessionID
}

// Cancel stops polling and abandons any in-flight query. Events not yet
// handed to the handler are discarded; a delivery already in progress is
// not interrupted. Cancel never blocks, so handlers may call it. Cancelling
// a finished task is a no-op.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	t.cancelRun()
}

// Done is closed when the polling goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Attempts returns the number of status queries issued so far.
func (t *Task) Attempts() int {
	return int(t.attempts.Load())
}

// Result returns the terminal event, if one was emitted.
func (t *Task) Result() (payment.PollEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.resolved
}

// emit delivers ev unless the task was cancelled or already resolved.
func (t *Task) emit(ev payment.PollEvent) bool {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	if t.cancelled.Load() {
		return false
	}
	if ev.Terminal() {
		t.mu.Lock()
		if t.resolved {
			t.mu.Unlock()
			return false
		}
		t.result = ev
		t.resolved = true
		t.mu.Unlock()
	}

	if t.handler != nil {
		t.handler(ev)
	}
	return true
}
