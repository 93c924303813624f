package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berniyo/mpesa-lambda/internal/gateway"
	"github.com/berniyo/mpesa-lambda/internal/payment"
)

type fakeQuerier struct {
	calls    atomic.Int32
	statusFn func(ctx context.Context, call int) (*gateway.StatusResponse, error)
}

func (f *fakeQuerier) PaymentStatus(ctx context.Context, sessionID string) (*gateway.StatusResponse, error) {
	call := int(f.calls.Add(1))
	return f.statusFn(ctx, call)
}

type recorder struct {
	mu     sync.Mutex
	events []payment.PollEvent
}

func (r *recorder) handle(ev payment.PollEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []payment.PollEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]payment.PollEvent(nil), r.events...)
}

func (r *recorder) terminal() []payment.PollEvent {
	var out []payment.PollEvent
	for _, ev := range r.snapshot() {
		if ev.Terminal() {
			out = append(out, ev)
		}
	}
	return out
}

func pending() (*gateway.StatusResponse, error) {
	return &gateway.StatusResponse{Success: true, Status: gateway.StatusPending}, nil
}

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not finish")
	}
}

func newTestPoller(q StatusQuerier, maxAttempts int) *Poller {
	return New(q, WithInterval(time.Millisecond), WithMaxAttempts(maxAttempts))
}

func TestPollerResolvesSuccessOnFirstQuery(t *testing.T) {
	q := &fakeQuerier{statusFn: func(ctx context.Context, call int) (*gateway.StatusResponse, error) {
		return &gateway.StatusResponse{
			Success: true,
			Status:  gateway.StatusSuccess,
			Data:    &payment.Transaction{TransactionID: "T1", Amount: "500", PhoneNumber: "712345678"},
		}, nil
	}}
	rec := &recorder{}

	task := newTestPoller(q, 30).Start(context.Background(), "abc123", rec.handle)
	waitDone(t, task)

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, payment.EventSuccess, events[0].Kind)
	assert.Equal(t, 1, events[0].Attempt)
	require.NotNil(t, events[0].Transaction)
	assert.Equal(t, "T1", events[0].Transaction.TransactionID)
	assert.Equal(t, 1, task.Attempts())

	res, ok := task.Result()
	require.True(t, ok)
	assert.Equal(t, payment.EventSuccess, res.Kind)
}

func TestPollerTimesOutAfterExactlyMaxAttempts(t *testing.T) {
	q := &fakeQuerier{statusFn: func(ctx context.Context, call int) (*gateway.StatusResponse, error) {
		return pending()
	}}
	rec := &recorder{}

	task := newTestPoller(q, 30).Start(context.Background(), "abc123", rec.handle)
	waitDone(t, task)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int32(30), q.calls.Load())
	assert.Equal(t, 30, task.Attempts())

	events := rec.snapshot()
	require.Len(t, events, 30)
	for i, ev := range events[:29] {
		assert.Equal(t, payment.EventPending, ev.Kind)
		assert.Equal(t, i+1, ev.Attempt)
	}

	terminal := rec.terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, payment.EventTimedOut, terminal[0].Kind)
	assert.Equal(t, 30, terminal[0].Attempt)
}

func TestPollerCountsTransportErrorsAsAttempts(t *testing.T) {
	q := &fakeQuerier{statusFn: func(ctx context.Context, call int) (*gateway.StatusResponse, error) {
		if call%2 == 0 {
			return nil, errors.New("connection reset")
		}
		return &gateway.StatusResponse{Success: false, Message: "lookup failed"}, nil
	}}
	rec := &recorder{}

	task := newTestPoller(q, 6).Start(context.Background(), "abc123", rec.handle)
	waitDone(t, task)

	assert.Equal(t, int32(6), q.calls.Load())
	terminal := rec.terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, payment.EventTimedOut, terminal[0].Kind)
}

func TestPollerTransportErrorOnFinalAttemptTimesOut(t *testing.T) {
	const maxAttempts = 4
	q := &fakeQuerier{statusFn: func(ctx context.Context, call int) (*gateway.StatusResponse, error) {
		if call == maxAttempts {
			return nil, errors.New("connection reset")
		}
		return pending()
	}}
	rec := &recorder{}

	task := newTestPoller(q, maxAttempts).Start(context.Background(), "abc123", rec.handle)
	waitDone(t, task)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int32(maxAttempts), q.calls.Load())
	assert.Len(t, rec.snapshot(), maxAttempts)

	terminal := rec.terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, payment.EventTimedOut, terminal[0].Kind)
	assert.Equal(t, maxAttempts, terminal[0].Attempt)

	res, ok := task.Result()
	require.True(t, ok)
	assert.Equal(t, payment.EventTimedOut, res.Kind)
}

func TestPollerRecoversAfterTransportError(t *testing.T) {
	q := &fakeQuerier{statusFn: func(ctx context.Context, call int) (*gateway.StatusResponse, error) {
		if call < 3 {
			return nil, errors.New("timeout")
		}
		return &gateway.StatusResponse{Success: true, Status: gateway.StatusCancelled}, nil
	}}
	rec := &recorder{}

	task := newTestPoller(q, 30).Start(context.Background(), "abc123", rec.handle)
	waitDone(t, task)

	terminal := rec.terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, payment.EventCancelled, terminal[0].Kind)
	assert.Equal(t, 3, terminal[0].Attempt)
	assert.Equal(t, int32(3), q.calls.Load())
}

func TestPollerFinalResponseBeatsTimeout(t *testing.T) {
	q := &fakeQuerier{statusFn: func(ctx context.Context, call int) (*gateway.StatusResponse, error) {
		if call == 3 {
			return &gateway.StatusResponse{Success: true, Status: gateway.StatusSuccess}, nil
		}
		return pending()
	}}
	rec := &recorder{}

	task := newTestPoller(q, 3).Start(context.Background(), "abc123", rec.handle)
	waitDone(t, task)

	terminal := rec.terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, payment.EventSuccess, terminal[0].Kind)
}

func TestPollerFailedMessages(t *testing.T) {
	tests := []struct {
		name string
		resp *gateway.StatusResponse
		want string
	}{
		{
			name: "data error message",
			resp: &gateway.StatusResponse{Success: true, Status: gateway.StatusFailed, Message: "outer",
				Data: &payment.Transaction{ErrorMessage: "Insufficient balance"}},
			want: "Insufficient balance",
		},
		{
			name: "response message",
			resp: &gateway.StatusResponse{Success: true, Status: gateway.StatusFailed, Message: "DS timeout"},
			want: "DS timeout",
		},
		{
			name: "generic fallback",
			resp: &gateway.StatusResponse{Success: true, Status: gateway.StatusFailed},
			want: "Payment failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuerier{statusFn: func(ctx context.Context, call int) (*gateway.StatusResponse, error) {
				return tt.resp, nil
			}}
			rec := &recorder{}

			task := newTestPoller(q, 30).Start(context.Background(), "abc123", rec.handle)
			waitDone(t, task)

			terminal := rec.terminal()
			require.Len(t, terminal, 1)
			assert.Equal(t, payment.EventFailed, terminal[0].Kind)
			assert.Equal(t, tt.want, terminal[0].Message)
		})
	}
}

func TestPollerCancelStopsQueriesAndEvents(t *testing.T) {
	started := make(chan struct{}, 100)
	q := &fakeQuerier{statusFn: func(ctx context.Context, call int) (*gateway.StatusResponse, error) {
		started <- struct{}{}
		return pending()
	}}
	rec := &recorder{}

	task := newTestPoller(q, 30).Start(context.Background(), "abc123", rec.handle)
	for i := 0; i < 3; i++ {
		<-started
	}
	task.Cancel()
	waitDone(t, task)

	calls := q.calls.Load()
	seen := len(rec.snapshot())
	time.Sleep(20 * time.Millisecond)

	assert.Less(t, calls, int32(30))
	assert.Equal(t, calls, q.calls.Load())
	assert.Equal(t, seen, len(rec.snapshot()))
	assert.Empty(t, rec.terminal())

	_, ok := task.Result()
	assert.False(t, ok)

	assert.NotPanics(t, task.Cancel)
}

func TestPollerCancelDiscardsInFlightResponse(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})
	q := &fakeQuerier{statusFn: func(ctx context.Context, call int) (*gateway.StatusResponse, error) {
		close(inFlight)
		<-release
		return &gateway.StatusResponse{Success: true, Status: gateway.StatusSuccess}, nil
	}}
	rec := &recorder{}

	task := newTestPoller(q, 30).Start(context.Background(), "abc123", rec.handle)
	<-inFlight
	task.Cancel()
	close(release)
	waitDone(t, task)

	assert.Empty(t, rec.snapshot())
	assert.Equal(t, int32(1), q.calls.Load())
}

func TestPollerStopsWhenContextCancelled(t *testing.T) {
	q := &fakeQuerier{statusFn: func(ctx context.Context, call int) (*gateway.StatusResponse, error) {
		return pending()
	}}
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	task := New(q, WithInterval(time.Hour)).Start(ctx, "abc123", rec.handle)
	cancel()
	waitDone(t, task)

	assert.Equal(t, int32(0), q.calls.Load())
	assert.Empty(t, rec.snapshot())
}

func TestPollerCancelAfterResolutionIsNoop(t *testing.T) {
	q := &fakeQuerier{statusFn: func(ctx context.Context, call int) (*gateway.StatusResponse, error) {
		return &gateway.StatusResponse{Success: true, Status: gateway.StatusSuccess}, nil
	}}

	task := newTestPoller(q, 30).Start(context.Background(), "abc123", nil)
	waitDone(t, task)
	task.Cancel()
	task.Cancel()

	res, ok := task.Result()
	require.True(t, ok)
	assert.Equal(t, payment.EventSuccess, res.Kind)
}

func TestPollerDefaults(t *testing.T) {
	p := New(&fakeQuerier{}, WithInterval(0), WithMaxAttempts(-1))
	assert.Equal(t, DefaultInterval, p.interval)
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts())
}
