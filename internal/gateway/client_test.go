package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berniyo/mpesa-lambda/internal/metrics"
	"github.com/berniyo/mpesa-lambda/internal/payment"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/api", opts...)
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient("  ")
	require.EqualError(t, err, "gateway base URL is required")

	_, err = NewClient("not a url")
	require.Error(t, err)
}

func TestSubmitSuccess(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/mpesa/stk-push", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"success":true,"sessionId":"abc123"}`))
	}, WithToken("secret"))

	id, err := c.Submit(context.Background(), payment.Request{Amount: decimal.NewFromInt(500), Phone: "712345678"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	assert.Equal(t, "500", got["amount"])
	assert.Equal(t, "712345678", got["phoneNumber"])
}

func TestSubmitFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		reason string
	}{
		{"gateway declined", http.StatusOK, `{"success":false,"message":"Insufficient float"}`, "Insufficient float"},
		{"declined without message", http.StatusOK, `{"success":false}`, "payment request was not accepted"},
		{"missing session id", http.StatusOK, `{"success":true}`, "gateway response missing session id"},
		{"malformed body", http.StatusOK, `<html>`, "invalid gateway response"},
		{"http error with message", http.StatusBadRequest, `{"message":"Invalid phone"}`, "Invalid phone"},
		{"http error with error field", http.StatusUnauthorized, `{"error":"token expired"}`, "token expired"},
		{"http error without body", http.StatusBadGateway, ``, "payment gateway returned status 502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			id, err := c.Submit(context.Background(), payment.Request{Amount: decimal.NewFromInt(1), Phone: "712345678"})
			require.Error(t, err)
			assert.Empty(t, id)

			var subErr *payment.SubmitError
			require.True(t, errors.As(err, &subErr))
			assert.Equal(t, tt.reason, subErr.Reason)
		})
	}
}

func TestSubmitTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(url)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), payment.Request{Amount: decimal.NewFromInt(1), Phone: "712345678"})
	var subErr *payment.SubmitError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, "payment gateway unreachable", subErr.Reason)
	assert.NotNil(t, subErr.Err)
}

func TestPaymentStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/mpesa/payment-status/abc123", r.URL.Path)
		w.Write([]byte(`{"success":true,"status":"success","data":{"transactionId":"T1","amount":"500","phoneNumber":"712345678"}}`))
	})

	resp, err := c.PaymentStatus(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, StatusSuccess, resp.Status)
	require.NotNil(t, resp.Data)
	assert.Equal(t, "T1", resp.Data.TransactionID)
}

func TestPaymentStatusErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/mpesa/payment-status/broken" {
			w.Write([]byte(`not-json`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.PaymentStatus(context.Background(), "")
	require.EqualError(t, err, "session id is required")

	_, err = c.PaymentStatus(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	_, err = c.PaymentStatus(context.Background(), "broken")
	require.ErrorContains(t, err, "decode payment status")
}

func TestCircuitBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		_, err := c.PaymentStatus(context.Background(), "abc")
		require.Error(t, err)
	}

	_, err := c.PaymentStatus(context.Background(), "abc")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}, WithBreaker(1, time.Minute))

	for i := 0; i < 3; i++ {
		_, err := c.PaymentStatus(context.Background(), "abc")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestResolveBaseURL(t *testing.T) {
	const remote = "https://wallet.example.com/api/"

	tests := []struct {
		page string
		want string
	}{
		{"http://localhost:3000/wallet", "http://localhost:3000/api"},
		{"http://127.0.0.1:8080", "http://127.0.0.1:8080/api"},
		{"http://192.168.1.20:5173/", "http://192.168.1.20:5173/api"},
		{"http://10.0.0.4", "http://10.0.0.4/api"},
		{"http://wallet.local", "http://wallet.local/api"},
		{"http://[::1]:8080", "http://[::1]:8080/api"},
		{"https://wallet.example.com", "https://wallet.example.com/api"},
		{"https://app.mywallet.co.ke", "https://wallet.example.com/api"},
		{"http://8.8.8.8", "https://wallet.example.com/api"},
		{"", "https://wallet.example.com/api"},
	}

	for _, tt := range tests {
		t.Run(tt.page, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveBaseURL(tt.page, remote))
		})
	}
}

func TestSubmitRecordsMetrics(t *testing.T) {
	m := metrics.New("gwtest", prometheus.NewRegistry())
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`{"success":true,"sessionId":"abc123"}`))
			return
		}
		w.Write([]byte(`{"success":false,"message":"Insufficient float"}`))
	}, WithMetrics(m))

	req := payment.Request{Amount: decimal.NewFromInt(500), Phone: "712345678"}
	_, err := c.Submit(context.Background(), req)
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), req)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("rejected")))
}
