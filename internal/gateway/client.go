// Package gateway is the HTTP client for the wallet's STK push endpoints.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/berniyo/mpesa-lambda/internal/metrics"
	"github.com/berniyo/mpesa-lambda/internal/payment"
	"github.com/berniyo/mpesa-lambda/internal/phone"
)

const (
	stkPushPath       = "/mpesa/stk-push"
	paymentStatusPath = "/mpesa/payment-status/"

	defaultTimeout          = 30 * time.Second
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
)

// APIError surfaces non-successful HTTP responses from the gateway.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway api error: status=%d body=%s", e.StatusCode, e.Body)
}

type response struct {
	status int
	body   []byte
}

// Client submits STK push requests and queries their status.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	breaker    *gobreaker.CircuitBreaker[response]
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option customizes the client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient       *http.Client
	token            string
	logger           *zap.Logger
	metrics          *metrics.Metrics
	failureThreshold uint32
	openTimeout      time.Duration
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(o *clientOptions) {
		o.token = strings.TrimSpace(token)
	}
}

// WithLogger lets callers supply a custom logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records submission counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *clientOptions) {
		o.metrics = m
	}
}

// WithBreaker tunes the circuit breaker: it opens after failures
// consecutive transport or 5xx errors and stays open for openFor.
func WithBreaker(failures uint32, openFor time.Duration) Option {
	return func(o *clientOptions) {
		if failures > 0 {
			o.failureThreshold = failures
		}
		if openFor > 0 {
			o.openTimeout = openFor
		}
	}
}

// NewClient builds a client rooted at baseURL (e.g. https://host/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway base URL is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("parse gateway base URL: %w", err)
	}

	o := &clientOptions{
		failureThreshold: defaultFailureThreshold,
		openTimeout:      defaultOpenTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	logger := o.logger.Named("gateway")
	threshold := o.failureThreshold

	breaker := gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:        "mpesa-gateway",
		MaxRequests: 1,
		Timeout:     o.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if errors.Is(err, context.Canceled) {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("gateway circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		httpClient: o.httpClient,
		baseURL:    baseURL,
		token:      o.token,
		breaker:    breaker,
		logger:     logger,
		metrics:    o.metrics,
	}, nil
}

// BaseURL returns the root every endpoint path is appended to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit posts the request to the stk-push endpoint and returns the session
// id. Every failure is a *payment.SubmitError.
func (c *Client) Submit(ctx context.Context, req payment.Request) (string, error) {
	sessionID, err := c.submit(ctx, req)
	if err != nil {
		c.metrics.RecordSubmission("rejected")
		c.logger.Warn("stk push rejected", zap.Error(err))
		return "", err
	}
	c.metrics.RecordSubmission("accepted")
	return sessionID, nil
}

func (c *Client) submit(ctx context.Context, req payment.Request) (string, error) {
	payload := StkPushRequest{
		Amount:      req.Amount,
		PhoneNumber: req.Phone,
	}

	c.logger.Info("submitting stk push",
		zap.String("amount", req.Amount.String()),
		zap.String("phone", phone.Mask(req.Phone)))

	resp, err := c.doRequest(ctx, http.MethodPost, stkPushPath, payload)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return "", &payment.SubmitError{Reason: apiMessage(apiErr), Err: err}
		}
		return "", &payment.SubmitError{Reason: "payment gateway unreachable", Err: err}
	}

	var out StkPushResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", &payment.SubmitError{Reason: "invalid gateway response", Err: err}
	}
	if !out.Success {
		reason := strings.TrimSpace(out.Message)
		if reason == "" {
			reason = "payment request was not accepted"
		}
		return "", &payment.SubmitError{Reason: reason}
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", &payment.SubmitError{Reason: "gateway response missing session id"}
	}

	c.logger.Info("stk push accepted", zap.String("session_id", out.SessionID))
	return out.SessionID, nil
}

// PaymentStatus fetches the current status of a session.
func (c *Client) PaymentStatus(ctx context.Context, sessionID string) (*StatusResponse, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	resp, err := c.doRequest(ctx, http.MethodGet, paymentStatusPath+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}

	var out StatusResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("decode payment status: %w", err)
	}
	return &out, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any) (response, error) {
	return c.breaker.Execute(func() (response, error) {
		var body io.Reader
		if payload != nil {
			buf := &bytes.Buffer{}
			if err := json.NewEncoder(buf).Encode(payload); err != nil {
				return response{}, err
			}
			body = buf
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return response{}, err
		}

		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return response{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return response{status: resp.StatusCode}, err
		}

		if resp.StatusCode >= 400 {
			return response{status: resp.StatusCode, body: data}, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		}

		return response{status: resp.StatusCode, body: data}, nil
	})
}

func apiMessage(err *APIError) string {
	var body errorBody
	if json.Unmarshal([]byte(err.Body), &body) == nil {
		if msg := strings.TrimSpace(body.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(body.Error); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("payment gateway returned status %d", err.StatusCode)
}
