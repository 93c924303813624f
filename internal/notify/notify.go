// Package notify delivers SMS and WhatsApp messages through the provider
// selected in configuration.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// ErrDisabled is returned by the Disabled sender.
var ErrDisabled = errors.New("notifications are disabled")

// Provider names a message delivery backend.
type Provider string

const (
	ProviderDisabled       Provider = "disabled"
	ProviderAfricasTalking Provider = "africastalking"
	ProviderTwilio         Provider = "twilio"
	ProviderWhatsApp       Provider = "whatsapp"
)

// Valid reports whether p is a known provider. The empty value means
// disabled.
func (p Provider) Valid() bool {
	switch p {
	case "", ProviderDisabled, ProviderAfricasTalking, ProviderTwilio, ProviderWhatsApp:
		return true
	default:
		return false
	}
}

// Sender sends one text message to an E.164 number.
type Sender interface {
	Name() Provider
	Send(ctx context.Context, to, message string) error
}

// APIError surfaces non-successful provider responses.
type APIError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}

// Config selects and configures the provider.
type Config struct {
	Provider       Provider
	AfricasTalking AfricasTalkingConfig
	Twilio         TwilioConfig
	WhatsApp       WhatsAppConfig
}

// New returns the Sender for cfg.Provider. A nil client gets a default
// with a 15s timeout.
func New(cfg Config, client *http.Client) (Sender, error) {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	switch cfg.Provider {
	case "", ProviderDisabled:
		return Disabled{}, nil
	case ProviderAfricasTalking:
		return NewAfricasTalking(cfg.AfricasTalking, client)
	case ProviderTwilio:
		return NewTwilio(cfg.Twilio, client)
	case ProviderWhatsApp:
		return NewWhatsApp(cfg.WhatsApp, client)
	default:
		return nil, fmt.Errorf("unknown notification provider %q", cfg.Provider)
	}
}

// Disabled drops every message.
type Disabled struct{}

func (Disabled) Name() Provider { return ProviderDisabled }

func (Disabled) Send(context.Context, string, string) error {
	return ErrDisabled
}

func do(client *http.Client, provider Provider, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send %s request: %w", provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", provider, err)
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func required(provider Provider, fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("%s: missing %s", provider, strings.Join(missing, ", "))
}

