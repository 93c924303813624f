// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/berniyo/mpesa-lambda/internal/gateway"
	"github.com/berniyo/mpesa-lambda/internal/notify"
)

// Config holds service configuration.
type Config struct {
	Gateway  GatewayConfig
	Poll     PollConfig
	Phone    PhoneConfig
	Amount   AmountConfig
	Notify   NotifyConfig
	Callback CallbackConfig
	NATS     NATSConfig
	Log      LogConfig
	Server   ServerConfig
	Metrics  MetricsConfig
}

// GatewayConfig configures the STK push gateway client.
type GatewayConfig struct {
	RemoteURL       string        `envconfig:"REMOTE_URL"`
	PageURL         string        `envconfig:"PAGE_URL"`
	Token           string        `envconfig:"TOKEN"`
	Timeout         time.Duration `envconfig:"TIMEOUT" default:"30s"`
	BreakerFailures uint32        `envconfig:"BREAKER_FAILURES" default:"5"`
	BreakerOpen     time.Duration `envconfig:"BREAKER_OPEN" default:"30s"`
}

// PollConfig configures status polling.
type PollConfig struct {
	Interval     time.Duration `envconfig:"INTERVAL" default:"10s"`
	MaxAttempts  int           `envconfig:"MAX_ATTEMPTS" default:"30"`
	DisplayDelay time.Duration `envconfig:"DISPLAY_DELAY" default:"2s"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"6m"`
}

// PhoneConfig configures phone normalization.
type PhoneConfig struct {
	CountryCode string   `envconfig:"COUNTRY_CODE" default:"254"`
	Prefixes    []string `envconfig:"PREFIXES" default:"7,1"`
}

// AmountConfig configures amount validation.
type AmountConfig struct {
	Min decimal.Decimal `envconfig:"MIN" default:"1"`
}

// NotifyConfig selects the notification provider.
type NotifyConfig struct {
	Provider       string `envconfig:"PROVIDER" default:"disabled"`
	AfricasTalking struct {
		Username string `envconfig:"USERNAME"`
		APIKey   string `envconfig:"API_KEY"`
		SenderID string `envconfig:"SENDER_ID"`
	} `envconfig:"AFRICASTALKING"`
	Twilio struct {
		AccountSID string `envconfig:"ACCOUNT_SID"`
		AuthToken  string `envconfig:"AUTH_TOKEN"`
		From       string `envconfig:"FROM"`
	} `envconfig:"TWILIO"`
	WhatsApp struct {
		PhoneNumberID string `envconfig:"PHONE_NUMBER_ID"`
		AccessToken   string `envconfig:"ACCESS_TOKEN"`
		APIVersion    string `envconfig:"API_VERSION"`
	} `envconfig:"WHATSAPP"`
}

// CallbackConfig configures the HTTPS outcome callback.
type CallbackConfig struct {
	URL    string `envconfig:"URL"`
	Secret string `envconfig:"SECRET"`
}

// NATSConfig configures the outcome publisher. An empty URL disables it.
type NATSConfig struct {
	URL           string        `envconfig:"URL"`
	Name          string        `envconfig:"CLIENT_NAME" default:"mpesa-stk"`
	Subject       string        `envconfig:"SUBJECT" default:"payments.stk"`
	Stream        string        `envconfig:"STREAM" default:"PAYMENTS"`
	MaxReconnects int           `envconfig:"MAX_RECONNECTS" default:"10"`
	ReconnectWait time.Duration `envconfig:"RECONNECT_WAIT" default:"2s"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

// MinClientIdle is the shortest accepted SERVER_CLIENT_IDLE. Idle
// controllers are swept every half of it.
const MinClientIdle = 2 * time.Second

// ServerConfig configures the wallet HTTP API.
type ServerConfig struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	ClientIdle      time.Duration `envconfig:"CLIENT_IDLE" default:"30m"`
}

// MetricsConfig configures prometheus instruments.
type MetricsConfig struct {
	Namespace string `envconfig:"NAMESPACE" default:"stk"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	var errs []error
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.Poll.MaxAttempts <= 0 {
		errs = append(errs, errors.New("POLL_MAX_ATTEMPTS must be positive"))
	}
	if c.Poll.DisplayDelay < 0 {
		errs = append(errs, errors.New("POLL_DISPLAY_DELAY must not be negative"))
	}
	if !c.Amount.Min.IsPositive() {
		errs = append(errs, errors.New("AMOUNT_MIN must be positive"))
	}
	if !notify.Provider(c.Notify.Provider).Valid() {
		errs = append(errs, fmt.Errorf("NOTIFY_PROVIDER %q is not supported", c.Notify.Provider))
	}
	if c.Server.ClientIdle < MinClientIdle {
		errs = append(errs, fmt.Errorf("SERVER_CLIENT_IDLE must be at least %s", MinClientIdle))
	}
	if c.GatewayBaseURL() == "" {
		errs = append(errs, errors.New("GATEWAY_REMOTE_URL is required"))
	}
	return errors.Join(errs...)
}

// GatewayBaseURL resolves the gateway root once for the configured page
// origin.
func (c *Config) GatewayBaseURL() string {
	return gateway.ResolveBaseURL(c.Gateway.PageURL, c.Gateway.RemoteURL)
}

// NotifierConfig maps the provider settings onto notify.Config.
func (c *Config) NotifierConfig() notify.Config {
	n := c.Notify
	return notify.Config{
		Provider: notify.Provider(n.Provider),
		AfricasTalking: notify.AfricasTalkingConfig{
			Username: n.AfricasTalking.Username,
			APIKey:   n.AfricasTalking.APIKey,
			SenderID: n.AfricasTalking.SenderID,
		},
		Twilio: notify.TwilioConfig{
			AccountSID: n.Twilio.AccountSID,
			AuthToken:  n.Twilio.AuthToken,
			From:       n.Twilio.From,
		},
		WhatsApp: notify.WhatsAppConfig{
			PhoneNumberID: n.WhatsApp.PhoneNumberID,
			AccessToken:   n.WhatsApp.AccessToken,
			APIVersion:    n.WhatsApp.APIVersion,
		},
	}
}
