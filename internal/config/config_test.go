package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berniyo/mpesa-lambda/internal/notify"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEWAY_REMOTE_URL", "https://payments.example.com/api/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 30, cfg.Poll.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Poll.DisplayDelay)
	assert.Equal(t, "254", cfg.Phone.CountryCode)
	assert.Equal(t, []string{"7", "1"}, cfg.Phone.Prefixes)
	assert.True(t, decimal.NewFromInt(1).Equal(cfg.Amount.Min))
	assert.Equal(t, "disabled", cfg.Notify.Provider)
	assert.Equal(t, 30*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, uint32(5), cfg.Gateway.BreakerFailures)
	assert.Equal(t, "payments.stk", cfg.NATS.Subject)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Server.ClientIdle)
	assert.Equal(t, "https://payments.example.com/api", cfg.GatewayBaseURL())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GATEWAY_REMOTE_URL", "https://payments.example.com/api")
	t.Setenv("GATEWAY_PAGE_URL", "http://192.168.1.20:3000/wallet")
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("POLL_MAX_ATTEMPTS", "12")
	t.Setenv("PHONE_PREFIXES", "7")
	t.Setenv("AMOUNT_MIN", "10.50")
	t.Setenv("NOTIFY_PROVIDER", "twilio")
	t.Setenv("NOTIFY_TWILIO_ACCOUNT_SID", "AC1")
	t.Setenv("NOTIFY_TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("NOTIFY_TWILIO_FROM", "+15005550006")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 12, cfg.Poll.MaxAttempts)
	assert.Equal(t, []string{"7"}, cfg.Phone.Prefixes)
	assert.Equal(t, "10.5", cfg.Amount.Min.String())
	assert.Equal(t, "http://192.168.1.20:3000/api", cfg.GatewayBaseURL())

	n := cfg.NotifierConfig()
	assert.Equal(t, notify.ProviderTwilio, n.Provider)
	assert.Equal(t, "AC1", n.Twilio.AccountSID)
	assert.Equal(t, "+15005550006", n.Twilio.From)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		var c Config
		c.Gateway.RemoteURL = "https://payments.example.com/api"
		c.Poll.Interval = time.Second
		c.Poll.MaxAttempts = 30
		c.Amount.Min = decimal.NewFromInt(1)
		c.Notify.Provider = "disabled"
		c.Server.ClientIdle = time.Minute
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero interval", mutate: func(c *Config) { c.Poll.Interval = 0 }, wantErr: "POLL_INTERVAL"},
		{name: "zero attempts", mutate: func(c *Config) { c.Poll.MaxAttempts = 0 }, wantErr: "POLL_MAX_ATTEMPTS"},
		{name: "negative delay", mutate: func(c *Config) { c.Poll.DisplayDelay = -time.Second }, wantErr: "POLL_DISPLAY_DELAY"},
		{name: "zero min amount", mutate: func(c *Config) { c.Amount.Min = decimal.Zero }, wantErr: "AMOUNT_MIN"},
		{name: "unknown provider", mutate: func(c *Config) { c.Notify.Provider = "fax" }, wantErr: "NOTIFY_PROVIDER"},
		{name: "zero client idle", mutate: func(c *Config) { c.Server.ClientIdle = 0 }, wantErr: "SERVER_CLIENT_IDLE"},
		{name: "nanosecond client idle", mutate: func(c *Config) { c.Server.ClientIdle = time.Nanosecond }, wantErr: "SERVER_CLIENT_IDLE"},
		{name: "minimum client idle", mutate: func(c *Config) { c.Server.ClientIdle = MinClientIdle }},
		{name: "no gateway", mutate: func(c *Config) { c.Gateway.RemoteURL = "" }, wantErr: "GATEWAY_REMOTE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("GATEWAY_REMOTE_URL", "https://payments.example.com/api")
	t.Setenv("POLL_INTERVAL", "often")

	_, err := Load()
	require.Error(t, err)
}
