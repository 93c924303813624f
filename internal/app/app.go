// Package app wires configuration into the components shared by the
// Lambda and HTTP binaries.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/berniyo/mpesa-lambda/internal/config"
	"github.com/berniyo/mpesa-lambda/internal/events"
	"github.com/berniyo/mpesa-lambda/internal/flow"
	"github.com/berniyo/mpesa-lambda/internal/form"
	"github.com/berniyo/mpesa-lambda/internal/gateway"
	"github.com/berniyo/mpesa-lambda/internal/handler"
	"github.com/berniyo/mpesa-lambda/internal/metrics"
	"github.com/berniyo/mpesa-lambda/internal/notify"
	"github.com/berniyo/mpesa-lambda/internal/phone"
	"github.com/berniyo/mpesa-lambda/internal/poller"
)

// App holds the wired components.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Normalizer *phone.Normalizer
	Validator  *form.Validator
	Gateway    *gateway.Client
	Poller     *poller.Poller
	Dispatcher *notify.Dispatcher
	NATS       *events.Client
}

// New builds every component from cfg. NATS is connected only when
// NATS_URL is set.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(cfg.Metrics.Namespace, reg)

	normalizer := phone.New(
		phone.WithCountryCode(cfg.Phone.CountryCode),
		phone.WithPrefixes(cfg.Phone.Prefixes...),
	)
	validator := form.New(normalizer, form.WithMinAmount(cfg.Amount.Min))

	baseURL := cfg.GatewayBaseURL()
	client, err := gateway.NewClient(baseURL,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.Gateway.Timeout}),
		gateway.WithToken(cfg.Gateway.Token),
		gateway.WithBreaker(cfg.Gateway.BreakerFailures, cfg.Gateway.BreakerOpen),
		gateway.WithLogger(logger),
		gateway.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("configure gateway client: %w", err)
	}

	p := poller.New(client,
		poller.WithInterval(cfg.Poll.Interval),
		poller.WithMaxAttempts(cfg.Poll.MaxAttempts),
		poller.WithLogger(logger),
		poller.WithMetrics(m),
	)

	sender, err := notify.New(cfg.NotifierConfig(), nil)
	if err != nil {
		return nil, fmt.Errorf("configure notifications: %w", err)
	}
	dispatcher := notify.NewDispatcher(sender, notify.WithNormalizer(normalizer), notify.WithLogger(logger))

	a := &App{
		Config:     cfg,
		Logger:     logger,
		Registry:   reg,
		Metrics:    m,
		Normalizer: normalizer,
		Validator:  validator,
		Gateway:    client,
		Poller:     p,
		Dispatcher: dispatcher,
	}

	if cfg.NATS.URL != "" {
		nc, err := events.Connect(events.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := nc.EnsureStream(ctx, cfg.NATS.Stream, cfg.NATS.Subject); err != nil {
			nc.Close()
			return nil, err
		}
		a.NATS = nc
	}

	logger.Info("components configured",
		zap.String("gateway", baseURL),
		zap.String("notify_provider", string(sender.Name())),
		zap.Duration("poll_interval", cfg.Poll.Interval),
		zap.Int("poll_max_attempts", cfg.Poll.MaxAttempts),
		zap.Bool("nats", a.NATS != nil))

	return a, nil
}

// Callbacks returns the outcome destinations configured for the Lambda:
// the HTTPS endpoint and the NATS publisher, each when enabled.
func (a *App) Callbacks() (handler.Callbacks, error) {
	var out handler.Callbacks
	if a.Config.Callback.URL != "" {
		sender, err := handler.NewHTTPSCallbackSender(a.Config.Callback.URL, a.Config.Callback.Secret, nil)
		if err != nil {
			return nil, fmt.Errorf("configure callback sender: %w", err)
		}
		out = append(out, sender)
	}
	if a.NATS != nil {
		out = append(out, events.NewNATSPublisher(a.NATS.JetStream(), a.Config.NATS.Subject, a.Logger))
	}
	return out, nil
}

// Processor builds the headless Lambda processor.
func (a *App) Processor() (*handler.Processor, error) {
	callbacks, err := a.Callbacks()
	if err != nil {
		return nil, err
	}

	opts := []handler.Option{
		handler.WithValidator(a.Validator),
		handler.WithTimeout(a.Config.Poll.Timeout),
		handler.WithLogger(a.Logger),
		handler.WithNotifier(a.Dispatcher),
	}
	if len(callbacks) > 0 {
		opts = append(opts, handler.WithCallbackSender(callbacks))
	}
	return handler.NewProcessor(a.Gateway, a.Poller, opts...), nil
}

// NewController builds a flow controller for one wallet client.
func (a *App) NewController() *flow.Controller {
	return flow.New(a.Validator, a.Gateway, a.Poller,
		flow.WithDisplayDelay(a.Config.Poll.DisplayDelay),
		flow.WithLogger(a.Logger),
	)
}

// Close releases external connections.
func (a *App) Close() {
	if a.NATS != nil {
		a.NATS.Close()
	}
	_ = a.Logger.Sync()
}
