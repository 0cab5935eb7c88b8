// Package notify delivers security alerts to the human-facing alerting
// collaborator over a webhook, decoupled from the event path by a
// bounded queue and guarded by a circuit breaker.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"bastion/core"
	"bastion/util/goroutine"

	"go.uber.org/zap"
)

// Config holds webhook delivery configuration.
type Config struct {
	Enabled     bool              `mapstructure:"enabled"`
	WebhookURL  string            `mapstructure:"webhook_url"`
	Method      string            `mapstructure:"method"`
	Headers     map[string]string `mapstructure:"headers"`
	MinSeverity string            `mapstructure:"min_severity"`
	QueueSize   int               `mapstructure:"queue_size"`
	Timeout     time.Duration     `mapstructure:"timeout"`
}

// Validate checks notifier configuration at startup.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	u, err := url.Parse(c.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: notify webhook_url must be an http(s) URL", core.ErrConfigurationInvalid)
	}
	if c.MinSeverity != "" && core.SeverityRank(c.MinSeverity) < 0 {
		return fmt.Errorf("%w: notify min_severity %q is unknown", core.ErrConfigurationInvalid, c.MinSeverity)
	}
	return nil
}

// Notifier consumes alerts from its queue and posts them to the
// configured webhook. Delivery failures are logged and absorbed; the
// breaker stops hammering a dead endpoint.
type Notifier struct {
	cfg     Config
	client  *http.Client
	queue   chan *core.SecurityAlert
	breaker *core.Breaker
	logger  *zap.SugaredLogger
	wg      sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewNotifier creates a notifier.
func NewNotifier(cfg Config, logger *zap.SugaredLogger) (*Notifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	breaker, err := core.NewBreaker(core.DefaultBreakerConfig())
	if err != nil {
		return nil, err
	}
	return &Notifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		queue:   make(chan *core.SecurityAlert, cfg.QueueSize),
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Start launches the delivery goroutine.
func (n *Notifier) Start() {
	n.wg.Add(1)
	go n.deliverLoop()
}

// Publish enqueues an alert for delivery without blocking. Alerts below
// the severity floor, or arriving while the queue is full, are dropped.
func (n *Notifier) Publish(alert *core.SecurityAlert) {
	if alert == nil || !n.cfg.Enabled {
		return
	}
	if n.cfg.MinSeverity != "" && core.SeverityRank(alert.Severity) < core.SeverityRank(n.cfg.MinSeverity) {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	select {
	case n.queue <- alert:
	default:
		n.logger.Warnw("alert notification queue full, dropping alert",
			"alert_id", alert.AlertID, "threat_type", alert.ThreatType)
	}
}

// Stop drains the queue and waits for the delivery goroutine.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
}

func (n *Notifier) deliverLoop() {
	defer n.wg.Done()
	defer goroutine.Recover("alert-notifier", n.logger)

	for alert := range n.queue {
		n.deliver(alert)
	}
}

func (n *Notifier) deliver(alert *core.SecurityAlert) {
	if err := n.breaker.Allow(); err != nil {
		n.logger.Warnw("alert delivery suppressed by circuit breaker",
			"alert_id", alert.AlertID, "error", err)
		return
	}

	body, err := json.Marshal(alert)
	if err != nil {
		n.logger.Errorw("failed to encode alert", "alert_id", alert.AlertID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, n.cfg.Method, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Errorw("failed to build webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.breaker.RecordFailure()
		n.logger.Warnw("alert webhook delivery failed",
			"alert_id", alert.AlertID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		n.breaker.RecordSuccess()
		n.logger.Debugw("alert delivered", "alert_id", alert.AlertID, "status", resp.StatusCode)
		return
	}
	n.breaker.RecordFailure()
	n.logger.Warnw("alert webhook returned non-success status",
		"alert_id", alert.AlertID, "status", resp.StatusCode)
}
