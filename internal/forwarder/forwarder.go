// Package forwarder delivers relay envelopes to the configured webhook.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"discordrelay/internal/eventbus"
	"discordrelay/internal/metrics"
	"discordrelay/internal/relay"
	logx "discordrelay/pkg/logx"
)

// EventDelivery is published on the bus once per finished delivery attempt.
const EventDelivery = "relay.delivery"

// HeaderDeliveryID carries the per-attempt id so receivers can correlate logs.
const HeaderDeliveryID = "X-Relay-Delivery-Id"

// maxDrain bounds how much of a response body is read before closing it.
const maxDrain = 64 << 10

type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Settings is the hot-swappable part of the forwarder.
type Settings struct {
	URL       string
	Timeout   time.Duration // zero means no per-request deadline
	UserAgent string
}

// Result describes one delivery attempt. It is published on the bus as-is.
type Result struct {
	DeliveryID string         `json:"delivery_id"`
	Envelope   relay.Envelope `json:"envelope"`
	Status     Status         `json:"status"`
	HTTPStatus int            `json:"http_status,omitempty"`
	Error      string         `json:"error,omitempty"`
	At         time.Time      `json:"at"`
	Took       time.Duration  `json:"took"`
}

type Forwarder struct {
	client *http.Client
	log    logx.Logger
	bus    eventbus.Bus

	settings atomic.Pointer[Settings]
}

// New builds a forwarder. client and bus may be nil.
func New(s Settings, client *http.Client, log logx.Logger, bus eventbus.Bus) *Forwarder {
	if client == nil {
		client = &http.Client{}
	}
	f := &Forwarder{client: client, log: log.With(logx.String("comp", "forwarder")), bus: bus}
	f.Apply(s)
	return f
}

// Apply swaps the webhook settings. Attempts already running keep the old ones.
func (f *Forwarder) Apply(s Settings) {
	s.URL = strings.TrimSpace(s.URL)
	if s.UserAgent == "" {
		s.UserAgent = "discord-relay"
	}
	f.settings.Store(&s)
}

func (f *Forwarder) current() Settings {
	if p := f.settings.Load(); p != nil {
		return *p
	}
	return Settings{}
}

// Deliver satisfies relay.Deliverer; the outcome is reported through logs,
// metrics and the bus.
func (f *Forwarder) Deliver(ctx context.Context, env relay.Envelope) {
	_ = f.Forward(ctx, env)
}

// Forward POSTs env as JSON and reports the outcome. It never returns an
// error; failures are part of the Result.
func (f *Forwarder) Forward(ctx context.Context, env relay.Envelope) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	s := f.current()
	res := Result{
		DeliveryID: uuid.NewString(),
		Envelope:   env,
		At:         time.Now(),
	}
	log := f.log.With(
		logx.String("delivery_id", res.DeliveryID),
		logx.String("type", string(env.Type)),
		logx.String("channel_id", env.ChannelID),
	)

	if s.URL == "" {
		res.Status = StatusSkipped
		log.Warn("webhook url is not configured; event not forwarded")
		f.finish(res)
		return res
	}

	body, err := json.Marshal(env)
	if err != nil {
		return f.fail(log, res, fmt.Errorf("encode envelope: %w", err))
	}

	reqCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return f.fail(log, res, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set(HeaderDeliveryID, res.DeliveryID)

	metrics.InFlight.Inc()
	start := time.Now()
	resp, err := f.client.Do(req)
	res.Took = time.Since(start)
	metrics.InFlight.Dec()
	metrics.DeliveryDuration.Observe(res.Took.Seconds())
	if err != nil {
		return f.fail(log, res, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	_ = resp.Body.Close()

	res.HTTPStatus = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return f.fail(log, res, fmt.Errorf("webhook responded %s", resp.Status))
	}

	res.Status = StatusSent
	log.Info("event forwarded to webhook",
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", res.Took),
	)
	f.finish(res)
	return res
}

func (f *Forwarder) fail(log logx.Logger, res Result, err error) Result {
	res.Status = StatusFailed
	res.Error = err.Error()
	fields := []logx.Field{logx.Err(err), logx.Duration("took", res.Took)}
	if res.HTTPStatus != 0 {
		fields = append(fields, logx.Int("status", res.HTTPStatus))
	}
	log.Error("webhook delivery failed", fields...)
	f.finish(res)
	return res
}

func (f *Forwarder) finish(res Result) {
	metrics.Deliveries.WithLabelValues(string(res.Status)).Inc()
	if f.bus != nil {
		f.bus.Publish(eventbus.Event{Type: EventDelivery, Time: res.At, Data: res})
	}
}
