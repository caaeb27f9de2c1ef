// Package webhooks pushes committed registry events to an operator endpoint.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dework/core/types"
	"dework/native/deposit"
)

const (
	HeaderEvent     = "X-Dework-Event"
	HeaderDelivery  = "X-Dework-Delivery"
	HeaderSignature = "X-Dework-Signature"

	queueDepth      = 32
	deliveryTimeout = 15 * time.Second
)

var (
	// DefaultEvents are forwarded when no explicit list is configured.
	DefaultEvents = []string{deposit.EventTypeSettled, deposit.EventTypeDisputed}

	ErrClosed = errors.New("webhook: dispatcher closed")
)

// Payload is the JSON body of one delivery.
type Payload struct {
	DeliveryID string            `json:"deliveryId"`
	Type       string            `json:"type"`
	Sequence   uint64            `json:"sequence"`
	OccurredAt time.Time         `json:"occurredAt"`
	Attributes map[string]string `json:"attributes"`
}

type retryPolicy struct {
	attempts int
	base     time.Duration
	ceiling  time.Duration
}

// wait returns the pause after the n-th failed attempt, starting at 1.
func (p retryPolicy) wait(n int) time.Duration {
	d := p.base
	for i := 1; i < n && d < p.ceiling; i++ {
		d = nextBackoff(d, p.ceiling)
	}
	return min(d, p.ceiling)
}

type job struct {
	id    string
	event string
	body  []byte
}

// Dispatcher signs and posts events from a bounded queue on a single
// worker, retrying failures with exponential backoff.
type Dispatcher struct {
	endpoint string
	secret   []byte
	client   *http.Client
	retry    retryPolicy
	logger   *slog.Logger

	jobs chan job
	stop chan struct{}
	once sync.Once
	done sync.WaitGroup
}

type Option func(*Dispatcher)

func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy sets the attempt budget and backoff bounds. Zero values
// keep the defaults.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.retry.attempts = maxAttempts
		}
		if minBackoff > 0 {
			d.retry.base = minBackoff
		}
		if maxBackoff > 0 {
			d.retry.ceiling = maxBackoff
		}
		d.retry.ceiling = max(d.retry.ceiling, d.retry.base)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher validates the target and starts the delivery worker.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return nil, errors.New("webhook: endpoint required")
	case len(secret) == 0:
		return nil, errors.New("webhook: secret required")
	}
	d := &Dispatcher{
		endpoint: endpoint,
		secret:   bytes.Clone(secret),
		client:   &http.Client{Timeout: deliveryTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		retry:    retryPolicy{attempts: 5, base: 2 * time.Second, ceiling: 30 * time.Second},
		logger:   slog.Default(),
		jobs:     make(chan job, queueDepth),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.done.Add(1)
	go d.run()
	return d, nil
}

// Close stops the worker. A delivery in backoff is abandoned.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() { close(d.stop) })
	d.done.Wait()
}

// Enqueue wraps evt in a Payload and queues it, blocking while the queue
// is full.
func (d *Dispatcher) Enqueue(evt *types.Event) error {
	if d == nil {
		return ErrClosed
	}
	if evt == nil {
		return errors.New("webhook: nil event")
	}
	id := uuid.NewString()
	body, err := json.Marshal(Payload{
		DeliveryID: id,
		Type:       evt.Type,
		Sequence:   evt.Sequence,
		OccurredAt: time.Unix(evt.Timestamp, 0).UTC(),
		Attributes: evt.Attributes,
	})
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}
	select {
	case d.jobs <- job{id: id, event: evt.Type, body: body}:
		return nil
	case <-d.stop:
		return ErrClosed
	}
}

// Forward enqueues matching events until ctx ends or events closes. An
// empty type list selects DefaultEvents.
func (d *Dispatcher) Forward(ctx context.Context, events <-chan *types.Event, eventTypes []string) error {
	if len(eventTypes) == 0 {
		eventTypes = DefaultEvents
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if !slices.Contains(eventTypes, evt.Type) {
				continue
			}
			if err := d.Enqueue(evt); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) run() {
	defer d.done.Done()
	for {
		select {
		case <-d.stop:
			return
		case j := <-d.jobs:
			d.deliver(j)
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	var err error
	for attempt := 1; ; attempt++ {
		err = d.post(j)
		instruments().recordAttempt(j.event, err)
		if err == nil {
			return
		}
		if attempt >= d.retry.attempts {
			instruments().recordAbandoned(j.event)
			d.logger.Warn("webhook delivery abandoned",
				slog.String("delivery", j.id),
				slog.String("event", j.event),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return
		}
		timer := time.NewTimer(d.retry.wait(attempt))
		select {
		case <-timer.C:
		case <-d.stop:
			timer.Stop()
			return
		}
	}
}

func (d *Dispatcher) post(j job) error {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(j.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, j.event)
	req.Header.Set(HeaderDelivery, j.id)
	req.Header.Set(HeaderSignature, Sign(d.secret, j.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook: endpoint answered %s", resp.Status)
	}
	return nil
}

// Sign returns the signature header value for body: "sha256=" followed by
// the hex HMAC-SHA256 under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// nextBackoff doubles current, capped at ceiling.
func nextBackoff(current, ceiling time.Duration) time.Duration {
	if next := current * 2; next > current && next < ceiling {
		return next
	}
	return ceiling
}
