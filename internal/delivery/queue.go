package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hyperwatch/hyperwatch/internal/metrics"
)

// Payload is the JSON object posted to the delivery sink for one
// qualifying transfer.
type Payload struct {
	Direction string  `json:"direction"`
	Symbol    string  `json:"symbol"`
	Amount    float64 `json:"amount"`
	TxHash    string  `json:"txHash"`
	Block     uint64  `json:"block"`
	Timestamp int64   `json:"timestamp"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Token     string  `json:"token"`
}

// Queue is an unbounded FIFO of payloads with a single background
// consumer. Any HTTP response from the sink, 2xx or not, consumes the
// payload; transport-level failures requeue it at the head and retry
// indefinitely, so an unreachable sink blocks later payloads.
type Queue struct {
	mu    sync.Mutex
	items []Payload

	url       string
	client    *http.Client
	log       *slog.Logger
	mtr       *metrics.Metrics
	retryWait time.Duration
	idleWait  time.Duration
}

// Option adjusts queue behavior.
type Option func(*Queue)

// WithHTTPClient overrides the HTTP client used for sink posts.
func WithHTTPClient(c *http.Client) Option {
	return func(q *Queue) { q.client = c }
}

// WithWaits overrides the post-failure and idle sleeps.
func WithWaits(retry, idle time.Duration) Option {
	return func(q *Queue) {
		q.retryWait = retry
		q.idleWait = idle
	}
}

// NewQueue builds a delivery queue posting to the given sink URL.
func NewQueue(url string, log *slog.Logger, mtr *metrics.Metrics, opts ...Option) *Queue {
	q := &Queue{
		url:       url,
		client:    &http.Client{Timeout: 5 * time.Second},
		log:       log,
		mtr:       mtr,
		retryWait: 2 * time.Second,
		idleWait:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a payload to the tail.
func (q *Queue) Enqueue(p Payload) {
	q.mu.Lock()
	q.items = append(q.items, p)
	pending := len(q.items)
	q.mu.Unlock()
	q.log.Debug("queued for delivery", "tx", p.TxHash, "pending", pending)
}

// Len returns the number of pending payloads.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run consumes the queue until ctx is cancelled. Queued and in-flight
// payloads are discarded on shutdown; nothing is drained.
func (q *Queue) Run(ctx context.Context) {
	q.log.Info("delivery worker started", "url", q.url)
	for {
		if ctx.Err() != nil {
			return
		}

		p, ok := q.pop()
		if !ok {
			if !sleepCtx(ctx, q.idleWait) {
				return
			}
			continue
		}

		if err := q.send(ctx, p); err != nil {
			q.log.Warn("delivery failed, requeueing", "tx", p.TxHash, "error", err)
			q.mtr.DeliveryFailures()
			q.requeueFront(p)
			if !sleepCtx(ctx, q.retryWait) {
				return
			}
		}
	}
}

func (q *Queue) pop() (Payload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Payload{}, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

func (q *Queue) requeueFront(p Payload) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]Payload{p}, q.items...)
}

// send posts one payload. It returns an error only for transport-level
// failures; any HTTP status is treated as a final outcome.
func (q *Queue) send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		// Marshal cannot fail for this payload shape; drop rather than wedge the queue.
		q.log.Error("marshal payload", "error", err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("post sink: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		q.log.Info("delivered", "tx", p.TxHash, "status", resp.StatusCode)
		q.mtr.DeliveriesSent()
	} else {
		q.log.Warn("sink rejected payload", "tx", p.TxHash, "status", resp.StatusCode)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
