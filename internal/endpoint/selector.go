package endpoint

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperwatch/hyperwatch/internal/rpc"
)

// ErrNoHealthyEndpoint is returned when no candidate reports a positive height.
var ErrNoHealthyEndpoint = errors.New("no endpoint reported a positive height")

// Endpoint is a candidate node with its last-probed health.
type Endpoint struct {
	URL     string
	Height  uint64
	Latency time.Duration
}

// Selector probes candidate endpoints and picks the best one.
type Selector struct {
	urls    []string
	dial    rpc.Dialer
	timeout time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	clients map[string]rpc.Client
}

// NewSelector builds a selector over the candidate URLs.
func NewSelector(urls []string, dial rpc.Dialer, timeout time.Duration, log *slog.Logger) *Selector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Selector{
		urls:    urls,
		dial:    dial,
		timeout: timeout,
		log:     log,
		clients: map[string]rpc.Client{},
	}
}

// Probe measures height and latency of every candidate concurrently.
// A failed or zero-result probe records height 0 and latency 0.
func (s *Selector) Probe(ctx context.Context) []Endpoint {
	results := make([]Endpoint, len(s.urls))
	var wg sync.WaitGroup
	for i, url := range s.urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			results[i] = s.probeOne(ctx, url)
		}(i, url)
	}
	wg.Wait()
	return results
}

func (s *Selector) probeOne(ctx context.Context, url string) Endpoint {
	ep := Endpoint{URL: url}

	client, err := s.client(url)
	if err != nil {
		return ep
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	height, err := client.BlockNumber(callCtx)
	if err != nil || height == 0 {
		return ep
	}
	ep.Height = height
	ep.Latency = time.Since(start)
	return ep
}

// Select probes all candidates and returns the endpoint with the strictly
// greatest height, breaking ties by lowest latency. Callers must retain
// their previous endpoint when ErrNoHealthyEndpoint is returned.
func (s *Selector) Select(ctx context.Context) (Endpoint, rpc.Client, error) {
	probes := s.Probe(ctx)

	best := Endpoint{}
	for _, ep := range probes {
		if ep.Height == 0 {
			continue
		}
		if ep.Height > best.Height || (ep.Height == best.Height && ep.Latency < best.Latency) {
			best = ep
		}
	}
	if best.Height == 0 {
		return Endpoint{}, nil, ErrNoHealthyEndpoint
	}

	client, err := s.client(best.URL)
	if err != nil {
		return Endpoint{}, nil, err
	}

	s.log.Info("selected endpoint",
		"url", best.URL,
		"height", best.Height,
		"latency", best.Latency)
	return best, client, nil
}

func (s *Selector) client(url string) (rpc.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[url]; ok {
		return c, nil
	}
	c, err := s.dial(url)
	if err != nil {
		return nil, err
	}
	s.clients[url] = c
	return c, nil
}
