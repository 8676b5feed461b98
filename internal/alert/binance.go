package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Ticker is one futures symbol's 24h snapshot.
type Ticker struct {
	Symbol      string
	Price       float64
	QuoteVolume float64
}

// MarketClient is the market-data surface the monitor polls.
type MarketClient interface {
	Tickers24h(ctx context.Context) ([]Ticker, error)
	QuoteVolume5m(ctx context.Context, symbol string) (float64, error)
}

// BinanceClient polls the Binance futures REST API, rotating across base
// hosts and retrying throttle/server errors with jittered backoff.
type BinanceClient struct {
	bases      []string
	client     *http.Client
	maxRetries int
	maxBackoff time.Duration
	log        *slog.Logger
}

// NewBinanceClient builds a client over the given base hosts.
func NewBinanceClient(bases []string, timeout time.Duration, log *slog.Logger) *BinanceClient {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &BinanceClient{
		bases:      bases,
		client:     &http.Client{Timeout: timeout},
		maxRetries: 5,
		maxBackoff: 15 * time.Second,
		log:        log,
	}
}

// Tickers24h fetches the 24h snapshot for all futures symbols.
func (c *BinanceClient) Tickers24h(ctx context.Context) ([]Ticker, error) {
	body, err := c.get(ctx, "/fapi/v1/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}

	out := make([]Ticker, 0, len(rows))
	for _, row := range rows {
		price, err := strconv.ParseFloat(row.LastPrice, 64)
		if err != nil {
			continue
		}
		qv, err := strconv.ParseFloat(row.QuoteVolume, 64)
		if err != nil {
			continue
		}
		out = append(out, Ticker{Symbol: row.Symbol, Price: price, QuoteVolume: qv})
	}
	return out, nil
}

// QuoteVolume5m fetches the quote volume of the most recent 5m kline.
func (c *BinanceClient) QuoteVolume5m(ctx context.Context, symbol string) (float64, error) {
	body, err := c.get(ctx, "/fapi/v1/klines", url.Values{
		"symbol":   {symbol},
		"interval": {"5m"},
		"limit":    {"1"},
	})
	if err != nil {
		return 0, err
	}

	// A kline row is a mixed-type array; quote volume is index 7.
	var klines [][]any
	if err := json.Unmarshal(body, &klines); err != nil {
		return 0, fmt.Errorf("decode klines: %w", err)
	}
	if len(klines) == 0 || len(klines[0]) <= 7 {
		return 0, fmt.Errorf("kline empty or malformed for %s", symbol)
	}
	qvStr, ok := klines[0][7].(string)
	if !ok {
		return 0, fmt.Errorf("unexpected quote volume type for %s", symbol)
	}
	qv, err := strconv.ParseFloat(qvStr, 64)
	if err != nil {
		return 0, fmt.Errorf("parse quote volume: %w", err)
	}
	return qv, nil
}

// get tries every base host in turn, retrying retryable statuses with
// exponential backoff before moving on to the next host.
func (c *BinanceClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	var lastErr error
	start := int(time.Now().UnixMilli()) % len(c.bases)
	for j := range c.bases {
		base := strings.TrimRight(c.bases[(start+j)%len(c.bases)], "/")
		body, err := c.getFrom(ctx, base+path, params)
		if err == nil {
			return body, nil
		}
		lastErr = err
		c.log.Debug("market api host failed", "base", base, "error", err)
	}
	return nil, fmt.Errorf("all market api hosts failed: %w", lastErr)
}

func (c *BinanceClient) getFrom(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		body, retryable, err := c.doOnce(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || attempt == c.maxRetries-1 {
			return nil, err
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
		jittered := time.Duration(float64(backoff) * (0.8 + 0.4*rand.Float64()))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jittered):
		}
	}
	return nil, lastErr
}

func (c *BinanceClient) doOnce(ctx context.Context, rawURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	return body, false, nil
}
