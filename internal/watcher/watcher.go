package watcher

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperwatch/hyperwatch/internal/decode"
	"github.com/hyperwatch/hyperwatch/internal/dedup"
	"github.com/hyperwatch/hyperwatch/internal/delivery"
	"github.com/hyperwatch/hyperwatch/internal/endpoint"
	"github.com/hyperwatch/hyperwatch/internal/fetch"
	"github.com/hyperwatch/hyperwatch/internal/metrics"
	"github.com/hyperwatch/hyperwatch/internal/rpc"
	"github.com/hyperwatch/hyperwatch/internal/token"
	"github.com/hyperwatch/hyperwatch/internal/tracker"
)

// maxConsecutiveErrors is the zero/error height-query threshold that
// forces endpoint re-selection.
const maxConsecutiveErrors = 3

// Options configures a Watcher.
type Options struct {
	WatchAddress  common.Address
	PollInterval  time.Duration
	CatchupCap    uint64
	ReselectEvery time.Duration
}

// Watcher runs the poll loop: endpoint selection, range tracking, log
// fetching, decoding, dedup, symbol resolution, and enqueueing payloads
// for delivery.
type Watcher struct {
	opts     Options
	selector *endpoint.Selector
	fetcher  *fetch.Fetcher
	resolver *token.Resolver
	ring     *dedup.Ring
	queue    *delivery.Queue
	log      *slog.Logger
	mtr      *metrics.Metrics

	active    rpc.Client
	activeURL string
	tracker   *tracker.Tracker

	now    func() time.Time
	sleep  func(context.Context, time.Duration)
	jitter func() float64
}

// New wires a watcher from its collaborators.
func New(opts Options, sel *endpoint.Selector, f *fetch.Fetcher, r *token.Resolver, ring *dedup.Ring, q *delivery.Queue, log *slog.Logger, mtr *metrics.Metrics) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 300 * time.Millisecond
	}
	if opts.ReselectEvery <= 0 {
		opts.ReselectEvery = 30 * time.Second
	}
	return &Watcher{
		opts:     opts,
		selector: sel,
		fetcher:  f,
		resolver: r,
		ring:     ring,
		queue:    q,
		log:      log,
		mtr:      mtr,
		now:      time.Now,
		sleep:    sleepCtx,
		jitter:   rand.Float64,
	}
}

// Ping checks the active endpoint; used by the health server.
func (w *Watcher) Ping(ctx context.Context) error {
	if w.active == nil {
		return errors.New("no active endpoint")
	}
	_, err := w.active.BlockNumber(ctx)
	return err
}

// Run polls until ctx is cancelled. Per-tick errors are logged, never
// fatal; repeated failures escalate only to endpoint re-selection.
func (w *Watcher) Run(ctx context.Context) error {
	ep, client, err := w.selector.Select(ctx)
	if err != nil {
		return err
	}
	w.active = client
	w.activeURL = ep.URL
	w.tracker = tracker.New(ep.Height, w.opts.CatchupCap, w.log, w.mtr)

	w.log.Info("watcher started",
		"address", w.opts.WatchAddress.Hex(),
		"start_block", ep.Height)

	consecutiveErrors := 0
	lastReselect := w.now()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if w.now().Sub(lastReselect) > w.opts.ReselectEvery {
			w.reselect(ctx)
			lastReselect = w.now()
		}

		height, err := w.active.BlockNumber(ctx)
		if err != nil || height == 0 {
			if err != nil {
				w.log.Warn("height query failed", "url", w.activeURL, "error", err)
			}
			w.mtr.Errors()
			consecutiveErrors++
			if consecutiveErrors > maxConsecutiveErrors {
				w.reselect(ctx)
				consecutiveErrors = 0
			}
			w.sleep(ctx, time.Second)
			continue
		}
		consecutiveErrors = 0

		behind := w.processTick(ctx, height)
		w.sleep(ctx, w.sleepFor(behind))
	}
}

// processTick handles one observed head height and returns how many
// blocks behind the tracker was before processing.
func (w *Watcher) processTick(ctx context.Context, height uint64) uint64 {
	var behind uint64
	if height > w.tracker.Last() {
		behind = height - w.tracker.Last()
	}

	rng, ok := w.tracker.Next(height)
	if !ok {
		return 0
	}

	w.log.Info("processing blocks", "from", rng.From, "to", rng.To, "behind", behind)
	logs := w.fetcher.Fetch(ctx, w.active, rng.From, rng.To)

	matched := 0
	for _, lg := range logs {
		ev, ok := decode.Decode(lg)
		if !ok {
			continue
		}
		if !ev.Involves(w.opts.WatchAddress) {
			continue
		}
		if w.ring.Seen(ev.TxHash) {
			continue
		}
		matched++
		w.handleTransfer(ctx, ev)
	}

	if matched > 0 {
		w.log.Info("relevant transfers found", "count", matched)
	}
	w.tracker.Commit(height)
	w.mtr.BlocksProcessed(rng.To - rng.From + 1)
	return behind
}

func (w *Watcher) handleTransfer(ctx context.Context, ev decode.TransferEvent) {
	symbol := w.resolver.Resolve(ctx, w.active, ev.Token)
	direction := ev.Direction(w.opts.WatchAddress)
	amount := math.Round(ev.Amount()*1e6) / 1e6

	w.log.Info("transfer",
		"direction", direction,
		"amount", amount,
		"symbol", symbol,
		"block", ev.Block,
		"tx", ev.TxHash.Hex())
	w.mtr.TransfersMatched()

	w.queue.Enqueue(delivery.Payload{
		Direction: direction,
		Symbol:    symbol,
		Amount:    amount,
		TxHash:    ev.TxHash.Hex(),
		Block:     ev.Block,
		Timestamp: w.now().Unix(),
		From:      ev.From.Hex(),
		To:        ev.To.Hex(),
		Token:     ev.Token.Hex(),
	})
}

// reselect refreshes the active endpoint. On failure the previous
// endpoint is retained (degraded mode).
func (w *Watcher) reselect(ctx context.Context) {
	ep, client, err := w.selector.Select(ctx)
	if err != nil {
		w.log.Warn("endpoint re-selection failed, keeping current", "url", w.activeURL, "error", err)
		return
	}
	if ep.URL != w.activeURL {
		w.log.Info("switched endpoint", "from", w.activeURL, "to", ep.URL)
	}
	w.active = client
	w.activeURL = ep.URL
}

// sleepFor picks the tick sleep from activity. A tick with no new blocks
// counts as the lowest-activity case.
func (w *Watcher) sleepFor(behind uint64) time.Duration {
	base := w.opts.PollInterval
	switch {
	case behind > 5:
		return 100 * time.Millisecond
	case behind > 1:
		return base
	default:
		return base + time.Duration(w.jitter()*float64(200*time.Millisecond))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
