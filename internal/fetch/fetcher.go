package fetch

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hyperwatch/hyperwatch/internal/decode"
	"github.com/hyperwatch/hyperwatch/internal/metrics"
)

// LogClient captures the subset of the node client used by the fetcher.
type LogClient interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Chunk is an inclusive sub-range of blocks fetched in one query.
type Chunk struct {
	From uint64
	To   uint64
}

// Fetcher retrieves Transfer logs for a block range in fixed-size chunks.
// Chunks are fetched sequentially to respect node rate limits; a chunk
// whose retries are exhausted is dropped and the range still advances.
type Fetcher struct {
	chunkSize  uint64
	maxRetries int
	backoff    time.Duration
	log        *slog.Logger
	mtr        *metrics.Metrics
	sleep      func(context.Context, time.Duration)
}

// NewFetcher builds a fetcher. Retries use linear backoff: attempt n
// waits n*backoff before the next try.
func NewFetcher(chunkSize uint64, maxRetries int, backoff time.Duration, log *slog.Logger, mtr *metrics.Metrics) *Fetcher {
	if chunkSize == 0 {
		chunkSize = 100
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Fetcher{
		chunkSize:  chunkSize,
		maxRetries: maxRetries,
		backoff:    backoff,
		log:        log,
		mtr:        mtr,
		sleep:      sleepCtx,
	}
}

// Chunks partitions [from, to] into inclusive chunks of at most size blocks.
func Chunks(from, to, size uint64) []Chunk {
	if to < from || size == 0 {
		return nil
	}
	out := []Chunk{}
	for cur := from; cur <= to; {
		end := cur + size - 1
		if end > to {
			end = to
		}
		out = append(out, Chunk{From: cur, To: end})
		cur = end + 1
	}
	return out
}

// Fetch returns all Transfer logs in [from, to] in block order. Only the
// event signature topic is filtered server-side; watched-address filtering
// happens after decoding.
func (f *Fetcher) Fetch(ctx context.Context, client LogClient, from, to uint64) []types.Log {
	all := []types.Log{}
	for _, c := range Chunks(from, to, f.chunkSize) {
		logs, ok := f.fetchChunk(ctx, client, c)
		if !ok {
			f.log.Warn("dropping log chunk after retries", "from", c.From, "to", c.To)
			f.mtr.ChunksDropped()
			continue
		}
		all = append(all, logs...)
	}
	return all
}

func (f *Fetcher) fetchChunk(ctx context.Context, client LogClient, c Chunk) ([]types.Log, bool) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(c.From),
		ToBlock:   new(big.Int).SetUint64(c.To),
		Topics:    [][]common.Hash{{decode.TransferTopic}},
	}

	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		logs, err := client.FilterLogs(ctx, query)
		if err == nil {
			return logs, true
		}
		f.log.Debug("log chunk fetch failed",
			"from", c.From, "to", c.To,
			"attempt", attempt, "error", err)
		if attempt == f.maxRetries || ctx.Err() != nil {
			break
		}
		f.sleep(ctx, time.Duration(attempt)*f.backoff)
	}
	return nil, false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
