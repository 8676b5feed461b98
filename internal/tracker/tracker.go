package tracker

import (
	"log/slog"

	"github.com/hyperwatch/hyperwatch/internal/metrics"
)

// Range is an inclusive block range.
type Range struct {
	From uint64
	To   uint64
}

// Tracker owns the last processed block and computes the next range to
// process, applying the catch-up cap when the watcher falls behind.
type Tracker struct {
	lastBlock  uint64
	catchupCap uint64
	log        *slog.Logger
	mtr        *metrics.Metrics
}

// New seeds a tracker at the given starting block, normally the selected
// endpoint's height at startup.
func New(start, catchupCap uint64, log *slog.Logger, mtr *metrics.Metrics) *Tracker {
	return &Tracker{
		lastBlock:  start,
		catchupCap: catchupCap,
		log:        log,
		mtr:        mtr,
	}
}

// Last returns the last processed block.
func (t *Tracker) Last() uint64 {
	return t.lastBlock
}

// Next returns the range to process for the observed head height, or
// ok=false when there is nothing new. When the gap exceeds the catch-up
// cap the cursor jumps to height-2 and the skipped blocks are abandoned.
func (t *Tracker) Next(height uint64) (Range, bool) {
	if height <= t.lastBlock {
		return Range{}, false
	}

	gap := height - t.lastBlock
	if gap > t.catchupCap {
		jumpTo := height - 2
		skipped := jumpTo - t.lastBlock
		t.log.Warn("too far behind, jumping to recent blocks",
			"behind", gap,
			"skipped_from", t.lastBlock+1,
			"skipped_to", jumpTo)
		t.mtr.BlocksSkipped(skipped)
		t.lastBlock = jumpTo
	}

	return Range{From: t.lastBlock + 1, To: height}, true
}

// Commit advances the cursor after a range was processed. The cursor
// never moves backwards.
func (t *Tracker) Commit(height uint64) {
	if height > t.lastBlock {
		t.lastBlock = height
	}
}
