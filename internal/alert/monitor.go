package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hyperwatch/hyperwatch/internal/config"
	"github.com/hyperwatch/hyperwatch/internal/metrics"
	"github.com/hyperwatch/hyperwatch/internal/storage"
)

// CooldownStore is the persistence surface for per-symbol alert cooldowns.
type CooldownStore interface {
	OnCooldown(ctx context.Context, symbol, kind string, now time.Time) (bool, error)
	SetCooldown(ctx context.Context, symbol, kind string, until time.Time) error
	InsertAlert(ctx context.Context, a storage.Alert) error
}

// Monitor polls futures tickers, tracks rolling price windows per symbol,
// and alerts on spike/dip moves past the configured thresholds. It shares
// no state with the transfer watcher.
type Monitor struct {
	cfg    config.AlertConfig
	market MarketClient
	notify Notifier
	store  CooldownStore
	log    *slog.Logger
	mtr    *metrics.Metrics

	mu   sync.Mutex
	hist map[string][]pricePoint

	now func() time.Time
}

type pricePoint struct {
	ts    time.Time
	price float64
}

type move struct {
	symbol string
	kind   string
	pct    float64
	ref    float64
	latest float64
	qv24   float64
}

// NewMonitor wires a monitor from its collaborators.
func NewMonitor(cfg config.AlertConfig, market MarketClient, notify Notifier, store CooldownStore, log *slog.Logger, mtr *metrics.Metrics) *Monitor {
	return &Monitor{
		cfg:    cfg,
		market: market,
		notify: notify,
		store:  store,
		log:    log,
		mtr:    mtr,
		hist:   map[string][]pricePoint{},
		now:    time.Now,
	}
}

// Run polls on the configured interval until ctx is cancelled. Tick
// errors are logged, never fatal.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info("alert monitor started",
		"mode", m.cfg.Mode,
		"window", m.cfg.Window,
		"interval", m.cfg.CheckInterval)

	ticker := time.NewTicker(m.cfg.CheckIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				m.log.Warn("alert tick failed", "error", err)
				m.mtr.Errors()
			}
		}
	}
}

func (m *Monitor) tick(ctx context.Context) error {
	tickers, err := m.market.Tickers24h(ctx)
	if err != nil {
		return fmt.Errorf("fetch tickers: %w", err)
	}

	suffix := strings.ToUpper(m.cfg.SymbolSuffix)
	now := m.now()
	for _, t := range tickers {
		if suffix != "" && !strings.HasSuffix(t.Symbol, suffix) {
			continue
		}
		m.observe(t.Symbol, t.Price, now)
	}

	candidates, err := m.candidates(ctx, tickers, now)
	if err != nil {
		return err
	}

	confirmed := m.confirmVolume(ctx, candidates)
	if len(confirmed) == 0 {
		return nil
	}
	return m.dispatch(ctx, confirmed, now)
}

// observe appends a price point and prunes anything older than the window.
func (m *Monitor) observe(symbol string, price float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	points := append(m.hist[symbol], pricePoint{ts: now, price: price})
	cutoff := now.Add(-m.cfg.WindowDuration())
	for len(points) > 0 && points[0].ts.Before(cutoff) {
		points = points[1:]
	}
	m.hist[symbol] = points
}

func (m *Monitor) candidates(ctx context.Context, tickers []Ticker, now time.Time) ([]move, error) {
	mode := strings.ToLower(m.cfg.Mode)
	out := []move{}
	for _, t := range tickers {
		if t.QuoteVolume < m.cfg.MinQuoteVolume {
			continue
		}
		ref, latest, ok := m.windowEdges(t.Symbol)
		if !ok || ref <= 0 {
			continue
		}
		pct := (latest - ref) / ref

		if (mode == "spike" || mode == "both") && pct >= m.cfg.SpikeThreshold {
			cooling, err := m.store.OnCooldown(ctx, t.Symbol, "spike", now)
			if err != nil {
				return nil, err
			}
			if !cooling {
				out = append(out, move{symbol: t.Symbol, kind: "spike", pct: pct, ref: ref, latest: latest, qv24: t.QuoteVolume})
			}
		}
		if (mode == "dip" || mode == "both") && pct <= -m.cfg.DipThreshold {
			cooling, err := m.store.OnCooldown(ctx, t.Symbol, "dip", now)
			if err != nil {
				return nil, err
			}
			if !cooling {
				out = append(out, move{symbol: t.Symbol, kind: "dip", pct: pct, ref: ref, latest: latest, qv24: t.QuoteVolume})
			}
		}
	}
	return out, nil
}

// windowEdges returns the oldest and newest prices if the window has
// accumulated at least 90% of its span.
func (m *Monitor) windowEdges(symbol string) (ref, latest float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	points := m.hist[symbol]
	if len(points) < 2 {
		return 0, 0, false
	}
	first, last := points[0], points[len(points)-1]
	span := last.ts.Sub(first.ts)
	if span < time.Duration(float64(m.cfg.WindowDuration())*0.9) {
		return 0, 0, false
	}
	return first.price, last.price, true
}

// confirmVolume keeps candidates whose latest 5m quote volume clears the
// configured floor.
func (m *Monitor) confirmVolume(ctx context.Context, candidates []move) []move {
	if m.cfg.Min5mQuoteVolume <= 0 {
		return candidates
	}
	out := []move{}
	for _, c := range candidates {
		qv5, err := m.market.QuoteVolume5m(ctx, c.symbol)
		if err != nil {
			m.log.Debug("5m volume fetch failed", "symbol", c.symbol, "error", err)
			continue
		}
		if qv5 < m.cfg.Min5mQuoteVolume {
			continue
		}
		out = append(out, c)
	}
	return out
}

// dispatch sends alerts (collapsing large bursts into a summary), records
// the audit rows, and arms the cooldowns.
func (m *Monitor) dispatch(ctx context.Context, alerts []move, now time.Time) error {
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].qv24 > alerts[j].qv24 })

	if len(alerts) > 5 {
		top := make([]string, 0, 3)
		for _, a := range alerts[:3] {
			top = append(top, m.message(a))
		}
		summary := fmt.Sprintf("%d symbols moved (mode: %s).\n\n%s\n\n(+%d more)",
			len(alerts), m.cfg.Mode, strings.Join(top, "\n\n"), len(alerts)-3)
		if err := m.notify.Notify(ctx, summary); err != nil {
			m.log.Warn("alert send failed", "error", err)
		}
	} else {
		for _, a := range alerts {
			if err := m.notify.Notify(ctx, m.message(a)); err != nil {
				m.log.Warn("alert send failed", "symbol", a.symbol, "error", err)
			}
		}
	}

	cooldown := m.cfg.CooldownDuration()
	for _, a := range alerts {
		m.mtr.AlertsSent()
		if err := m.store.InsertAlert(ctx, storage.Alert{
			Symbol: a.symbol, Kind: a.kind, Pct: a.pct, PriceRef: a.ref, PriceLast: a.latest,
		}); err != nil {
			m.log.Warn("alert audit insert failed", "symbol", a.symbol, "error", err)
		}
		if err := m.store.SetCooldown(ctx, a.symbol, a.kind, now.Add(cooldown)); err != nil {
			return fmt.Errorf("set cooldown: %w", err)
		}
		m.log.Info("cooldown set", "symbol", a.symbol, "kind", a.kind, "for", cooldown)
	}
	return nil
}

func (m *Monitor) message(a move) string {
	marker := "SPIKE"
	if a.kind == "dip" {
		marker = "DIP"
	}
	return strings.Join([]string{
		fmt.Sprintf("%s %s %+.2f%% in %s", marker, a.symbol, a.pct*100, m.cfg.Window),
		fmt.Sprintf("Price: %s -> %s", fmtPrice(a.ref), fmtPrice(a.latest)),
		fmt.Sprintf("Vol (24h): $%.0f", a.qv24),
	}, "\n")
}

func fmtPrice(x float64) string {
	switch {
	case x >= 100:
		return fmt.Sprintf("%.2f", x)
	case x >= 1:
		return fmt.Sprintf("%.4f", x)
	default:
		return strings.TrimRight(fmt.Sprintf("%.8f", x), "0")
	}
}
