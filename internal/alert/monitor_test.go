package alert

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hyperwatch/hyperwatch/internal/config"
	"github.com/hyperwatch/hyperwatch/internal/storage"
)

type fakeMarket struct {
	tickers []Ticker
	qv5m    map[string]float64
}

func (f *fakeMarket) Tickers24h(ctx context.Context) ([]Ticker, error) {
	return f.tickers, nil
}

func (f *fakeMarket) QuoteVolume5m(ctx context.Context, symbol string) (float64, error) {
	return f.qv5m[symbol], nil
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(ctx context.Context, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

type memStore struct {
	cooldowns map[string]time.Time
	alerts    []storage.Alert
}

func newMemStore() *memStore {
	return &memStore{cooldowns: map[string]time.Time{}}
}

func (s *memStore) OnCooldown(ctx context.Context, symbol, kind string, now time.Time) (bool, error) {
	until, ok := s.cooldowns[symbol+"/"+kind]
	return ok && now.Before(until), nil
}

func (s *memStore) SetCooldown(ctx context.Context, symbol, kind string, until time.Time) error {
	s.cooldowns[symbol+"/"+kind] = until
	return nil
}

func (s *memStore) InsertAlert(ctx context.Context, a storage.Alert) error {
	s.alerts = append(s.alerts, a)
	return nil
}

func testAlertConfig() config.AlertConfig {
	return config.AlertConfig{
		Enabled:        true,
		Mode:           "both",
		CheckInterval:  "10s",
		Window:         "60s",
		SpikeThreshold: 0.05,
		DipThreshold:   0.05,
		SymbolSuffix:   "USDT",
		Cooldown:       "15m",
	}
}

func newTestMonitor(cfg config.AlertConfig, market MarketClient, notify Notifier, store CooldownStore) *Monitor {
	return NewMonitor(cfg, market, notify, store, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

// fillWindow feeds the monitor a flat price history spanning the full window.
func fillWindow(m *Monitor, symbol string, price float64, base time.Time, window time.Duration) {
	for i := 0; i <= 6; i++ {
		m.observe(symbol, price, base.Add(time.Duration(i)*window/6))
	}
}

func TestSpikeTriggersAlert(t *testing.T) {
	market := &fakeMarket{
		tickers: []Ticker{{Symbol: "AAAUSDT", Price: 110, QuoteVolume: 1_000_000}},
	}
	notify := &fakeNotifier{}
	store := newMemStore()
	m := newTestMonitor(testAlertConfig(), market, notify, store)

	base := time.Now()
	fillWindow(m, "AAAUSDT", 100, base.Add(-60*time.Second), 59*time.Second)
	m.now = func() time.Time { return base }

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(notify.messages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(notify.messages))
	}
	if !strings.Contains(notify.messages[0], "SPIKE") || !strings.Contains(notify.messages[0], "AAAUSDT") {
		t.Fatalf("unexpected message: %s", notify.messages[0])
	}
	if len(store.alerts) != 1 || store.alerts[0].Kind != "spike" {
		t.Fatalf("audit rows = %+v", store.alerts)
	}
	if _, ok := store.cooldowns["AAAUSDT/spike"]; !ok {
		t.Fatalf("cooldown not armed")
	}
}

func TestDipRespectsModeAndThreshold(t *testing.T) {
	cfg := testAlertConfig()
	cfg.Mode = "spike" // dips suppressed in spike-only mode
	market := &fakeMarket{
		tickers: []Ticker{{Symbol: "BBBUSDT", Price: 90, QuoteVolume: 1_000_000}},
	}
	notify := &fakeNotifier{}
	m := newTestMonitor(cfg, market, notify, newMemStore())

	base := time.Now()
	fillWindow(m, "BBBUSDT", 100, base.Add(-60*time.Second), 59*time.Second)
	m.now = func() time.Time { return base }

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(notify.messages) != 0 {
		t.Fatalf("dip alerted in spike-only mode: %v", notify.messages)
	}
}

func TestCooldownSuppressesRepeatAlerts(t *testing.T) {
	market := &fakeMarket{
		tickers: []Ticker{{Symbol: "CCCUSDT", Price: 110, QuoteVolume: 1_000_000}},
	}
	notify := &fakeNotifier{}
	store := newMemStore()
	m := newTestMonitor(testAlertConfig(), market, notify, store)

	base := time.Now()
	fillWindow(m, "CCCUSDT", 100, base.Add(-60*time.Second), 59*time.Second)
	m.now = func() time.Time { return base }

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	// Window still hot, cooldown armed: the repeat move is suppressed.
	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	if len(notify.messages) != 1 {
		t.Fatalf("sent %d messages, want 1 (cooldown)", len(notify.messages))
	}
}

func TestVolumeFloorsFilterCandidates(t *testing.T) {
	cfg := testAlertConfig()
	cfg.MinQuoteVolume = 500_000
	cfg.Min5mQuoteVolume = 10_000
	market := &fakeMarket{
		tickers: []Ticker{
			{Symbol: "THINUSDT", Price: 110, QuoteVolume: 100}, // fails 24h floor
			{Symbol: "DEADUSDT", Price: 110, QuoteVolume: 1_000_000},
			{Symbol: "LIVEUSDT", Price: 110, QuoteVolume: 1_000_000},
		},
		qv5m: map[string]float64{"DEADUSDT": 50, "LIVEUSDT": 50_000},
	}
	notify := &fakeNotifier{}
	m := newTestMonitor(cfg, market, notify, newMemStore())

	base := time.Now()
	for _, sym := range []string{"THINUSDT", "DEADUSDT", "LIVEUSDT"} {
		fillWindow(m, sym, 100, base.Add(-60*time.Second), 59*time.Second)
	}
	m.now = func() time.Time { return base }

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(notify.messages) != 1 || !strings.Contains(notify.messages[0], "LIVEUSDT") {
		t.Fatalf("messages = %v, want only LIVEUSDT", notify.messages)
	}
}

func TestBurstCollapsesToSummary(t *testing.T) {
	tickers := make([]Ticker, 0, 7)
	syms := []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT", "EUSDT", "FUSDT", "GUSDT"}
	for i, s := range syms {
		tickers = append(tickers, Ticker{Symbol: s, Price: 110, QuoteVolume: float64(1_000_000 * (i + 1))})
	}
	market := &fakeMarket{tickers: tickers}
	notify := &fakeNotifier{}
	store := newMemStore()
	m := newTestMonitor(testAlertConfig(), market, notify, store)

	base := time.Now()
	for _, s := range syms {
		fillWindow(m, s, 100, base.Add(-60*time.Second), 59*time.Second)
	}
	m.now = func() time.Time { return base }

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(notify.messages) != 1 {
		t.Fatalf("sent %d messages, want a single summary", len(notify.messages))
	}
	if !strings.Contains(notify.messages[0], "7 symbols moved") {
		t.Fatalf("summary missing count: %s", notify.messages[0])
	}
	// Every symbol still gets its audit row and cooldown.
	if len(store.alerts) != 7 {
		t.Fatalf("audit rows = %d, want 7", len(store.alerts))
	}
}

func TestWindowNotFullSkipsAlert(t *testing.T) {
	market := &fakeMarket{
		tickers: []Ticker{{Symbol: "NEWUSDT", Price: 110, QuoteVolume: 1_000_000}},
	}
	notify := &fakeNotifier{}
	m := newTestMonitor(testAlertConfig(), market, notify, newMemStore())

	base := time.Now()
	// Only 10s of history against a 60s window.
	m.observe("NEWUSDT", 100, base.Add(-10*time.Second))
	m.observe("NEWUSDT", 110, base.Add(-5*time.Second))
	m.now = func() time.Time { return base }

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(notify.messages) != 0 {
		t.Fatalf("alerted on an unfilled window: %v", notify.messages)
	}
}

func TestFmtPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{12345.678, "12345.68"},
		{3.14159, "3.1416"},
		{0.00012345, "0.00012345"},
	}
	for _, tt := range tests {
		if got := fmtPrice(tt.in); got != tt.want {
			t.Errorf("fmtPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
