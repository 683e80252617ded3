// Package engine wires the screener pipeline: snapshot tracking, indicator
// derivation, rule evaluation, anomaly detection, warm-up accounting, and
// alert delivery.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkrylov/coinsentry/internal/anomaly"
	"github.com/dkrylov/coinsentry/internal/delivery"
	"github.com/dkrylov/coinsentry/internal/indicators"
	"github.com/dkrylov/coinsentry/internal/logger"
	"github.com/dkrylov/coinsentry/internal/models"
	"github.com/dkrylov/coinsentry/internal/rules"
	"github.com/dkrylov/coinsentry/internal/storage"
	"github.com/dkrylov/coinsentry/internal/tracker"
	"github.com/dkrylov/coinsentry/internal/warmup"
)

// referenceSymbol anchors the cross-asset dominance ratios.
const referenceSymbol = "BTCUSDT"

const (
	window5m  = 5 * time.Minute
	window15m = 15 * time.Minute
)

// Config controls engine behavior.
type Config struct {
	MarketMode models.MarketMode
	// CheckpointInterval is how many snapshot batches pass between
	// anomaly-state checkpoints.
	CheckpointInterval int
	// MaxBubbles bounds the in-memory ring of recent bubbles.
	MaxBubbles int
}

// windowAgg accumulates one open aggregation window for a symbol.
type windowAgg struct {
	startTime  time.Time
	startPrice float64
	startQuote float64
	lastPrice  float64
	lastQuote  float64
}

type symbolWindows struct {
	m5  *windowAgg
	m15 *windowAgg
}

// Engine owns the evaluation pipeline. All methods are safe for concurrent
// use; snapshot batches are processed sequentially under one lock, so alert
// ordering within a batch equals input symbol order.
type Engine struct {
	mu sync.Mutex

	cfg        Config
	tracker    *tracker.Tracker
	evaluator  *rules.Evaluator
	detector   *anomaly.Detector
	warmup     *warmup.Tracker
	controller *delivery.Controller
	store      *storage.Storage

	ruleSet []models.Rule
	mode    models.MarketMode

	windows      map[string]*symbolWindows
	knownSymbols map[string]bool
	btcPrice     float64

	bubbles    []models.Bubble
	batchCount int

	// startTimes supplies per-symbol stream-start timestamps from the
	// feed collaborator.
	startTimes func() map[string]time.Time
}

// New creates an engine, restoring persisted rules and anomaly state.
func New(cfg Config, det *anomaly.Detector, ctl *delivery.Controller, store *storage.Storage, startTimes func() map[string]time.Time) (*Engine, error) {
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 12
	}
	if cfg.MaxBubbles <= 0 {
		cfg.MaxBubbles = 256
	}
	if cfg.MarketMode == "" {
		cfg.MarketMode = models.MarketModeBull
	}
	if startTimes == nil {
		startTimes = func() map[string]time.Time { return nil }
	}

	e := &Engine{
		cfg:          cfg,
		tracker:      tracker.New(nil),
		evaluator:    rules.NewEvaluator(),
		detector:     det,
		warmup:       warmup.New(nil),
		controller:   ctl,
		store:        store,
		mode:         cfg.MarketMode,
		windows:      make(map[string]*symbolWindows),
		knownSymbols: make(map[string]bool),
		startTimes:   startTimes,
	}

	persisted, err := store.GetRules()
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	e.ruleSet = persisted
	logger.Info("Loaded %d persisted rules", len(persisted))

	states, err := store.LoadAnomalyStates()
	if err != nil {
		logger.Warn("Failed to load anomaly checkpoints: %v", err)
	} else if len(states) > 0 {
		det.RestoreState(states)
		logger.Info("Restored anomaly state for %d symbols", len(states))
	}

	return e, nil
}

// OnSnapshots processes one batch of symbol snapshots: updates rolling
// history, derives indicators, evaluates rules, aggregates anomaly windows,
// and admits fired alerts for delivery.
func (e *Engine) OnSnapshots(batch []*models.Snapshot) {
	if len(batch) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	mkt := e.marketContext(batch)

	for _, snap := range batch {
		e.knownSymbols[snap.Symbol] = true
		snap.Indicators = indicators.Compute(snap, mkt)
		e.tracker.Update(snap.Symbol, snap)
		snap.History = e.tracker.History(snap.Symbol)
		e.rollWindows(snap)
	}

	alerts := e.evaluator.Evaluate(batch, e.ruleSet, e.mode)
	admitted := 0
	for _, alert := range alerts {
		if !e.controller.Admit(alert) {
			continue
		}
		admitted++
		e.markTriggered(alert)
		if err := e.store.AddAlert(&alert); err != nil {
			logger.Warn("Failed to persist alert %s: %v", alert.ID, err)
		}
	}
	if len(alerts) > 0 {
		logger.Debug("Evaluated %d symbols: %d alerts fired, %d admitted", len(batch), len(alerts), admitted)
	}

	e.batchCount++
	if e.batchCount%e.cfg.CheckpointInterval == 0 {
		e.checkpoint()
	}
}

// marketContext derives cross-asset inputs from the batch, falling back to
// the last known reference price when the reference pair is absent.
func (e *Engine) marketContext(batch []*models.Snapshot) indicators.MarketContext {
	var total float64
	for _, snap := range batch {
		total += snap.QuoteVolume
		if snap.Symbol == referenceSymbol {
			e.btcPrice = snap.LastPrice
		}
	}
	return indicators.MarketContext{BTCPrice: e.btcPrice, TotalQuoteVolume: total}
}

// rollWindows advances the symbol's 5m/15m aggregation windows and feeds
// closed ones into the anomaly detector. Caller holds the lock.
func (e *Engine) rollWindows(snap *models.Snapshot) {
	w, ok := e.windows[snap.Symbol]
	if !ok {
		w = &symbolWindows{}
		e.windows[snap.Symbol] = w
	}

	in := anomaly.Input{Symbol: snap.Symbol, Timestamp: snap.Timestamp}
	in.M5 = advanceWindow(&w.m5, snap, window5m)
	in.M15 = advanceWindow(&w.m15, snap, window15m)
	if in.M5 == nil && in.M15 == nil {
		return
	}

	for _, b := range e.detector.DetectBubbles(in) {
		e.addBubble(b)
		logger.Info("Bubble: %s %s %s z=%.2f price %.6g (%+.2f%%)",
			b.Symbol, b.Timeframe, b.Size, b.ZScore, b.Price, b.PriceChangePct)
	}
}

// addBubble appends to the recent-bubble ring, evicting the oldest entry
// past MaxBubbles. The caller holds e.mu.
func (e *Engine) addBubble(b models.Bubble) {
	e.bubbles = append(e.bubbles, b)
	if len(e.bubbles) > e.cfg.MaxBubbles {
		e.bubbles = e.bubbles[1:]
	}
}

// advanceWindow updates one aggregation window with the latest tick and
// returns the closed window's metrics when the boundary is crossed. The
// window's quote volume is the cumulative 24h counter delta, clamped at 0
// since the counter is a rolling window and can shrink.
func advanceWindow(slot **windowAgg, snap *models.Snapshot, duration time.Duration) *models.WindowMetrics {
	w := *slot
	if w == nil {
		*slot = &windowAgg{
			startTime:  snap.Timestamp,
			startPrice: snap.LastPrice,
			startQuote: snap.QuoteVolume,
			lastPrice:  snap.LastPrice,
			lastQuote:  snap.QuoteVolume,
		}
		return nil
	}

	if snap.Timestamp.Sub(w.startTime) < duration {
		w.lastPrice = snap.LastPrice
		w.lastQuote = snap.QuoteVolume
		return nil
	}

	quoteDelta := w.lastQuote - w.startQuote
	if quoteDelta < 0 {
		quoteDelta = 0
	}
	closed := &models.WindowMetrics{
		StartPrice:  w.startPrice,
		EndPrice:    w.lastPrice,
		QuoteVolume: quoteDelta,
		StartTime:   w.startTime,
	}

	*slot = &windowAgg{
		startTime:  snap.Timestamp,
		startPrice: snap.LastPrice,
		startQuote: snap.QuoteVolume,
		lastPrice:  snap.LastPrice,
		lastQuote:  snap.QuoteVolume,
	}
	return closed
}

// markTriggered stamps the owning rule's LastTriggered. Caller holds the
// lock.
func (e *Engine) markTriggered(alert models.Alert) {
	for i := range e.ruleSet {
		r := &e.ruleSet[i]
		if len(r.Conditions) > 0 && r.Conditions[0].Type == alert.Type && r.AppliesTo(alert.Symbol) {
			t := alert.Timestamp
			r.LastTriggered = &t
		}
	}
}

func (e *Engine) checkpoint() {
	for symbol, byTF := range e.detector.ExportState() {
		for timeframe, st := range byTF {
			if len(st.Window) == 0 {
				continue
			}
			if err := e.store.SaveAnomalyState(symbol, timeframe, st); err != nil {
				logger.Warn("Failed to checkpoint anomaly state for %s/%s: %v", symbol, timeframe, err)
			}
		}
	}
}

// SetRules replaces the active rule set and persists it.
func (e *Engine) SetRules(ruleSet []models.Rule) error {
	for i := range ruleSet {
		if err := ruleSet[i].Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", ruleSet[i].ID, err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ruleSet = ruleSet
	for i := range ruleSet {
		if err := e.store.SaveRule(&ruleSet[i]); err != nil {
			return fmt.Errorf("failed to persist rule %q: %w", ruleSet[i].ID, err)
		}
	}
	return nil
}

// Rules returns a copy of the active rule set.
func (e *Engine) Rules() []models.Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Rule, len(e.ruleSet))
	copy(out, e.ruleSet)
	return out
}

// SetMarketMode switches bull/bear gating for the legacy presets.
func (e *Engine) SetMarketMode(mode models.MarketMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
}

// MarketMode returns the active market mode.
func (e *Engine) MarketMode() models.MarketMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Bubbles returns up to limit most recent bubbles, newest first.
func (e *Engine) Bubbles(limit int) []models.Bubble {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.bubbles)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Bubble, n)
	for i := 0; i < n; i++ {
		out[i] = e.bubbles[len(e.bubbles)-1-i]
	}
	return out
}

// WarmupStatus recomputes per-horizon readiness across all symbols seen so
// far.
func (e *Engine) WarmupStatus() models.WarmupStatus {
	e.mu.Lock()
	symbols := make([]string, 0, len(e.knownSymbols))
	for s := range e.knownSymbols {
		symbols = append(symbols, s)
	}
	e.mu.Unlock()
	sort.Strings(symbols)
	return e.warmup.Status(symbols, e.startTimes())
}

// Shutdown checkpoints anomaly state and stops the delivery controller,
// dropping any in-flight batch.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	logger.Info("Checkpointing anomaly state for %d symbols before shutdown", len(e.knownSymbols))
	e.checkpoint()
	e.mu.Unlock()
	e.controller.Stop()
}
