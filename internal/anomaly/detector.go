// Package anomaly implements the streaming volume-anomaly detector: per
// symbol and timeframe it keeps a bounded window of recent quote volumes,
// a running EMA and population standard deviation, and emits classified
// "bubble" events when a window's volume z-score and price move both clear
// their thresholds.
package anomaly

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkrylov/coinsentry/internal/models"
)

// TimeframeThresholds are the z-score tiers and history cap for one
// timeframe.
type TimeframeThresholds struct {
	LargeZScore  float64
	MediumZScore float64
	SmallZScore  float64
	HistoryCap   int
}

// Config controls detection sensitivity.
type Config struct {
	// MinHistoryLength is the sample count below which a timeframe emits
	// nothing, regardless of volume magnitude.
	MinHistoryLength int
	// EMAPeriod drives the smoothing factor k = 2/(period+1). While the
	// window is shorter than the period the EMA is a simple average.
	EMAPeriod int
	// MinPriceChangePct is the minimum absolute window price move required
	// to assign a side. Volume alone is not sufficient evidence of
	// directional pressure.
	MinPriceChangePct float64

	M5  TimeframeThresholds
	M15 TimeframeThresholds
}

// DefaultConfig returns the tuned production thresholds.
func DefaultConfig() Config {
	return Config{
		MinHistoryLength:  20,
		EMAPeriod:         20,
		MinPriceChangePct: 0.1,
		M5:                TimeframeThresholds{LargeZScore: 3.5, MediumZScore: 2.5, SmallZScore: 1.5, HistoryCap: 60},
		M15:               TimeframeThresholds{LargeZScore: 3.0, MediumZScore: 2.0, SmallZScore: 1.2, HistoryCap: 80},
	}
}

// Overrides is a partial config update; nil fields keep their current
// values.
type Overrides struct {
	MinHistoryLength  *int
	EMAPeriod         *int
	MinPriceChangePct *float64
	M5                ThresholdOverrides
	M15               ThresholdOverrides
}

// ThresholdOverrides is the per-timeframe slice of Overrides.
type ThresholdOverrides struct {
	LargeZScore  *float64
	MediumZScore *float64
	SmallZScore  *float64
	HistoryCap   *int
}

// Input carries the closed windows for one symbol. A nil window means that
// timeframe did not close this call.
type Input struct {
	Symbol    string
	M5        *models.WindowMetrics
	M15       *models.WindowMetrics
	Timestamp time.Time
}

// VolumeState is the exported per-timeframe streaming state, used for
// read-only projections and checkpointing.
type VolumeState struct {
	Window     []float64 `json:"window"`
	EMA        float64   `json:"ema"`
	LastUpdate time.Time `json:"last_update"`
}

type volumeState struct {
	window     []float64
	ema        float64
	lastUpdate time.Time
}

type symbolState struct {
	m5  volumeState
	m15 volumeState
}

// Detector owns all volume-history state exclusively; nothing outside this
// package mutates it.
type Detector struct {
	mu     sync.Mutex
	cfg    Config
	states map[string]*symbolState
}

// New creates a detector with the given config; zero-value fields fall back
// to DefaultConfig.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.MinHistoryLength <= 0 {
		cfg.MinHistoryLength = def.MinHistoryLength
	}
	if cfg.EMAPeriod <= 0 {
		cfg.EMAPeriod = def.EMAPeriod
	}
	if cfg.MinPriceChangePct <= 0 {
		cfg.MinPriceChangePct = def.MinPriceChangePct
	}
	if cfg.M5.HistoryCap <= 0 {
		cfg.M5 = def.M5
	}
	if cfg.M15.HistoryCap <= 0 {
		cfg.M15 = def.M15
	}
	return &Detector{cfg: cfg, states: make(map[string]*symbolState)}
}

// DetectBubbles ingests the closed windows for one symbol and returns zero,
// one, or two bubbles (at most one per timeframe).
func (d *Detector) DetectBubbles(in Input) []models.Bubble {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[in.Symbol]
	if !ok {
		st = &symbolState{}
		d.states[in.Symbol] = st
	}

	var bubbles []models.Bubble
	if in.M5 != nil {
		if b, ok := d.detect(&st.m5, in.Symbol, "5m", *in.M5, d.cfg.M5, in.Timestamp); ok {
			bubbles = append(bubbles, b)
		}
	}
	if in.M15 != nil {
		if b, ok := d.detect(&st.m15, in.Symbol, "15m", *in.M15, d.cfg.M15, in.Timestamp); ok {
			bubbles = append(bubbles, b)
		}
	}
	return bubbles
}

func (d *Detector) detect(st *volumeState, symbol, timeframe string, w models.WindowMetrics, th TimeframeThresholds, ts time.Time) (models.Bubble, bool) {
	v := w.QuoteVolume
	st.window = append(st.window, v)
	if len(st.window) > th.HistoryCap {
		st.window = st.window[1:]
	}
	st.lastUpdate = ts

	// Seed the EMA with a simple mean until a full period of history
	// exists, then switch to the recurrence.
	if len(st.window) < d.cfg.EMAPeriod {
		st.ema = mean(st.window)
	} else {
		k := 2.0 / float64(d.cfg.EMAPeriod+1)
		st.ema = v*k + st.ema*(1-k)
	}

	if len(st.window) < d.cfg.MinHistoryLength {
		return models.Bubble{}, false
	}

	std := stdDev(st.window)
	zScore := 0.0
	if std > 0 {
		zScore = (v - st.ema) / std
	}

	size, ok := classify(zScore, th)
	if !ok {
		return models.Bubble{}, false
	}

	pct := w.PriceChangePct()
	if math.Abs(pct) < d.cfg.MinPriceChangePct {
		return models.Bubble{}, false
	}
	side := models.BubbleSideBuy
	if pct < 0 {
		side = models.BubbleSideSell
	}

	return models.Bubble{
		ID:              uuid.New().String(),
		Symbol:          symbol,
		Timeframe:       timeframe,
		Time:            ts,
		WindowStartTime: w.StartTime,
		Price:           w.EndPrice,
		StartPrice:      w.StartPrice,
		EndPrice:        w.EndPrice,
		PriceChangePct:  pct,
		Side:            side,
		Size:            size,
		ZScore:          zScore,
		QuoteVolume:     v,
		VolumeEMA:       st.ema,
		VolumeStdDev:    std,
	}, true
}

// classify picks the largest tier the z-score clears.
func classify(z float64, th TimeframeThresholds) (string, bool) {
	switch {
	case z >= th.LargeZScore:
		return models.BubbleSizeLarge, true
	case z >= th.MediumZScore:
		return models.BubbleSizeMedium, true
	case z >= th.SmallZScore:
		return models.BubbleSizeSmall, true
	default:
		return "", false
	}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdDev is the population standard deviation over the full retained window.
func stdDev(xs []float64) float64 {
	m := mean(xs)
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}

// SymbolState returns a read-only copy of a symbol's streaming state, keyed
// by timeframe label. ok is false for unknown symbols.
func (d *Detector) SymbolState(symbol string) (map[string]VolumeState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[symbol]
	if !ok {
		return nil, false
	}
	return map[string]VolumeState{
		"5m":  exportState(st.m5),
		"15m": exportState(st.m15),
	}, true
}

// ExportState snapshots all streaming state for checkpointing, keyed by
// symbol then timeframe label.
func (d *Detector) ExportState() map[string]map[string]VolumeState {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]map[string]VolumeState, len(d.states))
	for sym, st := range d.states {
		out[sym] = map[string]VolumeState{
			"5m":  exportState(st.m5),
			"15m": exportState(st.m15),
		}
	}
	return out
}

// RestoreState reloads checkpointed state, replacing any current state for
// the symbols present in the checkpoint.
func (d *Detector) RestoreState(states map[string]map[string]VolumeState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for sym, byTF := range states {
		st := &symbolState{}
		if s, ok := byTF["5m"]; ok {
			st.m5 = importState(s, d.cfg.M5.HistoryCap)
		}
		if s, ok := byTF["15m"]; ok {
			st.m15 = importState(s, d.cfg.M15.HistoryCap)
		}
		d.states[sym] = st
	}
}

func exportState(st volumeState) VolumeState {
	window := make([]float64, len(st.window))
	copy(window, st.window)
	return VolumeState{Window: window, EMA: st.ema, LastUpdate: st.lastUpdate}
}

func importState(s VolumeState, histCap int) volumeState {
	window := make([]float64, len(s.Window))
	copy(window, s.Window)
	if len(window) > histCap {
		window = window[len(window)-histCap:]
	}
	return volumeState{window: window, ema: s.EMA, lastUpdate: s.LastUpdate}
}

// UpdateConfig merges partial threshold overrides; unspecified fields keep
// their current values.
func (d *Detector) UpdateConfig(o Overrides) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if o.MinHistoryLength != nil && *o.MinHistoryLength > 0 {
		d.cfg.MinHistoryLength = *o.MinHistoryLength
	}
	if o.EMAPeriod != nil && *o.EMAPeriod > 0 {
		d.cfg.EMAPeriod = *o.EMAPeriod
	}
	if o.MinPriceChangePct != nil && *o.MinPriceChangePct >= 0 {
		d.cfg.MinPriceChangePct = *o.MinPriceChangePct
	}
	mergeThresholds(&d.cfg.M5, o.M5)
	mergeThresholds(&d.cfg.M15, o.M15)
}

func mergeThresholds(th *TimeframeThresholds, o ThresholdOverrides) {
	if o.LargeZScore != nil {
		th.LargeZScore = *o.LargeZScore
	}
	if o.MediumZScore != nil {
		th.MediumZScore = *o.MediumZScore
	}
	if o.SmallZScore != nil {
		th.SmallZScore = *o.SmallZScore
	}
	if o.HistoryCap != nil && *o.HistoryCap > 0 {
		th.HistoryCap = *o.HistoryCap
	}
}

// Config returns a copy of the active configuration.
func (d *Detector) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Clear resets all per-symbol state.
func (d *Detector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = make(map[string]*symbolState)
}
