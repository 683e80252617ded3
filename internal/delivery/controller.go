// Package delivery turns the raw alert stream into rate-limited,
// deduplicated, batched notifications. Downstream sinks enforce hard rate
// limits (e.g. 5 messages per 5 seconds), so admitted alerts are collected
// into a rolling batch and flushed as one summary per window.
package delivery

import (
	"sync"
	"time"

	"github.com/dkrylov/coinsentry/internal/logger"
	"github.com/dkrylov/coinsentry/internal/models"
)

// Sink accepts one rendered summary per batch flush. Failures are reported
// to the caller; they never roll back admission decisions.
type Sink interface {
	Name() string
	Send(models.Summary) error
}

// Batch window bounds. Values outside this range are rejected, not clamped.
const (
	MinBatchWindow = 10 * time.Second
	MaxBatchWindow = 300 * time.Second
)

// Config controls throttling and batching.
type Config struct {
	// Cooldown is the rolling suppression window: an identical
	// {symbol,type} pair fires at most once per cooldown, and the
	// per-symbol cap counts alerts within it.
	Cooldown time.Duration
	// MaxAlertsPerSymbol caps how many alerts one symbol may produce
	// within the cooldown window.
	MaxAlertsPerSymbol int
	// BatchWindow is the flush timer period, valid 10s-300s.
	BatchWindow time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:           60 * time.Second,
		MaxAlertsPerSymbol: 3,
		BatchWindow:        60 * time.Second,
	}
}

// Overrides is a partial config update; nil fields keep current values.
type Overrides struct {
	Cooldown           *time.Duration
	MaxAlertsPerSymbol *int
	BatchWindow        *time.Duration
}

// Batch phases. The flush timer is the only collecting -> flushing trigger.
type phase int

const (
	phaseIdle phase = iota
	phaseCollecting
	phaseFlushing
)

type historyRecord struct {
	at  time.Time
	typ string
}

// Controller owns the rolling alert-history map and the batch state
// machine. All state is instance-local; independent controllers never share
// state.
type Controller struct {
	mu    sync.Mutex
	cfg   Config
	sinks []Sink

	phase      phase
	batch      []models.Alert
	batchStart time.Time
	timer      *time.Timer

	lastFired map[string]time.Time       // "symbol|type" -> last admission
	history   map[string][]historyRecord // per symbol, pruned to 24h

	now func() time.Time
}

// New creates a controller; invalid config fields fall back to defaults.
func New(cfg Config, sinks []Sink) *Controller {
	def := DefaultConfig()
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.MaxAlertsPerSymbol <= 0 {
		cfg.MaxAlertsPerSymbol = def.MaxAlertsPerSymbol
	}
	if cfg.BatchWindow < MinBatchWindow || cfg.BatchWindow > MaxBatchWindow {
		cfg.BatchWindow = def.BatchWindow
	}
	return &Controller{
		cfg:       cfg,
		sinks:     sinks,
		lastFired: make(map[string]time.Time),
		history:   make(map[string][]historyRecord),
		now:       time.Now,
	}
}

// Admit decides whether an alert passes throttling. Accepted alerts join
// the current batch; the decision is final regardless of later delivery
// outcome (at-most-once admission, best-effort delivery).
func (c *Controller) Admit(alert models.Alert) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneHistory(alert.Symbol, now)

	var withinCooldown int
	for _, rec := range c.history[alert.Symbol] {
		if now.Sub(rec.at) < c.cfg.Cooldown {
			withinCooldown++
		}
	}
	if withinCooldown >= c.cfg.MaxAlertsPerSymbol {
		logger.Debug("Suppressed alert for %s: symbol cap %d reached within cooldown", alert.Symbol, c.cfg.MaxAlertsPerSymbol)
		return false
	}

	key := alert.Symbol + "|" + alert.Type
	if last, ok := c.lastFired[key]; ok && now.Sub(last) < c.cfg.Cooldown {
		logger.Debug("Suppressed duplicate %s alert for %s within cooldown", alert.Type, alert.Symbol)
		return false
	}

	c.lastFired[key] = now
	c.history[alert.Symbol] = append(c.history[alert.Symbol], historyRecord{at: now, typ: alert.Type})
	c.batch = append(c.batch, alert)

	if c.phase == phaseIdle {
		c.phase = phaseCollecting
		c.batchStart = now
		c.timer = time.AfterFunc(c.cfg.BatchWindow, c.flushTimer)
	} else if c.phase == phaseFlushing && len(c.batch) == 1 {
		// First alert of the next window, admitted while sinks were
		// sending; flush re-arms the timer when it completes.
		c.batchStart = now
	}
	return true
}

func (c *Controller) flushTimer() {
	c.flush(false)
}

// Flush forces a flush of the collecting batch, used on shutdown paths and
// in tests. A no-op unless the controller is collecting.
func (c *Controller) Flush() {
	c.flush(true)
}

func (c *Controller) flush(forced bool) {
	c.mu.Lock()
	if c.phase != phaseCollecting {
		c.mu.Unlock()
		return
	}
	if forced && c.timer != nil {
		c.timer.Stop()
	}
	c.phase = phaseFlushing
	c.timer = nil

	summary := c.buildSummary(c.now())
	c.batch = nil
	sinks := c.sinks
	c.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Send(summary); err != nil {
			logger.Error("Sink %s failed to deliver summary: %v", sink.Name(), err)
		}
	}

	c.mu.Lock()
	if len(c.batch) > 0 {
		// Alerts were admitted during the sends; collect them into the
		// next window instead of stranding them without a timer.
		c.phase = phaseCollecting
		c.timer = time.AfterFunc(c.cfg.BatchWindow, c.flushTimer)
	} else {
		c.phase = phaseIdle
	}
	c.mu.Unlock()
}

// buildSummary renders the batch into the per-flush summary. Caller holds
// the lock.
func (c *Controller) buildSummary(now time.Time) models.Summary {
	summary := models.Summary{
		Total:       len(c.batch),
		BySeverity:  make(map[string]int),
		ByTimeframe: make(map[string]int),
		WindowStart: c.batchStart,
		WindowEnd:   now,
	}

	batchCounts := make(map[string]int)
	var order []string
	for _, a := range c.batch {
		if _, seen := batchCounts[a.Symbol]; !seen {
			order = append(order, a.Symbol)
		}
		batchCounts[a.Symbol]++
		summary.BySeverity[a.Severity]++
		if a.Timeframe != "" {
			summary.ByTimeframe[a.Timeframe]++
		}
	}

	for _, sym := range order {
		recs := c.history[sym]
		var last1h, last24h int
		for _, rec := range recs {
			age := now.Sub(rec.at)
			if age <= time.Hour {
				last1h++
			}
			if age <= 24*time.Hour {
				last24h++
			}
		}
		var recent []string
		for i := len(recs) - 1; i >= 0 && len(recent) < 3; i-- {
			recent = append(recent, recs[i].typ)
		}
		summary.Symbols = append(summary.Symbols, models.SymbolSummary{
			Symbol:      sym,
			Count:       batchCounts[sym],
			CountLast1h: last1h,
			CountLast24: last24h,
			RecentTypes: recent,
		})
	}
	return summary
}

// pruneHistory drops records older than the 24h summary horizon. Caller
// holds the lock.
func (c *Controller) pruneHistory(symbol string, now time.Time) {
	recs := c.history[symbol]
	cut := 0
	for cut < len(recs) && now.Sub(recs[cut].at) > 24*time.Hour {
		cut++
	}
	if cut > 0 {
		c.history[symbol] = recs[cut:]
	}
}

// UpdateConfig merges a partial config update. Out-of-range batch windows
// are rejected with a warning and the previous value retained, never
// silently clamped.
func (c *Controller) UpdateConfig(o Overrides) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if o.Cooldown != nil {
		if *o.Cooldown > 0 {
			c.cfg.Cooldown = *o.Cooldown
		} else {
			logger.Warn("Rejected cooldown %v: must be positive, keeping %v", *o.Cooldown, c.cfg.Cooldown)
		}
	}
	if o.MaxAlertsPerSymbol != nil {
		if *o.MaxAlertsPerSymbol > 0 {
			c.cfg.MaxAlertsPerSymbol = *o.MaxAlertsPerSymbol
		} else {
			logger.Warn("Rejected max_alerts_per_symbol %d: must be positive, keeping %d", *o.MaxAlertsPerSymbol, c.cfg.MaxAlertsPerSymbol)
		}
	}
	if o.BatchWindow != nil {
		if *o.BatchWindow >= MinBatchWindow && *o.BatchWindow <= MaxBatchWindow {
			c.cfg.BatchWindow = *o.BatchWindow
		} else {
			logger.Warn("Rejected batch window %v: must be within [%v, %v], keeping %v",
				*o.BatchWindow, MinBatchWindow, MaxBatchWindow, c.cfg.BatchWindow)
		}
	}
}

// Config returns a copy of the active configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Stop cancels the pending flush timer and drops the in-flight batch.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.batch = nil
	c.phase = phaseIdle
}

// Clear resets all throttling history in addition to Stop's effects.
func (c *Controller) Clear() {
	c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFired = make(map[string]time.Time)
	c.history = make(map[string][]historyRecord)
}
