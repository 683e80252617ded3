// Package feed adapts the Binance all-market ticker stream into symbol
// snapshots and tracks per-symbol stream-start timestamps for warm-up
// accounting.
package feed

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/dkrylov/coinsentry/internal/logger"
	"github.com/dkrylov/coinsentry/internal/models"
)

// ErrorNotifier receives stream failure and recovery notices. Only the
// first error of a consecutive run is reported; recovery carries the run
// length.
type ErrorNotifier interface {
	SendError(err error) error
	SendRecovery(failureCount int) error
}

// Feed streams snapshot batches from the Binance 24h ticker websocket.
type Feed struct {
	mu                sync.Mutex
	whitelist         map[string]bool // nil means all symbols
	startTimes        map[string]time.Time
	notifier          ErrorNotifier
	consecutiveErrors int

	out   chan []*models.Snapshot
	stopC chan struct{}
	doneC chan struct{}
}

// New creates a feed. An empty symbols list subscribes to every pair the
// stream carries.
func New(symbols []string) *Feed {
	var whitelist map[string]bool
	if len(symbols) > 0 {
		whitelist = make(map[string]bool, len(symbols))
		for _, s := range symbols {
			whitelist[s] = true
		}
	}
	return &Feed{
		whitelist:  whitelist,
		startTimes: make(map[string]time.Time),
		out:        make(chan []*models.Snapshot, 8),
	}
}

// Start connects the websocket. It returns once the connection is up; the
// snapshot batches arrive on Snapshots().
func (f *Feed) Start() error {
	doneC, stopC, err := binance.WsAllMarketsStatServe(f.handleEvents, f.handleError)
	if err != nil {
		return fmt.Errorf("failed to open ticker stream: %w", err)
	}
	f.mu.Lock()
	f.doneC = doneC
	f.stopC = stopC
	f.mu.Unlock()
	return nil
}

// SetNotifier wires stream error/recovery notices; nil disables them.
func (f *Feed) SetNotifier(n ErrorNotifier) {
	f.mu.Lock()
	f.notifier = n
	f.mu.Unlock()
}

// Snapshots returns the channel of per-tick snapshot batches.
func (f *Feed) Snapshots() <-chan []*models.Snapshot {
	return f.out
}

// StartTimes returns a copy of the per-symbol stream-start timestamps.
func (f *Feed) StartTimes() map[string]time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]time.Time, len(f.startTimes))
	for k, v := range f.startTimes {
		out[k] = v
	}
	return out
}

// Stop closes the websocket and the output channel.
func (f *Feed) Stop() {
	f.mu.Lock()
	stopC, doneC := f.stopC, f.doneC
	f.stopC, f.doneC = nil, nil
	f.mu.Unlock()

	if stopC != nil {
		close(stopC)
		<-doneC
	}
	close(f.out)
}

func (f *Feed) handleEvents(events binance.WsAllMarketsStatEvent) {
	now := time.Now()
	batch := make([]*models.Snapshot, 0, len(events))

	f.mu.Lock()
	failures := f.consecutiveErrors
	f.consecutiveErrors = 0
	notifier := f.notifier
	for _, ev := range events {
		if f.whitelist != nil && !f.whitelist[ev.Symbol] {
			continue
		}
		snap, err := convert(ev)
		if err != nil {
			// Bad upstream data never kills the loop; skip the ticker.
			logger.Debug("Skipping malformed ticker for %s: %v", ev.Symbol, err)
			continue
		}
		if _, seen := f.startTimes[ev.Symbol]; !seen {
			f.startTimes[ev.Symbol] = now
		}
		batch = append(batch, snap)
	}
	f.mu.Unlock()

	if failures > 0 && notifier != nil {
		if err := notifier.SendRecovery(failures); err != nil {
			logger.Warn("Failed to send stream recovery notice: %v", err)
		}
	}

	if len(batch) == 0 {
		return
	}
	select {
	case f.out <- batch:
	default:
		logger.Warn("Dropping snapshot batch of %d symbols: consumer falling behind", len(batch))
	}
}

func (f *Feed) handleError(err error) {
	logger.Error("Ticker stream error: %v", err)

	f.mu.Lock()
	f.consecutiveErrors++
	first := f.consecutiveErrors == 1
	notifier := f.notifier
	f.mu.Unlock()

	if first && notifier != nil {
		if sendErr := notifier.SendError(err); sendErr != nil {
			logger.Warn("Failed to send stream error notice: %v", sendErr)
		}
	}
}

// convert maps one raw ticker event to a snapshot. Any unparseable numeric
// field fails the whole event.
func convert(ev *binance.WsMarketStatEvent) (*models.Snapshot, error) {
	p := &parser{}
	snap := &models.Snapshot{
		Symbol:           ev.Symbol,
		LastPrice:        p.float(ev.LastPrice, "last price"),
		OpenPrice:        p.float(ev.OpenPrice, "open price"),
		HighPrice:        p.float(ev.HighPrice, "high price"),
		LowPrice:         p.float(ev.LowPrice, "low price"),
		PrevClosePrice:   p.float(ev.PrevClosePrice, "prev close"),
		WeightedAvgPrice: p.float(ev.WeightedAvgPrice, "weighted avg"),
		BaseVolume:       p.float(ev.BaseVolume, "base volume"),
		QuoteVolume:      p.float(ev.QuoteVolume, "quote volume"),
		BidPrice:         p.float(ev.BidPrice, "bid price"),
		BidQty:           p.float(ev.BidQty, "bid qty"),
		AskPrice:         p.float(ev.AskPrice, "ask price"),
		AskQty:           p.float(ev.AskQty, "ask qty"),
		TradeCount:       ev.Count,
		Timestamp:        time.UnixMilli(ev.Time),
	}
	if p.err != nil {
		return nil, p.err
	}
	return snap, nil
}

// parser accumulates the first parse failure across a batch of fields.
type parser struct {
	err error
}

func (p *parser) float(s, field string) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = fmt.Errorf("invalid %s %q: %w", field, s, err)
		return 0
	}
	return v
}
