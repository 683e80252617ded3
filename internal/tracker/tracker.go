// Package tracker maintains rolling per-symbol snapshot history at fixed
// look-back offsets, giving rule evaluation access to "price/volume N
// minutes ago".
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/dkrylov/coinsentry/internal/models"
)

// DefaultOffsets are the look-back horizons the legacy rule set requires.
var DefaultOffsets = []time.Duration{
	1 * time.Minute,
	3 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// Tracker records one time-ordered sample buffer per symbol. Missing data
// is represented as absence, never as an error.
type Tracker struct {
	mu        sync.Mutex
	offsets   []time.Duration
	maxOffset time.Duration
	buffers   map[string][]models.HistoryEntry
	lastSeen  map[string]time.Time
}

// New creates a tracker over the given offsets; nil means DefaultOffsets.
func New(offsets []time.Duration) *Tracker {
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}
	sorted := make([]time.Duration, len(offsets))
	copy(sorted, offsets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return &Tracker{
		offsets:   sorted,
		maxOffset: sorted[len(sorted)-1],
		buffers:   make(map[string][]models.HistoryEntry),
		lastSeen:  make(map[string]time.Time),
	}
}

// Offsets returns the tracked look-back offsets, ascending.
func (t *Tracker) Offsets() []time.Duration {
	out := make([]time.Duration, len(t.offsets))
	copy(out, t.offsets)
	return out
}

// Update records snap as the symbol's "now" sample. Samples must arrive in
// time order; a snapshot not newer than the last recorded one is ignored,
// which keeps every buffer monotonically time-ordered.
func (t *Tracker) Update(symbol string, snap *models.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.lastSeen[symbol]; ok && !snap.Timestamp.After(last) {
		return
	}
	t.lastSeen[symbol] = snap.Timestamp

	buf := append(t.buffers[symbol], models.HistoryEntry{
		Price:       snap.LastPrice,
		Volume:      snap.QuoteVolume,
		WeightedAvg: snap.WeightedAvgPrice,
		PriceToWA:   snap.Indicators.PriceToWA,
		VCP:         snap.Indicators.VCP,
		Timestamp:   snap.Timestamp,
	})

	// Drop leading samples while the next one still covers the largest
	// offset; the survivor at index 0 stays the closest sample with
	// age >= maxOffset.
	for len(buf) >= 2 && snap.Timestamp.Sub(buf[1].Timestamp) >= t.maxOffset {
		buf = buf[1:]
	}
	t.buffers[symbol] = buf
}

// Get returns the recorded sample whose age is the smallest value >= offset,
// measured against the symbol's most recent sample time. ok is false when no
// sample is old enough yet.
func (t *Tracker) Get(symbol string, offset time.Duration) (models.HistoryEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf := t.buffers[symbol]
	if len(buf) == 0 {
		return models.HistoryEntry{}, false
	}
	cutoff := t.lastSeen[symbol].Add(-offset)

	// First index strictly newer than the cutoff; the entry just before it
	// is the newest sample with age >= offset.
	i := sort.Search(len(buf), func(i int) bool {
		return buf[i].Timestamp.After(cutoff)
	})
	if i == 0 {
		return models.HistoryEntry{}, false
	}
	return buf[i-1], true
}

// History returns the offset->sample map for a symbol, containing only the
// offsets with sufficient history.
func (t *Tracker) History(symbol string) map[time.Duration]models.HistoryEntry {
	out := make(map[time.Duration]models.HistoryEntry, len(t.offsets))
	for _, off := range t.offsets {
		if e, ok := t.Get(symbol, off); ok {
			out[off] = e
		}
	}
	return out
}

// Clear drops all recorded history.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffers = make(map[string][]models.HistoryEntry)
	t.lastSeen = make(map[string]time.Time)
}
