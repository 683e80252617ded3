// Package warmup reports how trustworthy the multi-horizon derived metrics
// are for each streaming symbol: a horizon is ready once the symbol has
// been subscribed at least that long.
package warmup

import (
	"time"

	"github.com/dkrylov/coinsentry/internal/models"
)

// horizon pairs a display label with its required subscription age.
type horizon struct {
	label    string
	duration time.Duration
}

// horizons are the derived-metric look-back windows, shortest first.
var horizons = []horizon{
	{"5m", 5 * time.Minute},
	{"15m", 15 * time.Minute},
	{"1h", time.Hour},
	{"4h", 4 * time.Hour},
	{"8h", 8 * time.Hour},
	{"12h", 12 * time.Hour},
	{"1d", 24 * time.Hour},
}

// Tracker computes warm-up status. It holds no state of its own beyond the
// clock; subscription start times are supplied by the streaming collaborator.
type Tracker struct {
	now func() time.Time
}

// New creates a warm-up tracker using the given clock; nil means time.Now.
func New(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Status recomputes per-horizon readiness for the given symbols.
// OverallProgress is the mean readiness fraction across all horizons and
// symbols, 0-100. Symbols without a start time count as fully cold.
func (t *Tracker) Status(symbols []string, startTimes map[string]time.Time) models.WarmupStatus {
	status := models.WarmupStatus{
		TotalSymbols: len(symbols),
		Timeframes:   make(map[string]models.HorizonReadiness, len(horizons)),
	}
	for _, h := range horizons {
		status.Timeframes[h.label] = models.HorizonReadiness{Total: len(symbols)}
	}
	if len(symbols) == 0 {
		return status
	}

	now := t.now()
	var progressSum float64
	for _, sym := range symbols {
		start, ok := startTimes[sym]
		if !ok {
			continue
		}
		elapsed := now.Sub(start)
		for _, h := range horizons {
			frac := float64(elapsed) / float64(h.duration)
			if frac >= 1 {
				frac = 1
				r := status.Timeframes[h.label]
				r.Ready++
				status.Timeframes[h.label] = r
			} else if frac < 0 {
				frac = 0
			}
			progressSum += frac
		}
	}
	status.OverallProgress = progressSum / float64(len(symbols)*len(horizons)) * 100
	return status
}
