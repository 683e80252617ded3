// Package rules evaluates user-defined and legacy alert rules against
// symbol snapshots and their rolling history.
package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/dkrylov/coinsentry/internal/models"
)

const equalsEpsilon = 1e-9

// Timeframe labels accepted in conditions, mapped to history offsets.
var timeframeOffsets = map[string]time.Duration{
	"1m":  1 * time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
}

const defaultTimeframe = "5m"

// Evaluator decides which alerts fire for a set of symbols and rules. It
// holds no mutable state: evaluation is a pure function of its inputs, so
// repeated calls with identical snapshots yield identical alert sets.
type Evaluator struct{}

// NewEvaluator creates a rule evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// conditionResult is the outcome of one satisfied condition.
type conditionResult struct {
	value     float64
	threshold float64
	timeframe string
	severity  string // non-empty for legacy presets, overrides the rule's
}

// Evaluate checks every enabled rule against every candidate symbol and
// returns one alert per fully satisfied rule per symbol, in input symbol
// order. Missing history makes a rule silently not fire for that symbol.
func (e *Evaluator) Evaluate(snaps []*models.Snapshot, ruleSet []models.Rule, mode models.MarketMode) []models.Alert {
	var alerts []models.Alert
	for _, snap := range snaps {
		for i := range ruleSet {
			rule := &ruleSet[i]
			if !rule.Enabled || !rule.AppliesTo(snap.Symbol) {
				continue
			}
			res, ok := e.evaluateRule(snap, rule, mode)
			if !ok {
				continue
			}
			alerts = append(alerts, buildAlert(snap, rule, res))
		}
	}
	return alerts
}

// evaluateRule applies AND semantics over the rule's conditions. The
// returned result carries the first condition's metrics for the alert body.
func (e *Evaluator) evaluateRule(snap *models.Snapshot, rule *models.Rule, mode models.MarketMode) (conditionResult, bool) {
	var first conditionResult
	for i, cond := range rule.Conditions {
		res, ok := e.evaluateCondition(snap, cond, mode)
		if !ok {
			return conditionResult{}, false
		}
		if i == 0 {
			first = res
		} else if res.severity != "" && first.severity == "" {
			first.severity = res.severity
		}
	}
	return first, true
}

func (e *Evaluator) evaluateCondition(snap *models.Snapshot, cond models.Condition, mode models.MarketMode) (conditionResult, bool) {
	if handler, ok := legacyHandlers[cond.Type]; ok {
		return handler(snap, mode)
	}
	return evaluateSimple(snap, cond)
}

// evaluateSimple computes the single scalar for a threshold condition and
// compares it against the configured threshold.
func evaluateSimple(snap *models.Snapshot, cond models.Condition) (conditionResult, bool) {
	tf := cond.Timeframe
	if tf == "" {
		tf = defaultTimeframe
	}
	offset, ok := timeframeOffsets[tf]
	if !ok {
		return conditionResult{}, false
	}

	var value float64
	switch cond.Type {
	case models.TypePricePump, models.TypePriceDump:
		h, ok := snap.History[offset]
		if !ok || h.Price == 0 {
			return conditionResult{}, false
		}
		value = (snap.LastPrice - h.Price) / h.Price * 100
		if cond.Type == models.TypePriceDump {
			value = -value
		}
	case models.TypeVolumeSpike, models.TypeVolumeDrop:
		h, ok := snap.History[offset]
		if !ok {
			return conditionResult{}, false
		}
		value = snap.QuoteVolume - h.Volume
		if cond.Type == models.TypeVolumeDrop {
			value = -value
		}
	case models.TypeVCPSignal:
		value = snap.Indicators.VCP
	case models.TypeFibonacciBreak:
		r1 := snap.Indicators.Pivots.R1
		if r1 == 0 {
			return conditionResult{}, false
		}
		value = (snap.LastPrice - r1) / r1 * 100
	case models.TypeTrendReversal:
		h, ok := snap.History[offset]
		if !ok {
			return conditionResult{}, false
		}
		value = (snap.Indicators.PriceToWA - h.PriceToWA) * 100
	default:
		return conditionResult{}, false
	}

	if !compare(value, cond.Threshold, cond.Comparison) {
		return conditionResult{}, false
	}
	return conditionResult{value: value, threshold: cond.Threshold, timeframe: tf}, true
}

func compare(value, threshold float64, comparison string) bool {
	switch comparison {
	case models.CompareGreaterThan:
		return value > threshold
	case models.CompareLessThan:
		return value < threshold
	case models.CompareEquals:
		return math.Abs(value-threshold) < equalsEpsilon
	default:
		// Unknown operators never match; a typo must not fire alerts.
		return false
	}
}

// buildAlert creates the immutable alert record for a fired rule. The ID
// embeds the snapshot timestamp, so identical inputs produce identical IDs.
func buildAlert(snap *models.Snapshot, rule *models.Rule, res conditionResult) models.Alert {
	severity := res.severity
	if severity == "" {
		severity = rule.Severity
	}
	if severity == "" {
		severity = models.SeverityMedium
	}

	condType := ""
	if len(rule.Conditions) > 0 {
		condType = rule.Conditions[0].Type
	}

	return models.Alert{
		ID:        fmt.Sprintf("%d-%s-%s", snap.Timestamp.UnixNano(), snap.Symbol, condType),
		Symbol:    snap.Symbol,
		Type:      condType,
		Severity:  severity,
		Title:     rule.Name,
		Message:   fmt.Sprintf("%s: %s fired at %.8g (threshold %.8g)", snap.Symbol, condType, res.value, res.threshold),
		Value:     res.value,
		Threshold: res.threshold,
		Timeframe: res.timeframe,
		Timestamp: snap.Timestamp,
	}
}
