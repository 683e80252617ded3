// Package storage provides SQLite-backed persistence for alerts, rules,
// and anomaly-detector checkpoints.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dkrylov/coinsentry/internal/anomaly"
	"github.com/dkrylov/coinsentry/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db        *sql.DB
	maxAlerts int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/coinsentry/data.db.
func New(maxAlerts int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "coinsentry", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxAlerts: maxAlerts}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id         TEXT PRIMARY KEY,
			symbol     TEXT NOT NULL,
			type       TEXT NOT NULL,
			severity   TEXT NOT NULL,
			title      TEXT NOT NULL,
			message    TEXT,
			value      REAL NOT NULL,
			threshold  REAL NOT NULL,
			timeframe  TEXT,
			timestamp  INTEGER NOT NULL,
			read       INTEGER NOT NULL DEFAULT 0,
			dismissed  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol, timestamp)`,
		`CREATE TABLE IF NOT EXISTS rules (
			id                   TEXT PRIMARY KEY,
			name                 TEXT NOT NULL,
			enabled              INTEGER NOT NULL DEFAULT 1,
			conditions           TEXT NOT NULL,
			symbols              TEXT NOT NULL DEFAULT '[]',
			severity             TEXT,
			notification_enabled INTEGER NOT NULL DEFAULT 1,
			sound_enabled        INTEGER NOT NULL DEFAULT 0,
			created_at           INTEGER NOT NULL,
			last_triggered       INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS anomaly_state (
			symbol     TEXT NOT NULL,
			timeframe  TEXT NOT NULL,
			window     TEXT NOT NULL DEFAULT '[]',
			ema        REAL NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, timeframe)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const alertCols = `id, symbol, type, severity, title, message, value, threshold, timeframe, timestamp, read, dismissed`

// AddAlert appends one alert to the history, trimming the table to the
// configured cap (oldest first).
func (s *Storage) AddAlert(alert *models.Alert) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO alerts (`+alertCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		alert.ID, alert.Symbol, alert.Type, alert.Severity, alert.Title, alert.Message,
		alert.Value, alert.Threshold, alert.Timeframe,
		alert.Timestamp.UnixNano(), boolToInt(alert.Read), boolToInt(alert.Dismissed),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if s.maxAlerts > 0 {
		if _, err = tx.Exec(`
			DELETE FROM alerts WHERE id NOT IN (
				SELECT id FROM alerts ORDER BY timestamp DESC LIMIT ?
			)`, s.maxAlerts); err != nil {
			return fmt.Errorf("failed to enforce alert cap: %w", err)
		}
	}

	return tx.Commit()
}

// GetAlerts returns alerts newer than since, newest first, up to limit.
func (s *Storage) GetAlerts(limit int, since time.Time) ([]*models.Alert, error) {
	rows, err := s.db.Query(`
		SELECT `+alertCols+` FROM alerts
		WHERE timestamp > ?
		ORDER BY timestamp DESC LIMIT ?`,
		since.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		var a models.Alert
		var ts int64
		var read, dismissed int
		if err := rows.Scan(&a.ID, &a.Symbol, &a.Type, &a.Severity, &a.Title, &a.Message,
			&a.Value, &a.Threshold, &a.Timeframe, &ts, &read, &dismissed); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Timestamp = time.Unix(0, ts)
		a.Read = read != 0
		a.Dismissed = dismissed != 0
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// CountAlertsSince counts one symbol's alerts newer than since.
func (s *Storage) CountAlertsSince(symbol string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM alerts WHERE symbol = ? AND timestamp > ?`,
		symbol, since.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

// MarkAlertRead flags one alert as read.
func (s *Storage) MarkAlertRead(id string) error {
	return s.setAlertFlag(id, "read")
}

// DismissAlert flags one alert as dismissed.
func (s *Storage) DismissAlert(id string) error {
	return s.setAlertFlag(id, "dismissed")
}

func (s *Storage) setAlertFlag(id, column string) error {
	res, err := s.db.Exec(`UPDATE alerts SET `+column+` = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}
	return nil
}

// PruneAlerts deletes alerts older than before and returns how many were
// removed.
func (s *Storage) PruneAlerts(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM alerts WHERE timestamp < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}
	return res.RowsAffected()
}

// SaveRule inserts or replaces one rule.
func (s *Storage) SaveRule(rule *models.Rule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	symbolsJSON, err := json.Marshal(rule.Symbols)
	if err != nil {
		return fmt.Errorf("failed to marshal symbols: %w", err)
	}
	var lastTriggered interface{}
	if rule.LastTriggered != nil {
		lastTriggered = rule.LastTriggered.UnixNano()
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO rules
			(id, name, enabled, conditions, symbols, severity,
			 notification_enabled, sound_enabled, created_at, last_triggered)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, rule.Name, boolToInt(rule.Enabled), string(conditionsJSON), string(symbolsJSON),
		rule.Severity, boolToInt(rule.NotificationEnabled), boolToInt(rule.SoundEnabled),
		rule.CreatedAt.UnixNano(), lastTriggered,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// GetRules returns all persisted rules.
func (s *Storage) GetRules() ([]models.Rule, error) {
	rows, err := s.db.Query(`
		SELECT id, name, enabled, conditions, symbols, severity,
		       notification_enabled, sound_enabled, created_at, last_triggered
		FROM rules`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules := []models.Rule{}
	for rows.Next() {
		var r models.Rule
		var enabled, notif, sound int
		var conditionsJSON, symbolsJSON string
		var createdAt int64
		var lastTriggered sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Name, &enabled, &conditionsJSON, &symbolsJSON,
			&r.Severity, &notif, &sound, &createdAt, &lastTriggered); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if err := json.Unmarshal([]byte(conditionsJSON), &r.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
		if err := json.Unmarshal([]byte(symbolsJSON), &r.Symbols); err != nil {
			return nil, fmt.Errorf("failed to unmarshal symbols: %w", err)
		}
		r.Enabled = enabled != 0
		r.NotificationEnabled = notif != 0
		r.SoundEnabled = sound != 0
		r.CreatedAt = time.Unix(0, createdAt)
		if lastTriggered.Valid {
			t := time.Unix(0, lastTriggered.Int64)
			r.LastTriggered = &t
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// DeleteRule removes one rule.
func (s *Storage) DeleteRule(id string) error {
	res, err := s.db.Exec(`DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	return nil
}

// SaveAnomalyState checkpoints one symbol/timeframe volume-history state.
func (s *Storage) SaveAnomalyState(symbol, timeframe string, state anomaly.VolumeState) error {
	windowJSON, err := json.Marshal(state.Window)
	if err != nil {
		return fmt.Errorf("failed to marshal window: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO anomaly_state (symbol, timeframe, window, ema, updated_at)
		VALUES (?,?,?,?,?)`,
		symbol, timeframe, string(windowJSON), state.EMA, state.LastUpdate.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save anomaly state: %w", err)
	}
	return nil
}

// LoadAnomalyStates loads all checkpointed detector state, keyed by symbol
// then timeframe label.
func (s *Storage) LoadAnomalyStates() (map[string]map[string]anomaly.VolumeState, error) {
	rows, err := s.db.Query(`SELECT symbol, timeframe, window, ema, updated_at FROM anomaly_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomaly states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]map[string]anomaly.VolumeState)
	for rows.Next() {
		var symbol, timeframe, windowJSON string
		var st anomaly.VolumeState
		var updatedAt int64
		if err := rows.Scan(&symbol, &timeframe, &windowJSON, &st.EMA, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly state: %w", err)
		}
		if err := json.Unmarshal([]byte(windowJSON), &st.Window); err != nil {
			return nil, fmt.Errorf("failed to unmarshal window: %w", err)
		}
		st.LastUpdate = time.Unix(0, updatedAt)
		if states[symbol] == nil {
			states[symbol] = make(map[string]anomaly.VolumeState)
		}
		states[symbol][timeframe] = st
	}
	return states, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
