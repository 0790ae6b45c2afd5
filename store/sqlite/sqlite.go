/*
Package sqlite provides SQLite-backed storage for the revenue engine's
collaborators.

PURPOSE:
  The engine itself is a pure batch transformation and owns no storage.
  This package is the persistence collaborator around it: already-parsed
  encounter records, the current rate-table configuration, and a history
  of KPI runs live here so the HTTP API can operate statefully.

KEY TABLES:
  encounters:  Immutable encounter rows (insert and list only)
  rate_rules:  Current rate configuration (replaced atomically as a set)
  kpi_runs:    One row per pipeline run with its diagnostics counts

APPEND-ONLY ENCOUNTERS:
  Encounter rows are source data - there is no UPDATE or DELETE path.
  Corrections happen upstream in the source file and re-ingestion.

RATE RULES:
  The rate table is treated as a unit of configuration: ReplaceRateRules
  swaps the whole set in one transaction so a run never sees a half-
  updated schedule.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, with SQLite in WAL mode for better
  read concurrency.

USAGE:
  store, err := sqlite.New("./data/revenue.db")  // or ":memory:"
  if err != nil { log.Fatal(err) }
  defer store.Close()

SEE ALSO:
  - api/handlers.go: the only consumer of this package
  - ingest: produces the encounter records stored here
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/revenue-engine/engine"
)

const dateLayout = "2006-01-02"

// Store implements the collaborator storage on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Encounters (immutable source rows; insert and list only)
	CREATE TABLE IF NOT EXISTS encounters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		encounter_date TEXT NOT NULL,
		service_code TEXT NOT NULL,
		duration_min TEXT NOT NULL,
		is_billable INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_encounters_date
		ON encounters(encounter_date);
	CREATE INDEX IF NOT EXISTS idx_encounters_code
		ON encounters(service_code);

	-- Rate rules (current configuration, replaced as a set)
	CREATE TABLE IF NOT EXISTS rate_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		service_code TEXT NOT NULL,
		effective_start TEXT NOT NULL,
		effective_end TEXT,
		billing_method TEXT NOT NULL,
		rate TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rate_rules_code
		ON rate_rules(service_code, effective_start);

	-- KPI run history (diagnostics only; KPI rows are recomputed on demand)
	CREATE TABLE IF NOT EXISTS kpi_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		rows_seen INTEGER NOT NULL,
		rows_validated INTEGER NOT NULL,
		rows_priced INTEGER NOT NULL,
		pricing_failures INTEGER NOT NULL,
		options_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_kpi_runs_started
		ON kpi_runs(started_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENCOUNTERS
// =============================================================================

// AddEncounters inserts encounter records atomically.
func (s *Store) AddEncounters(ctx context.Context, records []engine.EncounterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO encounters (encounter_date, service_code, duration_min, is_billable, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, rec := range records {
		billable := 0
		if rec.Billable {
			billable = 1
		}
		_, err := stmt.ExecContext(ctx,
			rec.Date.Format(dateLayout),
			string(rec.Code),
			rec.DurationMinutes.String(),
			billable,
			string(rec.Status),
			now,
		)
		if err != nil {
			return fmt.Errorf("insert encounter: %w", err)
		}
	}
	return tx.Commit()
}

// ListEncounters returns all stored encounters ordered by date.
func (s *Store) ListEncounters(ctx context.Context) ([]engine.EncounterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT encounter_date, service_code, duration_min, is_billable, status
		FROM encounters ORDER BY encounter_date, id`)
	if err != nil {
		return nil, fmt.Errorf("list encounters: %w", err)
	}
	defer rows.Close()

	var records []engine.EncounterRecord
	for rows.Next() {
		var (
			dateStr, code, durationStr, status string
			billable                           int
		)
		if err := rows.Scan(&dateStr, &code, &durationStr, &billable, &status); err != nil {
			return nil, fmt.Errorf("scan encounter: %w", err)
		}
		date, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("stored encounter date %q: %w", dateStr, err)
		}
		duration, err := decimal.NewFromString(durationStr)
		if err != nil {
			return nil, fmt.Errorf("stored duration %q: %w", durationStr, err)
		}
		records = append(records, engine.EncounterRecord{
			Date:            date,
			Code:            engine.ServiceCode(code),
			DurationMinutes: duration,
			Billable:        billable != 0,
			Status:          engine.EncounterStatus(status),
		})
	}
	return records, rows.Err()
}

// CountEncounters returns the number of stored encounters.
func (s *Store) CountEncounters(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM encounters`).Scan(&n)
	return n, err
}

// =============================================================================
// RATE RULES
// =============================================================================

// ReplaceRateRules swaps the entire rule set in one transaction.
func (s *Store) ReplaceRateRules(ctx context.Context, rules []engine.RateRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rate_rules`); err != nil {
		return fmt.Errorf("clear rate rules: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rate_rules (service_code, effective_start, effective_end, billing_method, rate)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rules {
		var end any
		if !r.OpenEnded() {
			end = r.EffectiveEnd.Format(dateLayout)
		}
		_, err := stmt.ExecContext(ctx,
			string(r.Code),
			r.EffectiveStart.Format(dateLayout),
			end,
			string(r.Method),
			r.Rate.String(),
		)
		if err != nil {
			return fmt.Errorf("insert rate rule: %w", err)
		}
	}
	return tx.Commit()
}

// ListRateRules returns the stored rule set ordered by (code, start).
func (s *Store) ListRateRules(ctx context.Context) ([]engine.RateRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT service_code, effective_start, effective_end, billing_method, rate
		FROM rate_rules ORDER BY service_code, effective_start`)
	if err != nil {
		return nil, fmt.Errorf("list rate rules: %w", err)
	}
	defer rows.Close()

	var rules []engine.RateRule
	for rows.Next() {
		var (
			code, startStr, methodStr, rateStr string
			endStr                             sql.NullString
		)
		if err := rows.Scan(&code, &startStr, &endStr, &methodStr, &rateStr); err != nil {
			return nil, fmt.Errorf("scan rate rule: %w", err)
		}
		start, err := time.Parse(dateLayout, startStr)
		if err != nil {
			return nil, fmt.Errorf("stored effective_start %q: %w", startStr, err)
		}
		var end time.Time
		if endStr.Valid && endStr.String != "" {
			end, err = time.Parse(dateLayout, endStr.String)
			if err != nil {
				return nil, fmt.Errorf("stored effective_end %q: %w", endStr.String, err)
			}
		}
		method, err := engine.ParseBillingMethod(methodStr)
		if err != nil {
			return nil, fmt.Errorf("stored billing_method: %w", err)
		}
		rate, err := engine.NewMoney(rateStr)
		if err != nil {
			return nil, fmt.Errorf("stored rate %q: %w", rateStr, err)
		}
		rules = append(rules, engine.RateRule{
			Code:           engine.ServiceCode(code),
			EffectiveStart: start,
			EffectiveEnd:   end,
			Method:         method,
			Rate:           rate,
		})
	}
	return rules, rows.Err()
}

// =============================================================================
// KPI RUN HISTORY
// =============================================================================

// RunRecord is the persisted diagnostics of one pipeline run.
type RunRecord struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	RowsSeen        int
	RowsValidated   int
	RowsPriced      int
	PricingFailures int
	OptionsJSON     string
}

// RecordRun appends one run to the history.
func (s *Store) RecordRun(ctx context.Context, run RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kpi_runs (id, started_at, finished_at, rows_seen, rows_validated, rows_priced, pricing_failures, options_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.RowsSeen,
		run.RowsValidated,
		run.RowsPriced,
		run.PricingFailures,
		run.OptionsJSON,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListRuns returns run history, most recent first.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, rows_seen, rows_validated, rows_priced, pricing_failures, options_json
		FROM kpi_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			run                    RunRecord
			startedStr, finishedStr string
		)
		if err := rows.Scan(&run.ID, &startedStr, &finishedStr,
			&run.RowsSeen, &run.RowsValidated, &run.RowsPriced,
			&run.PricingFailures, &run.OptionsJSON); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.StartedAt, err = time.Parse(time.RFC3339Nano, startedStr); err != nil {
			return nil, fmt.Errorf("stored started_at %q: %w", startedStr, err)
		}
		if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedStr); err != nil {
			return nil, fmt.Errorf("stored finished_at %q: %w", finishedStr, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
