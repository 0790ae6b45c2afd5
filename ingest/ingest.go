/*
Package ingest parses delimited encounter files into engine records.

PURPOSE:
  The ingestion collaborator: reads the source CSV (one encounter per row)
  and produces engine.EncounterRecord values with all type coercion done
  before records reach the Validator. Parsing failures are per-row and
  recoverable - the row is skipped and counted, the read continues.

EXPECTED COLUMNS (header row required, order free, extras ignored):
  encounter_date    2006-01-02
  cpt_code          service code
  duration_min      decimal minutes; empty coerces to 0
  is_billable       true/false, 1/0, yes/no
  encounter_status  completed / cancelled / no-show / other (lenient)

COERCION POLICY:
  An empty duration coerces to 0 (the source data uses blank for
  "not recorded"). A present but unparseable duration, date, or billable
  flag fails the row. Unknown statuses parse to StatusOther and are left
  for the Validator to drop, so ingestion never decides billability.
*/
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/revenue-engine/engine"
)

const dateLayout = "2006-01-02"

// Required column names.
const (
	colDate     = "encounter_date"
	colCode     = "cpt_code"
	colDuration = "duration_min"
	colBillable = "is_billable"
	colStatus   = "encounter_status"
)

// =============================================================================
// REPORT
// =============================================================================

// RowError records one row that could not be parsed.
type RowError struct {
	Row   int // 1-based data row number (header excluded)
	Field string
	Err   error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s: %v", e.Row, e.Field, e.Err)
}

// Report summarizes an ingestion pass.
type Report struct {
	RowsSeen   int
	RowsParsed int
	Failures   []RowError
}

// =============================================================================
// READERS
// =============================================================================

// ReadEncountersFile opens and parses an encounter CSV file.
func ReadEncountersFile(path string) ([]engine.EncounterRecord, Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Report{}, fmt.Errorf("open encounters file: %w", err)
	}
	defer f.Close()
	return ReadEncounters(f)
}

// ReadEncounters parses encounter rows from a CSV stream. A malformed
// header or unreadable stream is fatal; malformed rows are reported and
// skipped.
func ReadEncounters(r io.Reader) ([]engine.EncounterRecord, Report, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, Report{}, fmt.Errorf("read header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, Report{}, err
	}

	var (
		records []engine.EncounterRecord
		report  Report
	)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, Report{}, fmt.Errorf("read row: %w", err)
		}

		report.RowsSeen++
		rec, rowErr := parseRow(row, cols, report.RowsSeen)
		if rowErr != nil {
			report.Failures = append(report.Failures, *rowErr)
			continue
		}
		records = append(records, rec)
		report.RowsParsed++
	}
	return records, report, nil
}

// =============================================================================
// ROW PARSING
// =============================================================================

type columns struct {
	date, code, duration, billable, status int
}

func mapColumns(header []string) (columns, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	cols := columns{}
	for _, req := range []struct {
		name string
		dst  *int
	}{
		{colDate, &cols.date},
		{colCode, &cols.code},
		{colDuration, &cols.duration},
		{colBillable, &cols.billable},
		{colStatus, &cols.status},
	} {
		i, ok := index[req.name]
		if !ok {
			return columns{}, fmt.Errorf("missing required column %q", req.name)
		}
		*req.dst = i
	}
	return cols, nil
}

func parseRow(row []string, cols columns, rowNum int) (engine.EncounterRecord, *RowError) {
	field := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	date, err := time.Parse(dateLayout, field(cols.date))
	if err != nil {
		return engine.EncounterRecord{}, &RowError{Row: rowNum, Field: colDate, Err: err}
	}

	code := field(cols.code)
	if code == "" {
		return engine.EncounterRecord{}, &RowError{Row: rowNum, Field: colCode, Err: fmt.Errorf("empty service code")}
	}

	duration := decimal.Zero
	if raw := field(cols.duration); raw != "" {
		duration, err = decimal.NewFromString(raw)
		if err != nil {
			return engine.EncounterRecord{}, &RowError{Row: rowNum, Field: colDuration, Err: err}
		}
	}

	billable, err := parseBool(field(cols.billable))
	if err != nil {
		return engine.EncounterRecord{}, &RowError{Row: rowNum, Field: colBillable, Err: err}
	}

	return engine.EncounterRecord{
		Date:            date,
		Code:            engine.ServiceCode(code),
		DurationMinutes: duration,
		Billable:        billable,
		Status:          engine.ParseStatus(field(cols.status)),
	}, nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "true", "t", "1", "yes", "y":
		return true, nil
	case "false", "f", "0", "no", "n":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}
