/*
Package engine provides the core billing and KPI aggregation engine.

PURPOSE:
  This package contains the domain types and algorithms that turn raw
  encounter-level service records into validated monthly productivity and
  financial KPIs: record validation, effective-dated rate resolution,
  15-minute unit conversion, per-encounter pricing, and monthly rollups
  with derived ratios.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A fixed-point currency amount (2 fractional digits)
  - EncounterRecord: One raw service record (date, code, duration, flags)
  - ValidatedEncounter: A record that survived validation
  - PricedEncounter: A validated record with resolved quantity and revenue
  - Month: A year-month key used for grouping and ordering
  - MonthlyKPI: One output row per calendar month

DESIGN PRINCIPLES:
  1. Immutability: Records are never mutated after ingestion
  2. Precision: Uses decimal.Decimal to avoid floating-point drift in totals
  3. Purity: The engine is a synchronous batch transformation with no I/O
  4. Explicit nulls: Undefined ratios are nil pointers, never fake zeros

PIPELINE:
  records -> Validate -> Resolve + ConvertUnits -> Price -> Aggregate

SEE ALSO:
  - validate.go: Record Validator
  - rates.go:    Rate table and Rate Resolver
  - units.go:    Unit Converter
  - pricing.go:  Revenue Calculator
  - aggregate.go: Monthly Aggregator
  - engine.go:   KPI Facade orchestrating the above
*/
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point currency amount
// =============================================================================

// MoneyPrecision is the native precision of all currency amounts.
const MoneyPrecision = 2

// Money is a currency amount with 2 fractional digits. All financial
// arithmetic in the engine goes through Money so that monthly totals are
// exactly reproducible across platforms.
type Money struct {
	Value decimal.Decimal
}

// NewMoney parses a currency amount from its string form (e.g. "110.00").
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	return Money{Value: d.Round(MoneyPrecision)}, nil
}

// MustMoney parses a currency amount and panics on failure. For constants
// and tests only.
func MustMoney(s string) Money {
	m, err := NewMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromDecimal rounds an arbitrary decimal to currency precision.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Value: d.Round(MoneyPrecision)}
}

// MoneyFromFloat converts a float at the ingestion boundary. Internal code
// should never round-trip through floats.
func MoneyFromFloat(f float64) Money {
	return Money{Value: decimal.NewFromFloat(f).Round(MoneyPrecision)}
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money { return Money{Value: m.Value.Sub(o.Value)} }

// MulInt multiplies by a whole quantity (billable units or encounters).
func (m Money) MulInt(q int64) Money {
	return Money{Value: m.Value.Mul(decimal.NewFromInt(q)).Round(MoneyPrecision)}
}

func (m Money) IsZero() bool     { return m.Value.IsZero() }
func (m Money) IsNegative() bool { return m.Value.IsNegative() }
func (m Money) IsPositive() bool { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool {
	return m.Value.Equal(o.Value)
}

// String renders with exactly two fractional digits (e.g. "80.00").
func (m Money) String() string { return m.Value.StringFixed(MoneyPrecision) }

// MarshalJSON renders Money as a quoted fixed-2 string ("80.00").
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted strings and bare JSON numbers.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := NewMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// =============================================================================
// IDENTIFIERS AND ENUMS
// =============================================================================

// ServiceCode identifies a billable service (CPT/HCPCS style, e.g. "T1015").
type ServiceCode string

// EncounterStatus is the recorded outcome of a service encounter.
type EncounterStatus string

const (
	StatusCompleted EncounterStatus = "completed"
	StatusCancelled EncounterStatus = "cancelled"
	StatusNoShow    EncounterStatus = "no_show"
	StatusOther     EncounterStatus = "other"
)

// ParseStatus normalizes raw status text from source files. Anything not
// recognized maps to StatusOther; unknown statuses are excluded by the
// Validator anyway, so lenient parsing never invents billable work.
func ParseStatus(raw string) EncounterStatus {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, "-", "_"))) {
	case "completed", "complete":
		return StatusCompleted
	case "cancelled", "canceled":
		return StatusCancelled
	case "no_show", "noshow":
		return StatusNoShow
	default:
		return StatusOther
	}
}

// BillingMethod determines how an encounter converts into billable quantity.
type BillingMethod string

const (
	// MethodTimeBased bills in 15-minute units, floored from total duration.
	MethodTimeBased BillingMethod = "time_based"

	// MethodPerEncounter bills a flat rate per encounter regardless of duration.
	MethodPerEncounter BillingMethod = "per_encounter"
)

// ParseBillingMethod parses a billing method from configuration text.
func ParseBillingMethod(raw string) (BillingMethod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(MethodTimeBased):
		return MethodTimeBased, nil
	case string(MethodPerEncounter):
		return MethodPerEncounter, nil
	default:
		return "", fmt.Errorf("unknown billing method %q", raw)
	}
}

// =============================================================================
// ENCOUNTER RECORDS - Raw input and validated form
// =============================================================================

// EncounterRecord is one row of raw input, already parsed from tabular
// storage by an ingestion collaborator. Immutable once created.
type EncounterRecord struct {
	Date            time.Time // day granularity, timezone-naive (UTC)
	Code            ServiceCode
	DurationMinutes decimal.Decimal
	Billable        bool
	Status          EncounterStatus
}

// ValidatedEncounter is an EncounterRecord that passed validation.
//
// INVARIANTS:
//   - Billable was true and Status was completed
//   - DurationMinutes >= 0
type ValidatedEncounter struct {
	Date            time.Time
	Code            ServiceCode
	DurationMinutes decimal.Decimal

	// SourceRow is the index of the originating record in the input slice,
	// used to tie pricing failures back to specific rows in diagnostics.
	SourceRow int
}

// PricedEncounter is a ValidatedEncounter annotated with its resolved
// billing method, billable quantity and revenue.
type PricedEncounter struct {
	ValidatedEncounter

	Method   BillingMethod
	Quantity int64 // units for time_based, 1 for per_encounter
	Revenue  Money
}

// =============================================================================
// MONTH - Year-month grouping key
// =============================================================================

// Month is a calendar year-month key. It is comparable (usable as a map
// key) and totally ordered, which keeps grouping order-independent.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing the given date.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses a "2006-01" formatted month key.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// Before reports whether m is strictly earlier than o.
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// Start returns the first day of the month (UTC midnight).
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (m Month) String() string { return m.Start().Format("2006-01") }

// MarshalText renders the "2006-01" form, so Month serializes as a plain
// string in JSON output and as a usable map key.
func (m Month) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText parses the "2006-01" form.
func (m *Month) UnmarshalText(data []byte) error {
	parsed, err := ParseMonth(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// =============================================================================
// MONTHLY KPI - Output rows
// =============================================================================

// MonthlyKPI is one output row per calendar month. Ratio fields are nil
// when their denominator is zero or their input was not supplied - an
// undefined metric is represented explicitly, never as a zero.
type MonthlyKPI struct {
	Period Month

	// ClientMinutes is the exact sum of the month's durations. It is the
	// quantity that round-trips: summing it across all rows always equals
	// the total validated minutes.
	ClientMinutes decimal.Decimal

	// ClientHours is ClientMinutes/60 rendered at HoursPrecision. Hours of
	// a month are generally non-terminating (10 min = 1/6 h), so derived
	// ratios are computed from ClientMinutes, never from this rendering.
	ClientHours decimal.Decimal

	TotalRevenue   Money
	EncounterCount int
	TotalUnits     int64

	// TotalRevenue per client hour (from exact minutes); nil iff
	// ClientMinutes == 0.
	RevenuePerHour *decimal.Decimal

	// TotalRevenue / EncounterCount; nil iff EncounterCount == 0.
	RevenuePerEncounter *decimal.Decimal

	// Client hours over the baseline (computed from exact minutes); nil
	// when no positive baseline supplied.
	UtilizationRate *decimal.Decimal

	// Client hours over the goal (computed from exact minutes); nil when
	// no positive goal supplied.
	GoalAttainment *decimal.Decimal

	// TotalRevenue / compensation; nil unless a positive compensation
	// figure for this month was supplied by the caller.
	ROI *decimal.Decimal
}

// MonthlyServiceKPI is the service-mix rollup: one row per (month, code).
type MonthlyServiceKPI struct {
	Period     Month
	Code       ServiceCode
	Encounters int
	TotalUnits int64
	Revenue    Money
}
