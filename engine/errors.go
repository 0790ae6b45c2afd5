/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All engine error types in one place for consistency and discoverability.
  Collaborator packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Rate resolution errors - missing or ambiguous rate rules
  2. Data-integrity errors  - overlapping rule ranges detected at load
  3. Contract violations    - invalid durations reaching the converter
  4. Run policy errors      - pricing-failure rate above the caller's limit

NOT ERRORS:
  Undefined ratios (revenue per hour in a zero-hour month) are represented
  as nil metric fields on MonthlyKPI, never as errors or fake zeros.

USAGE:
  Callers branch with errors.Is / errors.As:

    if errors.Is(err, engine.ErrRateNotFound) { ... }

    var overlap *engine.OverlapError
    if errors.As(err, &overlap) { ... }
*/
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRateNotFound is returned when no rate rule covers a
	// (service code, date) pair. Fatal for that encounter's pricing;
	// the run reports it and never silently assigns zero revenue.
	ErrRateNotFound = errors.New("no rate rule for service code and date")

	// ErrAmbiguousRate is returned when more than one rule matches a
	// (service code, date) pair. A data-integrity condition, reported
	// rather than resolved by first-match.
	ErrAmbiguousRate = errors.New("multiple rate rules match")

	// ErrOverlappingRules is returned at rate-table load time when two
	// rules for the same code have intersecting effective ranges.
	ErrOverlappingRules = errors.New("overlapping rate rule ranges")

	// ErrInvalidDuration indicates a negative duration reached the unit
	// converter. Defensive: the Validator excludes these upstream, so this
	// signals an ingestion contract violation.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrFailureThreshold is returned when the share of rows that failed
	// pricing exceeds the caller-specified limit for the run.
	ErrFailureThreshold = errors.New("pricing failure rate exceeds threshold")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RateNotFoundError reports an unresolvable (code, date) pair.
type RateNotFoundError struct {
	Code ServiceCode
	Date time.Time
}

func (e *RateNotFoundError) Error() string {
	return fmt.Sprintf("no rate rule for %s on %s", e.Code, e.Date.Format("2006-01-02"))
}

func (e *RateNotFoundError) Unwrap() error { return ErrRateNotFound }

// AmbiguousRateError reports a double-match during resolution.
type AmbiguousRateError struct {
	Code    ServiceCode
	Date    time.Time
	Matches int
}

func (e *AmbiguousRateError) Error() string {
	return fmt.Sprintf("%d rate rules match %s on %s", e.Matches, e.Code, e.Date.Format("2006-01-02"))
}

func (e *AmbiguousRateError) Unwrap() error { return ErrAmbiguousRate }

// OverlapError reports two intersecting rules for the same code,
// detected once at table construction.
type OverlapError struct {
	Code   ServiceCode
	First  RateRule
	Second RateRule
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("rate rules for %s overlap: %s and %s", e.Code, e.First.rangeString(), e.Second.rangeString())
}

func (e *OverlapError) Unwrap() error { return ErrOverlappingRules }

// InvalidDurationError reports a duration the converter refuses to handle.
type InvalidDurationError struct {
	DurationMinutes decimal.Decimal
}

func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("invalid duration %s minutes", e.DurationMinutes)
}

func (e *InvalidDurationError) Unwrap() error { return ErrInvalidDuration }

// FailureThresholdError reports an aborted run.
type FailureThresholdError struct {
	Failed      int
	Total       int
	FailureRate decimal.Decimal
	MaxRate     decimal.Decimal
}

func (e *FailureThresholdError) Error() string {
	return fmt.Sprintf("%d of %d rows failed pricing (rate %s > max %s)",
		e.Failed, e.Total, e.FailureRate.String(), e.MaxRate.String())
}

func (e *FailureThresholdError) Unwrap() error { return ErrFailureThreshold }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsDataIntegrity reports whether the error indicates bad rate-table data
// rather than bad encounter input.
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrOverlappingRules) || errors.Is(err, ErrAmbiguousRate)
}

// IsRowFailure reports whether the error is recoverable at row scope:
// the row is excluded and counted, the run continues.
func IsRowFailure(err error) bool {
	return errors.Is(err, ErrRateNotFound) ||
		errors.Is(err, ErrAmbiguousRate) ||
		errors.Is(err, ErrInvalidDuration)
}
