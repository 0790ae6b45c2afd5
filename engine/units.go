/*
units.go - Unit Converter

PURPOSE:
  Turns a validated encounter's duration into a billable quantity under its
  billing method.

THE 15-MINUTE RULE:
  Time-based services bill in 15-minute units, FLOORED from total duration.
  A 14.9-minute encounter yields 0 units (zero revenue, but its minutes
  still count toward client hours). Truncation is the billing contract:
  never round, never ceil.

PER-ENCOUNTER:
  Flat quantity of 1 regardless of duration.

CONTRACT:
  Durations are non-negative by the time they get here - the Validator
  excludes bad rows. A negative duration returns InvalidDurationError,
  which signals an upstream ingestion bug rather than bad user data.
*/
package engine

import "github.com/shopspring/decimal"

// MinutesPerUnit is the billing interval for time-based services.
const MinutesPerUnit = 15

var minutesPerUnit = decimal.NewFromInt(MinutesPerUnit)

// ConvertUnits returns the billable quantity for a duration under the
// given billing method.
func ConvertUnits(durationMinutes decimal.Decimal, method BillingMethod) (int64, error) {
	if durationMinutes.IsNegative() {
		return 0, &InvalidDurationError{DurationMinutes: durationMinutes}
	}

	if method == MethodTimeBased {
		return durationMinutes.Div(minutesPerUnit).Floor().IntPart(), nil
	}
	// Per-encounter: flat quantity of 1.
	return 1, nil
}
