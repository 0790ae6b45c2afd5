/*
validate.go - Record Validator

PURPOSE:
  Normalizes and filters raw encounter records before pricing. Validation
  failures are per-row and recoverable: the row is excluded and counted,
  the pipeline continues.

RULES:
  - Drop rows with Billable == false
  - Drop rows whose Status is not completed
  - Drop rows with a negative duration (recorded as invalid_duration)

INVARIANT:
  Every ValidatedEncounter came from a billable, completed record with a
  non-negative duration. Downstream components rely on this.

SEE ALSO:
  - units.go: assumes non-negative durations (defensive check only)
  - engine.go: carries the ValidationReport into run diagnostics
*/
package engine

// =============================================================================
// DROP REASONS
// =============================================================================

// DropReason classifies why a row was excluded during validation.
type DropReason string

const (
	DropNotBillable     DropReason = "not_billable"
	DropNotCompleted    DropReason = "not_completed"
	DropInvalidDuration DropReason = "invalid_duration"
)

// RowFailure records one excluded row.
type RowFailure struct {
	Row    int
	Code   ServiceCode
	Reason DropReason
}

// ValidationReport summarizes a validation pass.
type ValidationReport struct {
	RowsSeen    int
	RowsKept    int
	RowsDropped int
	ByReason    map[DropReason]int
	Failures    []RowFailure
}

func (r ValidationReport) dropped(row int, code ServiceCode, reason DropReason) ValidationReport {
	r.RowsDropped++
	r.ByReason[reason]++
	r.Failures = append(r.Failures, RowFailure{Row: row, Code: code, Reason: reason})
	return r
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Validate filters raw records down to billable, completed encounters with
// sane durations. It never fails: problem rows are excluded and reported.
func Validate(records []EncounterRecord) ([]ValidatedEncounter, ValidationReport) {
	report := ValidationReport{
		RowsSeen: len(records),
		ByReason: make(map[DropReason]int),
	}

	valid := make([]ValidatedEncounter, 0, len(records))
	for i, rec := range records {
		switch {
		case !rec.Billable:
			report = report.dropped(i, rec.Code, DropNotBillable)
		case rec.Status != StatusCompleted:
			report = report.dropped(i, rec.Code, DropNotCompleted)
		case rec.DurationMinutes.IsNegative():
			report = report.dropped(i, rec.Code, DropInvalidDuration)
		default:
			valid = append(valid, ValidatedEncounter{
				Date:            rec.Date,
				Code:            rec.Code,
				DurationMinutes: rec.DurationMinutes,
				SourceRow:       i,
			})
		}
	}

	report.RowsKept = len(valid)
	return valid, report
}
