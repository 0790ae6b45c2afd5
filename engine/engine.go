/*
engine.go - KPI Facade

PURPOSE:
  Orchestrates the full pipeline in one call:

    records -> Validate -> Resolve + ConvertUnits -> Price -> Aggregate

  and collects diagnostics along the way. This is the entry point
  collaborators (API, CLI) use; they never wire the stages by hand.

FAILURE POLICY:
  Validation failures and pricing failures (missing/ambiguous rates) are
  row-scoped: the row is excluded and reported, the run continues. Failed
  rows are NEVER silently zero-priced. The run aborts only when the share
  of validated rows that failed pricing exceeds the caller's MaxFailureRate
  (nil = never abort) - a configuration option, not a hardcoded policy.

CONCURRENCY:
  A run is a pure, synchronous batch transformation over an already-loaded
  dataset. The Engine holds only the immutable rate table, so one Engine
  may serve concurrent runs.
*/
package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine binds a rate table to the pipeline. Construct one per rate
// schedule; independent engines share nothing.
type Engine struct {
	table *RateTable
}

// New creates an engine over an already-validated rate table.
func New(table *RateTable) *Engine {
	return &Engine{table: table}
}

// =============================================================================
// RUN OPTIONS AND RESULT
// =============================================================================

// RunOptions configures a single pipeline run.
type RunOptions struct {
	AggregationOptions

	// MaxFailureRate aborts the run when failed/validated exceeds it
	// (e.g. 0.1 = fail the run if more than 10% of rows are unresolved).
	// Nil disables the threshold.
	MaxFailureRate *decimal.Decimal
}

// PricingFailure records one encounter whose pricing failed.
type PricingFailure struct {
	Row  int
	Code ServiceCode
	Date time.Time
	Err  error
}

// PricingReport summarizes the pricing stage of a run.
type PricingReport struct {
	EncountersPriced int
	Failures         []PricingFailure
}

// Result is the output of one pipeline run.
type Result struct {
	RunID      string
	KPIs       []MonthlyKPI
	ServiceMix []MonthlyServiceKPI
	Validation ValidationReport
	Pricing    PricingReport
}

// =============================================================================
// PIPELINE
// =============================================================================

// Run executes the full pipeline over the given records.
func (e *Engine) Run(records []EncounterRecord, opts RunOptions) (*Result, error) {
	valid, validation := Validate(records)

	priced := make([]PricedEncounter, 0, len(valid))
	var failures []PricingFailure
	for _, v := range valid {
		rule, err := e.table.Resolve(v.Code, v.Date)
		if err != nil {
			failures = append(failures, PricingFailure{Row: v.SourceRow, Code: v.Code, Date: v.Date, Err: err})
			continue
		}
		quantity, err := ConvertUnits(v.DurationMinutes, rule.Method)
		if err != nil {
			failures = append(failures, PricingFailure{Row: v.SourceRow, Code: v.Code, Date: v.Date, Err: err})
			continue
		}
		priced = append(priced, Price(v, rule, quantity))
	}

	if opts.MaxFailureRate != nil && len(valid) > 0 {
		rate := decimal.NewFromInt(int64(len(failures))).Div(decimal.NewFromInt(int64(len(valid))))
		if rate.GreaterThan(*opts.MaxFailureRate) {
			return nil, &FailureThresholdError{
				Failed:      len(failures),
				Total:       len(valid),
				FailureRate: rate,
				MaxRate:     *opts.MaxFailureRate,
			}
		}
	}

	return &Result{
		RunID:      uuid.NewString(),
		KPIs:       Aggregate(priced, opts.AggregationOptions),
		ServiceMix: AggregateByService(priced),
		Validation: validation,
		Pricing:    PricingReport{EncountersPriced: len(priced), Failures: failures},
	}, nil
}
