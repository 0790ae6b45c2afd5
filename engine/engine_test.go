package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/revenue-engine/engine"
)

// =============================================================================
// TEST HELPERS (shared across the package's test files)
// =============================================================================

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func completed(date time.Time, code string, minutes string) engine.EncounterRecord {
	return engine.EncounterRecord{
		Date:            date,
		Code:            engine.ServiceCode(code),
		DurationMinutes: dec(minutes),
		Billable:        true,
		Status:          engine.StatusCompleted,
	}
}

func rule(code string, start, end time.Time, method engine.BillingMethod, rate string) engine.RateRule {
	return engine.RateRule{
		Code:           engine.ServiceCode(code),
		EffectiveStart: start,
		EffectiveEnd:   end,
		Method:         method,
		Rate:           engine.MustMoney(rate),
	}
}

func mustTable(t *testing.T, rules ...engine.RateRule) *engine.RateTable {
	t.Helper()
	table, err := engine.NewRateTable(rules)
	require.NoError(t, err)
	return table
}

// t1015Table is the rate schedule from the time-based reference scenario:
// T1015, time_based, 2023-01-01..2023-12-31, rate 20.
func t1015Table(t *testing.T) *engine.RateTable {
	return mustTable(t, rule("T1015", day(2023, time.January, 1), day(2023, time.December, 31), engine.MethodTimeBased, "20"))
}

// =============================================================================
// FACADE - END-TO-END SCENARIOS
// =============================================================================

func TestRun_TimeBasedScenario(t *testing.T) {
	// GIVEN: two completed T1015 encounters in June 2023 (60 min and 10 min)
	//        under a time-based rate of 20
	// WHEN: running the pipeline
	// THEN: 2023-06 has client_hours 70/60, revenue (4+0)*20 = 80,
	//       revenue_per_hour ~ 68.57

	eng := engine.New(t1015Table(t))
	records := []engine.EncounterRecord{
		completed(day(2023, time.June, 1), "T1015", "60"),
		completed(day(2023, time.June, 15), "T1015", "10"),
	}

	result, err := eng.Run(records, engine.RunOptions{})
	require.NoError(t, err)
	require.Len(t, result.KPIs, 1)

	kpi := result.KPIs[0]
	assert.Equal(t, "2023-06", kpi.Period.String())
	assert.Equal(t, 2, kpi.EncounterCount)
	assert.Equal(t, int64(4), kpi.TotalUnits)
	assert.Equal(t, "80.00", kpi.TotalRevenue.String())
	assert.Equal(t, "1.1667", kpi.ClientHours.Round(4).String())
	require.NotNil(t, kpi.RevenuePerHour)
	assert.Equal(t, "68.57", kpi.RevenuePerHour.Round(2).String())
	assert.NotEmpty(t, result.RunID)
}

func TestRun_PerEncounterScenario_IndependentOfDuration(t *testing.T) {
	// GIVEN: per-encounter code T1012 at rate 50 and three completed
	//        encounters in one month with wildly different durations
	// WHEN: running the pipeline
	// THEN: total_revenue = 150 and encounter_count = 3

	table := mustTable(t, rule("T1012", day(2024, time.January, 1), time.Time{}, engine.MethodPerEncounter, "50"))
	eng := engine.New(table)

	records := []engine.EncounterRecord{
		completed(day(2024, time.March, 3), "T1012", "5"),
		completed(day(2024, time.March, 12), "T1012", "45"),
		completed(day(2024, time.March, 28), "T1012", "120"),
	}

	result, err := eng.Run(records, engine.RunOptions{})
	require.NoError(t, err)
	require.Len(t, result.KPIs, 1)
	assert.Equal(t, "150.00", result.KPIs[0].TotalRevenue.String())
	assert.Equal(t, 3, result.KPIs[0].EncounterCount)
	assert.Equal(t, int64(3), result.KPIs[0].TotalUnits)
}

func TestRun_NonBillableNeverReachesKPIs(t *testing.T) {
	// GIVEN: a non-billable encounter alongside a billable one
	// WHEN: running the pipeline
	// THEN: the non-billable row contributes to neither hours nor revenue

	eng := engine.New(t1015Table(t))
	nonBillable := completed(day(2023, time.June, 2), "T1015", "600")
	nonBillable.Billable = false

	result, err := eng.Run([]engine.EncounterRecord{
		completed(day(2023, time.June, 1), "T1015", "60"),
		nonBillable,
	}, engine.RunOptions{})
	require.NoError(t, err)

	require.Len(t, result.KPIs, 1)
	assert.Equal(t, "1", result.KPIs[0].ClientHours.String())
	assert.Equal(t, "80.00", result.KPIs[0].TotalRevenue.String())
	assert.Equal(t, 1, result.Validation.RowsDropped)
	assert.Equal(t, 1, result.Validation.ByReason[engine.DropNotBillable])
}

// =============================================================================
// FACADE - FAILURE HANDLING
// =============================================================================

func TestRun_RateNotFound_ReportedNotZeroed(t *testing.T) {
	// GIVEN: an encounter with a code the rate table doesn't know
	// WHEN: running the pipeline
	// THEN: the row is reported as a pricing failure and excluded;
	//       it is never priced at zero

	eng := engine.New(t1015Table(t))
	result, err := eng.Run([]engine.EncounterRecord{
		completed(day(2023, time.June, 1), "T1015", "60"),
		completed(day(2023, time.June, 5), "X9999", "60"),
	}, engine.RunOptions{})
	require.NoError(t, err)

	require.Len(t, result.Pricing.Failures, 1)
	failure := result.Pricing.Failures[0]
	assert.Equal(t, 1, failure.Row)
	assert.Equal(t, engine.ServiceCode("X9999"), failure.Code)
	assert.ErrorIs(t, failure.Err, engine.ErrRateNotFound)

	// The failed row's hour must not leak into the rollup.
	require.Len(t, result.KPIs, 1)
	assert.Equal(t, "1", result.KPIs[0].ClientHours.String())
	assert.Equal(t, 1, result.Pricing.EncountersPriced)
}

func TestRun_FailureThreshold_AbortsRun(t *testing.T) {
	// GIVEN: 1 of 2 validated rows fails pricing and MaxFailureRate = 0.25
	// WHEN: running the pipeline
	// THEN: the run aborts with FailureThresholdError

	eng := engine.New(t1015Table(t))
	maxRate := dec("0.25")

	_, err := eng.Run([]engine.EncounterRecord{
		completed(day(2023, time.June, 1), "T1015", "60"),
		completed(day(2023, time.June, 5), "X9999", "60"),
	}, engine.RunOptions{MaxFailureRate: &maxRate})

	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrFailureThreshold)

	var thresholdErr *engine.FailureThresholdError
	require.ErrorAs(t, err, &thresholdErr)
	assert.Equal(t, 1, thresholdErr.Failed)
	assert.Equal(t, 2, thresholdErr.Total)
}

func TestRun_FailureThreshold_UnderLimitContinues(t *testing.T) {
	// GIVEN: the same failing row but MaxFailureRate = 0.5
	// WHEN: running the pipeline
	// THEN: the run completes with the failure reported

	eng := engine.New(t1015Table(t))
	maxRate := dec("0.5")

	result, err := eng.Run([]engine.EncounterRecord{
		completed(day(2023, time.June, 1), "T1015", "60"),
		completed(day(2023, time.June, 5), "X9999", "60"),
	}, engine.RunOptions{MaxFailureRate: &maxRate})
	require.NoError(t, err)
	assert.Len(t, result.Pricing.Failures, 1)
}

func TestRun_DeterministicAcrossRepeatedRuns(t *testing.T) {
	// GIVEN: the same records and options
	// WHEN: running twice
	// THEN: KPI output is identical (no hidden state between runs)

	eng := engine.New(t1015Table(t))
	records := []engine.EncounterRecord{
		completed(day(2023, time.June, 1), "T1015", "60"),
		completed(day(2023, time.July, 4), "T1015", "45"),
	}

	first, err := eng.Run(records, engine.RunOptions{})
	require.NoError(t, err)
	second, err := eng.Run(records, engine.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.KPIs, second.KPIs)
	assert.Equal(t, first.ServiceMix, second.ServiceMix)
}

func TestIsRowFailure_Classification(t *testing.T) {
	assert.True(t, engine.IsRowFailure(&engine.RateNotFoundError{}))
	assert.True(t, engine.IsRowFailure(&engine.AmbiguousRateError{}))
	assert.True(t, engine.IsRowFailure(&engine.InvalidDurationError{}))
	assert.False(t, engine.IsRowFailure(errors.New("unrelated")))
	assert.True(t, engine.IsDataIntegrity(&engine.AmbiguousRateError{}))
	assert.False(t, engine.IsDataIntegrity(&engine.RateNotFoundError{}))
}
