package engine_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/revenue-engine/engine"
)

func priceAll(t *testing.T, table *engine.RateTable, records []engine.EncounterRecord) []engine.PricedEncounter {
	t.Helper()
	valid, _ := engine.Validate(records)
	priced := make([]engine.PricedEncounter, 0, len(valid))
	for _, v := range valid {
		r, err := table.Resolve(v.Code, v.Date)
		require.NoError(t, err)
		q, err := engine.ConvertUnits(v.DurationMinutes, r.Method)
		require.NoError(t, err)
		priced = append(priced, engine.Price(v, r, q))
	}
	return priced
}

// =============================================================================
// GROUPING AND ORDERING
// =============================================================================

func TestAggregate_OrderedByMonthAscending(t *testing.T) {
	table := t1015Table(t)
	priced := priceAll(t, table, []engine.EncounterRecord{
		completed(day(2023, time.September, 10), "T1015", "30"),
		completed(day(2023, time.February, 1), "T1015", "30"),
		completed(day(2023, time.June, 20), "T1015", "30"),
	})

	kpis := engine.Aggregate(priced, engine.AggregationOptions{})
	require.Len(t, kpis, 3)
	assert.Equal(t, "2023-02", kpis[0].Period.String())
	assert.Equal(t, "2023-06", kpis[1].Period.String())
	assert.Equal(t, "2023-09", kpis[2].Period.String())
}

func TestAggregate_ShuffleInvariant(t *testing.T) {
	// GIVEN: a year of encounters
	// WHEN: aggregating the rows in shuffled order
	// THEN: output is identical - grouping and summation are
	//       order-independent

	table := t1015Table(t)
	var records []engine.EncounterRecord
	for m := time.January; m <= time.December; m++ {
		for d := 1; d <= 5; d++ {
			records = append(records, completed(day(2023, m, d), "T1015", "50"))
		}
	}
	priced := priceAll(t, table, records)

	want := engine.Aggregate(priced, engine.AggregationOptions{BaselineHours: dec("160")})

	shuffled := make([]engine.PricedEncounter, len(priced))
	copy(shuffled, priced)
	rand.New(rand.NewSource(42)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	got := engine.Aggregate(shuffled, engine.AggregationOptions{BaselineHours: dec("160")})
	assert.Equal(t, want, got)
}

func TestAggregate_ClientHoursRoundTrip(t *testing.T) {
	// Summing ClientMinutes across all rows equals total validated minutes
	// exactly, so dividing once recovers the total client hours without
	// any per-month rounding in between.
	table := t1015Table(t)
	records := []engine.EncounterRecord{
		completed(day(2023, time.January, 2), "T1015", "37.5"),
		completed(day(2023, time.March, 9), "T1015", "14.9"),
		completed(day(2023, time.March, 21), "T1015", "92"),
		completed(day(2023, time.November, 30), "T1015", "60"),
	}
	priced := priceAll(t, table, records)

	totalMinutes := decimal.Zero
	for _, p := range priced {
		totalMinutes = totalMinutes.Add(p.DurationMinutes)
	}

	kpis := engine.Aggregate(priced, engine.AggregationOptions{})
	summed := decimal.Zero
	for _, k := range kpis {
		summed = summed.Add(k.ClientMinutes)
	}
	assert.True(t, summed.Equal(totalMinutes),
		"sum(client_minutes)=%s, want %s", summed, totalMinutes)
	assert.True(t, summed.Div(dec("60")).Equal(totalMinutes.Div(dec("60"))))
}

func TestAggregate_ClientHoursRoundTrip_NonTerminatingMonths(t *testing.T) {
	// GIVEN: two months of 10 minutes each - 1/6 hour per month, a
	//        non-terminating decimal no per-month division represents
	// THEN: ClientMinutes still sums to the exact total, and ClientHours
	//       is the declared-precision rendering of each month's minutes

	table := t1015Table(t)
	priced := priceAll(t, table, []engine.EncounterRecord{
		completed(day(2023, time.May, 3), "T1015", "10"),
		completed(day(2023, time.June, 3), "T1015", "10"),
	})

	kpis := engine.Aggregate(priced, engine.AggregationOptions{})
	require.Len(t, kpis, 2)

	summed := decimal.Zero
	for _, k := range kpis {
		summed = summed.Add(k.ClientMinutes)
		assert.True(t, k.ClientHours.Equal(k.ClientMinutes.DivRound(dec("60"), engine.HoursPrecision)))
	}
	assert.True(t, summed.Equal(dec("20")), "sum(client_minutes)=%s, want 20", summed)
	assert.True(t, summed.Div(dec("60")).Equal(dec("20").Div(dec("60"))))
	assert.Equal(t, "0.166667", kpis[0].ClientHours.String())
}

// =============================================================================
// DERIVED RATIOS
// =============================================================================

func TestAggregate_RevenuePerHour_NilExactlyWhenZeroHours(t *testing.T) {
	// GIVEN: a month whose only encounters are zero-minute per-encounter
	//        visits (hours 0, revenue > 0)
	// THEN: revenue_per_hour is nil, never a divide-by-zero or a fake zero

	table := mustTable(t, rule("T1012", day(2024, time.January, 1), time.Time{}, engine.MethodPerEncounter, "50"))
	priced := priceAll(t, table, []engine.EncounterRecord{
		completed(day(2024, time.April, 1), "T1012", "0"),
		completed(day(2024, time.April, 8), "T1012", "0"),
	})

	kpis := engine.Aggregate(priced, engine.AggregationOptions{})
	require.Len(t, kpis, 1)
	assert.Nil(t, kpis[0].RevenuePerHour)
	assert.Equal(t, "100.00", kpis[0].TotalRevenue.String())
	require.NotNil(t, kpis[0].RevenuePerEncounter)
	assert.Equal(t, "50", kpis[0].RevenuePerEncounter.String())
}

func TestAggregate_UtilizationRate_AgainstCallerBaseline(t *testing.T) {
	// 80 hours against a 160-hour baseline = 0.5. The baseline is caller
	// policy; without one the metric is undefined.
	table := t1015Table(t)
	priced := priceAll(t, table, []engine.EncounterRecord{
		completed(day(2023, time.May, 1), "T1015", "4800"), // 80 hours
	})

	kpis := engine.Aggregate(priced, engine.AggregationOptions{BaselineHours: dec("160")})
	require.Len(t, kpis, 1)
	require.NotNil(t, kpis[0].UtilizationRate)
	assert.Equal(t, "0.5", kpis[0].UtilizationRate.String())

	kpis = engine.Aggregate(priced, engine.AggregationOptions{})
	assert.Nil(t, kpis[0].UtilizationRate)
}

func TestAggregate_GoalAttainment_OnlyWhenGoalSupplied(t *testing.T) {
	// 80 hours against a 70-hour monthly goal. The goal line is caller
	// policy like the baseline; absent a goal the metric is undefined.
	table := t1015Table(t)
	priced := priceAll(t, table, []engine.EncounterRecord{
		completed(day(2023, time.May, 1), "T1015", "4800"), // 80 hours
	})

	goal := dec("70")
	kpis := engine.Aggregate(priced, engine.AggregationOptions{GoalHours: &goal})
	require.Len(t, kpis, 1)
	require.NotNil(t, kpis[0].GoalAttainment)
	assert.Equal(t, "1.1429", kpis[0].GoalAttainment.Round(4).String())

	kpis = engine.Aggregate(priced, engine.AggregationOptions{})
	assert.Nil(t, kpis[0].GoalAttainment)
}

func TestAggregate_ROI_OnlyWhenCompensationSupplied(t *testing.T) {
	table := t1015Table(t)
	priced := priceAll(t, table, []engine.EncounterRecord{
		completed(day(2023, time.May, 1), "T1015", "60"),  // 80 revenue
		completed(day(2023, time.June, 1), "T1015", "60"), // 80 revenue
	})

	may, _ := engine.ParseMonth("2023-05")
	kpis := engine.Aggregate(priced, engine.AggregationOptions{
		CompensationByMonth: map[engine.Month]engine.Money{
			may: engine.MustMoney("160.00"),
		},
	})
	require.Len(t, kpis, 2)

	require.NotNil(t, kpis[0].ROI, "May has compensation")
	assert.Equal(t, "0.5", kpis[0].ROI.String())
	assert.Nil(t, kpis[1].ROI, "June has no compensation - ROI omitted, never fabricated")
}

// =============================================================================
// MONTH COVERAGE - sparse vs dense
// =============================================================================

func TestAggregate_SparseSkipsEmptyMonths(t *testing.T) {
	table := t1015Table(t)
	priced := priceAll(t, table, []engine.EncounterRecord{
		completed(day(2023, time.January, 5), "T1015", "60"),
		completed(day(2023, time.April, 5), "T1015", "60"),
	})

	kpis := engine.Aggregate(priced, engine.AggregationOptions{})
	require.Len(t, kpis, 2)
	assert.Equal(t, "2023-01", kpis[0].Period.String())
	assert.Equal(t, "2023-04", kpis[1].Period.String())
}

func TestAggregate_DenseZeroFillsGapMonths(t *testing.T) {
	// Downstream trend charts expect a continuous timeline.
	table := t1015Table(t)
	priced := priceAll(t, table, []engine.EncounterRecord{
		completed(day(2023, time.January, 5), "T1015", "60"),
		completed(day(2023, time.April, 5), "T1015", "60"),
	})

	kpis := engine.Aggregate(priced, engine.AggregationOptions{DenseMonths: true})
	require.Len(t, kpis, 4)

	feb := kpis[1]
	assert.Equal(t, "2023-02", feb.Period.String())
	assert.Equal(t, 0, feb.EncounterCount)
	assert.True(t, feb.TotalRevenue.IsZero())
	assert.True(t, feb.ClientHours.IsZero())
	assert.Nil(t, feb.RevenuePerHour, "zero-hour month: ratio undefined")
	assert.Nil(t, feb.RevenuePerEncounter)
}

func TestAggregate_DenseAcrossYearBoundary(t *testing.T) {
	table := mustTable(t, rule("T1015", day(2023, time.January, 1), day(2024, time.December, 31), engine.MethodTimeBased, "20"))
	priced := priceAll(t, table, []engine.EncounterRecord{
		completed(day(2023, time.December, 5), "T1015", "60"),
		completed(day(2024, time.February, 5), "T1015", "60"),
	})

	kpis := engine.Aggregate(priced, engine.AggregationOptions{DenseMonths: true})
	require.Len(t, kpis, 3)
	assert.Equal(t, "2024-01", kpis[1].Period.String())
}

func TestAggregate_EmptyInput_NoRows(t *testing.T) {
	kpis := engine.Aggregate(nil, engine.AggregationOptions{DenseMonths: true})
	assert.Empty(t, kpis)
}

// =============================================================================
// SERVICE MIX
// =============================================================================

func TestAggregateByService_GroupsByMonthAndCode(t *testing.T) {
	table := mustTable(t,
		rule("T1015", day(2023, time.January, 1), day(2023, time.December, 31), engine.MethodTimeBased, "20"),
		rule("T1012", day(2023, time.January, 1), day(2023, time.December, 31), engine.MethodPerEncounter, "47.50"),
	)
	priced := priceAll(t, table, []engine.EncounterRecord{
		completed(day(2023, time.June, 1), "T1015", "60"),
		completed(day(2023, time.June, 8), "T1015", "30"),
		completed(day(2023, time.June, 9), "T1012", "50"),
		completed(day(2023, time.July, 1), "T1012", "50"),
	})

	mix := engine.AggregateByService(priced)
	require.Len(t, mix, 3)

	assert.Equal(t, "2023-06", mix[0].Period.String())
	assert.Equal(t, engine.ServiceCode("T1012"), mix[0].Code)
	assert.Equal(t, "47.50", mix[0].Revenue.String())

	assert.Equal(t, engine.ServiceCode("T1015"), mix[1].Code)
	assert.Equal(t, 2, mix[1].Encounters)
	assert.Equal(t, int64(6), mix[1].TotalUnits)
	assert.Equal(t, "120.00", mix[1].Revenue.String())

	assert.Equal(t, "2023-07", mix[2].Period.String())
}
