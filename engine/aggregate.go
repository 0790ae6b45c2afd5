/*
aggregate.go - Monthly Aggregator

PURPOSE:
  Groups priced encounters by calendar month and produces the MonthlyKPI
  table: client hours, revenue, encounter counts, and derived ratios
  (revenue per client hour, utilization rate, ROI).

DETERMINISM:
  Grouping uses the Month map key and per-month decimal summation, both
  order-independent, so shuffling the input yields identical output.
  Aggregation holds no state across calls; running it twice over the same
  input gives identical results.

UNDEFINED RATIOS:
  revenue_per_hour is nil exactly when client_hours == 0. ROI is nil
  unless the caller supplied a compensation figure for that month. A nil
  metric is "undefined", which downstream rendering must distinguish from
  a true zero.

PRECISION:
  Minutes sum exactly; hours generally do not (10 minutes is a
  non-terminating 1/6 hour). ClientMinutes carries the exact per-month sum
  and is the quantity that round-trips: summing ClientMinutes across rows
  always equals the total validated minutes. ClientHours is its fixed
  rendering at HoursPrecision, and every hour-based ratio divides the
  exact minutes, never the rendered hours, so no rounding compounds.

MONTH COVERAGE:
  Sparse mode (default) emits one row per observed month. Dense mode
  zero-fills the gap months between the first and last observed month so
  trend charts get a continuous timeline. Both modes are supported because
  downstream visualization needs continuity while tabular reports do not.

POLICY INPUTS:
  The capacity baseline (e.g. 160 hours/month) and compensation figures are
  presentation-layer policy supplied by the caller. The aggregator never
  hardcodes them.
*/
package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

var minutesPerHour = decimal.NewFromInt(60)

// HoursPrecision is the number of fractional digits ClientHours is
// rendered at. The exact quantity is ClientMinutes.
const HoursPrecision = 6

// =============================================================================
// OPTIONS
// =============================================================================

// AggregationOptions carries the caller-supplied policy inputs.
type AggregationOptions struct {
	// BaselineHours is the monthly capacity baseline for utilization
	// (e.g. 160). Zero or negative leaves UtilizationRate undefined.
	BaselineHours decimal.Decimal

	// GoalHours is an optional monthly client-hours goal (e.g. a 17.5
	// hours/week goal line scaled to the month). Nil leaves
	// GoalAttainment undefined.
	GoalHours *decimal.Decimal

	// DenseMonths zero-fills months with no activity between the first
	// and last observed month.
	DenseMonths bool

	// CompensationByMonth enables the ROI metric for the months present.
	CompensationByMonth map[Month]Money
}

// =============================================================================
// AGGREGATOR
// =============================================================================

type monthTotals struct {
	minutes decimal.Decimal
	revenue Money
	count   int
	units   int64
}

// Aggregate produces one MonthlyKPI row per month, ordered ascending.
func Aggregate(priced []PricedEncounter, opts AggregationOptions) []MonthlyKPI {
	totals := make(map[Month]*monthTotals)
	for _, p := range priced {
		m := MonthOf(p.Date)
		t, ok := totals[m]
		if !ok {
			t = &monthTotals{revenue: ZeroMoney()}
			totals[m] = t
		}
		t.minutes = t.minutes.Add(p.DurationMinutes)
		t.revenue = t.revenue.Add(p.Revenue)
		t.count++
		t.units += p.Quantity
	}

	months := coveredMonths(totals, opts.DenseMonths)

	out := make([]MonthlyKPI, 0, len(months))
	for _, m := range months {
		t, ok := totals[m]
		if !ok {
			t = &monthTotals{revenue: ZeroMoney()} // zero-filled dense row
		}
		out = append(out, buildKPI(m, t, opts))
	}
	return out
}

func coveredMonths(totals map[Month]*monthTotals, dense bool) []Month {
	observed := make([]Month, 0, len(totals))
	for m := range totals {
		observed = append(observed, m)
	}
	sort.Slice(observed, func(i, j int) bool { return observed[i].Before(observed[j]) })

	if !dense || len(observed) < 2 {
		return observed
	}

	var months []Month
	last := observed[len(observed)-1]
	for m := observed[0]; !last.Before(m); m = m.Next() {
		months = append(months, m)
	}
	return months
}

func buildKPI(m Month, t *monthTotals, opts AggregationOptions) MonthlyKPI {
	kpi := MonthlyKPI{
		Period:         m,
		ClientMinutes:  t.minutes,
		ClientHours:    t.minutes.DivRound(minutesPerHour, HoursPrecision),
		TotalRevenue:   t.revenue,
		EncounterCount: t.count,
		TotalUnits:     t.units,
	}

	// Hour-based ratios divide the exact minutes (revenue/hours ==
	// revenue*60/minutes), not the rendered ClientHours.
	if t.minutes.IsPositive() {
		kpi.RevenuePerHour = decimalPtr(t.revenue.Value.Mul(minutesPerHour).Div(t.minutes))
	}
	if t.count > 0 {
		kpi.RevenuePerEncounter = decimalPtr(t.revenue.Value.Div(decimal.NewFromInt(int64(t.count))))
	}
	if opts.BaselineHours.IsPositive() {
		kpi.UtilizationRate = decimalPtr(t.minutes.Div(opts.BaselineHours.Mul(minutesPerHour)))
	}
	if opts.GoalHours != nil && opts.GoalHours.IsPositive() {
		kpi.GoalAttainment = decimalPtr(t.minutes.Div(opts.GoalHours.Mul(minutesPerHour)))
	}
	if comp, ok := opts.CompensationByMonth[m]; ok && comp.IsPositive() {
		kpi.ROI = decimalPtr(t.revenue.Value.Div(comp.Value))
	}
	return kpi
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }

// =============================================================================
// SERVICE MIX - Monthly rollup by service code
// =============================================================================

// AggregateByService produces the service-mix rollup: one row per
// (month, code), ordered by month then code.
func AggregateByService(priced []PricedEncounter) []MonthlyServiceKPI {
	type mixKey struct {
		month Month
		code  ServiceCode
	}
	totals := make(map[mixKey]*MonthlyServiceKPI)
	for _, p := range priced {
		k := mixKey{month: MonthOf(p.Date), code: p.Code}
		t, ok := totals[k]
		if !ok {
			t = &MonthlyServiceKPI{Period: k.month, Code: k.code, Revenue: ZeroMoney()}
			totals[k] = t
		}
		t.Encounters++
		t.TotalUnits += p.Quantity
		t.Revenue = t.Revenue.Add(p.Revenue)
	}

	out := make([]MonthlyServiceKPI, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period.Before(out[j].Period)
		}
		return out[i].Code < out[j].Code
	})
	return out
}
