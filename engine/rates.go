/*
rates.go - Effective-dated rate table and Rate Resolver

PURPOSE:
  Maps a (service code, date) pair to exactly one billing rule: the method
  (time-based vs. per-encounter) and the currency rate in effect on that
  date. Rules are effective-dated with INCLUSIVE start and end bounds, so
  fiscal-year transitions have no gap and no double-match day.

KEY DESIGN CHOICE:
  Overlap validation happens ONCE at table construction, not per query.
  NewRateTable sorts each code's rules by effective start and rejects any
  intersecting pair with an OverlapError. Resolution is then a binary
  search over the sorted interval index. A defensive double-match check
  remains in Resolve and surfaces AmbiguousRateError.

IMMUTABILITY:
  A RateTable is read-only after construction and safe for concurrent use.
  Independent runs (e.g. backtesting different rate schedules) each build
  their own table; there is no shared mutable rate state.

SEE ALSO:
  - ratecfg: loads rules from JSON configuration
  - engine.go: resolves rules while pricing a run
*/
package engine

import (
	"sort"
	"time"
)

// =============================================================================
// RATE RULE
// =============================================================================

// RateRule is one effective-dated billing rule.
type RateRule struct {
	Code           ServiceCode
	EffectiveStart time.Time
	EffectiveEnd   time.Time // zero value = open-ended
	Method         BillingMethod
	Rate           Money
}

// OpenEnded reports whether the rule has no end date.
func (r RateRule) OpenEnded() bool { return r.EffectiveEnd.IsZero() }

// Contains reports whether the rule is in effect on the given date.
// Both bounds are inclusive.
func (r RateRule) Contains(date time.Time) bool {
	d := dayOf(date)
	if d.Before(dayOf(r.EffectiveStart)) {
		return false
	}
	if r.OpenEnded() {
		return true
	}
	return !d.After(dayOf(r.EffectiveEnd))
}

func (r RateRule) rangeString() string {
	start := r.EffectiveStart.Format("2006-01-02")
	if r.OpenEnded() {
		return "[" + start + ", open)"
	}
	return "[" + start + ", " + r.EffectiveEnd.Format("2006-01-02") + "]"
}

// dayOf truncates a timestamp to its calendar date (timezone-naive, UTC).
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// RATE TABLE - Interval index keyed by service code
// =============================================================================

// RateTable is an immutable interval index of rate rules.
type RateTable struct {
	rules map[ServiceCode][]RateRule // sorted by EffectiveStart per code
	count int
}

// NewRateTable builds the index and validates that no two rules for the
// same service code overlap. Validation cost is O(rules log rules) once,
// instead of an implicit scan on every resolution.
func NewRateTable(rules []RateRule) (*RateTable, error) {
	byCode := make(map[ServiceCode][]RateRule)
	for _, r := range rules {
		byCode[r.Code] = append(byCode[r.Code], r)
	}

	for code, rs := range byCode {
		sort.Slice(rs, func(i, j int) bool {
			return rs[i].EffectiveStart.Before(rs[j].EffectiveStart)
		})
		for i := 1; i < len(rs); i++ {
			prev, next := rs[i-1], rs[i]
			// An open-ended rule intersects everything after it; otherwise
			// the ranges intersect when next starts on or before prev ends.
			if prev.OpenEnded() || !dayOf(next.EffectiveStart).After(dayOf(prev.EffectiveEnd)) {
				return nil, &OverlapError{Code: code, First: prev, Second: next}
			}
		}
		byCode[code] = rs
	}

	return &RateTable{rules: byCode, count: len(rules)}, nil
}

// Len returns the number of rules in the table.
func (t *RateTable) Len() int { return t.count }

// Rules returns all rules ordered by (code, effective start).
func (t *RateTable) Rules() []RateRule {
	codes := make([]ServiceCode, 0, len(t.rules))
	for code := range t.rules {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	out := make([]RateRule, 0, t.count)
	for _, code := range codes {
		out = append(out, t.rules[code]...)
	}
	return out
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolve returns the single rule in effect for the code on the date.
//
// Errors:
//   - RateNotFoundError: unknown code, or date outside all ranges
//   - AmbiguousRateError: more than one rule matches (defensive; overlap
//     validation at construction makes this unreachable in normal flow)
func (t *RateTable) Resolve(code ServiceCode, date time.Time) (RateRule, error) {
	rs := t.rules[code]
	if len(rs) == 0 {
		return RateRule{}, &RateNotFoundError{Code: code, Date: date}
	}

	d := dayOf(date)

	// First rule starting strictly after d; the candidate is the one before.
	i := sort.Search(len(rs), func(i int) bool {
		return dayOf(rs[i].EffectiveStart).After(d)
	})
	if i == 0 {
		return RateRule{}, &RateNotFoundError{Code: code, Date: date}
	}

	candidate := rs[i-1]
	if !candidate.Contains(d) {
		return RateRule{}, &RateNotFoundError{Code: code, Date: date}
	}
	if i >= 2 && rs[i-2].Contains(d) {
		return RateRule{}, &AmbiguousRateError{Code: code, Date: date, Matches: 2}
	}
	return candidate, nil
}
