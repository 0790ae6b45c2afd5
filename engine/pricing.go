/*
pricing.go - Revenue Calculator

PURPOSE:
  Combines a validated encounter, its resolved rate rule, and its converted
  quantity into a PricedEncounter. Deterministic and pure: no rounding
  beyond the currency's native two fractional digits, no I/O, no state.
*/
package engine

// Price annotates a validated encounter with its billing method, billable
// quantity and revenue (quantity x rate).
func Price(v ValidatedEncounter, rule RateRule, quantity int64) PricedEncounter {
	return PricedEncounter{
		ValidatedEncounter: v,
		Method:             rule.Method,
		Quantity:           quantity,
		Revenue:            rule.Rate.MulInt(quantity),
	}
}
