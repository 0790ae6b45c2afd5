/*
Package ratecfg loads fiscal rate tables from JSON configuration.

PURPOSE:
  Rate rules are supplied as structured configuration, never embedded in
  engine code. This package parses two equivalent JSON forms into
  engine.RateRule values; overlap validation stays in the engine
  (engine.NewRateTable), so a config that parses here can still be
  rejected there.

FORMAT 1 - EXPLICIT RULES:
  {
    "rules": [
      {
        "service_code": "T1015",
        "effective_start": "2023-01-01",
        "effective_end": "2023-12-31",
        "billing_method": "time_based",
        "rate": "20.00"
      }
    ]
  }
  effective_end may be omitted or empty for an open-ended rule.

FORMAT 2 - FISCAL-YEAR SHORTHAND:
  Mirrors how billing departments publish rates: one table per fiscal
  year, with the handful of time-based codes listed once.
  {
    "fiscal_years": [
      {
        "label": "FY24",
        "start": "2023-07-01",
        "end": "2024-06-30",
        "time_based_codes": ["H0004", "H0038"],
        "rates": {"90834": "110.00", "H0004": "29.50"}
      }
    ]
  }
  Each (fiscal year, code) pair expands to one rule; codes listed in
  time_based_codes become time_based, everything else per_encounter.

Both forms may appear in one file; the rule lists are concatenated.

SEE ALSO:
  - engine/rates.go: RateTable construction and overlap validation
*/
package ratecfg

import (
	"fmt"
	"os"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/warp/revenue-engine/engine"
)

const dateLayout = "2006-01-02"

// =============================================================================
// JSON SHAPES
// =============================================================================

type fileJSON struct {
	Rules       []ruleJSON       `json:"rules"`
	FiscalYears []fiscalYearJSON `json:"fiscal_years"`
}

type ruleJSON struct {
	ServiceCode    string      `json:"service_code"`
	EffectiveStart string      `json:"effective_start"`
	EffectiveEnd   string      `json:"effective_end"`
	BillingMethod  string      `json:"billing_method"`
	Rate           json.Number `json:"rate"`
}

type fiscalYearJSON struct {
	Label          string                 `json:"label"`
	Start          string                 `json:"start"`
	End            string                 `json:"end"`
	TimeBasedCodes []string               `json:"time_based_codes"`
	Rates          map[string]json.Number `json:"rates"`
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads and parses a rate configuration file.
func Load(path string) ([]engine.RateRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate config: %w", err)
	}
	return Parse(data)
}

// Parse decodes rate configuration JSON into rate rules.
func Parse(data []byte) ([]engine.RateRule, error) {
	var file fileJSON
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rate config: %w", err)
	}
	if len(file.Rules) == 0 && len(file.FiscalYears) == 0 {
		return nil, fmt.Errorf("rate config has no rules or fiscal_years")
	}

	var rules []engine.RateRule
	for i, r := range file.Rules {
		rule, err := parseRule(r)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}
	for i, fy := range file.FiscalYears {
		expanded, err := expandFiscalYear(fy)
		if err != nil {
			return nil, fmt.Errorf("fiscal_years[%d] (%s): %w", i, fy.Label, err)
		}
		rules = append(rules, expanded...)
	}
	return rules, nil
}

func parseRule(r ruleJSON) (engine.RateRule, error) {
	if r.ServiceCode == "" {
		return engine.RateRule{}, fmt.Errorf("missing service_code")
	}
	start, err := time.Parse(dateLayout, r.EffectiveStart)
	if err != nil {
		return engine.RateRule{}, fmt.Errorf("invalid effective_start %q: %w", r.EffectiveStart, err)
	}
	var end time.Time
	if r.EffectiveEnd != "" {
		end, err = time.Parse(dateLayout, r.EffectiveEnd)
		if err != nil {
			return engine.RateRule{}, fmt.Errorf("invalid effective_end %q: %w", r.EffectiveEnd, err)
		}
		if end.Before(start) {
			return engine.RateRule{}, fmt.Errorf("effective_end %s before effective_start %s", r.EffectiveEnd, r.EffectiveStart)
		}
	}
	method, err := engine.ParseBillingMethod(r.BillingMethod)
	if err != nil {
		return engine.RateRule{}, err
	}
	rate, err := engine.NewMoney(r.Rate.String())
	if err != nil {
		return engine.RateRule{}, err
	}
	if rate.IsNegative() {
		return engine.RateRule{}, fmt.Errorf("negative rate %s for %s", rate, r.ServiceCode)
	}
	return engine.RateRule{
		Code:           engine.ServiceCode(r.ServiceCode),
		EffectiveStart: start,
		EffectiveEnd:   end,
		Method:         method,
		Rate:           rate,
	}, nil
}

func expandFiscalYear(fy fiscalYearJSON) ([]engine.RateRule, error) {
	start, err := time.Parse(dateLayout, fy.Start)
	if err != nil {
		return nil, fmt.Errorf("invalid start %q: %w", fy.Start, err)
	}
	end, err := time.Parse(dateLayout, fy.End)
	if err != nil {
		return nil, fmt.Errorf("invalid end %q: %w", fy.End, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end %s before start %s", fy.End, fy.Start)
	}

	timeBased := make(map[string]bool, len(fy.TimeBasedCodes))
	for _, code := range fy.TimeBasedCodes {
		timeBased[code] = true
	}

	// Deterministic expansion order keeps config errors reproducible.
	codes := make([]string, 0, len(fy.Rates))
	for code := range fy.Rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	rules := make([]engine.RateRule, 0, len(codes))
	for _, code := range codes {
		rate, err := engine.NewMoney(fy.Rates[code].String())
		if err != nil {
			return nil, fmt.Errorf("rate for %s: %w", code, err)
		}
		if rate.IsNegative() {
			return nil, fmt.Errorf("negative rate %s for %s", rate, code)
		}
		method := engine.MethodPerEncounter
		if timeBased[code] {
			method = engine.MethodTimeBased
		}
		rules = append(rules, engine.RateRule{
			Code:           engine.ServiceCode(code),
			EffectiveStart: start,
			EffectiveEnd:   end,
			Method:         method,
			Rate:           rate,
		})
	}
	return rules, nil
}
