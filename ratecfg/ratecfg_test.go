package ratecfg_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/revenue-engine/engine"
	"github.com/warp/revenue-engine/ratecfg"
)

// =============================================================================
// EXPLICIT RULE FORM
// =============================================================================

func TestParse_ExplicitRules(t *testing.T) {
	rules, err := ratecfg.Parse([]byte(`{
		"rules": [
			{
				"service_code": "T1015",
				"effective_start": "2023-01-01",
				"effective_end": "2023-12-31",
				"billing_method": "time_based",
				"rate": "20.00"
			},
			{
				"service_code": "T1012",
				"effective_start": "2024-01-01",
				"billing_method": "per_encounter",
				"rate": 52.5
			}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, engine.ServiceCode("T1015"), rules[0].Code)
	assert.Equal(t, engine.MethodTimeBased, rules[0].Method)
	assert.Equal(t, "20.00", rules[0].Rate.String())
	assert.Equal(t, 2023, rules[0].EffectiveStart.Year())
	assert.False(t, rules[0].OpenEnded())

	assert.True(t, rules[1].OpenEnded(), "missing effective_end = open-ended")
	assert.Equal(t, "52.50", rules[1].Rate.String())

	// The parsed rules must build a valid table.
	_, err = engine.NewRateTable(rules)
	assert.NoError(t, err)
}

func TestParse_ExplicitRules_Failures(t *testing.T) {
	cases := map[string]string{
		"bad method": `{"rules":[{"service_code":"A","effective_start":"2023-01-01","billing_method":"hourly","rate":"1"}]}`,
		"bad date":   `{"rules":[{"service_code":"A","effective_start":"01/02/2023","billing_method":"time_based","rate":"1"}]}`,
		"end before start": `{"rules":[{"service_code":"A","effective_start":"2023-06-01",
			"effective_end":"2023-01-01","billing_method":"time_based","rate":"1"}]}`,
		"negative rate": `{"rules":[{"service_code":"A","effective_start":"2023-01-01","billing_method":"time_based","rate":"-5"}]}`,
		"missing code":  `{"rules":[{"effective_start":"2023-01-01","billing_method":"time_based","rate":"1"}]}`,
		"empty config":  `{}`,
		"not json":      `rates: nope`,
	}
	for name, input := range cases {
		_, err := ratecfg.Parse([]byte(input))
		assert.Error(t, err, name)
	}
}

// =============================================================================
// FISCAL-YEAR SHORTHAND
// =============================================================================

const fiscalConfig = `{
	"fiscal_years": [
		{
			"label": "FY23",
			"start": "2022-07-01",
			"end": "2023-06-30",
			"time_based_codes": ["H0004", "H0038"],
			"rates": {"90834": "100.00", "H0004": "26.50", "H0038": "24.00", "T1012": "47.50"}
		},
		{
			"label": "FY24",
			"start": "2023-07-01",
			"end": "2024-06-30",
			"time_based_codes": ["H0004", "H0038"],
			"rates": {"90834": "110.00", "H0004": "29.50", "H0038": "26.50", "T1012": "52.50"}
		}
	]
}`

func TestParse_FiscalYearShorthand_Expands(t *testing.T) {
	rules, err := ratecfg.Parse([]byte(fiscalConfig))
	require.NoError(t, err)
	require.Len(t, rules, 8, "4 codes x 2 fiscal years")

	table, err := engine.NewRateTable(rules)
	require.NoError(t, err)

	// A fiscal-year boundary date resolves to the year that contains it.
	june30 := time.Date(2023, time.June, 30, 0, 0, 0, 0, time.UTC)
	got, err := table.Resolve("H0004", june30)
	require.NoError(t, err)
	assert.Equal(t, "26.50", got.Rate.String(), "FY23 rate through its inclusive end")
	assert.Equal(t, engine.MethodTimeBased, got.Method)

	july1 := time.Date(2023, time.July, 1, 0, 0, 0, 0, time.UTC)
	got, err = table.Resolve("H0004", july1)
	require.NoError(t, err)
	assert.Equal(t, "29.50", got.Rate.String())

	// Codes not listed as time-based default to per-encounter.
	got, err = table.Resolve("90834", july1)
	require.NoError(t, err)
	assert.Equal(t, engine.MethodPerEncounter, got.Method)
}

func TestParse_FiscalYear_OverlapCaughtByEngine(t *testing.T) {
	// Two fiscal years sharing a day parse fine but fail table validation.
	rules, err := ratecfg.Parse([]byte(`{
		"fiscal_years": [
			{"label": "FY23", "start": "2022-07-01", "end": "2023-07-01", "rates": {"90834": "100.00"}},
			{"label": "FY24", "start": "2023-07-01", "end": "2024-06-30", "rates": {"90834": "110.00"}}
		]
	}`))
	require.NoError(t, err)

	_, err = engine.NewRateTable(rules)
	assert.ErrorIs(t, err, engine.ErrOverlappingRules)
}

func TestParse_MixedFormsConcatenate(t *testing.T) {
	rules, err := ratecfg.Parse([]byte(`{
		"rules": [{"service_code": "T1015", "effective_start": "2023-01-01",
			"effective_end": "2023-12-31", "billing_method": "time_based", "rate": "20.00"}],
		"fiscal_years": [{"label": "FY25", "start": "2024-07-01", "end": "2025-06-30",
			"rates": {"90832": "71.50"}}]
	}`))
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}
