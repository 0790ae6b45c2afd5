/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  internal domain model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMAL FIELDS:
  Currency and hour values cross the wire as strings ("80.00", "1.1667")
  so clients never receive binary-float approximations of fixed-point
  totals. Undefined ratios are omitted, not zeroed.

SEE ALSO:
  - handlers.go: Uses these types
  - ratecfg: the rate upload body reuses its config format verbatim
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/revenue-engine/engine"
	"github.com/warp/revenue-engine/store/sqlite"
)

// roundedString renders a nullable ratio at 4 fractional digits,
// preserving nil for undefined metrics.
func roundedString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.Round(4).String()
	return &s
}

// =============================================================================
// ENCOUNTERS
// =============================================================================

// EncounterDTO is one encounter row in requests and responses.
type EncounterDTO struct {
	Date            string `json:"date"`
	ServiceCode     string `json:"service_code"`
	DurationMinutes string `json:"duration_min"`
	IsBillable      bool   `json:"is_billable"`
	Status          string `json:"status"`
}

func encounterToDTO(rec engine.EncounterRecord) EncounterDTO {
	return EncounterDTO{
		Date:            rec.Date.Format("2006-01-02"),
		ServiceCode:     string(rec.Code),
		DurationMinutes: rec.DurationMinutes.String(),
		IsBillable:      rec.Billable,
		Status:          string(rec.Status),
	}
}

// AddEncountersResponse reports a bulk upload.
type AddEncountersResponse struct {
	Added int `json:"added"`
	Total int `json:"total_stored"`
}

// =============================================================================
// RATES
// =============================================================================

// RateRuleDTO is one rate rule in responses.
type RateRuleDTO struct {
	ServiceCode    string `json:"service_code"`
	EffectiveStart string `json:"effective_start"`
	EffectiveEnd   string `json:"effective_end,omitempty"` // empty = open-ended
	BillingMethod  string `json:"billing_method"`
	Rate           string `json:"rate"`
}

func rateRuleToDTO(r engine.RateRule) RateRuleDTO {
	dto := RateRuleDTO{
		ServiceCode:    string(r.Code),
		EffectiveStart: r.EffectiveStart.Format("2006-01-02"),
		BillingMethod:  string(r.Method),
		Rate:           r.Rate.String(),
	}
	if !r.OpenEnded() {
		dto.EffectiveEnd = r.EffectiveEnd.Format("2006-01-02")
	}
	return dto
}

// ReplaceRatesResponse reports a rate-table replacement.
type ReplaceRatesResponse struct {
	Rules int `json:"rules"`
}

// =============================================================================
// KPI RUNS
// =============================================================================

// RunRequest configures a KPI pipeline run over the stored data.
type RunRequest struct {
	BaselineHours       string            `json:"baseline_hours,omitempty"`
	GoalHours           string            `json:"goal_hours,omitempty"`
	DenseMonths         bool              `json:"dense_months,omitempty"`
	MaxFailureRate      string            `json:"max_failure_rate,omitempty"`
	CompensationByMonth map[string]string `json:"compensation_by_month,omitempty"` // "2023-06" -> "4000.00"
}

// MonthlyKPIDTO is one KPI row. Nil ratio fields are omitted.
type MonthlyKPIDTO struct {
	Period              string  `json:"period"`
	ClientMinutes       string  `json:"client_minutes"`
	ClientHours         string  `json:"client_hours"`
	TotalRevenue        string  `json:"total_revenue"`
	EncounterCount      int     `json:"encounter_count"`
	TotalUnits          int64   `json:"total_units"`
	RevenuePerHour      *string `json:"revenue_per_hour,omitempty"`
	RevenuePerEncounter *string `json:"revenue_per_encounter,omitempty"`
	UtilizationRate     *string `json:"utilization_rate,omitempty"`
	GoalAttainment      *string `json:"goal_attainment,omitempty"`
	ROI                 *string `json:"roi,omitempty"`
}

func kpiToDTO(k engine.MonthlyKPI) MonthlyKPIDTO {
	dto := MonthlyKPIDTO{
		Period:         k.Period.String(),
		ClientMinutes:  k.ClientMinutes.String(),
		ClientHours:    k.ClientHours.Round(4).String(),
		TotalRevenue:   k.TotalRevenue.String(),
		EncounterCount: k.EncounterCount,
		TotalUnits:     k.TotalUnits,
	}
	dto.RevenuePerHour = roundedString(k.RevenuePerHour)
	dto.RevenuePerEncounter = roundedString(k.RevenuePerEncounter)
	dto.UtilizationRate = roundedString(k.UtilizationRate)
	dto.GoalAttainment = roundedString(k.GoalAttainment)
	dto.ROI = roundedString(k.ROI)
	return dto
}

// ServiceKPIDTO is one service-mix row.
type ServiceKPIDTO struct {
	Period     string `json:"period"`
	Code       string `json:"service_code"`
	Encounters int    `json:"encounters"`
	TotalUnits int64  `json:"total_units"`
	Revenue    string `json:"revenue"`
}

func serviceKPIToDTO(k engine.MonthlyServiceKPI) ServiceKPIDTO {
	return ServiceKPIDTO{
		Period:     k.Period.String(),
		Code:       string(k.Code),
		Encounters: k.Encounters,
		TotalUnits: k.TotalUnits,
		Revenue:    k.Revenue.String(),
	}
}

// ValidationDTO mirrors engine.ValidationReport.
type ValidationDTO struct {
	RowsSeen    int            `json:"rows_seen"`
	RowsKept    int            `json:"rows_kept"`
	RowsDropped int            `json:"rows_dropped"`
	ByReason    map[string]int `json:"by_reason,omitempty"`
}

// PricingFailureDTO is one encounter whose pricing failed.
type PricingFailureDTO struct {
	Row         int    `json:"row"`
	ServiceCode string `json:"service_code"`
	Date        string `json:"date"`
	Error       string `json:"error"`
}

// RunResponse is the full result of one pipeline run.
type RunResponse struct {
	RunID           string              `json:"run_id"`
	KPIs            []MonthlyKPIDTO     `json:"kpis"`
	ServiceMix      []ServiceKPIDTO     `json:"service_mix"`
	Validation      ValidationDTO       `json:"validation"`
	PricingFailures []PricingFailureDTO `json:"pricing_failures,omitempty"`
}

// RunRecordDTO is one row of run history.
type RunRecordDTO struct {
	ID              string `json:"id"`
	StartedAt       string `json:"started_at"`
	FinishedAt      string `json:"finished_at"`
	RowsSeen        int    `json:"rows_seen"`
	RowsValidated   int    `json:"rows_validated"`
	RowsPriced      int    `json:"rows_priced"`
	PricingFailures int    `json:"pricing_failures"`
}

func runRecordToDTO(r sqlite.RunRecord) RunRecordDTO {
	return RunRecordDTO{
		ID:              r.ID,
		StartedAt:       r.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		FinishedAt:      r.FinishedAt.Format("2006-01-02T15:04:05Z07:00"),
		RowsSeen:        r.RowsSeen,
		RowsValidated:   r.RowsValidated,
		RowsPriced:      r.RowsPriced,
		PricingFailures: r.PricingFailures,
	}
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
