/*
handlers.go - HTTP API handlers for the revenue engine

PURPOSE:
  Exposes the billing & KPI engine over REST. Handlers do HTTP
  request/response and JSON work, then delegate to the engine and the
  sqlite store. The engine itself stays pure; all statefulness lives here.

ENDPOINTS:
  Encounters:
    POST   /api/encounters     Bulk-upload encounter records
    GET    /api/encounters     List stored encounters

  Rates:
    PUT    /api/rates          Replace the rate table (ratecfg JSON)
    GET    /api/rates          List the stored rule set

  KPI runs:
    POST   /api/kpis/run       Run the pipeline over the stored data
    GET    /api/runs           Run history

  Health:
    GET    /api/healthz

REQUEST FLOW:
  1. Decode and validate input
  2. Call engine / store
  3. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: malformed input, invalid configuration values
  - 409: rate-table data integrity (overlapping ranges)
  - 422: pricing failure rate above the requested threshold
  - 500: storage or internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/warp/revenue-engine/engine"
	"github.com/warp/revenue-engine/ratecfg"
	"github.com/warp/revenue-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store *sqlite.Store
}

// NewHandler creates a handler over the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{Store: store}
}

// =============================================================================
// ENCOUNTER HANDLERS
// =============================================================================

// AddEncounters bulk-uploads encounter records.
func (h *Handler) AddEncounters(w http.ResponseWriter, r *http.Request) {
	var dtos []EncounterDTO
	if err := decodeJSON(r, &dtos); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(dtos) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no encounters in request"))
		return
	}

	records := make([]engine.EncounterRecord, 0, len(dtos))
	for i, dto := range dtos {
		rec, err := encounterFromDTO(dto)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("encounters[%d]: %w", i, err))
			return
		}
		records = append(records, rec)
	}

	if err := h.Store.AddEncounters(r.Context(), records); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	total, err := h.Store.CountEncounters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, AddEncountersResponse{Added: len(records), Total: total})
}

// ListEncounters returns all stored encounters.
func (h *Handler) ListEncounters(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListEncounters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]EncounterDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, encounterToDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func encounterFromDTO(dto EncounterDTO) (engine.EncounterRecord, error) {
	date, err := time.Parse("2006-01-02", dto.Date)
	if err != nil {
		return engine.EncounterRecord{}, fmt.Errorf("invalid date %q: %w", dto.Date, err)
	}
	if dto.ServiceCode == "" {
		return engine.EncounterRecord{}, fmt.Errorf("missing service_code")
	}
	duration := decimal.Zero
	if dto.DurationMinutes != "" {
		duration, err = decimal.NewFromString(dto.DurationMinutes)
		if err != nil {
			return engine.EncounterRecord{}, fmt.Errorf("invalid duration_min %q: %w", dto.DurationMinutes, err)
		}
	}
	return engine.EncounterRecord{
		Date:            date,
		Code:            engine.ServiceCode(dto.ServiceCode),
		DurationMinutes: duration,
		Billable:        dto.IsBillable,
		Status:          engine.ParseStatus(dto.Status),
	}, nil
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

// ReplaceRates replaces the stored rate table. The body is the ratecfg
// JSON format (explicit rules and/or fiscal-year shorthand). The new set
// must build a valid (non-overlapping) table before it is stored.
func (h *Handler) ReplaceRates(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rules, err := ratecfg.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := engine.NewRateTable(rules); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err := h.Store.ReplaceRateRules(r.Context(), rules); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ReplaceRatesResponse{Rules: len(rules)})
}

// ListRates returns the stored rate rules.
func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListRateRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]RateRuleDTO, 0, len(rules))
	for _, rule := range rules {
		dtos = append(dtos, rateRuleToDTO(rule))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// KPI RUN HANDLER
// =============================================================================

// RunKPIs runs the full pipeline over the stored encounters and rates.
func (h *Handler) RunKPIs(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts, err := runOptionsFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rules, err := h.Store.ListRateRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	table, err := engine.NewRateTable(rules)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	records, err := h.Store.ListEncounters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	started := time.Now()
	result, err := engine.New(table).Run(records, opts)
	if err != nil {
		if errors.Is(err, engine.ErrFailureThreshold) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	optionsJSON, _ := json.Marshal(req)
	if err := h.Store.RecordRun(r.Context(), sqlite.RunRecord{
		ID:              result.RunID,
		StartedAt:       started,
		FinishedAt:      time.Now(),
		RowsSeen:        result.Validation.RowsSeen,
		RowsValidated:   result.Validation.RowsKept,
		RowsPriced:      result.Pricing.EncountersPriced,
		PricingFailures: len(result.Pricing.Failures),
		OptionsJSON:     string(optionsJSON),
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, RunToResponse(result))
}

func runOptionsFromRequest(req RunRequest) (engine.RunOptions, error) {
	var opts engine.RunOptions
	opts.DenseMonths = req.DenseMonths

	var err error
	if req.BaselineHours != "" {
		opts.BaselineHours, err = decimal.NewFromString(req.BaselineHours)
		if err != nil {
			return opts, fmt.Errorf("invalid baseline_hours %q: %w", req.BaselineHours, err)
		}
	}
	if req.GoalHours != "" {
		goal, err := decimal.NewFromString(req.GoalHours)
		if err != nil {
			return opts, fmt.Errorf("invalid goal_hours %q: %w", req.GoalHours, err)
		}
		opts.GoalHours = &goal
	}
	if req.MaxFailureRate != "" {
		rate, err := decimal.NewFromString(req.MaxFailureRate)
		if err != nil {
			return opts, fmt.Errorf("invalid max_failure_rate %q: %w", req.MaxFailureRate, err)
		}
		opts.MaxFailureRate = &rate
	}
	if len(req.CompensationByMonth) > 0 {
		opts.CompensationByMonth = make(map[engine.Month]engine.Money, len(req.CompensationByMonth))
		for monthStr, amountStr := range req.CompensationByMonth {
			month, err := engine.ParseMonth(monthStr)
			if err != nil {
				return opts, err
			}
			amount, err := engine.NewMoney(amountStr)
			if err != nil {
				return opts, fmt.Errorf("compensation for %s: %w", monthStr, err)
			}
			opts.CompensationByMonth[month] = amount
		}
	}
	return opts, nil
}

// RunToResponse renders an engine result into the wire shape. The CLI's
// JSON output goes through the same conversion, so both surfaces agree and
// failure messages survive serialization.
func RunToResponse(result *engine.Result) RunResponse {
	resp := RunResponse{
		RunID: result.RunID,
		Validation: ValidationDTO{
			RowsSeen:    result.Validation.RowsSeen,
			RowsKept:    result.Validation.RowsKept,
			RowsDropped: result.Validation.RowsDropped,
		},
	}
	if len(result.Validation.ByReason) > 0 {
		resp.Validation.ByReason = make(map[string]int, len(result.Validation.ByReason))
		for reason, n := range result.Validation.ByReason {
			resp.Validation.ByReason[string(reason)] = n
		}
	}
	resp.KPIs = make([]MonthlyKPIDTO, 0, len(result.KPIs))
	for _, k := range result.KPIs {
		resp.KPIs = append(resp.KPIs, kpiToDTO(k))
	}
	resp.ServiceMix = make([]ServiceKPIDTO, 0, len(result.ServiceMix))
	for _, k := range result.ServiceMix {
		resp.ServiceMix = append(resp.ServiceMix, serviceKPIToDTO(k))
	}
	for _, f := range result.Pricing.Failures {
		resp.PricingFailures = append(resp.PricingFailures, PricingFailureDTO{
			Row:         f.Row,
			ServiceCode: string(f.Code),
			Date:        f.Date.Format("2006-01-02"),
			Error:       f.Err.Error(),
		})
	}
	return resp
}

// =============================================================================
// RUN HISTORY AND HEALTH
// =============================================================================

// ListRuns returns run history, most recent first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]RunRecordDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, runRecordToDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// JSON HELPERS
// =============================================================================

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
