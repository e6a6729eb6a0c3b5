package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pulseboard/pulseboard/internal/config"
)

// GetAICost answers GET /api/v1/ai/cost under the report deadline. Optional
// year/month query params select a past month.
func (a *API) GetAICost(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.ReportTimeoutDuration())
	defer cancel()

	year := intQuery(r, "year", 0)
	month := time.Month(intQuery(r, "month", 0))

	data, err := a.Gov.CostData(ctx, year, month)
	if err != nil {
		writeAppError(w, r, reportTimeout(err))
		return
	}
	writeJSON(w, http.StatusOK, data)
}

type usageRequest struct {
	Model            string `json:"model"`
	RequestType      string `json:"request_type"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

// RecordAIUsage answers POST /api/v1/ai/usage, charging one LLM call against
// the monthly budget.
func (a *API) RecordAIUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if req.PromptTokens < 0 || req.CompletionTokens < 0 {
		writeError(w, http.StatusBadRequest, "token counts must be non-negative")
		return
	}
	if req.RequestType == "" {
		req.RequestType = "chat"
	}

	record, err := a.Gov.RecordUsage(r.Context(), req.Model, req.RequestType, req.PromptTokens, req.CompletionTokens)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}
