package server

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"mercator-hq/gatekeeper/pkg/governor"
	"mercator-hq/gatekeeper/pkg/governor/budget"
	"mercator-hq/gatekeeper/pkg/governor/circuit"
)

type errorResponse struct {
	Error string `json:"error"`
}

// BudgetResponse is served by /v1/budget without a tenant parameter.
type BudgetResponse struct {
	Global  budget.Status   `json:"global"`
	Tenants []budget.Status `json:"tenants"`
}

// CircuitResponse is served by /v1/circuit.
type CircuitResponse struct {
	Name         string         `json:"name"`
	State        circuit.State  `json:"state"`
	RetryAfterMS int64          `json:"retry_after_ms"`
	Counts       circuit.Counts `json:"counts"`
}

func budgetHandler(gov *governor.Governor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readOnly(w, r) {
			return
		}
		tracker := gov.Budget()
		tenants := tracker.Tenants()

		if tenant := r.URL.Query().Get("tenant"); tenant != "" {
			if !slices.Contains(tenants, tenant) {
				writeError(w, http.StatusNotFound, "no usage recorded for tenant "+tenant)
				return
			}
			writeJSON(w, http.StatusOK, tracker.Usage(tenant))
			return
		}

		resp := BudgetResponse{
			Global:  tracker.GlobalStatus(),
			Tenants: make([]budget.Status, 0, len(tenants)),
		}
		for _, tenant := range tenants {
			resp.Tenants = append(resp.Tenants, tracker.Usage(tenant).Tenant)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func circuitHandler(gov *governor.Governor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readOnly(w, r) {
			return
		}
		b := gov.Breaker()
		writeJSON(w, http.StatusOK, CircuitResponse{
			Name:         b.Name(),
			State:        b.State(),
			RetryAfterMS: b.RetryAfter().Round(time.Millisecond).Milliseconds(),
			Counts:       b.Counts(),
		})
	}
}

func readOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
