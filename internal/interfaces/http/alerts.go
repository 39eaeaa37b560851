package http

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sawpanic/spreadrun/internal/alerts"
	"github.com/sawpanic/spreadrun/internal/provider"
)

func (h *Handlers) alertManager(w http.ResponseWriter, r *http.Request) (*alerts.Manager, bool) {
	if h.deps.Alerts == nil {
		h.fail(w, r, fmt.Errorf("%w: alerting", errUnavailable))
		return nil, false
	}
	return h.deps.Alerts, true
}

// ListAlerts handles GET /alerts?limit=n, newest first
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	am, ok := h.alertManager(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, am.History(queryLimit(r, 100)))
}

// ListRules handles GET /alerts/rules
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	am, ok := h.alertManager(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, am.Rules())
}

// AddRule handles POST /alerts/rules
func (h *Handlers) AddRule(w http.ResponseWriter, r *http.Request) {
	am, ok := h.alertManager(w, r)
	if !ok {
		return
	}
	var rule alerts.Rule
	if err := decodeBody(r, &rule); err != nil {
		h.fail(w, r, err)
		return
	}
	added, err := am.AddRule(rule)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, added)
}

// RemoveRule handles DELETE /alerts/rules/{id}
func (h *Handlers) RemoveRule(w http.ResponseWriter, r *http.Request) {
	am, ok := h.alertManager(w, r)
	if !ok {
		return
	}
	if err := am.RemoveRule(mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcknowledgeAlert handles POST /alerts/{id}/ack
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	am, ok := h.alertManager(w, r)
	if !ok {
		return
	}
	alert, err := am.Acknowledge(mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

// History handles GET /history/{symbol}?limit=n
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	if !h.deps.History.Enabled() {
		h.fail(w, r, fmt.Errorf("%w: scan history", errUnavailable))
		return
	}
	sym, err := provider.NormalizeSymbol(mux.Vars(r)["symbol"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	records, err := h.deps.History.Recent(r.Context(), sym, queryLimit(r, 20))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}
