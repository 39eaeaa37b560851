package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sawpanic/spreadrun/internal/filters"
)

func (h *Handlers) filterManager(w http.ResponseWriter, r *http.Request) (*filters.Manager, bool) {
	if h.deps.Filters == nil {
		h.fail(w, r, fmt.Errorf("%w: filter management", errUnavailable))
		return nil, false
	}
	return h.deps.Filters, true
}

func changeSource(r *http.Request) string {
	return "http:" + requestID(r)
}

// GetFilters handles GET /filters
func (h *Handlers) GetFilters(w http.ResponseWriter, r *http.Request) {
	fm, ok := h.filterManager(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, fm.Current())
}

// UpdateFilters handles PUT /filters; the body patches the live config
func (h *Handlers) UpdateFilters(w http.ResponseWriter, r *http.Request) {
	fm, ok := h.filterManager(w, r)
	if !ok {
		return
	}
	var patch filters.Config
	if err := decodeBody(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	change, err := fm.Update(patch, changeSource(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, change)
}

// ResetFilters handles POST /filters/reset
func (h *Handlers) ResetFilters(w http.ResponseWriter, r *http.Request) {
	fm, ok := h.filterManager(w, r)
	if !ok {
		return
	}
	change, err := fm.Reset(changeSource(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, change)
}

// FilterHistory handles GET /filters/history?limit=n
func (h *Handlers) FilterHistory(w http.ResponseWriter, r *http.Request) {
	fm, ok := h.filterManager(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, fm.History(queryLimit(r, 0)))
}

// ListPresets handles GET /filters/presets
func (h *Handlers) ListPresets(w http.ResponseWriter, r *http.Request) {
	fm, ok := h.filterManager(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, fm.Presets().List())
}

// AddPreset handles POST /filters/presets
func (h *Handlers) AddPreset(w http.ResponseWriter, r *http.Request) {
	fm, ok := h.filterManager(w, r)
	if !ok {
		return
	}
	var p filters.Preset
	if err := decodeBody(r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	if p.Name == "" {
		h.fail(w, r, fmt.Errorf("%w: preset name is required", errBadRequest))
		return
	}
	p.BuiltIn = false
	if err := fm.Presets().Add(p); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, p)
}

// ApplyPreset handles POST /filters/presets/{name}/apply
func (h *Handlers) ApplyPreset(w http.ResponseWriter, r *http.Request) {
	fm, ok := h.filterManager(w, r)
	if !ok {
		return
	}
	change, err := fm.ApplyPreset(mux.Vars(r)["name"], changeSource(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, change)
}

// queryLimit reads ?limit=, falling back to def on absence or garbage
func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
