package http

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sawpanic/spreadrun/internal/filters"
	"github.com/sawpanic/spreadrun/internal/scanner"
)

// baseFilters starts from the named preset, or the live config when none
func (h *Handlers) baseFilters(preset string) (filters.Config, error) {
	if h.deps.Filters == nil {
		return filters.Config{}, nil
	}
	if preset == "" {
		return h.deps.Filters.Current(), nil
	}
	p, err := h.deps.Filters.Presets().Get(preset)
	if err != nil {
		return filters.Config{}, err
	}
	return p.Filters, nil
}

// floatOverride patches one side or both of a range, keeping the other
// side from base or the domain bound
func floatOverride(base *filters.FloatRange, min, max *float64, lo, hi float64) *filters.FloatRange {
	if min == nil && max == nil {
		return nil
	}
	r := filters.FloatRange{Min: lo, Max: hi}
	if base != nil {
		r = *base
	}
	if min != nil {
		r.Min = *min
	}
	if max != nil {
		r.Max = *max
	}
	return &r
}

const openEnded = 1e9

// patch turns query overrides into a filter patch over base
func (q ScanQuery) patch(base filters.Config) filters.Config {
	var p filters.Config

	p.Delta = floatOverride(base.Delta, q.DeltaMin, q.DeltaMax, 0, 1)
	p.IV = floatOverride(base.IV, q.IVMin, q.IVMax, 0, openEnded)
	p.IVPercentile = floatOverride(base.IVPercentile, q.IVPMin, q.IVPMax, 0, 100)
	p.SpreadWidth = floatOverride(base.SpreadWidth, q.WidthMin, q.WidthMax, 0, openEnded)
	p.PoP = floatOverride(base.PoP, q.PoPMin, q.PoPMax, 0, 1)

	if q.DTEMin != nil || q.DTEMax != nil {
		r := filters.IntRange{Min: 0, Max: 3650}
		if base.DTE != nil {
			r = *base.DTE
		}
		if q.DTEMin != nil {
			r.Min = *q.DTEMin
		}
		if q.DTEMax != nil {
			r.Max = *q.DTEMax
		}
		p.DTE = &r
	}

	if q.MinVolume != nil || q.MinOpenInterest != nil || q.MaxBidAsk != nil {
		var l filters.LiquidityConfig
		if base.Liquidity != nil {
			l = *base.Liquidity
		}
		if q.MinVolume != nil {
			l.MinVolume = *q.MinVolume
		}
		if q.MinOpenInterest != nil {
			l.MinOpenInterest = *q.MinOpenInterest
		}
		if q.MaxBidAsk != nil {
			l.MaxBidAsk = *q.MaxBidAsk
		}
		p.Liquidity = &l
	}

	if q.MaxPositions != nil || q.RiskLimit != nil {
		var pf filters.PortfolioConfig
		if base.Portfolio != nil {
			pf = *base.Portfolio
		}
		if q.MaxPositions != nil {
			pf.MaxPositions = *q.MaxPositions
		}
		if q.RiskLimit != nil {
			pf.RiskLimit = *q.RiskLimit
		}
		p.Portfolio = &pf
	}
	return p
}

// ScanSymbol handles GET /scan/{symbol}
func (h *Handlers) ScanSymbol(w http.ResponseWriter, r *http.Request) {
	var q ScanQuery
	if err := h.decoder.Decode(&q, r.URL.Query()); err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	base, err := h.baseFilters(q.Preset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	opts := scanner.Options{
		Filters: base.Merge(q.patch(base)),
		Profile: q.Profile,
		Limit:   q.Limit,
	}

	result, err := h.deps.Scanner.ScanSymbol(r.Context(), mux.Vars(r)["symbol"], opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// scanOptions resolves a ScanRequest body into scan options. Explicit
// filters patch the preset or live config.
func (h *Handlers) scanOptions(req ScanRequest) (scanner.Options, error) {
	base, err := h.baseFilters(req.Preset)
	if err != nil {
		return scanner.Options{}, err
	}
	if req.Filters != nil {
		base = base.Merge(*req.Filters)
	}
	return scanner.Options{Filters: base, Profile: req.Profile, Limit: req.Limit}, nil
}

// ScanBatch handles POST /scan
func (h *Handlers) ScanBatch(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if len(req.Symbols) == 0 {
		h.fail(w, r, fmt.Errorf("%w: symbols are required", errBadRequest))
		return
	}

	opts, err := h.scanOptions(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	batch, err := h.deps.Scanner.ScanMultiple(r.Context(), req.Symbols, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}
