package http

import (
	"fmt"
	"net/http"

	"github.com/sawpanic/spreadrun/internal/stream"
)

func (h *Handlers) streaming(w http.ResponseWriter, r *http.Request) bool {
	if h.deps.Stream == nil || h.deps.Hub == nil {
		h.fail(w, r, fmt.Errorf("%w: streaming", errUnavailable))
		return false
	}
	return true
}

// StreamSocket upgrades GET /scan/stream to a WebSocket subscriber
func (h *Handlers) StreamSocket(w http.ResponseWriter, r *http.Request) {
	if h.deps.Hub == nil {
		w.Header().Set("Content-Type", "application/json")
		h.fail(w, r, fmt.Errorf("%w: streaming", errUnavailable))
		return
	}
	h.deps.Hub.ServeWS(w, r)
}

// StreamStart handles POST /scan/stream/start
func (h *Handlers) StreamStart(w http.ResponseWriter, r *http.Request) {
	if !h.streaming(w, r) {
		return
	}
	var req StreamStartRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.deps.Stream.Start(h.deps.StreamContext, req.Symbols); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, h.deps.Stream.Status())
}

// StreamStop handles POST /scan/stream/stop
func (h *Handlers) StreamStop(w http.ResponseWriter, r *http.Request) {
	if !h.streaming(w, r) {
		return
	}
	if err := h.deps.Stream.Stop(); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.deps.Stream.Status())
}

// StreamStatus handles GET /scan/stream/status
func (h *Handlers) StreamStatus(w http.ResponseWriter, r *http.Request) {
	if !h.streaming(w, r) {
		return
	}
	h.writeJSON(w, http.StatusOK, StreamStatusResponse{
		Status:          h.deps.Stream.Status(),
		SubscriberCount: h.deps.Hub.SubscriberCount(),
		Subscribers:     h.deps.Hub.Subscribers(),
	})
}

// StreamRequest handles POST /scan/stream/request: the scan goes through
// the ad-hoc queue and the reply waits for it within the request deadline.
func (h *Handlers) StreamRequest(w http.ResponseWriter, r *http.Request) {
	if !h.streaming(w, r) {
		return
	}
	var body ScanRequest
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	opts, err := h.scanOptions(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	req, reply, err := h.deps.Stream.Submit(stream.Request{
		Symbols: body.Symbols,
		Filters: &opts.Filters,
		Profile: opts.Profile,
		Limit:   opts.Limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	select {
	case resp := <-reply:
		if resp.Err != nil {
			h.fail(w, r, resp.Err)
			return
		}
		h.writeJSON(w, http.StatusOK, resp)
	case <-r.Context().Done():
		h.fail(w, r, fmt.Errorf("request %s: %w", req.ID, r.Context().Err()))
	}
}
