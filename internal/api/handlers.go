package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"babel/relay/internal/health"
	"babel/relay/internal/registry"
	"babel/relay/internal/signaling"
)

// Handlers serves the admin surface next to the signaling socket.
type Handlers struct {
	reg    *registry.Registry
	router *signaling.Router
}

func NewHandlers(reg *registry.Registry, rt *signaling.Router) *Handlers {
	return &Handlers{reg: reg, router: rt}
}

// Checks are the probes behind /healthz.
func (h *Handlers) Checks() []health.Check {
	return []health.Check{
		{Name: "registry", Fn: h.checkRegistry},
		{Name: "signaling", Fn: func(context.Context) error {
			if !h.router.Accepting() {
				return errors.New("draining")
			}
			return nil
		}},
	}
}

// checkRegistry fails if the registry lock cannot be taken before ctx ends.
func (h *Handlers) checkRegistry(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.reg.Stats()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("registry lock timeout")
	}
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	st := health.CheckAll(ctx, h.Checks()...)
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if !h.router.Accepting() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

type roomsResponse struct {
	Rooms    []registry.RoomInfo `json:"rooms"`
	Sessions int                 `json:"sessions"`
}

// HandleListRooms reports room ids with member counts. Names and session ids
// stay private to the room.
func (h *Handlers) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, roomsResponse{
		Rooms:    h.reg.Rooms(),
		Sessions: h.router.SessionCount(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
