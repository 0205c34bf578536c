package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the admin endpoints and the signaling socket at /ws.
func NewRouter(h *Handlers, ws http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", get(h.HandleHealth))
	mux.HandleFunc("/readyz", get(h.HandleReady))
	mux.HandleFunc("/rooms", get(h.HandleListRooms))
	mux.Handle("/metrics", promhttp.Handler())
	if ws != nil {
		mux.Handle("/ws", ws)
	}

	return mux
}

func get(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}
