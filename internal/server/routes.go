// Package server wires HTTP handlers into a ServeMux for the ChatRelay
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, the WebSocket relay endpoint, the test page, and the
// hub's Prometheus metrics.
func SetupRoutes(h *Handlers, metrics *Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.Health)
	mux.HandleFunc("/ws", h.WebSocket)
	mux.HandleFunc("/test", h.TestPage)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}
	return mux
}
