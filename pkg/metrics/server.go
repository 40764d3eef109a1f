package metrics

import (
	"net/http"
)

// Handler serves the registry in Prometheus text format.
func Handler(r *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Write([]byte(r.Render()))
	})
}

// Serve starts an HTTP listener exposing /metrics. It blocks; run it on
// its own goroutine.
func Serve(addr string, r *Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(r))
	return http.ListenAndServe(addr, mux)
}
