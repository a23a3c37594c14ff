// Package debughttp builds the small goji-routed HTTP surface
// tracebench-server and tracebench-client expose when started with -d:
// a liveness check, a JSON dump of whatever debug vars the caller wants to
// expose, and (for the server) a Prometheus /metrics endpoint. Grounded on
// http.go's goji.NewMux()/pat.Get(...) routing.
package debughttp

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"goji.io"
	"goji.io/pat"
)

// NewMux builds the debug mux. debugVars, if non-nil, is called fresh on
// every /debug/vars request and JSON-encoded; withMetrics additionally
// mounts the Prometheus handler at /metrics (the server does this, the
// client does not since it registers no domain metrics of its own).
func NewMux(debugVars func() interface{}, withMetrics bool) http.Handler {
	mux := goji.NewMux()

	mux.HandleFunc(pat.Get("/healthz"), func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})

	mux.HandleFunc(pat.Get("/debug/vars"), func(w http.ResponseWriter, r *http.Request) {
		var payload interface{}
		if debugVars != nil {
			payload = debugVars()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	if withMetrics {
		mux.Handle(pat.Get("/metrics"), promhttp.Handler())
	}

	return mux
}
