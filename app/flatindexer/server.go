package flatindexer

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupServer builds the read-only status server on Config.Addr.
func (a *App) SetupServer() {
	a.Server = &http.Server{Addr: a.Config.Addr, Handler: a.NewRouter()}
	a.Logger.Info("Status server configured", zap.String("addr", a.Config.Addr))
}

// NewRouter returns the status routes.
func (a *App) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })).Methods("GET")
	r.HandleFunc("/readyz", a.handleReady).Methods("GET")
	r.HandleFunc("/status", a.handleStatus).Methods("GET")
	r.HandleFunc("/status/{entityType}", a.handleStatus).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(a.Metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")

	return r
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := a.Ready(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "errored", "error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	statuses, err := a.Status(r.Context())
	if err != nil {
		a.Logger.Error("Status failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	if et, ok := mux.Vars(r)["entityType"]; ok {
		for _, st := range statuses {
			if st.EntityType == et {
				_ = json.NewEncoder(w).Encode(st)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown entity type " + et})
		return
	}
	_ = json.NewEncoder(w).Encode(statuses)
}
