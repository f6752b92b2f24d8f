package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lcalzada-xor/devicenames/internal/adapters/web/middleware"
)

// SetupRoutes builds the HTTP routes.
func SetupRoutes(s *Server) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestID(s.logger))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/devices", s.DeviceHandler.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/devices/{identifier}", s.DeviceHandler.HandleResolve).Methods(http.MethodGet)
	api.HandleFunc("/resolve", s.DeviceHandler.HandleResolveQuery).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.DeviceHandler.HandleStats).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.DeviceHandler.HandleRefresh).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}
