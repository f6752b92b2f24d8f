package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/lcalzada-xor/devicenames/internal/core/domain"
	"github.com/lcalzada-xor/devicenames/internal/core/services/devicenames"
	"github.com/lcalzada-xor/devicenames/internal/telemetry"
)

// DeviceNameService is the part of the resolver the HTTP API needs.
type DeviceNameService interface {
	Lookup(id string) (string, bool)
	Snapshot() (domain.Record, bool)
	Stats() devicenames.Stats
	ForceRefresh() bool
}

// DeviceHandler serves device name lookups
type DeviceHandler struct {
	Service DeviceNameService
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(service DeviceNameService) *DeviceHandler {
	return &DeviceHandler{
		Service: service,
	}
}

type resolveResponse struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Known      bool   `json:"known"`
}

type tableResponse struct {
	Entries     int               `json:"entries"`
	LastUpdated *time.Time        `json:"last_updated"`
	Devices     map[string]string `json:"devices"`
}

// HandleResolve resolves the {identifier} path variable
func (h *DeviceHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, mux.Vars(r)["identifier"])
}

// HandleResolveQuery resolves ?id=, for identifiers that do not fit in a path segment
func (h *DeviceHandler) HandleResolveQuery(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}
	h.resolve(w, id)
}

func (h *DeviceHandler) resolve(w http.ResponseWriter, id string) {
	name, known := h.Service.Lookup(id)
	telemetry.RecordLookup(known)

	writeJSON(w, http.StatusOK, resolveResponse{Identifier: id, Name: name, Known: known})
}

// HandleList returns the whole table currently in memory
func (h *DeviceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	resp := tableResponse{Devices: map[string]string{}}

	if rec, ok := h.Service.Snapshot(); ok {
		updated := rec.UpdatedAt().UTC()
		resp.LastUpdated = &updated
		resp.Entries = len(rec.Table)
		resp.Devices = rec.Table
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleStats returns resolver state
func (h *DeviceHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Stats())
}

// HandleRefresh starts a background refresh
func (h *DeviceHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.Service.ForceRefresh() {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "refresh_in_progress"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh_started"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
