// Package api serves the station board over HTTP: JSON endpoints for every registry operation, the
// WebSocket subscription and the metrics endpoint.
package api

import (
	"net/http"
	"strings"

	"github.com/benjaminclauss/stationboard/metrics"
	"github.com/benjaminclauss/stationboard/registry"
)

const homeMessage = "API de gestión de estaciones"

// Board is the set of registry operations the API exposes. *registry.Registry implements it.
type Board interface {
	ListStations() registry.Snapshot
	Register(station, plate string, noPenalty bool) (registry.Vehicle, bool, error)
	SetStatus(station, plate, status string) (registry.Vehicle, error)
	Advance(station, plate string) (registry.Vehicle, error)
	Transfer(origin, destination, plate string) (registry.Vehicle, error)
	Reset()
}

type Options struct {
	Board Board
	// Subscriptions handles GET /ws. Nil disables the route.
	Subscriptions http.Handler
	Metrics       *metrics.Metrics
	Version       string
}

type handlers struct {
	board   Board
	metrics *metrics.Metrics
	version string
}

// NewHandler returns the complete HTTP surface with middleware applied.
func NewHandler(opts Options) http.Handler {
	h := &handlers{board: opts.Board, metrics: opts.Metrics, version: opts.Version}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.home)
	mux.HandleFunc("GET /stations", h.listStations)
	mux.HandleFunc("POST /add_vehicle", h.addVehicle)
	mux.HandleFunc("PUT /vehicle/{station}/{plate}", h.updateVehicle)
	mux.HandleFunc("POST /vehicle/{station}/{plate}/advance", h.advanceVehicle)
	mux.HandleFunc("POST /transfer", h.transfer)
	mux.HandleFunc("DELETE /reset", h.reset)
	if opts.Subscriptions != nil {
		mux.Handle("GET /ws", opts.Subscriptions)
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	return withRequestID(withAccessLog(withRecover(withCORS(mux))))
}

func (h *handlers) home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "online",
		"message": homeMessage,
		"version": h.version,
	})
}

func (h *handlers) listStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.board.ListStations())
}

func (h *handlers) addVehicle(w http.ResponseWriter, r *http.Request) {
	var req addVehicleRequest
	if err := h.decodeRequest(w, r, "register", &req); err != nil {
		return
	}

	noPenalty := req.NoPenalty != nil && *req.NoPenalty
	v, created, err := h.board.Register(strings.TrimSpace(*req.Station), string(*req.Plate), noPenalty)
	h.metrics.ObserveMutation("register", err)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, v)
}

func (h *handlers) updateVehicle(w http.ResponseWriter, r *http.Request) {
	var req updateVehicleRequest
	if err := h.decodeRequest(w, r, "set_status", &req); err != nil {
		return
	}

	v, err := h.board.SetStatus(r.PathValue("station"), r.PathValue("plate"), *req.Status)
	h.metrics.ObserveMutation("set_status", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) advanceVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := h.board.Advance(r.PathValue("station"), r.PathValue("plate"))
	h.metrics.ObserveMutation("advance", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := h.decodeRequest(w, r, "transfer", &req); err != nil {
		return
	}

	v, err := h.board.Transfer(strings.TrimSpace(*req.Origin), strings.TrimSpace(*req.Destination), string(*req.Plate))
	h.metrics.ObserveMutation("transfer", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) reset(w http.ResponseWriter, r *http.Request) {
	h.board.Reset()
	h.metrics.ObserveMutation("reset", nil)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Datos reiniciados"})
}

type validator interface {
	validate() error
}

// decodeRequest decodes and validates the body, writing the error response itself on failure.
func (h *handlers) decodeRequest(w http.ResponseWriter, r *http.Request, op string, req validator) error {
	err := decode(w, r, req)
	if err == nil {
		err = req.validate()
	}
	if err != nil {
		h.metrics.ObserveMutation(op, err)
		writeError(w, r, err)
	}
	return err
}
