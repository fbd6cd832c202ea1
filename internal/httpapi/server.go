package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"crabstack.local/projects/crab-stk/internal/device"
	"crabstack.local/projects/crab-stk/internal/journal"
	"crabstack.local/projects/crab-stk/internal/launcher"
	"crabstack.local/projects/crab-stk/internal/session"
	"crabstack.local/projects/crab-stk/internal/slots"
	"crabstack.local/projects/crab-stk/internal/stk"
)

const maxRequestBytes int64 = 1 << 20

// Manager is the slot manager surface the API drives.
type Manager interface {
	Submit(context.Context, stk.SlotID, stk.ProactiveCommand) (string, error)
	SubmitSessionEnd(context.Context, stk.SlotID) error
	SubmitCardStatus(ctx context.Context, slot stk.SlotID, present bool, refresh stk.RefreshResult) error
	SubmitResponse(context.Context, stk.SlotID, stk.UserResponse) error
	LaunchMainMenu(context.Context, stk.SlotID) (bool, error)
	MainMenu(context.Context, stk.SlotID) (*stk.Menu, error)
	CurrentMenu(context.Context, stk.SlotID) (*stk.Menu, error)
	Snapshot(context.Context, stk.SlotID) (session.Snapshot, error)
	SetSlotCount(context.Context, int) error
	SlotCount() int
}

type Journal interface {
	List(ctx context.Context, slot stk.SlotID, limit int) ([]journal.Entry, error)
}

type Device interface {
	Update(context.Context, device.Signal) error
	State() device.State
}

type Launcher interface {
	State() launcher.State
}

type Deps struct {
	Manager  Manager
	Journal  Journal
	Device   Device
	Launcher Launcher
	UI       http.Handler
}

type Options struct {
	RateLimit float64
	Burst     int
}

type server struct {
	logger *log.Logger
	deps   Deps
}

func NewServer(logger *log.Logger, addr string, deps Deps, opts Options) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(logger, deps, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// NewHandler builds the routed API. Health checks and the UI websocket are
// not rate limited.
func NewHandler(logger *log.Logger, deps Deps, opts Options) http.Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &server{logger: logger, deps: deps}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if deps.UI != nil {
		r.Handle("/v1/ui", deps.UI).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/v1").Subrouter()
	if opts.RateLimit > 0 && opts.Burst > 0 {
		api.Use(newRateLimiter(opts.RateLimit, opts.Burst).middleware)
	}
	api.HandleFunc("/slots", s.handleSetSlotCount).Methods(http.MethodPut)
	api.HandleFunc("/slots/{slot}/commands", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/slots/{slot}/commands", s.handleJournal).Methods(http.MethodGet)
	api.HandleFunc("/slots/{slot}/session-end", s.handleSessionEnd).Methods(http.MethodPost)
	api.HandleFunc("/slots/{slot}/card-status", s.handleCardStatus).Methods(http.MethodPost)
	api.HandleFunc("/slots/{slot}/responses", s.handleResponse).Methods(http.MethodPost)
	api.HandleFunc("/slots/{slot}/menu/launch", s.handleLaunchMenu).Methods(http.MethodPost)
	api.HandleFunc("/slots/{slot}/menu", s.handleMainMenu).Methods(http.MethodGet)
	api.HandleFunc("/slots/{slot}/menu/current", s.handleCurrentMenu).Methods(http.MethodGet)
	api.HandleFunc("/slots/{slot}/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/device", s.handleDevice).Methods(http.MethodPost)
	api.HandleFunc("/device", s.handleDeviceState).Methods(http.MethodGet)
	api.HandleFunc("/launcher", s.handleLauncher).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"slots": s.deps.Manager.SlotCount(),
	})
}

type slotCountRequest struct {
	Count *int `json:"count"`
}

func (s *server) handleSetSlotCount(w http.ResponseWriter, r *http.Request) {
	var req slotCountRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Count == nil {
		writeError(w, http.StatusBadRequest, "count is required")
		return
	}
	if err := s.deps.Manager.SetSlotCount(r.Context(), *req.Count); err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": *req.Count})
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	var cmd stk.ProactiveCommand
	if !s.decode(w, r, &cmd) {
		return
	}
	id, err := s.deps.Manager.Submit(r.Context(), slot, cmd)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":   true,
		"command_id": id,
	})
}

func (s *server) handleJournal(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	if s.deps.Journal == nil {
		writeError(w, http.StatusNotImplemented, "journal not configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	if _, err := s.deps.Manager.Snapshot(r.Context(), slot); err != nil {
		s.writeManagerError(w, err)
		return
	}
	entries, err := s.deps.Journal.List(r.Context(), slot, limit)
	if err != nil {
		s.logger.Printf("journal list failed slot=%s err=%v", slot, err)
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": entries})
}

func (s *server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	if err := s.deps.Manager.SubmitSessionEnd(r.Context(), slot); err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

type cardStatusRequest struct {
	Present       *bool             `json:"present"`
	RefreshResult stk.RefreshResult `json:"refresh_result"`
}

func (s *server) handleCardStatus(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	var req cardStatusRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Present == nil {
		writeError(w, http.StatusBadRequest, "present is required")
		return
	}
	if err := s.deps.Manager.SubmitCardStatus(r.Context(), slot, *req.Present, req.RefreshResult); err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *server) handleResponse(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	var resp stk.UserResponse
	if !s.decode(w, r, &resp) {
		return
	}
	if err := s.deps.Manager.SubmitResponse(r.Context(), slot, resp); err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *server) handleLaunchMenu(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	launched, err := s.deps.Manager.LaunchMainMenu(r.Context(), slot)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	if !launched {
		writeError(w, http.StatusConflict, "main menu not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"launched": true})
}

func (s *server) handleMainMenu(w http.ResponseWriter, r *http.Request) {
	s.writeMenu(w, r, s.deps.Manager.MainMenu)
}

func (s *server) handleCurrentMenu(w http.ResponseWriter, r *http.Request) {
	s.writeMenu(w, r, s.deps.Manager.CurrentMenu)
}

func (s *server) writeMenu(w http.ResponseWriter, r *http.Request, get func(context.Context, stk.SlotID) (*stk.Menu, error)) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	menu, err := get(r.Context(), slot)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	if menu == nil {
		writeError(w, http.StatusNotFound, "no menu")
		return
	}
	writeJSON(w, http.StatusOK, menu)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	snap, err := s.deps.Manager.Snapshot(r.Context(), slot)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if s.deps.Device == nil {
		writeError(w, http.StatusNotImplemented, "device monitor not configured")
		return
	}
	var sig device.Signal
	if !s.decode(w, r, &sig) {
		return
	}
	if err := s.deps.Device.Update(r.Context(), sig); err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Device.State())
}

func (s *server) handleDeviceState(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Device == nil {
		writeError(w, http.StatusNotImplemented, "device monitor not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Device.State())
}

func (s *server) handleLauncher(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Launcher == nil {
		writeError(w, http.StatusNotImplemented, "launcher not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Launcher.State())
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return false
	}
	if dec.More() {
		writeError(w, http.StatusBadRequest, "invalid json: trailing content")
		return false
	}
	return true
}

func (s *server) writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, slots.ErrUnknownSlot), errors.Is(err, journal.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, slots.ErrInvalidSlotCount),
		errors.Is(err, slots.ErrInvalidCardStatus),
		errors.Is(err, slots.ErrInvalidResponse),
		errors.Is(err, slots.ErrUnknownTimerAction):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, slots.ErrManagerStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Printf("request failed err=%v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func slotParam(w http.ResponseWriter, r *http.Request) (stk.SlotID, bool) {
	slot, err := stk.ParseSlotID(mux.Vars(r)["slot"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return slot, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
