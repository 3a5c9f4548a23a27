package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/mindbridge/internal/directory"
	"github.com/MrWong99/mindbridge/internal/observe"
	"github.com/MrWong99/mindbridge/internal/session"
)

// Handler returns the control API:
//
//	POST /api/session/start   start a session on the default devices
//	POST /api/session/stop    stop the current session
//	GET  /api/session         state, pending text, history, profile, referrals
//	GET  /api/directory       specialist profiles and availability
//	GET  /api/referrals       every stored referral
//	GET  /api/tools           per-tool call statistics
//	GET  /api/providers       live provider circuit states
//	GET  /healthz, /readyz    probes
//	GET  /metrics             Prometheus scrape endpoint, when enabled
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/start", a.handleStart)
	mux.HandleFunc("POST /api/session/stop", a.handleStop)
	mux.HandleFunc("GET /api/session", a.handleStatus)
	mux.HandleFunc("GET /api/directory", a.handleDirectory)
	mux.HandleFunc("GET /api/referrals", a.handleReferrals)
	mux.HandleFunc("GET /api/tools", a.handleTools)
	mux.HandleFunc("GET /api/providers", a.handleProviders)
	a.health.Register(mux)
	if a.cfg.Telemetry.Prometheus {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

type errorBody struct {
	Error  string  `json:"error"`
	Status *Status `json:"session,omitempty"`
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	err := a.sessions.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, a.sessions.Status())
	case errors.Is(err, ErrSessionActive):
		writeError(w, http.StatusConflict, err, nil)
	case errors.Is(err, ErrNoDevices):
		writeError(w, http.StatusServiceUnavailable, err, nil)
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusConflict, errors.New("start cancelled"), nil)
	case errors.Is(err, session.ErrAcquisition):
		st := a.sessions.Status()
		writeError(w, http.StatusBadGateway, err, &st)
	default:
		writeError(w, http.StatusInternalServerError, err, nil)
	}
}

func (a *App) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := a.sessions.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.Status())
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Status())
}

func (a *App) handleDirectory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.dir.Availability())
}

func (a *App) handleReferrals(w http.ResponseWriter, r *http.Request) {
	records, err := a.referrals.List(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("list referrals", "err", err)
		writeError(w, http.StatusInternalServerError, err, nil)
		return
	}
	if records == nil {
		records = []directory.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *App) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.host.Health())
}

func (a *App) handleProviders(w http.ResponseWriter, _ *http.Request) {
	if a.fallback == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, a.fallback.Status())
}

func writeError(w http.ResponseWriter, status int, err error, st *Status) {
	writeJSON(w, status, errorBody{Error: err.Error(), Status: st})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("app: encode response", "err", err)
	}
}
