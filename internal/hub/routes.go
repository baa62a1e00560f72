package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/wsclient/internal/auth"
	logs "github.com/danmuck/wsclient/internal/logging"
	"github.com/danmuck/wsclient/internal/observability"
	"github.com/danmuck/wsclient/internal/protocol/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type peerView struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sid"`
	Platform  string    `json:"platform"`
	Connected time.Time `json:"connected"`
}

func (h *Hub) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(*logs.Logger()))
	r.Use(observability.RequestMetricsMiddleware(h.cfg.ID))

	if h.cfg.Token != "" {
		r.With(auth.Require(auth.StaticToken{Token: h.cfg.Token})).Get(h.cfg.Path, h.serveWS)
	} else {
		r.Get(h.cfg.Path, h.serveWS)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"uptime":  time.Since(h.started).String(),
			"hub":     h.cfg.ID,
			"clients": len(h.Peers()),
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/clients", func(w http.ResponseWriter, r *http.Request) {
		peers := h.Peers()
		out := make([]peerView, 0, len(peers))
		for _, p := range peers {
			out = append(out, peerView{ID: p.ID, SessionID: p.SessionID, Platform: p.Platform, Connected: p.Connected})
		}
		writeJSON(w, http.StatusOK, map[string]any{"clients": out})
	})

	// DELETE /clients/{id}?code=3003&reason=... disconnects one peer.
	r.Delete("/clients/{id}", func(w http.ResponseWriter, r *http.Request) {
		code := session.CloseTerminalDisconnect
		if raw := r.URL.Query().Get("code"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1000 || parsed > 4999 {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid close code"})
				return
			}
			code = parsed
		}
		reason := r.URL.Query().Get("reason")
		if err := h.Kick(chi.URLParam(r, "id"), code, reason); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrPeerNotFound) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "code": code})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
