// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/competition_recorder/internal/gps"
	"github.com/relabs-tech/competition_recorder/internal/model"
	"github.com/relabs-tech/competition_recorder/internal/session"
)

const (
	defaultResultLimit = 20
	maxResultLimit     = 500
	wsSendBuffer       = 4
	wsWriteTimeout     = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// SessionControl is the part of the session controller served over HTTP.
type SessionControl interface {
	Status(ctx context.Context) session.Status
	Arm(ctx context.Context, start, end gps.Zone) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ModelRecords lists the installed models.
type ModelRecords interface {
	Records() []model.LocalRecord
}

// ResultHistory lists finished recordings.
type ResultHistory interface {
	Recent(ctx context.Context, limit int) ([]session.Result, error)
}

// WebServer exposes the recorder to the local web UI: a JSON API and a
// websocket that pushes every session status change.
type WebServer struct {
	logger    *slog.Logger
	session   SessionControl
	models    ModelRecords
	results   ResultHistory // nil disables /api/results
	staticDir string

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan session.Status
}

// NewWebServer creates the web server. staticDir may be empty.
func NewWebServer(logger *slog.Logger, sc SessionControl, models ModelRecords, results ResultHistory, staticDir string) *WebServer {
	return &WebServer{
		logger:    logger.With("component", "web"),
		session:   sc,
		models:    models,
		results:   results,
		staticDir: staticDir,
		clients:   make(map[*wsClient]struct{}),
	}
}

// Handler returns the router.
func (s *WebServer) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/session/arm", s.handleArm).Methods(http.MethodPost)
	api.HandleFunc("/session/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/session/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/models", s.handleModels).Methods(http.MethodGet)
	api.HandleFunc("/results", s.handleResults).Methods(http.MethodGet)
	r.HandleFunc("/ws/session", s.handleWS)
	if s.staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}
	return r
}

// Serve listens on addr until ctx is cancelled.
func (s *WebServer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	s.closeClients()
	return nil
}

// Broadcast pushes st to every websocket client. It never blocks: a client
// that has not drained its buffer loses its oldest queued status.
func (s *WebServer) Broadcast(st session.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		for {
			select {
			case c.send <- st:
			default:
				select {
				case <-c.send:
				default:
				}
				continue
			}
			break
		}
	}
}

func (s *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status(r.Context()))
}

type armRequest struct {
	Start gps.Zone `json:"start"`
	End   gps.Zone `json:"end"`
}

func (s *WebServer) handleArm(w http.ResponseWriter, r *http.Request) {
	var req armRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Start.RadiusMeters <= 0 || req.End.RadiusMeters <= 0 {
		writeError(w, http.StatusBadRequest, "zone radius must be positive")
		return
	}
	if err := s.session.Arm(r.Context(), req.Start, req.End); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status(r.Context()))
}

func (s *WebServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Start(r.Context()); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status(r.Context()))
}

func (s *WebServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Stop(r.Context()); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status(r.Context()))
}

type modelView struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Checksum string `json:"checksum"`
}

func (s *WebServer) handleModels(w http.ResponseWriter, r *http.Request) {
	records := s.models.Records()
	out := make([]modelView, 0, len(records))
	for _, rec := range records {
		out = append(out, modelView{ID: rec.ModelID, Version: rec.InstalledVersion, Checksum: rec.InstalledChecksum})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *WebServer) handleResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeError(w, http.StatusNotFound, "results are not stored")
		return
	}
	limit := defaultResultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxResultLimit)
	}
	results, err := s.results.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("results query error", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "results unavailable")
		return
	}
	if results == nil {
		results = []session.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *WebServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", slog.Any("error", err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan session.Status, wsSendBuffer)}
	c.send <- s.session.Status(r.Context())
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	done := make(chan struct{})
	go s.writeLoop(c, done)

	// Reads only detect the close; clients send nothing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	close(done)
	s.remove(c)
}

func (s *WebServer) writeLoop(c *wsClient, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case st := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(st); err != nil {
				s.logger.Debug("websocket write error", slog.Any("error", err))
				c.conn.Close()
				return
			}
		}
	}
}

func (s *WebServer) remove(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.conn.Close()
}

func (s *WebServer) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.conn.Close()
	}
}

func (s *WebServer) writeSessionError(w http.ResponseWriter, err error) {
	var perm *session.PermissionError
	switch {
	case errors.As(err, &perm):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "permission denied", "reason": perm.Reason})
	case errors.Is(err, session.ErrAlreadyRecording):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("session request failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
