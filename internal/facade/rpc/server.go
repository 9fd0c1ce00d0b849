// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rpc is the local-only HTTP+websocket surface over the Service
// Facade (§6 Facade RPC, §4.9). It is a thin transport: every handler
// validates and decodes a request, calls exactly one Facade method, and
// encodes the structured response or error. No business logic lives here.
package rpc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/autonomy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/facade"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/logging"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

// Config configures the RPC surface's transport (§6 "must be local-only by
// default").
type Config struct {
	SocketPath        string // default: local-only unix domain socket
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	RequestTimeout    time.Duration
}

func DefaultConfig(socketPath string) Config {
	return Config{
		SocketPath:        socketPath,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		RequestTimeout:    10 * time.Second,
	}
}

// Server is the HTTP+websocket front end over a *facade.Facade.
type Server struct {
	cfg      Config
	facade   *facade.Facade
	router   *mux.Router
	upgrader websocket.Upgrader
	http     *http.Server
	listener net.Listener
}

func NewServer(cfg Config, f *facade.Facade) *Server {
	s := &Server{
		cfg: cfg, facade: f, router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			// local-only transport: the socket itself is the trust boundary,
			// so origin checking would only add false friction.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/propose", s.handlePropose).Methods(http.MethodPost)
	s.router.HandleFunc("/approve/{id}", s.handleApprove).Methods(http.MethodPost)
	s.router.HandleFunc("/reject/{id}", s.handleReject).Methods(http.MethodPost)
	s.router.HandleFunc("/commit/{id}", s.handleCommit).Methods(http.MethodPost)
	s.router.HandleFunc("/rollback/{id}", s.handleRollback).Methods(http.MethodPost)
	s.router.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	s.router.HandleFunc("/rules/import", s.handleImportRules).Methods(http.MethodPost)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/autonomy/level", s.handleAutonomySetLevel).Methods(http.MethodPut)
	s.router.HandleFunc("/never_block", s.handleNeverBlockAdd).Methods(http.MethodPost)
	s.router.HandleFunc("/never_block/{id}", s.handleNeverBlockRemove).Methods(http.MethodDelete)
	s.router.HandleFunc("/events", s.handleSubscribeEvents)
}

// Start binds the configured listener and serves until ctx is canceled. On
// a unix socket, Start removes any stale socket file from an unclean
// shutdown before listening, matching the teacher's ctlplane.Server.Start.
func (s *Server) Start(ctx context.Context) error {
	os.Remove(s.cfg.SocketPath)
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return errors.Wrap(err, errors.KindSystem, "failed to listen on facade rpc socket")
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o660); err != nil {
		ln.Close()
		return errors.Wrap(err, errors.KindSystem, "failed to set facade rpc socket permissions")
	}
	s.listener = ln

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logging.Warn("facade rpc: failed to encode response", "error", err)
		}
	}
}

// errorResponse mirrors the stable error taxonomy of §7: kind, message, and
// an optional correlation id never an opaque internal error.
type errorResponse struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := errors.GetKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case errors.KindValidation, errors.KindPolicy:
		status = http.StatusBadRequest
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindConflict:
		status = http.StatusConflict
	case errors.KindUnavailable, errors.KindTransient:
		status = http.StatusServiceUnavailable
	case errors.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorResponse{Kind: kind.String(), Message: err.Error(), CorrelationID: errors.GetCorrelationID(err)})
}

type proposeRequest struct {
	Text string       `json:"text,omitempty"`
	Rule *policy.Rule `json:"rule,omitempty"`
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(err, errors.KindValidation, "malformed propose request"))
		return
	}
	p, err := s.facade.Propose(ctx, facade.ProposeInput{Text: req.Text, Rule: req.Rule})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	d, err := s.facade.Approve(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	var req rejectRequest
	json.NewDecoder(r.Body).Decode(&req)
	if err := s.facade.Reject(ctx, mux.Vars(r)["id"], req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	d, err := s.facade.Commit(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	d, err := s.facade.Rollback(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	rules, err := s.facade.ListRules(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleImportRules(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	rules, warnings, err := s.facade.ImportRules(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Rules    []policy.Rule `json:"rules"`
		Warnings []string      `json:"warnings"`
	}{rules, warnings})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	status, err := s.facade.DaemonStatus(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type autonomyLevelRequest struct {
	Level autonomy.Level `json:"level"`
}

func (s *Server) handleAutonomySetLevel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	var req autonomyLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(err, errors.KindValidation, "malformed autonomy level request"))
		return
	}
	if err := s.facade.AutonomySetLevel(ctx, req.Level); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleNeverBlockAdd(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	var entry store.NeverBlockEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, errors.Wrap(err, errors.KindValidation, "malformed never_block entry"))
		return
	}
	if err := s.facade.NeverBlockAdd(ctx, entry); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleNeverBlockRemove(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.facade.NeverBlockRemove(ctx, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleSubscribeEvents upgrades to a websocket and streams SecurityEvents
// since an optional ?since= RFC3339 cursor (§4.9 subscribe_events, §6
// "long-lived subscription... since an optional sequence cursor").
func (s *Server) handleSubscribeEvents(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if q := r.URL.Query().Get("since"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			writeError(w, errors.Wrap(err, errors.KindValidation, "malformed since cursor"))
			return
		}
		since = &t
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("facade rpc: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe, err := s.facade.SubscribeEvents(r.Context(), since)
	if err != nil {
		logging.Warn("facade rpc: subscribe_events failed", "error", err)
		return
	}
	defer unsubscribe()

	for e := range events {
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}
}
