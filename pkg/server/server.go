// Package server exposes the exchange context to a browser UI: read-only
// snapshots, the mutation entry points and a websocket push of every commit.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/panels"
	"sponsorcoin/pkg/reconcile"
	"sponsorcoin/pkg/store"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is what websocket clients receive.
type Message struct {
	Type   string               `json:"type"`
	Reason string               `json:"reason,omitempty"`
	State  models.ExchangeState `json:"state"`
}

type Server struct {
	store      *store.Store
	controller *reconcile.Controller
	logger     *zap.Logger

	clients map[*websocket.Conn]bool
	mu      sync.Mutex
	mux     *http.ServeMux
}

func NewServer(st *store.Store, ctrl *reconcile.Controller, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      st,
		controller: ctrl,
		logger:     logger,
		clients:    make(map[*websocket.Conn]bool),
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("POST /api/panels/{op}", s.handlePanels)
	s.mux.HandleFunc("POST /api/network", s.handleNetwork)
	s.mux.HandleFunc("POST /api/accounts/{role}", s.handleSetAccount)
	s.mux.HandleFunc("POST /api/accounts/{role}/list", s.handleSetAccountList)
	s.mux.HandleFunc("DELETE /api/accounts/{role}", s.handleClearAccount)
	s.mux.HandleFunc("POST /api/error/dismiss", s.handleDismissError)
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves on port until ctx is done.
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.Broadcast(ctx)
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		s.closeClients()
	}()

	s.logger.Info("API server listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.GetState())
}

type panelRequest struct {
	ID        models.PanelID   `json:"id"`
	Group     []models.PanelID `json:"group,omitempty"`
	GroupName string           `json:"groupName,omitempty"`
}

func (s *Server) handlePanels(w http.ResponseWriter, r *http.Request) {
	var req panelRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var changed bool
	var err error
	switch op := r.PathValue("op"); op {
	case "toggle":
		changed, err = s.store.TogglePanel(req.ID)
	case "open":
		changed, err = s.store.OpenPanel(req.ID)
	case "close":
		changed, err = s.store.ClosePanel(req.ID)
	case "open-only":
		group := req.Group
		if req.GroupName != "" {
			g, ok := panels.Group(req.GroupName)
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Errorf("unknown panel group %q", req.GroupName))
				return
			}
			group = g
		}
		changed, err = s.store.OpenOnlyPanel(req.ID, group)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown panel operation %q", op))
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChainID int64 `json:"chainId"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.controller.SetAppNetwork(req.ChainID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.store.GetState().Network)
}

func accountError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidRole), errors.Is(err, store.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrSuperseded):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusServiceUnavailable, err)
	}
}

func (s *Server) handleSetAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	acc, err := s.store.SetRoleAccount(r.Context(), models.AccountRole(r.PathValue("role")), req.Address)
	if err != nil {
		accountError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleSetAccountList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Addresses []string `json:"addresses"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := s.store.SetAccountList(r.Context(), models.AccountRole(r.PathValue("role")), req.Addresses)
	if err != nil {
		accountError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleClearAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearRoleAccount(models.AccountRole(r.PathValue("role"))); err != nil {
		accountError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDismissError(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"changed": s.store.DismissError()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// Register and send the snapshot under one lock so that no change is
	// delivered before it or lost in between.
	s.mu.Lock()
	err = conn.WriteJSON(Message{Type: "initial", State: s.store.GetState()})
	if err == nil {
		s.clients[conn] = true
	}
	s.mu.Unlock()
	if err != nil {
		return
	}

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Broadcast subscribes to the store and, on a new goroutine, forwards each
// commit to websocket clients until ctx is done.
func (s *Server) Broadcast(ctx context.Context) {
	sub := s.store.Subscribe()
	go func() {
		defer s.store.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-sub:
				if !ok {
					return
				}
				s.broadcast(Message{Type: "change", Reason: change.Reason, State: change.State})
			}
		}
	}()
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		if err := client.WriteJSON(msg); err != nil {
			s.logger.Debug("Dropping websocket client", zap.Error(err))
			_ = client.Close()
			delete(s.clients, client)
		}
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		_ = client.Close()
		delete(s.clients, client)
	}
}
