package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/adred-codev/hublifetime/internal/hubid"
	"github.com/adred-codev/hublifetime/internal/lifetime"
)

// server wires the lifetime.Manager to the demonstration HTTP/WebSocket
// transport. Grounded on go-server/internal/server.Server's
// field-holder-plus-method-per-route shape.
type server struct {
	manager lifetime.Manager
	jwt     *jwtManager
	logger  zerolog.Logger
}

func newServer(manager lifetime.Manager, jwt *jwtManager, logger zerolog.Logger) *server {
	return &server{manager: manager, jwt: jwt, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/invoke/all", s.handleInvokeAll)
	mux.HandleFunc("/invoke/connection", s.handleInvokeConnection)
	mux.HandleFunc("/invoke/group", s.handleInvokeGroup)
	mux.HandleFunc("/invoke/user", s.handleInvokeUser)
	mux.HandleFunc("/group/add", s.handleGroupAdd)
	mux.HandleFunc("/group/remove", s.handleGroupRemove)
	mux.HandleFunc("/token", s.handleIssueToken)
	return mux
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c, err := s.jwt.fromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := hubid.MustNew()
	wc := newWSConn(connID, c.UserID, conn, s.logger)

	if err := s.manager.OnConnected(r.Context(), wc); err != nil {
		s.logger.Warn().Err(err).Msg("OnConnected failed")
		conn.Close()
		return
	}

	go wc.writePump()
	go wc.readPump(func() {
		if err := s.manager.OnDisconnected(context.Background(), wc); err != nil {
			s.logger.Warn().Err(err).Msg("OnDisconnected failed")
		}
	})
}

func (s *server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId query parameter required", http.StatusBadRequest)
		return
	}
	token, err := s.jwt.generate(userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

type invokeRequest struct {
	ConnectionID string        `json:"connectionId"`
	GroupName    string        `json:"groupName"`
	UserID       string        `json:"userId"`
	Method       string        `json:"method"`
	Arguments    []interface{} `json:"arguments"`
	ExcludedIDs  []string      `json:"excludedIds"`
}

func (s *server) decodeInvoke(w http.ResponseWriter, r *http.Request) (*invokeRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

func (s *server) handleInvokeAll(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInvoke(w, r)
	if !ok {
		return
	}
	var err error
	if len(req.ExcludedIDs) > 0 {
		err = s.manager.InvokeAllExcept(r.Context(), req.Method, req.Arguments, req.ExcludedIDs)
	} else {
		err = s.manager.InvokeAll(r.Context(), req.Method, req.Arguments)
	}
	s.reply(w, err)
}

func (s *server) handleInvokeConnection(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInvoke(w, r)
	if !ok {
		return
	}
	err := s.manager.InvokeConnection(r.Context(), req.ConnectionID, req.Method, req.Arguments)
	s.reply(w, err)
}

func (s *server) handleInvokeGroup(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInvoke(w, r)
	if !ok {
		return
	}
	var err error
	if len(req.ExcludedIDs) > 0 {
		err = s.manager.InvokeGroupExcept(r.Context(), req.GroupName, req.Method, req.Arguments, req.ExcludedIDs)
	} else {
		err = s.manager.InvokeGroup(r.Context(), req.GroupName, req.Method, req.Arguments)
	}
	s.reply(w, err)
}

func (s *server) handleInvokeUser(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInvoke(w, r)
	if !ok {
		return
	}
	err := s.manager.InvokeUser(r.Context(), req.UserID, req.Method, req.Arguments)
	s.reply(w, err)
}

func (s *server) handleGroupAdd(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInvoke(w, r)
	if !ok {
		return
	}
	err := s.manager.AddGroup(r.Context(), req.ConnectionID, req.GroupName)
	s.reply(w, err)
}

func (s *server) handleGroupRemove(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInvoke(w, r)
	if !ok {
		return
	}
	err := s.manager.RemoveGroup(r.Context(), req.ConnectionID, req.GroupName)
	s.reply(w, err)
}

func (s *server) reply(w http.ResponseWriter, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
