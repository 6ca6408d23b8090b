// Copyright 2023 The emqx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package admin provides the REST endpoints for inspecting and kicking the
// clients of a running gateway.
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/turtacn/exproto-go/pkg/connection"
	"github.com/turtacn/exproto-go/pkg/session"
)

// Connections is the live connection table.
type Connections interface {
	Lookup(clientID string) (string, error)
	Kick(clientID string) error
	Count() int
}

// Sessions is the session registry.
type Sessions interface {
	Lookup(clientID string) (*session.Session, error)
	Count() int
}

// Bus is the publish/subscribe bus.
type Bus interface {
	NodeID() string
	Subscriptions() int
}

// APIServer serves the admin endpoints.
type APIServer struct {
	conns    Connections
	sessions Sessions
	bus      Bus
}

// NewAPIServer creates an APIServer.
func NewAPIServer(conns Connections, sessions Sessions, bus Bus) *APIServer {
	return &APIServer{conns: conns, sessions: sessions, bus: bus}
}

// APIResponse is the envelope of every response.
type APIResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Stats summarises the gateway.
type Stats struct {
	Node          string `json:"node"`
	Connections   int    `json:"connections"`
	Sessions      int    `json:"sessions"`
	Subscriptions int    `json:"subscriptions"`
}

// ClientInfo describes one authenticated client.
type ClientInfo struct {
	ClientID    string    `json:"clientid"`
	ConnID      string    `json:"conn"`
	Username    string    `json:"username"`
	PeerHost    string    `json:"peerhost"`
	Mountpoint  string    `json:"mountpoint"`
	ProtoName   string    `json:"proto_name"`
	ProtoVer    string    `json:"proto_ver"`
	Keepalive   int       `json:"keepalive"`
	ConnectedAt time.Time `json:"connected_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// RegisterRoutes registers the admin endpoints on mux.
func (s *APIServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/clients/{clientid}", s.handleGetClient)
	mux.HandleFunc("DELETE /api/v1/clients/{clientid}", s.handleKickClient)
}

func (s *APIServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, Stats{
		Node:          s.bus.NodeID(),
		Connections:   s.conns.Count(),
		Sessions:      s.sessions.Count(),
		Subscriptions: s.bus.Subscriptions(),
	})
}

func (s *APIServer) handleGetClient(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientid")
	sess, err := s.sessions.Lookup(clientID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Client not found")
		return
	}
	connID, err := s.conns.Lookup(clientID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Connection not found")
		return
	}
	s.writeSuccess(w, ClientInfo{
		ClientID:    sess.ClientID,
		ConnID:      connID,
		Username:    sess.Client.Username,
		PeerHost:    sess.Client.PeerHost,
		Mountpoint:  sess.Client.Mountpoint,
		ProtoName:   sess.Conn.ProtoName,
		ProtoVer:    sess.Conn.ProtoVer,
		Keepalive:   sess.Conn.Keepalive,
		ConnectedAt: sess.Conn.ConnectedAt,
		CreatedAt:   sess.CreatedAt,
	})
}

func (s *APIServer) handleKickClient(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientid")
	if err := s.conns.Kick(clientID); err != nil {
		if errors.Is(err, connection.ErrNoClient) {
			s.writeError(w, http.StatusNotFound, "Connection not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("client kicked through admin api", "clientid", clientID)
	s.writeSuccess(w, map[string]string{"result": "kicked"})
}

func (s *APIServer) writeSuccess(w http.ResponseWriter, data any) {
	s.writeJSON(w, http.StatusOK, APIResponse{Data: data})
}

func (s *APIServer) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, APIResponse{Code: statusCode, Message: message})
}

func (s *APIServer) writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to encode admin response", "err", err)
	}
}
