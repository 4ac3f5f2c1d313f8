// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package mediatortest runs an in-process signaling mediator for tests.
// It implements the mediator wire contract: connection ids in the
// connect greeting, rooms, member lists, memberJoined announcements, and
// verbatim relay of offer/answer/candidate frames. It is not a
// production server.
package mediatortest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type frame struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args"`
}

type connection struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	room    string
}

func (c *connection) send(event string, args ...any) {
	encoded := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		if raw, ok := arg.(json.RawMessage); ok {
			encoded = append(encoded, raw)
			continue
		}
		data, err := json.Marshal(arg)
		if err != nil {
			return
		}
		encoded = append(encoded, data)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.WriteJSON(frame{Event: event, Args: encoded})
}

// Server is a running test mediator.
type Server struct {
	http     *httptest.Server
	upgrader websocket.Upgrader

	failUpgrades atomic.Int32
	attempts     atomic.Int32

	mu          sync.Mutex
	connections map[string]*connection
	rooms       map[string][]string
}

// NewServer starts a mediator on a loopback port.
func NewServer() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		connections: make(map[string]*connection),
		rooms:       make(map[string][]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	s.http = httptest.NewServer(mux)
	return s
}

// URL is the websocket endpoint clients dial.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws"
}

// FailNextUpgrades makes the next n connection attempts fail with 503.
func (s *Server) FailNextUpgrades(n int) { s.failUpgrades.Store(int32(n)) }

// UpgradeAttempts counts connection attempts, failed ones included.
func (s *Server) UpgradeAttempts() int { return int(s.attempts.Load()) }

// Members returns the connection ids in room in join order.
func (s *Server) Members(room string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rooms[room])
}

// Kick drops the control connection of peerID.
func (s *Server) Kick(peerID string) {
	s.mu.Lock()
	c, ok := s.connections[peerID]
	s.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// Close shuts the server and every connection down.
func (s *Server) Close() {
	s.mu.Lock()
	for _, c := range s.connections {
		c.conn.Close()
	}
	s.mu.Unlock()
	s.http.CloseClientConnections()
	s.http.Close()
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.attempts.Add(1)
	if s.failUpgrades.Load() > 0 {
		s.failUpgrades.Add(-1)
		http.Error(w, "mediator unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &connection{id: uuid.NewString(), conn: conn}

	s.mu.Lock()
	s.connections[c.id] = c
	s.mu.Unlock()
	defer s.disconnect(c)

	c.send("connect", c.id)
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		s.handle(c, f)
	}
}

func (s *Server) handle(c *connection, f frame) {
	switch f.Event {
	case "createRoom":
		room := uuid.NewString()
		s.mu.Lock()
		s.rooms[room] = []string{c.id}
		c.room = room
		s.mu.Unlock()
		c.send("createRoom-ack", room)

	case "joinRoom":
		var room string
		if len(f.Args) == 0 || json.Unmarshal(f.Args[0], &room) != nil {
			return
		}
		s.mu.Lock()
		others := slices.Clone(s.rooms[room])
		if !slices.Contains(s.rooms[room], c.id) {
			s.rooms[room] = append(s.rooms[room], c.id)
		}
		c.room = room
		var announce []*connection
		for _, id := range others {
			if other, ok := s.connections[id]; ok && id != c.id {
				announce = append(announce, other)
			}
		}
		s.mu.Unlock()
		c.send("joinRoom-ack", room)
		for _, other := range announce {
			other.send("memberJoined", c.id)
		}

	case "getAllMembers":
		var room string
		if len(f.Args) == 0 || json.Unmarshal(f.Args[0], &room) != nil {
			return
		}
		members := s.Members(room)
		if members == nil {
			members = []string{}
		}
		c.send("getAllMembers-ack", members)

	default:
		kind, from, ok := strings.Cut(f.Event, "-")
		if !ok || from != c.id || len(f.Args) < 2 {
			return
		}
		switch kind {
		case "offer", "answer", "candidate":
		default:
			return
		}
		var target string
		if json.Unmarshal(f.Args[0], &target) != nil {
			return
		}
		s.mu.Lock()
		peer, ok := s.connections[target]
		s.mu.Unlock()
		if ok {
			peer.send(f.Event, c.id, f.Args[1])
		}
	}
}

func (s *Server) disconnect(c *connection) {
	c.conn.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, c.id)
	if c.room == "" {
		return
	}
	members := slices.DeleteFunc(s.rooms[c.room], func(id string) bool { return id == c.id })
	if len(members) == 0 {
		delete(s.rooms, c.room)
		return
	}
	s.rooms[c.room] = members
}
