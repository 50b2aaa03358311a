package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
)

var ErrNoSession = errors.New("no ws session")

const writeWait = 5 * time.Second

// WSSession represents a connected driver session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ctx context.Context, msg OfferMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

// WSRegistry holds driver sessions
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

// Add registers conn for driverID, closing any session it replaces.
func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	old := r.sessions[driverID]
	r.sessions[driverID] = &WSSession{conn: conn}
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
}

// Remove drops the session for driverID if it still belongs to conn.
func (r *WSRegistry) Remove(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[driverID]; ok && s.conn == conn {
		delete(r.sessions, driverID)
	}
}

func (r *WSRegistry) Has(driverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[driverID]
	return ok
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *WSRegistry) Offer(ctx context.Context, m models.MatchResult) error {
	r.mu.RLock()
	s, ok := r.sessions[m.Driver.ID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(ctx, NewOfferMessage(m))
}
