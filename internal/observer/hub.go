package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/invigil/capture/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const viewerSendBuffer = 8

// viewerEnvelope is what goes over the wire to a proctor UI.
type viewerEnvelope struct {
	Type      string           `json:"type"` // "frame" | "health"
	SessionID domain.SessionID `json:"session_id"`
	Frame     json.RawMessage  `json:"frame,omitempty"`
	State     Health           `json:"state,omitempty"`
}

type viewer struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (v *viewer) TrySend(data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errors.New("connection closed")
	}
	select {
	case v.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (v *viewer) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	close(v.send)
	_ = v.conn.Close()
	v.mu.Unlock()
}

// Hub fans live frames and health transitions out to viewer websockets.
// Slow viewers drop messages; they never back-pressure the subscriber loop.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	viewers map[domain.SessionID]map[*viewer]struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		viewers: make(map[domain.SessionID]map[*viewer]struct{}),
	}
}

// ServeViewer upgrades the request and streams session traffic until the
// viewer disconnects or ctx is cancelled.
func (h *Hub) ServeViewer(ctx context.Context, w http.ResponseWriter, r *http.Request, session domain.SessionID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "observer.hub").Msg("viewer upgrade failed")
		return
	}
	v := &viewer{conn: conn, send: make(chan []byte, viewerSendBuffer)}

	h.mu.Lock()
	if h.viewers[session] == nil {
		h.viewers[session] = make(map[*viewer]struct{})
	}
	h.viewers[session][v] = struct{}{}
	h.mu.Unlock()

	log.Info().Str("module", "observer.hub").Str("session", string(session)).Msg("viewer attached")

	go h.writePump(ctx, v)
	h.readPump(ctx, v)

	h.mu.Lock()
	delete(h.viewers[session], v)
	if len(h.viewers[session]) == 0 {
		delete(h.viewers, session)
	}
	h.mu.Unlock()
	v.Close()
}

func (h *Hub) writePump(ctx context.Context, v *viewer) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-v.send:
			if !ok {
				return
			}
			if err := v.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "observer.hub").Msg("viewer write error")
				return
			}
		}
	}
}

// readPump discards inbound messages; its job is detecting disconnects.
func (h *Hub) readPump(ctx context.Context, v *viewer) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if _, _, err := v.conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

// BroadcastFrame forwards one live-frame payload (already-marshaled
// core.LiveFrame JSON) to every viewer of the session.
func (h *Hub) BroadcastFrame(session domain.SessionID, payload []byte) {
	data, err := json.Marshal(viewerEnvelope{Type: "frame", SessionID: session, Frame: payload})
	if err != nil {
		return
	}
	h.broadcast(session, data)
}

// BroadcastHealth pushes a health transition to every viewer of the session.
func (h *Hub) BroadcastHealth(session domain.SessionID, state Health) {
	data, err := json.Marshal(viewerEnvelope{Type: "health", SessionID: session, State: state})
	if err != nil {
		return
	}
	h.broadcast(session, data)
}

func (h *Hub) broadcast(session domain.SessionID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for v := range h.viewers[session] {
		if err := v.TrySend(data); err != nil {
			log.Debug().Str("module", "observer.hub").Str("session", string(session)).Msg("dropping message for slow viewer")
		}
	}
}

// ViewerCount reports attached viewers for a session.
func (h *Hub) ViewerCount(session domain.SessionID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers[session])
}
