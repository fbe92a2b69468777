package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/daasalpha/alphahunter/internal/service"
)

const (
	writeWait      = 5 * time.Second
	subscriberSlop = 16 // buffered events per subscriber before it is dropped
)

// Hub fans simulation progress events out to websocket subscribers. A slow
// subscriber is disconnected rather than allowed to stall the day loop.
type Hub struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	conn *websocket.Conn
	send chan service.ProgressEvent
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// Publish implements service.ProgressSink. It never blocks the caller.
func (h *Hub) Publish(ev service.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- ev:
		default:
			delete(h.subs, sub)
			close(sub.send)
			log.Warn().Str("remote", sub.conn.RemoteAddr().String()).
				Msg("dropping slow progress subscriber")
		}
	}
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.send)
		delete(h.subs, sub)
	}
}

func (h *Hub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := &subscriber{conn: conn, send: make(chan service.ProgressEvent, subscriberSlop)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("progress subscriber connected")

	go h.readLoop(sub)
	h.writeLoop(sub)
}

// readLoop discards inbound frames so pings and close handshakes are handled.
func (h *Hub) readLoop(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			h.unsubscribe(sub)
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	defer sub.conn.Close()
	for ev := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteJSON(ev); err != nil {
			h.unsubscribe(sub)
			return
		}
	}
	sub.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
}
