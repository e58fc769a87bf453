package sandbox

import (
	"errors"
	"log"
	"net/http"
	"sync"

	"tiffin/models"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The sandbox only runs locally, so any origin is fine
		return true
	},
}

type feedHub struct {
	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFeedHub() *feedHub {
	return &feedHub{}
}

func (h *feedHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()
}

func (h *feedHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	newList := make([]*websocket.Conn, 0, len(h.conns))
	for _, c := range h.conns {
		if c != conn {
			newList = append(newList, c)
		}
	}
	h.conns = newList
	h.mu.Unlock()
}

func (h *feedHub) broadcast(ev models.StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	newList := h.conns[:0]
	for _, conn := range h.conns {
		if err := conn.WriteJSON(ev); err == nil {
			newList = append(newList, conn)
		} else {
			conn.Close()
		}
	}
	h.conns = newList
}

// OrderFeed upgrades the connection and streams status events until the
// client disconnects.
func (s *Server) OrderFeed(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "WebSocket upgrade failed", http.StatusBadRequest)
		return
	}

	s.feeds.add(conn)

	for {
		// Keeps the connection alive until the client disconnects
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.feeds.remove(conn)
	conn.Close()
}

// PushStatus records a server-driven status change and broadcasts it to feed
// subscribers. The stored order only moves forward; re-pushing an old status
// still rebroadcasts (redelivery is part of the contract consumers handle).
func (s *Server) PushStatus(orderID string, status models.OrderStatus, note string) error {
	s.mu.Lock()
	order, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return errors.New("order not found")
	}
	if status.Rank() > order.Status.Rank() {
		order.Status = status
	}
	ev := models.StatusEvent{EventID: newEventID(), OrderID: orderID, Status: status, Note: note}
	s.mu.Unlock()

	s.feeds.broadcast(ev)
	return nil
}

// Broadcast sends a raw event on the feed, duplicates included. Exists so
// redelivery behavior can be exercised.
func (s *Server) Broadcast(ev models.StatusEvent) {
	if ev.EventID == "" {
		log.Printf("Broadcast: event without id for order %s", ev.OrderID)
	}
	s.feeds.broadcast(ev)
}
