// Package orderfeed consumes the persistent order-status push channel.
// Events are keyed by order id; redelivery is possible, so every event is
// deduplicated by event id and by monotonic status rank before dispatch.
package orderfeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"tiffin/models"

	"github.com/gorilla/websocket"
)

// ErrClosed is reported by Err after a deliberate Close.
var ErrClosed = errors.New("orderfeed: closed")

type Handler func(models.StatusEvent)

type Feed struct {
	conn *websocket.Conn

	mu       sync.Mutex
	handlers map[string]map[int]Handler // order id ("" = all) -> handler set
	nextID   int
	seen     map[string]bool
	lastRank map[string]int
	err      error
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens the feed connection and starts reading. The token authenticates
// the subscriber; the server filters events to orders visible to that role.
func Dial(ctx context.Context, rawURL, token string) (*Feed, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}
	f := &Feed{
		conn:     conn,
		handlers: make(map[string]map[int]Handler),
		seen:     make(map[string]bool),
		lastRank: make(map[string]int),
		done:     make(chan struct{}),
	}
	go f.readLoop()
	return f, nil
}

// Subscribe registers a handler for one order id; empty means every order.
// The returned func unsubscribes.
func (f *Feed) Subscribe(orderID string, h Handler) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	if f.handlers[orderID] == nil {
		f.handlers[orderID] = make(map[int]Handler)
	}
	f.handlers[orderID][id] = h
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		if set, ok := f.handlers[orderID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(f.handlers, orderID)
			}
		}
		f.mu.Unlock()
	}
}

func (f *Feed) readLoop() {
	defer close(f.done)
	for {
		var ev models.StatusEvent
		if err := f.conn.ReadJSON(&ev); err != nil {
			f.mu.Lock()
			if f.closed {
				f.err = ErrClosed
			} else {
				f.err = fmt.Errorf("orderfeed: read: %w", err)
			}
			f.mu.Unlock()
			return
		}
		f.dispatch(ev)
	}
}

func (f *Feed) dispatch(ev models.StatusEvent) {
	f.mu.Lock()
	if ev.EventID != "" {
		if f.seen[ev.EventID] {
			f.mu.Unlock()
			return
		}
		f.seen[ev.EventID] = true
	}
	if last, ok := f.lastRank[ev.OrderID]; ok && ev.Status.Rank() <= last {
		f.mu.Unlock()
		return
	}
	f.lastRank[ev.OrderID] = ev.Status.Rank()

	var fns []Handler
	for _, h := range f.handlers[ev.OrderID] {
		fns = append(fns, h)
	}
	for _, h := range f.handlers[""] {
		fns = append(fns, h)
	}
	if ev.Status == models.StatusRejected {
		// Terminal: stop listening for this order id.
		delete(f.handlers, ev.OrderID)
	}
	f.mu.Unlock()

	for _, h := range fns {
		h(ev)
	}
}

// Close shuts the connection down cleanly, as when the consuming screen
// unmounts. Safe to call more than once.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		_ = f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = f.conn.Close()
	})
	return err
}

// Done is closed when the read loop exits.
func (f *Feed) Done() <-chan struct{} { return f.done }

// Err reports why the read loop stopped.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
