// Package server is the transport gateway: it terminates WebSocket
// connections, delivers inbound frames to the routing engine as discrete
// events, and exposes the single push-bytes-to-connection primitive the
// broadcaster fans out through.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tversen/spectrechat/internal/router"
)

// Push errors returned to the broadcaster, which discards them.
var (
	errUnknownConnection = errors.New("server: unknown connection id")
	errSendBufferFull    = errors.New("server: send buffer full")
	errConnectionClosed  = errors.New("server: connection closed")
)

// EventHandler consumes inbound transport events. It is implemented by the
// router and must never block indefinitely.
type EventHandler interface {
	Handle(ctx context.Context, ev router.Event)
}

// Hub tracks live WebSocket clients by connection id and turns their
// lifecycle into connect/disconnect events for the handler. It implements
// broadcast.Pusher, so a push to a connection that has since gone away
// simply returns an error for the broadcaster to swallow.
type Hub struct {
	handler    EventHandler
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        zerolog.Logger
}

// NewHub creates a Hub. SetHandler must be called before Run.
func NewHub(log zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
	}
}

// SetHandler wires the event handler. The hub and the routing engine are
// mutually dependent (events flow in, pushes flow out), so the handler is
// attached after construction.
func (h *Hub) SetHandler(handler EventHandler) {
	h.handler = handler
}

// Push delivers payload to the client registered under id. It implements
// broadcast.Pusher; failure means the connection is gone or saturated and is
// the broadcaster's to ignore.
func (h *Hub) Push(id string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[id]
	if !ok {
		return errUnknownConnection
	}
	if client.closed {
		return errConnectionClosed
	}
	select {
	case client.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

// Run is the hub's main loop, handling registration, unregistration, and
// shutdown. Call it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			client.closed = false
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info().Str("connection", client.id).Str("remote", client.addr).
				Int("total", total).Msg("client registered")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

			h.dispatch(router.Event{Type: router.EventConnect, ConnID: client.id})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; !ok {
				h.mu.Unlock()
				continue
			}
			delete(h.clients, client.id)
			client.closed = true
			total := len(h.clients)
			h.mu.Unlock()
			close(client.send)
			h.log.Info().Str("connection", client.id).Str("remote", client.addr).
				Int("total", total).Msg("client unregistered")

			h.dispatch(router.Event{Type: router.EventDisconnect, ConnID: client.id})
		}
	}
}

// dispatch hands an event to the handler on its own goroutine. Events carry
// no ordering guarantee across connections and the protocol tolerates
// reordering, so nothing here serializes them.
func (h *Hub) dispatch(ev router.Event) {
	if h.handler == nil {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.handler.Handle(h.ctx, ev)
	}()
}

func (h *Hub) closeClients() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn().Err(err).Str("connection", client.id).Msg("error closing client connection")
		}
	}
	h.log.Info().Int("count", len(clients)).Msg("closed client connections")
}

// Shutdown stops the hub, closes every client connection, and waits for the
// pump and handler goroutines to finish or the timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info().Msg("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}
