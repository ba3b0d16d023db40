package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tversen/spectrechat/internal/router"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []router.Event
}

func (h *recordingHandler) Handle(_ context.Context, ev router.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) snapshot() []router.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]router.Event(nil), h.events...)
}

func TestPushToUnknownConnectionFails(t *testing.T) {
	h := NewHub(zerolog.Nop())

	err := h.Push("missing", []byte("payload"))
	assert.ErrorIs(t, err, errUnknownConnection)
}

func TestPushDeliversToRegisteredClient(t *testing.T) {
	h := NewHub(zerolog.Nop())
	client := &Client{id: "c1", send: make(chan []byte, 1)}
	h.clients["c1"] = client

	require.NoError(t, h.Push("c1", []byte("payload")))

	select {
	case payload := <-client.send:
		assert.Equal(t, "payload", string(payload))
	default:
		t.Fatal("payload not queued")
	}
}

func TestPushToClosedClientFails(t *testing.T) {
	h := NewHub(zerolog.Nop())
	h.clients["c1"] = &Client{id: "c1", send: make(chan []byte, 1), closed: true}

	assert.ErrorIs(t, h.Push("c1", []byte("payload")), errConnectionClosed)
}

func TestPushToSaturatedClientFails(t *testing.T) {
	h := NewHub(zerolog.Nop())
	client := &Client{id: "c1", send: make(chan []byte, 1)}
	h.clients["c1"] = client
	client.send <- []byte("filler")

	assert.ErrorIs(t, h.Push("c1", []byte("payload")), errSendBufferFull)
}

func TestDispatchWithoutHandlerIsNoOp(t *testing.T) {
	h := NewHub(zerolog.Nop())

	// Must not panic.
	h.dispatch(router.Event{Type: router.EventConnect, ConnID: "c1"})
}

func TestDispatchReachesHandler(t *testing.T) {
	h := NewHub(zerolog.Nop())
	handler := &recordingHandler{}
	h.SetHandler(handler)

	h.dispatch(router.Event{Type: router.EventMessage, ConnID: "c1", Body: []byte(`{}`)})

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	events := handler.snapshot()
	assert.Equal(t, router.EventMessage, events[0].Type)
	assert.Equal(t, "c1", events[0].ConnID)
}

func TestShutdownCompletesWithIdleHub(t *testing.T) {
	h := NewHub(zerolog.Nop())
	go h.Run()

	assert.NoError(t, h.Shutdown(time.Second))
}
