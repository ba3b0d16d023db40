package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tversen/spectrechat/internal/broadcast"
	"github.com/tversen/spectrechat/internal/ghost"
	"github.com/tversen/spectrechat/internal/namer"
	"github.com/tversen/spectrechat/internal/store"
)

// fakePusher records every push per connection id so tests can assert on
// who received which payloads and in what order.
type fakePusher struct {
	mu     sync.Mutex
	pushes map[string][]map[string]any
}

func newFakePusher() *fakePusher {
	return &fakePusher{pushes: make(map[string][]map[string]any)}
}

func (p *fakePusher) Push(id string, payload []byte) error {
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes[id] = append(p.pushes[id], decoded)
	return nil
}

func (p *fakePusher) sent(id string) []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]any(nil), p.pushes[id]...)
}

// withField returns the pushes to id that carry the given top-level field.
func (p *fakePusher) withField(id, field string) []map[string]any {
	var out []map[string]any
	for _, payload := range p.sent(id) {
		if _, ok := payload[field]; ok {
			out = append(out, payload)
		}
	}
	return out
}

func newTestRouter(t *testing.T) (*Router, *store.Memory, *fakePusher) {
	t.Helper()
	m := store.NewMemory()
	pusher := newFakePusher()
	caster := broadcast.New(pusher, zerolog.Nop())
	r := New(m, namer.New(m), ghost.NewRegistry(m), caster, "Akm032", zerolog.Nop())
	return r, m, pusher
}

func messageEvent(connID, body string) Event {
	return Event{Type: EventMessage, ConnID: connID, Body: []byte(body)}
}

func join(t *testing.T, r *Router, connID, name string) {
	t.Helper()
	r.Handle(context.Background(), Event{Type: EventConnect, ConnID: connID})
	body, err := json.Marshal(map[string]string{"action": "setName", "name": name})
	require.NoError(t, err)
	r.Handle(context.Background(), messageEvent(connID, string(body)))
}

func TestConnectPushesClientIDOnly(t *testing.T) {
	r, m, pusher := newTestRouter(t)

	r.Handle(context.Background(), Event{Type: EventConnect, ConnID: "c1"})

	sent := pusher.sent("c1")
	require.Len(t, sent, 1)
	assert.Equal(t, "c1", sent[0]["clientId"])

	// No record exists until the first setName.
	conns, err := m.ListConnections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestSetNameBlankAssignsAnonymousName(t *testing.T) {
	r, m, pusher := newTestRouter(t)

	join(t, r, "c1", "")

	conn, found, err := m.GetConnection(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Anonymous1", conn.Name)
	assert.False(t, conn.IsGhost)

	systems := pusher.withField("c1", "systemMessage")
	require.Len(t, systems, 1)
	assert.Equal(t, "Anonymous1 has joined the chat.", systems[0]["systemMessage"])

	members := pusher.withField("c1", "members")
	require.Len(t, members, 1)
	assert.Len(t, members[0]["members"], 1)
}

func TestSetNameBroadcastOrderIsSystemThenMembersThenClientID(t *testing.T) {
	r, _, pusher := newTestRouter(t)

	join(t, r, "c1", "Ada")

	sent := pusher.sent("c1")
	// Frame 0 is the connect-time clientId.
	require.Len(t, sent, 4)
	assert.Contains(t, sent[1], "systemMessage")
	assert.Contains(t, sent[2], "members")
	assert.Contains(t, sent[3], "clientId")
}

func TestSetNameTrimsWhitespace(t *testing.T) {
	r, m, _ := newTestRouter(t)

	join(t, r, "c1", "  Ada  ")

	conn, _, err := m.GetConnection(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", conn.Name)
}

func TestSetNameWhitespaceOnlyFallsBackToAnonymous(t *testing.T) {
	r, m, _ := newTestRouter(t)

	join(t, r, "c1", "   ")

	conn, _, err := m.GetConnection(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Anonymous1", conn.Name)
}

func TestSetNameDoesNotEnforceUniqueness(t *testing.T) {
	r, m, _ := newTestRouter(t)

	join(t, r, "c1", "Bob")
	join(t, r, "c2", "Bob")

	ids, err := m.ListConnectionsByName(context.Background(), "Bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)
}

func TestSendPublicReachesEveryoneIncludingSender(t *testing.T) {
	r, _, pusher := newTestRouter(t)

	join(t, r, "c1", "Ada")
	join(t, r, "c2", "Grace")

	r.Handle(context.Background(), messageEvent("c1", `{"action":"sendPublic","message":"hello room"}`))

	for _, id := range []string{"c1", "c2"} {
		publics := pusher.withField(id, "publicMessage")
		require.Len(t, publics, 1, "connection %s", id)
		assert.Equal(t, "Ada: hello room", publics[0]["publicMessage"])
		assert.Equal(t, "c1", publics[0]["senderId"])
	}
}

func TestSendPrivateToUnknownNameNotifiesSenderOnly(t *testing.T) {
	r, m, pusher := newTestRouter(t)

	join(t, r, "c1", "Ada")
	join(t, r, "c2", "Grace")

	before, err := m.ListConnections(context.Background())
	require.NoError(t, err)

	r.Handle(context.Background(), messageEvent("c1", `{"action":"sendPrivate","to":"Nobody","message":"psst"}`))

	systems := pusher.withField("c1", "systemMessage")
	notFound := 0
	for _, payload := range systems {
		if payload["systemMessage"] == `User "Nobody" not found.` {
			notFound++
		}
	}
	assert.Equal(t, 1, notFound)
	assert.Empty(t, pusher.withField("c1", "privateMessage"))
	assert.Empty(t, pusher.withField("c2", "privateMessage"))

	// No record was mutated.
	after, err := m.ListConnections(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, before, after)
}

func TestSendPrivateDeliversToEveryNameMatch(t *testing.T) {
	r, _, pusher := newTestRouter(t)

	join(t, r, "c1", "Bob")
	join(t, r, "c2", "Bob")
	join(t, r, "c3", "Ada")

	r.Handle(context.Background(), messageEvent("c3", `{"action":"sendPrivate","to":"Bob","message":"hi"}`))

	for _, id := range []string{"c1", "c2"} {
		privates := pusher.withField(id, "privateMessage")
		require.Len(t, privates, 1, "connection %s", id)
		assert.Equal(t, "Ada: hi", privates[0]["privateMessage"])
		assert.Equal(t, "c3", privates[0]["senderId"])
	}

	echoes := pusher.withField("c3", "privateMessage")
	require.Len(t, echoes, 1)
	assert.Equal(t, "To Bob: hi", echoes[0]["privateMessage"])
}

func TestSendPrivateGhostViewLeaksToUninvolvedGhosts(t *testing.T) {
	r, m, pusher := newTestRouter(t)
	ctx := context.Background()

	join(t, r, "sender", "Ada")
	join(t, r, "target", "Bob")
	join(t, r, "watcher", "Eve")
	join(t, r, "ghostBob", "Bob")

	// watcher and ghostBob are ghosts; ghostBob also matches the target name.
	require.NoError(t, m.SetGhost(ctx, "watcher", true))
	require.NoError(t, m.SetGhost(ctx, "ghostBob", true))

	r.Handle(ctx, messageEvent("sender", `{"action":"sendPrivate","to":"Bob","message":"secret"}`))

	views := pusher.withField("watcher", "ghostView")
	require.Len(t, views, 1)
	assert.Equal(t, "(Private) Ada TO Bob: secret", views[0]["ghostView"])

	// A ghost whose name matches the target already received the private
	// message and must not get the covert copy.
	assert.Empty(t, pusher.withField("ghostBob", "ghostView"))
	require.Len(t, pusher.withField("ghostBob", "privateMessage"), 1)

	// Neither the sender nor the plain target sees a ghost view.
	assert.Empty(t, pusher.withField("sender", "ghostView"))
	assert.Empty(t, pusher.withField("target", "ghostView"))
}

func TestSendPrivateGhostSenderGetsNoGhostView(t *testing.T) {
	r, m, pusher := newTestRouter(t)
	ctx := context.Background()

	join(t, r, "sender", "Ada")
	join(t, r, "target", "Bob")
	require.NoError(t, m.SetGhost(ctx, "sender", true))

	r.Handle(ctx, messageEvent("sender", `{"action":"sendPrivate","to":"Bob","message":"secret"}`))

	assert.Empty(t, pusher.withField("sender", "ghostView"))
}

func TestVerifyGhostCorrectPasskeySetsFlagAndBroadcasts(t *testing.T) {
	r, m, pusher := newTestRouter(t)
	ctx := context.Background()

	join(t, r, "c1", "Ada")
	join(t, r, "c2", "Grace")
	join(t, r, "c3", "Eve")
	require.NoError(t, m.SetGhost(ctx, "c3", true))

	r.Handle(ctx, messageEvent("c1", `{"action":"verifyGhost","passkey":"Akm032"}`))

	conn, _, err := m.GetConnection(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, conn.IsGhost)

	responses := pusher.withField("c1", "verified")
	require.Len(t, responses, 1)
	assert.Equal(t, true, responses[0]["verified"])
	assert.Equal(t, "verifyGhostResponse", responses[0]["action"])

	// The pre-existing ghost is told about the newcomer.
	notices := pusher.withField("c3", "systemMessage")
	var entered bool
	for _, payload := range notices {
		if payload["systemMessage"] == "Ada entered ghost mode" {
			entered = true
		}
	}
	assert.True(t, entered)

	// Everyone gets a refreshed member list showing the ghost flag.
	for _, id := range []string{"c1", "c2", "c3"} {
		lists := pusher.withField(id, "members")
		require.NotEmpty(t, lists, "connection %s", id)
		last := lists[len(lists)-1]["members"].([]any)
		assert.Len(t, last, 3)
	}
}

func TestVerifyGhostWrongPasskeyMutatesNothing(t *testing.T) {
	r, m, pusher := newTestRouter(t)
	ctx := context.Background()

	join(t, r, "c1", "Ada")

	r.Handle(ctx, messageEvent("c1", `{"action":"verifyGhost","passkey":"wrong"}`))

	conn, _, err := m.GetConnection(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, conn.IsGhost)

	responses := pusher.withField("c1", "verified")
	require.Len(t, responses, 1)
	assert.Equal(t, false, responses[0]["verified"])
}

func TestVerifyGhostWithoutRecordIsRejected(t *testing.T) {
	r, m, pusher := newTestRouter(t)
	ctx := context.Background()

	// Connected but never named, so no record exists.
	r.Handle(ctx, Event{Type: EventConnect, ConnID: "c1"})
	r.Handle(ctx, messageEvent("c1", `{"action":"verifyGhost","passkey":"Akm032"}`))

	responses := pusher.withField("c1", "verified")
	require.Len(t, responses, 1)
	assert.Equal(t, false, responses[0]["verified"])

	ghosts, err := m.ListGhostConnections(ctx)
	require.NoError(t, err)
	assert.Empty(t, ghosts)
}

func TestDisableGhostClearsFlagAndNotifies(t *testing.T) {
	r, m, pusher := newTestRouter(t)
	ctx := context.Background()

	join(t, r, "c1", "Ada")
	join(t, r, "c2", "Eve")
	require.NoError(t, m.SetGhost(ctx, "c1", true))
	require.NoError(t, m.SetGhost(ctx, "c2", true))

	r.Handle(ctx, messageEvent("c1", `{"action":"disableGhost"}`))

	conn, _, err := m.GetConnection(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, conn.IsGhost)

	var confirmed bool
	for _, payload := range pusher.withField("c1", "systemMessage") {
		if payload["systemMessage"] == "Ghost mode disabled." {
			confirmed = true
		}
	}
	assert.True(t, confirmed)

	var notified bool
	for _, payload := range pusher.withField("c2", "systemMessage") {
		if payload["systemMessage"] == "Ada left ghost mode" {
			notified = true
		}
	}
	assert.True(t, notified)
}

func TestDisconnectBroadcastsLeaveToRemaining(t *testing.T) {
	r, m, pusher := newTestRouter(t)
	ctx := context.Background()

	join(t, r, "c1", "Ada")
	join(t, r, "c2", "Grace")

	r.Handle(ctx, Event{Type: EventDisconnect, ConnID: "c1"})

	_, found, err := m.GetConnection(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, found)

	var left bool
	for _, payload := range pusher.withField("c2", "systemMessage") {
		if payload["systemMessage"] == "Ada has left the chat." {
			left = true
		}
	}
	assert.True(t, left)

	lists := pusher.withField("c2", "members")
	require.NotEmpty(t, lists)
	last := lists[len(lists)-1]["members"].([]any)
	assert.Len(t, last, 1)
}

func TestDisconnectUnknownConnectionUsesFallbackName(t *testing.T) {
	r, _, pusher := newTestRouter(t)
	ctx := context.Background()

	join(t, r, "c2", "Grace")

	// A connection that never set a name disconnects.
	r.Handle(ctx, Event{Type: EventDisconnect, ConnID: "ghost-of-c1"})

	var seen bool
	for _, payload := range pusher.withField("c2", "systemMessage") {
		if payload["systemMessage"] == "Unknown user has left the chat." {
			seen = true
		}
	}
	assert.True(t, seen)
}

func TestDisconnectLastConnectionResetsCounter(t *testing.T) {
	r, m, _ := newTestRouter(t)
	ctx := context.Background()

	join(t, r, "c1", "")
	join(t, r, "c2", "")

	conn, _, err := m.GetConnection(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, "Anonymous2", conn.Name)

	r.Handle(ctx, Event{Type: EventDisconnect, ConnID: "c1"})
	r.Handle(ctx, Event{Type: EventDisconnect, ConnID: "c2"})

	// The room is empty, so the next anonymous joiner starts over.
	join(t, r, "c3", "")
	conn, _, err = m.GetConnection(ctx, "c3")
	require.NoError(t, err)
	assert.Equal(t, "Anonymous1", conn.Name)
}

func TestMalformedFrameIsNoOp(t *testing.T) {
	r, m, pusher := newTestRouter(t)
	ctx := context.Background()

	join(t, r, "c1", "Ada")
	before := len(pusher.sent("c1"))

	r.Handle(ctx, messageEvent("c1", `{not json`))

	assert.Equal(t, before, len(pusher.sent("c1")))
	conns, err := m.ListConnections(ctx)
	require.NoError(t, err)
	assert.Len(t, conns, 1)
}

func TestUnrecognizedActionIsNoOp(t *testing.T) {
	r, _, pusher := newTestRouter(t)
	ctx := context.Background()

	join(t, r, "c1", "Ada")
	before := len(pusher.sent("c1"))

	r.Handle(ctx, messageEvent("c1", `{"action":"teleport"}`))

	assert.Equal(t, before, len(pusher.sent("c1")))
}
