// Package router implements the chat relay's protocol engine. It consumes
// one inbound event at a time and decides which store records to mutate and
// which connections receive which outbound payloads. The router keeps no
// state of its own; everything lives in the store, so any number of events
// may be handled concurrently.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tversen/spectrechat/internal/broadcast"
	"github.com/tversen/spectrechat/internal/ghost"
	"github.com/tversen/spectrechat/internal/namer"
	"github.com/tversen/spectrechat/internal/store"
)

// unknownUser is the display name used when a leaver's record is already
// gone or was never named.
const unknownUser = "Unknown user"

// Router routes inbound events to store mutations and outbound pushes.
type Router struct {
	store   store.Store
	namer   *namer.Namer
	ghosts  *ghost.Registry
	caster  *broadcast.Broadcaster
	passkey string
	log     zerolog.Logger
}

// New creates a Router. passkey is the shared ghost-mode passphrase.
func New(s store.Store, n *namer.Namer, g *ghost.Registry, b *broadcast.Broadcaster, passkey string, log zerolog.Logger) *Router {
	return &Router{
		store:   s,
		namer:   n,
		ghosts:  g,
		caster:  b,
		passkey: passkey,
		log:     log,
	}
}

// Handle processes one inbound event. It never surfaces an application
// failure to the transport: store errors and malformed frames are logged and
// swallowed so the connection is never dropped over a transient side-effect
// failure.
func (r *Router) Handle(ctx context.Context, ev Event) {
	var err error
	switch ev.Type {
	case EventConnect:
		err = r.handleConnect(ctx, ev.ConnID)
	case EventDisconnect:
		err = r.handleDisconnect(ctx, ev.ConnID)
	case EventMessage:
		err = r.handleMessage(ctx, ev.ConnID, ev.Body)
	}
	if err != nil {
		r.log.Error().Err(err).
			Stringer("event", ev.Type).
			Str("connection", ev.ConnID).
			Msg("event handler failed")
	}
}

func (r *Router) handleMessage(ctx context.Context, connID string, body []byte) error {
	var act action
	if err := json.Unmarshal(body, &act); err != nil {
		r.log.Debug().Err(err).Str("connection", connID).Msg("discarding malformed frame")
		return nil
	}

	switch act.Action {
	case "setName":
		return r.handleSetName(ctx, connID, act)
	case "sendPublic":
		return r.handleSendPublic(ctx, connID, act)
	case "sendPrivate":
		return r.handleSendPrivate(ctx, connID, act)
	case "verifyGhost":
		return r.handleVerifyGhost(ctx, connID, act)
	case "disableGhost":
		return r.handleDisableGhost(ctx, connID)
	default:
		// Unrecognized actions are a deliberate no-op.
		return nil
	}
}

// handleConnect lazily initializes the anonymous counter and hands the new
// connection its id. No record is created yet; that happens on the first
// setName.
func (r *Router) handleConnect(ctx context.Context, connID string) error {
	if err := r.namer.EnsureCounter(ctx); err != nil {
		return err
	}
	r.caster.PushOne(connID, ClientID{ClientID: connID})
	return nil
}

// handleDisconnect deletes the leaver's record, resets the anonymous counter
// if the room emptied, and tells everyone left who went.
func (r *Router) handleDisconnect(ctx context.Context, connID string) error {
	conn, found, err := r.store.GetConnection(ctx, connID)
	if err != nil {
		return err
	}
	leaver := unknownUser
	if found && conn.Name != "" {
		leaver = conn.Name
	}

	if err := r.store.DeleteConnection(ctx, connID); err != nil {
		return err
	}

	remaining, err := r.store.ListConnections(ctx)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if err := r.namer.Reset(ctx); err != nil {
			return err
		}
	}

	ids := connIDs(remaining)
	r.caster.PushAll(ids, System{SystemMessage: leaver + " has left the chat."})
	r.caster.PushAll(ids, memberList(remaining))
	return nil
}

// handleSetName creates (or renames) the sender's record and announces the
// join. A blank name means the sender receives the next anonymous name.
// Chosen names are used verbatim; uniqueness is not enforced.
func (r *Router) handleSetName(ctx context.Context, connID string, act action) error {
	name := strings.TrimSpace(act.Name)
	if name == "" {
		var err error
		name, err = r.namer.NextName(ctx)
		if err != nil {
			return err
		}
	}

	if err := r.store.PutConnection(ctx, store.Connection{ID: connID, Name: name, IsGhost: false}); err != nil {
		return err
	}

	all, err := r.store.ListConnections(ctx)
	if err != nil {
		return err
	}
	ids := connIDs(all)
	r.caster.PushAll(ids, System{SystemMessage: name + " has joined the chat."})
	r.caster.PushAll(ids, memberList(all))
	r.caster.PushOne(connID, ClientID{ClientID: connID})
	return nil
}

// handleSendPublic broadcasts a chat line to the whole room, sender
// included; the client tells its own lines apart by senderId.
func (r *Router) handleSendPublic(ctx context.Context, connID string, act action) error {
	sender, _, err := r.store.GetConnection(ctx, connID)
	if err != nil {
		return err
	}
	everyone, err := r.store.ListConnections(ctx)
	if err != nil {
		return err
	}
	r.caster.PushAll(connIDs(everyone), Public{
		PublicMessage: sender.Name + ": " + act.Message,
		SenderID:      connID,
	})
	return nil
}

// handleSendPrivate resolves the target by name. Names are not unique, so a
// private message goes to every matching connection. Ghosts uninvolved in
// the exchange receive a covert copy.
func (r *Router) handleSendPrivate(ctx context.Context, connID string, act action) error {
	sender, _, err := r.store.GetConnection(ctx, connID)
	if err != nil {
		return err
	}
	targets, err := r.store.ListConnectionsByName(ctx, act.To)
	if err != nil {
		return err
	}
	ghosts, err := r.ghosts.ListGhosts(ctx)
	if err != nil {
		return err
	}

	if len(targets) == 0 {
		r.caster.PushOne(connID, System{SystemMessage: fmt.Sprintf("User %q not found.", act.To)})
		return nil
	}

	for _, target := range targets {
		r.caster.PushOne(target, Private{
			PrivateMessage: sender.Name + ": " + act.Message,
			SenderID:       connID,
		})
	}
	r.caster.PushOne(connID, Private{
		PrivateMessage: "To " + act.To + ": " + act.Message,
		SenderID:       connID,
	})

	ghostView := GhostView{
		GhostView: fmt.Sprintf("(Private) %s TO %s: %s", sender.Name, act.To, act.Message),
	}
	for _, g := range ghosts {
		// The sender and anyone the message resolved to see the real
		// exchange already; every other ghost gets the covert copy.
		if g.ID == connID || g.Name == act.To {
			continue
		}
		r.caster.PushOne(g.ID, ghostView)
	}
	return nil
}

// handleVerifyGhost checks the shared passphrase and, when it matches an
// existing connection, flips the sender into ghost mode. A wrong passphrase
// is a normal rejection, not an error, and mutates nothing.
func (r *Router) handleVerifyGhost(ctx context.Context, connID string, act action) error {
	if act.Passkey != r.passkey {
		r.caster.PushOne(connID, verifyGhostResult(false))
		return nil
	}

	sender, found, err := r.store.GetConnection(ctx, connID)
	if err != nil {
		return err
	}
	if !found {
		r.caster.PushOne(connID, verifyGhostResult(false))
		return nil
	}

	if err := r.store.SetGhost(ctx, connID, true); err != nil {
		return err
	}
	r.caster.PushOne(connID, verifyGhostResult(true))

	ghosts, err := r.ghosts.ListGhosts(ctx)
	if err != nil {
		return err
	}
	for _, g := range ghosts {
		if g.ID != connID {
			r.caster.PushOne(g.ID, System{SystemMessage: sender.Name + " entered ghost mode"})
		}
	}

	return r.broadcastMembers(ctx)
}

// handleDisableGhost clears the sender's ghost flag, confirms to the sender,
// and tells the remaining ghosts.
func (r *Router) handleDisableGhost(ctx context.Context, connID string) error {
	if err := r.store.SetGhost(ctx, connID, false); err != nil {
		return err
	}
	r.caster.PushOne(connID, System{SystemMessage: "Ghost mode disabled."})

	conn, _, err := r.store.GetConnection(ctx, connID)
	if err != nil {
		return err
	}
	ghosts, err := r.ghosts.ListGhosts(ctx)
	if err != nil {
		return err
	}
	for _, g := range ghosts {
		if g.ID != connID {
			r.caster.PushOne(g.ID, System{SystemMessage: conn.Name + " left ghost mode"})
		}
	}

	return r.broadcastMembers(ctx)
}

// broadcastMembers pushes a fresh membership snapshot to every connection.
func (r *Router) broadcastMembers(ctx context.Context) error {
	everyone, err := r.store.ListConnections(ctx)
	if err != nil {
		return err
	}
	r.caster.PushAll(connIDs(everyone), memberList(everyone))
	return nil
}

func memberList(conns []store.Connection) Members {
	members := make([]Member, 0, len(conns))
	for _, conn := range conns {
		members = append(members, Member{Name: conn.Name, ID: conn.ID, IsGhost: conn.IsGhost})
	}
	return Members{Members: members}
}

func connIDs(conns []store.Connection) []string {
	ids := make([]string, 0, len(conns))
	for _, conn := range conns {
		ids = append(ids, conn.ID)
	}
	return ids
}

func verifyGhostResult(verified bool) VerifyGhostResponse {
	return VerifyGhostResponse{Action: "verifyGhostResponse", Verified: verified}
}
