// Package broadcast fans payloads out to connections through the transport
// push primitive. Delivery is best effort: a stale or closed connection is
// logged and skipped, never retried, and never aborts sibling pushes. The
// eventual disconnect event cleans up the dangling record.
package broadcast

import (
	"encoding/json"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// fanOutLimit bounds concurrent pushes per broadcast so a large room does
// not spawn unbounded goroutines.
const fanOutLimit = 32

// Pusher is the single transport primitive the relay depends on: push bytes
// to a connection id. Push may fail if the connection is gone; callers here
// deliberately discard that failure.
type Pusher interface {
	Push(id string, payload []byte) error
}

// Broadcaster delivers structured payloads to one or many connections.
type Broadcaster struct {
	pusher Pusher
	log    zerolog.Logger
}

// New creates a Broadcaster over the given push primitive.
func New(pusher Pusher, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{pusher: pusher, log: log}
}

// PushOne marshals payload and attempts delivery to a single connection.
// Transport failures are swallowed.
func (b *Broadcaster) PushOne(id string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn().Err(err).Str("connection", id).Msg("dropping unmarshalable payload")
		return
	}
	b.push(id, data)
}

// PushAll attempts delivery to every id concurrently and returns once all
// attempts have completed. There is no aggregated result; per-recipient
// failures are invisible to the caller.
func (b *Broadcaster) PushAll(ids []string, payload any) {
	if len(ids) == 0 {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn().Err(err).Msg("dropping unmarshalable payload")
		return
	}

	var group errgroup.Group
	group.SetLimit(fanOutLimit)
	for _, id := range ids {
		id := id
		group.Go(func() error {
			b.push(id, data)
			return nil
		})
	}
	_ = group.Wait()
}

func (b *Broadcaster) push(id string, data []byte) {
	if err := b.pusher.Push(id, data); err != nil {
		b.log.Debug().Err(err).Str("connection", id).Msg("push failed")
	}
}
