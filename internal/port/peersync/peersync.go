// Package peersync defines the port (interface) for exchanging sync events
// with a single fleet peer over its HTTP sync endpoint.
package peersync

import (
	"context"

	"github.com/lancejames221b/haivemind/internal/domain/syncevent"
)

// Client talks to one remote peer's sync service.
type Client interface {
	// Push delivers events to the peer and returns a per-event outcome.
	Push(ctx context.Context, events []syncevent.Event) ([]syncevent.PushResult, error)

	// Status fetches the peer's current vector clock and identity, used to
	// detect how far this node has fallen behind after a reconnect.
	Status(ctx context.Context) (*syncevent.Status, error)

	// Endpoint returns the peer's configured address, for logging.
	Endpoint() string
}

// ClientFactory constructs a Client for a peer's endpoint. Implementations
// typically cache one *http.Client per factory and build lightweight Client
// values per peer.
type ClientFactory interface {
	NewClient(endpoint, token string) Client
}
