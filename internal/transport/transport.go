package transport

import (
	"context"

	"github.com/LeventeLantos/bulk-messaging/internal/model"
)

// Events are the asynchronous callbacks a transport session fires. All of
// them are invoked by the transport, never by the registry's callers.
type Events struct {
	// OnLinkCode fires each time the provider issues a fresh linking code
	// for an unauthenticated session.
	OnLinkCode func(code string)

	OnAuthenticated func()
	OnReady         func()

	// OnMessage fires for an inbound reply. from is the sender's phone
	// number, already stripped of any provider address suffix.
	OnMessage func(from, body string)

	OnDisconnected func(reason string)
}

// Session is one live connection to the messaging provider.
type Session interface {
	SendMessage(ctx context.Context, phoneNumber, text string) (model.Ack, error)
	Close(ctx context.Context) error
}

// Connector establishes provider sessions. Connect must wire the given
// callbacks before any event can fire.
type Connector interface {
	Connect(ctx context.Context, sessionID string, events Events) (Session, error)
}
