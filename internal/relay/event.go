package relay

import "github.com/LeventeLantos/bulk-messaging/internal/model"

// Event is one member of the closed set of messages the core pushes to a
// session's browser. Each variant carries a statically shaped payload and
// is written to the wire as {"event": <name>, "payload": <variant>}.
type Event interface {
	EventName() string
}

// QR carries a freshly issued linking code.
type QR struct {
	Code string `json:"code"`
}

func (QR) EventName() string { return "qr" }

// Ready signals the transport session reached the ready state.
type Ready struct{}

func (Ready) EventName() string { return "isReady" }

// Error is a declined request or a per-item failure; never fatal for the
// receiving session.
type Error struct {
	Message string `json:"message"`
}

func (Error) EventName() string { return "error" }

// MessageSent reports one dispatched recipient.
type MessageSent struct {
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phoneNumber"`
	Ack         model.Ack `json:"ack"`
}

func (MessageSent) EventName() string { return "messageSent" }

// ResponseReceived reports an inbound reply from a recipient.
type ResponseReceived struct {
	PhoneNumber string `json:"phoneNumber"`
	Response    string `json:"response"`
}

func (ResponseReceived) EventName() string { return "responseReceived" }

// AllMessagesSent signals a queue drained to completion.
type AllMessagesSent struct {
	Message string `json:"message"`
}

func (AllMessagesSent) EventName() string { return "allMessagesSent" }

// Relay delivers events to whatever browser is attached for a session.
// Delivery is fire-and-forget: no attached client means the event is
// dropped.
type Relay interface {
	Emit(sessionID string, ev Event)
}

// Nop drops every event. Useful where no browser channel exists.
type Nop struct{}

func (Nop) Emit(string, Event) {}
