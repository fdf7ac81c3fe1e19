package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"
)

const maxDecodeErrorsPerConn = 3

// Commands is the set of intents a connected browser may issue over the
// relay channel. Implemented by the dispatch command layer.
type Commands interface {
	RegisterSession(ctx context.Context, sessionID string) error
	StartProcessing(ctx context.Context, sessionID string, queueID int64)
	PauseQueue(ctx context.Context, queueID int64) error
	ResumeQueue(ctx context.Context, queueID int64) error
	StopQueue(ctx context.Context, queueID int64) error
}

type wsFrame struct {
	Type    string          `json:"type,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type registerPayload struct {
	SessionID   string `json:"sessionId"`
	SkipPrepare bool   `json:"skipPrepare,omitempty"`
}

type queuePayload struct {
	QueueID int64 `json:"queueId"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// Hub is the websocket event relay. Peers announce the session they are
// interested in with a register frame; events for that session are then
// fanned out to every attached peer.
type Hub struct {
	mu    sync.Mutex
	peers map[string]map[*wsPeer]struct{}

	commands Commands
}

func NewHub() *Hub {
	return &Hub{
		peers: make(map[string]map[*wsPeer]struct{}),
	}
}

// SetCommands binds the command layer. The hub is constructed before the
// processor so this is wired last, before the server starts accepting
// connections.
func (h *Hub) SetCommands(commands Commands) {
	h.mu.Lock()
	h.commands = commands
	h.mu.Unlock()
}

func (h *Hub) commandSet() Commands {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.commands
}

var _ Relay = (*Hub)(nil)

// Emit writes the event to every peer attached to sessionID. Write errors
// are ignored; a dead peer is cleaned up when its read loop exits.
func (h *Hub) Emit(sessionID string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("relay: marshal event failed", "event", ev.EventName(), "err", err)
		return
	}
	frame := wsFrame{Event: ev.EventName(), Payload: payload}

	h.mu.Lock()
	peers := make([]*wsPeer, 0, len(h.peers[sessionID]))
	for p := range h.peers[sessionID] {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		_ = p.writeFrame(frame)
	}
}

// Handler returns the websocket endpoint serving the relay protocol.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		h.handleConn(conn)
	})
}

func (h *Hub) handleConn(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))

	var sessionID string
	defer func() {
		if sessionID != "" {
			h.detach(sessionID, peer)
		}
	}()

	ctx := context.Background()
	if req := conn.Request(); req != nil {
		ctx = req.Context()
	}

	decodeErrors := 0
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = peer.writeFrame(errorFrame("invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		commands := h.commandSet()
		if commands == nil {
			_ = peer.writeFrame(errorFrame("commands unavailable"))
			continue
		}

		switch frame.Type {
		case "register":
			var p registerPayload
			if err := json.Unmarshal(frame.Payload, &p); err != nil || p.SessionID == "" {
				_ = peer.writeFrame(errorFrame("register requires a sessionId"))
				continue
			}
			if sessionID != "" {
				h.detach(sessionID, peer)
			}
			sessionID = p.SessionID
			h.attach(sessionID, peer)
			if !p.SkipPrepare {
				if err := commands.RegisterSession(ctx, sessionID); err != nil {
					_ = peer.writeFrame(errorFrame(err.Error()))
				}
			}

		case "startProcessing":
			queueID, ok := h.decodeQueueFrame(peer, sessionID, frame)
			if !ok {
				continue
			}
			commands.StartProcessing(ctx, sessionID, queueID)

		case "pauseQueue":
			queueID, ok := h.decodeQueueFrame(peer, sessionID, frame)
			if !ok {
				continue
			}
			if err := commands.PauseQueue(ctx, queueID); err != nil {
				_ = peer.writeFrame(errorFrame(err.Error()))
			}

		case "resumeQueue":
			queueID, ok := h.decodeQueueFrame(peer, sessionID, frame)
			if !ok {
				continue
			}
			if err := commands.ResumeQueue(ctx, queueID); err != nil {
				_ = peer.writeFrame(errorFrame(err.Error()))
			}

		case "stopQueue":
			queueID, ok := h.decodeQueueFrame(peer, sessionID, frame)
			if !ok {
				continue
			}
			if err := commands.StopQueue(ctx, queueID); err != nil {
				_ = peer.writeFrame(errorFrame(err.Error()))
			}

		default:
			_ = peer.writeFrame(errorFrame("unknown frame type"))
		}
	}
}

func (h *Hub) decodeQueueFrame(peer *wsPeer, sessionID string, frame wsFrame) (int64, bool) {
	if sessionID == "" {
		_ = peer.writeFrame(errorFrame("register before issuing commands"))
		return 0, false
	}
	var p queuePayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil || p.QueueID == 0 {
		_ = peer.writeFrame(errorFrame("command requires a queueId"))
		return 0, false
	}
	return p.QueueID, true
}

func (h *Hub) attach(sessionID string, peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.peers[sessionID]
	if !ok {
		set = make(map[*wsPeer]struct{})
		h.peers[sessionID] = set
	}
	set[peer] = struct{}{}
}

func (h *Hub) detach(sessionID string, peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.peers[sessionID]
	if !ok {
		return
	}
	delete(set, peer)
	if len(set) == 0 {
		delete(h.peers, sessionID)
	}
}

func errorFrame(message string) wsFrame {
	payload, _ := json.Marshal(Error{Message: message})
	return wsFrame{Event: "error", Payload: payload}
}
