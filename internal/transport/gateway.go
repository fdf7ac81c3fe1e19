package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/LeventeLantos/bulk-messaging/internal/model"
)

// GatewayClient talks to the messaging-provider gateway over HTTP. Sends
// go out as JSON requests; the gateway pushes session events (linking
// codes, readiness, inbound replies, disconnects) back to our callback
// endpoint, which routes them here via HandleEvent.
type GatewayClient struct {
	baseURL     string
	callbackURL string
	client      *http.Client

	mu       sync.Mutex
	handlers map[string]Events
}

func NewGatewayClient(baseURL, callbackURL string) *GatewayClient {
	return &GatewayClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		callbackURL: callbackURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		handlers: make(map[string]Events),
	}
}

var _ Connector = (*GatewayClient)(nil)

type connectRequest struct {
	SessionID   string `json:"sessionId"`
	CallbackURL string `json:"callbackUrl"`
}

type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type sendResponse struct {
	Ack *int `json:"ack"`
}

func (c *GatewayClient) Connect(ctx context.Context, sessionID string, events Events) (Session, error) {
	body, err := json.Marshal(connectRequest{
		SessionID:   sessionID,
		CallbackURL: c.callbackURL,
	})
	if err != nil {
		return nil, err
	}

	if err := c.post(ctx, c.baseURL+"/sessions", body, nil); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.handlers[sessionID] = events
	c.mu.Unlock()

	return &gatewaySession{client: c, sessionID: sessionID}, nil
}

// ProviderEvent is one callback pushed by the gateway.
type ProviderEvent struct {
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	From      string `json:"from,omitempty"`
	Body      string `json:"body,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// HandleEvent routes a provider callback to the owning session's wired
// callbacks. Unknown sessions and unknown event types are rejected.
func (c *GatewayClient) HandleEvent(ev ProviderEvent) error {
	c.mu.Lock()
	events, ok := c.handlers[ev.SessionID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no session registered for id %q", ev.SessionID)
	}

	switch ev.Type {
	case "qr":
		if events.OnLinkCode != nil {
			events.OnLinkCode(ev.Code)
		}
	case "authenticated":
		if events.OnAuthenticated != nil {
			events.OnAuthenticated()
		}
	case "ready":
		if events.OnReady != nil {
			events.OnReady()
		}
	case "message":
		if events.OnMessage != nil {
			events.OnMessage(ev.From, ev.Body)
		}
	case "disconnected":
		c.forget(ev.SessionID)
		if events.OnDisconnected != nil {
			events.OnDisconnected(ev.Reason)
		}
	default:
		return fmt.Errorf("unknown provider event type %q", ev.Type)
	}
	return nil
}

func (c *GatewayClient) forget(sessionID string) {
	c.mu.Lock()
	delete(c.handlers, sessionID)
	c.mu.Unlock()
}

func (c *GatewayClient) post(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode json: %w body=%q", err, string(raw))
		}
	}
	return nil
}

type gatewaySession struct {
	client    *GatewayClient
	sessionID string
}

func (s *gatewaySession) SendMessage(ctx context.Context, phoneNumber, text string) (model.Ack, error) {
	body, err := json.Marshal(sendRequest{
		PhoneNumber: phoneNumber,
		Message:     text,
	})
	if err != nil {
		return model.AckError, err
	}

	var sr sendResponse
	url := fmt.Sprintf("%s/sessions/%s/messages", s.client.baseURL, s.sessionID)
	if err := s.client.post(ctx, url, body, &sr); err != nil {
		return model.AckError, err
	}
	if sr.Ack == nil {
		return model.AckError, fmt.Errorf("missing ack in response")
	}

	return model.Ack(*sr.Ack), nil
}

func (s *gatewaySession) Close(ctx context.Context) error {
	s.client.forget(s.sessionID)

	url := fmt.Sprintf("%s/sessions/%s", s.client.baseURL, s.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
