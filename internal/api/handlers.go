package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/LeventeLantos/bulk-messaging/internal/cache"
	"github.com/LeventeLantos/bulk-messaging/internal/model"
	"github.com/LeventeLantos/bulk-messaging/internal/registry"
	"github.com/LeventeLantos/bulk-messaging/internal/relay"
	"github.com/LeventeLantos/bulk-messaging/internal/repo"
	"github.com/LeventeLantos/bulk-messaging/internal/transport"
)

// EventSink receives provider callbacks pushed to the transport webhook.
type EventSink interface {
	HandleEvent(ev transport.ProviderEvent) error
}

type Handler struct {
	commands   relay.Commands
	registry   *registry.Registry
	queues     repo.QueueRepository
	recipients repo.RecipientRepository
	totals     cache.TotalsCache
	events     EventSink
}

func NewHandler(commands relay.Commands, reg *registry.Registry, queues repo.QueueRepository, recipients repo.RecipientRepository, totals cache.TotalsCache, events EventSink) *Handler {
	return &Handler{
		commands:   commands,
		registry:   reg,
		queues:     queues,
		recipients: recipients,
		totals:     totals,
		events:     events,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type registerSessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) RegisterSession(w http.ResponseWriter, r *http.Request) {
	var req registerSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	if err := h.commands.RegisterSession(r.Context(), req.SessionID); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"sessionId": req.SessionID})
}

func (h *Handler) SessionAuthed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"authed": h.registry.IsAuthenticated(r.PathValue("id")),
	})
}

func (h *Handler) DisconnectSession(w http.ResponseWriter, r *http.Request) {
	removed := h.registry.Disconnect(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type createQueueRequest struct {
	Owner            string                `json:"owner"`
	Name             string                `json:"name"`
	MessageTemplate  string                `json:"messageTemplate"`
	EnableVariations bool                  `json:"enableVariations"`
	Variations       []model.VariationRule `json:"variations,omitempty"`
	Recipients       []queueRecipient      `json:"recipients"`
}

type queueRecipient struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
}

func (h *Handler) CreateQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" || req.Name == "" || req.MessageTemplate == "" {
		http.Error(w, "owner, name and messageTemplate are required", http.StatusBadRequest)
		return
	}
	_, err := h.queues.FetchByOwnerAndName(r.Context(), req.Owner, req.Name)
	if err == nil {
		http.Error(w, "queue name already in use", http.StatusConflict)
		return
	}
	if !errors.Is(err, repo.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	q, err := h.queues.Add(r.Context(), model.Queue{
		Owner:            req.Owner,
		Name:             req.Name,
		MessageTemplate:  req.MessageTemplate,
		EnableVariations: req.EnableVariations,
		Variations:       req.Variations,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	recipients := make([]model.Recipient, 0, len(req.Recipients))
	for _, rec := range req.Recipients {
		recipients = append(recipients, model.Recipient{
			QueueID:     q.ID,
			Name:        rec.Name,
			PhoneNumber: rec.PhoneNumber,
		})
	}
	if err := h.recipients.AddMany(r.Context(), recipients); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, queueResponse(q))
}

func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		http.Error(w, "owner is required", http.StatusBadRequest)
		return
	}

	queues, err := h.queues.ListByOwner(r.Context(), owner)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]any, 0, len(queues))
	for i := range queues {
		items = append(items, queueResponse(&queues[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	q, ok := h.fetchQueue(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, queueResponse(q))
}

func (h *Handler) DeleteQueue(w http.ResponseWriter, r *http.Request) {
	q, ok := h.fetchQueue(w, r)
	if !ok {
		return
	}

	deleted, err := h.queues.Delete(r.Context(), q.Owner, q.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	removed, err := h.recipients.DeleteByQueue(r.Context(), q.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":           deleted,
		"recipientsRemoved": removed,
	})
}

type startProcessingRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) StartProcessing(w http.ResponseWriter, r *http.Request) {
	q, ok := h.fetchQueue(w, r)
	if !ok {
		return
	}

	var req startProcessingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	h.commands.StartProcessing(r.Context(), req.SessionID, q.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"queueId": q.ID})
}

func (h *Handler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	h.queueCommand(w, r, h.commands.PauseQueue)
}

func (h *Handler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	h.queueCommand(w, r, h.commands.ResumeQueue)
}

func (h *Handler) StopQueue(w http.ResponseWriter, r *http.Request) {
	h.queueCommand(w, r, h.commands.StopQueue)
}

func (h *Handler) queueCommand(w http.ResponseWriter, r *http.Request, cmd func(context.Context, int64) error) {
	q, ok := h.fetchQueue(w, r)
	if !ok {
		return
	}

	if err := cmd(r.Context(), q.ID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repo.ErrInvalidTransition) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queueId": q.ID})
}

func (h *Handler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	q, ok := h.fetchQueue(w, r)
	if !ok {
		return
	}

	items, err := h.recipients.ListByQueue(r.Context(), q.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(items))
	for _, rec := range items {
		out = append(out, map[string]any{
			"name":        rec.Name,
			"phoneNumber": rec.PhoneNumber,
			"processed":   rec.Processed,
			"delivered":   rec.Delivered,
			"responses":   rec.Responses,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) QueueCounts(w http.ResponseWriter, r *http.Request) {
	q, ok := h.fetchQueue(w, r)
	if !ok {
		return
	}

	if h.totals != nil {
		if cached, err := h.totals.GetTotals(r.Context(), q.ID); err == nil && cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	totals, err := h.recipients.CountTotals(r.Context(), q.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if h.totals != nil {
		if err := h.totals.StoreTotals(r.Context(), q.ID, totals); err != nil {
			slog.Warn("totals cache store failed", "queue", q.ID, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, totals)
}

// TransportEvents is the callback endpoint the provider gateway pushes
// session events to.
func (h *Handler) TransportEvents(w http.ResponseWriter, r *http.Request) {
	var ev transport.ProviderEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	if ev.SessionID == "" || ev.Type == "" {
		http.Error(w, "sessionId and type are required", http.StatusBadRequest)
		return
	}

	if err := h.events.HandleEvent(ev); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (h *Handler) fetchQueue(w http.ResponseWriter, r *http.Request) (*model.Queue, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid queue id", http.StatusBadRequest)
		return nil, false
	}

	q, err := h.queues.FetchByID(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		http.Error(w, "queue not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return q, true
}

func queueResponse(q *model.Queue) map[string]any {
	return map[string]any{
		"id":               q.ID,
		"owner":            q.Owner,
		"name":             q.Name,
		"status":           q.Status,
		"messageTemplate":  q.MessageTemplate,
		"enableVariations": q.EnableVariations,
		"variations":       q.Variations,
		"createdAt":        q.CreatedAt,
		"updatedAt":        q.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
