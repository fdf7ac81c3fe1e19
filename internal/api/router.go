package api

import "net/http"

func Router(h *Handler, ws http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("POST /v1/sessions", h.RegisterSession)
	mux.HandleFunc("GET /v1/sessions/{id}/authed", h.SessionAuthed)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.DisconnectSession)

	mux.HandleFunc("POST /v1/queues", h.CreateQueue)
	mux.HandleFunc("GET /v1/queues", h.ListQueues)
	mux.HandleFunc("GET /v1/queues/{id}", h.GetQueue)
	mux.HandleFunc("DELETE /v1/queues/{id}", h.DeleteQueue)

	mux.HandleFunc("POST /v1/queues/{id}/start", h.StartProcessing)
	mux.HandleFunc("POST /v1/queues/{id}/pause", h.PauseQueue)
	mux.HandleFunc("POST /v1/queues/{id}/resume", h.ResumeQueue)
	mux.HandleFunc("POST /v1/queues/{id}/stop", h.StopQueue)

	mux.HandleFunc("GET /v1/queues/{id}/recipients", h.ListRecipients)
	mux.HandleFunc("GET /v1/queues/{id}/counts", h.QueueCounts)

	mux.HandleFunc("POST /v1/transport/events", h.TransportEvents)

	if ws != nil {
		mux.Handle("GET /ws", ws)
	}

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("bulk-messaging"))
	})

	return mux
}
