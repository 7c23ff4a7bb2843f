package httpx

import (
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/services"
	"io"
	"log/slog"
	"net/http"
)

// WebhookHandler serves POST /webhooks/stream. Callers only ever see a status code.
type WebhookHandler struct {
	log         *slog.Logger
	service     *services.WebhookService
	maxBodySize int64
	metrics     *observability.Metrics
}

func NewWebhookHandler(log *slog.Logger, service *services.WebhookService, maxBodySize int64,
	metrics *observability.Metrics) *WebhookHandler {
	return &WebhookHandler{log: log, service: service, maxBodySize: maxBodySize, metrics: metrics}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.handle(w, r)
	status := errors.HTTPStatus(err)
	switch {
	case err == nil:
	case errors.KindOf(err) == errors.KindAuth:
		h.log.Warn("Webhook rejected", "remote_addr", r.RemoteAddr, "error", err)
	default:
		h.log.Error("Webhook failed", "error", err)
	}
	h.metrics.Webhook(status)
	w.WriteHeader(status)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) error {
	body := r.Body
	if h.maxBodySize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return errors.MalformedInput("webhook", "Unreadable body", err)
	}
	return h.service.Handle(r.Context(), raw, r.Header)
}
