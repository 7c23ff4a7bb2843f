// Package httpx assembles the HTTP surface of the relay.
package httpx

import (
	"chat-relay/observability"
	"encoding/json"
	"net/http"

	"github.com/rs/cors"
)

type Routes struct {
	WebSocket http.Handler
	Webhook   http.Handler
	Metrics   *observability.Metrics
}

// NewRouter mounts every endpoint and applies CORS for allowedOrigins.
// An empty list allows any origin.
func NewRouter(routes Routes, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws/{room}", routes.WebSocket)
	mux.Handle("POST /webhooks/stream", routes.Webhook)
	mux.Handle("GET /metrics", routes.Metrics.Handler())
	mux.HandleFunc("GET /healthz", health)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
