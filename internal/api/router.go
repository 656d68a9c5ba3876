package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/manpreetbhatti/huddle/internal/metrics"
)

// NewRouter mounts the websocket endpoint, the JSON API and /metrics
// behind CORS.
func NewRouter(a *API, wsHandler http.Handler, allowedOrigins []string) http.Handler {
	router := mux.NewRouter()

	router.Handle("/ws", wsHandler)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)

	router.HandleFunc("/api/stats", a.StatsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms", a.ListRoomsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/{code}", a.GetRoomHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions", a.ListSessionsHandler).Methods(http.MethodGet)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(router)
}
