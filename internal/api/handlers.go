package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/manpreetbhatti/huddle/internal/db"
	"github.com/manpreetbhatti/huddle/internal/room"
	"github.com/manpreetbhatti/huddle/internal/ws"
)

type API struct {
	hub      *ws.Hub
	database *db.Database
	logger   *slog.Logger
}

// New builds the HTTP API. database may be nil, in which case journal
// figures are left out.
func New(hub *ws.Hub, database *db.Database, logger *slog.Logger) *API {
	return &API{
		hub:      hub,
		database: database,
		logger:   logger.With("component", "api"),
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("encode response", "err", err)
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type StatsResponse struct {
	ActiveRooms       int       `json:"active_rooms"`
	ActiveWhiteboards int       `json:"active_whiteboards"`
	ActiveClients     int       `json:"active_clients"`
	Journal           *db.Stats `json:"journal,omitempty"`
	Timestamp         string    `json:"timestamp"`
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	s, err := a.hub.Stats(r.Context())
	if err != nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Hub unavailable")
		return
	}

	resp := StatsResponse{
		ActiveRooms:       s.Rooms,
		ActiveWhiteboards: s.Whiteboards,
		ActiveClients:     s.Connections,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}
	if a.database != nil {
		if js, err := a.database.GetStats(); err == nil {
			resp.Journal = &js
		} else {
			a.logger.Warn("journal stats", "err", err)
		}
	}

	a.jsonResponse(w, http.StatusOK, resp)
}

type RoomResponse struct {
	Code      string    `json:"code"`
	Members   int       `json:"members"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

func roomResponse(s room.Summary) RoomResponse {
	return RoomResponse{
		Code:      s.Code,
		Members:   s.Members,
		Messages:  s.Messages,
		CreatedAt: s.CreatedAt,
	}
}

// ListRoomsHandler lists rooms that currently have members.
func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.hub.Rooms(r.Context())
	if err != nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Hub unavailable")
		return
	}

	response := make([]RoomResponse, len(summaries))
	for i, s := range summaries {
		response[i] = roomResponse(s)
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"rooms": response,
		"total": len(response),
	})
}

// GetRoomHandler reports whether a code is joinable right now.
func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	code := room.NormalizeCode(mux.Vars(r)["code"])
	if !room.ValidCode(code) {
		a.errorResponse(w, http.StatusBadRequest, "Invalid room code")
		return
	}

	s, ok, err := a.hub.Room(r.Context(), code)
	if err != nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Hub unavailable")
		return
	}
	if !ok {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	a.jsonResponse(w, http.StatusOK, roomResponse(s))
}

// ListSessionsHandler pages through past and present room lifetimes from
// the activity journal.
func (a *API) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if a.database == nil {
		a.errorResponse(w, http.StatusNotFound, "Journal disabled")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	sessions, err := a.database.ListRoomSessions(limit, offset)
	if err != nil {
		a.logger.Error("list room sessions", "err", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []db.RoomSession{}
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}
