package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/comigor/healthchat-go/internal/chat"
	"github.com/comigor/healthchat-go/internal/config"
	"github.com/comigor/healthchat-go/internal/facility"
	"github.com/comigor/healthchat-go/internal/history"
	"github.com/comigor/healthchat-go/internal/llm"
)

// FacilityFinder looks up medical facilities near a position.
type FacilityFinder interface {
	Nearby(ctx context.Context, lat, lng float64) ([]facility.Facility, error)
}

// Server is the chat backend HTTP API.
type Server struct {
	cfg        config.Config
	db         *history.DB
	llm        llm.Client
	titler     chat.Titler
	facilities FacilityFinder
	users      map[string]config.UserConfig
}

// New creates a Server. facilities may be nil to disable location lookups.
func New(cfg config.Config, db *history.DB, client llm.Client, facilities FacilityFinder) *Server {
	users := make(map[string]config.UserConfig, len(cfg.Auth.Users))
	for _, u := range cfg.Auth.Users {
		if u.Token != "" {
			users[u.Token] = u
		}
	}
	titleModel := cfg.LLM.TitleModel
	if titleModel == "" {
		titleModel = cfg.LLM.Model
	}
	return &Server{
		cfg:        cfg,
		db:         db,
		llm:        client,
		titler:     llm.NewTitler(client, titleModel),
		facilities: facilities,
		users:      users,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chats", s.requireAuth(s.handleCreateChat))
	mux.HandleFunc("GET /api/chats", s.requireAuth(s.handleListChats))
	mux.HandleFunc("PUT /api/chats/{id}", s.requireAuth(s.handleUpdateChat))
	mux.HandleFunc("DELETE /api/chats/{id}", s.requireAuth(s.handleDeleteChat))

	mux.HandleFunc("GET /api/profile", s.requireAuth(s.handleGetProfile))
	mux.HandleFunc("PUT /api/profile", s.requireAuth(s.handlePutProfile))

	mux.HandleFunc("POST /api/chat/title", s.requireAuth(s.handleTitle))
	mux.HandleFunc("POST /api/chat/stream", s.requireAuth(s.handleStream))

	mux.HandleFunc("POST /api/location/nearby", s.requireAuth(s.handleNearby))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
