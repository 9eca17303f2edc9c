package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/comigor/healthchat-go/internal/history"
	"github.com/comigor/healthchat-go/internal/logger"
)

type createChatRequest struct {
	Title    string            `json:"title"`
	Messages []history.Message `json:"messages"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		req.Title = "New Chat"
	}
	rec, err := s.store(r).CreateChat(r.Context(), req.Title, req.Messages)
	if err != nil {
		logger.L.Error("create chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	list, err := s.store(r).ListChats(r.Context())
	if err != nil {
		logger.L.Error("list chats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if list == nil {
		list = []history.Record{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpdateChat(w http.ResponseWriter, r *http.Request) {
	var u history.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.store(r).UpdateChat(r.Context(), r.PathValue("id"), u)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		logger.L.Error("update chat failed", "id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update chat")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	err := s.store(r).DeleteChat(r.Context(), r.PathValue("id"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		logger.L.Error("delete chat failed", "id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// profile loads the caller's profile, defaulting the name to the configured one.
func (s *Server) profile(r *http.Request) (history.Profile, error) {
	p, err := s.store(r).GetProfile(r.Context())
	if err != nil {
		return history.Profile{}, err
	}
	if p.Name == "" {
		p.Name = userFrom(r.Context()).Name
	}
	return p, nil
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profile(r)
	if err != nil {
		logger.L.Error("load profile failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var p history.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.db.PutProfile(r.Context(), userFrom(r.Context()).UserID, p)
	if err != nil {
		logger.L.Error("store profile failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
