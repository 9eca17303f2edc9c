package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/healthchat-go/internal/chat"
	"github.com/comigor/healthchat-go/internal/facility"
	"github.com/comigor/healthchat-go/internal/llm"
	"github.com/comigor/healthchat-go/internal/logger"
	"github.com/comigor/healthchat-go/internal/stream"
)

type titleRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	title, err := s.titler.GenerateTitle(r.Context(), req.Text)
	if err != nil {
		logger.L.Warn("title generation failed", "error", err)
		writeError(w, http.StatusBadGateway, "title generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": title})
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	var loc chat.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.facilities == nil {
		writeJSON(w, http.StatusOK, []facility.Facility{})
		return
	}
	out, err := s.facilities.Nearby(r.Context(), loc.Lat, loc.Lng)
	if err != nil {
		logger.L.Warn("facility lookup failed", "error", err)
		writeError(w, http.StatusBadGateway, "facility lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// nearbyText formats facilities for the system prompt; lookup failures only
// drop the section.
func (s *Server) nearbyText(r *http.Request, loc *chat.Location) string {
	if loc == nil || s.facilities == nil {
		return ""
	}
	out, err := s.facilities.Nearby(r.Context(), loc.Lat, loc.Lng)
	if err != nil {
		logger.L.Warn("facility lookup failed; answering without it", "error", err)
		return ""
	}
	return facility.Format(out)
}

func (s *Server) completionMessages(r *http.Request, req chat.StreamRequest) []openai.ChatCompletionMessage {
	profile, err := s.profile(r)
	if err != nil {
		logger.L.Warn("profile unavailable for prompt", "error", err)
		profile.Name = userFrom(r.Context()).Name
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: llm.SystemPrompt(s.cfg.LLM.SystemPrompt, profile, s.nearbyText(r, req.Location)),
	})
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return msgs
}

// handleStream relays model deltas as event-stream lines. Once headers are
// sent every failure is reported in-band with the error terminator.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req chat.StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	msgs := s.completionMessages(r, req)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(line string) bool {
		if _, err := io.WriteString(w, line); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	ts, err := s.llm.StreamChatCompletion(r.Context(), openai.ChatCompletionRequest{
		Model:    s.cfg.LLM.Model,
		Messages: msgs,
		Stream:   true,
	})
	if err != nil {
		logger.L.Error("LLM stream failed to open", "error", err)
		send(stream.EncodeError())
		return
	}
	defer ts.Close()

	tokens := 0
	for {
		resp, err := ts.Recv()
		if errors.Is(err, io.EOF) {
			send(stream.EncodeDone())
			logger.L.Info("stream finished", "user", userFrom(r.Context()).UserID, "tokens", tokens)
			return
		}
		if err != nil {
			logger.L.Error("LLM stream broke", "error", err, "tokens", tokens)
			send(stream.EncodeError())
			return
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			tokens++
			if !send(stream.EncodeToken(choice.Delta.Content)) {
				logger.L.Debug("client went away mid-stream", "tokens", tokens)
				return
			}
		}
	}
}
