package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/auth"
	"github.com/hyperjump/kaiwa/internal/chat"
	"github.com/hyperjump/kaiwa/internal/extract"
	"github.com/hyperjump/kaiwa/internal/ingest"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/storage"
)

// handleChat runs one conversation turn. With streaming enabled (the
// default) the reply is written as text/plain chunks with the conversation
// id in a header; otherwise the full reply is returned as JSON.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req models.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// "new" is the placeholder for a conversation that does not exist yet.
	if id := chi.URLParam(r, "conversationID"); id != "" {
		if id == "new" {
			req.ConversationID = ""
		} else {
			req.ConversationID = id
		}
	}
	if req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SelectedModel == "" {
		s.respondError(w, http.StatusBadRequest, "selectedModel is required")
		return
	}

	if req.StreamEnabled() {
		s.streamChat(w, r, userID, &req)
		return
	}

	result, err := s.turns.Run(r.Context(), userID, &req, nil)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.TurnResponse{
		Message:        "success",
		ConversationID: result.Conversation.ID,
		Data:           models.TurnRespData{Content: result.AssistantMessage.Content},
	})
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, userID string, req *models.TurnRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var started bool
	cb := &chat.TurnCallbacks{
		OnConversation: func(conv *models.Conversation, created bool) {
			w.Header().Set("X-Conversation-Id", conv.ID)
		},
		OnChunk: func(ctx context.Context, chunk []byte) error {
			if !started {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusOK)
				started = true
			}
			if _, err := w.Write(chunk); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
	}

	result, err := s.turns.Run(r.Context(), userID, req, cb)
	if err != nil {
		if started {
			// Headers are gone; all we can do is stop the stream.
			s.logger.Warn("turn failed mid-stream", zap.Error(err))
			return
		}
		s.respondTurnError(w, err)
		return
	}
	if !started {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(result.AssistantMessage.Content))
	}
	flusher.Flush()
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := chi.URLParam(r, "conversationID")

	conv, err := s.storage.GetConversation(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("get conversation failed", zap.Error(err))
		s.respondInternalError(w, "failed to load conversation", err)
		return
	}
	messages, err := s.storage.ListMessages(r.Context(), id, userID)
	if err != nil {
		s.logger.Error("list messages failed", zap.Error(err))
		s.respondInternalError(w, "failed to load messages", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     messages,
	})
}

type createConversationRequest struct {
	Title             string `json:"title"`
	Model             string `json:"model"`
	SystemInstruction string `json:"systemInstruction"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req createConversationRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Title == "" {
		s.respondError(w, http.StatusBadRequest, "title is required")
		return
	}
	conv := &models.Conversation{
		ID:                uuid.NewString(),
		UserID:            userID,
		Title:             req.Title,
		Model:             req.Model,
		SystemInstruction: req.SystemInstruction,
	}
	if err := s.storage.CreateConversation(r.Context(), conv); err != nil {
		s.logger.Error("create conversation failed", zap.Error(err))
		s.respondInternalError(w, "failed to create conversation", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "success",
		"data":    conv,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	list, err := s.storage.ListConversations(r.Context(), userID)
	if err != nil {
		s.logger.Error("list conversations failed", zap.Error(err))
		s.respondInternalError(w, "failed to load conversations", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"conversations": list})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := chi.URLParam(r, "conversationID")

	if err := s.ingest.DeleteConversation(r.Context(), userID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("delete conversation failed", zap.Error(err))
		s.respondInternalError(w, "failed to delete conversation", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	maxBytes := s.config.Ingest.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	conversationID := r.FormValue("conversationId")
	if conversationID == "" {
		s.respondError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	doc, err := s.ingest.Upload(r.Context(), userID, ingest.UploadInput{
		ConversationID: conversationID,
		FileName:       header.Filename,
		MimeType:       mimeType,
		Size:           header.Size,
		Reader:         file,
	})
	if err != nil {
		switch {
		case errors.Is(err, extract.ErrUnsupportedType):
			s.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ingest.ErrTooLarge):
			s.respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, ingest.ErrNoContent):
			s.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, storage.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "conversation not found")
		default:
			s.logger.Error("upload failed", zap.Error(err))
			s.respondInternalError(w, "failed to ingest file", err)
		}
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "success",
		"file":    doc,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := chi.URLParam(r, "documentID")

	if err := s.ingest.DeleteDocument(r.Context(), userID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("delete document failed", zap.Error(err))
		s.respondInternalError(w, "failed to delete document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := chi.URLParam(r, "messageID")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !models.ValidFeedback(req.Feedback) {
		s.respondError(w, http.StatusBadRequest, "feedback must be thumbsUp, thumbsDown, or neutral")
		return
	}
	if err := s.storage.UpdateMessageFeedback(r.Context(), id, userID, req.Feedback); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "message not found")
			return
		}
		s.logger.Error("update feedback failed", zap.Error(err))
		s.respondInternalError(w, "failed to update feedback", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"models":  s.registry.Names(),
		"default": llm.AutoModel,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondInternalError(w, "failed to read status", err)
		return
	}
	chunkCount, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondInternalError(w, "failed to read status", err)
		return
	}
	resp := map[string]interface{}{
		"documents":         docCount,
		"chunks":            chunkCount,
		"vector_index_size": s.index.Size(),
	}
	if s.files != nil {
		if diskBytes, err := s.files.DiskUsageBytes(); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// respondTurnError maps turn errors onto HTTP statuses.
func (s *Server) respondTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, llm.ErrInvalidModel):
		s.respondError(w, http.StatusBadRequest, "unknown model")
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, llm.ErrNoModelResponse):
		s.logger.Error("all models failed", zap.Error(err))
		s.respondInternalError(w, "no response from any model", err)
	default:
		s.logger.Error("turn failed", zap.Error(err))
		s.respondInternalError(w, "failed to process message", err)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondInternalError reports a 500 with both a stable message and the
// underlying error detail.
func (s *Server) respondInternalError(w http.ResponseWriter, message string, err error) {
	s.respondJSON(w, http.StatusInternalServerError, map[string]string{
		"message": message,
		"error":   err.Error(),
	})
}
