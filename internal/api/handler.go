// Package api provides HTTP handlers for the Aluna REST boundary.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/alunalabs/aluna/internal/config"
	"github.com/alunalabs/aluna/internal/domain"
	"github.com/alunalabs/aluna/internal/identity"
	"github.com/alunalabs/aluna/internal/orchestrator"
	"github.com/alunalabs/aluna/internal/socratic"
	"github.com/alunalabs/aluna/internal/store"
	"github.com/alunalabs/aluna/internal/transcript"
)

// maxRequestBodySize caps message bodies at 64KB.
const maxRequestBodySize = 64 << 10

// welcomeText opens a brand-new conversation.
const welcomeText = "Hola, soy Aluna. ¿Cómo estás hoy? ¿Qué te gustaría conversar?"

// Handler serves the conversation REST endpoints.
type Handler struct {
	repo        store.Repository
	orch        *orchestrator.Orchestrator
	rateLimiter *RateLimiter
	log         transcript.Logger
}

// NewHandler creates the REST handler.
func NewHandler(repo store.Repository, orch *orchestrator.Orchestrator, log transcript.Logger, cfg config.RateLimitConfig) *Handler {
	if log == nil {
		log = transcript.Noop{}
	}
	return &Handler{
		repo:        repo,
		orch:        orch,
		rateLimiter: NewRateLimiter(cfg.RequestsPerWindow, cfg.WindowDuration),
		log:         log,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers conversation routes (requires authentication).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/conversations", func(r chi.Router) {
		r.Post("/", h.HandleCreateConversation)
		r.Post("/{conversationID}/messages", h.HandlePostMessage)
		r.Get("/{conversationID}/messages", h.HandleGetMessages)
	})
}

type createConversationResponse struct {
	Conversation *domain.Conversation `json:"conversation"`
	Welcome      *domain.Message      `json:"welcome,omitempty"`
}

// HandleCreateConversation handles POST /api/conversations. A fresh
// conversation opens with an assistant welcome message.
func (h *Handler) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	now := time.Now()
	conv := &domain.Conversation{
		ID:             uuid.NewString(),
		UserID:         userID,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := h.repo.CreateConversation(r.Context(), conv); err != nil {
		slog.Error("failed to create conversation", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	welcome := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        welcomeText,
		CreatedAt:      now,
	}
	if err := h.repo.AppendMessage(r.Context(), welcome); err != nil {
		slog.Error("failed to append welcome message", "conversation_id", conv.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to initialize conversation")
		return
	}

	slog.Info("conversation created", "user_id", userID, "conversation_id", conv.ID)
	JSON(w, http.StatusCreated, createConversationResponse{Conversation: conv, Welcome: welcome})
}

type postMessageRequest struct {
	Content           string `json:"content"`
	PreferredCategory string `json:"preferredCategory,omitempty"`
}

type postMessageResponse struct {
	UserMessage      *domain.Message `json:"userMessage"`
	AssistantMessage *domain.Message `json:"assistantMessage"`
}

// HandlePostMessage handles POST /api/conversations/{id}/messages: it appends
// the user message, runs the orchestrator, and appends either the assistant
// reply or a system-error entry. The user's message is never dropped.
func (h *Handler) HandlePostMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conversationID := chi.URLParam(r, "conversationID")
	conv, err := h.repo.GetConversation(r.Context(), conversationID)
	if err != nil {
		slog.Error("failed to load conversation", "conversation_id", conversationID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil || conv.UserID != userID {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	if !h.rateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	userMsg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        req.Content,
		CreatedAt:      time.Now(),
	}
	if err := h.repo.AppendMessage(r.Context(), userMsg); err != nil {
		slog.Error("failed to append user message", "conversation_id", conversationID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	h.log.Log(transcript.Event{
		UserID:         userID,
		ConversationID: conversationID,
		Role:           string(domain.RoleUser),
		Content:        req.Content,
	})

	history, err := h.repo.GetMessages(r.Context(), conversationID, 15)
	if err != nil {
		slog.Error("failed to load history", "conversation_id", conversationID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	var profile *socratic.Profile
	if req.PreferredCategory != "" {
		profile = &socratic.Profile{PreferredCategory: socratic.Category(req.PreferredCategory)}
	}

	slog.Info("processing turn",
		"user_id", userID,
		"conversation_id", conversationID,
		"message_length", len(req.Content),
	)

	reply, genErr := h.orch.Respond(r.Context(), userID, history, profile)

	assistantMsg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		CreatedAt:      time.Now(),
	}
	if genErr != nil {
		// The failed turn stays visible in the log as a system-error entry
		// with the fixed apology for its error class.
		assistantMsg.Role = domain.RoleSystemError
		assistantMsg.Content = orchestrator.Apology(genErr)
		slog.Error("generation failed for turn",
			"user_id", userID,
			"conversation_id", conversationID,
			"error", genErr,
		)
	} else {
		assistantMsg.Role = domain.RoleAssistant
		assistantMsg.Content = reply.Text
	}

	if err := h.repo.AppendMessage(r.Context(), assistantMsg); err != nil {
		slog.Error("failed to append assistant message", "conversation_id", conversationID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to store reply")
		return
	}
	if err := h.repo.TouchConversation(r.Context(), conversationID); err != nil {
		slog.Warn("failed to touch conversation", "conversation_id", conversationID, "error", err)
	}

	meta := map[string]any{}
	if genErr != nil {
		meta["error_class"] = classOf(genErr)
	}
	h.log.Log(transcript.Event{
		UserID:         userID,
		ConversationID: conversationID,
		Role:           string(assistantMsg.Role),
		Content:        assistantMsg.Content,
		Meta:           meta,
	})

	JSON(w, http.StatusOK, postMessageResponse{UserMessage: userMsg, AssistantMessage: assistantMsg})
}

// HandleGetMessages handles GET /api/conversations/{id}/messages.
func (h *Handler) HandleGetMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conversationID := chi.URLParam(r, "conversationID")
	conv, err := h.repo.GetConversation(r.Context(), conversationID)
	if err != nil {
		slog.Error("failed to load conversation", "conversation_id", conversationID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil || conv.UserID != userID {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	messages, err := h.repo.GetMessages(r.Context(), conversationID, limit)
	if err != nil {
		slog.Error("failed to load messages", "conversation_id", conversationID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if messages == nil {
		messages = []*domain.Message{}
	}

	JSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func classOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrNoAuthToken):
		return "auth_failure"
	case errors.Is(err, domain.ErrUpstreamServer):
		return "upstream_error"
	default:
		return "network_failure"
	}
}
