package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/jjeonyo/vision/internal/domain"
	"github.com/jjeonyo/vision/internal/usecase"
)

const defaultTranscriptLimit = 100

// ChatUseCase is the orchestration operation consumed by the HTTP surface.
type ChatUseCase interface {
	Handle(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
}

// TranscriptReader serves the transcript read-back endpoint.
type TranscriptReader interface {
	GetTranscript(ctx context.Context, roomID string, limit int) ([]domain.ChatTurn, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler exposes the chatbot API over HTTP.
type Handler struct {
	chat            ChatUseCase
	transcripts     TranscriptReader
	logger          *slog.Logger
	transcriptLimit int
}

// NewHandler wires the HTTP handler. A nil logger falls back to slog.Default;
// a non-positive transcriptLimit falls back to defaultTranscriptLimit.
func NewHandler(chat ChatUseCase, transcripts TranscriptReader, logger *slog.Logger, transcriptLimit int) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("httpapi: chat use case must not be nil")
	}
	if transcripts == nil {
		return nil, errors.New("httpapi: transcript reader must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if transcriptLimit <= 0 {
		transcriptLimit = defaultTranscriptLimit
	}
	return &Handler{
		chat:            chat,
		transcripts:     transcripts,
		logger:          logger,
		transcriptLimit: transcriptLimit,
	}, nil
}

// NewRouter builds the service router with the standard middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationID)

	r.Get("/healthz", handleHealth)
	r.Route("/api/chatbot", h.RegisterRoutes)

	return r
}

// RegisterRoutes mounts the chatbot endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ask", h.handleAsk)
	r.Get("/rooms/{userID}/messages", h.handleTranscript)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, string(usecase.ErrorInvalidInput))
		return
	}

	resp, err := h.chat.Handle(r.Context(), req)
	if err != nil {
		h.respondUseCaseError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondError(w, http.StatusBadRequest, string(usecase.ErrorInvalidInput))
		return
	}

	limit := h.transcriptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, string(usecase.ErrorInvalidInput))
			return
		}
		limit = n
	}

	turns, err := h.transcripts.GetTranscript(r.Context(), domain.RoomID(userID), limit)
	if err != nil {
		h.logger.Error("transcript read failed", "user", userID, "err", err)
		respondError(w, http.StatusInternalServerError, string(usecase.ErrorInternal))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"messages": turns})
}

// respondUseCaseError maps orchestration failures to HTTP statuses. Store
// failures never reach here; they are absorbed inside the use case.
func (h *Handler) respondUseCaseError(w http.ResponseWriter, err error) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		h.logger.Error("unexpected handler error", "err", err)
		respondError(w, http.StatusInternalServerError, string(usecase.ErrorInternal))
		return
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorUpstreamTimeout:
		status = http.StatusGatewayTimeout
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("chat turn failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	}
	respondError(w, status, string(ucErr.Code))
}

// correlationID echoes the caller's X-Correlation-Id header, or mints one.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-Id", id)
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code string) {
	respondJSON(w, status, errorResponse{Error: code})
}
