package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jjeonyo/vision/internal/domain"
	"github.com/jjeonyo/vision/internal/integrations/inference"
)

// InferenceClient delegates one user message to the external AI backend.
type InferenceClient interface {
	Ask(ctx context.Context, userID, message string) (inference.Result, error)
}

// TranscriptStore is the append side of the room transcript. Appends are
// durable and ordered per room; the store never retries internally.
type TranscriptStore interface {
	Append(ctx context.Context, roomID string, turn domain.ChatTurn) error
	TouchRoom(ctx context.Context, roomID string) error
}

// ChatService orchestrates one conversation turn: persist the question,
// delegate to inference, persist the answer, return it. Both store writes are
// best-effort: a lost transcript entry degrades the record, not the answer.
type ChatService struct {
	store  TranscriptStore
	client InferenceClient
	logger *slog.Logger
}

// NewChatService wires the orchestrator with its two collaborators. A nil
// logger falls back to slog.Default.
func NewChatService(store TranscriptStore, client InferenceClient, logger *slog.Logger) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: transcript store must not be nil")
	}
	if client == nil {
		return nil, errors.New("usecase: inference client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{store: store, client: client, logger: logger}, nil
}

// Handle processes one inbound chat turn.
//
// The user turn is appended before the inference call and the ai turn after
// it, so a transcript read always shows the question before its answer. The
// pair is not atomic with the inference call: a crash mid-turn can leave a
// question with no recorded answer.
func (s *ChatService) Handle(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	message := strings.TrimSpace(req.Message)
	if userID == "" {
		return domain.ChatResponse{}, newError(ErrorInvalidInput, "empty_user_id", nil)
	}
	if message == "" {
		return domain.ChatResponse{}, newError(ErrorInvalidInput, "empty_message", nil)
	}

	roomID := domain.RoomID(userID)

	s.appendTurn(ctx, roomID, domain.ChatTurn{
		Sender:    domain.SenderUser,
		Text:      message,
		Timestamp: domain.NowMillis(),
	})

	result, err := s.client.Ask(ctx, userID, message)
	if err != nil {
		return domain.ChatResponse{}, mapInferenceError(err)
	}

	s.appendTurn(ctx, roomID, domain.ChatTurn{
		Sender:    domain.SenderAI,
		Text:      result.Answer,
		Timestamp: domain.NowMillis(),
	})
	if err := s.store.TouchRoom(ctx, roomID); err != nil {
		s.logger.Warn("room meta update failed", "room", roomID, "err", err)
	}

	sources := result.Sources
	if sources == nil {
		sources = []string{}
	}
	return domain.ChatResponse{Answer: result.Answer, Sources: sources}, nil
}

// appendTurn writes one turn and absorbs any store failure. This is the only
// layer that sees StoreErrors; they are logged and never surfaced.
func (s *ChatService) appendTurn(ctx context.Context, roomID string, turn domain.ChatTurn) {
	if err := s.store.Append(ctx, roomID, turn); err != nil {
		s.logger.Warn("transcript append failed", "room", roomID, "sender", turn.Sender, "err", err)
	}
}

// mapInferenceError converts a delegation failure to the caller-visible
// usecase error. No answer is ever fabricated on failure.
func mapInferenceError(err error) *Error {
	var infErr *inference.Error
	if errors.As(err, &infErr) {
		switch infErr.Kind {
		case inference.KindTimeout:
			return newError(ErrorUpstreamTimeout, "inference_timeout", err)
		case inference.KindUnreachable:
			return newError(ErrorUpstream, "inference_unreachable", err)
		case inference.KindBadResponse:
			return newError(ErrorUpstream, "inference_bad_response", err)
		}
	}
	return newError(ErrorInternal, "inference_error", err)
}
