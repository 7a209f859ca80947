// Package handler adapts API Gateway proxy events to the chat use case for
// the Lambda deployment of the relay.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/jjeonyo/vision/internal/domain"
	"github.com/jjeonyo/vision/internal/usecase"
)

// ChatUseCase is the orchestration operation the handler delegates to.
type ChatUseCase interface {
	Handle(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler translates APIGatewayProxyRequest events into chat turns.
type Handler struct {
	chat ChatUseCase
}

// NewHandler creates a Handler backed by the given use case.
func NewHandler(chat ChatUseCase) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	return &Handler{chat: chat}, nil
}

// Handle processes one proxied HTTP request. Errors are always encoded into
// the response body; the returned error stays nil so API Gateway serves the
// mapped status instead of a generic 502.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, "X-Correlation-Id")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	var req domain.ChatRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return respondError(http.StatusBadRequest, usecase.ErrorInvalidInput, correlationID), nil
	}

	out, err := h.chat.Handle(ctx, req)
	if err != nil {
		status, code := mapError(err)
		return respondError(status, code, correlationID), nil
	}

	return respondJSON(http.StatusOK, out, correlationID), nil
}

func mapError(err error) (int, usecase.ErrorCode) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, usecase.ErrorInternal
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, ucErr.Code
	case usecase.ErrorUpstreamTimeout:
		return http.StatusGatewayTimeout, ucErr.Code
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, ucErr.Code
	default:
		return http.StatusInternalServerError, ucErr.Code
	}
}

// headerValue looks up a header case-insensitively; API Gateway does not
// normalize header casing.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(name) {
			return v
		}
	}
	return ""
}

func respondJSON(status int, payload any, correlationID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Error: string(usecase.ErrorInternal)})
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": correlationID,
		},
		Body: string(body),
	}
}

func respondError(status int, code usecase.ErrorCode, correlationID string) events.APIGatewayProxyResponse {
	return respondJSON(status, errorResponse{Error: string(code)}, correlationID)
}
