package usecase

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jjeonyo/vision/internal/domain"
	"github.com/jjeonyo/vision/internal/integrations/inference"
)

// recordedAppend captures one store append for ordering assertions.
type recordedAppend struct {
	roomID string
	turn   domain.ChatTurn
}

type mockStore struct {
	appends      []recordedAppend
	appendErr    error
	touchedRooms []string
	touchErr     error

	// askDispatched mirrors the mockClient's call state so tests can assert
	// the user append committed before the inference call was dispatched.
	askDispatchedAtAppend []bool
	client                *mockClient
}

func (m *mockStore) Append(_ context.Context, roomID string, turn domain.ChatTurn) error {
	m.appends = append(m.appends, recordedAppend{roomID: roomID, turn: turn})
	if m.client != nil {
		m.askDispatchedAtAppend = append(m.askDispatchedAtAppend, m.client.askCalls > 0)
	}
	return m.appendErr
}

func (m *mockStore) TouchRoom(_ context.Context, roomID string) error {
	m.touchedRooms = append(m.touchedRooms, roomID)
	return m.touchErr
}

type mockClient struct {
	result   inference.Result
	err      error
	askCalls int
	userID   string
	message  string
}

func (m *mockClient) Ask(_ context.Context, userID, message string) (inference.Result, error) {
	m.askCalls++
	m.userID = userID
	m.message = message
	return m.result, m.err
}

func newTestService(t *testing.T, store *mockStore, client *mockClient) *ChatService {
	t.Helper()
	store.client = client
	svc, err := NewChatService(store, client, slog.Default())
	require.NoError(t, err)
	return svc
}

func expectChatError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var chatErr *Error
	require.ErrorAs(t, err, &chatErr)
	require.Equal(t, code, chatErr.Code)
	require.Equal(t, reason, chatErr.Reason)
}

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	_, err := NewChatService(nil, &mockClient{}, nil)
	require.Error(t, err)

	_, err = NewChatService(&mockStore{}, nil, nil)
	require.Error(t, err)

	svc, err := NewChatService(&mockStore{}, &mockClient{}, nil)
	require.NoError(t, err)
	require.NotNil(t, svc)
}

func TestHandle_HappyPath(t *testing.T) {
	store := &mockStore{}
	client := &mockClient{result: inference.Result{Answer: "hi there", Sources: []string{}}}
	svc := newTestService(t, store, client)

	out, err := svc.Handle(context.Background(), domain.ChatRequest{UserID: "u1", Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "hi there", out.Answer)
	require.Equal(t, []string{}, out.Sources)

	require.Equal(t, "u1", client.userID)
	require.Equal(t, "hello", client.message)

	require.Len(t, store.appends, 2)
	require.Equal(t, "room_u1", store.appends[0].roomID)
	require.Equal(t, domain.SenderUser, store.appends[0].turn.Sender)
	require.Equal(t, "hello", store.appends[0].turn.Text)
	require.Equal(t, "room_u1", store.appends[1].roomID)
	require.Equal(t, domain.SenderAI, store.appends[1].turn.Sender)
	require.Equal(t, "hi there", store.appends[1].turn.Text)

	require.Equal(t, []string{"room_u1"}, store.touchedRooms)
}

func TestHandle_UserAppendCommitsBeforeDispatch(t *testing.T) {
	store := &mockStore{}
	client := &mockClient{result: inference.Result{Answer: "ok"}}
	svc := newTestService(t, store, client)

	_, err := svc.Handle(context.Background(), domain.ChatRequest{UserID: "u1", Message: "hello"})
	require.NoError(t, err)
	require.Len(t, store.askDispatchedAtAppend, 2)
	require.False(t, store.askDispatchedAtAppend[0], "user turn must be appended before the inference call")
	require.True(t, store.askDispatchedAtAppend[1], "ai turn must be appended after the inference call")
}

func TestHandle_ValidationErrors_NoSideEffects(t *testing.T) {
	cases := []struct {
		name   string
		req    domain.ChatRequest
		reason string
	}{
		{name: "empty user id", req: domain.ChatRequest{Message: "hello"}, reason: "empty_user_id"},
		{name: "blank user id", req: domain.ChatRequest{UserID: "   ", Message: "hello"}, reason: "empty_user_id"},
		{name: "empty message", req: domain.ChatRequest{UserID: "u1"}, reason: "empty_message"},
		{name: "blank message", req: domain.ChatRequest{UserID: "u1", Message: " \t"}, reason: "empty_message"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &mockStore{}
			client := &mockClient{}
			svc := newTestService(t, store, client)

			_, err := svc.Handle(context.Background(), tc.req)
			expectChatError(t, err, ErrorInvalidInput, tc.reason)
			require.Empty(t, store.appends)
			require.Empty(t, store.touchedRooms)
			require.Zero(t, client.askCalls)
		})
	}
}

func TestHandle_AppendFailureIsNotFatal(t *testing.T) {
	store := &mockStore{appendErr: errors.New("dynamodb unreachable")}
	client := &mockClient{result: inference.Result{Answer: "still answered", Sources: []string{"manual p.3"}}}
	svc := newTestService(t, store, client)

	out, err := svc.Handle(context.Background(), domain.ChatRequest{UserID: "u1", Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "still answered", out.Answer)
	require.Equal(t, []string{"manual p.3"}, out.Sources)
	require.Equal(t, 1, client.askCalls)
	// Both appends were attempted even though both failed.
	require.Len(t, store.appends, 2)
}

func TestHandle_TouchRoomFailureIsNotFatal(t *testing.T) {
	store := &mockStore{touchErr: errors.New("meta write failed")}
	client := &mockClient{result: inference.Result{Answer: "ok"}}
	svc := newTestService(t, store, client)

	out, err := svc.Handle(context.Background(), domain.ChatRequest{UserID: "u1", Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "ok", out.Answer)
}

func TestHandle_InferenceFailure_NoAITurn(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   ErrorCode
		reason string
	}{
		{
			name:   "timeout",
			err:    &inference.Error{Kind: inference.KindTimeout, Err: errors.New("deadline exceeded")},
			code:   ErrorUpstreamTimeout,
			reason: "inference_timeout",
		},
		{
			name:   "unreachable",
			err:    &inference.Error{Kind: inference.KindUnreachable, Err: errors.New("connection refused")},
			code:   ErrorUpstream,
			reason: "inference_unreachable",
		},
		{
			name:   "bad response",
			err:    &inference.Error{Kind: inference.KindBadResponse, StatusCode: 500, Err: errors.New("status 500")},
			code:   ErrorUpstream,
			reason: "inference_bad_response",
		},
		{
			name:   "unexpected",
			err:    errors.New("boom"),
			code:   ErrorInternal,
			reason: "inference_error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &mockStore{}
			client := &mockClient{err: tc.err}
			svc := newTestService(t, store, client)

			_, err := svc.Handle(context.Background(), domain.ChatRequest{UserID: "u1", Message: "hello"})
			expectChatError(t, err, tc.code, tc.reason)

			// Only the user turn was persisted; the orphan is kept, not retracted.
			require.Len(t, store.appends, 1)
			require.Equal(t, domain.SenderUser, store.appends[0].turn.Sender)
			require.Empty(t, store.touchedRooms)
		})
	}
}

func TestHandle_NilSourcesNormalized(t *testing.T) {
	store := &mockStore{}
	client := &mockClient{result: inference.Result{Answer: "ok", Sources: nil}}
	svc := newTestService(t, store, client)

	out, err := svc.Handle(context.Background(), domain.ChatRequest{UserID: "u1", Message: "hello"})
	require.NoError(t, err)
	require.NotNil(t, out.Sources)
	require.Empty(t, out.Sources)
}

func TestHandle_EmptyAnswerIsSurfacedVerbatim(t *testing.T) {
	store := &mockStore{}
	client := &mockClient{result: inference.Result{Answer: "", Sources: []string{}}}
	svc := newTestService(t, store, client)

	out, err := svc.Handle(context.Background(), domain.ChatRequest{UserID: "u1", Message: "hello"})
	require.NoError(t, err)
	require.Empty(t, out.Answer)
	require.Len(t, store.appends, 2)
	require.Equal(t, domain.SenderAI, store.appends[1].turn.Sender)
	require.Empty(t, store.appends[1].turn.Text)
}

func TestRoomID_Deterministic(t *testing.T) {
	require.Equal(t, domain.RoomID("abc"), domain.RoomID("abc"))
	require.NotEqual(t, domain.RoomID("abc"), domain.RoomID("abcd"))
	require.Equal(t, "room_u1", domain.RoomID("u1"))
}
