package domain

import "time"

// Sender identifies which side of the conversation produced a turn.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// ChatTurn is one immutable message event in a room's transcript.
// Timestamp is wall-clock epoch milliseconds.
type ChatTurn struct {
	ID        string `json:"id"`
	Sender    Sender `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// ChatRequest is the inbound payload accepted from the app.
type ChatRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// ChatResponse is the outbound payload returned to the app.
type ChatResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// RoomID maps a user to their conversation room. Same user, same room.
func RoomID(userID string) string {
	return "room_" + userID
}

// NowMillis returns the current wall clock as epoch milliseconds, the
// precision persisted with each turn.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
