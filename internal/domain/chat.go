package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxChatBodyLen = 2000

var (
	ErrChatBodyEmpty   = errors.New("chat body empty")
	ErrChatBodyTooLong = errors.New("chat body too long")
)

// ChatMessage is immutable once created. The ID is generated locally
// by the sender so receivers can merge duplicates.
type ChatMessage struct {
	ID       string        `json:"id"`
	SenderID ParticipantID `json:"senderId"`
	Body     string        `json:"body"`
	SentAt   time.Time     `json:"sentAt"`
}

func NewChatMessage(sender ParticipantID, body string) (ChatMessage, error) {
	if len(body) == 0 {
		return ChatMessage{}, ErrChatBodyEmpty
	}
	if len(body) > MaxChatBodyLen {
		return ChatMessage{}, ErrChatBodyTooLong
	}
	return ChatMessage{
		ID:       uuid.NewString(),
		SenderID: sender,
		Body:     body,
		SentAt:   time.Now(),
	}, nil
}
