package entity

import (
	"fmt"
	"strconv"
	"time"
)

// UserID is the transport's opaque identity for a user. Each transport has
// its own prefix, so equal raw ids from different surfaces stay separate users.
type UserID string

func TelegramUser(id int64) UserID {
	return UserID("tg:" + strconv.FormatInt(id, 10))
}

func APIUser(subject string) UserID {
	return UserID("api:" + subject)
}

type Message struct {
	Role    string
	Content string
}

// ConversationState always starts with exactly one system message.
type ConversationState struct {
	Messages []Message
	// GroundedKey is the document key the conversation was last grounded on.
	GroundedKey string
}

func (c ConversationState) Len() int {
	return len(c.Messages)
}

// Clone returns a copy whose message slice can be modified freely.
func (c ConversationState) Clone() ConversationState {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	return ConversationState{Messages: msgs, GroundedKey: c.GroundedKey}
}

type DocumentRecord struct {
	Index         int
	Name          string
	ExtractedText string
	Key           string
	UploadedAt    time.Time
}

type Session struct {
	UserID       UserID
	Conversation *ConversationState
	Documents    []DocumentRecord
	// Active is the index of the selected document, nil when nothing was selected.
	Active    *int
	Backoff   time.Duration
	CreatedAt time.Time
}

func (s *Session) Document(index int) (DocumentRecord, bool) {
	for _, d := range s.Documents {
		if d.Index == index {
			return d, true
		}
	}
	return DocumentRecord{}, false
}

// DocumentKey is the vector backend key of a user's document.
func DocumentKey(user UserID, index int) string {
	return fmt.Sprintf("%s_%d", user, index)
}
