package chat

import (
	"sort"
	"strings"
	"time"

	"mpchat/internal/user"
)

type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVideo MessageType = "video"
	TypeAudio MessageType = "audio"
)

// Conversation is a chat between participants. Direct (non-group) chats carry
// a DirectKey so at most one can exist per pair of users.
type Conversation struct {
	ID            string    `json:"id"`
	IsGroup       bool      `json:"is_group"`
	GroupName     *string   `json:"group_name"`
	DirectKey     *string   `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

type Participant struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
	IsAdmin        bool      `json:"is_admin"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	FilePath       *string     `json:"file_path"`
	ReplyToID      *string     `json:"reply_to_id"`
	IsRead         bool        `json:"is_read"`
	CreatedAt      time.Time   `json:"timestamp"`
}

// ConversationSummary is the admin view of a conversation.
type ConversationSummary struct {
	Conversation
	Participants []string `json:"participants"`
	MessageCount int      `json:"message_count"`
}

// DirectChat is what a client needs to open a one-to-one conversation.
type DirectChat struct {
	Conversation *Conversation
	OtherUser    *user.User
	Messages     []Message
	Created      bool
}

// directKey is the order-independent identity of a user pair.
func directKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}
