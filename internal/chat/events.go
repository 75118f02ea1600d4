package chat

import (
	"encoding/json"

	"mpchat/internal/user"
)

// Inbound events.
const (
	EventAuthenticate = "authenticate"
	EventStartChat    = "start_chat"
	EventJoinChat     = "join_chat"
	EventSendMessage  = "send_message"
	EventTypingStart  = "typing_start"
	EventTypingStop   = "typing_stop"
	EventInitiateCall = "initiate_call"
	EventCallResponse = "call_response"
	EventEndCall      = "end_call"
)

// Outbound events.
const (
	EventAuthSuccess         = "authentication_success"
	EventAuthFailed          = "authentication_failed"
	EventChatStarted         = "chat_started"
	EventUserJoined          = "user_joined"
	EventNewMessage          = "new_message"
	EventMessageNotification = "message_notification"
	EventError               = "error"
)

// Envelope is the frame sent over the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type authenticatePayload struct {
	UserID string `json:"user_id" validate:"required"`
}

type startChatPayload struct {
	CurrentUserID string `json:"current_user_id" validate:"required"`
	TargetUserID  string `json:"target_user_id" validate:"required"`
}

type roomPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	UserID         string `json:"user_id" validate:"required"`
}

type UserSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	IsOnline    bool   `json:"is_online"`
}

type AuthSuccess struct {
	Message string      `json:"message"`
	User    UserSummary `json:"user"`
}

type AuthFailed struct {
	Message string `json:"message"`
}

type ChatStarted struct {
	ConversationID string      `json:"conversation_id"`
	OtherUser      UserSummary `json:"other_user"`
	Messages       []Message   `json:"messages"`
}

type UserJoined struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

func summarize(u *user.User, online bool) UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, IsOnline: online}
}
