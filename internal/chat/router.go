package chat

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mpchat/internal/apperr"
	"mpchat/internal/db"
	"mpchat/internal/logging"
	"mpchat/internal/presence"
)

type SendRequest struct {
	ConversationID string      `json:"conversation_id" validate:"required"`
	SenderID       string      `json:"sender_id" validate:"required"`
	Content        string      `json:"content" validate:"required"`
	Type           MessageType `json:"type" validate:"omitempty,oneof=text image video audio"`
	FilePath       *string     `json:"file_path" validate:"omitempty,max=500"`
	ReplyToID      *string     `json:"reply_to_id"`
}

type Notification struct {
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// SendResult reports the stored message and how many connections it reached.
type SendResult struct {
	Message  *Message
	Members  int
	Notified int
}

const lockStripes = 64

// Router persists messages and fans them out. Connections subscribed to the
// conversation get the full message; participants who are online elsewhere
// get a notification instead.
type Router struct {
	conn     *sql.DB
	repo     *Repository
	registry *presence.Registry
	rooms    *presence.Rooms
	log      logging.Logger
	now      func() time.Time

	// serializes stamping within a conversation so timestamps stay ordered
	locks [lockStripes]sync.Mutex
}

func NewRouter(conn *sql.DB, registry *presence.Registry, rooms *presence.Rooms, log logging.Logger) *Router {
	return &Router{
		conn:     conn,
		repo:     NewRepository(conn),
		registry: registry,
		rooms:    rooms,
		log:      log,
		now:      db.Now,
	}
}

func (r *Router) lockFor(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return &r.locks[h.Sum32()%lockStripes]
}

func (r *Router) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		req.Content = ""
	}
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = TypeText
	}

	msg, err := r.store(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &SendResult{Message: msg}
	res.Members, res.Notified = r.fanOut(ctx, msg)
	return res, nil
}

// store writes the message and bumps the conversation in one transaction.
func (r *Router) store(ctx context.Context, req SendRequest) (*Message, error) {
	mu := r.lockFor(req.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		Type:           req.Type,
		FilePath:       req.FilePath,
		ReplyToID:      req.ReplyToID,
	}

	err := db.WithTx(ctx, r.conn, func(ctx context.Context, tx db.DBTX) error {
		repo := NewRepository(tx)

		conv, err := repo.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return err
		}
		member, err := repo.IsParticipant(ctx, conv.ID, req.SenderID)
		if err != nil {
			return err
		}
		if !member {
			return apperr.Unauthorized("Not a participant of this chat")
		}

		if req.ReplyToID != nil && *req.ReplyToID != "" {
			target, err := repo.GetMessage(ctx, *req.ReplyToID)
			if errors.Is(err, apperr.ErrNotFound) || (err == nil && target.ConversationID != conv.ID) {
				return apperr.Validation("Reply target is not in this chat")
			}
			if err != nil {
				return err
			}
		} else {
			msg.ReplyToID = nil
		}

		msg.CreatedAt = r.stamp(conv.LastMessageAt)
		if err := repo.CreateMessage(ctx, msg); err != nil {
			return err
		}
		return repo.TouchConversation(ctx, conv.ID, msg.CreatedAt)
	})

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return nil, err
	}
	if err != nil {
		r.log.Error(ctx, "message not stored", "conversation_id", req.ConversationID, "err", err)
		return nil, apperr.Persistence("Failed to send message", err)
	}
	return msg, nil
}

// stamp returns now, pushed past last so timestamps within a conversation
// are strictly increasing.
func (r *Router) stamp(last time.Time) time.Time {
	now := r.now()
	if !now.After(last) {
		now = last.Add(time.Microsecond)
	}
	return now
}

func (r *Router) fanOut(ctx context.Context, msg *Message) (int, int) {
	members := 0
	for _, c := range r.rooms.Members(msg.ConversationID) {
		if c.Emit(EventNewMessage, msg) {
			members++
		}
	}

	participants, err := r.repo.ListParticipants(ctx, msg.ConversationID)
	if err != nil {
		// the message is stored; subscribed clients already have it
		r.log.Warn(ctx, "notification lookup failed", "conversation_id", msg.ConversationID, "err", err)
		return members, 0
	}

	note := Notification{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Timestamp:      msg.CreatedAt,
	}
	notified := 0
	for _, p := range participants {
		if p.UserID == msg.SenderID {
			continue
		}
		c, ok := r.registry.Lookup(p.UserID)
		if !ok || r.rooms.Contains(msg.ConversationID, c.ID()) {
			continue
		}
		if c.Emit(EventMessageNotification, note) {
			notified++
		}
	}
	return members, notified
}
