// Package admin implements the moderation operations available to admin
// sessions: listing and deleting users and conversations.
package admin

import (
	"context"
	"database/sql"
	"errors"

	"mpchat/internal/apperr"
	"mpchat/internal/call"
	"mpchat/internal/chat"
	"mpchat/internal/db"
	"mpchat/internal/logging"
	"mpchat/internal/presence"
	"mpchat/internal/session"
	"mpchat/internal/user"
)

const (
	EventAccountDeleted = "account_deleted"
	EventChatDeleted    = "chat_deleted"
)

type AccountDeleted struct {
	Message string `json:"message"`
}

type ChatDeleted struct {
	ChatID string `json:"chat_id"`
}

type Service struct {
	conn        *sql.DB
	users       *user.Repository
	chats       *chat.Repository
	registry    *presence.Registry
	rooms       *presence.Rooms
	broadcaster *presence.Broadcaster
	sessions    session.Store
	log         logging.Logger
}

func NewService(conn *sql.DB, registry *presence.Registry, rooms *presence.Rooms, sessions session.Store, log logging.Logger) *Service {
	return &Service{
		conn:        conn,
		users:       user.NewRepository(conn),
		chats:       chat.NewRepository(conn),
		registry:    registry,
		rooms:       rooms,
		broadcaster: presence.NewBroadcaster(registry, rooms),
		sessions:    sessions,
		log:         log,
	}
}

func (s *Service) ListUsers(ctx context.Context) ([]user.User, error) {
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, apperr.Persistence("Failed to list users", err)
	}
	return users, nil
}

func (s *Service) ListChats(ctx context.Context) ([]chat.ConversationSummary, error) {
	chats, err := s.chats.ListConversations(ctx)
	if err != nil {
		return nil, apperr.Persistence("Failed to list chats", err)
	}
	return chats, nil
}

// DeleteUser removes targetID together with everything that references it:
// sent messages, memberships and calls. A connected user is told, dropped from
// presence and logged out everywhere.
func (s *Service) DeleteUser(ctx context.Context, actorID, targetID string) error {
	if actorID == targetID {
		return apperr.Validation("Cannot delete yourself")
	}

	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return persistenceUnlessKind(err, "Failed to delete user")
	}

	err = db.WithTx(ctx, s.conn, func(ctx context.Context, tx db.DBTX) error {
		chats := chat.NewRepository(tx)
		if err := chats.DeleteMessagesBySender(ctx, targetID); err != nil {
			return err
		}
		if err := chats.DeleteParticipantsByUser(ctx, targetID); err != nil {
			return err
		}
		if err := call.NewRepository(tx).DeleteByUser(ctx, targetID); err != nil {
			return err
		}
		return user.NewRepository(tx).Delete(ctx, targetID)
	})
	if err != nil {
		return persistenceUnlessKind(err, "Failed to delete user")
	}

	if err := s.sessions.RevokeUser(ctx, targetID); err != nil {
		s.log.Warn(ctx, "revoke sessions failed", "user_id", targetID, "err", err)
	}

	if conn, ok := s.registry.Remove(targetID); ok {
		conn.Emit(EventAccountDeleted, AccountDeleted{Message: "Your account has been deleted by admin"})
		s.rooms.Leave(conn)
		s.broadcaster.Announce(targetID, target.Username, false)
	}

	s.log.Info(ctx, "user deleted", "user_id", targetID, "by", actorID)
	return nil
}

// DeleteChat removes a conversation with its history and notifies the
// participants that are online. It returns how many were notified.
func (s *Service) DeleteChat(ctx context.Context, id string) (int, error) {
	if _, err := s.chats.GetConversation(ctx, id); err != nil {
		return 0, persistenceUnlessKind(err, "Failed to delete chat")
	}
	participants, err := s.chats.ListParticipants(ctx, id)
	if err != nil {
		return 0, apperr.Persistence("Failed to delete chat", err)
	}

	err = db.WithTx(ctx, s.conn, func(ctx context.Context, tx db.DBTX) error {
		return chat.NewRepository(tx).DeleteConversation(ctx, id)
	})
	if err != nil {
		return 0, persistenceUnlessKind(err, "Failed to delete chat")
	}

	notified := 0
	for _, p := range participants {
		if conn, ok := s.registry.Lookup(p.UserID); ok && conn.Emit(EventChatDeleted, ChatDeleted{ChatID: id}) {
			notified++
		}
	}
	s.rooms.Drop(id)

	s.log.Info(ctx, "chat deleted", "conversation_id", id, "notified", notified)
	return notified, nil
}

func persistenceUnlessKind(err error, msg string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Persistence(msg, err)
}
