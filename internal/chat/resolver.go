package chat

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"mpchat/internal/apperr"
	"mpchat/internal/db"
	"mpchat/internal/logging"
	"mpchat/internal/user"
)

// UserLookup is the slice of the user store the chat core reads from.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
}

// Resolver finds or lazily creates the single direct conversation between
// two users.
type Resolver struct {
	conn  *sql.DB
	repo  *Repository
	users UserLookup
	log   logging.Logger
}

func NewResolver(conn *sql.DB, users UserLookup, log logging.Logger) *Resolver {
	return &Resolver{conn: conn, repo: NewRepository(conn), users: users, log: log}
}

// FindOrCreateDirect returns the conversation between a and b, creating it
// together with both participant rows in one transaction when missing. The
// result carries b as the other user and the full history, oldest first.
func (r *Resolver) FindOrCreateDirect(ctx context.Context, a, b string) (*DirectChat, error) {
	if a == "" || b == "" {
		return nil, apperr.Validation("User IDs required")
	}
	if a == b {
		return nil, apperr.Validation("Cannot start a chat with yourself")
	}

	if _, err := r.getUser(ctx, a); err != nil {
		return nil, err
	}
	other, err := r.getUser(ctx, b)
	if err != nil {
		return nil, err
	}

	conv, created, err := r.findOrCreate(ctx, a, b)
	if err != nil {
		return nil, err
	}

	msgs, err := r.repo.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, apperr.Persistence("Failed to load chat history", err)
	}

	return &DirectChat{Conversation: conv, OtherUser: other, Messages: msgs, Created: created}, nil
}

func (r *Resolver) getUser(ctx context.Context, id string) (*user.User, error) {
	u, err := r.users.GetByID(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, apperr.Persistence("Failed to load user", err)
	}
	return u, nil
}

func (r *Resolver) findOrCreate(ctx context.Context, a, b string) (*Conversation, bool, error) {
	conv, err := r.repo.FindDirectBetween(ctx, a, b)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, apperr.Persistence("Failed to look up chat", err)
	}

	now := db.Now()
	key := directKey(a, b)
	conv = &Conversation{
		ID:            uuid.NewString(),
		DirectKey:     &key,
		CreatedAt:     now,
		LastMessageAt: now,
	}

	err = db.WithTx(ctx, r.conn, func(ctx context.Context, tx db.DBTX) error {
		repo := NewRepository(tx)
		if err := repo.CreateConversation(ctx, conv); err != nil {
			return err
		}
		for _, uid := range []string{a, b} {
			p := &Participant{ID: uuid.NewString(), ConversationID: conv.ID, UserID: uid, JoinedAt: now}
			if err := repo.AddParticipant(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})

	if errors.Is(err, ErrDirectExists) {
		// a concurrent resolve for the same pair committed first
		conv, err = r.repo.FindDirectBetween(ctx, a, b)
		if err != nil {
			return nil, false, apperr.Persistence("Failed to look up chat", err)
		}
		return conv, false, nil
	}
	if err != nil {
		return nil, false, apperr.Persistence("Failed to create chat", err)
	}

	r.log.Info(ctx, "direct chat created", "conversation_id", conv.ID, "user_a", a, "user_b", b)
	return conv, true, nil
}
