package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"mpchat/internal/apperr"
	"mpchat/internal/db"
)

var ErrDirectExists = errors.New("direct conversation already exists")

// Repository covers conversations, their participants and their messages.
type Repository struct {
	db db.DBTX
}

func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

const conversationColumns = `c.id, c.is_group, c.group_name, c.direct_key, c.created_at, c.last_message_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner, extra ...any) (*Conversation, error) {
	var (
		c         Conversation
		groupName sql.NullString
		directKey sql.NullString
	)
	dest := append([]any{&c.ID, &c.IsGroup, &groupName, &directKey, &c.CreatedAt, &c.LastMessageAt}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	if groupName.Valid {
		c.GroupName = &groupName.String
	}
	if directKey.Valid {
		c.DirectKey = &directKey.String
	}
	return &c, nil
}

func (r *Repository) CreateConversation(ctx context.Context, c *Conversation) error {
	query := `INSERT INTO chats (id, is_group, group_name, direct_key, created_at, last_message_at) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query, c.ID, c.IsGroup, c.GroupName, c.DirectKey, c.CreatedAt, c.LastMessageAt)
	if db.IsUniqueViolation(err) {
		return ErrDirectExists
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *Repository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM chats c WHERE c.id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Chat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// FindDirectBetween returns the non-group conversation whose participants are
// exactly a and b.
func (r *Repository) FindDirectBetween(ctx context.Context, a, b string) (*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM chats c
		WHERE c.is_group = $1
		  AND (SELECT COUNT(*) FROM chat_participants p WHERE p.chat_id = c.id) = 2
		  AND EXISTS (SELECT 1 FROM chat_participants p WHERE p.chat_id = c.id AND p.user_id = $2)
		  AND EXISTS (SELECT 1 FROM chat_participants p WHERE p.chat_id = c.id AND p.user_id = $3)
		ORDER BY c.created_at
		LIMIT 1`

	c, err := scanConversation(r.db.QueryRowContext(ctx, query, false, a, b))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Chat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// TouchConversation moves last_message_at forward.
func (r *Repository) TouchConversation(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET last_message_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("Chat not found")
	}
	return nil
}

// ListConversations returns every conversation with its participants and
// message count, most recently active first.
func (r *Repository) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	query := `
		SELECT ` + conversationColumns + `,
		       (SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id)
		FROM chats c
		ORDER BY c.last_message_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := []ConversationSummary{}
	for rows.Next() {
		var count int
		c, err := scanConversation(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, ConversationSummary{Conversation: *c, MessageCount: count, Participants: []string{}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	all, err := r.listParticipants(ctx, `SELECT id, chat_id, user_id, joined_at, is_admin FROM chat_participants ORDER BY joined_at`)
	if err != nil {
		return nil, err
	}
	byChat := lo.GroupBy(all, func(p Participant) string { return p.ConversationID })
	for i := range out {
		if ps, ok := byChat[out[i].ID]; ok {
			out[i].Participants = lo.Map(ps, func(p Participant, _ int) string { return p.UserID })
		}
	}
	return out, nil
}

// DeleteConversation removes a conversation with its messages and
// participants. Run it on a transaction-bound repository.
func (r *Repository) DeleteConversation(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_participants WHERE chat_id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("Chat not found")
	}
	return nil
}

func (r *Repository) AddParticipant(ctx context.Context, p *Participant) error {
	query := `INSERT INTO chat_participants (id, chat_id, user_id, joined_at, is_admin) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, p.ID, p.ConversationID, p.UserID, p.JoinedAt, p.IsAdmin); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *Repository) ListParticipants(ctx context.Context, conversationID string) ([]Participant, error) {
	return r.listParticipants(ctx,
		`SELECT id, chat_id, user_id, joined_at, is_admin FROM chat_participants WHERE chat_id = $1 ORDER BY joined_at`,
		conversationID)
}

func (r *Repository) listParticipants(ctx context.Context, query string, args ...any) ([]Participant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.ConversationID, &p.UserID, &p.JoinedAt, &p.IsAdmin); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *Repository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_participants WHERE chat_id = $1 AND user_id = $2`,
		conversationID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

// DeleteParticipantsByUser drops every membership of userID.
func (r *Repository) DeleteParticipantsByUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_participants WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const messageColumns = `id, chat_id, sender_id, content, message_type, file_path, reply_to_id, is_read, created_at`

func scanMessage(s scanner) (*Message, error) {
	var (
		m         Message
		filePath  sql.NullString
		replyToID sql.NullString
	)
	if err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &filePath, &replyToID, &m.IsRead, &m.CreatedAt); err != nil {
		return nil, err
	}
	if filePath.Valid {
		m.FilePath = &filePath.String
	}
	if replyToID.Valid {
		m.ReplyToID = &replyToID.String
	}
	return &m, nil
}

func (r *Repository) CreateMessage(ctx context.Context, m *Message) error {
	query := `INSERT INTO messages (` + messageColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.ConversationID, m.SenderID, m.Content, string(m.Type), m.FilePath, m.ReplyToID, m.IsRead, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *Repository) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

// ListMessages returns a conversation's history, oldest first.
func (r *Repository) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = $1 ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// DeleteMessagesBySender removes everything userID sent, first detaching any
// replies that point at those messages.
func (r *Repository) DeleteMessagesBySender(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET reply_to_id = NULL WHERE reply_to_id IN (SELECT id FROM messages WHERE sender_id = $1)`, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE sender_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
