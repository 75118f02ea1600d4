package chat

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpchat/internal/apperr"
)

func newRepoWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewRepository(conn), mock
}

var (
	chatCols    = []string{"id", "is_group", "group_name", "direct_key", "created_at", "last_message_at"}
	messageCols = []string{"id", "chat_id", "sender_id", "content", "message_type", "file_path", "reply_to_id", "is_read", "created_at"}
)

func TestRepository_CreateConversation_DuplicatePair(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	key := directKey("u1", "u2")

	mock.ExpectExec(`^INSERT\s+INTO\s+chats`).
		WithArgs("c1", false, sqlmock.AnyArg(), sqlmock.AnyArg(), now, now).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.CreateConversation(context.Background(), &Conversation{ID: "c1", DirectKey: &key, CreatedAt: now, LastMessageAt: now})
	assert.ErrorIs(t, err, ErrDirectExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_FindDirectBetween(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)FROM\s+chats\s+c\s+WHERE\s+c\.is_group\s*=\s*\$1.*=\s*2.*user_id\s*=\s*\$2.*user_id\s*=\s*\$3`).
		WithArgs(false, "u1", "u2").
		WillReturnRows(sqlmock.NewRows(chatCols).AddRow("c1", false, nil, "u1:u2", now, now))
	mock.ExpectQuery(`FROM\s+chats\s+c\s+WHERE\s+c\.is_group`).
		WithArgs(false, "u1", "u3").
		WillReturnError(sql.ErrNoRows)

	c, err := repo.FindDirectBetween(context.Background(), "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.Nil(t, c.GroupName)
	require.NotNil(t, c.DirectKey)

	_, err = repo.FindDirectBetween(context.Background(), "u1", "u3")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteConversation(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`^DELETE\s+FROM\s+messages\s+WHERE\s+chat_id`).WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`^DELETE\s+FROM\s+chat_participants\s+WHERE\s+chat_id`).WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`^DELETE\s+FROM\s+chats\s+WHERE\s+id`).WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteConversation(context.Background(), "c1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteConversation_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`DELETE\s+FROM\s+messages`).WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE\s+FROM\s+chat_participants`).WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE\s+FROM\s+chats`).WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.DeleteConversation(context.Background(), "ghost"), apperr.ErrNotFound)
}

func TestRepository_ListMessages(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	mock.ExpectQuery(`FROM\s+messages\s+WHERE\s+chat_id\s*=\s*\$1\s+ORDER\s+BY\s+created_at,\s*id`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("m1", "c1", "u1", "hi", "text", nil, nil, false, t1).
			AddRow("m2", "c1", "u2", "pic", "image", "media/u2/pic", "m1", true, t2))

	msgs, err := repo.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, TypeText, msgs[0].Type)
	assert.Nil(t, msgs[0].ReplyToID)
	assert.Equal(t, TypeImage, msgs[1].Type)
	require.NotNil(t, msgs[1].ReplyToID)
	assert.Equal(t, "m1", *msgs[1].ReplyToID)
	assert.Equal(t, "media/u2/pic", *msgs[1].FilePath)
}

func TestRepository_ListConversations(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)SELECT\s+c\.id.*COUNT\(\*\).*FROM\s+chats\s+c\s+ORDER\s+BY\s+c\.last_message_at\s+DESC`).
		WillReturnRows(sqlmock.NewRows(append(chatCols, "count")).
			AddRow("c1", false, nil, "u1:u2", now, now, 4).
			AddRow("c2", false, nil, "u1:u3", now, now, 0))
	mock.ExpectQuery(`FROM\s+chat_participants\s+ORDER\s+BY\s+joined_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "chat_id", "user_id", "joined_at", "is_admin"}).
			AddRow("p1", "c1", "u1", now, false).
			AddRow("p2", "c1", "u2", now, false))

	out, err := repo.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 4, out[0].MessageCount)
	assert.Equal(t, []string{"u1", "u2"}, out[0].Participants)
	assert.NotNil(t, out[1].Participants)
	assert.Empty(t, out[1].Participants)
}

func TestRepository_IsParticipant_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+chat_participants\s+WHERE\s+chat_id`).WithArgs("c1", "u1").WillReturnError(errors.New("db down"))

	_, err := repo.IsParticipant(context.Background(), "c1", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error")
}
