package user

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
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

var userCols = []string{"id", "username", "display_name", "avatar", "is_online", "last_seen", "is_admin", "created_at"}

func TestRepository_GetByID(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*username,.*FROM\s+users\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "alice", "Alice", DefaultAvatar, true, nil, false, created))

	u, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.True(t, u.IsOnline)
	assert.Nil(t, u.LastSeen)
	assert.Equal(t, created, u.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRepository_GetByUsername_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+username`).WithArgs("alice").WillReturnError(errors.New("db down"))

	_, err := repo.GetByUsername(context.Background(), "alice")
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`db error: .*db down`), err.Error())
	assert.NotErrorIs(t, err, apperr.ErrNotFound)
}

func TestRepository_SetOnline(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	at := time.Now().UTC()

	mock.ExpectExec(`^UPDATE\s+users\s+SET\s+is_online\s*=\s*\$1,\s*last_seen\s*=\s*\$2\s+WHERE\s+id\s*=\s*\$3$`).
		WithArgs(false, at, "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^UPDATE\s+users`).
		WithArgs(true, at, "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SetOnline(context.Background(), "u1", false, at))
	assert.ErrorIs(t, repo.SetOnline(context.Background(), "ghost", true, at), apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListExcluding(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE\s+id\s*<>\s*\$1\s+ORDER\s+BY\s+username`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u2", "bob", "Bob", DefaultAvatar, false, now, false, now).
			AddRow("u3", "carol", "Carol", DefaultAvatar, true, now, true, now))

	users, err := repo.ListExcluding(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[0].Username)
	require.NotNil(t, users[0].LastSeen)
	assert.True(t, users[1].IsAdmin)
}

func TestRepository_ListAll_Empty(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+ORDER\s+BY`).WillReturnRows(sqlmock.NewRows(userCols))

	users, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, users)
	assert.Empty(t, users)
}

func TestRepository_Delete_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`^DELETE\s+FROM\s+users\s+WHERE\s+id\s*=\s*\$1$`).WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), "ghost"), apperr.ErrNotFound)
}
