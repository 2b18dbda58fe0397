package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresStore(db), mock
}

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

var userCols = []string{"id", "username", "password", "credits", "referral_code", "referred_by", "created_at"}

func TestAdjustCreditsReturnsNewBalance(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(q("UPDATE users SET credits = credits + $1")).
		WithArgs(-1, "u1").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(19))

	balance, err := s.AdjustCredits(context.Background(), "u1", -1)
	require.NoError(t, err)
	assert.Equal(t, 19, balance)
}

func TestAdjustCreditsRefusesNegativeBalance(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(q("WHERE id = $2 AND credits + $1 >= 0")).
		WithArgs(-1, "u1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(q("SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := s.AdjustCredits(context.Background(), "u1", -1)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestAdjustCreditsUnknownUser(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(q("UPDATE users SET credits")).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(q("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := s.AdjustCredits(context.Background(), "ghost", -1)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestEarnCreditsPropagatesToReferrer(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("RETURNING credits, username, referred_by")).
		WithArgs(3, "bob").
		WillReturnRows(sqlmock.NewRows([]string{"credits", "username", "referred_by"}).AddRow(24, "bob-name", "alice"))
	mock.ExpectQuery(q("UPDATE users SET credits = credits + $1")).
		WithArgs(3, "alice").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(24))
	mock.ExpectExec(q("INSERT INTO notifications")).
		WithArgs(sqlmock.AnyArg(), "alice", "You received 3 credit(s) because bob-name earned credits!").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := s.EarnCredits(context.Background(), EarnParams{UserID: "bob", Amount: 3})
	require.NoError(t, err)
	assert.Equal(t, 24, outcome.Balance)
	require.NotNil(t, outcome.ReferrerID)
	assert.Equal(t, "alice", *outcome.ReferrerID)
	assert.Equal(t, 24, outcome.ReferrerBalance)
}

func TestEarnCreditsWithoutReferrerTouchesOnlyEarner(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("RETURNING credits, username, referred_by")).
		WithArgs(1, "solo").
		WillReturnRows(sqlmock.NewRows([]string{"credits", "username", "referred_by"}).AddRow(21, "solo", nil))
	mock.ExpectCommit()

	outcome, err := s.EarnCredits(context.Background(), EarnParams{UserID: "solo", Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, 21, outcome.Balance)
	assert.Nil(t, outcome.ReferrerID)
}

func TestEarnCreditsRollsBackWhenNotificationFails(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("RETURNING credits, username, referred_by")).
		WillReturnRows(sqlmock.NewRows([]string{"credits", "username", "referred_by"}).AddRow(21, "bob", "alice"))
	mock.ExpectQuery(q("UPDATE users SET credits")).
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(22))
	mock.ExpectExec(q("INSERT INTO notifications")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.EarnCredits(context.Background(), EarnParams{UserID: "bob", Amount: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert notification")
}

func TestCreateUserMapsDuplicateUsername(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO users")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})
	mock.ExpectRollback()

	_, err := s.CreateUser(context.Background(), NewUser{User: User{ID: "u1", Username: "amina"}})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestCreateUserCreditsReferrerInSameTransaction(t *testing.T) {
	s, mock := newStoreWithMock(t)
	referrer := "alice"
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO users")).
		WithArgs("u2", "bob", "hash.salt", 20, "code2", &referrer).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u2", "bob", "hash.salt", 20, "code2", "alice", now))
	mock.ExpectExec(q("INSERT INTO notifications")).
		WithArgs(sqlmock.AnyArg(), "u2", "welcome").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE users SET credits = credits + $1 WHERE id = $2")).
		WithArgs(1, "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO notifications")).
		WithArgs(sqlmock.AnyArg(), "alice", "bob joined").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user, err := s.CreateUser(context.Background(), NewUser{
		User:            User{ID: "u2", Username: "bob", Password: "hash.salt", Credits: 20, ReferralCode: "code2", ReferredBy: &referrer},
		WelcomeMessage:  "welcome",
		ReferrerBonus:   1,
		ReferrerMessage: "bob joined",
	})
	require.NoError(t, err)
	require.NotNil(t, user.ReferredBy)
	assert.Equal(t, "alice", *user.ReferredBy)
}

func TestDeleteFolderRejectsNonEmpty(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT id FROM folders WHERE id = $1 AND user_id = $2 FOR UPDATE")).
		WithArgs("f1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("f1"))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM files WHERE folder_id = $1")).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	err := s.DeleteFolder(context.Background(), "u1", "f1")
	assert.ErrorIs(t, err, ErrFolderNotEmpty)
}

func TestDeleteFolderOfOtherUserIsNotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).WithArgs("f1", "intruder").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.DeleteFolder(context.Background(), "intruder", "f1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSearchItemsUsesEscapedSubstringMatch(t *testing.T) {
	s, mock := newStoreWithMock(t)
	now := time.Now()

	mock.ExpectQuery(q("FROM files WHERE user_id = $1 AND (name ILIKE $2 OR content ILIKE $3)")).
		WithArgs("u1", `%100\%%`, `%100\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "content", "folder_id", "is_favorite", "share_id", "created_at", "updated_at"}).
			AddRow("file1", "u1", "Budget", "100% halal", nil, false, nil, now, now))
	mock.ExpectQuery(q("FROM folders WHERE user_id = $1 AND name ILIKE $2")).
		WithArgs("u1", `%100\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "parent_id", "created_at"}))

	files, folders, err := s.SearchItems(context.Background(), "u1", " 100% ")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "Budget", files[0].Name)
	assert.Nil(t, files[0].FolderID)
	assert.Empty(t, folders)
}

func TestSearchItemsEmptyQueryReturnsEverything(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`FROM files WHERE user_id = \$1 ORDER BY`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "content", "folder_id", "is_favorite", "share_id", "created_at", "updated_at"}))
	mock.ExpectQuery(`FROM folders WHERE user_id = \$1 ORDER BY`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "parent_id", "created_at"}).
			AddRow("d1", "u1", "Drafts", nil, time.Now()))

	files, folders, err := s.SearchItems(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.Empty(t, files)
	require.Len(t, folders, 1)
	assert.Equal(t, "Drafts", folders[0].Name)
}

func TestUpdateFileOnlySetsProvidedFields(t *testing.T) {
	s, mock := newStoreWithMock(t)
	now := time.Now()
	content := "new body"

	mock.ExpectQuery(`UPDATE files SET content = \$1, updated_at = \$2 WHERE id = \$3 AND user_id = \$4 RETURNING`).
		WithArgs("new body", sqlmock.AnyArg(), "file1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "content", "folder_id", "is_favorite", "share_id", "created_at", "updated_at"}).
			AddRow("file1", "u1", "Notes", "new body", nil, false, nil, now, now))

	file, err := s.UpdateFile(context.Background(), "u1", "file1", FileUpdate{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "new body", file.Content)
}

func TestShareFileKeepsExistingToken(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(q("SET share_id = COALESCE(share_id, $1)")).
		WithArgs("fresh", "file1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"share_id"}).AddRow("existing"))

	token, err := s.ShareFile(context.Background(), "u1", "file1", "fresh")
	require.NoError(t, err)
	assert.Equal(t, "existing", token)
}

func TestListChatsFavoritesNewestFirst(t *testing.T) {
	s, mock := newStoreWithMock(t)
	now := time.Now()

	mock.ExpectQuery(q("FROM chat_history WHERE user_id = $1 AND is_favorite = $2 ORDER BY created_at DESC, id DESC")).
		WithArgs("u1", true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "prompt", "response", "is_favorite", "created_at"}).
			AddRow("c2", "u1", "p2", "r2", true, now).
			AddRow("c1", "u1", "p1", "r1", true, now.Add(-time.Hour)))

	items, err := s.ListChats(context.Background(), "u1", true)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "c2", items[0].ID)
}

func TestDeleteFileMissingIsNotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(q("DELETE FROM files WHERE id = $1 AND user_id = $2")).
		WithArgs("file1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteFile(context.Background(), "u1", "file1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
