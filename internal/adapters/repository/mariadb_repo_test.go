package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-assist/internal/core/domain"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newMockRepo(t *testing.T) (*MariaDBRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewMariaDBRepository(db, zerolog.Nop())
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

var conversationCols = []string{"id", "conversation_id", "inbox_user_id", "shop_id", "bot_id", "last_chat_date", "deleted", "created_at"}

func TestGetOrCreate_ReturnsExistingAndTouches(t *testing.T) {
	repo, mock := newMockRepo(t)
	lock := conversationLockName(7, "default")
	earlier := fixedNow.Add(-time.Hour)

	mock.ExpectQuery(`SELECT GET_LOCK\(\?, \?\)`).WithArgs(lock, lockTimeoutSeconds).
		WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(1))
	mock.ExpectQuery(`FROM conversations\s+WHERE inbox_user_id = \? AND shop_id = \? AND deleted = 0\s+ORDER BY last_chat_date DESC`).
		WithArgs(int64(7), "default").
		WillReturnRows(sqlmock.NewRows(conversationCols).AddRow(1, "conv_old", 7, "default", nil, earlier, false, earlier))
	mock.ExpectExec(`UPDATE conversations SET last_chat_date = \?`).WithArgs(fixedNow, "conv_old").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT RELEASE_LOCK\(\?\)`).WithArgs(lock).
		WillReturnRows(sqlmock.NewRows([]string{"released"}).AddRow(1))

	conv, err := repo.GetOrCreate(context.Background(), 7, "default", "conv_new", nil)

	require.NoError(t, err)
	assert.Equal(t, "conv_old", conv.ConversationID)
	assert.Equal(t, fixedNow, conv.LastChatDate)
	assert.Nil(t, conv.BotID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreate_CreatesWhenAbsent(t *testing.T) {
	repo, mock := newMockRepo(t)
	bot := "bot-1"

	mock.ExpectQuery(`SELECT GET_LOCK`).WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(1))
	mock.ExpectQuery(`FROM conversations`).WithArgs(int64(7), "shop").
		WillReturnRows(sqlmock.NewRows(conversationCols))
	mock.ExpectExec(`INSERT INTO conversations`).
		WithArgs("conv_new", int64(7), "shop", "bot-1", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectQuery(`SELECT RELEASE_LOCK`).WillReturnRows(sqlmock.NewRows([]string{"released"}).AddRow(1))

	conv, err := repo.GetOrCreate(context.Background(), 7, "shop", "conv_new", &bot)

	require.NoError(t, err)
	assert.Equal(t, int64(42), conv.ID)
	assert.Equal(t, "conv_new", conv.ConversationID)
	assert.Equal(t, "bot-1", conv.BotOrDefault())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreate_LockTimeout(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT GET_LOCK`).WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(0))

	_, err := repo.GetOrCreate(context.Background(), 7, "shop", "conv_new", nil)

	assert.ErrorContains(t, err, "timed out")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreate_QueryErrorReleasesLock(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT GET_LOCK`).WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(1))
	mock.ExpectQuery(`FROM conversations`).WillReturnError(errors.New("server has gone away"))
	mock.ExpectQuery(`SELECT RELEASE_LOCK`).WillReturnRows(sqlmock.NewRows([]string{"released"}).AddRow(1))

	_, err := repo.GetOrCreate(context.Background(), 7, "shop", "conv_new", nil)

	assert.ErrorContains(t, err, "server has gone away")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByConversationID_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`WHERE conversation_id = \? AND deleted = 0`).WithArgs("conv_x").
		WillReturnRows(sqlmock.NewRows(conversationCols))

	_, err := repo.GetByConversationID(context.Background(), "conv_x")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveMessage_FillsIDAndTimestamp(t *testing.T) {
	repo, mock := newMockRepo(t)
	msg := &domain.ChatMessage{ConversationID: "conv_1", InboxUserID: 3, ShopID: "s", BotID: "default", Content: "hi", Sender: domain.SenderUser}

	mock.ExpectExec(`INSERT INTO chat_messages`).
		WithArgs("conv_1", int64(3), "s", "default", "hi", "user", nil, fixedNow).
		WillReturnResult(sqlmock.NewResult(9, 1))

	require.NoError(t, repo.SaveMessage(context.Background(), msg))
	assert.Equal(t, int64(9), msg.ID)
	assert.Equal(t, fixedNow, msg.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListMessages_OrderedByCreation(t *testing.T) {
	repo, mock := newMockRepo(t)
	cols := []string{"id", "conversation_id", "inbox_user_id", "shop_id", "bot_id", "content", "sender", "session_id", "created_at"}
	mock.ExpectQuery(`ORDER BY created_at ASC, id ASC`).WithArgs("conv_1", 100).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, "conv_1", 3, "s", "default", "hi", "user", "sess", fixedNow).
			AddRow(2, "conv_1", 3, "s", "default", "hello", "assistant", nil, fixedNow.Add(time.Second)))

	msgs, err := repo.ListMessages(context.Background(), "conv_1", 0)

	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Sender)
	assert.Equal(t, "sess", *msgs[0].SessionID)
	assert.Nil(t, msgs[1].SessionID)
}

func TestLogin_ExistingUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`FROM inbox_users\s+WHERE user_email = \? AND shop_id = \?`).WithArgs("a@b.c", "default").
		WillReturnRows(sqlmock.NewRows([]string{"id", "shop_id", "shop_name", "user_email", "user_name", "created_at"}).
			AddRow(5, "default", nil, "a@b.c", "Alice", fixedNow))

	user, err := repo.Login(context.Background(), "a@b.c", "default")

	require.NoError(t, err)
	assert.Equal(t, int64(5), user.ID)
	assert.Equal(t, "Alice", user.DisplayName("Guest"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_CreatesMissingUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`FROM inbox_users`).WithArgs("new@b.c", "default").
		WillReturnRows(sqlmock.NewRows([]string{"id", "shop_id", "shop_name", "user_email", "user_name", "created_at"}))
	mock.ExpectExec(`INSERT INTO inbox_users .* ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID\(id\)`).
		WithArgs("default", "new@b.c", "new", fixedNow).
		WillReturnResult(sqlmock.NewResult(11, 1))

	user, err := repo.Login(context.Background(), "new@b.c", "default")

	require.NoError(t, err)
	assert.Equal(t, int64(11), user.ID)
	assert.Equal(t, "new", user.DisplayName("Guest"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_AppliesEveryStatement(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS inbox_users`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS conversations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS chat_messages`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
