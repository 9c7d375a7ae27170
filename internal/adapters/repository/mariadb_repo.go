// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"crypto/sha1"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
)

// Ensure MariaDBRepository implements the required interfaces
var (
	_ ports.ConversationRepository = (*MariaDBRepository)(nil)
	_ ports.MessageRepository      = (*MariaDBRepository)(nil)
	_ ports.InboxUserRepository    = (*MariaDBRepository)(nil)
)

//go:embed schema.sql
var schemaSQL string

// lockTimeoutSeconds bounds how long get-or-create waits for the advisory lock.
const lockTimeoutSeconds = 5

// MariaDBRepository implements persistence operations for MariaDB
type MariaDBRepository struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewMariaDBRepository creates a new MariaDB repository instance
func NewMariaDBRepository(db *sql.DB, log zerolog.Logger) *MariaDBRepository {
	return &MariaDBRepository{
		db:  db,
		log: log.With().Str("component", "mariadb").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (r *MariaDBRepository) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	r.log.Info().Msg("schema applied")
	return nil
}

// ============================================================================
// ConversationRepository Implementation
// ============================================================================

const conversationColumns = `id, conversation_id, inbox_user_id, shop_id, bot_id, last_chat_date, deleted, created_at`

func scanConversation(row interface{ Scan(...any) error }) (*domain.Conversation, error) {
	var (
		c     domain.Conversation
		botID sql.NullString
	)
	if err := row.Scan(&c.ID, &c.ConversationID, &c.InboxUserID, &c.ShopID, &botID, &c.LastChatDate, &c.Deleted, &c.CreatedAt); err != nil {
		return nil, err
	}
	if botID.Valid {
		c.BotID = &botID.String
	}
	return &c, nil
}

// conversationLockName derives a GET_LOCK name (max 64 chars) for a (user, shop) pair.
func conversationLockName(inboxUserID int64, shopID string) string {
	sum := sha1.Sum([]byte(strconv.FormatInt(inboxUserID, 10) + ":" + shopID))
	return "conv:" + hex.EncodeToString(sum[:])
}

// GetOrCreate returns the most recently active conversation for (user, shop),
// touching its last-activity timestamp, or creates one under conversationID.
// The read-then-write runs under a MariaDB advisory lock so concurrent callers
// for the same pair converge on a single conversation.
func (r *MariaDBRepository) GetOrCreate(ctx context.Context, inboxUserID int64, shopID, conversationID string, botID *string) (*domain.Conversation, error) {
	// GET_LOCK is connection-scoped: pin one connection for the whole sequence.
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	lockName := conversationLockName(inboxUserID, shopID)
	var locked sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, lockName, lockTimeoutSeconds).Scan(&locked); err != nil {
		return nil, fmt.Errorf("get conversation lock: %w", err)
	}
	if !locked.Valid || locked.Int64 != 1 {
		return nil, fmt.Errorf("get conversation lock: timed out after %ds", lockTimeoutSeconds)
	}
	defer func() {
		var released sql.NullInt64
		if err := conn.QueryRowContext(context.WithoutCancel(ctx), `SELECT RELEASE_LOCK(?)`, lockName).Scan(&released); err != nil {
			r.log.Warn().Err(err).Str("lock", lockName).Msg("failed to release conversation lock")
		}
	}()

	now := r.now()
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE inbox_user_id = ? AND shop_id = ? AND deleted = 0
		ORDER BY last_chat_date DESC
		LIMIT 1`
	conv, err := scanConversation(conn.QueryRowContext(ctx, query, inboxUserID, shopID))
	if err == nil {
		if _, err := conn.ExecContext(ctx,
			`UPDATE conversations SET last_chat_date = ? WHERE conversation_id = ? AND deleted = 0`,
			now, conv.ConversationID,
		); err != nil {
			return nil, fmt.Errorf("touch conversation: %w", err)
		}
		conv.LastChatDate = now
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.log.Error().Err(err).Int64("inbox_user_id", inboxUserID).Str("shop_id", shopID).Msg("failed to query conversation")
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	result, err := conn.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, inbox_user_id, shop_id, bot_id, last_chat_date, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		conversationID, inboxUserID, shopID, botID, now, now,
	)
	if err != nil {
		r.log.Error().Err(err).Int64("inbox_user_id", inboxUserID).Str("shop_id", shopID).Msg("failed to create conversation")
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	r.log.Info().
		Str("conversation_id", conversationID).
		Int64("inbox_user_id", inboxUserID).
		Str("shop_id", shopID).
		Msg("new conversation created")

	return &domain.Conversation{
		ID:             id,
		ConversationID: conversationID,
		InboxUserID:    inboxUserID,
		ShopID:         shopID,
		BotID:          botID,
		LastChatDate:   now,
		CreatedAt:      now,
	}, nil
}

// GetByConversationID returns a non-deleted conversation or domain.ErrNotFound.
func (r *MariaDBRepository) GetByConversationID(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE conversation_id = ? AND deleted = 0`
	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return conv, nil
}

// Touch updates the last-activity timestamp of a conversation.
func (r *MariaDBRepository) Touch(ctx context.Context, conversationID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET last_chat_date = ? WHERE conversation_id = ? AND deleted = 0`,
		r.now(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		r.log.Warn().Str("conversation_id", conversationID).Msg("no conversation found to touch")
	}
	return nil
}

// ============================================================================
// MessageRepository Implementation
// ============================================================================

// SaveMessage appends a chat message.
func (r *MariaDBRepository) SaveMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_messages (conversation_id, inbox_user_id, shop_id, bot_id, content, sender, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ConversationID,
		msg.InboxUserID,
		msg.ShopID,
		msg.BotID,
		msg.Content,
		msg.Sender,
		msg.SessionID,
		msg.CreatedAt,
	)
	if err != nil {
		r.log.Error().Err(err).Str("conversation_id", msg.ConversationID).Msg("failed to save message")
		return fmt.Errorf("save message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	msg.ID = id

	r.log.Debug().
		Str("conversation_id", msg.ConversationID).
		Str("sender", msg.Sender).
		Msg("message saved")
	return nil
}

// ListMessages returns a conversation's messages in creation order.
func (r *MariaDBRepository) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, inbox_user_id, shop_id, bot_id, content, sender, session_id, created_at
		FROM chat_messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.ChatMessage
	for rows.Next() {
		var (
			m         domain.ChatMessage
			sessionID sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.InboxUserID, &m.ShopID, &m.BotID, &m.Content, &m.Sender, &sessionID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if sessionID.Valid {
			m.SessionID = &sessionID.String
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ============================================================================
// InboxUserRepository Implementation
// ============================================================================

// Login returns the inbox user for (email, shop), creating it on first sight.
// The unique key on (user_email, shop_id) makes concurrent logins converge.
func (r *MariaDBRepository) Login(ctx context.Context, email, shopID string) (*domain.InboxUser, error) {
	user, err := r.findInboxUser(ctx, email, shopID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query inbox user: %w", err)
	}

	now := r.now()
	name := domain.DefaultUserName(email)
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO inbox_users (shop_id, user_email, user_name, created_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)`,
		shopID, email, name, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create inbox user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	r.log.Info().Int64("inbox_user_id", id).Str("shop_id", shopID).Msg("inbox user created")
	return &domain.InboxUser{
		ID:        id,
		ShopID:    shopID,
		UserEmail: email,
		UserName:  &name,
		CreatedAt: now,
	}, nil
}

func (r *MariaDBRepository) findInboxUser(ctx context.Context, email, shopID string) (*domain.InboxUser, error) {
	var (
		u        domain.InboxUser
		shopName sql.NullString
		userName sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, shop_id, shop_name, user_email, user_name, created_at
		FROM inbox_users
		WHERE user_email = ? AND shop_id = ?`,
		email, shopID,
	).Scan(&u.ID, &u.ShopID, &shopName, &u.UserEmail, &userName, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	if shopName.Valid {
		u.ShopName = &shopName.String
	}
	if userName.Valid {
		u.UserName = &userName.String
	}
	return &u, nil
}
