// internal/backend/postgres.go

package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures
const uniqueViolation = "23505"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		company VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(20) NOT NULL DEFAULT 'buyer',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id VARCHAR(64) PRIMARY KEY,
		subject VARCHAR(255) NOT NULL DEFAULT '',
		context_key TEXT NOT NULL UNIQUE,
		product_id VARCHAR(64),
		product_name VARCHAR(255),
		product_thumbnail TEXT,
		last_message_preview TEXT NOT NULL DEFAULT '',
		last_message_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id VARCHAR(64) NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id VARCHAR(64) NOT NULL,
		role VARCHAR(20) NOT NULL DEFAULT '',
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		company VARCHAR(255) NOT NULL DEFAULT '',
		unread_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (conversation_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(64) PRIMARY KEY,
		conversation_id VARCHAR(64) NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		client_id VARCHAR(64) NOT NULL DEFAULT '',
		sender_id VARCHAR(64) NOT NULL,
		sender_role VARCHAR(20) NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		attachments JSONB NOT NULL DEFAULT '[]',
		reply_to VARCHAR(64),
		message_type VARCHAR(20) NOT NULL DEFAULT 'text',
		status VARCHAR(20) NOT NULL DEFAULT 'sent',
		is_edited BOOLEAN NOT NULL DEFAULT FALSE,
		edited_at TIMESTAMPTZ,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_id
		ON messages(conversation_id, client_id) WHERE client_id <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id)`,
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// Migrate creates the schema if it does not exist
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	log.Printf("Applied %d schema migrations", len(migrations))
	return nil
}

func (r *postgresRepository) UpsertUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, name, company, role, updated_at)
		VALUES (:id, :name, :company, :role, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
			company = COALESCE(NULLIF(EXCLUDED.company, ''), users.company),
			role = EXCLUDED.role,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants
		SET display_name = COALESCE(NULLIF($2, ''), display_name),
			company = COALESCE(NULLIF($3, ''), company)
		WHERE user_id = $1`, user.ID, user.Name, user.Company)
	return err
}

func (r *postgresRepository) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT id, name, company, role, updated_at FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *postgresRepository) CreateConversation(ctx context.Context, conv *ConversationRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO conversations (
			id, subject, context_key, product_id, product_name, product_thumbnail,
			last_message_preview, last_message_at, created_at
		) VALUES (
			:id, :subject, :context_key, :product_id, :product_name, :product_thumbnail,
			:last_message_preview, :last_message_at, :created_at
		)`
	if _, err := tx.NamedExecContext(ctx, query, conv); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return err
	}

	for _, p := range conv.Participants {
		p.ConversationID = conv.ID
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO conversation_participants (
				conversation_id, user_id, role, display_name, company, unread_count
			) VALUES (
				:conversation_id, :user_id, :role, :display_name, :company, :unread_count
			)`, p)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

const conversationColumns = `
	c.id, c.subject, c.context_key, c.product_id, c.product_name, c.product_thumbnail,
	c.last_message_preview, c.last_message_at, c.created_at`

func (r *postgresRepository) GetConversation(ctx context.Context, id string) (*ConversationRecord, error) {
	return r.getConversation(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, id)
}

func (r *postgresRepository) FindConversationByKey(ctx context.Context, key string) (*ConversationRecord, error) {
	return r.getConversation(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.context_key = $1`, key)
}

func (r *postgresRepository) getConversation(ctx context.Context, query string, arg string) (*ConversationRecord, error) {
	var conv ConversationRecord
	err := r.db.GetContext(ctx, &conv, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := r.db.SelectContext(ctx, &conv.Participants, `
		SELECT conversation_id, user_id, role, display_name, company, unread_count
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY user_id`, conv.ID); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *postgresRepository) ListUserConversations(ctx context.Context, userID string) ([]*ConversationRecord, error) {
	var convs []*ConversationRecord
	err := r.db.SelectContext(ctx, &convs, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		ORDER BY c.last_message_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return convs, nil
	}

	ids := make([]string, len(convs))
	byID := make(map[string]*ConversationRecord, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
		byID[c.ID] = c
	}

	query, args, err := sqlx.In(`
		SELECT conversation_id, user_id, role, display_name, company, unread_count
		FROM conversation_participants
		WHERE conversation_id IN (?)
		ORDER BY user_id`, ids)
	if err != nil {
		return nil, err
	}

	var participants []*Participant
	if err := r.db.SelectContext(ctx, &participants, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, p := range participants {
		if c, ok := byID[p.ConversationID]; ok {
			c.Participants = append(c.Participants, p)
		}
	}
	return convs, nil
}

func (r *postgresRepository) IsUserInConversation(ctx context.Context, userID, conversationID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&exists)
	return exists, err
}

func (r *postgresRepository) UpdateConversationLastMessage(ctx context.Context, conversationID, preview string, at time.Time) error {
	query := `
		UPDATE conversations
		SET last_message_at = $1,
			last_message_preview = $2
		WHERE id = $3`

	_, err := r.db.ExecContext(ctx, query, at, preview, conversationID)
	return err
}

func (r *postgresRepository) IncrementUnreadCount(ctx context.Context, conversationID, userID string) error {
	query := `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id = $2`

	_, err := r.db.ExecContext(ctx, query, conversationID, userID)
	return err
}

func (r *postgresRepository) ResetUnreadCount(ctx context.Context, conversationID, userID string) error {
	query := `
		UPDATE conversation_participants
		SET unread_count = 0
		WHERE conversation_id = $1 AND user_id = $2`

	_, err := r.db.ExecContext(ctx, query, conversationID, userID)
	return err
}

func (r *postgresRepository) CreateMessage(ctx context.Context, msg *MessageRecord) error {
	query := `
		INSERT INTO messages (
			id, conversation_id, client_id, sender_id, sender_role, content,
			attachments, reply_to, message_type, status, created_at
		) VALUES (
			:id, :conversation_id, :client_id, :sender_id, :sender_role, :content,
			:attachments, :reply_to, :message_type, :status, :created_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, msg)
	if isUniqueViolation(err) {
		return ErrDuplicateMessage
	}
	return err
}

const messageColumns = `
	id, conversation_id, client_id, sender_id, sender_role, content, attachments,
	reply_to, message_type, status, is_edited, edited_at, deleted_at, created_at`

func (r *postgresRepository) GetMessage(ctx context.Context, id string) (*MessageRecord, error) {
	var m MessageRecord
	err := r.db.GetContext(ctx, &m, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *postgresRepository) FindMessageByClientID(ctx context.Context, conversationID, clientID string) (*MessageRecord, error) {
	var m MessageRecord
	err := r.db.GetContext(ctx, &m, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND client_id = $2`, conversationID, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *postgresRepository) ListMessages(ctx context.Context, conversationID string) ([]*MessageRecord, error) {
	var messages []*MessageRecord
	err := r.db.SelectContext(ctx, &messages, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *postgresRepository) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET content = $1, is_edited = TRUE, edited_at = $2
		WHERE id = $3`, content, editedAt, id)
	if err != nil {
		return err
	}
	return expectRow(res, ErrMessageNotFound)
}

func (r *postgresRepository) SoftDeleteMessage(ctx context.Context, id string, deletedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET deleted_at = COALESCE(deleted_at, $1)
		WHERE id = $2`, deletedAt, id)
	if err != nil {
		return err
	}
	return expectRow(res, ErrMessageNotFound)
}

func (r *postgresRepository) PromoteStatus(ctx context.Context, conversationID, readerID string, status messaging.DeliveryStatus) error {
	var lower []string
	switch status {
	case messaging.StatusRead:
		lower = []string{string(messaging.StatusSent), string(messaging.StatusDelivered)}
	case messaging.StatusDelivered:
		lower = []string{string(messaging.StatusSent)}
	default:
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $1
		WHERE conversation_id = $2 AND sender_id <> $3 AND status = ANY($4)`,
		string(status), conversationID, readerID, pq.Array(lower))
	return err
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
