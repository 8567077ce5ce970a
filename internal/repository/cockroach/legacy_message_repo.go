package cockroach

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/errors"
)

const legacyColumns = `message_id, conversation_id, sender_id, sender_name, COALESCE(sender_role, ''),
	content, sent_at, COALESCE(reply_to, ''), attachments, COALESCE(priority, ''), COALESCE(status, ''),
	COALESCE(department, ''), is_escalation, COALESCE(message_type, ''), read_by`

// LegacyMessageRepository reads and writes the older message collection.
// Records written by older clients may lack role, priority, status, type
// and even a timestamp.
type LegacyMessageRepository struct {
	pool *pgxpool.Pool
}

// NewLegacyMessageRepository creates a new LegacyMessageRepository
func NewLegacyMessageRepository(pool *pgxpool.Pool) *LegacyMessageRepository {
	return &LegacyMessageRepository{pool: pool}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Save inserts a legacy record; a repeated id overwrites the record
func (r *LegacyMessageRepository) Save(ctx context.Context, msg *domain.LegacyMessage) error {
	attachments, err := json.Marshal(orEmpty(msg.Attachments))
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}
	readBy, err := json.Marshal(orEmpty(msg.ReadBy))
	if err != nil {
		return fmt.Errorf("failed to encode read receipts: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		UPSERT INTO legacy_messages (
			message_id, conversation_id, sender_id, sender_name, sender_role, content, sent_at,
			reply_to, attachments, priority, status, department, is_escalation, message_type, read_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderName, nullable(string(msg.SenderRole)),
		msg.Content, msg.Timestamp, nullable(msg.ReplyTo), attachments,
		nullable(string(msg.Priority)), nullable(string(msg.Status)), nullable(msg.Department),
		msg.IsEscalation, nullable(string(msg.MessageType)), readBy)
	if err != nil {
		return fmt.Errorf("failed to save legacy message: %w", err)
	}
	return nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ListByConversation returns the newest limit records, oldest first
func (r *LegacyMessageRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.LegacyMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT * FROM (
			SELECT `+legacyColumns+`, seq
			FROM legacy_messages
			WHERE conversation_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) ORDER BY seq ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch legacy messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.LegacyMessage
	for rows.Next() {
		var seq int64
		msg, err := scanLegacy(rows, &seq)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch legacy messages: %w", err)
	}
	return messages, nil
}

// GetByID retrieves a legacy record by id
func (r *LegacyMessageRepository) GetByID(ctx context.Context, id string) (*domain.LegacyMessage, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+legacyColumns+` FROM legacy_messages WHERE message_id = $1`, id)
	msg, err := scanLegacy(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFoundError("Message")
		}
		return nil, err
	}
	return msg, nil
}

// AddReadReceipt appends a receipt unless the user already has one.
// The containment check and append run as one statement.
func (r *LegacyMessageRepository) AddReadReceipt(ctx context.Context, id string, receipt domain.ReadReceipt) (bool, error) {
	entry, err := json.Marshal([]domain.ReadReceipt{receipt})
	if err != nil {
		return false, fmt.Errorf("failed to encode read receipt: %w", err)
	}
	probe, _ := json.Marshal([]map[string]string{{"userId": receipt.UserID}})

	tag, err := r.pool.Exec(ctx, `
		UPDATE legacy_messages
		SET read_by = read_by || $2::JSONB
		WHERE message_id = $1 AND NOT (read_by @> $3::JSONB)`,
		id, entry, probe)
	if err != nil {
		return false, fmt.Errorf("failed to add read receipt: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM legacy_messages WHERE message_id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check legacy message: %w", err)
	}
	if !exists {
		return false, errors.NotFoundError("Message")
	}
	return false, nil
}

func scanLegacy(row pgx.Row, extra ...any) (*domain.LegacyMessage, error) {
	var msg domain.LegacyMessage
	var role, priority, status, messageType string
	var sentAt *time.Time
	var attachments, readBy []byte
	dest := []any{
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderName, &role,
		&msg.Content, &sentAt, &msg.ReplyTo, &attachments, &priority, &status,
		&msg.Department, &msg.IsEscalation, &messageType, &readBy,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan legacy message: %w", err)
	}

	msg.SenderRole = domain.Role(role)
	msg.Priority = domain.Priority(priority)
	msg.Status = domain.MessageStatus(status)
	msg.MessageType = domain.MessageType(messageType)
	if sentAt != nil {
		ts := sentAt.UTC()
		msg.Timestamp = &ts
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments: %w", err)
		}
	}
	if len(readBy) > 0 {
		if err := json.Unmarshal(readBy, &msg.ReadBy); err != nil {
			return nil, fmt.Errorf("failed to decode read receipts: %w", err)
		}
	}
	return &msg, nil
}
