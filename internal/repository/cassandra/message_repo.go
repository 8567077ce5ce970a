package cassandra

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/errors"
	"portal-messaging/pkg/logger"
)

// Schema for the enhanced message store. Messages are partitioned by
// conversation and clustered newest first; enhanced_messages_by_id resolves
// a message id to its partition for receipts and edits.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS enhanced_messages (
		conversation_id text,
		created_at timestamp,
		message_id text,
		sender_id text,
		sender_name text,
		sender_role text,
		content text,
		reply_to text,
		attachments text,
		priority text,
		status text,
		department text,
		is_escalation boolean,
		escalation_reason text,
		read_by map<text, timestamp>,
		read_by_names map<text, text>,
		edited_at timestamp,
		edited_by text,
		original_content text,
		message_type text,
		metadata text,
		PRIMARY KEY ((conversation_id), created_at, message_id)
	) WITH CLUSTERING ORDER BY (created_at DESC, message_id DESC)`,
	`CREATE TABLE IF NOT EXISTS enhanced_messages_by_id (
		message_id text PRIMARY KEY,
		conversation_id text,
		created_at timestamp
	)`,
}

const selectColumns = `conversation_id, created_at, message_id, sender_id, sender_name, sender_role,
	content, reply_to, attachments, priority, status, department, is_escalation, escalation_reason,
	read_by, read_by_names, edited_at, edited_by, original_content, message_type, metadata`

// EnhancedMessageRepository stores canonical messages in Cassandra
type EnhancedMessageRepository struct {
	session *gocql.Session
}

// NewEnhancedMessageRepository creates a new EnhancedMessageRepository
func NewEnhancedMessageRepository(session *gocql.Session) *EnhancedMessageRepository {
	return &EnhancedMessageRepository{session: session}
}

// EnsureSchema creates the message tables if they do not exist
func (r *EnhancedMessageRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := r.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Save inserts a message and its id lookup row in one logged batch
func (r *EnhancedMessageRepository) Save(ctx context.Context, msg *domain.EnhancedMessage) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	readAt, readNames := splitReceipts(msg.ReadBy)

	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
		INSERT INTO enhanced_messages (
			conversation_id, created_at, message_id, sender_id, sender_name, sender_role,
			content, reply_to, attachments, priority, status, department, is_escalation,
			escalation_reason, read_by, read_by_names, message_type, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.Timestamp, msg.ID, msg.SenderID, msg.SenderName, string(msg.SenderRole),
		msg.Content, msg.ReplyTo, string(attachments), string(msg.Priority), string(msg.Status), msg.Department,
		msg.IsEscalation, msg.EscalationReason, readAt, readNames, string(msg.MessageType), string(metadata),
	)
	batch.Query(`INSERT INTO enhanced_messages_by_id (message_id, conversation_id, created_at) VALUES (?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Timestamp)

	if err := r.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// ListByConversation returns the newest limit messages in ascending order
func (r *EnhancedMessageRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.EnhancedMessage, error) {
	iter := r.session.Query(`SELECT `+selectColumns+` FROM enhanced_messages WHERE conversation_id = ? LIMIT ?`,
		conversationID, limit).WithContext(ctx).Iter()

	var messages []domain.EnhancedMessage
	for {
		msg, ok := scanMessage(iter)
		if !ok {
			break
		}
		messages = append(messages, *msg)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

type messageKey struct {
	conversationID string
	createdAt      time.Time
}

func (r *EnhancedMessageRepository) lookup(ctx context.Context, id string) (*messageKey, error) {
	var key messageKey
	err := r.session.Query(`SELECT conversation_id, created_at FROM enhanced_messages_by_id WHERE message_id = ?`, id).
		WithContext(ctx).Scan(&key.conversationID, &key.createdAt)
	if err != nil {
		if stderrors.Is(err, gocql.ErrNotFound) {
			return nil, errors.NotFoundError("Message")
		}
		return nil, fmt.Errorf("failed to look up message: %w", err)
	}
	return &key, nil
}

// GetByID retrieves a single message
func (r *EnhancedMessageRepository) GetByID(ctx context.Context, id string) (*domain.EnhancedMessage, error) {
	key, err := r.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	iter := r.session.Query(`SELECT `+selectColumns+` FROM enhanced_messages
		WHERE conversation_id = ? AND created_at = ? AND message_id = ?`,
		key.conversationID, key.createdAt, id).WithContext(ctx).Iter()
	msg, ok := scanMessage(iter)
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if !ok {
		return nil, errors.NotFoundError("Message")
	}
	return msg, nil
}

// AddReadReceipt adds the reader to the read_by maps. Map writes are
// idempotent, so a concurrent duplicate at worst reports true twice.
func (r *EnhancedMessageRepository) AddReadReceipt(ctx context.Context, id string, receipt domain.ReadReceipt) (bool, error) {
	msg, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if msg.IsReadBy(receipt.UserID) {
		return false, nil
	}

	err = r.session.Query(`UPDATE enhanced_messages
		SET read_by[?] = ?, read_by_names[?] = ?
		WHERE conversation_id = ? AND created_at = ? AND message_id = ?`,
		receipt.UserID, receipt.ReadAt, receipt.UserID, receipt.UserName,
		msg.ConversationID, msg.Timestamp, id).WithContext(ctx).Exec()
	if err != nil {
		return false, fmt.Errorf("failed to add read receipt: %w", err)
	}
	return true, nil
}

// ApplyEdit replaces content once, guarded by a lightweight transaction
func (r *EnhancedMessageRepository) ApplyEdit(ctx context.Context, id, content, editedBy string, editedAt time.Time) (bool, error) {
	msg, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	applied, err := r.session.Query(`UPDATE enhanced_messages
		SET content = ?, original_content = ?, edited_at = ?, edited_by = ?
		WHERE conversation_id = ? AND created_at = ? AND message_id = ?
		IF edited_at = null`,
		content, msg.Content, editedAt, editedBy,
		msg.ConversationID, msg.Timestamp, id).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to edit message: %w", err)
	}
	return applied, nil
}

func scanMessage(iter *gocql.Iter) (*domain.EnhancedMessage, bool) {
	var msg domain.EnhancedMessage
	var senderRole, priority, status, messageType string
	var attachments, metadata string
	var readAt map[string]time.Time
	var readNames map[string]string
	var editedAt time.Time
	if !iter.Scan(
		&msg.ConversationID, &msg.Timestamp, &msg.ID, &msg.SenderID, &msg.SenderName, &senderRole,
		&msg.Content, &msg.ReplyTo, &attachments, &priority, &status, &msg.Department,
		&msg.IsEscalation, &msg.EscalationReason, &readAt, &readNames,
		&editedAt, &msg.EditedBy, &msg.OriginalContent, &messageType, &metadata,
	) {
		return nil, false
	}

	msg.SenderRole = domain.Role(senderRole)
	msg.Priority = domain.Priority(priority)
	msg.Status = domain.MessageStatus(status)
	msg.MessageType = domain.MessageType(messageType)
	msg.Timestamp = msg.Timestamp.UTC()
	if !editedAt.IsZero() {
		at := editedAt.UTC()
		msg.EditedAt = &at
	}
	decodeColumn(msg.ID, "attachments", attachments, &msg.Attachments)
	decodeColumn(msg.ID, "metadata", metadata, &msg.Metadata)
	msg.ReadBy = joinReceipts(readAt, readNames)
	return &msg, true
}

// decodeColumn unmarshals a JSON text column into dst. A corrupt value is
// logged and left empty so the rest of the message still reads.
func decodeColumn(messageID, column, raw string, dst any) {
	if raw == "" || raw == "null" {
		return
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		logger.Warn("Failed to decode message column",
			zap.String("message_id", messageID),
			zap.String("column", column),
			zap.Error(err))
	}
}

func splitReceipts(receipts []domain.ReadReceipt) (map[string]time.Time, map[string]string) {
	readAt := make(map[string]time.Time, len(receipts))
	names := make(map[string]string, len(receipts))
	for _, r := range receipts {
		readAt[r.UserID] = r.ReadAt
		names[r.UserID] = r.UserName
	}
	return readAt, names
}

// joinReceipts rebuilds readBy ordered by read time
func joinReceipts(readAt map[string]time.Time, names map[string]string) []domain.ReadReceipt {
	receipts := make([]domain.ReadReceipt, 0, len(readAt))
	for userID, at := range readAt {
		receipts = append(receipts, domain.ReadReceipt{UserID: userID, UserName: names[userID], ReadAt: at.UTC()})
	}
	sort.Slice(receipts, func(i, j int) bool {
		if receipts[i].ReadAt.Equal(receipts[j].ReadAt) {
			return receipts[i].UserID < receipts[j].UserID
		}
		return receipts[i].ReadAt.Before(receipts[j].ReadAt)
	})
	return receipts
}
