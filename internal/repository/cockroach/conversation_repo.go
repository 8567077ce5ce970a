package cockroach

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/errors"
)

const uniqueViolation = "23505"

// ConversationRepository stores each conversation as one JSONB document.
// Participants are mirrored into conversation_members for membership lookups.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Create inserts a conversation and its membership rows in one transaction
func (r *ConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	doc, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversations (conversation_id, status, last_activity, document, updated_at)
			VALUES ($1, $2, $3, $4, now())`,
			conv.ID, string(conv.Status), conv.LastActivity, doc)
		if err != nil {
			return err
		}
		return syncMembers(ctx, tx, conv)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return errors.NewWithStatus(errors.ErrCodeValidation, "conversation already exists", http.StatusConflict)
		}
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// Get retrieves a conversation by ID
func (r *ConversationRepository) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT document FROM conversations WHERE conversation_id = $1`, id).Scan(&doc)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFoundError("Conversation")
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return decodeConversation(doc)
}

// List returns every conversation, most recently active first
func (r *ConversationRepository) List(ctx context.Context) ([]*domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, `SELECT document FROM conversations ORDER BY last_activity DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return collectConversations(rows)
}

// ListByParticipant returns conversations userID belongs to
func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.document
		FROM conversation_members m
		JOIN conversations c ON c.conversation_id = m.conversation_id
		WHERE m.user_id = $1
		ORDER BY c.last_activity DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return collectConversations(rows)
}

// Update locks the row with SELECT ... FOR UPDATE, applies fn and writes the
// result back. If fn fails the transaction rolls back and nothing changes.
func (r *ConversationRepository) Update(ctx context.Context, id string, fn func(*domain.Conversation) error) (*domain.Conversation, error) {
	var updated *domain.Conversation
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx, `SELECT document FROM conversations WHERE conversation_id = $1 FOR UPDATE`, id).Scan(&doc)
		if err != nil {
			if stderrors.Is(err, pgx.ErrNoRows) {
				return errors.NotFoundError("Conversation")
			}
			return fmt.Errorf("failed to lock conversation: %w", err)
		}

		conv, err := decodeConversation(doc)
		if err != nil {
			return err
		}
		before := memberSet(conv)
		if err := fn(conv); err != nil {
			return err
		}

		next, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to encode conversation: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE conversations
			SET status = $2, last_activity = $3, document = $4, updated_at = now()
			WHERE conversation_id = $1`,
			conv.ID, string(conv.Status), conv.LastActivity, next)
		if err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}
		if !sameMembers(before, conv) {
			if err := syncMembers(ctx, tx, conv); err != nil {
				return fmt.Errorf("failed to update members: %w", err)
			}
		}
		updated = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func syncMembers(ctx context.Context, tx pgx.Tx, conv *domain.Conversation) error {
	if _, err := tx.Exec(ctx, `DELETE FROM conversation_members WHERE conversation_id = $1`, conv.ID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, p := range conv.Participants {
		batch.Queue(`INSERT INTO conversation_members (user_id, conversation_id, role) VALUES ($1, $2, $3)`,
			p.ID, conv.ID, string(p.Role))
	}
	return tx.SendBatch(ctx, batch).Close()
}

func memberSet(conv *domain.Conversation) map[string]struct{} {
	set := make(map[string]struct{}, len(conv.Participants))
	for _, p := range conv.Participants {
		set[p.ID] = struct{}{}
	}
	return set
}

func sameMembers(before map[string]struct{}, conv *domain.Conversation) bool {
	if len(before) != len(conv.Participants) {
		return false
	}
	for _, p := range conv.Participants {
		if _, ok := before[p.ID]; !ok {
			return false
		}
	}
	return true
}

func decodeConversation(doc []byte) (*domain.Conversation, error) {
	conv := &domain.Conversation{}
	if err := json.Unmarshal(doc, conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return conv, nil
}

func collectConversations(rows pgx.Rows) ([]*domain.Conversation, error) {
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversations: %w", err)
	}
	out := make([]*domain.Conversation, 0, len(docs))
	for _, doc := range docs {
		conv, err := decodeConversation(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}
