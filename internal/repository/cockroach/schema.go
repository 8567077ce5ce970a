package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		conversation_id STRING PRIMARY KEY,
		status STRING NOT NULL,
		last_activity TIMESTAMPTZ NOT NULL,
		document JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		INDEX conversations_last_activity_idx (last_activity DESC)
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_members (
		user_id STRING NOT NULL,
		conversation_id STRING NOT NULL REFERENCES conversations (conversation_id) ON DELETE CASCADE,
		role STRING NOT NULL,
		PRIMARY KEY (user_id, conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS legacy_messages (
		message_id STRING PRIMARY KEY,
		conversation_id STRING NOT NULL,
		seq INT8 NOT NULL DEFAULT unique_rowid(),
		sender_id STRING NOT NULL DEFAULT '',
		sender_name STRING NOT NULL DEFAULT '',
		sender_role STRING,
		content STRING NOT NULL DEFAULT '',
		sent_at TIMESTAMPTZ,
		reply_to STRING,
		attachments JSONB NOT NULL DEFAULT '[]',
		priority STRING,
		status STRING,
		department STRING,
		is_escalation BOOL NOT NULL DEFAULT false,
		message_type STRING,
		read_by JSONB NOT NULL DEFAULT '[]',
		INDEX legacy_messages_conversation_idx (conversation_id, seq DESC)
	)`,
}

// EnsureSchema creates the conversation and legacy message tables
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
