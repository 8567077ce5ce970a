package cassandra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/logger"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(nil) })
	return logs
}

func TestDecodeColumn_Valid(t *testing.T) {
	logs := observeLogs(t)

	var attachments []domain.Attachment
	decodeColumn("m1", "attachments", `[{"id":"a1","name":"report.pdf","size":12,"type":"application/pdf"}]`, &attachments)

	require.Len(t, attachments, 1)
	assert.Equal(t, "report.pdf", attachments[0].Name)
	assert.Equal(t, 0, logs.Len())
}

func TestDecodeColumn_EmptyAndNullAreSkipped(t *testing.T) {
	logs := observeLogs(t)

	var metadata map[string]interface{}
	decodeColumn("m1", "metadata", "", &metadata)
	decodeColumn("m1", "metadata", "null", &metadata)

	assert.Nil(t, metadata)
	assert.Equal(t, 0, logs.Len())
}

func TestDecodeColumn_CorruptValueIsLogged(t *testing.T) {
	logs := observeLogs(t)

	msg := domain.EnhancedMessage{ID: "m42", Content: "still readable"}
	decodeColumn(msg.ID, "metadata", `{"source":`, &msg.Metadata)

	assert.Nil(t, msg.Metadata)
	assert.Equal(t, "still readable", msg.Content)

	entries := logs.FilterMessage("Failed to decode message column").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "m42", fields["message_id"])
	assert.Equal(t, "metadata", fields["column"])
	assert.Contains(t, fields, "error")
}
