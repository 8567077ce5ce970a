// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default per-request deadline
	DefaultTimeout = 30 * time.Second

	// HealthCheckTimeout bounds dependency checks behind /health
	HealthCheckTimeout = 2 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// WebSocket constants
const (
	// WebSocketWriteWait is the time allowed to write a frame to the peer
	WebSocketWriteWait = 10 * time.Second

	// WebSocketPongWait is the time allowed to read the next pong from the peer
	WebSocketPongWait = 60 * time.Second

	// WebSocketPingPeriod must be shorter than WebSocketPongWait
	WebSocketPingPeriod = (WebSocketPongWait * 9) / 10

	// WebSocketMaxMessageSize caps inbound frames
	WebSocketMaxMessageSize = 4096
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Message constants
const (
	// MaxMessageLength is the maximum allowed message length in characters
	MaxMessageLength = 1000

	// MessagePreviewLength is the length of lastMessage on a conversation
	MessagePreviewLength = 100

	// DedupWindow is how close two timestamps must be for identical
	// content from the two stores to be treated as one message
	DedupWindow = 1 * time.Second

	// DefaultMessagePageSize bounds a single timeline fetch
	DefaultMessagePageSize = 500
)

// Attachment constants
const (
	// MaxAttachmentSize is the maximum allowed attachment size in bytes (10MB)
	MaxAttachmentSize = 10 * 1024 * 1024

	// AttachmentKeyPrefix is the object key prefix in the attachment bucket
	AttachmentKeyPrefix = "attachments"
)

// AllowedMIMETypes is the attachment allow-list
var AllowedMIMETypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"text/plain":      true,

	// Office documents
	"application/msword":            true,
	"application/vnd.ms-excel":      true,
	"application/vnd.ms-powerpoint": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
}

// Fanout constants
const (
	// TopicPrefix prefixes every conversation topic
	TopicPrefix = "conversation:"

	// RedisChannelPrefix prefixes topics on the Redis bridge
	RedisChannelPrefix = "chat:"

	// SubscriptionBuffer is the per-subscription queue depth before coalescing
	SubscriptionBuffer = 16
)

// Ban constants
const (
	// BanKeyPrefix prefixes the Redis hash holding a user's ban status
	BanKeyPrefix = "ban:"
)
