package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/errors"
	"portal-messaging/pkg/logger"
	"portal-messaging/pkg/metrics"
	"portal-messaging/pkg/response"
)

// BanChecker looks up the externally managed account restriction
type BanChecker interface {
	GetBanStatus(ctx context.Context, userID string) (*domain.BanStatus, error)
}

// BanGate hides the messaging surface from users under a full platform
// ban. Lookup failures let the request through.
func BanGate(checker BanChecker, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		caller, ok := CallerFromContext(c)
		if !ok || checker == nil {
			c.Next()
			return
		}

		ban, err := checker.GetBanStatus(c.Request.Context(), caller.UserID)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("Ban status lookup failed, allowing request",
				zap.String("user_id", caller.UserID),
				zap.Error(err))
			c.Next()
			return
		}

		if ban.BlocksMessaging(now()) {
			metrics.BanGateBlockedTotal.WithLabelValues(string(ban.BanType)).Inc()
			response.FromError(c, errors.AccountRestrictedError(ban.Reason))
			return
		}
		c.Next()
	}
}
