package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/mediahub-api/internal/lockout"
	"github.com/noah-isme/mediahub-api/internal/models"
	appErrors "github.com/noah-isme/mediahub-api/pkg/errors"
	"github.com/noah-isme/mediahub-api/pkg/response"
)

// StatusLookup resolves the current status of an account.
type StatusLookup interface {
	Status(ctx context.Context, accountID string) (*models.AccountStatusSnapshot, error)
}

// ActiveAccount rejects requests whose bearer has since been deactivated or
// deleted. It must run after JWT. Access tokens alone stay valid until expiry,
// so this check is what makes a suspension effective on protected routes.
func ActiveAccount(statuses StatusLookup, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}

		snapshot, err := statuses.Status(c.Request.Context(), claims.AccountID)
		if err != nil {
			if appErrors.KindOf(err) == appErrors.KindNotFound {
				response.Abort(c, appErrors.Clone(appErrors.ErrInactiveAccount, "account no longer exists"))
				return
			}
			logger.Error("account status lookup failed", zap.String("account_id", claims.AccountID), zap.Error(err))
			response.Abort(c, err)
			return
		}
		if !lockout.SessionAllowed(snapshot.SecurityState()) {
			response.Abort(c, appErrors.ErrInactiveAccount)
			return
		}
		c.Next()
	}
}
