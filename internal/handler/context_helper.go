package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mediahub-api/internal/middleware"
	"github.com/noah-isme/mediahub-api/internal/models"
	appErrors "github.com/noah-isme/mediahub-api/pkg/errors"
	"github.com/noah-isme/mediahub-api/pkg/response"
)

// currentAccount returns the verified claims or writes a 401 and returns false.
func currentAccount(c *gin.Context) (*models.JWTClaims, bool) {
	claims, ok := middleware.Claims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}

func clientMeta(c *gin.Context) models.ClientMeta {
	return models.ClientMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, message))
		return false
	}
	return true
}

func parseQueryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return val
}
