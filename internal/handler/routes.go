package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/mediahub-api/internal/middleware"
	"github.com/noah-isme/mediahub-api/internal/models"
)

// Router bundles the handlers and guards mounted under the API prefix.
type Router struct {
	Auth     *AuthHandler
	Accounts *AccountHandler
	Audit    *AuditHandler
	Metrics  *MetricsHandler

	Verifier middleware.TokenVerifier
	Statuses middleware.StatusLookup
	Logger   *zap.Logger
}

// Register mounts every route on r.
func (rt Router) Register(r *gin.Engine, prefix string) {
	if rt.Metrics != nil {
		r.GET("/health", rt.Metrics.Health)
		r.GET("/ready", rt.Metrics.Ready)
		r.GET("/metrics", rt.Metrics.Prometheus)
	}

	api := r.Group(prefix)

	jwt := middleware.JWT(rt.Verifier)
	authenticated := func(extra ...gin.HandlerFunc) []gin.HandlerFunc {
		chain := []gin.HandlerFunc{jwt}
		if rt.Statuses != nil {
			chain = append(chain, middleware.ActiveAccount(rt.Statuses, rt.Logger))
		}
		return append(chain, extra...)
	}

	auth := api.Group("/auth")
	auth.POST("/register", rt.Auth.Register)
	auth.POST("/login", rt.Auth.Login)
	auth.POST("/refresh", rt.Auth.Refresh)

	session := auth.Group("", authenticated()...)
	session.POST("/logout", rt.Auth.Logout)
	session.POST("/change-password", rt.Auth.ChangePassword)
	session.GET("/me", rt.Auth.Me)

	owner := api.Group("/accounts", authenticated(middleware.RBAC(string(models.RoleAdmin), middleware.RoleSelf))...)
	owner.GET("/:id", rt.Accounts.Get)

	admin := api.Group("/admin", authenticated(middleware.RequireRoles(models.RoleAdmin))...)
	admin.GET("/accounts/:id", rt.Accounts.Get)
	admin.PATCH("/accounts/:id/status", rt.Accounts.ChangeStatus)
	admin.PATCH("/accounts/:id/role", rt.Accounts.ChangeRole)
	admin.GET("/audit-logs", rt.Audit.List)
}
