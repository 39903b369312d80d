package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/middleware"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/models"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/security"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/service"
)

type HandlerSet struct {
	log         zerolog.Logger
	environment string
	authService *service.AuthService
	tokens      *security.TokenIssuer
	sessions    middleware.SessionValidator
	checks      []HealthCheck
}

func NewHandlerSet(
	log zerolog.Logger,
	environment string,
	authService *service.AuthService,
	tokens *security.TokenIssuer,
	sessions middleware.SessionValidator,
	checks ...HealthCheck,
) HandlerSet {
	return HandlerSet{
		log:         log,
		environment: environment,
		authService: authService,
		tokens:      tokens,
		sessions:    sessions,
		checks:      checks,
	}
}

func (h HandlerSet) Routes(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)

		protected := v1.Group("/auth")
		protected.Use(middleware.Auth(h.tokens, h.sessions))
		protected.POST("/logout", h.Logout)
		protected.POST("/logout-all", h.LogoutAll)
		protected.GET("/me", h.Me)
		protected.GET("/sessions", h.ListSessions)
		protected.DELETE("/sessions/:sessionId", h.RevokeSession)
	}

	admin := v1.Group("/admin")
	admin.Use(
		middleware.Auth(h.tokens, h.sessions),
		middleware.RequireRoles(models.UserRoleAdmin),
	)
	admin.GET("/sessions/stats", h.SessionStats)
}
