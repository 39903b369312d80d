package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/security"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/session"
)

const (
	claimsKey  = "access_claims"
	sessionKey = "current_session"
)

// SessionValidator is satisfied by *session.Registry.
type SessionValidator interface {
	ValidateSession(ctx context.Context, id string) (*session.Session, error)
}

// Auth requires a valid access token whose session is still live. Each
// authenticated request counts as session activity.
func Auth(tokens *security.TokenIssuer, sessions SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := tokens.ParseAccess(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		sess, err := sessions.ValidateSession(c.Request.Context(), claims.SessionID)
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("validate session failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
			return
		}
		if sess == nil || sess.UserID != claims.UserID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session_expired"})
			return
		}

		c.Set(claimsKey, claims)
		c.Set(sessionKey, sess)

		c.Next()
	}
}

func CurrentClaims(c *gin.Context) *security.AccessClaims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*security.AccessClaims)
	return claims
}

func CurrentSession(c *gin.Context) *session.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*session.Session)
	return sess
}
