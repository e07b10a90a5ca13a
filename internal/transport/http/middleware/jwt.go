package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"inboxkb/internal/pkg/jwtutil"
	"inboxkb/internal/transport/http/response"
)

// ContextWorkspaceIDKey is where handlers read the caller's workspace from.
// The workspace always comes from the verified token, never from request
// parameters, so a caller cannot query another tenant's data.
const ContextWorkspaceIDKey = "workspace_id"

func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, 401, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, 401, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextWorkspaceIDKey, claims.WorkspaceID)
		c.Next()
	}
}
