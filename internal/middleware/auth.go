// internal/middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jbn434/lambda/internal/models"
	"github.com/jbn434/lambda/internal/services"
	"github.com/jbn434/lambda/internal/utils"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.UnauthorizedResponse(c, "Authorization header required")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			utils.UnauthorizedResponse(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ValidateJWT(parts[1])
		if err != nil {
			utils.UnauthorizedResponse(c, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RolesRequired allows only the listed roles past. It assumes AuthRequired
// already ran.
func RolesRequired(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		if !ok {
			utils.UnauthorizedResponse(c, "Authentication required")
			c.Abort()
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		utils.ForbiddenResponse(c, "Insufficient permissions")
		c.Abort()
	}
}

// CurrentActor resolves the authenticated caller from the request context.
func CurrentActor(c *gin.Context) (services.Actor, bool) {
	rawID, ok := c.Get(ContextUserID)
	if !ok {
		return services.Actor{}, false
	}
	rawRole, ok := c.Get(ContextRole)
	if !ok {
		return services.Actor{}, false
	}

	id, err := uuid.Parse(rawID.(string))
	if err != nil {
		return services.Actor{}, false
	}
	return services.Actor{ID: id, Role: models.Role(rawRole.(string))}, true
}
