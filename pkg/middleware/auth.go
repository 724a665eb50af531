package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dialtone-ai/dialtone/pkg/auth"
	"github.com/dialtone-ai/dialtone/pkg/errors"
)

func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			errors.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		bearerToken := strings.Split(authHeader, " ")
		if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
			errors.Unauthorized(c, "invalid authorization format")
			c.Abort()
			return
		}

		claims, err := auth.ParseToken(bearerToken[1], jwtSecret)
		if err != nil {
			errors.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set("operator_id", claims.OperatorID)
		c.Set("operator_role", claims.Role)
		c.Next()
	}
}

func RoleMiddleware(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		operatorRole, exists := c.Get("operator_role")
		if !exists {
			errors.Forbidden(c, "role not found in token")
			c.Abort()
			return
		}

		role := operatorRole.(string)
		for _, allowed := range allowedRoles {
			if role == allowed {
				c.Next()
				return
			}
		}

		errors.Forbidden(c, "insufficient permissions")
		c.Abort()
	}
}
