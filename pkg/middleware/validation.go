package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/dialtone-ai/dialtone/pkg/errors"
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateTaskIDParam rejects malformed task identifiers before any handler
// work happens.
func ValidateTaskIDParam(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value := c.Param(param)
		if !taskIDPattern.MatchString(value) {
			errors.BadRequest(c, "invalid task identifier")
			c.Abort()
			return
		}
		c.Next()
	}
}
