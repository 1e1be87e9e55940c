package middleware

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/ebookpdf/pkg/auth"

	"github.com/gin-gonic/gin"
)

var errBadAuth = errors.New("invalid Authorization format")

// AuthMiddleware authorizes the route as op. Missing or rejected credentials
// answer 401; an accepted token lacking the op's scope, or an op closed
// because no provider is configured, answers 403.
func AuthMiddleware(guard *auth.Guard, op auth.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := bearerToken(header)
		if header != "" && token == "" && guard.HasProvider() {
			unauthorized(c, errBadAuth)
			return
		}

		claims, err := guard.Authorize(token, op)
		switch {
		case errors.Is(err, auth.ErrForbidden):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error(), "operation": string(op)})
			return
		case err != nil:
			unauthorized(c, err)
			return
		}
		if claims != nil {
			c.Set("userClaims", claims)
			c.Set("principal", claims.Principal())
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, err error) {
	c.Header("WWW-Authenticate", `Bearer realm="ebookpdf"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
}
