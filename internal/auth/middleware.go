// ABOUTME: Gin middleware for bearer-token authentication on API endpoints
// ABOUTME: Extracts the JWT from the Authorization header or token query parameter

package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// subjectContextKey is the gin context key holding the verified subject
const subjectContextKey = "auth_subject"

// TokenFromRequest extracts a bearer token from the Authorization header,
// falling back to the "token" query parameter for websocket handshakes where
// browsers cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Middleware returns a gin handler that rejects requests without a valid
// bearer token and stores the verified subject in the request context.
func Middleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		subject, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(subjectContextKey, subject)
		c.Next()
	}
}

// SubjectFrom returns the verified subject stored by Middleware, or nil if
// the request was not authenticated.
func SubjectFrom(c *gin.Context) *Subject {
	v, ok := c.Get(subjectContextKey)
	if !ok {
		return nil
	}
	subject, _ := v.(*Subject)
	return subject
}
