package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderInternalKey   = "X-Internal-Key"
	HeaderSourceService = "X-Source-Service"
)

// InternalKeyAuth guards the service-to-service surface with a shared key.
// An empty configured key disables the check for local development.
func (s *Server) InternalKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(s.cfg.InternalKey)
		if expected == "" {
			c.Next()
			return
		}

		provided := strings.TrimSpace(c.GetHeader(HeaderInternalKey))
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// sourceService names the caller for journal and audit attribution.
func sourceService(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(HeaderSourceService))
}
