package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"bank-reconciliation-core/internal/scope"
	"bank-reconciliation-core/pkg/logger"
)

const principalKey = "principal"

func (s *Server) corsMiddleware() gin.HandlerFunc {
	conf := cors.DefaultConfig()
	if len(s.cfg.AllowedOrigins) == 0 {
		conf.AllowAllOrigins = true
	} else {
		conf.AllowOrigins = s.cfg.AllowedOrigins
	}
	conf.AllowHeaders = append(conf.AllowHeaders, "Authorization")
	return cors.New(conf)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logger.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("Request served")
	}
}

// authenticate parses the bearer token into the request principal.
// Missing or unverifiable credentials answer 401; scope and permission
// denials inside the handlers answer 403.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
			return
		}
		p, err := scope.ParseToken(s.cfg.JWTSecret, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "invalid bearer token"})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func principalFrom(c *gin.Context) *scope.Principal {
	v, _ := c.Get(principalKey)
	p, _ := v.(*scope.Principal)
	return p
}
