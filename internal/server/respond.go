package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"bank-reconciliation-core/internal/admin"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// errorBody is the envelope every failed request answers with.
type errorBody struct {
	Error string `json:"error"`
}

// gateEnvelope is the governed-write response: the tenant, the affected
// row and how the approval gate treated the write.
type gateEnvelope struct {
	TenantID uint        `json:"tenantId"`
	Row      interface{} `json:"row,omitempty"`
	admin.Gate
}

// listEnvelope wraps a tenant-scoped listing.
type listEnvelope struct {
	TenantID uint        `json:"tenantId"`
	Rows     interface{} `json:"rows"`
}

// renderError maps a domain error onto its HTTP status. Errors outside
// the taxonomy and internal categories surface as opaque 500s.
func (s *Server) renderError(c *gin.Context, err error) {
	if re, ok := apperrors.AsReconError(err); ok {
		status := re.HTTPStatus()
		if status < http.StatusInternalServerError {
			c.JSON(status, errorBody{Error: re.Message})
			return
		}
	}
	s.log.WithError(err).WithFields(logger.Fields{"path": c.FullPath()}).Error("Request failed")
	c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func (s *Server) bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.renderError(c, apperrors.ValidationError(apperrors.CodeInvalidInput, "body", err.Error()))
		return false
	}
	return true
}

// bindOptionalJSON decodes a body when one is present; an absent body
// leaves dst zero-valued.
func (s *Server) bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	return s.bindJSON(c, dst)
}

// pathID parses the :id path segment. A second return of false means the
// response has been written.
func (s *Server) pathID(c *gin.Context) (uint, bool) {
	raw := c.Param("id")
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || v == 0 {
		s.renderError(c, apperrors.ValidationError(apperrors.CodeInvalidInput, "id", raw))
		return 0, false
	}
	return uint(v), true
}

// queryUint parses an optional unsigned query parameter. ok=false means
// the response has been written.
func (s *Server) queryUint(c *gin.Context, name string) (*uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		s.renderError(c, apperrors.ValidationError(apperrors.CodeInvalidInput, name, raw))
		return nil, false
	}
	u := uint(v)
	return &u, true
}

// queryInt parses an optional integer query parameter, zero when absent.
func (s *Server) queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		s.renderError(c, apperrors.ValidationError(apperrors.CodeInvalidInput, name, raw))
		return 0, false
	}
	return v, true
}

// parseDate accepts a plain date or an RFC 3339 timestamp.
func parseDate(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, apperrors.ValidationError(apperrors.CodeInvalidInput, field, raw)
}
