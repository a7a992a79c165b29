package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/scope"
	"bank-reconciliation-core/internal/store"
	"bank-reconciliation-core/pkg/cursor"
	apperrors "bank-reconciliation-core/pkg/errors"
)

// exceptionPage is one page of the queue; nextCursor is absent on the
// last page.
type exceptionPage struct {
	TenantID   uint                    `json:"tenantId"`
	Rows       []models.ReconException `json:"rows"`
	NextCursor string                  `json:"nextCursor,omitempty"`
}

func (s *Server) handleExceptionList(c *gin.Context) {
	p := principalFrom(c)
	f := store.ExceptionFilter{
		ReasonCode:            c.Query("reasonCode"),
		AllowedLegalEntityIDs: p.AllowedLegalEntities(),
	}
	if v := c.Query("status"); v != "" {
		st := models.ExceptionStatus(v)
		if !st.IsValid() {
			s.renderError(c, apperrors.ValidationError(apperrors.CodeUnknownEnum, "status", v))
			return
		}
		f.Status = &st
	}
	leID, ok := s.queryUint(c, "legalEntityId")
	if !ok {
		return
	}
	if leID != nil {
		if err := p.RequireLegalEntity(*leID); err != nil {
			s.renderError(c, err)
			return
		}
		f.LegalEntityID = leID
	}
	if f.BankAccountID, ok = s.queryUint(c, "bankAccountId"); !ok {
		return
	}
	if f.Limit, ok = s.queryInt(c, "limit"); !ok {
		return
	}
	if v := c.Query("cursor"); v != "" {
		tok, err := cursor.Decode(v)
		if err != nil {
			s.renderError(c, apperrors.ValidationError(apperrors.CodeBadCursor, "cursor", v))
			return
		}
		f.After = &tok
	}
	rows, next, err := s.svc.Exceptions.List(p.TenantID, f)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, exceptionPage{TenantID: p.TenantID, Rows: rows, NextCursor: next})
}

func (s *Server) handleExceptionGet(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	exc, events, err := s.svc.Exceptions.Get(p.TenantID, id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if err := p.RequireLegalEntity(exc.LegalEntityID); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenantId": p.TenantID, "row": exc, "events": events})
}

// guardException asserts the caller may touch an exception before a
// mutation. false means the response has been written.
func (s *Server) guardException(c *gin.Context, p *scope.Principal, id uint) bool {
	exc, err := s.svc.Store.ExceptionByID(p.TenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			s.renderError(c, apperrors.NotFoundError("exception", id))
		} else {
			s.renderError(c, apperrors.StorageError("loading exception", err))
		}
		return false
	}
	if err := p.RequireLegalEntity(exc.LegalEntityID); err != nil {
		s.renderError(c, err)
		return false
	}
	return true
}

func (s *Server) handleExceptionAssign(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var body struct {
		AssigneeID *uint `json:"assigneeId"`
	}
	if !s.bindOptionalJSON(c, &body) {
		return
	}
	if !s.guardException(c, p, id) {
		return
	}
	exc, err := s.svc.Exceptions.Assign(p.TenantID, id, body.AssigneeID, p.UserID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenantId": p.TenantID, "row": exc})
}

func (s *Server) handleExceptionResolve(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var body struct {
		ResolutionCode string `json:"resolutionCode"`
		Note           string `json:"note"`
	}
	if !s.bindOptionalJSON(c, &body) {
		return
	}
	if !s.guardException(c, p, id) {
		return
	}
	res, err := s.svc.Admin.ResolveException(p.TenantID, id, body.ResolutionCode, body.Note, p.UserID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateEnvelope{TenantID: p.TenantID, Row: res.Exception, Gate: res.Gate})
}

func (s *Server) handleExceptionIgnore(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var body struct {
		Note string `json:"note"`
	}
	if !s.bindOptionalJSON(c, &body) {
		return
	}
	if !s.guardException(c, p, id) {
		return
	}
	res, err := s.svc.Admin.IgnoreException(p.TenantID, id, body.Note, p.UserID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateEnvelope{TenantID: p.TenantID, Row: res.Exception, Gate: res.Gate})
}

func (s *Server) handleExceptionRetry(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var body struct {
		Note string `json:"note"`
	}
	if !s.bindOptionalJSON(c, &body) {
		return
	}
	if !s.guardException(c, p, id) {
		return
	}
	exc, line, err := s.svc.Exceptions.Retry(p.TenantID, id, body.Note, p.UserID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenantId": p.TenantID, "row": exc, "line": line})
}
