package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/recon"
	"bank-reconciliation-core/internal/scope"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
)

// guardLine asserts the caller may touch a statement line. false means
// the response has been written.
func (s *Server) guardLine(c *gin.Context, p *scope.Principal, id uint) bool {
	line, err := s.svc.Store.LineByID(p.TenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			s.renderError(c, apperrors.NotFoundError("statement line", id))
		} else {
			s.renderError(c, apperrors.StorageError("loading statement line", err))
		}
		return false
	}
	if err := p.RequireLegalEntity(line.LegalEntityID); err != nil {
		s.renderError(c, err)
		return false
	}
	return true
}

// matchRequest records one manual match against a statement line.
type matchRequest struct {
	TargetType    models.MatchedEntityType `json:"targetType"`
	TargetID      uint                     `json:"targetId"`
	MatchedAmount decimal.Decimal          `json:"matchedAmount"`
	MatchType     models.MatchType         `json:"matchType,omitempty"`
	Method        string                   `json:"method,omitempty"`
	RuleID        *uint                    `json:"matchedRuleId,omitempty"`
	Confidence    *float64                 `json:"confidence,omitempty"`
	Notes         string                   `json:"notes,omitempty"`
}

func (s *Server) handleLineMatch(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var req matchRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if !s.guardLine(c, p, id) {
		return
	}
	line, match, err := s.svc.Recon.Match(p.TenantID, id, recon.MatchInput{
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Amount:     req.MatchedAmount,
		MatchType:  req.MatchType,
		Method:     req.Method,
		RuleID:     req.RuleID,
		Confidence: req.Confidence,
		Notes:      req.Notes,
		ActorID:    p.UserID,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenantId": p.TenantID, "row": line, "match": match})
}

func (s *Server) handleLineUnmatch(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var body struct {
		MatchID *uint `json:"matchId"`
	}
	if !s.bindOptionalJSON(c, &body) {
		return
	}
	if !s.guardLine(c, p, id) {
		return
	}
	line, reversed, err := s.svc.Recon.Unmatch(p.TenantID, id, body.MatchID, p.UserID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenantId": p.TenantID, "row": line, "reversedMatchIds": reversed})
}

func (s *Server) handleLineIgnore(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if !s.bindOptionalJSON(c, &body) {
		return
	}
	if !s.guardLine(c, p, id) {
		return
	}
	line, err := s.svc.Recon.Ignore(p.TenantID, id, body.Reason, p.UserID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenantId": p.TenantID, "row": line})
}

func (s *Server) handleLineUnignore(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if !s.bindOptionalJSON(c, &body) {
		return
	}
	if !s.guardLine(c, p, id) {
		return
	}
	line, err := s.svc.Recon.Unignore(p.TenantID, id, body.Reason, p.UserID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenantId": p.TenantID, "row": line})
}
