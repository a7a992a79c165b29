package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bank-reconciliation-core/internal/models"
	apperrors "bank-reconciliation-core/pkg/errors"
)

func (s *Server) handleApprovalList(c *gin.Context) {
	p := principalFrom(c)
	var status *models.ApprovalRequestStatus
	if v := c.Query("status"); v != "" {
		st := models.ApprovalRequestStatus(v)
		if !st.IsValid() {
			s.renderError(c, apperrors.ValidationError(apperrors.CodeUnknownEnum, "status", v))
			return
		}
		status = &st
	}
	rows, err := s.svc.Approvals.List(p.TenantID, status)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, listEnvelope{TenantID: p.TenantID, Rows: rows})
}

func (s *Server) handleApprovalGet(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	req, decisions, err := s.svc.Approvals.Get(p.TenantID, id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if req.LegalEntityID != nil {
		if err := p.RequireLegalEntity(*req.LegalEntityID); err != nil {
			s.renderError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"tenantId": p.TenantID, "row": req, "decisions": decisions})
}

// decideApproval records one checker verdict. Maker-checker and the
// approver permission code are enforced by the approvals service.
func (s *Server) decideApproval(verdict models.ApprovalDecisionVerdict) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principalFrom(c)
		id, ok := s.pathID(c)
		if !ok {
			return
		}
		var body struct {
			DecisionComment string `json:"decisionComment"`
		}
		if !s.bindOptionalJSON(c, &body) {
			return
		}
		req, err := s.svc.Approvals.Decide(p.TenantID, id, p, verdict, body.DecisionComment)
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tenantId": p.TenantID, "row": req})
	}
}
