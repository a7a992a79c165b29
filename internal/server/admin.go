package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bank-reconciliation-core/internal/admin"
	"bank-reconciliation-core/internal/scope"
)

// Config writes anchored to a legal entity pass the scope guard first;
// GLOBAL rows carry no anchor and stay tenant-wide.
func scopedWrite(p *scope.Principal, legalEntityID *uint) error {
	if legalEntityID == nil {
		return nil
	}
	return p.RequireLegalEntity(*legalEntityID)
}

func (s *Server) handleRuleCreate(c *gin.Context) {
	p := principalFrom(c)
	var in admin.RuleInput
	if !s.bindJSON(c, &in) {
		return
	}
	if err := scopedWrite(p, in.LegalEntityID); err != nil {
		s.renderError(c, err)
		return
	}
	in.ActorID = p.UserID
	res, err := s.svc.Admin.CreateRule(p.TenantID, in)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateEnvelope{TenantID: p.TenantID, Row: res.Rule, Gate: res.Gate})
}

func (s *Server) handleRuleUpdate(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var in admin.RuleInput
	if !s.bindJSON(c, &in) {
		return
	}
	if err := scopedWrite(p, in.LegalEntityID); err != nil {
		s.renderError(c, err)
		return
	}
	in.ActorID = p.UserID
	res, err := s.svc.Admin.UpdateRule(p.TenantID, id, in)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateEnvelope{TenantID: p.TenantID, Row: res.Rule, Gate: res.Gate})
}

func (s *Server) handleRuleGet(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	rule, err := s.svc.Admin.GetRule(p.TenantID, id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateEnvelope{TenantID: p.TenantID, Row: rule})
}

func (s *Server) handleRuleList(c *gin.Context) {
	p := principalFrom(c)
	rows, err := s.svc.Admin.ListRules(p.TenantID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, listEnvelope{TenantID: p.TenantID, Rows: rows})
}

func (s *Server) handleTemplateCreate(c *gin.Context) {
	p := principalFrom(c)
	var in admin.TemplateInput
	if !s.bindJSON(c, &in) {
		return
	}
	if err := scopedWrite(p, in.LegalEntityID); err != nil {
		s.renderError(c, err)
		return
	}
	in.ActorID = p.UserID
	res, err := s.svc.Admin.CreateTemplate(p.TenantID, in)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateEnvelope{TenantID: p.TenantID, Row: res.Template, Gate: res.Gate})
}

func (s *Server) handleTemplateUpdate(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var in admin.TemplateInput
	if !s.bindJSON(c, &in) {
		return
	}
	if err := scopedWrite(p, in.LegalEntityID); err != nil {
		s.renderError(c, err)
		return
	}
	in.ActorID = p.UserID
	res, err := s.svc.Admin.UpdateTemplate(p.TenantID, id, in)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateEnvelope{TenantID: p.TenantID, Row: res.Template, Gate: res.Gate})
}

func (s *Server) handleTemplateGet(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	tpl, err := s.svc.Admin.GetTemplate(p.TenantID, id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateEnvelope{TenantID: p.TenantID, Row: tpl})
}

func (s *Server) handleTemplateList(c *gin.Context) {
	p := principalFrom(c)
	rows, err := s.svc.Admin.ListTemplates(p.TenantID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, listEnvelope{TenantID: p.TenantID, Rows: rows})
}

func (s *Server) handleProfileCreate(c *gin.Context) {
	p := principalFrom(c)
	var in admin.ProfileInput
	if !s.bindJSON(c, &in) {
		return
	}
	if err := scopedWrite(p, in.LegalEntityID); err != nil {
		s.renderError(c, err)
		return
	}
	in.ActorID = p.UserID
	res, err := s.svc.Admin.CreateProfile(p.TenantID, in)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateEnvelope{TenantID: p.TenantID, Row: res.Profile, Gate: res.Gate})
}

func (s *Server) handleProfileUpdate(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var in admin.ProfileInput
	if !s.bindJSON(c, &in) {
		return
	}
	if err := scopedWrite(p, in.LegalEntityID); err != nil {
		s.renderError(c, err)
		return
	}
	in.ActorID = p.UserID
	res, err := s.svc.Admin.UpdateProfile(p.TenantID, id, in)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateEnvelope{TenantID: p.TenantID, Row: res.Profile, Gate: res.Gate})
}

func (s *Server) handleProfileGet(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	prof, err := s.svc.Admin.GetProfile(p.TenantID, id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateEnvelope{TenantID: p.TenantID, Row: prof})
}

func (s *Server) handleProfileList(c *gin.Context) {
	p := principalFrom(c)
	rows, err := s.svc.Admin.ListProfiles(p.TenantID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, listEnvelope{TenantID: p.TenantID, Rows: rows})
}
