package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/runs"
)

// runRequest is the preview/apply body. Dates arrive as plain dates or
// RFC 3339 timestamps; runRequestId only matters on apply.
type runRequest struct {
	LegalEntityID *uint  `json:"legalEntityId,omitempty"`
	BankAccountID *uint  `json:"bankAccountId,omitempty"`
	DateFrom      string `json:"dateFrom,omitempty"`
	DateTo        string `json:"dateTo,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	RunRequestID  string `json:"runRequestId,omitempty"`
}

func (r runRequest) filters() (runs.Filters, error) {
	f := runs.Filters{
		LegalEntityID: r.LegalEntityID,
		BankAccountID: r.BankAccountID,
		Limit:         r.Limit,
		RunRequestID:  r.RunRequestID,
	}
	var err error
	if f.DateFrom, err = parseDate("dateFrom", r.DateFrom); err != nil {
		return f, err
	}
	if f.DateTo, err = parseDate("dateTo", r.DateTo); err != nil {
		return f, err
	}
	return f, nil
}

// runResponse carries a run with its summary and outcome rows. Replay is
// only present on apply responses.
type runResponse struct {
	Run     *models.AutoRun        `json:"run"`
	Summary models.RunSummary      `json:"summary"`
	Rows    []models.RunOutcomeRow `json:"rows"`
	Replay  *bool                  `json:"replay,omitempty"`
}

func runBody(run *models.AutoRun) runResponse {
	return runResponse{Run: run, Summary: run.Summary(), Rows: run.Payload.Rows}
}

func (s *Server) handleAutoPreview(c *gin.Context) { s.handleAutoRun(c, false) }
func (s *Server) handleAutoApply(c *gin.Context)   { s.handleAutoRun(c, true) }

func (s *Server) handleAutoRun(c *gin.Context, apply bool) {
	p := principalFrom(c)
	var req runRequest
	if !s.bindOptionalJSON(c, &req) {
		return
	}
	f, err := req.filters()
	if err != nil {
		s.renderError(c, err)
		return
	}
	var res *runs.Result
	if apply {
		res, err = s.svc.Runs.Apply(p, f)
	} else {
		res, err = s.svc.Runs.Preview(p, f)
	}
	if err != nil {
		s.renderError(c, err)
		return
	}
	body := runBody(res.Run)
	if apply {
		body.Replay = &res.Replay
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleRunGet(c *gin.Context) {
	p := principalFrom(c)
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	run, err := s.svc.Runs.Get(p.TenantID, id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, runBody(run))
}

func (s *Server) handleRunList(c *gin.Context) {
	p := principalFrom(c)
	limit, ok := s.queryInt(c, "limit")
	if !ok {
		return
	}
	rows, err := s.svc.Runs.List(p.TenantID, limit)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, listEnvelope{TenantID: p.TenantID, Rows: rows})
}
