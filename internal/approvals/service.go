// Package approvals implements the maker-checker gate. It evaluates which
// policy, if any, governs a mutating action, files idempotent approval
// requests, tallies checker decisions and dispatches the registered
// executor once the final approval lands.
package approvals

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/scope"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// Executor replays an approved request's action. The returned payload is
// stored on the request as its execution result.
type Executor func(tenantID uint, req *models.ApprovalRequest) (models.ApprovalPayload, error)

// RejectHook runs after a request is rejected so the owning module can
// unwind whatever it parked behind the gate.
type RejectHook func(tenantID uint, req *models.ApprovalRequest) error

type dispatchKey struct {
	module string
	target string
	action string
}

type handler struct {
	execute  Executor
	onReject RejectHook
}

// Service walks approval requests through submission, decision and
// execution.
type Service struct {
	store    *store.Store
	log      logger.Logger
	handlers map[dispatchKey]handler
}

// New builds the approval service. Executors are registered afterwards by
// the modules owning the gated actions.
func New(st *store.Store, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{
		store:    st,
		log:      log.WithComponent("approvals"),
		handlers: make(map[dispatchKey]handler),
	}
}

// RegisterExecutor binds the executor and optional reject hook for one
// (module, target, action) triple. A later registration replaces an
// earlier one. Registration happens at composition time, before the
// service takes traffic.
func (s *Service) RegisterExecutor(module, target, action string, exec Executor, onReject RejectHook) {
	s.handlers[dispatchKey{module, target, action}] = handler{execute: exec, onReject: onReject}
}

// PolicyQuery describes a gated action for policy lookup.
type PolicyQuery struct {
	Module        string
	Target        string
	Action        string
	LegalEntityID uint
	BankAccountID uint
	Amount        decimal.Decimal
	Currency      string
	Day           time.Time
}

// EvaluatePolicy returns the policy governing an action, nil when the
// action may proceed without approval. Candidates are narrowed by scope,
// currency, amount band and effective window; the narrowest scope wins,
// ties broken by the higher minAmount, the stricter approval count, then
// the newer policy.
func (s *Service) EvaluatePolicy(tenantID uint, q PolicyQuery) (*models.ApprovalPolicy, error) {
	rows, err := s.store.PoliciesFor(tenantID, q.Module, q.Target, q.Action)
	if err != nil {
		return nil, apperrors.StorageError("loading approval policies", err)
	}
	day := q.Day
	if day.IsZero() {
		day = time.Now()
	}
	abs := q.Amount.Abs()

	var matched []models.ApprovalPolicy
	for i := range rows {
		p := rows[i]
		if !p.AppliesToScope(q.LegalEntityID, q.BankAccountID) ||
			!p.AppliesToCurrency(q.Currency) ||
			!p.AppliesToAmount(abs) ||
			!p.EffectiveOn(day) {
			continue
		}
		matched = append(matched, p)
	}
	if len(matched) == 0 {
		return nil, nil
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if ra, rb := a.ScopeType.Rank(), b.ScopeType.Rank(); ra != rb {
			return ra > rb
		}
		if c := compareMinAmount(a.MinAmount, b.MinAmount); c != 0 {
			return c > 0
		}
		if a.RequiredApprovals != b.RequiredApprovals {
			return a.RequiredApprovals > b.RequiredApprovals
		}
		return a.ID > b.ID
	})
	top := matched[0]
	return &top, nil
}

// compareMinAmount orders nil (no lower bound) below any explicit bound.
func compareMinAmount(a, b *decimal.Decimal) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Cmp(*b)
	}
}

// SubmitInput is a gated action heading into the approval queue.
// RequestKey must be stable for the underlying change so a resubmission
// replays the existing request instead of opening a second one.
type SubmitInput struct {
	Policy         *models.ApprovalPolicy
	TargetID       uint
	RequestKey     string
	LegalEntityID  *uint
	BankAccountID  *uint
	Amount         decimal.Decimal
	Currency       string
	ActionPayload  models.ApprovalPayload
	TargetSnapshot models.ApprovalPayload
	RequestedBy    uint
}

// Submit files an approval request under the given policy. When a request
// with the same key is already on file the stored one is returned with
// idempotent=true and nothing is written.
func (s *Service) Submit(tenantID uint, in SubmitInput) (*models.ApprovalRequest, bool, error) {
	if in.Policy == nil {
		return nil, false, apperrors.ValidationError(apperrors.CodeMissingPayload, "policy", nil)
	}
	if in.RequestKey == "" {
		return nil, false, apperrors.ValidationError(apperrors.CodeMissingPayload, "requestKey", in.RequestKey)
	}
	pol := in.Policy
	threshold := models.RoundMoney(in.Amount.Abs())

	req := &models.ApprovalRequest{
		TenantID:             tenantID,
		ModuleCode:           pol.ModuleCode,
		RequestCode:          newRequestCode(),
		RequestKey:           in.RequestKey,
		PolicyID:             pol.ID,
		TargetType:           pol.TargetType,
		TargetID:             in.TargetID,
		ActionType:           pol.ActionType,
		RequestStatus:        models.ApprovalPending,
		ExecutionStatus:      models.ExecutionNotExecuted,
		LegalEntityID:        in.LegalEntityID,
		BankAccountID:        in.BankAccountID,
		ThresholdAmount:      &threshold,
		CurrencyCode:         in.Currency,
		RequiredApprovals:    pol.RequiredApprovals,
		MakerCheckerRequired: pol.MakerCheckerRequired,
		AutoExecute:          pol.AutoExecuteOnFinalApproval,
		PolicySnapshot:       policySnapshot(pol),
		ActionPayload:        in.ActionPayload,
		TargetSnapshot:       in.TargetSnapshot,
		RequestedByUserID:    in.RequestedBy,
		RequestedAt:          time.Now(),
	}
	if err := s.store.InsertApprovalRequest(req); err != nil {
		if !store.IsDuplicateKey(err) {
			return nil, false, apperrors.StorageError("inserting approval request", err)
		}
		existing, lookupErr := s.store.ApprovalRequestByKey(tenantID, in.RequestKey)
		if lookupErr != nil {
			return nil, false, apperrors.StorageError("replaying approval request", lookupErr)
		}
		s.log.WithFields(logger.Fields{
			"tenant_id":   tenantID,
			"request_id":  existing.ID,
			"request_key": in.RequestKey,
		}).Info("Approval request replayed")
		return existing, true, nil
	}
	s.log.WithFields(logger.Fields{
		"tenant_id":    tenantID,
		"request_id":   req.ID,
		"request_code": req.RequestCode,
		"target":       fmt.Sprintf("%s/%s/%s", req.ModuleCode, req.TargetType, req.ActionType),
		"target_id":    req.TargetID,
	}).Info("Approval request submitted")
	return req, false, nil
}

// Decide records one checker's verdict and advances the request: any
// rejection is final, and the final approval triggers the registered
// executor when the policy asked for auto-execution.
func (s *Service) Decide(tenantID, requestID uint, principal *scope.Principal, verdict models.ApprovalDecisionVerdict, comment string) (*models.ApprovalRequest, error) {
	if !verdict.IsValid() {
		return nil, apperrors.ValidationError(apperrors.CodeUnknownEnum, "verdict", verdict)
	}

	var (
		req      *models.ApprovalRequest
		approved bool
		rejected bool
	)
	err := s.store.Transaction(func(tx *store.Store) error {
		var err error
		req, err = tx.ApprovalRequestForUpdate(tenantID, requestID)
		if err != nil {
			if store.IsNotFound(err) {
				return apperrors.NotFoundError("approval request", requestID)
			}
			return apperrors.StorageError("locking approval request", err)
		}
		if !req.RequestStatus.AcceptsDecisions() {
			return apperrors.ConflictError(apperrors.CodeDecisionAfterFinal,
				fmt.Sprintf("request %d is %s", req.ID, req.RequestStatus))
		}
		if verdict == models.VerdictApprove && req.MakerCheckerRequired && principal.UserID == req.RequestedByUserID {
			return apperrors.MakerCheckerError(req.ID)
		}
		if code := snapshotString(req.PolicySnapshot, "approverPermissionCode"); code != "" {
			if err := principal.RequirePermission(code); err != nil {
				return err
			}
		}

		if err := tx.UpsertDecision(&models.ApprovalDecision{
			TenantID:  tenantID,
			RequestID: req.ID,
			UserID:    principal.UserID,
			Verdict:   verdict,
			Comment:   comment,
		}); err != nil {
			return apperrors.StorageError("recording approval decision", err)
		}

		decisions, err := tx.DecisionsForRequest(tenantID, req.ID)
		if err != nil {
			return apperrors.StorageError("tallying approval decisions", err)
		}
		approves, rejects := 0, 0
		for _, d := range decisions {
			switch d.Verdict {
			case models.VerdictApprove:
				approves++
			case models.VerdictReject:
				rejects++
			}
		}

		now := time.Now()
		switch {
		case rejects > 0:
			req.RequestStatus = models.ApprovalRejected
			req.DecidedAt = &now
			rejected = true
		case approves >= req.RequiredApprovals:
			req.RequestStatus = models.ApprovalApproved
			req.DecidedAt = &now
			approved = true
		default:
			// Quorum not reached; the decision row is already persisted.
			return nil
		}
		if err := tx.SaveApprovalRequest(req); err != nil {
			return apperrors.StorageError("saving approval request", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := logger.Fields{
		"tenant_id":  tenantID,
		"request_id": req.ID,
		"user_id":    principal.UserID,
		"verdict":    verdict,
		"status":     req.RequestStatus,
	}
	switch {
	case rejected:
		s.log.WithFields(fields).Info("Approval request rejected")
		if err := s.runRejectHook(tenantID, req); err != nil {
			return req, err
		}
	case approved && req.AutoExecute:
		s.log.WithFields(fields).Info("Approval request approved, dispatching executor")
		if err := s.Execute(tenantID, req); err != nil {
			return req, err
		}
	case approved:
		s.log.WithFields(fields).Info("Approval request approved, execution deferred")
	default:
		s.log.WithFields(fields).Debug("Approval decision recorded, quorum pending")
	}
	return req, nil
}

// Execute dispatches an approved request to its registered executor and
// records the outcome on the request row. Decide calls it on final
// approval when the policy auto-executes; requests approved without
// auto-execution go through it explicitly.
func (s *Service) Execute(tenantID uint, req *models.ApprovalRequest) error {
	if req.RequestStatus != models.ApprovalApproved {
		return apperrors.TransitionError("approval request", req.RequestStatus, models.ApprovalExecuted)
	}
	key := dispatchKey{req.ModuleCode, req.TargetType, req.ActionType}
	h, ok := s.handlers[key]
	if !ok || h.execute == nil {
		dispatchErr := apperrors.ConflictError(apperrors.CodeUnsupportedDispatch,
			fmt.Sprintf("%s/%s/%s", req.ModuleCode, req.TargetType, req.ActionType))
		req.ExecutionStatus = models.ExecutionFailed
		req.ExecutionError = truncate(dispatchErr.Message, 500)
		if saveErr := s.store.SaveApprovalRequest(req); saveErr != nil {
			return apperrors.StorageError("saving approval request", saveErr)
		}
		return dispatchErr
	}

	req.ExecutionStatus = models.ExecutionExecuting
	if err := s.store.SaveApprovalRequest(req); err != nil {
		return apperrors.StorageError("saving approval request", err)
	}

	result, execErr := h.execute(tenantID, req)
	if execErr != nil {
		req.ExecutionStatus = models.ExecutionFailed
		req.ExecutionError = truncate(execErr.Error(), 500)
		if saveErr := s.store.SaveApprovalRequest(req); saveErr != nil {
			return apperrors.StorageError("saving approval request", saveErr)
		}
		s.log.WithError(execErr).WithFields(logger.Fields{
			"tenant_id":  tenantID,
			"request_id": req.ID,
		}).Warn("Approval execution failed")
		return execErr
	}

	now := time.Now()
	req.RequestStatus = models.ApprovalExecuted
	req.ExecutionStatus = models.ExecutionExecuted
	req.ExecutionResult = result
	req.ExecutedAt = &now
	if err := s.store.SaveApprovalRequest(req); err != nil {
		return apperrors.StorageError("saving approval request", err)
	}
	s.log.WithFields(logger.Fields{
		"tenant_id":  tenantID,
		"request_id": req.ID,
		"target":     fmt.Sprintf("%s/%s/%s", req.ModuleCode, req.TargetType, req.ActionType),
		"target_id":  req.TargetID,
	}).Info("Approval request executed")
	return nil
}

func (s *Service) runRejectHook(tenantID uint, req *models.ApprovalRequest) error {
	h, ok := s.handlers[dispatchKey{req.ModuleCode, req.TargetType, req.ActionType}]
	if !ok || h.onReject == nil {
		return nil
	}
	if err := h.onReject(tenantID, req); err != nil {
		s.log.WithError(err).WithFields(logger.Fields{
			"tenant_id":  tenantID,
			"request_id": req.ID,
		}).Warn("Reject hook failed")
		return err
	}
	return nil
}

// Get returns one request with its decision trail.
func (s *Service) Get(tenantID, id uint) (*models.ApprovalRequest, []models.ApprovalDecision, error) {
	req, err := s.store.ApprovalRequestByID(tenantID, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil, apperrors.NotFoundError("approval request", id)
		}
		return nil, nil, apperrors.StorageError("loading approval request", err)
	}
	decisions, err := s.store.DecisionsForRequest(tenantID, id)
	if err != nil {
		return nil, nil, apperrors.StorageError("loading approval decisions", err)
	}
	return req, decisions, nil
}

// List returns the tenant's requests, newest first, optionally narrowed to
// one status.
func (s *Service) List(tenantID uint, status *models.ApprovalRequestStatus) ([]models.ApprovalRequest, error) {
	rows, err := s.store.ListApprovalRequests(tenantID, status)
	if err != nil {
		return nil, apperrors.StorageError("listing approval requests", err)
	}
	return rows, nil
}

func policySnapshot(p *models.ApprovalPolicy) models.ApprovalPayload {
	snap := models.ApprovalPayload{
		"policyId":                   p.ID,
		"scopeType":                  p.ScopeType,
		"requiredApprovals":          p.RequiredApprovals,
		"makerCheckerRequired":       p.MakerCheckerRequired,
		"approverPermissionCode":     p.ApproverPermissionCode,
		"autoExecuteOnFinalApproval": p.AutoExecuteOnFinalApproval,
	}
	if p.ScopeID != nil {
		snap["scopeId"] = *p.ScopeID
	}
	if p.CurrencyCode != "" {
		snap["currencyCode"] = p.CurrencyCode
	}
	if p.MinAmount != nil {
		snap["minAmount"] = p.MinAmount.String()
	}
	if p.MaxAmount != nil {
		snap["maxAmount"] = p.MaxAmount.String()
	}
	return snap
}

func snapshotString(payload models.ApprovalPayload, key string) string {
	if payload == nil {
		return ""
	}
	v, _ := payload[key].(string)
	return v
}

func newRequestCode() string {
	return "APR-" + uuid.NewString()[:8]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
