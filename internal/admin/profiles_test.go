package admin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-core/internal/models"
	apperrors "bank-reconciliation-core/pkg/errors"
)

func TestCreateProfileDefaults(t *testing.T) {
	e := newTestEnv(t)

	res, err := e.admin.CreateProfile(1, minimalProfileInput(4))
	require.NoError(t, err)
	assert.False(t, res.ApprovalRequired)

	prof, err := e.admin.GetProfile(1, res.Profile.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DifferenceProfileActive, prof.Status)
	assert.Equal(t, models.DifferenceDirectionBoth, prof.DirectionPolicy)
	assert.Equal(t, models.DifferenceFee, prof.DifferenceType)
	assert.True(t, prof.MaxAbsDifference.Equal(dec("10")))
	assert.Equal(t, 1, prof.VersionNo)
	assert.Equal(t, uint(4), prof.CreatedBy)
}

func TestCreateProfileValidation(t *testing.T) {
	e := newTestEnv(t)

	t.Run("missing tolerance", func(t *testing.T) {
		in := minimalProfileInput(1)
		in.MaxAbsDifference = nil
		_, err := e.admin.CreateProfile(1, in)
		assertErrCode(t, err, apperrors.CodeMissingPayload)
	})

	t.Run("fx profile without gl accounts", func(t *testing.T) {
		in := minimalProfileInput(1)
		in.DifferenceType = models.DifferenceFX
		in.ExpenseAccountID = nil
		_, err := e.admin.CreateProfile(1, in)
		assertErrCode(t, err, apperrors.CodeInvalidInput)
	})

	t.Run("fx profile with gl accounts", func(t *testing.T) {
		in := minimalProfileInput(1)
		in.DifferenceType = models.DifferenceFX
		in.FXGainAccountID = uintPtr(7201)
		in.FXLossAccountID = uintPtr(7202)
		_, err := e.admin.CreateProfile(1, in)
		require.NoError(t, err)
	})
}

func TestProfileGatedUpdateLifecycle(t *testing.T) {
	e := newTestEnv(t)
	seedPolicy(t, e.store, models.TargetDiffProfile, models.ActionUpdate, policyOpts{autoExec: true})

	created, err := e.admin.CreateProfile(1, minimalProfileInput(1))
	require.NoError(t, err)
	assert.False(t, created.ApprovalRequired)

	res, err := e.admin.UpdateProfile(1, created.Profile.ID, ProfileInput{
		MaxAbsDifference: decPtr("25"),
		ActorID:          1,
	})
	require.NoError(t, err)
	require.True(t, res.ApprovalRequired)
	require.NotNil(t, res.Request)
	assert.Equal(t, 2, res.Profile.VersionNo)

	parked, err := e.admin.GetProfile(1, created.Profile.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DifferenceProfilePaused, parked.Status)
	assert.Equal(t, models.ApprovalStatePending, parked.ApprovalState)
	assert.True(t, parked.MaxAbsDifference.Equal(dec("25")))

	req := decide(t, e, res.Request.ID, 2, models.VerdictApprove)
	assert.Equal(t, models.ApprovalExecuted, req.RequestStatus)

	live, err := e.admin.GetProfile(1, created.Profile.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DifferenceProfileActive, live.Status)
	assert.Equal(t, models.ApprovalStateApproved, live.ApprovalState)
	assert.Nil(t, live.ApprovalRequestID)
}
