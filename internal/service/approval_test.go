package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/store"
)

func TestCashierEditNeedsSingleUseApproval(t *testing.T) {
	f := newFixture(t)
	a := f.saree(t, "A", "100.00", 10)
	bill := f.sellCash(t, f.cashier, a.ID, 2, "0")
	edit := domain.UpdateBillRequest{Items: []domain.BillLineRequest{{SareeID: a.ID, Quantity: 4}}}

	state, err := f.svc.LatestEditRequest(f.as(f.cashier), bill.BillID)
	require.NoError(t, err)
	assert.Equal(t, domain.EditNone, state.Status)
	assert.Nil(t, state.Request)

	_, err = f.svc.UpdateBillFull(f.as(f.cashier), bill.BillID, edit)
	require.ErrorIs(t, err, store.ErrApprovalRequired)
	assert.Equal(t, 8, f.stock(t, a.ID))

	req, err := f.svc.RequestEditApproval(f.as(f.cashier), bill.BillID, domain.EditApprovalRequest{Reason: "customer took two more"})
	require.NoError(t, err)
	assert.Equal(t, domain.EditPending, req.Status)

	_, err = f.svc.RespondToRequest(f.as(f.cashier), req.ID, domain.EditDecisionRequest{Decision: "APPROVE"})
	require.ErrorIs(t, err, ErrForbidden)

	approved, err := f.svc.RespondToRequest(f.as(f.manager), req.ID, domain.EditDecisionRequest{Decision: "approve"})
	require.NoError(t, err)
	assert.Equal(t, domain.EditApproved, approved.Status)
	require.NotNil(t, approved.ManagerID)
	assert.Equal(t, f.manager.UserID, *approved.ManagerID)
	assert.NotNil(t, approved.RespondedAt)

	// The approval belongs to its requester.
	_, err = f.svc.UpdateBillFull(f.as(f.cashier2), bill.BillID, edit)
	require.ErrorIs(t, err, store.ErrApprovalRequired)

	resp, err := f.svc.UpdateBillFull(f.as(f.cashier), bill.BillID, edit)
	require.NoError(t, err)
	assert.True(t, resp.Subtotal.Equal(dec("400")))
	assert.Equal(t, 6, f.stock(t, a.ID))

	state, err = f.svc.LatestEditRequest(f.as(f.cashier), bill.BillID)
	require.NoError(t, err)
	assert.Equal(t, domain.EditUsed, state.Status)
	require.NotNil(t, state.Request)
	assert.NotNil(t, state.Request.UsedAt)

	_, err = f.svc.UpdateBillFull(f.as(f.cashier), bill.BillID, edit)
	require.ErrorIs(t, err, store.ErrApprovalRequired)
	f.requireLedgerConsistent(t, a.ID)
}

func TestRequestEditApprovalRules(t *testing.T) {
	f := newFixture(t)
	a := f.saree(t, "A", "100.00", 10)
	bill := f.sellCash(t, f.cashier, a.ID, 1, "0")
	ctx := f.as(f.cashier)

	_, err := f.svc.RequestEditApproval(ctx, bill.BillID, domain.EditApprovalRequest{Reason: "   "})
	require.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = f.svc.RequestEditApproval(ctx, bill.BillID+500, domain.EditApprovalRequest{Reason: "typo"})
	require.ErrorIs(t, err, store.ErrNotFound)

	first, err := f.svc.RequestEditApproval(ctx, bill.BillID, domain.EditApprovalRequest{Reason: "typo"})
	require.NoError(t, err)

	_, err = f.svc.RequestEditApproval(f.as(f.cashier2), bill.BillID, domain.EditApprovalRequest{Reason: "again"})
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = f.svc.RespondToRequest(f.as(f.manager), first.ID, domain.EditDecisionRequest{Decision: "MAYBE"})
	require.ErrorIs(t, err, store.ErrInvalidInput)

	note := "use a new bill"
	rejected, err := f.svc.RespondToRequest(f.as(f.owner), first.ID, domain.EditDecisionRequest{Decision: "REJECT", Note: &note})
	require.NoError(t, err)
	assert.Equal(t, domain.EditRejected, rejected.Status)
	assert.Equal(t, note, rejected.ManagerNote)

	_, err = f.svc.RespondToRequest(f.as(f.manager), first.ID, domain.EditDecisionRequest{Decision: "APPROVE"})
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = f.svc.UpdateBillFull(ctx, bill.BillID, domain.UpdateBillRequest{Items: []domain.BillLineRequest{{SareeID: a.ID, Quantity: 2}}})
	require.ErrorIs(t, err, store.ErrApprovalRequired)

	// A rejected request no longer blocks a new one.
	second, err := f.svc.RequestEditApproval(ctx, bill.BillID, domain.EditApprovalRequest{Reason: "second try"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = f.svc.RespondToRequest(f.as(f.manager), second.ID+999, domain.EditDecisionRequest{Decision: "APPROVE"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestManagersEditWithoutApproval(t *testing.T) {
	f := newFixture(t)
	a := f.saree(t, "A", "100.00", 10)
	bill := f.sellCash(t, f.cashier, a.ID, 1, "0")

	_, err := f.svc.UpdateBillFull(f.as(f.manager), bill.BillID, domain.UpdateBillRequest{Items: []domain.BillLineRequest{{SareeID: a.ID, Quantity: 2}}})
	require.NoError(t, err)

	state, err := f.svc.LatestEditRequest(f.as(f.manager), bill.BillID)
	require.NoError(t, err)
	assert.Equal(t, domain.EditNone, state.Status)
}

func TestFailedEditKeepsApprovalUnused(t *testing.T) {
	f := newFixture(t)
	a := f.saree(t, "A", "100.00", 10)
	bill := f.sellCash(t, f.cashier, a.ID, 2, "0")
	ctx := f.as(f.cashier)

	req, err := f.svc.RequestEditApproval(ctx, bill.BillID, domain.EditApprovalRequest{Reason: "wrong quantity"})
	require.NoError(t, err)
	_, err = f.svc.RespondToRequest(f.as(f.manager), req.ID, domain.EditDecisionRequest{Decision: "APPROVE"})
	require.NoError(t, err)

	_, err = f.svc.UpdateBillFull(ctx, bill.BillID, domain.UpdateBillRequest{Items: []domain.BillLineRequest{{SareeID: a.ID, Quantity: 99}}})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = f.svc.UpdateBillFull(ctx, bill.BillID, domain.UpdateBillRequest{Items: []domain.BillLineRequest{
		{SareeID: a.ID, Quantity: 1},
		{SareeID: a.ID + 999, Quantity: 1},
	}})
	require.ErrorIs(t, err, store.ErrNotFound)

	state, err := f.svc.LatestEditRequest(ctx, bill.BillID)
	require.NoError(t, err)
	assert.Equal(t, domain.EditApproved, state.Status)
	require.NotNil(t, state.Request)
	assert.Nil(t, state.Request.UsedAt)
	assert.Equal(t, 8, f.stock(t, a.ID))

	detail, err := f.svc.GetBill(ctx, bill.BillID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, 2, detail.Items[0].Quantity)

	resp, err := f.svc.UpdateBillFull(ctx, bill.BillID, domain.UpdateBillRequest{Items: []domain.BillLineRequest{{SareeID: a.ID, Quantity: 4}}})
	require.NoError(t, err)
	assert.True(t, resp.Subtotal.Equal(dec("400")))
	assert.Equal(t, 6, f.stock(t, a.ID))

	state, err = f.svc.LatestEditRequest(ctx, bill.BillID)
	require.NoError(t, err)
	assert.Equal(t, domain.EditUsed, state.Status)
	f.requireLedgerConsistent(t, a.ID)
}
