package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sareebill/backend/internal/domain"
	"sareebill/backend/internal/store"
)

// RequestEditApproval opens a PENDING request on the bill. Only one request
// per bill may be pending at a time.
func (s *Service) RequestEditApproval(ctx context.Context, billID int64, req domain.EditApprovalRequest) (domain.EditRequest, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.EditRequest{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.EditRequest{}, fmt.Errorf("%w: reason is required", store.ErrInvalidInput)
	}

	var created domain.EditRequest
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		bill, err := lockShopBill(ctx, tx, actor, billID)
		if err != nil {
			return err
		}
		if _, err := tx.FindPendingEditRequest(ctx, bill.ID); err == nil {
			return fmt.Errorf("%w: bill %d already has a pending edit request", store.ErrConflict, bill.ID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		saved, err := tx.InsertEditRequest(ctx, domain.EditRequest{
			BillID:      bill.ID,
			RequesterID: actor.UserID,
			Reason:      reason,
			Status:      domain.EditPending,
			RequestedAt: s.now(),
		})
		if err != nil {
			return err
		}
		created = *saved
		return nil
	})
	if err != nil {
		return domain.EditRequest{}, err
	}

	s.logAudit(ctx, actor.ShopID, "edit_request_create", "bill", billID, fmt.Sprintf("request=%d", created.ID))
	return created, nil
}

// RespondToRequest approves or rejects a pending request. Managers and
// owners of the bill's shop only.
func (s *Service) RespondToRequest(ctx context.Context, requestID int64, req domain.EditDecisionRequest) (domain.EditRequest, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.EditRequest{}, err
	}
	req.Decision = strings.ToUpper(strings.TrimSpace(req.Decision))
	if err := s.validateStruct(req); err != nil {
		return domain.EditRequest{}, err
	}

	var updated domain.EditRequest
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetEditRequest(ctx, requestID)
		if err != nil {
			return err
		}
		// Bill first, then request: the same order UpdateBillFull takes.
		if _, err := lockShopBill(ctx, tx, actor, current.BillID); err != nil {
			return err
		}
		locked, err := tx.LockEditRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if locked.Status != domain.EditPending {
			return fmt.Errorf("%w: edit request %d is %s", store.ErrConflict, requestID, locked.Status)
		}

		now := s.now()
		managerID := actor.UserID
		locked.Status = domain.EditRejected
		if req.Decision == "APPROVE" {
			locked.Status = domain.EditApproved
		}
		locked.ManagerID = &managerID
		locked.RespondedAt = &now
		if req.Note != nil {
			locked.ManagerNote = strings.TrimSpace(*req.Note)
		}
		if err := tx.UpdateEditRequest(ctx, *locked); err != nil {
			return err
		}
		updated = *locked
		return nil
	})
	if err != nil {
		return domain.EditRequest{}, err
	}

	s.logAudit(ctx, actor.ShopID, "edit_request_respond", "bill", updated.BillID, fmt.Sprintf("request=%d,status=%s", updated.ID, updated.Status))
	return updated, nil
}

// LatestEditRequest reports the most recent request on the bill, or NONE.
func (s *Service) LatestEditRequest(ctx context.Context, billID int64) (domain.EditRequestState, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.EditRequestState{}, err
	}
	bill, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return domain.EditRequestState{}, err
	}
	if bill.ShopID != actor.ShopID {
		return domain.EditRequestState{}, fmt.Errorf("%w: bill %d", store.ErrNotFound, billID)
	}

	latest, err := s.repo.GetLatestEditRequest(ctx, billID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.EditRequestState{BillID: billID, Status: domain.EditNone}, nil
	}
	if err != nil {
		return domain.EditRequestState{}, err
	}
	return domain.EditRequestState{BillID: billID, Status: latest.Status, Request: latest}, nil
}
