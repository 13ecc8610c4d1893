// File: internal/usecase/usage_ledger.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/aiorreal/quota-core/internal/domain/model"
	"github.com/aiorreal/quota-core/internal/domain/ports/store"
)

// AdvisoryLockFunc serializes concurrent Reserve transactions for the
// same user, layered on top of (not instead of) the wallet document's
// optimistic version check. storepg.AdvisoryLockUser implements this via
// pg_advisory_xact_lock; storemem callers pass nil since its
// RunTransaction already serializes the whole store.
type AdvisoryLockFunc func(ctx context.Context, tx store.Tx, userID string) error

// ReserveResult is the outcome of a Reserve call.
type ReserveResult struct {
	Allowed   bool
	Status    model.UsageStatus
	Rejected  bool
	Remaining int64
	WalletID  string
}

// UsageLedger owns quota_usages: the two-phase reserve/commit/rollback
// protocol under document-store transactions.
type UsageLedger struct {
	store   store.Store
	wallets *WalletManager
	subs    *SubscriptionManager
	lock    AdvisoryLockFunc
}

// NewUsageLedger constructs a UsageLedger. lock may be nil.
func NewUsageLedger(s store.Store, wallets *WalletManager, subs *SubscriptionManager, lock AdvisoryLockFunc) *UsageLedger {
	return &UsageLedger{store: s, wallets: wallets, subs: subs, lock: lock}
}

// Reserve attempts to debit amount units of quota, idempotent on the
// composite key {userID, requestID}.
func (l *UsageLedger) Reserve(ctx context.Context, userID, requestID, action string, amount int64) (ReserveResult, error) {
	if requestID == "" {
		return ReserveResult{Rejected: true}, nil
	}
	if amount < 1 {
		amount = 1
	}

	sub, ok, err := l.subs.Get(ctx, userID)
	if err != nil {
		return ReserveResult{}, fmt.Errorf("reserve: load subscription: %w", err)
	}
	if !ok || !sub.IsActive {
		return ReserveResult{Rejected: true}, nil
	}

	wallet, ok, err := l.wallets.EnsureActive(ctx, sub)
	if err != nil {
		return ReserveResult{}, fmt.Errorf("reserve: ensure wallet: %w", err)
	}
	if !ok {
		return ReserveResult{Rejected: true}, nil
	}

	usageID := model.UsageDocID(userID, requestID)
	var result ReserveResult

	err = l.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if l.lock != nil {
			if err := l.lock(ctx, tx, userID); err != nil {
				return err
			}
		}

		walletDoc, walletOK, err := l.store.Get(ctx, tx, store.CollectionWallets, wallet.ID)
		if err != nil {
			return fmt.Errorf("read wallet %s: %w", wallet.ID, err)
		}
		if !walletOK {
			result = ReserveResult{Rejected: true}
			return nil
		}
		w := walletFromFields(wallet.ID, walletDoc.Fields, walletDoc.Version)
		if w.Status != model.WalletStatusActive {
			result = ReserveResult{Rejected: true, Remaining: w.Remaining(), WalletID: w.ID}
			return nil
		}

		usageDoc, usageOK, err := l.store.Get(ctx, tx, store.CollectionUsages, usageID)
		if err != nil {
			return fmt.Errorf("read usage %s: %w", usageID, err)
		}
		if usageOK {
			u := usageFromFields(usageID, usageDoc.Fields, usageDoc.Version)
			result = ReserveResult{
				Allowed:   u.Status != model.UsageStatusRolledBack,
				Status:    u.Status,
				Remaining: w.Remaining(),
				WalletID:  w.ID,
			}
			return nil
		}

		if !w.CanConsume(amount) {
			result = ReserveResult{Rejected: true, Remaining: w.Remaining(), WalletID: w.ID}
			return nil
		}

		now := time.Now().UTC()
		w.QuotaUsed += amount
		w.LastUsageAt = &now
		w.UpdatedAt = now
		if err := l.store.Set(ctx, tx, store.CollectionWallets, w.ID, walletToFields(w), true, walletDoc.Version); err != nil {
			return fmt.Errorf("update wallet %s: %w", w.ID, err)
		}

		rec := &model.UsageRecord{
			UserID:    userID,
			WalletID:  w.ID,
			RequestID: requestID,
			Action:    action,
			Amount:    amount,
			Status:    model.UsageStatusReserved,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := l.store.Set(ctx, tx, store.CollectionUsages, usageID, usageToFields(rec), false, 0); err != nil {
			return fmt.Errorf("create usage %s: %w", usageID, err)
		}

		result = ReserveResult{
			Allowed:   true,
			Status:    model.UsageStatusReserved,
			Remaining: w.Remaining(),
			WalletID:  w.ID,
		}
		return nil
	})
	if err != nil {
		return ReserveResult{}, fmt.Errorf("reserve %s/%s: %w", userID, requestID, err)
	}
	return result, nil
}

// Commit terminalizes a reservation as committed. ok=false means no
// such reservation exists.
func (l *UsageLedger) Commit(ctx context.Context, userID, requestID string) (model.UsageStatus, bool, error) {
	return l.terminalize(ctx, userID, requestID, func(u *model.UsageRecord) (bool, error) {
		if u.IsTerminal() {
			return false, nil
		}
		u.Status = model.UsageStatusCommitted
		return true, nil
	})
}

// Rollback undoes a reservation's debit and marks it rolled back. A
// commit always wins over a later rollback, since undoing the debit
// after the caller's workload ran would leak quota.
func (l *UsageLedger) Rollback(ctx context.Context, userID, requestID string) (model.UsageStatus, bool, error) {
	usageID := model.UsageDocID(userID, requestID)
	var status model.UsageStatus
	var found bool

	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		usageDoc, ok, err := l.store.Get(ctx, tx, store.CollectionUsages, usageID)
		if err != nil {
			return fmt.Errorf("read usage %s: %w", usageID, err)
		}
		if !ok {
			return nil
		}
		found = true
		u := usageFromFields(usageID, usageDoc.Fields, usageDoc.Version)

		if u.Status == model.UsageStatusCommitted || u.Status == model.UsageStatusRolledBack {
			status = u.Status
			return nil
		}

		walletDoc, walletOK, err := l.store.Get(ctx, tx, store.CollectionWallets, u.WalletID)
		if err != nil {
			return fmt.Errorf("read wallet %s: %w", u.WalletID, err)
		}
		if walletOK {
			w := walletFromFields(u.WalletID, walletDoc.Fields, walletDoc.Version)
			w.QuotaUsed -= u.Amount
			if w.QuotaUsed < 0 {
				w.QuotaUsed = 0
			}
			w.UpdatedAt = time.Now().UTC()
			if err := l.store.Set(ctx, tx, store.CollectionWallets, w.ID, walletToFields(w), true, walletDoc.Version); err != nil {
				return fmt.Errorf("update wallet %s: %w", w.ID, err)
			}
		}

		u.Status = model.UsageStatusRolledBack
		u.UpdatedAt = time.Now().UTC()
		if err := l.store.Set(ctx, tx, store.CollectionUsages, usageID, usageToFields(u), true, usageDoc.Version); err != nil {
			return fmt.Errorf("update usage %s: %w", usageID, err)
		}
		status = u.Status
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("rollback %s/%s: %w", userID, requestID, err)
	}
	return status, found, nil
}

// terminalize is the shared shape of Commit: read usage, apply mutate if
// not already terminal, write back.
func (l *UsageLedger) terminalize(ctx context.Context, userID, requestID string, mutate func(*model.UsageRecord) (bool, error)) (model.UsageStatus, bool, error) {
	usageID := model.UsageDocID(userID, requestID)
	var status model.UsageStatus
	var found bool

	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		usageDoc, ok, err := l.store.Get(ctx, tx, store.CollectionUsages, usageID)
		if err != nil {
			return fmt.Errorf("read usage %s: %w", usageID, err)
		}
		if !ok {
			return nil
		}
		found = true
		u := usageFromFields(usageID, usageDoc.Fields, usageDoc.Version)

		changed, err := mutate(u)
		if err != nil {
			return err
		}
		status = u.Status
		if !changed {
			return nil
		}
		u.UpdatedAt = time.Now().UTC()
		if err := l.store.Set(ctx, tx, store.CollectionUsages, usageID, usageToFields(u), true, usageDoc.Version); err != nil {
			return fmt.Errorf("update usage %s: %w", usageID, err)
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("terminalize %s/%s: %w", userID, requestID, err)
	}
	return status, found, nil
}

func usageToFields(u *model.UsageRecord) map[string]any {
	return map[string]any{
		"userId":    u.UserID,
		"walletId":  u.WalletID,
		"requestId": u.RequestID,
		"action":    u.Action,
		"amount":    u.Amount,
		"status":    string(u.Status),
		"createdAt": encodeTime(&u.CreatedAt),
		"updatedAt": encodeTime(&u.UpdatedAt),
	}
}

func usageFromFields(id string, f map[string]any, version int64) *model.UsageRecord {
	u := &model.UsageRecord{
		UserID:    asString(f["userId"]),
		WalletID:  asString(f["walletId"]),
		RequestID: asString(f["requestId"]),
		Action:    asString(f["action"]),
		Amount:    asInt64(f["amount"]),
		Status:    model.UsageStatus(asString(f["status"])),
		Version:   version,
	}
	if t := decodeTime(f["createdAt"]); t != nil {
		u.CreatedAt = *t
	}
	if t := decodeTime(f["updatedAt"]); t != nil {
		u.UpdatedAt = *t
	}
	return u
}
