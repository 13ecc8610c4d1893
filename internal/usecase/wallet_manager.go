// File: internal/usecase/wallet_manager.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/aiorreal/quota-core/internal/catalog"
	"github.com/aiorreal/quota-core/internal/domain"
	"github.com/aiorreal/quota-core/internal/domain/model"
	"github.com/aiorreal/quota-core/internal/domain/ports/store"
	"github.com/aiorreal/quota-core/internal/infra/metrics"
	"github.com/aiorreal/quota-core/internal/infra/redis"
)

// WalletManager owns quota_wallets: opens, closes, and period-rolls
// wallets, enforcing "at most one active wallet per user".
type WalletManager struct {
	store   store.Store
	catalog *catalog.Catalog
	locker  redis.Locker
	lockTTL time.Duration
	log     *zerolog.Logger
}

// NewWalletManager constructs a WalletManager. locker may be nil, in
// which case EnsureActive skips the advisory lock. Without the lock,
// concurrent EnsureActive calls for one user are not serialized: the
// close and open steps are separate, non-transactional writes.
func NewWalletManager(s store.Store, cat *catalog.Catalog, locker redis.Locker, lockTTL time.Duration, log *zerolog.Logger) *WalletManager {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &WalletManager{store: s, catalog: cat, locker: locker, lockTTL: lockTTL, log: log}
}

// GetActive returns the single wallet with userId=U, status=active,
// ordered by periodEnd descending, taking the first. Multiple matches
// indicate a prior invariant violation; the caller treats the rest as
// stale.
func (m *WalletManager) GetActive(ctx context.Context, userID string) (*model.Wallet, bool, error) {
	return m.getActiveTx(ctx, nil, userID)
}

func (m *WalletManager) getActiveTx(ctx context.Context, tx store.Tx, userID string) (*model.Wallet, bool, error) {
	docs, err := m.store.Query(ctx, tx, store.CollectionWallets, store.Filter{
		Equals:  map[string]any{"userId": userID, "status": string(model.WalletStatusActive)},
		OrderBy: "periodEnd",
		Desc:    true,
	})
	if err != nil {
		return nil, false, fmt.Errorf("query active wallet for %s: %w", userID, err)
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return walletFromFields(docs[0].ID, docs[0].Fields, docs[0].Version), true, nil
}

// EnsureActive returns the active wallet backing subscription, opening
// or rolling it over as needed. Returns ok=false if the subscription is
// not active.
func (m *WalletManager) EnsureActive(ctx context.Context, sub *model.Subscription) (*model.Wallet, bool, error) {
	if sub == nil || !sub.IsActive {
		return nil, false, nil
	}

	var token string
	lockKey := "wallet:ensure:" + sub.UserID
	if m.locker != nil {
		t, err := m.locker.TryLock(ctx, lockKey, m.lockTTL)
		if err != nil {
			if m.log != nil {
				m.log.Warn().Err(err).Str("user_id", sub.UserID).Msg("wallet ensure lock not acquired, proceeding without it")
			}
		} else {
			token = t
			defer func() { _ = m.locker.Unlock(ctx, lockKey, token) }()
		}
	}

	existing, ok, err := m.GetActive(ctx, sub.UserID)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	if ok {
		effectiveEnd := existing.EffectiveEnd(sub.CurrentPeriodEnd)
		if effectiveEnd != nil && effectiveEnd.After(now) {
			return existing, true, nil
		}
		if sub.CurrentPeriodEnd == nil {
			if m.log != nil {
				m.log.Warn().Str("user_id", sub.UserID).Msg("ensure active wallet: subscription has no period, returning stale wallet")
			}
			return existing, true, nil
		}
	}

	if err := m.CloseAllActive(ctx, sub.UserID, "period_reset", false); err != nil {
		return nil, false, err
	}
	w, err := m.Open(ctx, sub, false)
	if err != nil {
		return nil, false, err
	}
	return w, true, nil
}

// Open writes a new active wallet for subscription. If closeExisting,
// active wallets are first closed with reason plan_change.
func (m *WalletManager) Open(ctx context.Context, sub *model.Subscription, closeExisting bool) (*model.Wallet, error) {
	plan, ok := m.catalog.GetById(sub.PlanID)
	if !ok {
		return nil, fmt.Errorf("open wallet for %s: %w", sub.UserID, domain.ErrPlanUnresolvable)
	}

	if closeExisting {
		if err := m.CloseAllActive(ctx, sub.UserID, "plan_change", false); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	w := &model.Wallet{
		ID:             ulid.Make().String(),
		UserID:         sub.UserID,
		SubscriptionID: sub.UserID,
		PlanID:         plan.PlanID,
		Scope:          plan.Cycle,
		PeriodStart:    sub.CurrentPeriodStart,
		PeriodEnd:      sub.CurrentPeriodEnd,
		QuotaTotal:     plan.Quota,
		QuotaUsed:      0,
		Status:         model.WalletStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.store.Set(ctx, nil, store.CollectionWallets, w.ID, walletToFields(w), false, 0); err != nil {
		return nil, fmt.Errorf("open wallet for %s: %w", sub.UserID, err)
	}
	metrics.IncWalletOpened()
	return w, nil
}

// CloseAllActive closes every active wallet for userID, setting
// quotaUsed = quotaTotal when setRemainingToZero. Writes are a
// best-effort batch, not atomic as a group: each wallet close is
// independently atomic.
func (m *WalletManager) CloseAllActive(ctx context.Context, userID, reason string, setRemainingToZero bool) error {
	docs, err := m.store.Query(ctx, nil, store.CollectionWallets, store.Filter{
		Equals: map[string]any{"userId": userID, "status": string(model.WalletStatusActive)},
	})
	if err != nil {
		return fmt.Errorf("query active wallets for %s: %w", userID, err)
	}
	if len(docs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	batch := m.store.Batch(ctx)
	for _, d := range docs {
		w := walletFromFields(d.ID, d.Fields, d.Version)
		w.Status = model.WalletStatusClosed
		w.ClosedReason = reason
		w.ClosedAt = &now
		w.UpdatedAt = now
		if setRemainingToZero {
			w.QuotaUsed = w.QuotaTotal
		}
		batch.Set(store.CollectionWallets, w.ID, walletToFields(w), true)
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("close active wallets for %s: %w", userID, err)
	}
	for range docs {
		metrics.IncWalletClosed(reason)
	}
	return nil
}

func walletToFields(w *model.Wallet) map[string]any {
	return map[string]any{
		"id":             w.ID,
		"userId":         w.UserID,
		"subscriptionId": w.SubscriptionID,
		"planId":         w.PlanID,
		"scope":          string(w.Scope),
		"periodStart":    encodeTime(w.PeriodStart),
		"periodEnd":      encodeTime(w.PeriodEnd),
		"quotaTotal":     w.QuotaTotal,
		"quotaUsed":      w.QuotaUsed,
		"status":         string(w.Status),
		"lastUsageAt":    encodeTime(w.LastUsageAt),
		"closedReason":   w.ClosedReason,
		"closedAt":       encodeTime(w.ClosedAt),
		"createdAt":      encodeTime(&w.CreatedAt),
		"updatedAt":      encodeTime(&w.UpdatedAt),
	}
}

func walletFromFields(id string, f map[string]any, version int64) *model.Wallet {
	w := &model.Wallet{
		ID:             id,
		UserID:         asString(f["userId"]),
		SubscriptionID: asString(f["subscriptionId"]),
		PlanID:         asString(f["planId"]),
		Scope:          model.Cycle(asString(f["scope"])),
		PeriodStart:    decodeTime(f["periodStart"]),
		PeriodEnd:      decodeTime(f["periodEnd"]),
		QuotaTotal:     asInt64(f["quotaTotal"]),
		QuotaUsed:      asInt64(f["quotaUsed"]),
		Status:         model.WalletStatus(asString(f["status"])),
		LastUsageAt:    decodeTime(f["lastUsageAt"]),
		ClosedReason:   asString(f["closedReason"]),
		ClosedAt:       decodeTime(f["closedAt"]),
		Version:        version,
	}
	if t := decodeTime(f["createdAt"]); t != nil {
		w.CreatedAt = *t
	}
	if t := decodeTime(f["updatedAt"]); t != nil {
		w.UpdatedAt = *t
	}
	return w
}
