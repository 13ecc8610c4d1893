// File: internal/usecase/subscription_manager.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiorreal/quota-core/internal/catalog"
	"github.com/aiorreal/quota-core/internal/domain/model"
	"github.com/aiorreal/quota-core/internal/domain/ports/store"
)

// SubscriptionManager owns subscriptions_quota: projects webhook events
// and plan-sync calls into the per-user subscription document.
type SubscriptionManager struct {
	store   store.Store
	catalog *catalog.Catalog
	wallets *WalletManager
	log     *zerolog.Logger
}

// NewSubscriptionManager constructs a SubscriptionManager. wallets may be
// nil only in tests that never exercise SyncFromPlan's wallet side effect.
func NewSubscriptionManager(s store.Store, cat *catalog.Catalog, wallets *WalletManager, log *zerolog.Logger) *SubscriptionManager {
	return &SubscriptionManager{store: s, catalog: cat, wallets: wallets, log: log}
}

// Get returns the subscription document for userID, or ok=false if none.
func (m *SubscriptionManager) Get(ctx context.Context, userID string) (*model.Subscription, bool, error) {
	doc, ok, err := m.store.Get(ctx, nil, store.CollectionSubscriptions, userID)
	if err != nil {
		return nil, false, fmt.Errorf("get subscription %s: %w", userID, err)
	}
	if !ok {
		return nil, false, nil
	}
	return subscriptionFromFields(userID, doc.Fields), true, nil
}

// SyncFromPlan resolves candidate against the catalog and writes the
// subscription document with a synthetic period computed from now,
// opening a wallet for non-free plans. A candidate the catalog cannot
// resolve is logged and ignored.
func (m *SubscriptionManager) SyncFromPlan(ctx context.Context, userID, candidate string) (*model.Subscription, error) {
	plan, ok := m.catalog.ResolvePlan(candidate)
	if !ok {
		if m.log != nil {
			m.log.Warn().Str("user_id", userID).Str("candidate", candidate).Msg("plan sync: candidate unresolvable")
		}
		return nil, nil
	}

	existing, existed, err := m.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	periodEnd := computePeriodEnd(now, plan.Cycle)
	isActive := !plan.IsFree()
	status := model.SubscriptionStatusExpired
	if isActive {
		status = model.SubscriptionStatusActive
	}

	createdAt := now
	if existed {
		createdAt = existing.CreatedAt
	}

	sub := &model.Subscription{
		UserID:             userID,
		PlanID:             plan.PlanID,
		PlanKey:            plan.PlanKey,
		Cycle:              plan.Cycle,
		IsActive:           isActive,
		WillRenew:          isActive,
		Status:             status,
		CurrentPeriodStart: &now,
		CurrentPeriodEnd:   &periodEnd,
		LastEventAt:        &now,
		CreatedAt:          createdAt,
		UpdatedAt:          now,
	}

	if err := m.store.Set(ctx, nil, store.CollectionSubscriptions, userID, subscriptionToFields(sub), true, 0); err != nil {
		return nil, fmt.Errorf("sync subscription %s: %w", userID, err)
	}

	if isActive && m.wallets != nil {
		if _, err := m.wallets.Open(ctx, sub, false); err != nil {
			return nil, fmt.Errorf("open wallet for %s: %w", userID, err)
		}
	}

	return sub, nil
}

// computePeriodEnd computes a synthetic period end: first day of next
// UTC month for monthly, same month/day one UTC year ahead for yearly.
func computePeriodEnd(start time.Time, cycle model.Cycle) time.Time {
	start = start.UTC()
	if cycle == model.CycleYearly {
		return time.Date(start.Year()+1, start.Month(), start.Day(), start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), time.UTC)
	}
	firstOfMonth := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, 1, 0)
}

func subscriptionToFields(s *model.Subscription) map[string]any {
	return map[string]any{
		"userId":             s.UserID,
		"platform":           s.Platform,
		"rcAppUserId":        s.RCAppUserID,
		"productId":          s.ProductID,
		"planId":             s.PlanID,
		"planKey":            s.PlanKey,
		"cycle":              string(s.Cycle),
		"entitlementIds":     encodeStrings(s.EntitlementIDs),
		"isActive":           s.IsActive,
		"willRenew":          s.WillRenew,
		"status":             string(s.Status),
		"currentPeriodStart": encodeTime(s.CurrentPeriodStart),
		"currentPeriodEnd":   encodeTime(s.CurrentPeriodEnd),
		"periodEnd":          encodeTime(s.CurrentPeriodEnd),
		"lastEventAt":        encodeTime(s.LastEventAt),
		"originalPurchaseAt": encodeTime(s.OriginalPurchaseAt),
		"createdAt":          encodeTime(&s.CreatedAt),
		"updatedAt":          encodeTime(&s.UpdatedAt),
	}
}

func subscriptionFromFields(userID string, f map[string]any) *model.Subscription {
	s := &model.Subscription{
		UserID:             userID,
		Platform:           asString(f["platform"]),
		RCAppUserID:        asString(f["rcAppUserId"]),
		ProductID:          asString(f["productId"]),
		PlanID:             asString(f["planId"]),
		PlanKey:            asString(f["planKey"]),
		Cycle:              model.Cycle(asString(f["cycle"])),
		EntitlementIDs:     decodeStrings(f["entitlementIds"]),
		IsActive:           asBool(f["isActive"]),
		WillRenew:          asBool(f["willRenew"]),
		Status:             model.SubscriptionStatus(asString(f["status"])),
		CurrentPeriodStart: decodeTime(f["currentPeriodStart"]),
		CurrentPeriodEnd:   decodeTime(f["currentPeriodEnd"]),
		LastEventAt:        decodeTime(f["lastEventAt"]),
		OriginalPurchaseAt: decodeTime(f["originalPurchaseAt"]),
	}
	if t := decodeTime(f["createdAt"]); t != nil {
		s.CreatedAt = *t
	}
	if t := decodeTime(f["updatedAt"]); t != nil {
		s.UpdatedAt = *t
	}
	return s
}
