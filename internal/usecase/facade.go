// File: internal/usecase/facade.go
package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiorreal/quota-core/internal/catalog"
	"github.com/aiorreal/quota-core/internal/domain/model"
	"github.com/aiorreal/quota-core/internal/infra/logging"
	"github.com/aiorreal/quota-core/internal/infra/metrics"
)

// QuotaCore composes every manager into the six operations consumed by
// the outer API layer. Constructed once in cmd/app and passed by
// reference.
type QuotaCore struct {
	users    *UserManager
	subs     *SubscriptionManager
	wallets  *WalletManager
	usages   *UsageLedger
	webhooks *WebhookProcessor
	catalog  *catalog.Catalog
	log      *zerolog.Logger
}

// NewQuotaCore wires a QuotaCore from its already-constructed managers.
func NewQuotaCore(
	users *UserManager,
	subs *SubscriptionManager,
	wallets *WalletManager,
	usages *UsageLedger,
	webhooks *WebhookProcessor,
	cat *catalog.Catalog,
	log *zerolog.Logger,
) *QuotaCore {
	return &QuotaCore{
		users:    users,
		subs:     subs,
		wallets:  wallets,
		usages:   usages,
		webhooks: webhooks,
		catalog:  cat,
		log:      log,
	}
}

// EnsureQuota anchors userId as a user, optionally syncing the
// subscription from an externally-reported premium flag and product
// identifier, then returns the resulting Snapshot. premium and
// entitlementProductId are supplied by the caller's own premium-status
// oracle; this core treats them as plain input.
func (c *QuotaCore) EnsureQuota(ctx context.Context, userID string, premium bool, entitlementProductID string) (*model.Snapshot, error) {
	defer logging.TraceDuration(c.log, "QuotaCore.EnsureQuota")()

	if _, err := c.users.Ensure(ctx, userID, ""); err != nil {
		return nil, fmt.Errorf("ensure quota %s: %w", userID, err)
	}

	if premium && entitlementProductID != "" {
		if _, err := c.subs.SyncFromPlan(ctx, userID, entitlementProductID); err != nil {
			return nil, fmt.Errorf("ensure quota %s: %w", userID, err)
		}
	}

	return c.GetSnapshot(ctx, userID)
}

// GetSnapshot composes the read-only Snapshot view.
func (c *QuotaCore) GetSnapshot(ctx context.Context, userID string) (*model.Snapshot, error) {
	sub, ok, err := c.subs.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", userID, err)
	}
	if !ok {
		return nil, nil
	}

	snap := &model.Snapshot{
		PlanID:      sub.PlanID,
		PlanKey:     sub.PlanKey,
		Cycle:       sub.Cycle,
		IsActive:    sub.IsActive,
		WillRenew:   sub.WillRenew,
		PeriodStart: sub.CurrentPeriodStart,
		PeriodEnd:   sub.CurrentPeriodEnd,
	}

	wallet, ok, err := c.wallets.GetActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", userID, err)
	}
	if ok {
		snap.WalletID = wallet.ID
		snap.QuotaTotal = wallet.QuotaTotal
		snap.QuotaUsed = wallet.QuotaUsed
		snap.QuotaRemaining = wallet.Remaining()
		if wallet.PeriodStart != nil {
			snap.PeriodStart = wallet.PeriodStart
		}
		if wallet.PeriodEnd != nil {
			snap.PeriodEnd = wallet.PeriodEnd
		}
	} else if plan, ok := c.catalog.GetById(sub.PlanID); ok {
		snap.QuotaTotal = plan.Quota
		snap.QuotaRemaining = plan.Quota
	}

	return snap, nil
}

// Reserve delegates to the usage ledger and records outcome metrics.
func (c *QuotaCore) Reserve(ctx context.Context, userID, requestID, action string, amount int64) (ReserveResult, error) {
	defer logging.TraceDuration(c.log, "QuotaCore.Reserve")()

	result, err := c.usages.Reserve(ctx, userID, requestID, action, amount)
	if err != nil {
		return ReserveResult{}, fmt.Errorf("reserve %s: %w", userID, err)
	}
	outcome := "rejected"
	if result.Allowed {
		outcome = "allowed"
	}
	metrics.IncReserve(outcome)
	return result, nil
}

// Commit delegates to the usage ledger and records outcome metrics.
func (c *QuotaCore) Commit(ctx context.Context, userID, requestID string) (model.UsageStatus, bool, error) {
	defer logging.TraceDuration(c.log, "QuotaCore.Commit")()

	status, found, err := c.usages.Commit(ctx, userID, requestID)
	if err != nil {
		return "", false, fmt.Errorf("commit %s: %w", userID, err)
	}
	if found {
		metrics.IncCommit()
	}
	return status, found, nil
}

// Rollback delegates to the usage ledger and records outcome metrics.
func (c *QuotaCore) Rollback(ctx context.Context, userID, requestID string) (model.UsageStatus, bool, error) {
	defer logging.TraceDuration(c.log, "QuotaCore.Rollback")()

	status, found, err := c.usages.Rollback(ctx, userID, requestID)
	if err != nil {
		return "", false, fmt.Errorf("rollback %s: %w", userID, err)
	}
	if found {
		metrics.IncRollback()
	}
	return status, found, nil
}

// ProcessBillingEvent delegates to the webhook processor; errors
// propagate, there is no return value.
func (c *QuotaCore) ProcessBillingEvent(ctx context.Context, payload model.BillingEventPayload) error {
	defer logging.TraceDuration(c.log, "QuotaCore.ProcessBillingEvent")()

	if err := c.webhooks.ProcessBillingEvent(ctx, payload); err != nil {
		return fmt.Errorf("process billing event for %s: %w", payload.UserID, err)
	}
	metrics.IncWebhookProcessed()
	return nil
}

// ProcessRawBillingEvent is the ingestion boundary for this core: it
// normalizes an undecoded webhook delivery (epoch-or-ISO timestamps,
// nested wire shape, raw bytes retained for forensics) into a
// BillingEventPayload and runs it through ProcessBillingEvent. Whatever
// transport receives the delivery (HTTP handler, queue consumer) hands
// the raw body straight to this method.
func (c *QuotaCore) ProcessRawBillingEvent(ctx context.Context, raw []byte) error {
	payload, err := model.ParseBillingEventPayload(raw)
	if err != nil {
		return fmt.Errorf("process raw billing event: %w", err)
	}
	return c.ProcessBillingEvent(ctx, payload)
}
