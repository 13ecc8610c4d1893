// File: internal/usecase/webhook_processor.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiorreal/quota-core/internal/catalog"
	"github.com/aiorreal/quota-core/internal/domain/model"
	"github.com/aiorreal/quota-core/internal/domain/ports/store"
	"github.com/aiorreal/quota-core/internal/infra/metrics"
)

// classifyTable maps normalized event types to a target subscription
// status, tried by first-match category.
var classifyTable = map[string]model.SubscriptionStatus{
	"REFUND":                  model.SubscriptionStatusRefunded,
	"CHARGEBACK":              model.SubscriptionStatusRefunded,
	"EXPIRATION":              model.SubscriptionStatusExpired,
	"EXPIRE":                  model.SubscriptionStatusExpired,
	"BILLING_ISSUE":           model.SubscriptionStatusBillingIssue,
	"PAUSE":                   model.SubscriptionStatusBillingIssue,
	"BILLING_ISSUE_DETECTED":  model.SubscriptionStatusBillingIssue,
	"GRACE_PERIOD":            model.SubscriptionStatusBillingIssue,
	"CANCELLATION":            model.SubscriptionStatusCancelled,
	"CANCEL":                  model.SubscriptionStatusCancelled,
	"AUTO_RENEW_DISABLED":     model.SubscriptionStatusCancelled,
	"INITIAL_PURCHASE":        model.SubscriptionStatusActive,
	"RENEWAL":                 model.SubscriptionStatusActive,
	"PRODUCT_CHANGE":          model.SubscriptionStatusActive,
	"UNCANCELLATION":          model.SubscriptionStatusActive,
	"SUBSCRIPTION_PURCHASE":   model.SubscriptionStatusActive,
}

var purchaseEventTypes = map[string]bool{
	"INITIAL_PURCHASE":     true,
	"RENEWAL":              true,
	"PRODUCT_CHANGE":       true,
	"UNCANCELLATION":       true,
	"SUBSCRIPTION_PURCHASE": true,
}

// WebhookProcessor owns webhook_events: deduplicates by event id,
// classifies event type, and drives the Subscription and Wallet managers
// accordingly.
type WebhookProcessor struct {
	store   store.Store
	catalog *catalog.Catalog
	wallets *WalletManager
	log     *zerolog.Logger
}

// NewWebhookProcessor constructs a WebhookProcessor.
func NewWebhookProcessor(s store.Store, cat *catalog.Catalog, wallets *WalletManager, log *zerolog.Logger) *WebhookProcessor {
	return &WebhookProcessor{store: s, catalog: cat, wallets: wallets, log: log}
}

// ProcessBillingEvent runs the full dedupe-classify-transition-apply flow
// for one inbound billing event: dedupe by event id, classify the target
// subscription status, compute the resulting wallet transition, apply it,
// then mark the event processed.
func (p *WebhookProcessor) ProcessBillingEvent(ctx context.Context, payload model.BillingEventPayload) error {
	eventType := model.NormalizeEventType(payload.EventType)
	eventDocID := model.EventDocID(payload.EventID, payload.UserID, eventType, timeOrEmpty(payload.PeriodStart), timeOrEmpty(payload.PeriodEnd))

	duplicate, err := p.dedup(ctx, eventDocID, payload, eventType)
	if err != nil {
		return err
	}
	if duplicate {
		metrics.IncWebhookDedup()
		if p.log != nil {
			p.log.Info().Str("event_doc_id", eventDocID).Str("user_id", payload.UserID).Msg("duplicate webhook event ignored")
		}
		return nil
	}

	var (
		updatedSub    *model.Subscription
		planChanged   bool
		periodChanged bool
		shouldOpen    bool
		shouldClose   bool
	)

	err = p.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		existingDoc, existed, err := p.store.Get(ctx, tx, store.CollectionSubscriptions, payload.UserID)
		if err != nil {
			return fmt.Errorf("read subscription %s: %w", payload.UserID, err)
		}

		var existing *model.Subscription
		if existed {
			existing = subscriptionFromFields(payload.UserID, existingDoc.Fields)
		} else {
			existing = &model.Subscription{UserID: payload.UserID}
		}

		resolvedPlanID := existing.PlanID
		resolvedPlanKey := existing.PlanKey
		resolvedCycle := existing.Cycle
		if payload.ProductID != "" {
			if plan, ok := p.catalog.ResolvePlan(payload.ProductID); ok {
				resolvedPlanID, resolvedPlanKey, resolvedCycle = plan.PlanID, plan.PlanKey, plan.Cycle
			}
		}

		targetStatus, ok := classifyTable[eventType]
		if !ok {
			targetStatus = existing.Status
			if targetStatus == "" {
				targetStatus = model.SubscriptionStatusActive
			}
		}
		isActive := model.DeriveIsActive(targetStatus)

		willRenew := isActive
		if payload.WillRenew != nil {
			willRenew = *payload.WillRenew
		}

		planChanged = resolvedPlanID != existing.PlanID
		periodChanged = payload.PeriodEnd != nil && (existing.CurrentPeriodEnd == nil || !payload.PeriodEnd.Equal(*existing.CurrentPeriodEnd))

		eventIsPurchase := purchaseEventTypes[eventType]
		shouldOpen = isActive && (eventIsPurchase || planChanged || periodChanged)
		shouldClose = existing.IsActive && (targetStatus == model.SubscriptionStatusExpired ||
			targetStatus == model.SubscriptionStatusRefunded ||
			targetStatus == model.SubscriptionStatusBillingIssue)

		now := time.Now().UTC()
		createdAt := now
		if existed {
			createdAt = existing.CreatedAt
		}
		updatedSub = &model.Subscription{
			UserID:             payload.UserID,
			Platform:           firstNonEmpty(payload.Platform, existing.Platform),
			RCAppUserID:        firstNonEmpty(payload.RCAppUserID, existing.RCAppUserID),
			ProductID:          firstNonEmpty(payload.ProductID, existing.ProductID),
			PlanID:             resolvedPlanID,
			PlanKey:            resolvedPlanKey,
			Cycle:              resolvedCycle,
			EntitlementIDs:     firstNonEmptyStrings(payload.EntitlementIDs, existing.EntitlementIDs),
			IsActive:           isActive,
			WillRenew:          willRenew,
			Status:             targetStatus,
			CurrentPeriodStart: firstNonNilTime(payload.PeriodStart, existing.CurrentPeriodStart),
			CurrentPeriodEnd:   firstNonNilTime(payload.PeriodEnd, existing.CurrentPeriodEnd),
			LastEventAt:        &now,
			OriginalPurchaseAt: firstNonNilTime(payload.OriginalPurchaseAt, existing.OriginalPurchaseAt),
			CreatedAt:          createdAt,
			UpdatedAt:          now,
		}

		expectedVersion := int64(0)
		if existed {
			expectedVersion = existingDoc.Version
		}
		if err := p.store.Set(ctx, tx, store.CollectionSubscriptions, payload.UserID, subscriptionToFields(updatedSub), true, expectedVersion); err != nil {
			return fmt.Errorf("write subscription %s: %w", payload.UserID, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("process billing event %s: %w", eventDocID, err)
	}

	if shouldClose {
		if err := p.wallets.CloseAllActive(ctx, payload.UserID, string(updatedSub.Status), true); err != nil {
			return fmt.Errorf("close wallets for %s: %w", payload.UserID, err)
		}
	}
	if shouldOpen {
		if _, err := p.wallets.Open(ctx, updatedSub, planChanged || periodChanged); err != nil {
			return fmt.Errorf("open wallet for %s: %w", payload.UserID, err)
		}
	}

	if err := p.markProcessed(ctx, eventDocID); err != nil {
		return err
	}
	return nil
}

// dedup reads-or-writes the webhook_events record inside its own
// transaction, reporting whether eventDocID had already been seen.
func (p *WebhookProcessor) dedup(ctx context.Context, eventDocID string, payload model.BillingEventPayload, eventType string) (bool, error) {
	var duplicate bool
	err := p.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		_, exists, err := p.store.Get(ctx, tx, store.CollectionWebhookEvents, eventDocID)
		if err != nil {
			return fmt.Errorf("read webhook event %s: %w", eventDocID, err)
		}
		if exists {
			duplicate = true
			return nil
		}

		now := time.Now().UTC()
		fields := map[string]any{
			"userId":          payload.UserID,
			"providerEventId": payload.EventID,
			"eventType":       eventType,
			"rcAppUserId":     payload.RCAppUserID,
			"receivedAt":      encodeTime(&now),
			"status":          "received",
			"payloadJson":     string(payload.RawEvent),
		}
		if err := p.store.Set(ctx, tx, store.CollectionWebhookEvents, eventDocID, fields, false, 0); err != nil {
			return fmt.Errorf("write webhook event %s: %w", eventDocID, err)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", eventDocID, err)
	}
	return duplicate, nil
}

func (p *WebhookProcessor) markProcessed(ctx context.Context, eventDocID string) error {
	now := time.Now().UTC()
	fields := map[string]any{
		"status":      "processed",
		"processedAt": encodeTime(&now),
	}
	if err := p.store.Set(ctx, nil, store.CollectionWebhookEvents, eventDocID, fields, true, 0); err != nil {
		return fmt.Errorf("mark processed %s: %w", eventDocID, err)
	}
	return nil
}

func timeOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonEmptyStrings(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}

func firstNonNilTime(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}
