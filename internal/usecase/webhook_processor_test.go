package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/aiorreal/quota-core/internal/catalog"
	"github.com/aiorreal/quota-core/internal/domain/model"
	"github.com/aiorreal/quota-core/internal/domain/ports/store"
	"github.com/aiorreal/quota-core/internal/infra/store/storemem"
	"github.com/aiorreal/quota-core/internal/usecase"
)

func newProcessor(s *storemem.Store, cat *catalog.Catalog) (*usecase.WebhookProcessor, *usecase.WalletManager) {
	wallets := usecase.NewWalletManager(s, cat, nil, 0, newTestLogger())
	return usecase.NewWebhookProcessor(s, cat, wallets, newTestLogger()), wallets
}

func TestWebhookProcessor_ProcessBillingEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("initial purchase activates the subscription and opens a wallet", func(t *testing.T) {
		s := storemem.New()
		cat := catalog.New()
		proc, wallets := newProcessor(s, cat)

		periodEnd := time.Now().UTC().Add(30 * 24 * time.Hour)
		err := proc.ProcessBillingEvent(ctx, model.BillingEventPayload{
			UserID:    "u1",
			EventID:   "evt-1",
			EventType: "initial_purchase",
			ProductID: "aiorreal-monthly",
			PeriodEnd: &periodEnd,
		})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		w, ok, err := wallets.GetActive(ctx, "u1")
		if err != nil || !ok {
			t.Fatalf("expected an active wallet, err=%v ok=%v", err, ok)
		}
		if w.QuotaTotal != 100 {
			t.Errorf("expected quotaTotal 100, got %d", w.QuotaTotal)
		}
	})

	t.Run("a duplicate eventId is dropped without mutating state", func(t *testing.T) {
		s := storemem.New()
		cat := catalog.New()
		proc, wallets := newProcessor(s, cat)

		periodEnd := time.Now().UTC().Add(30 * 24 * time.Hour)
		payload := model.BillingEventPayload{
			UserID:    "u1",
			EventID:   "evt-1",
			EventType: "initial_purchase",
			ProductID: "aiorreal-monthly",
			PeriodEnd: &periodEnd,
		}
		if err := proc.ProcessBillingEvent(ctx, payload); err != nil {
			t.Fatalf("first event: %v", err)
		}
		first, _, _ := wallets.GetActive(ctx, "u1")

		if err := proc.ProcessBillingEvent(ctx, payload); err != nil {
			t.Fatalf("duplicate event: %v", err)
		}
		second, _, _ := wallets.GetActive(ctx, "u1")
		if first.ID != second.ID {
			t.Error("expected a duplicate webhook event to leave the wallet untouched")
		}
	})

	t.Run("refund closes the active wallet and marks the subscription refunded", func(t *testing.T) {
		s := storemem.New()
		cat := catalog.New()
		proc, wallets := newProcessor(s, cat)

		periodEnd := time.Now().UTC().Add(30 * 24 * time.Hour)
		_ = proc.ProcessBillingEvent(ctx, model.BillingEventPayload{
			UserID: "u1", EventID: "evt-1", EventType: "initial_purchase",
			ProductID: "aiorreal-monthly", PeriodEnd: &periodEnd,
		})

		err := proc.ProcessBillingEvent(ctx, model.BillingEventPayload{
			UserID: "u1", EventID: "evt-2", EventType: "refund",
		})
		if err != nil {
			t.Fatalf("refund event: %v", err)
		}

		_, ok, _ := wallets.GetActive(ctx, "u1")
		if ok {
			t.Error("expected no active wallet after refund")
		}

		doc, found, err := s.Get(ctx, nil, store.CollectionSubscriptions, "u1")
		if err != nil || !found {
			t.Fatalf("expected a subscription document, err=%v found=%v", err, found)
		}
		if doc.Fields["status"] != string(model.SubscriptionStatusRefunded) {
			t.Errorf("expected status=refunded, got %v", doc.Fields["status"])
		}
	})

	t.Run("the raw payload is retained on the webhook_events record for forensics", func(t *testing.T) {
		s := storemem.New()
		cat := catalog.New()
		proc, _ := newProcessor(s, cat)

		periodEnd := time.Now().UTC().Add(30 * 24 * time.Hour)
		eventType := "initial_purchase"
		raw := []byte(`{"app_user_id":"u1","event":{"type":"initial_purchase"}}`)
		payload := model.BillingEventPayload{
			UserID: "u1", EventID: "evt-1", EventType: eventType,
			ProductID: "aiorreal-monthly", PeriodEnd: &periodEnd, RawEvent: raw,
		}
		if err := proc.ProcessBillingEvent(ctx, payload); err != nil {
			t.Fatalf("process event: %v", err)
		}

		docID := model.EventDocID(payload.EventID, payload.UserID, model.NormalizeEventType(eventType), "", "")
		doc, found, err := s.Get(ctx, nil, store.CollectionWebhookEvents, docID)
		if err != nil || !found {
			t.Fatalf("expected a webhook_events document, err=%v found=%v", err, found)
		}
		if doc.Fields["payloadJson"] != string(raw) {
			t.Errorf("expected payloadJson to retain the raw body, got %v", doc.Fields["payloadJson"])
		}
	})

	t.Run("plan change from monthly to yearly closes the old wallet and opens a new one", func(t *testing.T) {
		s := storemem.New()
		cat := catalog.New()
		proc, wallets := newProcessor(s, cat)

		monthlyEnd := time.Now().UTC().Add(30 * 24 * time.Hour)
		_ = proc.ProcessBillingEvent(ctx, model.BillingEventPayload{
			UserID: "u1", EventID: "evt-1", EventType: "initial_purchase",
			ProductID: "aiorreal-monthly", PeriodEnd: &monthlyEnd,
		})
		oldWallet, _, _ := wallets.GetActive(ctx, "u1")

		yearlyEnd := time.Now().UTC().Add(365 * 24 * time.Hour)
		err := proc.ProcessBillingEvent(ctx, model.BillingEventPayload{
			UserID: "u1", EventID: "evt-2", EventType: "product_change",
			ProductID: "aiorreal-yearly", PeriodEnd: &yearlyEnd,
		})
		if err != nil {
			t.Fatalf("plan change event: %v", err)
		}

		newWallet, ok, err := wallets.GetActive(ctx, "u1")
		if err != nil || !ok {
			t.Fatalf("expected a new active wallet, err=%v ok=%v", err, ok)
		}
		if newWallet.ID == oldWallet.ID {
			t.Error("expected a new wallet id after a plan change")
		}
		if newWallet.QuotaTotal != 1000 {
			t.Errorf("expected quotaTotal 1000 for the yearly plan, got %d", newWallet.QuotaTotal)
		}
	})
}
