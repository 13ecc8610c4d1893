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

func newActiveSub(userID, planID string, cycle model.Cycle, periodEnd time.Time) *model.Subscription {
	start := periodEnd.AddDate(0, -1, 0)
	return &model.Subscription{
		UserID:             userID,
		PlanID:             planID,
		Cycle:              cycle,
		IsActive:           true,
		WillRenew:          true,
		Status:             model.SubscriptionStatusActive,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &periodEnd,
		UpdatedAt:          time.Now().UTC(),
	}
}

func TestWalletManager_EnsureActive(t *testing.T) {
	ctx := context.Background()

	t.Run("returns ok=false for an inactive subscription", func(t *testing.T) {
		wallets := usecase.NewWalletManager(storemem.New(), catalog.New(), nil, 0, newTestLogger())
		_, ok, err := wallets.EnsureActive(ctx, &model.Subscription{IsActive: false})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if ok {
			t.Fatal("expected ok=false for an inactive subscription")
		}
	})

	t.Run("returns ok=false for a nil subscription", func(t *testing.T) {
		wallets := usecase.NewWalletManager(storemem.New(), catalog.New(), nil, 0, newTestLogger())
		_, ok, err := wallets.EnsureActive(ctx, nil)
		if err != nil || ok {
			t.Fatalf("expected ok=false, nil error; got ok=%v err=%v", ok, err)
		}
	})

	t.Run("opens a wallet on first call", func(t *testing.T) {
		wallets := usecase.NewWalletManager(storemem.New(), catalog.New(), nil, 0, newTestLogger())
		sub := newActiveSub("u1", "premium_monthly", model.CycleMonthly, time.Now().UTC().Add(30*24*time.Hour))

		w, ok, err := wallets.EnsureActive(ctx, sub)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if !ok {
			t.Fatal("expected a wallet to be opened")
		}
		if w.QuotaTotal != 100 || w.QuotaUsed != 0 {
			t.Errorf("unexpected wallet: %+v", w)
		}
	})

	t.Run("a second call within the same period returns the same wallet", func(t *testing.T) {
		wallets := usecase.NewWalletManager(storemem.New(), catalog.New(), nil, 0, newTestLogger())
		sub := newActiveSub("u1", "premium_monthly", model.CycleMonthly, time.Now().UTC().Add(30*24*time.Hour))

		first, _, _ := wallets.EnsureActive(ctx, sub)
		second, _, _ := wallets.EnsureActive(ctx, sub)
		if first.ID != second.ID {
			t.Error("expected the same active wallet to be returned without opening a new one")
		}
	})

	t.Run("rolls over to a new wallet once the period has elapsed", func(t *testing.T) {
		s := storemem.New()
		wallets := usecase.NewWalletManager(s, catalog.New(), nil, 0, newTestLogger())

		expiredEnd := time.Now().UTC().Add(-time.Hour)
		expiredSub := newActiveSub("u1", "premium_monthly", model.CycleMonthly, expiredEnd)
		first, _, _ := wallets.EnsureActive(ctx, expiredSub)

		newEnd := time.Now().UTC().Add(30 * 24 * time.Hour)
		renewedSub := newActiveSub("u1", "premium_monthly", model.CycleMonthly, newEnd)
		second, ok, err := wallets.EnsureActive(ctx, renewedSub)
		if err != nil || !ok {
			t.Fatalf("expected a rolled-over wallet, err=%v ok=%v", err, ok)
		}
		if second.ID == first.ID {
			t.Error("expected a new wallet id after period rollover")
		}
		if second.QuotaUsed != 0 {
			t.Errorf("expected fresh wallet to start at quotaUsed=0, got %d", second.QuotaUsed)
		}
	})
}

func TestWalletManager_CloseAllActive(t *testing.T) {
	ctx := context.Background()
	s := storemem.New()
	wallets := usecase.NewWalletManager(s, catalog.New(), nil, 0, newTestLogger())
	sub := newActiveSub("u1", "premium_monthly", model.CycleMonthly, time.Now().UTC().Add(30*24*time.Hour))

	w, _, _ := wallets.EnsureActive(ctx, sub)

	if err := wallets.CloseAllActive(ctx, "u1", "refunded", true); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, ok, _ := wallets.GetActive(ctx, "u1")
	if ok {
		t.Fatal("expected no active wallet after CloseAllActive")
	}

	doc, _, _ := s.Get(ctx, nil, store.CollectionWallets, w.ID)
	if doc.Fields["status"] != "closed" {
		t.Error("expected wallet status to be closed")
	}
	if doc.Fields["quotaUsed"] != doc.Fields["quotaTotal"] {
		t.Error("expected quotaUsed to be set to quotaTotal when setRemainingToZero is true")
	}
}
