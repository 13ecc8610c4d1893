package usecase_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/aiorreal/quota-core/internal/catalog"
	"github.com/aiorreal/quota-core/internal/domain/model"
	"github.com/aiorreal/quota-core/internal/infra/store/storemem"
	"github.com/aiorreal/quota-core/internal/usecase"
)

func newLedger(s *storemem.Store, cat *catalog.Catalog) (*usecase.UsageLedger, *usecase.SubscriptionManager, *usecase.WalletManager) {
	wallets := usecase.NewWalletManager(s, cat, nil, 0, newTestLogger())
	subs := usecase.NewSubscriptionManager(s, cat, wallets, newTestLogger())
	ledger := usecase.NewUsageLedger(s, wallets, subs, nil)
	return ledger, subs, wallets
}

func TestUsageLedger_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects an empty requestId", func(t *testing.T) {
		s := storemem.New()
		ledger, _, _ := newLedger(s, catalog.New())

		result, err := ledger.Reserve(ctx, "u1", "", "ai_detect", 1)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if !result.Rejected {
			t.Error("expected an empty requestId to be rejected")
		}
	})

	t.Run("rejects when there is no subscription", func(t *testing.T) {
		s := storemem.New()
		ledger, _, _ := newLedger(s, catalog.New())

		result, err := ledger.Reserve(ctx, "ghost", "req-1", "ai_detect", 1)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if !result.Rejected {
			t.Error("expected a reserve with no subscription to be rejected")
		}
	})

	t.Run("a free-plan user is inactive, so a reserve is rejected", func(t *testing.T) {
		s := storemem.New()
		cat := catalog.New()
		ledger, subs, _ := newLedger(s, cat)
		if _, err := subs.SyncFromPlan(ctx, "u1", "free"); err != nil {
			t.Fatalf("sync: %v", err)
		}
		// Free plan is inactive by definition (spec: isActive=false after a
		// free sync), so reserves against it must be rejected outright.
		result, err := ledger.Reserve(ctx, "u1", "req-1", "ai_detect", 1)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if !result.Rejected {
			t.Error("expected reserve against an inactive free subscription to be rejected")
		}
	})

	t.Run("a premium user can reserve up to their quota, then is rejected", func(t *testing.T) {
		s := storemem.New()
		cat := catalog.New()
		ledger, subs, _ := newLedger(s, cat)
		if _, err := subs.SyncFromPlan(ctx, "u1", "aiorreal-monthly"); err != nil {
			t.Fatalf("sync: %v", err)
		}

		var last usecase.ReserveResult
		for i := 0; i < 100; i++ {
			result, err := ledger.Reserve(ctx, "u1", "req-"+strconv.Itoa(i), "ai_detect", 1)
			if err != nil {
				t.Fatalf("reserve %d: %v", i, err)
			}
			if !result.Allowed {
				t.Fatalf("expected reserve %d to be allowed, got rejected (remaining=%d)", i, result.Remaining)
			}
			last = result
		}
		if last.Remaining != 0 {
			t.Errorf("expected remaining 0 after exhausting quota, got %d", last.Remaining)
		}

		rejected, err := ledger.Reserve(ctx, "u1", "req-overflow", "ai_detect", 1)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if rejected.Allowed {
			t.Error("expected the 101st reserve to be rejected")
		}
	})

	t.Run("replaying the same requestId is idempotent", func(t *testing.T) {
		s := storemem.New()
		cat := catalog.New()
		ledger, subs, _ := newLedger(s, cat)
		_, _ = subs.SyncFromPlan(ctx, "u1", "aiorreal-monthly")

		first, err := ledger.Reserve(ctx, "u1", "req-1", "ai_detect", 1)
		if err != nil || !first.Allowed {
			t.Fatalf("first reserve: allowed=%v err=%v", first.Allowed, err)
		}
		second, err := ledger.Reserve(ctx, "u1", "req-1", "ai_detect", 1)
		if err != nil {
			t.Fatalf("second reserve: %v", err)
		}
		if !second.Allowed {
			t.Error("expected a replayed requestId to remain allowed")
		}
		if second.Remaining != first.Remaining {
			t.Errorf("expected replay not to consume additional quota: first=%d second=%d", first.Remaining, second.Remaining)
		}
	})
}

func TestUsageLedger_CommitRollback(t *testing.T) {
	ctx := context.Background()

	t.Run("commit marks a reservation terminal", func(t *testing.T) {
		s := storemem.New()
		cat := catalog.New()
		ledger, subs, _ := newLedger(s, cat)
		_, _ = subs.SyncFromPlan(ctx, "u1", "aiorreal-monthly")
		_, _ = ledger.Reserve(ctx, "u1", "req-1", "ai_detect", 1)

		status, found, err := ledger.Commit(ctx, "u1", "req-1")
		if err != nil || !found {
			t.Fatalf("commit: found=%v err=%v", found, err)
		}
		if status != model.UsageStatusCommitted {
			t.Errorf("expected committed, got %s", status)
		}
	})

	t.Run("rollback after commit is ignored: commit always wins", func(t *testing.T) {
		s := storemem.New()
		cat := catalog.New()
		ledger, subs, _ := newLedger(s, cat)
		_, _ = subs.SyncFromPlan(ctx, "u1", "aiorreal-monthly")
		_, _ = ledger.Reserve(ctx, "u1", "req-1", "ai_detect", 1)
		_, _, _ = ledger.Commit(ctx, "u1", "req-1")

		status, found, err := ledger.Rollback(ctx, "u1", "req-1")
		if err != nil || !found {
			t.Fatalf("rollback: found=%v err=%v", found, err)
		}
		if status != model.UsageStatusCommitted {
			t.Errorf("expected rollback after commit to leave status committed, got %s", status)
		}
	})

	t.Run("rollback restores wallet quota", func(t *testing.T) {
		s := storemem.New()
		cat := catalog.New()
		ledger, subs, wallets := newLedger(s, cat)
		_, _ = subs.SyncFromPlan(ctx, "u1", "aiorreal-monthly")
		_, _ = ledger.Reserve(ctx, "u1", "req-1", "ai_detect", 5)

		before, _, _ := wallets.GetActive(ctx, "u1")
		status, found, err := ledger.Rollback(ctx, "u1", "req-1")
		if err != nil || !found {
			t.Fatalf("rollback: found=%v err=%v", found, err)
		}
		if status != model.UsageStatusRolledBack {
			t.Errorf("expected rolled_back, got %s", status)
		}
		after, _, _ := wallets.GetActive(ctx, "u1")
		if after.QuotaUsed != before.QuotaUsed-5 {
			t.Errorf("expected quotaUsed to decrease by 5: before=%d after=%d", before.QuotaUsed, after.QuotaUsed)
		}
	})

	t.Run("commit/rollback on an unknown requestId returns found=false", func(t *testing.T) {
		s := storemem.New()
		ledger, _, _ := newLedger(s, catalog.New())

		_, found, err := ledger.Commit(ctx, "u1", "never-reserved")
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		if found {
			t.Error("expected found=false for an unknown reservation")
		}
	})
}
