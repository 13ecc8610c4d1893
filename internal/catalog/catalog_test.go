package catalog_test

import (
	"testing"

	"github.com/aiorreal/quota-core/internal/catalog"
	"github.com/aiorreal/quota-core/internal/domain/model"
)

func TestCatalog_ResolvePlan(t *testing.T) {
	cat := catalog.New()

	t.Run("resolves monthly product family by substring", func(t *testing.T) {
		plan, ok := cat.ResolvePlan("com.aiorreal.app.aiorreal-monthly.v2")
		if !ok {
			t.Fatal("expected a match, got none")
		}
		if plan.PlanID != "premium_monthly" {
			t.Errorf("expected premium_monthly, got %s", plan.PlanID)
		}
	})

	t.Run("resolves yearly product family by annual alias", func(t *testing.T) {
		plan, ok := cat.ResolvePlan("aiorreal-annual-plan")
		if !ok {
			t.Fatal("expected a match, got none")
		}
		if plan.PlanID != "premium_yearly" {
			t.Errorf("expected premium_yearly, got %s", plan.PlanID)
		}
	})

	t.Run("resolves exact planId", func(t *testing.T) {
		plan, ok := cat.ResolvePlan("FREE")
		if !ok {
			t.Fatal("expected a match, got none")
		}
		if plan.PlanID != "free" {
			t.Errorf("expected free, got %s", plan.PlanID)
		}
	})

	t.Run("resolves registered productId substring", func(t *testing.T) {
		plan, ok := cat.ResolvePlan("store-prefix-aiorreal-yearly-suffix")
		if !ok {
			t.Fatal("expected a match, got none")
		}
		if plan.Cycle != model.CycleYearly {
			t.Errorf("expected yearly cycle, got %s", plan.Cycle)
		}
	})

	t.Run("returns none for unmatched candidate", func(t *testing.T) {
		_, ok := cat.ResolvePlan("com.unrelated.app.basic")
		if ok {
			t.Fatal("expected no match")
		}
	})

	t.Run("returns none for empty candidate", func(t *testing.T) {
		_, ok := cat.ResolvePlan("   ")
		if ok {
			t.Fatal("expected no match for blank candidate")
		}
	})
}

func TestCatalog_GetById(t *testing.T) {
	cat := catalog.New()

	plan, ok := cat.GetById("premium_monthly")
	if !ok {
		t.Fatal("expected premium_monthly to exist")
	}
	if plan.Quota != 100 {
		t.Errorf("expected quota 100, got %d", plan.Quota)
	}

	_, ok = cat.GetById("does-not-exist")
	if ok {
		t.Fatal("expected no match for unknown plan id")
	}
}

func TestNewFromOverride(t *testing.T) {
	t.Run("falls back to defaults on malformed yaml", func(t *testing.T) {
		cat := catalog.NewFromOverride("{not valid yaml: [", nil)
		plan, ok := cat.GetById("free")
		if !ok || plan.Quota != 2 {
			t.Fatal("expected fallback to default free plan")
		}
	})

	t.Run("falls back to defaults on empty override", func(t *testing.T) {
		cat := catalog.NewFromOverride("", nil)
		_, ok := cat.GetById("premium_yearly")
		if !ok {
			t.Fatal("expected fallback to default catalog")
		}
	})

	t.Run("loads a valid override", func(t *testing.T) {
		raw := `
- planId: starter
  planKey: starter
  cycle: monthly
  quota: 50
  productIds: ["custom-starter"]
`
		cat := catalog.NewFromOverride(raw, nil)
		plan, ok := cat.GetById("starter")
		if !ok {
			t.Fatal("expected starter plan to be loaded")
		}
		if plan.Quota != 50 {
			t.Errorf("expected quota 50, got %d", plan.Quota)
		}
		resolved, ok := cat.ResolvePlan("custom-starter-v3")
		if !ok || resolved.PlanID != "starter" {
			t.Error("expected override productId substring match to resolve starter")
		}
	})

	t.Run("skips entries with invalid cycle and falls back if none remain", func(t *testing.T) {
		raw := `
- planId: broken
  cycle: weekly
  quota: 10
`
		cat := catalog.NewFromOverride(raw, nil)
		_, ok := cat.GetById("broken")
		if ok {
			t.Fatal("expected invalid-cycle entry to be skipped")
		}
		_, ok = cat.GetById("free")
		if !ok {
			t.Fatal("expected fallback to default catalog when override has no valid entries")
		}
	})
}
