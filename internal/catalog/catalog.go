// Package catalog holds the process-wide, immutable plan table: quota
// amount, cycle, and canonical identifiers per plan. It is constructed
// once at startup (optionally overridden by a config string) and never
// mutated afterward: a read-only, in-memory table with no store-backed
// repository behind it, since it is intentionally small enough to keep
// fully in process memory.
package catalog

import (
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/aiorreal/quota-core/internal/domain/model"
)

// Entry is the YAML/JSON override shape for one catalog row, using the
// same camelCase field names as the rest of the wire vocabulary.
type Entry struct {
	PlanID     string   `yaml:"planId" json:"planId"`
	PlanKey    string   `yaml:"planKey" json:"planKey"`
	Cycle      string   `yaml:"cycle" json:"cycle"`
	Quota      int64    `yaml:"quota" json:"quota"`
	ProductIDs []string `yaml:"productIds" json:"productIds"`
}

// Catalog is the resolved, immutable plan table.
type Catalog struct {
	entries []model.PlanConfig
	byID    map[string]model.PlanConfig
}

// defaultEntries is the embedded default plan table.
func defaultEntries() []model.PlanConfig {
	return []model.PlanConfig{
		{PlanID: "free", PlanKey: "free", Cycle: model.CycleMonthly, Quota: 2, ProductIDs: nil},
		{
			PlanID: "premium_monthly", PlanKey: "premium_monthly", Cycle: model.CycleMonthly, Quota: 100,
			ProductIDs: []string{"aiorreal-monthly"},
		},
		{
			PlanID: "premium_yearly", PlanKey: "premium_yearly", Cycle: model.CycleYearly, Quota: 1000,
			ProductIDs: []string{"aiorreal-yearly", "aiorreal-annual"},
		},
	}
}

// New builds a Catalog from the default table.
func New() *Catalog {
	return build(defaultEntries())
}

// NewFromOverride parses raw as a YAML (or JSON, a YAML subset) list of
// Entry, or as an object whose "plans" key holds that list, and builds a
// Catalog from it. A parse failure or empty override
// logs a warning via log and falls back to the embedded defaults — the
// catalog must never fail to load.
func NewFromOverride(raw string, log *zerolog.Logger) *Catalog {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return New()
	}

	var entries []Entry
	err := yaml.Unmarshal([]byte(trimmed), &entries)
	if err != nil {
		var wrapped struct {
			Plans []Entry `yaml:"plans"`
		}
		if werr := yaml.Unmarshal([]byte(trimmed), &wrapped); werr == nil {
			entries, err = wrapped.Plans, nil
		}
	}
	if err != nil || len(entries) == 0 {
		if log != nil {
			ev := log.Warn()
			if err != nil {
				ev = ev.Err(err)
			}
			ev.Msg("catalog override unparsable, falling back to default plan table")
		}
		return New()
	}

	configs := make([]model.PlanConfig, 0, len(entries))
	for _, e := range entries {
		cycle := model.Cycle(strings.ToLower(strings.TrimSpace(e.Cycle)))
		if cycle != model.CycleMonthly && cycle != model.CycleYearly {
			if log != nil {
				log.Warn().Str("plan_id", e.PlanID).Str("cycle", e.Cycle).Msg("catalog entry has invalid cycle, skipping")
			}
			continue
		}
		configs = append(configs, model.PlanConfig{
			PlanID:     e.PlanID,
			PlanKey:    e.PlanKey,
			Cycle:      cycle,
			Quota:      e.Quota,
			ProductIDs: e.ProductIDs,
		})
	}
	if len(configs) == 0 {
		if log != nil {
			log.Warn().Msg("catalog override contained no valid entries, falling back to default plan table")
		}
		return New()
	}
	return build(configs)
}

func build(entries []model.PlanConfig) *Catalog {
	byID := make(map[string]model.PlanConfig, len(entries))
	for _, e := range entries {
		byID[strings.ToLower(e.PlanID)] = e
	}
	return &Catalog{entries: entries, byID: byID}
}

// GetById is an exact, case-insensitive lookup.
func (c *Catalog) GetById(planID string) (model.PlanConfig, bool) {
	p, ok := c.byID[strings.ToLower(strings.TrimSpace(planID))]
	return p, ok
}

// ResolvePlan applies a three-tier matching strategy, tried in order:
// monthly/yearly product-family substrings, exact planId, then any
// registered productId as a substring of the candidate.
func (c *Catalog) ResolvePlan(candidate string) (model.PlanConfig, bool) {
	needle := strings.ToLower(strings.TrimSpace(candidate))
	if needle == "" {
		return model.PlanConfig{}, false
	}

	if strings.Contains(needle, "aiorreal-monthly") {
		if p, ok := c.findByCycle(model.CycleMonthly); ok {
			return p, true
		}
	}
	if strings.Contains(needle, "aiorreal-yearly") || strings.Contains(needle, "aiorreal-annual") {
		if p, ok := c.findByCycle(model.CycleYearly); ok {
			return p, true
		}
	}

	if p, ok := c.GetById(needle); ok {
		return p, true
	}

	for _, p := range c.entries {
		for _, pid := range p.ProductIDs {
			pid = strings.ToLower(strings.TrimSpace(pid))
			if pid != "" && strings.Contains(needle, pid) {
				return p, true
			}
		}
	}

	return model.PlanConfig{}, false
}

// findByCycle returns the first non-free entry matching cycle; used by
// the product-family substring rules, which only ever target premium
// plans.
func (c *Catalog) findByCycle(cycle model.Cycle) (model.PlanConfig, bool) {
	for _, p := range c.entries {
		if p.IsFree() {
			continue
		}
		if p.Cycle == cycle {
			return p, true
		}
	}
	return model.PlanConfig{}, false
}
