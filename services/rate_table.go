package services

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Normalized coverage tiers
const (
	CoverageMemberOnly     = "member-only"
	CoverageMemberSpouse   = "member-spouse"
	CoverageMemberChildren = "member-children"
	CoverageFamily         = "family"
)

var coverageAliases = map[string]string{
	"member only":         CoverageMemberOnly,
	"member":              CoverageMemberOnly,
	"individual":          CoverageMemberOnly,
	"mo":                  CoverageMemberOnly,
	"ee":                  CoverageMemberOnly,
	"member spouse":       CoverageMemberSpouse,
	"member and spouse":   CoverageMemberSpouse,
	"ms":                  CoverageMemberSpouse,
	"es":                  CoverageMemberSpouse,
	"member children":     CoverageMemberChildren,
	"member child":        CoverageMemberChildren,
	"member and children": CoverageMemberChildren,
	"mc":                  CoverageMemberChildren,
	"ec":                  CoverageMemberChildren,
	"family":              CoverageFamily,
	"fam":                 CoverageFamily,
	"mf":                  CoverageFamily,
}

// NormalizePlanTier folds a plan name to its lookup key ("Base Plan" -> "base plan")
func NormalizePlanTier(plan string) string {
	return strings.Join(words(plan), " ")
}

// NormalizeCoverageTier maps the spellings seen in enrollments ("Member/Spouse",
// "Member + Spouse", "MS") onto one key. Unknown tiers normalize to their
// folded words so they miss the table instead of matching the wrong row.
func NormalizeCoverageTier(coverage string) string {
	key := strings.Join(words(coverage), " ")
	if alias, ok := coverageAliases[key]; ok {
		return alias
	}
	return key
}

// SplitPlanLabel splits a combined label such as "Base/Member-Spouse" at the
// first slash into plan tier and coverage tier.
func SplitPlanLabel(label string) (plan, coverage string) {
	parts := strings.SplitN(label, "/", 2)
	if len(parts) == 1 {
		return strings.TrimSpace(parts[0]), ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

type rateKey struct {
	plan     string
	coverage string
}

// RateEntry is one row of the commission rate configuration
type RateEntry struct {
	Plan     string          `json:"plan"`
	Coverage string          `json:"coverage"`
	Direct   decimal.Decimal `json:"direct"`
	Override decimal.Decimal `json:"override"`
}

// RateConfig is the on-disk shape of the rate table
type RateConfig struct {
	AddOnBonus decimal.Decimal `json:"addOnBonus"`
	Rates      []RateEntry     `json:"rates"`
}

// RateTable maps (plan tier, coverage tier) to direct and override amounts.
// It is built once and never mutated, so it is safe for concurrent use.
type RateTable struct {
	direct     map[rateKey]decimal.Decimal
	override   map[rateKey]decimal.Decimal
	addOnBonus decimal.Decimal
}

// NewRateTable validates a configuration and builds the table
func NewRateTable(cfg RateConfig) (*RateTable, error) {
	if cfg.AddOnBonus.IsNegative() {
		return nil, fmt.Errorf("add-on bonus must not be negative")
	}
	t := &RateTable{
		direct:     make(map[rateKey]decimal.Decimal, len(cfg.Rates)),
		override:   make(map[rateKey]decimal.Decimal, len(cfg.Rates)),
		addOnBonus: cfg.AddOnBonus,
	}
	for _, r := range cfg.Rates {
		key := rateKey{plan: NormalizePlanTier(r.Plan), coverage: NormalizeCoverageTier(r.Coverage)}
		if key.plan == "" || key.coverage == "" {
			return nil, fmt.Errorf("rate entry needs plan and coverage: %+v", r)
		}
		if _, dup := t.direct[key]; dup {
			return nil, fmt.Errorf("duplicate rate entry for %s/%s", r.Plan, r.Coverage)
		}
		if !r.Direct.IsPositive() {
			return nil, fmt.Errorf("direct rate for %s/%s must be positive", r.Plan, r.Coverage)
		}
		if r.Override.IsNegative() {
			return nil, fmt.Errorf("override rate for %s/%s must not be negative", r.Plan, r.Coverage)
		}
		t.direct[key] = r.Direct
		t.override[key] = r.Override
	}
	return t, nil
}

// LoadRateTable reads a JSON rate configuration
func LoadRateTable(r io.Reader) (*RateTable, error) {
	var cfg RateConfig
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode commission rates: %w", err)
	}
	return NewRateTable(cfg)
}

// Commission returns the direct commission: the base rate plus the add-on
// bonus for each distinct add-on.
func (t *RateTable) Commission(plan, coverage string, addOns []string) (decimal.Decimal, error) {
	key := rateKey{plan: NormalizePlanTier(plan), coverage: NormalizeCoverageTier(coverage)}
	base, ok := t.direct[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w for plan %q coverage %q", ErrNoCommissionRate, plan, coverage)
	}
	bonus := t.addOnBonus.Mul(decimal.NewFromInt(int64(countAddOns(addOns))))
	return base.Add(bonus).Round(2), nil
}

// Override returns the upline override amount for the same snapshot
func (t *RateTable) Override(plan, coverage string) (decimal.Decimal, error) {
	key := rateKey{plan: NormalizePlanTier(plan), coverage: NormalizeCoverageTier(coverage)}
	amount, ok := t.override[key]
	if !ok || !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w for override on plan %q coverage %q", ErrNoCommissionRate, plan, coverage)
	}
	return amount.Round(2), nil
}

// Keys lists configured combinations as "plan/coverage", sorted
func (t *RateTable) Keys() []string {
	keys := make([]string, 0, len(t.direct))
	for k := range t.direct {
		keys = append(keys, k.plan+"/"+k.coverage)
	}
	sort.Strings(keys)
	return keys
}

func countAddOns(addOns []string) int {
	seen := make(map[string]bool, len(addOns))
	for _, a := range addOns {
		if k := NormalizePlanTier(a); k != "" {
			seen[k] = true
		}
	}
	return len(seen)
}

// DefaultRateConfig is the rate table used when no file is configured
func DefaultRateConfig() RateConfig {
	d := decimal.RequireFromString
	row := func(plan, coverage, direct, override string) RateEntry {
		return RateEntry{Plan: plan, Coverage: coverage, Direct: d(direct), Override: d(override)}
	}
	return RateConfig{
		AddOnBonus: d("2.50"),
		Rates: []RateEntry{
			row("Base", CoverageMemberOnly, "9.00", "2.00"),
			row("Base", CoverageMemberSpouse, "15.00", "3.00"),
			row("Base", CoverageMemberChildren, "15.00", "3.00"),
			row("Base", CoverageFamily, "17.00", "4.00"),
			row("Plus", CoverageMemberOnly, "15.00", "3.00"),
			row("Plus", CoverageMemberSpouse, "22.50", "5.00"),
			row("Plus", CoverageMemberChildren, "22.50", "5.00"),
			row("Plus", CoverageFamily, "27.00", "6.00"),
			row("Elite", CoverageMemberOnly, "20.00", "4.00"),
			row("Elite", CoverageMemberSpouse, "30.00", "6.00"),
			row("Elite", CoverageMemberChildren, "30.00", "6.00"),
			row("Elite", CoverageFamily, "35.00", "7.00"),
		},
	}
}
