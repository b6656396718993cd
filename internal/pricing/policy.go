// Package pricing computes the credit cost of a comparison before it
// runs and after it finishes. The policy is a pure lookup; it never
// touches balances.
package pricing

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/iliarafa/llmarena/internal/domain"
)

//go:embed tiers.yaml
var defaultTiers []byte

// tierTable is the on-disk shape of the pricing configuration.
type tierTable struct {
	ModelTiers      map[int]int `yaml:"model_tiers"`
	JudgeSurcharge  int         `yaml:"judge_surcharge"`
	FusionSurcharge int         `yaml:"fusion_surcharge"`
}

// Policy prices comparisons from a tier table. The zero value is not
// usable; construct with NewPolicy or MustDefaultPolicy.
type Policy struct {
	table tierTable
}

// NewPolicy parses a YAML tier table and validates it covers every
// selectable provider count.
func NewPolicy(raw []byte) (*Policy, error) {
	var table tierTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("parse pricing tiers: %w", err)
	}

	for n := 1; n <= domain.MaxCompareProviders; n++ {
		cost, ok := table.ModelTiers[n]
		if !ok {
			return nil, fmt.Errorf("pricing tiers missing entry for %d providers", n)
		}
		if cost <= 0 {
			return nil, fmt.Errorf("pricing tier for %d providers must be positive, got %d", n, cost)
		}
	}
	if table.JudgeSurcharge < 0 || table.FusionSurcharge < 0 {
		return nil, fmt.Errorf("pricing surcharges must not be negative")
	}

	return &Policy{table: table}, nil
}

// MustDefaultPolicy returns the built-in tier table. Panics only if the
// embedded file is corrupt, which a test catches at build time.
func MustDefaultPolicy() *Policy {
	p, err := NewPolicy(defaultTiers)
	if err != nil {
		panic(err)
	}
	return p
}

// Quote is an itemized credit price for one comparison.
type Quote struct {
	// Base is the cost of the selected provider tier.
	Base int
	// JudgeSurcharge is the flat judge fee, zero when not requested.
	JudgeSurcharge int
	// FusionSurcharge is the flat synthesis fee, zero when not
	// requested.
	FusionSurcharge int
}

// Total is the full quoted price.
func (q Quote) Total() int { return q.Base + q.JudgeSurcharge + q.FusionSurcharge }

// QuoteComparison prices a request up front: tier cost for the
// selected provider count plus surcharges for each requested optional
// stage.
func (p *Policy) QuoteComparison(providerCount int, judge, fusion bool) (Quote, error) {
	if providerCount < 1 || providerCount > domain.MaxCompareProviders {
		return Quote{}, fmt.Errorf("provider count must be between 1 and %d, got %d", domain.MaxCompareProviders, providerCount)
	}

	quote := Quote{Base: p.table.ModelTiers[providerCount]}
	if judge {
		quote.JudgeSurcharge = p.table.JudgeSurcharge
	}
	if fusion {
		quote.FusionSurcharge = p.table.FusionSurcharge
	}
	return quote, nil
}

// ActualCost reprices a finished comparison, charging only for what
// actually delivered: the tier of the provider count that succeeded
// plus surcharges for the optional stages that produced output. Zero
// successes cost zero.
func (p *Policy) ActualCost(succeededCount int, judgeDelivered, fusionDelivered bool) int {
	if succeededCount <= 0 {
		return 0
	}
	if succeededCount > domain.MaxCompareProviders {
		succeededCount = domain.MaxCompareProviders
	}

	cost := p.table.ModelTiers[succeededCount]
	if judgeDelivered {
		cost += p.table.JudgeSurcharge
	}
	if fusionDelivered {
		cost += p.table.FusionSurcharge
	}
	return cost
}
