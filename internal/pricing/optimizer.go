package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Option is one purchasable (provider, operator) offer competing for the same
// country+service pair.
type Option struct {
	ID           string
	ProviderName string
	Operator     string
	Cost         decimal.Decimal
	Stock        int
}

// Config tunes the ranking. Weights are normalized to sum to 1, so callers
// may pass any positive pair.
type Config struct {
	CostWeight  float64
	StockWeight float64
	MinStock    int
}

// DefaultConfig mirrors the production routing defaults.
func DefaultConfig() Config {
	return Config{CostWeight: 0.6, StockWeight: 0.4, MinStock: 1}
}

func (c Config) normalized() Config {
	if c.CostWeight <= 0 && c.StockWeight <= 0 {
		return DefaultConfig()
	}
	total := c.CostWeight + c.StockWeight
	c.CostWeight /= total
	c.StockWeight /= total
	if c.MinStock < 0 {
		c.MinStock = 0
	}
	return c
}

// Ranked is an option with its composite score attached.
type Ranked struct {
	Option
	Score      float64
	CostScore  float64
	StockScore float64
}

// RankOptions scores and orders options best-first. Options under the minimum
// stock are filtered out, unless that would empty the set — then the whole
// unfiltered set is ranked so callers still get an answer. Equal scores keep
// their input order.
func RankOptions(options []Option, cfg Config) []Ranked {
	if len(options) == 0 {
		return nil
	}
	cfg = cfg.normalized()

	candidates := make([]Option, 0, len(options))
	for _, o := range options {
		if o.Stock >= cfg.MinStock {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		candidates = options
	}

	minCost, maxCost := candidates[0].Cost, candidates[0].Cost
	minStock, maxStock := candidates[0].Stock, candidates[0].Stock
	for _, o := range candidates[1:] {
		if o.Cost.LessThan(minCost) {
			minCost = o.Cost
		}
		if o.Cost.GreaterThan(maxCost) {
			maxCost = o.Cost
		}
		if o.Stock < minStock {
			minStock = o.Stock
		}
		if o.Stock > maxStock {
			maxStock = o.Stock
		}
	}

	costSpread := maxCost.Sub(minCost)
	stockSpread := float64(maxStock - minStock)

	ranked := make([]Ranked, 0, len(candidates))
	for _, o := range candidates {
		// degenerate sets (all costs or all stocks equal) score 1 for the
		// shared value
		costScore := 1.0
		if !costSpread.IsZero() {
			costScore, _ = maxCost.Sub(o.Cost).Div(costSpread).Float64()
		}
		stockScore := 1.0
		if stockSpread != 0 {
			stockScore = float64(o.Stock-minStock) / stockSpread
		}
		ranked = append(ranked, Ranked{
			Option:     o,
			CostScore:  costScore,
			StockScore: stockScore,
			Score:      cfg.CostWeight*costScore + cfg.StockWeight*stockScore,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// SelectBestOption returns the top-ranked option or nil for an empty set.
func SelectBestOption(options []Option, cfg Config) *Ranked {
	ranked := RankOptions(options, cfg)
	if len(ranked) == 0 {
		return nil
	}
	best := ranked[0]
	return &best
}

// PricePoint is one operator's price entry in a vendor price table.
type PricePoint struct {
	Cost  decimal.Decimal
	Count int
}

// PriceTable is the nested country -> service -> operator price structure
// vendors publish.
type PriceTable map[string]map[string]map[string]PricePoint

// FlatOffer is one (country, service) entry with the winning operator.
type FlatOffer struct {
	Country  string
	Service  string
	Operator string
	Cost     decimal.Decimal
	Count    int
}

// FlattenPriceTable collapses a nested price table into one offer per
// (country, service), selecting the best operator when several compete.
// Output order is deterministic: countries then services, lexicographic.
func FlattenPriceTable(table PriceTable, cfg Config) []FlatOffer {
	countries := make([]string, 0, len(table))
	for c := range table {
		countries = append(countries, c)
	}
	sort.Strings(countries)

	var flat []FlatOffer
	for _, country := range countries {
		services := make([]string, 0, len(table[country]))
		for s := range table[country] {
			services = append(services, s)
		}
		sort.Strings(services)

		for _, service := range services {
			operators := table[country][service]
			if len(operators) == 0 {
				continue
			}
			names := make([]string, 0, len(operators))
			for op := range operators {
				names = append(names, op)
			}
			sort.Strings(names)

			options := make([]Option, 0, len(names))
			for _, name := range names {
				p := operators[name]
				options = append(options, Option{Operator: name, Cost: p.Cost, Stock: p.Count})
			}

			best := SelectBestOption(options, cfg)
			if best == nil {
				continue
			}
			flat = append(flat, FlatOffer{
				Country:  country,
				Service:  service,
				Operator: best.Operator,
				Cost:     best.Cost,
				Count:    best.Stock,
			})
		}
	}
	return flat
}
