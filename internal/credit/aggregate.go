package credit

import (
	"barter/internal/domain"
	"barter/internal/util"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

const (
	NoValidPricesMessage = "no valid prices"
	valuePlaces          = 6
)

var (
	DefaultMinPrice = decimal.RequireFromString("0.01")
	// anything above $1M a coin is almost certainly a feed error
	DefaultMaxPrice = decimal.NewFromInt(1000000)
)

type AggregatorConfig struct {
	MinPrice decimal.Decimal
	// zero disables the ceiling
	MaxPrice decimal.Decimal
	// drop coins without a market cap or with no trading volume
	RequireMarketData bool
}

func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		MinPrice: DefaultMinPrice,
		MaxPrice: DefaultMaxPrice,
	}
}

type Aggregator struct {
	cfg AggregatorConfig
	now func() time.Time
}

func NewAggregator(cfg AggregatorConfig, now func() time.Time) Aggregator {
	if now == nil {
		now = time.Now
	}
	return Aggregator{cfg: cfg, now: now}
}

// Aggregate averages the prices that survive filtering. It never fails;
// an input with nothing usable yields an error-status snapshot.
func (a Aggregator) Aggregate(entries []domain.RawPriceEntry) domain.CreditSnapshot {
	at := a.now().UTC()
	valid := a.filter(entries)
	if len(valid) == 0 {
		return domain.ErrorSnapshot(at, len(entries), NoValidPricesMessage)
	}

	sum := decimal.Zero
	floats := make(stats.Float64Data, len(valid))
	for i, p := range valid {
		sum = sum.Add(p)
		floats[i] = p.InexactFloat64()
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(valid)))).Round(valuePlaces)

	out := domain.CreditSnapshot{
		Value:          mean,
		Timestamp:      at,
		TotalProcessed: len(entries),
		ValidUsed:      len(valid),
		Status:         domain.StatusSuccess,
	}

	// stats only errors on empty input, which we've ruled out
	if median, err := stats.Median(floats); err == nil {
		out.Median = decimal.NewFromFloat(median).Round(valuePlaces)
	}
	if min, err := stats.Min(floats); err == nil {
		out.Min = decimal.NewFromFloat(min).Round(valuePlaces)
	}
	if max, err := stats.Max(floats); err == nil {
		out.Max = decimal.NewFromFloat(max).Round(valuePlaces)
	}

	return out
}

func (a Aggregator) filter(entries []domain.RawPriceEntry) []decimal.Decimal {
	seen := util.NewSet[string]()
	out := []decimal.Decimal{}
	for _, e := range entries {
		if !a.accept(e) {
			continue
		}
		if e.ID != "" {
			if seen.Contains(e.ID) {
				continue
			}
			seen.Add(e.ID)
		}
		out = append(out, *e.Price)
	}
	return out
}

func (a Aggregator) accept(e domain.RawPriceEntry) bool {
	if e.Price == nil {
		return false
	}
	price := *e.Price
	if !price.IsPositive() || price.LessThan(a.cfg.MinPrice) {
		return false
	}
	if a.cfg.MaxPrice.IsPositive() && price.GreaterThan(a.cfg.MaxPrice) {
		return false
	}
	if a.cfg.RequireMarketData {
		if e.MarketCap == nil || !e.MarketCap.IsPositive() {
			return false
		}
		if e.Volume != nil && !e.Volume.IsPositive() {
			return false
		}
	}
	return true
}
