package prices

//go:generate mockgen -source=interface.go -destination=mock_prices.go -package=prices

import (
	"barter/internal/domain"
	"context"
)

type PriceSource interface {
	FetchRawPrices(ctx context.Context) ([]domain.RawPriceEntry, error)
}
