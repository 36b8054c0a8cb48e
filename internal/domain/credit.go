package domain

import (
	barter_errors "barter/internal"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

const NoDataMessage = "data not available"

// RawPriceEntry is one row of the upstream price list. Nil fields
// mean the feed returned null (or something that isn't a number).
type RawPriceEntry struct {
	ID        string
	Price     *decimal.Decimal
	MarketCap *decimal.Decimal
	Volume    *decimal.Decimal
}

// CreditSnapshot is the immutable result of one aggregation. Status is
// the only error signal; a zero Value on its own means nothing.
type CreditSnapshot struct {
	Value          decimal.Decimal
	Timestamp      time.Time
	TotalProcessed int
	ValidUsed      int
	Status         Status
	ErrorMessage   string

	Median decimal.Decimal
	Min    decimal.Decimal
	Max    decimal.Decimal
}

func (s CreditSnapshot) Ok() bool {
	return s.Status == StatusSuccess
}

func (s CreditSnapshot) Err() error {
	if s.Ok() {
		return nil
	}
	return barter_errors.AggregationError{
		TotalProcessed: s.TotalProcessed,
		Message:        s.ErrorMessage,
	}
}

func (s CreditSnapshot) FilterRate() Percent {
	if s.TotalProcessed == 0 {
		return 0
	}
	return PercentFromFraction(float64(s.ValidUsed) / float64(s.TotalProcessed))
}

func ErrorSnapshot(at time.Time, totalProcessed int, message string) CreditSnapshot {
	return CreditSnapshot{
		Value:          decimal.Zero,
		Timestamp:      at,
		TotalProcessed: totalProcessed,
		ValidUsed:      0,
		Status:         StatusError,
		ErrorMessage:   message,
	}
}
