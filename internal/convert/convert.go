package convert

import (
	barter_errors "barter/internal"
	"barter/internal/domain"

	"github.com/shopspring/decimal"
)

// both directions keep more precision than the credit itself so a
// round trip lands back within a rounding error
const resultPlaces = 12

func usable(from, to domain.Unit, snapshot domain.CreditSnapshot) error {
	if !snapshot.Ok() {
		reason := "credit value unavailable"
		if snapshot.ErrorMessage != "" {
			reason = reason + ": " + snapshot.ErrorMessage
		}
		return barter_errors.ConversionError{From: string(from), To: string(to), Reason: reason}
	}
	if !snapshot.Value.IsPositive() {
		return barter_errors.ConversionError{From: string(from), To: string(to), Reason: "credit value is zero"}
	}
	return nil
}

func ToPyra(amount domain.USD, snapshot domain.CreditSnapshot) (domain.Pyra, error) {
	if err := usable(domain.UnitUSD, domain.UnitPyra, snapshot); err != nil {
		return domain.Pyra{}, err
	}
	return domain.Pyra(amount.Decimal().Div(snapshot.Value).Round(resultPlaces)), nil
}

func ToUSD(amount domain.Pyra, snapshot domain.CreditSnapshot) (domain.USD, error) {
	if err := usable(domain.UnitPyra, domain.UnitUSD, snapshot); err != nil {
		return domain.USD{}, err
	}
	return domain.USD(amount.Decimal().Mul(snapshot.Value).Round(resultPlaces)), nil
}

// Convert is the untyped form used by the api where units arrive as strings
func Convert(amount decimal.Decimal, from, to domain.Unit, snapshot domain.CreditSnapshot) (decimal.Decimal, error) {
	if !from.Valid() || !to.Valid() {
		return decimal.Zero, barter_errors.ConversionError{From: string(from), To: string(to), Reason: "unknown unit"}
	}

	switch {
	case from == to:
		return amount, nil
	case from == domain.UnitUSD:
		out, err := ToPyra(domain.USD(amount), snapshot)
		return out.Decimal(), err
	default:
		out, err := ToUSD(domain.Pyra(amount), snapshot)
		return out.Decimal(), err
	}
}
