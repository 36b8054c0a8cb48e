package domain

import (
	"github.com/shopspring/decimal"
)

// typed units for the two sides of a conversion. a bare
// decimal doesn't say whether it's dollars or credits, and
// mixing them up silently is the easiest bug to write here

type Unit string

const (
	UnitUSD  Unit = "usd"
	UnitPyra Unit = "pyra"
)

func (u Unit) Valid() bool {
	return u == UnitUSD || u == UnitPyra
}

type USD decimal.Decimal
type Pyra decimal.Decimal

func (u USD) Decimal() decimal.Decimal {
	return decimal.Decimal(u)
}

func (p Pyra) Decimal() decimal.Decimal {
	return decimal.Decimal(p)
}

// Percent is stored as a fraction
type Percent float64

func (p Percent) AsFraction() float64 {
	return float64(p)
}

func (p Percent) AsPercent() float64 {
	return p.AsFraction() * 100
}

func PercentFromFraction(f float64) Percent {
	return Percent(f)
}
