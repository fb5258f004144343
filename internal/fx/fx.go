// Package fx converts foreign-currency amounts into the ledger's base
// currency at the rate published for a given day.
package fx

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

// Converter prices amountMinor (minor units of from) in the base currency on
// onDate. Implementations return errors tagged core.ErrExternalService when
// the rate source fails.
type Converter interface {
	Convert(ctx context.Context, amountMinor int64, from core.Currency, onDate core.Date) (int64, Quote, error)
}

// Quote is the rate used for one conversion: Rate units of Quote per one Base.
type Quote struct {
	Provider  string
	Base      core.Currency
	Quote     core.Currency
	Rate      decimal.Decimal
	RateDate  core.Date
	FetchedAt time.Time
}

var million = decimal.NewFromInt(1_000_000)

// RateMicros is the rate scaled by one million, rounded half-up.
func (q Quote) RateMicros() int64 {
	return roundHalfUp(q.Rate.Mul(million))
}

// Details records how a converted posting was priced.
func (q Quote) Details(sourceAmount int64) *core.FXDetails {
	return &core.FXDetails{
		SourceCurrency: q.Base,
		SourceAmount:   core.Money{Cents: sourceAmount},
		RateMicros:     q.RateMicros(),
		RateDate:       q.RateDate,
		Provider:       q.Provider,
		FetchedAt:      q.FetchedAt,
	}
}

// ApplyMarkup lowers the rate by bps basis points.
func (q Quote) ApplyMarkup(bps int) Quote {
	if bps == 0 {
		return q
	}
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromInt(int64(bps)).Div(decimal.NewFromInt(10_000)))
	q.Rate = q.Rate.Mul(factor)
	return q
}

// ConvertMinor applies the quote to amountMinor, rounding half-up to a whole
// minor unit.
func (q Quote) ConvertMinor(amountMinor int64) int64 {
	return roundHalfUp(decimal.NewFromInt(amountMinor).Mul(q.Rate))
}

// roundHalfUp rounds to an integer with ties away from zero, which is
// half-up for the non-negative amounts the ledger stores.
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
