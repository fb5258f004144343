package fx

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

// Static is a Converter with fixed rates. Rates maps a source currency to
// units of Target per one unit of the source.
type Static struct {
	Target core.Currency
	Rates  map[core.Currency]decimal.Decimal
	// Err, when set, is returned wrapped as an external service failure.
	Err error

	mu    sync.Mutex
	calls int
}

var _ Converter = (*Static)(nil)

func (s *Static) Convert(ctx context.Context, amountMinor int64, from core.Currency, onDate core.Date) (int64, Quote, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, Quote{}, core.External("static", err)
	}
	if s.Err != nil {
		return 0, Quote{}, core.External("static", s.Err)
	}
	rate, ok := s.Rates[from]
	if from == s.Target {
		rate, ok = decimal.NewFromInt(1), true
	}
	if !ok {
		return 0, Quote{}, core.Invalidf("no rate for %s", from)
	}
	q := Quote{Provider: "static", Base: from, Quote: s.Target, Rate: rate, RateDate: onDate, FetchedAt: time.Now().UTC()}
	return q.ConvertMinor(amountMinor), q, nil
}

// Calls reports how many conversions were attempted.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
