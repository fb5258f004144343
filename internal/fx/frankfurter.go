package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/log"
)

const ProviderFrankfurter = "frankfurter"

// FrankfurterConfig configures the Frankfurter client.
type FrankfurterConfig struct {
	BaseURL   string
	Target    core.Currency
	Timeout   time.Duration
	MarkupBPS int
	CacheSize int
	CacheTTL  time.Duration
	// RequestsPerSecond throttles outbound calls. Zero disables throttling.
	RequestsPerSecond float64
}

// Frankfurter fetches daily reference rates from the Frankfurter API.
// Raw quotes are cached per (date, from, to); the markup is applied on
// every conversion.
type Frankfurter struct {
	baseURL   string
	target    core.Currency
	markupBPS int
	client    *http.Client
	quotes    *cache.LRUCache[quoteKey, Quote]
	group     singleflight.Group
	limiter   *rate.Limiter
	now       func() time.Time
}

type quoteKey struct {
	date     string
	from, to core.Currency
}

var _ Converter = (*Frankfurter)(nil)

func NewFrankfurter(cfg FrankfurterConfig) *Frankfurter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Target == "" {
		cfg.Target = core.EUR
	}
	f := &Frankfurter{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		target:    cfg.Target,
		markupBPS: cfg.MarkupBPS,
		client:    &http.Client{Timeout: cfg.Timeout},
		quotes:    cache.NewLRUCache[quoteKey, Quote](cfg.CacheSize, cfg.CacheTTL),
		now:       time.Now,
	}
	if cfg.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return f
}

// Cache exposes the quote cache so it can be registered for periodic cleanup.
func (f *Frankfurter) Cache() cache.Cleaner {
	return f.quotes
}

func (f *Frankfurter) Convert(ctx context.Context, amountMinor int64, from core.Currency, onDate core.Date) (int64, Quote, error) {
	if err := from.Validate(); err != nil {
		return 0, Quote{}, err
	}
	if amountMinor < 0 {
		return 0, Quote{}, core.ErrInvalidAmount
	}
	if from == f.target {
		q := Quote{Provider: ProviderFrankfurter, Base: from, Quote: f.target, Rate: decimal.NewFromInt(1), RateDate: onDate, FetchedAt: f.now().UTC()}
		return amountMinor, q, nil
	}

	q, err := f.QuoteFor(ctx, from, onDate)
	if err != nil {
		return 0, Quote{}, err
	}
	q = q.ApplyMarkup(f.markupBPS)
	return q.ConvertMinor(amountMinor), q, nil
}

// QuoteFor returns the unmarked-up rate from -> target published for onDate
// (or the closest earlier business day, as the provider reports).
func (f *Frankfurter) QuoteFor(ctx context.Context, from core.Currency, onDate core.Date) (Quote, error) {
	key := quoteKey{date: onDate.String(), from: from, to: f.target}
	if q, ok := f.quotes.Get(key); ok {
		return q, nil
	}

	sfKey := fmt.Sprintf("%s:%s:%s", key.date, key.from, key.to)
	v, err, shared := f.group.Do(sfKey, func() (any, error) {
		q, err := f.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		f.quotes.Set(key, q)
		return q, nil
	})
	if err != nil {
		return Quote{}, err
	}
	if shared {
		slog.DebugContext(ctx, "Shared FX quote fetch", log.FieldComponent, log.ComponentFX, "date", key.date)
	}
	return v.(Quote), nil
}

type frankfurterResponse struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

func (f *Frankfurter) fetch(ctx context.Context, key quoteKey) (Quote, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return Quote{}, core.External(ProviderFrankfurter, err)
		}
	}

	q := url.Values{}
	q.Set("from", string(key.from))
	q.Set("to", string(key.to))
	endpoint := fmt.Sprintf("%s/%s?%s", f.baseURL, key.date, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, core.External(ProviderFrankfurter, err)
	}
	req.Header.Set("Accept", "application/json")

	fetchedAt := f.now().UTC()
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "FX request failed",
			log.FieldComponent, log.ComponentFX,
			"date", key.date,
			log.FieldError, err)
		return Quote{}, core.External(ProviderFrankfurter, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, core.External(ProviderFrankfurter, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, key.date))
	}

	var payload frankfurterResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, core.External(ProviderFrankfurter, fmt.Errorf("decode response: %w", err))
	}
	rateValue, ok := payload.Rates[string(key.to)]
	if !ok {
		return Quote{}, core.External(ProviderFrankfurter, errors.New("unexpected response: missing rate"))
	}
	if !rateValue.IsPositive() {
		return Quote{}, core.External(ProviderFrankfurter, fmt.Errorf("unexpected response: non-positive rate %s", rateValue))
	}
	rateDate, err := core.ParseDate(payload.Date)
	if err != nil {
		return Quote{}, core.External(ProviderFrankfurter, fmt.Errorf("unexpected response: %w", err))
	}

	slog.DebugContext(ctx, "Fetched FX quote",
		log.FieldComponent, log.ComponentFX,
		"date", key.date,
		"rate_date", rateDate.String(),
		"rate", rateValue.String(),
		log.FieldDuration, time.Since(start).Milliseconds())

	return Quote{
		Provider:  ProviderFrankfurter,
		Base:      key.from,
		Quote:     key.to,
		Rate:      rateValue,
		RateDate:  rateDate,
		FetchedAt: fetchedAt,
	}, nil
}
