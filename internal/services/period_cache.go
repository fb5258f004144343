package services

import (
	"context"
	"sort"
	"strings"

	"fintrack/internal/cache"
	"fintrack/internal/core"
)

const periodCacheSize = 64

// BreakdownFilter narrows a category breakdown. Type defaults to expense.
type BreakdownFilter struct {
	Type          core.TransactionType
	CategoryID    *int64
	Tags          []string
	ExcludeHidden bool
}

// PeriodKey identifies one memoized breakdown by the full query tuple.
type PeriodKey struct {
	Start         core.Date
	End           core.Date
	Type          core.TransactionType
	CategoryID    int64
	Tags          string
	ExcludeHidden bool
}

// NewPeriodKey builds the key for period and f. Tag order and case do not
// matter.
func NewPeriodKey(period core.Period, f BreakdownFilter) PeriodKey {
	k := PeriodKey{
		Start:         period.Start,
		End:           period.End,
		Type:          f.Type,
		ExcludeHidden: f.ExcludeHidden,
	}
	if k.Type == "" {
		k.Type = core.Expense
	}
	if f.CategoryID != nil {
		k.CategoryID = *f.CategoryID
	}
	if len(f.Tags) > 0 {
		tags := core.NormalizeTags(f.Tags)
		for i := range tags {
			tags[i] = strings.ToLower(tags[i])
		}
		sort.Strings(tags)
		k.Tags = strings.Join(tags, "\x1f")
	}
	return k
}

// Period is the date range the key covers.
func (k PeriodKey) Period() core.Period {
	return core.Period{Start: k.Start, End: k.End}
}

// PeriodCache memoizes category breakdowns for the lifetime of one call,
// such as rendering a single response. Attach it with WithPeriodCache.
type PeriodCache struct {
	entries *cache.LRUCache[PeriodKey, []core.CategoryAmount]
}

func NewPeriodCache() *PeriodCache {
	return &PeriodCache{entries: cache.NewLRUCache[PeriodKey, []core.CategoryAmount](periodCacheSize, 0)}
}

func (c *PeriodCache) Get(key PeriodKey) ([]core.CategoryAmount, bool) {
	if c == nil {
		return nil, false
	}
	return c.entries.Get(key)
}

func (c *PeriodCache) Set(key PeriodKey, v []core.CategoryAmount) {
	if c == nil {
		return
	}
	c.entries.Set(key, v)
}

// Invalidate drops the entry for exactly key.
func (c *PeriodCache) Invalidate(key PeriodKey) {
	if c == nil {
		return
	}
	c.entries.Delete(key)
}

// InvalidateDate drops every entry whose range contains d and returns how
// many were removed.
func (c *PeriodCache) InvalidateDate(d core.Date) int {
	if c == nil {
		return 0
	}
	return c.entries.DeleteFunc(func(k PeriodKey, _ []core.CategoryAmount) bool {
		return k.Period().Contains(d)
	})
}

func (c *PeriodCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Size()
}

type periodCacheKey struct{}

// WithPeriodCache scopes pc to ctx. Breakdowns read through it and
// mutations made with ctx invalidate it.
func WithPeriodCache(ctx context.Context, pc *PeriodCache) context.Context {
	return context.WithValue(ctx, periodCacheKey{}, pc)
}

// PeriodCacheFrom returns the cache attached to ctx, or nil. A nil
// *PeriodCache is safe to use and caches nothing.
func PeriodCacheFrom(ctx context.Context) *PeriodCache {
	pc, _ := ctx.Value(periodCacheKey{}).(*PeriodCache)
	return pc
}

// invalidateDates clears cached breakdowns covering any of dates.
func invalidateDates(ctx context.Context, dates ...core.Date) {
	pc := PeriodCacheFrom(ctx)
	if pc == nil {
		return
	}
	for _, d := range dates {
		pc.InvalidateDate(d)
	}
}
