// Package http exposes the ledger services as a JSON API.
//
// This file implements utilities for parsing and validating request data:
// JSON bodies, path ids, periods and amounts.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fintrack/internal/core"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads exactly one JSON object into dst. Unknown fields are
// rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return badRequest("request body is empty")
		case errors.As(err, &maxErr):
			return badRequest("request body too large")
		default:
			return badRequest("invalid JSON body: " + err.Error())
		}
	}
	if dec.More() {
		return badRequest("request body must hold a single JSON object")
	}
	return nil
}

// pathID parses the named path segment as a positive id.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest(fmt.Sprintf("invalid %s %q", name, raw))
	}
	return id, nil
}

// parseYearMonth accepts YYYY-MM.
func parseYearMonth(v string) (core.YearMonth, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(v))
	if err != nil {
		return core.YearMonth{}, core.Invalidf("invalid month %q: want YYYY-MM", v)
	}
	return core.NewYearMonth(t.Year(), int(t.Month())), nil
}

// monthParam reads ?month=YYYY-MM, defaulting to the current month in loc.
func monthParam(q url.Values, loc *time.Location, now time.Time) (core.YearMonth, error) {
	if v := strings.TrimSpace(q.Get("month")); v != "" {
		return parseYearMonth(v)
	}
	return core.DateOf(now, loc).YearMonth(), nil
}

// parsePeriod reads either ?month=YYYY-MM or ?from=&to= (both YYYY-MM-DD).
// With neither, the period is the current month in loc.
func parsePeriod(q url.Values, loc *time.Location, now time.Time) (core.Period, error) {
	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	if from == "" && to == "" {
		ym, err := monthParam(q, loc, now)
		if err != nil {
			return core.Period{}, err
		}
		return ym.Period(), nil
	}
	if from == "" || to == "" {
		return core.Period{}, core.Invalid("from and to must be given together")
	}
	start, err := core.ParseDate(from)
	if err != nil {
		return core.Period{}, err
	}
	end, err := core.ParseDate(to)
	if err != nil {
		return core.Period{}, err
	}
	p := core.Period{Start: start, End: end}
	return p, p.Validate()
}

// parseInstant accepts RFC 3339, or a date meaning the end of that day in
// loc. Empty means now.
func parseInstant(v string, loc *time.Location, now time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := core.ParseDate(v)
	if err != nil {
		return time.Time{}, core.Invalidf("invalid instant %q: want RFC 3339 or YYYY-MM-DD", v)
	}
	return core.Period{Start: d, End: d}.EndInstant(loc), nil
}

func parseOptionalInstant(v *string) (time.Time, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(*v))
	if err != nil {
		return time.Time{}, core.Invalidf("invalid timestamp %q: want RFC 3339", *v)
	}
	return t, nil
}

func parseOptionalDate(v *string) (*core.Date, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil, nil
	}
	d, err := core.ParseDate(*v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// parseAmount reads a non-negative decimal amount such as "12.34" or "12,34".
func parseAmount(v string) (int64, error) {
	cents, err := core.ParseDecimalToCents(v)
	if err != nil {
		return 0, core.Invalidf("invalid amount %q", v)
	}
	return cents, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.Invalidf("invalid %s %q", name, v)
	}
	return n, nil
}

func boolParam(q url.Values, name string) (bool, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, core.Invalidf("invalid %s %q", name, v)
	}
	return b, nil
}

func optionalIDParam(q url.Values, name string) (*int64, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil, core.Invalidf("invalid %s %q", name, v)
	}
	return &id, nil
}

func typeParam(q url.Values) (core.TransactionType, error) {
	v := core.TransactionType(strings.ToLower(strings.TrimSpace(q.Get("type"))))
	if v == "" {
		return "", nil
	}
	return v, v.Validate()
}

// sanitizeInput trims whitespace and strips control characters other than
// tab and line breaks.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
