package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
)

// maxLimit caps the page size of plural queries.
const maxLimit = 1000

// badRequestError marks a failure to parse client input.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }

func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(format string, args ...interface{}) error {
	return &badRequestError{err: fmt.Errorf(format, args...)}
}

// parseRangeQuery reads the window, granularity, paging and filter
// parameters shared by every metric route.
func parseRangeQuery(r *http.Request) (timeseries.RangeQuery, error) {
	values := r.URL.Query()
	var q timeseries.RangeQuery

	start, err := parseTimeParam(values.Get("start"), "start")
	if err != nil {
		return q, err
	}
	end, err := parseTimeParam(values.Get("end"), "end")
	if err != nil {
		return q, err
	}
	if start != nil && end != nil && start.After(*end) {
		return q, badRequest("start must not be after end")
	}
	q.Start, q.End = start, end

	g, err := timeseries.ParseGranularity(values.Get("granularity"))
	if err != nil {
		return q, &badRequestError{err: err}
	}
	q.Granularity = g

	if q.Limit, err = parseIntParam(values.Get("limit"), "limit", 0); err != nil {
		return q, err
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset, err = parseIntParam(values.Get("offset"), "offset", 0); err != nil {
		return q, err
	}

	q.Sort = values.Get("sort")
	if q.Sort != "" && q.Sort != "key" && q.Sort != "-key" {
		return q, badRequest("sort must be key or -key: got %q", q.Sort)
	}
	q.Namespace = values.Get("namespace")
	q.Key = values.Get("key")
	q.Team = values.Get("team")
	q.Service = values.Get("service")
	q.Env = values.Get("env")
	q.Labels = values.Get("labels")

	return q, nil
}

func parseTimeParam(param, name string) (*time.Time, error) {
	if param == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, param)
	if err != nil {
		return nil, badRequest("%s must be an RFC3339 timestamp: got %q", name, param)
	}
	return &t, nil
}

// parseIntParam parses a non-negative integer parameter.
func parseIntParam(param, name string, defaultValue int) (int, error) {
	if param == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(param)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer: got %q", name, param)
	}
	return n, nil
}
