package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-insight/internal/schedule"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
)

// SourceName identifies the store as a metric source.
const SourceName = "store"

// rollupFunc picks the SQL aggregate used when downsampling a field. Gauges
// are averaged, cumulative counters keep their latest value and per-bucket
// traffic volumes are summed. All three yield NULL when every input is NULL.
func rollupFunc(f timeseries.Field) string {
	switch f {
	case timeseries.CPUUsageCoreNanoSeconds, timeseries.MemoryPageFaults:
		return "MAX"
	case timeseries.NetworkRxBytes, timeseries.NetworkTxBytes,
		timeseries.NetworkRxErrors, timeseries.NetworkTxErrors:
		return "SUM"
	default:
		return "AVG"
	}
}

func fieldColumns() []string {
	cols := make([]string, len(timeseries.AllFields))
	for i, f := range timeseries.AllFields {
		cols[i] = string(f)
	}
	return cols
}

var (
	insertSampleSQL = fmt.Sprintf(
		`INSERT OR REPLACE INTO metric_samples (scope, member, granularity, ts, %s) VALUES (?, ?, ?, ?%s)`,
		strings.Join(fieldColumns(), ", "),
		strings.Repeat(", ?", len(timeseries.AllFields)),
	)

	selectSamplesSQL = fmt.Sprintf(
		`SELECT ts, %s FROM metric_samples
		WHERE scope = ? AND member = ? AND granularity = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC`,
		strings.Join(fieldColumns(), ", "),
	)

	rollupSQL = buildRollupSQL()
)

func buildRollupSQL() string {
	aggs := make([]string, len(timeseries.AllFields))
	for i, f := range timeseries.AllFields {
		aggs[i] = fmt.Sprintf("%s(%s)", rollupFunc(f), f)
	}
	return fmt.Sprintf(
		`INSERT OR REPLACE INTO metric_samples (scope, member, granularity, ts, %s)
		SELECT scope, member, ?, ?, %s FROM metric_samples
		WHERE granularity = ? AND ts >= ? AND ts < ?
		GROUP BY scope, member`,
		strings.Join(fieldColumns(), ", "),
		strings.Join(aggs, ", "),
	)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Insert stores the points of each series at granularity g. A point at an
// existing (scope, member, granularity, ts) replaces it.
func (s *Store) Insert(ctx context.Context, g timeseries.Granularity, series ...timeseries.MetricSeries) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, insertSampleSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	args := make([]interface{}, 4+len(timeseries.AllFields))
	for _, ser := range series {
		for i := range ser.Points {
			p := &ser.Points[i]
			args[0], args[1], args[2], args[3] = string(ser.Scope), ser.Key, string(g), toMillis(p.Time)
			for j, f := range timeseries.AllFields {
				args[4+j] = nil
				if v := p.Get(f); v != nil {
					args[4+j] = *v
				}
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return n, fmt.Errorf("failed to insert %s/%s sample: %w", ser.Scope, ser.Key, err)
			}
			n++
		}
	}

	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("failed to commit insert: %w", err)
	}
	return n, nil
}

// Name implements the metric source interface.
func (s *Store) Name() string {
	return SourceName
}

// FetchRaw returns the stored samples of one member within r, reading the
// tier that matches r.Granularity (minute when unset).
func (s *Store) FetchRaw(ctx context.Context, scope timeseries.Scope, memberID string, r timeseries.Range) (timeseries.MetricSeries, error) {
	g := r.Granularity
	if g == "" {
		g = timeseries.Minute
	}

	out := timeseries.NewSeries(scope, memberID)
	rows, err := s.db.QueryxContext(ctx, selectSamplesSQL,
		string(scope), memberID, string(g), toMillis(r.Start), toMillis(r.End))
	if err != nil {
		return out, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	vals := make([]*float64, len(timeseries.AllFields))
	dest := make([]interface{}, 1+len(vals))
	var ts int64
	dest[0] = &ts
	for i := range vals {
		dest[1+i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return out, fmt.Errorf("failed to scan sample: %w", err)
		}
		p := timeseries.NewPoint(fromMillis(ts))
		for i, f := range timeseries.AllFields {
			p.Set(f, vals[i])
		}
		out.Points = append(out.Points, p)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("failed to read samples: %w", err)
	}
	return out, nil
}

// RollUp downsamples every member's from-tier samples inside w into one
// to-tier sample stamped at w.Start. Re-running over the same window
// overwrites the previous result.
func (s *Store) RollUp(ctx context.Context, from, to timeseries.Granularity, w schedule.Window) (int64, error) {
	res, err := s.db.ExecContext(ctx, rollupSQL,
		string(to), toMillis(w.Start),
		string(from), toMillis(w.Start), toMillis(w.End))
	if err != nil {
		return 0, fmt.Errorf("failed to roll up %s into %s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.logger.Debug("Rolled up samples",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Time("windowStart", w.Start),
		zap.Int64("rows", n),
	)
	return n, nil
}

// DeleteBefore removes samples of tier g older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, g timeseries.Granularity, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM metric_samples WHERE granularity = ? AND ts < ?`,
		string(g), toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s samples: %w", g, err)
	}
	return res.RowsAffected()
}

// Members lists the distinct members stored for scope at tier g.
func (s *Store) Members(ctx context.Context, scope timeseries.Scope, g timeseries.Granularity) ([]string, error) {
	var members []string
	err := s.db.SelectContext(ctx, &members,
		`SELECT DISTINCT member FROM metric_samples WHERE scope = ? AND granularity = ? ORDER BY member`,
		string(scope), string(g))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s members: %w", scope, err)
	}
	return members, nil
}
