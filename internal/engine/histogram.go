package engine

import (
	"context"
	"fmt"
	"sort"
	"time"
)

type HistogramPoint struct {
	Time  int64 `json:"time"`
	Count int   `json:"count"`
}

// Histogram counts the accepted rows per interval of a time column. The
// query's limit does not apply.
func (q *Query) Histogram(ctx context.Context, column string, interval time.Duration) ([]HistogramPoint, error) {
	col, ok := q.table.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, q.table.Name(), column)
	}
	if col.Kind() != KindTime {
		return nil, fmt.Errorf("%w: %s is not a time column", ErrTypeMismatch, column)
	}
	step := int64(interval / time.Second)
	if step <= 0 {
		return nil, fmt.Errorf("histogram interval must be at least one second, got %v", interval)
	}

	buckets := make(map[int64]int)
	err := q.table.Scan(ctx, q.filter, q.tz, func(row Row) bool {
		if !q.filter.Accepts(row, q.viewer, q.tz) {
			return true
		}
		ts := col.Value(row, q.viewer).Int()
		bucket := ts - ts%step
		if ts < 0 && ts%step != 0 {
			bucket -= step
		}
		buckets[bucket]++
		return true
	})
	if err != nil {
		return nil, err
	}

	points := make([]HistogramPoint, 0, len(buckets))
	for t, c := range buckets {
		points = append(points, HistogramPoint{Time: t, Count: c})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Time < points[j].Time
	})
	return points, nil
}
