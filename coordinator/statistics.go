package coordinator

import "github.com/lakehouse/metacoord/catalog"

// Merge combines old and new basic/column statistics: for each optional
// basic-stats field, the new value wins when present, else the old value is
// kept — never summed, never averaged. Per-column stats use the new map to
// override matching keys; keys absent from new are preserved from old (§4.4).
func Merge(old, next catalog.Statistics) catalog.Statistics {
	merged := catalog.Statistics{
		Basic: catalog.BasicStatistics{
			RowCount:      preferNew(old.Basic.RowCount, next.Basic.RowCount),
			FileCount:     preferNew(old.Basic.FileCount, next.Basic.FileCount),
			InMemoryBytes: preferNew(old.Basic.InMemoryBytes, next.Basic.InMemoryBytes),
			OnDiskBytes:   preferNew(old.Basic.OnDiskBytes, next.Basic.OnDiskBytes),
		},
		Columns: map[string]catalog.ColumnStatistics{},
	}
	for k, v := range old.Columns {
		merged.Columns[k] = v
	}
	for k, v := range next.Columns {
		merged.Columns[k] = v
	}
	return merged
}

func preferNew(old, next *int64) *int64 {
	if next != nil {
		return next
	}
	return old
}

// WithAdjustedRowCount returns stats with only its row_count field changed by
// delta, saturating at zero; every other field, including column stats, is
// left untouched (§4.4).
func WithAdjustedRowCount(stats catalog.Statistics, delta int64) catalog.Statistics {
	out := stats
	if stats.Basic.RowCount == nil {
		return out
	}
	adjusted := *stats.Basic.RowCount + delta
	if adjusted < 0 {
		adjusted = 0
	}
	out.Basic.RowCount = &adjusted
	return out
}

// safeStatistics converts a catalog CorruptedStatistics error into empty
// statistics, logging the downgrade rather than propagating the error, since
// it is a known metastore pathology (§4.4).
func safeStatistics(s *catalog.Statistics, err error, logFn func(format string, args ...interface{})) (*catalog.Statistics, error) {
	if err == nil {
		return s, nil
	}
	if catalog.IsCorruptedStatistics(err) {
		if logFn != nil {
			logFn("catalog returned corrupted statistics; treating as empty: %v", err)
		}
		return &catalog.Statistics{}, nil
	}
	return nil, err
}
