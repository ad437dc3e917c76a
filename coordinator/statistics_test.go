package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lakehouse/metacoord/catalog"
)

func int64p(v int64) *int64 { return &v }

func TestMergePrefersNewWhenPresent(t *testing.T) {
	old := catalog.Statistics{Basic: catalog.BasicStatistics{RowCount: int64p(10), FileCount: int64p(2)}}
	next := catalog.Statistics{Basic: catalog.BasicStatistics{RowCount: int64p(20)}}

	merged := Merge(old, next)
	require.Equal(t, int64(20), *merged.Basic.RowCount)
	require.Equal(t, int64(2), *merged.Basic.FileCount)
	require.Nil(t, merged.Basic.InMemoryBytes)
}

func TestMergeColumnsOverridesOnlyPresentKeys(t *testing.T) {
	old := catalog.Statistics{Columns: map[string]catalog.ColumnStatistics{
		"a": {NullsCount: int64p(1)},
		"b": {NullsCount: int64p(2)},
	}}
	next := catalog.Statistics{Columns: map[string]catalog.ColumnStatistics{
		"b": {NullsCount: int64p(99)},
	}}

	merged := Merge(old, next)
	require.Equal(t, int64(1), *merged.Columns["a"].NullsCount)
	require.Equal(t, int64(99), *merged.Columns["b"].NullsCount)
}

func TestWithAdjustedRowCountSaturatesAtZero(t *testing.T) {
	stats := catalog.Statistics{Basic: catalog.BasicStatistics{RowCount: int64p(5), FileCount: int64p(3)}}

	out := WithAdjustedRowCount(stats, -10)
	require.Equal(t, int64(0), *out.Basic.RowCount)
	require.Equal(t, int64(3), *out.Basic.FileCount)
}

func TestWithAdjustedRowCountNoopWhenRowCountUnknown(t *testing.T) {
	stats := catalog.Statistics{}
	out := WithAdjustedRowCount(stats, 5)
	require.Nil(t, out.Basic.RowCount)
}

func TestSafeStatisticsDowngradesCorruptedError(t *testing.T) {
	var logged string
	_, err := safeStatistics(nil, catalog.NewError(catalog.CorruptedStatistics, "bad row"), func(format string, args ...interface{}) {
		logged = format
	})
	require.NoError(t, err)
	require.NotEmpty(t, logged)
}

func TestSafeStatisticsPropagatesOtherErrors(t *testing.T) {
	_, err := safeStatistics(nil, catalog.NewError(catalog.CatalogErr, "boom"), nil)
	require.Error(t, err)
}
