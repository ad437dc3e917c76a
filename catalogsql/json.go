package catalogsql

import (
	"encoding/json"
	"fmt"

	"github.com/lakehouse/metacoord/catalog"
)

// The metadata tables store their variable-shape fields (columns, parameters,
// statistics) as a single JSON column rather than being normalized further;
// this keeps the schema portable across all four dialects without per-engine
// DDL for nested structures.

func marshalColumns(cols []catalog.Column) (string, error) {
	b, err := json.Marshal(cols)
	if err != nil {
		return "", fmt.Errorf("catalogsql: marshal columns: %w", err)
	}
	return string(b), nil
}

func unmarshalColumns(s string, out *[]catalog.Column) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("catalogsql: unmarshal columns: %w", err)
	}
	return nil
}

func marshalStrings(ss []string) (string, error) {
	b, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("catalogsql: marshal strings: %w", err)
	}
	return string(b), nil
}

func unmarshalStrings(s string, out *[]string) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("catalogsql: unmarshal strings: %w", err)
	}
	return nil
}

func marshalParams(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("catalogsql: marshal parameters: %w", err)
	}
	return string(b), nil
}

func unmarshalParams(s string, out *map[string]string) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), out)
}

func marshalStatistics(s catalog.Statistics) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("catalogsql: marshal statistics: %w", err)
	}
	return string(b), nil
}

func unmarshalStatistics(s string) (*catalog.Statistics, error) {
	var stats catalog.Statistics
	if s == "" {
		return &stats, nil
	}
	if err := json.Unmarshal([]byte(s), &stats); err != nil {
		return nil, fmt.Errorf("catalogsql: unmarshal statistics: %w", err)
	}
	if stats.Columns == nil {
		stats.Columns = map[string]catalog.ColumnStatistics{}
	}
	return &stats, nil
}

// mergeStats mirrors the coordinator's own "prefer new, never sum" semantics
// (coordinator.Merge, §4.4) for the merge=true path of UpdateTableStatistics
// / UpdatePartitionStatistics. It's kept as an unexported twin rather than an
// import of the coordinator package to avoid a reference-implementation
// depending on its own consumer.
func mergeStats(old, next catalog.Statistics) catalog.Statistics {
	merged := catalog.Statistics{
		Basic: catalog.BasicStatistics{
			RowCount:      preferNewInt64(old.Basic.RowCount, next.Basic.RowCount),
			FileCount:     preferNewInt64(old.Basic.FileCount, next.Basic.FileCount),
			InMemoryBytes: preferNewInt64(old.Basic.InMemoryBytes, next.Basic.InMemoryBytes),
			OnDiskBytes:   preferNewInt64(old.Basic.OnDiskBytes, next.Basic.OnDiskBytes),
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

func preferNewInt64(old, next *int64) *int64 {
	if next != nil {
		return next
	}
	return old
}
