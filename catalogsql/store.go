// Package catalogsql is a reference catalog.Metastore backed by
// database/sql, dialect-selected across MySQL, PostgreSQL, SQL Server, and
// SQLite. It exists so an embedder without an existing metastore can stand
// one up directly against a relational database, the way the teacher's
// ucast package builds dialect-aware SQL with the same query builder
// (internal/ucast/ucast.go).
package catalogsql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/lakehouse/metacoord/catalog"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLServer Dialect = "sqlserver"
	SQLite   Dialect = "sqlite"
)

func (d Dialect) driverName() string {
	switch d {
	case MySQL:
		return "mysql"
	case Postgres:
		return "postgres"
	case SQLServer:
		return "sqlserver"
	default:
		return "sqlite"
	}
}

func (d Dialect) flavor() sqlbuilder.Flavor {
	switch d {
	case MySQL:
		return sqlbuilder.MySQL
	case Postgres:
		return sqlbuilder.PostgreSQL
	case SQLServer:
		return sqlbuilder.SQLServer
	default:
		return sqlbuilder.SQLite
	}
}

// Store is a catalog.Metastore implementation over a SQL database. All
// methods issue one or more round trips on the shared *sql.DB; callers that
// need transactional guarantees across multiple calls should wrap them in
// the ACID interlock (coordinator package), not in database/sql transactions
// of their own — the schema here has no notion of the coordinator's own
// transaction id beyond the bookkeeping tables.
type Store struct {
	db      *sql.DB
	dialect Dialect
	flavor  sqlbuilder.Flavor
}

// Open connects to dsn using dialect and verifies the connection with Ping.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("catalogsql: open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalogsql: ping %s: %w", dialect, err)
	}
	return &Store{db: db, dialect: dialect, flavor: dialect.flavor()}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates every table this Store needs if it doesn't already exist.
// It is intentionally schema-only (no seed data, no drop-and-recreate) so
// it's safe to call on every process start.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("catalogsql: migrate: %w", err)
		}
	}
	if s.dialect == Postgres {
		// txnIDQuery draws Postgres transaction ids from this sequence.
		if _, err := s.db.ExecContext(ctx, "CREATE SEQUENCE IF NOT EXISTS txn_id_seq"); err != nil {
			return fmt.Errorf("catalogsql: migrate: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schemas (
		name TEXT PRIMARY KEY,
		location TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS tables (
		schema_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		columns_json TEXT NOT NULL,
		partition_columns_json TEXT NOT NULL,
		location TEXT,
		format TEXT,
		owner TEXT,
		parameters_json TEXT,
		write_id BIGINT,
		PRIMARY KEY (schema_name, table_name)
	)`,
	`CREATE TABLE IF NOT EXISTS partitions (
		schema_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		values_key TEXT NOT NULL,
		values_json TEXT NOT NULL,
		location TEXT,
		format TEXT,
		parameters_json TEXT,
		PRIMARY KEY (schema_name, table_name, values_key)
	)`,
	`CREATE TABLE IF NOT EXISTS table_statistics (
		schema_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		stats_json TEXT NOT NULL,
		PRIMARY KEY (schema_name, table_name)
	)`,
	`CREATE TABLE IF NOT EXISTS partition_statistics (
		schema_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		values_key TEXT NOT NULL,
		stats_json TEXT NOT NULL,
		PRIMARY KEY (schema_name, table_name, values_key)
	)`,
	`CREATE TABLE IF NOT EXISTS txn_write_ids (
		schema_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		write_id BIGINT NOT NULL,
		txn_id BIGINT NOT NULL,
		PRIMARY KEY (schema_name, table_name, write_id)
	)`,
	`CREATE TABLE IF NOT EXISTS txn_heartbeats (
		txn_id BIGINT PRIMARY KEY,
		last_heartbeat TIMESTAMP
	)`,
}

func (s *Store) GetDatabase(ctx context.Context, name string) (*catalog.Schema, error) {
	b := sqlbuilder.NewSelectBuilder()
	b.Select("name", "location").From("schemas").Where(b.Equal("name", name))
	query, args := b.BuildWithFlavor(s.flavor)

	var sch catalog.Schema
	var loc sql.NullString
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&sch.Name, &loc); err != nil {
		if err == sql.ErrNoRows {
			return nil, catalog.NewError(catalog.TableNotFound, "no schema %q", name)
		}
		return nil, wrapErr(err)
	}
	sch.Location = loc.String
	return &sch, nil
}

func (s *Store) CreateDatabase(ctx context.Context, sc catalog.Schema) error {
	b := sqlbuilder.NewInsertBuilder()
	b.InsertInto("schemas").Cols("name", "location").Values(sc.Name, sc.Location)
	query, args := b.BuildWithFlavor(s.flavor)
	_, err := s.db.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (s *Store) DropDatabase(ctx context.Context, name string, deleteData bool) error {
	b := sqlbuilder.NewDeleteBuilder()
	b.DeleteFrom("schemas").Where(b.Equal("name", name))
	query, args := b.BuildWithFlavor(s.flavor)
	_, err := s.db.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (s *Store) GetTable(ctx context.Context, key catalog.Key) (*catalog.Table, error) {
	b := sqlbuilder.NewSelectBuilder()
	b.Select("columns_json", "partition_columns_json", "location", "format", "owner", "parameters_json", "write_id").
		From("tables").
		Where(b.Equal("schema_name", key.SchemaName), b.Equal("table_name", key.TableName))
	query, args := b.BuildWithFlavor(s.flavor)

	var columnsJSON, partColsJSON, paramsJSON string
	var location, format, owner sql.NullString
	var writeID sql.NullInt64
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&columnsJSON, &partColsJSON, &location, &format, &owner, &paramsJSON, &writeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, catalog.NewError(catalog.TableNotFound, "no table %s.%s", key.SchemaName, key.TableName)
		}
		return nil, wrapErr(err)
	}

	t := catalog.Table{SchemaName: key.SchemaName, TableName: key.TableName}
	if err := unmarshalColumns(columnsJSON, &t.Columns); err != nil {
		return nil, err
	}
	if err := unmarshalStrings(partColsJSON, &t.PartitionColumns); err != nil {
		return nil, err
	}
	if err := unmarshalParams(paramsJSON, &t.Parameters); err != nil {
		return nil, err
	}
	t.Storage = catalog.StorageDescriptor{Location: location.String, Format: format.String}
	t.Owner = owner.String
	if writeID.Valid {
		t.WriteID = &writeID.Int64
	}
	return &t, nil
}

func (s *Store) CreateTable(ctx context.Context, t catalog.Table) error {
	columnsJSON, err := marshalColumns(t.Columns)
	if err != nil {
		return err
	}
	partColsJSON, err := marshalStrings(t.PartitionColumns)
	if err != nil {
		return err
	}
	paramsJSON, err := marshalParams(t.Parameters)
	if err != nil {
		return err
	}

	b := sqlbuilder.NewInsertBuilder()
	b.InsertInto("tables").
		Cols("schema_name", "table_name", "columns_json", "partition_columns_json", "location", "format", "owner", "parameters_json", "write_id").
		Values(t.SchemaName, t.TableName, columnsJSON, partColsJSON, t.Storage.Location, t.Storage.Format, t.Owner, paramsJSON, nullableInt64(t.WriteID))
	query, args := b.BuildWithFlavor(s.flavor)
	_, execErr := s.db.ExecContext(ctx, query, args...)
	return wrapErr(execErr)
}

// ReplaceTable overwrites the existing row for t.Key() (ALTER, and the
// write-id bump the ACID interlock performs mid-transaction).
func (s *Store) ReplaceTable(ctx context.Context, t catalog.Table, useTransaction bool, txnID int64) error {
	columnsJSON, err := marshalColumns(t.Columns)
	if err != nil {
		return err
	}
	partColsJSON, err := marshalStrings(t.PartitionColumns)
	if err != nil {
		return err
	}
	paramsJSON, err := marshalParams(t.Parameters)
	if err != nil {
		return err
	}

	b := sqlbuilder.NewUpdateBuilder()
	b.Update("tables").
		Set(
			b.Assign("columns_json", columnsJSON),
			b.Assign("partition_columns_json", partColsJSON),
			b.Assign("location", t.Storage.Location),
			b.Assign("format", t.Storage.Format),
			b.Assign("owner", t.Owner),
			b.Assign("parameters_json", paramsJSON),
			b.Assign("write_id", nullableInt64(t.WriteID)),
		).
		Where(b.Equal("schema_name", t.SchemaName), b.Equal("table_name", t.TableName))
	query, args := b.BuildWithFlavor(s.flavor)

	res, execErr := s.db.ExecContext(ctx, query, args...)
	if execErr != nil {
		return wrapErr(execErr)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.NewError(catalog.TableNotFound, "no table %s.%s", t.SchemaName, t.TableName)
	}
	return nil
}

func (s *Store) DropTable(ctx context.Context, key catalog.Key, deleteData bool) error {
	b := sqlbuilder.NewDeleteBuilder()
	b.DeleteFrom("tables").Where(b.Equal("schema_name", key.SchemaName), b.Equal("table_name", key.TableName))
	query, args := b.BuildWithFlavor(s.flavor)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.NewError(catalog.TableNotFound, "no table %s.%s", key.SchemaName, key.TableName)
	}
	return nil
}

func (s *Store) AddPartitions(ctx context.Context, key catalog.Key, partitions []catalog.Partition) error {
	for _, p := range partitions {
		valuesJSON, err := marshalStrings(p.Values)
		if err != nil {
			return err
		}
		paramsJSON, err := marshalParams(p.Parameters)
		if err != nil {
			return err
		}
		b := sqlbuilder.NewInsertBuilder()
		b.InsertInto("partitions").
			Cols("schema_name", "table_name", "values_key", "values_json", "location", "format", "parameters_json").
			Values(key.SchemaName, key.TableName, catalog.PartitionValuesKey(p.Values), valuesJSON, p.Storage.Location, p.Storage.Format, paramsJSON)
		query, args := b.BuildWithFlavor(s.flavor)
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return wrapErr(err)
		}
	}
	return nil
}

func (s *Store) AlterPartition(ctx context.Context, p catalog.Partition) error {
	paramsJSON, err := marshalParams(p.Parameters)
	if err != nil {
		return err
	}
	b := sqlbuilder.NewUpdateBuilder()
	b.Update("partitions").
		Set(
			b.Assign("location", p.Storage.Location),
			b.Assign("format", p.Storage.Format),
			b.Assign("parameters_json", paramsJSON),
		).
		Where(
			b.Equal("schema_name", p.SchemaName),
			b.Equal("table_name", p.TableName),
			b.Equal("values_key", catalog.PartitionValuesKey(p.Values)),
		)
	query, args := b.BuildWithFlavor(s.flavor)
	res, execErr := s.db.ExecContext(ctx, query, args...)
	if execErr != nil {
		return wrapErr(execErr)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.NewError(catalog.PartitionNotFound, "no partition %s.%s%v", p.SchemaName, p.TableName, p.Values)
	}
	return nil
}

func (s *Store) DropPartition(ctx context.Context, key catalog.PartitionKey, deleteData bool) error {
	b := sqlbuilder.NewDeleteBuilder()
	b.DeleteFrom("partitions").Where(
		b.Equal("schema_name", key.Table.SchemaName),
		b.Equal("table_name", key.Table.TableName),
		b.Equal("values_key", key.Values),
	)
	query, args := b.BuildWithFlavor(s.flavor)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.NewError(catalog.PartitionNotFound, "no partition %s", key.Values)
	}
	return nil
}

func (s *Store) GetPartition(ctx context.Context, key catalog.PartitionKey) (*catalog.Partition, error) {
	b := sqlbuilder.NewSelectBuilder()
	b.Select("values_json", "location", "format", "parameters_json").From("partitions").
		Where(b.Equal("schema_name", key.Table.SchemaName), b.Equal("table_name", key.Table.TableName), b.Equal("values_key", key.Values))
	query, args := b.BuildWithFlavor(s.flavor)

	var valuesJSON, paramsJSON string
	var location, format sql.NullString
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&valuesJSON, &location, &format, &paramsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, catalog.NewError(catalog.PartitionNotFound, "no partition %s", key.Values)
		}
		return nil, wrapErr(err)
	}

	p := catalog.Partition{SchemaName: key.Table.SchemaName, TableName: key.Table.TableName}
	if err := unmarshalStrings(valuesJSON, &p.Values); err != nil {
		return nil, err
	}
	if err := unmarshalParams(paramsJSON, &p.Parameters); err != nil {
		return nil, err
	}
	p.Storage = catalog.StorageDescriptor{Location: location.String, Format: format.String}
	return &p, nil
}

func (s *Store) GetPartitionNamesByFilter(ctx context.Context, key catalog.Key, filter string) ([]string, error) {
	b := sqlbuilder.NewSelectBuilder()
	b.Select("values_key").From("partitions").Where(b.Equal("schema_name", key.SchemaName), b.Equal("table_name", key.TableName))
	if filter != "" {
		b.Where(b.Like("values_key", sqlLikePattern(filter)))
	}
	query, args := b.BuildWithFlavor(s.flavor)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, name)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) GetPartitionsByNames(ctx context.Context, key catalog.Key, names []string) ([]catalog.Partition, error) {
	if len(names) == 0 {
		return nil, nil
	}
	anyNames := make([]interface{}, len(names))
	for i, n := range names {
		anyNames[i] = n
	}

	b := sqlbuilder.NewSelectBuilder()
	b.Select("values_json", "location", "format", "parameters_json").From("partitions").
		Where(b.Equal("schema_name", key.SchemaName), b.Equal("table_name", key.TableName), b.In("values_key", anyNames...))
	query, args := b.BuildWithFlavor(s.flavor)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []catalog.Partition
	for rows.Next() {
		var valuesJSON, paramsJSON string
		var location, format sql.NullString
		if err := rows.Scan(&valuesJSON, &location, &format, &paramsJSON); err != nil {
			return nil, wrapErr(err)
		}
		p := catalog.Partition{SchemaName: key.SchemaName, TableName: key.TableName, Storage: catalog.StorageDescriptor{Location: location.String, Format: format.String}}
		if err := unmarshalStrings(valuesJSON, &p.Values); err != nil {
			return nil, err
		}
		if err := unmarshalParams(paramsJSON, &p.Parameters); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) GetTableStatistics(ctx context.Context, key catalog.Key) (*catalog.Statistics, error) {
	b := sqlbuilder.NewSelectBuilder()
	b.Select("stats_json").From("table_statistics").Where(b.Equal("schema_name", key.SchemaName), b.Equal("table_name", key.TableName))
	query, args := b.BuildWithFlavor(s.flavor)

	var statsJSON string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&statsJSON); err != nil {
		if err == sql.ErrNoRows {
			return &catalog.Statistics{}, nil
		}
		return nil, wrapErr(err)
	}
	return unmarshalStatistics(statsJSON)
}

func (s *Store) UpdateTableStatistics(ctx context.Context, key catalog.Key, stats catalog.Statistics, merge bool) error {
	final := stats
	if merge {
		existing, err := s.GetTableStatistics(ctx, key)
		if err != nil {
			return err
		}
		final = mergeStats(*existing, stats)
	}
	statsJSON, err := marshalStatistics(final)
	if err != nil {
		return err
	}
	return s.upsertJSON(ctx, "table_statistics", []string{"schema_name", "table_name"}, []interface{}{key.SchemaName, key.TableName}, "stats_json", statsJSON)
}

func (s *Store) GetPartitionStatistics(ctx context.Context, key catalog.PartitionKey) (*catalog.Statistics, error) {
	b := sqlbuilder.NewSelectBuilder()
	b.Select("stats_json").From("partition_statistics").
		Where(b.Equal("schema_name", key.Table.SchemaName), b.Equal("table_name", key.Table.TableName), b.Equal("values_key", key.Values))
	query, args := b.BuildWithFlavor(s.flavor)

	var statsJSON string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&statsJSON); err != nil {
		if err == sql.ErrNoRows {
			return &catalog.Statistics{}, nil
		}
		return nil, wrapErr(err)
	}
	return unmarshalStatistics(statsJSON)
}

func (s *Store) UpdatePartitionStatistics(ctx context.Context, key catalog.PartitionKey, stats catalog.Statistics, merge bool) error {
	final := stats
	if merge {
		existing, err := s.GetPartitionStatistics(ctx, key)
		if err != nil {
			return err
		}
		final = mergeStats(*existing, stats)
	}
	statsJSON, err := marshalStatistics(final)
	if err != nil {
		return err
	}
	return s.upsertJSON(ctx, "partition_statistics",
		[]string{"schema_name", "table_name", "values_key"},
		[]interface{}{key.Table.SchemaName, key.Table.TableName, key.Values},
		"stats_json", statsJSON)
}

// upsertJSON is a delete-then-insert upsert, portable across all four
// dialects without relying on each one's native ON CONFLICT/ON DUPLICATE
// KEY syntax.
func (s *Store) upsertJSON(ctx context.Context, table string, keyCols []string, keyVals []interface{}, valCol, val string) error {
	del := sqlbuilder.NewDeleteBuilder()
	del.DeleteFrom(table)
	var conds []string
	for i, col := range keyCols {
		conds = append(conds, del.Equal(col, keyVals[i]))
	}
	del.Where(conds...)
	query, args := del.BuildWithFlavor(s.flavor)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return wrapErr(err)
	}

	ins := sqlbuilder.NewInsertBuilder()
	cols := append(append([]string{}, keyCols...), valCol)
	vals := append(append([]interface{}{}, keyVals...), val)
	ins.InsertInto(table).Cols(cols...).Values(vals...)
	query, args = ins.BuildWithFlavor(s.flavor)
	_, err := s.db.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (s *Store) OpenTransaction(ctx context.Context) (int64, error) {
	// A monotonically increasing id is all the coordinator needs; the
	// bookkeeping tables below key off it, not a native DB transaction.
	var txnID int64
	row := s.db.QueryRowContext(ctx, txnIDQuery(s.dialect))
	if err := row.Scan(&txnID); err != nil {
		return 0, wrapErr(err)
	}
	b := sqlbuilder.NewInsertBuilder()
	b.InsertInto("txn_heartbeats").Cols("txn_id", "last_heartbeat").Values(txnID, time.Now().UTC())
	query, args := b.BuildWithFlavor(s.flavor)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return 0, wrapErr(err)
	}
	return txnID, nil
}

func (s *Store) CommitTransaction(ctx context.Context, txnID int64) error {
	return s.forgetTransaction(ctx, txnID)
}

func (s *Store) AbortTransaction(ctx context.Context, txnID int64) error {
	return s.forgetTransaction(ctx, txnID)
}

func (s *Store) forgetTransaction(ctx context.Context, txnID int64) error {
	b := sqlbuilder.NewDeleteBuilder()
	b.DeleteFrom("txn_heartbeats").Where(b.Equal("txn_id", txnID))
	query, args := b.BuildWithFlavor(s.flavor)
	_, err := s.db.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

// AcquireTableWriteLock is a no-op against this reference store: the
// underlying database's own row locking on the bookkeeping tables above is
// sufficient for the single-coordinator-process deployments this store
// targets. A production metastore would implement real advisory locking
// here.
func (s *Store) AcquireTableWriteLock(ctx context.Context, txnID int64, key catalog.Key, op catalog.LockOperation) error {
	return nil
}

func (s *Store) AllocateWriteID(ctx context.Context, txnID int64, key catalog.Key) (int64, error) {
	b := sqlbuilder.NewSelectBuilder()
	b.Select("COALESCE(MAX(write_id), 0)").From("txn_write_ids").
		Where(b.Equal("schema_name", key.SchemaName), b.Equal("table_name", key.TableName))
	query, args := b.BuildWithFlavor(s.flavor)

	var maxID int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&maxID); err != nil {
		return 0, wrapErr(err)
	}
	writeID := maxID + 1

	ins := sqlbuilder.NewInsertBuilder()
	ins.InsertInto("txn_write_ids").Cols("schema_name", "table_name", "write_id", "txn_id").
		Values(key.SchemaName, key.TableName, writeID, txnID)
	query, args = ins.BuildWithFlavor(s.flavor)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return 0, wrapErr(err)
	}
	return writeID, nil
}

func (s *Store) SendTransactionHeartbeat(ctx context.Context, txnID int64) error {
	b := sqlbuilder.NewUpdateBuilder()
	b.Update("txn_heartbeats").Set(b.Assign("last_heartbeat", time.Now().UTC())).Where(b.Equal("txn_id", txnID))
	query, args := b.BuildWithFlavor(s.flavor)
	_, err := s.db.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (s *Store) GetValidWriteIDs(ctx context.Context, keys []catalog.Key, txnID int64) (map[catalog.Key][]int64, error) {
	out := make(map[catalog.Key][]int64, len(keys))
	for _, key := range keys {
		b := sqlbuilder.NewSelectBuilder()
		b.Select("write_id").From("txn_write_ids").
			Where(b.Equal("schema_name", key.SchemaName), b.Equal("table_name", key.TableName), b.LessEqualThan("txn_id", idCeiling(txnID)))
		query, args := b.BuildWithFlavor(s.flavor)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, wrapErr(err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, wrapErr(err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		out[key] = ids
	}
	return out, nil
}

// idCeiling bounds GetValidWriteIDs to write ids allocated at or before the
// reader's own transaction id, giving it a consistent snapshot rather than
// seeing concurrent writers that opened after it.
func idCeiling(txnID int64) int64 {
	if txnID <= 0 {
		return 1<<63 - 1
	}
	return txnID
}

func txnIDQuery(d Dialect) string {
	switch d {
	case Postgres:
		return "SELECT nextval('txn_id_seq')"
	default:
		return "SELECT COALESCE(MAX(txn_id), 0) + 1 FROM txn_heartbeats"
	}
}

func sqlLikePattern(globFilter string) string {
	return strings.NewReplacer("*", "%", "?", "_").Replace(globFilter)
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return catalog.NewError(catalog.CatalogErr, "%v", err)
}

var _ catalog.Metastore = (*Store)(nil)
