package cmd

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lakehouse/metacoord/catalog"
	"github.com/lakehouse/metacoord/catalogsql"
)

func initInspect(rootCommand *cobra.Command) {
	flags := &sqlFlags{}
	inspectCommand := &cobra.Command{
		Use:   "inspect <schema> <table>",
		Short: "print a table's current metadata and partitions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, flags, args[0], args[1])
		},
	}
	flags.addTo(inspectCommand)
	rootCommand.AddCommand(inspectCommand)
}

func runInspect(cmd *cobra.Command, flags *sqlFlags, schema, tableName string) error {
	store, err := catalogsql.Open(cmd.Context(), catalogsql.Dialect(flags.dialect), flags.dsn)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	key := catalog.Key{SchemaName: schema, TableName: tableName}
	t, err := store.GetTable(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("get table: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s.%s  location=%s  format=%s\n\n", t.SchemaName, t.TableName, t.Storage.Location, t.Storage.Format)

	colTable := tablewriter.NewWriter(out)
	colTable.SetHeader([]string{"column", "type"})
	for _, c := range t.Columns {
		colTable.Append([]string{c.Name, c.Type})
	}
	colTable.Render()

	names, err := store.GetPartitionNamesByFilter(cmd.Context(), key, "")
	if err != nil || len(names) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	partitions, err := store.GetPartitionsByNames(cmd.Context(), key, names)
	if err != nil {
		return fmt.Errorf("get partitions: %w", err)
	}

	partTable := tablewriter.NewWriter(out)
	partTable.SetHeader([]string{"values", "location", "row_count"})
	for _, p := range partitions {
		rowCount := "?"
		stats, statErr := store.GetPartitionStatistics(cmd.Context(), catalog.PartitionKey{Table: key, Values: catalog.PartitionValuesKey(p.Values)})
		if statErr == nil && stats.Basic.RowCount != nil {
			rowCount = strconv.FormatInt(*stats.Basic.RowCount, 10)
		}
		partTable.Append([]string{fmt.Sprint(p.Values), p.Storage.Location, rowCount})
	}
	partTable.Render()
	return nil
}
