package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lakehouse/metacoord/catalogsql"
)

func initMigrate(rootCommand *cobra.Command) {
	flags := &sqlFlags{}
	migrateCommand := &cobra.Command{
		Use:   "migrate",
		Short: "create the catalogsql reference store's tables if they don't exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := catalogsql.Open(cmd.Context(), catalogsql.Dialect(flags.dialect), flags.dsn)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()
			return store.Migrate(cmd.Context())
		},
	}
	flags.addTo(migrateCommand)
	rootCommand.AddCommand(migrateCommand)
}
