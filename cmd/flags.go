package cmd

import "github.com/spf13/cobra"

// sqlFlags are the connection parameters shared by every subcommand that
// talks to a catalogsql.Store.
type sqlFlags struct {
	dialect string
	dsn     string
}

func (f *sqlFlags) addTo(c *cobra.Command) {
	c.Flags().StringVar(&f.dialect, "dialect", "sqlite", "catalog SQL dialect: mysql, postgres, sqlserver, sqlite")
	c.Flags().StringVar(&f.dsn, "dsn", "file:metacoord.db?cache=shared", "data source name for the catalog database")
}
