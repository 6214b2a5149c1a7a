package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qntx-migrate/am"
	"github.com/teranos/qntx-migrate/db"
	"github.com/teranos/qntx-migrate/errors"
	"github.com/teranos/qntx-migrate/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the qntx-migrate database",
	Long: sym.DB + ` db - Manage the qntx-migrate database

Examples:
  qntx-migrate db migrate         # Apply pending schema migrations
  qntx-migrate db stats           # Show row counts and storage figures`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

var dbStatsFormat string

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
	dbStatsCmd.Flags().StringVar(&dbStatsFormat, "format", "table", "Output format: table, json, yaml")
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	path, err := am.GetDatabasePath()
	if err != nil {
		return errors.Wrap(err, "failed to get database path")
	}

	database, err := openDatabase(path)
	if err != nil {
		return err
	}
	defer database.Close()

	version, err := db.SchemaVersion(database)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s is at schema version %s\n", sym.DB, path, version)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	path, err := am.GetDatabasePath()
	if err != nil {
		return errors.Wrap(err, "failed to get database path")
	}

	database, err := openDatabase(path)
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := db.CollectStats(context.Background(), database)
	if err != nil {
		return errors.Wrap(err, "failed to collect database statistics")
	}

	if dbStatsFormat != "table" {
		return printFormatted(dbStatsFormat, stats)
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:   %s\n", path)
	fmt.Printf("Schema Version:  %s\n", stats.SchemaVersion)
	fmt.Printf("Size:            %d pages x %d bytes\n\n", stats.PageCount, stats.PageSize)

	data := pterm.TableData{{"TABLE", "ROWS"}}
	for _, t := range stats.Tables {
		data = append(data, []string{t.Table, fmt.Sprint(t.Rows)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
