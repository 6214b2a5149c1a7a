package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qntx-migrate/migration"
	"github.com/teranos/qntx-migrate/sym"
)

// TargetsCmd lists the models and functions migrations can target
var TargetsCmd = &cobra.Command{
	Use:   "targets",
	Short: sym.Migrate + " List migration targets",
	Long: sym.Migrate + ` List the models and functions a migration can target.
Use them as --model and --function when creating a migration.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return printTargets(a.service.Registry())
	},
}

func printTargets(registry *migration.Registry) error {
	models := registry.Models()
	if len(models) == 0 {
		fmt.Printf("%s No targets registered\n", sym.Migrate)
		return nil
	}
	for _, model := range models {
		pterm.Println(pterm.LightCyan(model))
		for _, fn := range registry.Functions(model) {
			pterm.Printf("  %s %s\n", pterm.Gray("-"), fn)
		}
	}
	return nil
}
