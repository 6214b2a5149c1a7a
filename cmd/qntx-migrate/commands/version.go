package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/qntx-migrate/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show qntx-migrate version information",
	Long:  `Display version, build time, commit hash, and platform information for the qntx-migrate binary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		info := version.Get()
		if format != "text" {
			return printFormatted(format, info)
		}

		fmt.Println(info.String())
		fmt.Printf("Platform: %s\n", info.Platform)
		fmt.Printf("Go: %s\n", info.GoVersion)
		return nil
	},
}

func init() {
	VersionCmd.Flags().String("format", "text", "Output format: text, json, yaml")
}
