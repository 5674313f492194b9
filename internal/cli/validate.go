package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a scenario file without running it",
	Run: func(cmd *cobra.Command, args []string) {
		configFile, _ := cmd.Flags().GetString("config")

		sc, err := config.Load(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
			os.Exit(1)
		}

		name := sc.Name
		if name == "" {
			name = configFile
		}
		fmt.Printf("%s: valid (%d top-level steps)\n", name, len(sc.Flow))
	},
}

func init() {
	validateCmd.Flags().StringP("config", "c", "", "scenario file (YAML or JSON)")
	validateCmd.MarkFlagRequired("config")
}
