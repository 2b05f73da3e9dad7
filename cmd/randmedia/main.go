package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// flagConfigFile is shared by every command that loads configuration
var flagConfigFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "randmedia",
		Short: "Serve random media files behind short-lived URLs",
		Long: `randmedia picks random files from categorized media directories and hands out
URLs that hide the real file paths behind short-lived tokens.
`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flagConfigFile, "config", "c", "", "Config file (default $CONFIG_PATH or config.yaml)")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(categoriesCommand())
	rootCmd.AddCommand(configCommand())
	rootCmd.AddCommand(versionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
