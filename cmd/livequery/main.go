package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "livequery",
		Short: "livequery - live query engine for monitoring state and logs",
		Long: `livequery answers table queries over the live monitoring object model
(hosts, services, contacts) and the monitoring event log. Filters on the
log are analysed for time and class bounds so that whole segments and
archives can be skipped.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (YAML); LIVEQUERY_* environment variables override it")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("livequery v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newQueryCmd(&configPath))
	root.AddCommand(newArchiveCmd(&configPath))
	root.AddCommand(newHashKeyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
