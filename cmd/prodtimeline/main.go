package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/chrissnell/prodtimeline/internal/log"
	"github.com/chrissnell/prodtimeline/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

var (
	cfgFile string
	debug   bool
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "prodtimeline",
		Short:         "Live production timelines for injection molding machines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := log.Init(debug); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "Path to the YAML configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Turn on debugging output")

	root.AddCommand(newServeCmd(), newWatchCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "prodtimeline %s\n", version)
		},
	}
}

// provider returns the YAML provider behind --config.
func provider() *config.YAMLProvider {
	filename, _ := filepath.Abs(cfgFile)
	return config.NewYAMLProvider(filename)
}

func loadConfig() (*config.YAMLProvider, *config.ConfigData, error) {
	p := provider()
	cfg, err := p.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("error reading config file. Did you pass the --config flag? Run with -h for help: %w", err)
	}
	return p, cfg, nil
}
