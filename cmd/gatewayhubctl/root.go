// cmd/gatewayhubctl/root.go
// Root command for the gatewayhubctl operator CLI. Wires the shared
// --config flag and global logger init, then adds the subcommands defined
// in sibling files, matching the teacher's cmd/flarego/root.go shape.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tangramhq/gatewayhub/internal/logging"
	"github.com/tangramhq/gatewayhub/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gatewayhubctl",
	Short: "Operate a gatewayhub deployment",
	Long:  `gatewayhubctl inspects and drives a running gatewayhub deployment's durable state: host/gateway status and on-demand reconciliation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logging.Initialised() {
			return nil
		}
		lg, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logging.Set(lg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to gatewayhub configuration file (YAML/TOML/JSON)")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newReconcileCmd())
	rootCmd.AddCommand(newHostsCmd())
	rootCmd.AddCommand(newGatewaysCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// Execute is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// openStore loads hub config from cfgFile and connects to its database, the
// shared setup every data-touching subcommand needs.
func openStore() (*store.Store, error) {
	cfg, err := loadHubConfig()
	if err != nil {
		return nil, fmt.Errorf("gatewayhubctl: %w", err)
	}
	db, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("gatewayhubctl: connect store: %w", err)
	}
	return db, nil
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
