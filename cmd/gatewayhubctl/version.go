// cmd/gatewayhubctl/version.go
// Implements `gatewayhubctl version`, matching the teacher's
// cmd/flarego/version.go pattern of printing pkg/version build metadata.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tangramhq/gatewayhub/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print gatewayhubctl version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputJSON {
				ver, commit, date := version.Components()
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]string{"version": ver, "commit": commit, "date": date})
			}
			fmt.Println(version.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print version information as JSON")
	return cmd
}
