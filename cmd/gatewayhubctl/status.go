// cmd/gatewayhubctl/status.go
// Implements `gatewayhubctl status`: a quick per-status host count summary,
// the thing an operator reaches for first when paging in.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tangramhq/gatewayhub/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print host counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			statuses := []store.HostStatus{
				store.HostStatusProvisioning,
				store.HostStatusActive,
				store.HostStatusOff,
				store.HostStatusDeleting,
				store.HostStatusProvisioningTimeout,
			}
			for _, st := range statuses {
				hosts, err := db.ListHostsByStatus(ctx, st)
				if err != nil {
					return fmt.Errorf("list %s hosts: %w", st, err)
				}
				fmt.Printf("%-20s %d\n", st, len(hosts))
			}
			return nil
		},
	}
}
