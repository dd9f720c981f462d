// cmd/gatewayhubctl/reconcile.go
// Implements `gatewayhubctl reconcile`: triggers a single out-of-band pass
// of provisioning-timeout detection, cloud-first deletion, and IPv4
// backfill, for operators who don't want to wait for the next scheduled
// tick (§4.4).
package main

import (
	"github.com/spf13/cobra"

	"github.com/tangramhq/gatewayhub/internal/reconcile"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			provider := reconcile.NewRetryingProvider(reconcile.ManualOnlyProvider{})
			r := reconcile.New(db, provider, reconcile.Config{})
			r.RunOnce(cmd.Context())
			return nil
		},
	}
}
