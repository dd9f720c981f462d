// cmd/gatewayhubctl/gateways.go
// Implements `gatewayhubctl gateways show`, looking up a single gateway's
// liveness record by the host it is attached to.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGatewaysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateways",
		Short: "Inspect gateways",
	}
	cmd.AddCommand(newGatewaysShowCmd())
	return cmd
}

func newGatewaysShowCmd() *cobra.Command {
	var hostID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the gateway attached to a host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if hostID == "" {
				return fmt.Errorf("gatewayhubctl: --host is required")
			}
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			gw, err := db.GetGatewayByHostID(cmd.Context(), hostID)
			if err != nil {
				return fmt.Errorf("gateways show: %w", err)
			}
			lastSeen := "never"
			if gw.LastSeenAt != nil {
				lastSeen = gw.LastSeenAt.Format("2006-01-02T15:04:05Z07:00")
			}
			fmt.Printf("id:         %s\n", gw.ID)
			fmt.Printf("host_id:    %s\n", gw.HostID)
			fmt.Printf("connected:  %t\n", gw.Connected)
			fmt.Printf("version:    %s\n", gw.Version)
			fmt.Printf("last_seen:  %s\n", lastSeen)
			return nil
		},
	}
	cmd.Flags().StringVar(&hostID, "host", "", "Host id to look up the gateway for")
	return cmd
}
