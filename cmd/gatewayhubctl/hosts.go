// cmd/gatewayhubctl/hosts.go
// Implements `gatewayhubctl hosts list` and `hosts attach`, the
// operator-facing view of the Host table and the manual-VPS onboarding
// path: the only place a Host and its Gateway row actually get created.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tangramhq/gatewayhub/internal/security"
	"github.com/tangramhq/gatewayhub/internal/store"
)

func newHostsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Inspect hosts",
	}
	cmd.AddCommand(newHostsListCmd())
	cmd.AddCommand(newHostsAttachCmd())
	return cmd
}

// newHostsAttachCmd registers a manually provisioned VPS: it creates the
// Host row (status provisioning, empty external_resource_id so reconcile's
// cloud-first passes skip it) owned by the user resolved from --owner-email,
// mints a gateway bearer token, and creates the matching Gateway row holding
// only its hash. The plaintext token is printed once; the operator copies it
// into the gateway daemon's config, and it cannot be recovered afterward.
func newHostsAttachCmd() *cobra.Command {
	var name, ownerEmail string
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach a manually provisioned VPS and mint its gateway token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("gatewayhubctl: --name is required")
			}
			if ownerEmail == "" {
				return fmt.Errorf("gatewayhubctl: --owner-email is required")
			}
			cfg, err := loadHubConfig()
			if err != nil {
				return fmt.Errorf("hosts attach: %w", err)
			}
			db, err := store.Open(cfg.DatabaseDSN)
			if err != nil {
				return fmt.Errorf("hosts attach: connect store: %w", err)
			}
			defer db.Close()

			ctx := cmd.Context()
			owner, err := db.ResolveOrCreateByEmail(ctx, ownerEmail)
			if err != nil {
				return fmt.Errorf("hosts attach: resolve owner: %w", err)
			}

			host, err := db.CreateHost(ctx, store.CreateHostParams{
				UserID:   owner.ID,
				Name:     name,
				Provider: "manual",
			})
			if err != nil {
				return fmt.Errorf("hosts attach: create host: %w", err)
			}

			token, err := security.GenerateGatewayToken()
			if err != nil {
				return fmt.Errorf("hosts attach: mint gateway token: %w", err)
			}
			tokenHash := security.HashGatewayToken(token, cfg.GatewayTokenSalt)
			gw, err := db.CreateGateway(ctx, host.ID, tokenHash)
			if err != nil {
				return fmt.Errorf("hosts attach: create gateway: %w", err)
			}

			fmt.Printf("host_id:     %s\n", host.ID)
			fmt.Printf("gateway_id:  %s\n", gw.ID)
			fmt.Printf("owner:       %s (%s)\n", owner.ID, ownerEmail)
			fmt.Printf("gateway_token: %s\n", token)
			fmt.Println("Save the gateway_token now — it is not stored in plaintext and cannot be shown again.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name for the host")
	cmd.Flags().StringVar(&ownerEmail, "owner-email", "", "Email identifying the owning user")
	return cmd
}

func newHostsListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List hosts, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			statuses := []store.HostStatus{store.HostStatus(status)}
			if status == "" {
				statuses = []store.HostStatus{
					store.HostStatusProvisioning,
					store.HostStatusActive,
					store.HostStatusOff,
					store.HostStatusDeleting,
					store.HostStatusProvisioningTimeout,
				}
			}

			fmt.Printf("%-26s %-20s %-20s %-16s\n", "ID", "NAME", "STATUS", "IPV4")
			for _, st := range statuses {
				hosts, err := db.ListHostsByStatus(ctx, st)
				if err != nil {
					return fmt.Errorf("list %s hosts: %w", st, err)
				}
				for _, h := range hosts {
					fmt.Printf("%-26s %-20s %-20s %-16s\n", h.ID, h.Name, h.Status, h.IPv4)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by host status (default: all)")
	return cmd
}
