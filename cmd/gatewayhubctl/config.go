// cmd/gatewayhubctl/config.go
// Loads the same ListenerConfig the gatewayhub server binary uses, so the
// CLI always points at the deployment's real database/secrets rather than
// a parallel config surface.
package main

import "github.com/tangramhq/gatewayhub/internal/hub"

func loadHubConfig() (hub.ListenerConfig, error) {
	return hub.LoadConfig(cfgFile)
}
