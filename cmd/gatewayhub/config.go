// cmd/gatewayhub/config.go
// Helper for parsing CLI flags into the hub's config path and reconciler
// tuning, mirroring the teacher's cmd/flarego-gateway/config.go split of
// "flags decide what to load" from "the loaded config".
package main

import (
	"flag"
	"time"

	"github.com/tangramhq/gatewayhub/internal/reconcile"
)

type cliFlags struct {
	configPath           string
	provisioningDeadline time.Duration
	reconcileInterval    time.Duration
	redisAddr            string
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to configuration file (YAML/TOML/JSON); env and defaults apply if empty")
	flag.DurationVar(&f.provisioningDeadline, "provisioning-deadline", 10*time.Minute, "How long a host may sit in provisioning before being flagged provisioning_timeout")
	flag.DurationVar(&f.reconcileInterval, "reconcile-interval", time.Minute, "How often the reconciler runs its three passes")
	flag.StringVar(&f.redisAddr, "redis-addr", "", "Redis address for shared replay buffers; empty uses per-process in-memory buffers")
	flag.Parse()
	return f
}

func (f cliFlags) reconcileConfig() reconcile.Config {
	return reconcile.Config{
		ProvisioningDeadline: f.provisioningDeadline,
		Interval:             f.reconcileInterval,
	}
}
