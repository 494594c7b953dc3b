package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"data/termbridge.db"`

	// TransportVariant selects the SSH transport implementation for new
	// sessions: "bridge" (default) or "stream". Bridge is the reliable
	// choice; stream is kept for comparison and debugging.
	TransportVariant string `envconfig:"TRANSPORT_VARIANT" default:"bridge"`

	// StrictProtocol rejects malformed JSON control frames instead of
	// forwarding them as raw terminal input.
	StrictProtocol bool `envconfig:"STRICT_PROTOCOL" default:"false"`

	// SessionSweepInterval is how often closed sessions and stale event
	// histories are pruned.
	SessionSweepInterval string `envconfig:"SESSION_SWEEP_INTERVAL" default:"1m"`

	// HostsFile optionally seeds the SSH server inventory from a YAML
	// file at startup.
	HostsFile string `envconfig:"HOSTS_FILE" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TERMBRIDGE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
