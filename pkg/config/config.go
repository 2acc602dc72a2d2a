package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// PortRange describes where the allocator starts probing for one logical
// port purpose and how far apart successive instances land.
type PortRange struct {
	Base      int    `toml:"base"`
	Increment int    `toml:"increment"`
	Protocol  string `toml:"protocol"`
}

// AuxService is an auxiliary consumer of the shared network: a service
// installed and lifecycled independently of node instances whose presence
// keeps the network alive.
type AuxService struct {
	Name string `toml:"name"`
	Dir  string `toml:"dir"`
}

// Config carries every tunable the components need. It is built once in
// main and passed down explicitly; nothing reads it through package state.
type Config struct {
	// InstanceRoot is the directory scanned for installed instances.
	InstanceRoot string `toml:"instance_root"`

	// StagingRoot holds in-progress installs. It must live outside the
	// registry's scan namespace so partial installs stay invisible.
	StagingRoot string `toml:"staging_root"`

	// InstancePrefix is the fleet naming prefix; instances are named
	// <prefix><number>.
	InstancePrefix string `toml:"instance_prefix"`

	// NetworkName is the shared docker network joined by all instances.
	NetworkName string `toml:"network_name"`

	// AuxServices are the auxiliary consumer categories counted toward the
	// shared network's consumer set when their compose file references it.
	AuxServices []AuxService `toml:"aux_services"`

	// Ports maps logical purpose to its probe range.
	Ports map[string]PortRange `toml:"ports"`

	// MaxPortProbes bounds the allocator's probe loop per purpose.
	MaxPortProbes int `toml:"max_port_probes"`

	// SettleDelay is the pause between disconnecting stale network members
	// and removing the network.
	SettleDelay time.Duration `toml:"settle_delay"`

	// PrometheusTargetsFile is the generated scrape-target artifact path.
	PrometheusTargetsFile string `toml:"prometheus_targets_file"`

	// VeroDir is the validator service directory whose env file carries the
	// generated beacon endpoint list. Empty or missing dir disables it.
	VeroDir string `toml:"vero_dir"`

	// DockerBin is the container runtime CLI binary.
	DockerBin string `toml:"docker_bin"`
}

// Port purposes allocated for every instance.
const (
	PortELP2P     = "el-p2p"
	PortELRPC     = "el-rpc"
	PortELEngine  = "el-engine"
	PortELMetrics = "el-metrics"
	PortCLP2P     = "cl-p2p"
	PortCLRest    = "cl-rest"
	PortCLMetrics = "cl-metrics"
)

// Default returns the configuration used when no config file is present.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/root"
	}
	return &Config{
		InstanceRoot:   home,
		StagingRoot:    filepath.Join(home, ".staging"),
		InstancePrefix: "node",
		NetworkName:    "nodeboi-net",
		AuxServices: []AuxService{
			{Name: "monitoring", Dir: filepath.Join(home, "monitoring")},
			{Name: "vero", Dir: filepath.Join(home, "vero")},
		},
		Ports: map[string]PortRange{
			PortELP2P:     {Base: 30303, Increment: 1, Protocol: "tcp"},
			PortELRPC:     {Base: 8545, Increment: 10, Protocol: "tcp"},
			PortELEngine:  {Base: 8551, Increment: 10, Protocol: "tcp"},
			PortELMetrics: {Base: 6060, Increment: 1, Protocol: "tcp"},
			PortCLP2P:     {Base: 9000, Increment: 1, Protocol: "tcp"},
			PortCLRest:    {Base: 5052, Increment: 10, Protocol: "tcp"},
			PortCLMetrics: {Base: 8008, Increment: 1, Protocol: "tcp"},
		},
		MaxPortProbes:         50,
		SettleDelay:           2 * time.Second,
		PrometheusTargetsFile: filepath.Join(home, "monitoring", "prometheus", "node-targets.yml"),
		VeroDir:               filepath.Join(home, "vero"),
		DockerBin:             "docker",
	}
}

// Load reads a TOML config file over the defaults. A missing file is not an
// error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, cfg)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the components cannot act on.
func (c *Config) Validate() error {
	if c.InstanceRoot == "" {
		return fmt.Errorf("instance_root must not be empty")
	}
	if c.InstancePrefix == "" {
		return fmt.Errorf("instance_prefix must not be empty")
	}
	if c.NetworkName == "" {
		return fmt.Errorf("network_name must not be empty")
	}
	if c.MaxPortProbes <= 0 {
		return fmt.Errorf("max_port_probes must be positive")
	}
	for purpose, pr := range c.Ports {
		if pr.Base <= 0 || pr.Base > 65535 {
			return fmt.Errorf("port range %s: base %d out of range", purpose, pr.Base)
		}
		if pr.Increment <= 0 {
			return fmt.Errorf("port range %s: increment must be positive", purpose)
		}
		if pr.Protocol != "tcp" && pr.Protocol != "udp" {
			return fmt.Errorf("port range %s: unsupported protocol %q", purpose, pr.Protocol)
		}
	}
	return nil
}
