package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"lanshare/pkg/protocol"
)

// Config holds all node configuration.
type Config struct {
	Node     NodeConfig     `toml:"node"`
	Network  NetworkConfig  `toml:"network"`
	Transfer TransferConfig `toml:"transfer"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// NodeConfig describes what this node shares and with whom.
type NodeConfig struct {
	Secret          string   `toml:"secret"`
	SharedFolder    string   `toml:"shared_folder"`
	ExcludedFolders []string `toml:"excluded_folders"`
	// DownloadFolder defaults to SharedFolder when empty.
	DownloadFolder string `toml:"download_folder"`
	// Address overrides the detected LAN IPv4 address.
	Address string `toml:"address"`
	MDNS    bool   `toml:"mdns"`
}

type NetworkConfig struct {
	DiscoveryPort     int      `toml:"discovery_port"`
	BroadcastAddress  string   `toml:"broadcast_address"`
	DiscoveryInterval Duration `toml:"discovery_interval"`
	CatalogInterval   Duration `toml:"catalog_interval"`
	SuppressionWindow Duration `toml:"suppression_window"`
	ReuseAddr         bool     `toml:"reuse_addr"`
}

type TransferConfig struct {
	FetchTimeout Duration `toml:"fetch_timeout"`
	// FragmentRate is fragments per second on the serving side, 0 = unpaced.
	FragmentRate        float64 `toml:"fragment_rate"`
	FragmentBurst       int     `toml:"fragment_burst"`
	ReadBuffer          int     `toml:"read_buffer"`
	MaxConcurrentServes int     `toml:"max_concurrent_serves"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type MetricsConfig struct {
	// Addr enables the /metrics HTTP endpoint when set, e.g. ":9100".
	Addr        string   `toml:"addr"`
	LogInterval Duration `toml:"log_interval"`
}

// Duration wraps time.Duration for TOML parsing
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration a node runs with absent a file.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			SharedFolder: ".",
		},
		Network: NetworkConfig{
			DiscoveryPort:     protocol.DefaultDiscoveryPort,
			BroadcastAddress:  "255.255.255.255",
			DiscoveryInterval: Duration{5 * time.Second},
			CatalogInterval:   Duration{6 * time.Second},
			SuppressionWindow: Duration{2 * time.Second},
			ReuseAddr:         true,
		},
		Transfer: TransferConfig{
			FetchTimeout:        Duration{10 * time.Second},
			FragmentRate:        2000,
			FragmentBurst:       8,
			ReadBuffer:          4 << 20,
			MaxConcurrentServes: 8,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			LogInterval: Duration{30 * time.Second},
		},
	}
}

// LoadFile reads a TOML file over the defaults. A missing file yields the
// defaults unchanged.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return cfg, nil
}

// DownloadDir is where downloaded files are written.
func (c *Config) DownloadDir() string {
	if c.Node.DownloadFolder != "" {
		return c.Node.DownloadFolder
	}
	return c.Node.SharedFolder
}

// Validate checks if configuration values are valid
func (c *Config) Validate() error {
	if c.Node.Secret == "" {
		return errors.New("secret must not be empty")
	}
	// the secret travels inside colon-delimited messages
	for _, r := range c.Node.Secret {
		if r == ':' {
			return errors.New("secret must not contain ':'")
		}
	}
	if c.Node.SharedFolder == "" {
		return errors.New("shared folder must be set")
	}
	if c.Node.Address != "" && net.ParseIP(c.Node.Address).To4() == nil {
		return fmt.Errorf("invalid address %q (must be IPv4)", c.Node.Address)
	}
	if c.Network.DiscoveryPort < 0 || c.Network.DiscoveryPort > 65535 {
		return fmt.Errorf("invalid discovery port: %d (must be 0-65535)", c.Network.DiscoveryPort)
	}
	if net.ParseIP(c.Network.BroadcastAddress).To4() == nil {
		return fmt.Errorf("invalid broadcast address %q", c.Network.BroadcastAddress)
	}
	for name, d := range map[string]Duration{
		"discovery_interval": c.Network.DiscoveryInterval,
		"catalog_interval":   c.Network.CatalogInterval,
		"suppression_window": c.Network.SuppressionWindow,
		"fetch_timeout":      c.Transfer.FetchTimeout,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("invalid %s: %v (must be positive)", name, d)
		}
	}
	if c.Transfer.FragmentRate < 0 {
		return fmt.Errorf("invalid fragment rate: %v", c.Transfer.FragmentRate)
	}
	if c.Transfer.FragmentRate > 0 && c.Transfer.FragmentBurst < 1 {
		return fmt.Errorf("invalid fragment burst: %d (must be >= 1)", c.Transfer.FragmentBurst)
	}
	if c.Transfer.MaxConcurrentServes < 1 {
		return fmt.Errorf("invalid max concurrent serves: %d (must be >= 1)", c.Transfer.MaxConcurrentServes)
	}
	return nil
}
