package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"streampass/native/flow"
)

// Config is the daemon configuration loaded from TOML.
type Config struct {
	DataDir         string `toml:"DataDir"`
	MetricsAddress  string `toml:"MetricsAddress"`
	SettlementAsset string `toml:"SettlementAsset"`
	FeeBps          uint32 `toml:"FeeBps"`
	HubAddress      string `toml:"HubAddress"`
	OperatorAddress string `toml:"OperatorAddress"`

	// DefaultSupply caps new collections when the creator does not choose
	// a supply.
	DefaultSupply uint64 `toml:"DefaultSupply"`
	// MintReward is the flat settlement-asset reward credited per mint.
	MintReward string `toml:"MintReward"`

	DefaultMinRate     string `toml:"DefaultMinRate"`
	DefaultMinDuration uint64 `toml:"DefaultMinDuration"`

	// RemoteDomain is the replication target; empty selects local
	// activation.
	RemoteDomain string `toml:"RemoteDomain"`

	PausedModules []string `toml:"PausedModules"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		DataDir:            "./streampass-data",
		MetricsAddress:     ":9464",
		SettlementAsset:    "PASS",
		FeeBps:             500,
		DefaultSupply:      10_000,
		MintReward:         "100",
		DefaultMinRate:     "0",
		DefaultMinDuration: 0,
		PausedModules:      []string{},
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./streampass-data"
	}
	if strings.TrimSpace(cfg.SettlementAsset) == "" {
		cfg.SettlementAsset = "PASS"
	}
	if strings.TrimSpace(cfg.MintReward) == "" {
		cfg.MintReward = "0"
	}
	if strings.TrimSpace(cfg.DefaultMinRate) == "" {
		cfg.DefaultMinRate = "0"
	}
	if cfg.DefaultSupply == 0 {
		cfg.DefaultSupply = 10_000
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
}

// Validate rejects configurations the engines would refuse at runtime.
func (c *Config) Validate() error {
	if c.FeeBps > flow.MaxFeeBps {
		return fmt.Errorf("config: FeeBps %d exceeds maximum %d", c.FeeBps, flow.MaxFeeBps)
	}
	if _, ok := new(big.Int).SetString(c.MintReward, 10); !ok {
		return fmt.Errorf("config: MintReward %q is not a base-10 integer", c.MintReward)
	}
	if _, ok := new(big.Int).SetString(c.DefaultMinRate, 10); !ok {
		return fmt.Errorf("config: DefaultMinRate %q is not a base-10 integer", c.DefaultMinRate)
	}
	return nil
}

// MintRewardAmount parses the configured flat mint reward.
func (c *Config) MintRewardAmount() *big.Int {
	amount, ok := new(big.Int).SetString(c.MintReward, 10)
	if !ok {
		return big.NewInt(0)
	}
	return amount
}

// DefaultMinRateAmount parses the configured platform minimum rate.
func (c *Config) DefaultMinRateAmount() *big.Int {
	amount, ok := new(big.Int).SetString(c.DefaultMinRate, 10)
	if !ok {
		return big.NewInt(0)
	}
	return amount
}

// IsPaused reports whether a module is administratively paused.
func (c *Config) IsPaused(module string) bool {
	for _, paused := range c.PausedModules {
		if paused == module {
			return true
		}
	}
	return false
}

func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
