package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"escrowd/crypto"
	"escrowd/escrow"
)

// Escrow holds the initial custody parameters seeded into the parameter store
// on first boot. Later authority mutations take precedence over this section.
type Escrow struct {
	FeeBps           uint32 `toml:"FeeBps"`
	CancelWindowSecs int64  `toml:"CancelWindowSecs"`
	Authority        string `toml:"Authority"`
}

type Config struct {
	RPCAddress string `toml:"RPCAddress"`
	DataDir    string `toml:"DataDir"`
	LogEnv     string `toml:"LogEnv"`
	Escrow     Escrow `toml:"escrow"`
}

const (
	defaultRPCAddress       = ":8645"
	defaultDataDir          = "./escrowd-data"
	defaultFeeBps           = 250
	defaultCancelWindowSecs = 86_400
)

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
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

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if strings.TrimSpace(cfg.LogEnv) == "" {
		cfg.LogEnv = "dev"
	}
	if cfg.Escrow.FeeBps == 0 && cfg.Escrow.CancelWindowSecs == 0 {
		cfg.Escrow.FeeBps = defaultFeeBps
	}
	if cfg.Escrow.CancelWindowSecs == 0 {
		cfg.Escrow.CancelWindowSecs = defaultCancelWindowSecs
	}
}

// Validate checks the parameter bounds and the authority identity.
func (cfg *Config) Validate() error {
	if cfg.Escrow.FeeBps > escrow.MaxFeeBps {
		return fmt.Errorf("config: FeeBps %d out of range [0, %d]", cfg.Escrow.FeeBps, escrow.MaxFeeBps)
	}
	if cfg.Escrow.CancelWindowSecs < escrow.MinCancelWindowSecs || cfg.Escrow.CancelWindowSecs > escrow.MaxCancelWindowSecs {
		return fmt.Errorf("config: CancelWindowSecs %d out of range [%d, %d]", cfg.Escrow.CancelWindowSecs, escrow.MinCancelWindowSecs, escrow.MaxCancelWindowSecs)
	}
	if strings.TrimSpace(cfg.Escrow.Authority) == "" {
		return fmt.Errorf("config: escrow.Authority is required")
	}
	if _, err := crypto.DecodeAddress(cfg.Escrow.Authority); err != nil {
		return fmt.Errorf("config: escrow.Authority: %w", err)
	}
	return nil
}

// SeedParams converts the config section into the parameter-store seed.
func (cfg *Config) SeedParams() (escrow.Params, error) {
	authority, err := crypto.DecodeAddress(cfg.Escrow.Authority)
	if err != nil {
		return escrow.Params{}, fmt.Errorf("config: escrow.Authority: %w", err)
	}
	return escrow.Params{
		FeeBps:           cfg.Escrow.FeeBps,
		CancelWindowSecs: cfg.Escrow.CancelWindowSecs,
		Authority:        authority.Raw(),
	}, nil
}

// createDefault writes a fresh config alongside a generated authority key so
// a first boot is usable out of the box. The key is stored hex-encoded next to
// the config file; operators replace both for real deployments.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keyPath := filepath.Join(filepath.Dir(path), "authority.key")
	if err := os.WriteFile(keyPath, []byte(fmt.Sprintf("%x\n", key.Bytes())), 0o600); err != nil {
		return nil, err
	}
	cfg := &Config{
		RPCAddress: defaultRPCAddress,
		DataDir:    defaultDataDir,
		LogEnv:     "dev",
		Escrow: Escrow{
			FeeBps:           defaultFeeBps,
			CancelWindowSecs: defaultCancelWindowSecs,
			Authority:        key.PubKey().Address().String(),
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
