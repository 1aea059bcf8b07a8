package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"otcdesk/crypto"

	"github.com/BurntSushi/toml"
)

// Backend selects which ledger model the daemon runs against.
const (
	BackendEVM    = "evm"
	BackendSolana = "solana"
)

type Config struct {
	RPCAddress      string `toml:"RPCAddress"`
	GatewayAddress  string `toml:"GatewayAddress"`
	DataDir         string `toml:"DataDir"`
	Backend         string `toml:"Backend"`
	NetworkName     string `toml:"NetworkName"`
	TreasuryAddress string `toml:"TreasuryAddress"`
	LogLevel        string `toml:"LogLevel"`
	Recon           Recon  `toml:"Recon"`
}

// Recon configures the nightly reconciliation pass.
type Recon struct {
	Enabled      bool   `toml:"Enabled"`
	DatabasePath string `toml:"DatabasePath"`
	RunHour      int    `toml:"RunHour"`
	RunMinute    int    `toml:"RunMinute"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "otc-local"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Backend) == "" {
		cfg.Backend = BackendEVM
	}
	if cfg.Recon.DatabasePath == "" {
		cfg.Recon.DatabasePath = filepath.Join(cfg.DataDir, "recon.db")
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot safely start with.
func Validate(cfg *Config) error {
	switch cfg.Backend {
	case BackendEVM, BackendSolana:
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("DataDir required")
	}
	if _, err := cfg.TreasuryBytes(); err != nil {
		return err
	}
	if cfg.Recon.RunHour < 0 || cfg.Recon.RunHour > 23 {
		return fmt.Errorf("recon: RunHour out of range")
	}
	if cfg.Recon.RunMinute < 0 || cfg.Recon.RunMinute > 59 {
		return fmt.Errorf("recon: RunMinute out of range")
	}
	return nil
}

// TreasuryBytes decodes the configured treasury address.
func (c *Config) TreasuryBytes() ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(c.TreasuryAddress)
	if err != nil {
		return out, fmt.Errorf("invalid TreasuryAddress: %w", err)
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

// createDefault creates and saves a default configuration file. A fresh
// treasury key is generated alongside it so the default desk is operable.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	keyPath := filepath.Join(dir, "treasury.key")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key.Bytes())), 0o600); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:      ":8080",
		GatewayAddress:  ":8081",
		DataDir:         "./otc-data",
		Backend:         BackendEVM,
		NetworkName:     "otc-local",
		TreasuryAddress: key.PubKey().Address().String(),
		LogLevel:        "info",
		Recon: Recon{
			Enabled:      true,
			DatabasePath: "./otc-data/recon.db",
			RunHour:      2,
			RunMinute:    0,
		},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
