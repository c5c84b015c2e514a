package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"meritchain/crypto"

	"github.com/BurntSushi/toml"
)

// Config holds the daemon settings persisted in merit_config.toml.
type Config struct {
	RPCAddress        string `toml:"RPCAddress"`
	MetricsAddress    string `toml:"MetricsAddress"`
	DataDir           string `toml:"DataDir"`
	AdminKeystorePath string `toml:"AdminKeystorePath"`
	AdminAddress      string `toml:"AdminAddress"`
	NetworkName       string `toml:"NetworkName"`
	EventLogSize      int    `toml:"EventLogSize"`
}

// Load loads the configuration from the given path, creating a default file
// with a fresh admin keystore when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.AdminAddress) == "" {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "merit-local"
	}
	if cfg.EventLogSize < 0 {
		return nil, fmt.Errorf("config file %s: EventLogSize must not be negative", path)
	}

	return cfg, nil
}

// AdminAddressBytes decodes the configured administrator address.
func (c *Config) AdminAddressBytes() ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(c.AdminAddress))
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid AdminAddress: %w", err)
	}
	return addr.Array(), nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.AdminKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	var key *crypto.PrivateKey
	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		generated, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, generated, ""); err != nil {
			return err
		}
		key = generated
	} else if err != nil {
		return err
	} else {
		loaded, loadErr := crypto.LoadFromKeystore(keystorePath, "")
		if loadErr != nil {
			return loadErr
		}
		key = loaded
	}

	cfg.AdminKeystorePath = keystorePath
	cfg.AdminAddress = key.PubKey().Address().String()
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:        ":8080",
		MetricsAddress:    ":9090",
		DataDir:           "./merit-data",
		AdminKeystorePath: keystorePath,
		AdminAddress:      key.PubKey().Address().String(),
		NetworkName:       "merit-local",
		EventLogSize:      0,
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

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	return filepath.Join(dir, "admin_keystore.json")
}
