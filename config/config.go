package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "chainchat"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "CHAINCHAT_DATA_DIR"
	// PrivateKeyEnv supplies a hex wallet key instead of the key file.
	PrivateKeyEnv = "CHAINCHAT_PRIVATE_KEY"
	// KeyPassphraseEnv supplies the passphrase of an encrypted key file.
	KeyPassphraseEnv = "CHAINCHAT_KEY_PASSPHRASE"

	DefaultRPCURL                 = "https://testnet-rpc.monad.xyz"
	DefaultChainID                = 10143
	DefaultContractAddress        = "0xC89D21dDA2B9896BD6389a1f6fA58fFA1f6f18CA"
	DefaultContractVariant        = "timestamped-event"
	DefaultExplorerTxURL          = "https://monad.blockvision.org/tx/"
	DefaultHistoryBlocks          = 5000
	DefaultRetentionBlocks        = 6500
	DefaultRetentionWindow        = 24 * time.Hour
	DefaultConfirmationTimeout    = 2 * time.Minute
	DefaultReceiptPollInterval    = 2 * time.Second
	DefaultMaxMessageLength       = 1000
	DefaultAPIListenAddress       = "127.0.0.1:8545"
	DefaultHeaderLookupsPerSecond = 20
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "text"

	// configFileName is the persisted configuration file.
	configFileName = "config.yaml"
)

// Config contains persistent client settings.
type Config struct {
	InstanceID             string         `yaml:"instance_id"`
	RPCURL                 string         `yaml:"rpc_url"`
	ChainID                int64          `yaml:"chain_id"`
	ContractAddress        string         `yaml:"contract_address"`
	ContractVariant        string         `yaml:"contract_variant"`
	ExplorerTxURL          string         `yaml:"explorer_tx_url"`
	HistoryBlocks          uint64         `yaml:"history_blocks"`
	RetentionBlocks        uint64         `yaml:"retention_blocks"`
	RetentionWindow        time.Duration  `yaml:"retention_window"`
	ConfirmationTimeout    *time.Duration `yaml:"confirmation_timeout"`
	ReceiptPollInterval    time.Duration  `yaml:"receipt_poll_interval"`
	MessageFeeWei          string         `yaml:"message_fee_wei"`
	MaxMessageLength       int            `yaml:"max_message_length"`
	KeyPath                string         `yaml:"key_path"`
	APIListenAddress       string         `yaml:"api_listen_address"`
	DiscoveryEnabled       *bool          `yaml:"discovery_enabled"`
	HeaderLookupsPerSecond float64        `yaml:"header_lookups_per_second"`
	LogLevel               string         `yaml:"log_level"`
	LogFormat              string         `yaml:"log_format"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If CHAINCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.yaml for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.yaml from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.yaml to disk.
func Save(path string, cfg *Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
// A .env file in the working directory and CHAINCHAT_* variables are applied
// on top of the file; overrides are never written back.
func LoadOrCreate() (*Config, string, error) {
	_ = godotenv.Load()

	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	} else if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return cfg, cfgPath, nil
}

// ApplyEnvOverrides replaces file values with CHAINCHAT_* environment variables.
func ApplyEnvOverrides(cfg *Config) error {
	setString := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	setString("CHAINCHAT_RPC_URL", &cfg.RPCURL)
	setString("CHAINCHAT_CONTRACT", &cfg.ContractAddress)
	setString("CHAINCHAT_CONTRACT_VARIANT", &cfg.ContractVariant)
	setString("CHAINCHAT_EXPLORER_TX_URL", &cfg.ExplorerTxURL)
	setString("CHAINCHAT_MESSAGE_FEE_WEI", &cfg.MessageFeeWei)
	setString("CHAINCHAT_KEY_PATH", &cfg.KeyPath)
	setString("CHAINCHAT_API_LISTEN", &cfg.APIListenAddress)
	setString("CHAINCHAT_LOG_LEVEL", &cfg.LogLevel)
	setString("CHAINCHAT_LOG_FORMAT", &cfg.LogFormat)

	if raw := strings.TrimSpace(os.Getenv("CHAINCHAT_CHAIN_ID")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse CHAINCHAT_CHAIN_ID: %w", err)
		}
		cfg.ChainID = v
	}
	if raw := strings.TrimSpace(os.Getenv("CHAINCHAT_HISTORY_BLOCKS")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse CHAINCHAT_HISTORY_BLOCKS: %w", err)
		}
		cfg.HistoryBlocks = v
	}
	if raw := strings.TrimSpace(os.Getenv("CHAINCHAT_CONFIRMATION_TIMEOUT")); raw != "" {
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse CHAINCHAT_CONFIRMATION_TIMEOUT: %w", err)
		}
		cfg.ConfirmationTimeout = &v
	}
	if raw := strings.TrimSpace(os.Getenv("CHAINCHAT_DISCOVERY")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse CHAINCHAT_DISCOVERY: %w", err)
		}
		cfg.DiscoveryEnabled = &v
	}

	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return errors.New("rpc_url is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("contract_address %q is not a hex address", c.ContractAddress)
	}
	if _, err := c.MessageFee(); err != nil {
		return err
	}
	if c.ConfirmationTimeout != nil && *c.ConfirmationTimeout < 0 {
		return errors.New("confirmation_timeout must not be negative")
	}
	if c.MaxMessageLength < 0 {
		return errors.New("max_message_length must not be negative")
	}
	return nil
}

// MessageFee parses message_fee_wei. Empty means no fee.
func (c *Config) MessageFee() (*big.Int, error) {
	raw := strings.TrimSpace(c.MessageFeeWei)
	if raw == "" {
		return new(big.Int), nil
	}
	fee, ok := new(big.Int).SetString(raw, 10)
	if !ok || fee.Sign() < 0 {
		return nil, fmt.Errorf("message_fee_wei %q is not a non-negative integer", c.MessageFeeWei)
	}
	return fee, nil
}

// Confirmation returns the receipt wait bound. Zero means no bound.
func (c *Config) Confirmation() time.Duration {
	if c.ConfirmationTimeout == nil {
		return DefaultConfirmationTimeout
	}
	return *c.ConfirmationTimeout
}

// Discovery reports whether mDNS advertisement is enabled.
func (c *Config) Discovery() bool {
	return c.DiscoveryEnabled == nil || *c.DiscoveryEnabled
}

func defaultConfig(dataDir string) *Config {
	cfg := &Config{}
	normalizeDefaults(cfg, dataDir)
	return cfg
}

func normalizeDefaults(cfg *Config, dataDir string) bool {
	updated := false
	setString := func(dst *string, value string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = value
			updated = true
		}
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
		updated = true
	}
	setString(&cfg.RPCURL, DefaultRPCURL)
	setString(&cfg.ContractAddress, DefaultContractAddress)
	setString(&cfg.ContractVariant, DefaultContractVariant)
	setString(&cfg.ExplorerTxURL, DefaultExplorerTxURL)
	setString(&cfg.MessageFeeWei, "0")
	setString(&cfg.KeyPath, filepath.Join(dataDir, "keys", "wallet.pem"))
	setString(&cfg.APIListenAddress, DefaultAPIListenAddress)
	setString(&cfg.LogLevel, DefaultLogLevel)
	setString(&cfg.LogFormat, DefaultLogFormat)

	if cfg.ChainID <= 0 {
		cfg.ChainID = DefaultChainID
		updated = true
	}
	if cfg.HistoryBlocks == 0 {
		cfg.HistoryBlocks = DefaultHistoryBlocks
		updated = true
	}
	if cfg.RetentionBlocks == 0 {
		cfg.RetentionBlocks = DefaultRetentionBlocks
		updated = true
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = DefaultRetentionWindow
		updated = true
	}
	if cfg.ConfirmationTimeout == nil {
		timeout := DefaultConfirmationTimeout
		cfg.ConfirmationTimeout = &timeout
		updated = true
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = DefaultReceiptPollInterval
		updated = true
	}
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
		updated = true
	}
	if cfg.DiscoveryEnabled == nil {
		enabled := true
		cfg.DiscoveryEnabled = &enabled
		updated = true
	}
	if cfg.HeaderLookupsPerSecond <= 0 {
		cfg.HeaderLookupsPerSecond = DefaultHeaderLookupsPerSecond
		updated = true
	}

	return updated
}
