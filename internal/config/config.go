package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	Blockchain BlockchainConfig `yaml:"blockchain"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Solver     SolverConfig     `yaml:"solver"`
	CORS       CORSConfig       `yaml:"cors"`
	Auth       AuthConfig       `yaml:"auth"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL             string `yaml:"url"`
	Timeout         int    `yaml:"timeout"`
	ReconnectWait   int    `yaml:"reconnect_wait"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
	StreamName      string `yaml:"stream_name"`
	SubjectPrefix   string `yaml:"subject_prefix"`
}

// BlockchainConfig blockchain configuration
type BlockchainConfig struct {
	Networks map[string]NetworkConfig `yaml:"networks"`
}

// NetworkConfig per-network configuration
type NetworkConfig struct {
	ChainID      int      `yaml:"chainId"`
	Name         string   `yaml:"name"`
	RPCEndpoints []string `yaml:"rpcEndpoints"`

	// RouterContract is the vault router used for permit-augmented multicall
	// deposits into standard vaults. Empty disables the router path.
	RouterContract string `yaml:"routerContract"`

	// SafeServiceURL is the multisig transaction service for this chain.
	// Empty disables the safe batch path.
	SafeServiceURL string `yaml:"safeServiceUrl"`

	NativeSymbol string `yaml:"nativeSymbol"`

	// Signing: direct private key (hex, no 0x prefix)
	PrivateKey string `yaml:"privateKey"`

	GasPrice string `yaml:"gasPrice"` // wei, or "auto"
	GasLimit uint64 `yaml:"gasLimit"`

	Enabled bool `yaml:"enabled"`
}

// AggregatorConfig swap aggregator (zap) service configuration
type AggregatorConfig struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
	Timeout int    `yaml:"timeout"` // seconds
	Enabled bool   `yaml:"enabled"`
}

// SolverConfig vault transaction solver parameters
type SolverConfig struct {
	// SlippageBps minimum-shares-out tolerance for router deposits (basis points)
	SlippageBps int64 `yaml:"slippageBps"`
	// ToleranceBps full-withdrawal classification band (basis points)
	ToleranceBps int64 `yaml:"toleranceBps"`
	// PermitDeadlineMinutes lifetime of requested permit signatures
	PermitDeadlineMinutes int `yaml:"permitDeadlineMinutes"`
	// SafePollSeconds interval between batch proposal status polls
	SafePollSeconds int `yaml:"safePollSeconds"`
	// SafePollDeadlineMinutes upper bound on batch proposal polling; 0 = unlimited
	SafePollDeadlineMinutes int `yaml:"safePollDeadlineMinutes"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// AuthConfig API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	// Issuer expected in tokens; empty accepts any
	Issuer string `yaml:"issuer"`
}

var AppConfig *Config

// LoadConfig loads the configuration file, preferring config.local.yaml when present
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	AppConfig = &config
	return nil
}

// overrideFromEnv applies environment variable overrides
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}

	if aggURL := os.Getenv("AGGREGATOR_BASE_URL"); aggURL != "" {
		config.Aggregator.BaseURL = aggURL
	}
	if aggKey := os.Getenv("AGGREGATOR_API_KEY"); aggKey != "" {
		config.Aggregator.APIKey = aggKey
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	// Network private keys: generic PRIVATE_KEY or network-specific (e.g. MAINNET_PRIVATE_KEY)
	for networkName, networkConfig := range config.Blockchain.Networks {
		if pk := os.Getenv(fmt.Sprintf("%s_PRIVATE_KEY", strings.ToUpper(networkName))); pk != "" {
			networkConfig.PrivateKey = pk
		} else if pk := os.Getenv("PRIVATE_KEY"); pk != "" && networkConfig.PrivateKey == "" {
			networkConfig.PrivateKey = pk
		}
		config.Blockchain.Networks[networkName] = networkConfig
	}
}

// applyDefaults fills solver parameters that were left unset
func applyDefaults(config *Config) {
	if config.Solver.SlippageBps == 0 {
		config.Solver.SlippageBps = 50 // 0.5%
	}
	if config.Solver.ToleranceBps == 0 {
		config.Solver.ToleranceBps = 100 // 1%
	}
	if config.Solver.PermitDeadlineMinutes == 0 {
		config.Solver.PermitDeadlineMinutes = 30
	}
	if config.Solver.SafePollSeconds == 0 {
		config.Solver.SafePollSeconds = 30
	}
	if config.Aggregator.Timeout == 0 {
		config.Aggregator.Timeout = 15
	}
}

// GetNetworkConfigByChainID looks up a network by chain id
func GetNetworkConfigByChainID(chainID int) (*NetworkConfig, error) {
	if AppConfig == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	for _, networkConfig := range AppConfig.Blockchain.Networks {
		if networkConfig.ChainID == chainID && networkConfig.Enabled {
			nc := networkConfig
			return &nc, nil
		}
	}
	return nil, fmt.Errorf("no enabled network configured for chainID %d", chainID)
}
