package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
server:
  host: "0.0.0.0"
  port: 8080

database:
  dsn: "host=localhost user=vault dbname=vault_backend sslmode=disable"
  driver: "postgres"

blockchain:
  networks:
    mainnet:
      chainId: 1
      name: "Ethereum"
      rpcEndpoints:
        - "https://eth.example.com"
      routerContract: "0x2222222222222222222222222222222222222222"
      safeServiceUrl: "https://safe.example.com"
      gasPrice: "auto"
      enabled: true
    disabled:
      chainId: 5
      name: "Goerli"
      enabled: false

solver:
  slippageBps: 75

auth:
  jwtSecret: "from-yaml"
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o644))
	return path
}

func loadTestConfig(t *testing.T, path string) {
	t.Helper()
	previous := AppConfig
	t.Cleanup(func() { AppConfig = previous })
	require.NoError(t, LoadConfig(path))
}

func TestLoadConfig(t *testing.T) {
	loadTestConfig(t, writeTestConfig(t))

	assert.Equal(t, 8080, AppConfig.Server.Port)
	assert.Equal(t, "postgres", AppConfig.Database.Driver)
	assert.Equal(t, "from-yaml", AppConfig.Auth.JWTSecret)

	mainnet := AppConfig.Blockchain.Networks["mainnet"]
	assert.Equal(t, 1, mainnet.ChainID)
	assert.Equal(t, "https://safe.example.com", mainnet.SafeServiceURL)
	assert.True(t, mainnet.Enabled)
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	loadTestConfig(t, writeTestConfig(t))

	// explicitly configured value survives
	assert.Equal(t, int64(75), AppConfig.Solver.SlippageBps)

	// unset solver parameters take their defaults
	assert.Equal(t, int64(100), AppConfig.Solver.ToleranceBps)
	assert.Equal(t, 30, AppConfig.Solver.PermitDeadlineMinutes)
	assert.Equal(t, 30, AppConfig.Solver.SafePollSeconds)
	assert.Equal(t, 0, AppConfig.Solver.SafePollDeadlineMinutes, "zero deadline means unlimited polling")
	assert.Equal(t, 15, AppConfig.Aggregator.Timeout)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("MAINNET_PRIVATE_KEY", "deadbeef")

	loadTestConfig(t, writeTestConfig(t))

	assert.Equal(t, "from-env", AppConfig.Auth.JWTSecret)
	assert.Equal(t, 9999, AppConfig.Server.Port)
	assert.Equal(t, "deadbeef", AppConfig.Blockchain.Networks["mainnet"].PrivateKey)
}

func TestLoadConfigMissingFile(t *testing.T) {
	err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestGetNetworkConfigByChainID(t *testing.T) {
	loadTestConfig(t, writeTestConfig(t))

	network, err := GetNetworkConfigByChainID(1)
	require.NoError(t, err)
	assert.Equal(t, "Ethereum", network.Name)

	// disabled networks are invisible
	_, err = GetNetworkConfigByChainID(5)
	assert.Error(t, err)

	_, err = GetNetworkConfigByChainID(999)
	assert.Error(t, err)
}
