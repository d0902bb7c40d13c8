package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deployerrors "ddp/internal/errors"
)

const testPrivateKey = "45a915e4d060149eb4365960e6a7a45f334393093061116b197e3240065ff2d8"

// clearKeyEnv 清除私钥环境变量，测试结束后恢复
func clearKeyEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{PrivateKeyEnv, PrefixedPrivateKeyEnv, "DDP_RPC_URL"} {
		if original, ok := os.LookupEnv(name); ok {
			os.Unsetenv(name)
			t.Cleanup(func() { os.Setenv(name, original) })
		}
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestGetDefaultConfig(t *testing.T) {
	config := GetDefaultConfig()

	assert.NotNil(t, config)
	assert.Equal(t, DefaultRPCURL, config.RPC.URL)
	assert.Equal(t, "10s", config.RPC.Timeout)
	assert.Empty(t, config.Wallet.PrivateKey)
	assert.Equal(t, "solc", config.Compiler.SolcPath)
	assert.True(t, config.Funding.WaitConfirmation)
	assert.True(t, config.Deploy.WaitConfirmation)
	assert.False(t, config.Journal.Enabled)
	assert.Equal(t, "./data/deployments.db", config.Journal.Path)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoad_DefaultsWithoutFiles(t *testing.T) {
	clearKeyEnv(t)
	dir := t.TempDir()

	config, err := LoadWithEnvFile(filepath.Join(dir, "missing.yaml"), filepath.Join(dir, ".env"))
	require.NoError(t, err)

	assert.Equal(t, DefaultRPCURL, config.RPC.URL)
	assert.Empty(t, config.Wallet.PrivateKey)
	assert.True(t, config.Funding.WaitConfirmation)
	assert.Equal(t, "stderr", config.Logging.Output)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	clearKeyEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
rpc:
  url: http://127.0.0.1:8545
compiler:
  solc_path: /opt/solc
  bytecode: "0x6001"
funding:
  wait_confirmation: false
journal:
  enabled: true
logging:
  level: debug
  format: json
`)

	config, err := LoadWithEnvFile(path, "")
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8545", config.RPC.URL)
	assert.Equal(t, "10s", config.RPC.Timeout)
	assert.Equal(t, "/opt/solc", config.Compiler.SolcPath)
	assert.Equal(t, "0x6001", config.Compiler.Bytecode)
	assert.False(t, config.Funding.WaitConfirmation)
	assert.True(t, config.Deploy.WaitConfirmation)
	assert.True(t, config.Journal.Enabled)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearKeyEnv(t)
	path := writeFile(t, t.TempDir(), "config.yaml", "rpc: [unclosed")

	_, err := LoadWithEnvFile(path, "")
	require.Error(t, err)
	assert.True(t, deployerrors.IsType(err, deployerrors.ErrorTypeConfig))
}

func TestLoad_PrivateKeyFromDotenv(t *testing.T) {
	clearKeyEnv(t)
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "privateKey="+testPrivateKey+"\nDDP_RPC_URL=http://dotenv:8545\n")

	config, err := LoadWithEnvFile("", envFile)
	require.NoError(t, err)

	assert.Equal(t, testPrivateKey, config.Wallet.PrivateKey)
	assert.Equal(t, "http://dotenv:8545", config.RPC.URL)
	assert.NoError(t, config.Validate())
}

func TestLoad_EnvironmentOverridesDotenv(t *testing.T) {
	clearKeyEnv(t)
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "privateKey=deadbeef\n")
	t.Setenv(PrefixedPrivateKeyEnv, "0x"+testPrivateKey)

	config, err := LoadWithEnvFile("", envFile)
	require.NoError(t, err)

	assert.Equal(t, "0x"+testPrivateKey, config.Wallet.PrivateKey)
	assert.NoError(t, config.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantCode string
	}{
		{
			name:     "缺少私钥",
			mutate:   func(c *Config) { c.Wallet.PrivateKey = "" },
			wantCode: deployerrors.CodeMissingPrivateKey,
		},
		{
			name:     "空白私钥",
			mutate:   func(c *Config) { c.Wallet.PrivateKey = "   " },
			wantCode: deployerrors.CodeMissingPrivateKey,
		},
		{
			name:     "私钥格式错误",
			mutate:   func(c *Config) { c.Wallet.PrivateKey = "0x1234" },
			wantCode: deployerrors.CodeInvalidPrivateKey,
		},
		{
			name:     "缺少节点地址",
			mutate:   func(c *Config) { c.RPC.URL = "" },
			wantCode: deployerrors.CodeMissingRPCURL,
		},
		{
			name:     "超时格式错误",
			mutate:   func(c *Config) { c.Funding.Timeout = "soon" },
			wantCode: deployerrors.CodeInvalidConfig,
		},
		{
			name:   "有效配置",
			mutate: func(c *Config) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := GetDefaultConfig()
			config.Wallet.PrivateKey = testPrivateKey
			tt.mutate(config)

			err := config.Validate()
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var deployErr *deployerrors.DeployError
			require.ErrorAs(t, err, &deployErr)
			assert.Equal(t, deployerrors.ErrorTypeConfig, deployErr.Type)
			assert.Equal(t, tt.wantCode, deployErr.Code)
		})
	}
}

func TestParseTimeout(t *testing.T) {
	assert.Equal(t, 3*time.Second, ParseTimeout("3s", time.Minute))
	assert.Equal(t, time.Minute, ParseTimeout("", time.Minute))
	assert.Equal(t, time.Minute, ParseTimeout("bogus", time.Minute))
	assert.Equal(t, time.Minute, ParseTimeout("-1s", time.Minute))
}
