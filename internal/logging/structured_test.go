package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	assert.Equal(t, os.Stderr, logger.Out)
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level    string
		expected logrus.Level
		wantErr  bool
	}{
		{"debug", logrus.DebugLevel, false},
		{"INFO", logrus.InfoLevel, false},
		{"warning", logrus.WarnLevel, false},
		{"error", logrus.ErrorLevel, false},
		{"trace-all", logrus.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(&LogConfig{Level: tt.level, Format: "text", Output: "stdout"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, logger.GetLevel())
		})
	}
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	_, err := NewLogger(&LogConfig{Level: "info", Format: "xml", Output: "stdout"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ddp.log")

	logger, err := NewLogger(&LogConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.WithField("chain_id", 1).Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, float64(1), entry["chain_id"])
}

func TestStageLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	NewStageLogger(logger, "Funding").Info("funding sender")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Funding", entry["stage"])
	assert.Equal(t, "deployer", entry["component"])
}

func TestChainAndRPCLogger(t *testing.T) {
	logger := logrus.New()

	entry := NewChainLogger(logger, 56, "0xabc")
	assert.Equal(t, uint64(56), entry.Data["chain_id"])
	assert.Equal(t, "0xabc", entry.Data["sender"])

	rpcEntry := NewRPCLogger(logger, "eth_sendRawTransaction", "http://localhost:8545")
	assert.Equal(t, "eth_sendRawTransaction", rpcEntry.Data["rpc_method"])
	assert.Equal(t, "http://localhost:8545", rpcEntry.Data["node_url"])
}
