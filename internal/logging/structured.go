package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`    // 日志级别 (debug, info, warn, error)
	Format string `mapstructure:"format" json:"format" yaml:"format"` // 日志格式 (json, text)
	Output string `mapstructure:"output" json:"output" yaml:"output"` // 输出路径 (stdout, stderr, file path)
}

// DefaultLogConfig 默认日志配置
var DefaultLogConfig = &LogConfig{
	Level:  "info",
	Format: "text",
	Output: "stderr",
}

// NewLogger 按配置创建 logrus 日志器
func NewLogger(config *LogConfig) (*logrus.Logger, error) {
	if config == nil {
		config = DefaultLogConfig
	}

	level, err := parseLogLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("无效的日志级别 '%s': %w", config.Level, err)
	}

	writer, err := getLogWriter(config)
	if err != nil {
		return nil, fmt.Errorf("创建日志输出失败: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(writer)
	logger.SetLevel(level)

	switch strings.ToLower(config.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		return nil, fmt.Errorf("不支持的日志格式: %s", config.Format)
	}

	return logger, nil
}

// parseLogLevel 解析日志级别
func parseLogLevel(levelStr string) (logrus.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return logrus.DebugLevel, nil
	case "", "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("未知的日志级别: %s", levelStr)
	}
}

// getLogWriter 获取日志输出
func getLogWriter(config *LogConfig) (io.Writer, error) {
	switch config.Output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	default:
		// 文件输出
		dir := filepath.Dir(config.Output)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}

		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}

		return file, nil
	}
}

// NewStageLogger 创建部署阶段日志器
func NewStageLogger(logger *logrus.Logger, stage string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": "deployer",
		"stage":     stage,
	})
}

// NewChainLogger 创建链相关日志器
func NewChainLogger(logger *logrus.Logger, chainID uint64, sender string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"chain_id": chainID,
		"sender":   sender,
	})
}

// NewRPCLogger 创建RPC日志器
func NewRPCLogger(logger *logrus.Logger, method string, nodeURL string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"rpc_method": method,
		"node_url":   nodeURL,
	})
}
