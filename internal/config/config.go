package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/viper"

	deployerrors "ddp/internal/errors"
	"ddp/internal/logging"
)

const (
	// DefaultRPCURL 默认节点地址
	DefaultRPCURL = "https://testnet.p12.games"

	// PrivateKeyEnv 注资私钥环境变量名
	PrivateKeyEnv = "privateKey"

	// PrefixedPrivateKeyEnv 带前缀的私钥环境变量名
	PrefixedPrivateKeyEnv = "DDP_PRIVATE_KEY"

	// DefaultEnvFile 默认 dotenv 文件
	DefaultEnvFile = ".env"
)

// Config 主配置
type Config struct {
	RPC      *RPCConfig         `mapstructure:"rpc"`
	Wallet   *WalletConfig      `mapstructure:"wallet"`
	Compiler *CompilerConfig    `mapstructure:"compiler"`
	Funding  *StepConfig        `mapstructure:"funding"`
	Deploy   *StepConfig        `mapstructure:"deploy"`
	Journal  *JournalConfig     `mapstructure:"journal"`
	Logging  *logging.LogConfig `mapstructure:"logging"`
}

// RPCConfig 节点配置
type RPCConfig struct {
	URL     string `mapstructure:"url"`
	Timeout string `mapstructure:"timeout"`
}

// WalletConfig 注资钱包配置
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
}

// CompilerConfig 编译器配置
type CompilerConfig struct {
	SolcPath   string `mapstructure:"solc_path"`
	SourcePath string `mapstructure:"source_path"` // 为空时使用内置 Yul 源码
	Bytecode   string `mapstructure:"bytecode"`    // 非空时跳过 solc
}

// StepConfig 链上步骤配置
type StepConfig struct {
	WaitConfirmation bool   `mapstructure:"wait_confirmation"`
	Timeout          string `mapstructure:"timeout"`
	Strict           bool   `mapstructure:"strict"` // 注资地址与节点恢复的发送方不一致时中止
}

// JournalConfig 部署记录配置，默认关闭
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		RPC: &RPCConfig{
			URL:     DefaultRPCURL,
			Timeout: "10s",
		},
		Wallet: &WalletConfig{},
		Compiler: &CompilerConfig{
			SolcPath: "solc",
		},
		Funding: &StepConfig{
			WaitConfirmation: true,
			Timeout:          "5m",
		},
		Deploy: &StepConfig{
			WaitConfirmation: true,
			Timeout:          "5m",
		},
		Journal: &JournalConfig{
			Enabled: false,
			Path:    "./data/deployments.db",
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// setDefaults 把默认配置写入 viper
func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()
	v.SetDefault("rpc.url", d.RPC.URL)
	v.SetDefault("rpc.timeout", d.RPC.Timeout)
	v.SetDefault("wallet.private_key", "")
	v.SetDefault("compiler.solc_path", d.Compiler.SolcPath)
	v.SetDefault("compiler.source_path", "")
	v.SetDefault("compiler.bytecode", "")
	v.SetDefault("funding.wait_confirmation", d.Funding.WaitConfirmation)
	v.SetDefault("funding.timeout", d.Funding.Timeout)
	v.SetDefault("deploy.wait_confirmation", d.Deploy.WaitConfirmation)
	v.SetDefault("deploy.timeout", d.Deploy.Timeout)
	v.SetDefault("deploy.strict", d.Deploy.Strict)
	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}

// Load 加载配置：默认值、YAML 文件、.env 文件、环境变量，后者覆盖前者
func Load(configPath string) (*Config, error) {
	return LoadWithEnvFile(configPath, DefaultEnvFile)
}

// LoadWithEnvFile 加载配置并指定 dotenv 文件
func LoadWithEnvFile(configPath, envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, deployerrors.WrapError(err, deployerrors.ErrorTypeConfig,
					deployerrors.CodeInvalidConfig, "读取配置文件失败").WithContext("path", configPath)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, deployerrors.WrapError(err, deployerrors.ErrorTypeConfig,
			deployerrors.CodeInvalidConfig, "解析配置文件失败")
	}

	dotenv, err := readEnvFile(envFile)
	if err != nil {
		return nil, err
	}
	if url := lookup(dotenv, "DDP_RPC_URL"); url != "" {
		config.RPC.URL = url
	}
	if key := lookup(dotenv, PrivateKeyEnv, PrefixedPrivateKeyEnv); key != "" {
		config.Wallet.PrivateKey = key
	}

	return &config, nil
}

// readEnvFile 读取 dotenv 文件，文件不存在时返回空集合
func readEnvFile(envFile string) (map[string]string, error) {
	values := make(map[string]string)
	if envFile == "" {
		return values, nil
	}
	if _, err := os.Stat(envFile); err != nil {
		return values, nil
	}

	ev := viper.New()
	ev.SetConfigFile(envFile)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return nil, deployerrors.WrapError(err, deployerrors.ErrorTypeConfig,
			deployerrors.CodeInvalidConfig, "读取 .env 文件失败").WithContext("path", envFile)
	}

	// viper 的键不区分大小写
	for _, key := range ev.AllKeys() {
		values[strings.ToLower(key)] = ev.GetString(key)
	}
	return values, nil
}

// lookup 依次查找环境变量与 dotenv 值，进程环境优先
func lookup(dotenv map[string]string, names ...string) string {
	for _, name := range names {
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
	}
	for _, name := range names {
		if value := dotenv[strings.ToLower(name)]; value != "" {
			return value
		}
	}
	return ""
}

// Validate 校验配置，在任何编译或网络调用前执行
func (c *Config) Validate() error {
	if c.Wallet == nil || strings.TrimSpace(c.Wallet.PrivateKey) == "" {
		return deployerrors.NewDeployError(deployerrors.ErrorTypeConfig, deployerrors.CodeMissingPrivateKey,
			fmt.Sprintf("缺少注资私钥，请设置环境变量 %s", PrivateKeyEnv)).WithComponent("config")
	}

	key := strings.TrimSpace(c.Wallet.PrivateKey)
	key = strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X")
	if _, err := crypto.HexToECDSA(key); err != nil {
		return deployerrors.WrapError(err, deployerrors.ErrorTypeConfig, deployerrors.CodeInvalidPrivateKey,
			"注资私钥格式无效").WithComponent("config")
	}

	if c.RPC == nil || strings.TrimSpace(c.RPC.URL) == "" {
		return deployerrors.NewDeployError(deployerrors.ErrorTypeConfig, deployerrors.CodeMissingRPCURL,
			"缺少节点地址").WithComponent("config")
	}

	for name, value := range map[string]string{
		"rpc.timeout":     c.RPC.Timeout,
		"funding.timeout": stepTimeout(c.Funding),
		"deploy.timeout":  stepTimeout(c.Deploy),
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return deployerrors.WrapError(err, deployerrors.ErrorTypeConfig, deployerrors.CodeInvalidConfig,
				"无效的超时配置").WithContext("key", name).WithComponent("config")
		}
	}

	return nil
}

func stepTimeout(s *StepConfig) string {
	if s == nil {
		return ""
	}
	return s.Timeout
}

// ParseTimeout 解析超时字符串，为空或无效时返回默认值
func ParseTimeout(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
