package compiler

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

const (
	// ProxySourceName 源文件名，也是编译输出中 contracts 的键
	ProxySourceName = "deterministic-deployment-proxy.yul"

	// ProxyContractName Yul 对象名
	ProxyContractName = "Proxy"
)

//go:embed deterministic-deployment-proxy.yul
var proxySource string

// Input solc standard-json 输入
type Input struct {
	Language string            `json:"language"`
	Sources  map[string]Source `json:"sources"`
	Settings Settings          `json:"settings"`
}

// Source 单个源文件
type Source struct {
	Content string `json:"content"`
}

// Settings 编译设置
type Settings struct {
	Optimizer       Optimizer                      `json:"optimizer"`
	OutputSelection map[string]map[string][]string `json:"outputSelection"`
}

// Optimizer 优化器设置
type Optimizer struct {
	Enabled bool              `json:"enabled"`
	Details *OptimizerDetails `json:"details,omitempty"`
}

// OptimizerDetails 优化器细节
type OptimizerDetails struct {
	Yul bool `json:"yul"`
}

// Output solc standard-json 输出
type Output struct {
	Contracts map[string]map[string]ContractOutput `json:"contracts"`
	Errors    []Diagnostic                         `json:"errors,omitempty"`
}

// ContractOutput 单个合约的编译结果
type ContractOutput struct {
	ABI json.RawMessage `json:"abi,omitempty"`
	EVM EVMOutput       `json:"evm"`
}

// EVMOutput evm 相关输出
type EVMOutput struct {
	Bytecode     Bytecode        `json:"bytecode"`
	GasEstimates json.RawMessage `json:"gasEstimates,omitempty"`
}

// Bytecode 字节码（不带 0x 的十六进制）
type Bytecode struct {
	Object string `json:"object"`
}

// Diagnostic 编译器返回的错误或警告
type Diagnostic struct {
	Type             string `json:"type,omitempty"`
	Component        string `json:"component,omitempty"`
	Severity         string `json:"severity"`
	Message          string `json:"message"`
	FormattedMessage string `json:"formattedMessage"`
}

// ProxySource 内置的代理合约 Yul 源码
func ProxySource() string {
	return proxySource
}

// LoadSource 读取源码文件，路径为空时返回内置源码
func LoadSource(path string) (string, error) {
	if path == "" {
		return proxySource, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取源码文件失败: %w", err)
	}
	return string(b), nil
}

// NewProxyInput 构建代理合约的编译输入
func NewProxyInput(source string) *Input {
	return &Input{
		Language: "Yul",
		Sources: map[string]Source{
			ProxySourceName: {Content: source},
		},
		Settings: Settings{
			Optimizer: Optimizer{
				Enabled: true,
				Details: &OptimizerDetails{Yul: true},
			},
			OutputSelection: map[string]map[string][]string{
				"*": {
					"*": {"abi", "evm.bytecode.object", "evm.gasEstimates"},
				},
			},
		},
	}
}
