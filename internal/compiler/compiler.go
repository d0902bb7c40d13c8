// Package compiler 封装外部编译器：给定 Yul 源码，返回字节码、ABI 与诊断信息。
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"regexp"
	"strings"

	"ddp/internal/codec"
	"ddp/internal/errors"
	"ddp/pkg/models"
)

// experimentalYul Yul 方言的提示性警告，不视为编译失败
var experimentalYul = regexp.MustCompile(`Yul is still experimental`)

// Compiler 编译器接口
type Compiler interface {
	Compile(ctx context.Context, input *Input) (*Output, error)
}

// Solc 通过 `solc --standard-json` 调用本地编译器
type Solc struct {
	Path string
}

// NewSolc 创建 solc 编译器，路径为空时从 PATH 中查找
func NewSolc(path string) *Solc {
	if path == "" {
		path = "solc"
	}
	return &Solc{Path: path}
}

// Compile 实现 Compiler 接口
func (s *Solc) Compile(ctx context.Context, input *Input) (*Output, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeCompilation, errors.CodeCompilerFailed, "序列化编译输入失败")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Path, "--standard-json")
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeCompilation, errors.CodeCompilerFailed, "执行solc失败").
			WithContext("solc", s.Path).
			WithContext("stderr", strings.TrimSpace(stderr.String()))
	}

	var output Output
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeCompilation, errors.CodeCompilerFailed, "解析solc输出失败")
	}
	return &output, nil
}

// Precompiled 直接返回给定的字节码，不调用编译器
type Precompiled struct {
	Bytecode string
}

// Compile 实现 Compiler 接口，输出结构与 solc 一致
func (p *Precompiled) Compile(ctx context.Context, input *Input) (*Output, error) {
	object := strings.TrimPrefix(strings.TrimPrefix(p.Bytecode, "0x"), "0X")
	return &Output{
		Contracts: map[string]map[string]ContractOutput{
			ProxySourceName: {
				ProxyContractName: {EVM: EVMOutput{Bytecode: Bytecode{Object: object}}},
			},
		},
	}, nil
}

// CheckDiagnostics 过滤掉 Yul 实验性警告，其余诊断拼接为 CompilationError
func CheckDiagnostics(diagnostics []Diagnostic) error {
	var concatenated strings.Builder
	for _, d := range diagnostics {
		if experimentalYul.MatchString(d.Message) {
			continue
		}
		msg := d.FormattedMessage
		if msg == "" {
			msg = d.Message
		}
		concatenated.WriteString(msg)
		concatenated.WriteString("\n")
	}

	if concatenated.Len() == 0 {
		return nil
	}
	return errors.NewDeployError(errors.ErrorTypeCompilation, errors.CodeCompilerDiagnostics,
		"编译器返回了以下错误/警告:\n\n"+concatenated.String())
}

// Contract 从编译输出中取出指定合约
func Contract(output *Output, sourceName, contractName string) (*models.CompiledContract, error) {
	contracts, ok := output.Contracts[sourceName]
	if !ok {
		return nil, errors.NewDeployError(errors.ErrorTypeCompilation, errors.CodeContractNotFound, "编译输出中缺少源文件").
			WithContext("source", sourceName)
	}
	contract, ok := contracts[contractName]
	if !ok {
		return nil, errors.NewDeployError(errors.ErrorTypeCompilation, errors.CodeContractNotFound, "编译输出中缺少合约").
			WithContext("source", sourceName).
			WithContext("contract", contractName)
	}

	bytecode, err := codec.BytesFromHex(contract.EVM.Bytecode.Object)
	if err != nil {
		return nil, err
	}
	if len(bytecode) == 0 {
		return nil, errors.NewDeployError(errors.ErrorTypeCompilation, errors.CodeContractNotFound, "合约字节码为空").
			WithContext("contract", contractName)
	}

	return &models.CompiledContract{
		Name:         contractName,
		Bytecode:     bytecode,
		ABI:          contract.ABI,
		GasEstimates: contract.EVM.GasEstimates,
	}, nil
}

// CompileProxy 编译代理合约并检查诊断信息
func CompileProxy(ctx context.Context, c Compiler, source string) (*models.CompiledContract, error) {
	output, err := c.Compile(ctx, NewProxyInput(source))
	if err != nil {
		return nil, err
	}
	if err := CheckDiagnostics(output.Errors); err != nil {
		return nil, err
	}
	return Contract(output, ProxySourceName, ProxyContractName)
}
