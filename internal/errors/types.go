package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 配置错误（缺少私钥等）
	ErrorTypeConfig ErrorType = iota

	// 编译器诊断错误
	ErrorTypeCompilation

	// 数据编码错误
	ErrorTypeFormat
	ErrorTypeEncoding

	// 签名恢复错误
	ErrorTypeRecovery

	// 链上交互错误
	ErrorTypeFunding
	ErrorTypeBroadcast
)

// 常用错误码
const (
	CodeMissingPrivateKey = "MISSING_PRIVATE_KEY"
	CodeInvalidPrivateKey = "INVALID_PRIVATE_KEY"
	CodeMissingRPCURL     = "MISSING_RPC_URL"
	CodeInvalidConfig     = "CONFIG_INVALID"

	CodeCompilerFailed      = "COMPILER_FAILED"
	CodeCompilerDiagnostics = "COMPILER_DIAGNOSTICS"
	CodeContractNotFound    = "CONTRACT_NOT_FOUND"

	CodeInvalidHex      = "INVALID_HEX"
	CodeInvalidInteger  = "INVALID_INTEGER"
	CodeRLPEncodeFailed = "RLP_ENCODE_FAILED"
	CodeIntrinsicGas    = "INTRINSIC_GAS_EXCEEDED"
	CodeInvalidTx       = "INVALID_TRANSACTION"

	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeRecoverFailed    = "RECOVER_FAILED"

	CodeFundingRejected = "FUNDING_REJECTED"
	CodeFundingReverted = "FUNDING_REVERTED"
	CodeFundingTimeout  = "FUNDING_TIMEOUT"
	CodeSenderNonceUsed = "SENDER_NONCE_USED"

	CodeBroadcastRejected = "BROADCAST_REJECTED"
	CodeDeploymentFailed  = "DEPLOYMENT_FAILED"
	CodeRPCUnavailable    = "RPC_UNAVAILABLE"
)

// DeployError 部署流程中的错误
type DeployError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Component string                 `json:"component"`
}

// Error 实现error接口
func (e *DeployError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *DeployError) Unwrap() error {
	return e.Cause
}

// WithContext 添加上下文信息
func (e *DeployError) WithContext(key string, value interface{}) *DeployError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithComponent 设置出错组件
func (e *DeployError) WithComponent(component string) *DeployError {
	e.Component = component
	return e
}

// NewDeployError 创建新的错误
func NewDeployError(errorType ErrorType, code, message string) *DeployError {
	return &DeployError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, code, message string) *DeployError {
	return &DeployError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// IsType 判断错误链中是否存在指定类型的DeployError
func IsType(err error, errorType ErrorType) bool {
	var de *DeployError
	if !stderrors.As(err, &de) {
		return false
	}
	return de.Type == errorType
}

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeConfig:      "ConfigError",
	ErrorTypeCompilation: "CompilationError",
	ErrorTypeFormat:      "FormatError",
	ErrorTypeEncoding:    "EncodingError",
	ErrorTypeRecovery:    "RecoveryError",
	ErrorTypeFunding:     "FundingError",
	ErrorTypeBroadcast:   "BroadcastError",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}
