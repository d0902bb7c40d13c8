package validation

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/sirupsen/logrus"

	"ddp/internal/builder"
	"ddp/internal/errors"
)

// Validator 广播前的部署交易检查
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下警告也视为失败
	rules      map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(d *builder.Deployment) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                  `json:"valid"`
	Errors   []*errors.DeployError `json:"errors,omitempty"`
	Warnings []string              `json:"warnings,omitempty"`
}

// Err 第一个错误，全部通过时为nil
func (r *ValidationResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// NewValidator 创建验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		rules:      make(map[string]ValidationRule),
	}

	v.AddRule(NewCreationRule())
	v.AddRule(NewIntrinsicGasRule())
	v.AddRule(NewFundingRule())

	return v
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// Validate 依次执行所有规则
func (v *Validator) Validate(d *builder.Deployment) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   make([]*errors.DeployError, 0),
		Warnings: make([]string, 0),
	}

	if d == nil {
		result.Valid = false
		result.Errors = append(result.Errors, errors.NewDeployError(errors.ErrorTypeEncoding, errors.CodeInvalidTx, "部署交易为空"))
		return result
	}

	names := make([]string, 0, len(v.rules))
	for name := range v.rules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := v.rules[name].Validate(d); err != nil {
			result.Valid = false
			if deployErr, ok := err.(*errors.DeployError); ok {
				result.Errors = append(result.Errors, deployErr.WithContext("rule", name))
			} else {
				result.Errors = append(result.Errors, errors.WrapError(err, errors.ErrorTypeEncoding,
					errors.CodeInvalidTx, "部署交易验证失败").WithContext("rule", name))
			}
		}
	}

	if !d.SenderMatchesNetwork() {
		warning := fmt.Sprintf("注资地址 %s 与节点恢复的发送方 %s 不一致", d.Sender.Hex(), d.NetworkSender.Hex())
		result.Warnings = append(result.Warnings, warning)
		if v.strictMode {
			result.Valid = false
			result.Errors = append(result.Errors, errors.NewDeployError(errors.ErrorTypeRecovery,
				errors.CodeRecoverFailed, warning).WithContext("rule", "sender"))
		}
	}

	return result
}

// IntrinsicGas 合约创建交易的固有 gas（含 EIP-2028 与 EIP-3860 计价）
func IntrinsicGas(data []byte) uint64 {
	gas := params.TxGasContractCreation
	for _, b := range data {
		if b == 0 {
			gas += params.TxDataZeroGas
		} else {
			gas += params.TxDataNonZeroGasEIP2028
		}
	}
	words := (uint64(len(data)) + 31) / 32
	return gas + words*params.InitCodeWordGas
}

// CreationRule 原始交易必须能按节点方式解码为 nonce 0 的合约创建
type CreationRule struct{}

func NewCreationRule() *CreationRule {
	return &CreationRule{}
}

func (r *CreationRule) Name() string {
	return "creation"
}

func (r *CreationRule) Description() string {
	return "原始交易解码后为 nonce 0 的合约创建，哈希与签名载荷一致"
}

func (r *CreationRule) Validate(d *builder.Deployment) error {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(d.RawSigned); err != nil {
		return errors.WrapError(err, errors.ErrorTypeEncoding, errors.CodeInvalidTx, "原始交易无法解码")
	}
	if tx.To() != nil || tx.Nonce() != builder.ProxyNonce || tx.Value().Sign() != 0 {
		return errors.NewDeployError(errors.ErrorTypeEncoding, errors.CodeInvalidTx, "原始交易不是 nonce 0 的合约创建")
	}
	if tx.Hash() != crypto.Keccak256Hash(d.RawSigned) {
		return errors.NewDeployError(errors.ErrorTypeEncoding, errors.CodeInvalidTx, "原始交易哈希不一致")
	}
	if !d.UnsignedFields.IsContractCreation() {
		return errors.NewDeployError(errors.ErrorTypeEncoding, errors.CodeInvalidTx, "签名载荷不是合约创建")
	}
	if len(d.UnsignedFields.Data) == 0 {
		return errors.NewDeployError(errors.ErrorTypeEncoding, errors.CodeInvalidTx, "合约字节码为空")
	}
	return nil
}

// IntrinsicGasRule 固定 gasLimit 必须覆盖固有 gas
type IntrinsicGasRule struct{}

func NewIntrinsicGasRule() *IntrinsicGasRule {
	return &IntrinsicGasRule{}
}

func (r *IntrinsicGasRule) Name() string {
	return "intrinsic_gas"
}

func (r *IntrinsicGasRule) Description() string {
	return "固定 gasLimit 覆盖合约创建的固有 gas"
}

func (r *IntrinsicGasRule) Validate(d *builder.Deployment) error {
	need := IntrinsicGas(d.UnsignedFields.Data)
	if need > d.UnsignedFields.GasLimit {
		return errors.NewDeployError(errors.ErrorTypeEncoding, errors.CodeIntrinsicGas, "字节码过大，固定 gasLimit 不足").
			WithContext("intrinsic_gas", need).
			WithContext("gas_limit", d.UnsignedFields.GasLimit)
	}
	return nil
}

// FundingRule 注资金额必须覆盖 gasLimit * gasPrice
type FundingRule struct{}

func NewFundingRule() *FundingRule {
	return &FundingRule{}
}

func (r *FundingRule) Name() string {
	return "funding"
}

func (r *FundingRule) Description() string {
	return "注资金额覆盖部署交易的最大费用"
}

func (r *FundingRule) Validate(d *builder.Deployment) error {
	cost := new(big.Int).Mul(new(big.Int).SetUint64(d.UnsignedFields.GasLimit), d.UnsignedFields.GasPrice)
	if builder.FundingAmount().Cmp(cost) < 0 {
		return errors.NewDeployError(errors.ErrorTypeFunding, errors.CodeFundingRejected, "注资金额不足以支付部署费用").
			WithContext("cost", cost.String())
	}
	return nil
}
