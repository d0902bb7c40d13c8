package models

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransactionFields 未签名的legacy交易字段
type TransactionFields struct {
	Nonce    uint64          `json:"nonce"`
	GasPrice *big.Int        `json:"gas_price"`
	GasLimit uint64          `json:"gas_limit"`
	To       *common.Address `json:"to,omitempty"` // nil 表示合约创建
	Value    *big.Int        `json:"value"`
	Data     []byte          `json:"data"`
	ChainID  *big.Int        `json:"chain_id"`
}

// IsContractCreation 是否为合约创建交易
func (f *TransactionFields) IsContractCreation() bool {
	return f.To == nil
}

// Signature 交易签名分量。
//
// 这里的签名只是一个数据值，不要求来自真实的签名操作：
// 任意非零的 r、s 都可以接受，恢复出的地址没有对应的私钥。
type Signature struct {
	V *big.Int `json:"v"`
	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
}

// CompiledContract 编译产物
type CompiledContract struct {
	Name         string          `json:"name"`
	Bytecode     []byte          `json:"bytecode"`
	ABI          json.RawMessage `json:"abi,omitempty"`
	GasEstimates json.RawMessage `json:"gas_estimates,omitempty"`
}

// DeploymentStatus 部署记录状态
type DeploymentStatus string

const (
	StatusBuilt     DeploymentStatus = "built"
	StatusFunded    DeploymentStatus = "funded"
	StatusBroadcast DeploymentStatus = "broadcast"
	StatusDeployed  DeploymentStatus = "deployed"
	StatusFailed    DeploymentStatus = "failed"
)

// DeploymentRecord 单条链上的部署记录
type DeploymentRecord struct {
	ChainID         uint64           `json:"chain_id"`
	Sender          string           `json:"sender"`
	ContractAddress string           `json:"contract_address"`
	RawTransaction  string           `json:"raw_transaction"`
	FundingTxHash   string           `json:"funding_tx_hash,omitempty"`
	DeployTxHash    string           `json:"deploy_tx_hash,omitempty"`
	Status          DeploymentStatus `json:"status"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
