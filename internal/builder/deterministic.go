// Package builder 组装确定性部署代理的无密钥交易。
package builder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	"ddp/internal/errors"
	"ddp/internal/recovery"
	"ddp/internal/txencoding"
	"ddp/pkg/models"
)

// 以下常量共同决定发送方地址和代理合约地址，任何一个变化都会得出不同的地址，
// 因此它们不是可调的配置项。
const (
	ProxyNonce        uint64 = 0
	ProxyGasLimit     uint64 = 100000
	ProxyGasPriceGwei int64  = 10
	SignatureV        int64  = 27

	// r 与 s 使用同一个固定值
	SignatureRS = "0x2222222222222222222222222222222222222222222222222222222222222222"

	// 为发送方注资 0.05 个原生币，用于支付部署交易的 gas
	FundingAmountMilliEther int64 = 50
)

// ProxyGasPrice 10 gwei
func ProxyGasPrice() *big.Int {
	return new(big.Int).Mul(big.NewInt(ProxyGasPriceGwei), big.NewInt(params.GWei))
}

// FundingAmount 0.05 ether
func FundingAmount() *big.Int {
	return new(big.Int).Mul(big.NewInt(FundingAmountMilliEther), big.NewInt(params.Ether/1000))
}

// FixedSignature v=27, r=s=0x22..22
func FixedSignature() *models.Signature {
	rs := new(big.Int).SetBytes(common.FromHex(SignatureRS))
	return &models.Signature{
		V: big.NewInt(SignatureV),
		R: rs,
		S: new(big.Int).Set(rs),
	}
}

// Deployment 构建结果
type Deployment struct {
	UnsignedFields *models.TransactionFields
	Signature      *models.Signature
	Hash           common.Hash
	Sender         common.Address
	RawSigned      []byte

	// ContractAddress 代理合约将被创建的地址 keccak256(rlp(sender, 0))[12:]
	ContractAddress common.Address

	// NetworkSender 节点按 Homestead 规则从 RawSigned 恢复出的发送方。
	// chainId 不为 0 时它与 Sender 不同。
	NetworkSender common.Address
}

// SenderMatchesNetwork 注资地址是否就是节点会认定的发送方
func (d *Deployment) SenderMatchesNetwork() bool {
	return d.Sender == d.NetworkSender
}

// Build 对给定的字节码和链ID构建确定性交易，纯函数，不做任何I/O
func Build(bytecode []byte, chainID *big.Int) (*Deployment, error) {
	if chainID == nil {
		chainID = new(big.Int)
	}

	fields := &models.TransactionFields{
		Nonce:    ProxyNonce,
		GasPrice: ProxyGasPrice(),
		GasLimit: ProxyGasLimit,
		To:       nil,
		Value:    new(big.Int),
		Data:     common.CopyBytes(bytecode),
		ChainID:  new(big.Int).Set(chainID),
	}
	sig := FixedSignature()

	hash, err := recovery.TransactionHash(fields)
	if err != nil {
		return nil, err
	}

	sender, err := recovery.RecoverSender(hash, sig)
	if err != nil {
		return nil, err
	}

	raw, err := txencoding.SerializeSigned(fields, sig)
	if err != nil {
		return nil, err
	}

	networkSender, err := networkSender(raw)
	if err != nil {
		return nil, err
	}

	return &Deployment{
		UnsignedFields:  fields,
		Signature:       sig,
		Hash:            hash,
		Sender:          sender,
		RawSigned:       raw,
		ContractAddress: crypto.CreateAddress(sender, ProxyNonce),
		NetworkSender:   networkSender,
	}, nil
}

// networkSender 按节点的方式解码原始交易并恢复发送方
func networkSender(raw []byte) (common.Address, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Address{}, errors.WrapError(err, errors.ErrorTypeEncoding, errors.CodeRLPEncodeFailed, "原始交易无法解码")
	}

	from, err := types.Sender(types.HomesteadSigner{}, &tx)
	if err != nil {
		return common.Address{}, errors.WrapError(err, errors.ErrorTypeRecovery, errors.CodeRecoverFailed, "节点侧发送方恢复失败")
	}
	return from, nil
}
