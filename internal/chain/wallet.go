package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/sirupsen/logrus"
)

// WalletBackend 钱包发送交易所需的节点能力
type WalletBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Wallet 持有私钥的注资钱包
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	backend WalletBackend
	logger  *logrus.Logger
}

// ParsePrivateKey 解析十六进制私钥，允许 0x 前缀
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimSpace(hexKey)
	hexKey = strings.TrimPrefix(strings.TrimPrefix(hexKey, "0x"), "0X")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return key, nil
}

// NewWallet 创建钱包
func NewWallet(hexKey string, backend WalletBackend, logger *logrus.Logger) (*Wallet, error) {
	key, err := ParsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		backend: backend,
		logger:  logger,
	}, nil
}

// Address 钱包地址
func (w *Wallet) Address() common.Address {
	return w.address
}

// Transfer 签名并发送一笔普通转账
func (w *Wallet) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Transaction, error) {
	chainID, err := w.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链ID失败: %w", err)
	}

	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, fmt.Errorf("获取nonce失败: %w", err)
	}

	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取gas价格失败: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    amount,
		Gas:      params.TxGas,
		GasPrice: gasPrice,
	})

	signed, err := types.SignTx(tx, SignerForChainID(chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}

	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("发送交易失败: %w", err)
	}

	w.logger.WithFields(logrus.Fields{
		"from":      w.address.Hex(),
		"to":        to.Hex(),
		"value":     amount.String(),
		"nonce":     nonce,
		"gas_price": gasPrice.String(),
		"tx_hash":   signed.Hash().Hex(),
	}).Debug("转账交易已提交")

	return signed, nil
}

// SignerForChainID 链ID为0时没有重放保护，退回 Homestead 签名
func SignerForChainID(chainID *big.Int) types.Signer {
	if chainID == nil || chainID.Sign() == 0 {
		return types.HomesteadSigner{}
	}
	return types.LatestSignerForChainID(chainID)
}
