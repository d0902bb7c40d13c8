// Package chain 封装与节点的 JSON-RPC 交互。
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"ddp/internal/logging"
)

// DefaultDialTimeout 建立连接并探测链ID的超时时间
const DefaultDialTimeout = 10 * time.Second

// Client 单节点客户端
type Client struct {
	eth     *ethclient.Client
	rpc     *rpc.Client
	url     string
	chainID *big.Int
	logger  *logrus.Logger
}

// Dial 连接节点并探测链ID
func Dial(ctx context.Context, url string, timeout time.Duration, logger *logrus.Logger) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(dialCtx, url)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}

	client, err := NewClient(dialCtx, rpcClient, logger)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.url = url

	logger.Infof("已连接节点 %s，链ID: %s", url, client.chainID)
	return client, nil
}

// NewClient 基于已有的 rpc.Client 创建客户端，并测试连接
func NewClient(ctx context.Context, rpcClient *rpc.Client, logger *logrus.Logger) (*Client, error) {
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("测试连接失败: %w", err)
	}

	return &Client{
		eth:     eth,
		rpc:     rpcClient,
		chainID: chainID,
		logger:  logger,
	}, nil
}

// ChainID 返回连接时探测到的链ID
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

// URL 节点地址
func (c *Client) URL() string {
	return c.url
}

// SendRawTransaction 原样提交已签名的原始交易字节
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	log := logging.NewRPCLogger(c.logger, "eth_sendRawTransaction", c.url)

	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		log.WithError(err).Debug("节点拒绝原始交易")
		return common.Hash{}, err
	}
	log.WithField("tx_hash", hash.Hex()).Debug("原始交易已提交")
	return hash, nil
}

// SendTransaction 提交已签名交易
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

// PendingNonceAt 账户的pending nonce
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, account)
}

// NonceAt 账户在最新区块的nonce
func (c *Client) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.NonceAt(ctx, account, nil)
}

// SuggestGasPrice 节点建议的gas价格
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

// BalanceAt 账户在最新区块的余额
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, account, nil)
}

// CodeAt 合约在最新区块的代码
func (c *Client) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return c.eth.CodeAt(ctx, account, nil)
}

// TransactionReceipt 查询交易回执，未打包时返回 ethereum.NotFound
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, hash)
}

// Close 关闭连接
func (c *Client) Close() {
	c.eth.Close()
}
