// Package chaintest 提供进程内的模拟 eth JSON-RPC 节点，用于测试。
package chaintest

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend 模拟节点状态
type Backend struct {
	mu sync.Mutex

	ChainID  *big.Int
	GasPrice *big.Int

	nonces   map[common.Address]uint64
	balances map[common.Address]*big.Int
	codes    map[common.Address][]byte
	receipts map[common.Hash]*types.Receipt
	polls    map[common.Hash]int

	// RawTransactions 按顺序记录收到的原始交易
	RawTransactions [][]byte

	// Reject 返回非nil时拒绝该交易
	Reject func(tx *types.Transaction) error

	// ReceiptStatus 自定义回执状态，为nil时均为成功
	ReceiptStatus func(tx *types.Transaction) uint64

	// ReceiptDelay 回执出现前返回null的查询次数
	ReceiptDelay int

	// NoMining 为true时永远不产生回执
	NoMining bool

	// RequireBalance 为true时校验并扣除发送方的 gas*gasPrice+value
	RequireBalance bool
}

// NewBackend 创建模拟节点
func NewBackend(chainID int64) *Backend {
	return &Backend{
		ChainID:  big.NewInt(chainID),
		GasPrice: big.NewInt(1_000_000_000),
		nonces:   make(map[common.Address]uint64),
		balances: make(map[common.Address]*big.Int),
		codes:    make(map[common.Address][]byte),
		receipts: make(map[common.Hash]*types.Receipt),
		polls:    make(map[common.Hash]int),
	}
}

// Dial 启动进程内RPC服务并返回客户端
func (b *Backend) Dial() (*rpc.Client, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("eth", &ethService{b: b}); err != nil {
		return nil, err
	}
	return rpc.DialInProc(server), nil
}

// SetNonce 设置账户nonce
func (b *Backend) SetNonce(addr common.Address, nonce uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonces[addr] = nonce
}

// SetCode 设置账户代码
func (b *Backend) SetCode(addr common.Address, code []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[addr] = code
}

// SetBalance 设置账户余额
func (b *Backend) SetBalance(addr common.Address, balance *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = new(big.Int).Set(balance)
}

// Balance 账户余额
func (b *Backend) Balance(addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Transactions 解码后的已收交易
func (b *Backend) Transactions() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()

	txs := make([]*types.Transaction, 0, len(b.RawTransactions))
	for _, raw := range b.RawTransactions {
		var tx types.Transaction
		if err := tx.UnmarshalBinary(raw); err == nil {
			txs = append(txs, &tx)
		}
	}
	return txs
}

func (b *Backend) submit(raw []byte) (common.Hash, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("rlp: %v", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Reject != nil {
		if err := b.Reject(&tx); err != nil {
			return common.Hash{}, err
		}
	}

	from, err := types.Sender(signer(b.ChainID), &tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid sender: %v", err)
	}
	if want := b.nonces[from]; tx.Nonce() != want {
		return common.Hash{}, fmt.Errorf("nonce too low: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), want)
	}

	if b.RequireBalance {
		cost := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasPrice())
		cost.Add(cost, tx.Value())
		bal, ok := b.balances[from]
		if !ok {
			bal = new(big.Int)
		}
		if bal.Cmp(cost) < 0 {
			return common.Hash{}, fmt.Errorf("insufficient funds for gas * price + value: address %s have %s want %s", from.Hex(), bal, cost)
		}
		b.balances[from] = new(big.Int).Sub(bal, cost)
	}

	b.RawTransactions = append(b.RawTransactions, common.CopyBytes(raw))
	b.nonces[from]++

	status := types.ReceiptStatusSuccessful
	if b.ReceiptStatus != nil {
		status = b.ReceiptStatus(&tx)
	}

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            status,
		CumulativeGasUsed: gasUsed(&tx),
		Logs:              []*types.Log{},
		TxHash:            tx.Hash(),
		GasUsed:           gasUsed(&tx),
		BlockNumber:       big.NewInt(int64(len(b.RawTransactions))),
	}

	if status == types.ReceiptStatusSuccessful {
		if tx.To() == nil {
			addr := crypto.CreateAddress(from, tx.Nonce())
			receipt.ContractAddress = addr
			b.codes[addr] = []byte{0x60, 0x00}
		} else {
			bal, ok := b.balances[*tx.To()]
			if !ok {
				bal = new(big.Int)
			}
			b.balances[*tx.To()] = new(big.Int).Add(bal, tx.Value())
		}
	}

	if !b.NoMining {
		b.receipts[tx.Hash()] = receipt
	}
	return tx.Hash(), nil
}

func signer(chainID *big.Int) types.Signer {
	if chainID.Sign() == 0 {
		return types.HomesteadSigner{}
	}
	return types.LatestSignerForChainID(chainID)
}

func gasUsed(tx *types.Transaction) uint64 {
	if tx.Gas() < 21000 {
		return tx.Gas()
	}
	return 21000
}

func (b *Backend) receipt(hash common.Hash) *types.Receipt {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.receipts[hash]
	if !ok {
		return nil
	}
	if b.polls[hash] < b.ReceiptDelay {
		b.polls[hash]++
		return nil
	}
	return r
}

// ethService 注册在 "eth" 命名空间下的RPC方法
type ethService struct {
	b *Backend
}

func (s *ethService) ChainId() *hexutil.Big {
	return (*hexutil.Big)(s.b.ChainID)
}

func (s *ethService) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(s.b.GasPrice)
}

func (s *ethService) GetTransactionCount(addr common.Address, block string) hexutil.Uint64 {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return hexutil.Uint64(s.b.nonces[addr])
}

func (s *ethService) GetBalance(addr common.Address, block string) *hexutil.Big {
	return (*hexutil.Big)(s.b.Balance(addr))
}

func (s *ethService) GetCode(addr common.Address, block string) hexutil.Bytes {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.b.codes[addr]
}

func (s *ethService) SendRawTransaction(raw hexutil.Bytes) (common.Hash, error) {
	return s.b.submit(raw)
}

func (s *ethService) GetTransactionReceipt(hash common.Hash) *types.Receipt {
	return s.b.receipt(hash)
}
