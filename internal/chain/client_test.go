package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddp/internal/chain/chaintest"
)

const testKey = "45a915e4d060149eb4365960e6a7a45f334393093061116b197e3240065ff2d8"

const proxyRawTx = "0xf8a5808502540be400830186a08080b853604580600e600039806000f350fe7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffe03601600081602082378035828234f58015156039578182fd5b8082525050506014600cf31ba02222222222222222222222222222222222222222222222222222222222222222a02222222222222222222222222222222222222222222222222222222222222222"

func newTestClient(t *testing.T, backend *chaintest.Backend) *Client {
	t.Helper()
	rpcClient, err := backend.Dial()
	require.NoError(t, err)

	client, err := NewClient(context.Background(), rpcClient, logrus.New())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestNewClient_ChainID(t *testing.T) {
	client := newTestClient(t, chaintest.NewBackend(20736))

	chainID, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20736), chainID.Int64())

	// 返回副本
	chainID.SetInt64(1)
	again, _ := client.ChainID(context.Background())
	assert.Equal(t, int64(20736), again.Int64())
}

func TestClient_SendRawTransactionVerbatim(t *testing.T) {
	backend := chaintest.NewBackend(1)
	client := newTestClient(t, backend)

	raw := hexutil.MustDecode(proxyRawTx)
	hash, err := client.SendRawTransaction(context.Background(), raw)
	require.NoError(t, err)

	require.Len(t, backend.RawTransactions, 1)
	assert.Equal(t, raw, backend.RawTransactions[0])
	assert.Equal(t, crypto.Keccak256Hash(raw), hash)

	receipt, err := client.TransactionReceipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, uint64(21000), receipt.GasUsed)
	assert.Equal(t, receipt.GasUsed, receipt.CumulativeGasUsed)

	code, err := client.CodeAt(context.Background(), receipt.ContractAddress)
	require.NoError(t, err)
	assert.NotEmpty(t, code)
}

func TestClient_SendRawTransactionRejected(t *testing.T) {
	backend := chaintest.NewBackend(1)
	backend.Reject = func(tx *types.Transaction) error { return errors.New("only replay-protected (EIP-155) transactions allowed over RPC") }
	client := newTestClient(t, backend)

	_, err := client.SendRawTransaction(context.Background(), hexutil.MustDecode(proxyRawTx))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EIP-155")
	assert.Empty(t, backend.RawTransactions)
}

func TestClient_SendRawTransactionLogsRPCFields(t *testing.T) {
	backend := chaintest.NewBackend(0)
	rpcClient, err := backend.Dial()
	require.NoError(t, err)

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	client, err := NewClient(context.Background(), rpcClient, logger)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	hash, err := client.SendRawTransaction(context.Background(), hexutil.MustDecode(proxyRawTx))
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "eth_sendRawTransaction", entry.Data["rpc_method"])
	assert.Equal(t, client.URL(), entry.Data["node_url"])
	assert.Equal(t, hash.Hex(), entry.Data["tx_hash"])
}

func TestClient_ReceiptNotFound(t *testing.T) {
	client := newTestClient(t, chaintest.NewBackend(1))

	_, err := client.TransactionReceipt(context.Background(), common.HexToHash("0x01"))
	assert.True(t, errors.Is(err, ethereum.NotFound))
}

func TestWallet_Transfer(t *testing.T) {
	backend := chaintest.NewBackend(5)
	client := newTestClient(t, backend)

	wallet, err := NewWallet("0x"+testKey, client, logrus.New())
	require.NoError(t, err)
	backend.SetNonce(wallet.Address(), 7)

	to := common.HexToAddress("0x87a94d363333c56355e67bcdecd8a462943eeaf8")
	amount := big.NewInt(50_000_000_000_000_000)

	tx, err := wallet.Transfer(context.Background(), to, amount)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, &to, tx.To())
	assert.Equal(t, amount, tx.Value())
	assert.Equal(t, params.TxGas, tx.Gas())
	assert.Equal(t, backend.GasPrice, tx.GasPrice())
	assert.True(t, tx.Protected())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(5)), tx)
	require.NoError(t, err)
	assert.Equal(t, wallet.Address(), from)
	assert.Equal(t, amount, backend.Balance(to))
}

func TestWallet_TransferRejected(t *testing.T) {
	backend := chaintest.NewBackend(5)
	backend.Reject = func(tx *types.Transaction) error { return errors.New("insufficient funds for gas * price + value") }
	client := newTestClient(t, backend)

	wallet, err := NewWallet(testKey, client, logrus.New())
	require.NoError(t, err)

	_, err = wallet.Transfer(context.Background(), common.HexToAddress("0x01"), big.NewInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestParsePrivateKey(t *testing.T) {
	key, err := ParsePrivateKey(" 0x" + testKey + "\n")
	require.NoError(t, err)
	assert.NotNil(t, key)

	for _, bad := range []string{"", "0x1234", "zz" + testKey[2:]} {
		_, err := ParsePrivateKey(bad)
		assert.Error(t, err, "key=%q", bad)
	}
}
