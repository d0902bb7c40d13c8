package recovery

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddp/internal/errors"
	"ddp/pkg/models"
)

const proxyBytecode = "0x604580600e600039806000f350fe7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffe03601600081602082378035828234f58015156039578182fd5b8082525050506014600cf3"

var rs = new(big.Int).SetBytes(common.FromHex("0x2222222222222222222222222222222222222222222222222222222222222222"))

func fixedSignature() *models.Signature {
	return &models.Signature{V: big.NewInt(27), R: new(big.Int).Set(rs), S: new(big.Int).Set(rs)}
}

// 公开的确定性部署代理交易：100 gwei，无链ID
func TestRecoverSender_CanonicalProxyVector(t *testing.T) {
	fields := &models.TransactionFields{
		Nonce:    0,
		GasPrice: big.NewInt(100_000_000_000),
		GasLimit: 100000,
		Value:    big.NewInt(0),
		Data:     hexutil.MustDecode(proxyBytecode),
		ChainID:  big.NewInt(0),
	}

	hash, err := TransactionHash(fields)
	require.NoError(t, err)
	assert.Equal(t, "0x3de642d76cf5cf9ffcf9b51e11b3b21e09f63278ed94a89281ca8054b2225434", hash.Hex())

	sender, err := RecoverSender(hash, fixedSignature())
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x3fab184622dc19b6109349b94811493bf2a45362"), sender)

	assert.Equal(t, common.HexToAddress("0x4e59b44847b379578588920ca78fbf26c0b4956c"), crypto.CreateAddress(sender, 0))
}

func TestRecoverSender_MatchesRealSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	hash := crypto.Keccak256Hash([]byte("keyless"))
	raw, err := crypto.Sign(hash[:], key)
	require.NoError(t, err)

	sig := &models.Signature{
		V: big.NewInt(int64(raw[64]) + 27),
		R: new(big.Int).SetBytes(raw[:32]),
		S: new(big.Int).SetBytes(raw[32:64]),
	}

	sender, err := RecoverSender(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)
}

func TestRecoverSender_Deterministic(t *testing.T) {
	hash := crypto.Keccak256Hash([]byte("any message"))

	a, err := RecoverSender(hash, fixedSignature())
	require.NoError(t, err)
	b, err := RecoverSender(hash, fixedSignature())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, common.Address{}, a)
}

func TestRecoverSender_Invalid(t *testing.T) {
	hash := crypto.Keccak256Hash([]byte("keyless"))
	n := crypto.S256().Params().N

	tests := []struct {
		name string
		sig  *models.Signature
	}{
		{"nil signature", nil},
		{"nil r", &models.Signature{V: big.NewInt(27), S: rs}},
		{"zero r", &models.Signature{V: big.NewInt(27), R: big.NewInt(0), S: rs}},
		{"zero s", &models.Signature{V: big.NewInt(27), R: rs, S: big.NewInt(0)}},
		{"r equals n", &models.Signature{V: big.NewInt(27), R: new(big.Int).Set(n), S: rs}},
		{"bad v", &models.Signature{V: big.NewInt(30), R: rs, S: rs}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RecoverSender(hash, tt.sig)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeRecovery), "期望RecoveryError: %v", err)
		})
	}
}

func TestRecoveryParity(t *testing.T) {
	tests := []struct {
		v        int64
		expected byte
	}{
		{27, 0},
		{28, 1},
		{37, 0}, // chainId 1, parity 0
		{38, 1}, // chainId 1, parity 1
		{41507, 0},
	}

	for _, tt := range tests {
		parity, err := RecoveryParity(big.NewInt(tt.v))
		require.NoError(t, err)
		assert.Equal(t, tt.expected, parity, "v=%d", tt.v)
	}

	_, err := RecoveryParity(big.NewInt(0))
	assert.True(t, errors.IsType(err, errors.ErrorTypeRecovery))
}
