// Package recovery 计算交易哈希并从 (hash, signature) 恢复发送方地址。
//
// 注意：RecoverSender 对任意合法范围内的 (r, s) 都会给出一个地址，
// 它并不证明签名来自某个私钥持有者。这正是无密钥部署所依赖的性质，
// 该包不能被当作签名验证接口使用。
package recovery

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"ddp/internal/errors"
	"ddp/internal/txencoding"
	"ddp/pkg/models"
)

var (
	big27 = big.NewInt(27)
	big28 = big.NewInt(28)
	big35 = big.NewInt(35)
)

// TransactionHash 未签名编码的 Keccak-256 哈希
func TransactionHash(fields *models.TransactionFields) (common.Hash, error) {
	b, err := txencoding.SerializeUnsigned(fields)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(b), nil
}

// RecoverSender 从哈希和签名恢复 secp256k1 公钥，返回其地址
func RecoverSender(hash common.Hash, sig *models.Signature) (common.Address, error) {
	if sig == nil || sig.V == nil || sig.R == nil || sig.S == nil {
		return common.Address{}, errors.NewDeployError(errors.ErrorTypeRecovery, errors.CodeInvalidSignature, "签名分量缺失")
	}

	parity, err := RecoveryParity(sig.V)
	if err != nil {
		return common.Address{}, err
	}

	// 不要求低 s 值，仅校验 r、s 属于 [1, n-1]
	if !crypto.ValidateSignatureValues(parity, sig.R, sig.S, false) {
		return common.Address{}, errors.NewDeployError(errors.ErrorTypeRecovery, errors.CodeInvalidSignature, "签名分量超出曲线范围").
			WithContext("r", sig.R.Text(16)).
			WithContext("s", sig.S.Text(16))
	}

	// [R || S || V] 格式
	raw := make([]byte, crypto.SignatureLength)
	sig.R.FillBytes(raw[:32])
	sig.S.FillBytes(raw[32:64])
	raw[64] = parity

	pub, err := crypto.SigToPub(hash[:], raw)
	if err != nil {
		return common.Address{}, errors.WrapError(err, errors.ErrorTypeRecovery, errors.CodeRecoverFailed, "公钥恢复失败").
			WithContext("hash", hash.Hex())
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// RecoveryParity 从 v 推导恢复位：27/28 对应 0/1，v >= 35 时按 EIP-155 处理
func RecoveryParity(v *big.Int) (byte, error) {
	switch {
	case v.Cmp(big27) == 0:
		return 0, nil
	case v.Cmp(big28) == 0:
		return 1, nil
	case v.Cmp(big35) >= 0:
		return byte(new(big.Int).Sub(v, big35).Bit(0)), nil
	default:
		return 0, errors.NewDeployError(errors.ErrorTypeRecovery, errors.CodeInvalidSignature, "无法从v推导恢复位").
			WithContext("v", v.String())
	}
}
