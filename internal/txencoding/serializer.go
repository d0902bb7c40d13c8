// Package txencoding 实现legacy交易的RLP规范编码。
package txencoding

import (
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"ddp/internal/errors"
	"ddp/pkg/models"
)

// maxIntegerBits 链上整数字段的最大位宽
const maxIntegerBits = 256

// SerializeUnsigned 编码未签名交易（签名哈希的原像）。
//
// 字段顺序：nonce, gasPrice, gasLimit, to, value, data, chainId, 0, 0。
// chainId 为 0 时省略末尾的 EIP-155 三元组，得到 Homestead 签名载荷。
func SerializeUnsigned(fields *models.TransactionFields) ([]byte, error) {
	items, err := baseItems(fields)
	if err != nil {
		return nil, err
	}

	// chainId 已在 baseItems 中校验
	if chainID := fields.ChainID; chainID != nil && chainID.Sign() > 0 {
		items = append(items, chainID, uint64(0), uint64(0))
	}

	return encode(items)
}

// SerializeSigned 编码已签名交易。v 按调用方给定的值原样写入，不做链ID折叠。
func SerializeSigned(fields *models.TransactionFields, sig *models.Signature) ([]byte, error) {
	if sig == nil {
		return nil, errors.NewDeployError(errors.ErrorTypeEncoding, errors.CodeInvalidInteger, "签名为空")
	}

	items, err := baseItems(fields)
	if err != nil {
		return nil, err
	}

	for _, c := range []struct {
		name  string
		value *big.Int
	}{{"v", sig.V}, {"r", sig.R}, {"s", sig.S}} {
		if err := checkInteger(c.name, c.value); err != nil {
			return nil, err
		}
		items = append(items, c.value)
	}

	return encode(items)
}

func baseItems(fields *models.TransactionFields) ([]interface{}, error) {
	if fields == nil {
		return nil, errors.NewDeployError(errors.ErrorTypeEncoding, errors.CodeInvalidInteger, "交易字段为空")
	}
	if err := checkInteger("gasPrice", fields.GasPrice); err != nil {
		return nil, err
	}
	if err := checkInteger("value", fields.Value); err != nil {
		return nil, err
	}
	// chainId 不参与签名编码，但两种模式都要求它合法，nil 视为 0
	if fields.ChainID != nil {
		if err := checkInteger("chainId", fields.ChainID); err != nil {
			return nil, err
		}
	}

	// 合约创建时 to 编码为空字符串
	to := []byte{}
	if fields.To != nil {
		to = fields.To.Bytes()
	}

	data := fields.Data
	if data == nil {
		data = []byte{}
	}

	return []interface{}{
		fields.Nonce,
		fields.GasPrice,
		fields.GasLimit,
		to,
		fields.Value,
		data,
	}, nil
}

// checkInteger 校验整数字段：非空、非负、不超过256位
func checkInteger(name string, x *big.Int) error {
	switch {
	case x == nil:
		return errors.NewDeployError(errors.ErrorTypeEncoding, errors.CodeInvalidInteger, "整数字段为空").
			WithContext("field", name)
	case x.Sign() < 0:
		return errors.NewDeployError(errors.ErrorTypeEncoding, errors.CodeInvalidInteger, "整数字段不能为负").
			WithContext("field", name).
			WithContext("value", x.String())
	case x.BitLen() > maxIntegerBits:
		return errors.NewDeployError(errors.ErrorTypeEncoding, errors.CodeInvalidInteger, "整数字段超出256位").
			WithContext("field", name)
	}
	return nil
}

func encode(items []interface{}) ([]byte, error) {
	b, err := rlp.EncodeToBytes(items)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeEncoding, errors.CodeRLPEncodeFailed, "RLP编码失败")
	}
	return b, nil
}
