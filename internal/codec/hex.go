package codec

import (
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"ddp/internal/errors"
)

// BytesFromHex 把十六进制字符串转换为字节序列。
// 可选的 0x 前缀会被去掉，奇数长度的输入在左侧补一个 0。
// 任何非法字符都会返回 FormatError，不会静默截断。
func BytesFromHex(value string) ([]byte, error) {
	normalized := value
	if strings.HasPrefix(normalized, "0x") || strings.HasPrefix(normalized, "0X") {
		normalized = normalized[2:]
	}
	if len(normalized)%2 != 0 {
		normalized = "0" + normalized
	}

	b, err := hexutil.Decode("0x" + normalized)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeFormat, errors.CodeInvalidHex, "无效的十六进制字符串").
			WithContext("value", value)
	}
	return b, nil
}

// HexFromBytes 把字节序列编码为不带前缀的小写十六进制
func HexFromBytes(b []byte) string {
	return hexutil.Encode(b)[2:]
}

// PrefixedHex 把字节序列编码为带 0x 前缀的小写十六进制
func PrefixedHex(b []byte) string {
	return hexutil.Encode(b)
}
