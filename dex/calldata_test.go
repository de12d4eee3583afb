package dex

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExactInputSingleCalldata(t *testing.T) {
	in := ExactInputSingleParams{
		TokenIn:          common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		TokenOut:         common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Fee:              big.NewInt(3000),
		Recipient:        common.HexToAddress("0x000000000000000000000000000000000000beef"),
		Deadline:         big.NewInt(1_700_000_300),
		AmountIn:         big.NewInt(1_000_000),
		AmountOutMinimum: big.NewInt(990_000),
	}

	data, err := EncodeExactInputSingle(in)
	require.NoError(t, err)
	// selector of exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))
	assert.Equal(t, "414bf389", common.Bytes2Hex(data[:4]))
	assert.Len(t, data, 4+8*32)

	out, err := DecodeExactInputSingle(data)
	require.NoError(t, err)
	assert.Equal(t, in.TokenIn, out.TokenIn)
	assert.Equal(t, in.TokenOut, out.TokenOut)
	assert.Equal(t, in.Recipient, out.Recipient)
	assert.Equal(t, int64(3000), out.Fee.Int64())
	assert.Equal(t, int64(1_000_000), out.AmountIn.Int64())
	assert.Equal(t, int64(990_000), out.AmountOutMinimum.Int64())
	assert.Equal(t, int64(0), out.SqrtPriceLimitX96.Int64())
}

func TestDecodeRejectsOtherCalldata(t *testing.T) {
	_, err := DecodeExactInputSingle([]byte{0xde, 0xad})
	assert.Error(t, err)
	_, err = DecodeExactInputSingle([]byte{0xde, 0xad, 0xbe, 0xef, 0x00})
	assert.Error(t, err)
}

func TestAmountOutEncoding(t *testing.T) {
	data, err := EncodeAmountOut(big.NewInt(42))
	require.NoError(t, err)
	got, err := DecodeAmountOut(data)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Int64())
}
