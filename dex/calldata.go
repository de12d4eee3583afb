package dex

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// SwapRouterABIJSON is the exactInputSingle method of the Uniswap V3 SwapRouter.
const SwapRouterABIJSON = `[
	{
		"inputs": [
			{
				"components": [
					{"internalType": "address", "name": "tokenIn", "type": "address"},
					{"internalType": "address", "name": "tokenOut", "type": "address"},
					{"internalType": "uint24", "name": "fee", "type": "uint24"},
					{"internalType": "address", "name": "recipient", "type": "address"},
					{"internalType": "uint256", "name": "deadline", "type": "uint256"},
					{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
					{"internalType": "uint256", "name": "amountOutMinimum", "type": "uint256"},
					{"internalType": "uint160", "name": "sqrtPriceLimitX96", "type": "uint160"}
				],
				"internalType": "struct ISwapRouter.ExactInputSingleParams",
				"name": "params",
				"type": "tuple"
			}
		],
		"name": "exactInputSingle",
		"outputs": [
			{"internalType": "uint256", "name": "amountOut", "type": "uint256"}
		],
		"stateMutability": "payable",
		"type": "function"
	}
]`

const exactInputSingle = "exactInputSingle"

var swapRouterABI = mustParse(SwapRouterABIJSON)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid swap router ABI: %v", err))
	}
	return parsed
}

// ExactInputSingleParams is the argument tuple of exactInputSingle.
type ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

func (p *ExactInputSingleParams) fill() {
	for _, v := range []**big.Int{&p.Fee, &p.Deadline, &p.AmountIn, &p.AmountOutMinimum, &p.SqrtPriceLimitX96} {
		if *v == nil {
			*v = new(big.Int)
		}
	}
}

// EncodeExactInputSingle builds exactInputSingle calldata.
func EncodeExactInputSingle(p ExactInputSingleParams) ([]byte, error) {
	p.fill()
	data, err := swapRouterABI.Pack(exactInputSingle, p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode exactInputSingle: %w", err)
	}
	return data, nil
}

// DecodeExactInputSingle parses exactInputSingle calldata.
func DecodeExactInputSingle(data []byte) (*ExactInputSingleParams, error) {
	method := swapRouterABI.Methods[exactInputSingle]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return nil, fmt.Errorf("calldata is not %s", method.Sig)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode exactInputSingle: %w", err)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("unexpected argument count %d", len(args))
	}
	params := abi.ConvertType(args[0], new(ExactInputSingleParams)).(*ExactInputSingleParams)
	return params, nil
}

// EncodeAmountOut encodes the exactInputSingle return value.
func EncodeAmountOut(amountOut *big.Int) ([]byte, error) {
	return swapRouterABI.Methods[exactInputSingle].Outputs.Pack(amountOut)
}

// DecodeAmountOut decodes the exactInputSingle return value.
func DecodeAmountOut(data []byte) (*big.Int, error) {
	out, err := swapRouterABI.Methods[exactInputSingle].Outputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode amountOut: %w", err)
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("amountOut has type %T", out[0])
	}
	return amount, nil
}
