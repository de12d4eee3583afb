package aave

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashexec/flashloan"
)

// PoolABIJSON covers the Aave V3 Pool methods this module reads or builds
// calldata for.
const PoolABIJSON = `[
	{
		"inputs": [
			{"internalType": "address", "name": "user", "type": "address"}
		],
		"name": "getUserAccountData",
		"outputs": [
			{"internalType": "uint256", "name": "totalCollateralBase", "type": "uint256"},
			{"internalType": "uint256", "name": "totalDebtBase", "type": "uint256"},
			{"internalType": "uint256", "name": "availableBorrowsBase", "type": "uint256"},
			{"internalType": "uint256", "name": "currentLiquidationThreshold", "type": "uint256"},
			{"internalType": "uint256", "name": "ltv", "type": "uint256"},
			{"internalType": "uint256", "name": "healthFactor", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "receiverAddress", "type": "address"},
			{"internalType": "address", "name": "asset", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "bytes", "name": "params", "type": "bytes"},
			{"internalType": "uint16", "name": "referralCode", "type": "uint16"}
		],
		"name": "flashLoanSimple",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "collateralAsset", "type": "address"},
			{"internalType": "address", "name": "debtAsset", "type": "address"},
			{"internalType": "address", "name": "user", "type": "address"},
			{"internalType": "uint256", "name": "debtToCover", "type": "uint256"},
			{"internalType": "bool", "name": "receiveAToken", "type": "bool"}
		],
		"name": "liquidationCall",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "FLASHLOAN_PREMIUM_TOTAL",
		"outputs": [
			{"internalType": "uint128", "name": "", "type": "uint128"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// PoolABI parses PoolABIJSON.
func PoolABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(PoolABIJSON))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse pool ABI: %w", err)
	}
	return parsed, nil
}

// PackGetUserAccountData builds calldata for getUserAccountData(user).
func PackGetUserAccountData(parsed abi.ABI, user common.Address) ([]byte, error) {
	return parsed.Pack("getUserAccountData", user)
}

// UnpackAccountData decodes the return data of getUserAccountData.
func UnpackAccountData(parsed abi.ABI, data []byte) (*flashloan.AccountData, error) {
	out, err := parsed.Unpack("getUserAccountData", data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack account data: %w", err)
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("unexpected account data length %d", len(out))
	}
	values := make([]*big.Int, len(out))
	for i, v := range out {
		n, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("account data field %d has type %T", i, v)
		}
		values[i] = n
	}
	return &flashloan.AccountData{
		TotalCollateralBase:         values[0],
		TotalDebtBase:               values[1],
		AvailableBorrowsBase:        values[2],
		CurrentLiquidationThreshold: values[3],
		LTV:                         values[4],
		HealthFactor:                values[5],
	}, nil
}

// PackAccountData encodes d as getUserAccountData return data.
func PackAccountData(parsed abi.ABI, d *flashloan.AccountData) ([]byte, error) {
	return parsed.Methods["getUserAccountData"].Outputs.Pack(
		d.TotalCollateralBase,
		d.TotalDebtBase,
		d.AvailableBorrowsBase,
		d.CurrentLiquidationThreshold,
		d.LTV,
		d.HealthFactor,
	)
}
