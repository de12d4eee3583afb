package math

import (
	"math/big"
	"testing"
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), WAD)
}

func TestBps(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"TestMulBps", testMulBps},
		{"TestFlashLoanFee", testFlashLoanFee},
		{"TestMeetsBps", testMeetsBps},
		{"TestFloorZero", testFloorZero},
		{"TestBaseConversion", testBaseConversion},
		{"TestMaxUint256", testMaxUint256},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testMulBps(t *testing.T) {
	// 25 bps of 50 ether is 0.125 ether
	got := MulBps(ether(50), 25)
	want, _ := new(big.Int).SetString("125000000000000000", 10)
	if got.Cmp(want) != 0 {
		t.Errorf("MulBps(50e18, 25) = %v; want %v", got, want)
	}
	if MulBps(nil, 25).Sign() != 0 {
		t.Errorf("MulBps(nil, 25) should be zero")
	}
	if MulBps(big.NewInt(9999), 1).Sign() != 0 {
		t.Errorf("MulBps should round down")
	}
}

func testFlashLoanFee(t *testing.T) {
	got := CalculateFlashLoanFee(ether(10000), 9)
	if got.Cmp(ether(9)) != 0 {
		t.Errorf("CalculateFlashLoanFee(10000e18, 9) = %v; want 9e18", got)
	}
}

func testMeetsBps(t *testing.T) {
	if !MeetsBps(big.NewInt(50), big.NewInt(1000), 500) {
		t.Errorf("50 is exactly 5%% of 1000")
	}
	if MeetsBps(big.NewInt(49), big.NewInt(1000), 500) {
		t.Errorf("49 is below 5%% of 1000")
	}
}

func testFloorZero(t *testing.T) {
	if FloorZero(big.NewInt(-5)).Sign() != 0 {
		t.Errorf("FloorZero(-5) should be zero")
	}
	x := big.NewInt(7)
	y := FloorZero(x)
	y.SetInt64(1)
	if x.Int64() != 7 {
		t.Errorf("FloorZero must not alias its input")
	}
}

func testBaseConversion(t *testing.T) {
	price := big.NewInt(2000_00000000) // 2000 with 8 decimals
	base := ToBase(ether(3), price, 18)
	if base.Cmp(big.NewInt(6000_00000000)) != 0 {
		t.Errorf("ToBase = %v; want 6000e8", base)
	}
	back := FromBase(base, price, 18)
	if back.Cmp(ether(3)) != 0 {
		t.Errorf("FromBase = %v; want 3e18", back)
	}
	if FromBase(base, big.NewInt(0), 18).Sign() != 0 {
		t.Errorf("FromBase with zero price should be zero")
	}
}

func testMaxUint256(t *testing.T) {
	if MaxUint256.BitLen() != 256 {
		t.Errorf("MaxUint256 bit length = %d; want 256", MaxUint256.BitLen())
	}
	if Sum(big.NewInt(1), nil, big.NewInt(2)).Int64() != 3 {
		t.Errorf("Sum should skip nil")
	}
	if Min(big.NewInt(3), big.NewInt(2)).Int64() != 2 {
		t.Errorf("Min(3, 2) should be 2")
	}
}
