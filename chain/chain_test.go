package chain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	token = common.HexToAddress("0x00000000000000000000000000000000000070c3")
)

func newTestChain(t *testing.T) *Chain {
	c, err := New(Config{ChainID: 1, Timestamp: 1_700_000_000, ReceiptCacheSize: 8}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestNewRequiresChainID(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestTransactCommits(t *testing.T) {
	c := newTestChain(t)
	counter := NewVar(c, 0)

	receipt, err := c.Transact(Msg{From: alice, GasPrice: big.NewInt(10)}, func(ctx *Context) error {
		counter.Set(counter.Get() + 1)
		ctx.Emit(alice, "Incremented", counter.Get())
		assert.Equal(t, alice, ctx.Sender)
		assert.Equal(t, int64(10), ctx.GasPrice().Int64())
		assert.Equal(t, uint64(1_700_000_000), ctx.Timestamp())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, 1, counter.Get())
	require.Len(t, receipt.Logs, 1)
	assert.Equal(t, "Incremented", receipt.Logs[0].Name)

	stored, ok := c.Receipt(receipt.TxHash)
	require.True(t, ok)
	assert.Equal(t, receipt, stored)
	assert.Equal(t, uint64(1), c.BlockNumber())
}

func TestTransactRevertsEveryWrite(t *testing.T) {
	c := newTestChain(t)
	m := NewMap[string, int](c)
	v := NewVar(c, "before")
	require.NoError(t, c.Ledger().Mint(token, alice, big.NewInt(100)))
	m.Set("kept", 1)

	boom := errors.New("boom")
	receipt, err := c.Transact(Msg{From: alice}, func(ctx *Context) error {
		m.Set("kept", 2)
		m.Set("new", 3)
		m.Delete("kept")
		v.Set("after")
		require.NoError(t, ctx.Ledger().Transfer(token, alice, bob, big.NewInt(40)))
		ctx.Emit(alice, "Transferred", nil)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, receipt.Succeeded())
	assert.Empty(t, receipt.Logs)

	got, ok := m.Get("kept")
	assert.True(t, ok)
	assert.Equal(t, 1, got)
	_, ok = m.Get("new")
	assert.False(t, ok)
	assert.Equal(t, "before", v.Get())
	assert.Equal(t, int64(100), c.Ledger().BalanceOf(token, alice).Int64())
	assert.Equal(t, int64(0), c.Ledger().BalanceOf(token, bob).Int64())
}

func TestSeedIsNotJournaled(t *testing.T) {
	c := newTestChain(t)
	m := NewMap[string, bool](c)
	m.Seed("admin", true)
	assert.Zero(t, c.journal.length())

	boom := errors.New("boom")
	_, err := c.Transact(Msg{From: alice}, func(ctx *Context) error {
		m.Delete("admin")
		return boom
	})
	require.ErrorIs(t, err, boom)
	got, ok := m.Get("admin")
	assert.True(t, ok)
	assert.True(t, got)
	assert.Zero(t, c.journal.length())
}

func TestTransactRecoversPanics(t *testing.T) {
	c := newTestChain(t)
	v := NewVar(c, 1)

	_, err := c.Transact(Msg{From: alice}, func(ctx *Context) error {
		v.Set(2)
		panic("bad opcode")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad opcode")
	assert.Equal(t, 1, v.Get())
}

func TestCallAlwaysReverts(t *testing.T) {
	c := newTestChain(t)
	v := NewVar(c, 1)

	receipt, err := c.Call(Msg{From: alice}, func(ctx *Context) error {
		v.Set(5)
		ctx.Emit(alice, "Seen", 5)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	require.Len(t, receipt.Logs, 1)
	assert.Equal(t, 1, v.Get())
	_, ok := c.Receipt(receipt.TxHash)
	assert.False(t, ok)
}

func TestContextAs(t *testing.T) {
	c := newTestChain(t)
	_, err := c.Transact(Msg{From: alice}, func(ctx *Context) error {
		inner := ctx.As(bob)
		assert.Equal(t, bob, inner.Sender)
		assert.Equal(t, alice, inner.Origin())
		assert.Equal(t, ctx.TxHash(), inner.TxHash())
		inner.Emit(bob, "Inner", nil)
		return nil
	})
	require.NoError(t, err)
}

func TestTxHashesAreUnique(t *testing.T) {
	c := newTestChain(t)
	seen := make(map[common.Hash]bool)
	for i := 0; i < 5; i++ {
		r, err := c.Transact(Msg{From: alice}, func(*Context) error { return nil })
		require.NoError(t, err)
		assert.False(t, seen[r.TxHash])
		seen[r.TxHash] = true
	}
}

func TestClock(t *testing.T) {
	c := newTestChain(t)
	c.AdvanceTime(60)
	assert.Equal(t, uint64(1_700_000_060), c.Timestamp())
	c.SetTime(1)
	assert.Equal(t, uint64(1_700_000_060), c.Timestamp())
}
