package access

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/types"
)

var (
	admin    = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	operator = common.HexToAddress("0x0000000000000000000000000000000000000e01")
	user     = common.HexToAddress("0x0000000000000000000000000000000000005e01")
)

const day = uint64(86400)

func setup(t *testing.T) (*chain.Chain, *Control, *Accounts) {
	c, err := chain.New(chain.Config{ChainID: 1, Timestamp: 100 * day}, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctl, err := NewControl(c, admin, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c, ctl, NewAccounts(c, big.NewInt(1000))
}

func TestRoles(t *testing.T) {
	c, ctl, _ := setup(t)
	assert.True(t, ctl.HasRole(AdminRole, admin))
	assert.False(t, ctl.HasRole(OperatorRole, operator))

	_, err := c.Transact(chain.Msg{From: user}, func(ctx *chain.Context) error {
		return ctl.GrantRole(ctx, OperatorRole, user)
	})
	assert.ErrorIs(t, err, types.ErrUnauthorizedCaller)

	_, err = c.Transact(chain.Msg{From: admin}, func(ctx *chain.Context) error {
		return ctl.GrantRole(ctx, OperatorRole, operator)
	})
	require.NoError(t, err)
	assert.True(t, ctl.HasRole(OperatorRole, operator))
	assert.NoError(t, ctl.RequireRole(OperatorRole, operator))

	_, err = c.Transact(chain.Msg{From: admin}, func(ctx *chain.Context) error {
		return ctl.RevokeRole(ctx, OperatorRole, operator)
	})
	require.NoError(t, err)
	assert.False(t, ctl.HasRole(OperatorRole, operator))

	_, err = c.Transact(chain.Msg{From: admin}, func(ctx *chain.Context) error {
		return ctl.RevokeRole(ctx, AdminRole, admin)
	})
	assert.ErrorIs(t, err, types.ErrInvalidParams)
}

func TestPause(t *testing.T) {
	c, ctl, _ := setup(t)
	require.NoError(t, ctl.WhenNotPaused())

	_, err := c.Transact(chain.Msg{From: user}, func(ctx *chain.Context) error { return ctl.Pause(ctx) })
	assert.ErrorIs(t, err, types.ErrUnauthorizedCaller)

	_, err = c.Transact(chain.Msg{From: admin}, func(ctx *chain.Context) error { return ctl.Pause(ctx) })
	require.NoError(t, err)
	assert.True(t, ctl.Paused())
	assert.ErrorIs(t, ctl.WhenNotPaused(), types.ErrPaused)

	_, err = c.Transact(chain.Msg{From: admin}, func(ctx *chain.Context) error { return ctl.Pause(ctx) })
	assert.ErrorIs(t, err, types.ErrPaused)

	_, err = c.Transact(chain.Msg{From: admin}, func(ctx *chain.Context) error { return ctl.Unpause(ctx) })
	require.NoError(t, err)
	assert.False(t, ctl.Paused())

	_, err = c.Transact(chain.Msg{From: admin}, func(ctx *chain.Context) error { return ctl.Unpause(ctx) })
	assert.ErrorIs(t, err, ErrNotPaused)
}

func TestLock(t *testing.T) {
	_, ctl, _ := setup(t)
	release, err := ctl.Lock()
	require.NoError(t, err)
	assert.True(t, ctl.Locked())

	_, err = ctl.Lock()
	assert.ErrorIs(t, err, types.ErrReentrantCall)

	release()
	assert.False(t, ctl.Locked())
	release, err = ctl.Lock()
	require.NoError(t, err)
	release()
}

func TestAcceptNonce(t *testing.T) {
	c, _, accts := setup(t)
	ts := c.Timestamp()

	require.NoError(t, accts.Accept(user, 0, big.NewInt(10), ts))
	assert.Equal(t, uint64(1), accts.Nonce(user))

	t.Run("replay", func(t *testing.T) {
		err := accts.Accept(user, 0, big.NewInt(10), ts)
		assert.ErrorIs(t, err, types.ErrInvalidNonce)
		assert.Equal(t, uint64(1), accts.Nonce(user))
	})

	t.Run("skipped", func(t *testing.T) {
		err := accts.Accept(user, 2, big.NewInt(10), ts)
		assert.ErrorIs(t, err, types.ErrInvalidNonce)
		assert.Equal(t, uint64(1), accts.Nonce(user))
	})
}

func TestDailyVolume(t *testing.T) {
	c, _, accts := setup(t)
	ts := c.Timestamp() + 3600

	require.NoError(t, accts.Accept(user, 0, big.NewInt(600), ts))
	err := accts.Accept(user, 1, big.NewInt(401), ts)
	require.ErrorIs(t, err, types.ErrDailyLimitExceeded)
	assert.Equal(t, uint64(1), accts.Nonce(user))

	require.NoError(t, accts.Accept(user, 1, big.NewInt(400), ts))
	assert.Equal(t, int64(0), accts.RemainingVolume(user, ts).Int64())

	// first request of the next day resets the counter once
	next := ts + day
	assert.Equal(t, int64(1000), accts.RemainingVolume(user, next).Int64())
	require.NoError(t, accts.Accept(user, 2, big.NewInt(700), next))
	err = accts.Accept(user, 3, big.NewInt(301), next+10)
	assert.ErrorIs(t, err, types.ErrDailyLimitExceeded)
	assert.Equal(t, int64(700), accts.Get(user).DailyVolumeUsed.Int64())
	assert.Equal(t, next/day, accts.Get(user).LastResetDay)
}

func TestDailyLimitOverrides(t *testing.T) {
	c, _, accts := setup(t)
	ts := c.Timestamp()

	accts.SetDailyLimit(user, big.NewInt(50))
	assert.Equal(t, int64(50), accts.EffectiveDailyLimit(user).Int64())
	assert.ErrorIs(t, accts.Accept(user, 0, big.NewInt(51), ts), types.ErrDailyLimitExceeded)

	accts.SetDailyLimit(user, big.NewInt(0))
	accts.SetDefaultDailyLimit(big.NewInt(0))
	assert.Nil(t, accts.RemainingVolume(user, ts))
	require.NoError(t, accts.Accept(user, 0, big.NewInt(1_000_000), ts))
}

func TestWhitelist(t *testing.T) {
	_, _, accts := setup(t)
	assert.False(t, accts.IsWhitelisted(user))
	accts.SetWhitelisted(user, true)
	assert.True(t, accts.IsWhitelisted(user))
	assert.Equal(t, uint64(0), accts.Nonce(user))
}

func TestAccountsRevertWithTransaction(t *testing.T) {
	c, _, accts := setup(t)
	_, err := c.Transact(chain.Msg{From: user}, func(ctx *chain.Context) error {
		require.NoError(t, accts.Accept(user, 0, big.NewInt(10), ctx.Timestamp()))
		return types.ErrInsufficientProfit
	})
	require.ErrorIs(t, err, types.ErrInsufficientProfit)
	assert.Equal(t, uint64(0), accts.Nonce(user))
	assert.Equal(t, int64(0), accts.Get(user).DailyVolumeUsed.Int64())
}
