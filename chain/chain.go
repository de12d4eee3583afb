package chain

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

const defaultReceiptCacheSize = 4096

// Config describes the host chain.
type Config struct {
	ChainID          uint64
	Timestamp        uint64
	ReceiptCacheSize int
}

// Msg is the envelope of a host transaction.
type Msg struct {
	From     common.Address
	GasPrice *big.Int
}

// Event is a log emitted by a contract during a transaction. Events of a
// reverted transaction are discarded.
type Event struct {
	Address common.Address
	Name    string
	Data    interface{}
}

// Receipt is the outcome of a host transaction.
type Receipt struct {
	TxHash      common.Hash
	From        common.Address
	BlockNumber uint64
	Timestamp   uint64
	Status      uint64
	Err         error
	Logs        []Event
}

// Succeeded reports whether the transaction committed.
func (r *Receipt) Succeeded() bool {
	return r.Status == gethtypes.ReceiptStatusSuccessful
}

// FindEvent returns the first log with the given name.
func (r *Receipt) FindEvent(name string) (Event, bool) {
	for _, ev := range r.Logs {
		if ev.Name == name {
			return ev, true
		}
	}
	return Event{}, false
}

// Chain is a single-writer host ledger. Transactions run one at a time and
// either commit every write or none.
type Chain struct {
	mu sync.Mutex

	chainID     *big.Int
	timestamp   uint64
	blockNumber uint64
	seq         uint64

	journal  journal
	ledger   *Ledger
	receipts *lru.Cache
	logger   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Chain, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("chain id is required")
	}
	size := cfg.ReceiptCacheSize
	if size <= 0 {
		size = defaultReceiptCacheSize
	}
	receipts, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt index: %w", err)
	}
	ts := cfg.Timestamp
	if ts == 0 {
		ts = uint64(time.Now().Unix())
	}

	c := &Chain{
		chainID:   new(big.Int).SetUint64(cfg.ChainID),
		timestamp: ts,
		receipts:  receipts,
		logger:    logger,
	}
	c.ledger = newLedger(c)
	return c, nil
}

func (c *Chain) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Chain) Ledger() *Ledger {
	return c.ledger
}

func (c *Chain) Timestamp() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timestamp
}

func (c *Chain) BlockNumber() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockNumber
}

// AdvanceTime moves the clock forward by seconds.
func (c *Chain) AdvanceTime(seconds uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timestamp += seconds
}

// SetTime sets the clock. Time never moves backwards.
func (c *Chain) SetTime(ts uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts > c.timestamp {
		c.timestamp = ts
	}
}

// Transact runs fn as a host transaction. If fn returns an error (or panics)
// every state write and event made inside it is reverted. The returned
// receipt is non-nil in both cases.
func (c *Chain) Transact(msg Msg, fn func(ctx *Context) error) (*Receipt, error) {
	return c.execute(msg, fn, false)
}

// Call runs fn like Transact but always reverts, for read-only queries and
// dry runs. The receipt carries the events the call would have emitted.
func (c *Chain) Call(msg Msg, fn func(ctx *Context) error) (*Receipt, error) {
	return c.execute(msg, fn, true)
}

// Receipt looks up a recent transaction by hash.
func (c *Chain) Receipt(hash common.Hash) (*Receipt, bool) {
	v, ok := c.receipts.Get(hash)
	if !ok {
		return nil, false
	}
	return v.(*Receipt), true
}

func (c *Chain) execute(msg Msg, fn func(ctx *Context) error, static bool) (receipt *Receipt, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	if !static {
		c.blockNumber++
	}
	gasPrice := new(big.Int)
	if msg.GasPrice != nil {
		gasPrice.Set(msg.GasPrice)
	}
	tx := &txState{
		origin:      msg.From,
		gasPrice:    gasPrice,
		timestamp:   c.timestamp,
		blockNumber: c.blockNumber,
		hash:        c.txHash(msg.From),
		static:      static,
	}
	ctx := &Context{Sender: msg.From, tx: tx, chain: c}

	mark := c.journal.snapshot()
	err = c.run(ctx, fn)

	receipt = &Receipt{
		TxHash:      tx.hash,
		From:        msg.From,
		BlockNumber: tx.blockNumber,
		Timestamp:   tx.timestamp,
		Status:      gethtypes.ReceiptStatusSuccessful,
		Logs:        tx.logs,
	}
	switch {
	case err != nil:
		c.journal.revert(mark)
		receipt.Status = gethtypes.ReceiptStatusFailed
		receipt.Err = err
		receipt.Logs = nil
		if static {
			// a dry run still reports what it got to before failing
			receipt.Logs = tx.logs
		}
		c.logger.Debug("transaction reverted",
			zap.String("tx", tx.hash.Hex()),
			zap.String("from", msg.From.Hex()),
			zap.Error(err))
	case static:
		c.journal.revert(mark)
	default:
		c.journal.commit()
	}

	if !static {
		c.receipts.Add(tx.hash, receipt)
	}
	return receipt, err
}

func (c *Chain) run(ctx *Context, fn func(ctx *Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("execution aborted: %v", r)
		}
	}()
	return fn(ctx)
}

func (c *Chain) txHash(from common.Address) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], c.chainID.Uint64())
	binary.BigEndian.PutUint64(buf[8:], c.seq)
	return crypto.Keccak256Hash(from.Bytes(), buf[:])
}

type txState struct {
	origin      common.Address
	gasPrice    *big.Int
	timestamp   uint64
	blockNumber uint64
	hash        common.Hash
	logs        []Event
	static      bool
}

// Context is a call frame inside a host transaction. Sender is the
// immediate caller of the code running in this frame.
type Context struct {
	Sender common.Address

	tx    *txState
	chain *Chain
}

// As returns a frame for a call made by addr within the same transaction.
func (ctx *Context) As(addr common.Address) *Context {
	return &Context{Sender: addr, tx: ctx.tx, chain: ctx.chain}
}

func (ctx *Context) Origin() common.Address { return ctx.tx.origin }

// Static reports whether the transaction is a dry run that will be reverted.
func (ctx *Context) Static() bool { return ctx.tx.static }

func (ctx *Context) GasPrice() *big.Int { return new(big.Int).Set(ctx.tx.gasPrice) }

func (ctx *Context) Timestamp() uint64 { return ctx.tx.timestamp }

func (ctx *Context) BlockNumber() uint64 { return ctx.tx.blockNumber }

func (ctx *Context) TxHash() common.Hash { return ctx.tx.hash }

func (ctx *Context) ChainID() *big.Int { return ctx.chain.ChainID() }

func (ctx *Context) Ledger() *Ledger { return ctx.chain.ledger }

// Emit appends an event to the transaction's logs.
func (ctx *Context) Emit(address common.Address, name string, data interface{}) {
	ctx.tx.logs = append(ctx.tx.logs, Event{Address: address, Name: name, Data: data})
}
