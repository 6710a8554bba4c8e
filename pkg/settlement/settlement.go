package settlement

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fractionfi/bondcore/pkg/core/ledger"
)

// Instruction is the per-trade notification handed to the on-chain
// settlement collaborator: mint/burn or transfer bond tokens between the
// two wallets.
type Instruction struct {
	TradeID      uuid.UUID
	InstrumentID uuid.UUID
	Buyer        common.Address
	Seller       common.Address
	Price        int64
	Quantity     int64
}

// Notifier is the settlement collaborator boundary. The engine never blocks
// on it: failures are a reconciliation concern, not a rollback.
type Notifier interface {
	TradeExecuted(ctx context.Context, ins Instruction) (common.Hash, error)
}

// ChainNotifier is a deterministic stand-in for the token contract bridge.
// It derives the settlement transaction hash from the instruction contents,
// which keeps reconciliation reproducible in development and tests.
type ChainNotifier struct{}

func (ChainNotifier) TradeExecuted(_ context.Context, ins Instruction) (common.Hash, error) {
	payload := fmt.Sprintf("settle|%s|%s|%s|%s|%d|%d",
		ins.TradeID, ins.InstrumentID, ins.Buyer.Hex(), ins.Seller.Hex(), ins.Price, ins.Quantity)
	return crypto.Keccak256Hash([]byte(payload)), nil
}

// TxHashRecorder is how settlement writes its hash back onto the committed
// trade. Satisfied by *ledger.Ledger.
type TxHashRecorder interface {
	SetTxHash(id uuid.UUID, hash string) error
}

// Dispatcher decouples settlement from the matching critical path: the
// engine enqueues after a trade commits, a single worker notifies the
// collaborator and records the hash.
type Dispatcher struct {
	notifier Notifier
	recorder TxHashRecorder
	queue    chan Instruction
	done     chan struct{}
	log      *zap.SugaredLogger
}

func NewDispatcher(n Notifier, r TxHashRecorder, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		notifier: n,
		recorder: r,
		queue:    make(chan Instruction, 1024),
		done:     make(chan struct{}),
		log:      log,
	}
}

// Start runs the worker until ctx is cancelled, then drains what is
// already queued. A trade committed before shutdown keeps its settlement
// notification.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				d.drain()
				return
			case ins := <-d.queue:
				d.settle(ctx, ins)
			}
		}
	}()
}

// drain settles the queued backlog with a fresh context, since the run
// context is already cancelled.
func (d *Dispatcher) drain() {
	for {
		select {
		case ins := <-d.queue:
			d.settle(context.Background(), ins)
		default:
			return
		}
	}
}

// Wait blocks until the worker has stopped.
func (d *Dispatcher) Wait() { <-d.done }

// Dispatch enqueues a settlement instruction without blocking. A full queue
// is logged and skipped; the trade stays in the ledger and gets picked up by
// reconciliation.
func (d *Dispatcher) Dispatch(ins Instruction) {
	select {
	case d.queue <- ins:
	default:
		d.log.Warnw("settlement_queue_full", "trade", ins.TradeID)
	}
}

func (d *Dispatcher) settle(ctx context.Context, ins Instruction) {
	hash, err := d.notifier.TradeExecuted(ctx, ins)
	if err != nil {
		// The ledger reflects matching truth; settlement is eventually
		// consistent against it.
		d.log.Warnw("settlement_failed", "trade", ins.TradeID, "err", err)
		return
	}
	if err := d.recorder.SetTxHash(ins.TradeID, hash.Hex()); err != nil {
		d.log.Warnw("settlement_record_failed", "trade", ins.TradeID, "err", err)
		return
	}
	d.log.Infow("trade_settled", "trade", ins.TradeID, "tx", hash.Hex())
}

// FromTrade builds the settlement instruction for a committed trade.
func FromTrade(t *ledger.Trade) Instruction {
	return Instruction{
		TradeID:      t.ID,
		InstrumentID: t.InstrumentID,
		Buyer:        t.Buyer,
		Seller:       t.Seller,
		Price:        t.Price,
		Quantity:     t.Quantity,
	}
}
