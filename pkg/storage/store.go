package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/fractionfi/bondcore/pkg/core/instrument"
	"github.com/fractionfi/bondcore/pkg/core/ledger"
	"github.com/fractionfi/bondcore/pkg/core/portfolio"
)

// Store is the Pebble-backed persistence layer for instruments, trades and
// holdings. It satisfies the Store interfaces of the core packages.
// Thread safety comes from the callers' locking; Pebble itself tolerates
// concurrent Set/Get.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		MaxOpenFiles:          1000,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveInstrument persists a bond's metadata and reference price.
func (s *Store) SaveInstrument(b *instrument.Instrument) error {
	return s.put(instrumentKey(b.ID), b, "instrument")
}

// LoadInstruments returns every persisted bond.
func (s *Store) LoadInstruments() ([]*instrument.Instrument, error) {
	var out []*instrument.Instrument
	err := s.scan(prefixInstrument, func(v []byte) error {
		var b instrument.Instrument
		if err := json.Unmarshal(v, &b); err != nil {
			return err
		}
		out = append(out, &b)
		return nil
	})
	return out, err
}

// SaveTrade persists a trade under its (instrument, seq) key. Called for the
// initial append and again when settlement records the tx hash.
func (s *Store) SaveTrade(t *ledger.Trade) error {
	return s.put(tradeKey(t.InstrumentID, t.Seq), t, "trade")
}

// LoadTrades returns every persisted trade; key order gives per-instrument
// append order.
func (s *Store) LoadTrades() ([]*ledger.Trade, error) {
	var out []*ledger.Trade
	err := s.scan(prefixTrade, func(v []byte) error {
		var t ledger.Trade
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		out = append(out, &t)
		return nil
	})
	return out, err
}

// SaveHolding persists a wallet's holding in one bond.
func (s *Store) SaveHolding(h *portfolio.Holding) error {
	return s.put(holdingKey(h.Owner, h.InstrumentID), h, "holding")
}

// DeleteHolding removes a pruned (zero-quantity) holding.
func (s *Store) DeleteHolding(owner common.Address, instrumentID uuid.UUID) error {
	if err := s.db.Delete(holdingKey(owner, instrumentID), pebble.Sync); err != nil {
		return fmt.Errorf("delete holding: %w", err)
	}
	return nil
}

// LoadHoldings returns every persisted holding.
func (s *Store) LoadHoldings() ([]*portfolio.Holding, error) {
	var out []*portfolio.Holding
	err := s.scan(prefixHolding, func(v []byte) error {
		var h portfolio.Holding
		if err := json.Unmarshal(v, &h); err != nil {
			return err
		}
		out = append(out, &h)
		return nil
	})
	return out, err
}

func (s *Store) put(key []byte, v any, what string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", what, err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("save %s: %w", what, err)
	}
	return nil
}

func (s *Store) scan(prefix string, fn func(value []byte) error) error {
	p := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: keyUpperBound(p),
	})
	if err != nil {
		return fmt.Errorf("iterator for %s: %w", prefix, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return fmt.Errorf("decode %s record: %w", prefix, err)
		}
	}
	return iter.Error()
}
