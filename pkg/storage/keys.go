package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Pebble key schema.
// Prefix-based so one range scan loads a whole record family, and trade keys
// embed the zero-padded sequence so iteration order is append order.
const (
	prefixInstrument = "inst:"
	prefixTrade      = "trade:"
	prefixHolding    = "hold:"
)

// instrumentKey: "inst:{id}"
func instrumentKey(id uuid.UUID) []byte {
	return []byte(prefixInstrument + id.String())
}

// tradeKey: "trade:{instrumentID}:{seq:020d}"
func tradeKey(instrumentID uuid.UUID, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, instrumentID, seq))
}

// holdingKey: "hold:{wallet}:{instrumentID}"
func holdingKey(owner common.Address, instrumentID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixHolding, owner.Hex(), instrumentID))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
