package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fractionfi/bondcore/pkg/core/ledger"
)

// TradeJournal is a human-readable append-only audit log of committed
// trades, one JSON line each. It complements the Pebble store: the store is
// what the node reloads, the journal is what an operator greps.
type TradeJournal interface {
	Append(*ledger.Trade)
}

type NopJournal struct{}

func NewNopJournal() *NopJournal        { return &NopJournal{} }
func (NopJournal) Append(*ledger.Trade) {}

type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(t *ledger.Trade) {
	line, err := json.Marshal(t)
	if err != nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	fmt.Fprintln(j.f, string(line))
}

func (j *FileJournal) Close() error { return j.f.Close() }

var _ TradeJournal = (*NopJournal)(nil)
var _ TradeJournal = (*FileJournal)(nil)
