package instrument

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Store persists instruments. Implemented by pkg/storage; nil disables
// persistence (tests, replay).
type Store interface {
	SaveInstrument(*Instrument) error
}

// Registry manages all listed bonds in a thread-safe manner.
// Reference prices are mutated only through SetReferencePrice, which the
// market data aggregator owns.
type Registry struct {
	mu          sync.RWMutex
	instruments map[uuid.UUID]*Instrument
	byISIN      map[string]uuid.UUID
	store       Store
}

// NewRegistry creates an empty registry. store may be nil.
func NewRegistry(store Store) *Registry {
	return &Registry{
		instruments: make(map[uuid.UUID]*Instrument),
		byISIN:      make(map[string]uuid.UUID),
		store:       store,
	}
}

// Register adds a newly listed bond. The registry takes ownership of b;
// read it back through Get afterwards.
// Returns error if the id or ISIN is already registered.
func (r *Registry) Register(b *Instrument) error {
	if b == nil {
		return fmt.Errorf("cannot register nil instrument")
	}
	if err := b.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instruments[b.ID]; exists {
		return fmt.Errorf("instrument %s already registered", b.ID)
	}
	if _, exists := r.byISIN[b.ISIN]; exists {
		return fmt.Errorf("isin %s already registered", b.ISIN)
	}

	r.instruments[b.ID] = b
	r.byISIN[b.ISIN] = b.ID
	return r.persist(b)
}

// Get retrieves a snapshot of a bond by id. Callers get a copy: Status and
// ReferencePrice on the registered instrument change under the registry
// lock, so live pointers must not escape it.
func (r *Registry) Get(id uuid.UUID) (*Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.instruments[id]
	if !exists {
		return nil, fmt.Errorf("instrument %s not found", id)
	}
	c := *b
	return &c, nil
}

// GetByISIN retrieves a snapshot of a bond by ISIN.
func (r *Registry) GetByISIN(isin string) (*Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byISIN[isin]
	if !exists {
		return nil, fmt.Errorf("isin %s not found", isin)
	}
	c := *r.instruments[id]
	return &c, nil
}

// List returns snapshots of all registered bonds ordered by ISIN.
func (r *Registry) List() []*Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instrument, 0, len(r.instruments))
	for _, b := range r.instruments {
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ISIN < out[j].ISIN })
	return out
}

// ListActive returns snapshots of the bonds currently open for trading.
func (r *Registry) ListActive() []*Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instrument, 0)
	for _, b := range r.instruments {
		if b.Status == Active {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ISIN < out[j].ISIN })
	return out
}

// UpdateStatus applies a lifecycle transition.
// Valid transitions: Pending→Active, Active→Matured, Active→Delisted.
// Matured and Delisted are terminal.
func (r *Registry) UpdateStatus(id uuid.UUID, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.instruments[id]
	if !exists {
		return fmt.Errorf("instrument %s not found", id)
	}
	if err := validateTransition(b.Status, status); err != nil {
		return err
	}

	b.Status = status
	return r.persist(b)
}

func validateTransition(from, to Status) error {
	if from == Matured || from == Delisted {
		return fmt.Errorf("cannot change status from %s (terminal state)", from)
	}
	switch {
	case from == Pending && to == Active:
		return nil
	case from == Active && (to == Matured || to == Delisted):
		return nil
	default:
		return fmt.Errorf("invalid status transition %s -> %s", from, to)
	}
}

// SetReferencePrice updates the latest reference price for a bond.
// Only the market data aggregator should call this.
func (r *Registry) SetReferencePrice(id uuid.UUID, price int64) error {
	if price <= 0 {
		return fmt.Errorf("reference price must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.instruments[id]
	if !exists {
		return fmt.Errorf("instrument %s not found", id)
	}

	b.ReferencePrice = price
	return r.persist(b)
}

// ReferencePrice returns the current reference price for a bond,
// or 0 if it is unknown.
func (r *Registry) ReferencePrice(id uuid.UUID) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.instruments[id]
	if !exists {
		return 0
	}
	return b.ReferencePrice
}

// Count returns the number of registered bonds.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instruments)
}

// persist writes through to the store. Assumes lock is held.
func (r *Registry) persist(b *Instrument) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveInstrument(b); err != nil {
		return fmt.Errorf("persist instrument %s: %w", b.ISIN, err)
	}
	return nil
}
