// Package state is the shared state store: per-parachain balances, logs,
// and pending queries, plus the message status log. Mutation is scoped to
// one parachain at a time; parachains never contend with each other.
package state

import (
	"fmt"
	"sort"
	"sync"
)

// Partition is one parachain's ledger region. Mutation functions receive
// a private copy; the store commits it only when they succeed.
type Partition struct {
	Balances       map[string]uint64
	Log            []string
	PendingQueries map[string]bool
}

func newPartition() *Partition {
	return &Partition{
		Balances:       make(map[string]uint64),
		PendingQueries: make(map[string]bool),
	}
}

func (p *Partition) clone() *Partition {
	c := &Partition{
		Balances:       make(map[string]uint64, len(p.Balances)),
		Log:            make([]string, len(p.Log)),
		PendingQueries: make(map[string]bool, len(p.PendingQueries)),
	}
	for k, v := range p.Balances {
		c.Balances[k] = v
	}
	copy(c.Log, p.Log)
	for k := range p.PendingQueries {
		c.PendingQueries[k] = true
	}
	return c
}

// Append adds a line to the partition's ordered log.
func (p *Partition) Append(line string) {
	p.Log = append(p.Log, line)
}

type shard struct {
	mu sync.Mutex
	p  *Partition
}

// Store owns all partition state. The partition set is fixed at
// construction; only shard contents change afterwards.
type Store struct {
	shards map[uint32]*shard
}

func New(paraIDs []uint32) (*Store, error) {
	shards := make(map[uint32]*shard, len(paraIDs))
	for _, id := range paraIDs {
		if _, dup := shards[id]; dup {
			return nil, fmt.Errorf("duplicate parachain id %d", id)
		}
		shards[id] = &shard{p: newPartition()}
	}
	return &Store{shards: shards}, nil
}

func (s *Store) Has(paraID uint32) bool {
	_, ok := s.shards[paraID]
	return ok
}

// ParaIDs returns the registered parachain ids in ascending order.
func (s *Store) ParaIDs() []uint32 {
	ids := make([]uint32, 0, len(s.shards))
	for id := range s.shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Mutate runs fn against a copy of the partition and commits the copy
// only if fn returns nil. A failing fn leaves the partition untouched,
// and no reader ever observes fn's intermediate writes. The shard lock is
// held for the duration of fn; fn must not block.
func (s *Store) Mutate(paraID uint32, fn func(p *Partition) error) error {
	sh, ok := s.shards[paraID]
	if !ok {
		return fmt.Errorf("unknown parachain %d", paraID)
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	work := sh.p.clone()
	if err := fn(work); err != nil {
		return err
	}
	sh.p = work
	return nil
}

// View runs fn against a snapshot of the partition. The snapshot is a
// copy; fn may retain it.
func (s *Store) View(paraID uint32, fn func(p *Partition)) error {
	sh, ok := s.shards[paraID]
	if !ok {
		return fmt.Errorf("unknown parachain %d", paraID)
	}
	sh.mu.Lock()
	snap := sh.p.clone()
	sh.mu.Unlock()
	fn(snap)
	return nil
}

// Balance reads one account balance. Missing accounts read as zero.
func (s *Store) Balance(paraID uint32, account string) (uint64, error) {
	var bal uint64
	err := s.View(paraID, func(p *Partition) {
		bal = p.Balances[account]
	})
	return bal, err
}

// Credit seeds an account balance, used for genesis funding.
func (s *Store) Credit(paraID uint32, account string, amount uint64) error {
	return s.Mutate(paraID, func(p *Partition) error {
		p.Balances[account] += amount
		return nil
	})
}

// OpenQuery registers a pending query on the parachain so a later
// QueryResponse instruction can close it.
func (s *Store) OpenQuery(paraID uint32, queryID string) error {
	return s.Mutate(paraID, func(p *Partition) error {
		if p.PendingQueries[queryID] {
			return fmt.Errorf("query %q already pending", queryID)
		}
		p.PendingQueries[queryID] = true
		p.Append(fmt.Sprintf("query opened: %s", queryID))
		return nil
	})
}
