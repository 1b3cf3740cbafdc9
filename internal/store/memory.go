package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/models"
)

type balanceKey struct {
	account  common.Address
	currency domain.Currency
}

// MemoryStore keeps state for the life of the process.
type MemoryStore struct {
	mu          sync.Mutex
	meta        *domain.Snapshot
	listings    map[uint64]domain.Listing
	purchases   map[uint64]domain.Purchase
	earnings    map[common.Address]domain.Balance
	balances    map[balanceKey]models.AccountBalance
	idempotency map[string]models.IdempotencyRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings:    make(map[uint64]domain.Listing),
		purchases:   make(map[uint64]domain.Purchase),
		earnings:    make(map[common.Address]domain.Balance),
		balances:    make(map[balanceKey]models.AccountBalance),
		idempotency: make(map[string]models.IdempotencyRecord),
	}
}

func (m *MemoryStore) Load(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &State{}
	for _, b := range m.balances {
		st.Balances = append(st.Balances, b)
	}
	sort.Slice(st.Balances, func(i, j int) bool {
		a, b := st.Balances[i], st.Balances[j]
		if a.Account != b.Account {
			return a.Account.Cmp(b.Account) < 0
		}
		return a.Currency < b.Currency
	})
	if m.meta == nil {
		return st, nil
	}

	snap := *m.meta
	snap.Listings = nil
	snap.DeletedListings = nil
	snap.Purchases = nil
	snap.Earnings = make(map[common.Address]domain.Balance, len(m.earnings))
	for _, l := range m.listings {
		snap.Listings = append(snap.Listings, l)
	}
	for _, p := range m.purchases {
		snap.Purchases = append(snap.Purchases, p)
	}
	for a, b := range m.earnings {
		snap.Earnings[a] = b
	}
	sort.Slice(snap.Listings, func(i, j int) bool { return snap.Listings[i].ID < snap.Listings[j].ID })
	sort.Slice(snap.Purchases, func(i, j int) bool { return snap.Purchases[i].ID < snap.Purchases[j].ID })
	st.Engine = &snap
	return st, nil
}

func (m *MemoryStore) Apply(ctx context.Context, s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e := s.Engine; e != nil {
		m.meta = &domain.Snapshot{
			Owner:          e.Owner,
			Paused:         e.Paused,
			NextListingID:  e.NextListingID,
			NextPurchaseID: e.NextPurchaseID,
			PlatformFees:   e.PlatformFees,
		}
		for _, l := range e.Listings {
			m.listings[l.ID] = l
		}
		for _, id := range e.DeletedListings {
			delete(m.listings, id)
		}
		for _, p := range e.Purchases {
			m.purchases[p.ID] = p
		}
		for a, b := range e.Earnings {
			m.earnings[a] = b
		}
	}
	for _, b := range s.Balances {
		m.balances[balanceKey{b.Account, b.Currency}] = b
	}
	return nil
}

func (m *MemoryStore) GetIdempotency(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idempotency[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) SaveIdempotency(ctx context.Context, rec *models.IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.idempotency[rec.Key]; ok {
		return ErrDuplicateKey
	}
	m.idempotency[rec.Key] = *rec
	return nil
}

func (m *MemoryStore) Close() {}
