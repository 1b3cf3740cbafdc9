// Package store persists committed marketplace state. The engine stays
// authoritative in memory; stores receive its changes after each successful
// call and hand the full state back on startup.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/models"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// State is one unit of persisted state. Engine is nil when a store has
// never been written.
type State struct {
	Engine   *domain.Snapshot
	Balances []models.AccountBalance
}

type Store interface {
	// Load returns everything persisted so far.
	Load(ctx context.Context) (*State, error)
	// Apply writes a partial state: records are upserted, deleted listings
	// removed, and the scalar engine fields replaced.
	Apply(ctx context.Context, s *State) error
	GetIdempotency(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	// SaveIdempotency fails with ErrDuplicateKey if the key is taken.
	SaveIdempotency(ctx context.Context, rec *models.IdempotencyRecord) error
	Close()
}

const (
	TypeMemory   = "memory"
	TypePostgres = "postgres"
	TypeLevelDB  = "leveldb"
)

// Open builds the store named by kind.
func Open(ctx context.Context, kind, dbSource, levelDBPath string) (Store, error) {
	switch kind {
	case "", TypeMemory:
		return NewMemoryStore(), nil
	case TypePostgres:
		return NewPostgresStore(ctx, dbSource)
	case TypeLevelDB:
		return NewLevelDBStore(levelDBPath)
	default:
		return nil, fmt.Errorf("unknown store type %q", kind)
	}
}
