package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/models"
)

// Key layout. Ids are zero-padded so iteration follows id order.
var (
	metaKey         = []byte("meta")
	listingPrefix   = []byte("listing/")
	purchasePrefix  = []byte("purchase/")
	earningsPrefix  = []byte("earnings/")
	accountPrefix   = []byte("account/")
	idempotencyPref = []byte("idem/")
)

func idKey(prefix []byte, id uint64) []byte {
	return fmt.Appendf(append([]byte{}, prefix...), "%020d", id)
}

func addrKey(prefix []byte, a common.Address) []byte {
	return append(append([]byte{}, prefix...), a.Hex()...)
}

func balanceKeyBytes(a common.Address, c domain.Currency) []byte {
	return fmt.Appendf(append([]byte{}, accountPrefix...), "%s/%d", a.Hex(), c)
}

// LevelDBStore persists state as JSON records in an embedded LevelDB.
type LevelDBStore struct {
	db *leveldb.DB
}

func NewLevelDBStore(path string) (*LevelDBStore, error) {
	if path == "" {
		return nil, errors.New("leveldb path required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Close() {
	s.db.Close()
}

// Apply writes the change set as one atomic batch.
func (s *LevelDBStore) Apply(ctx context.Context, st *State) error {
	batch := new(leveldb.Batch)
	if e := st.Engine; e != nil {
		if err := putJSON(batch, metaKey, encodeMeta(e)); err != nil {
			return err
		}
		for _, l := range e.Listings {
			if err := putJSON(batch, idKey(listingPrefix, l.ID), encodeListing(l)); err != nil {
				return err
			}
		}
		for _, id := range e.DeletedListings {
			batch.Delete(idKey(listingPrefix, id))
		}
		for _, p := range e.Purchases {
			if err := putJSON(batch, idKey(purchasePrefix, p.ID), encodePurchase(p)); err != nil {
				return err
			}
		}
		for acct, b := range e.Earnings {
			if err := putJSON(batch, addrKey(earningsPrefix, acct), encodeBalance(b)); err != nil {
				return err
			}
		}
	}
	for _, b := range st.Balances {
		batch.Put(balanceKeyBytes(b.Account, b.Currency), []byte(b.Amount.Dec()))
	}
	if batch.Len() == 0 {
		return nil
	}
	return s.db.Write(batch, nil)
}

func (s *LevelDBStore) Load(ctx context.Context) (*State, error) {
	st := &State{}

	err := s.scan(accountPrefix, func(key, value []byte) error {
		parts := strings.Split(strings.TrimPrefix(string(key), string(accountPrefix)), "/")
		if len(parts) != 2 {
			return fmt.Errorf("malformed account key %q", key)
		}
		var c domain.Currency
		if _, err := fmt.Sscanf(parts[1], "%d", &c); err != nil {
			return fmt.Errorf("malformed account key %q: %w", key, err)
		}
		amount, err := parseAmount(string(value))
		if err != nil {
			return err
		}
		st.Balances = append(st.Balances, models.AccountBalance{
			Account:  common.HexToAddress(parts[0]),
			Currency: c,
			Amount:   amount,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	raw, err := s.db.Get(metaKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	var meta metaRecord
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	snap, err := meta.decode()
	if err != nil {
		return nil, err
	}

	err = s.scan(listingPrefix, func(_, value []byte) error {
		var rec listingRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode listing: %w", err)
		}
		l, err := rec.decode()
		if err != nil {
			return err
		}
		snap.Listings = append(snap.Listings, l)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(purchasePrefix, func(_, value []byte) error {
		var rec purchaseRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode purchase: %w", err)
		}
		p, err := rec.decode()
		if err != nil {
			return err
		}
		snap.Purchases = append(snap.Purchases, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(earningsPrefix, func(key, value []byte) error {
		var rec balanceRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode earnings: %w", err)
		}
		b, err := rec.decode()
		if err != nil {
			return err
		}
		snap.Earnings[common.HexToAddress(string(key[len(earningsPrefix):]))] = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	st.Engine = snap
	return st, nil
}

func (s *LevelDBStore) scan(prefix []byte, fn func(key, value []byte) error) error {
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func (s *LevelDBStore) GetIdempotency(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	raw, err := s.db.Get(append(append([]byte{}, idempotencyPref...), key...), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}
	var rec models.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency key: %w", err)
	}
	return &rec, nil
}

// SaveIdempotency relies on the caller serialising writers; LevelDB has no
// conditional put.
func (s *LevelDBStore) SaveIdempotency(ctx context.Context, rec *models.IdempotencyRecord) error {
	k := append(append([]byte{}, idempotencyPref...), rec.Key...)
	ok, err := s.db.Has(k, nil)
	if err != nil {
		return fmt.Errorf("read idempotency key: %w", err)
	}
	if ok {
		return ErrDuplicateKey
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Put(k, raw, nil)
}

func putJSON(batch *leveldb.Batch, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	batch.Put(key, raw)
	return nil
}
