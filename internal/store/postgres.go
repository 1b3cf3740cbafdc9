package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/models"
)

// Amounts are NUMERIC(78,0), wide enough for any 256-bit value. They travel
// as decimal text in both directions.
const schema = `
CREATE TABLE IF NOT EXISTS engine_meta (
	id               SMALLINT PRIMARY KEY CHECK (id = 1),
	owner            TEXT NOT NULL,
	paused           BOOLEAN NOT NULL,
	next_listing_id  BIGINT NOT NULL,
	next_purchase_id BIGINT NOT NULL,
	fees_native      NUMERIC(78,0) NOT NULL,
	fees_secondary   NUMERIC(78,0) NOT NULL
);
CREATE TABLE IF NOT EXISTS listings (
	id                BIGINT PRIMARY KEY,
	seller            TEXT NOT NULL,
	price_native      NUMERIC(78,0) NOT NULL,
	price_secondary   NUMERIC(78,0) NOT NULL,
	quantity          NUMERIC(20,0) NOT NULL,
	metadata          TEXT NOT NULL,
	status            SMALLINT NOT NULL,
	created_at        BIGINT NOT NULL,
	accepts_native    BOOLEAN NOT NULL,
	accepts_secondary BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS listings_seller_idx ON listings (seller);
CREATE TABLE IF NOT EXISTS purchases (
	id             BIGINT PRIMARY KEY,
	listing_id     BIGINT NOT NULL,
	buyer          TEXT NOT NULL,
	seller         TEXT NOT NULL,
	quantity       NUMERIC(20,0) NOT NULL,
	paid_amount    NUMERIC(78,0) NOT NULL,
	payment_method SMALLINT NOT NULL,
	confirmed      BOOLEAN NOT NULL,
	created_at     BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS purchases_buyer_idx ON purchases (buyer);
CREATE TABLE IF NOT EXISTS earnings (
	account   TEXT PRIMARY KEY,
	native    NUMERIC(78,0) NOT NULL,
	secondary NUMERIC(78,0) NOT NULL
);
CREATE TABLE IF NOT EXISTS accounts (
	address  TEXT NOT NULL,
	currency SMALLINT NOT NULL,
	balance  NUMERIC(78,0) NOT NULL,
	PRIMARY KEY (address, currency)
);
CREATE TABLE IF NOT EXISTS idempotency_keys (
	key          TEXT PRIMARY KEY,
	request_hash TEXT NOT NULL,
	purchase_id  BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);`

type PostgresStore struct {
	Db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{Db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

// Apply writes the change set in one transaction.
func (s *PostgresStore) Apply(ctx context.Context, st *State) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	if e := st.Engine; e != nil {
		batch.Queue(`INSERT INTO engine_meta (id, owner, paused, next_listing_id, next_purchase_id, fees_native, fees_secondary)
			VALUES (1, $1, $2, $3, $4, $5::text::numeric, $6::text::numeric)
			ON CONFLICT (id) DO UPDATE SET owner = EXCLUDED.owner, paused = EXCLUDED.paused,
				next_listing_id = EXCLUDED.next_listing_id, next_purchase_id = EXCLUDED.next_purchase_id,
				fees_native = EXCLUDED.fees_native, fees_secondary = EXCLUDED.fees_secondary`,
			e.Owner.Hex(), e.Paused, int64(e.NextListingID), int64(e.NextPurchaseID),
			e.PlatformFees.Native.Dec(), e.PlatformFees.Secondary.Dec())

		for _, l := range e.Listings {
			batch.Queue(`INSERT INTO listings (id, seller, price_native, price_secondary, quantity, metadata, status, created_at, accepts_native, accepts_secondary)
				VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5::text::numeric, $6, $7, $8, $9, $10)
				ON CONFLICT (id) DO UPDATE SET price_native = EXCLUDED.price_native, price_secondary = EXCLUDED.price_secondary,
					quantity = EXCLUDED.quantity, metadata = EXCLUDED.metadata, status = EXCLUDED.status,
					accepts_native = EXCLUDED.accepts_native, accepts_secondary = EXCLUDED.accepts_secondary`,
				int64(l.ID), l.Seller.Hex(), l.PriceNative.Dec(), l.PriceSecondary.Dec(),
				strconv.FormatUint(l.Quantity, 10), l.Metadata, int16(l.Status), l.CreatedAt,
				l.AcceptsNative, l.AcceptsSecondary)
		}
		for _, id := range e.DeletedListings {
			batch.Queue("DELETE FROM listings WHERE id = $1", int64(id))
		}
		for _, p := range e.Purchases {
			batch.Queue(`INSERT INTO purchases (id, listing_id, buyer, seller, quantity, paid_amount, payment_method, confirmed, created_at)
				VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7, $8, $9)
				ON CONFLICT (id) DO UPDATE SET confirmed = EXCLUDED.confirmed`,
				int64(p.ID), int64(p.ListingID), p.Buyer.Hex(), p.Seller.Hex(),
				strconv.FormatUint(p.Quantity, 10), p.PaidAmount.Dec(), int16(p.PaymentMethod),
				p.Confirmed, p.CreatedAt)
		}
		for acct, b := range e.Earnings {
			batch.Queue(`INSERT INTO earnings (account, native, secondary)
				VALUES ($1, $2::text::numeric, $3::text::numeric)
				ON CONFLICT (account) DO UPDATE SET native = EXCLUDED.native, secondary = EXCLUDED.secondary`,
				acct.Hex(), b.Native.Dec(), b.Secondary.Dec())
		}
	}
	for _, b := range st.Balances {
		batch.Queue(`INSERT INTO accounts (address, currency, balance)
			VALUES ($1, $2, $3::text::numeric)
			ON CONFLICT (address, currency) DO UPDATE SET balance = EXCLUDED.balance`,
			b.Account.Hex(), int16(b.Currency), b.Amount.Dec())
	}
	if batch.Len() == 0 {
		return nil
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("state write failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// Load reads the full state.
func (s *PostgresStore) Load(ctx context.Context) (*State, error) {
	st := &State{}

	balances, err := s.loadBalances(ctx)
	if err != nil {
		return nil, err
	}
	st.Balances = balances

	var (
		snap                   domain.Snapshot
		owner                  string
		nextListing, nextPurch int64
		feesNative, feesSecond string
	)
	err = s.Db.QueryRow(ctx,
		"SELECT owner, paused, next_listing_id, next_purchase_id, fees_native::text, fees_secondary::text FROM engine_meta WHERE id = 1",
	).Scan(&owner, &snap.Paused, &nextListing, &nextPurch, &feesNative, &feesSecond)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("meta query failed: %w", err)
	}
	snap.Owner = common.HexToAddress(owner)
	snap.NextListingID = uint64(nextListing)
	snap.NextPurchaseID = uint64(nextPurch)
	if snap.PlatformFees.Native, err = parseAmount(feesNative); err != nil {
		return nil, err
	}
	if snap.PlatformFees.Secondary, err = parseAmount(feesSecond); err != nil {
		return nil, err
	}

	if snap.Listings, err = s.loadListings(ctx); err != nil {
		return nil, err
	}
	if snap.Purchases, err = s.loadPurchases(ctx); err != nil {
		return nil, err
	}
	if snap.Earnings, err = s.loadEarnings(ctx); err != nil {
		return nil, err
	}
	st.Engine = &snap
	return st, nil
}

func (s *PostgresStore) loadListings(ctx context.Context) ([]domain.Listing, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id, seller, price_native::text, price_secondary::text, quantity::text, metadata, status, created_at, accepts_native, accepts_secondary
		FROM listings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listings query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		var (
			l                   domain.Listing
			id                  int64
			seller, pn, ps, qty string
			status              int16
		)
		if err := rows.Scan(&id, &seller, &pn, &ps, &qty, &l.Metadata, &status, &l.CreatedAt, &l.AcceptsNative, &l.AcceptsSecondary); err != nil {
			return nil, fmt.Errorf("listing scan failed: %w", err)
		}
		l.ID = uint64(id)
		l.Seller = common.HexToAddress(seller)
		l.Status = domain.ListingStatus(status)
		if l.PriceNative, err = parseAmount(pn); err != nil {
			return nil, err
		}
		if l.PriceSecondary, err = parseAmount(ps); err != nil {
			return nil, err
		}
		if l.Quantity, err = strconv.ParseUint(qty, 10, 64); err != nil {
			return nil, fmt.Errorf("listing %d quantity: %w", id, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadPurchases(ctx context.Context) ([]domain.Purchase, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id, listing_id, buyer, seller, quantity::text, paid_amount::text, payment_method, confirmed, created_at
		FROM purchases ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("purchases query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.Purchase
	for rows.Next() {
		var (
			p                        domain.Purchase
			id, listingID            int64
			buyer, seller, qty, paid string
			method                   int16
		)
		if err := rows.Scan(&id, &listingID, &buyer, &seller, &qty, &paid, &method, &p.Confirmed, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("purchase scan failed: %w", err)
		}
		p.ID = uint64(id)
		p.ListingID = uint64(listingID)
		p.Buyer = common.HexToAddress(buyer)
		p.Seller = common.HexToAddress(seller)
		p.PaymentMethod = domain.Currency(method)
		if p.PaidAmount, err = parseAmount(paid); err != nil {
			return nil, err
		}
		if p.Quantity, err = strconv.ParseUint(qty, 10, 64); err != nil {
			return nil, fmt.Errorf("purchase %d quantity: %w", id, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadEarnings(ctx context.Context) (map[common.Address]domain.Balance, error) {
	rows, err := s.Db.Query(ctx, "SELECT account, native::text, secondary::text FROM earnings")
	if err != nil {
		return nil, fmt.Errorf("earnings query failed: %w", err)
	}
	defer rows.Close()

	out := make(map[common.Address]domain.Balance)
	for rows.Next() {
		var (
			b                    domain.Balance
			acct, native, second string
		)
		if err := rows.Scan(&acct, &native, &second); err != nil {
			return nil, fmt.Errorf("earnings scan failed: %w", err)
		}
		if b.Native, err = parseAmount(native); err != nil {
			return nil, err
		}
		if b.Secondary, err = parseAmount(second); err != nil {
			return nil, err
		}
		out[common.HexToAddress(acct)] = b
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadBalances(ctx context.Context) ([]models.AccountBalance, error) {
	rows, err := s.Db.Query(ctx, "SELECT address, currency, balance::text FROM accounts ORDER BY address, currency")
	if err != nil {
		return nil, fmt.Errorf("accounts query failed: %w", err)
	}
	defer rows.Close()

	var out []models.AccountBalance
	for rows.Next() {
		var (
			b            models.AccountBalance
			addr, amount string
			currency     int16
		)
		if err := rows.Scan(&addr, &currency, &amount); err != nil {
			return nil, fmt.Errorf("account scan failed: %w", err)
		}
		b.Account = common.HexToAddress(addr)
		b.Currency = domain.Currency(currency)
		if b.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetIdempotency(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var (
		rec        models.IdempotencyRecord
		purchaseID int64
	)
	err := s.Db.QueryRow(ctx,
		"SELECT key, request_hash, purchase_id, created_at FROM idempotency_keys WHERE key = $1",
		key,
	).Scan(&rec.Key, &rec.RequestHash, &purchaseID, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}
	rec.PurchaseID = uint64(purchaseID)
	return &rec, nil
}

func (s *PostgresStore) SaveIdempotency(ctx context.Context, rec *models.IdempotencyRecord) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, purchase_id, created_at) VALUES ($1, $2, $3, $4)",
		rec.Key, rec.RequestHash, int64(rec.PurchaseID), rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateKey
		}
		return fmt.Errorf("key reservation failed: %w", err)
	}
	return nil
}

func parseAmount(s string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("stored amount %q: %w", s, err)
	}
	return *v, nil
}
