package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/engine"
	"github.com/punchamoorthee/escrowledger/internal/events"
	"github.com/punchamoorthee/escrowledger/internal/models"
	"github.com/punchamoorthee/escrowledger/internal/store"
	"github.com/punchamoorthee/escrowledger/internal/token"
	"github.com/punchamoorthee/escrowledger/internal/wallet"
)

var (
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
	ErrInvalidAmount       = errors.New("invalid amount")

	// ErrKeyNotRecorded follows a committed purchase whose idempotency key
	// could not be stored. Retrying with the same key buys again.
	ErrKeyNotRecorded = errors.New("idempotency key not recorded")
)

var (
	engineCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_engine_calls_total",
		Help: "Engine calls processed, labeled by operation and outcome",
	}, []string{"op", "result"})

	engineCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_engine_call_duration_seconds",
		Help:    "Latency of engine calls including the state flush",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"op"})

	flushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_state_flush_failures_total",
		Help: "Committed changes that could not be written to the store",
	})
)

type Config struct {
	EngineAddress common.Address
	Owner         common.Address
	TokenSymbol   string
	TokenDecimals uint8
	Store         store.Store
	Emitter       events.Emitter
	Logger        *slog.Logger
	// Now overrides the engine clock.
	Now func() int64
}

// Marketplace hosts the engine. It serialises every call, moves attached
// native value into custody before the call and puts both currencies back
// if the call fails, then writes the committed changes to the store.
type Marketplace struct {
	mu      sync.Mutex
	engine  *engine.Engine
	wallet  *wallet.Ledger
	token   *token.Ledger
	store   store.Store
	logger  *slog.Logger
	backlog *store.State
}

func New(ctx context.Context, cfg Config) (*Marketplace, error) {
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TokenSymbol == "" {
		cfg.TokenSymbol = "USDX"
	}

	m := &Marketplace{
		wallet: wallet.NewLedger(),
		token:  token.NewLedger(cfg.TokenSymbol, cfg.TokenDecimals),
		store:  cfg.Store,
		logger: cfg.Logger,
	}
	eng, err := engine.New(engine.Config{
		Address: cfg.EngineAddress,
		Owner:   cfg.Owner,
		Token:   m.token.As(cfg.EngineAddress),
		Bank:    m.wallet.Payer(cfg.EngineAddress),
		Emitter: cfg.Emitter,
	})
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}
	if cfg.Now != nil {
		eng.SetNowFunc(cfg.Now)
	}
	m.engine = eng

	st, err := cfg.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("state load failed: %w", err)
	}
	for _, b := range st.Balances {
		switch b.Currency {
		case domain.Native:
			m.wallet.SetBalance(b.Account, &b.Amount)
		case domain.Secondary:
			m.token.SetBalance(b.Account, &b.Amount)
		}
	}
	if st.Engine != nil {
		if err := eng.Restore(st.Engine); err != nil {
			return nil, fmt.Errorf("state restore failed: %w", err)
		}
		m.logger.InfoContext(ctx, "state_restored",
			"listings", len(st.Engine.Listings),
			"purchases", len(st.Engine.Purchases),
			"accounts", len(st.Balances))
	}
	return m, nil
}

// run executes fn as one platform transaction. The caller holds m.mu.
func (m *Marketplace) run(ctx context.Context, op string, caller common.Address, value *uint256.Int, fn func(engine.Call) error) (err error) {
	timer := prometheus.NewTimer(engineCallDuration.WithLabelValues(op))
	defer timer.ObserveDuration()

	restoreWallet := m.wallet.Checkpoint()
	restoreToken := m.token.Checkpoint()
	defer func() {
		if r := recover(); r != nil {
			restoreWallet()
			restoreToken()
			engineCalls.WithLabelValues(op, "panic").Inc()
			panic(r)
		}
	}()

	call := engine.Call{Caller: caller}
	if value != nil && !value.IsZero() {
		if err := m.wallet.Transfer(caller, m.engine.Address(), value); err != nil {
			engineCalls.WithLabelValues(op, "rejected").Inc()
			return err
		}
		call.Value = value
	}

	if err := fn(call); err != nil {
		restoreWallet()
		restoreToken()
		engineCalls.WithLabelValues(op, "rejected").Inc()
		m.logger.DebugContext(ctx, "engine_call_rejected", "op", op, "caller", caller.Hex(), "error", err)
		return err
	}
	engineCalls.WithLabelValues(op, "ok").Inc()
	m.flush(ctx)
	return nil
}

func (m *Marketplace) do(ctx context.Context, op string, caller common.Address, value *uint256.Int, fn func(engine.Call) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run(ctx, op, caller, value, fn)
}

// flush writes everything committed since the last flush. A failed write is
// kept and retried with the next one; the in-memory state stays
// authoritative.
func (m *Marketplace) flush(ctx context.Context) {
	st := &store.State{Engine: m.engine.Changes()}
	for a, v := range m.wallet.Touched() {
		st.Balances = append(st.Balances, models.AccountBalance{Account: a, Currency: domain.Native, Amount: v})
	}
	for a, v := range m.token.Touched() {
		st.Balances = append(st.Balances, models.AccountBalance{Account: a, Currency: domain.Secondary, Amount: v})
	}
	if m.backlog != nil {
		st = mergeStates(m.backlog, st)
	}
	if err := m.store.Apply(ctx, st); err != nil {
		m.backlog = st
		flushFailures.Inc()
		m.logger.ErrorContext(ctx, "state_flush_failed", "error", err,
			"listings", len(st.Engine.Listings), "purchases", len(st.Engine.Purchases))
		return
	}
	m.backlog = nil
}

func (m *Marketplace) CreateListing(ctx context.Context, caller common.Address, p engine.ListingParams) (id uint64, err error) {
	err = m.do(ctx, "create_listing", caller, nil, func(c engine.Call) error {
		id, err = m.engine.CreateListing(c, p)
		return err
	})
	if err == nil {
		m.logger.InfoContext(ctx, "listing_created", "listing_id", id, "seller", caller.Hex())
	}
	return id, err
}

func (m *Marketplace) UpdateListing(ctx context.Context, caller common.Address, id uint64, p engine.ListingParams) error {
	return m.do(ctx, "update_listing", caller, nil, func(c engine.Call) error {
		return m.engine.UpdateListing(c, id, p)
	})
}

func (m *Marketplace) SetListingStatus(ctx context.Context, caller common.Address, id uint64, status domain.ListingStatus) error {
	return m.do(ctx, "set_listing_status", caller, nil, func(c engine.Call) error {
		return m.engine.SetListingStatus(c, id, status)
	})
}

func (m *Marketplace) DeleteListing(ctx context.Context, caller common.Address, id uint64) error {
	err := m.do(ctx, "delete_listing", caller, nil, func(c engine.Call) error {
		return m.engine.DeleteListing(c, id)
	})
	if err == nil {
		m.logger.InfoContext(ctx, "listing_deleted", "listing_id", id, "seller", caller.Hex())
	}
	return err
}

// PurchaseOrder is a buy request. Value is the native amount attached.
type PurchaseOrder struct {
	ListingID uint64
	Quantity  uint64
	Currency  domain.Currency
	Value     *uint256.Int
}

func (m *Marketplace) Purchase(ctx context.Context, caller common.Address, o PurchaseOrder) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purchase(ctx, caller, o)
}

func (m *Marketplace) purchase(ctx context.Context, caller common.Address, o PurchaseOrder) (id uint64, err error) {
	op := "purchase_" + o.Currency.String()
	err = m.run(ctx, op, caller, o.Value, func(c engine.Call) error {
		switch o.Currency {
		case domain.Native:
			id, err = m.engine.PurchaseWithNative(c, o.ListingID, o.Quantity)
		case domain.Secondary:
			id, err = m.engine.PurchaseWithSecondary(c, o.ListingID, o.Quantity)
		default:
			err = engine.ErrInvalidPaymentMethod
		}
		return err
	})
	if err == nil {
		m.logger.InfoContext(ctx, "purchase_created",
			"purchase_id", id, "listing_id", o.ListingID, "buyer", caller.Hex(),
			"quantity", o.Quantity, "currency", o.Currency.String())
	}
	return id, err
}

// PurchaseOnce is Purchase guarded by a client idempotency key. A repeated
// key with the same request hash returns the original purchase id with
// replay set; a different hash is rejected. If the purchase commits but the
// key cannot be saved, the new id is returned along with ErrKeyNotRecorded.
func (m *Marketplace) PurchaseOnce(ctx context.Context, caller common.Address, key, reqHash string, o PurchaseOrder) (id uint64, replay bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scoped := caller.Hex() + ":" + key
	rec, err := m.store.GetIdempotency(ctx, scoped)
	switch {
	case err == nil:
		if rec.RequestHash != reqHash {
			return 0, false, ErrIdempotencyMismatch
		}
		return rec.PurchaseID, true, nil
	case !errors.Is(err, store.ErrNotFound):
		return 0, false, fmt.Errorf("idempotency query failed: %w", err)
	}

	id, err = m.purchase(ctx, caller, o)
	if err != nil {
		return 0, false, err
	}
	err = m.store.SaveIdempotency(ctx, &models.IdempotencyRecord{
		Key:         scoped,
		RequestHash: reqHash,
		PurchaseID:  id,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "idempotency_save_failed", "key", scoped, "purchase_id", id, "error", err)
		return id, false, fmt.Errorf("purchase %d committed but %w: %v", id, ErrKeyNotRecorded, err)
	}
	return id, false, nil
}

func (m *Marketplace) ConfirmDelivery(ctx context.Context, caller common.Address, purchaseID uint64) error {
	err := m.do(ctx, "confirm_delivery", caller, nil, func(c engine.Call) error {
		return m.engine.ConfirmDelivery(c, purchaseID)
	})
	if err == nil {
		m.logger.InfoContext(ctx, "delivery_confirmed", "purchase_id", purchaseID, "buyer", caller.Hex())
	}
	return err
}

func (m *Marketplace) ClaimAfterTimeout(ctx context.Context, caller common.Address, purchaseID uint64) error {
	err := m.do(ctx, "claim_after_timeout", caller, nil, func(c engine.Call) error {
		return m.engine.ClaimAfterTimeout(c, purchaseID)
	})
	if err == nil {
		m.logger.InfoContext(ctx, "timeout_claimed", "purchase_id", purchaseID, "seller", caller.Hex())
	}
	return err
}

// WithdrawEarnings pays out the caller's earnings, through the emergency
// path when requested.
func (m *Marketplace) WithdrawEarnings(ctx context.Context, caller common.Address, emergency bool) (paid domain.Balance, err error) {
	op := "withdraw_earnings"
	if emergency {
		op = "emergency_withdraw"
	}
	err = m.do(ctx, op, caller, nil, func(c engine.Call) error {
		if emergency {
			paid, err = m.engine.EmergencyWithdraw(c)
		} else {
			paid, err = m.engine.WithdrawEarnings(c)
		}
		return err
	})
	if err == nil {
		m.logger.InfoContext(ctx, "earnings_withdrawn", "account", caller.Hex(),
			"native", paid.Native.Dec(), "secondary", paid.Secondary.Dec(), "emergency", emergency)
	}
	return paid, err
}

func (m *Marketplace) WithdrawFees(ctx context.Context, caller common.Address) (paid domain.Balance, err error) {
	err = m.do(ctx, "withdraw_fees", caller, nil, func(c engine.Call) error {
		paid, err = m.engine.WithdrawFees(c)
		return err
	})
	if err == nil {
		m.logger.InfoContext(ctx, "fees_withdrawn", "owner", caller.Hex(),
			"native", paid.Native.Dec(), "secondary", paid.Secondary.Dec())
	}
	return paid, err
}

func (m *Marketplace) Pause(ctx context.Context, caller common.Address) error {
	err := m.do(ctx, "pause", caller, nil, m.engine.Pause)
	if err == nil {
		m.logger.WarnContext(ctx, "engine_paused", "by", caller.Hex())
	}
	return err
}

func (m *Marketplace) Unpause(ctx context.Context, caller common.Address) error {
	err := m.do(ctx, "unpause", caller, nil, m.engine.Unpause)
	if err == nil {
		m.logger.InfoContext(ctx, "engine_unpaused", "by", caller.Hex())
	}
	return err
}

func (m *Marketplace) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	err := m.do(ctx, "transfer_ownership", caller, nil, func(c engine.Call) error {
		return m.engine.TransferOwnership(c, newOwner)
	})
	if err == nil {
		m.logger.WarnContext(ctx, "ownership_transferred", "from", caller.Hex(), "to", newOwner.Hex())
	}
	return err
}

// Reader is the query surface of the engine.
type Reader interface {
	Address() common.Address
	Owner() common.Address
	Paused() bool
	SecondaryDecimals() uint8
	Listing(id uint64) (domain.Listing, error)
	Purchase(id uint64) (domain.Purchase, error)
	ListingsOf(seller common.Address) []uint64
	PurchasesOf(buyer common.Address) []uint64
	ListingPurchases(listingID uint64) []uint64
	PendingPurchaseCount(listingID uint64) uint64
	EarningsOf(account common.Address) domain.Balance
	PlatformFees() domain.Balance
	IsClaimable(purchaseID uint64) (bool, error)
	ClaimableAt(purchaseID uint64) (int64, error)
	CustodyBalances() domain.Balance
}

// View runs fn against the engine with writers excluded.
func (m *Marketplace) View(fn func(r Reader) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.engine)
}

// Holdings is what an account has on the platform itself.
type Holdings struct {
	Wallet    domain.Balance
	Allowance uint256.Int
}

func (m *Marketplace) Holdings(account common.Address) Holdings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Holdings{
		Wallet: domain.Balance{
			Native:    *m.wallet.BalanceOf(account),
			Secondary: *m.token.BalanceOf(account),
		},
		Allowance: *m.token.Allowance(account, m.engine.Address()),
	}
}

func (m *Marketplace) TokenSymbol() string { return m.token.Symbol() }

// Faucet credits development funds on either currency.
func (m *Marketplace) Faucet(ctx context.Context, account common.Address, native, secondary *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account == m.engine.Address() {
		return engine.ErrDirectTransferNotAccepted
	}
	if native != nil && !native.IsZero() {
		if err := m.wallet.Credit(account, native); err != nil {
			return err
		}
	}
	if secondary != nil && !secondary.IsZero() {
		if err := m.token.Mint(account, secondary); err != nil {
			return err
		}
	}
	m.flush(ctx)
	m.logger.InfoContext(ctx, "faucet_credited", "account", account.Hex(),
		"native", amountString(native), "secondary", amountString(secondary))
	return nil
}

// Approve sets how much of the owner's tokens the engine may pull.
func (m *Marketplace) Approve(ctx context.Context, owner common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount == nil {
		return ErrInvalidAmount
	}
	return m.token.Approve(owner, m.engine.Address(), amount)
}

// TransferNative moves native value between platform accounts. Sends to the
// engine account outside an operation are refused by the engine.
func (m *Marketplace) TransferNative(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if to == m.engine.Address() {
		return m.run(ctx, "receive", from, amount, func(c engine.Call) error {
			return m.engine.Receive(c)
		})
	}
	if err := m.wallet.Transfer(from, to, amount); err != nil {
		return err
	}
	m.flush(ctx)
	return nil
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// mergeStates folds newer changes over an unflushed backlog.
func mergeStates(older, newer *store.State) *store.State {
	out := &store.State{Engine: newer.Engine}
	if older.Engine != nil && newer.Engine != nil {
		out.Engine = mergeSnapshots(older.Engine, newer.Engine)
	} else if newer.Engine == nil {
		out.Engine = older.Engine
	}

	type key struct {
		a common.Address
		c domain.Currency
	}
	seen := make(map[key]int)
	for _, b := range append(append([]models.AccountBalance{}, older.Balances...), newer.Balances...) {
		k := key{b.Account, b.Currency}
		if i, ok := seen[k]; ok {
			out.Balances[i] = b
			continue
		}
		seen[k] = len(out.Balances)
		out.Balances = append(out.Balances, b)
	}
	return out
}

func mergeSnapshots(older, newer *domain.Snapshot) *domain.Snapshot {
	out := *newer
	out.Earnings = make(map[common.Address]domain.Balance, len(older.Earnings)+len(newer.Earnings))
	for a, b := range older.Earnings {
		out.Earnings[a] = b
	}
	for a, b := range newer.Earnings {
		out.Earnings[a] = b
	}

	deleted := make(map[uint64]bool)
	for _, id := range append(append([]uint64{}, older.DeletedListings...), newer.DeletedListings...) {
		deleted[id] = true
	}
	listings := make(map[uint64]domain.Listing)
	for _, l := range append(append([]domain.Listing{}, older.Listings...), newer.Listings...) {
		listings[l.ID] = l
	}
	out.Listings = nil
	out.DeletedListings = nil
	for id, l := range listings {
		if !deleted[id] {
			out.Listings = append(out.Listings, l)
		}
	}
	for id := range deleted {
		out.DeletedListings = append(out.DeletedListings, id)
	}

	purchases := make(map[uint64]domain.Purchase)
	for _, p := range append(append([]domain.Purchase{}, older.Purchases...), newer.Purchases...) {
		purchases[p.ID] = p
	}
	out.Purchases = nil
	for _, p := range purchases {
		out.Purchases = append(out.Purchases, p)
	}
	return &out
}

// ParseAccount reads a hex account identifier.
func ParseAccount(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid account %q", s)
	}
	a := common.HexToAddress(s)
	if a == (common.Address{}) {
		return common.Address{}, fmt.Errorf("invalid account %q", s)
	}
	return a, nil
}
