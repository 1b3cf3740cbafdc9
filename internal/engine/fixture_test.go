package engine

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/events"
	"github.com/punchamoorthee/escrowledger/internal/token"
	"github.com/punchamoorthee/escrowledger/internal/wallet"
)

const startTime = int64(1_700_000_000)

var (
	ownerAddr  = common.HexToAddress("0x000000000000000000000000000000000000000a")
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	sellerAddr = common.HexToAddress("0x0000000000000000000000000000000000000005")
	buyerAddr  = common.HexToAddress("0x000000000000000000000000000000000000000b")
	otherAddr  = common.HexToAddress("0x000000000000000000000000000000000000000c")
)

type fixture struct {
	e   *Engine
	tok *token.Ledger
	wal *wallet.Ledger
	rec *events.Recorder
	now int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tok: token.NewLedger("USDX", 6),
		wal: wallet.NewLedger(),
		rec: &events.Recorder{},
		now: startTime,
	}
	e, err := New(Config{
		Address: engineAddr,
		Owner:   ownerAddr,
		Token:   f.tok.As(engineAddr),
		Bank:    f.wal.Payer(engineAddr),
		Emitter: f.rec,
	})
	require.NoError(t, err)
	e.SetNowFunc(func() int64 { return f.now })
	f.e = e

	for _, a := range []common.Address{buyerAddr, otherAddr, sellerAddr} {
		require.NoError(t, f.wal.Credit(a, uint256.NewInt(1_000_000)))
		require.NoError(t, f.tok.Mint(a, uint256.NewInt(1_000_000)))
		require.NoError(t, f.tok.Approve(a, engineAddr, uint256.NewInt(1_000_000)))
	}
	return f
}

func call(who common.Address) Call { return Call{Caller: who} }

func nativeParams(price, qty uint64) ListingParams {
	return ListingParams{
		PriceNative:   *uint256.NewInt(price),
		Quantity:      qty,
		Metadata:      "ipfs://item",
		AcceptsNative: true,
	}
}

func dualParams(priceNative, priceSecondary, qty uint64) ListingParams {
	p := nativeParams(priceNative, qty)
	p.PriceSecondary = *uint256.NewInt(priceSecondary)
	p.AcceptsSecondary = true
	return p
}

func (f *fixture) list(t *testing.T, p ListingParams) uint64 {
	t.Helper()
	id, err := f.e.CreateListing(call(sellerAddr), p)
	require.NoError(t, err)
	return id
}

// buyNative plays the platform: value moves into custody before the call and
// back out if the call fails.
func (f *fixture) buyNative(who common.Address, listingID, qty, value uint64) (uint64, error) {
	restore := f.wal.Checkpoint()
	v := uint256.NewInt(value)
	if err := f.wal.Transfer(who, engineAddr, v); err != nil {
		return 0, err
	}
	id, err := f.e.PurchaseWithNative(Call{Caller: who, Value: v}, listingID, qty)
	if err != nil {
		restore()
	}
	return id, err
}

func (f *fixture) mustBuyNative(t *testing.T, listingID, qty, value uint64) uint64 {
	t.Helper()
	id, err := f.buyNative(buyerAddr, listingID, qty, value)
	require.NoError(t, err)
	return id
}

func (f *fixture) listing(t *testing.T, id uint64) domain.Listing {
	t.Helper()
	l, err := f.e.Listing(id)
	require.NoError(t, err)
	return l
}

func (f *fixture) purchase(t *testing.T, id uint64) domain.Purchase {
	t.Helper()
	p, err := f.e.Purchase(id)
	require.NoError(t, err)
	return p
}

func u(v uint64) uint256.Int { return *uint256.NewInt(v) }
