package token

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	escrow = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

func TestTransferFromConsumesAllowance(t *testing.T) {
	l := NewLedger("USDX", 6)
	require.NoError(t, l.Mint(alice, uint256.NewInt(1_000)))
	require.NoError(t, l.Approve(alice, escrow, uint256.NewInt(600)))

	h := l.As(escrow)
	require.NoError(t, h.TransferFrom(alice, escrow, uint256.NewInt(400)))
	require.Equal(t, uint64(600), l.BalanceOf(alice).Uint64())
	require.Equal(t, uint64(400), l.BalanceOf(escrow).Uint64())
	require.Equal(t, uint64(200), l.Allowance(alice, escrow).Uint64())

	require.ErrorIs(t, h.TransferFrom(alice, escrow, uint256.NewInt(201)), ErrInsufficientAllowance)
}

func TestTransferFailures(t *testing.T) {
	l := NewLedger("USDX", 6)
	require.NoError(t, l.Mint(alice, uint256.NewInt(10)))

	require.ErrorIs(t, l.Transfer(alice, bob, uint256.NewInt(11)), ErrInsufficientBalance)
	require.ErrorIs(t, l.Transfer(alice, common.Address{}, uint256.NewInt(1)), ErrZeroAddress)

	l.Block(bob, true)
	require.ErrorIs(t, l.Transfer(alice, bob, uint256.NewInt(1)), ErrRecipientBlocked)
	l.Block(bob, false)
	require.NoError(t, l.Transfer(alice, bob, uint256.NewInt(1)))
}

func TestCheckpointRestore(t *testing.T) {
	l := NewLedger("USDX", 6)
	require.NoError(t, l.Mint(alice, uint256.NewInt(50)))
	require.NoError(t, l.Approve(alice, escrow, uint256.NewInt(50)))

	restore := l.Checkpoint()
	require.NoError(t, l.As(escrow).TransferFrom(alice, escrow, uint256.NewInt(50)))
	restore()

	require.Equal(t, uint64(50), l.BalanceOf(alice).Uint64())
	require.True(t, l.BalanceOf(escrow).IsZero())
	require.Equal(t, uint64(50), l.Allowance(alice, escrow).Uint64())
}
