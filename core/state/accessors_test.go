package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"dework/crypto"
	"dework/storage"
)

func TestTokenAccessors(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	tx, err := mgr.Begin()
	require.NoError(t, err)
	defer tx.Discard()

	alice := crypto.ModuleAddress("alice")
	bob := crypto.ModuleAddress("bob")

	bal, err := tx.TokenBalance(alice)
	require.NoError(t, err)
	require.Zero(t, bal.Sign())

	require.NoError(t, tx.SetTokenBalance(alice, big.NewInt(1_000_000)))
	require.NoError(t, tx.SetTokenAllowance(alice, bob, big.NewInt(250)))

	bal, err = tx.TokenBalance(alice)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), bal.Int64())

	allowance, err := tx.TokenAllowance(alice, bob)
	require.NoError(t, err)
	require.Equal(t, int64(250), allowance.Int64())

	allowance, err = tx.TokenAllowance(bob, alice)
	require.NoError(t, err)
	require.Zero(t, allowance.Sign())

	require.Error(t, tx.SetTokenBalance(alice, big.NewInt(-1)))
}

func TestSequenceAndIndex(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	tx, err := mgr.Begin()
	require.NoError(t, err)
	defer tx.Discard()

	first, err := tx.NextSequence("positions")
	require.NoError(t, err)
	second, err := tx.NextSequence("positions")
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)
	require.Equal(t, uint64(2), second)

	require.NoError(t, tx.IndexAdd("active", 1))
	require.NoError(t, tx.IndexAdd("active", 2))
	require.NoError(t, tx.IndexAdd("active", 2))
	require.NoError(t, tx.IndexAdd("active", 3))
	require.NoError(t, tx.IndexRemove("active", 2))

	members, err := tx.IndexMembers("active")
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 3}, members)
}

func TestPauseFlags(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	tx, err := mgr.Begin()
	require.NoError(t, err)
	defer tx.Discard()

	require.False(t, tx.IsPaused("deposit"))
	require.NoError(t, tx.SetPaused("deposit", true))
	require.True(t, tx.IsPaused("deposit"))
	require.False(t, tx.IsPaused("pool"))
	require.NoError(t, tx.SetPaused("deposit", false))
	require.False(t, tx.IsPaused("deposit"))
}
