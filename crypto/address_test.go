package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(" 0x00000000000000000000000000000000000000aa ")
	require.NoError(t, err)
	require.Equal(t, byte(0xaa), addr[19])

	_, err = ParseAddress("0x1234")
	require.Error(t, err)

	_, err = ParseAddress("0x0000000000000000000000000000000000000000")
	require.Error(t, err)
}

func TestModuleAddressIsStableAndDistinct(t *testing.T) {
	require.Equal(t, ModuleAddress("deposit"), ModuleAddress(" Deposit "))
	require.NotEqual(t, ModuleAddress("deposit"), ModuleAddress("pool"))
	require.NotEqual(t, ZeroAddress, ModuleAddress("pool"))
}

func TestBech32Form(t *testing.T) {
	addr := ModuleAddress("test/tenant")
	encoded, err := FormatBech32(addr)
	require.NoError(t, err)
	require.Contains(t, encoded, Bech32HRP+"1")

	parsed, err := ParseAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, addr, parsed)

	corrupted := []byte(encoded)
	if corrupted[len(corrupted)-1] == 'q' {
		corrupted[len(corrupted)-1] = 'p'
	} else {
		corrupted[len(corrupted)-1] = 'q'
	}
	_, err = ParseAddress(string(corrupted))
	require.Error(t, err)
}
