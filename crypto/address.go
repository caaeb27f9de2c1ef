package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Address identifies a wallet or module account. Parties interact through
// EVM-style wallets so the 20-byte hex form is canonical.
type Address = common.Address

// ZeroAddress is the unset address.
var ZeroAddress Address

// Bech32HRP is the human-readable prefix of the bech32 account form.
const Bech32HRP = "dw"

// ParseAddress decodes a 0x-prefixed hex address or its dw1... bech32 form.
// The zero address is rejected because it can never sign.
func ParseAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	var addr Address
	switch {
	case common.IsHexAddress(trimmed):
		addr = common.HexToAddress(trimmed)
	case strings.HasPrefix(strings.ToLower(trimmed), Bech32HRP+"1"):
		decoded, err := parseBech32(trimmed)
		if err != nil {
			return Address{}, err
		}
		addr = decoded
	default:
		return Address{}, fmt.Errorf("invalid address %q", raw)
	}
	if addr == ZeroAddress {
		return Address{}, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}

func parseBech32(raw string) (Address, error) {
	var out Address
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return out, fmt.Errorf("decode bech32 account: %w", err)
	}
	if hrp != Bech32HRP {
		return out, fmt.Errorf("decode bech32 account: unsupported hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return out, fmt.Errorf("decode bech32 account: %w", err)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("decode bech32 account: invalid address length %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// FormatBech32 renders addr in its dw1... form.
func FormatBech32(addr Address) (string, error) {
	data, err := bech32.ConvertBits(addr.Bytes(), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(Bech32HRP, data)
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(raw string) Address {
	addr, err := ParseAddress(raw)
	if err != nil {
		panic(err)
	}
	return addr
}

// ModuleAddress derives the custody address of a native module. No private
// key exists for it, so funds can only move through module logic.
func ModuleAddress(name string) Address {
	hash := ethcrypto.Keccak256([]byte("dework/module/" + strings.ToLower(strings.TrimSpace(name))))
	return common.BytesToAddress(hash[12:])
}

// Keccak256 exposes the hash used for state keys and identifiers.
func Keccak256(data ...[]byte) []byte {
	return ethcrypto.Keccak256(data...)
}
