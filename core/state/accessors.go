package state

import (
	"fmt"
	"math/big"

	"dework/crypto"
)

var (
	tokenBalancePrefix   = []byte("token/balance/")
	tokenAllowancePrefix = []byte("token/allowance/")
	counterPrefix        = []byte("counter/")
	pausePrefix          = []byte("pause/")
	indexPrefix          = []byte("index/")
)

func prefixed(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p) + 1
	}
	key := make([]byte, 0, size)
	key = append(key, prefix...)
	for i, p := range parts {
		if i > 0 {
			key = append(key, '/')
		}
		key = append(key, p...)
	}
	return key
}

func (tx *Tx) getBig(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := tx.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (tx *Tx) putBig(key []byte, value *big.Int) error {
	if value == nil || value.Sign() == 0 {
		return tx.KVDelete(key)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("state: negative amount for %q", key)
	}
	return tx.KVPut(key, value)
}

// TokenBalance returns the deposit-token balance of addr. Absent accounts hold zero.
func (tx *Tx) TokenBalance(addr crypto.Address) (*big.Int, error) {
	return tx.getBig(prefixed(tokenBalancePrefix, addr.Bytes()))
}

// SetTokenBalance overwrites the deposit-token balance of addr.
func (tx *Tx) SetTokenBalance(addr crypto.Address, amount *big.Int) error {
	return tx.putBig(prefixed(tokenBalancePrefix, addr.Bytes()), amount)
}

// TokenAllowance returns how much spender may move on behalf of owner.
func (tx *Tx) TokenAllowance(owner, spender crypto.Address) (*big.Int, error) {
	return tx.getBig(prefixed(tokenAllowancePrefix, owner.Bytes(), spender.Bytes()))
}

// SetTokenAllowance overwrites the allowance granted by owner to spender.
func (tx *Tx) SetTokenAllowance(owner, spender crypto.Address, amount *big.Int) error {
	return tx.putBig(prefixed(tokenAllowancePrefix, owner.Bytes(), spender.Bytes()), amount)
}

// Counter returns the named counter, zero when unset.
func (tx *Tx) Counter(name string) (uint64, error) {
	var value uint64
	if _, err := tx.KVGet(prefixed(counterPrefix, []byte(name)), &value); err != nil {
		return 0, err
	}
	return value, nil
}

// SetCounter overwrites the named counter.
func (tx *Tx) SetCounter(name string, value uint64) error {
	return tx.KVPut(prefixed(counterPrefix, []byte(name)), value)
}

// NextSequence increments the named counter and returns the new value, so the
// first call yields 1.
func (tx *Tx) NextSequence(name string) (uint64, error) {
	current, err := tx.Counter(name)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if next == 0 {
		return 0, fmt.Errorf("state: counter %q overflow", name)
	}
	if err := tx.SetCounter(name, next); err != nil {
		return 0, err
	}
	return next, nil
}

// IsPaused reports whether the module has been paused. Read failures are
// reported as paused so guarded entry points fail closed.
func (tx *Tx) IsPaused(module string) bool {
	var paused bool
	if _, err := tx.KVGet(prefixed(pausePrefix, []byte(module)), &paused); err != nil {
		return true
	}
	return paused
}

// SetPaused toggles the pause flag of a module.
func (tx *Tx) SetPaused(module string, paused bool) error {
	key := prefixed(pausePrefix, []byte(module))
	if !paused {
		return tx.KVDelete(key)
	}
	return tx.KVPut(key, true)
}

// IndexMembers returns the ordered identifiers stored in the named index.
func (tx *Tx) IndexMembers(name string) ([]uint64, error) {
	var members []uint64
	if _, err := tx.KVGet(prefixed(indexPrefix, []byte(name)), &members); err != nil {
		return nil, err
	}
	return members, nil
}

// IndexAdd appends id to the named index unless it is already present.
func (tx *Tx) IndexAdd(name string, id uint64) error {
	members, err := tx.IndexMembers(name)
	if err != nil {
		return err
	}
	for _, existing := range members {
		if existing == id {
			return nil
		}
	}
	members = append(members, id)
	return tx.KVPut(prefixed(indexPrefix, []byte(name)), members)
}

// IndexRemove drops id from the named index, preserving the order of the rest.
func (tx *Tx) IndexRemove(name string, id uint64) error {
	members, err := tx.IndexMembers(name)
	if err != nil {
		return err
	}
	filtered := members[:0]
	for _, existing := range members {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	key := prefixed(indexPrefix, []byte(name))
	if len(filtered) == 0 {
		return tx.KVDelete(key)
	}
	return tx.KVPut(key, filtered)
}
