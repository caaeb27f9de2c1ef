// Package identity answers whether a tenant passed proof-of-personhood.
package identity

import (
	"context"
	"errors"

	"dework/crypto"
)

// Gate reports whether an address is verified.
type Gate interface {
	IsVerified(ctx context.Context, addr crypto.Address) (bool, error)
}

// AnyGate is verified when any member is. Member errors are returned only if
// no member verified the address.
type AnyGate []Gate

func (g AnyGate) IsVerified(ctx context.Context, addr crypto.Address) (bool, error) {
	var errs []error
	for _, gate := range g {
		if gate == nil {
			continue
		}
		ok, err := gate.IsVerified(ctx, addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}
