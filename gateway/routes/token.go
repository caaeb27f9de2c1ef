package routes

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"dework/gateway/middleware"
	"dework/native/deposit"
)

type approveRequest struct {
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

// approve defaults the spender to the registry custody address.
func (a *api) approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	spender := deposit.ModuleAddress()
	if strings.TrimSpace(req.Spender) != "" {
		parsed, err := parseAddress(req.Spender, "spender")
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		spender = parsed
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	owner := caller(r)
	if err := a.node.Approve(owner, spender, amount); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": amount.String(),
	})
}

func (a *api) balance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"), "address")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	balance, err := a.node.BalanceOf(addr)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	allowance, err := a.node.Allowance(addr, deposit.ModuleAddress())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address":           addr.Hex(),
		"symbol":            a.node.Symbol(),
		"balance":           balance.String(),
		"registryAllowance": allowance.String(),
	})
}

type faucetRequest struct {
	Amount string `json:"amount"`
}

func (a *api) faucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	to := caller(r)
	if err := a.node.Faucet(to, amount); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"to": to.Hex(), "amount": amount.String()})
}

// revokeToken invalidates the bearer token presented with the request.
func (a *api) revokeToken(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFrom(r.Context())
	if principal.TokenID == "" {
		a.writeError(w, r, badRequest("token has no id"))
		return
	}
	if err := a.revoke.Revoke(principal.TokenID, principal.ExpiresAt); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"revoked": principal.TokenID})
}
