package routes

import (
	"net/http"
	"strings"
)

type paramsView struct {
	Admin                string `json:"admin"`
	Treasury             string `json:"treasury"`
	Keeper               string `json:"keeper"`
	PlatformFeePercent   uint8  `json:"platformFeePercent"`
	DisputeWindowSeconds uint64 `json:"disputeWindowSeconds"`
	IdentityRequired     bool   `json:"identityRequired"`
	Paused               bool   `json:"paused"`
}

func (a *api) params(w http.ResponseWriter, r *http.Request) {
	params, err := a.node.Params()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	paused, err := a.node.Paused()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsView{
		Admin:                params.Admin.Hex(),
		Treasury:             params.Treasury.Hex(),
		Keeper:               params.Keeper.Hex(),
		PlatformFeePercent:   params.PlatformFeePercent,
		DisputeWindowSeconds: params.DisputeWindowSeconds,
		IdentityRequired:     params.IdentityRequired,
		Paused:               paused,
	})
}

// adminRoute decodes the body into req, runs fn and answers with the
// current parameters.
func adminRoute[T any](a *api, fn func(r *http.Request, req *T) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req T
		if err := decodeBody(w, r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
		if err := fn(r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
		a.params(w, r)
	}
}

type feeRequest struct {
	Percent *uint8 `json:"percent"`
}

func (a *api) setFee(w http.ResponseWriter, r *http.Request) {
	adminRoute(a, func(r *http.Request, req *feeRequest) error {
		if req.Percent == nil {
			return badRequest("percent required")
		}
		return a.node.SetPlatformFeePercent(caller(r), *req.Percent)
	})(w, r)
}

type windowRequest struct {
	Seconds uint64 `json:"seconds"`
}

func (a *api) setDisputeWindow(w http.ResponseWriter, r *http.Request) {
	adminRoute(a, func(r *http.Request, req *windowRequest) error {
		return a.node.SetDisputeWindow(caller(r), req.Seconds)
	})(w, r)
}

type identityRequest struct {
	Required *bool `json:"required"`
}

func (a *api) setIdentityRequired(w http.ResponseWriter, r *http.Request) {
	adminRoute(a, func(r *http.Request, req *identityRequest) error {
		if req.Required == nil {
			return badRequest("required must be set")
		}
		return a.node.SetIdentityRequired(caller(r), *req.Required)
	})(w, r)
}

type addressRequest struct {
	Address string `json:"address"`
}

func (a *api) setTreasury(w http.ResponseWriter, r *http.Request) {
	adminRoute(a, func(r *http.Request, req *addressRequest) error {
		addr, err := parseAddress(req.Address, "address")
		if err != nil {
			return err
		}
		return a.node.SetTreasury(caller(r), addr)
	})(w, r)
}

func (a *api) setKeeper(w http.ResponseWriter, r *http.Request) {
	adminRoute(a, func(r *http.Request, req *addressRequest) error {
		addr, err := parseAddress(req.Address, "address")
		if err != nil {
			return err
		}
		return a.node.SetKeeper(caller(r), addr)
	})(w, r)
}

type pauseRequest struct {
	Paused *bool `json:"paused"`
}

func (a *api) setPaused(w http.ResponseWriter, r *http.Request) {
	adminRoute(a, func(r *http.Request, req *pauseRequest) error {
		if req.Paused == nil {
			return badRequest("paused must be set")
		}
		return a.node.SetPaused(caller(r), *req.Paused)
	})(w, r)
}

type migrateRequest struct {
	Venue string `json:"venue"`
}

func (a *api) migrateVenue(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	venue := strings.TrimSpace(req.Venue)
	if venue == "" {
		a.writeError(w, r, badRequest("venue required"))
		return
	}
	if err := a.node.MigrateYieldVenue(caller(r), venue); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.poolSnapshot(w, r)
}

type drainRequest struct {
	To string `json:"to"`
}

func (a *api) drain(w http.ResponseWriter, r *http.Request) {
	var req drainRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	amount, err := a.node.EmergencyDrain(caller(r), to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.WarnContext(r.Context(), "pool drained", "to", to.Hex(), "amount", amount.String())
	writeJSON(w, http.StatusOK, map[string]string{"to": to.Hex(), "amount": amount.String()})
}
