package routes

import (
	"net/http"
	"strconv"
	"strings"

	"dework/integrations/exports"
	"dework/native/deposit"
)

type openRequest struct {
	Landlord             string `json:"landlord"`
	Principal            string `json:"principal"`
	DurationSeconds      uint64 `json:"durationSeconds"`
	MetadataURI          string `json:"metadataUri"`
	InterestSharePercent uint8  `json:"interestSharePercent"`
}

func (a *api) openPosition(w http.ResponseWriter, r *http.Request) {
	a.idempotent(w, r, func(body []byte) (int, any, error) {
		var req openRequest
		if err := decodeRaw(body, &req); err != nil {
			return 0, nil, err
		}
		landlord, err := parseAddress(req.Landlord, "landlord")
		if err != nil {
			return 0, nil, err
		}
		principal, err := parseAmount(req.Principal)
		if err != nil {
			return 0, nil, err
		}
		pos, err := a.node.Open(r.Context(), deposit.OpenRequest{
			Tenant:                caller(r),
			Landlord:              landlord,
			Principal:             principal,
			DurationSeconds:       req.DurationSeconds,
			MetadataURI:           strings.TrimSpace(req.MetadataURI),
			RequestedSharePercent: req.InterestSharePercent,
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, newPositionView(pos), nil
	})
}

func (a *api) getPosition(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	pos, err := a.node.Position(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionView(pos))
}

func (a *api) positionValue(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	value, err := a.node.CurrentValue(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "value": value.String()})
}

// listPositions returns the caller's active positions as tenant or landlord.
// Admins see every active position.
func (a *api) listPositions(w http.ResponseWriter, r *http.Request) {
	active, err := a.node.ActivePositions()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	params, err := a.node.Params()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	who := caller(r)
	out := make([]positionView, 0, len(active))
	for _, pos := range active {
		if who == params.Admin || pos.Tenant == who || pos.Landlord == who {
			out = append(out, newPositionView(pos))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

type settleFunc func(r *http.Request, id uint64) (*deposit.Settlement, error)

func (a *api) settleRoute(w http.ResponseWriter, r *http.Request, fn settleFunc) {
	id, err := positionID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	settlement, err := fn(r, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementView(settlement))
}

func (a *api) normalEnd(w http.ResponseWriter, r *http.Request) {
	a.settleRoute(w, r, func(r *http.Request, id uint64) (*deposit.Settlement, error) {
		return a.node.NormalEnd(caller(r), id)
	})
}

func (a *api) release(w http.ResponseWriter, r *http.Request) {
	a.settleRoute(w, r, func(r *http.Request, id uint64) (*deposit.Settlement, error) {
		return a.node.SettleIfDue(caller(r), id)
	})
}

func (a *api) terminateEarly(w http.ResponseWriter, r *http.Request) {
	a.settleRoute(w, r, func(r *http.Request, id uint64) (*deposit.Settlement, error) {
		return a.node.TerminateEarly(caller(r), id)
	})
}

type resolveRequest struct {
	FavorTenant *bool `json:"favorTenant"`
}

func (a *api) resolveDispute(w http.ResponseWriter, r *http.Request) {
	a.settleRoute(w, r, func(r *http.Request, id uint64) (*deposit.Settlement, error) {
		var req resolveRequest
		if err := decodeBody(w, r, &req); err != nil {
			return nil, err
		}
		if req.FavorTenant == nil {
			return nil, badRequest("favorTenant required")
		}
		return a.node.ResolveDispute(caller(r), id, *req.FavorTenant)
	})
}

type mutateFunc func(r *http.Request, id uint64) (*deposit.Position, error)

func (a *api) mutateRoute(w http.ResponseWriter, r *http.Request, fn mutateFunc) {
	id, err := positionID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	pos, err := fn(r, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionView(pos))
}

func (a *api) raiseDispute(w http.ResponseWriter, r *http.Request) {
	a.mutateRoute(w, r, func(r *http.Request, id uint64) (*deposit.Position, error) {
		return a.node.RaiseDispute(caller(r), id)
	})
}

type shareRequest struct {
	Percent *uint8 `json:"percent"`
}

func (a *api) updateShare(w http.ResponseWriter, r *http.Request) {
	a.mutateRoute(w, r, func(r *http.Request, id uint64) (*deposit.Position, error) {
		var req shareRequest
		if err := decodeBody(w, r, &req); err != nil {
			return nil, err
		}
		if req.Percent == nil {
			return nil, badRequest("percent required")
		}
		return a.node.UpdateInterestShare(caller(r), id, *req.Percent)
	})
}

type metadataRequest struct {
	URI string `json:"uri"`
}

func (a *api) updateMetadata(w http.ResponseWriter, r *http.Request) {
	a.mutateRoute(w, r, func(r *http.Request, id uint64) (*deposit.Position, error) {
		var req metadataRequest
		if err := decodeBody(w, r, &req); err != nil {
			return nil, err
		}
		return a.node.UpdateMetadata(caller(r), id, strings.TrimSpace(req.URI))
	})
}

type poolView struct {
	Venue        string `json:"venue"`
	TotalNominal string `json:"totalNominal"`
	TotalShares  string `json:"totalShares"`
	TotalValue   string `json:"totalValue"`
	APYBps       uint64 `json:"apyBps"`
	Drained      bool   `json:"drained"`
	Paused       bool   `json:"paused"`
}

func (a *api) poolSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.node.PoolSnapshot()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	paused, err := a.node.Paused()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poolView{
		Venue:        snap.Venue,
		TotalNominal: bigString(snap.TotalNominal),
		TotalShares:  bigString(snap.TotalShares),
		TotalValue:   bigString(snap.TotalValue),
		APYBps:       snap.APYBps,
		Drained:      snap.Drained,
		Paused:       paused,
	})
}

const (
	maxReceipts    = 100
	headerChecksum = "X-Content-SHA256"
)

func (a *api) receipts(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "receipt index disabled"})
		return
	}
	limit := maxReceipts
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxReceipts {
			a.writeError(w, r, badRequest("limit must be an integer between 1 and %d", maxReceipts))
			return
		}
		limit = parsed
	}
	out, err := a.store.ReceiptsFor(r.Context(), caller(r).Hex(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, map[string]any{"receipts": out})
	case "csv", "jsonl":
		render, contentType := exports.ReceiptsCSV, "text/csv"
		if format == "jsonl" {
			render, contentType = exports.ReceiptsJSONL, "application/x-ndjson"
		}
		data, checksum, err := render(out)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set(headerChecksum, checksum)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		a.writeError(w, r, badRequest("unsupported format %q", format))
	}
}
