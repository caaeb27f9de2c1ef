package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"dework/core"
	"dework/crypto"
	"dework/native/deposit"
	"dework/store"
)

const maxBodyBytes = 64 << 10

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps engine error kinds onto HTTP statuses.
func statusFor(err error) (int, deposit.Kind) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, deposit.KindValidation
	case errors.Is(err, core.ErrFaucetDisabled):
		return http.StatusNotFound, deposit.KindNotFound
	case errors.Is(err, store.ErrIdempotencyMismatch):
		return http.StatusUnprocessableEntity, deposit.KindConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, deposit.KindNotFound
	}
	kind := deposit.Classify(err)
	switch kind {
	case deposit.KindValidation:
		return http.StatusBadRequest, kind
	case deposit.KindAuthorization:
		return http.StatusForbidden, kind
	case deposit.KindTiming, deposit.KindConflict:
		return http.StatusConflict, kind
	case deposit.KindNotFound:
		return http.StatusNotFound, kind
	default:
		return http.StatusInternalServerError, deposit.KindInternal
	}
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: message, Kind: string(kind)})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}

func positionID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("invalid position id %q", raw)
	}
	return id, nil
}

func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() <= 0 {
		return nil, badRequest("amount must be a positive integer in base units")
	}
	return value, nil
}

func parseAddress(raw, field string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return crypto.Address{}, badRequest("%s: %v", field, err)
	}
	return addr, nil
}

type positionView struct {
	ID                   uint64 `json:"id"`
	Tenant               string `json:"tenant"`
	Landlord             string `json:"landlord"`
	Principal            string `json:"principal"`
	Shares               string `json:"shares"`
	InterestSharePercent uint8  `json:"interestSharePercent"`
	StartTime            uint64 `json:"startTime"`
	EndTime              uint64 `json:"endTime"`
	ReleaseTime          uint64 `json:"releaseTime"`
	Status               string `json:"status"`
	Active               bool   `json:"active"`
	InDispute            bool   `json:"inDispute"`
	MetadataURI          string `json:"metadataUri,omitempty"`
	VerifiedAtCreation   bool   `json:"verifiedAtCreation"`
	SettledAt            uint64 `json:"settledAt,omitempty"`
	SettlementPath       string `json:"settlementPath,omitempty"`
}

func newPositionView(p *deposit.Position) positionView {
	return positionView{
		ID:                   p.ID,
		Tenant:               p.Tenant.Hex(),
		Landlord:             p.Landlord.Hex(),
		Principal:            bigString(p.Principal),
		Shares:               bigString(p.Shares),
		InterestSharePercent: p.InterestSharePercent,
		StartTime:            p.StartTime,
		EndTime:              p.EndTime,
		ReleaseTime:          p.ReleaseTime,
		Status:               p.Status(),
		Active:               p.Active,
		InDispute:            p.InDispute,
		MetadataURI:          p.MetadataURI,
		VerifiedAtCreation:   p.VerifiedAtCreation,
		SettledAt:            p.SettledAt,
		SettlementPath:       p.SettlementPath,
	}
}

type settlementView struct {
	PositionID     uint64 `json:"positionId"`
	Path           string `json:"path"`
	Principal      string `json:"principal"`
	Value          string `json:"value"`
	Fee            string `json:"fee"`
	TenantAmount   string `json:"tenantAmount"`
	LandlordAmount string `json:"landlordAmount"`
	SettledAt      uint64 `json:"settledAt"`
}

func newSettlementView(s *deposit.Settlement) settlementView {
	return settlementView{
		PositionID:     s.PositionID,
		Path:           string(s.Path),
		Principal:      bigString(s.Principal),
		Value:          bigString(s.Value),
		Fee:            bigString(s.Fee),
		TenantAmount:   bigString(s.TenantAmount),
		LandlordAmount: bigString(s.LandlordAmount),
		SettledAt:      s.SettledAt,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
