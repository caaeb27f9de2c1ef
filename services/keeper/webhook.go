package keeper

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	HeaderSignature     = "X-Nodit-Signature"
	maxWebhookBodyBytes = 1 << 20
	maxIDsPerDelivery   = 256
)

// WebhookPayload is the body of a settlement trigger. Nodit delivers its
// scheduled notification with the position ids attached.
type WebhookPayload struct {
	EventType   string   `json:"eventType,omitempty"`
	PositionIDs []uint64 `json:"positionIds"`
}

// WebhookResponse carries one outcome per delivered id.
type WebhookResponse struct {
	Results []Outcome `json:"results"`
}

// WebhookHandler authenticates Nodit deliveries and settles the listed ids.
type WebhookHandler struct {
	keeper *Keeper
	secret []byte
}

// NewWebhookHandler requires a non-empty shared secret.
func NewWebhookHandler(k *Keeper, secret string) (*WebhookHandler, error) {
	if k == nil {
		return nil, errors.New("keeper: keeper required")
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("keeper: webhook secret required")
	}
	return &WebhookHandler{keeper: k, secret: []byte(secret)}, nil
}

// Sign computes the hex signature a sender attaches to body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 of body. An optional 0x or
// sha256= prefix is tolerated.
func VerifySignature(secret []byte, body []byte, provided string) bool {
	cleaned := strings.ToLower(strings.TrimSpace(provided))
	cleaned = strings.TrimPrefix(cleaned, "sha256=")
	cleaned = strings.TrimPrefix(cleaned, "0x")
	if cleaned == "" || len(secret) == 0 {
		return false
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reader := http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(reader)
	_ = r.Body.Close()
	if err != nil {
		h.reject(w, r, http.StatusBadRequest, "bad_body", fmt.Errorf("read webhook: %w", err))
		return
	}
	if !VerifySignature(h.secret, body, r.Header.Get(HeaderSignature)) {
		h.reject(w, r, http.StatusUnauthorized, "bad_signature", errors.New("invalid webhook signature"))
		return
	}
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.reject(w, r, http.StatusBadRequest, "bad_body", fmt.Errorf("decode webhook: %w", err))
		return
	}
	if len(payload.PositionIDs) == 0 {
		h.reject(w, r, http.StatusBadRequest, "bad_body", errors.New("positionIds required"))
		return
	}
	if len(payload.PositionIDs) > maxIDsPerDelivery {
		h.reject(w, r, http.StatusRequestEntityTooLarge, "bad_body", fmt.Errorf("at most %d ids per delivery", maxIDsPerDelivery))
		return
	}
	seen := make(map[uint64]struct{}, len(payload.PositionIDs))
	resp := WebhookResponse{Results: make([]Outcome, 0, len(payload.PositionIDs))}
	for _, id := range payload.PositionIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		resp.Results = append(resp.Results, h.keeper.Settle(SourceWebhook, id))
	}
	h.keeper.metrics.IncWebhook("accepted")
	h.keeper.logger.InfoContext(r.Context(), "webhook processed",
		slog.String("event_type", payload.EventType),
		slog.Int("ids", len(resp.Results)),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (h *WebhookHandler) reject(w http.ResponseWriter, r *http.Request, status int, outcome string, err error) {
	h.keeper.metrics.IncWebhook(outcome)
	h.keeper.logger.WarnContext(r.Context(), "webhook rejected", slog.Int("status", status), slog.Any("error", err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
