package keeper

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"dework/core/nodetest"
	"dework/crypto"
	"dework/observability/logging"
)

const secret = "nodit-secret"

func newKeeper(t *testing.T) (*nodetest.Fixture, *Keeper) {
	t.Helper()
	fx := nodetest.New(t)
	k, err := New(fx.Node, fx.Keeper, logging.Discard())
	require.NoError(t, err)
	return fx, k
}

func deliver(t *testing.T, h http.Handler, body []byte, signature string) (*httptest.ResponseRecorder, WebhookResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hooks/nodit", bytes.NewReader(body))
	req.Header.Set(HeaderSignature, signature)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp WebhookResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestWebhookSettlesDuePositions(t *testing.T) {
	fx, k := newKeeper(t)
	due := fx.Open(t, 1000*nodetest.USDC, 30, 50)
	early := fx.Open(t, 1000*nodetest.USDC, 90, 50)
	fx.Clock.Advance(38 * nodetest.Day)

	handler, err := NewWebhookHandler(k, secret)
	require.NoError(t, err)

	body, err := json.Marshal(WebhookPayload{EventType: "SCHEDULED", PositionIDs: []uint64{due.ID, early.ID, due.ID}})
	require.NoError(t, err)
	rec, resp := deliver(t, handler, body, Sign(secret, body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Results, 2)

	require.Equal(t, "settled", resp.Results[0].Status)
	require.Equal(t, "scheduled_release", resp.Results[0].Path)
	require.Equal(t, "rejected", resp.Results[1].Status)
	require.Equal(t, "timing", resp.Results[1].Kind)

	pos, err := fx.Node.Position(early.ID)
	require.NoError(t, err)
	require.True(t, pos.Active)

	// A redelivery is answered without moving funds again.
	before := fx.Balance(t, fx.Landlord)
	rec, resp = deliver(t, handler, body, "0x"+Sign(secret, body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "conflict", resp.Results[0].Kind)
	require.Equal(t, before, fx.Balance(t, fx.Landlord))
}

func TestWebhookRejectsBadDeliveries(t *testing.T) {
	_, k := newKeeper(t)
	handler, err := NewWebhookHandler(k, secret)
	require.NoError(t, err)

	body := []byte(`{"positionIds":[1]}`)
	rec, _ := deliver(t, handler, body, Sign("other", body))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = deliver(t, handler, body, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	empty := []byte(`{"positionIds":[]}`)
	rec, _ = deliver(t, handler, empty, Sign(secret, empty))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	garbage := []byte(`not json`)
	rec, _ = deliver(t, handler, garbage, Sign(secret, garbage))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/hooks/nodit", nil)
	get := httptest.NewRecorder()
	handler.ServeHTTP(get, req)
	require.Equal(t, http.StatusMethodNotAllowed, get.Code)

	_, err = NewWebhookHandler(k, " ")
	require.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte("payload")
	sig := Sign(secret, body)
	require.True(t, VerifySignature([]byte(secret), body, sig))
	require.True(t, VerifySignature([]byte(secret), body, "sha256="+sig))
	require.False(t, VerifySignature([]byte(secret), []byte("tampered"), sig))
	require.False(t, VerifySignature([]byte(secret), body, "zz"))
	require.False(t, VerifySignature(nil, body, sig))
}

func TestScannerSettlesOnlyDuePositions(t *testing.T) {
	fx, k := newKeeper(t)
	first := fx.Open(t, 500*nodetest.USDC, 10, 0)
	second := fx.Open(t, 500*nodetest.USDC, 20, 0)
	disputed := fx.Open(t, 500*nodetest.USDC, 10, 0)
	_, err := fx.Node.RaiseDispute(fx.Tenant, disputed.ID)
	require.NoError(t, err)

	scanner := NewScanner(k, 0, 0)

	fx.Clock.Advance(16 * nodetest.Day)
	outcomes, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 0)

	fx.Clock.Advance(1 * nodetest.Day)
	outcomes, err = scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, first.ID, outcomes[0].ID)
	require.Equal(t, "settled", outcomes[0].Status)

	fx.Clock.Advance(30 * nodetest.Day)
	outcomes, err = scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, second.ID, outcomes[0].ID)

	pos, err := fx.Node.Position(disputed.ID)
	require.NoError(t, err)
	require.True(t, pos.Active)
}

func TestScannerRunStopsOnCancel(t *testing.T) {
	_, k := newKeeper(t)
	scanner := NewScanner(k, 0, 5)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scanner.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
}

func TestNewValidatesArguments(t *testing.T) {
	fx := nodetest.New(t)
	_, err := New(nil, fx.Keeper, nil)
	require.Error(t, err)
	_, err = New(fx.Node, crypto.ZeroAddress, nil)
	require.Error(t, err)
}
