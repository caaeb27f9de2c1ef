package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dework/crypto"
)

var (
	alice = crypto.ModuleAddress("identity/alice")
	bob   = crypto.ModuleAddress("identity/bob")
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "identity.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestRegistryMarkVerified(t *testing.T) {
	reg := openTestRegistry(t)
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.nowFn = func() time.Time { return first }

	ok, err := reg.IsVerified(context.Background(), alice)
	require.NoError(t, err)
	require.False(t, ok)

	rec, err := reg.MarkVerified(alice, "worldid", "0xABCDEF")
	require.NoError(t, err)
	require.Equal(t, "abcdef", rec.NullifierHash)
	require.Equal(t, first, rec.VerifiedAt)

	reg.nowFn = func() time.Time { return first.Add(time.Hour) }
	again, err := reg.MarkVerified(alice, "worldid", "abcdef")
	require.NoError(t, err)
	require.Equal(t, first, again.VerifiedAt, "re-verification keeps the original timestamp")

	ok, err = reg.IsVerified(context.Background(), alice)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = reg.MarkVerified(bob, "worldid", "ABCDEF")
	require.ErrorIs(t, err, ErrNullifierConflict)

	_, err = reg.MarkVerified(bob, "", "1234")
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestRegistryRevokeFreesNullifier(t *testing.T) {
	reg := openTestRegistry(t)
	_, err := reg.MarkVerified(alice, "worldid", "feed")
	require.NoError(t, err)

	require.NoError(t, reg.Revoke(alice))
	require.ErrorIs(t, reg.Revoke(alice), ErrNotFound)

	_, found, err := reg.Get(alice)
	require.NoError(t, err)
	require.False(t, found)

	_, err = reg.MarkVerified(bob, "worldid", "feed")
	require.NoError(t, err)
}

func TestRegistryRebindReleasesOldNullifier(t *testing.T) {
	reg := openTestRegistry(t)
	_, err := reg.MarkVerified(alice, "worldid", "aa")
	require.NoError(t, err)
	_, err = reg.MarkVerified(alice, "worldid", "bb")
	require.NoError(t, err)
	_, err = reg.MarkVerified(bob, "worldid", "aa")
	require.NoError(t, err)
}

func TestHTTPGate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch {
		case strings.HasSuffix(r.URL.Path, alice.Hex()):
			_, _ = w.Write([]byte(`{"verified":true}`))
		case strings.HasSuffix(r.URL.Path, bob.Hex()):
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	gate, err := NewHTTPGate(ClientConfig{BaseURL: server.URL + "/", APIKey: "secret"})
	require.NoError(t, err)

	ok, err := gate.IsVerified(context.Background(), alice)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = gate.IsVerified(context.Background(), bob)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = gate.IsVerified(context.Background(), crypto.ModuleAddress("identity/carol"))
	require.Error(t, err)

	_, err = NewHTTPGate(ClientConfig{})
	require.Error(t, err)
}

type stubGate struct {
	ok  bool
	err error
}

func (s stubGate) IsVerified(context.Context, crypto.Address) (bool, error) { return s.ok, s.err }

func TestAnyGate(t *testing.T) {
	down := errors.New("down")
	ok, err := AnyGate{stubGate{err: down}, stubGate{ok: true}}.IsVerified(context.Background(), alice)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = AnyGate{stubGate{err: down}, stubGate{}}.IsVerified(context.Background(), alice)
	require.ErrorIs(t, err, down)
	require.False(t, ok)

	ok, err = AnyGate{nil, stubGate{}}.IsVerified(context.Background(), alice)
	require.NoError(t, err)
	require.False(t, ok)
}
