package credit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dework/crypto"
)

func TestHTTPOracle(t *testing.T) {
	good := crypto.ModuleAddress("credit/good")
	greedy := crypto.ModuleAddress("credit/greedy")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, good.Hex()):
			_, _ = w.Write([]byte(`{"percentage":40}`))
		case strings.HasSuffix(r.URL.Path, greedy.Hex()):
			_, _ = w.Write([]byte(`{"percentage":140}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	oracle, err := NewHTTPOracle(ClientConfig{BaseURL: server.URL})
	require.NoError(t, err)

	pct, err := oracle.InterestSharingPercentage(context.Background(), good)
	require.NoError(t, err)
	require.EqualValues(t, 40, pct)

	_, err = oracle.InterestSharingPercentage(context.Background(), greedy)
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = oracle.InterestSharingPercentage(context.Background(), crypto.ModuleAddress("credit/unknown"))
	require.Error(t, err)
}

func TestStaticOracle(t *testing.T) {
	vip := crypto.ModuleAddress("credit/vip")
	path := filepath.Join(t.TempDir(), "credit.yaml")
	body := "default: 25\ntenants:\n  " + vip.Hex() + ": 90\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	oracle, err := LoadStatic(path)
	require.NoError(t, err)

	pct, err := oracle.InterestSharingPercentage(context.Background(), vip)
	require.NoError(t, err)
	require.EqualValues(t, 90, pct)

	pct, err = oracle.InterestSharingPercentage(context.Background(), crypto.ModuleAddress("credit/other"))
	require.NoError(t, err)
	require.EqualValues(t, 25, pct)
}

func TestStaticOracleRejectsInvalidTables(t *testing.T) {
	cases := map[string]string{
		"default over range": "default: 101\n",
		"bad address":        "default: 1\ntenants:\n  nope: 5\n",
		"tenant over range":  "default: 1\ntenants:\n  " + crypto.ModuleAddress("x").Hex() + ": 200\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseStatic([]byte(body))
			require.Error(t, err)
		})
	}
}
