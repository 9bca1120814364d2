package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_Healthz(t *testing.T) {
	rec := get(t, Router(nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_State(t *testing.T) {
	published := false
	h := Router(func() (any, bool) {
		if !published {
			return nil, false
		}
		return map[string]any{"symbol": "btc_jpy", "balance": 0.01}, true
	})

	rec := get(t, h, "/api/state")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	published = true
	rec = get(t, h, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "btc_jpy", body["symbol"])
}

func TestRouter_Expvar(t *testing.T) {
	OrdersPlaced.Add(1)
	rec := get(t, Router(nil), "/debug/vars")
	require.Equal(t, http.StatusOK, rec.Code)
	var vars map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vars))
	assert.Contains(t, vars, "orders_placed")
	assert.Contains(t, vars, "decode_errors")
}
