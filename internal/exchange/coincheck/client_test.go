package coincheck

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tnar/coincheck-rust/internal/account"
	"github.com/tnar/coincheck-rust/internal/domain"
	"github.com/tnar/coincheck-rust/internal/ledger"
	"github.com/tnar/coincheck-rust/pkg/quantize"
	"github.com/tnar/coincheck-rust/pkg/ratelimit"
)

type recorded struct {
	method string
	path   string
	query  string
	body   string
	header http.Header
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) list() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.calls...)
}

// newTestClient 启动一个假交易所，并校验每个私有请求的签名
func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body string)) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.calls = append(rec.calls, recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			body:   string(b),
			header: r.Header.Clone(),
		})
		rec.mu.Unlock()
		if nonce := r.Header.Get(HeaderAccessNonce); nonce != "" {
			want := Sign("test-secret", nonce, srv.URL+r.URL.Path, string(b))
			if r.Header.Get(HeaderAccessSignature) != want {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"success":false,"error":"invalid signature"}`))
				return
			}
		}
		handler(w, r, string(b))
	}))
	t.Cleanup(srv.Close)

	p, err := quantize.NewParams(1.0, 0.00000001)
	require.NoError(t, err)
	c := NewClient(Options{
		BaseURL:   srv.URL + "/",
		Symbol:    "btc_jpy",
		Params:    p,
		APIKey:    "test-key",
		SecretKey: "test-secret",
	})
	return c, rec
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestClient_FetchBalance(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		writeJSON(w, 200, `{"success":true,"jpy":"100000","btc":"0.0123","btc_reserved":"0.002"}`)
	})

	bal, err := c.FetchBalance(context.Background())
	require.NoError(t, err)
	require.NotNil(t, bal.Amount)
	require.NotNil(t, bal.Reserved)
	assert.Equal(t, 0.0123, *bal.Amount)
	assert.Equal(t, 0.002, *bal.Reserved)

	require.Len(t, calls.list(), 1)
	call := calls.list()[0]
	assert.Equal(t, http.MethodGet, call.method)
	assert.Equal(t, pathBalance, call.path)
	assert.Equal(t, "test-key", call.header.Get(HeaderAccessKey))
	assert.NotEmpty(t, call.header.Get(HeaderAccessNonce))
}

func TestClient_FetchBalance_MissingReserved(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		writeJSON(w, 200, `{"success":true,"btc":0.5}`)
	})
	bal, err := c.FetchBalance(context.Background())
	require.NoError(t, err)
	require.NotNil(t, bal.Amount)
	assert.Nil(t, bal.Reserved)
}

func TestClient_FetchOpenOrders(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		writeJSON(w, 200, `{"success":true,"orders":[
			{"id":202835,"order_type":"buy","rate":26890,"pair":"btc_jpy","pending_amount":"0.5527","created_at":"2015-01-10T05:55:38.000Z"},
			{"id":202836,"order_type":"sell","rate":"26990","pair":"btc_jpy","pending_amount":"0.77"},
			{"id":38632107,"order_type":"buy","rate":null,"pair":"btc_jpy","pending_amount":null,"pending_market_buy_amount":"10000.0"},
			{"id":300000,"order_type":"sell","rate":"300000","pair":"eth_jpy","pending_amount":"1"}
		]}`)
	})

	orders, err := c.FetchOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.RestingOrder{
		{ID: 202835, Side: domain.SideBuy, Price: 26890, Size: 0.5527},
		{ID: 202836, Side: domain.SideSell, Price: 26990, Size: 0.77},
	}, orders)
}

func TestClient_PlaceOrder(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(w, 200, `{"success":true,"id":12345,"rate":"9100000.0","amount":"0.02","order_type":"buy","pair":"btc_jpy"}`)
	})

	o, err := c.PlaceOrder(context.Background(), domain.SideBuy, 9100000, 0.02)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, domain.RestingOrder{ID: 12345, Side: domain.SideBuy, Price: 9100000, Size: 0.02}, *o)

	require.Len(t, calls.list(), 1)
	call := calls.list()[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, pathOrders, call.path)
	assert.Equal(t, "application/json", call.header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(call.body), &body))
	assert.Equal(t, map[string]string{
		"pair":          "btc_jpy",
		"order_type":    "buy",
		"rate":          "9100000",
		"amount":        "0.02",
		"time_in_force": "post_only",
	}, body)
}

func TestClient_PlaceOrder_Declined(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		writeJSON(w, 400, `{"success":false,"error":"Post only order would be executed immediately"}`)
	})
	o, err := c.PlaceOrder(context.Background(), domain.SideSell, 100, 0.01)
	assert.NoError(t, err)
	assert.Nil(t, o)
}

func TestClient_PlaceOrder_ServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})
	o, err := c.PlaceOrder(context.Background(), domain.SideSell, 100, 0.01)
	assert.Error(t, err)
	assert.Nil(t, o)
}

func TestClient_CancelOrder(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		if r.URL.Path == "/api/exchange/orders/42" {
			writeJSON(w, 200, `{"success":true,"id":42}`)
			return
		}
		writeJSON(w, 404, `{"success":false,"error":"The order doesn't exist."}`)
	})

	ok, err := c.CancelOrder(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CancelOrder(context.Background(), 43)
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, calls.list(), 2)
	assert.Equal(t, http.MethodDelete, calls.list()[0].method)
}

func TestClient_FetchOrderBook(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		writeJSON(w, 200, `{"asks":[["27330","2.25"],["27340","0.45"]],"bids":[["27240","1.1543"],[26800,"1.2226"]]}`)
	})

	full, err := c.FetchOrderBook(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.PriceLevel{{Price: 27330, Size: 2.25}, {Price: 27340, Size: 0.45}}, full.Asks)
	assert.Equal(t, []domain.PriceLevel{{Price: 27240, Size: 1.1543}, {Price: 26800, Size: 1.2226}}, full.Bids)

	call := calls.list()[0]
	assert.Equal(t, pathOrderBooks, call.path)
	assert.Equal(t, "pair=btc_jpy", call.query)
	assert.Empty(t, call.header.Get(HeaderAccessKey), "公共接口不签名")
}

func TestClient_Unauthorized(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		writeJSON(w, http.StatusUnauthorized, `{"success":false,"error":"Nonce must be incremented"}`)
	})

	ok, err := c.CancelOrder(context.Background(), 42)
	assert.Error(t, err, "认证失败不是业务拒绝")
	assert.False(t, ok)

	o, err := c.PlaceOrder(context.Background(), domain.SideBuy, 100, 0.01)
	assert.Error(t, err)
	assert.Nil(t, o)
}

// nonceExchange 像交易所一样拒绝不递增的 nonce
type nonceExchange struct {
	mu        sync.Mutex
	last      int64
	cancelled []string
	rejected  int
}

func (e *nonceExchange) handle(w http.ResponseWriter, r *http.Request, _ string) {
	nonce, err := strconv.ParseInt(r.Header.Get(HeaderAccessNonce), 10, 64)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil || nonce <= e.last {
		e.rejected++
		writeJSON(w, http.StatusUnauthorized, `{"success":false,"error":"Nonce must be incremented"}`)
		return
	}
	e.last = nonce
	e.cancelled = append(e.cancelled, r.URL.Path)
	writeJSON(w, 200, `{"success":true}`)
}

func newNonceClient(t *testing.T) (*Client, *nonceExchange, quantize.Params) {
	t.Helper()
	ex := &nonceExchange{}
	c, _ := newTestClient(t, ex.handle)
	c.limits.Set(ratelimit.EndpointOrderDelete, ratelimit.NewTokenBucket(1000, 1000))
	p, err := quantize.NewParams(1.0, 0.00000001)
	require.NoError(t, err)
	return c, ex, p
}

func TestClient_ConcurrentCancelAllKeepsNonceOrder(t *testing.T) {
	c, ex, p := newNonceClient(t)

	const rounds = 50
	for i := int64(0); i < rounds; i++ {
		state := account.New(account.Options{Symbol: "btc_jpy", Params: p}, c)
		state.Restore([]domain.RestingOrder{
			{ID: 2*i + 1, Side: domain.SideBuy, Price: 100, Size: 0.02},
			{ID: 2*i + 2, Side: domain.SideSell, Price: 105, Size: 0.01},
		})
		require.NoError(t, state.CancelAll(context.Background()), "round %d", i)
		require.Empty(t, state.Orders(), "round %d", i)
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	assert.Zero(t, ex.rejected)
	assert.Len(t, ex.cancelled, 2*rounds)
}

func TestClient_ConcurrentDuplicateCancelsKeepNonceOrder(t *testing.T) {
	c, ex, _ := newNonceClient(t)

	l := ledger.New()
	res := l.Reconcile(context.Background(), []domain.RestingOrder{
		{ID: 1, Side: domain.SideBuy, Price: 100, Size: 0.02},
		{ID: 2, Side: domain.SideBuy, Price: 100, Size: 0.02},
		{ID: 3, Side: domain.SideBuy, Price: 100, Size: 0.02},
		{ID: 4, Side: domain.SideBuy, Price: 100, Size: 0.02},
		{ID: 5, Side: domain.SideBuy, Price: 100, Size: 0.02},
	}, c)

	assert.Equal(t, []int64{1, 2, 3, 4}, res.Cancelled)
	assert.Empty(t, res.Failed)
	ex.mu.Lock()
	defer ex.mu.Unlock()
	assert.Zero(t, ex.rejected)
}
