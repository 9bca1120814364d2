package coincheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tnar/coincheck-rust/internal/account"
	"github.com/tnar/coincheck-rust/internal/domain"
	"github.com/tnar/coincheck-rust/pkg/quantize"
	"github.com/tnar/coincheck-rust/pkg/ratelimit"
)

var log = logrus.WithField("component", "coincheck")

const (
	DefaultBaseURL = "https://coincheck.com"

	pathBalance    = "/api/accounts/balance"
	pathOpenOrders = "/api/exchange/orders/opens"
	pathOrders     = "/api/exchange/orders"
	pathOrderBooks = "/api/order_books"

	timeInForcePostOnly = "post_only"
)

type Options struct {
	BaseURL   string
	Symbol    string
	Params    quantize.Params
	APIKey    string
	SecretKey string
	Timeout   time.Duration
	// Limits 为空时使用 ratelimit.NewManager() 的默认限制
	Limits *ratelimit.Manager
}

// Client Coincheck REST 客户端
// 公共接口允许重试；私有接口不重试（nonce 不可复用，下单也不能重复提交）
// 私有请求串行发送：交易所只接受比上一次更大的 nonce，取 nonce 和发送必须在同一把锁内
type Client struct {
	baseURL string
	symbol  string
	base    string
	params  quantize.Params

	public  *resty.Client
	private *resty.Client
	signer  *Signer
	limits  *ratelimit.Manager

	privateMu sync.Mutex
}

var _ account.Exchange = (*Client)(nil)

func NewClient(opts Options) *Client {
	host := strings.TrimRight(opts.BaseURL, "/")
	if host == "" {
		host = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limits := opts.Limits
	if limits == nil {
		limits = ratelimit.NewManager()
	}

	public := resty.New().
		SetBaseURL(host).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 时优先使用 Retry-After
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if d, err := time.ParseDuration(ra + "s"); err == nil {
						return d, nil
					}
				}
				return 5 * time.Second, nil
			}
			return 0, nil
		}).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})

	private := resty.New().
		SetBaseURL(host).
		SetTimeout(timeout)

	base := opts.Symbol
	if i := strings.Index(base, "_"); i > 0 {
		base = base[:i]
	}

	return &Client{
		baseURL: host,
		symbol:  opts.Symbol,
		base:    base,
		params:  opts.Params,
		public:  public,
		private: private,
		signer:  NewSigner(opts.APIKey, opts.SecretKey),
		limits:  limits,
	}
}

func (c *Client) newRequest(ctx context.Context, rc *resty.Client) *resty.Request {
	r := rc.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", "coincheck-mm/1.0")
	return r
}

// doPrivate 发送签名请求并把响应体解码到 out
// 非 2xx 且响应体是 {"success":false,...} 时按业务失败处理，交给调用方判断
func (c *Client) doPrivate(ctx context.Context, endpoint, method, path string, body []byte, out any) error {
	if err := c.limits.Wait(ctx, endpoint); err != nil {
		return err
	}

	resp, err := c.sendSigned(ctx, method, path, body)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	raw := resp.Body()
	if !resp.IsSuccess() {
		if out != nil && isBusinessDecline(resp) {
			return json.Unmarshal(raw, out)
		}
		return ParseHTTPError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "解析 %s %s 响应失败", method, path)
	}
	return nil
}

// sendSigned 在 privateMu 内生成 nonce 并发送，保证请求按 nonce 顺序到达交易所
func (c *Client) sendSigned(ctx context.Context, method, path string, body []byte) (*resty.Response, error) {
	c.privateMu.Lock()
	defer c.privateMu.Unlock()

	r := c.newRequest(ctx, c.private).
		SetHeaders(c.signer.Headers(c.baseURL+path, string(body))).
		SetHeader("Content-Type", "application/json")
	if len(body) > 0 {
		r.SetBody(body)
	}
	return r.Execute(method, path)
}

// isBusinessDecline 4xx 且响应体为 {"success":false,...}：交易所拒绝了这笔业务（post-only 会吃单、订单不存在等）
// 401/403 是认证或 nonce 问题，按错误处理
func isBusinessDecline(resp *resty.Response) bool {
	code := resp.StatusCode()
	if code < 400 || code >= 500 || code == http.StatusUnauthorized || code == http.StatusForbidden {
		return false
	}
	var br struct {
		Success *bool `json:"success"`
	}
	return json.Unmarshal(resp.Body(), &br) == nil && br.Success != nil && !*br.Success
}

// ParseHTTPError 把非 2xx 响应转成错误
func ParseHTTPError(resp *resty.Response) error {
	var body any
	b := resp.Body()
	_ = json.Unmarshal(b, &body)
	if body == nil {
		body = string(b)
	}
	return errors.Errorf("http non-2xx: status=%d body=%v", resp.StatusCode(), body)
}

// FetchBalance 查询基础资产余额；余额或冻结字段缺失时对应指针为 nil
func (c *Client) FetchBalance(ctx context.Context) (*account.Balance, error) {
	var raw map[string]json.RawMessage
	if err := c.doPrivate(ctx, ratelimit.EndpointBalance, http.MethodGet, pathBalance, nil, &raw); err != nil {
		return nil, err
	}
	if ok, present := raw["success"]; present && string(ok) == "false" {
		return nil, errors.Errorf("查询余额失败: %s", string(raw["error"]))
	}
	amount, err := balanceField(raw, c.base)
	if err != nil {
		return nil, err
	}
	reserved, err := balanceField(raw, c.base+"_reserved")
	if err != nil {
		return nil, err
	}
	return &account.Balance{Amount: amount, Reserved: reserved}, nil
}

func balanceField(raw map[string]json.RawMessage, key string) (*float64, error) {
	v, ok := raw[key]
	if !ok {
		return nil, nil
	}
	var f flexFloat
	if err := json.Unmarshal(v, &f); err != nil {
		return nil, errors.Wrapf(err, "余额字段 %s", key)
	}
	return f.ptr(), nil
}

// FetchOpenOrders 查询当前挂单；其它交易对、方向未知或缺少价格的条目被跳过
func (c *Client) FetchOpenOrders(ctx context.Context) ([]domain.RestingOrder, error) {
	var resp openOrdersResponse
	if err := c.doPrivate(ctx, ratelimit.EndpointOpenOrders, http.MethodGet, pathOpenOrders, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.Errorf("查询挂单失败: %s", resp.Error)
	}
	out := make([]domain.RestingOrder, 0, len(resp.Orders))
	for _, w := range resp.Orders {
		if w.Pair != "" && w.Pair != c.symbol {
			continue
		}
		o, ok := w.toDomain()
		if !ok {
			log.WithField("id", int64(w.ID)).Warn("⚠️ 跳过无法识别的挂单")
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// PlaceOrder 提交 post-only 限价单；交易所拒绝时返回 nil, nil
func (c *Client) PlaceOrder(ctx context.Context, side domain.Side, price, size float64) (*domain.RestingOrder, error) {
	req := placeOrderRequest{
		Pair:        c.symbol,
		OrderType:   side.String(),
		Rate:        c.params.FormatPrice(price),
		Amount:      c.params.FormatSize(size),
		TimeInForce: timeInForcePostOnly,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var resp placeOrderResponse
	if err := c.doPrivate(ctx, ratelimit.EndpointOrderPost, http.MethodPost, pathOrders, body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		log.WithFields(logrus.Fields{
			"side":  side,
			"price": req.Rate,
			"size":  req.Amount,
			"error": resp.Error,
		}).Info("下单被交易所拒绝")
		return nil, nil
	}

	o := domain.RestingOrder{ID: int64(resp.ID), Side: side, Price: price, Size: size}
	if s, ok := domain.ParseSide(resp.OrderType); ok {
		o.Side = s
	}
	if resp.Rate.Set {
		o.Price = resp.Rate.Value
	}
	if resp.Amount.Set {
		o.Size = resp.Amount.Value
	}
	return &o, nil
}

// CancelOrder 撤单；返回交易所是否确认
func (c *Client) CancelOrder(ctx context.Context, id int64) (bool, error) {
	var resp cancelOrderResponse
	path := pathOrders + "/" + strconv.FormatInt(id, 10)
	if err := c.doPrivate(ctx, ratelimit.EndpointOrderDelete, http.MethodDelete, path, nil, &resp); err != nil {
		return false, err
	}
	if !resp.Success {
		log.WithFields(logrus.Fields{"id": id, "error": resp.Error}).Info("撤单未被确认")
	}
	return resp.Success, nil
}

// FetchOrderBook 公共接口拉取完整盘口，用于启动和重连后的全量同步
func (c *Client) FetchOrderBook(ctx context.Context) (domain.OrderBookDelta, error) {
	if err := c.limits.Wait(ctx, ratelimit.EndpointOrderBooks); err != nil {
		return domain.OrderBookDelta{}, err
	}
	resp, err := c.newRequest(ctx, c.public).
		SetQueryParam("pair", c.symbol).
		Get(pathOrderBooks)
	if err != nil {
		return domain.OrderBookDelta{}, errors.Wrap(err, "拉取盘口失败")
	}
	if !resp.IsSuccess() {
		return domain.OrderBookDelta{}, ParseHTTPError(resp)
	}
	var payload orderBookPayload
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return domain.OrderBookDelta{}, errors.Wrap(err, "解析盘口失败")
	}
	full, err := payload.toDomain()
	if err != nil {
		return domain.OrderBookDelta{}, fmt.Errorf("盘口数据错误: %w", err)
	}
	return full, nil
}
