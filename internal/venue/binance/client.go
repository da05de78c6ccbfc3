// Package binance implements the live Binance spot venue: REST order entry,
// exchange metadata, and the user-data stream that feeds order updates back
// into the order state machine.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/chainbot/internal/crypto"
	"github.com/alanyoungcy/chainbot/internal/feed"
)

// apiError is a non-2xx response body from the REST API.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("binance api error %d: %s", e.Code, e.Msg)
}

// errTimestampOutOfWindow is the venue code for a request timestamp outside
// recvWindow; such requests are safe to retry.
const errTimestampOutOfWindow = -1021

// Client is a minimal Binance spot REST client covering the endpoints the
// bot uses.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
	recvWindow time.Duration
}

// NewClient creates a REST client. auth may be nil for public-only use.
func NewClient(baseURL string, auth *crypto.HMACAuth, recvWindow time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		recvWindow: recvWindow,
	}
}

func (c *Client) do(ctx context.Context, method, path, query string, keyed bool, out any) error {
	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("binance: build %s %s: %w", method, path, err)
	}
	if keyed && c.auth != nil {
		req.Header.Set(c.auth.Header())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("binance: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("binance: read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.Msg != "" {
			return &ae
		}
		return fmt.Errorf("binance: %s %s: http %d: %s", method, path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance: decode %s %s: %w", method, path, err)
	}
	return nil
}

// public performs an unauthenticated request.
func (c *Client) public(ctx context.Context, method, path string, q url.Values, out any) error {
	return c.do(ctx, method, path, q.Encode(), false, out)
}

// keyed performs a request that needs the API key header but no signature.
func (c *Client) keyed(ctx context.Context, method, path string, q url.Values, out any) error {
	return c.do(ctx, method, path, q.Encode(), true, out)
}

// signed performs an HMAC-signed request.
func (c *Client) signed(ctx context.Context, method, path string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	if c.recvWindow > 0 {
		q.Set("recvWindow", fmt.Sprintf("%d", c.recvWindow.Milliseconds()))
	}
	return c.do(ctx, method, path, c.auth.SignQuery(q.Encode()), true, out)
}

// Depth fetches the REST order-book snapshot used to seed a depth feed.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (*feed.DepthSnapshot, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("limit", fmt.Sprintf("%d", limit))
	var snap feed.DepthSnapshot
	if err := c.public(ctx, http.MethodGet, "/api/v3/depth", q, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// exchangeInfo is the subset of /api/v3/exchangeInfo the venue needs.
type exchangeInfo struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol     string         `json:"symbol"`
	Status     string         `json:"status"`
	BaseAsset  string         `json:"baseAsset"`
	QuoteAsset string         `json:"quoteAsset"`
	Filters    []symbolFilter `json:"filters"`
}

type symbolFilter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize"`
	MinPrice    string `json:"minPrice"`
	MaxPrice    string `json:"maxPrice"`
	StepSize    string `json:"stepSize"`
	MinQty      string `json:"minQty"`
	MaxQty      string `json:"maxQty"`
	MinNotional string `json:"minNotional"`
}

// ExchangeInfo fetches pair metadata and trading filters.
func (c *Client) ExchangeInfo(ctx context.Context) (*exchangeInfo, error) {
	var info exchangeInfo
	if err := c.public(ctx, http.MethodGet, "/api/v3/exchangeInfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// accountSnapshot is the balances subset of /api/v3/account.
type accountSnapshot struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// AccountSnapshot fetches current balances.
func (c *Client) AccountSnapshot(ctx context.Context) (*accountSnapshot, error) {
	var snap accountSnapshot
	if err := c.signed(ctx, http.MethodGet, "/api/v3/account", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// tradeFee is one symbol's commission rates from /sapi/v1/asset/tradeFee.
type tradeFee struct {
	Symbol          string `json:"symbol"`
	MakerCommission string `json:"makerCommission"`
	TakerCommission string `json:"takerCommission"`
}

// TradeFees fetches per-symbol maker/taker commission rates.
func (c *Client) TradeFees(ctx context.Context) ([]tradeFee, error) {
	var fees []tradeFee
	if err := c.signed(ctx, http.MethodGet, "/sapi/v1/asset/tradeFee", nil, &fees); err != nil {
		return nil, err
	}
	return fees, nil
}

// orderResponse is the FULL-type response to order placement.
type orderResponse struct {
	OrderID      int64  `json:"orderId"`
	Status       string `json:"status"`
	TransactTime int64  `json:"transactTime"`
	Fills        []struct {
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
	} `json:"fills"`
}

// NewOrder places an order and returns the immediate FULL response.
func (c *Client) NewOrder(ctx context.Context, q url.Values) (*orderResponse, error) {
	q.Set("newOrderRespType", "FULL")
	var resp orderResponse
	if err := c.signed(ctx, http.MethodPost, "/api/v3/order", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder cancels an order by venue id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("orderId", orderID)
	return c.signed(ctx, http.MethodDelete, "/api/v3/order", q, nil)
}

// NewListenKey opens a user-data stream and returns its listen key.
func (c *Client) NewListenKey(ctx context.Context) (string, error) {
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := c.keyed(ctx, http.MethodPost, "/api/v3/userDataStream", nil, &resp); err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends a user-data stream's validity.
func (c *Client) KeepAliveListenKey(ctx context.Context, key string) error {
	q := url.Values{}
	q.Set("listenKey", key)
	return c.keyed(ctx, http.MethodPut, "/api/v3/userDataStream", q, nil)
}
