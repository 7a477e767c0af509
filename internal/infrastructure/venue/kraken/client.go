// Package kraken adapts the Kraken spot REST API to port.VenueClient.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
)

const VenueName = "kraken"

var _ port.VenueClient = (*Client)(nil)

// Credentials holds the API key pair. Kraken signs with HMAC-SHA512 over the
// URI path and a SHA256 digest of nonce+postdata, keyed by the base64-decoded
// secret.
type Credentials struct {
	apiKey    string
	apiSecret string
}

func NewCredentials(apiKey, apiSecret string) *Credentials {
	return &Credentials{apiKey: apiKey, apiSecret: apiSecret}
}

func (c *Credentials) APIKey() string { return c.apiKey }

func (c *Credentials) Sign(path, nonce, postData string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(c.apiSecret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}
	sha := sha256.Sum256([]byte(nonce + postData))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sha[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

type FeeSource func(ctx context.Context, venue string) (map[string]model.WithdrawalFee, error)

type Client struct {
	baseURL     string
	httpClient  *http.Client
	credentials *Credentials
	feeSource   FeeSource

	mu     sync.Mutex
	pairs  []model.Pair
	assets []string
	market map[string]model.Pair // kraken pair name -> normalized pair
	native map[model.Pair]string // normalized pair -> kraken pair name
}

func New(baseURL string, creds *Credentials, feeSource FeeSource) *Client {
	if baseURL == "" {
		baseURL = "https://api.kraken.com"
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		credentials: creds,
		feeSource:   feeSource,
	}
}

func (c *Client) Name() string { return VenueName }

type apiResp struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type assetPairInfo struct {
	Altname string `json:"altname"`
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	Status  string `json:"status"`
}

// normalizeAsset strips Kraken's legacy X/Z asset prefixes (XXBT, ZUSD) and
// maps XBT to BTC so assets line up across venues.
func normalizeAsset(a string) string {
	a = strings.ToUpper(a)
	if len(a) > 3 && (a[0] == 'X' || a[0] == 'Z') {
		a = a[1:]
	}
	if a == "XBT" {
		a = "BTC"
	}
	return a
}

func (c *Client) loadMarkets(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.market != nil {
		return nil
	}

	raw, err := c.public(ctx, "/0/public/AssetPairs", nil)
	if err != nil {
		return fmt.Errorf("asset pairs: %w", err)
	}
	var infos map[string]assetPairInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		return fmt.Errorf("asset pairs decode: %w", err)
	}

	market := make(map[string]model.Pair, len(infos))
	native := make(map[model.Pair]string, len(infos))
	assetSet := make(map[string]struct{})
	var pairs []model.Pair
	for name, info := range infos {
		if info.Status != "" && info.Status != "online" {
			continue
		}
		p := model.Pair{Base: normalizeAsset(info.Base), Quote: normalizeAsset(info.Quote)}
		market[name] = p
		native[p] = name
		if info.Altname != "" {
			market[info.Altname] = p
		}
		pairs = append(pairs, p)
		assetSet[p.Base] = struct{}{}
		assetSet[p.Quote] = struct{}{}
	}
	assets := make([]string, 0, len(assetSet))
	for a := range assetSet {
		assets = append(assets, a)
	}

	c.market = market
	c.native = native
	c.pairs = pairs
	c.assets = assets
	return nil
}

func (c *Client) ListPairs(ctx context.Context) ([]model.Pair, error) {
	if err := c.loadMarkets(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Pair(nil), c.pairs...), nil
}

func (c *Client) ListAssets(ctx context.Context) ([]string, error) {
	if err := c.loadMarkets(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.assets...), nil
}

type tickerInfo struct {
	Bid [3]string `json:"b"` // price, whole lot volume, lot volume
	Ask [3]string `json:"a"`
	Vol [2]string `json:"v"` // today, last 24h
}

func (c *Client) FetchTickers(ctx context.Context) ([]model.Ticker, error) {
	if err := c.loadMarkets(ctx); err != nil {
		return nil, err
	}

	raw, err := c.public(ctx, "/0/public/Ticker", nil)
	if err != nil {
		return nil, fmt.Errorf("tickers: %w", err)
	}
	var infos map[string]tickerInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		return nil, fmt.Errorf("tickers decode: %w", err)
	}

	c.mu.Lock()
	market := c.market
	c.mu.Unlock()

	out := make([]model.Ticker, 0, len(infos))
	for name, t := range infos {
		pair, ok := market[name]
		if !ok {
			continue
		}
		out = append(out, model.Ticker{
			Venue:      VenueName,
			Base:       pair.Base,
			Quote:      pair.Quote,
			Bid:        parseFloat(t.Bid[0]),
			Ask:        parseFloat(t.Ask[0]),
			BaseVolume: parseFloat(t.Vol[1]),
		})
	}
	return out, nil
}

// depth levels arrive as ["price","volume",timestamp]: two strings and a number
type depthSide [][3]any

type depthInfo struct {
	Bids depthSide `json:"bids"`
	Asks depthSide `json:"asks"`
}

func (c *Client) FetchOrderBook(ctx context.Context, pair model.Pair, depth int) (*model.OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	if err := c.loadMarkets(ctx); err != nil {
		return nil, err
	}
	// the Depth endpoint takes the kraken pair name, not normalized assets:
	// BTC/USD must be requested as XXBTZUSD (or its altname)
	c.mu.Lock()
	name, ok := c.native[pair]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("order book %s: pair not listed", pair)
	}
	params := url.Values{}
	params.Set("pair", name)
	params.Set("count", strconv.Itoa(depth))

	raw, err := c.public(ctx, "/0/public/Depth", params)
	if err != nil {
		return nil, fmt.Errorf("order book %s: %w", pair, err)
	}
	var books map[string]depthInfo
	if err := json.Unmarshal(raw, &books); err != nil {
		return nil, fmt.Errorf("order book decode %s: %w", pair, err)
	}

	book := &model.OrderBook{}
	for _, info := range books {
		for _, lvl := range info.Bids {
			book.Bids = append(book.Bids, model.BookLevel{
				Price:  parseFloat(levelStr(lvl[0])),
				Amount: parseFloat(levelStr(lvl[1])),
			})
		}
		for _, lvl := range info.Asks {
			book.Asks = append(book.Asks, model.BookLevel{
				Price:  parseFloat(levelStr(lvl[0])),
				Amount: parseFloat(levelStr(lvl[1])),
			})
		}
		break // single pair requested
	}
	return book, nil
}

func (c *Client) FetchFreeBalances(ctx context.Context) (map[string]float64, error) {
	if c.credentials == nil || c.credentials.APIKey() == "" {
		return map[string]float64{}, nil
	}

	raw, err := c.private(ctx, "/0/private/Balance", url.Values{})
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	var balances map[string]string
	if err := json.Unmarshal(raw, &balances); err != nil {
		return nil, fmt.Errorf("balance decode: %w", err)
	}

	out := make(map[string]float64)
	for asset, amt := range balances {
		if free := parseFloat(amt); free > 0 {
			out[normalizeAsset(asset)] = free
		}
	}
	return out, nil
}

func (c *Client) FetchWithdrawalFees(ctx context.Context) (map[string]model.WithdrawalFee, error) {
	if c.feeSource == nil {
		return map[string]model.WithdrawalFee{}, nil
	}
	return c.feeSource(ctx, VenueName)
}

func (c *Client) public(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) private(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	nonce := strconv.FormatInt(time.Now().UnixMilli(), 10)
	params.Set("nonce", nonce)
	postData := params.Encode()

	sig, err := c.credentials.Sign(path, nonce, postData)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(postData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("API-Key", c.credentials.APIKey())
	req.Header.Set("API-Sign", sig)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kraken api error: %d %s", resp.StatusCode, string(body))
	}

	var api apiResp
	if err := json.Unmarshal(body, &api); err != nil {
		return nil, fmt.Errorf("kraken response decode: %w", err)
	}
	if len(api.Error) > 0 {
		return nil, fmt.Errorf("kraken api error: %s", strings.Join(api.Error, "; "))
	}
	return api.Result, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func levelStr(v any) string {
	s, _ := v.(string)
	return s
}
