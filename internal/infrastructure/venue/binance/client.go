// Package binance adapts the Binance spot REST API to port.VenueClient.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

const VenueName = "binance"

var _ port.VenueClient = (*Client)(nil)

// Credentials holds the API key pair and signs request payloads.
type Credentials struct {
	apiKey    string
	apiSecret string
}

func NewCredentials(apiKey, apiSecret string) *Credentials {
	return &Credentials{apiKey: apiKey, apiSecret: apiSecret}
}

func (c *Credentials) Sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Credentials) APIKey() string { return c.apiKey }

// FeeSource resolves a venue's withdrawal-fee table; wired to the shared
// withdrawal-fee quote client.
type FeeSource func(ctx context.Context, venue string) (map[string]model.WithdrawalFee, error)

// Client is the spot market-data adapter. Markets are loaded lazily on first
// use and cached for the lifetime of the client; the universe is rebuilt at
// most once per run anyway.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	credentials *Credentials
	feeSource   FeeSource
	stream      *TickerStream

	mu     sync.Mutex
	pairs  []model.Pair
	assets []string
	market map[string]model.Pair // "BTCUSDT" -> {BTC, USDT}
}

func New(baseURL string, creds *Credentials, feeSource FeeSource) *Client {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		credentials: creds,
		feeSource:   feeSource,
	}
}

// AttachStream lets a websocket bookTicker stream warm the ticker data
// between REST polls.
func (c *Client) AttachStream(s *TickerStream) { c.stream = s }

func (c *Client) Name() string { return VenueName }

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

func (c *Client) loadMarkets(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.market != nil {
		return nil
	}

	var info exchangeInfoResp
	if err := c.getJSON(ctx, "/api/v3/exchangeInfo", nil, &info); err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}

	market := make(map[string]model.Pair, len(info.Symbols))
	assetSet := make(map[string]struct{})
	var pairs []model.Pair
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		p := model.Pair{Base: strings.ToUpper(s.BaseAsset), Quote: strings.ToUpper(s.QuoteAsset)}
		market[s.Symbol] = p
		pairs = append(pairs, p)
		assetSet[p.Base] = struct{}{}
		assetSet[p.Quote] = struct{}{}
	}
	assets := make([]string, 0, len(assetSet))
	for a := range assetSet {
		assets = append(assets, a)
	}

	c.market = market
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

type ticker24hResp struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
	Volume   string `json:"volume"`
}

func (c *Client) FetchTickers(ctx context.Context) ([]model.Ticker, error) {
	if err := c.loadMarkets(ctx); err != nil {
		return nil, err
	}

	var raw []ticker24hResp
	if err := c.getJSON(ctx, "/api/v3/ticker/24hr", nil, &raw); err != nil {
		return nil, fmt.Errorf("tickers: %w", err)
	}

	c.mu.Lock()
	market := c.market
	c.mu.Unlock()

	out := make([]model.Ticker, 0, len(raw))
	for _, t := range raw {
		pair, ok := market[t.Symbol]
		if !ok {
			continue
		}
		tk := model.Ticker{
			Venue:      VenueName,
			Base:       pair.Base,
			Quote:      pair.Quote,
			Bid:        parseFloat(t.BidPrice),
			Ask:        parseFloat(t.AskPrice),
			BaseVolume: parseFloat(t.Volume),
		}
		if c.stream != nil {
			if bid, ask, ok := c.stream.TopOfBook(t.Symbol); ok {
				tk.Bid, tk.Ask = bid, ask
			}
		}
		out = append(out, tk)
	}
	return out, nil
}

// depth levels arrive as ["price","amount"] string pairs
type depthResp struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

func (c *Client) FetchOrderBook(ctx context.Context, pair model.Pair, depth int) (*model.OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	params := url.Values{}
	params.Set("symbol", pair.Base+pair.Quote)
	params.Set("limit", strconv.Itoa(depth))

	var raw depthResp
	if err := c.getJSON(ctx, "/api/v3/depth", params, &raw); err != nil {
		return nil, fmt.Errorf("order book %s: %w", pair, err)
	}

	book := &model.OrderBook{}
	for _, lvl := range raw.Bids {
		book.Bids = append(book.Bids, model.BookLevel{
			Price:  parseFloat(lvl[0]),
			Amount: parseFloat(lvl[1]),
		})
	}
	for _, lvl := range raw.Asks {
		book.Asks = append(book.Asks, model.BookLevel{
			Price:  parseFloat(lvl[0]),
			Amount: parseFloat(lvl[1]),
		})
	}
	return book, nil
}

type accountResp struct {
	Balances []struct {
		Asset string `json:"asset"`
		Free  string `json:"free"`
	} `json:"balances"`
}

func (c *Client) FetchFreeBalances(ctx context.Context) (map[string]float64, error) {
	if c.credentials == nil || c.credentials.APIKey() == "" {
		return map[string]float64{}, nil
	}

	body, err := c.signedRequest(ctx, http.MethodGet, "/api/v3/account", nil)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	var acc accountResp
	if err := json.Unmarshal(body, &acc); err != nil {
		return nil, fmt.Errorf("account decode: %w", err)
	}

	out := make(map[string]float64)
	for _, b := range acc.Balances {
		if free := parseFloat(b.Free); free > 0 {
			out[strings.ToUpper(b.Asset)] = free
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

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("binance api error: %d %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if params.Get("recvWindow") == "" {
		params.Set("recvWindow", "5000")
	}

	query := params.Encode()
	signature := c.credentials.Sign(query)
	endpoint := fmt.Sprintf("%s%s?%s&signature=%s", c.baseURL, path, query, signature)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.credentials.APIKey())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

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
		return nil, fmt.Errorf("binance api error: %d %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
