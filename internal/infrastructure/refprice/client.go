// Package refprice fetches indicative USD prices and market-cap ranks from a
// CoinMarketCap-compatible quotes endpoint. Prices here only value balances
// and liquidity in USD terms; they never enter the trade rates.
package refprice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
)

var _ port.PriceSource = (*Client)(nil)

const maxSymbolsPerRequest = 200

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://pro-api.coinmarketcap.com"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type quotesResp struct {
	Data map[string]json.RawMessage `json:"data"`
}

type quoteEntry struct {
	CmcRank int `json:"cmc_rank"`
	Quote   map[string]struct {
		Price float64 `json:"price"`
	} `json:"quote"`
}

// Quotes returns USD reference prices for the given symbols. Symbols the
// endpoint does not know are simply absent from the result. Without an API
// key the source is disabled and an empty map is returned.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]model.ReferencePrice, error) {
	out := make(map[string]model.ReferencePrice)
	if c.apiKey == "" || len(symbols) == 0 {
		return out, nil
	}

	for start := 0; start < len(symbols); start += maxSymbolsPerRequest {
		end := start + maxSymbolsPerRequest
		if end > len(symbols) {
			end = len(symbols)
		}
		if err := c.fetchBatch(ctx, symbols[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Client) fetchBatch(ctx context.Context, symbols []string, out map[string]model.ReferencePrice) error {
	params := url.Values{}
	params.Set("symbol", strings.Join(symbols, ","))
	params.Set("convert", "USD")
	params.Set("skip_invalid", "true")

	endpoint := c.baseURL + "/v1/cryptocurrency/quotes/latest?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("refprice api error: %d %s", resp.StatusCode, string(body))
	}

	var raw quotesResp
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("refprice decode: %w", err)
	}

	for sym, msg := range raw.Data {
		entry, ok := decodeEntry(msg)
		if !ok {
			log.Debug().Str("symbol", sym).Msg("unparseable reference quote, skipping")
			continue
		}
		usd, ok := entry.Quote["USD"]
		if !ok || usd.Price <= 0 {
			continue
		}
		out[strings.ToUpper(sym)] = model.ReferencePrice{
			Price: usd.Price,
			Rank:  entry.CmcRank,
		}
	}
	return nil
}

// decodeEntry tolerates both response shapes the API has shipped: a bare
// object per symbol and an array of candidate listings (first one wins).
func decodeEntry(msg json.RawMessage) (quoteEntry, bool) {
	var entry quoteEntry
	if err := json.Unmarshal(msg, &entry); err == nil && entry.Quote != nil {
		return entry, true
	}
	var entries []quoteEntry
	if err := json.Unmarshal(msg, &entries); err == nil && len(entries) > 0 && entries[0].Quote != nil {
		return entries[0], true
	}
	return quoteEntry{}, false
}
