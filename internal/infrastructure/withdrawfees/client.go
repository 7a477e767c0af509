// Package withdrawfees fetches per-venue withdrawal fee quotes from a fee
// aggregation endpoint.
package withdrawfees

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"arbscan/internal/domain/model"
)

type Client struct {
	baseURL    string
	tradeSize  float64
	httpClient *http.Client
}

// New builds a fee client. tradeSize is the assumed notional of an
// inter-venue transfer, used to express the flat USD fee as a rate.
func New(baseURL string, tradeSize float64) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tradeSize:  tradeSize,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type feeEntry struct {
	Asset   string  `json:"asset"`
	USDFee  float64 `json:"usd_fee"`
	CoinFee float64 `json:"coin_fee"`
}

type feesResp struct {
	Fees []feeEntry `json:"fees"`
}

// Fees returns the withdrawal fee table for a venue. Assets without a quote
// are absent from the map; transfers out of them are treated as infeasible.
func (c *Client) Fees(ctx context.Context, venue string) (map[string]model.WithdrawalFee, error) {
	if c.baseURL == "" {
		return map[string]model.WithdrawalFee{}, nil
	}

	endpoint := fmt.Sprintf("%s/fees/%s", c.baseURL, strings.ToLower(venue))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("withdrawfees api error: %d %s", resp.StatusCode, string(body))
	}

	var raw feesResp
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("withdrawfees decode: %w", err)
	}

	out := make(map[string]model.WithdrawalFee, len(raw.Fees))
	for _, f := range raw.Fees {
		asset := strings.ToUpper(strings.TrimSpace(f.Asset))
		if asset == "" || f.USDFee < 0 {
			continue
		}
		fee := model.WithdrawalFee{
			Venue:   venue,
			Asset:   asset,
			USDFee:  f.USDFee,
			CoinFee: f.CoinFee,
		}
		if c.tradeSize > 0 {
			fee.USDRate = f.USDFee / c.tradeSize
		}
		out[asset] = fee
	}
	return out, nil
}
