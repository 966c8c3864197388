package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbot/internal/crypto"
	"github.com/alanyoungcy/arbot/internal/domain"
)

const (
	// connectTimeout bounds TCP connection establishment.
	connectTimeout = 2 * time.Second
	// requestTimeout bounds the whole HTTP exchange.
	requestTimeout = 10 * time.Second

	// amountScale is the fixed-point scale for maker/taker amounts.
	amountScale = 1_000_000

	// maxMarketPages caps pagination during a market listing sweep.
	maxMarketPages = 50
)

// Client is the venue A REST adapter: market listing for sync, and order
// placement/cancel/status for the execution coordinator.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	signer     *crypto.Signer
	httpClient *http.Client

	// markets caches listings keyed by YES token id so NO legs can resolve
	// their complementary token without another round trip.
	marketsMu sync.RWMutex
	markets   map[string]APIMarket
}

// NewClient creates the REST adapter. signer may be nil for read-only use
// (monitor and server modes never place orders).
func NewClient(baseURL string, auth *crypto.HMACAuth, signer *crypto.Signer) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		signer:  signer,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		markets: make(map[string]APIMarket),
	}
}

// Venue implements domain.VenueTrader.
func (c *Client) Venue() domain.Venue { return domain.VenuePolymarket }

// ListMarkets sweeps the paginated markets endpoint and returns active
// binary markets, keyed by their YES token id. The internal market cache
// is refreshed as a side effect.
func (c *Client) ListMarkets(ctx context.Context) ([]domain.VenueMarket, error) {
	var out []domain.VenueMarket
	cursor := ""

	for page := 0; page < maxMarketPages; page++ {
		path := "/markets"
		if cursor != "" {
			path += "?next_cursor=" + url.QueryEscape(cursor)
		}

		body, err := c.do(ctx, http.MethodGet, path, nil, false)
		if err != nil {
			return nil, fmt.Errorf("polymarket: list markets: %w", err)
		}

		var resp marketsResponse
		if err := decodeRaw(body, &resp, "markets"); err != nil {
			return nil, err
		}

		for _, m := range resp.Data {
			if !m.Active || m.Closed || len(m.Tokens) != 2 {
				continue
			}
			yes := m.yesTokenID()
			if yes == "" {
				continue
			}
			c.marketsMu.Lock()
			c.markets[yes] = m
			c.marketsMu.Unlock()

			out = append(out, domain.VenueMarket{
				Venue:       domain.VenuePolymarket,
				MarketID:    yes,
				Title:       m.Question,
				Description: m.Description,
				Outcomes:    [2]string{"Yes", "No"},
			})
		}

		if resp.NextCursor == "" || resp.NextCursor == "LTE=" {
			break
		}
		cursor = resp.NextCursor
	}

	return out, nil
}

// PlaceOrder signs and submits a buy order for the requested outcome. The
// MarketID in the request is the market's YES token id; NO legs resolve
// the complementary token from the market cache populated by sync.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if c.signer == nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket: place order: %w", domain.ErrUnauthorized)
	}
	if req.Price < 0 || req.Price > 1 || req.Size <= 0 {
		return domain.OrderResult{}, fmt.Errorf("polymarket: %w: price=%v size=%v", domain.ErrInvalidOrder, req.Price, req.Size)
	}

	tokenID, err := c.resolveToken(req.MarketID, req.Side)
	if err != nil {
		return domain.OrderResult{}, err
	}

	makerAmount := new(big.Int).SetInt64(int64(req.Size * req.Price * amountScale))
	takerAmount := new(big.Int).SetInt64(int64(req.Size * amountScale))
	addr := c.signer.Address().Hex()

	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(time.Now().UnixNano(), 10),
		Maker:         addr,
		Signer:        addr,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       tokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0, // BUY
		SignatureType: 0,
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket: sign order: %w", err)
	}

	reqBody := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          "BUY",
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.auth.Key,
		"orderType": "FOK",
		"clientId":  uuid.New().String(),
	}

	body, err := c.do(ctx, http.MethodPost, "/order", reqBody, true)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket: place order: %w", err)
	}

	var resp postOrderResponse
	if err := decodeRaw(body, &resp, "order response"); err != nil {
		return domain.OrderResult{}, err
	}
	if !resp.Success {
		return domain.OrderResult{
			Status:  domain.OrderStatusRejected,
			Message: resp.ErrorMsg,
		}, fmt.Errorf("polymarket: order rejected: %s", resp.ErrorMsg)
	}

	return domain.OrderResult{
		OrderID: resp.OrderID,
		Status:  mapOrderStatus(resp.Status),
	}, nil
}

// CancelOrder cancels an existing order by its venue id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	reqBody := map[string]string{"orderID": orderID}
	if _, err := c.do(ctx, http.MethodDelete, "/order", reqBody, true); err != nil {
		return fmt.Errorf("polymarket: cancel order %s: %w", orderID, err)
	}
	return nil
}

// OrderStatus queries the venue state of a placed order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "/data/order/"+url.PathEscape(orderID), nil, true)
	if err != nil {
		return domain.OrderStatusUnknown, fmt.Errorf("polymarket: order status %s: %w", orderID, err)
	}

	var resp openOrderResponse
	if err := decodeRaw(body, &resp, "order status"); err != nil {
		return domain.OrderStatusUnknown, err
	}
	return mapOrderStatus(resp.Status), nil
}

// resolveToken maps (YES token id, side) to the token actually bought.
func (c *Client) resolveToken(marketID string, side domain.Outcome) (string, error) {
	if side == domain.OutcomeYes {
		return marketID, nil
	}
	c.marketsMu.RLock()
	m, ok := c.markets[marketID]
	c.marketsMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("polymarket: %w: market %s not in sync cache", domain.ErrNotFound, marketID)
	}
	token := m.tokenFor(side)
	if token == "" {
		return "", fmt.Errorf("polymarket: market %s has no %s token", marketID, side)
	}
	return token, nil
}

func mapOrderStatus(s string) domain.OrderStatus {
	switch s {
	case "live", "LIVE", "open", "OPEN":
		return domain.OrderStatusOpen
	case "matched", "MATCHED", "filled", "FILLED":
		return domain.OrderStatusFilled
	case "canceled", "CANCELED", "cancelled", "CANCELLED":
		return domain.OrderStatusCancelled
	case "rejected", "REJECTED", "unmatched", "UNMATCHED":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusUnknown
	}
}

// do builds, optionally authenticates, sends, and reads an HTTP request.
func (c *Client) do(ctx context.Context, method, path string, reqBody any, authed bool) ([]byte, error) {
	var bodyReader io.Reader
	bodyStr := ""
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if authed && c.auth != nil {
		addr := ""
		if c.signer != nil {
			addr = c.signer.Address().Hex()
		}
		for k, v := range c.auth.Headers(addr, method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrUnauthorized)
		case http.StatusNotFound:
			return nil, fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrNotFound)
		default:
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
	}
	return respBody, nil
}
