package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbot/internal/domain"
)

const (
	// connectTimeout bounds TCP connection establishment.
	connectTimeout = 2 * time.Second
	// requestTimeout bounds the whole HTTP exchange.
	requestTimeout = 10 * time.Second

	// maxMarketPages caps pagination during a market listing sweep.
	maxMarketPages = 50
)

// Client is the venue B REST adapter. Requests are signed with
// RSA-PSS-SHA256 over timestamp + method + path.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
}

// NewClient creates the REST adapter.
func NewClient(baseURL, apiKeyID string) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKeyID: apiKeyID,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// Venue implements domain.VenueTrader.
func (c *Client) Venue() domain.Venue { return domain.VenueKalshi }

// ListMarkets sweeps the paginated markets endpoint and returns open
// markets for the resolver.
func (c *Client) ListMarkets(ctx context.Context) ([]domain.VenueMarket, error) {
	var out []domain.VenueMarket
	cursor := ""

	for page := 0; page < maxMarketPages; page++ {
		params := url.Values{}
		params.Set("limit", "1000")
		params.Set("status", "open")
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		path := "/markets?" + params.Encode()

		body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("kalshi: list markets: %w", err)
		}

		var resp struct {
			Markets []KalshiMarket `json:"markets"`
			Cursor  string         `json:"cursor"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("kalshi: decode markets: %w", err)
		}

		for _, m := range resp.Markets {
			if m.Status != "open" {
				continue
			}
			out = append(out, domain.VenueMarket{
				Venue:       domain.VenueKalshi,
				MarketID:    m.Ticker,
				Title:       m.Title,
				Description: m.Subtitle,
				Outcomes:    [2]string{"Yes", "No"},
			})
		}

		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	return out, nil
}

// PlaceOrder submits a limit buy for the requested side. Prices convert to
// whole cents; fractional-cent limits round down so the order never pays
// more than the detection price.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Price < 0 || req.Price > 1 || req.Size <= 0 {
		return domain.OrderResult{}, fmt.Errorf("kalshi: %w: price=%v size=%v", domain.ErrInvalidOrder, req.Price, req.Size)
	}

	cents := int64(math.Floor(req.Price * 100))
	if cents < 1 {
		cents = 1
	}
	if cents > 99 {
		cents = 99
	}

	order := KalshiOrder{
		Ticker:        req.MarketID,
		ClientOrderID: uuid.New().String(),
		Action:        "buy",
		Type:          "limit",
		Count:         int64(req.Size),
	}
	if req.Side == domain.OutcomeYes {
		order.Side = "yes"
		order.YesPrice = &cents
	} else {
		order.Side = "no"
		order.NoPrice = &cents
	}

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/portfolio/orders", order)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: place order: %w", err)
	}

	var resp KalshiOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: decode order response: %w", err)
	}

	if resp.Order.Status == "canceled" {
		return domain.OrderResult{
			OrderID: resp.Order.OrderID,
			Status:  domain.OrderStatusCancelled,
			Message: "order was immediately cancelled",
		}, fmt.Errorf("kalshi: order was immediately cancelled")
	}

	return domain.OrderResult{
		OrderID: resp.Order.OrderID,
		Status:  mapOrderStatus(resp.Order.Status),
	}, nil
}

// CancelOrder cancels an existing order by its id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := "/portfolio/orders/" + url.PathEscape(orderID)
	if _, err := c.doSignedRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}
	return nil
}

// OrderStatus queries the venue state of a placed order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	path := "/portfolio/orders/" + url.PathEscape(orderID)

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.OrderStatusUnknown, fmt.Errorf("kalshi: order status %s: %w", orderID, err)
	}

	var resp KalshiOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderStatusUnknown, fmt.Errorf("kalshi: decode order status: %w", err)
	}
	return mapOrderStatus(resp.Order.Status), nil
}

func mapOrderStatus(s string) domain.OrderStatus {
	switch s {
	case "resting", "pending":
		return domain.OrderStatusOpen
	case "executed":
		return domain.OrderStatusFilled
	case "canceled", "cancelled":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusUnknown
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest builds, signs, sends, and reads an HTTP request.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
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

	if err := c.signRequest(req, method, path); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
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

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// signRequest adds RSA authentication headers. The signed message is
// timestamp + method + path (query string excluded).
func (c *Client) signRequest(req *http.Request, method, path string) error {
	if c.privateKey == nil {
		return fmt.Errorf("kalshi: RSA private key not configured")
	}

	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + method + path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr KalshiErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("kalshi: %w: %s (%s)", domain.ErrNotFound, apiErr.Message, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("kalshi: %w: %s (%s)", domain.ErrUnauthorized, apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("kalshi: rate limited: %s (%s)", apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
