package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/config"
	"github.com/cryptodash/autopilot/internal/models"
	"github.com/cryptodash/autopilot/internal/utils"
)

// Client talks to the exchange bridge service over JSON REST. It implements
// both MarketGateway and OrderGateway.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	logger     *logrus.Logger
}

// ErrorResponse is the bridge service's error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type candlesResponse struct {
	Symbol  string          `json:"symbol"`
	Candles []models.Candle `json:"candles"`
}

type priceResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

type orderRequest struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Quantity  float64 `json:"quantity"`
	StopPrice float64 `json:"stop_price,omitempty"`
}

// NewClient creates a bridge client with the per-call timeout from config.
func NewClient(cfg *config.ExchangeConfig, logger *logrus.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		BaseURL: strings.TrimSuffix(cfg.ServiceURL, "/"),
		logger:  logger,
	}
}

// GetCandles retrieves OHLCV bars for a symbol and interval.
func (c *Client) GetCandles(ctx context.Context, symbol string, interval models.Interval, limit int) ([]models.Candle, error) {
	path := fmt.Sprintf("/api/candles/%s?interval=%s&limit=%d", symbol, interval, limit)
	var response candlesResponse
	if err := c.makeRequest(ctx, "GET", path, nil, &response); err != nil {
		return nil, err
	}
	return response.Candles, nil
}

// GetPrice retrieves the latest traded price for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	path := fmt.Sprintf("/api/price/%s", symbol)
	var response priceResponse
	if err := c.makeRequest(ctx, "GET", path, nil, &response); err != nil {
		return 0, err
	}
	if response.Price <= 0 {
		return 0, utils.NewTransientGatewayError("getPrice", fmt.Errorf("non-positive price %.8f for %s", response.Price, symbol))
	}
	return response.Price, nil
}

// GetTopLongShortRatio retrieves top-trader positioning. A 404 from the
// bridge means the venue does not publish the ratio; that returns nil, nil.
func (c *Client) GetTopLongShortRatio(ctx context.Context, symbol, period string) (*models.LongShortRatio, error) {
	path := fmt.Sprintf("/api/long-short-ratio/%s?period=%s", symbol, period)
	var response models.LongShortRatio
	err := c.makeRequest(ctx, "GET", path, nil, &response)
	if err != nil {
		var gw *utils.GatewayError
		if errors.As(err, &gw) && strings.Contains(gw.Err.Error(), "(404)") {
			return nil, nil
		}
		return nil, err
	}
	return &response, nil
}

// PlaceMarket submits a market order and returns the fill.
func (c *Client) PlaceMarket(ctx context.Context, symbol string, side models.Side, qty float64) (*MarketFill, error) {
	req := orderRequest{Symbol: symbol, Side: string(side), Quantity: qty}
	var fill MarketFill
	if err := c.makeRequest(ctx, "POST", "/api/orders/market", req, &fill); err != nil {
		return nil, err
	}
	return &fill, nil
}

// PlaceStop submits a protective stop on the given side.
// PlaceStop rests a stop order on the venue. side is the closing order's
// side, already flipped relative to the position it protects.
func (c *Client) PlaceStop(ctx context.Context, symbol string, side models.Side, qty, stopPrice float64) (*StopAck, error) {
	req := orderRequest{Symbol: symbol, Side: string(side), Quantity: qty, StopPrice: stopPrice}
	var ack StopAck
	if err := c.makeRequest(ctx, "POST", "/api/orders/stop", req, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Flatten market-closes an open position to remove exposure.
func (c *Client) Flatten(ctx context.Context, symbol string, qty float64) error {
	req := orderRequest{Symbol: symbol, Quantity: qty}
	return c.makeRequest(ctx, "POST", "/api/orders/flatten", req, nil)
}

func (c *Client) makeRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.BaseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Autopilot/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return utils.NewTransientGatewayError(method+" "+path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Warn("Error closing response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return utils.NewTransientGatewayError(method+" "+path, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode >= 400 {
		msg := string(respBody)
		var errorResp ErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error != "" {
			msg = errorResp.Error
		}
		wrapped := fmt.Errorf("bridge service error (%d): %s", resp.StatusCode, msg)
		// 401/403 mean credentials were revoked; the supervisor treats
		// that as fatal and enters emergency stop.
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return utils.NewFatalGatewayError(method+" "+path, wrapped)
		}
		return utils.NewTransientGatewayError(method+" "+path, wrapped)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return utils.NewTransientGatewayError(method+" "+path, fmt.Errorf("failed to unmarshal response: %w", err))
		}
	}

	return nil
}
