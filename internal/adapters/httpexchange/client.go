// Package httpexchange implements contracts.Exchange against a generic
// REST candle API (Binance-shaped klines: one array per candle, numeric
// fields encoded as strings). Adapted from the teacher's Polymarket HTTP
// client (internal/adapters/polymarket/client.go in the source repo): same
// rate-limited, exponential-backoff-with-jitter retry wrapper, generalized
// from CLOB/Gamma REST endpoints to a single candle endpoint.
package httpexchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tripolskypetr/backtest-kit/internal/contracts"
	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxRetries            = 3
	baseRetryWait         = 500 * time.Millisecond
)

var _ contracts.Exchange = (*Client)(nil)

// Client is a rate-limited, retrying HTTP client for one exchange's candle
// REST API.
type Client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter

	pricePrecision    map[string]int
	quantityPrecision map[string]int
}

// NewClient builds a Client against baseURL (e.g. "https://api.exchange.example"),
// allowing ratePerSec requests/second with the given burst.
func NewClient(baseURL string, ratePerSec float64, burst int) *Client {
	return &Client{
		http:              &http.Client{Timeout: defaultRequestTimeout},
		baseURL:           baseURL,
		limiter:           rate.NewLimiter(rate.Limit(ratePerSec), burst),
		pricePrecision:    map[string]int{},
		quantityPrecision: map[string]int{},
	}
}

// SetPrecision overrides the default formatting precision for a symbol
// (spec §4.9 formatPrice/formatQuantity).
func (c *Client) SetPrecision(symbol string, pricePlaces, quantityPlaces int) {
	c.pricePrecision[symbol] = pricePlaces
	c.quantityPrecision[symbol] = quantityPlaces
}

// FormatPrice renders price at the symbol's configured precision (2 decimal
// places by default).
func (c *Client) FormatPrice(symbol string, price float64) string {
	places, ok := c.pricePrecision[symbol]
	if !ok {
		places = 2
	}
	return strconv.FormatFloat(price, 'f', places, 64)
}

// FormatQuantity renders quantity at the symbol's configured precision (6
// decimal places by default).
func (c *Client) FormatQuantity(symbol string, quantity float64) string {
	places, ok := c.quantityPrecision[symbol]
	if !ok {
		places = 6
	}
	return strconv.FormatFloat(quantity, 'f', places, 64)
}

// GetCandles returns the most recent `count` candles for symbol at interval.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, count int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(count))
	return c.getCandles(ctx, q)
}

// GetNextCandles is the backtest-only forward fetch starting at
// fromTimestamp (spec §4.9). inclusiveOfFuture controls whether a candle
// exactly at fromTimestamp is included.
func (c *Client) GetNextCandles(ctx context.Context, symbol, interval string, count int, fromTimestamp int64, inclusiveOfFuture bool) ([]domain.Candle, error) {
	start := fromTimestamp
	if !inclusiveOfFuture {
		start++
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(count))
	q.Set("startTime", strconv.FormatInt(start, 10))
	return c.getCandles(ctx, q)
}

// GetAveragePrice returns the VWAP over the exchange's own default candle
// window for symbol; engine.Engine computes its own VWAP from GetCandles
// directly, so this satisfies the contract for simpler external callers
// without engine depending on it.
func (c *Client) GetAveragePrice(ctx context.Context, ec contracts.ExecutionContext, symbol string) (float64, error) {
	candles, err := c.GetCandles(ctx, symbol, "1m", defaultVWAPWindow)
	if err != nil {
		return 0, fmt.Errorf("httpexchange.GetAveragePrice: %w", err)
	}
	return vwap(candles), nil
}

const defaultVWAPWindow = 5

func vwap(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var weightedSum, totalVolume, closeSum float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		weightedSum += typical * c.Volume
		totalVolume += c.Volume
		closeSum += c.Close
	}
	if totalVolume == 0 {
		return closeSum / float64(len(candles))
	}
	return weightedSum / totalVolume
}

func (c *Client) getCandles(ctx context.Context, q url.Values) ([]domain.Candle, error) {
	var raw [][]json.RawMessage
	endpoint := c.baseURL + "/klines?" + q.Encode()
	if err := c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, &raw); err != nil {
		return nil, fmt.Errorf("httpexchange.getCandles: %w", err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for i, row := range raw {
		candle, err := parseCandleRow(row)
		if err != nil {
			return nil, fmt.Errorf("httpexchange.getCandles: row %d: %w", i, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// parseCandleRow decodes one Binance-shaped kline row:
// [openTime, open, high, low, close, volume, ...].
func parseCandleRow(row []json.RawMessage) (domain.Candle, error) {
	if len(row) < 6 {
		return domain.Candle{}, fmt.Errorf("expected at least 6 fields, got %d", len(row))
	}
	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return domain.Candle{}, fmt.Errorf("openTime: %w", err)
	}
	open, err := parseNumericField(row[1])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("open: %w", err)
	}
	high, err := parseNumericField(row[2])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("high: %w", err)
	}
	low, err := parseNumericField(row[3])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("low: %w", err)
	}
	closePrice, err := parseNumericField(row[4])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("close: %w", err)
	}
	volume, err := parseNumericField(row[5])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("volume: %w", err)
	}

	return domain.Candle{
		Timestamp: openTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

// parseNumericField accepts either a JSON string or a JSON number, since
// exchange REST APIs disagree on which one candle OHLCV fields use.
func parseNumericField(raw json.RawMessage) (float64, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strconv.ParseFloat(asString, 64)
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err != nil {
		return 0, err
	}
	return asNumber, nil
}

// doWithRetry executes fn with rate limiting and exponential backoff with
// jitter, decoding a 2xx JSON body into out.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("httpexchange: rate limited by upstream", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	wait += time.Duration(rand.Int63n(int64(wait)/2 + 1))
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
