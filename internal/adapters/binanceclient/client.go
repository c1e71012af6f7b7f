package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"backtester/internal/domain"
	"backtester/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// maxLimit is the largest page the klines endpoint serves.
	maxLimit = 1500
)

// Client implements the ports.MarketDataClient interface using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // Overrides the production/testnet URL when set
	Logger     ports.Logger
}

// New creates a new Binance market data client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Debug(context.Background(), "APIKey or SecretKey is empty, using public endpoints only")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{
		"baseURL": client.BaseURL,
		"testnet": cfg.UseTestnet,
	})

	return &Client{futuresClient: client, logger: cfg.Logger}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mapAPIError(apiErr.Code), err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else if errors.Is(err, ports.ErrMalformedData) {
		finalErr = fmt.Errorf("%s failed: %w", operation, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

func mapAPIError(code int64) error {
	switch code {
	case -1003: // Too many requests
		return ports.ErrRateLimited
	case -1021: // Timestamp for this request is outside of the recvWindow
		return ports.ErrTimeout
	case -1022, -2014, -2015: // Signature or API-key problems
		return ports.ErrAuthenticationFailed
	case -1120, -1121: // Invalid interval, invalid symbol
		return ports.ErrInvalidSymbol
	case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1125, -1127, -1128, -1130:
		return ports.ErrInvalidRequest
	case -1001, -1007, -1008: // Disconnected, timeout waiting for backend, server busy
		return ports.ErrExchangeUnavailable
	default:
		return ports.ErrUnknown
	}
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	serverTimeMs, err := c.futuresClient.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(serverTimeMs).UTC(), nil
}

// GetBars retrieves the most recent bars for the given symbol.
func (c *Client) GetBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error) {
	op := "GetBars"
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	klines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	bars, err := translateKlines(klines)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return bars, nil
}

// GetBarsRange fetches all bars for a symbol/interval between start and end time.
// Pages are requested until a short page arrives or the range is exhausted.
func (c *Client) GetBarsRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error) {
	op := "GetBarsRange"
	if !end.After(start) {
		return nil, fmt.Errorf("%s failed: %w: end %s is not after start %s", op, ports.ErrInvalidRequest, end, start)
	}

	var all []domain.Bar
	from := start
	for page := 0; ; page++ {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		bars, err := translateKlines(klines)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		all = appendNewer(all, bars)

		c.logger.Debug(ctx, "Fetched bar page", map[string]interface{}{
			"symbol": symbol, "page": page, "count": len(bars), "total": len(all),
		})

		// Next page starts right after the last close time
		from = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		if !from.Before(end) || len(klines) < maxLimit {
			break
		}
	}

	return all, nil
}

// appendNewer appends only bars later than the current tail, dropping page overlaps.
func appendNewer(dst, src []domain.Bar) []domain.Bar {
	for _, b := range src {
		if n := len(dst); n > 0 && !b.Timestamp.After(dst[n-1].Timestamp) {
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

func translateKlines(klines []*futures.Kline) ([]domain.Bar, error) {
	bars := make([]domain.Bar, 0, len(klines))
	for _, bk := range klines {
		bar, err := translateBinanceKline(bk)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ports.ErrMalformedData, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// translateBinanceKline converts a historical kline into a bar stamped at its open time.
func translateBinanceKline(bk *futures.Kline) (domain.Bar, error) {
	if bk == nil {
		return domain.Bar{}, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return domain.Bar{
		Timestamp: time.UnixMilli(bk.OpenTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}
