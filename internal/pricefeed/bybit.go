package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	engerr "github.com/ducminhle1904/futures-sim-engine/internal/errors"
	"github.com/ducminhle1904/futures-sim-engine/internal/instrument"
	"github.com/ducminhle1904/futures-sim-engine/pkg/types"
)

// BybitConfig holds the connection settings for the Bybit market-data feed.
// Market data endpoints are public; keys are only needed when the same client
// is reused for private calls.
type BybitConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Category  string // "linear" for USDT perpetuals
}

// BybitFeed reads mark prices and klines from Bybit's v5 market endpoints.
type BybitFeed struct {
	httpClient *bybit_api.Client
	category   string
	limiter    *tokenBucket
}

// NewBybitFeed creates a feed against mainnet or testnet.
func NewBybitFeed(cfg BybitConfig) *BybitFeed {
	baseURL := bybit_api.MAINNET
	if cfg.Testnet {
		baseURL = bybit_api.TESTNET
	}
	if cfg.Category == "" {
		cfg.Category = "linear"
	}
	return &BybitFeed{
		httpClient: bybit_api.NewBybitHttpClient(cfg.APIKey, cfg.APISecret, bybit_api.WithBaseURL(baseURL)),
		category:   cfg.Category,
		limiter:    newTokenBucket(10, 10),
	}
}

// CurrentPrice returns the last traded price for a symbol.
func (f *BybitFeed) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := f.limiter.wait(ctx); err != nil {
		return 0, engerr.NewPriceError("pricefeed", "current_price", err)
	}
	params := map[string]interface{}{
		"category": f.category,
		"symbol":   symbol,
	}
	result, err := f.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return 0, engerr.NewPriceError("pricefeed", "current_price", err)
	}

	resultBytes, err := unwrapResult(result)
	if err != nil {
		return 0, engerr.NewPriceError("pricefeed", "current_price", err)
	}

	var tickers struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &tickers); err != nil {
		return 0, engerr.NewPriceError("pricefeed", "current_price", fmt.Errorf("failed to unmarshal ticker result: %w", err))
	}
	if len(tickers.List) == 0 {
		return 0, fmt.Errorf("%w: no ticker data for %s", engerr.ErrPriceUnavailable, symbol)
	}
	return parseFloat64(tickers.List[0].LastPrice), nil
}

// RecentOHLC returns up to lookback candles, oldest first. Bybit serves
// klines newest first; the order is reversed here so the sizer's window
// arithmetic reads naturally.
func (f *BybitFeed) RecentOHLC(ctx context.Context, symbol string, interval string, lookback int) ([]types.OHLCV, error) {
	if lookback <= 0 || lookback > 1000 {
		lookback = 200
	}
	if err := f.limiter.wait(ctx); err != nil {
		return nil, engerr.NewPriceError("pricefeed", "recent_ohlc", err)
	}
	params := map[string]interface{}{
		"category": f.category,
		"symbol":   symbol,
		"interval": interval,
		"limit":    lookback,
	}
	result, err := f.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return nil, engerr.NewPriceError("pricefeed", "recent_ohlc", err)
	}

	resultBytes, err := unwrapResult(result)
	if err != nil {
		return nil, engerr.NewPriceError("pricefeed", "recent_ohlc", err)
	}

	var klines struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &klines); err != nil {
		return nil, engerr.NewPriceError("pricefeed", "recent_ohlc", fmt.Errorf("failed to unmarshal kline result: %w", err))
	}

	candles := make([]types.OHLCV, 0, len(klines.List))
	// Bybit kline format: [startTime, open, high, low, close, volume, turnover]
	for i := len(klines.List) - 1; i >= 0; i-- {
		item := klines.List[i]
		if len(item) < 6 {
			continue
		}
		candles = append(candles, types.OHLCV{
			Timestamp: time.UnixMilli(parseInt64(item[0])),
			Open:      parseFloat64(item[1]),
			High:      parseFloat64(item[2]),
			Low:       parseFloat64(item[3]),
			Close:     parseFloat64(item[4]),
			Volume:    parseFloat64(item[5]),
		})
	}
	return candles, nil
}

// FetchInstrument retrieves trading constraints for a symbol, shaped for the
// instrument manager's FetchFunc.
func (f *BybitFeed) FetchInstrument(ctx context.Context, symbol string) (instrument.Info, error) {
	if err := f.limiter.wait(ctx); err != nil {
		return instrument.Info{}, err
	}
	params := map[string]interface{}{
		"category": f.category,
		"symbol":   symbol,
	}
	result, err := f.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return instrument.Info{}, fmt.Errorf("failed to get instrument info: %w", err)
	}

	resultBytes, err := unwrapResult(result)
	if err != nil {
		return instrument.Info{}, err
	}

	var infoResult struct {
		List []struct {
			Symbol         string `json:"symbol"`
			LeverageFilter struct {
				MaxLeverage string `json:"maxLeverage"`
			} `json:"leverageFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				MinNotionalValue string `json:"minNotionalValue"`
				MinOrderQty      string `json:"minOrderQty"`
				QtyStep          string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &infoResult); err != nil {
		return instrument.Info{}, fmt.Errorf("failed to unmarshal instrument result: %w", err)
	}
	if len(infoResult.List) == 0 {
		return instrument.Info{}, fmt.Errorf("no instrument info for %s", symbol)
	}

	raw := infoResult.List[0]
	return instrument.Info{
		Symbol:      raw.Symbol,
		QtyStep:     parseFloat64(raw.LotSizeFilter.QtyStep),
		MinOrderQty: parseFloat64(raw.LotSizeFilter.MinOrderQty),
		MinNotional: parseFloat64(raw.LotSizeFilter.MinNotionalValue),
		TickSize:    parseFloat64(raw.PriceFilter.TickSize),
		MaxLeverage: int(parseFloat64(raw.LeverageFilter.MaxLeverage)),
	}, nil
}

// unwrapResult validates a v5 envelope and re-marshals its result payload.
func unwrapResult(response interface{}) ([]byte, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("invalid response type")
	}
	if serverResp.RetCode != 0 {
		return nil, fmt.Errorf("API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode)
	}
	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return resultBytes, nil
}

func parseFloat64(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
