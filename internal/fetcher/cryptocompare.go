package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// CryptoCompare quotes spot USD prices from min-api.cryptocompare.com.
type CryptoCompare struct {
	httpSource
}

// NewCryptoCompare constructs a CryptoCompare source.
func NewCryptoCompare(opts HTTPOptions, logger zerolog.Logger) *CryptoCompare {
	return &CryptoCompare{httpSource: newHTTPSource("cryptocompare", "https://min-api.cryptocompare.com", opts, logger)}
}

type cryptoComparePrice struct {
	USD      *float64 `json:"USD"`
	Response string   `json:"Response"`
	Message  string   `json:"Message"`
}

// Price fetches the USD price for symbol.
func (c *CryptoCompare) Price(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("cryptocompare: empty symbol")
	}

	query := url.Values{}
	query.Set("fsym", symbol)
	query.Set("tsyms", "USD")

	header := http.Header{}
	if c.opts.APIKey != "" {
		header.Set("Authorization", "Apikey "+c.opts.APIKey)
	}

	var res cryptoComparePrice
	if err := c.getJSON(ctx, "/data/price", query, header, &res); err != nil {
		return 0, err
	}
	if strings.EqualFold(res.Response, "Error") {
		return 0, fmt.Errorf("%w: cryptocompare %s: %s", ErrPriceUnavailable, symbol, res.Message)
	}
	if res.USD == nil || *res.USD <= 0 {
		return 0, fmt.Errorf("%w: cryptocompare returned no USD quote for %s", ErrPriceUnavailable, symbol)
	}

	c.logger.Debug().Str("symbol", symbol).Float64("price", *res.USD).Msg("quote received")
	return *res.USD, nil
}

var _ PriceSource = (*CryptoCompare)(nil)
