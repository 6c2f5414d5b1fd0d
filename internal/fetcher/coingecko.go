package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
)

// CoinGecko quotes USD prices from the simple/price endpoint, resolving symbols through a Directory.
type CoinGecko struct {
	httpSource
	tokens Directory
}

// NewCoinGecko constructs a CoinGecko source.
func NewCoinGecko(opts HTTPOptions, tokens Directory, logger zerolog.Logger) *CoinGecko {
	return &CoinGecko{
		httpSource: newHTTPSource("coingecko", "https://api.coingecko.com/api/v3", opts, logger),
		tokens:     tokens,
	}
}

// Price fetches the USD price for symbol.
func (c *CoinGecko) Price(ctx context.Context, symbol string) (float64, error) {
	tok, ok := c.tokens.Lookup(symbol)
	if !ok || tok.CoinGeckoID == "" {
		return 0, fmt.Errorf("%w: no coingecko id for %s", ErrPriceUnavailable, symbol)
	}

	query := url.Values{}
	query.Set("ids", tok.CoinGeckoID)
	query.Set("vs_currencies", "usd")

	header := http.Header{}
	if c.opts.APIKey != "" {
		header.Set("x-cg-demo-api-key", c.opts.APIKey)
	}

	var res map[string]map[string]float64
	if err := c.getJSON(ctx, "/simple/price", query, header, &res); err != nil {
		return 0, err
	}

	price := res[tok.CoinGeckoID]["usd"]
	if price <= 0 {
		return 0, fmt.Errorf("%w: coingecko returned no usd quote for %s", ErrPriceUnavailable, tok.CoinGeckoID)
	}

	c.logger.Debug().Str("symbol", tok.Symbol).Float64("price", price).Msg("quote received")
	return price, nil
}

var _ PriceSource = (*CoinGecko)(nil)
