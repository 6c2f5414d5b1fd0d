package fetcher

import (
	"context"
	"errors"
	"strings"
)

// ErrPriceUnavailable reports that a source had no usable quote for the symbol.
var ErrPriceUnavailable = errors.New("price unavailable")

// PriceSource retrieves the current USD price for a token symbol.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// Token carries the per-provider identifiers of a tradable symbol.
type Token struct {
	Symbol        string
	CoinGeckoID   string
	Mint          string
	ChainlinkFeed string
}

// Directory resolves symbols to provider identifiers. Keys are upper-case symbols.
type Directory map[string]Token

// Lookup finds a token by symbol, case-insensitively.
func (d Directory) Lookup(symbol string) (Token, bool) {
	tok, ok := d[strings.ToUpper(symbol)]
	return tok, ok
}

// Static serves fixed prices, keyed by upper-case symbol.
type Static map[string]float64

// Price returns the configured price or ErrPriceUnavailable.
func (s Static) Price(_ context.Context, symbol string) (float64, error) {
	price, ok := s[strings.ToUpper(symbol)]
	if !ok || price <= 0 {
		return 0, ErrPriceUnavailable
	}
	return price, nil
}

var _ PriceSource = Static(nil)
