package fetcher

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const solanaPubkeyLen = 32

// Jupiter quotes Solana SPL token prices by mint address.
type Jupiter struct {
	httpSource
	tokens Directory
}

// NewJupiter constructs a Jupiter price source.
func NewJupiter(opts HTTPOptions, tokens Directory, logger zerolog.Logger) *Jupiter {
	return &Jupiter{
		httpSource: newHTTPSource("jupiter", "https://api.jup.ag/price/v2", opts, logger),
		tokens:     tokens,
	}
}

type jupiterPriceResponse struct {
	Data map[string]*struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Price string `json:"price"`
	} `json:"data"`
}

// Price fetches the USD price for the symbol's mint.
func (j *Jupiter) Price(ctx context.Context, symbol string) (float64, error) {
	tok, ok := j.tokens.Lookup(symbol)
	if !ok || tok.Mint == "" {
		return 0, fmt.Errorf("%w: no solana mint for %s", ErrPriceUnavailable, symbol)
	}
	if err := ValidateMint(tok.Mint); err != nil {
		return 0, err
	}

	query := url.Values{}
	query.Set("ids", tok.Mint)

	var res jupiterPriceResponse
	if err := j.getJSON(ctx, "", query, nil, &res); err != nil {
		return 0, err
	}

	entry := res.Data[tok.Mint]
	if entry == nil || entry.Price == "" {
		return 0, fmt.Errorf("%w: jupiter returned no price for %s", ErrPriceUnavailable, tok.Mint)
	}

	price, err := decimal.NewFromString(entry.Price)
	if err != nil {
		return 0, fmt.Errorf("parse jupiter price: %w", err)
	}
	if !price.IsPositive() {
		return 0, fmt.Errorf("%w: jupiter returned non-positive price for %s", ErrPriceUnavailable, tok.Mint)
	}

	j.logger.Debug().Str("symbol", tok.Symbol).Str("price", price.String()).Msg("quote received")
	return price.InexactFloat64(), nil
}

// ValidateMint checks that mint is a base58-encoded 32-byte Solana public key.
func ValidateMint(mint string) error {
	raw, err := base58.Decode(mint)
	if err != nil {
		return fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	if len(raw) != solanaPubkeyLen {
		return fmt.Errorf("invalid mint %q: decoded to %d bytes, want %d", mint, len(raw), solanaPubkeyLen)
	}
	return nil
}

var _ PriceSource = (*Jupiter)(nil)
