package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorV3ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ChainlinkOptions parameterise the on-chain feed reader.
type ChainlinkOptions struct {
	RPCURL       string
	Timeout      time.Duration
	MaxStaleness time.Duration
}

// Chainlink reads USD prices from Chainlink AggregatorV3 feeds over Ethereum JSON-RPC.
type Chainlink struct {
	opts      ChainlinkOptions
	tokens    Directory
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	decimals  sync.Map
}

// NewChainlink builds a feed reader. Feeds are resolved through the token directory.
func NewChainlink(opts ChainlinkOptions, tokens Directory, logger zerolog.Logger) *Chainlink {
	return &Chainlink{opts: opts, tokens: tokens, logger: logger.With().Str("component", "chainlink_fetcher").Logger()}
}

// Price returns the latest feed answer for symbol.
func (c *Chainlink) Price(ctx context.Context, symbol string) (float64, error) {
	if c.opts.RPCURL == "" {
		return 0, errors.New("chainlink rpc url not configured")
	}
	tok, ok := c.tokens.Lookup(symbol)
	if !ok || tok.ChainlinkFeed == "" {
		return 0, fmt.Errorf("%w: no chainlink feed for %s", ErrPriceUnavailable, symbol)
	}
	if !common.IsHexAddress(tok.ChainlinkFeed) {
		return 0, fmt.Errorf("invalid chainlink feed address %q", tok.ChainlinkFeed)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return 0, err
	}

	feed := common.HexToAddress(tok.ChainlinkFeed)
	places, err := c.feedDecimals(ctx, client, feed)
	if err != nil {
		return 0, err
	}

	payload, err := aggregatorV3ABI.Pack("latestRoundData")
	if err != nil {
		return 0, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: payload}, nil)
	if err != nil {
		return 0, fmt.Errorf("call latestRoundData: %w", err)
	}

	outputs, err := aggregatorV3ABI.Unpack("latestRoundData", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 5 {
		return 0, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return 0, errors.New("failed to decode latestRoundData answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return 0, errors.New("failed to decode latestRoundData updatedAt")
	}

	if c.opts.MaxStaleness > 0 {
		age := time.Since(time.Unix(updatedAt.Int64(), 0))
		if age > c.opts.MaxStaleness {
			return 0, fmt.Errorf("%w: chainlink feed for %s is %s old", ErrPriceUnavailable, tok.Symbol, age.Truncate(time.Second))
		}
	}

	price := decimal.NewFromBigInt(answer, -int32(places))
	if !price.IsPositive() {
		return 0, fmt.Errorf("%w: chainlink feed for %s returned %s", ErrPriceUnavailable, tok.Symbol, price.String())
	}

	return price.InexactFloat64(), nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, client *ethclient.Client, feed common.Address) (uint8, error) {
	if cached, ok := c.decimals.Load(feed); ok {
		return cached.(uint8), nil
	}

	payload, err := aggregatorV3ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: payload}, nil)
	if err != nil {
		return 0, fmt.Errorf("call decimals: %w", err)
	}
	outputs, err := aggregatorV3ABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	places, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	c.decimals.Store(feed, places)
	return places, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ PriceSource = (*Chainlink)(nil)
