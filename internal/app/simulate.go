package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"pool-price-alerts/internal/chain"
	"pool-price-alerts/internal/pricing"
	"pool-price-alerts/internal/sampler"
	"pool-price-alerts/internal/service"
	"pool-price-alerts/internal/storage"
)

// SimulateOptions describe a scripted price path.
type SimulateOptions struct {
	Prices        []decimal.Decimal
	QuoteReserves []decimal.Decimal
	StartBlock    uint64
	CSVPath       string
}

const (
	simQuoteDecimals = 6
	simBaseDecimals  = 18
)

var simDefaultQuoteReserve = decimal.NewFromInt(20_000_000)

// Simulate replays a price path block by block through the live processing pipeline.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if len(opts.Prices) == 0 {
		return errors.New("at least one price is required")
	}
	if len(opts.QuoteReserves) != 0 && len(opts.QuoteReserves) != len(opts.Prices) {
		return fmt.Errorf("got %d quote reserves for %d prices", len(opts.QuoteReserves), len(opts.Prices))
	}
	if opts.StartBlock == 0 {
		opts.StartBlock = 1
	}

	reader, err := newScriptedReader(opts)
	if err != nil {
		return err
	}

	pair := pricing.Resolve(
		pricing.Token{Address: common.HexToAddress("0x01"), Symbol: a.Config.Pool.QuoteSymbol, Decimals: simQuoteDecimals},
		pricing.Token{Address: common.HexToAddress("0x02"), Symbol: a.Config.Pool.BaseSymbol, Decimals: simBaseDecimals},
		a.Config.Pool.BaseSymbol,
		a.Config.Pool.QuoteSymbol,
	)

	var sinks []storage.Sink
	if opts.CSVPath != "" {
		sinks = append(sinks, storage.NewCSVLog(opts.CSVPath))
	}

	svcOpts := a.serviceOptions()
	svcOpts.Pool = "simulated"
	svc := service.New(svcOpts, service.Dependencies{
		Sampler:  sampler.New(reader, nil),
		Pair:     pair,
		Sinks:    sinks,
		Notifier: a.newNotifier(),
		Out:      a.Out,
	}, a.Logger)

	for i := range opts.Prices {
		if err := ctx.Err(); err != nil {
			return err
		}
		reader.head = opts.StartBlock + uint64(i)
		if _, err := svc.Poll(ctx); err != nil {
			a.Logger.Warn().Err(err).Uint64("block", reader.head).Msg("simulated block dropped")
		}
	}
	return nil
}

// scriptedReader serves a fixed reserve path, one entry per block.
type scriptedReader struct {
	start    uint64
	head     uint64
	reserves []chain.Reserves
}

func newScriptedReader(opts SimulateOptions) (*scriptedReader, error) {
	r := &scriptedReader{start: opts.StartBlock, head: opts.StartBlock}
	for i, price := range opts.Prices {
		if !price.IsPositive() {
			return nil, fmt.Errorf("price #%d must be positive, got %s", i+1, price)
		}
		quote := simDefaultQuoteReserve
		if len(opts.QuoteReserves) > 0 {
			quote = opts.QuoteReserves[i]
			if !quote.IsPositive() {
				return nil, fmt.Errorf("quote reserve #%d must be positive, got %s", i+1, quote)
			}
		}
		base := quote.DivRound(price, simBaseDecimals)
		r.reserves = append(r.reserves, chain.Reserves{
			Reserve0: quote.Shift(simQuoteDecimals).BigInt(),
			Reserve1: base.Shift(simBaseDecimals).BigInt(),
		})
	}
	return r, nil
}

func (r *scriptedReader) BlockNumber(ctx context.Context) (uint64, error) {
	return r.head, nil
}

func (r *scriptedReader) Reserves(ctx context.Context, block uint64) (chain.Reserves, error) {
	if block < r.start || block-r.start >= uint64(len(r.reserves)) {
		return chain.Reserves{}, fmt.Errorf("block %d outside scripted range", block)
	}
	return r.reserves[block-r.start], nil
}

var _ chain.Reader = (*scriptedReader)(nil)
