package chain

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
)

const (
	pairABIJSON = `[
{"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"reserve0","type":"uint112"},{"internalType":"uint112","name":"reserve1","type":"uint112"},{"internalType":"uint32","name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

	erc20ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

	// some early tokens (MKR, SAI) return symbol as bytes32
	erc20Bytes32ABIJSON = `[
{"inputs":[],"name":"symbol","outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"stateMutability":"view","type":"function"}
]`
)

var (
	pairABI         abi.ABI
	erc20ABI        abi.ABI
	erc20Bytes32ABI abi.ABI
)

func init() {
	pairABI = mustParseABI("uniswap v2 pair", pairABIJSON)
	erc20ABI = mustParseABI("erc20", erc20ABIJSON)
	erc20Bytes32ABI = mustParseABI("erc20 bytes32", erc20Bytes32ABIJSON)
}

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}

// Backend is the subset of ethclient.Client used by the pair reader.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Reader is the chain capability consumed by the reserve sampler.
type Reader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Reserves(ctx context.Context, block uint64) (Reserves, error)
}

// Reserves is the raw getReserves reply.
type Reserves struct {
	Reserve0           *big.Int
	Reserve1           *big.Int
	BlockTimestampLast uint32
}

// TokenMeta is the ERC-20 metadata needed for price derivation.
type TokenMeta struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// PairOptions parameterise the pair reader.
type PairOptions struct {
	RPCURL      string
	PairAddress string
	Timeout     time.Duration
}

// Pair reads a Uniswap V2 style pair over JSON-RPC.
type Pair struct {
	opts      PairOptions
	logger    zerolog.Logger
	backend   Backend
	closer    func()
	clientMux sync.Mutex
}

// NewPair builds a pair reader that dials lazily on first use.
func NewPair(opts PairOptions, logger zerolog.Logger) *Pair {
	return &Pair{opts: opts, logger: logger.With().Str("component", "pair_reader").Logger()}
}

// NewPairWithBackend builds a pair reader over an existing backend.
func NewPairWithBackend(opts PairOptions, backend Backend, logger zerolog.Logger) *Pair {
	p := NewPair(opts, logger)
	p.backend = backend
	return p
}

// Address returns the configured pair address.
func (p *Pair) Address() common.Address {
	return common.HexToAddress(p.opts.PairAddress)
}

// BlockNumber returns the current chain height.
func (p *Pair) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	backend, err := p.getBackend(ctx)
	if err != nil {
		return 0, err
	}
	return backend.BlockNumber(ctx)
}

// ChainID returns the connected network's chain id.
func (p *Pair) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	backend, err := p.getBackend(ctx)
	if err != nil {
		return nil, err
	}
	return backend.ChainID(ctx)
}

// Reserves reads getReserves pinned to the given block.
func (p *Pair) Reserves(ctx context.Context, block uint64) (Reserves, error) {
	outputs, err := p.call(ctx, p.Address(), pairABI, "getReserves", new(big.Int).SetUint64(block))
	if err != nil {
		return Reserves{}, err
	}
	if len(outputs) != 3 {
		return Reserves{}, fmt.Errorf("unexpected getReserves response: %d values", len(outputs))
	}

	r0, ok0 := outputs[0].(*big.Int)
	r1, ok1 := outputs[1].(*big.Int)
	ts, ok2 := outputs[2].(uint32)
	if !ok0 || !ok1 || !ok2 || r0 == nil || r1 == nil {
		return Reserves{}, errors.New("failed to decode getReserves output")
	}

	return Reserves{Reserve0: r0, Reserve1: r1, BlockTimestampLast: ts}, nil
}

// Tokens returns the pair's token0 and token1 addresses.
func (p *Pair) Tokens(ctx context.Context) (common.Address, common.Address, error) {
	token0, err := p.address(ctx, "token0")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	token1, err := p.address(ctx, "token1")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return token0, token1, nil
}

// TokenMeta reads symbol and decimals of an ERC-20 token.
func (p *Pair) TokenMeta(ctx context.Context, token common.Address) (TokenMeta, error) {
	symbol, err := p.symbol(ctx, token)
	if err != nil {
		return TokenMeta{}, fmt.Errorf("symbol of %s: %w", token.Hex(), err)
	}

	outputs, err := p.call(ctx, token, erc20ABI, "decimals", nil)
	if err != nil {
		return TokenMeta{}, fmt.Errorf("decimals of %s: %w", token.Hex(), err)
	}
	if len(outputs) != 1 {
		return TokenMeta{}, errors.New("unexpected decimals response")
	}
	decimals, ok := outputs[0].(uint8)
	if !ok {
		return TokenMeta{}, errors.New("failed to decode decimals output")
	}

	return TokenMeta{Address: token, Symbol: symbol, Decimals: decimals}, nil
}

// Close releases the underlying RPC client when this reader dialed it.
func (p *Pair) Close() {
	p.clientMux.Lock()
	defer p.clientMux.Unlock()
	if p.closer != nil {
		p.closer()
		p.closer = nil
	}
}

func (p *Pair) address(ctx context.Context, method string) (common.Address, error) {
	outputs, err := p.call(ctx, p.Address(), pairABI, method, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", method, err)
	}
	if len(outputs) != 1 {
		return common.Address{}, fmt.Errorf("unexpected %s response", method)
	}
	addr, ok := outputs[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("failed to decode %s output", method)
	}
	return addr, nil
}

func (p *Pair) symbol(ctx context.Context, token common.Address) (string, error) {
	raw, err := p.callRaw(ctx, token, erc20ABI, "symbol", nil)
	if err != nil {
		return "", err
	}

	if outputs, err := erc20ABI.Unpack("symbol", raw); err == nil && len(outputs) == 1 {
		if s, ok := outputs[0].(string); ok {
			return s, nil
		}
	}

	outputs, err := erc20Bytes32ABI.Unpack("symbol", raw)
	if err != nil {
		return "", err
	}
	if len(outputs) != 1 {
		return "", errors.New("unexpected symbol response")
	}
	b32, ok := outputs[0].([32]byte)
	if !ok {
		return "", errors.New("failed to decode symbol output")
	}
	return strings.TrimRight(string(b32[:]), "\x00"), nil
}

func (p *Pair) call(ctx context.Context, to common.Address, contract abi.ABI, method string, block *big.Int) ([]interface{}, error) {
	raw, err := p.callRaw(ctx, to, contract, method, block)
	if err != nil {
		return nil, err
	}
	return contract.Unpack(method, raw)
}

func (p *Pair) callRaw(ctx context.Context, to common.Address, contract abi.ABI, method string, block *big.Int) ([]byte, error) {
	if p.opts.PairAddress == "" {
		return nil, errors.New("pair contract address not configured")
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	backend, err := p.getBackend(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := contract.Pack(method)
	if err != nil {
		return nil, err
	}

	res, err := backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, block)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%s returned no data (is %s a contract?)", method, to.Hex())
	}
	return res, nil
}

func (p *Pair) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := p.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (p *Pair) getBackend(ctx context.Context) (Backend, error) {
	p.clientMux.Lock()
	defer p.clientMux.Unlock()

	if p.backend != nil {
		return p.backend, nil
	}
	if p.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, p.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	p.backend = client
	p.closer = client.Close
	p.logger.Debug().Msg("rpc client connected")
	return client, nil
}

var (
	_ Backend = (*ethclient.Client)(nil)
	_ Reader  = (*Pair)(nil)
)
