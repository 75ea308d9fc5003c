package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var (
	testPair  = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	testUSDC  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	testWETH  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	testMKR   = common.HexToAddress("0x9f8F72aA9304c8B593d555F12eF6589cC3A579A2")
	errNoNode = errors.New("connection refused")
)

type fakeBackend struct {
	head       uint64
	reserve0   *big.Int
	reserve1   *big.Int
	lastBlock  *big.Int
	failCalls  bool
	callsCount int
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.callsCount++
	if f.failCalls {
		return nil, errNoNode
	}
	f.lastBlock = blockNumber

	selector := call.Data[:4]
	switch *call.To {
	case testPair:
		switch {
		case matches(pairABI, "getReserves", selector):
			return pack(pairABI, "getReserves", f.reserve0, f.reserve1, uint32(1700000000))
		case matches(pairABI, "token0", selector):
			return pack(pairABI, "token0", testUSDC)
		case matches(pairABI, "token1", selector):
			return pack(pairABI, "token1", testWETH)
		}
	case testUSDC:
		return erc20Reply(selector, "USDC", 6)
	case testWETH:
		return erc20Reply(selector, "WETH", 18)
	case testMKR:
		if matches(erc20ABI, "symbol", selector) {
			var b32 [32]byte
			copy(b32[:], "MKR")
			return pack(erc20Bytes32ABI, "symbol", b32)
		}
		return pack(erc20ABI, "decimals", uint8(18))
	}
	return nil, nil
}

func erc20Reply(selector []byte, symbol string, decimals uint8) ([]byte, error) {
	if matches(erc20ABI, "symbol", selector) {
		return pack(erc20ABI, "symbol", symbol)
	}
	return pack(erc20ABI, "decimals", decimals)
}

func matches(contract abi.ABI, method string, selector []byte) bool {
	return bytes.Equal(contract.Methods[method].ID, selector)
}

func pack(contract abi.ABI, method string, values ...interface{}) ([]byte, error) {
	return contract.Methods[method].Outputs.Pack(values...)
}

func newTestPair(backend Backend) *Pair {
	return NewPairWithBackend(PairOptions{PairAddress: testPair.Hex(), Timeout: time.Second}, backend, zerolog.Nop())
}

func TestPairReservesPinnedToBlock(t *testing.T) {
	backend := &fakeBackend{head: 123, reserve0: big.NewInt(20_000_000_000_000), reserve1: big.NewInt(10)}
	pair := newTestPair(backend)

	res, err := pair.Reserves(context.Background(), 123)
	if err != nil {
		t.Fatalf("reserves: %v", err)
	}
	if res.Reserve0.Cmp(backend.reserve0) != 0 || res.Reserve1.Cmp(backend.reserve1) != 0 {
		t.Fatalf("reserves mismatch: %v/%v", res.Reserve0, res.Reserve1)
	}
	if res.BlockTimestampLast != 1700000000 {
		t.Fatalf("unexpected blockTimestampLast %d", res.BlockTimestampLast)
	}
	if backend.lastBlock == nil || backend.lastBlock.Uint64() != 123 {
		t.Fatalf("call should be pinned to block 123, got %v", backend.lastBlock)
	}
}

func TestPairTokensAndMetadata(t *testing.T) {
	pair := newTestPair(&fakeBackend{})

	token0, token1, err := pair.Tokens(context.Background())
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if token0 != testUSDC || token1 != testWETH {
		t.Fatalf("unexpected tokens %s %s", token0.Hex(), token1.Hex())
	}

	meta, err := pair.TokenMeta(context.Background(), token0)
	if err != nil {
		t.Fatalf("token meta: %v", err)
	}
	if meta.Symbol != "USDC" || meta.Decimals != 6 {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestPairBytes32SymbolFallback(t *testing.T) {
	pair := newTestPair(&fakeBackend{})
	meta, err := pair.TokenMeta(context.Background(), testMKR)
	if err != nil {
		t.Fatalf("token meta: %v", err)
	}
	if meta.Symbol != "MKR" {
		t.Fatalf("expected MKR, got %q", meta.Symbol)
	}
}

func TestPairPropagatesTransportErrors(t *testing.T) {
	pair := newTestPair(&fakeBackend{failCalls: true})
	if _, err := pair.Reserves(context.Background(), 1); !errors.Is(err, errNoNode) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestPairMissingConfig(t *testing.T) {
	pair := NewPair(PairOptions{}, zerolog.Nop())
	if _, err := pair.BlockNumber(context.Background()); err == nil {
		t.Fatal("missing rpc url should fail")
	}

	pair = NewPairWithBackend(PairOptions{}, &fakeBackend{}, zerolog.Nop())
	if _, err := pair.Reserves(context.Background(), 1); err == nil {
		t.Fatal("missing pair address should fail")
	}
}
