package sampler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"pool-price-alerts/internal/chain"
	"pool-price-alerts/internal/metrics"
)

// ReadFailure wraps every transport or decoding failure of a chain read.
type ReadFailure struct {
	Op    string
	Block uint64
	Code  string
	Err   error
}

func (e *ReadFailure) Error() string {
	msg := "read " + e.Op
	if e.Block != 0 {
		msg += fmt.Sprintf(" at block %d", e.Block)
	}
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReadFailure) Unwrap() error { return e.Err }

// Snapshot is a reserve pair observed at one block height.
type Snapshot struct {
	Block    uint64
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// Sampler reads the chain head and the pool reserves at that head.
type Sampler struct {
	reader  chain.Reader
	metrics *metrics.Metrics
}

// New wraps a chain reader. metrics may be nil.
func New(reader chain.Reader, m *metrics.Metrics) *Sampler {
	return &Sampler{reader: reader, metrics: m}
}

// Head returns the current chain height.
func (s *Sampler) Head(ctx context.Context) (uint64, error) {
	start := time.Now()
	block, err := s.reader.BlockNumber(ctx)
	s.metrics.ObserveRPC("block_number", time.Since(start))
	if err != nil {
		return 0, newReadFailure("head", 0, err)
	}
	return block, nil
}

// At returns the reserves read against the given block.
func (s *Sampler) At(ctx context.Context, block uint64) (Snapshot, error) {
	start := time.Now()
	res, err := s.reader.Reserves(ctx, block)
	s.metrics.ObserveRPC("get_reserves", time.Since(start))
	if err != nil {
		return Snapshot{}, newReadFailure("reserves", block, err)
	}
	if res.Reserve0 == nil || res.Reserve1 == nil {
		return Snapshot{}, newReadFailure("reserves", block, errors.New("malformed response: missing reserve"))
	}
	return Snapshot{Block: block, Reserve0: res.Reserve0, Reserve1: res.Reserve1}, nil
}

// Sample reads the current head and the reserves at it.
func (s *Sampler) Sample(ctx context.Context) (Snapshot, error) {
	block, err := s.Head(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return s.At(ctx, block)
}

func newReadFailure(op string, block uint64, err error) *ReadFailure {
	return &ReadFailure{Op: op, Block: block, Code: errorCode(err), Err: err}
}

func errorCode(err error) string {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return strconv.Itoa(rpcErr.ErrorCode())
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return "HTTP_" + strconv.Itoa(httpErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "TIMEOUT"
	}
	return ""
}
