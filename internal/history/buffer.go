package history

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateBlock is returned when a sample repeats the last stored block.
	ErrDuplicateBlock = errors.New("history: duplicate block")
	// ErrOutOfOrder is returned when a sample is older than the last stored block.
	ErrOutOfOrder = errors.New("history: block older than latest sample")
)

// Sample is one pool observation at a given block.
type Sample struct {
	Block        uint64
	Price        decimal.Decimal
	QuoteReserve decimal.NullDecimal
	BaseReserve  decimal.NullDecimal
	ObservedAt   time.Time
}

// Buffer keeps the most recent samples in increasing block order.
// Capacity is window+2: the look-back point, the previous sample and the current one.
type Buffer struct {
	window   int
	capacity int
	samples  []Sample
}

// New builds a buffer sized for the given look-back window.
func New(window int) *Buffer {
	if window < 1 {
		window = 1
	}
	capacity := window + 2
	if capacity < window {
		capacity = math.MaxInt
	}
	// storage grows with the samples actually seen, not with the window
	return &Buffer{
		window:   window,
		capacity: capacity,
		samples:  make([]Sample, 0, min(capacity, 8)),
	}
}

// Window returns the look-back distance the buffer was sized for.
func (b *Buffer) Window() int { return b.window }

// Capacity returns the maximum number of retained samples.
func (b *Buffer) Capacity() int { return b.capacity }

// Len returns the number of retained samples.
func (b *Buffer) Len() int { return len(b.samples) }

// Append stores s and evicts the oldest samples beyond capacity.
// The buffer is left untouched when s does not advance the block height.
func (b *Buffer) Append(s Sample) error {
	if last, ok := b.Latest(); ok {
		if s.Block == last.Block {
			return ErrDuplicateBlock
		}
		if s.Block < last.Block {
			return ErrOutOfOrder
		}
	}

	b.samples = append(b.samples, s)
	if over := len(b.samples) - b.capacity; over > 0 {
		// shift in place so the backing array does not grow without bound
		n := copy(b.samples, b.samples[over:])
		b.samples = b.samples[:n]
	}
	return nil
}

// LookBack returns the sample n positions before the most recent one.
func (b *Buffer) LookBack(n int) (Sample, bool) {
	if n < 0 || n >= len(b.samples) {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1-n], true
}

// Previous returns the second most recent sample.
func (b *Buffer) Previous() (Sample, bool) {
	return b.LookBack(1)
}

// Latest returns the most recent sample.
func (b *Buffer) Latest() (Sample, bool) {
	return b.LookBack(0)
}

// Snapshot copies the retained samples, oldest first.
func (b *Buffer) Snapshot() []Sample {
	out := make([]Sample, len(b.samples))
	copy(out, b.samples)
	return out
}
