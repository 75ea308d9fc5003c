package history

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func sampleAt(block uint64, price int64) Sample {
	return Sample{Block: block, Price: decimal.NewFromInt(price)}
}

func TestBufferNeverExceedsCapacity(t *testing.T) {
	for window := 1; window <= 5; window++ {
		buf := New(window)
		for block := uint64(1); block <= 50; block++ {
			if err := buf.Append(sampleAt(block, 100)); err != nil {
				t.Fatalf("window %d block %d: unexpected error %v", window, block, err)
			}
			if buf.Len() > window+2 {
				t.Fatalf("window %d: len %d exceeds capacity %d", window, buf.Len(), window+2)
			}
		}
		seen := make(map[uint64]bool)
		for _, s := range buf.Snapshot() {
			if seen[s.Block] {
				t.Fatalf("window %d: duplicate block %d retained", window, s.Block)
			}
			seen[s.Block] = true
		}
		oldest := buf.Snapshot()[0].Block
		if oldest != uint64(50-window-1) {
			t.Fatalf("window %d: expected oldest block %d, got %d", window, 50-window-1, oldest)
		}
	}
}

func TestBufferRejectsDuplicateAndOlderBlocks(t *testing.T) {
	buf := New(2)
	if err := buf.Append(sampleAt(10, 1)); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := buf.Append(sampleAt(10, 2)); !errors.Is(err, ErrDuplicateBlock) {
		t.Fatalf("expected ErrDuplicateBlock, got %v", err)
	}
	if err := buf.Append(sampleAt(9, 2)); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	if buf.Len() != 1 {
		t.Fatalf("rejected samples must not be stored, len=%d", buf.Len())
	}
	latest, _ := buf.Latest()
	if !latest.Price.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("latest sample was overwritten: %s", latest.Price)
	}
}

func TestBufferLookBackAvailability(t *testing.T) {
	buf := New(3)
	for block := uint64(1); block <= 3; block++ {
		_ = buf.Append(sampleAt(block, int64(block)))
		if _, ok := buf.LookBack(3); ok {
			t.Fatalf("look-back of 3 must be unavailable with %d samples", buf.Len())
		}
	}
	_ = buf.Append(sampleAt(4, 4))
	got, ok := buf.LookBack(3)
	if !ok || got.Block != 1 {
		t.Fatalf("expected block 1 after 4 samples, got %v (ok=%v)", got.Block, ok)
	}
}

func TestBufferPreviousNeedsTwoSamples(t *testing.T) {
	buf := New(1)
	if _, ok := buf.Previous(); ok {
		t.Fatal("previous must be unavailable on empty buffer")
	}
	_ = buf.Append(sampleAt(7, 1))
	if _, ok := buf.Previous(); ok {
		t.Fatal("previous must be unavailable with a single sample")
	}
	_ = buf.Append(sampleAt(8, 1))
	prev, ok := buf.Previous()
	if !ok || prev.Block != 7 {
		t.Fatalf("expected previous block 7, got %d (ok=%v)", prev.Block, ok)
	}
}

func TestBufferWindowTwoLooksBackToSecondBlock(t *testing.T) {
	buf := New(2)
	for _, block := range []uint64{100, 101, 102, 103} {
		if err := buf.Append(sampleAt(block, 1)); err != nil {
			t.Fatalf("append %d: %v", block, err)
		}
	}
	past, ok := buf.LookBack(buf.Window())
	if !ok {
		t.Fatal("look-back should be available at block 103")
	}
	if past.Block != 101 {
		t.Fatalf("expected look-back block 101, got %d", past.Block)
	}
}

func TestBufferHugeWindowAllocatesLazily(t *testing.T) {
	for _, window := range []int{100_000_000, math.MaxInt - 1, math.MaxInt} {
		buf := New(window)
		if buf.Capacity() < window {
			t.Fatalf("window %d: capacity %d below window", window, buf.Capacity())
		}
		for block := uint64(1); block <= 5; block++ {
			if err := buf.Append(sampleAt(block, int64(block))); err != nil {
				t.Fatalf("window %d block %d: %v", window, block, err)
			}
		}
		if buf.Len() != 5 {
			t.Fatalf("window %d: expected 5 retained samples, got %d", window, buf.Len())
		}
		if _, ok := buf.LookBack(buf.Window()); ok {
			t.Fatalf("window %d: look-back must be unavailable", window)
		}
		if prev, ok := buf.Previous(); !ok || prev.Block != 4 {
			t.Fatalf("window %d: expected previous block 4, got %d (ok=%v)", window, prev.Block, ok)
		}
	}
}
