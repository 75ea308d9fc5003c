package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pool-price-alerts/internal/alerting"
	"pool-price-alerts/internal/history"
	"pool-price-alerts/internal/metrics"
	"pool-price-alerts/internal/pricing"
	"pool-price-alerts/internal/sampler"
	"pool-price-alerts/internal/scheduler"
	"pool-price-alerts/internal/storage"
)

// Options carries the monitoring settings.
type Options struct {
	Pool   string
	Window int
	Rule   alerting.Rule
	Quiet  bool

	// BaseLabel / QuoteLabel name the assets in the price column (e.g. ETH, USDC).
	BaseLabel  string
	QuoteLabel string
	// BaseSymbol / QuoteSymbol name the reserve deltas (e.g. WETH, USDC).
	BaseSymbol  string
	QuoteSymbol string

	AlertsEnabled bool
	Channels      []string
	Cooldown      time.Duration
}

// Dependencies are the collaborators of the service. Everything but Sampler is optional.
type Dependencies struct {
	Scheduler  *scheduler.Scheduler
	Sampler    *sampler.Sampler
	Pair       pricing.Pair
	Sinks      []storage.Sink
	AlertStore storage.AlertStore
	Notifier   alerting.Notifier
	Metrics    *metrics.Metrics
	Out        io.Writer
}

// Result is the outcome of one processed block.
type Result struct {
	Sample   history.Sample
	Decision alerting.Decision
}

// Service orchestrates sampling, evaluation and output for one pool.
type Service struct {
	opts       Options
	scheduler  *scheduler.Scheduler
	sampler    *sampler.Sampler
	pair       pricing.Pair
	buffer     *history.Buffer
	sinks      []storage.Sink
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	metrics    *metrics.Metrics
	out        io.Writer
	logger     zerolog.Logger
	now        func() time.Time

	lastBlock    uint64
	hasLast      bool
	lastNotified time.Time
}

// New constructs the monitoring service.
func New(opts Options, deps Dependencies, logger zerolog.Logger) *Service {
	out := deps.Out
	if out == nil {
		out = io.Discard
	}
	if opts.BaseLabel == "" {
		opts.BaseLabel = deps.Pair.BaseToken().Symbol
	}
	if opts.QuoteLabel == "" {
		opts.QuoteLabel = deps.Pair.QuoteToken().Symbol
	}
	if opts.BaseSymbol == "" {
		opts.BaseSymbol = opts.BaseLabel
	}
	if opts.QuoteSymbol == "" {
		opts.QuoteSymbol = opts.QuoteLabel
	}

	return &Service{
		opts:       opts,
		scheduler:  deps.Scheduler,
		sampler:    deps.Sampler,
		pair:       deps.Pair,
		buffer:     history.New(opts.Window),
		sinks:      deps.Sinks,
		alertStore: deps.AlertStore,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		out:        out,
		logger:     logger.With().Str("component", "service").Logger(),
		now:        time.Now,
	}
}

// Run begins the block polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Poll)
}

// LastBlock returns the most recent successfully processed block.
func (s *Service) LastBlock() (uint64, bool) {
	return s.lastBlock, s.hasLast
}

// Poll reads the chain head and processes it when it is newer than the last processed block.
func (s *Service) Poll(ctx context.Context) (scheduler.Outcome, error) {
	head, err := s.sampler.Head(ctx)
	if err != nil {
		s.metrics.IncFailure(FailureKind(err))
		return scheduler.Idle, err
	}

	if s.hasLast && head <= s.lastBlock {
		if head < s.lastBlock {
			s.logger.Debug().Uint64("head", head).Uint64("last_block", s.lastBlock).Msg("head behind last processed block")
		}
		return scheduler.Idle, nil
	}

	if _, err := s.ProcessBlock(ctx, head); err != nil {
		s.metrics.IncFailure(FailureKind(err))
		return scheduler.Idle, err
	}
	return scheduler.Processed, nil
}

// ProcessBlock samples, evaluates and emits one block. On failure the history and the
// last processed block are left untouched.
func (s *Service) ProcessBlock(ctx context.Context, block uint64) (Result, error) {
	snap, err := s.sampler.At(ctx, block)
	if err != nil {
		return Result{}, err
	}

	obs, err := s.pair.Observe(snap.Reserve0, snap.Reserve1)
	if err != nil {
		return Result{}, fmt.Errorf("block %d: %w", block, err)
	}

	sample := history.Sample{
		Block:        block,
		Price:        obs.Price,
		QuoteReserve: obs.QuoteReserve,
		BaseReserve:  obs.BaseReserve,
		ObservedAt:   s.now().UTC(),
	}
	if err := s.buffer.Append(sample); err != nil {
		return Result{}, fmt.Errorf("append block %d: %w", block, err)
	}
	s.lastBlock = block
	s.hasLast = true

	var lookBack, previous *history.Sample
	if lb, ok := s.buffer.LookBack(s.buffer.Window()); ok {
		lookBack = &lb
	}
	if prev, ok := s.buffer.Previous(); ok {
		previous = &prev
	}

	decision := alerting.Evaluate(sample, lookBack, previous, s.opts.Rule)
	s.metrics.ObserveSample(block, sample.Price, decision.PctChange, decision.IsAlert)

	s.emit(ctx, sample, decision)
	return Result{Sample: sample, Decision: decision}, nil
}

func (s *Service) emit(ctx context.Context, sample history.Sample, decision alerting.Decision) {
	if !s.opts.Quiet || decision.IsAlert {
		if _, err := fmt.Fprintln(s.out, s.formatLine(sample, decision)); err != nil {
			s.logger.Error().Err(err).Msg("failed to write console line")
		}
	}

	rec := storage.SampleRecord{
		Timestamp:    sample.ObservedAt,
		Pool:         s.opts.Pool,
		Block:        sample.Block,
		Price:        sample.Price,
		PctChange:    decision.PctChange,
		DeltaQuote:   decision.DeltaQuote,
		DeltaBase:    decision.DeltaBase,
		QuoteReserve: sample.QuoteReserve,
		BaseReserve:  sample.BaseReserve,
		Alert:        decision.IsAlert,
	}
	for _, sink := range s.sinks {
		if err := sink.Append(ctx, rec); err != nil {
			s.metrics.IncSinkError(sink.Name())
			s.logger.Error().Err(err).Str("sink", sink.Name()).Uint64("block", sample.Block).Msg("failed to append sample")
		}
	}

	s.logger.Debug().Uint64("block", sample.Block).
		Str("price", sample.Price.String()).
		Bool("alert", decision.IsAlert).
		Msg("sample recorded")

	if decision.IsAlert && s.opts.AlertsEnabled {
		s.dispatchAlert(ctx, sample, decision)
	}
}

func (s *Service) dispatchAlert(ctx context.Context, sample history.Sample, decision alerting.Decision) {
	direction := decision.Direction()

	if s.alertStore != nil {
		record := storage.AlertRecord{
			Pool:         s.opts.Pool,
			Block:        sample.Block,
			ObservedAt:   sample.ObservedAt,
			Price:        sample.Price,
			PctChange:    decision.PctChange.Decimal,
			ThresholdPct: s.opts.Rule.ThresholdPct,
			DeltaQuote:   decision.DeltaQuote,
			Direction:    direction,
			Channels:     s.opts.Channels,
		}
		if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
			s.metrics.IncSinkError("alert_store")
			s.logger.Error().Err(err).Uint64("block", sample.Block).Msg("failed to persist alert record")
		}
	}

	if s.notifier == nil {
		return
	}
	now := sample.ObservedAt
	if s.opts.Cooldown > 0 && !s.lastNotified.IsZero() && now.Sub(s.lastNotified) < s.opts.Cooldown {
		s.logger.Debug().Uint64("block", sample.Block).Time("last_notified", s.lastNotified).Msg("alert push suppressed by cooldown")
		return
	}

	note := alerting.Notification{
		Pool:         s.opts.Pool,
		Block:        sample.Block,
		ObservedAt:   sample.ObservedAt,
		BaseLabel:    s.opts.BaseLabel,
		QuoteLabel:   s.opts.QuoteLabel,
		Price:        sample.Price,
		PctChange:    decision.PctChange,
		ThresholdPct: s.opts.Rule.ThresholdPct,
		WindowBlocks: s.buffer.Window(),
		DeltaQuote:   decision.DeltaQuote,
		DeltaBase:    decision.DeltaBase,
		Direction:    direction,
		Channels:     s.opts.Channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.metrics.IncSinkError("notifier")
		s.logger.Error().Err(err).Uint64("block", sample.Block).Msg("failed to dispatch alert")
		return
	}
	s.lastNotified = now
}

func (s *Service) formatLine(sample history.Sample, decision alerting.Decision) string {
	prefix := "INFO"
	if decision.IsAlert {
		prefix = "ALERT"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s | %s | %s ≈ %s %s",
		prefix,
		sample.ObservedAt.UTC().Format(storage.TimestampLayout),
		s.opts.BaseLabel,
		sample.Price.StringFixed(6),
		s.opts.QuoteLabel,
	)
	if decision.PctChange.Valid {
		pct := decision.PctChange.Decimal
		sign := ""
		if pct.Sign() >= 0 {
			sign = "+"
		}
		fmt.Fprintf(&b, " (%s%s%%)", sign, pct.StringFixed(4))
	}
	fmt.Fprintf(&b, " | block %d", sample.Block)
	if decision.DeltaQuote.Valid {
		fmt.Fprintf(&b, " | Δ%s %s", s.opts.QuoteSymbol, decision.DeltaQuote.Decimal.StringFixed(2))
	}
	if decision.DeltaBase.Valid {
		fmt.Fprintf(&b, " | Δ%s %s", s.opts.BaseSymbol, decision.DeltaBase.Decimal.StringFixed(6))
	}
	return b.String()
}

// FailureKind classifies a cycle error for logs and metrics.
func FailureKind(err error) string {
	var readErr *sampler.ReadFailure
	if errors.As(err, &readErr) {
		return "read"
	}
	var deriveErr *pricing.DerivationError
	if errors.As(err, &deriveErr) {
		return "derive"
	}
	return "other"
}
