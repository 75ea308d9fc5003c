package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"pool-price-alerts/internal/storage"
)

// Export sources.
const (
	SourceCSV      = "csv"
	SourcePostgres = "postgres"
	SourceRedis    = "redis"
)

// ExportOptions hold parameters for exporting recorded samples.
type ExportOptions struct {
	Source    string
	CSVPath   string
	PNGPath   string
	OutCSV    string
	FromBlock uint64
	ToBlock   uint64
	MaxPoints int
}

// Export renders recorded samples as a PNG chart and/or a filtered CSV log.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.PNGPath == "" && opts.OutCSV == "" {
		return errors.New("at least one of --png or --out must be provided")
	}
	if opts.ToBlock != 0 && opts.FromBlock > opts.ToBlock {
		return errors.New("--from-block must not exceed --to-block")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	samples, err := a.loadSamples(ctx, opts)
	if err != nil {
		return err
	}
	samples = filterBlocks(samples, opts.FromBlock, opts.ToBlock)
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export range")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.OutCSV != "" {
		if err := writeSamplesCSV(ctx, opts.OutCSV, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := a.writeSamplesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) loadSamples(ctx context.Context, opts ExportOptions) ([]storage.SampleRecord, error) {
	var (
		samples []storage.SampleRecord
		err     error
	)

	switch opts.Source {
	case "", SourceCSV:
		path := opts.CSVPath
		if path == "" {
			path = a.Config.Sink.CSVPath
		}
		samples, err = storage.ReadCSVLog(path)
		if err != nil {
			return nil, fmt.Errorf("read sample log: %w", err)
		}
	case SourcePostgres:
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		if store == nil {
			return nil, errors.New("database not configured; cannot export")
		}
		defer closeStore()
		samples, err = store.ListRecentSamples(ctx, a.Config.Ethereum.PairAddress, opts.MaxPoints)
		if err != nil {
			return nil, err
		}
	case SourceRedis:
		mirror, closeMirror, err := a.openRedisMirror(ctx)
		if err != nil {
			return nil, err
		}
		if mirror == nil {
			return nil, errors.New("redis not configured; cannot export")
		}
		defer closeMirror()
		samples, err = mirror.Recent(ctx, int64(opts.MaxPoints))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown export source %q", opts.Source)
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Block < samples[j].Block })
	return samples, nil
}

func filterBlocks(samples []storage.SampleRecord, from, to uint64) []storage.SampleRecord {
	if from == 0 && to == 0 {
		return samples
	}
	out := make([]storage.SampleRecord, 0, len(samples))
	for _, s := range samples {
		if s.Block < from {
			continue
		}
		if to != 0 && s.Block > to {
			continue
		}
		out = append(out, s)
	}
	return out
}

func downsampleSamples(samples []storage.SampleRecord, max int) []storage.SampleRecord {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.SampleRecord, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(ctx context.Context, path string, samples []storage.SampleRecord) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	out := storage.NewCSVLog(path)
	for _, s := range samples {
		if err := out.Append(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) writeSamplesPNG(path string, samples []storage.SampleRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	price := make([]float64, len(samples))
	pctX := make([]time.Time, 0, len(samples))
	pct := make([]float64, 0, len(samples))

	for i, sample := range samples {
		x[i] = sample.Timestamp
		price[i] = sample.Price.InexactFloat64()
		if sample.PctChange.Valid {
			pctX = append(pctX, sample.Timestamp)
			pct = append(pct, sample.PctChange.Decimal.InexactFloat64())
		}
	}

	pool := a.Config.Pool
	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    fmt.Sprintf("%s price (%s)", pool.BaseLabel, pool.QuoteLabel),
			XValues: x,
			YValues: price,
		},
	}
	if len(pct) > 1 {
		series = append(series, chart.TimeSeries{
			Name:    fmt.Sprintf("Change over %d blocks (%%)", a.Config.Monitor.WindowBlocks),
			XValues: pctX,
			YValues: pct,
			YAxis:   chart.YAxisSecondary,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           fmt.Sprintf("Price (%s)", pool.QuoteLabel),
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Change (%)",
			ValueFormatter: pctFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
