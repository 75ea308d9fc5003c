package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertSampleSQL = `INSERT INTO pool_samples (
        pool_address,
        block_number,
        observed_at,
        price,
        pct_change,
        delta_quote,
        delta_base,
        quote_reserve,
        base_reserve,
        is_alert
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (pool_address, block_number) DO NOTHING;`

	listRecentSamplesSQL = `SELECT
        pool_address,
        block_number,
        observed_at,
        price,
        pct_change,
        delta_quote,
        delta_base,
        quote_reserve,
        base_reserve,
        is_alert
    FROM pool_samples
    WHERE pool_address = $1
    ORDER BY block_number DESC
    LIMIT $2;`

	insertAlertSQL = `INSERT INTO pool_alerts (
        pool_address,
        block_number,
        observed_at,
        price,
        pct_change,
        threshold_pct,
        delta_quote,
        direction,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (pool_address, block_number) DO UPDATE
    SET pct_change    = EXCLUDED.pct_change,
        threshold_pct = EXCLUDED.threshold_pct,
        direction     = EXCLUDED.direction,
        channels      = EXCLUDED.channels
    RETURNING id, created_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store persists samples and alerts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Name implements Sink.
func (s *Store) Name() string { return "postgres" }

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate applies every *.sql file under dir in lexical order. Statements must be idempotent.
func (s *Store) Migrate(ctx context.Context, dir string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	files, err := migrationFiles(dir)
	if err != nil {
		return err
	}

	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", filepath.Base(file), err)
		}
		if _, err := pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", filepath.Base(file), err)
		}
	}
	return nil
}

func migrationFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Append implements Sink. Re-appending a block already stored is a no-op.
func (s *Store) Append(ctx context.Context, rec SampleRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertSampleSQL, sampleArgs(rec)...)
	if execErr != nil {
		return fmt.Errorf("insert pool sample: %w", execErr)
	}
	return nil
}

// ListRecentSamples lists the most recent samples of pool ordered by descending block.
func (s *Store) ListRecentSamples(ctx context.Context, pool string, limit int) ([]SampleRecord, error) {
	p, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := p.Query(ctx, listRecentSamplesSQL, pool, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]SampleRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL, alertArgs(alert)...)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

func scanSample(rows pgx.Rows) (SampleRecord, error) {
	var (
		rec          SampleRecord
		block        int64
		priceStr     string
		pct          *string
		deltaQuote   *string
		deltaBase    *string
		quoteReserve *string
		baseReserve  *string
	)

	if err := rows.Scan(
		&rec.Pool,
		&block,
		&rec.Timestamp,
		&priceStr,
		&pct,
		&deltaQuote,
		&deltaBase,
		&quoteReserve,
		&baseReserve,
		&rec.Alert,
	); err != nil {
		return SampleRecord{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return SampleRecord{}, fmt.Errorf("parse price: %w", err)
	}
	rec.Block = uint64(block)
	rec.Price = price

	for _, f := range []struct {
		raw *string
		dst *decimal.NullDecimal
	}{
		{pct, &rec.PctChange},
		{deltaQuote, &rec.DeltaQuote},
		{deltaBase, &rec.DeltaBase},
		{quoteReserve, &rec.QuoteReserve},
		{baseReserve, &rec.BaseReserve},
	} {
		d, err := parseNullDecimal(f.raw)
		if err != nil {
			return SampleRecord{}, err
		}
		*f.dst = d
	}

	return rec, nil
}

// sampleArgs orders rec for insertSampleSQL.
func sampleArgs(rec SampleRecord) []interface{} {
	return []interface{}{
		rec.Pool,
		int64(rec.Block),
		rec.Timestamp,
		rec.Price.String(),
		nullArg(rec.PctChange),
		nullArg(rec.DeltaQuote),
		nullArg(rec.DeltaBase),
		nullArg(rec.QuoteReserve),
		nullArg(rec.BaseReserve),
		rec.Alert,
	}
}

// alertArgs orders alert for insertAlertSQL.
func alertArgs(alert AlertRecord) []interface{} {
	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}
	return []interface{}{
		alert.Pool,
		int64(alert.Block),
		alert.ObservedAt,
		alert.Price.String(),
		alert.PctChange.String(),
		alert.ThresholdPct.String(),
		nullArg(alert.DeltaQuote),
		alert.Direction,
		channels,
	}
}

func parseNullDecimal(raw *string) (decimal.NullDecimal, error) {
	if raw == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse numeric column: %w", err)
	}
	return decimal.NewNullDecimal(d), nil
}

func nullArg(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

var (
	_ Sink           = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
