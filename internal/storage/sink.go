package storage

import "context"

// Sink is an append-only destination for sample records.
type Sink interface {
	Name() string
	Append(ctx context.Context, rec SampleRecord) error
}

// AlertStore persists emitted alerts.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
