package store

import (
	"context"
	"errors"
	"time"

	"github.com/calder-ai/modelgate/internal/store/model"
)

// ErrNotFound is returned for lookups with no matching row.
var ErrNotFound = errors.New("store: not found")

// Repository is the main contract for the data layer.
type Repository interface {
	Downloads() DownloadRepository
	Stats() StatsRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

// DownloadRepository is the manifest of locally present model files.
// The on-device backend consumes this as its download-status
// collaborator.
type DownloadRepository interface {
	// Get returns the entry for a model+quantization pair, or
	// ErrNotFound.
	Get(ctx context.Context, modelID, quantization string) (*model.Download, error)
	// Put upserts an entry.
	Put(ctx context.Context, d *model.Download) error
	List(ctx context.Context) ([]model.Download, error)
	Delete(ctx context.Context, modelID, quantization string) error
}

// StatsRepository persists generation stats.
type StatsRepository interface {
	// Insert writes a batch of events. The recorder flushes batches,
	// never single rows.
	Insert(ctx context.Context, events []model.StatEvent) error
	// Summary aggregates events at or after since.
	Summary(ctx context.Context, since time.Time) (*model.StatsSummary, error)
}
