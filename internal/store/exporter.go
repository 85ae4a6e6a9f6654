package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"riskguard/internal/state"
	"riskguard/pkg/exception"
)

const defaultExportInterval = 10 * time.Second

// Sink receives exported snapshots.
type Sink interface {
	SaveSnapshot(ctx context.Context, snapshot state.Snapshot) error
}

// SnapshotSource is the ledger read the exporter needs.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (state.Snapshot, error)
}

// FileSink writes the latest snapshot to a JSON file.
type FileSink struct {
	Path string
}

// SaveSnapshot replaces the file contents with snapshot.
func (f FileSink) SaveSnapshot(_ context.Context, snapshot state.Snapshot) error {
	return state.WriteSnapshot(f.Path, snapshot)
}

// Exporter periodically copies ledger snapshots, marked to the cached
// prices, to every sink.
type Exporter struct {
	source     SnapshotSource
	prices     state.PriceReader
	sinks      []Sink
	interval   time.Duration
	instanceID string
}

// NewExporter creates an exporter. A zero interval uses the default.
func NewExporter(source SnapshotSource, prices state.PriceReader, interval time.Duration, sinks ...Sink) (*Exporter, error) {
	if source == nil || prices == nil {
		return nil, exception.ErrNilInstance
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("%w: exporter without sinks", exception.ErrInvalidArgument)
	}
	if interval <= 0 {
		interval = defaultExportInterval
	}
	return &Exporter{
		source:     source,
		prices:     prices,
		sinks:      sinks,
		interval:   interval,
		instanceID: uuid.NewString(),
	}, nil
}

// InstanceID identifies this process on exported snapshots.
func (e *Exporter) InstanceID() string {
	return e.instanceID
}

// Export takes one snapshot and hands it to every sink. A failing sink does
// not stop the others.
func (e *Exporter) Export(ctx context.Context) error {
	snapshot, err := e.source.Snapshot(ctx)
	if err != nil {
		return err
	}
	snapshot = snapshot.WithUnrealized(e.prices)
	snapshot.InstanceID = e.instanceID

	var failed []string
	for i, sink := range e.sinks {
		if err := sink.SaveSnapshot(ctx, snapshot); err != nil {
			failed = append(failed, fmt.Sprintf("sink %d: %v", i, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("export snapshot: %s", strings.Join(failed, "; "))
	}
	return nil
}

// Run exports on every interval until ctx is done. Failures are logged and
// retried on the next interval.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Export(ctx); err != nil && ctx.Err() == nil {
				logs.Errorf("snapshot export failed, err: %+v", err)
			}
		}
	}
}
