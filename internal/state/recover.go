package state

import (
	"context"
	"os"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// RecoverResult describes what a recovery restored.
type RecoverResult struct {
	Restored      bool
	DailyRestored bool
	OpenPositions int
	SnapshotTs    int64
}

// Recover restores the ledger from snapshot. Session counters are kept only
// when the snapshot's last reset is not older than sessionStart.
func Recover(ctx context.Context, ledger *Ledger, snapshot Snapshot, sessionStart time.Time) (RecoverResult, error) {
	sameSession := snapshot.LastReset >= sessionStart.UTC().UnixNano()
	if err := ledger.Restore(ctx, snapshot, sameSession); err != nil {
		return RecoverResult{}, errors.Wrap(err, "restore snapshot")
	}
	return RecoverResult{
		Restored:      true,
		DailyRestored: sameSession,
		OpenPositions: snapshot.OpenPositions,
		SnapshotTs:    snapshot.Timestamp,
	}, nil
}

// RecoverFromFile restores the ledger from the snapshot at path. A missing
// file is a fresh start, not an error.
func RecoverFromFile(ctx context.Context, ledger *Ledger, path string, sessionStart time.Time) (RecoverResult, error) {
	if path == "" {
		return RecoverResult{}, nil
	}
	snapshot, err := ReadSnapshot(path)
	if err != nil {
		if os.IsNotExist(err) {
			logs.Infof("no ledger snapshot at %s, starting flat", path)
			return RecoverResult{}, nil
		}
		return RecoverResult{}, errors.Wrap(err, "read snapshot")
	}

	result, err := Recover(ctx, ledger, snapshot, sessionStart)
	if err != nil {
		return RecoverResult{}, err
	}
	logs.Infof("ledger recovered from %s, open positions %d, session counters restored %t",
		path, result.OpenPositions, result.DailyRestored)
	return result, nil
}
