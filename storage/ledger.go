package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"
)

// RecordKindTransfer discriminates ledger records.
const RecordKindTransfer = "transfer"

// Direction of a transfer.
const (
	DirectionReceived = "received"
	DirectionUploaded = "uploaded"
)

// Transfer status values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNoTransfers is returned when the ledger holds no matching records.
var ErrNoTransfers = errors.New("no transfer records found")

// TransferRecord is one ledger entry for a received or uploaded file.
type TransferRecord struct {
	FileID      string
	Name        string
	Size        int64
	Mime        string
	StoragePath string
	URL         string
	Bytes       int64
	Parts       int
	Duration    time.Duration
	Direction   string
	Status      string
	Error       string
	CompletedAt time.Time
}

// DeriveDay computes the partition day for t.
func DeriveDay(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// newLedgerDataset opens the transfer dataset with the layout used for
// both reads and writes.
func newLedgerDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout("day", "direction"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// toRecordMap converts rec for storage. Lode HiveLayout requires records
// as map[string]any carrying the partition keys.
func toRecordMap(rec TransferRecord) map[string]any {
	m := map[string]any{
		"record_kind":  RecordKindTransfer,
		"file_id":      rec.FileID,
		"name":         rec.Name,
		"size":         rec.Size,
		"mime":         rec.Mime,
		"bytes":        rec.Bytes,
		"parts":        rec.Parts,
		"duration_ms":  rec.Duration.Milliseconds(),
		"status":       rec.Status,
		"completed_at": rec.CompletedAt.UTC().Format(time.RFC3339Nano),
		"day":          DeriveDay(rec.CompletedAt),
		"direction":    rec.Direction,
	}
	if rec.StoragePath != "" {
		m["storage_path"] = rec.StoragePath
	}
	if rec.URL != "" {
		m["url"] = rec.URL
	}
	if rec.Error != "" {
		m["error"] = rec.Error
	}
	return m
}

// RecordTransfer appends rec to the ledger as one snapshot.
func (s *Store) RecordTransfer(ctx context.Context, rec TransferRecord) error {
	if rec.Direction == "" {
		return errors.New("transfer record requires a direction")
	}
	if rec.Status == "" {
		rec.Status = StatusCompleted
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ledger.Write(ctx, []any{toRecordMap(rec)}, lode.Metadata{}); err != nil {
		return wrap(err, "write", "ledger/"+rec.Direction)
	}
	return nil
}

// TransferFilter narrows QueryTransfers. Empty fields match everything.
type TransferFilter struct {
	Day       string
	Direction string
	Limit     int
}

// QueryTransfers returns ledger records, newest first.
func (s *Store) QueryTransfers(ctx context.Context, filter TransferFilter) ([]map[string]any, error) {
	snapshots, err := s.ledger.Snapshots(ctx)
	if err != nil {
		return nil, wrap(err, "read", "ledger/snapshots")
	}

	var out []map[string]any
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatches(snap, "day", filter.Day) || !snapshotMatches(snap, "direction", filter.Direction) {
			continue
		}

		data, err := s.ledger.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap(err, "read", fmt.Sprintf("ledger/snapshot/%s", snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindTransfer {
				continue
			}
			if filter.Direction != "" && record["direction"] != filter.Direction {
				continue
			}
			if filter.Day != "" && record["day"] != filter.Day {
				continue
			}
			out = append(out, record)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return out, nil
			}
		}
	}

	if len(out) == 0 {
		return nil, ErrNoTransfers
	}
	return out, nil
}

// snapshotMatches checks a snapshot's file paths against a key=value
// partition filter. An empty value matches every snapshot.
func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if hasPartition(f.Path, key, value) {
			return true
		}
	}
	return false
}

// hasPartition reports whether a Hive path has an exact key=value segment,
// so direction=received does not match direction=received-old.
func hasPartition(p, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(p, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
