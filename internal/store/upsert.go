package store

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// UpsertStats counts the rows written by upserts and removed by pruning.
// Safe for concurrent use.
type UpsertStats struct {
	inserted atomic.Int64
	updated  atomic.Int64
	pruned   atomic.Int64
}

// NewUpsertStats creates zeroed stats.
func NewUpsertStats() *UpsertStats {
	return &UpsertStats{}
}

// Record counts one upserted row. inserted reports whether the row is new.
func (s *UpsertStats) Record(inserted bool) {
	if inserted {
		s.inserted.Add(1)
		return
	}
	s.updated.Add(1)
}

// RecordPruned counts n deleted rows.
func (s *UpsertStats) RecordPruned(n int64) {
	s.pruned.Add(n)
}

// Inserted returns the number of inserted rows.
func (s *UpsertStats) Inserted() int64 { return s.inserted.Load() }

// Updated returns the number of updated rows.
func (s *UpsertStats) Updated() int64 { return s.updated.Load() }

// Pruned returns the number of pruned rows.
func (s *UpsertStats) Pruned() int64 { return s.pruned.Load() }

// Total returns inserts plus updates.
func (s *UpsertStats) Total() int64 {
	return s.Inserted() + s.Updated()
}

// Reset zeroes every counter.
func (s *UpsertStats) Reset() {
	s.inserted.Store(0)
	s.updated.Store(0)
	s.pruned.Store(0)
}

func (s *UpsertStats) String() string {
	return fmt.Sprintf("inserted=%d updated=%d pruned=%d total=%d",
		s.Inserted(), s.Updated(), s.Pruned(), s.Total())
}

// LogSummary logs the counters of a table at INFO level.
func (s *UpsertStats) LogSummary(logger *slog.Logger, table string) {
	logger.Info("upsert statistics",
		"table", table,
		"inserted", s.Inserted(),
		"updated", s.Updated(),
		"pruned", s.Pruned(),
		"total", s.Total(),
	)
}
