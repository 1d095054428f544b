// Package sinker defines the narrow per-engine contract the
// parallelizers dispatch against (spec §4.7): sink_dml, sink_ddl,
// sink_raw, refresh_meta, close. Concrete engines (mysql, pg, mongo,
// redis, kafka, foxlake, clickhouse, check) live in sibling packages and
// implement this interface; the pipeline core only ever talks to it.
package sinker

import (
	"context"

	"github.com/dtstream/dts/pkg/dtmeta"
)

// ConflictPolicy governs how a sinker reacts to a DDL apply failure
// (spec §4.7, §7): Ignore skips and continues, Interrupt surfaces the
// error to the caller.
type ConflictPolicy int

const (
	ConflictInterrupt ConflictPolicy = iota
	ConflictIgnore
)

// Sinker is the contract every sink engine implements. A batch Insert
// that fails must fall back to per-row serial inserts (spec §4.7, §7);
// that fallback is provided as a helper (SinkRowsWithFallback) rather
// than required of every implementation, since the policy is identical
// across engines.
type Sinker interface {
	// SinkDML applies rows. If batchHint is true the sinker may use
	// multi-row statements; otherwise it applies one row at a time.
	// Must be idempotent for Inserts (upsert on the primary key) and for
	// Deletes (delete-if-exists). A row whose identity is wholly NULL is
	// never batched (spec §4.7).
	SinkDML(ctx context.Context, rows []*dtmeta.Row, batchHint bool) error

	// SinkDDL applies DDL statements; batchHint mirrors SinkDML's.
	SinkDDL(ctx context.Context, ddls []*dtmeta.DdlData, batchHint bool) error

	// SinkRaw passes opaque events (Redis/Foxlake) through unmodified.
	SinkRaw(ctx context.Context, items []*dtmeta.Item, batchHint bool) error

	// RefreshMeta invalidates per-table caches consistent with a
	// successfully-applied DDL batch. Call only after SinkDDL succeeds.
	RefreshMeta(ddls []*dtmeta.DdlData)

	// Close releases the sinker's connections/clients.
	Close() error
}

// HasWhollyNullIdentity reports whether any identity column of row is
// NULL or absent (hash code 0), so a wholly-NULL identity always counts;
// such a row is never folded into a batch (spec §4.7).
func HasWhollyNullIdentity(row *dtmeta.Row, idCols []string) bool {
	return row.HashCode(idCols) == 0
}

// PartitionBatchable splits rows into a sub-slice safe to batch (every
// row has a non-NULL identity) and a sub-slice that must be applied
// one-by-one, preserving relative order within each group.
func PartitionBatchable(rows []*dtmeta.Row, idCols []string) (batchable, serial []*dtmeta.Row) {
	for _, row := range rows {
		if HasWhollyNullIdentity(row, idCols) {
			serial = append(serial, row)
		} else {
			batchable = append(batchable, row)
		}
	}
	return
}

// BatchApplyFunc applies a slice of rows as one multi-row statement.
type BatchApplyFunc func(ctx context.Context, rows []*dtmeta.Row) error

// RowApplyFunc applies a single row.
type RowApplyFunc func(ctx context.Context, row *dtmeta.Row) error

// SinkRowsWithFallback implements the failure policy common to every
// engine (spec §4.7, §7): try the batch apply; if it fails, fall back to
// applying each row serially and surface the first per-row failure.
func SinkRowsWithFallback(ctx context.Context, rows []*dtmeta.Row, batchHint bool, batchApply BatchApplyFunc, rowApply RowApplyFunc) error {
	if len(rows) == 0 {
		return nil
	}
	if batchHint {
		if err := batchApply(ctx, rows); err == nil {
			return nil
		}
		// batch insert failed: fall back to per-row serial apply.
	}
	for _, row := range rows {
		if err := rowApply(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
