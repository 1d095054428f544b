// Package partitioner implements the RDB partitioner (spec §4.4): it
// hashes rows by their partition column into N sub-batches for parallel
// sink workers, and guards against partitioning an UPDATE that changes a
// key column (which would let two workers race on the same identity).
package partitioner

import (
	"github.com/dtstream/dts/pkg/dtmeta"
)

// TableMetaLookup resolves the TableMeta for (schema, tb), as cached by
// the meta manager (spec §4.3).
type TableMetaLookup func(schema, tb string) (*dtmeta.TableMeta, error)

// Partitioner hashes Rows into N sub-batches by partition_col = id_cols[0].
type Partitioner struct {
	lookup TableMetaLookup
}

func New(lookup TableMetaLookup) *Partitioner {
	return &Partitioner{lookup: lookup}
}

// Partition splits rows into partitionCount sub-batches. For
// partitionCount <= 1, all rows go to partition 0 (spec §4.4).
func (p *Partitioner) Partition(rows []*dtmeta.Row, partitionCount int) ([][]*dtmeta.Row, error) {
	sub := make([][]*dtmeta.Row, partitionCount)
	for i := range sub {
		sub[i] = make([]*dtmeta.Row, 0)
	}
	if partitionCount <= 1 {
		sub[0] = rows
		return sub, nil
	}

	for _, row := range rows {
		idx, err := p.partitionIndex(row, partitionCount)
		if err != nil {
			return nil, err
		}
		sub[idx] = append(sub[idx], row)
	}
	return sub, nil
}

func (p *Partitioner) partitionIndex(row *dtmeta.Row, partitionCount int) (int, error) {
	meta, err := p.lookup(row.Schema, row.Tb)
	if err != nil {
		return 0, err
	}

	var image map[string]dtmeta.ColValue
	if row.Type == dtmeta.RowInsert {
		image = row.After
	} else {
		image = row.Before
	}

	v, ok := image[meta.PartitionCol]
	if !ok {
		return 0, nil
	}
	return int(v.HashCode() % uint64(partitionCount)), nil
}

// CanBePartitioned reports whether row may be safely routed to a
// partition independent of other rows in the batch (spec §4.4's guard).
// Insert/Delete are always safe. An Update is unsafe if any column that
// appears in any key of key_map differs between before and after; if
// key_map is empty, only partition_col is checked.
func (p *Partitioner) CanBePartitioned(row *dtmeta.Row) (bool, error) {
	if row.Type != dtmeta.RowUpdate {
		return true, nil
	}

	meta, err := p.lookup(row.Schema, row.Tb)
	if err != nil {
		return false, err
	}

	if len(meta.KeyMap) == 0 {
		before, after := row.Before[meta.PartitionCol], row.After[meta.PartitionCol]
		return before.Equal(after), nil
	}

	seen := make(map[string]struct{})
	for _, keyCols := range meta.KeyMap {
		for _, col := range keyCols {
			if _, done := seen[col]; done {
				continue
			}
			seen[col] = struct{}{}
			before, after := row.Before[col], row.After[col]
			if !before.Equal(after) {
				return false, nil
			}
		}
	}
	return true, nil
}

// DrainGuard scans a draining batch in order and returns the prefix that
// must be flushed together: scanning stops immediately, *including* the
// first row for which CanBePartitioned is false (spec §4.4) — that row
// is still part of the returned batch, but no row after it may join this
// dispatch, preserving the invariant that cross-partition updates on the
// same key can never be reordered relative to each other. stopped
// reports whether a guard row was hit (false means the whole input was
// safe to drain as one batch).
func (p *Partitioner) DrainGuard(rows []*dtmeta.Row) (batch []*dtmeta.Row, stopped bool, err error) {
	for i, row := range rows {
		ok, err := p.CanBePartitioned(row)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return rows[:i+1], true, nil
		}
	}
	return rows, false, nil
}
