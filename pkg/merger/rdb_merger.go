// Package merger implements the per-table change merger (spec §4.5): it
// compresses a DML batch per identity key into the minimum equivalent
// sequence of bulk deletes + bulk inserts, plus an unmerged tail for
// operations that cannot be collapsed.
package merger

import (
	"github.com/dtstream/dts/pkg/dtmeta"
)

// IDColsResolver returns the identity columns for (schema, tb), as
// resolved by the meta manager (spec §4.3).
type IDColsResolver func(schema, tb string) ([]string, error)

// TbMergedData is one table's merge output (spec §4.5).
type TbMergedData struct {
	InsertRows   []*dtmeta.Row
	DeleteRows   []*dtmeta.Row
	UnmergedRows []*dtmeta.Row
}

// state is the merger's per-identity running state: either a live
// Insert or a pending Delete for that hash (typ is always one of
// dtmeta.RowInsert / dtmeta.RowDelete).
type state struct {
	typ dtmeta.RowType
	row *dtmeta.Row
}

// tbState is the mutable per-table working set used while merging one
// batch; it is discarded once that table's TbMergedData is materialized.
type tbState struct {
	states  map[uint64]*state
	order   []uint64 // hashes in the order they were (re)added; materialize emits each once, at its first position
	deletes []*dtmeta.Row
	unmerged []*dtmeta.Row
}

func newTbState() *tbState {
	return &tbState{states: make(map[uint64]*state)}
}

// Merger applies the rules of spec §4.5 over a Row batch, producing a
// per-(schema,tb) TbMergedData map.
type Merger struct {
	resolveIDCols IDColsResolver
}

func New(resolver IDColsResolver) *Merger {
	return &Merger{resolveIDCols: resolver}
}

// Merge groups rows by (schema, tb) and applies the collapse rules
// within each table independently (spec §4.5's table is defined
// per-table; cross-table rows never interact).
func (m *Merger) Merge(rows []*dtmeta.Row) (map[string]*TbMergedData, error) {
	tables := make(map[string]*tbState)
	tableOrder := make([]string, 0)

	for _, row := range rows {
		full := row.Schema + "." + row.Tb
		ts, ok := tables[full]
		if !ok {
			ts = newTbState()
			tables[full] = ts
			tableOrder = append(tableOrder, full)
		}

		idCols, err := m.resolveIDCols(row.Schema, row.Tb)
		if err != nil {
			return nil, err
		}
		ts.apply(row, idCols)
	}

	result := make(map[string]*TbMergedData, len(tableOrder))
	for _, full := range tableOrder {
		result[full] = tables[full].materialize()
	}
	return result, nil
}

func (ts *tbState) apply(row *dtmeta.Row, idCols []string) {
	switch row.Type {
	case dtmeta.RowInsert:
		ts.applyInsert(row, idCols)
	case dtmeta.RowDelete:
		ts.applyDelete(row, idCols)
	case dtmeta.RowUpdate:
		ts.applyUpdate(row, idCols)
	}
}

func (ts *tbState) applyInsert(row *dtmeta.Row, idCols []string) {
	h := row.HashCode(idCols)
	if h == 0 {
		ts.unmerged = append(ts.unmerged, row)
		return
	}

	st, ok := ts.states[h]
	switch {
	case !ok:
		ts.states[h] = &state{typ: dtmeta.RowInsert, row: row}
		ts.order = append(ts.order, h)
	case st.typ == dtmeta.RowInsert:
		// Insert(h) followed by Insert(h): treat as an update, keep the newer image.
		st.row = row
	default:
		// Delete(h) followed by Insert(h): keep both, in order (unmerged).
		ts.unmerged = append(ts.unmerged, st.row, row)
		delete(ts.states, h)
	}
}

func (ts *tbState) applyDelete(row *dtmeta.Row, idCols []string) {
	h := row.HashCode(idCols)
	if h == 0 {
		ts.unmerged = append(ts.unmerged, row)
		return
	}

	st, ok := ts.states[h]
	switch {
	case !ok:
		ts.states[h] = &state{typ: dtmeta.RowDelete, row: row}
		ts.order = append(ts.order, h)
	case st.typ == dtmeta.RowInsert:
		// Insert(h) followed by Delete(h): drop both.
		delete(ts.states, h)
	default:
		// Delete(h) followed by Delete(h): stays a delete, idempotent.
		st.row = row
	}
}

func (ts *tbState) applyUpdate(row *dtmeta.Row, idCols []string) {
	beforeHash := row.HashCode(idCols) // Update's idImage() is Before
	afterHash := row.AfterHashCode(idCols)
	if beforeHash == 0 || afterHash == 0 {
		ts.unmerged = append(ts.unmerged, row)
		return
	}

	st, ok := ts.states[beforeHash]
	if !ok {
		// none + Update: split into Delete(before-image) + Insert(after-image).
		ts.deletes = append(ts.deletes, asDelete(row))
		ts.states[afterHash] = &state{typ: dtmeta.RowInsert, row: asInsert(row)}
		ts.order = append(ts.order, afterHash)
		return
	}

	if st.typ == dtmeta.RowDelete {
		// Delete(h) followed by an Update on the same key has no collapse
		// rule in spec §4.5; route both to the unmerged tail in order.
		ts.unmerged = append(ts.unmerged, st.row, row)
		delete(ts.states, beforeHash)
		return
	}

	// Insert(h) followed by Update(h -> h'): replace Insert with
	// Insert(after'); if the identity changed, also emit a Delete(h).
	if beforeHash != afterHash {
		delete(ts.states, beforeHash)
		ts.deletes = append(ts.deletes, asDelete(row))
		ts.states[afterHash] = &state{typ: dtmeta.RowInsert, row: asInsert(row)}
		ts.order = append(ts.order, afterHash)
		return
	}
	st.row = asInsert(row)
}

func asDelete(row *dtmeta.Row) *dtmeta.Row {
	cp := row.Clone()
	cp.Type = dtmeta.RowDelete
	cp.After = nil
	return cp
}

func asInsert(row *dtmeta.Row) *dtmeta.Row {
	cp := row.Clone()
	cp.Type = dtmeta.RowInsert
	cp.Before = nil
	return cp
}

func (ts *tbState) materialize() *TbMergedData {
	out := &TbMergedData{}
	out.DeleteRows = append(out.DeleteRows, ts.deletes...)
	emitted := make(map[uint64]struct{}, len(ts.order))
	for _, h := range ts.order {
		if _, dup := emitted[h]; dup {
			continue // re-added after a drop: already emitted at its first position
		}
		st, ok := ts.states[h]
		if !ok {
			continue // consumed by a later drop/move-to-unmerged
		}
		emitted[h] = struct{}{}
		if st.typ == dtmeta.RowInsert {
			out.InsertRows = append(out.InsertRows, st.row)
		} else {
			out.DeleteRows = append(out.DeleteRows, st.row)
		}
	}
	out.UnmergedRows = ts.unmerged
	return out
}
