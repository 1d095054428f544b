// Package mysql implements the sinker.Sinker contract against a MySQL (or
// wire-compatible StarRocks/Doris) destination using database/sql with
// the go-sql-driver/mysql driver, the same stack ape-dts's mysql
// connector is built on.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/dtstream/dts/pkg/logutil"
	"github.com/dtstream/dts/pkg/metamgr"
	"github.com/dtstream/dts/pkg/sinker"
	_ "github.com/go-sql-driver/mysql"
)

// Sinker applies DML/DDL to a MySQL-wire destination. Insert is an
// upsert (ON DUPLICATE KEY UPDATE) so replays are idempotent; Delete is
// a delete-if-exists (spec §4.7).
type Sinker struct {
	db       *sql.DB
	meta     *metamgr.MetaManager
	conflict sinker.ConflictPolicy
}

func New(db *sql.DB, meta *metamgr.MetaManager, conflict sinker.ConflictPolicy) *Sinker {
	return &Sinker{db: db, meta: meta, conflict: conflict}
}

func (s *Sinker) SinkDML(ctx context.Context, rows []*dtmeta.Row, batchHint bool) error {
	if len(rows) == 0 {
		return nil
	}
	schema, tb := rows[0].Schema, rows[0].Tb
	idCols, err := s.meta.IDColsResolver(ctx)(schema, tb)
	if err != nil {
		return err
	}

	batchable, serial := sinker.PartitionBatchable(rows, idCols)
	if batchHint && len(batchable) > 0 {
		err := sinker.SinkRowsWithFallback(ctx, batchable, true,
			func(ctx context.Context, rows []*dtmeta.Row) error { return s.applyBatch(ctx, rows) },
			func(ctx context.Context, row *dtmeta.Row) error { return s.applyOne(ctx, row, idCols) },
		)
		if err != nil {
			return err
		}
	} else {
		for _, row := range batchable {
			if err := s.applyOne(ctx, row, idCols); err != nil {
				return err
			}
		}
	}
	for _, row := range serial {
		if err := s.applyOne(ctx, row, idCols); err != nil {
			return err
		}
	}
	return nil
}

// applyBatch applies a run of rows that all share the same type (the
// merger/partitioner guarantee this for their own batches; a mixed batch
// just falls through to one statement per distinct type in order).
func (s *Sinker) applyBatch(ctx context.Context, rows []*dtmeta.Row) error {
	i := 0
	for i < len(rows) {
		j := i + 1
		for j < len(rows) && rows[j].Type == rows[i].Type {
			j++
		}
		if err := s.applyRun(ctx, rows[i:j]); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func (s *Sinker) applyRun(ctx context.Context, rows []*dtmeta.Row) error {
	switch rows[0].Type {
	case dtmeta.RowDelete:
		return s.batchDelete(ctx, rows)
	default:
		return s.batchUpsert(ctx, rows)
	}
}

func (s *Sinker) batchUpsert(ctx context.Context, rows []*dtmeta.Row) error {
	schema, tb := rows[0].Schema, rows[0].Tb
	cols := columnOrder(rows[0].After)
	if len(cols) == 0 {
		return nil
	}

	var placeholders []string
	var args []interface{}
	for _, row := range rows {
		var ph []string
		for _, c := range cols {
			ph = append(ph, "?")
			args = append(args, toSQLArg(row.After[c]))
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	var updateClause []string
	for _, c := range cols {
		updateClause = append(updateClause, fmt.Sprintf("`%s`=VALUES(`%s`)", c, c))
	}

	query := fmt.Sprintf("INSERT INTO `%s`.`%s` (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
		schema, tb, quotedColumns(cols), strings.Join(placeholders, ","), strings.Join(updateClause, ","))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "batch upsert into %s.%s", schema, tb)
	}
	return nil
}

func (s *Sinker) batchDelete(ctx context.Context, rows []*dtmeta.Row) error {
	idCols, err := s.meta.IDColsResolver(ctx)(rows[0].Schema, rows[0].Tb)
	if err != nil {
		return err
	}
	if len(idCols) == 0 {
		return nil
	}

	var clauses []string
	var args []interface{}
	for _, row := range rows {
		var eq []string
		for _, c := range idCols {
			eq = append(eq, fmt.Sprintf("`%s`=?", c))
			args = append(args, toSQLArg(row.Before[c]))
		}
		clauses = append(clauses, "("+strings.Join(eq, " AND ")+")")
	}

	query := fmt.Sprintf("DELETE FROM `%s`.`%s` WHERE %s", rows[0].Schema, rows[0].Tb, strings.Join(clauses, " OR "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "batch delete from %s.%s", rows[0].Schema, rows[0].Tb)
	}
	return nil
}

func (s *Sinker) applyOne(ctx context.Context, row *dtmeta.Row, idCols []string) error {
	switch row.Type {
	case dtmeta.RowDelete:
		return s.batchDelete(ctx, []*dtmeta.Row{row})
	case dtmeta.RowUpdate:
		// an Update with a wholly-NULL pre- or post-identity cannot be
		// addressed; apply as delete-then-insert using whatever identity
		// each image does carry.
		if !row.Before[idCols[0]].IsNull() {
			if err := s.batchDelete(ctx, []*dtmeta.Row{{Schema: row.Schema, Tb: row.Tb, Type: dtmeta.RowDelete, Before: row.Before}}); err != nil {
				return err
			}
		}
		return s.batchUpsert(ctx, []*dtmeta.Row{{Schema: row.Schema, Tb: row.Tb, Type: dtmeta.RowInsert, After: row.After}})
	default:
		return s.batchUpsert(ctx, []*dtmeta.Row{row})
	}
}

func (s *Sinker) SinkDDL(ctx context.Context, ddls []*dtmeta.DdlData, batchHint bool) error {
	for _, ddl := range ddls {
		if _, err := s.db.ExecContext(ctx, ddl.Query); err != nil {
			if s.conflict == sinker.ConflictIgnore {
				logutil.Warnf("mysql sinker: ignoring ddl error on %s.%s: %v", ddl.Schema, ddl.Tb, err)
				continue
			}
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "apply ddl on %s.%s", ddl.Schema, ddl.Tb)
		}
	}
	return nil
}

func (s *Sinker) SinkRaw(ctx context.Context, items []*dtmeta.Item, batchHint bool) error {
	return nil // MySQL is never a Redis/Foxlake raw destination.
}

func (s *Sinker) RefreshMeta(ddls []*dtmeta.DdlData) {
	for _, ddl := range ddls {
		s.meta.InvalidateDDL(ddl)
	}
}

func (s *Sinker) Close() error {
	return s.db.Close()
}

func columnOrder(image map[string]dtmeta.ColValue) []string {
	cols := make([]string, 0, len(image))
	for c := range image {
		cols = append(cols, c)
	}
	return cols
}

func quotedColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("`%s`", c)
	}
	return strings.Join(quoted, ",")
}

func toSQLArg(v dtmeta.ColValue) interface{} {
	if v.IsNull() {
		return nil
	}
	switch v.Kind {
	case dtmeta.ColBool:
		return v.Bool
	case dtmeta.ColTinyInt, dtmeta.ColSmallInt, dtmeta.ColInt, dtmeta.ColBigInt, dtmeta.ColYear:
		return v.I64
	case dtmeta.ColFloat, dtmeta.ColDouble:
		return v.F64
	case dtmeta.ColBlob:
		return v.Bin
	case dtmeta.ColBit, dtmeta.ColSet:
		return v.U64
	default:
		return v.Str
	}
}
