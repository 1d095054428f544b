// Package pg implements the sinker.Sinker contract against PostgreSQL
// using jackc/pgx/v5's pool, the connector the rest of the retrieval
// pack settled on for Postgres access.
package pg

import (
	"context"
	"fmt"
	"strings"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/dtstream/dts/pkg/logutil"
	"github.com/dtstream/dts/pkg/metamgr"
	"github.com/dtstream/dts/pkg/sinker"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Sinker struct {
	pool     *pgxpool.Pool
	meta     *metamgr.MetaManager
	conflict sinker.ConflictPolicy
}

func New(pool *pgxpool.Pool, meta *metamgr.MetaManager, conflict sinker.ConflictPolicy) *Sinker {
	return &Sinker{pool: pool, meta: meta, conflict: conflict}
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
			func(ctx context.Context, rows []*dtmeta.Row) error { return s.applyBatch(ctx, rows, idCols) },
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

func (s *Sinker) applyBatch(ctx context.Context, rows []*dtmeta.Row, idCols []string) error {
	i := 0
	for i < len(rows) {
		j := i + 1
		for j < len(rows) && rows[j].Type == rows[i].Type {
			j++
		}
		if err := s.applyRun(ctx, rows[i:j], idCols); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func (s *Sinker) applyRun(ctx context.Context, rows []*dtmeta.Row, idCols []string) error {
	if rows[0].Type == dtmeta.RowDelete {
		return s.batchDelete(ctx, rows, idCols)
	}
	return s.batchUpsert(ctx, rows, idCols)
}

func (s *Sinker) batchUpsert(ctx context.Context, rows []*dtmeta.Row, idCols []string) error {
	schema, tb := rows[0].Schema, rows[0].Tb
	cols := columnOrder(rows[0].After)
	if len(cols) == 0 {
		return nil
	}

	var placeholders []string
	var args []interface{}
	n := 1
	for _, row := range rows {
		var ph []string
		for _, c := range cols {
			ph = append(ph, fmt.Sprintf("$%d", n))
			args = append(args, toSQLArg(row.After[c]))
			n++
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	var conflictTarget string
	if len(idCols) > 0 {
		conflictTarget = strings.Join(quoteCols(idCols), ",")
	}
	var updateClause []string
	for _, c := range cols {
		updateClause = append(updateClause, fmt.Sprintf("%q=EXCLUDED.%q", c, c))
	}

	query := fmt.Sprintf("INSERT INTO %q.%q (%s) VALUES %s ON CONFLICT (%s) DO UPDATE SET %s",
		schema, tb, strings.Join(quoteCols(cols), ","), strings.Join(placeholders, ","), conflictTarget, strings.Join(updateClause, ","))

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "batch upsert into %s.%s", schema, tb)
	}
	return nil
}

func (s *Sinker) batchDelete(ctx context.Context, rows []*dtmeta.Row, idCols []string) error {
	if len(idCols) == 0 {
		return nil
	}
	var clauses []string
	var args []interface{}
	n := 1
	for _, row := range rows {
		var eq []string
		for _, c := range idCols {
			eq = append(eq, fmt.Sprintf("%q=$%d", c, n))
			args = append(args, toSQLArg(row.Before[c]))
			n++
		}
		clauses = append(clauses, "("+strings.Join(eq, " AND ")+")")
	}

	query := fmt.Sprintf("DELETE FROM %q.%q WHERE %s", rows[0].Schema, rows[0].Tb, strings.Join(clauses, " OR "))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "batch delete from %s.%s", rows[0].Schema, rows[0].Tb)
	}
	return nil
}

func (s *Sinker) applyOne(ctx context.Context, row *dtmeta.Row, idCols []string) error {
	switch row.Type {
	case dtmeta.RowDelete:
		return s.batchDelete(ctx, []*dtmeta.Row{row}, idCols)
	case dtmeta.RowUpdate:
		if len(idCols) > 0 && !row.Before[idCols[0]].IsNull() {
			if err := s.batchDelete(ctx, []*dtmeta.Row{{Schema: row.Schema, Tb: row.Tb, Type: dtmeta.RowDelete, Before: row.Before}}, idCols); err != nil {
				return err
			}
		}
		return s.batchUpsert(ctx, []*dtmeta.Row{{Schema: row.Schema, Tb: row.Tb, Type: dtmeta.RowInsert, After: row.After}}, idCols)
	default:
		return s.batchUpsert(ctx, []*dtmeta.Row{row}, idCols)
	}
}

func (s *Sinker) SinkDDL(ctx context.Context, ddls []*dtmeta.DdlData, batchHint bool) error {
	for _, ddl := range ddls {
		if _, err := s.pool.Exec(ctx, ddl.Query); err != nil {
			if s.conflict == sinker.ConflictIgnore {
				logutil.Warnf("pg sinker: ignoring ddl error on %s.%s: %v", ddl.Schema, ddl.Tb, err)
				continue
			}
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "apply ddl on %s.%s", ddl.Schema, ddl.Tb)
		}
	}
	return nil
}

func (s *Sinker) SinkRaw(ctx context.Context, items []*dtmeta.Item, batchHint bool) error {
	return nil
}

func (s *Sinker) RefreshMeta(ddls []*dtmeta.DdlData) {
	for _, ddl := range ddls {
		s.meta.InvalidateDDL(ddl)
	}
}

func (s *Sinker) Close() error {
	s.pool.Close()
	return nil
}

func columnOrder(image map[string]dtmeta.ColValue) []string {
	cols := make([]string, 0, len(image))
	for c := range image {
		cols = append(cols, c)
	}
	return cols
}

func quoteCols(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = fmt.Sprintf("%q", c)
	}
	return out
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
