// Package clickhouse implements the sinker.Sinker contract against
// ClickHouse using ClickHouse/clickhouse-go/v2's database/sql driver.
// ClickHouse has no row-level UPDATE/DELETE semantics worth relying on
// for CDC replay, so every row is appended with a sign/version column
// the way a ReplacingMergeTree/CollapsingMergeTree destination expects:
// Insert/Update append with sign=1, Delete appends with sign=-1, and the
// destination table is responsible for collapsing on merge.
package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/dtstream/dts/pkg/logutil"
	"github.com/dtstream/dts/pkg/metamgr"
	"github.com/dtstream/dts/pkg/sinker"
)

const signColumn = "_sign"

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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "begin batch insert for %s.%s", schema, tb)
	}

	cols := columnsAcross(rows)
	if len(cols) == 0 {
		return tx.Rollback()
	}

	query := fmt.Sprintf("INSERT INTO %s.%s (%s, %s)", schema, tb, strings.Join(cols, ", "), signColumn)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "prepare batch insert for %s.%s", schema, tb)
	}
	defer stmt.Close()

	for _, row := range rows {
		image := row.After
		sign := 1
		if row.Type == dtmeta.RowDelete {
			image = row.Before
			sign = -1
		}
		args := make([]interface{}, 0, len(cols)+1)
		for _, c := range cols {
			args = append(args, toSQLArg(image[c]))
		}
		args = append(args, sign)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "append row into %s.%s", schema, tb)
		}
	}
	if err := tx.Commit(); err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "commit batch insert for %s.%s", schema, tb)
	}
	return nil
}

func (s *Sinker) SinkDDL(ctx context.Context, ddls []*dtmeta.DdlData, batchHint bool) error {
	for _, ddl := range ddls {
		if _, err := s.db.ExecContext(ctx, ddl.Query); err != nil {
			if s.conflict == sinker.ConflictIgnore {
				logutil.Warnf("clickhouse sinker: ignoring ddl error on %s.%s: %v", ddl.Schema, ddl.Tb, err)
				continue
			}
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "apply ddl on %s.%s", ddl.Schema, ddl.Tb)
		}
	}
	return nil
}

func (s *Sinker) SinkRaw(ctx context.Context, items []*dtmeta.Item, batchHint bool) error { return nil }

func (s *Sinker) RefreshMeta(ddls []*dtmeta.DdlData) {
	for _, ddl := range ddls {
		s.meta.InvalidateDDL(ddl)
	}
}

func (s *Sinker) Close() error {
	return s.db.Close()
}

func columnsAcross(rows []*dtmeta.Row) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, row := range rows {
		image := row.After
		if row.Type == dtmeta.RowDelete {
			image = row.Before
		}
		for c := range image {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				cols = append(cols, c)
			}
		}
	}
	return cols
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
	default:
		return v.Str
	}
}
