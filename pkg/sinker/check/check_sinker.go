// Package check implements a sinker.Sinker that never mutates the
// destination: SinkDML batch-SELECTs the destination by id_cols and
// writes a diff/miss check-log line per row instead of applying it
// (spec §4.8).
package check

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dtstream/dts/pkg/check"
	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/dtstream/dts/pkg/metamgr"
)

// Sinker drives the destination side of the check pipeline over a
// database/sql connection. Its SELECTs use `?` placeholders, so it works
// against mysql-protocol destinations only; it does not generate the
// `$N` placeholders a pg destination needs.
type Sinker struct {
	db     *sql.DB
	meta   *metamgr.MetaManager
	writer *check.Writer
}

func New(db *sql.DB, meta *metamgr.MetaManager, writer *check.Writer) *Sinker {
	return &Sinker{db: db, meta: meta, writer: writer}
}

// SinkDML fetches the destination rows matching rows' identities in one
// bulk SELECT, compares each source row against its match (or nil), and
// appends the resulting check-log lines (spec §4.8).
func (s *Sinker) SinkDML(ctx context.Context, rows []*dtmeta.Row, batchHint bool) error {
	if len(rows) == 0 {
		return nil
	}
	schema, tb := rows[0].Schema, rows[0].Tb
	idCols, err := s.meta.IDColsResolver(ctx)(schema, tb)
	if err != nil {
		return err
	}
	if len(idCols) == 0 {
		return nil
	}

	dstByKey, err := s.fetchDestinationRows(ctx, schema, tb, rows, idCols)
	if err != nil {
		return err
	}

	for _, row := range rows {
		key := rowKey(row, idCols)
		dst := dstByKey[key]
		line := check.Compare(row, dst, idCols)
		if line == nil {
			continue
		}
		if err := s.writer.Write(line); err != nil {
			return err
		}
	}
	return s.writer.Flush()
}

func rowKey(row *dtmeta.Row, idCols []string) string {
	image := row.After
	if row.Type != dtmeta.RowInsert {
		image = row.Before
	}
	var b strings.Builder
	for _, c := range idCols {
		b.WriteString(image[c].String())
		b.WriteByte('\x00')
	}
	return b.String()
}

func (s *Sinker) fetchDestinationRows(ctx context.Context, schema, tb string, rows []*dtmeta.Row, idCols []string) (map[string]*dtmeta.Row, error) {
	var clauses []string
	var args []interface{}
	for _, row := range rows {
		image := row.After
		if row.Type != dtmeta.RowInsert {
			image = row.Before
		}
		var eq []string
		for _, c := range idCols {
			eq = append(eq, fmt.Sprintf("%s = ?", c))
			args = append(args, image[c].String())
		}
		clauses = append(clauses, "("+strings.Join(eq, " AND ")+")")
	}

	query := fmt.Sprintf("SELECT * FROM %s.%s WHERE %s", schema, tb, strings.Join(clauses, " OR "))
	sqlRows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dtserr.Wrap(dtserr.KindSinkerIO, err, "check select on %s.%s", schema, tb)
	}
	defer sqlRows.Close()

	cols, err := sqlRows.Columns()
	if err != nil {
		return nil, dtserr.Wrap(dtserr.KindSinkerIO, err, "check select columns on %s.%s", schema, tb)
	}

	out := make(map[string]*dtmeta.Row)
	for sqlRows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := sqlRows.Scan(ptrs...); err != nil {
			return nil, dtserr.Wrap(dtserr.KindSinkerIO, err, "scan check row on %s.%s", schema, tb)
		}
		image := make(map[string]dtmeta.ColValue, len(cols))
		for i, c := range cols {
			image[c] = columnValue(vals[i])
		}
		row := &dtmeta.Row{Schema: schema, Tb: tb, Type: dtmeta.RowInsert, After: image}
		out[rowKey(row, idCols)] = row
	}
	if err := sqlRows.Err(); err != nil {
		return nil, dtserr.Wrap(dtserr.KindSinkerIO, err, "iterate check rows on %s.%s", schema, tb)
	}
	return out, nil
}

func columnValue(v interface{}) dtmeta.ColValue {
	switch t := v.(type) {
	case nil:
		return dtmeta.NewNull()
	case []byte:
		return dtmeta.NewString(string(t))
	case string:
		return dtmeta.NewString(t)
	case int64:
		return dtmeta.NewBigInt(t)
	case float64:
		return dtmeta.NewDouble(t)
	case bool:
		return dtmeta.NewBool(t)
	default:
		return dtmeta.NewString(fmt.Sprintf("%v", t))
	}
}

func (s *Sinker) SinkDDL(ctx context.Context, ddls []*dtmeta.DdlData, batchHint bool) error { return nil }
func (s *Sinker) SinkRaw(ctx context.Context, items []*dtmeta.Item, batchHint bool) error   { return nil }
func (s *Sinker) RefreshMeta(ddls []*dtmeta.DdlData)                                        {}
func (s *Sinker) Close() error                                                              { return s.db.Close() }
