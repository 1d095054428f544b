package check

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
)

// FetchRowsByID bulk-selects the current source rows matching the given
// identity value sets. Revise mode uses this to re-read each miss/diff
// row's present-day content before handing it to a normal sinker (spec
// §6 "revise mode ... consumed by a normal sinker to repair the
// destination") rather than trusting the check log's id_col_values/
// diff_col_values alone, since a miss line carries no column data at all.
func FetchRowsByID(ctx context.Context, db *sql.DB, schema, tb string, idCols []string, idSets []map[string]*string) ([]*dtmeta.Row, error) {
	if len(idSets) == 0 {
		return nil, nil
	}

	var clauses []string
	var args []interface{}
	for _, set := range idSets {
		var eq []string
		for _, c := range idCols {
			eq = append(eq, fmt.Sprintf("%s = ?", c))
			v := set[c]
			if v == nil {
				eq[len(eq)-1] = c + " IS NULL"
				continue
			}
			args = append(args, *v)
		}
		clauses = append(clauses, "("+strings.Join(eq, " AND ")+")")
	}

	query := fmt.Sprintf("SELECT * FROM %s.%s WHERE %s", schema, tb, strings.Join(clauses, " OR "))
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dtserr.Wrap(dtserr.KindSinkerIO, err, "revise select on %s.%s", schema, tb)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, dtserr.Wrap(dtserr.KindSinkerIO, err, "revise select columns on %s.%s", schema, tb)
	}

	var out []*dtmeta.Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, dtserr.Wrap(dtserr.KindSinkerIO, err, "scan revise row on %s.%s", schema, tb)
		}
		image := make(map[string]dtmeta.ColValue, len(cols))
		for i, c := range cols {
			image[c] = sqlColumnValue(vals[i])
		}
		out = append(out, &dtmeta.Row{Schema: schema, Tb: tb, Type: dtmeta.RowInsert, After: image})
	}
	if err := rows.Err(); err != nil {
		return nil, dtserr.Wrap(dtserr.KindSinkerIO, err, "iterate revise rows on %s.%s", schema, tb)
	}
	return out, nil
}

func sqlColumnValue(v interface{}) dtmeta.ColValue {
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
