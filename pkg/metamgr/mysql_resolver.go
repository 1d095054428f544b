package metamgr

import (
	"context"
	"database/sql"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	_ "github.com/go-sql-driver/mysql"
)

// MysqlResolver resolves TableMeta against information_schema, the way
// ape-dts's mysql_meta_manager does, using database/sql with the
// go-sql-driver/mysql driver registered above.
type MysqlResolver struct {
	DB *sql.DB
}

func NewMysqlResolver(db *sql.DB) *MysqlResolver {
	return &MysqlResolver{DB: db}
}

func (r *MysqlResolver) ResolveTableMeta(ctx context.Context, schema, tb string) (*dtmeta.TableMeta, error) {
	meta := &dtmeta.TableMeta{Schema: schema, Tb: tb, KeyMap: make(map[string][]string)}

	colRows, err := r.DB.QueryContext(ctx, `
		SELECT column_name, column_type
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, schema, tb)
	if err != nil {
		return nil, dtserr.Wrap(dtserr.KindMetadata, err, "query columns for %s.%s", schema, tb)
	}
	defer colRows.Close()

	for colRows.Next() {
		var name, typ string
		if err := colRows.Scan(&name, &typ); err != nil {
			return nil, dtserr.Wrap(dtserr.KindMetadata, err, "scan column for %s.%s", schema, tb)
		}
		meta.Columns = append(meta.Columns, dtmeta.ColumnDef{Name: name, SrcTyp: typ})
	}
	if err := colRows.Err(); err != nil {
		return nil, dtserr.Wrap(dtserr.KindMetadata, err, "iterate columns for %s.%s", schema, tb)
	}
	if len(meta.Columns) == 0 {
		return nil, dtserr.New(dtserr.KindMetadata, "table not found: %s.%s", schema, tb)
	}

	keyRows, err := r.DB.QueryContext(ctx, `
		SELECT index_name, column_name
		FROM information_schema.statistics
		WHERE table_schema = ? AND table_name = ? AND non_unique = 0
		ORDER BY index_name, seq_in_index`, schema, tb)
	if err != nil {
		return nil, dtserr.Wrap(dtserr.KindMetadata, err, "query keys for %s.%s", schema, tb)
	}
	defer keyRows.Close()

	for keyRows.Next() {
		var indexName, colName string
		if err := keyRows.Scan(&indexName, &colName); err != nil {
			return nil, dtserr.Wrap(dtserr.KindMetadata, err, "scan key for %s.%s", schema, tb)
		}
		name := indexName
		if name == "PRIMARY" {
			name = "primary"
		}
		meta.KeyMap[name] = append(meta.KeyMap[name], colName)
	}
	if err := keyRows.Err(); err != nil {
		return nil, dtserr.Wrap(dtserr.KindMetadata, err, "iterate keys for %s.%s", schema, tb)
	}

	return meta, nil
}
