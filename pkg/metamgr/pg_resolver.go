package metamgr

import (
	"context"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgResolver resolves TableMeta against pg_catalog, the way ape-dts's
// pg_meta_manager does, using pgx's pool directly (idiomatic for
// long-lived services, unlike database/sql + the pgx stdlib shim).
type PgResolver struct {
	Pool *pgxpool.Pool
}

func NewPgResolver(pool *pgxpool.Pool) *PgResolver {
	return &PgResolver{Pool: pool}
}

func (r *PgResolver) ResolveTableMeta(ctx context.Context, schema, tb string) (*dtmeta.TableMeta, error) {
	meta := &dtmeta.TableMeta{Schema: schema, Tb: tb, KeyMap: make(map[string][]string)}

	rows, err := r.Pool.Query(ctx, `
		SELECT a.attname, format_type(a.atttypid, a.atttypmod)
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum`, schema, tb)
	if err != nil {
		return nil, dtserr.Wrap(dtserr.KindMetadata, err, "query columns for %s.%s", schema, tb)
	}
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			rows.Close()
			return nil, dtserr.Wrap(dtserr.KindMetadata, err, "scan column for %s.%s", schema, tb)
		}
		meta.Columns = append(meta.Columns, dtmeta.ColumnDef{Name: name, SrcTyp: typ})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, dtserr.Wrap(dtserr.KindMetadata, err, "iterate columns for %s.%s", schema, tb)
	}
	if len(meta.Columns) == 0 {
		return nil, dtserr.New(dtserr.KindMetadata, "table not found: %s.%s", schema, tb)
	}

	keyRows, err := r.Pool.Query(ctx, `
		SELECT i.relname, a.attname, con.contype
		FROM pg_index ix
		JOIN pg_class c ON c.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(ix.indkey)
		JOIN pg_constraint con ON con.conindid = ix.indexrelid
		WHERE n.nspname = $1 AND c.relname = $2 AND ix.indisunique
		ORDER BY i.relname, array_position(ix.indkey, a.attnum)`, schema, tb)
	if err != nil {
		return nil, dtserr.Wrap(dtserr.KindMetadata, err, "query keys for %s.%s", schema, tb)
	}
	defer keyRows.Close()

	for keyRows.Next() {
		var indexName, colName, conType string
		if err := keyRows.Scan(&indexName, &colName, &conType); err != nil {
			return nil, dtserr.Wrap(dtserr.KindMetadata, err, "scan key for %s.%s", schema, tb)
		}
		name := indexName
		if conType == "p" {
			name = "primary"
		}
		meta.KeyMap[name] = append(meta.KeyMap[name], colName)
	}
	if err := keyRows.Err(); err != nil {
		return nil, dtserr.Wrap(dtserr.KindMetadata, err, "iterate keys for %s.%s", schema, tb)
	}

	return meta, nil
}
