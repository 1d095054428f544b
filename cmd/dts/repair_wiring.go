package main

import (
	"bufio"
	"context"
	"database/sql"
	"os"

	"github.com/dtstream/dts/pkg/check"
	"github.com/dtstream/dts/pkg/config"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/dtstream/dts/pkg/metamgr"
	"github.com/dtstream/dts/pkg/sinker"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// tableBatch accumulates the id sets of one (schema, tb)'s consecutive
// check-log lines; unlike check.Batch, it neither splits by log_type nor
// caps the number of lines per batch.
type tableBatch struct {
	schema, tb string
	idSets     []map[string]*string
}

// readCheckLog groups every line in path by (schema, tb) run, regardless
// of log_type: revise re-reads the present-day source row for both a
// miss and a diff, so the two kinds repair identically once grouped.
func readCheckLog(path string) ([]tableBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dtserr.Wrap(dtserr.KindSinkerIO, err, "open check log %s", path)
	}
	defer f.Close()

	r := check.NewReader(bufio.NewReader(f))
	var batches []tableBatch
	for {
		line, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if n := len(batches); n > 0 && batches[n-1].schema == line.Schema && batches[n-1].tb == line.Tb {
			batches[n-1].idSets = append(batches[n-1].idSets, line.IDColValues)
			continue
		}
		batches = append(batches, tableBatch{schema: line.Schema, tb: line.Tb, idSets: []map[string]*string{line.IDColValues}})
	}
	return batches, nil
}

// openSourceDB opens the source connection revise/review re-read rows
// from; only mysql/pg sources carry the relational identity a check log
// references (spec §4.8 is defined in terms of id_cols).
func openSourceDB(cfg config.ExtractorConfig) (*sql.DB, error) {
	switch cfg.DbType {
	case config.DbMysql, config.DbStarRocks, config.DbDoris:
		return sql.Open("mysql", cfg.URL)
	case config.DbPg:
		return sql.Open("pgx", cfg.URL)
	default:
		return nil, dtserr.New(dtserr.KindConfig, "revise/review is only supported for relational sources, got %q", cfg.DbType)
	}
}

// repairFromCheckLog re-reads every table's present-day source rows for
// the identities named in path and sinks them into dst, the same
// "normal sinker" a run task would use (spec §6).
func repairFromCheckLog(ctx context.Context, cfg *config.TaskConfig, meta *metamgr.MetaManager, dst sinker.Sinker) error {
	batches, err := readCheckLog(cfg.Extractor.CheckLogDir)
	if err != nil {
		return err
	}

	srcDB, err := openSourceDB(cfg.Extractor)
	if err != nil {
		return err
	}
	defer srcDB.Close()

	idColsOf := meta.IDColsResolver(ctx)
	for _, b := range batches {
		idCols, err := idColsOf(b.schema, b.tb)
		if err != nil {
			return err
		}
		rows, err := check.FetchRowsByID(ctx, srcDB, b.schema, b.tb, idCols, b.idSets)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		if err := dst.SinkDML(ctx, rows, true); err != nil {
			return err
		}
	}
	return nil
}
