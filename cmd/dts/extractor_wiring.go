package main

import (
	"time"

	"github.com/dtstream/dts/pkg/config"
	"github.com/dtstream/dts/pkg/extractor"
	"github.com/dtstream/dts/pkg/extractor/generic"
	mysqlextractor "github.com/dtstream/dts/pkg/extractor/mysql"
)

// buildExtractor wires the connection-holding stub for the task's
// source engine (spec §1 Non-goals: wire-level log decoding itself is
// out of scope, only the connection lifecycle and heartbeat cadence are
// wired here).
func buildExtractor(cfg config.ExtractorConfig) (extractor.Extractor, error) {
	heartbeat := time.Duration(cfg.BatchSize) * time.Millisecond
	switch cfg.DbType {
	case config.DbMysql, config.DbStarRocks, config.DbDoris:
		return mysqlextractor.New(cfg.URL, heartbeat)
	default:
		return generic.New(heartbeat), nil
	}
}
