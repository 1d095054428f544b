// Package config decodes a task's .toml file into the structs every
// component is wired from (spec §6 "Environment"). The section layout
// mirrors ape-dts's TaskConfig: [extractor], [sinker], [parallelizer],
// [pipeline], [data_marker], [resumer], [runtime].
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/dtstream/dts/pkg/dtserr"
)

// Mode is the task's operating mode (spec §1).
type Mode string

const (
	ModeSnapshot Mode = "snapshot"
	ModeCdc      Mode = "cdc"
	ModeCheck    Mode = "check"
	ModeRevise   Mode = "revise"
	ModeReview   Mode = "review"
)

// DbType tags the source/sink engine.
type DbType string

const (
	DbMysql      DbType = "mysql"
	DbPg         DbType = "pg"
	DbMongo      DbType = "mongo"
	DbRedis      DbType = "redis"
	DbKafka      DbType = "kafka"
	DbFoxlake    DbType = "foxlake"
	DbClickHouse DbType = "clickhouse"
	DbStarRocks  DbType = "starrocks"
	DbDoris      DbType = "doris"
)

// ParallelType selects a Parallelizer variant (spec §4.6).
type ParallelType string

const (
	ParallelSerial    ParallelType = "serial"
	ParallelSnapshot  ParallelType = "snapshot"
	ParallelTable     ParallelType = "table"
	ParallelPartition ParallelType = "partition"
	ParallelMerge     ParallelType = "merge"
	ParallelCheck     ParallelType = "check"
	ParallelFoxlake   ParallelType = "foxlake"
)

// ConflictPolicy mirrors sinker.ConflictPolicy at the config boundary.
type ConflictPolicy string

const (
	ConflictInterrupt ConflictPolicy = "interrupt"
	ConflictIgnore    ConflictPolicy = "ignore"
)

type ExtractorConfig struct {
	DbType      DbType `toml:"db_type"`
	URL         string `toml:"url"`
	PoolSize    int    `toml:"pool_size"`
	BatchSize   int    `toml:"batch_size"`
	ResumeValue string `toml:"resume_value"` // e.g. order_col starting bound
	CheckLogDir string `toml:"check_log_dir"`
}

type SinkerConfig struct {
	DbType           DbType         `toml:"db_type"`
	URL              string         `toml:"url"`
	PoolSize         int            `toml:"pool_size"`
	BatchSize        int            `toml:"batch_size"`
	ConflictPolicy   ConflictPolicy `toml:"conflict_policy"`
	S3Bucket         string         `toml:"s3_bucket"`
	S3Root           string         `toml:"s3_root"`
	KafkaTopicPrefix string         `toml:"kafka_topic_prefix"`
}

type ParallelizerConfig struct {
	Type         ParallelType `toml:"type"`
	ParallelSize int          `toml:"parallel_size"`
}

type PipelineConfig struct {
	BufferSize           int   `toml:"buffer_size"`
	BufferMemorySizeBytes int64 `toml:"buffer_memory_size_bytes"`
	CheckpointIntervalSecs int64 `toml:"checkpoint_interval_secs"`
	CheckpointIntervalCount int64 `toml:"checkpoint_interval_count"`
}

type DataMarkerConfig struct {
	Enabled      bool     `toml:"enabled"`
	TopoName     string   `toml:"topo_name"`
	TopoNodes    []string `toml:"topo_nodes"`
	SrcNode      string   `toml:"src_node"`
	DstNode      string   `toml:"dst_node"`
	DoNodes      []string `toml:"do_nodes"`
	IgnoreNodes  []string `toml:"ignore_nodes"`
	Marker       string   `toml:"marker"` // "schema.tb" for rdb/mongo, bare key for redis
}

type ResumerConfig struct {
	ResumeConfigFile string `toml:"resume_config_file"`
	ResumeFromLog    bool   `toml:"resume_from_log"`
	ResumeLogDir     string `toml:"resume_log_dir"`
}

type RuntimeConfig struct {
	LogLevel string `toml:"log_level"`
	LogDir   string `toml:"log_dir"`
}

// TaskConfig is the full decoded task file.
type TaskConfig struct {
	Mode         Mode               `toml:"mode"`
	Extractor    ExtractorConfig    `toml:"extractor"`
	Sinker       SinkerConfig       `toml:"sinker"`
	Parallelizer ParallelizerConfig `toml:"parallelizer"`
	Pipeline     PipelineConfig     `toml:"pipeline"`
	DataMarker   DataMarkerConfig   `toml:"data_marker"`
	Resumer      ResumerConfig      `toml:"resumer"`
	Runtime      RuntimeConfig      `toml:"runtime"`
}

// Load decodes path into a TaskConfig and applies the validations that
// are fatal at startup per spec §7 (KindConfig): an unknown parallel
// type, or a malformed data-marker identifier when data-marking is enabled.
func Load(path string) (*TaskConfig, error) {
	var cfg TaskConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, dtserr.Wrap(dtserr.KindConfig, err, "decode task config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *TaskConfig) Validate() error {
	switch c.Parallelizer.Type {
	case ParallelSerial, ParallelSnapshot, ParallelTable, ParallelPartition, ParallelMerge, ParallelCheck, ParallelFoxlake:
	default:
		return dtserr.New(dtserr.KindConfig, "unknown parallelizer type: %q", c.Parallelizer.Type)
	}
	if c.Parallelizer.ParallelSize <= 0 {
		c.Parallelizer.ParallelSize = 1
	}
	if c.DataMarker.Enabled {
		isRedis := c.Extractor.DbType == DbRedis
		if !isRedis {
			if !containsDot(c.DataMarker.Marker) {
				return dtserr.New(dtserr.KindConfig, "data marker identifier must be in schema.tb form, got %q", c.DataMarker.Marker)
			}
		} else if c.DataMarker.Marker == "" {
			return dtserr.New(dtserr.KindConfig, "data marker key must not be empty for a redis source")
		}
	}
	return nil
}

func containsDot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return i > 0 && i < len(s)-1
		}
	}
	return false
}
