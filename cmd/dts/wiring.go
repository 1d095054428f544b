package main

import (
	"context"
	"database/sql"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	confluentkafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/dtstream/dts/pkg/check"
	"github.com/dtstream/dts/pkg/config"
	"github.com/dtstream/dts/pkg/datamarker"
	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/dtstream/dts/pkg/merger"
	"github.com/dtstream/dts/pkg/metamgr"
	"github.com/dtstream/dts/pkg/monitor"
	"github.com/dtstream/dts/pkg/parallelizer"
	"github.com/dtstream/dts/pkg/partitioner"
	"github.com/dtstream/dts/pkg/queue"
	"github.com/dtstream/dts/pkg/resumer"
	"github.com/dtstream/dts/pkg/sinker"
	checksinker "github.com/dtstream/dts/pkg/sinker/check"
	"github.com/dtstream/dts/pkg/sinker/clickhouse"
	"github.com/dtstream/dts/pkg/sinker/foxlake"
	kafkasinker "github.com/dtstream/dts/pkg/sinker/kafka"
	"github.com/dtstream/dts/pkg/sinker/mongo"
	mysqlsinker "github.com/dtstream/dts/pkg/sinker/mysql"
	pgsinker "github.com/dtstream/dts/pkg/sinker/pg"
	redissinker "github.com/dtstream/dts/pkg/sinker/redis"
	"github.com/dtstream/dts/pkg/task"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// buildMetaManager constructs the per-engine table-meta resolver for the
// task's sinker side (spec §4.3); only mysql/pg resolvers are grounded in
// an information_schema/pg_catalog query, matching the engines that
// actually carry row-level identity.
func buildMetaManager(ctx context.Context, cfg config.SinkerConfig) (*metamgr.MetaManager, error) {
	switch cfg.DbType {
	case config.DbMysql, config.DbStarRocks, config.DbDoris:
		db, err := sql.Open("mysql", cfg.URL)
		if err != nil {
			return nil, dtserr.Wrap(dtserr.KindConfig, err, "open mysql meta connection")
		}
		return metamgr.New(metamgr.NewMysqlResolver(db)), nil
	case config.DbPg:
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, dtserr.Wrap(dtserr.KindConfig, err, "open pg meta pool")
		}
		return metamgr.New(metamgr.NewPgResolver(pool)), nil
	default:
		// mongo/redis/kafka/foxlake/clickhouse have no relational key
		// metadata to resolve; the meta manager is still wired so the
		// partitioner/merger have a uniform lookup, but every lookup
		// through it returns a Metadata error.
		return metamgr.New(metamgr.ResolverFunc(func(ctx context.Context, schema, tb string) (*dtmeta.TableMeta, error) {
			return nil, dtserr.New(dtserr.KindMetadata, "no relational meta resolver configured for %s.%s", schema, tb)
		})), nil
	}
}

func buildSinker(ctx context.Context, cfg config.SinkerConfig, meta *metamgr.MetaManager, conflict sinker.ConflictPolicy, checkWriter *check.Writer) (sinker.Sinker, error) {
	if checkWriter != nil {
		switch cfg.DbType {
		case config.DbMysql, config.DbStarRocks, config.DbDoris:
		default:
			return nil, dtserr.New(dtserr.KindConfig, "check mode supports only mysql-protocol destinations, got db_type %q", cfg.DbType)
		}
	}
	switch cfg.DbType {
	case config.DbMysql, config.DbStarRocks, config.DbDoris:
		db, err := sql.Open("mysql", cfg.URL)
		if err != nil {
			return nil, dtserr.Wrap(dtserr.KindConfig, err, "open mysql sinker connection")
		}
		if checkWriter != nil {
			return checksinker.New(db, meta, checkWriter), nil
		}
		return mysqlsinker.New(db, meta, conflict), nil

	case config.DbPg:
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, dtserr.Wrap(dtserr.KindConfig, err, "open pg sinker pool")
		}
		return pgsinker.New(pool, meta, conflict), nil

	case config.DbMongo:
		opts := options.Client().ApplyURI(cfg.URL)
		client, err := mongodriver.Connect(ctx, opts)
		if err != nil {
			return nil, dtserr.Wrap(dtserr.KindConfig, err, "connect mongo sinker")
		}
		return mongo.New(client, meta, conflict), nil

	case config.DbRedis:
		opt, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, dtserr.Wrap(dtserr.KindConfig, err, "parse redis url")
		}
		return redissinker.New(goredis.NewClient(opt)), nil

	case config.DbKafka:
		producer, err := confluentkafka.NewProducer(&confluentkafka.ConfigMap{"bootstrap.servers": cfg.URL})
		if err != nil {
			return nil, dtserr.Wrap(dtserr.KindConfig, err, "create kafka producer")
		}
		return kafkasinker.New(producer, cfg.KafkaTopicPrefix, meta), nil

	case config.DbFoxlake:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, dtserr.Wrap(dtserr.KindConfig, err, "load aws config for foxlake sinker")
		}
		client := s3.NewFromConfig(awsCfg)
		return foxlake.New(client, cfg.S3Bucket, cfg.S3Root), nil

	case config.DbClickHouse:
		db, err := sql.Open("clickhouse", cfg.URL)
		if err != nil {
			return nil, dtserr.Wrap(dtserr.KindConfig, err, "open clickhouse sinker connection")
		}
		return clickhouse.New(db, meta, conflict), nil

	default:
		return nil, dtserr.New(dtserr.KindConfig, "unknown sinker db_type: %q", cfg.DbType)
	}
}

func buildParallelizer(cfg config.ParallelizerConfig, meta *metamgr.MetaManager, mon *monitor.Monitor) (parallelizer.Parallelizer, error) {
	switch cfg.Type {
	case config.ParallelSerial:
		return parallelizer.NewSerial(mon), nil
	case config.ParallelSnapshot:
		return parallelizer.NewSnapshot(mon), nil
	case config.ParallelTable:
		return parallelizer.NewTable(mon), nil
	case config.ParallelPartition:
		part := partitioner.New(meta.Lookup(context.Background()))
		return parallelizer.NewPartition(mon, part), nil
	case config.ParallelMerge:
		mg := merger.New(meta.IDColsResolver(context.Background()))
		return parallelizer.NewMerge(mon, mg), nil
	case config.ParallelCheck:
		return parallelizer.NewCheck(mon), nil
	case config.ParallelFoxlake:
		return parallelizer.NewFoxlake(mon), nil
	default:
		return nil, dtserr.New(dtserr.KindConfig, "unknown parallelizer type: %q", cfg.Type)
	}
}

func buildDataMarker(cfg config.DataMarkerConfig, isRedis bool) (*datamarker.DataMarker, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	// cfg.Marker is "schema.tb" for rdb/mongo sources and a bare key for redis.
	markerSchema, markerTb, markerKey := "", "", cfg.Marker
	if !isRedis {
		markerSchema, markerTb, _ = strings.Cut(cfg.Marker, ".")
		markerKey = ""
	}
	return datamarker.New(datamarker.Config{
		TopoName:     cfg.TopoName,
		TopoNodes:    cfg.TopoNodes,
		SrcNode:      cfg.SrcNode,
		DstNode:      cfg.DstNode,
		DoNodes:      cfg.DoNodes,
		IgnoreNodes:  cfg.IgnoreNodes,
		MarkerSchema: markerSchema,
		MarkerTb:     markerTb,
		MarkerKey:    markerKey,
	}, isRedis)
}

func conflictPolicyOf(p config.ConflictPolicy) sinker.ConflictPolicy {
	if p == config.ConflictIgnore {
		return sinker.ConflictIgnore
	}
	return sinker.ConflictInterrupt
}

// buildTask assembles every component a running task needs from its
// decoded config, wiring the Queue -> Parallelizer -> SinkerPool chain
// described in spec §2.
func buildTask(ctx context.Context, cfg *config.TaskConfig, checkWriter *check.Writer) (*task.Task, error) {
	mon := monitor.New()

	meta, err := buildMetaManager(ctx, cfg.Sinker)
	if err != nil {
		return nil, err
	}

	conflict := conflictPolicyOf(cfg.Sinker.ConflictPolicy)
	s, err := buildSinker(ctx, cfg.Sinker, meta, conflict, checkWriter)
	if err != nil {
		return nil, err
	}

	p, err := buildParallelizer(cfg.Parallelizer, meta, mon)
	if err != nil {
		return nil, err
	}

	dm, err := buildDataMarker(cfg.DataMarker, cfg.Extractor.DbType == config.DbRedis)
	if err != nil {
		return nil, err
	}

	res, err := resumer.Load(resumer.Config{
		Dir:                     cfg.Resumer.ResumeLogDir,
		CheckpointIntervalSecs:  cfg.Pipeline.CheckpointIntervalSecs,
		CheckpointIntervalCount: cfg.Pipeline.CheckpointIntervalCount,
	})
	if err != nil {
		return nil, err
	}

	maxItems := cfg.Pipeline.BufferSize
	if maxItems <= 0 {
		maxItems = 10000
	}
	q := queue.New(maxItems, uint64(cfg.Pipeline.BufferMemorySizeBytes))

	sinkers := make([]sinker.Sinker, cfg.Parallelizer.ParallelSize)
	for i := range sinkers {
		sinkers[i] = s
	}

	return task.New(cfg, q, meta, dm, p, sinkers, res, mon), nil
}
