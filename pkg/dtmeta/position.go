package dtmeta

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// PositionKind tags the variant of Position carried on the position log
// (spec §6): {None, Kafka, RdbSnapshot, MysqlCdc, PgCdc, MongoCdc, Redis,
// FoxlakeS3, RdbSnapshotFinished}.
type PositionKind string

const (
	PositionNone               PositionKind = "none"
	PositionKafka              PositionKind = "kafka"
	PositionRdbSnapshot        PositionKind = "rdb_snapshot"
	PositionMysqlCdc           PositionKind = "mysql_cdc"
	PositionPgCdc              PositionKind = "pg_cdc"
	PositionMongoCdc           PositionKind = "mongo_cdc"
	PositionRedis              PositionKind = "redis"
	PositionFoxlakeS3          PositionKind = "foxlake_s3"
	PositionRdbSnapshotFinished PositionKind = "rdb_snapshot_finished"
)

// Position is a tagged union over the position kinds above. Only the
// fields relevant to Kind are meaningful; unused fields are left zero.
// This mirrors ape-dts's Position enum, flattened into one Go struct so
// it round-trips through JSON without a custom (Un)MarshalJSON per
// variant.
type Position struct {
	Kind PositionKind `json:"kind"`

	// RdbSnapshot / RdbSnapshotFinished
	Schema   string `json:"schema,omitempty"`
	Tb       string `json:"tb,omitempty"`
	OrderCol string `json:"order_col,omitempty"`
	Value    string `json:"value,omitempty"`

	// MysqlCdc / PgCdc / MongoCdc / Kafka / Redis — an opaque
	// source-native position string (binlog file:pos, LSN, resume
	// token, topic/partition/offset, replication stream offset).
	Source string `json:"source,omitempty"`

	// FoxlakeS3
	S3MetaFile string `json:"s3_meta_file,omitempty"`
}

// IsNone reports whether this Position carries no information.
func (p Position) IsNone() bool { return p.Kind == "" || p.Kind == PositionNone }

// logFlag distinguishes a "current position" line from a "checkpoint
// position" line in position.log (spec §6 "textual prefix").
const (
	currentPositionFlag    = "current_position"
	checkpointPositionFlag = "checkpoint_position"
)

// PositionLogLine serializes p as one line of position.log, tagged as
// either a current or checkpoint position.
func PositionLogLine(p Position, isCurrent bool) (string, error) {
	buf, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "marshal position")
	}
	flag := checkpointPositionFlag
	if isCurrent {
		flag = currentPositionFlag
	}
	return flag + "|" + string(buf), nil
}

// ParsePositionLogLine parses one line written by PositionLogLine,
// returning the Position and whether it was a current-position line.
func ParsePositionLogLine(line string) (Position, bool, error) {
	for _, flag := range []string{currentPositionFlag, checkpointPositionFlag} {
		prefix := flag + "|"
		if len(line) >= len(prefix) && line[:len(prefix)] == prefix {
			var p Position
			if err := json.Unmarshal([]byte(line[len(prefix):]), &p); err != nil {
				return Position{}, false, errors.Wrapf(err, "parse position log line")
			}
			return p, flag == currentPositionFlag, nil
		}
	}
	return Position{}, false, errors.Newf("position log line missing current/checkpoint flag: %q", line)
}
