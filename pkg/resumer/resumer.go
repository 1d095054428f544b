// Package resumer implements the PositionTracker described in spec
// §4.9: it loads position.log / finished.log at startup, tracks the
// current and checkpoint positions the pipeline reaches, and flushes
// both logs on a cron-driven cadence or after a fixed event count,
// whichever comes first.
package resumer

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/dtstream/dts/pkg/logutil"
	"github.com/robfig/cron/v3"
)

const (
	positionLogName = "position.log"
	finishedLogName = "finished.log"
)

// tableKey identifies a (schema, tb, order_col) triple for the "current
// vs checkpoint, checkpoint wins if present" precedence rule.
type tableKey struct {
	schema, tb, orderCol string
}

// PositionTracker owns the pipeline's resumable state: the latest
// current/checkpoint Position per table, the set of tables whose
// snapshot has finished, and the periodic flush of both to disk.
type PositionTracker struct {
	dir string

	mu        sync.Mutex
	current   map[tableKey]dtmeta.Position
	checkpoint map[tableKey]dtmeta.Position
	finished  map[string]struct{}

	eventsSinceFlush int64
	flushEveryN      int64

	cronSched *cron.Cron
}

// Config controls where the logs live and how often they flush.
type Config struct {
	Dir                     string
	CheckpointIntervalSecs  int64
	CheckpointIntervalCount int64
}

// Load opens (or creates) the resume directory, replays position.log and
// finished.log if present, and starts the periodic flush cron job.
func Load(cfg Config) (*PositionTracker, error) {
	if cfg.Dir == "" {
		return nil, dtserr.New(dtserr.KindConfig, "resumer: resume_log_dir must not be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, dtserr.Wrap(dtserr.KindConfig, err, "create resume log dir %s", cfg.Dir)
	}

	t := &PositionTracker{
		dir:        cfg.Dir,
		current:    make(map[tableKey]dtmeta.Position),
		checkpoint: make(map[tableKey]dtmeta.Position),
		finished:   make(map[string]struct{}),
		flushEveryN: cfg.CheckpointIntervalCount,
	}

	if err := t.replayPositionLog(); err != nil {
		return nil, err
	}
	if err := t.replayFinishedLog(); err != nil {
		return nil, err
	}

	if cfg.CheckpointIntervalSecs > 0 {
		t.cronSched = cron.New()
		spec := cronEverySeconds(cfg.CheckpointIntervalSecs)
		if _, err := t.cronSched.AddFunc(spec, func() {
			if err := t.Flush(); err != nil {
				logutil.Errorf("resumer: periodic flush failed: %v", err)
			}
		}); err != nil {
			return nil, dtserr.Wrap(dtserr.KindConfig, err, "schedule checkpoint flush")
		}
		t.cronSched.Start()
	}

	return t, nil
}

// cronEverySeconds builds a robfig/cron v3 "@every" spec, which supports
// sub-minute granularity unlike the classic 5-field syntax.
func cronEverySeconds(secs int64) string {
	return "@every " + formatDuration(secs) + "s"
}

func formatDuration(secs int64) string {
	if secs <= 0 {
		secs = 1
	}
	return itoa(secs)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// Observe records the current position reached for (schema, tb,
// order_col), then triggers a flush if the fixed event-count threshold
// was crossed (spec §4.9 "whichever comes first").
func (t *PositionTracker) Observe(schema, tb, orderCol string, pos dtmeta.Position) {
	t.mu.Lock()
	t.current[tableKey{schema, tb, orderCol}] = pos
	t.mu.Unlock()

	if t.flushEveryN > 0 && atomic.AddInt64(&t.eventsSinceFlush, 1) >= t.flushEveryN {
		atomic.StoreInt64(&t.eventsSinceFlush, 0)
		if err := t.Flush(); err != nil {
			logutil.Errorf("resumer: event-count flush failed: %v", err)
		}
	}
}

// Checkpoint records a durable (commit-boundary) position, which always
// takes precedence over a current position for the same table on the
// next restart (spec §4.9).
func (t *PositionTracker) Checkpoint(schema, tb, orderCol string, pos dtmeta.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkpoint[tableKey{schema, tb, orderCol}] = pos
}

// MarkFinished records that schema.tb's snapshot has completed; it is
// skipped on any subsequent restart (spec §4.9, §8 invariant 6).
func (t *PositionTracker) MarkFinished(schema, tb string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished[schema+"."+tb] = struct{}{}
}

// IsFinished reports whether schema.tb was listed in finished.log at
// load time or marked finished since.
func (t *PositionTracker) IsFinished(schema, tb string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.finished[schema+"."+tb]
	return ok
}

// Resolve returns the position the pipeline should resume from for
// (schema, tb, order_col): the checkpoint position if one was recorded,
// else the current position, else the zero Position (spec §4.9).
func (t *PositionTracker) Resolve(schema, tb, orderCol string) dtmeta.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := tableKey{schema, tb, orderCol}
	if p, ok := t.checkpoint[k]; ok {
		return p
	}
	if p, ok := t.current[k]; ok {
		return p
	}
	return dtmeta.Position{Kind: dtmeta.PositionNone}
}

// Flush rewrites position.log (all current lines, then all checkpoint
// lines; the order within each group is not fixed) and finished.log atomically via a
// write-then-rename, so a crash mid-flush never truncates the prior file.
func (t *PositionTracker) Flush() error {
	t.mu.Lock()
	var lines []string
	for k, p := range t.current {
		line, err := dtmeta.PositionLogLine(p, true)
		if err != nil {
			t.mu.Unlock()
			return dtserr.Wrap(dtserr.KindParse, err, "serialize current position for %s.%s", k.schema, k.tb)
		}
		lines = append(lines, line)
	}
	for k, p := range t.checkpoint {
		line, err := dtmeta.PositionLogLine(p, false)
		if err != nil {
			t.mu.Unlock()
			return dtserr.Wrap(dtserr.KindParse, err, "serialize checkpoint position for %s.%s", k.schema, k.tb)
		}
		lines = append(lines, line)
	}
	finished := make([]string, 0, len(t.finished))
	for k := range t.finished {
		finished = append(finished, k)
	}
	t.mu.Unlock()

	if err := writeLinesAtomic(filepath.Join(t.dir, positionLogName), lines); err != nil {
		return err
	}
	return writeLinesAtomic(filepath.Join(t.dir, finishedLogName), finished)
}

func writeLinesAtomic(path string, lines []string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "create %s", tmp)
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.WriteString(l); err != nil {
			f.Close()
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "write %s", tmp)
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return dtserr.Wrap(dtserr.KindSinkerIO, err, "write %s", tmp)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "flush %s", tmp)
	}
	if err := f.Close(); err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "close %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "rename %s to %s", tmp, path)
	}
	return nil
}

func (t *PositionTracker) replayPositionLog() error {
	path := filepath.Join(t.dir, positionLogName)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "open %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		pos, isCurrent, err := dtmeta.ParsePositionLogLine(line)
		if err != nil {
			return dtserr.Wrap(dtserr.KindParse, err, "parse %s", path)
		}
		k := tableKey{pos.Schema, pos.Tb, pos.OrderCol}
		if isCurrent {
			t.current[k] = pos
		} else {
			t.checkpoint[k] = pos
		}
	}
	return dtserr.Wrap(dtserr.KindSinkerIO, sc.Err(), "scan %s", path)
}

func (t *PositionTracker) replayFinishedLog() error {
	path := filepath.Join(t.dir, finishedLogName)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "open %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			t.finished[line] = struct{}{}
		}
	}
	return dtserr.Wrap(dtserr.KindSinkerIO, sc.Err(), "scan %s", path)
}

// Stop halts the periodic flush cron job, if one was started, and
// performs one last synchronous flush.
func (t *PositionTracker) Stop() error {
	if t.cronSched != nil {
		ctx := t.cronSched.Stop()
		<-ctx.Done()
	}
	return t.Flush()
}
