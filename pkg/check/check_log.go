// Package check implements the check/revise/review pipeline's on-disk
// log format and the row-comparison that produces it (spec §4.8, §6).
package check

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/dtstream/dts/pkg/dtserr"
)

// LogType tags a check-log line.
type LogType string

const (
	LogTypeMiss LogType = "miss"
	LogTypeDiff LogType = "diff"
)

// ColDiff carries one column's source/destination textual values,
// nil meaning the column was (or compared as) SQL NULL.
type ColDiff struct {
	Src *string `json:"src"`
	Dst *string `json:"dst"`
}

// LogLine is one check-log record (spec §6's JSON line format).
type LogLine struct {
	LogType       LogType            `json:"log_type"`
	Schema        string             `json:"schema"`
	Tb            string             `json:"tb"`
	IDColValues   map[string]*string `json:"id_col_values"`
	DiffColValues map[string]ColDiff `json:"diff_col_values,omitempty"`
}

// Writer appends LogLines to an underlying file, one JSON object per
// line, in the insertion order it receives them (spec §6).
type Writer struct {
	f *os.File
	w *bufio.Writer
}

func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, dtserr.Wrap(dtserr.KindSinkerIO, err, "open check log %s", path)
	}
	return &Writer{f: f, w: bufio.NewWriter(f)}, nil
}

func (w *Writer) Write(line *LogLine) error {
	payload, err := json.Marshal(line)
	if err != nil {
		return dtserr.Wrap(dtserr.KindParse, err, "marshal check log line")
	}
	if _, err := w.w.Write(payload); err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "write check log line")
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "write check log newline")
	}
	return nil
}

func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return dtserr.Wrap(dtserr.KindSinkerIO, err, "flush check log")
	}
	return nil
}

func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// Reader iterates check-log lines from a single file, skipping
// empty/whitespace lines and surfacing a malformed line as a Parse-kind
// error the caller decides whether to skip (check mode) or treat as
// fatal (revise/review), per spec §7.
type Reader struct {
	sc *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	return &Reader{sc: bufio.NewScanner(r)}
}

// Next returns the next non-blank line's decoded LogLine, or (nil, false,
// nil) at EOF.
func (r *Reader) Next() (*LogLine, bool, error) {
	for r.sc.Scan() {
		line := strings.TrimSpace(r.sc.Text())
		if line == "" {
			continue
		}
		var out LogLine
		if err := json.Unmarshal([]byte(line), &out); err != nil {
			return nil, false, dtserr.Wrap(dtserr.KindParse, err, "parse check log line")
		}
		return &out, true, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, false, dtserr.Wrap(dtserr.KindSinkerIO, err, "scan check log")
	}
	return nil, false, nil
}

// Compare compares a source row against its destination counterpart
// (nil if not found) and returns the log line to emit, or nil if they
// match (spec §4.8). Identity columns are excluded from the diff set
// since the id_col_values section already carries them.
func Compare(src *dtmeta.Row, dst *dtmeta.Row, idCols []string) *LogLine {
	idSet := make(map[string]struct{}, len(idCols))
	for _, c := range idCols {
		idSet[c] = struct{}{}
	}
	idValues := idImageValues(src, idCols)

	if dst == nil {
		return &LogLine{LogType: LogTypeMiss, Schema: src.Schema, Tb: src.Tb, IDColValues: idValues}
	}

	diffs := make(map[string]ColDiff)
	for col, srcVal := range srcImage(src) {
		if _, isID := idSet[col]; isID {
			continue
		}
		dstVal, ok := dstImage(dst)[col]
		if !ok || !srcVal.Equal(dstVal) {
			diffs[col] = ColDiff{Src: toStrPtr(srcVal), Dst: toStrPtrIfPresent(dstImage(dst), col)}
		}
	}
	if len(diffs) == 0 {
		return nil
	}
	return &LogLine{LogType: LogTypeDiff, Schema: src.Schema, Tb: src.Tb, IDColValues: idValues, DiffColValues: diffs}
}

func srcImage(row *dtmeta.Row) map[string]dtmeta.ColValue {
	if row.Type == dtmeta.RowInsert || row.Type == dtmeta.RowUpdate {
		return row.After
	}
	return row.Before
}

func dstImage(row *dtmeta.Row) map[string]dtmeta.ColValue {
	return srcImage(row)
}

func idImageValues(row *dtmeta.Row, idCols []string) map[string]*string {
	image := srcImage(row)
	out := make(map[string]*string, len(idCols))
	for _, c := range idCols {
		out[c] = toStrPtr(image[c])
	}
	return out
}

func toStrPtr(v dtmeta.ColValue) *string {
	if v.IsNull() {
		return nil
	}
	s := v.String()
	return &s
}

func toStrPtrIfPresent(image map[string]dtmeta.ColValue, col string) *string {
	v, ok := image[col]
	if !ok {
		return nil
	}
	return toStrPtr(v)
}
