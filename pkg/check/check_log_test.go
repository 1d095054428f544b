package check

import (
	"strings"
	"testing"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/stretchr/testify/require"
)

func TestCompareReportsMissWhenDestinationRowAbsent(t *testing.T) {
	src := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, After: map[string]dtmeta.ColValue{
		"id": dtmeta.NewString("1"), "name": dtmeta.NewString("a"),
	}}
	line := Compare(src, nil, []string{"id"})
	require.NotNil(t, line)
	require.Equal(t, LogTypeMiss, line.LogType)
	require.Equal(t, "1", *line.IDColValues["id"])
}

func TestCompareReportsDiffOnNonIdentityColumnMismatch(t *testing.T) {
	src := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, After: map[string]dtmeta.ColValue{
		"id": dtmeta.NewString("1"), "name": dtmeta.NewString("a"),
	}}
	dst := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, After: map[string]dtmeta.ColValue{
		"id": dtmeta.NewString("1"), "name": dtmeta.NewString("b"),
	}}
	line := Compare(src, dst, []string{"id"})
	require.NotNil(t, line)
	require.Equal(t, LogTypeDiff, line.LogType)
	diff, ok := line.DiffColValues["name"]
	require.True(t, ok)
	require.Equal(t, "a", *diff.Src)
	require.Equal(t, "b", *diff.Dst)
	_, idDiffed := line.DiffColValues["id"]
	require.False(t, idDiffed, "identity columns must not appear in diff_col_values")
}

func TestCompareReturnsNilWhenRowsMatch(t *testing.T) {
	src := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, After: map[string]dtmeta.ColValue{
		"id": dtmeta.NewString("1"), "name": dtmeta.NewString("a"),
	}}
	dst := &dtmeta.Row{Schema: "s", Tb: "t", Type: dtmeta.RowInsert, After: map[string]dtmeta.ColValue{
		"id": dtmeta.NewString("1"), "name": dtmeta.NewString("a"),
	}}
	require.Nil(t, Compare(src, dst, []string{"id"}))
}

func TestReaderSkipsBlankLines(t *testing.T) {
	r := NewReader(strings.NewReader("\n  \n{\"log_type\":\"miss\",\"schema\":\"s\",\"tb\":\"t\",\"id_col_values\":{\"id\":\"1\"}}\n"))
	line, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, LogTypeMiss, line.LogType)

	_, ok, err = r.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReaderSurfacesParseErrorOnMalformedLine(t *testing.T) {
	r := NewReader(strings.NewReader("not json\n"))
	_, _, err := r.Next()
	require.Error(t, err)
}

func TestBatchGroupsConsecutiveSameKeyLines(t *testing.T) {
	lines := []*LogLine{
		{Schema: "s", Tb: "a", LogType: LogTypeMiss},
		{Schema: "s", Tb: "a", LogType: LogTypeMiss},
		{Schema: "s", Tb: "b", LogType: LogTypeMiss},
		{Schema: "s", Tb: "a", LogType: LogTypeMiss},
	}
	batches := Batch(lines, 10)
	require.Len(t, batches, 3)
	require.Len(t, batches[0], 2)
	require.Len(t, batches[1], 1)
	require.Len(t, batches[2], 1)
}

func TestBatchSplitsOnSizeCeiling(t *testing.T) {
	lines := []*LogLine{
		{Schema: "s", Tb: "a", LogType: LogTypeMiss},
		{Schema: "s", Tb: "a", LogType: LogTypeMiss},
		{Schema: "s", Tb: "a", LogType: LogTypeMiss},
	}
	batches := Batch(lines, 2)
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 2)
	require.Len(t, batches[1], 1)
}
