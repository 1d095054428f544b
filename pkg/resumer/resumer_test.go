package resumer

import (
	"path/filepath"
	"testing"

	"github.com/dtstream/dts/pkg/dtmeta"
	"github.com/stretchr/testify/require"
)

func TestCheckpointTakesPrecedenceOverCurrent(t *testing.T) {
	tr, err := Load(Config{Dir: t.TempDir()})
	require.NoError(t, err)

	tr.Observe("s", "t", "id", dtmeta.Position{Kind: dtmeta.PositionRdbSnapshot, Schema: "s", Tb: "t", OrderCol: "id", Value: "100"})
	tr.Checkpoint("s", "t", "id", dtmeta.Position{Kind: dtmeta.PositionRdbSnapshot, Schema: "s", Tb: "t", OrderCol: "id", Value: "50"})

	resolved := tr.Resolve("s", "t", "id")
	require.Equal(t, "50", resolved.Value)
}

func TestResolveFallsBackToCurrentWhenNoCheckpoint(t *testing.T) {
	tr, err := Load(Config{Dir: t.TempDir()})
	require.NoError(t, err)

	tr.Observe("s", "t", "id", dtmeta.Position{Kind: dtmeta.PositionRdbSnapshot, Schema: "s", Tb: "t", OrderCol: "id", Value: "100"})
	resolved := tr.Resolve("s", "t", "id")
	require.Equal(t, "100", resolved.Value)
}

func TestFlushAndReloadRoundTripsPositions(t *testing.T) {
	dir := t.TempDir()
	tr, err := Load(Config{Dir: dir})
	require.NoError(t, err)

	tr.Checkpoint("s", "t", "id", dtmeta.Position{Kind: dtmeta.PositionRdbSnapshot, Schema: "s", Tb: "t", OrderCol: "id", Value: "77"})
	tr.MarkFinished("s", "done_table")
	require.NoError(t, tr.Flush())

	reloaded, err := Load(Config{Dir: dir})
	require.NoError(t, err)
	require.Equal(t, "77", reloaded.Resolve("s", "t", "id").Value)
	require.True(t, reloaded.IsFinished("s", "done_table"))
}

func TestFinishedTableNeverResurfacesAfterRestart(t *testing.T) {
	dir := t.TempDir()
	tr, err := Load(Config{Dir: dir})
	require.NoError(t, err)
	tr.MarkFinished("s", "t")
	require.NoError(t, tr.Flush())

	reloaded, err := Load(Config{Dir: dir})
	require.NoError(t, err)
	require.True(t, reloaded.IsFinished("s", "t"))
	require.False(t, reloaded.IsFinished("s", "other"))
}

func TestLoadRejectsEmptyDir(t *testing.T) {
	_, err := Load(Config{Dir: ""})
	require.Error(t, err)
}

func TestFlushWritesUnderGivenDirectory(t *testing.T) {
	dir := t.TempDir()
	tr, err := Load(Config{Dir: dir})
	require.NoError(t, err)
	tr.Checkpoint("s", "t", "id", dtmeta.Position{Kind: dtmeta.PositionRdbSnapshot, Value: "1", Schema: "s", Tb: "t", OrderCol: "id"})
	require.NoError(t, tr.Flush())

	require.FileExists(t, filepath.Join(dir, positionLogName))
	require.FileExists(t, filepath.Join(dir, finishedLogName))
}
