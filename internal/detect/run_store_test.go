package detect

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/detection.pipeline/internal/db"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewRunStore(database.DB)
}

func TestRunStoreInsertAndGet(t *testing.T) {
	store := newTestStore(t)

	run := &DecodeRun{
		SourcePath:      "/data/predictions.rec",
		OutputPath:      "/data/decoded.rec",
		NumClasses:      3,
		NumExamples:     100,
		NumBoxesEmitted: 542,
		ParamsJSON:      json.RawMessage(`{"iou":0.5}`),
	}
	require.NoError(t, store.Insert(run))
	require.NotEmpty(t, run.RunID, "Insert should generate a run ID")
	require.NotZero(t, run.CreatedAt, "Insert should stamp creation time")

	got, err := store.Get(run.RunID)
	require.NoError(t, err)
	require.Equal(t, run.SourcePath, got.SourcePath)
	require.Equal(t, run.NumClasses, got.NumClasses)
	require.Equal(t, run.NumBoxesEmitted, got.NumBoxesEmitted)
	require.JSONEq(t, `{"iou":0.5}`, string(got.ParamsJSON))
}

func TestRunStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get("no-such-run")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "not found"))
}

func TestRunStoreListRecent(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		run := &DecodeRun{
			SourcePath: "/data/in.rec",
			OutputPath: "/data/out.rec",
			NumClasses: 1,
			CreatedAt:  int64(100 + i),
		}
		require.NoError(t, store.Insert(run))
	}

	runs, err := store.ListRecent(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, int64(102), runs[0].CreatedAt, "newest first")
	require.Equal(t, int64(101), runs[1].CreatedAt)
}

func TestRunStoreDelete(t *testing.T) {
	store := newTestStore(t)

	run := &DecodeRun{SourcePath: "a", OutputPath: "b", NumClasses: 1}
	require.NoError(t, store.Insert(run))
	require.NoError(t, store.Delete(run.RunID))

	_, err := store.Get(run.RunID)
	require.Error(t, err)

	require.Error(t, store.Delete(run.RunID), "double delete should report not found")
}

func TestIsSQLiteBusy(t *testing.T) {
	require.False(t, isSQLiteBusy(nil))
	require.False(t, isSQLiteBusy(json.Unmarshal([]byte("{"), &struct{}{})))
}
