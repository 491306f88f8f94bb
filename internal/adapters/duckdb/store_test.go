package duckdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/internal/core/domain"
	"github.com/netpulse/netpulse/internal/core/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func newTestStore(t *testing.T, capacity int) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(testLogger(), StoreOptions{
		Path:      filepath.Join(dir, "test.db"),
		Cap:       capacity,
		ExportDir: filepath.Join(dir, "exports"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleResult(id string, kind domain.ProbeKind, success bool) domain.Result {
	out := domain.ProbeOutcome{Success: success, Message: "sample"}
	if kind == domain.KindPing {
		rtt := 14.5
		loss := 0.0
		out.RTTMs = &rtt
		out.PacketLoss = &loss
	}
	if !success {
		out.ErrorCode = domain.CodeTimeout
	}
	return domain.Result{
		JobID:      domain.JobID(id),
		Kind:       kind,
		Target:     "example.com",
		ProducedAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
		Status:     domain.JobStatusCompleted,
		Outcome:    out,
	}
}

func TestAppendAndQueryNewestFirst(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := store.Append(ctx, sampleResult(fmt.Sprintf("job_%d", i), domain.KindPing, true))
		require.NoError(t, err)
	}

	got, err := store.Query(ctx, ports.MeasurementFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, domain.JobID("job_3"), got[0].JobID)
	assert.Equal(t, domain.JobID("job_2"), got[1].JobID)
	assert.Equal(t, domain.JobID("job_1"), got[2].JobID)

	first := got[0]
	assert.Equal(t, domain.KindPing, first.Kind)
	assert.Equal(t, "example.com", first.Target)
	assert.True(t, first.Outcome.Success)
	require.NotNil(t, first.Outcome.RTTMs)
	assert.Equal(t, 14.5, *first.Outcome.RTTMs)
	assert.Equal(t, sampleResult("", domain.KindPing, true).ProducedAt, first.ProducedAt)
}

func TestAppendEvictsOldestBeyondCap(t *testing.T) {
	store := newTestStore(t, 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := store.Append(ctx, sampleResult(fmt.Sprintf("job_%d", i), domain.KindDNS, true))
		require.NoError(t, err)
	}

	got, err := store.Query(ctx, ports.MeasurementFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, domain.JobID("job_5"), got[0].JobID)
	assert.Equal(t, domain.JobID("job_4"), got[1].JobID)
	assert.Equal(t, domain.JobID("job_3"), got[2].JobID)
}

func TestDuplicateJobIDsKeptAsDistinctRecords(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	first, err := store.Append(ctx, sampleResult("job_dup", domain.KindHTTP, true))
	require.NoError(t, err)
	second, err := store.Append(ctx, sampleResult("job_dup", domain.KindHTTP, false))
	require.NoError(t, err)
	assert.NotEqual(t, first.StorageID, second.StorageID)

	got, err := store.Query(ctx, ports.MeasurementFilter{JobID: "job_dup"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.False(t, got[0].Outcome.Success)
	assert.True(t, got[1].Outcome.Success)
}

func TestQueryFilters(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	_, err := store.Append(ctx, sampleResult("job_p1", domain.KindPing, true))
	require.NoError(t, err)
	_, err = store.Append(ctx, sampleResult("job_d1", domain.KindDNS, true))
	require.NoError(t, err)
	_, err = store.Append(ctx, sampleResult("job_p2", domain.KindPing, false))
	require.NoError(t, err)

	pings, err := store.Query(ctx, ports.MeasurementFilter{Kind: domain.KindPing}, 10)
	require.NoError(t, err)
	require.Len(t, pings, 2)
	for _, m := range pings {
		assert.Equal(t, domain.KindPing, m.Kind)
	}

	one, err := store.Query(ctx, ports.MeasurementFilter{JobID: "job_d1"}, 10)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, domain.KindDNS, one[0].Kind)

	none, err := store.Query(ctx, ports.MeasurementFilter{JobID: "job_missing"}, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueryLimit(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := store.Append(ctx, sampleResult(fmt.Sprintf("job_%d", i), domain.KindPing, true))
		require.NoError(t, err)
	}

	got, err := store.Query(ctx, ports.MeasurementFilter{}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.JobID("job_5"), got[0].JobID)
	assert.Equal(t, domain.JobID("job_4"), got[1].JobID)
}

func TestStats(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	_, err := store.Append(ctx, sampleResult("job_1", domain.KindPing, true))
	require.NoError(t, err)
	_, err = store.Append(ctx, sampleResult("job_2", domain.KindPing, true))
	require.NoError(t, err)
	_, err = store.Append(ctx, sampleResult("job_3", domain.KindPing, false))
	require.NoError(t, err)
	_, err = store.Append(ctx, sampleResult("job_4", domain.KindDNS, true))
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, domain.KindStats{Count: 3, SuccessCount: 2}, stats.ByKind[domain.KindPing])
	assert.Equal(t, domain.KindStats{Count: 1, SuccessCount: 1}, stats.ByKind[domain.KindDNS])
	assert.InDelta(t, 0.75, stats.SuccessRate, 1e-9)
}

func TestStatsEmptyStore(t *testing.T) {
	store := newTestStore(t, 10)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Total)
	assert.Zero(t, stats.SuccessRate)
	assert.Empty(t, stats.ByKind)
}

func TestExportSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := store.Append(ctx, sampleResult(fmt.Sprintf("job_%d", i), domain.KindHTTP, i%2 == 0))
		require.NoError(t, err)
	}

	path, err := store.ExportSnapshot(ctx, "audit")
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "audit_")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var fromFile []domain.StoredMeasurement
	require.NoError(t, json.Unmarshal(data, &fromFile))

	queried, err := store.Query(ctx, ports.MeasurementFilter{}, 10)
	require.NoError(t, err)

	require.Len(t, fromFile, len(queried))
	for i := range queried {
		assert.Equal(t, queried[i].StorageID, fromFile[i].StorageID)
		assert.Equal(t, queried[i].JobID, fromFile[i].JobID)
		assert.Equal(t, queried[i].Outcome, fromFile[i].Outcome)
		assert.True(t, queried[i].SavedAt.Equal(fromFile[i].SavedAt))
	}
}

func TestExportSnapshotEmptyStore(t *testing.T) {
	store := newTestStore(t, 10)

	path, err := store.ExportSnapshot(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "measurements_")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestExportSnapshotSanitizesName(t *testing.T) {
	store := newTestStore(t, 10)

	path, err := store.ExportSnapshot(context.Background(), "../escape")
	require.NoError(t, err)
	assert.Equal(t, store.exportDir, filepath.Dir(path))
}

func TestZeroCapFallsBackToDefault(t *testing.T) {
	store := newTestStore(t, 0)
	assert.Equal(t, DefaultCap, store.cap)
}
