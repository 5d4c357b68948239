package sequence_test

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parcelflow/internal/db"
	"parcelflow/internal/metrics"
	"parcelflow/internal/migrate"
	"parcelflow/internal/sequence"
)

func newGenerator(t *testing.T) sequence.Generator {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return sequence.Generator{DB: conn, Metrics: metrics.New()}
}

func TestFormatPadsToSixDigits(t *testing.T) {
	assert.Equal(t, "DEM-2024-000007", sequence.Format("DEM", 2024, 7))
	assert.Equal(t, "DEM-CERT-2024-000001", sequence.Format("DEM-CERT", 2024, 1))
	assert.Equal(t, "WTR-2025-1234567", sequence.Format("WTR", 2025, 1234567))
}

func TestNextStartsAtOnePerPrefixAndYear(t *testing.T) {
	g := newGenerator(t)
	ctx := context.Background()

	first, err := g.Next(ctx, "DEM", 2024)
	require.NoError(t, err)
	assert.Equal(t, "DEM-2024-000001", first)

	second, err := g.Next(ctx, "DEM", 2024)
	require.NoError(t, err)
	assert.Equal(t, "DEM-2024-000002", second)

	otherYear, err := g.Next(ctx, "DEM", 2025)
	require.NoError(t, err)
	assert.Equal(t, "DEM-2025-000001", otherYear)

	otherPrefix, err := g.Next(ctx, "DPC", 2024)
	require.NoError(t, err)
	assert.Equal(t, "DPC-2024-000001", otherPrefix)
}

func TestGetOrCreateStartsAtZero(t *testing.T) {
	g := newGenerator(t)
	ctx := context.Background()
	c, err := g.GetOrCreate(ctx, "SEW", 2024)
	require.NoError(t, err)
	assert.EqualValues(t, 0, c.CurrentValue)

	_, err = g.Next(ctx, "SEW", 2024)
	require.NoError(t, err)
	c, err = g.GetOrCreate(ctx, "SEW", 2024)
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.CurrentValue)

	all, err := g.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "SEW", all[0].Prefix)
}

func TestConcurrentNextIsContiguous(t *testing.T) {
	g := newGenerator(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := g.Next(ctx, "WTR", 2024)
		require.NoError(t, err)
	}

	const n = 40
	var wg sync.WaitGroup
	results := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := g.Next(ctx, "WTR", 2024)
			if err != nil {
				errs <- err
				return
			}
			results <- code
		}()
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		t.Fatalf("next: %v", err)
	}

	var got []int
	for code := range results {
		parts := strings.Split(code, "-")
		v, err := strconv.Atoi(parts[len(parts)-1])
		require.NoError(t, err)
		got = append(got, v)
	}
	sort.Ints(got)
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, 4+i, v, "expected contiguous range starting after prior max")
	}
}

func TestRolledBackAllocationLeavesNoGap(t *testing.T) {
	g := newGenerator(t)
	ctx := context.Background()

	tx, err := g.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	code, err := g.NextTx(ctx, tx, "TRF", 2024)
	require.NoError(t, err)
	assert.Equal(t, "TRF-2024-000001", code)
	require.NoError(t, tx.Rollback())

	code, err = g.Next(ctx, "TRF", 2024)
	require.NoError(t, err)
	assert.Equal(t, "TRF-2024-000001", code)
}

func TestInvalidInput(t *testing.T) {
	g := newGenerator(t)
	ctx := context.Background()
	_, err := g.Next(ctx, "", 2024)
	assert.Error(t, err)
	_, err = g.Next(ctx, "D EM", 2024)
	assert.Error(t, err)
	_, err = g.Next(ctx, "DEM", 24)
	assert.Error(t, err)
}

func TestGetDoesNotCreate(t *testing.T) {
	g := newGenerator(t)
	ctx := context.Background()
	c, err := g.Get(ctx, "OC", 2024)
	require.NoError(t, err)
	assert.EqualValues(t, 0, c.CurrentValue)
	assert.Empty(t, c.UpdatedAt)

	all, err := g.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = g.Next(ctx, "OC", 2024)
	require.NoError(t, err)
	c, err = g.Get(ctx, "OC", 2024)
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.CurrentValue)

	_, err = g.Get(ctx, "", 2024)
	assert.Error(t, err)
}
