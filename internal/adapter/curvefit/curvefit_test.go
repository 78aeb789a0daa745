package curvefit

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
	"github.com/couchcryptid/covid-model-deaths/internal/observability"
)

func day(m time.Month, d int) time.Time {
	return time.Date(2020, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseDraws(t *testing.T) {
	content := "model,day_0,day_1,day_2\n" +
		"location,-10,-9,-8\n" +
		"national,-11,-10,-9\n" +
		"location,-10.5,-9.5,-8.5\n"

	got, err := parseDraws(strings.NewReader(content), "draws.csv")
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 2}, got.Days)
	assert.Equal(t, 2, got.Location.NumDraws())
	assert.Equal(t, 1, got.National.NumDraws())
	assert.Equal(t, []float64{-10.5, -9.5, -8.5}, got.Location.Values[1])
}

func TestParseDraws_Errors(t *testing.T) {
	for name, content := range map[string]string{
		"header":  "draw,day_0\nlocation,1\n",
		"day":     "model,d0\nlocation,1\n",
		"model":   "model,day_0\nregional,1\n",
		"value":   "model,day_0\nlocation,x\n",
		"empty":   "",
		"columns": "model\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseDraws(strings.NewReader(content), "draws.csv")
			assert.Error(t, err)
		})
	}
}

func writeModelDraws(t *testing.T, dir, location string, loc, nat [][]float64) {
	t.Helper()
	md := ModelDraws{
		Days:     []float64{0, 1, 2},
		Location: domain.DrawMatrix{Values: loc},
		National: domain.DrawMatrix{Values: nat},
	}
	require.NoError(t, WriteDraws(filepath.Join(dir, location, DrawsFile), md))
}

func logRates(rates ...float64) []float64 {
	out := make([]float64, len(rates))
	for i, r := range rates {
		out[i] = math.Log(r)
	}
	return out
}

func drawRequest() domain.DrawRequest {
	return domain.DrawRequest{
		LocationID:     558,
		Location:       "Ohio",
		ThresholdDates: []time.Time{day(time.March, 10), day(time.March, 12)},
		Population:     1e6,
		Observed: []domain.CaseRecord{
			{LocationID: 558, State: "Ohio", Date: day(time.March, 11)},
			{LocationID: 558, State: "Ohio", Date: day(time.March, 10)},
		},
	}
}

func TestDrawer_AcceptsLocationDraws(t *testing.T) {
	root := t.TempDir()
	dirs := []string{filepath.Join(root, "model_data_equal_21"), filepath.Join(root, "model_data_ascmax_21")}
	writeModelDraws(t, dirs[0], "Ohio", [][]float64{logRates(1e-6, 2e-6, 4e-6)}, [][]float64{logRates(1, 1, 1)})
	writeModelDraws(t, dirs[1], "Ohio", [][]float64{logRates(3e-6, 5e-6, 7e-6)}, nil)

	got, err := NewDrawer(dirs, nil).DatedDraws(drawRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.ModelLocation, got.ModelUsed)
	assert.Equal(t, []float64{0, 1, 2}, got.Days)
	assert.Len(t, got.Ensemble, 2)
	require.Len(t, got.Draws.Rows, 3)
	assert.Equal(t, 2, got.Draws.NumDraws())

	first := got.Draws.Rows[0]
	assert.Equal(t, day(time.March, 11), first.Date, "mean of March 10 and 12")
	assert.Equal(t, 558, first.LocationID)
	assert.InDelta(t, 1.0, first.Values[0], 1e-9)
	assert.InDelta(t, 3.0, first.Values[1], 1e-9)
	assert.InDelta(t, 7.0, got.Draws.Rows[2].Values[1], 1e-9)

	require.Len(t, got.Past.Rows, 1, "only March 11 is observed")
	assert.Equal(t, day(time.March, 11), got.Past.Rows[0].Date)
}

func TestDrawer_FallsBackToNational(t *testing.T) {
	root := t.TempDir()
	dirs := []string{filepath.Join(root, "a"), filepath.Join(root, "b"), filepath.Join(root, "missing")}
	writeModelDraws(t, dirs[0], "Ohio", [][]float64{logRates(1e-6, 2e-6, 4e-6)}, [][]float64{logRates(2e-6, 2e-6, 2e-6)})
	writeModelDraws(t, dirs[1], "Ohio", nil, [][]float64{logRates(1e-6, 1e-6, 1e-6)})

	got, err := NewDrawer(dirs, nil).DatedDraws(drawRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.ModelNational, got.ModelUsed)
	assert.Equal(t, 2, got.Draws.NumDraws())
	assert.InDelta(t, 2.0, got.Draws.Rows[0].Values[0], 1e-9)
	assert.InDelta(t, 1.0, got.Draws.Rows[0].Values[1], 1e-9)
}

func TestDrawer_NoOutput(t *testing.T) {
	got, err := NewDrawer([]string{t.TempDir()}, nil).DatedDraws(drawRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.ModelNone, got.ModelUsed)
	assert.Empty(t, got.Draws.Rows)
	assert.Empty(t, got.Past.Rows)
}

func TestDrawer_MissingThresholdDate(t *testing.T) {
	dir := t.TempDir()
	writeModelDraws(t, dir, "Ohio", [][]float64{logRates(1, 1, 1)}, nil)
	req := drawRequest()
	req.ThresholdDates = nil

	_, err := NewDrawer([]string{dir}, nil).DatedDraws(req)
	assert.Error(t, err)
}

func TestWriteDraws_LeavesNoTemporaryFile(t *testing.T) {
	dir := t.TempDir()
	writeModelDraws(t, dir, "Ohio", [][]float64{logRates(1, 1, 1)}, nil)

	entries, err := os.ReadDir(filepath.Join(dir, "Ohio"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, DrawsFile, entries[0].Name())
}

func TestDrawer_SkipsShortDrawFiles(t *testing.T) {
	root := t.TempDir()
	dirs := []string{filepath.Join(root, "model_data_equal_21"), filepath.Join(root, "model_data_ascmax_21")}
	writeModelDraws(t, dirs[0], "Ohio", [][]float64{logRates(1e-6, 2e-6, 4e-6), logRates(1e-6, 2e-6, 4e-6)}, nil)
	// Cut after the first of two location rows.
	require.NoError(t, os.MkdirAll(filepath.Join(dirs[1], "Ohio"), 0o755))
	short := "model,day_0,day_1,day_2\nlocation,-13,-12,-11\n"
	require.NoError(t, os.WriteFile(filepath.Join(dirs[1], "Ohio", DrawsFile), []byte(short), 0o644))

	got, err := NewDrawer(dirs, []int{2, 2}).DatedDraws(drawRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.ModelLocation, got.ModelUsed)
	assert.Len(t, got.Ensemble, 1)
	assert.Equal(t, 2, got.Draws.NumDraws())
	assert.InDelta(t, 1.0, got.Draws.Rows[0].Values[1], 1e-9)

	got, err = NewDrawer(dirs[1:], []int{2}).DatedDraws(drawRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.ModelNone, got.ModelUsed)
	assert.Empty(t, got.Draws.Rows)
}

func TestModelDraws_Complete(t *testing.T) {
	two := [][]float64{{0}, {0}}
	for name, tc := range map[string]struct {
		md       ModelDraws
		expected int
		want     bool
	}{
		"unchecked":      {ModelDraws{}, 0, true},
		"empty":          {ModelDraws{}, 2, false},
		"location only":  {ModelDraws{Location: domain.DrawMatrix{Values: two}}, 2, true},
		"both":           {ModelDraws{Location: domain.DrawMatrix{Values: two}, National: domain.DrawMatrix{Values: two}}, 2, true},
		"short location": {ModelDraws{Location: domain.DrawMatrix{Values: two[:1]}}, 2, false},
		"short national": {ModelDraws{Location: domain.DrawMatrix{Values: two}, National: domain.DrawMatrix{Values: two[:1]}}, 2, false},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.md.complete(tc.expected))
		})
	}
}

func TestWatcher_TemporaryFileIsUnfinished(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DrawsFile+".tmp"), []byte("model,day_0\n"), 0o644))

	assert.Equal(t, []string{dir}, unfinished([]string{dir}))
}

func TestWatcher_WaitsForDraws(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	w := NewWatcher(clock, time.Minute, time.Hour, slog.Default(), observability.NewMetricsForTesting())

	type result struct {
		pending []string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		pending, err := w.Wait(context.Background(), []string{dir})
		done <- result{pending, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DrawsFile), []byte("model,day_0\n"), 0o644))
	clock.Advance(time.Minute)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Empty(t, r.pending)
	case <-ctx.Done():
		t.Fatal("watcher did not return")
	}
}

func TestWatcher_TimeoutIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	w := NewWatcher(clock, time.Minute, 2*time.Minute, slog.Default(), observability.NewMetricsForTesting())

	done := make(chan []string, 1)
	go func() {
		pending, err := w.Wait(context.Background(), []string{dir})
		assert.NoError(t, err)
		done <- pending
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for range 2 {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Minute)
	}

	select {
	case pending := <-done:
		assert.Equal(t, []string{dir}, pending)
	case <-ctx.Done():
		t.Fatal("watcher did not time out")
	}
}

func TestWatcher_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewWatcher(clockwork.NewFakeClock(), time.Minute, time.Hour, slog.Default(), observability.NewMetricsForTesting())

	pending, err := w.Wait(ctx, []string{t.TempDir()})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, pending, 1)
}

func TestWatcher_NothingToWaitFor(t *testing.T) {
	w := NewWatcher(clockwork.NewFakeClock(), time.Minute, time.Hour, slog.Default(), observability.NewMetricsForTesting())

	pending, err := w.Wait(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, pending)
}
