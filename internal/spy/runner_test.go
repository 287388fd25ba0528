package spy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/poolspy/internal/codec"
	"github.com/ethpandaops/poolspy/internal/export"
	"github.com/ethpandaops/poolspy/internal/nicehash"
	"github.com/ethpandaops/poolspy/internal/series"
	"github.com/ethpandaops/poolspy/internal/snapshot"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

type fetchCall struct {
	id      string
	startMs int64
	endMs   int64
}

// fakeClient serves in-memory samples, returning only those inside the
// requested range.
type fakeClient struct {
	mu sync.Mutex

	rigs    []nicehash.Rig
	rigsErr error
	stats   map[string][]series.Sample
	algos   map[string][]series.Sample
	raw     map[string]series.Raw
	errs    map[string]error
	calls   []fetchCall
}

func (f *fakeClient) FetchRigs(context.Context) ([]nicehash.Rig, error) {
	return f.rigs, f.rigsErr
}

func (f *fakeClient) FetchRigStats(
	_ context.Context,
	rigID string,
	startMs, endMs int64,
) (series.Raw, error) {
	return f.serve(rigID, f.stats[rigID], startMs, endMs)
}

func (f *fakeClient) FetchAlgoStats(
	_ context.Context,
	algorithm string,
	startMs, endMs int64,
) (series.Raw, error) {
	return f.serve("algo:"+algorithm, f.algos[algorithm], startMs, endMs)
}

func (f *fakeClient) serve(
	id string,
	samples []series.Sample,
	startMs, endMs int64,
) (series.Raw, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{id: id, startMs: startMs, endMs: endMs})
	f.mu.Unlock()

	if err := f.errs[id]; err != nil {
		return series.Raw{}, err
	}

	if raw, ok := f.raw[id]; ok {
		return raw, nil
	}

	raw := series.Raw{
		Columns: []string{
			series.ColumnTime,
			series.ColumnSpeedAccepted,
			series.ColumnProfitability,
		},
	}

	for _, s := range samples {
		if s.Timestamp < startMs || s.Timestamp > endMs {
			continue
		}

		raw.Rows = append(raw.Rows, []any{s.Timestamp, s.SpeedAccepted, s.Profitability})
	}

	return raw, nil
}

func (f *fakeClient) callsFor(id string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]fetchCall, 0, 2)

	for _, c := range f.calls {
		if c.id == id {
			out = append(out, c)
		}
	}

	return out
}

// session returns n+1 samples one minute apart with a counter that moves on
// every sample, giving n active intervals.
func session(start time.Time, n int) []series.Sample {
	samples := make([]series.Sample, 0, n+1)

	for i := 0; i <= n; i++ {
		samples = append(samples, series.Sample{
			Timestamp:     start.Add(time.Duration(i) * time.Minute).UnixMilli(),
			SpeedAccepted: float64(i * 10),
			Profitability: 0.001,
		})
	}

	return samples
}

func testConfig(t *testing.T) *Config {
	t.Helper()

	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.NiceHash.OrganizationID = "org"
	cfg.NiceHash.APIKey = "key"
	cfg.NiceHash.APISecret = "secret"
	cfg.DirectoryPath = filepath.Join(dir, "rigs.json")
	cfg.Output.Dir = filepath.Join(dir, "reports")
	cfg.Snapshots.Dir = filepath.Join(dir, "snapshots")
	cfg.Window.Days = 1

	require.NoError(t, cfg.Validate())

	return cfg
}

func newTestRunner(t *testing.T, cfg *Config, client nicehash.Client) (*Runner, *bytes.Buffer) {
	t.Helper()

	var out bytes.Buffer

	r, err := New(testLog(), cfg, WithClient(client), WithOutput(&out))
	require.NoError(t, err)

	return r, &out
}

func TestRunner_Window(t *testing.T) {
	cfg := testConfig(t)
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	r, err := New(testLog(), cfg, WithClient(&fakeClient{}), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	w := r.Window(time.Time{})
	assert.Equal(t, now, w.End)
	assert.Equal(t, now.Add(-24*time.Hour), w.Start)

	cfg.Window.Monthly = true

	w = r.Window(time.Time{})
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), w.Start)
}

func TestRunner_LookbackWithPartialFailure(t *testing.T) {
	cfg := testConfig(t)
	end := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	client := &fakeClient{
		rigs: []nicehash.Rig{
			{ID: "r1", Name: "alpha"},
			{ID: "r2", Name: "beta"},
		},
		stats: map[string][]series.Sample{
			"r1": session(end.Add(-2*time.Hour), 60),
		},
		errs: map[string]error{
			"r2": errors.New("connection reset"),
		},
	}

	r, out := newTestRunner(t, cfg, client)

	res, err := r.Run(context.Background(), end)
	require.NoError(t, err)

	rep := res.Report
	require.Len(t, rep.Rows, 1)
	assert.Equal(t, "alpha", rep.Rows[0].Label)
	assert.Equal(t, int64(time.Hour/time.Millisecond), rep.Rows[0].ActiveMs)
	assert.InDelta(t, 1.0, rep.Rows[0].HoursPerDay, 1e-9)
	assert.Equal(t, rep.Rows[0].Result, rep.Total.Result)
	assert.Nil(t, rep.Pool)

	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "beta", rep.Failures[0].Label)
	assert.ErrorContains(t, rep.Failures[0].Err, "connection reset")

	assert.Contains(t, out.String(), "Mar 14 2024 00:00:00 UTC to Mar 15 2024 00:00:00 UTC")
	assert.Contains(t, out.String(), "beta: connection reset")

	text, err := os.ReadFile(res.Files.Text)
	require.NoError(t, err)
	assert.Equal(t, out.String(), string(text))

	assert.FileExists(t, res.Files.CSV)
	assert.FileExists(t, res.Files.Daily)
	assert.Equal(t, []string{"2024-03-14"}, res.Daily.Dates)
	assert.InDelta(t, 1.0, res.Daily.Value("alpha", "2024-03-14"), 1e-9)

	// The rig directory is cached for later runs.
	assert.FileExists(t, cfg.DirectoryPath)
	assert.NotEmpty(t, res.RunID)

	// Lookback runs fetch their whole window.
	calls := client.callsFor("r1")
	require.Len(t, calls, 1)
	assert.Equal(t, end.Add(-24*time.Hour).UnixMilli(), calls[0].startMs)
	assert.Equal(t, end.UnixMilli(), calls[0].endMs)
}

func TestRunner_MonthlyIsIncremental(t *testing.T) {
	cfg := testConfig(t)
	cfg.Window.Monthly = true

	first := session(time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), 60)
	second := session(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), 30)

	client := &fakeClient{
		rigs: []nicehash.Rig{{ID: "r1", Name: "alpha"}},
		stats: map[string][]series.Sample{
			"r1": append(append([]series.Sample{}, first...), second...),
		},
	}

	r, _ := newTestRunner(t, cfg, client)

	res, err := r.Run(context.Background(), time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, res.Report.Rows, 1)
	assert.Equal(t, int64(60*60_000), res.Report.Rows[0].ActiveMs)

	res, err = r.Run(context.Background(), time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, res.Report.Rows, 1)

	// The stored session is combined with the newly fetched one.
	assert.Equal(t, int64(90*60_000), res.Report.Rows[0].ActiveMs)
	assert.InDelta(t, 1.5/10, res.Report.Rows[0].HoursPerDay, 1e-9)

	calls := client.callsFor("r1")
	require.Len(t, calls, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), calls[0].startMs)
	assert.Equal(t, first[len(first)-1].Timestamp, calls[1].startMs)

	store := snapshot.NewStore(testLog(), cfg.Snapshots)
	stored, err := store.Load(snapshot.NewKey("org", "r1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, len(first)+len(second), stored.Len())
}

func TestRunner_CorruptSnapshotAborts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Window.Monthly = true

	end := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	store := snapshot.NewStore(testLog(), cfg.Snapshots)
	path := store.Path(snapshot.NewKey("org", "r1", end))

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(
		"time,profitability,speed_accepted\n1000,0,0\n1000,0,1\n",
	), 0o644))

	client := &fakeClient{
		rigs:  []nicehash.Rig{{ID: "r1", Name: "alpha"}},
		stats: map[string][]series.Sample{"r1": session(end.Add(-time.Hour), 5)},
	}

	r, out := newTestRunner(t, cfg, client)

	_, err := r.Run(context.Background(), end)
	require.Error(t, err)

	var corrupt *snapshot.CorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, path, corrupt.Path)
	assert.Empty(t, out.String())
}

func TestRunner_MalformedEntityIsReported(t *testing.T) {
	cfg := testConfig(t)
	end := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	client := &fakeClient{
		rigs: []nicehash.Rig{
			{ID: "r1", Name: "alpha"},
			{ID: "r2", Name: "beta"},
		},
		stats: map[string][]series.Sample{
			"r1": session(end.Add(-time.Hour), 10),
		},
		raw: map[string]series.Raw{
			"r2": {
				Columns: []string{series.ColumnSpeedAccepted, series.ColumnProfitability},
				Rows:    [][]any{{1.0, 2.0}},
			},
		},
	}

	r, _ := newTestRunner(t, cfg, client)

	res, err := r.Run(context.Background(), end)
	require.NoError(t, err)

	require.Len(t, res.Report.Rows, 1)
	require.Len(t, res.Report.Failures, 1)

	var malformed *series.MalformedRecordError
	require.ErrorAs(t, res.Report.Failures[0].Err, &malformed)
	assert.Equal(t, series.ColumnTime, malformed.Column)
}

func TestRunner_PoolEntity(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pool.Enabled = true
	cfg.Pool.Algorithms = []string{"KAWPOW", "ETCHASH"}

	end := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	client := &fakeClient{
		rigs: []nicehash.Rig{{ID: "r1", Name: "alpha"}},
		stats: map[string][]series.Sample{
			"r1": session(end.Add(-2*time.Hour), 60),
		},
		algos: map[string][]series.Sample{
			"KAWPOW":  session(end.Add(-2*time.Hour), 60),
			"ETCHASH": session(end.Add(-4*time.Hour), 30),
		},
	}

	r, _ := newTestRunner(t, cfg, client)

	res, err := r.Run(context.Background(), end)
	require.NoError(t, err)

	rep := res.Report
	require.NotNil(t, rep.Pool)
	assert.Equal(t, "pool", rep.Pool.Label)
	assert.Equal(t, int64(90*60_000), rep.Pool.ActiveMs)

	// The pool view overlaps the rigs and stays out of Total and the daily
	// table.
	require.Len(t, rep.Rows, 1)
	assert.Equal(t, rep.Rows[0].Result, rep.Total.Result)
	assert.Equal(t, []string{"alpha"}, res.Daily.Entities)

	assert.Len(t, client.callsFor("algo:KAWPOW"), 1)
	assert.Len(t, client.callsFor("algo:ETCHASH"), 1)
}

func TestRunner_RigLabelsNeverShadowDerivedRows(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pool.Enabled = true
	cfg.Pool.Algorithms = []string{"KAWPOW"}

	end := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	client := &fakeClient{
		rigs: []nicehash.Rig{
			{ID: "r1", Name: "Total"},
			{ID: "r2", Name: "pool"},
		},
		stats: map[string][]series.Sample{
			"r1": session(end.Add(-2*time.Hour), 60),
			"r2": session(end.Add(-4*time.Hour), 30),
		},
		algos: map[string][]series.Sample{
			"KAWPOW": session(end.Add(-2*time.Hour), 10),
		},
	}

	r, _ := newTestRunner(t, cfg, client)

	res, err := r.Run(context.Background(), end)
	require.NoError(t, err)

	rep := res.Report
	labels := make([]string, 0, len(rep.Rows))

	for _, row := range rep.Rows {
		labels = append(labels, row.Label)
	}

	assert.ElementsMatch(t, []string{"Total (r1)", "pool (r2)"}, labels)
	require.NotNil(t, rep.Pool)
	assert.Equal(t, "pool", rep.Pool.Label)
	assert.ElementsMatch(t, []string{"Total (r1)", "pool (r2)"}, res.Daily.Entities)

	// Every exported entity is distinct, so no row replaces another.
	entities := make(map[string]struct{}, 3)

	for _, row := range export.ReportRows(res.RunID, rep) {
		entities[row.Entity] = struct{}{}
	}

	assert.Len(t, entities, 3)
	assert.Contains(t, entities, "pool")
}

func TestRunner_MonthlyAtMonthStartReportsPreviousMonth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Window.Monthly = true

	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	client := &fakeClient{
		rigs: []nicehash.Rig{{ID: "r1", Name: "alpha"}},
		stats: map[string][]series.Sample{
			"r1": session(end.Add(-3*time.Hour), 60),
		},
	}

	r, _ := newTestRunner(t, cfg, client)

	res, err := r.Run(context.Background(), end)
	require.NoError(t, err)

	assert.Equal(t, feb, res.Report.Window.Start)
	assert.Equal(t, end, res.Report.Window.End)
	require.Len(t, res.Report.Rows, 1)
	assert.Equal(t, int64(60*60_000), res.Report.Rows[0].ActiveMs)

	calls := client.callsFor("r1")
	require.Len(t, calls, 1)
	assert.Equal(t, feb.UnixMilli(), calls[0].startMs)

	// The closing run completes February's snapshot.
	store := snapshot.NewStore(testLog(), cfg.Snapshots)
	stored, err := store.Load(snapshot.NewKey("org", "r1", feb))
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestRunner_PoolSnapshotIsKeptApartFromRigs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Window.Monthly = true
	cfg.Pool.Enabled = true
	cfg.Pool.Algorithms = []string{"KAWPOW"}

	end := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	month := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// A rig whose id equals the pool label.
	client := &fakeClient{
		rigs: []nicehash.Rig{{ID: "pool", Name: "alpha"}},
		stats: map[string][]series.Sample{
			"pool": session(end.Add(-2*time.Hour), 60),
		},
		algos: map[string][]series.Sample{
			"KAWPOW": session(end.Add(-5*time.Hour), 20),
		},
	}

	r, _ := newTestRunner(t, cfg, client)

	_, err := r.Run(context.Background(), end)
	require.NoError(t, err)

	store := snapshot.NewStore(testLog(), cfg.Snapshots)

	rig, err := store.Load(snapshot.NewKey("org", "pool", month))
	require.NoError(t, err)
	require.NotNil(t, rig)
	assert.Equal(t, 61, rig.Len())

	pool, err := store.Load(snapshot.NewKey("org", "pool-pool", month))
	require.NoError(t, err)
	require.NotNil(t, pool)
	assert.Equal(t, 21, pool.Len())
}

func TestRunner_RosterFailureUsesConfiguredRigs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rigs = []string{"r9"}

	end := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	client := &fakeClient{
		rigsErr: errors.New("unauthorized"),
		stats: map[string][]series.Sample{
			"r9": session(end.Add(-time.Hour), 6),
		},
	}

	r, _ := newTestRunner(t, cfg, client)

	res, err := r.Run(context.Background(), end)
	require.NoError(t, err)

	require.Len(t, res.Report.Rows, 1)
	assert.Equal(t, "r9", res.Report.Rows[0].Label)
}

func TestRunner_NoEntities(t *testing.T) {
	cfg := testConfig(t)

	r, _ := newTestRunner(t, cfg, &fakeClient{})

	_, err := r.Run(context.Background(), time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rigs")
}

func TestRunner_ExportsOverHTTP(t *testing.T) {
	var (
		mu   sync.Mutex
		rows []export.ReportRow
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		scanner := bufio.NewScanner(req.Body)

		mu.Lock()
		defer mu.Unlock()

		for scanner.Scan() {
			var row export.ReportRow
			if err := sonic.Unmarshal(scanner.Bytes(), &row); err == nil {
				rows = append(rows, row)
			}
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Exports.HTTP.Enabled = true
	cfg.Exports.HTTP.Address = srv.URL
	cfg.Exports.HTTP.Compression = codec.None

	end := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	client := &fakeClient{
		rigs: []nicehash.Rig{
			{ID: "r1", Name: "alpha"},
			{ID: "r2", Name: "beta"},
		},
		stats: map[string][]series.Sample{
			"r1": session(end.Add(-time.Hour), 10),
			"r2": session(end.Add(-time.Hour), 20),
		},
	}

	r, _ := newTestRunner(t, cfg, client)

	res, err := r.Run(context.Background(), end)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, rows, 2)

	for _, row := range rows {
		assert.Equal(t, res.RunID, row.RunID)
		assert.Equal(t, "org", row.Organization)
	}

	assert.ElementsMatch(t, []string{"alpha", "beta"}, []string{rows[0].Entity, rows[1].Entity})
}
