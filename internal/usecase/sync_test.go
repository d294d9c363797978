package usecase

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/woodid012/plugit/internal/cache"
	"github.com/woodid012/plugit/internal/domain/models"
	"github.com/woodid012/plugit/internal/nemweb"
	"github.com/woodid012/plugit/pkg/logger"
	"github.com/woodid012/plugit/pkg/marketime"
)

// fakeStore is an in-memory RecordStore keyed by (region, timestamp).
type fakeStore struct {
	mu   sync.Mutex
	recs map[string]*models.RegionIntervalRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: make(map[string]*models.RegionIntervalRecord)}
}

func storeKey(region string, ts time.Time) string {
	return fmt.Sprintf("%s/%d", region, ts.Unix())
}

func (f *fakeStore) EnsureIndexes(context.Context) error { return nil }

func (f *fakeStore) Get(_ context.Context, region string, ts time.Time) (*models.RegionIntervalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[storeKey(region, ts)]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (f *fakeStore) Upsert(_ context.Context, rec *models.RegionIntervalRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := storeKey(rec.Region, rec.Timestamp)
	_, existed := f.recs[key]
	f.recs[key] = rec.Clone()
	return !existed, nil
}

func (f *fakeStore) Range(_ context.Context, region string, from, to time.Time, limit int) ([]*models.RegionIntervalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.RegionIntervalRecord
	for _, rec := range f.recs {
		if rec.Region != region || rec.Timestamp.Before(from) || rec.Timestamp.After(to) {
			continue
		}
		out = append(out, rec.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) Nearest(ctx context.Context, region string, at time.Time, within time.Duration) (*models.RegionIntervalRecord, error) {
	recs, _ := f.Range(ctx, region, at.Add(-within), at.Add(within), 0)
	var best *models.RegionIntervalRecord
	var bestDiff time.Duration
	for _, r := range recs {
		diff := r.Timestamp.Sub(at)
		if diff < 0 {
			diff = -diff
		}
		if best == nil || diff < bestDiff {
			best, bestDiff = r, diff
		}
	}
	return best, nil
}

func (f *fakeStore) ForecastsBefore(_ context.Context, cutoff time.Time, limit int) ([]*models.RegionIntervalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.RegionIntervalRecord
	for _, rec := range f.recs {
		if !rec.Timestamp.Before(cutoff) {
			continue
		}
		if rec.FiveMin == nil && rec.ThirtyMin == nil {
			continue
		}
		out = append(out, rec.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) FutureHistorical(_ context.Context, after time.Time) ([]*models.RegionIntervalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.RegionIntervalRecord
	for _, rec := range f.recs {
		if rec.Timestamp.After(after) && rec.Historical != nil {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (f *fakeStore) Stats(_ context.Context) ([]models.RegionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byRegion := make(map[string]*models.RegionStats)
	for _, rec := range f.recs {
		st, ok := byRegion[rec.Region]
		if !ok {
			st = &models.RegionStats{Region: rec.Region, First: rec.Timestamp, Last: rec.Timestamp}
			byRegion[rec.Region] = st
		}
		st.Records++
		if rec.Timestamp.Before(st.First) {
			st.First = rec.Timestamp
		}
		if rec.Timestamp.After(st.Last) {
			st.Last = rec.Timestamp
		}
		if rec.Historical != nil {
			st.WithHistorical++
		}
		if rec.FiveMin != nil {
			st.WithFiveMin++
		}
		if rec.ThirtyMin != nil {
			st.WithThirtyMin++
		}
	}
	regions := make([]string, 0, len(byRegion))
	for r := range byRegion {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	out := make([]models.RegionStats, 0, len(regions))
	for _, r := range regions {
		out = append(out, *byRegion[r])
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, region string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.recs, storeKey(region, ts))
	return nil
}

func (f *fakeStore) Clear(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.recs))
	f.recs = make(map[string]*models.RegionIntervalRecord)
	return n, nil
}

func (f *fakeStore) Health(context.Context) error { return nil }
func (f *fakeStore) Close(context.Context) error  { return nil }

type fakeSink struct {
	mu      sync.Mutex
	updates []*models.RecordUpdate
}

func (f *fakeSink) Publish(_ context.Context, u *models.RecordUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	return nil
}
func (f *fakeSink) Close() error { return nil }

type fakeHistory struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
}

func (f *fakeHistory) Append(_ context.Context, entries []models.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entries...)
	return nil
}

type fakeMetrics struct{}

func (fakeMetrics) RecordSyncOutcome(string, string)   {}
func (fakeMetrics) RecordFetchAttempt(string)          {}
func (fakeMetrics) RecordRowDropped(string)            {}
func (fakeMetrics) RecordStaleWrite(string)            {}
func (fakeMetrics) RecordBestPrice(string, float64)    {}
func (fakeMetrics) RecordSyncDuration(string, float64) {}

type harness struct {
	syncer  *Syncer
	store   *fakeStore
	sink    *fakeSink
	history *fakeHistory
}

func newHarness() *harness {
	store := newFakeStore()
	sink := &fakeSink{}
	history := &fakeHistory{}
	opts := SyncOptions{
		Regions:             []string{"VIC1", "NSW1"},
		SettlementTolerance: time.Minute,
		FutureTolerance:     15 * time.Minute,
		ForecastRetention:   2 * time.Hour,
		ErrorReportLimit:    10,
	}
	s := NewSyncer(nil, nil, nil, nil, store, sink, history, fakeMetrics{}, opts, logger.Nop())
	return &harness{syncer: s, store: store, sink: sink, history: history}
}

// newCacheHarness backs the syncer with a real report cache for passes that
// read the retained window.
func newCacheHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness()
	h.syncer.reports = cache.New(filepath.Join(t.TempDir(), "reports.json"),
		6*time.Hour, 24, 10, logger.Nop())
	return h
}

func zipArchive(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func dispatchReport(fileID string, region string, ts time.Time, price float64) *models.ParsedReport {
	return classReport(models.ClassHistorical, "PUBLIC_DISPATCH_"+fileID+"_0000000123456789.zip", fileID, region, ts, price)
}

func p5minReport(fileID string, region string, ts time.Time, price float64) *models.ParsedReport {
	return classReport(models.ClassFiveMinForecast, "PUBLIC_P5MIN_"+fileID+"_0000000123456789.zip", fileID, region, ts, price)
}

func predispatchReport(fileID string, region string, ts time.Time, price float64) *models.ParsedReport {
	return classReport(models.ClassThirtyMinForecast, "PUBLIC_PREDISPATCH_"+fileID+"_0000000123456789.zip", fileID, region, ts, price)
}

func classReport(class models.ReportClass, name, fileID, region string, ts time.Time, price float64) *models.ParsedReport {
	return &models.ParsedReport{
		Class:      class,
		FileID:     fileID,
		SourceFile: name,
		FetchedAt:  time.Now(),
		Prices: map[string][]models.PricePoint{
			region: {{Timestamp: ts, Price: price}},
		},
	}
}

func TestMergeForecastThenActual(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	ts := time.Date(2025, 11, 19, 14, 5, 0, 0, marketime.AEST)

	res := &SyncResult{}
	h.syncer.merge(ctx, []*models.ParsedReport{p5minReport("202511191400", "VIC1", ts, 48.10)}, res)
	if res.Inserted != 1 {
		t.Fatalf("forecast insert expected, got %+v", res)
	}

	rec, _ := h.store.Get(ctx, "VIC1", ts)
	if rec.BestPrice == nil || *rec.BestPrice != 48.10 {
		t.Fatalf("forecast-only record must export the forecast, got %+v", rec.BestPrice)
	}
	if rec.BestForecast == nil || *rec.BestForecast != 48.10 {
		t.Fatalf("forecast price wrong: %+v", rec.BestForecast)
	}

	res = &SyncResult{}
	h.syncer.merge(ctx, []*models.ParsedReport{dispatchReport("202511191405", "VIC1", ts, 55.23)}, res)
	if res.Updated != 1 {
		t.Fatalf("actual update expected, got %+v", res)
	}

	rec, _ = h.store.Get(ctx, "VIC1", ts)
	if rec.Historical == nil || rec.Historical.Price != 55.23 {
		t.Fatalf("historical not set: %+v", rec.Historical)
	}
	if *rec.BestPrice != 55.23 {
		t.Fatalf("export price must flip to the actual, got %v", *rec.BestPrice)
	}
	if *rec.BestForecast != 48.10 {
		t.Fatalf("forecast price must keep ignoring the actual, got %v", *rec.BestForecast)
	}
	if rec.FiveMin == nil {
		t.Fatalf("forecast field must survive until retention")
	}
}

func TestMergeRejectsOlderFileID(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	ts := time.Date(2025, 11, 19, 14, 5, 0, 0, marketime.AEST)

	res := &SyncResult{}
	h.syncer.merge(ctx, []*models.ParsedReport{dispatchReport("202511191405", "VIC1", ts, 55.23)}, res)

	res = &SyncResult{}
	h.syncer.merge(ctx, []*models.ParsedReport{dispatchReport("202511191400", "VIC1", ts, 91.00)}, res)
	if res.Skipped != 1 || res.Updated != 0 {
		t.Fatalf("stale file must be skipped, got %+v", res)
	}

	rec, _ := h.store.Get(ctx, "VIC1", ts)
	if rec.Historical.Price != 55.23 || rec.Historical.FileID != "202511191405" {
		t.Fatalf("stale write clobbered the record: %+v", rec.Historical)
	}
}

func TestMergePredispatchOnly(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	ts := time.Date(2025, 11, 20, 9, 30, 0, 0, marketime.AEST)

	res := &SyncResult{}
	h.syncer.merge(ctx, []*models.ParsedReport{predispatchReport("202511191400", "NSW1", ts, 62.40)}, res)

	rec, _ := h.store.Get(ctx, "NSW1", ts)
	if rec.ThirtyMin == nil || rec.ThirtyMin.Price != 62.40 {
		t.Fatalf("predispatch not stored: %+v", rec)
	}
	if *rec.BestPrice != 62.40 || *rec.BestForecast != 62.40 {
		t.Fatalf("both derived prices must fall back to predispatch: %v / %v",
			rec.BestPrice, rec.BestForecast)
	}
}

func TestMergeIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	ts := time.Date(2025, 11, 19, 14, 5, 0, 0, marketime.AEST)
	report := dispatchReport("202511191405", "VIC1", ts, 55.23)

	res := &SyncResult{}
	h.syncer.merge(ctx, []*models.ParsedReport{report}, res)
	res = &SyncResult{}
	h.syncer.merge(ctx, []*models.ParsedReport{report}, res)

	if res.Inserted != 0 || res.Updated != 0 || res.Skipped != 1 {
		t.Fatalf("re-merge must be a no-op, got %+v", res)
	}
	if len(h.sink.updates) != 1 {
		t.Fatalf("no-op merges must not publish updates, got %d", len(h.sink.updates))
	}
}

func TestMergeProvenanceGate(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	ts := time.Date(2025, 11, 19, 14, 5, 0, 0, marketime.AEST)

	// A forecast file mislabelled as a historical report must never write
	// the historical field.
	bad := classReport(models.ClassHistorical,
		"PUBLIC_P5MIN_202511191405_0000000123456789.zip",
		"202511191405", "VIC1", ts, 55.23)

	res := &SyncResult{}
	h.syncer.merge(ctx, []*models.ParsedReport{bad}, res)
	if res.Inserted != 0 || res.Updated != 0 {
		t.Fatalf("gated report must not write, got %+v", res)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("provenance failure must be reported, got %v", res.Errors)
	}
	if rec, _ := h.store.Get(ctx, "VIC1", ts); rec != nil {
		t.Fatalf("no record expected, got %+v", rec)
	}
}

func TestMergePublishesUpdatesAndHistory(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	ts := time.Date(2025, 11, 19, 14, 5, 0, 0, marketime.AEST)

	res := &SyncResult{}
	h.syncer.merge(ctx, []*models.ParsedReport{dispatchReport("202511191405", "VIC1", ts, 55.23)}, res)

	if len(h.sink.updates) != 1 {
		t.Fatalf("expected one update event, got %d", len(h.sink.updates))
	}
	u := h.sink.updates[0]
	if u.Region != "VIC1" || u.Action != "inserted" || *u.ExportPrice != 55.23 {
		t.Fatalf("bad update event: %+v", u)
	}

	if len(h.history.entries) != 1 {
		t.Fatalf("expected one history entry, got %d", len(h.history.entries))
	}
	e := h.history.entries[0]
	if e.Class != models.ClassHistorical || e.Price != 55.23 || e.FileID != "202511191405" {
		t.Fatalf("bad history entry: %+v", e)
	}
}

func TestExpireForecasts(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	old := marketime.Now().Add(-3 * time.Hour).Truncate(5 * time.Minute)
	fresh := marketime.Now().Truncate(5 * time.Minute)

	res := &SyncResult{}
	h.syncer.merge(ctx, []*models.ParsedReport{
		dispatchReport("202511191405", "VIC1", old, 55.23),
		p5minReport("202511191405", "VIC1", old, 48.10),
		p5minReport("202511191405", "VIC1", fresh, 50.00),
	}, res)

	n, err := h.syncer.expireForecasts(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one expired record, got %d", n)
	}

	rec, _ := h.store.Get(ctx, "VIC1", old)
	if rec.FiveMin != nil || rec.ThirtyMin != nil {
		t.Fatalf("forecasts must be unset: %+v", rec)
	}
	if rec.Historical == nil || *rec.BestPrice != 55.23 {
		t.Fatalf("historical must survive retention: %+v", rec)
	}
	if rec.BestForecast != nil {
		t.Fatalf("forecast price must be cleared, got %v", *rec.BestForecast)
	}

	kept, _ := h.store.Get(ctx, "VIC1", fresh)
	if kept.FiveMin == nil {
		t.Fatalf("recent forecast must be untouched")
	}
}

func TestFutureHistoricalReported(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	future := marketime.Now().Add(2 * time.Hour)
	rec := &models.RegionIntervalRecord{
		Region:     "VIC1",
		Timestamp:  future,
		Historical: &models.PriceSource{Price: 10, SourceFile: "x", FileID: "202511191405"},
	}
	rec.Recompute()
	if _, err := h.store.Upsert(ctx, rec); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := h.syncer.FutureHistorical(ctx)
	if err != nil {
		t.Fatalf("future historical: %v", err)
	}
	if len(got) != 1 || !got[0].Timestamp.Equal(future) {
		t.Fatalf("expected the seeded record, got %+v", got)
	}
}

func TestBackfillLeavesExpiredForecastsCleared(t *testing.T) {
	h := newCacheHarness(t)
	ctx := context.Background()

	old := marketime.Now().Add(-3 * time.Hour).Truncate(5 * time.Minute)
	id := marketime.FormatFileID(old)
	dispatch := dispatchReport(id, "VIC1", old, 55.23)
	forecast := p5minReport(id, "VIC1", old, 48.10)
	for _, r := range []*models.ParsedReport{forecast, dispatch} {
		if err := h.syncer.reports.Put(r); err != nil {
			t.Fatalf("cache put: %v", err)
		}
	}

	res := &SyncResult{}
	h.syncer.merge(ctx, []*models.ParsedReport{forecast, dispatch}, res)
	if _, err := h.syncer.expireForecasts(ctx); err != nil {
		t.Fatalf("expire: %v", err)
	}

	if _, err := h.syncer.Backfill(ctx); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	rec, _ := h.store.Get(ctx, "VIC1", old)
	if rec.FiveMin != nil || rec.ThirtyMin != nil || rec.BestForecast != nil {
		t.Fatalf("backfill must not restore expired forecasts: %+v", rec)
	}
	if rec.Historical == nil || *rec.BestPrice != 55.23 {
		t.Fatalf("historical must survive the backfill: %+v", rec)
	}
}

func TestSyncMergesRetainedDispatchWindow(t *testing.T) {
	h := newCacheHarness(t)
	ctx := context.Background()

	fresh := marketime.Now().Truncate(5 * time.Minute)
	missed := fresh.Add(-5 * time.Minute)
	freshID := marketime.FormatFileID(fresh)
	missedID := marketime.FormatFileID(missed)

	// A previous pass cached this file but never persisted its interval.
	if err := h.syncer.reports.Put(dispatchReport(missedID, "VIC1", missed, 42.00)); err != nil {
		t.Fatalf("cache put: %v", err)
	}

	zipName := "PUBLIC_DISPATCH_" + freshID + "_0000000123456789.zip"
	payload := "I,DREGION,,1,REGIONID,SETTLEMENTDATE,RRP\n" +
		"D,DREGION,,1,VIC1,\"" + fresh.Format("2006/01/02 15:04:05") + "\",55.23\n"
	archive := zipArchive(t, "PUBLIC_DISPATCH_"+freshID+".CSV", payload)

	mux := http.NewServeMux()
	mux.HandleFunc("/Reports/Current/Dispatch_Reports/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".zip") {
			_, _ = w.Write(archive)
			return
		}
		_, _ = w.Write([]byte(`<a href="` + zipName + `">x</a>`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h.syncer.locator = nemweb.NewLocator(srv.Client(), logger.Nop(), 1, 0)
	h.syncer.fetcher = nemweb.NewFetcher(srv.Client(), logger.Nop())
	h.syncer.parser = nemweb.NewParser(logger.Nop())
	h.syncer.opts.BaseURL = srv.URL + "/Reports/Current/"
	h.syncer.opts.DispatchHoursBack = 1

	res, err := h.syncer.Sync(ctx, false)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Inserted != 2 {
		t.Fatalf("expected the fresh and the cached interval inserted, got %+v", res)
	}
	if rec, _ := h.store.Get(ctx, "VIC1", missed); rec == nil || rec.Historical.Price != 42.00 {
		t.Fatalf("missed interval must be repaired from the cached window")
	}
	if rec, _ := h.store.Get(ctx, "VIC1", fresh); rec == nil || rec.Historical.Price != 55.23 {
		t.Fatalf("fresh interval must be merged")
	}
}

// flakyStore refuses the upsert for one key and delegates the rest.
type flakyStore struct {
	*fakeStore
	failKey string
}

func (f *flakyStore) Upsert(ctx context.Context, rec *models.RegionIntervalRecord) (bool, error) {
	if storeKey(rec.Region, rec.Timestamp) == f.failKey {
		return false, fmt.Errorf("upsert refused")
	}
	return f.fakeStore.Upsert(ctx, rec)
}

func TestMergeCountsPerKeyErrors(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	ts := time.Date(2025, 11, 19, 14, 5, 0, 0, marketime.AEST)
	h.syncer.store = &flakyStore{fakeStore: h.store, failKey: storeKey("VIC1", ts)}

	report := dispatchReport("202511191405", "VIC1", ts, 55.23)
	report.Prices["NSW1"] = []models.PricePoint{{Timestamp: ts, Price: 61.07}}

	res := &SyncResult{}
	h.syncer.merge(ctx, []*models.ParsedReport{report}, res)
	if len(res.Errors) != 1 {
		t.Fatalf("failing key must be counted, got %v", res.Errors)
	}
	if res.Inserted != 1 {
		t.Fatalf("remaining keys must still merge, got %+v", res)
	}
	if rec, _ := h.store.Get(ctx, "NSW1", ts); rec == nil {
		t.Fatalf("healthy region must be persisted")
	}
}

func TestErrorReportLimit(t *testing.T) {
	res := &SyncResult{}
	for i := 0; i < 15; i++ {
		res.addError(10, "error %d", i)
	}
	if len(res.Errors) != 10 {
		t.Fatalf("expected 10 reported errors, got %d", len(res.Errors))
	}
	if res.Truncated != 5 {
		t.Fatalf("expected 5 truncated errors, got %d", res.Truncated)
	}
}
