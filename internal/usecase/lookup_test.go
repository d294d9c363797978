package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/woodid012/plugit/internal/domain/models"
	pkgcache "github.com/woodid012/plugit/pkg/cache"
	"github.com/woodid012/plugit/pkg/logger"
	"github.com/woodid012/plugit/pkg/marketime"
)

func seedRecord(t *testing.T, store *fakeStore, region string, ts time.Time, price float64) {
	t.Helper()
	rec := &models.RegionIntervalRecord{
		Region:     region,
		Timestamp:  ts,
		Historical: &models.PriceSource{Price: price, SourceFile: "f", FileID: "202511191405"},
	}
	rec.Recompute()
	if _, err := store.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestLookupRangeCaches(t *testing.T) {
	store := newFakeStore()
	lk := NewLookup(store, pkgcache.NewMemoryCache(), 30*time.Second, logger.Nop())
	ctx := context.Background()

	ts := time.Date(2025, 11, 19, 14, 5, 0, 0, marketime.AEST)
	seedRecord(t, store, "VIC1", ts, 55.23)

	from, to := ts.Add(-time.Hour), ts.Add(time.Hour)
	first, err := lk.Range(ctx, "VIC1", from, to, 0)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(first) != 1 || *first[0].BestPrice != 55.23 {
		t.Fatalf("unexpected result: %+v", first)
	}

	// The second call must be served from cache even after the store
	// changes underneath it.
	seedRecord(t, store, "VIC1", ts.Add(5*time.Minute), 60.00)
	second, err := lk.Range(ctx, "VIC1", from, to, 0)
	if err != nil {
		t.Fatalf("cached range: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("expected cached result of 1 record, got %d", len(second))
	}
	if !second[0].Timestamp.Equal(ts) {
		t.Fatalf("timestamp mangled by cache round trip: %v", second[0].Timestamp)
	}
}

func TestLookupRangeAlignsToSettlementBoundaries(t *testing.T) {
	store := newFakeStore()
	lk := NewLookup(store, pkgcache.NewMemoryCache(), 30*time.Second, logger.Nop())
	ctx := context.Background()

	ts := time.Date(2025, 11, 19, 14, 5, 0, 0, marketime.AEST)
	seedRecord(t, store, "VIC1", ts, 55.23)

	// The raw bounds exclude the 14:05 boundary; aligning them floors the
	// window back onto it.
	got, err := lk.Range(ctx, "VIC1", ts.Add(30*time.Second), ts.Add(4*time.Minute), 0)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 1 || !got[0].Timestamp.Equal(ts) {
		t.Fatalf("aligned window must include the boundary record, got %+v", got)
	}
}

func TestLookupAt(t *testing.T) {
	store := newFakeStore()
	lk := NewLookup(store, pkgcache.NewMemoryCache(), 30*time.Second, logger.Nop())
	ctx := context.Background()

	ts := time.Date(2025, 11, 19, 14, 5, 0, 0, marketime.AEST)
	seedRecord(t, store, "VIC1", ts, 55.23)

	got, err := lk.At(ctx, "VIC1", ts.Add(90*time.Second))
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	if got == nil || !got.Timestamp.Equal(ts) {
		t.Fatalf("expected the nearest interval, got %+v", got)
	}

	// Ten minutes away exceeds the lookup window.
	got, err = lk.At(ctx, "VIC1", ts.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("at miss: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no match outside the window, got %+v", got)
	}
}
