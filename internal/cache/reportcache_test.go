package cache

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/woodid012/plugit/internal/domain/models"
	"github.com/woodid012/plugit/pkg/logger"
	"github.com/woodid012/plugit/pkg/marketime"
)

func testCache(t *testing.T) *ReportCache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.json")
	return New(path, 6*time.Hour, 24, 10, logger.Nop())
}

func report(class models.ReportClass, fileID string) *models.ParsedReport {
	ts, _ := marketime.ParseFileID(fileID)
	return &models.ParsedReport{
		Class:      class,
		FileID:     fileID,
		SourceFile: fmt.Sprintf("PUBLIC_DISPATCH_%s_0_LEGACY.zip", fileID),
		FetchedAt:  time.Now(),
		Prices: map[string][]models.PricePoint{
			"VIC1": {{Timestamp: ts, Price: 50}},
		},
	}
}

func TestPutMonotonic(t *testing.T) {
	c := testCache(t)

	if err := c.Put(report(models.ClassHistorical, "202511191405")); err != nil {
		t.Fatalf("put: %v", err)
	}
	err := c.Put(report(models.ClassHistorical, "202511191400"))
	if !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}
	if id, _ := c.LatestID(models.ClassHistorical); id != "202511191405" {
		t.Fatalf("stale write must not change latest, got %s", id)
	}
	// Re-offering the same id is an update, not a stale write.
	if err := c.Put(report(models.ClassHistorical, "202511191405")); err != nil {
		t.Fatalf("same-id put: %v", err)
	}
}

func TestPutIndependentPerClass(t *testing.T) {
	c := testCache(t)
	if err := c.Put(report(models.ClassHistorical, "202511191405")); err != nil {
		t.Fatalf("put: %v", err)
	}
	// An older forecast id must not be judged against the dispatch clock.
	if err := c.Put(report(models.ClassFiveMinForecast, "202511191400")); err != nil {
		t.Fatalf("classes must be independent: %v", err)
	}
}

func TestRetentionBound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c := New(path, 6*time.Hour, 3, 2, logger.Nop())

	base := time.Date(2025, 11, 19, 10, 0, 0, 0, marketime.AEST)
	for i := 0; i < 5; i++ {
		id := marketime.FormatFileID(base.Add(time.Duration(i) * 5 * time.Minute))
		if err := c.Put(report(models.ClassHistorical, id)); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	got := c.Reports(models.ClassHistorical)
	if len(got) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(got))
	}
	if got[0].FileID != "202511191020" || got[2].FileID != "202511191010" {
		t.Fatalf("wrong entries retained: %s..%s", got[0].FileID, got[2].FileID)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c := New(path, 6*time.Hour, 24, 10, logger.Nop())
	if err := c.Put(report(models.ClassThirtyMinForecast, "202511191430")); err != nil {
		t.Fatalf("put: %v", err)
	}

	reopened := New(path, 6*time.Hour, 24, 10, logger.Nop())
	got, ok := reopened.Get(models.ClassThirtyMinForecast, "202511191430")
	if !ok {
		t.Fatalf("snapshot did not survive reopen")
	}
	if got.Prices["VIC1"][0].Price != 50 {
		t.Fatalf("points lost across snapshot: %+v", got.Prices)
	}
	if !got.Prices["VIC1"][0].Timestamp.Equal(mustFileTime(t, "202511191430")) {
		t.Fatalf("timestamp lost across snapshot")
	}
}

func TestIsStale(t *testing.T) {
	c := testCache(t)
	old := marketime.FormatFileID(marketime.Now().Add(-7 * time.Hour))
	fresh := marketime.FormatFileID(marketime.Now().Add(-5 * time.Minute))
	if !c.IsStale(old) {
		t.Fatalf("7h old file must be stale under a 6h horizon")
	}
	if c.IsStale(fresh) {
		t.Fatalf("fresh file must not be stale")
	}
}

func TestLatestEmpty(t *testing.T) {
	c := testCache(t)
	if _, ok := c.Latest(models.ClassHistorical); ok {
		t.Fatalf("empty cache must report absence")
	}
}

func mustFileTime(t *testing.T, id string) time.Time {
	t.Helper()
	ts, ok := marketime.ParseFileID(id)
	if !ok {
		t.Fatalf("bad file id %s", id)
	}
	return ts
}
