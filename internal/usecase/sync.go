// Package usecase holds the reconciliation engine: it turns located report
// files into region/interval records under the monotonic-write rule.
package usecase

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/woodid012/plugit/internal/cache"
	"github.com/woodid012/plugit/internal/domain/models"
	domrepo "github.com/woodid012/plugit/internal/domain/repository"
	"github.com/woodid012/plugit/internal/nemweb"
	"github.com/woodid012/plugit/pkg/logger"
	"github.com/woodid012/plugit/pkg/marketime"
)

// SyncOptions carries the reconciliation policy knobs.
type SyncOptions struct {
	BaseURL               string
	Regions               []string
	SettlementTolerance   time.Duration
	FutureTolerance       time.Duration
	ForecastRetention     time.Duration
	DispatchHoursBack     int
	PredispatchHoursAhead int
	ErrorReportLimit      int
}

// SyncResult summarises one pass over the store.
type SyncResult struct {
	Inserted  int
	Updated   int
	Skipped   int
	Dropped   int
	Errors    []string
	Truncated int // errors beyond the report limit
}

func (r *SyncResult) addError(limit int, format string, args ...interface{}) {
	if limit > 0 && len(r.Errors) >= limit {
		r.Truncated++
		return
	}
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Changed reports whether the pass wrote anything.
func (r *SyncResult) Changed() bool { return r.Inserted+r.Updated > 0 }

// Syncer runs the locate/fetch/parse/merge cycle for all report families.
type Syncer struct {
	locator *nemweb.Locator
	fetcher *nemweb.Fetcher
	parser  *nemweb.Parser
	reports *cache.ReportCache
	store   domrepo.RecordStore
	updates domrepo.UpdateSink
	history domrepo.HistorySink
	metrics domrepo.Metrics
	opts    SyncOptions
	log     *logger.Logger
}

func NewSyncer(
	locator *nemweb.Locator,
	fetcher *nemweb.Fetcher,
	parser *nemweb.Parser,
	reports *cache.ReportCache,
	store domrepo.RecordStore,
	updates domrepo.UpdateSink,
	history domrepo.HistorySink,
	metrics domrepo.Metrics,
	opts SyncOptions,
	log *logger.Logger,
) *Syncer {
	return &Syncer{
		locator: locator,
		fetcher: fetcher,
		parser:  parser,
		reports: reports,
		store:   store,
		updates: updates,
		history: history,
		metrics: metrics,
		opts:    opts,
		log:     log,
	}
}

// Sync runs one full pass: refresh every report family, merge the freshest
// forecast reports and the retained dispatch window into the store, then
// expire old forecasts. Per-family failures are collected, not fatal; the
// pass merges whatever it obtained.
func (s *Syncer) Sync(ctx context.Context, refresh bool) (*SyncResult, error) {
	start := time.Now()
	res := &SyncResult{}

	var merged []*models.ParsedReport
	for _, src := range nemweb.Sources() {
		report, err := s.refreshClass(ctx, src, refresh)
		if err != nil {
			s.log.Warn("report refresh failed",
				logger.String("class", src.Class.String()),
				logger.Error(err))
			res.addError(s.opts.ErrorReportLimit, "%s: %v", src.Class, err)
		}
		if src.Class == models.ClassHistorical {
			// The freshly cached dispatch file plus the retained older
			// ones: one pass repairs the whole cached window of missed
			// intervals, even when this cycle's fetch failed.
			merged = append(merged, s.historicalWindow()...)
			continue
		}
		if err == nil {
			merged = append(merged, report)
		}
	}

	s.merge(ctx, merged, res)

	if n, err := s.expireForecasts(ctx); err != nil {
		res.addError(s.opts.ErrorReportLimit, "forecast retention: %v", err)
	} else if n > 0 {
		s.log.Info("expired forecasts on settled intervals", logger.Int("records", n))
	}

	s.metrics.RecordSyncDuration("sync", time.Since(start).Seconds())
	s.log.Info("sync pass complete",
		logger.Int("inserted", res.Inserted),
		logger.Int("updated", res.Updated),
		logger.Int("skipped", res.Skipped),
		logger.Int("errors", len(res.Errors)+res.Truncated),
		logger.Duration("took", time.Since(start)))
	return res, nil
}

// Backfill re-merges the retained dispatch reports, oldest first, to repair
// gaps left by failed passes. Forecast families are excluded: their cached
// reports predate the retention pass, and offering them again would restore
// forecast fields that retention already cleared. No network traffic is
// involved.
func (s *Syncer) Backfill(ctx context.Context) (*SyncResult, error) {
	start := time.Now()
	res := &SyncResult{}

	s.merge(ctx, s.historicalWindow(), res)

	s.metrics.RecordSyncDuration("backfill", time.Since(start).Seconds())
	s.log.Info("backfill pass complete",
		logger.Int("inserted", res.Inserted),
		logger.Int("updated", res.Updated),
		logger.Int("skipped", res.Skipped),
		logger.Duration("took", time.Since(start)))
	return res, nil
}

// historicalWindow returns the cached dispatch reports oldest first, so the
// monotonic rule sees file identifiers in natural order.
func (s *Syncer) historicalWindow() []*models.ParsedReport {
	reports := s.reports.Reports(models.ClassHistorical)
	out := make([]*models.ParsedReport, 0, len(reports))
	for i := len(reports) - 1; i >= 0; i-- {
		out = append(out, reports[i])
	}
	return out
}

// refreshClass brings the cache up to date for one report family and returns
// the freshest parsed report. With refresh false, an unchanged upstream file
// identifier reuses the cached parse and skips the download.
func (s *Syncer) refreshClass(ctx context.Context, src nemweb.Source, refresh bool) (*models.ParsedReport, error) {
	dirURL := s.opts.BaseURL + src.Directory

	baseline := ""
	if !refresh {
		baseline, _ = s.reports.LatestID(src.Class)
	}

	located, ok := s.locator.LatestWithRetry(ctx, dirURL, src.Pattern, baseline)
	if !ok {
		return nil, fmt.Errorf("no %s report located at %s", src.Class, dirURL)
	}

	if !refresh {
		if cached, hit := s.reports.Get(src.Class, located.FileID); hit {
			s.log.Debug("report unchanged, using cached parse",
				logger.String("class", src.Class.String()),
				logger.String("file_id", located.FileID))
			return cached, nil
		}
	}

	s.metrics.RecordFetchAttempt(src.Class.String())
	report, err := s.fetchAndParse(ctx, src, located)
	if err != nil {
		return nil, err
	}

	if err := s.reports.Put(report); err != nil {
		if cached, hit := s.reports.Latest(src.Class); hit {
			// A concurrent pass cached something newer; theirs wins.
			s.metrics.RecordStaleWrite(src.Class.String())
			return cached, nil
		}
		return nil, err
	}
	return report, nil
}

func (s *Syncer) fetchAndParse(ctx context.Context, src nemweb.Source, located nemweb.Located) (*models.ParsedReport, error) {
	csvPath, cleanup, err := s.fetcher.Fetch(ctx, located.URL, "")
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", located.URL, err)
	}
	defer cleanup()

	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	defer f.Close()

	prices, stats, err := s.parser.Parse(f, s.parseOptions(src, located.FileID))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", located.FileID, err)
	}
	s.countDrops(stats)

	return &models.ParsedReport{
		Class:      src.Class,
		FileID:     located.FileID,
		SourceFile: fileNameFromURL(located.URL),
		FetchedAt:  time.Now(),
		Prices:     prices,
	}, nil
}

// parseOptions derives the per-family validation policy. Historical rows are
// held to the filename's settlement instant and a short lookback window;
// forecasts are windowed forward only.
func (s *Syncer) parseOptions(src nemweb.Source, fileID string) nemweb.ParseOptions {
	opts := nemweb.ParseOptions{
		Table:   src.Table,
		Regions: s.opts.Regions,
	}
	switch src.Class {
	case models.ClassHistorical:
		if expected, ok := marketime.ParseFileID(fileID); ok {
			opts.Expected = expected
			opts.Tolerance = s.opts.SettlementTolerance
		}
		opts.HoursBack = s.opts.DispatchHoursBack
		opts.FutureTolerance = s.opts.FutureTolerance
	case models.ClassFiveMinForecast:
		opts.HoursAhead = 1
	default:
		opts.HoursAhead = s.opts.PredispatchHoursAhead
	}
	return opts
}

func (s *Syncer) countDrops(stats nemweb.ParseStats) {
	for i := 0; i < stats.DroppedDecode; i++ {
		s.metrics.RecordRowDropped("decode")
	}
	for i := 0; i < stats.DroppedWindow; i++ {
		s.metrics.RecordRowDropped("window")
	}
	for i := 0; i < stats.DroppedMismatch; i++ {
		s.metrics.RecordRowDropped("settlement_mismatch")
	}
}

// merge reconciles parsed reports into the store one record at a time. Each
// report must pass the provenance gate before any of its points are offered:
// a file from the wrong family can never write another family's field.
func (s *Syncer) merge(ctx context.Context, reports []*models.ParsedReport, res *SyncResult) {
	var entries []models.HistoryEntry

	for _, report := range reports {
		if !nemweb.MatchesClass(report.SourceFile, report.Class) {
			s.log.Error("source file fails provenance gate, report ignored",
				logger.String("class", report.Class.String()),
				logger.String("file", report.SourceFile))
			res.addError(s.opts.ErrorReportLimit,
				"provenance: %s is not a %s file", report.SourceFile, report.Class)
			continue
		}

		for region, points := range report.Prices {
			for _, pt := range points {
				entry, err := s.mergePoint(ctx, report, region, pt, res)
				if err != nil {
					res.addError(s.opts.ErrorReportLimit,
						"%s %s: %v", region, pt.Timestamp.Format(time.RFC3339), err)
					continue
				}
				if entry != nil {
					entries = append(entries, *entry)
				}
			}
		}
	}

	if len(entries) > 0 {
		if err := s.history.Append(ctx, entries); err != nil {
			// The archive is best-effort; the store already holds the data.
			s.log.Warn("history append failed", logger.Error(err))
		}
	}
}

func (s *Syncer) mergePoint(ctx context.Context, report *models.ParsedReport, region string, pt models.PricePoint, res *SyncResult) (*models.HistoryEntry, error) {
	existing, err := s.store.Get(ctx, region, pt.Timestamp)
	if err != nil {
		return nil, err
	}

	var rec *models.RegionIntervalRecord
	if existing != nil {
		rec = existing.Clone()
	} else {
		rec = &models.RegionIntervalRecord{Region: region, Timestamp: pt.Timestamp}
	}

	src := models.PriceSource{
		Price:      pt.Price,
		SourceFile: report.SourceFile,
		FileID:     report.FileID,
		FetchedAt:  report.FetchedAt,
	}
	if !rec.Offer(report.Class, src) {
		res.Skipped++
		s.metrics.RecordSyncOutcome(region, "skipped")
		return nil, nil
	}
	rec.Recompute()
	if existing != nil && rec.DataEqual(existing) {
		res.Skipped++
		s.metrics.RecordSyncOutcome(region, "skipped")
		return nil, nil
	}
	rec.LastUpdated = time.Now()

	inserted, err := s.store.Upsert(ctx, rec)
	if err != nil {
		return nil, err
	}

	action := "updated"
	if inserted {
		action = "inserted"
		res.Inserted++
	} else {
		res.Updated++
	}
	s.metrics.RecordSyncOutcome(region, action)
	if rec.BestPrice != nil {
		s.metrics.RecordBestPrice(region, *rec.BestPrice)
	}

	if err := s.updates.Publish(ctx, &models.RecordUpdate{
		Region:        region,
		Timestamp:     rec.Timestamp,
		Action:        action,
		ExportPrice:   rec.BestPrice,
		ForecastPrice: rec.BestForecast,
		UpdatedAt:     rec.LastUpdated,
	}); err != nil {
		s.log.Warn("update publish failed",
			logger.String("region", region),
			logger.Error(err))
	}

	return &models.HistoryEntry{
		Region:     region,
		Timestamp:  rec.Timestamp,
		Class:      report.Class,
		FileID:     report.FileID,
		Price:      pt.Price,
		RecordedAt: rec.LastUpdated,
	}, nil
}

// expireForecasts unsets forecast fields on intervals older than the
// retention horizon. Settled intervals keep their historical price forever;
// the forecasts that predicted them carry no value once the actual is in.
func (s *Syncer) expireForecasts(ctx context.Context) (int, error) {
	cutoff := marketime.Now().Add(-s.opts.ForecastRetention)
	recs, err := s.store.ForecastsBefore(ctx, cutoff, 0)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, old := range recs {
		rec := old.Clone()
		if !rec.DropForecasts() {
			continue
		}
		rec.Recompute()
		rec.LastUpdated = time.Now()
		if _, err := s.store.Upsert(ctx, rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// FutureHistorical lists records that claim an actual settlement beyond the
// future tolerance. Such records can only come from a provenance bug or a
// bad manual import; they are reported, never silently deleted.
func (s *Syncer) FutureHistorical(ctx context.Context) ([]*models.RegionIntervalRecord, error) {
	horizon := marketime.Now().Add(s.opts.FutureTolerance)
	recs, err := s.store.FutureHistorical(ctx, horizon)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		s.log.Warn("historical price on future interval",
			logger.String("region", rec.Region),
			logger.Time("timestamp", rec.Timestamp),
			logger.String("source_file", rec.Historical.SourceFile))
	}
	return recs, nil
}

func fileNameFromURL(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return path.Base(u.Path)
	}
	if i := strings.LastIndexByte(raw, '/'); i >= 0 {
		return raw[i+1:]
	}
	return raw
}
