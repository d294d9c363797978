package usecase

import (
	"context"
	"time"

	"github.com/woodid012/plugit/internal/domain/models"
	domrepo "github.com/woodid012/plugit/internal/domain/repository"
	pkgcache "github.com/woodid012/plugit/pkg/cache"
	"github.com/woodid012/plugit/pkg/logger"
	"github.com/woodid012/plugit/pkg/marketime"
	"github.com/woodid012/plugit/pkg/util"
)

// nearestWindow bounds how far a point-in-time lookup may stray from an
// actual interval boundary.
const nearestWindow = 5 * time.Minute

// intervalStep is the settlement interval length records are keyed on.
const intervalStep = 5 * time.Minute

// Lookup is the read path over the record store, with a short-TTL cache in
// front so dashboards polling the same range do not hammer the store.
type Lookup struct {
	store domrepo.RecordStore
	cache pkgcache.Service
	ttl   time.Duration
	log   *logger.Logger
}

func NewLookup(store domrepo.RecordStore, cache pkgcache.Service, ttl time.Duration, log *logger.Logger) *Lookup {
	return &Lookup{store: store, cache: cache, ttl: ttl, log: log}
}

// Range returns records for a region between from and to, ascending. Bounds
// are aligned to settlement boundaries so equivalent windows share one cache
// key.
func (l *Lookup) Range(ctx context.Context, region string, from, to time.Time, limit int) ([]*models.RegionIntervalRecord, error) {
	from, to = util.AlignRange(from, to, intervalStep)
	key := pkgcache.GenerateKeyWithParams("prices", region,
		from.Unix(), to.Unix(), limit)

	var cached []*models.RegionIntervalRecord
	if err := l.cache.Get(ctx, key, &cached); err == nil {
		return rehome(cached), nil
	} else if err != pkgcache.ErrCacheMiss {
		l.log.Warn("lookup cache read failed", logger.Error(err))
	}

	recs, err := l.store.Range(ctx, region, from, to, limit)
	if err != nil {
		return nil, err
	}
	if err := l.cache.Set(ctx, key, recs, l.ttl); err != nil {
		l.log.Warn("lookup cache write failed", logger.Error(err))
	}
	return recs, nil
}

// At returns the record nearest to the given instant, or nil when no
// interval lies within the lookup window.
func (l *Lookup) At(ctx context.Context, region string, at time.Time) (*models.RegionIntervalRecord, error) {
	return l.store.Nearest(ctx, region, at, nearestWindow)
}

// Latest returns the most recent records for a region, up to limit.
func (l *Lookup) Latest(ctx context.Context, region string, limit int) ([]*models.RegionIntervalRecord, error) {
	now := marketime.Now()
	recs, err := l.Range(ctx, region, now.Add(-24*time.Hour), now.Add(24*time.Hour), 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}

// Health reports store reachability.
func (l *Lookup) Health(ctx context.Context) error {
	return l.store.Health(ctx)
}

// rehome restores market-time zones after a JSON round trip through the
// cache, which serialises offsets but not zone names.
func rehome(recs []*models.RegionIntervalRecord) []*models.RegionIntervalRecord {
	for _, rec := range recs {
		rec.Timestamp = rec.Timestamp.In(marketime.AEST)
	}
	return recs
}
