package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/woodid012/plugit/internal/domain/models"
	domrepo "github.com/woodid012/plugit/internal/domain/repository"
	pkgmongo "github.com/woodid012/plugit/pkg/mongo"
	"github.com/woodid012/plugit/pkg/marketime"
)

// MongoRecordStore implements RecordStore on a MongoDB collection keyed by
// (region, timestamp).
type MongoRecordStore struct {
	client *pkgmongo.Client
	coll   *mongo.Collection
}

// NewMongoRecordStore creates the store over the named collection.
func NewMongoRecordStore(client *pkgmongo.Client, collection string) domrepo.RecordStore {
	return &MongoRecordStore{client: client, coll: client.Collection(collection)}
}

func (s *MongoRecordStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "region", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	return nil
}

func (s *MongoRecordStore) Get(ctx context.Context, region string, ts time.Time) (*models.RegionIntervalRecord, error) {
	var rec models.RegionIntervalRecord
	err := s.coll.FindOne(ctx, bson.M{"region": region, "timestamp": ts.UTC()}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	normalize(&rec)
	return &rec, nil
}

func (s *MongoRecordStore) Upsert(ctx context.Context, rec *models.RegionIntervalRecord) (bool, error) {
	filter := bson.M{"region": rec.Region, "timestamp": rec.Timestamp.UTC()}
	res, err := s.coll.ReplaceOne(ctx, filter, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("upsert record: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

func (s *MongoRecordStore) Range(ctx context.Context, region string, from, to time.Time, limit int) ([]*models.RegionIntervalRecord, error) {
	filter := bson.M{
		"region":    region,
		"timestamp": bson.M{"$gte": from.UTC(), "$lte": to.UTC()},
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("range records: %w", err)
	}
	return drain(ctx, cur)
}

func (s *MongoRecordStore) Nearest(ctx context.Context, region string, at time.Time, within time.Duration) (*models.RegionIntervalRecord, error) {
	recs, err := s.Range(ctx, region, at.Add(-within), at.Add(within), 0)
	if err != nil {
		return nil, err
	}
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

func (s *MongoRecordStore) ForecastsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.RegionIntervalRecord, error) {
	filter := bson.M{
		"timestamp": bson.M{"$lt": cutoff.UTC()},
		"$or": []bson.M{
			{"dispatch_5min": bson.M{"$ne": nil}},
			{"dispatch_30min": bson.M{"$ne": nil}},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("forecasts before: %w", err)
	}
	return drain(ctx, cur)
}

func (s *MongoRecordStore) FutureHistorical(ctx context.Context, after time.Time) ([]*models.RegionIntervalRecord, error) {
	filter := bson.M{
		"timestamp":        bson.M{"$gt": after.UTC()},
		"historical_price": bson.M{"$ne": nil},
	}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("future historical: %w", err)
	}
	return drain(ctx, cur)
}

func (s *MongoRecordStore) Stats(ctx context.Context) ([]models.RegionStats, error) {
	populated := func(field string) bson.M {
		return bson.M{"$sum": bson.M{"$cond": bson.A{
			bson.M{"$gt": bson.A{"$" + field, nil}}, 1, 0,
		}}}
	}
	cur, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":             "$region",
			"records":         bson.M{"$sum": 1},
			"first":           bson.M{"$min": "$timestamp"},
			"last":            bson.M{"$max": "$timestamp"},
			"with_historical": populated("historical_price"),
			"with_5min":       populated("dispatch_5min"),
			"with_30min":      populated("dispatch_30min"),
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("region stats: %w", err)
	}
	defer cur.Close(ctx)
	var out []models.RegionStats
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	for i := range out {
		out[i].First = out[i].First.In(marketime.AEST)
		out[i].Last = out[i].Last.In(marketime.AEST)
	}
	return out, nil
}

func (s *MongoRecordStore) Delete(ctx context.Context, region string, ts time.Time) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"region": region, "timestamp": ts.UTC()})
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (s *MongoRecordStore) Clear(ctx context.Context) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("clear records: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoRecordStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *MongoRecordStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func drain(ctx context.Context, cur *mongo.Cursor) ([]*models.RegionIntervalRecord, error) {
	defer cur.Close(ctx)
	var out []*models.RegionIntervalRecord
	for cur.Next(ctx) {
		var rec models.RegionIntervalRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		normalize(&rec)
		out = append(out, &rec)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	return out, nil
}

// normalize rehomes decoded timestamps in market time; the driver hands
// them back in UTC.
func normalize(rec *models.RegionIntervalRecord) {
	rec.Timestamp = rec.Timestamp.In(marketime.AEST)
	if rec.Historical != nil {
		rec.Historical.FetchedAt = rec.Historical.FetchedAt.In(marketime.AEST)
	}
	if rec.FiveMin != nil {
		rec.FiveMin.FetchedAt = rec.FiveMin.FetchedAt.In(marketime.AEST)
	}
	if rec.ThirtyMin != nil {
		rec.ThirtyMin.FetchedAt = rec.ThirtyMin.FetchedAt.In(marketime.AEST)
	}
}
