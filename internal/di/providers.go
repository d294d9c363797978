package di

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	icache "github.com/woodid012/plugit/internal/cache"
	domrepo "github.com/woodid012/plugit/internal/domain/repository"
	"github.com/woodid012/plugit/internal/handler/api"
	"github.com/woodid012/plugit/internal/nemweb"
	internalrepo "github.com/woodid012/plugit/internal/repository"
	"github.com/woodid012/plugit/internal/usecase"
	pkgcache "github.com/woodid012/plugit/pkg/cache"
	pkgch "github.com/woodid012/plugit/pkg/clickhouse"
	"github.com/woodid012/plugit/pkg/config"
	xhttp "github.com/woodid012/plugit/pkg/http"
	pkgkafka "github.com/woodid012/plugit/pkg/kafka"
	applogger "github.com/woodid012/plugit/pkg/logger"
	"github.com/woodid012/plugit/pkg/metrics"
	pkgmongo "github.com/woodid012/plugit/pkg/mongo"
	"github.com/woodid012/plugit/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMongoClient connects to the document store.
func ProvideMongoClient(cfg *config.Config) (*pkgmongo.Client, error) {
	client, err := pkgmongo.NewClient(
		pkgmongo.WithURI(cfg.Mongo.URI),
		pkgmongo.WithDatabase(cfg.Mongo.Database),
		pkgmongo.WithTimeout(cfg.Mongo.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo client: %w", err)
	}
	return client, nil
}

// ProvideRecordStore creates the record store over the price collection.
func ProvideRecordStore(client *pkgmongo.Client, cfg *config.Config) domrepo.RecordStore {
	return internalrepo.NewMongoRecordStore(client, cfg.Mongo.Collection)
}

// ProvideUpdateSink creates the Kafka update sink, or a no-op sink when the
// broker is disabled.
func ProvideUpdateSink(cfg *config.Config) (domrepo.UpdateSink, error) {
	if !cfg.Kafka.Enabled {
		return internalrepo.NopUpdateSink{}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaUpdateSink(producer, cfg.Kafka.Topic), nil
}

// ProvideClickHouseClient connects to the history archive, or returns nil
// when the archive is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.HistorySchema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideHistorySink creates the history archive sink.
func ProvideHistorySink(ch *pkgch.Client) domrepo.HistorySink {
	if ch == nil {
		return internalrepo.NopHistory{}
	}
	return internalrepo.NewClickHouseHistory(ch)
}

// ProvideCacheService creates the lookup cache: Redis when enabled,
// in-process memory otherwise.
func ProvideCacheService(cfg *config.Config) (pkgcache.Service, error) {
	if !cfg.Redis.Enabled {
		return pkgcache.NewMemoryCache(), nil
	}
	host, portStr, err := net.SplitHostPort(cfg.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("redis addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("redis port: %w", err)
	}
	redis, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPrefix("pricesync"),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return pkgcache.NewLayeredCache(redis), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideLocator creates the directory listing scanner with its own
// short-timeout client.
func ProvideLocator(cfg *config.Config, log *applogger.Logger) *nemweb.Locator {
	client := &http.Client{Timeout: cfg.NEMWeb.ListTimeout}
	return nemweb.NewLocator(client, log, cfg.NEMWeb.MaxAttempts, cfg.NEMWeb.AttemptDelay)
}

// ProvideFetcher creates the archive downloader.
func ProvideFetcher(cfg *config.Config, log *applogger.Logger) *nemweb.Fetcher {
	client := &http.Client{Timeout: cfg.NEMWeb.DownloadTimeout}
	return nemweb.NewFetcher(client, log)
}

// ProvideParser creates the payload parser.
func ProvideParser(log *applogger.Logger) *nemweb.Parser {
	return nemweb.NewParser(log)
}

// ProvideReportCache loads the durable report cache.
func ProvideReportCache(cfg *config.Config, log *applogger.Logger) *icache.ReportCache {
	return icache.New(cfg.Cache.Path, cfg.Cache.StaleAfter,
		cfg.Cache.DispatchEntries, cfg.Cache.ForecastEntries, log)
}

// ProvideSyncer assembles the reconciliation engine.
func ProvideSyncer(
	locator *nemweb.Locator,
	fetcher *nemweb.Fetcher,
	parser *nemweb.Parser,
	reports *icache.ReportCache,
	store domrepo.RecordStore,
	updates domrepo.UpdateSink,
	history domrepo.HistorySink,
	m domrepo.Metrics,
	cfg *config.Config,
	log *applogger.Logger,
) *usecase.Syncer {
	return usecase.NewSyncer(locator, fetcher, parser, reports, store, updates, history, m,
		usecase.SyncOptions{
			BaseURL:               cfg.NEMWeb.BaseURL,
			Regions:               cfg.Sync.Regions,
			SettlementTolerance:   cfg.Sync.SettlementTolerance,
			FutureTolerance:       cfg.Sync.FutureTolerance,
			ForecastRetention:     cfg.Sync.ForecastRetention,
			DispatchHoursBack:     cfg.Sync.DispatchHoursBack,
			PredispatchHoursAhead: cfg.Sync.PredispatchHoursAhead,
			ErrorReportLimit:      cfg.Sync.ErrorReportLimit,
		}, log)
}

// ProvideLookup creates the read path.
func ProvideLookup(store domrepo.RecordStore, cache pkgcache.Service, cfg *config.Config, log *applogger.Logger) *usecase.Lookup {
	return usecase.NewLookup(store, cache, cfg.Redis.TTL, log)
}

// ProvidePricesHandler creates the HTTP handler.
func ProvidePricesHandler(log *applogger.Logger, lookup *usecase.Lookup) xhttp.Handler {
	return api.NewPricesHandler(log, lookup)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	syncer *usecase.Syncer,
	handler xhttp.Handler,
	store domrepo.RecordStore,
	updates domrepo.UpdateSink,
	ch *pkgch.Client,
) *server.App {
	return server.New(cfg, log, syncer, handler, store, updates, ch)
}

// Components bundles the pieces the one-shot commands need without the
// server lifecycle.
type Components struct {
	Cfg     *config.Config
	Log     *applogger.Logger
	Syncer  *usecase.Syncer
	Lookup  *usecase.Lookup
	Reports *icache.ReportCache
	Store   domrepo.RecordStore
	Updates domrepo.UpdateSink
	CH      *pkgch.Client
}

// ProvideComponents bundles dependencies for CLI use.
func ProvideComponents(
	cfg *config.Config,
	log *applogger.Logger,
	syncer *usecase.Syncer,
	lookup *usecase.Lookup,
	reports *icache.ReportCache,
	store domrepo.RecordStore,
	updates domrepo.UpdateSink,
	ch *pkgch.Client,
) *Components {
	return &Components{
		Cfg:     cfg,
		Log:     log,
		Syncer:  syncer,
		Lookup:  lookup,
		Reports: reports,
		Store:   store,
		Updates: updates,
		CH:      ch,
	}
}

// Close releases infrastructure clients.
func (c *Components) Close(ctx context.Context) {
	if err := c.Updates.Close(); err != nil {
		c.Log.Warn("update sink close error", applogger.Error(err))
	}
	if c.CH != nil {
		if err := c.CH.Close(); err != nil {
			c.Log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if err := c.Store.Close(ctx); err != nil {
		c.Log.Warn("store close error", applogger.Error(err))
	}
}
