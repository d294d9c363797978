//go:build wireinject
// +build wireinject

package di

import (
	"github.com/woodid012/plugit/pkg/config"
	"github.com/woodid012/plugit/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideMongoClient,
		ProvideClickHouseClient,
		ProvideCacheService,

		// Repositories
		ProvideRecordStore,
		ProvideUpdateSink,
		ProvideHistorySink,

		// Report pipeline
		ProvideLocator,
		ProvideFetcher,
		ProvideParser,
		ProvideReportCache,

		// Use cases
		ProvideSyncer,
		ProvideLookup,
		ProvidePricesHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}

// InitializeComponents wires the dependencies needed by the one-shot
// commands (sync, backfill, verify, clear).
func InitializeComponents(cfg *config.Config) (*Components, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		ProvideMongoClient,
		ProvideClickHouseClient,
		ProvideCacheService,
		ProvideRecordStore,
		ProvideUpdateSink,
		ProvideHistorySink,
		ProvideLocator,
		ProvideFetcher,
		ProvideParser,
		ProvideReportCache,
		ProvideSyncer,
		ProvideLookup,
		ProvideComponents,
	)
	return &Components{}, nil
}
