package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/woodid012/plugit/internal/di"
	"github.com/woodid012/plugit/internal/domain/models"
	"github.com/woodid012/plugit/internal/usecase"
	"github.com/woodid012/plugit/pkg/config"
	"github.com/woodid012/plugit/pkg/marketime"
)

const usage = `usage: pricesync [-config path] <command>

commands:
  serve      run the sync scheduler and read API (default)
  sync       run one sync pass (-refresh forces a refetch)
  backfill   re-merge the cached dispatch reports into the store
  verify     report per-region coverage, cache staleness and store anomalies
  clear      delete records (-yes required; -future-historical scopes
             the deletion to future intervals carrying actuals)
`

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	cmd := "serve"
	args := flag.Args()
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		runServe(cfg)
	case "sync":
		fs := flag.NewFlagSet("sync", flag.ExitOnError)
		refresh := fs.Bool("refresh", false, "refetch even when the upstream file is unchanged")
		_ = fs.Parse(args)
		runSync(cfg, *refresh)
	case "backfill":
		runBackfill(cfg)
	case "verify":
		runVerify(cfg)
	case "clear":
		fs := flag.NewFlagSet("clear", flag.ExitOnError)
		yes := fs.Bool("yes", false, "confirm deletion")
		futureOnly := fs.Bool("future-historical", false, "delete only future intervals carrying actuals")
		_ = fs.Parse(args)
		runClear(cfg, *yes, *futureOnly)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func runServe(cfg *config.Config) {
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}
	log.Printf("env=%s regions=%v interval=%s", cfg.Environment, cfg.Sync.Regions, cfg.Sync.Interval)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}

func runSync(cfg *config.Config, refresh bool) {
	comps, ctx, done := components(cfg)
	defer done()

	res, err := comps.Syncer.Sync(ctx, refresh)
	if err != nil {
		log.Fatalf("sync failed: %v", err)
	}
	printResult("sync", res)
}

func runBackfill(cfg *config.Config) {
	comps, ctx, done := components(cfg)
	defer done()

	res, err := comps.Syncer.Backfill(ctx)
	if err != nil {
		log.Fatalf("backfill failed: %v", err)
	}
	printResult("backfill", res)
}

func runVerify(cfg *config.Config) {
	comps, ctx, done := components(cfg)
	defer done()

	ok := true
	for _, class := range models.Classes() {
		id, found := comps.Reports.LatestID(class)
		switch {
		case !found:
			fmt.Printf("%-12s no cached report\n", class)
		case comps.Reports.IsStale(id):
			fmt.Printf("%-12s STALE %s (age %s)\n", class, id, marketime.Age(id, marketime.Now()).Round(time.Minute))
			ok = false
		default:
			fmt.Printf("%-12s ok %s\n", class, id)
		}
	}

	if err := comps.Store.Health(ctx); err != nil {
		fmt.Printf("store        UNREACHABLE: %v\n", err)
		ok = false
	} else {
		fmt.Println("store        ok")
	}

	stats, err := comps.Store.Stats(ctx)
	if err != nil {
		log.Fatalf("store stats failed: %v", err)
	}
	if len(stats) == 0 {
		fmt.Println("records      none")
	}
	for _, st := range stats {
		fmt.Printf("%-12s %d records %s .. %s coverage %.1f%% (historical %d, 5min %d, 30min %d)\n",
			st.Region, st.Records,
			st.First.Format("2006-01-02 15:04"),
			st.Last.Format("2006-01-02 15:04"),
			100*st.Coverage(5*time.Minute),
			st.WithHistorical, st.WithFiveMin, st.WithThirtyMin)
	}

	future, err := comps.Syncer.FutureHistorical(ctx)
	if err != nil {
		log.Fatalf("future historical check failed: %v", err)
	}
	if len(future) > 0 {
		fmt.Printf("anomalies    %d future intervals carry actual prices\n", len(future))
		for _, rec := range future {
			fmt.Printf("  %s %s from %s\n", rec.Region,
				rec.Timestamp.Format(time.RFC3339), rec.Historical.SourceFile)
		}
		ok = false
	}

	if !ok {
		os.Exit(1)
	}
}

func runClear(cfg *config.Config, yes, futureOnly bool) {
	if !yes {
		log.Fatal("clear is destructive; pass -yes to confirm")
	}

	comps, ctx, done := components(cfg)
	defer done()

	if futureOnly {
		recs, err := comps.Syncer.FutureHistorical(ctx)
		if err != nil {
			log.Fatalf("future historical lookup failed: %v", err)
		}
		for _, rec := range recs {
			if err := comps.Store.Delete(ctx, rec.Region, rec.Timestamp); err != nil {
				log.Fatalf("delete %s %s: %v", rec.Region, rec.Timestamp, err)
			}
		}
		fmt.Printf("deleted %d future-historical records\n", len(recs))
		return
	}

	n, err := comps.Store.Clear(ctx)
	if err != nil {
		log.Fatalf("clear failed: %v", err)
	}
	fmt.Printf("deleted %d records\n", n)
}

func components(cfg *config.Config) (*di.Components, context.Context, func()) {
	comps, err := di.InitializeComponents(cfg)
	if err != nil {
		log.Fatalf("initialization failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)

	idxCtx, idxCancel := context.WithTimeout(ctx, 30*time.Second)
	err = comps.Store.EnsureIndexes(idxCtx)
	idxCancel()
	if err != nil {
		log.Fatalf("ensure indexes failed: %v", err)
	}

	return comps, ctx, func() {
		comps.Close(ctx)
		cancel()
	}
}

// printResult reports the pass outcome. Per-key errors are counted, not
// escalated: a degraded cycle still exits zero, and the next pass repairs
// what this one missed.
func printResult(kind string, res *usecase.SyncResult) {
	fmt.Printf("%s: inserted=%d updated=%d skipped=%d errors=%d\n",
		kind, res.Inserted, res.Updated, res.Skipped, len(res.Errors)+res.Truncated)
	for _, msg := range res.Errors {
		fmt.Printf("  error: %s\n", msg)
	}
	if res.Truncated > 0 {
		fmt.Printf("  ... and %d more errors\n", res.Truncated)
	}
}
