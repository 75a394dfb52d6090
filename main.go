package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vinted_scrooper/config"
	"vinted_scrooper/httputil"
	"vinted_scrooper/logging"
	"vinted_scrooper/marketplace"
	"vinted_scrooper/models"
	"vinted_scrooper/scheduler"
	"vinted_scrooper/scraper"
	"vinted_scrooper/services"
	"vinted_scrooper/storage"
	"vinted_scrooper/vpn"
)

var (
	scrapeNow    = flag.Bool("scrape", false, "Run one crawl and exit")
	syncCatalogs = flag.Bool("sync-catalogs", false, "Fetch the catalog tree, insert new catalogs and exit")
	onlyVintage  = flag.Bool("vintage", false, "Crawl the vintage brand only (overrides ONLY_VINTAGE)")
	filterBy     = flag.String("filter-by", "", "Focus facet: material, patterns, color or none (overrides FILTER_BY)")
	genders      = flag.String("genders", "", "Gender scope: women, men or both (overrides GENDERS)")
	showRuns     = flag.Int("runs", 0, "Print the N most recent runs and exit")
)

// crawler holds everything one crawl needs.
type crawler struct {
	cfg          *config.Config
	catalogs     *services.CatalogService
	committer    *services.StagingCommitter
	orchestrator *scraper.Orchestrator
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := applyFlags(cfg); err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogFile, cfg.LogMaxBytes)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting vinted_scrooper...")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// SQLite always holds the run log; it is also the warehouse for local runs.
	sqliteStore, err := storage.NewSQLiteStore(cfg.Warehouse.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.Warehouse.DBPath)

	if *showRuns > 0 {
		printRuns(sqliteStore, *showRuns)
		return
	}

	var (
		warehouse    storage.Warehouse     = sqliteStore
		catalogStore services.CatalogStore = sqliteStore
	)
	if cfg.Warehouse.Driver == config.DriverPostgres {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.Warehouse.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare warehouse schema: %v", err)
		}

		repo, err := storage.OpenCatalogRepository(cfg.Warehouse.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open catalog repository: %v", err)
		}
		defer repo.Close()

		warehouse, catalogStore = pgStore, repo
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Warehouse.DatabaseURL))
	}

	clients, err := httputil.NewClients(cfg.Marketplace)
	if err != nil {
		log.Fatalf("Failed to build HTTP clients: %v", err)
	}
	if cfg.Marketplace.ProxyURL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Marketplace.ProxyURL))
	}

	var egress *vpn.ExpressVPN
	if cfg.VPN.Enabled {
		egress = vpn.NewExpressVPN(vpn.Config{
			Regions:        cfg.VPN.Regions,
			AutoConnect:    true,
			ConnectTimeout: cfg.VPN.ConnectTimeout,
		})
		if err := egress.EnsureConnected(ctx); err != nil {
			log.Fatalf("VPN: %v", err)
		}
		status, _ := egress.GetStatus(ctx)
		log.Printf("VPN ready: %s (rotating after %d throttled searches)", status, cfg.VPN.RotateAfter)
	}

	client, err := marketplace.New(ctx, marketplace.Options{
		BaseURL:           cfg.Marketplace.BaseURL(),
		UserAgent:         cfg.Marketplace.UserAgent,
		HTTPClient:        clients.Scraping,
		RequestsPerSecond: cfg.Marketplace.RequestsPerSecond,
	})
	if err != nil {
		log.Fatalf("Failed to start marketplace session: %v", err)
	}
	log.Printf("Marketplace session ready: %s", cfg.Marketplace.BaseURL())

	rng := rand.New(rand.NewSource(cfg.Crawl.Seed))
	catalogService := services.NewCatalogService(catalogStore, rng)
	catalogService.TierProbability = cfg.Crawl.TierProbability

	if *syncCatalogs {
		added, err := catalogService.Sync(ctx, client, cfg.Crawl.ValidCatalogCodes)
		if err != nil {
			log.Fatalf("Catalog sync failed: %v", err)
		}
		log.Printf("Catalog sync complete: %d added", added)
		return
	}

	committer := services.NewStagingCommitter(warehouse, rng)
	c := &crawler{
		cfg:          cfg,
		catalogs:     catalogService,
		committer:    committer,
		orchestrator: newOrchestrator(ctx, cfg, client, committer, sqliteStore, clients, rng),
	}
	if egress != nil {
		c.orchestrator.SetRotator(egress, cfg.VPN.RotateAfter)
	}

	if *scrapeNow {
		log.Println("Running crawl...")
		if err := c.crawl(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Println("Crawl interrupted")
				return
			}
			log.Fatalf("Crawl failed: %v", err)
		}
		log.Println("Crawl complete!")
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg.Scheduler, c.crawl)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	triggerCh := make(chan os.Signal, 1)
	signal.Notify(triggerCh, syscall.SIGUSR1)
	go func() {
		for range triggerCh {
			sched.Trigger()
		}
	}()

	log.Println("Daemon running. Send SIGUSR1 to crawl now, Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("Shutting down...")
	signal.Stop(triggerCh)
	sched.Stop()
	log.Println("Goodbye!")
}

func newOrchestrator(ctx context.Context, cfg *config.Config, client *marketplace.Client, committer scraper.Committer,
	runLog scraper.RunLog, clients *httputil.Clients, rng *rand.Rand) *scraper.Orchestrator {
	resolver := scraper.NewResolver(rng)
	resolver.MaxOptions = cfg.Crawl.MaxFilterOptions
	resolver.BatchSize = cfg.Crawl.FilterBatchSize
	resolver.PerPage = cfg.Crawl.PerPage
	resolver.VintageBrandID = cfg.Crawl.VintageBrandID
	resolver.SetDesignerCatalogs(cfg.Crawl.DesignerCatalogIDs)

	normalizer := scraper.NewNormalizer()
	normalizer.MaxBrandLength = cfg.Crawl.MaxBrandTitleLength

	o := scraper.NewOrchestrator(client, committer, resolver, normalizer)
	o.SetRunLog(runLog)
	o.SetCommitEvery(cfg.Crawl.CommitEvery)
	o.SetBackoff(cfg.Marketplace.ThrottleStatuses, cfg.Marketplace.BackoffUnit,
		cfg.Marketplace.BackoffMin, cfg.Marketplace.BackoffMax, rng)

	if cfg.Crawl.FilterCacheTTL > 0 {
		o.SetFacetCache(scraper.NewFacetCache(4096, cfg.Crawl.FilterCacheTTL))
	}

	if cfg.MetricsAddr != "" {
		metrics := scraper.NewMetrics()
		o.SetMetrics(metrics)
		go serveMetrics(cfg.MetricsAddr, metrics)
	}

	if cfg.S3.Enabled() {
		uploader, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Prefix:          cfg.S3.Prefix,
			HTTPClient:      clients.API,
		})
		if err != nil {
			log.Fatalf("Failed to set up S3 archive: %v", err)
		}
		o.SetArchiver(services.NewArchiver(uploader))
		log.Printf("Archiving batches to s3://%s/%s", cfg.S3.Bucket, cfg.S3.Prefix)
	}

	return o
}

// crawl runs one pass per gender in scope and clears staging at the end.
func (c *crawler) crawl(ctx context.Context) error {
	opts := scraper.RunOptions{
		FocusFacet:  c.cfg.Crawl.FilterBy,
		OnlyVintage: c.cfg.Crawl.OnlyVintage,
	}

	defer c.committer.ResetStaging(context.WithoutCancel(ctx))

	for _, women := range c.cfg.Crawl.Genders {
		catalogs, err := c.catalogs.Load(ctx, women)
		if err != nil {
			return fmt.Errorf("load catalogs (women=%v): %w", women, err)
		}
		log.Printf("women: %v | filter_by: %s | catalogs: %d", women, focusLabel(opts.FocusFacet), len(catalogs))

		opts.Women = women
		stats, err := c.orchestrator.Run(ctx, catalogs, opts)
		log.Printf("Pass done (women=%v): %d seen, %d normalized (%.2f), %d uploaded, %d committed, %d throttled",
			women, stats.Seen, stats.Normalized, stats.SuccessRate(), stats.Uploaded, stats.Committed, stats.Throttled)
		if err != nil {
			return err
		}
	}
	return nil
}

// applyFlags lets command-line flags override the environment.
func applyFlags(cfg *config.Config) error {
	var err error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "vintage":
			cfg.Crawl.OnlyVintage = *onlyVintage
		case "filter-by":
			key, ok := models.ParseFocusFacet(*filterBy)
			if !ok {
				err = fmt.Errorf("unknown focus facet %q", *filterBy)
				return
			}
			cfg.Crawl.FilterBy = key
		case "genders":
			scope, perr := config.ParseGenders(*genders)
			if perr != nil {
				err = perr
				return
			}
			cfg.Crawl.Genders = scope
		}
	})
	return err
}

func serveMetrics(addr string, metrics *scraper.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Printf("Metrics listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Metrics server error: %v", err)
	}
}

func printRuns(store *storage.SQLiteStore, limit int) {
	runs, err := store.GetRecentRuns(limit)
	if err != nil {
		log.Fatalf("Failed to read runs: %v", err)
	}
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Printf("#%d %s women=%v filter=%s catalogs=%d seen=%d normalized=%d uploaded=%d committed=%d took=%s\n",
			r.ID, r.Status, r.Women, focusLabel(models.FacetKey(r.FilterBy)), r.Catalogs,
			r.Seen, r.Normalized, r.Uploaded, r.Committed, finished)

		logs, err := store.GetRunLogs(r.ID)
		if err != nil {
			log.Printf("Failed to read logs for run %d: %v", r.ID, err)
			continue
		}
		for _, l := range logs {
			if !l.Level.Notable() {
				continue
			}
			fmt.Printf("    %s [%s] %s\n", l.Timestamp.Format(time.RFC3339), l.Level, l.Message)
		}
	}
}

func focusLabel(key models.FacetKey) string {
	if key == models.FacetNone {
		return "none"
	}
	return string(key)
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
