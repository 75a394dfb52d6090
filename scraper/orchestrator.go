package scraper

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"vinted_scrooper/marketplace"
	"vinted_scrooper/models"
)

const DefaultCommitEvery = 10

// Fetcher is the part of the marketplace client a run needs.
type Fetcher interface {
	CatalogFilters(ctx context.Context, catalogIDs []int64) (*marketplace.Response, error)
	Search(ctx context.Context, req models.SearchRequest) (*marketplace.Response, error)
}

// Committer moves normalized records into the warehouse.
type Committer interface {
	Upload(ctx context.Context, batch *models.Batch) int
	Commit(ctx context.Context) int
	ResetStaging(ctx context.Context) bool
}

// RunLog records runs and their events for operators.
type RunLog interface {
	CreateRun(run *models.CrawlRun) (int64, error)
	UpdateRun(run *models.CrawlRun) error
	Log(runID *int64, level models.LogLevel, message, source string) error
}

// Archiver keeps a copy of every uploaded batch.
type Archiver interface {
	Archive(ctx context.Context, runID, catalogID int64, batch *models.Batch) error
}

// Rotator moves the crawler to a fresh egress address.
type Rotator interface {
	Rotate(ctx context.Context) error
}

// cookieFetcher is implemented by fetchers whose session is tied to the
// egress address and must be re-established after a rotation.
type cookieFetcher interface {
	FetchCookies(ctx context.Context) error
}

type RunOptions struct {
	Women       bool
	FocusFacet  models.FacetKey
	OnlyVintage bool
}

// Progress is reported after every catalog.
type Progress struct {
	Women   bool
	Catalog models.Catalog
	Index   int
	Total   int
	Stats   models.RunStats
}

type ProgressFunc func(Progress)

type Orchestrator struct {
	fetcher    Fetcher
	committer  Committer
	resolver   *Resolver
	normalizer *Normalizer

	runLog   RunLog
	archiver Archiver
	facets   *FacetCache
	metrics  *Metrics
	progress ProgressFunc
	rotator  Rotator

	rotateAfter          int
	consecutiveThrottles int

	commitEvery      int
	throttleStatuses map[int]bool
	backoffUnit      time.Duration
	backoffMin       int
	backoffMax       int
	rng              *rand.Rand
	sleep            func(ctx context.Context, d time.Duration)

	visited *VisitedSet
}

func NewOrchestrator(fetcher Fetcher, committer Committer, resolver *Resolver, normalizer *Normalizer) *Orchestrator {
	return &Orchestrator{
		fetcher:          fetcher,
		committer:        committer,
		resolver:         resolver,
		normalizer:       normalizer,
		progress:         logProgress,
		commitEvery:      DefaultCommitEvery,
		rotateAfter:      3,
		throttleStatuses: map[int]bool{403: true, 429: true},
		backoffUnit:      time.Second,
		backoffMin:       1,
		backoffMax:       10,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:            sleepContext,
		visited:          NewVisitedSet(),
	}
}

func (o *Orchestrator) SetRunLog(runLog RunLog)         { o.runLog = runLog }
func (o *Orchestrator) SetArchiver(archiver Archiver)   { o.archiver = archiver }
func (o *Orchestrator) SetFacetCache(cache *FacetCache) { o.facets = cache }
func (o *Orchestrator) SetMetrics(metrics *Metrics)     { o.metrics = metrics }

func (o *Orchestrator) SetProgress(fn ProgressFunc) {
	if fn == nil {
		fn = func(Progress) {}
	}
	o.progress = fn
}

// SetRotator rotates egress after `after` consecutive throttled searches.
func (o *Orchestrator) SetRotator(r Rotator, after int) {
	o.rotator = r
	if after > 0 {
		o.rotateAfter = after
	}
}

// SetCommitEvery sets how many catalogs are processed between commits.
func (o *Orchestrator) SetCommitEvery(n int) {
	if n <= 0 {
		n = DefaultCommitEvery
	}
	o.commitEvery = n
}

// SetBackoff configures throttling: a response with one of statuses makes the
// run sleep a random minUnits..maxUnits multiple of unit and drop that request.
func (o *Orchestrator) SetBackoff(statuses []int, unit time.Duration, minUnits, maxUnits int, rng *rand.Rand) {
	o.throttleStatuses = make(map[int]bool, len(statuses))
	for _, s := range statuses {
		o.throttleStatuses[s] = true
	}
	o.backoffUnit = unit
	o.backoffMin = minUnits
	o.backoffMax = maxUnits
	if rng != nil {
		o.rng = rng
	}
}

// Run crawls catalogs in order. Failures inside a catalog are logged and
// counted and never stop the run. The returned error is only set when ctx
// is cancelled; the stats are valid either way.
func (o *Orchestrator) Run(ctx context.Context, catalogs []models.Catalog, opts RunOptions) (*models.RunStats, error) {
	stats := models.NewRunStats()
	o.visited.Reset()
	o.consecutiveThrottles = 0
	source := genderLabel(opts.Women)

	run := &models.CrawlRun{
		Women:       opts.Women,
		FilterBy:    string(opts.FocusFacet),
		OnlyVintage: opts.OnlyVintage,
		StartedAt:   time.Now(),
		Status:      models.RunStatusRunning,
		Catalogs:    len(catalogs),
	}
	runID := o.startRun(run)
	defer o.finishRun(run, stats)

	o.log(runID, models.LogLevelInfo, fmt.Sprintf("Starting crawl: %d catalogs, focus=%q, vintage=%v",
		len(catalogs), opts.FocusFacet, opts.OnlyVintage), source)

	if !o.committer.ResetStaging(ctx) {
		o.log(runID, models.LogLevelWarn, "Staging reset failed, continuing with existing staging tables", source)
	}

	for i, catalog := range catalogs {
		if err := ctx.Err(); err != nil {
			return stats, o.cancelRun(ctx, runID, run, stats, source)
		}

		o.processCatalog(ctx, runID, catalog, opts, stats)
		stats.CatalogsDone++
		o.metrics.IncCatalog(opts.Women)

		// A cancel inside the catalog leaves its batch staged; commit it
		// before the caller resets staging.
		if ctx.Err() != nil {
			return stats, o.cancelRun(ctx, runID, run, stats, source)
		}

		if (i+1)%o.commitEvery == 0 || i+1 == len(catalogs) {
			o.commit(ctx, stats)
		}

		o.progress(Progress{
			Women:   opts.Women,
			Catalog: catalog,
			Index:   i + 1,
			Total:   len(catalogs),
			Stats:   *stats,
		})
	}

	run.Status = models.RunStatusCompleted
	o.log(runID, models.LogLevelInfo, fmt.Sprintf("Completed: %d seen, %d normalized (%.2f), %d uploaded, %d committed",
		stats.Seen, stats.Normalized, stats.SuccessRate(), stats.Uploaded, stats.Committed), source)
	return stats, nil
}

// cancelRun commits whatever is staged with a context that outlives the
// cancellation and marks the run cancelled.
func (o *Orchestrator) cancelRun(ctx context.Context, runID int64, run *models.CrawlRun, stats *models.RunStats, source string) error {
	o.log(runID, models.LogLevelWarn, "Crawl cancelled, committing staged rows", source)
	o.commit(context.WithoutCancel(ctx), stats)
	run.Status = models.RunStatusCancelled
	return ctx.Err()
}

func (o *Orchestrator) processCatalog(ctx context.Context, runID int64, catalog models.Catalog, opts RunOptions, stats *models.RunStats) {
	source := genderLabel(opts.Women)

	start := time.Now()
	facets, resp, err := o.facets.load(ctx, o.fetcher, catalog.ID)
	if resp != nil || err != nil {
		stats.Requests++
		o.metrics.ObserveDuration(time.Since(start))
		o.metrics.IncRequest("filters", outcome(resp, err))
	}
	if err != nil {
		stats.FailedCalls++
		o.log(runID, models.LogLevelWarn, fmt.Sprintf("Filters for catalog %d (%s): %v", catalog.ID, catalog.Title, err), source)
	}

	requests := o.resolver.Resolve(catalog.ID, facets, opts.FocusFacet, opts.OnlyVintage)

	batch := &models.Batch{}
	for _, req := range requests {
		if ctx.Err() != nil {
			break
		}
		o.search(ctx, runID, catalog, req, batch, stats, source)
	}

	if !batch.Uploadable() {
		return
	}

	// Records already fetched are staged even when the run is being cancelled.
	ctx = context.WithoutCancel(ctx)
	uploaded := o.committer.Upload(ctx, batch)
	stats.Uploaded += uploaded
	o.metrics.AddUploaded(uploaded)
	if uploaded == 0 {
		o.log(runID, models.LogLevelWarn, fmt.Sprintf("Upload failed for catalog %d (%d rows)", catalog.ID, batch.Len()), source)
		return
	}

	if o.archiver != nil {
		if err := o.archiver.Archive(ctx, runID, catalog.ID, batch); err != nil {
			o.log(runID, models.LogLevelWarn, fmt.Sprintf("Archive failed for catalog %d: %v", catalog.ID, err), source)
		}
	}
}

func (o *Orchestrator) search(ctx context.Context, runID int64, catalog models.Catalog, req models.SearchRequest, batch *models.Batch, stats *models.RunStats, source string) {
	start := time.Now()
	resp, err := o.fetcher.Search(ctx, req)
	stats.Requests++
	o.metrics.ObserveDuration(time.Since(start))
	o.metrics.IncRequest("search", outcome(resp, err))

	if err != nil {
		stats.FailedCalls++
		o.log(runID, models.LogLevelWarn, fmt.Sprintf("Search %s: %v", req, err), source)
		return
	}

	if o.throttleStatuses[resp.StatusCode] {
		stats.Throttled++
		o.metrics.IncThrottled()
		o.backoff(ctx)
		o.consecutiveThrottles++
		o.maybeRotate(ctx, runID, stats, source)
		return
	}
	o.consecutiveThrottles = 0

	attr := req.Attribution()
	for _, raw := range SearchItems(resp) {
		stats.Seen++
		o.metrics.IncSeen()

		parsed, err := o.normalizer.Parse(raw, catalog.ID, o.visited, attr)
		if err != nil {
			reason := RejectReason(err)
			stats.Rejected[reason]++
			o.metrics.IncRejected(reason)
			continue
		}

		stats.Normalized++
		batch.Add(parsed)
	}
}

func (o *Orchestrator) maybeRotate(ctx context.Context, runID int64, stats *models.RunStats, source string) {
	if o.rotator == nil || o.consecutiveThrottles < o.rotateAfter || ctx.Err() != nil {
		return
	}
	o.consecutiveThrottles = 0

	if err := o.rotator.Rotate(ctx); err != nil {
		o.log(runID, models.LogLevelError, fmt.Sprintf("Egress rotation failed: %v", err), source)
		return
	}
	stats.Rotations++
	o.log(runID, models.LogLevelWarn, fmt.Sprintf("Rotated egress after %d throttled searches", o.rotateAfter), source)

	if cf, ok := o.fetcher.(cookieFetcher); ok {
		if err := cf.FetchCookies(ctx); err != nil {
			o.log(runID, models.LogLevelWarn, fmt.Sprintf("Cookie refresh after rotation: %v", err), source)
		}
	}
}

func (o *Orchestrator) commit(ctx context.Context, stats *models.RunStats) {
	committed := o.committer.Commit(ctx)
	stats.Committed += committed
	o.metrics.AddCommitted(committed)
}

func (o *Orchestrator) backoff(ctx context.Context) {
	n := o.backoffMin
	if o.backoffMax > o.backoffMin {
		n += o.rng.Intn(o.backoffMax - o.backoffMin + 1)
	}
	o.sleep(ctx, time.Duration(n)*o.backoffUnit)
}

func (o *Orchestrator) startRun(run *models.CrawlRun) int64 {
	if o.runLog == nil {
		return 0
	}
	id, err := o.runLog.CreateRun(run)
	if err != nil {
		log.Printf("Warning: failed to create run record: %v", err)
		return 0
	}
	run.ID = id
	return id
}

func (o *Orchestrator) finishRun(run *models.CrawlRun, stats *models.RunStats) {
	if run.Status == models.RunStatusRunning {
		run.Status = models.RunStatusFailed
	}
	now := time.Now()
	run.FinishedAt = &now
	run.Seen = stats.Seen
	run.Normalized = stats.Normalized
	run.Uploaded = stats.Uploaded
	run.Committed = stats.Committed
	run.Metadata = stats.ToJSON()

	if o.runLog == nil || run.ID == 0 {
		return
	}
	if err := o.runLog.UpdateRun(run); err != nil {
		log.Printf("Warning: failed to update run %d: %v", run.ID, err)
	}
}

func (o *Orchestrator) log(runID int64, level models.LogLevel, message, source string) {
	log.Printf("[%s] %s: %s", level, source, message)
	if o.runLog == nil || runID == 0 {
		return
	}
	o.runLog.Log(&runID, level, message, source)
}

func logProgress(p Progress) {
	log.Printf("[%s] catalog %d/%d %q: seen=%d ok=%d rate=%.2f uploaded=%d committed=%d",
		genderLabel(p.Women), p.Index, p.Total, p.Catalog.Title,
		p.Stats.Seen, p.Stats.Normalized, p.Stats.SuccessRate(), p.Stats.Uploaded, p.Stats.Committed)
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func outcome(resp *marketplace.Response, err error) string {
	switch {
	case err != nil:
		return "error"
	case resp.OK():
		return "ok"
	default:
		return fmt.Sprintf("%d", resp.StatusCode)
	}
}

func genderLabel(women bool) string {
	if women {
		return "women"
	}
	return "men"
}
