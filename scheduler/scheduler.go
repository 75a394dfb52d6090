package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"vinted_scrooper/config"
)

// Job is one full crawl.
type Job func(ctx context.Context) error

// Scheduler runs a job on a cron expression or a fixed interval, and on
// demand through Trigger. Runs never overlap: a tick that arrives while a
// run is in progress is skipped.
type Scheduler struct {
	cfg    config.SchedulerConfig
	job    Job
	cron   *cron.Cron
	ticker *time.Ticker

	triggerCh chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	running   atomic.Bool
	wg        sync.WaitGroup
}

func New(cfg config.SchedulerConfig, job Job) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		job:       job,
		cron:      cron.New(),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.listen(ctx)

	if s.cfg.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.RunOnce(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.RunOnce(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, daemon will only run when triggered")
	}

	return nil
}

// Trigger asks for a run as soon as possible. Repeated triggers before the
// run starts collapse into one.
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) listen(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.triggerCh:
			log.Println("Crawl triggered manually")
			s.RunOnce(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce runs the job unless a run is already in progress. It reports
// whether the job ran.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		log.Println("Previous crawl still running, skipping")
		return false
	}
	defer s.running.Store(false)

	start := time.Now()
	if err := s.job(ctx); err != nil {
		log.Printf("Scheduled run error: %v", err)
	}
	log.Printf("Scheduled run finished in %s", time.Since(start).Round(time.Second))
	return true
}

// Running reports whether a run is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Stop halts the schedule and waits for a run in progress to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
	s.wg.Wait()
}
