package scan

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tdh8316/nameprobe/internal/data"
	"github.com/tdh8316/nameprobe/internal/httpx"
	"github.com/tdh8316/nameprobe/internal/progress"
)

var (
	ErrEmptyUsername = errors.New("username must not be empty")
	ErrConcurrency   = errors.Errorf("concurrency must be between 1 and %d", MaxConcurrency)
	ErrStrategy      = errors.New("unknown scan strategy")
)

func (c Config) Validate() error {
	if c.Concurrency < 1 || c.Concurrency > MaxConcurrency {
		return errors.Wrapf(ErrConcurrency, "got %d", c.Concurrency)
	}
	switch c.Strategy {
	case StrategyBatch, StrategyPool:
	default:
		return errors.Wrapf(ErrStrategy, "%q", c.Strategy)
	}
	if c.ProbeTimeout <= 0 {
		return errors.New("probe timeout must be positive")
	}
	return nil
}

type Scanner struct {
	client httpx.Doer
	cfg    Config
	log    logrus.FieldLogger
}

// NewScanner fills unset timing and size settings with their defaults; the
// concurrency limit and strategy are validated when a scan starts.
func NewScanner(client httpx.Doer, cfg Config, logger logrus.FieldLogger) *Scanner {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyBatch
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = httpx.DefaultUserAgent
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Scanner{
		client: client,
		cfg:    cfg,
		log:    logger,
	}
}

// ScanUsername probes every site once and returns the results in completion
// order. Progress goes to sink, which may be nil. Only invalid parameters
// produce an error before probing; a cancelled ctx turns the remaining probes
// into Error results and is returned alongside them.
func (s *Scanner) ScanUsername(ctx context.Context, username string, sites []data.SiteData, sink progress.Sink) ([]Result, error) {
	if strings.TrimSpace(username) == "" {
		return nil, ErrEmptyUsername
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	t := &tracker{
		total:   len(sites),
		results: make([]Result, 0, len(sites)),
		sink:    sink,
		log: s.log.WithFields(logrus.Fields{
			"run_id":   uuid.NewString(),
			"username": username,
		}),
	}
	if t.sink == nil {
		t.sink = progress.Nop
		t.echo = true
	}

	t.log.WithFields(logrus.Fields{
		"sites":       len(sites),
		"concurrency": s.cfg.Concurrency,
		"strategy":    s.cfg.Strategy,
	}).Debug("scan started")
	start := time.Now()

	switch s.cfg.Strategy {
	case StrategyPool:
		s.runPool(ctx, username, sites, t)
	default:
		s.runBatches(ctx, username, sites, t)
	}

	t.sink.Emit(ctx, progress.Completion{Total: t.total})
	t.log.WithFields(logrus.Fields{
		"taken":   t.taken,
		"errors":  t.errors,
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Debug("scan finished")

	return t.results, ctx.Err()
}

// runBatches splits sites into consecutive batches of Concurrency probes.
// A batch starts only after every probe of the previous one has finished and
// the batch pause has elapsed.
func (s *Scanner) runBatches(ctx context.Context, username string, sites []data.SiteData, t *tracker) {
	size := s.cfg.Concurrency
	for start := 0; start < len(sites); start += size {
		if start > 0 {
			sleep(ctx, s.cfg.BatchPause)
		}
		batch := sites[start:min(start+size, len(sites))]

		done := make(chan Result, len(batch))
		var g errgroup.Group
		for _, sd := range batch {
			g.Go(func() error {
				done <- s.Probe(ctx, username, sd)
				return nil
			})
		}
		for range batch {
			t.record(ctx, <-done)
		}
		_ = g.Wait()
	}
}

// runPool keeps up to Concurrency probes in flight without batch barriers.
func (s *Scanner) runPool(ctx context.Context, username string, sites []data.SiteData, t *tracker) {
	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	done := make(chan Result, s.cfg.Concurrency)

	go func() {
		var wg sync.WaitGroup
		defer close(done)
		for _, sd := range sites {
			if err := sem.Acquire(ctx, 1); err != nil {
				// Cancelled: the probe fails fast and still yields a result.
				done <- s.Probe(ctx, username, sd)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				done <- s.Probe(ctx, username, sd)
			}()
		}
		wg.Wait()
	}()

	for res := range done {
		t.record(ctx, res)
	}
}

// tracker accumulates results; it is only touched by the coordinating
// goroutine.
type tracker struct {
	total     int
	completed int
	taken     int
	errors    int
	results   []Result

	sink progress.Sink
	echo bool
	log  logrus.FieldLogger
}

func (t *tracker) record(ctx context.Context, res Result) {
	t.completed++
	t.results = append(t.results, res)
	switch res.Status {
	case Taken:
		t.taken++
	case Error:
		t.errors++
	}

	t.sink.Emit(ctx, progress.Update{
		Site:      res.Site,
		Status:    res.Status.String(),
		URL:       res.URL,
		LogoURL:   res.LogoURL,
		Error:     res.ErrorDetail,
		IsTaken:   res.IsTaken(),
		Completed: t.completed,
		Total:     t.total,
	})

	if t.echo {
		entry := t.log.WithFields(logrus.Fields{
			"site":   res.Site,
			"status": res.Status.String(),
			"url":    res.URL,
		})
		if res.Status == Error {
			entry.WithField("error", res.ErrorDetail).Warn("probe failed")
		} else {
			entry.Info("probe finished")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
