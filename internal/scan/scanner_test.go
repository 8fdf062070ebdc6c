package scan_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/tdh8316/nameprobe/internal/data"
	"github.com/tdh8316/nameprobe/internal/progress"
	"github.com/tdh8316/nameprobe/internal/scan"
)

func config(p int, strategy scan.Strategy) scan.Config {
	cfg := scan.DefaultConfig()
	cfg.Concurrency = p
	cfg.Strategy = strategy
	return cfg
}

func TestScanUsernameResultsAndEvents(t *testing.T) {
	t.Parallel()

	for _, strategy := range []scan.Strategy{scan.StrategyBatch, scan.StrategyPool} {
		for _, n := range []int{0, 1, 5, 23} {
			for _, p := range []int{1, 4, 99} {
				synctest.Test(t, func(t *testing.T) {
					catalog := sites(n)
					routes := map[string]route{}
					for i, sd := range catalog {
						routes[sd.URLFor("alice")] = route{
							status: 200,
							body:   "profile of alice",
							delay:  time.Duration((i*7)%5+1) * time.Millisecond,
						}
					}
					doer := newFakeDoer(routes)
					scanner := scan.NewScanner(doer, config(p, strategy), nullLogger())
					rec := &recorder{}

					results, err := scanner.ScanUsername(t.Context(), "alice", catalog, rec)
					require.NoError(t, err)
					require.Len(t, results, n)

					seen := map[string]bool{}
					for _, res := range results {
						require.False(t, seen[res.Site], "duplicate %s", res.Site)
						seen[res.Site] = true
						require.Equal(t, scan.Taken, res.Status)
					}
					for _, sd := range catalog {
						require.True(t, seen[sd.Name], "missing %s", sd.Name)
					}

					require.Len(t, rec.events, n+1)
					for i, ev := range rec.events[:n] {
						u, ok := ev.(progress.Update)
						require.True(t, ok)
						require.Equal(t, i+1, u.Completed)
						require.Equal(t, n, u.Total)
						require.True(t, u.IsTaken)
						require.Equal(t, results[i].Site, u.Site, "events follow result order")
					}
					require.Equal(t, progress.Completion{Total: n}, rec.events[n])
					require.LessOrEqual(t, doer.maxInFlight, p)
				})
			}
		}
	}
}

func TestScanUsernameBatchBarrier(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		catalog := sites(7)
		delays := []time.Duration{30, 10, 20, 5, 50, 8, 10}
		routes := map[string]route{}
		for i, sd := range catalog {
			routes[sd.URLFor("alice")] = route{status: 404, body: "not found", delay: delays[i] * time.Millisecond}
		}
		doer := newFakeDoer(routes)
		scanner := scan.NewScanner(doer, config(3, scan.StrategyBatch), nullLogger())

		start := time.Now()
		results, err := scanner.ScanUsername(t.Context(), "alice", catalog, nil)
		require.NoError(t, err)
		require.Len(t, results, 7)

		// each batch waits for its slowest probe, then pauses before the next
		require.Equal(t, (30+50+10)*time.Millisecond+2*scan.DefaultBatchPause, time.Since(start))

		batches := [][]data.SiteData{catalog[0:3], catalog[3:6], catalog[6:7]}
		for k := 1; k < len(batches); k++ {
			var prevEnd time.Time
			for _, sd := range batches[k-1] {
				if end := doer.ends[sd.URLFor("alice")]; end.After(prevEnd) {
					prevEnd = end
				}
			}
			for _, sd := range batches[k] {
				started := doer.starts[sd.URLFor("alice")]
				require.False(t, started.Before(prevEnd.Add(scan.DefaultBatchPause)),
					"%s started before batch %d finished", sd.Name, k-1)
			}
		}

		// completion order inside a batch, batch order across batches
		var names []string
		for _, res := range results {
			names = append(names, res.Site)
		}
		require.Equal(t, []string{
			"Site01", "Site02", "Site00",
			"Site03", "Site05", "Site04",
			"Site06",
		}, names)
	})
}

func TestScanUsernamePoolHasNoBarrier(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		catalog := sites(7)
		delays := []time.Duration{30, 10, 20, 5, 50, 8, 10}
		routes := map[string]route{}
		for i, sd := range catalog {
			routes[sd.URLFor("alice")] = route{status: 404, body: "not found", delay: delays[i] * time.Millisecond}
		}
		doer := newFakeDoer(routes)
		scanner := scan.NewScanner(doer, config(3, scan.StrategyPool), nullLogger())

		start := time.Now()
		results, err := scanner.ScanUsername(t.Context(), "alice", catalog, nil)
		require.NoError(t, err)
		require.Len(t, results, 7)
		require.Equal(t, 3, doer.maxInFlight)
		require.Less(t, time.Since(start), (30+50+10)*time.Millisecond)
	})
}

func TestScanUsernameProbeFailure(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		catalog := sites(4)
		routes := map[string]route{}
		for _, sd := range catalog {
			routes[sd.URLFor("alice")] = route{status: 200, body: "profile of alice", delay: time.Millisecond}
		}
		routes[catalog[1].URLFor("alice")] = route{err: errors.New("dial tcp: lookup site01.test: no such host")}
		routes[catalog[2].URLFor("alice")] = route{status: 200, delay: time.Hour}

		doer := newFakeDoer(routes)
		scanner := scan.NewScanner(doer, config(4, scan.StrategyBatch), nullLogger())
		rec := &recorder{}

		results, err := scanner.ScanUsername(t.Context(), "alice", catalog, rec)
		require.NoError(t, err)
		require.Len(t, results, 4)
		require.Len(t, rec.events, 5)

		byName := map[string]scan.Result{}
		for _, res := range results {
			byName[res.Site] = res
		}
		require.Equal(t, scan.Taken, byName["Site00"].Status)
		require.Equal(t, scan.Taken, byName["Site03"].Status)

		require.Equal(t, scan.Error, byName["Site01"].Status)
		require.Contains(t, byName["Site01"].ErrorDetail, "no such host")

		require.Equal(t, scan.Error, byName["Site02"].Status)
		require.Contains(t, byName["Site02"].ErrorDetail, context.DeadlineExceeded.Error())
	})
}

func TestScanUsernameInvalidParameters(t *testing.T) {
	t.Parallel()
	doer := newFakeDoer(nil)
	catalog := sites(3)

	_, err := scan.NewScanner(doer, config(4, scan.StrategyBatch), nullLogger()).
		ScanUsername(t.Context(), " ", catalog, nil)
	require.ErrorIs(t, err, scan.ErrEmptyUsername)

	for _, p := range []int{0, -1, 100} {
		_, err := scan.NewScanner(doer, config(p, scan.StrategyBatch), nullLogger()).
			ScanUsername(t.Context(), "alice", catalog, nil)
		require.ErrorIs(t, err, scan.ErrConcurrency)
	}

	_, err = scan.NewScanner(doer, config(4, "random"), nullLogger()).
		ScanUsername(t.Context(), "alice", catalog, nil)
	require.ErrorIs(t, err, scan.ErrStrategy)

	require.Zero(t, doer.callCount(), "no request before validation")
}

func TestScanUsernameWithoutSinkLogsResults(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		catalog := sites(3)
		routes := map[string]route{
			catalog[0].URLFor("bob"): {status: 200, body: "profile of bob"},
			catalog[1].URLFor("bob"): {err: errors.New("connection reset")},
		}
		logger, hook := test.NewNullLogger()
		scanner := scan.NewScanner(newFakeDoer(routes), config(2, scan.StrategyBatch), logger)

		results, err := scanner.ScanUsername(t.Context(), "bob", catalog, nil)
		require.NoError(t, err)
		require.Len(t, results, 3)

		var infos, warns int
		for _, e := range hook.AllEntries() {
			switch e.Level {
			case logrus.InfoLevel:
				infos++
				require.Equal(t, "bob", e.Data["username"])
				require.NotEmpty(t, e.Data["run_id"])
			case logrus.WarnLevel:
				warns++
				require.Equal(t, "connection reset", e.Data["error"])
			}
		}
		require.Equal(t, 2, infos)
		require.Equal(t, 1, warns)
	})
}

func TestScanUsernameCancelled(t *testing.T) {
	t.Parallel()
	for _, strategy := range []scan.Strategy{scan.StrategyBatch, scan.StrategyPool} {
		t.Run(string(strategy), func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				catalog := sites(5)
				doer := newFakeDoer(nil)
				scanner := scan.NewScanner(doer, config(2, strategy), nullLogger())

				ctx, cancel := context.WithCancel(t.Context())
				cancel()
				rec := &recorder{}
				results, err := scanner.ScanUsername(ctx, "alice", catalog, rec)
				require.ErrorIs(t, err, context.Canceled)
				require.Len(t, results, 5)
				for _, res := range results {
					require.Equal(t, scan.Error, res.Status)
					require.NotEmpty(t, res.ErrorDetail)
				}
				require.Len(t, rec.events, 6)
			})
		})
	}
}

func TestValidateSites(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		good := site("Good")
		good.Known = []string{"alice", "bob"}
		bad := site("Bad")
		bad.Known = []string{"carol"}
		unknown := site("NoKnown")

		routes := map[string]route{
			good.URLFor("alice"): {status: 200, body: "profile of alice"},
			bad.URLFor("carol"):  {status: 404, body: "not found"},
		}
		doer := newFakeDoer(routes)
		scanner := scan.NewScanner(doer, config(2, scan.StrategyBatch), nullLogger())

		var failures []scan.ValidationFailure
		checked, failed, err := scanner.ValidateSites(t.Context(), []data.SiteData{good, bad, unknown}, func(f scan.ValidationFailure) {
			failures = append(failures, f)
		})
		require.NoError(t, err)
		require.Equal(t, 2, checked)
		require.Equal(t, 1, failed)
		require.Len(t, failures, 1)
		require.Equal(t, "Bad", failures[0].Site)
		require.Equal(t, "carol", failures[0].Username)
		require.Equal(t, scan.Available, failures[0].Result.Status)
		require.Equal(t, 2, doer.callCount())

		_, _, err = scanner.ValidateSites(t.Context(), nil, nil)
		require.Error(t, err)
	})
}
