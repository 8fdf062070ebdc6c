package scan

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tdh8316/nameprobe/internal/data"
)

// ValidateSites probes each site with its first known account and reports the
// sites that do not classify it as Taken. Sites without known accounts are
// skipped. It returns the number of sites checked and the number that failed.
func (s *Scanner) ValidateSites(
	ctx context.Context,
	sites []data.SiteData,
	onFailure func(ValidationFailure),
) (int, int, error) {
	if onFailure == nil {
		return 0, 0, errors.New("onFailure callback is nil")
	}
	if err := s.cfg.Validate(); err != nil {
		return 0, 0, err
	}

	var checkable []data.SiteData
	for _, sd := range sites {
		if len(sd.Known) > 0 && sd.Known[0] != "" {
			checkable = append(checkable, sd)
		}
	}
	if len(checkable) == 0 {
		return 0, 0, nil
	}

	failures := make(chan ValidationFailure, s.cfg.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	go func() {
		defer close(failures)
		for _, sd := range checkable {
			g.Go(func() error {
				username := sd.Known[0]
				res := s.Probe(gctx, username, sd)
				if res.Status != Taken {
					failures <- ValidationFailure{Site: sd.Name, Username: username, Result: res}
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	count := 0
	for f := range failures {
		count++
		onFailure(f)
	}

	return len(checkable), count, ctx.Err()
}
