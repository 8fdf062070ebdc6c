package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tdh8316/nameprobe/internal/cli"
	"github.com/tdh8316/nameprobe/internal/config"
	"github.com/tdh8316/nameprobe/internal/data"
	"github.com/tdh8316/nameprobe/internal/httpx"
	"github.com/tdh8316/nameprobe/internal/log"
	"github.com/tdh8316/nameprobe/internal/output"
	"github.com/tdh8316/nameprobe/internal/report"
	"github.com/tdh8316/nameprobe/internal/scan"
	"github.com/tdh8316/nameprobe/internal/server"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type application struct {
	stdout io.Writer
	stderr io.Writer
}

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &application{stdout: stdout, stderr: stderr}
	root := cli.NewRootCommand(stdout, stderr, cli.Actions{
		Check:    a.check,
		Serve:    a.serve,
		Update:   a.update,
		Validate: a.validate,
	})
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, cli.ErrUsage), errors.Is(err, config.ErrInvalid):
		fmt.Fprintf(stderr, "error: %v\n", err)
		fmt.Fprintln(stderr, "run 'nameprobe --help' for usage")
		return exitUsage
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(stderr, "interrupted")
		return exitFailure
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}
}

// env holds what every command needs once options are resolved.
type env struct {
	cfg     config.Config
	log     *logrus.Logger
	client  *http.Client
	printer *output.Printer
}

func (a *application) setup(opts cli.Options) (*env, error) {
	cfg := opts.Config
	color.NoColor = color.NoColor || cfg.NoColor

	format, err := log.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	logger := log.New(a.stderr, log.Options{
		Verbose: cfg.Verbose,
		Format:  format,
		NoColor: cfg.NoColor,
	})
	if opts.ConfigPath != "" {
		logger.WithField("path", opts.ConfigPath).Debug("config loaded")
	}

	client, err := httpx.NewClient(cfg.ClientConfig())
	if err != nil {
		return nil, errors.Wrap(err, "initialize http client")
	}

	return &env{
		cfg:     cfg,
		log:     logger,
		client:  client,
		printer: output.NewPrinter(a.stdout, cfg.NoColor, cfg.Verbose),
	}, nil
}

func (e *env) close() {
	e.client.CloseIdleConnections()
}

func (e *env) scanner() *scan.Scanner {
	return scan.NewScanner(e.client, e.cfg.ScanConfig(), e.log)
}

func (a *application) check(ctx context.Context, opts cli.Options) error {
	e, err := a.setup(opts)
	if err != nil {
		return err
	}
	defer e.close()

	catalog, err := e.loadCatalog(ctx, opts.Download)
	if err != nil {
		return err
	}
	sites := e.selectSites(catalog)

	format, err := report.ParseFormat(e.cfg.Output)
	if err != nil {
		return errors.Wrap(cli.ErrUsage, err.Error())
	}

	username := strings.TrimSpace(opts.Username)
	e.printer.Header(username)
	results, scanErr := e.scanner().ScanUsername(ctx, username, sites, e.printer)
	if scanErr != nil && ctx.Err() == nil {
		return scanErr
	}

	path, err := report.Save(e.cfg.ResultsDir, report.New(username, results), format)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "\nReport saved to %s\n", path)
	return scanErr
}

func (a *application) serve(ctx context.Context, opts cli.Options) error {
	e, err := a.setup(opts)
	if err != nil {
		return err
	}
	defer e.close()

	catalog, err := e.loadCatalog(ctx, opts.Download)
	if err != nil {
		return err
	}
	catalog.Sites = e.selectSites(catalog)

	e.log.WithFields(logrus.Fields{
		"sites": len(catalog.Sites),
		"addr":  e.cfg.Listen,
	}).Info("starting web server")
	return server.New(e.scanner(), catalog, e.log).Run(ctx, e.cfg.Listen)
}

func (a *application) update(ctx context.Context, opts cli.Options) error {
	e, err := a.setup(opts)
	if err != nil {
		return err
	}
	defer e.close()

	e.printer.Info("Downloading sites data from %s", e.cfg.DataURL)
	if err := data.UpdateFromRemote(ctx, e.client, e.cfg.UserAgent, e.cfg.DataURL, e.cfg.DataFile); err != nil {
		return err
	}
	catalog, err := data.LoadSites(e.cfg.DataFile)
	if err != nil {
		return err
	}
	e.printer.Info("Saved %d sites to %s", len(catalog.Sites), e.cfg.DataFile)
	return nil
}

func (a *application) validate(ctx context.Context, opts cli.Options) error {
	e, err := a.setup(opts)
	if err != nil {
		return err
	}
	defer e.close()

	catalog, err := e.loadCatalog(ctx, opts.Download)
	if err != nil {
		return err
	}
	sites := e.selectSites(catalog)

	e.printer.Info("Checking site validity...")
	checked, failed, err := e.scanner().ValidateSites(ctx, sites, func(f scan.ValidationFailure) {
		if f.Result.Status == scan.Error {
			e.printer.Warn("%s: failed with error [%s]", f.Site, f.Result.ErrorDetail)
			return
		}
		e.printer.Warn("%s: not working (%s: expected Taken, result is %s)", f.Site, f.Username, f.Result.Status)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "\n%d of %d checked sites do not recognize their known account.\n", failed, checked)
	return nil
}

// loadCatalog downloads the catalog when it is missing or a refresh is
// requested, falling back to the existing file if the download fails.
func (e *env) loadCatalog(ctx context.Context, refresh bool) (*data.SitesFile, error) {
	path := e.cfg.DataFile
	_, statErr := os.Stat(path)
	exists := statErr == nil

	if refresh || !exists {
		e.printer.Info("Downloading sites data from %s", e.cfg.DataURL)
		err := data.UpdateFromRemote(ctx, e.client, e.cfg.UserAgent, e.cfg.DataURL, path)
		switch {
		case err == nil:
			e.log.WithField("path", path).Debug("catalog downloaded")
		case exists:
			e.printer.Warn("Failed to update sites data: %v (using existing)", err)
		default:
			return nil, errors.Wrap(err, "no site catalog available")
		}
	}
	return data.LoadSites(path)
}

// selectSites applies the --sites patterns. Unknown patterns are reported;
// when nothing matches the whole catalog is used.
func (e *env) selectSites(catalog *data.SitesFile) []data.SiteData {
	if len(e.cfg.Sites) == 0 {
		return catalog.Sites
	}

	selected, unknown, err := data.Filter(catalog.Sites, e.cfg.Sites)
	if err != nil {
		e.printer.Warn("Invalid site pattern: %v; using all sites", err)
		return catalog.Sites
	}
	if len(unknown) > 0 {
		e.printer.Warn("Unknown sites ignored: %s", strings.Join(unknown, ", "))
	}
	if len(selected) == 0 {
		e.printer.Warn("No matching sites found; using all sites.")
		return catalog.Sites
	}
	e.printer.Info("Using %d site(s)", len(selected))
	return selected
}
