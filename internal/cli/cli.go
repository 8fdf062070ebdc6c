package cli

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tdh8316/nameprobe/internal/config"
)

// ErrUsage marks errors caused by bad arguments or flags.
var ErrUsage = errors.New("usage error")

type Options struct {
	Config     config.Config
	ConfigPath string

	Username string
	// Download refreshes the catalog before running.
	Download bool
}

// Actions are the operations behind the commands.
type Actions struct {
	Check    func(ctx context.Context, opts Options) error
	Serve    func(ctx context.Context, opts Options) error
	Update   func(ctx context.Context, opts Options) error
	Validate func(ctx context.Context, opts Options) error
}

type flagValues struct {
	configPath string
	username   string
	download   bool

	dataFile   string
	output     string
	threads    int
	strategy   string
	sites      []string
	timeout    time.Duration
	resultsDir string
	tor        bool
	noColor    bool
	verbose    bool
	listen     string
	logFormat  string
}

type usageError struct{ err error }

func (e usageError) Error() string        { return e.err.Error() }
func (e usageError) Unwrap() error        { return e.err }
func (e usageError) Is(target error) bool { return target == ErrUsage }

func usageErr(err error) error {
	return usageError{err: err}
}

func args(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, a []string) error {
		if err := check(cmd, a); err != nil {
			return usageErr(err)
		}
		return nil
	}
}

func NewRootCommand(stdout, stderr io.Writer, actions Actions) *cobra.Command {
	var fv flagValues
	var opts Options

	root := &cobra.Command{
		Use:   "nameprobe [flags] [USERNAME]",
		Short: "Check username availability across social sites",
		Long: "nameprobe probes every site of a WhatsMyName style catalog for a username\n" +
			"and reports whether it is taken, available or could not be checked.",
		Args:          args(cobra.MaximumNArgs(1)),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			o, err := resolve(cmd, fv)
			if err != nil {
				return err
			}
			opts = o
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if fv.username != "" && fv.username != args[0] {
					return usageErr(errors.New("username given both as argument and with -u"))
				}
				opts.Username = args[0]
			}
			if opts.Config.Output == "web" {
				return actions.Serve(cmd.Context(), opts)
			}
			if strings.TrimSpace(opts.Username) == "" {
				return usageErr(errors.New("a username is required (positional or -u)"))
			}
			return actions.Check(cmd.Context(), opts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErr(err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&fv.configPath, "config", "", "config file (default $"+config.EnvFile+" or ./"+config.DefaultFile+")")
	pf.StringVarP(&fv.dataFile, "file", "f", config.DefaultDataFile, "site catalog file")
	pf.IntVarP(&fv.threads, "threads", "t", config.DefaultThreads, "probes in flight at once (1-99)")
	pf.StringVar(&fv.strategy, "strategy", "batch", "scheduling strategy: batch or pool")
	pf.StringSliceVar(&fv.sites, "sites", nil, "only probe sites matching these names or patterns")
	pf.DurationVar(&fv.timeout, "timeout", config.DefaultProbeTimeout, "per-probe timeout")
	pf.BoolVar(&fv.tor, "tor", false, "route probes through the tor socks proxy")
	pf.BoolVar(&fv.noColor, "no-color", false, "disable colored output")
	pf.BoolVar(&fv.verbose, "verbose", false, "verbose output and debug logging")
	pf.StringVar(&fv.listen, "listen", config.DefaultListenAddr, "web server listen address")
	pf.StringVar(&fv.logFormat, "log-format", "text", "log format: text or json")

	f := root.Flags()
	f.StringVarP(&fv.username, "username", "u", "", "username to check")
	f.StringVarP(&fv.output, "output", "o", config.DefaultOutput, "report format: txt, json or web")
	f.BoolVarP(&fv.download, "download", "d", false, "download the latest site catalog before running")
	f.StringVar(&fv.resultsDir, "results", config.DefaultResultsDir, "directory for report files")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the web server streaming scan progress over websockets",
			Args:  args(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, _ []string) error {
				return actions.Serve(cmd.Context(), opts)
			},
		},
		&cobra.Command{
			Use:   "update",
			Short: "Download the latest site catalog",
			Args:  args(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, _ []string) error {
				return actions.Update(cmd.Context(), opts)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Probe every site with a known account and list the sites that misclassify it",
			Args:  args(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, _ []string) error {
				return actions.Validate(cmd.Context(), opts)
			},
		},
		versionCommand(),
	)
	for _, c := range root.Commands() {
		c.SilenceUsage = true
	}
	return root
}

// resolve layers defaults, the config file and explicitly set flags.
func resolve(cmd *cobra.Command, fv flagValues) (Options, error) {
	path := config.Resolve(fv.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return Options{}, usageErr(err)
	}

	set := func(name string, apply func()) {
		if changed(cmd.Flags(), name) {
			apply()
		}
	}
	set("file", func() { cfg.DataFile = fv.dataFile })
	set("threads", func() { cfg.Threads = fv.threads })
	set("strategy", func() { cfg.Strategy = fv.strategy })
	set("sites", func() { cfg.Sites = fv.sites })
	set("timeout", func() { cfg.Timeout = fv.timeout })
	set("tor", func() { cfg.Tor = fv.tor })
	set("no-color", func() { cfg.NoColor = fv.noColor })
	set("verbose", func() { cfg.Verbose = fv.verbose })
	set("listen", func() { cfg.Listen = fv.listen })
	set("log-format", func() { cfg.LogFormat = fv.logFormat })
	set("output", func() { cfg.Output = strings.ToLower(fv.output) })
	set("results", func() { cfg.ResultsDir = fv.resultsDir })

	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}

	return Options{
		Config:     cfg,
		ConfigPath: path,
		Username:   fv.username,
		Download:   fv.download,
	}, nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  args(cobra.NoArgs),
		// skips config loading
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			info, ok := debug.ReadBuildInfo()
			if !ok {
				fmt.Fprintln(out, "nameprobe: version info not available")
				return
			}
			fmt.Fprintf(out, "nameprobe: %s\n", info.Main.Version)
			fmt.Fprintf(out, "go:        %s\n", info.GoVersion)
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					fmt.Fprintf(out, "commit:    %s\n", s.Value)
				case "vcs.time":
					fmt.Fprintf(out, "date:      %s\n", s.Value)
				}
			}
		},
	}
}

// changed reports whether the named flag was set on the command line.
func changed(fs *pflag.FlagSet, name string) bool {
	fl := fs.Lookup(name)
	return fl != nil && fl.Changed
}
