package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iVampireSP/weave/internal/backend"
	"github.com/iVampireSP/weave/internal/backend/astscan"
	"github.com/iVampireSP/weave/internal/backend/tsscan"
	"github.com/iVampireSP/weave/internal/backend/typescan"
	"github.com/iVampireSP/weave/internal/config"
	"github.com/iVampireSP/weave/internal/engine"
	"github.com/iVampireSP/weave/internal/logging"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/watch"
)

var (
	verbose     bool
	dryRun      bool
	backendName string
	dir         string

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "weave",
	Short: "Merge contributed DI modules and bindings at generate time",
	Long: `weave reads //weave: directives, generates binding modules for contributed
bindings and synthesizes the module set of every merge point.

Run without a subcommand to generate.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return err
		}
		root, err := config.FindModuleRoot(dir)
		if err != nil {
			return err
		}
		if cfg, err = config.BuildConfig(root); err != nil {
			return err
		}
		if backendName != "" {
			cfg.Backend = backendName
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger.Debug("config",
			zap.String("module", cfg.Module),
			zap.String("root", cfg.Root),
			zap.String("backend", cfg.Backend))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runGenerate,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate binding modules and merge outputs",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the contributions of the module grouped by scope",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		r, err := newEngine().Scan(ctx)
		if err != nil {
			return err
		}
		printContributions(cmd.OutOrStdout(), r.Contributions(), r.MergePoints())
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Generate, then regenerate whenever sources change",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		e := newEngine()
		run := func(ctx context.Context) error {
			res, err := e.Run(ctx)
			if err != nil {
				return err
			}
			report(cmd.ErrOrStderr(), res)
			return nil
		}
		if err := run(ctx); err != nil {
			logger.Error("generation failed", zap.Error(err))
		}
		return watch.New(cfg.Root, cfg.Exclude, logger).Run(ctx, run)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&backendName, "backend", "b", "", "front end: ast, types or treesitter (default from config)")
	rootCmd.PersistentFlags().StringVarP(&dir, "dir", "C", ".", "directory inside the module to process")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print generated code without writing")

	rootCmd.AddCommand(generateCmd, listCmd, watchCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	e := newEngine()
	e.Out = cmd.OutOrStdout()
	res, err := e.Run(ctx)
	if err != nil {
		return err
	}
	report(cmd.ErrOrStderr(), res)
	return nil
}

func newEngine() *engine.Engine {
	e := engine.New(cfg, newBackend(cfg.Backend, logger), logger)
	e.DryRun = dryRun
	return e
}

func newBackend(name string, log *zap.Logger) backend.Backend {
	switch name {
	case config.BackendTypes:
		return typescan.New(log)
	case config.BackendTreeSitter:
		return tsscan.New(log)
	default:
		return astscan.New(log)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func report(w io.Writer, res *engine.Result) {
	switch {
	case dryRun:
	case res.UpToDate:
		if verbose {
			fmt.Fprintln(w, "weave: up to date")
		}
	default:
		fmt.Fprintf(w, "weave: %d files in %d rounds (%d written, %d removed)\n",
			len(res.Files), res.Rounds, len(res.Written), len(res.Removed))
	}
}

func printContributions(w io.Writer, cs []model.Contribution, mps []model.MergePoint) {
	byScope := make(map[model.Scope][]model.Contribution)
	var scopes []model.Scope
	add := func(s model.Scope) {
		if _, ok := byScope[s]; !ok {
			byScope[s] = nil
			scopes = append(scopes, s)
		}
	}
	for _, c := range cs {
		s := c.GroupScope()
		add(s)
		byScope[s] = append(byScope[s], c)
	}
	points := make(map[model.Scope][]model.MergePoint)
	for _, mp := range mps {
		add(mp.Scope)
		points[mp.Scope] = append(points[mp.Scope], mp)
	}
	model.SortScopes(scopes)

	for _, s := range scopes {
		fmt.Fprintln(w, s)
		for _, mp := range points[s] {
			fmt.Fprintf(w, "  %-24s %s\n", mp.Kind, mp.Decl)
		}
		for _, c := range byScope[s] {
			fmt.Fprintf(w, "  %-24s %s%s\n", c.Kind, c.Type, details(c))
		}
	}
}

func details(c model.Contribution) string {
	var parts []string
	if !c.Bound.IsZero() {
		parts = append(parts, "as "+c.Bound.String())
	}
	if c.Qualifier != nil && !c.IgnoreQualifier {
		parts = append(parts, "qualified "+c.Qualifier.String())
	}
	if c.MapKey != nil {
		parts = append(parts, "key "+c.MapKey.String())
	}
	if c.Kind == model.KindSubcomponent {
		parts = append(parts, "scope "+c.Scope.String())
	}
	if len(c.Replaces) > 0 {
		parts = append(parts, "replaces "+model.Names(c.Replaces))
	}
	if c.Origin.FromHint() {
		parts = append(parts, "from "+c.Origin.Hint)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, "; ") + ")"
}
