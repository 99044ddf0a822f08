// Package cli implements the kvdoc admin command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jacentio/kvdoc/document"
	"github.com/jacentio/kvdoc/internal/config"
	"github.com/jacentio/kvdoc/kv"
	"github.com/jacentio/kvdoc/kv/kvmetrics"
)

const (
	// Version is the release printed by the version command.
	Version = "0.1.0"

	// metricsNamespace prefixes the collectors of --stats.
	metricsNamespace = "kvdoc"
)

// Option configures the root command.
type Option func(*app)

// WithBackend makes every command use b instead of the configured backend.
func WithBackend(b kv.Backend) Option {
	return func(a *app) {
		a.backend = b
	}
}

type app struct {
	backend kv.Backend
}

// NewRootCmd builds the kvdoc command tree.
func NewRootCmd(opts ...Option) *cobra.Command {
	a := &app{}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "kvdoc",
		Short: "inspect and maintain kvdoc stores",
		Long: fmt.Sprintf(`kvdoc (v%s)

Inspect and maintain the ordered key-value stores kvdoc documents live in.
Keys are given as separate segments, e.g. "kvdoc ls users by_id".`, Version),
		SilenceUsage: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		a.getCmd(),
		a.putCmd(),
		a.lsCmd(),
		a.rmCmd(),
		a.purgeCmd(),
		versionCmd(),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kvdoc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kvdoc v%s\n", Version)
		},
	}
}

// session is the state of one command run against a store.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	codec  document.Codec
	conn   kv.Conn
}

// run loads the configuration, opens the backend and a connection, and calls fn.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	v, err := config.New(cmd.Flags())
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	codec, err := document.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	backend, closeBackend := a.backend, func(context.Context) error { return nil }
	if backend == nil {
		backend, closeBackend, err = openBackend(ctx, cfg)
		if err != nil {
			return err
		}
	}
	defer func() {
		if err := closeBackend(context.Background()); err != nil {
			logger.Warn("failed to close backend", "backend", cfg.Backend, "error", err)
		}
	}()
	logger.Debug("backend opened", "backend", cfg.Backend)

	reg := prometheus.NewRegistry()
	collectors := kvmetrics.NewCollectors(metricsNamespace)
	if err := collectors.Register(reg); err != nil {
		return err
	}

	conn, err := kvmetrics.Wrap(backend, collectors).Open(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx, &session{cfg: cfg, logger: logger, codec: codec, conn: conn})
	if cerr := conn.Close(); cerr != nil && err == nil {
		err = cerr
	}

	if cfg.Stats {
		if serr := printStats(cmd.ErrOrStderr(), reg); serr != nil {
			logger.Warn("failed to gather stats", "error", serr)
		}
	}
	return err
}

// printStats writes one line per operation counter gathered from reg.
func printStats(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		if mf.GetName() != metricsNamespace+"_kv_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%s %.0f", strings.Join(labels, " "), m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
