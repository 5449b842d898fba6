package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quatton/qwatch/apps/qwatch/internal/request"
	"github.com/quatton/qwatch/apps/qwatch/internal/view"
	"github.com/quatton/qwatch/pkg/qart"
	"github.com/quatton/qwatch/pkg/qlog"
	"github.com/quatton/qwatch/pkg/qrender"
	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qsdk"
	"github.com/quatton/qwatch/pkg/qsdk/qerr"
	"github.com/quatton/qwatch/pkg/qstage"
	"github.com/quatton/qwatch/pkg/qtrack"
)

type runOptions struct {
	file    string
	watch   bool
	raw     string
	compact string
	archive bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run -f request.yaml",
	Short: "Submit a run and follow it to a terminal status",
	Long: `Submit the request in a YAML or JSON file, print each stage transition while
the run progresses and render the outcome once it reaches COMPLETED, FAILED
or DATA_MISSING.

Fields the file leaves out are filled with the defaults the service announces;
fields set to null are sent as null.

Examples:
  # Submit once and wait for the result
  qwatch run -f request.yaml

  # Resubmit every time the file is saved
  qwatch run -f request.yaml --watch

  # Show a bounded view of the imputation artifact afterwards
  qwatch run -f request.yaml --compact imputing

Exit status is 0 for COMPLETED, 3 for DATA_MISSING, 4 for FAILED and 1 when
the run could not be submitted.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.StringVarP(&runOpts.file, "file", "f", "", "request file (YAML or JSON)")
	f.BoolVarP(&runOpts.watch, "watch", "w", false, "resubmit whenever the request file changes")
	f.StringVar(&runOpts.raw, "raw", "", "print the artifact of STAGE verbatim after the run")
	f.StringVar(&runOpts.compact, "compact", "", "print a bounded view of STAGE's artifact after the run")
	f.BoolVar(&runOpts.archive, "archive", false, "upload the finished run to the configured archive")
	_ = runCmd.MarkFlagRequired("file")
	runCmd.MarkFlagsMutuallyExclusive("raw", "compact")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig(cmd)
	if err != nil {
		return err
	}
	logger := GetLogger(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := newTracker(ctx, cfg, logger, cmd.OutOrStdout(), runOpts)
	if err != nil {
		return err
	}
	defer t.ctrl.Close()

	if runOpts.watch {
		return t.watch(ctx)
	}

	req, err := t.load(runOpts.file)
	if err != nil {
		return err
	}
	s, err := t.ctrl.Submit(ctx, *req)
	if err != nil {
		return err
	}
	if err := s.Wait(ctx); err != nil {
		t.ctrl.Close()
		return fmt.Errorf("tracking of run %s stopped: %w", s.RunID, qtrack.ErrClosed)
	}
	return t.finish(ctx, s)
}

// tracker wires the SDK, the artifact store and the controller for one
// invocation of run.
type tracker struct {
	meta    *qrun.Meta
	catalog *qstage.Catalog
	store   *qart.Store
	ctrl    *qtrack.Controller
	archive qart.Archive
	out     io.Writer
	logger  *qlog.Logger
	opts    runOptions
	limits  qart.Limits
}

func newTracker(ctx context.Context, cfg *qsdk.Config, logger *qlog.Logger, out io.Writer, opts runOptions) (*tracker, error) {
	sdk, err := qsdk.NewSdk(cfg)
	if err != nil {
		return nil, err
	}

	meta, err := sdk.Client.GetMeta(ctx)
	if err != nil {
		if cfg.Variant == "" {
			return nil, qerr.New(qerr.CodeSubmissionFailed, fmt.Errorf("reading service meta: %w", err))
		}
		logger.Warn("service meta unavailable, using configured variant", "variant", cfg.Variant, "error", err)
		meta = nil
	}

	catalog, err := sdk.Catalog(meta)
	if err != nil {
		return nil, err
	}
	if meta != nil && meta.Variant != "" && meta.Variant != catalog.Variant {
		logger.Warn("configured variant differs from the service", "configured", catalog.Variant, "service", meta.Variant)
	}

	t := &tracker{
		meta:    meta,
		catalog: catalog,
		out:     out,
		logger:  logger,
		opts:    opts,
		limits:  cfg.Compact,
	}
	t.store = qart.NewStore(catalog, qart.WithLimits(cfg.Compact))
	t.ctrl = qtrack.New(sdk.Client, t.store,
		qtrack.WithInterval(cfg.PollInterval),
		qtrack.WithLogger(logger),
		qtrack.WithObserver(view.New(out, catalog)),
	)

	if opts.archive || cfg.Archive.Enabled {
		a, err := cfg.OpenArchive()
		if err != nil {
			return nil, fmt.Errorf("opening %s archive: %w", cfg.Archive.Backend, err)
		}
		if err := a.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("preparing %s archive: %w", cfg.Archive.Backend, err)
		}
		t.archive = a
	}
	return t, nil
}

// load reads the request file and fills in the service defaults.
func (t *tracker) load(path string) (*qrun.SubmitRequest, error) {
	req, err := request.Load(path)
	if err != nil {
		return nil, err
	}
	request.ApplyDefaults(req, t.meta)
	if unknown := request.UnknownFields(req, t.meta); len(unknown) > 0 {
		t.logger.Warn("request carries fields the model does not declare", "fields", unknown)
	}
	return req, nil
}

// finish renders a closed session and returns its outcome.
func (t *tracker) finish(ctx context.Context, s *qtrack.Session) error {
	run := s.Last()
	outcome := s.Err()

	var opts []qrender.Option
	if qerr.IsCode(outcome, qerr.CodePollTransport) {
		cause := errors.Unwrap(outcome)
		if cause == nil {
			cause = outcome
		}
		opts = append(opts, qrender.WithTransportError(cause))
	}

	out, err := qrender.Render(run, t.catalog, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintln(t.out)
	if _, err := t.out.Write(out); err != nil {
		return err
	}

	if key, mode := t.projection(); key != "" {
		t.printProjection(run, key, mode)
	}

	if t.archive != nil {
		if err := t.archiveRun(ctx, run, out); err != nil {
			t.logger.Error("archiving run failed", "run_id", run.RunID, "error", err)
		}
	}
	return outcome
}

func (t *tracker) projection() (string, qart.Mode) {
	if t.opts.raw != "" {
		return t.opts.raw, qart.ProjectRaw
	}
	return t.opts.compact, qart.ProjectCompact
}

// printProjection projects from a store holding only run, so a newer
// submission in watch mode cannot change what is printed.
func (t *tracker) printProjection(run *qrun.Run, key string, mode qart.Mode) {
	store := qart.NewStore(t.catalog, qart.WithLimits(t.limits))
	store.Begin(run.RunID)
	store.Ingest(run)

	data, err := store.Project(key, mode)
	if err != nil {
		fmt.Fprintf(t.out, "\nArtifact %s: %v\n", key, err)
		return
	}
	fmt.Fprintf(t.out, "\nArtifact %s\n%s\n", key, data)
}

func (t *tracker) archiveRun(ctx context.Context, run *qrun.Run, summary []byte) error {
	files := []qart.File{{Name: "summary.txt", ContentType: "text/plain; charset=utf-8", Data: summary}}
	for _, ov := range qrender.Overlays(run, t.catalog) {
		files = append(files, qart.File{
			Name:        fmt.Sprintf("overlays/%s-%s.%s", ov.Stage, ov.Name, ov.Format),
			ContentType: ov.ContentType(),
			Data:        ov.Data,
		})
	}
	objects, err := qart.ArchiveRun(ctx, t.archive, run, files...)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "\nArchived %d objects under %s\n", len(objects), qart.RunPrefix(run.RunID))
	return nil
}

// watch submits the request file and resubmits it on every change until ctx
// ends. Each submission supersedes the previous run.
func (t *tracker) watch(ctx context.Context) error {
	w, err := request.NewWatcher(t.opts.file)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(ctx)
	})
	g.Go(func() error {
		defer t.ctrl.Close()

		req, err := t.load(t.opts.file)
		if err != nil {
			t.logger.Warn("request file unreadable, waiting for changes", "path", t.opts.file, "error", err)
		} else {
			t.submit(ctx, g, req)
		}

		for ev := range w.Events() {
			if ev.Error != nil {
				t.logger.Warn("request file unreadable", "path", ev.Path, "error", ev.Error)
				continue
			}
			request.ApplyDefaults(ev.Request, t.meta)
			t.logger.Info("request changed, resubmitting", "path", ev.Path)
			t.submit(ctx, g, ev.Request)
		}
		return nil
	})
	fmt.Fprintf(t.out, "Watching %s (Ctrl-C to stop)\n", t.opts.file)
	return g.Wait()
}

// submit starts a run in watch mode. Failures are logged, never returned, so
// the next edit can try again.
func (t *tracker) submit(ctx context.Context, g *errgroup.Group, req *qrun.SubmitRequest) {
	s, err := t.ctrl.Submit(ctx, *req)
	if err != nil {
		if !qerr.IsCode(err, qerr.CodeSuperseded) && !errors.Is(err, qtrack.ErrClosed) {
			t.logger.Error("submission failed", "error", err)
		}
		return
	}
	g.Go(func() error {
		<-s.Done()
		outcome := s.Err()
		if qerr.IsCode(outcome, qerr.CodeSuperseded) || errors.Is(outcome, qtrack.ErrClosed) {
			return nil
		}
		if err := t.finish(ctx, s); err != nil && exitCode(err) == ExitError {
			t.logger.Error("rendering run failed", "run_id", s.RunID, "error", err)
		}
		return nil
	})
}
