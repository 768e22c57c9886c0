package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/pickabook/pickabook-agent/internal/config"
	"github.com/pickabook/pickabook-agent/internal/logging"
	"github.com/pickabook/pickabook-agent/internal/processing"
	"github.com/pickabook/pickabook-agent/internal/stages"
	"github.com/pickabook/pickabook-agent/internal/upload"
	"github.com/pickabook/pickabook-agent/internal/viewer"
	"github.com/pickabook/pickabook-agent/internal/workflow"
)

const stubPendingPolls = 2

type runOptions struct {
	outDir       string
	serviceURL   string
	stageDelay   time.Duration
	pollInterval time.Duration
	stub         bool
	logLevel     string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Upload a photo, show progress and save the illustration",
		Long: `Uploads a PNG, JPEG or WebP photo to the processing service, shows the
four-step tracker while the style transfer runs and saves the finished
illustration as ` + viewer.DownloadFilename + ` in the output directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImage(cmd, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.outDir, "out", "o", ".", "directory the illustration is saved to")
	f.StringVar(&opts.serviceURL, "service-url", config.DefaultServiceURL, "processing service base URL")
	f.DurationVar(&opts.stageDelay, "stage-delay", config.DefaultStageDelay, "time each progress step is shown")
	f.DurationVar(&opts.pollInterval, "poll-interval", config.DefaultPollInterval, "time between result polls")
	f.BoolVar(&opts.stub, "stub", false, "use the in-process processing stub")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")
	return cmd
}

// applyConfig fills every flag the user left unset from the environment
// configuration.
func (o *runOptions) applyConfig(cmd *cobra.Command, cfg config.Config) {
	flags := cmd.Flags()
	if !flags.Changed("service-url") {
		o.serviceURL = cfg.ServiceURL()
	}
	if !flags.Changed("stage-delay") {
		o.stageDelay = cfg.StageDelay()
	}
	if !flags.Changed("poll-interval") {
		o.pollInterval = cfg.PollInterval()
	}
	if !flags.Changed("stub") {
		o.stub = cfg.StubService()
	}
}

func runImage(cmd *cobra.Command, opts *runOptions, path string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	opts.applyConfig(cmd, cfg)

	logger := logging.NewLoggerTo(cmd.ErrOrStderr(), opts.logLevel)
	client := newClient(opts, cfg, logger)

	widget := upload.NewWidget(upload.WidgetConfig{
		MaxBytes: cfg.MaxUploadBytes(),
		Logger:   logging.WithComponent(logger, "upload"),
	})
	img, err := widget.AcceptPath(path)
	if err != nil {
		if errors.Is(err, upload.ErrRejected) {
			return fmt.Errorf("%s cannot be used: %w", path, err)
		}
		return err
	}

	controller := workflow.New(workflow.Config{
		Client:   client,
		Acceptor: widget,
		Notifier: workflow.NotifierFunc(func(n workflow.Notification) {
			fmt.Fprintf(out, "%s: %s\n", n.Title, n.Description)
		}),
		StageDelay:   opts.stageDelay,
		PollInterval: opts.pollInterval,
		Logger:       logger,
	})
	defer controller.Close()

	p := &progressPrinter{w: out}
	unsubscribe := controller.Subscribe(p.print)

	fmt.Fprintf(out, "Uploading %s to %s\n", img.Name, logging.SanitizeURL(opts.serviceURL))
	if err := controller.Submit(img); err != nil {
		unsubscribe()
		return err
	}

	final, err := controller.Wait(ctx)
	unsubscribe()
	if err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	if p.err != nil {
		return p.err
	}

	switch s := final.(type) {
	case *workflow.Completed:
		dest, err := viewer.Save(ctx, client, s.ResultURL, opts.outDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved %s\n", dest)
		return nil
	case *workflow.Failed:
		return fmt.Errorf("%s failed: %w", s.Kind, s.Err)
	default:
		return fmt.Errorf("run ended in %s", final.Phase())
	}
}

func newClient(opts *runOptions, cfg config.Config, logger *slog.Logger) processing.Client {
	logger = logging.WithComponent(logger, "processing")
	if opts.stub {
		return processing.NewStubClient(opts.serviceURL, stubPendingPolls, logger)
	}
	return processing.NewHTTPClient(opts.serviceURL, cfg.RequestTimeout(), logger)
}

// progressPrinter writes the tracker each time it changes. Poll attempts
// alone do not reprint it. The first write error stops further output and is
// kept in err.
type progressPrinter struct {
	w    io.Writer
	last string
	err  error
}

func (p *progressPrinter) print(s workflow.State) {
	list := workflow.StagesOf(s)
	if p.err != nil || len(list) == 0 {
		return
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "-- %s --\n", s.Phase())
	if err := stages.RenderText(&buf, stages.Render(list, stages.Current(list))); err != nil {
		p.err = fmt.Errorf("render progress: %w", err)
		return
	}

	text := buf.String()
	if text == p.last {
		return
	}
	p.last = text
	if _, err := io.WriteString(p.w, text); err != nil {
		p.err = fmt.Errorf("write progress: %w", err)
	}
}
