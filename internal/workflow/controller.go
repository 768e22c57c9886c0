// Package workflow drives one image through the processing service:
// upload, a cosmetic progress simulation, then result polling until the
// task reaches a terminal status.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pickabook/pickabook-agent/internal/history"
	"github.com/pickabook/pickabook-agent/internal/logging"
	"github.com/pickabook/pickabook-agent/internal/metrics"
	"github.com/pickabook/pickabook-agent/internal/processing"
	"github.com/pickabook/pickabook-agent/internal/stages"
	"github.com/pickabook/pickabook-agent/internal/upload"
)

var (
	ErrNotCompleted = errors.New("no completed result to regenerate")
	ErrClosed       = errors.New("workflow controller closed")
	ErrNoImage      = errors.New("no image")

	errServiceFailed = errors.New("processing service reported failure")
)

// RegenerateName is the file name used when a stored image is re-uploaded.
const RegenerateName = "image.png"

const recordTimeout = 5 * time.Second

// Recorder persists run outcomes.
type Recorder interface {
	RecordStart(ctx context.Context, run *history.Run) error
	RecordTask(ctx context.Context, runID, taskID string) error
	RecordFinish(ctx context.Context, runID, status, resultURL, errMsg string) error
}

// Acceptor turns raw files into images; the upload widget implements it.
type Acceptor interface {
	Accept(files []upload.File) (*upload.Image, error)
}

type Config struct {
	Client       processing.Client
	Acceptor     Acceptor
	Notifier     Notifier
	Recorder     Recorder
	StageDelay   time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Controller owns the workflow state. At most one run is live; a new Submit
// or a Reset cancels it and its late results are discarded.
type Controller struct {
	client       processing.Client
	acceptor     Acceptor
	notifier     Notifier
	recorder     Recorder
	stageDelay   time.Duration
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	// emitMu keeps observer calls in transition order.
	emitMu    sync.Mutex
	observers map[int]func(State)
	nextObs   int
}

func New(cfg Config) *Controller {
	stageDelay := cfg.StageDelay
	if stageDelay < 0 {
		stageDelay = 0
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Controller{
		client:       cfg.Client,
		acceptor:     cfg.Acceptor,
		notifier:     cfg.Notifier,
		recorder:     cfg.Recorder,
		stageDelay:   stageDelay,
		pollInterval: pollInterval,
		logger:       logging.WithComponent(logger, "workflow"),
		state:        &Idle{},
		observers:    make(map[int]func(State)),
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clone(c.state)
}

// Subscribe registers fn to receive every state transition. fn runs on the
// goroutine that made the transition and must not call any method of c.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.emitMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.emitMu.Unlock()

	return func() {
		c.emitMu.Lock()
		delete(c.observers, id)
		c.emitMu.Unlock()
	}
}

// Submit starts a run for img, cancelling any run in flight. The controller
// takes ownership of img and releases the image it replaces.
func (c *Controller) Submit(img *upload.Image) error {
	return c.submit(img, false)
}

// Regenerate re-uploads the stored image of a completed run.
func (c *Controller) Regenerate() error {
	c.mu.Lock()
	done, ok := c.state.(*Completed)
	var dataURI string
	if ok {
		dataURI = done.Image.DataURI()
	}
	c.mu.Unlock()

	if !ok {
		return ErrNotCompleted
	}
	if c.acceptor == nil {
		return fmt.Errorf("regenerate: no acceptor configured")
	}

	_, data, err := upload.DecodeDataURI(dataURI)
	if err != nil {
		return fmt.Errorf("regenerate: %w", err)
	}
	img, err := c.acceptor.Accept([]upload.File{{Name: RegenerateName, ContentType: "image/png", Data: data}})
	if err != nil {
		return fmt.Errorf("regenerate: %w", err)
	}
	return c.submit(img, true)
}

// Reset returns to Idle, cancelling any run and dropping the image and
// result.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.abortLocked()
	old := ImageOf(c.state)
	c.gen++
	c.state = &Idle{}
	c.emitLocked()

	old.Release()
}

// Wait blocks until the current run, if any, has finished and returns the
// state at that point.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.Snapshot(), nil
}

// Close cancels the live run, waits for it to stop and releases the image.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.abortLocked()
	c.gen++
	done := c.done
	old := ImageOf(c.state)
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	old.Release()
	return nil
}

func (c *Controller) submit(img *upload.Image, regenerated bool) error {
	if img == nil {
		return ErrNoImage
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		img.Release()
		return ErrClosed
	}

	c.abortLocked()
	old := ImageOf(c.state)

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done

	runID := history.NewID()
	st := stages.Defaults()
	stages.Set(st, 0, stages.Processing)
	c.state = &Uploading{RunID: runID, Image: img, Stages: st}
	c.emitLocked()

	if old != img {
		old.Release()
	}

	go c.run(ctx, gen, runID, img, regenerated, done)
	return nil
}

// abortLocked cancels the live run. Callers must bump gen.
func (c *Controller) abortLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// emitLocked snapshots the state, unlocks mu and notifies observers in order.
func (c *Controller) emitLocked() {
	snap := clone(c.state)
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()

	for _, fn := range c.observers {
		fn(snap)
	}
}

// update applies fn if gen is still current and reports whether it did.
func (c *Controller) update(gen uint64, fn func(State) State) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.state = fn(c.state)
	c.emitLocked()
	return true
}

func (c *Controller) run(ctx context.Context, gen uint64, runID string, img *upload.Image, regenerated bool, done chan struct{}) {
	defer close(done)

	start := time.Now()
	logger := logging.WithRunID(c.logger, runID)
	metrics.RunsStarted.Inc()

	c.record(func(rctx context.Context) error {
		return c.recorder.RecordStart(rctx, &history.Run{
			ID:          runID,
			FileName:    img.Name,
			ContentType: img.ContentType,
			SizeBytes:   img.Size(),
			Regenerated: regenerated,
		})
	})

	logger.Info("run started", "file_name", img.Name, "size", img.Size(), "regenerated", regenerated)

	resp, err := c.client.Upload(ctx, img.Name, img.ContentType, img.Bytes())
	if err != nil {
		if ctx.Err() != nil {
			c.cancelled(logger, runID)
			return
		}
		c.fail(gen, logger, runID, "", FailureUpload, err, start)
		return
	}

	taskID := resp.TaskID
	logger = logging.WithTaskID(logger, taskID)
	c.record(func(rctx context.Context) error {
		return c.recorder.RecordTask(rctx, runID, taskID)
	})

	ok := c.update(gen, func(s State) State {
		return &SimulatingProgress{RunID: runID, Image: img, TaskID: taskID, Stages: StagesOf(s), Step: 0}
	})
	if !ok {
		c.cancelled(logger, runID)
		return
	}

	err = stages.Simulate(ctx, stages.Count, c.stageDelay, func(i int) {
		c.update(gen, func(s State) State {
			st := stages.Clone(StagesOf(s))
			stages.Advance(st, i)
			return &SimulatingProgress{RunID: runID, Image: img, TaskID: taskID, Stages: st, Step: i}
		})
	})
	if err != nil {
		c.cancelled(logger, runID)
		return
	}

	ok = c.update(gen, func(s State) State {
		return &Polling{RunID: runID, Image: img, TaskID: taskID, Stages: StagesOf(s)}
	})
	if !ok {
		c.cancelled(logger, runID)
		return
	}

	for attempt := 1; ; attempt++ {
		metrics.ResultPolls.Inc()
		res, err := c.client.Result(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				c.cancelled(logger, runID)
				return
			}
			c.fail(gen, logger, runID, taskID, FailurePoll, err, start)
			return
		}

		switch res.Status {
		case processing.StatusCompleted:
			c.complete(gen, logger, runID, taskID, c.client.ResolveURL(res.ResultURL), start)
			return
		case processing.StatusFailed:
			c.fail(gen, logger, runID, taskID, FailureProcessing, errServiceFailed, start)
			return
		}

		logger.Debug("task still running", "status", res.Status, "attempt", attempt)
		c.update(gen, func(s State) State {
			p := *s.(*Polling)
			p.Attempts = attempt
			p.Stages = stages.Clone(p.Stages)
			return &p
		})

		if err := stages.Sleep(ctx, c.pollInterval); err != nil {
			c.cancelled(logger, runID)
			return
		}
	}
}

func (c *Controller) complete(gen uint64, logger *slog.Logger, runID, taskID, resultURL string, start time.Time) {
	ok := c.update(gen, func(s State) State {
		st := stages.Clone(StagesOf(s))
		stages.CompleteAll(st)
		return &Completed{RunID: runID, Image: ImageOf(s), TaskID: taskID, Stages: st, ResultURL: resultURL}
	})
	if !ok {
		c.cancelled(logger, runID)
		return
	}

	metrics.RunsCompleted.Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	logger.Info("run completed", "result_url", logging.SanitizeURL(resultURL), "duration_ms", time.Since(start).Milliseconds())

	c.record(func(rctx context.Context) error {
		return c.recorder.RecordFinish(rctx, runID, history.RunStatusCompleted, resultURL, "")
	})
	c.notify(NoticeSuccess)
}

func (c *Controller) fail(gen uint64, logger *slog.Logger, runID, taskID string, kind FailureKind, cause error, start time.Time) {
	ok := c.update(gen, func(s State) State {
		st := stages.Clone(StagesOf(s))
		stages.Fail(st)
		return &Failed{RunID: runID, Image: ImageOf(s), TaskID: taskID, Stages: st, Kind: kind, Err: cause}
	})
	if !ok {
		c.cancelled(logger, runID)
		return
	}

	metrics.RunsFailed.WithLabelValues(string(kind)).Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	logger.Warn("run failed", "kind", kind, "error", cause)

	c.record(func(rctx context.Context) error {
		return c.recorder.RecordFinish(rctx, runID, history.RunStatusFailed, "", fmt.Sprintf("%s: %v", kind, cause))
	})
	c.notify(failureNotice(kind))
}

func (c *Controller) cancelled(logger *slog.Logger, runID string) {
	metrics.RunsCancelled.Inc()
	logger.Info("run cancelled")

	c.record(func(rctx context.Context) error {
		return c.recorder.RecordFinish(rctx, runID, history.RunStatusCancelled, "", "superseded")
	})
}

func (c *Controller) notify(n Notification) {
	if c.notifier != nil {
		c.notifier.Notify(n)
	}
}

// record runs fn against the recorder with its own deadline; the run context
// may already be cancelled when outcomes are written.
func (c *Controller) record(fn func(ctx context.Context) error) {
	if c.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		c.logger.Warn("failed to record run", "error", err)
	}
}
