// Package batch fans one request out into many generation jobs.
//
// A batch is priced and charged upfront, its member jobs are created pending
// with a shared batch id, and they run in fixed-size windows: every member of
// window N settles before window N+1 starts. Members fail independently.
package batch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/courseforge/credits"
	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/generation"
	"github.com/teranos/courseforge/logger"
	"github.com/teranos/courseforge/metrics"
	"github.com/teranos/courseforge/notify"
	"github.com/teranos/courseforge/pulse/async"
)

const (
	DefaultWindowSize  = 5
	DefaultWindowDelay = time.Second
	DefaultMaxItems    = 100
)

// Runner prices requests and runs already created jobs.
// *generation.Orchestrator is the production Runner.
type Runner interface {
	Prepare(req generation.Request) (generation.Config, int, error)
	Run(ctx context.Context, job *async.Job) (*generation.Outcome, error)
}

// Config sizes the windows
type Config struct {
	WindowSize  int           // members running at once (default 5)
	WindowDelay time.Duration // pause between windows (default 1s, negative = none)
	MaxItems    int           // largest accepted batch (default 100)
}

// DefaultConfig returns the production window settings
func DefaultConfig() Config {
	return Config{
		WindowSize:  DefaultWindowSize,
		WindowDelay: DefaultWindowDelay,
		MaxItems:    DefaultMaxItems,
	}
}

// Receipt is what a caller gets back before any member has run
type Receipt struct {
	BatchID          string   `json:"batchId"`
	JobIDs           []string `json:"jobIds"`
	EstimatedCredits int      `json:"estimatedCredits"`
	CreditsRemaining int      `json:"creditsRemaining"`
}

// Summary is the settled outcome of a batch
type Summary struct {
	BatchID   string   `json:"batchId"`
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	JobIDs    []string `json:"jobIds"`
}

// Run is a batch reconstructed from its member jobs
type Run struct {
	BatchID              string   `json:"batchId"`
	JobIDs               []string `json:"jobIds"`
	RequestedConcurrency int      `json:"requestedConcurrency"`
	Total                int      `json:"total"`
	Succeeded            int      `json:"succeeded"`
	Failed               int      `json:"failed"`
	Pending              int      `json:"pending"`
	Processing           int      `json:"processing"`
}

// Done reports whether every member reached a terminal state
func (r *Run) Done() bool {
	return r.Pending == 0 && r.Processing == 0
}

// Coordinator is safe for concurrent use
type Coordinator struct {
	jobs     *async.Queue
	ledger   *credits.Ledger
	runner   Runner
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator whose background batches stop when
// ctx is cancelled or Stop is called.
func NewCoordinator(ctx context.Context, jobs *async.Queue, ledger *credits.Ledger, runner Runner, notifier notify.Notifier, cfg Config) *Coordinator {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.WindowDelay == 0 {
		cfg.WindowDelay = DefaultWindowDelay
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	runCtx, cancel := context.WithCancel(ctx)
	return &Coordinator{
		jobs:     jobs,
		ledger:   ledger,
		runner:   runner,
		notifier: notifier,
		logger:   logger.OrGlobal(nil, "batch"),
		cfg:      cfg,
		ctx:      runCtx,
		cancel:   cancel,
	}
}

// WithLogger replaces the component logger
func (c *Coordinator) WithLogger(l *zap.SugaredLogger) *Coordinator {
	c.logger = logger.OrGlobal(l, "batch")
	return c
}

// WithMetrics attaches prometheus collectors
func (c *Coordinator) WithMetrics(m *metrics.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// WindowSize is the configured per-window concurrency
func (c *Coordinator) WindowSize() int {
	return c.cfg.WindowSize
}

// Submit charges for items, creates their jobs and runs them in the
// background. The receipt is returned before any member runs.
func (c *Coordinator) Submit(ctx context.Context, owner string, items []generation.Request) (*Receipt, error) {
	receipt, members, err := c.open(ctx, owner, items)
	if err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.process(c.ctx, owner, receipt.BatchID, members)
	}()
	return receipt, nil
}

// RunSync is Submit for callers that want to block until the batch settles
func (c *Coordinator) RunSync(ctx context.Context, owner string, items []generation.Request) (*Summary, error) {
	receipt, members, err := c.open(ctx, owner, items)
	if err != nil {
		return nil, err
	}
	return c.process(ctx, owner, receipt.BatchID, members), nil
}

// Wait blocks until every background batch has settled
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Stop abandons background batches between windows and waits for the
// running windows to settle. Members not yet started stay pending.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Get reconstructs a batch from its member jobs
func (c *Coordinator) Get(ctx context.Context, owner, batchID string) (*Run, error) {
	members, err := c.jobs.ListByBatch(ctx, owner, batchID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, errors.NewNotFoundError("batch not found: %s", batchID)
	}

	run := &Run{
		BatchID:              batchID,
		JobIDs:               make([]string, 0, len(members)),
		RequestedConcurrency: c.cfg.WindowSize,
		Total:                len(members),
	}
	for _, job := range members {
		run.JobIDs = append(run.JobIDs, job.ID)
		switch job.Status {
		case async.JobStatusCompleted:
			run.Succeeded++
		case async.JobStatusFailed:
			run.Failed++
		case async.JobStatusProcessing:
			run.Processing++
		default:
			run.Pending++
		}
	}
	return run, nil
}

// open validates and prices every item, charges the total once and creates
// the member jobs. Nothing is charged or created when any item is invalid.
func (c *Coordinator) open(ctx context.Context, owner string, items []generation.Request) (*Receipt, []*async.Job, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, nil, errors.NewInvalidRequestError("owner cannot be empty")
	}
	if len(items) == 0 {
		return nil, nil, errors.NewInvalidRequestError("batch has no items")
	}
	if len(items) > c.cfg.MaxItems {
		return nil, nil, errors.WithHint(
			errors.NewInvalidRequestError("batch has %d items, the limit is %d", len(items), c.cfg.MaxItems),
			"Split the request into smaller batches",
		)
	}

	specs := make([]async.Spec, len(items))
	total := 0
	batchID := uuid.NewString()
	for i, item := range items {
		cfg, cost, err := c.runner.Prepare(item)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "batch item %d", i+1)
		}
		raw, err := generation.EncodeConfig(cfg)
		if err != nil {
			return nil, nil, err
		}
		specs[i] = async.Spec{
			OwnerID:        owner,
			ParentEntityID: item.ParentEntityID,
			BatchID:        batchID,
			JobType:        string(cfg.JobType()),
			Config:         raw,
		}
		total += cost
	}

	// Charged before any member exists so concurrent batches from one owner
	// cannot both be admitted against the same balance
	acc, err := c.ledger.DebitIfSufficient(ctx, owner, total, credits.Memo{Reason: credits.ReasonBatchUpfront, BatchID: batchID})
	if err != nil {
		return nil, nil, err
	}

	members := make([]*async.Job, 0, len(specs))
	for _, spec := range specs {
		job, err := c.jobs.Create(ctx, spec)
		if err != nil {
			c.abandon(ctx, members, "batch could not be created")
			c.refund(ctx, owner, batchID, total)
			return nil, nil, errors.Wrapf(err, "failed to create batch %s", batchID)
		}
		members = append(members, job)
	}

	c.metrics.BatchStarted()
	receipt := &Receipt{
		BatchID:          batchID,
		JobIDs:           make([]string, len(members)),
		EstimatedCredits: total,
		CreditsRemaining: acc.CreditsRemaining,
	}
	for i, job := range members {
		receipt.JobIDs[i] = job.ID
		c.metrics.JobSubmitted(job.JobType)
	}

	logger.FromContext(ctx, c.logger).Infow("Batch accepted",
		logger.FieldBatchID, batchID,
		logger.FieldOwnerID, owner,
		logger.FieldBatchSize, len(members),
		logger.FieldCredits, total)
	return receipt, members, nil
}

// abandon fails members created before the batch could be opened
func (c *Coordinator) abandon(ctx context.Context, members []*async.Job, reason string) {
	ctx = context.WithoutCancel(ctx)
	for _, job := range members {
		if _, err := c.jobs.Start(ctx, job.ID); err != nil {
			c.logger.Warnw("Failed to abandon batch member", logger.FieldJobID, job.ID, logger.FieldError, err)
			continue
		}
		if _, err := c.jobs.Fail(ctx, job.ID, reason); err != nil {
			c.logger.Warnw("Failed to abandon batch member", logger.FieldJobID, job.ID, logger.FieldError, err)
		}
	}
}

// refund returns the upfront charge of a batch that never opened
func (c *Coordinator) refund(ctx context.Context, owner, batchID string, total int) {
	if total <= 0 {
		return
	}
	if _, err := c.ledger.Grant(context.WithoutCancel(ctx), owner, total, credits.ReasonBatchRefund); err != nil {
		c.logger.Errorw("Failed to refund unopened batch",
			logger.FieldBatchID, batchID,
			logger.FieldOwnerID, owner,
			logger.FieldCredits, total,
			logger.FieldError, err)
	}
}

// process runs members window by window and sends one batch notification
func (c *Coordinator) process(ctx context.Context, owner, batchID string, members []*async.Job) *Summary {
	log := c.logger.With(logger.FieldBatchID, batchID, logger.FieldOwnerID, owner)
	summary := &Summary{BatchID: batchID, Total: len(members), JobIDs: make([]string, len(members))}
	for i, job := range members {
		summary.JobIDs[i] = job.ID
	}

	var mu sync.Mutex
	for start := 0; start < len(members); start += c.cfg.WindowSize {
		if start > 0 && !c.pause(ctx) {
			log.Warnw("Batch interrupted between windows",
				"remaining", len(members)-start,
				logger.FieldError, ctx.Err())
			break
		}

		end := min(start+c.cfg.WindowSize, len(members))
		window := members[start:end]
		log.Debugw("Starting batch window", logger.FieldWindow, start/c.cfg.WindowSize+1, logger.FieldCount, len(window))

		var g errgroup.Group
		for _, job := range window {
			g.Go(func() error {
				// Member failures are recorded on the job, never returned to the group.
				out, err := c.runner.Run(ctx, job)
				status := string(async.JobStatusCompleted)
				if err != nil || out == nil || out.Status != async.JobStatusCompleted {
					status = string(async.JobStatusFailed)
				}
				c.metrics.BatchItem(status)

				mu.Lock()
				defer mu.Unlock()
				if status == string(async.JobStatusCompleted) {
					summary.Succeeded++
				} else {
					summary.Failed++
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	log.Infow("Batch settled",
		logger.FieldCount, summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed)

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), generation.DefaultNotifyTimeout)
	defer cancel()
	if err := c.notifier.NotifyBatchComplete(notifyCtx, owner, notify.BatchSummary{
		BatchID:   batchID,
		OwnerID:   owner,
		Total:     summary.Total,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		JobIDs:    summary.JobIDs,
	}); err != nil {
		log.Warnw("Batch notification failed", logger.FieldError, err)
	}
	return summary
}

// pause waits out the inter-window delay, reporting false when ctx ends first
func (c *Coordinator) pause(ctx context.Context) bool {
	if c.cfg.WindowDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(c.cfg.WindowDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
