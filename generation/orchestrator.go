package generation

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/courseforge/ai/gateway"
	"github.com/teranos/courseforge/content"
	"github.com/teranos/courseforge/credits"
	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/logger"
	"github.com/teranos/courseforge/metrics"
	"github.com/teranos/courseforge/notify"
	"github.com/teranos/courseforge/pulse/async"
	"github.com/teranos/courseforge/research"
)

const (
	DefaultNotifyTimeout        = 10 * time.Second
	DefaultFactCheckConcurrency = 3
)

// Models is the slice of the model gateway the orchestrator calls
type Models interface {
	Generate(ctx context.Context, req gateway.Request) (*gateway.Response, error)
	GenerateJSON(ctx context.Context, req gateway.Request, out any) error
	GenerateImage(ctx context.Context, prompt, style, entityID string) (*gateway.ImageRef, error)
}

// Researcher is the slice of the research gateway the orchestrator calls
type Researcher interface {
	Enabled() bool
	Research(ctx context.Context, req research.Request) (*research.Findings, error)
	VerifyClaim(ctx context.Context, claim string) (*research.FactCheck, error)
	EnhanceContent(ctx context.Context, content string, f *research.Findings) (string, error)
}

// Deps wires an Orchestrator. Jobs, Ledger, Content and Models are required.
type Deps struct {
	Jobs     *async.Queue
	Ledger   *credits.Ledger
	Content  *content.Store
	Models   Models
	Research Researcher      // nil = research disabled
	Notifier notify.Notifier // nil = no notifications
	Prompts  *Prompts        // nil = embedded catalog
	Metrics  *metrics.Metrics
	Logger   *zap.SugaredLogger

	NotifyTimeout        time.Duration
	FactCheckConcurrency int
}

// Orchestrator runs generation jobs. Safe for concurrent use; it holds no
// lock across model, research or store calls.
type Orchestrator struct {
	jobs     *async.Queue
	ledger   *credits.Ledger
	content  *content.Store
	models   Models
	research Researcher
	notifier notify.Notifier
	prompts  *Prompts
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger

	notifyTimeout  time.Duration
	factCheckLimit int
	pending        sync.WaitGroup
}

// New creates an Orchestrator
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		jobs:           d.Jobs,
		ledger:         d.Ledger,
		content:        d.Content,
		models:         d.Models,
		research:       d.Research,
		notifier:       d.Notifier,
		prompts:        d.Prompts,
		metrics:        d.Metrics,
		logger:         logger.OrGlobal(d.Logger, "generation"),
		notifyTimeout:  d.NotifyTimeout,
		factCheckLimit: d.FactCheckConcurrency,
	}
	if o.notifier == nil {
		o.notifier = notify.Nop{}
	}
	if o.prompts == nil {
		o.prompts = DefaultPrompts()
	}
	if o.notifyTimeout <= 0 {
		o.notifyTimeout = DefaultNotifyTimeout
	}
	if o.factCheckLimit <= 0 {
		o.factCheckLimit = DefaultFactCheckConcurrency
	}
	return o
}

// Request is a single generation request as received from a caller
type Request struct {
	JobType        JobType         `json:"jobType"`
	ParentEntityID string          `json:"parentEntityId,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
}

// Outcome is what a caller learns about a job it ran synchronously
type Outcome struct {
	JobID            string               `json:"jobId"`
	JobType          JobType              `json:"jobType"`
	Status           async.JobStatus      `json:"status"`
	Result           json.RawMessage      `json:"result,omitempty"`
	CreditsUsed      int                  `json:"creditsUsed"`
	CreditsRemaining int                  `json:"creditsRemaining"`
	Enrichment       *research.Enrichment `json:"enrichment,omitempty"`
	Error            string               `json:"error,omitempty"`
}

// task is a job that passed admission: config decoded, parent read, entity claimed
type task struct {
	owner    string
	jobType  JobType
	cfg      Config
	parentID string
	course   *content.Course
	lesson   *content.Lesson
	claim    *claim
}

type claim struct {
	kind  content.Kind
	id    string
	prior content.Status
}

// Prepare validates a request and prices it without touching any state.
// The batch coordinator uses it to price items before its upfront debit.
func (o *Orchestrator) Prepare(req Request) (Config, int, error) {
	jt, err := ParseJobType(string(req.JobType))
	if err != nil {
		return nil, 0, err
	}
	cfg, err := DecodeConfig(jt, req.Config)
	if err != nil {
		return nil, 0, err
	}
	return cfg, Cost(cfg), nil
}

// Submit runs one job synchronously: admission, creation, generation,
// domain write, completion, debit and a best-effort notification.
//
// Admission failures (credits, validation, missing parent, precondition,
// entity already generating) return before any job exists. A job that fails
// while running is returned as a failed Outcome together with the cause, and
// nothing is debited.
func (o *Orchestrator) Submit(ctx context.Context, owner string, req Request) (*Outcome, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, errors.NewInvalidRequestError("owner cannot be empty")
	}
	cfg, cost, err := o.Prepare(req)
	if err != nil {
		return nil, err
	}

	acc, err := o.ledger.RequireBalance(ctx, owner, cost)
	if err != nil {
		return nil, err
	}

	t, err := o.admit(ctx, owner, cfg.JobType(), req.ParentEntityID, cfg)
	if err != nil {
		return nil, err
	}

	raw, err := EncodeConfig(cfg)
	if err != nil {
		o.release(ctx, t)
		return nil, err
	}
	job, err := o.jobs.Create(ctx, async.Spec{
		OwnerID:        owner,
		ParentEntityID: req.ParentEntityID,
		JobType:        string(t.jobType),
		Config:         raw,
	})
	if err != nil {
		o.release(ctx, t)
		return nil, err
	}
	o.metrics.JobSubmitted(string(t.jobType))

	return o.settle(ctx, t, job, cost, acc.CreditsRemaining, true)
}

// Run executes an already created pending job without debiting. Batch
// members are paid for upfront and come through here.
//
// A job whose admission fails at this point (parent gone, precondition,
// entity busy) is started and failed without any model call.
func (o *Orchestrator) Run(ctx context.Context, job *async.Job) (*Outcome, error) {
	jt, err := ParseJobType(job.JobType)
	if err != nil {
		return o.abort(ctx, job, err)
	}
	cfg, err := DecodeConfig(jt, job.Config)
	if err != nil {
		return o.abort(ctx, job, err)
	}
	t, err := o.admit(ctx, job.OwnerID, jt, job.ParentEntityID, cfg)
	if err != nil {
		return o.abort(ctx, job, err)
	}
	return o.run(ctx, t, job)
}

// Retry resets a failed job and runs it again with its original config.
// Batch members were paid for upfront and are not charged again.
func (o *Orchestrator) Retry(ctx context.Context, owner, jobID string) (*Outcome, error) {
	job, err := o.jobs.GetOwned(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != async.JobStatusFailed {
		return nil, errors.WithHint(
			errors.NewInvalidTransitionError(job.ID, string(job.Status), string(async.JobStatusPending)),
			"Only failed jobs can be retried",
		)
	}

	jt, err := ParseJobType(job.JobType)
	if err != nil {
		return nil, err
	}
	cfg, err := DecodeConfig(jt, job.Config)
	if err != nil {
		return nil, err
	}

	prepaid := job.BatchID != ""
	cost := Cost(cfg)
	var acc *credits.Account
	if prepaid {
		acc, err = o.ledger.EnsureAccount(ctx, owner)
	} else {
		acc, err = o.ledger.RequireBalance(ctx, owner, cost)
	}
	if err != nil {
		return nil, err
	}

	t, err := o.admit(ctx, owner, jt, job.ParentEntityID, cfg)
	if err != nil {
		return nil, err
	}
	job, err = o.jobs.Reset(ctx, job.ID)
	if err != nil {
		o.release(ctx, t)
		return nil, err
	}

	logger.FromContext(ctx, o.logger).Infow("Retrying job",
		logger.FieldJobID, job.ID,
		logger.FieldJobType, job.JobType,
		logger.FieldOwnerID, owner,
		"attempt", job.Attempts+1)

	return o.settle(ctx, t, job, cost, acc.CreditsRemaining, !prepaid)
}

// Flush waits for in-flight notifications
func (o *Orchestrator) Flush() {
	o.pending.Wait()
}

// ReleaseAbandoned settles the entity claimed by a job that was failed
// outside the orchestrator, such as by the stuck job sweeper. Without it the
// entity would stay generating and refuse every later job.
func (o *Orchestrator) ReleaseAbandoned(ctx context.Context, job *async.Job) {
	if job == nil || job.ParentEntityID == "" {
		return
	}
	jt, err := ParseJobType(job.JobType)
	if err != nil {
		return
	}
	p, ok := jt.parent()
	if !ok || !p.claim {
		return
	}
	if err := o.content.MarkError(ctx, p.kind, job.ParentEntityID); err != nil {
		o.logger.Errorw("Failed to release abandoned entity",
			logger.FieldJobID, job.ID,
			logger.FieldEntityID, job.ParentEntityID,
			logger.FieldError, err.Error())
		return
	}
	o.logger.Infow("Released entity held by abandoned job",
		logger.FieldJobID, job.ID,
		logger.FieldJobType, job.JobType,
		logger.FieldEntityID, job.ParentEntityID)
}

// admit reads the parent entity, checks preconditions and claims the entity
// the job will write. Every failure here leaves no trace.
func (o *Orchestrator) admit(ctx context.Context, owner string, jt JobType, parentID string, cfg Config) (*task, error) {
	t := &task{owner: owner, jobType: jt, cfg: cfg, parentID: parentID}

	p, hasParent := jt.parent()
	if hasParent {
		if parentID == "" && p.required {
			return nil, errors.NewInvalidRequestError("%s jobs require a parent %s", jt, p.kind)
		}
		if parentID != "" {
			if err := o.loadParent(ctx, t, p.kind); err != nil {
				return nil, err
			}
		}
	}

	if err := checkPreconditions(t); err != nil {
		return nil, err
	}

	if hasParent && p.claim && parentID != "" {
		prior := t.parentStatus()
		if err := o.content.BeginGeneration(ctx, p.kind, parentID, owner); err != nil {
			return nil, err
		}
		t.claim = &claim{kind: p.kind, id: parentID, prior: prior}
	}
	return t, nil
}

func (o *Orchestrator) loadParent(ctx context.Context, t *task, kind content.Kind) error {
	switch kind {
	case content.KindCourse:
		course, err := o.content.GetCourse(ctx, t.owner, t.parentID)
		if err != nil {
			return err
		}
		t.course = course
	case content.KindLesson:
		lesson, err := o.content.GetLesson(ctx, t.owner, t.parentID)
		if err != nil {
			return err
		}
		t.lesson = lesson
		if t.jobType == JobLessonPlan {
			course, err := o.content.GetCourse(ctx, t.owner, lesson.CourseID)
			if err != nil {
				return err
			}
			t.course = course
		}
	default:
		return errors.AssertionFailedf("unknown parent kind %q", kind)
	}
	return nil
}

func (t *task) parentStatus() content.Status {
	switch {
	case t.course != nil && t.lesson == nil:
		return t.course.Status
	case t.lesson != nil:
		return t.lesson.Status
	}
	return content.StatusDraft
}

func checkPreconditions(t *task) error {
	switch cfg := t.cfg.(type) {
	case *ContentVariationConfig:
		if !t.lesson.HasScript() {
			return errors.WithHint(
				errors.NewPreconditionError("lesson %s has no script", t.lesson.ID),
				"Generate a script for the lesson before creating variations",
			)
		}
	case *FactCheckConfig:
		if strings.TrimSpace(cfg.Content) != "" {
			return nil
		}
		if t.lesson == nil {
			return errors.NewInvalidRequestError("fact-check needs content or a parent lesson")
		}
		if !t.lesson.HasScript() {
			return errors.WithHint(
				errors.NewPreconditionError("lesson %s has no script to fact-check", t.lesson.ID),
				"Pass content explicitly or generate a script first",
			)
		}
	case *ImageConfig:
		if strings.TrimSpace(cfg.Prompt) == "" && t.course == nil {
			return errors.NewInvalidRequestError("image jobs need a prompt or a parent course")
		}
	}
	return nil
}

// release drops the claim of a task whose job never started
func (o *Orchestrator) release(ctx context.Context, t *task) {
	if t == nil || t.claim == nil {
		return
	}
	if err := o.content.ReleaseGeneration(context.WithoutCancel(ctx), t.claim.kind, t.claim.id, t.claim.prior); err != nil {
		o.logger.Errorw("Failed to release entity claim",
			logger.FieldEntityID, t.claim.id,
			logger.FieldError, err.Error())
	}
}

// settle runs the job, then debits and notifies. balance is the admission-time
// balance reported back when nothing is debited.
func (o *Orchestrator) settle(ctx context.Context, t *task, job *async.Job, cost, balance int, charge bool) (*Outcome, error) {
	out, runErr := o.run(ctx, t, job)
	if runErr != nil {
		if acc, err := o.ledger.Get(context.WithoutCancel(ctx), t.owner); err == nil {
			balance = acc.CreditsRemaining
		}
		out.CreditsRemaining = balance
		o.notifyJob(t.owner, job, out)
		return out, runErr
	}

	if charge {
		acc, err := o.ledger.Debit(context.WithoutCancel(ctx), t.owner, cost, credits.Memo{JobID: job.ID})
		if err != nil {
			o.logger.Errorw("Debit failed after job completion",
				logger.FieldJobID, job.ID,
				logger.FieldOwnerID, t.owner,
				logger.FieldCredits, cost,
				logger.FieldError, err.Error())
			return out, errors.Wrapf(err, "job %s completed but could not be debited", job.ID)
		}
		out.CreditsUsed = cost
		balance = acc.CreditsRemaining
	}
	out.CreditsRemaining = balance
	o.notifyJob(t.owner, job, out)
	return out, nil
}

// run moves a pending job through processing to a terminal state
func (o *Orchestrator) run(ctx context.Context, t *task, job *async.Job) (*Outcome, error) {
	log := logger.FromContext(ctx, o.logger).With(
		logger.FieldJobID, job.ID,
		logger.FieldJobType, string(t.jobType),
		logger.FieldOwnerID, t.owner,
	)
	if job.BatchID != "" {
		log = log.With(logger.FieldBatchID, job.BatchID)
	}

	started := time.Now()
	if _, err := o.jobs.Start(ctx, job.ID); err != nil {
		o.release(ctx, t)
		return &Outcome{JobID: job.ID, JobType: t.jobType, Status: job.Status, Error: err.Error()}, err
	}
	o.metrics.JobStarted()
	log.Infow("Job started")

	res, err := o.execute(ctx, t)
	settleCtx := context.WithoutCancel(ctx)
	if err != nil {
		return o.fail(settleCtx, log, t, job.ID, err, started)
	}

	payload, err := json.Marshal(res.value)
	if err != nil {
		return o.fail(settleCtx, log, t, job.ID, errors.Wrap(err, "failed to encode result"), started)
	}
	if _, err := o.jobs.Complete(settleCtx, job.ID, payload); err != nil {
		return o.fail(settleCtx, log, t, job.ID, err, started)
	}

	elapsed := time.Since(started)
	o.metrics.JobFinished(string(t.jobType), string(async.JobStatusCompleted), elapsed)
	fields := []interface{}{logger.FieldDurationMS, elapsed.Milliseconds()}
	if res.enrichment != nil {
		fields = append(fields, "enrichment", string(res.enrichment.Status))
	}
	log.Infow("Job completed", fields...)

	return &Outcome{
		JobID:      job.ID,
		JobType:    t.jobType,
		Status:     async.JobStatusCompleted,
		Result:     payload,
		Enrichment: res.enrichment,
	}, nil
}

func (o *Orchestrator) fail(ctx context.Context, log *zap.SugaredLogger, t *task, jobID string, cause error, started time.Time) (*Outcome, error) {
	msg := cause.Error()
	if _, err := o.jobs.Fail(ctx, jobID, msg); err != nil {
		log.Errorw("Failed to record job failure", logger.FieldError, err.Error())
	}
	if t.claim != nil {
		if err := o.content.MarkError(ctx, t.claim.kind, t.claim.id); err != nil {
			log.Errorw("Failed to mark entity as error", logger.FieldEntityID, t.claim.id, logger.FieldError, err.Error())
		}
	}

	elapsed := time.Since(started)
	o.metrics.JobFinished(string(t.jobType), string(async.JobStatusFailed), elapsed)
	log.Warnw("Job failed",
		logger.FieldError, msg,
		logger.FieldErrorKind, string(errors.KindOf(cause)),
		logger.FieldDurationMS, elapsed.Milliseconds())

	return &Outcome{
			JobID:   jobID,
			JobType: t.jobType,
			Status:  async.JobStatusFailed,
			Error:   msg,
		},
		errors.WithDetail(errors.Wrapf(cause, "job %s failed", jobID), "Job ID: "+jobID)
}

// abort settles a queued job that can no longer be admitted
func (o *Orchestrator) abort(ctx context.Context, job *async.Job, cause error) (*Outcome, error) {
	t := &task{owner: job.OwnerID, jobType: JobType(job.JobType)}
	log := logger.FromContext(ctx, o.logger).With(
		logger.FieldJobID, job.ID,
		logger.FieldJobType, job.JobType,
		logger.FieldOwnerID, job.OwnerID,
	)
	started := time.Now()
	if _, err := o.jobs.Start(ctx, job.ID); err != nil {
		return &Outcome{JobID: job.ID, JobType: t.jobType, Status: job.Status, Error: err.Error()}, err
	}
	o.metrics.JobStarted()
	return o.fail(context.WithoutCancel(ctx), log, t, job.ID, cause, started)
}

// notifyJob fires the job notification in the background. Delivery errors are logged only.
func (o *Orchestrator) notifyJob(owner string, job *async.Job, out *Outcome) {
	summary := notify.JobSummary{
		JobID:       out.JobID,
		OwnerID:     owner,
		JobType:     string(out.JobType),
		Status:      string(out.Status),
		CreditsUsed: out.CreditsUsed,
		Error:       out.Error,
		BatchID:     job.BatchID,
		CompletedAt: time.Now().UTC(),
	}

	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.notifyTimeout)
		defer cancel()
		if err := o.notifier.NotifyJobComplete(ctx, owner, summary); err != nil {
			o.logger.Warnw("Job notification failed",
				logger.FieldJobID, summary.JobID,
				logger.FieldOwnerID, owner,
				logger.FieldError, err.Error())
		}
	}()
}
