// SPDX-License-Identifier: MIT

// Package orchestrator drives bulk jobs end to end: admission against tier
// and guest quotas, playlist expansion, the per-video acquisition pipeline,
// a retry pass, packaging and the completion webhook. Videos inside a job
// run sequentially with a tier-dependent pause; distinct jobs run on a
// worker pool.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tubescribe/tubescribe/internal/audiofetch"
	"github.com/tubescribe/tubescribe/internal/captions"
	"github.com/tubescribe/tubescribe/internal/config"
	"github.com/tubescribe/tubescribe/internal/faults"
	"github.com/tubescribe/tubescribe/internal/log"
	"github.com/tubescribe/tubescribe/internal/metrics"
	"github.com/tubescribe/tubescribe/internal/providers"
	"github.com/tubescribe/tubescribe/internal/quota"
	"github.com/tubescribe/tubescribe/internal/store"
	"github.com/tubescribe/tubescribe/internal/transcribe"
	"github.com/tubescribe/tubescribe/internal/transcript"
	"github.com/tubescribe/tubescribe/internal/webhook"
	"github.com/tubescribe/tubescribe/internal/yturl"
)

// CaptionFetcher runs the caption ladder for one video.
type CaptionFetcher interface {
	Fetch(ctx context.Context, videoID string) (captions.Result, error)
}

// AudioFetcher downloads audio and expands playlist submissions.
type AudioFetcher interface {
	Fetch(ctx context.Context, videoID string) (*audiofetch.Download, error)
	Expand(ctx context.Context, src yturl.Source, limit int) ([]audiofetch.Entry, error)
}

// Transcriber runs AI speech-to-text over an audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// Notifier delivers completion webhooks.
type Notifier interface {
	Notify(ctx context.Context, url string, p webhook.Payload)
}

// GuestToucher is implemented by ledgers that track guest session activity.
type GuestToucher interface {
	TouchGuest(ctx context.Context, sessionID string) error
}

// Services are the orchestrator's collaborators.
type Services struct {
	Store    *store.Store
	Ledger   quota.Ledger
	Captions CaptionFetcher
	Audio    AudioFetcher
	Engine   Transcriber
	Notifier Notifier
}

// Options tune orchestration behaviour.
type Options struct {
	Tiers       config.TierRegistry
	Guest       config.GuestLimits
	ArtifactDir string

	// FallbackCapSeconds bounds audio duration on the AI fallback path.
	FallbackCapSeconds float64

	JobWorkers int
	QueueSize  int
}

// Orchestrator owns the job queue and worker pool.
type Orchestrator struct {
	svc  Services
	opts Options

	queue chan string

	mu       sync.Mutex
	controls map[string]context.CancelFunc
	settings map[string]taskSettings

	pausePoll time.Duration

	wg      sync.WaitGroup
	started bool
}

// New builds an Orchestrator with defaults filled in.
func New(svc Services, opts Options) *Orchestrator {
	if opts.Tiers == nil {
		opts.Tiers = config.DefaultTiers()
	}
	if opts.Guest == (config.GuestLimits{}) {
		opts.Guest = config.DefaultGuestLimits()
	}
	if opts.JobWorkers <= 0 {
		opts.JobWorkers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Orchestrator{
		svc:       svc,
		opts:      opts,
		queue:     make(chan string, opts.QueueSize),
		controls:  make(map[string]context.CancelFunc),
		settings:  make(map[string]taskSettings),
		pausePoll: 2 * time.Second,
	}
}

// Start launches the worker pool. Workers drain until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.started {
		return
	}
	o.started = true
	for i := 0; i < o.opts.JobWorkers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case jobID := <-o.queue:
					o.processJob(ctx, jobID)
				}
			}
		}()
	}
}

// Wait blocks until every worker has exited.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// SubmitRequest is one bulk submission.
type SubmitRequest struct {
	Principal quota.Principal
	Tier      string // ignored for guest principals
	URL       string
	Method    store.Method
	Format    string
	Language  string
	Provider  providers.Provider // "" defaults to groq
	Model     string
	Webhook   string
}

// jobLimits are the effective caps for one submission.
type jobLimits struct {
	maxVideos      int
	jobsPerDay     int
	maxConcurrent  int
	interTaskDelay time.Duration
	tierName       string
}

func (o *Orchestrator) limitsFor(req SubmitRequest) jobLimits {
	if req.Principal.Type == store.OwnerGuest {
		g := o.opts.Guest
		free := o.opts.Tiers.Resolve(config.TierFree)
		return jobLimits{
			maxVideos:      g.BulkVideos,
			jobsPerDay:     g.JobsPerDay,
			maxConcurrent:  1,
			interTaskDelay: free.InterTaskDelay(),
			tierName:       "guest",
		}
	}
	t := o.opts.Tiers.Resolve(req.Tier)
	return jobLimits{
		maxVideos:      t.MaxVideosPerJob,
		jobsPerDay:     t.MaxJobsPerDay,
		maxConcurrent:  t.MaxConcurrentJobs,
		interTaskDelay: t.InterTaskDelay(),
		tierName:       req.Tier,
	}
}

// Submit validates a request, reserves quota, expands the source and
// enqueues the job.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*store.Job, error) {
	format, err := transcript.ParseFormat(req.Format)
	if err != nil {
		return nil, err
	}
	src, ok := yturl.Parse(req.URL)
	if !ok {
		return nil, faults.Newf(faults.KindInvalidURL, "not a recognised YouTube URL: %s", req.URL)
	}
	if req.Method == "" {
		req.Method = store.MethodAuto
	}
	if req.Provider == "" {
		req.Provider = providers.Groq
	}

	limits := o.limitsFor(req)
	p := req.Principal

	active, err := o.svc.Store.CountActiveJobs(ctx, p.Type, p.ID)
	if err != nil {
		return nil, err
	}
	if active >= limits.maxConcurrent {
		metrics.QuotaDenials.WithLabelValues("concurrent_jobs").Inc()
		return nil, faults.Wrap(faults.KindQuotaExceeded, "concurrent job limit reached", &quota.Denial{
			Resource:     "concurrent_jobs",
			Used:         int64(active),
			Limit:        int64(limits.maxConcurrent),
			RequiresAuth: p.Type == store.OwnerGuest,
		})
	}

	ok, err = o.svc.Ledger.CheckAndIncrement(ctx, p, quota.ResourceJobs, 1, int64(limits.jobsPerDay))
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.QuotaDenials.WithLabelValues("jobs_per_day").Inc()
		return nil, faults.Wrap(faults.KindQuotaExceeded, "daily job limit reached",
			quota.NewDenial(ctx, o.svc.Ledger, p, quota.ResourceJobs, int64(limits.jobsPerDay)))
	}

	entries, err := o.svc.Audio.Expand(ctx, src, limits.maxVideos)
	if err != nil {
		return nil, err
	}

	if p.Type == store.OwnerGuest {
		ok, err = o.svc.Ledger.CheckAndIncrement(ctx, p, quota.ResourceBulkVideos,
			int64(len(entries)), int64(o.opts.Guest.BulkVideos))
		if err != nil {
			return nil, err
		}
		if !ok {
			metrics.QuotaDenials.WithLabelValues("bulk_videos").Inc()
			return nil, faults.Wrap(faults.KindQuotaExceeded, "guest video allowance exhausted",
				quota.NewDenial(ctx, o.svc.Ledger, p, quota.ResourceBulkVideos, int64(o.opts.Guest.BulkVideos)))
		}
		if t, ok := o.svc.Ledger.(GuestToucher); ok {
			if err := t.TouchGuest(ctx, p.ID); err != nil {
				log.WithComponent("orchestrator").Warn().Err(err).Msg("guest usage tracking failed")
			}
		}
	}

	job := &store.Job{
		ID:          uuid.NewString(),
		OwnerType:   p.Type,
		OwnerID:     p.ID,
		Tier:        limits.tierName,
		Status:      store.JobPending,
		Method:      req.Method,
		Format:      string(format),
		SourceURL:   req.URL,
		TotalVideos: len(entries),
		WebhookURL:  req.Webhook,
	}
	if err := o.svc.Store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	tasks := make([]*store.Task, 0, len(entries))
	for i, e := range entries {
		tasks = append(tasks, &store.Task{
			ID:              uuid.NewString(),
			JobID:           job.ID,
			Position:        i,
			VideoID:         e.VideoID,
			URL:             yturl.WatchURL(e.VideoID),
			Title:           e.Title,
			Status:          store.TaskPending,
			DurationSeconds: e.Duration,
		})
	}
	if err := o.svc.Store.CreateTasks(ctx, tasks); err != nil {
		return nil, err
	}

	select {
	case o.queue <- job.ID:
	default:
		_ = o.svc.Store.UpdateJobStatus(ctx, job.ID, store.JobFailed, "job queue full")
		return nil, faults.New(faults.KindInternal, "job queue full")
	}

	// The submission carries per-task settings the task loop needs; stash
	// them in memory keyed by job.
	o.rememberSettings(job.ID, taskSettings{
		language: req.Language,
		provider: req.Provider,
		model:    req.Model,
	})

	log.WithComponent("orchestrator").Info().
		Str(log.FieldJobID, job.ID).
		Str("tier", limits.tierName).
		Int("videos", len(entries)).
		Msg("job accepted")
	return job, nil
}

// Cancel stops a job. Finished tasks keep their transcripts; everything
// still pending is marked failed.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.svc.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.Active() {
		return faults.Newf(faults.KindInternal, "job is already %s", job.Status)
	}

	if err := o.svc.Store.UpdateJobStatus(ctx, jobID, store.JobCancelled, "cancelled by user"); err != nil {
		return err
	}
	metrics.JobTransitions.WithLabelValues(string(job.Status), string(store.JobCancelled)).Inc()

	// Every task killed here counts as failed, keeping
	// completed + failed == total on the terminal job.
	n, err := o.svc.Store.FailPendingTasks(ctx, jobID, "cancelled by user")
	if err != nil {
		return err
	}
	if n > 0 {
		if err := o.svc.Store.AddJobProgress(ctx, jobID, 0, n); err != nil {
			return err
		}
	}

	o.mu.Lock()
	cancel, running := o.controls[jobID]
	o.mu.Unlock()
	if running {
		cancel()
	}
	log.WithComponent("orchestrator").Info().Str(log.FieldJobID, jobID).Msg("job cancelled")
	return nil
}

// Pause halts a job between tasks. A paused job keeps its concurrency slot.
func (o *Orchestrator) Pause(ctx context.Context, jobID string) error {
	job, err := o.svc.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != store.JobPending && job.Status != store.JobProcessing {
		return faults.Newf(faults.KindInternal, "cannot pause a %s job", job.Status)
	}
	metrics.JobTransitions.WithLabelValues(string(job.Status), string(store.JobPaused)).Inc()
	return o.svc.Store.UpdateJobStatus(ctx, jobID, store.JobPaused, "")
}

// Resume continues a paused job. A running worker picks the change up at
// its next poll; a job paused before pickup re-enters the queue as pending.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) error {
	job, err := o.svc.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != store.JobPaused {
		return faults.Newf(faults.KindInternal, "cannot resume a %s job", job.Status)
	}

	o.mu.Lock()
	_, running := o.controls[jobID]
	o.mu.Unlock()

	next := store.JobProcessing
	if !running {
		next = store.JobPending
	}
	if err := o.svc.Store.UpdateJobStatus(ctx, jobID, next, ""); err != nil {
		return err
	}
	metrics.JobTransitions.WithLabelValues(string(store.JobPaused), string(next)).Inc()

	if !running {
		select {
		case o.queue <- jobID:
		default:
			return faults.New(faults.KindInternal, "job queue full")
		}
	}
	return nil
}

// taskSettings carry submission fields not persisted on the job row.
type taskSettings struct {
	language string
	provider providers.Provider
	model    string
}

var defaultSettings = taskSettings{provider: providers.Groq}

func (o *Orchestrator) rememberSettings(jobID string, s taskSettings) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.settings == nil {
		o.settings = make(map[string]taskSettings)
	}
	o.settings[jobID] = s
}

func (o *Orchestrator) settingsFor(jobID string) taskSettings {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.settings[jobID]; ok {
		return s
	}
	return defaultSettings
}

func (o *Orchestrator) forgetJob(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.controls, jobID)
	delete(o.settings, jobID)
}
