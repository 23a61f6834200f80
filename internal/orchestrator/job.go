// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/tubescribe/tubescribe/internal/archive"
	"github.com/tubescribe/tubescribe/internal/faults"
	"github.com/tubescribe/tubescribe/internal/log"
	"github.com/tubescribe/tubescribe/internal/metrics"
	"github.com/tubescribe/tubescribe/internal/quota"
	"github.com/tubescribe/tubescribe/internal/store"
	"github.com/tubescribe/tubescribe/internal/transcribe"
	"github.com/tubescribe/tubescribe/internal/transcript"
	"github.com/tubescribe/tubescribe/internal/webhook"
)

func (o *Orchestrator) processJob(ctx context.Context, jobID string) {
	logger := log.WithComponent("orchestrator").With().Str(log.FieldJobID, jobID).Logger()

	job, err := o.svc.Store.GetJob(ctx, jobID)
	if err != nil {
		logger.Error().Err(err).Msg("job load failed")
		return
	}
	// Paused jobs wait for a resume before taking a worker; anything
	// beyond pending was cancelled while queued.
	if job.Status == store.JobPaused {
		if !o.waitWhilePaused(ctx, jobID) {
			return
		}
		job, err = o.svc.Store.GetJob(ctx, jobID)
		if err != nil {
			return
		}
	}
	if job.Status != store.JobPending {
		logger.Debug().Str("status", string(job.Status)).Msg("skipping queued job")
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.controls[jobID] = cancel
	o.mu.Unlock()
	defer o.forgetJob(jobID)

	if err := o.svc.Store.UpdateJobStatus(ctx, jobID, store.JobProcessing, ""); err != nil {
		logger.Error().Err(err).Msg("job transition failed")
		return
	}
	metrics.JobTransitions.WithLabelValues(string(store.JobPending), string(store.JobProcessing)).Inc()
	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	settings := o.settingsFor(jobID)
	limits := o.limitsFor(SubmitRequest{
		Principal: principalOf(job),
		Tier:      job.Tier,
	})

	tasks, err := o.svc.Store.ListTasks(ctx, jobID)
	if err != nil {
		logger.Error().Err(err).Msg("task listing failed")
		o.finishJob(ctx, jobID, logger)
		return
	}

	for i, t := range tasks {
		if !o.beforeTask(jobCtx, jobID) {
			break
		}
		if t.Status != store.TaskPending {
			continue
		}
		o.runTask(jobCtx, job, t, settings, false)

		// The courtesy delay guards YouTube from burst traffic; the last
		// task has nothing after it to protect.
		if i < len(tasks)-1 {
			if !sleepCtx(jobCtx, limits.interTaskDelay) {
				break
			}
		}
	}

	// Second chance for tasks that hit transient upstream trouble.
	if jobCtx.Err() == nil {
		retries, err := o.svc.Store.ListTasksByStatus(ctx, jobID, store.TaskRetryPending)
		if err == nil && len(retries) > 0 {
			logger.Info().Int("tasks", len(retries)).Msg("retrying transient failures")
			for _, t := range retries {
				if !o.beforeTask(jobCtx, jobID) {
					break
				}
				o.runTask(jobCtx, job, t, settings, true)
			}
		}
	}

	o.finishJob(ctx, jobID, logger)
}

// beforeTask re-checks the job state between tasks: false stops the loop,
// waiting out any pause.
func (o *Orchestrator) beforeTask(ctx context.Context, jobID string) bool {
	if ctx.Err() != nil {
		return false
	}
	job, err := o.svc.Store.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	switch job.Status {
	case store.JobCancelled, store.JobFailed, store.JobCompleted:
		return false
	case store.JobPaused:
		return o.waitWhilePaused(ctx, jobID)
	}
	return true
}

// waitWhilePaused polls until the job leaves the paused state; false means
// the job should stop.
func (o *Orchestrator) waitWhilePaused(ctx context.Context, jobID string) bool {
	for {
		if !sleepCtx(ctx, o.pausePoll) {
			return false
		}
		job, err := o.svc.Store.GetJob(ctx, jobID)
		if err != nil {
			return false
		}
		switch job.Status {
		case store.JobPaused:
			continue
		case store.JobPending, store.JobProcessing:
			return true
		default:
			return false
		}
	}
}

// runTask acquires one transcript and records the outcome. Transient
// failures park the task for the retry pass unless this already is the
// final attempt.
func (o *Orchestrator) runTask(ctx context.Context, job *store.Job, t *store.Task, settings taskSettings, final bool) {
	logger := log.WithComponent("orchestrator").With().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldTaskID, t.ID).
		Str(log.FieldVideoID, t.VideoID).
		Logger()

	if err := o.svc.Store.UpdateTaskStatus(ctx, t.ID, store.TaskProcessing, ""); err != nil {
		logger.Error().Err(err).Msg("task transition failed")
		return
	}

	rendered, method, language, err := o.acquire(ctx, job, t, settings)
	if err != nil {
		kind := faults.KindOf(err)
		if kind == faults.KindCancelled {
			// The cancel path has already marked the task.
			return
		}
		if faults.Retryable(kind) && !final {
			logger.Warn().Err(err).Msg("task hit transient failure, parking for retry")
			_ = o.svc.Store.UpdateTaskStatus(ctx, t.ID, store.TaskRetryPending, err.Error())
			return
		}
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("task failed")
		_ = o.svc.Store.UpdateTaskStatus(ctx, t.ID, store.TaskFailed, err.Error())
		_ = o.svc.Store.AddJobProgress(ctx, job.ID, 0, 1)
		metrics.TaskOutcomes.WithLabelValues("failed", method).Inc()
		return
	}

	if err := o.svc.Store.CompleteTask(ctx, t.ID, method, language, rendered, t.Title); err != nil {
		logger.Error().Err(err).Msg("task completion write failed")
		return
	}
	_ = o.svc.Store.AddJobProgress(ctx, job.ID, 1, 0)
	metrics.TaskOutcomes.WithLabelValues("completed", method).Inc()
	logger.Info().Str(log.FieldMethod, method).Msg("task completed")
}

// acquire runs the caption ladder and, when permitted, the AI fallback. It
// returns the transcript rendered in the job's output format.
func (o *Orchestrator) acquire(ctx context.Context, job *store.Job, t *store.Task, settings taskSettings) (rendered, method, language string, err error) {
	format := transcript.Format(job.Format)

	var captionErr error
	if job.Method != store.MethodAIOnly {
		captionErr = o.reserveMethod(ctx, job, quota.ResourceCaptionTranscripts, o.opts.Guest.CaptionTranscripts)
		if captionErr == nil {
			res, err := o.svc.Captions.Fetch(ctx, t.VideoID)
			if err == nil {
				out, err := transcript.Render(res.Segments, format)
				if err != nil {
					return "", "captions", res.Language, err
				}
				return out, "captions", res.Language, nil
			}
			captionErr = err
			if faults.KindOf(err) == faults.KindCancelled {
				return "", "captions", "", err
			}
		}
	}

	// Caption-only jobs never touch audio.
	if job.Method == store.MethodCaptionsOnly {
		return "", "captions", "", captionErr
	}

	// The listing duration, when known, rules out over-cap videos before
	// any download work.
	if limit := o.opts.FallbackCapSeconds; limit > 0 && t.DurationSeconds > limit {
		return "", "ai", "", faults.Newf(faults.KindAudioTooLong,
			"video runs %.0fs, over the %.0fs fallback cap", t.DurationSeconds, limit)
	}
	if err := o.reserveMethod(ctx, job, quota.ResourceAITranscripts, o.opts.Guest.AITranscripts); err != nil {
		return "", "ai", "", err
	}

	dl, err := o.svc.Audio.Fetch(ctx, t.VideoID)
	if err != nil {
		return "", "ai", "", err
	}
	if dl == nil {
		return "", "ai", "", faults.New(faults.KindDownloadFailed, "no download strategy succeeded")
	}
	defer func() {
		if rmErr := os.Remove(dl.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.WithComponent("orchestrator").Warn().Err(rmErr).Str(log.FieldPath, dl.Path).Msg("audio cleanup failed")
		}
	}()

	res, err := o.svc.Engine.Transcribe(ctx, transcribe.Request{
		AudioPath:   dl.Path,
		Provider:    settings.provider,
		Model:       settings.model,
		Language:    settings.language,
		MaxDuration: o.opts.FallbackCapSeconds,
	})
	if err != nil {
		return "", "ai", "", err
	}

	// AI output has no per-segment timing; the transcript renders as one
	// span covering the audio.
	segs := []transcript.Segment{{Text: res.Text, Start: 0, Duration: res.AudioDuration}}
	out, err := transcript.Render(segs, format)
	if err != nil {
		return "", "ai", "", err
	}
	return out, "ai", settings.language, nil
}

// finishJob packages completed transcripts, settles the final status and
// fires the webhook.
func (o *Orchestrator) finishJob(ctx context.Context, jobID string, logger zerolog.Logger) {
	// The reload must survive a cancelled worker context; the shutdown
	// branch below still has bookkeeping to do.
	job, err := o.svc.Store.GetJob(context.Background(), jobID)
	if err != nil {
		logger.Error().Err(err).Msg("job reload failed")
		return
	}
	if job.Status == store.JobCancelled {
		o.notify(job)
		return
	}
	if ctx.Err() != nil {
		bg := context.Background()
		if n, err := o.svc.Store.FailPendingTasks(bg, jobID, "interrupted by shutdown"); err == nil && n > 0 {
			_ = o.svc.Store.AddJobProgress(bg, jobID, 0, n)
		}
		_ = o.svc.Store.UpdateJobStatus(bg, jobID, store.JobFailed, "interrupted by shutdown")
		return
	}

	completed, err := o.svc.Store.ListTasksByStatus(ctx, jobID, store.TaskCompleted)
	if err != nil {
		logger.Error().Err(err).Msg("completed task listing failed")
		return
	}

	if len(completed) > 0 && o.opts.ArtifactDir != "" {
		entries := make([]archive.Entry, 0, len(completed))
		for _, t := range completed {
			entries = append(entries, archive.Entry{
				Title:   t.Title,
				VideoID: t.VideoID,
				Format:  job.Format,
				Body:    []byte(t.Transcript),
			})
		}
		if data, err := archive.Build(entries); err != nil {
			logger.Error().Err(err).Msg("archive build failed")
		} else if path, err := archive.Write(o.opts.ArtifactDir, jobID, data); err != nil {
			logger.Error().Err(err).Msg("archive write failed")
		} else if err := o.svc.Store.SetJobZip(ctx, jobID, path); err != nil {
			logger.Error().Err(err).Msg("archive path write failed")
		}
	}

	final := store.JobCompleted
	msg := ""
	if len(completed) == 0 {
		final = store.JobFailed
		msg = "no videos could be transcribed"
	}
	if err := o.svc.Store.UpdateJobStatus(ctx, jobID, final, msg); err != nil {
		logger.Error().Err(err).Msg("final transition failed")
		return
	}
	metrics.JobTransitions.WithLabelValues(string(store.JobProcessing), string(final)).Inc()
	logger.Info().
		Str("status", string(final)).
		Int("completed", len(completed)).
		Msg("job finished")

	job, err = o.svc.Store.GetJob(ctx, jobID)
	if err == nil {
		o.notify(job)
	}
}

func (o *Orchestrator) notify(job *store.Job) {
	if job.WebhookURL == "" || o.svc.Notifier == nil {
		return
	}
	// Delivery happens off the worker; a slow endpoint must not hold a
	// job slot.
	go o.svc.Notifier.Notify(context.Background(), job.WebhookURL, webhook.PayloadFor(job, time.Now()))
}

func principalOf(job *store.Job) quota.Principal {
	return quota.Principal{Type: job.OwnerType, ID: job.OwnerID}
}

// reserveMethod consumes one unit of a guest's per-method allowance.
// Authenticated owners are bounded by their tier, not per method.
func (o *Orchestrator) reserveMethod(ctx context.Context, job *store.Job, resource string, limit int) error {
	if job.OwnerType != store.OwnerGuest {
		return nil
	}
	p := principalOf(job)
	ok, err := o.svc.Ledger.CheckAndIncrement(ctx, p, resource, 1, int64(limit))
	if err != nil {
		return err
	}
	if !ok {
		metrics.QuotaDenials.WithLabelValues(resource).Inc()
		return faults.Wrap(faults.KindQuotaExceeded, "guest allowance exhausted",
			quota.NewDenial(ctx, o.svc.Ledger, p, resource, int64(limit)))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
