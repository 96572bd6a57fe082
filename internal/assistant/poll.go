package assistant

import (
	"context"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/upstream"
)

// JobState is the state of an upstream run.
type JobState string

const (
	JobQueued         JobState = "queued"
	JobInProgress     JobState = "in_progress"
	JobRequiresAction JobState = "requires_action"
	JobCancelling     JobState = "cancelling"
	JobCompleted      JobState = "completed"
	JobFailed         JobState = "failed"
	JobCancelled      JobState = "cancelled"
	JobExpired        JobState = "expired"
	JobIncomplete     JobState = "incomplete"
)

// StateOf returns the job state of a run status.
func StateOf(status goopenai.RunStatus) JobState { return JobState(status) }

// IsTerminal reports whether polling can stop. requires_action and
// cancelling keep polling; unrecognized states are terminal.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobQueued, JobInProgress, JobRequiresAction, JobCancelling:
		return false
	}
	return true
}

// Succeeded reports whether s is the only successful terminal state.
func (s JobState) Succeeded() bool { return s == JobCompleted }

// wait polls the run every PollInterval until it leaves the pending
// states, MaxWait or MaxPolls is exhausted, or ctx ends.
func (h *Handler) wait(ctx context.Context, threadID string, run goopenai.Run) (goopenai.Run, error) {
	deadline := time.Now().Add(h.cfg.MaxWait)
	polls := 0
	for {
		if h.cfg.MaxPolls > 0 && polls >= h.cfg.MaxPolls {
			return run, apierr.New(apierr.KindTimeout, Endpoint,
				"run %s still %s after %d polls", run.ID, run.Status, polls)
		}
		current, err := h.api.RetrieveRun(ctx, threadID, run.ID)
		polls++
		if err != nil {
			return run, upstream.Classify(Endpoint, err)
		}
		run = current
		h.log.Debug("assistant.run.status",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.Int("poll", polls),
		)

		if state := StateOf(run.Status); state.IsTerminal() {
			if state.Succeeded() {
				return run, nil
			}
			msg := ""
			if run.LastError != nil {
				msg = ": " + run.LastError.Message
			}
			h.log.Warn("assistant.run.failed", zap.String("run_id", run.ID), zap.String("status", string(run.Status)))
			return run, apierr.New(apierr.KindJobFailed, Endpoint, "run %s ended with status %s%s", run.ID, run.Status, msg)
		}

		if !time.Now().Add(h.cfg.PollInterval).Before(deadline) {
			return run, apierr.New(apierr.KindTimeout, Endpoint,
				"run %s still %s after %s", run.ID, run.Status, h.cfg.MaxWait)
		}
		timer := time.NewTimer(h.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return run, ctx.Err()
		case <-timer.C:
		}
	}
}
