package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forgemedia/creator-platform/internal/engine"
	"github.com/forgemedia/creator-platform/internal/generation"
	"github.com/forgemedia/creator-platform/internal/store/rabbitmq"
	"github.com/sirupsen/logrus"
)

// StatusStore is the live-record surface the runner writes as a job moves
// through its lifetime.
type StatusStore interface {
	SetRunning(ctx context.Context, jobID string) error
	SetComplete(ctx context.Context, jobID string, result json.RawMessage) error
	SetFailed(ctx context.Context, jobID string, errMsg string) error
}

// Engine hands remote work to the external workflow engine.
type Engine interface {
	Submit(ctx context.Context, req engine.Request) error
}

// ErrTransient wraps failures where the entity is still non-terminal and
// re-running the task is safe: interrupted mid-run, or the entity row could
// not even be loaded. The consumer requeues these instead of dead-lettering,
// so an interrupted task does not strand its entity IN_PROGRESS forever.
var ErrTransient = errors.New("transient failure")

type target struct {
	variant generation.Variant
	repo    *generation.Repo
}

// Runner executes dequeued tasks. Local variants produce their result
// in-process; remote variants hand off to the engine and leave the entity
// waiting for the callback gateway.
type Runner struct {
	targets      map[string]target
	jobs         StatusStore
	engine       Engine
	pieceLatency time.Duration
	log          *logrus.Logger
}

func NewRunner(jobs StatusStore, eng Engine, pieceLatency time.Duration, log *logrus.Logger) *Runner {
	return &Runner{
		targets:      make(map[string]target),
		jobs:         jobs,
		engine:       eng,
		pieceLatency: pieceLatency,
		log:          log,
	}
}

// Register wires a variant's task name to its repo. Unregistered tasks are
// rejected by Run.
func (r *Runner) Register(v generation.Variant, repo *generation.Repo) {
	r.targets[v.TaskName] = target{variant: v, repo: repo}
}

// Run processes one delivery. Domain failures (bad params, engine refusal,
// a panicking synthesizer) mark the entity FAILED and return nil so the
// delivery is acked; infrastructure errors (DB unreachable, context
// cancelled mid-run) come back wrapped in ErrTransient for requeue, and
// only poison messages (unknown task) return a plain error for the DLQ.
func (r *Runner) Run(ctx context.Context, msg rabbitmq.TaskMessage) (err error) {
	t, ok := r.targets[msg.Task]
	if !ok {
		return fmt.Errorf("unknown task %q", msg.Task)
	}

	e, err := t.repo.GetByID(ctx, msg.EntityID)
	if err != nil {
		return fmt.Errorf("%w: load entity %s: %v", ErrTransient, msg.EntityID, err)
	}
	if e.Status.Terminal() {
		r.log.WithFields(logrus.Fields{"entity_id": e.ID, "status": e.Status}).
			Info("skipping terminal entity")
		return nil
	}

	if serr := r.jobs.SetRunning(ctx, msg.JobID); serr != nil {
		r.log.WithError(serr).WithField("job_id", msg.JobID).Warn("set running failed")
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.fail(ctx, t, msg, fmt.Sprintf("task panic: %v", rec))
			err = nil
		}
	}()

	spec, perr := t.variant.Params(e.Params)
	if perr != nil {
		r.fail(ctx, t, msg, fmt.Sprintf("stored parameters rejected: %v", perr))
		return nil
	}

	if t.variant.Remote {
		return r.runRemote(ctx, t, msg, e, spec)
	}
	return r.runLocal(ctx, t, msg, e, spec)
}

func (r *Runner) runRemote(ctx context.Context, t target, msg rabbitmq.TaskMessage, e *generation.Entity, spec generation.ParamSpec) error {
	var p generation.PlanParams
	if err := json.Unmarshal(e.Params, &p); err != nil {
		r.fail(ctx, t, msg, fmt.Sprintf("decode plan parameters: %v", err))
		return nil
	}

	// Flip to PROCESSING_REMOTE before the handoff: a fast engine callback
	// must find the entity already in its expected source state. MarkFailed
	// stays legal from PROCESSING_REMOTE if the submit falls through.
	if err := t.repo.MarkProcessingRemote(ctx, e.ID); err != nil {
		if errors.Is(err, generation.ErrInvalidTransition) {
			r.log.WithFields(logrus.Fields{"entity_id": e.ID}).
				Info("skipping entity no longer in progress")
			return nil
		}
		return fmt.Errorf("%w: mark processing_remote %s: %v", ErrTransient, e.ID, err)
	}

	req := engine.Request{
		EntityID:  e.ID,
		UserID:    e.UserID,
		Topic:     strings.Join(p.Themes, ", "),
		Tone:      p.ToneOfVoice,
		Platforms: p.TargetPlatforms,
		Pieces:    spec.Cost,
	}
	if err := r.engine.Submit(ctx, req); err != nil {
		r.fail(ctx, t, msg, fmt.Sprintf("engine handoff: %v", err))
		return nil
	}
	// The queue job is done once the engine holds the work; entity progress
	// now depends on the callback.
	if err := r.jobs.SetComplete(ctx, msg.JobID, nil); err != nil {
		r.log.WithError(err).WithField("job_id", msg.JobID).Warn("set complete failed")
	}
	return nil
}

func (r *Runner) runLocal(ctx context.Context, t target, msg rabbitmq.TaskMessage, e *generation.Entity, spec generation.ParamSpec) error {
	// Simulated generation latency, proportional to the amount of content.
	wait := time.Duration(spec.Cost) * r.pieceLatency
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
		case <-timer.C:
		}
	}

	result, err := r.synthesize(t.variant, e)
	if err != nil {
		r.fail(ctx, t, msg, fmt.Sprintf("generate content: %v", err))
		return nil
	}

	if err := t.repo.MarkCompleted(ctx, e.ID, result); err != nil {
		// Most likely cancelled while we worked; the credit stays spent and
		// the produced content is discarded.
		r.log.WithError(err).WithField("entity_id", e.ID).Warn("mark completed")
		return nil
	}
	if err := r.jobs.SetComplete(ctx, msg.JobID, result); err != nil {
		r.log.WithError(err).WithField("job_id", msg.JobID).Warn("set complete failed")
	}
	return nil
}

func (r *Runner) synthesize(v generation.Variant, e *generation.Entity) ([]byte, error) {
	switch v.Name {
	case "campaign":
		var p generation.CampaignParams
		if err := json.Unmarshal(e.Params, &p); err != nil {
			return nil, err
		}
		type piece struct {
			Platform string `json:"platform"`
			Format   string `json:"format"`
			Caption  string `json:"caption"`
		}
		pieces := make([]piece, 0, p.ContentCount)
		for i := 0; i < p.ContentCount; i++ {
			pieces = append(pieces, piece{
				Platform: p.Platforms[i%len(p.Platforms)],
				Format:   "video",
				Caption:  fmt.Sprintf("%s: %s (%s)", p.InfluencerName, p.Topic, p.ToneOfVoice),
			})
		}
		return json.Marshal(map[string]any{
			"campaign":     p.Name,
			"pieces":       pieces,
			"generated_at": time.Now().UTC(),
		})
	case "research":
		var p generation.ResearchParams
		if err := json.Unmarshal(e.Params, &p); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{
			"topic": p.SearchTopic,
			"sources": []string{
				"https://trends.example.com/" + e.ID,
				"https://industry-reports.example.com/" + e.ID,
			},
			"insights": []string{
				fmt.Sprintf("Audience interest in %q is concentrated in short-form video.", p.SearchTopic),
				fmt.Sprintf("Top creators covering %q post 3-5 times per week.", p.SearchTopic),
			},
			"generated_at": time.Now().UTC(),
		})
	default:
		return nil, fmt.Errorf("no local synthesizer for variant %q", v.Name)
	}
}

func (r *Runner) fail(ctx context.Context, t target, msg rabbitmq.TaskMessage, reason string) {
	r.log.WithFields(logrus.Fields{"entity_id": msg.EntityID, "task": msg.Task}).
		Error(reason)
	if err := t.repo.MarkFailed(ctx, msg.EntityID, reason); err != nil {
		r.log.WithError(err).WithField("entity_id", msg.EntityID).Error("mark failed")
	}
	if err := r.jobs.SetFailed(ctx, msg.JobID, reason); err != nil {
		r.log.WithError(err).WithField("job_id", msg.JobID).Warn("set failed record")
	}
}
