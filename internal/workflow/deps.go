// Package workflow contains the handlers the engine runs for each action
// kind: the build pipeline, job submission, authentication and the session
// bootstrap. Handlers read the snapshot they were started with, call the
// remote service through provider.Provider and emit follow-up actions.
package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/archive"
	"github.com/lei/streams-build/internal/credstore"
	"github.com/lei/streams-build/internal/engine"
	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/provider"
	"github.com/lei/streams-build/internal/scheduler"
	"github.com/lei/streams-build/internal/state"
	"github.com/lei/streams-build/pkg/logger"
)

// Notifier is told about progress the user should see
type Notifier interface {
	Info(title, detail string)
	Success(title, detail string)
	Warning(title, detail string)
	BuildStatus(identifier string, status models.BuildStatus, lastActivity time.Time)
	SubmissionStatus(submissionID string, status models.SubmissionStatus)
	BundleDownloaded(buildID string, artifact models.Artifact, path string, size int64)
}

// Presenter shows failed workflows to the user
type Presenter interface {
	PresentError(source action.Kind, err error)
}

// Prompter asks for submission-time parameter values. The answer comes back
// as a ResolveSubmissionParams action.
type Prompter interface {
	PromptSubmissionParams(req action.AwaitSubmissionParams)
}

// Opener opens a URL for the user
type Opener interface {
	OpenURL(url string) error
}

// ToolkitCache decides which toolkit indexes to fetch and stores them.
// dir is the cache directory from state and may be empty.
type ToolkitCache interface {
	NeedsCaching(dir string, list []models.Toolkit) []models.Toolkit
	CacheIndex(dir string, tk models.Toolkit, index []byte) error
	Refreshed(dir string, list []models.Toolkit) error
}

// Deps are the collaborators shared by all workflows
type Deps struct {
	Provider  provider.Provider
	Archives  archive.Builder
	Creds     credstore.Store
	Toolkits  ToolkitCache
	Notifier  Notifier
	Presenter Presenter
	Prompter  Prompter
	Opener    Opener
	Clock     scheduler.Clock
	Timings   scheduler.Timings
	Logger    *logger.Logger
	// NewID generates parameter workflow ids
	NewID func() string
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = scheduler.Real()
	}
	d.Timings = d.Timings.WithDefaults()
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.Notifier == nil {
		d.Notifier = nop{}
	}
	if d.Presenter == nil {
		d.Presenter = nop{}
	}
	if d.Prompter == nil {
		d.Prompter = nop{}
	}
	if d.Opener == nil {
		d.Opener = nop{}
	}
	return d
}

type nop struct{}

func (nop) Info(string, string)                                     {}
func (nop) Success(string, string)                                  {}
func (nop) Warning(string, string)                                  {}
func (nop) BuildStatus(string, models.BuildStatus, time.Time)       {}
func (nop) SubmissionStatus(string, models.SubmissionStatus)        {}
func (nop) BundleDownloaded(string, models.Artifact, string, int64) {}
func (nop) PresentError(action.Kind, error)                         {}
func (nop) PromptSubmissionParams(action.AwaitSubmissionParams)     {}
func (nop) OpenURL(string) error                                    { return nil }

// All returns every workflow bound to d
func All(d Deps) []engine.Workflow {
	d = d.withDefaults()
	var out []engine.Workflow
	out = append(out, buildWorkflows(d)...)
	out = append(out, submitWorkflows(d)...)
	out = append(out, connectionWorkflows(d)...)
	out = append(out, sessionWorkflows(d)...)
	return out
}

func on(name string, run engine.Handler, kinds ...action.Kind) engine.Workflow {
	return engine.Workflow{Name: name, Kinds: kinds, Run: run}
}

func buildTarget(s state.State) provider.Target {
	return provider.Target{URL: state.BuildRestURL(s), Token: state.InstanceToken(s)}
}

func toolkitTarget(s state.State) provider.Target {
	return provider.Target{URL: state.ToolkitRestURL(s), Token: state.InstanceToken(s)}
}

func restTarget(s state.State) provider.Target {
	return provider.Target{URL: state.RestURL(s), Token: state.InstanceToken(s)}
}

func platformTarget(s state.State) provider.Target {
	return provider.Target{URL: state.PlatformURL(s), Token: state.PlatformToken(s)}
}

// renewAfter waits d and reports whether the session that scheduled the
// renewal is still current. A reset in the meantime bumps the epoch.
func (d Deps) renewAfter(ctx context.Context, e engine.Emitter, epoch uint64, wait time.Duration) bool {
	if err := scheduler.Delay(ctx, d.Clock, wait); err != nil {
		return false
	}
	if state.SessionEpoch(e.State()) != epoch {
		d.Logger.Info("workflow: renewal dropped after reset", "epoch", epoch)
		return false
	}
	return true
}

// replayQueued returns the parked action and the clear that follows it
func replayQueued(s state.State) []action.Action {
	queued := state.QueuedAction(s)
	if queued == nil {
		return nil
	}
	return []action.Action{queued, action.ClearQueuedAction{}}
}

func (d Deps) rememberCredentials(username, password string, remember bool) {
	if d.Creds == nil || username == "" {
		return
	}
	var err error
	if remember {
		err = d.Creds.Add(username, password)
	} else {
		err = d.Creds.Delete(username)
	}
	if err != nil {
		d.Logger.Warn("workflow: credential store update failed", "username", username, "error", err)
	}
}
