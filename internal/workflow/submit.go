package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/engine"
	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/provider"
	"github.com/lei/streams-build/internal/provider/streams"
	"github.com/lei/streams-build/internal/scheduler"
	"github.com/lei/streams-build/internal/state"
)

func submitWorkflows(d Deps) []engine.Workflow {
	return []engine.Workflow{
		on("params-from-adl", d.paramsFromADL, action.KindGetParamsFromADL),
		on("params-from-bundles", d.paramsFromBundles, action.KindGetParamsFromBundles),
		on("prompt-params", d.promptParams, action.KindAwaitSubmissionParams),
		on("resume-submission", d.resumeSubmission, action.KindResolveSubmissionParams),
		on("submit-applications", d.submitApplications, action.KindSubmitApplications),
		on("submit-from-bundle", d.submitFromBundle, action.KindSubmitFromBundle),
		on("submit-status", d.submitStatus, action.KindGetSubmitStatus),
		on("submit-status-loop", d.submitStatusLoop, action.KindSubmitStatusReceived),
	}
}

// paramsFromADL reads the submission-time values every artifact of a build
// declares. Declared values suspend the submission until they are resolved.
func (d Deps) paramsFromADL(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	id := a.(action.GetSubmissionParamsFromADL).BuildID
	target := buildTarget(s)
	artifacts := state.BuildArtifacts(s, id)

	declared := make([][]models.SubmissionTimeParam, len(artifacts))
	g, gctx := errgroup.WithContext(ctx)
	for i, art := range artifacts {
		g.Go(func() error {
			data, err := d.Provider.GetADL(gctx, target, id, art.ID)
			if err != nil {
				return fmt.Errorf("artifact %s: %w", art.Name, err)
			}
			params, err := streams.ParseADL(data)
			if err != nil {
				return fmt.Errorf("artifact %s: %w", art.Name, err)
			}
			declared[i] = params
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	params := mergeParams(declared...)
	if len(params) == 0 {
		e.Emit(action.SubmitApplications{BuildID: id, Params: []models.SubmitParameter{}})
		return nil
	}
	e.Emit(action.AwaitSubmissionParams{
		WorkflowID: d.NewID(),
		Source:     action.ParamSourceADL,
		BuildID:    id,
		Params:     params,
	})
	return nil
}

// mergeParams concatenates declarations, keeping the first of each name
func mergeParams(lists ...[]models.SubmissionTimeParam) []models.SubmissionTimeParam {
	seen := make(map[string]bool)
	var out []models.SubmissionTimeParam
	for _, list := range lists {
		for _, p := range list {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	return out
}

// paramsFromBundles uploads local bundles and reads the values each one
// declares. Bundles are handled independently; one failing does not stop
// the others.
func (d Deps) paramsFromBundles(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	bundles := a.(action.GetSubmissionParamsFromBundles).Bundles
	target := restTarget(s)

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	next := make([]action.Action, len(bundles))
	for i, b := range bundles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			act, err := d.bundleSubmission(ctx, target, b)
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("bundle %s: %w", filepath.Base(b.Path), err))
				mu.Unlock()
				return
			}
			next[i] = act
		}()
	}
	wg.Wait()

	// Dispatch drops the nil slots of failed bundles
	e.Emit(next...)
	return errs
}

func (d Deps) bundleSubmission(ctx context.Context, target provider.Target, b models.Bundle) (action.Action, error) {
	bundleID, err := d.Provider.UploadApplicationBundle(ctx, target, b.Path)
	if err != nil {
		return nil, err
	}
	d.Logger.Info("workflow: application bundle uploaded", "bundle_id", bundleID, "path", b.Path)

	jobName := b.JobName
	if jobName == "" {
		jobName = strings.TrimSuffix(filepath.Base(b.Path), filepath.Ext(b.Path))
	}

	var params []models.SubmissionTimeParam
	data, err := streams.ADLFromBundle(b.Path)
	switch {
	case errors.Is(err, streams.ErrNoADL):
	case err != nil:
		return nil, err
	default:
		if params, err = streams.ParseADL(data); err != nil {
			return nil, err
		}
	}

	if len(params) == 0 {
		return action.SubmitFromBundle{
			BundleID: bundleID,
			JobGroup: b.JobGroup,
			JobName:  jobName,
			Params:   []models.SubmitParameter{},
		}, nil
	}
	return action.AwaitSubmissionParams{
		WorkflowID: d.NewID(),
		Source:     action.ParamSourceBundle,
		BundleID:   bundleID,
		JobGroup:   b.JobGroup,
		JobName:    jobName,
		Params:     params,
	}, nil
}

func (d Deps) promptParams(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	req := a.(action.AwaitSubmissionParams)
	d.Logger.Info("workflow: waiting for submission-time values",
		"workflow_id", req.WorkflowID,
		"params", len(req.Params))
	d.Prompter.PromptSubmissionParams(req)
	return nil
}

// resumeSubmission continues a suspended submission. Only the resolve that
// flipped the request runs it, so a repeated resolve is ignored.
func (d Deps) resumeSubmission(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	id := a.(action.ResolveSubmissionParams).WorkflowID
	req, ok := state.GetParamRequest(s, id)
	if !ok || req.Status != state.ParamsResolved || req.ResolvedAt != s.Version {
		d.Logger.Debug("workflow: ignoring resolve", "workflow_id", id)
		return nil
	}

	values := req.Values
	if values == nil {
		values = []models.SubmitParameter{}
	}

	var submit action.Action
	switch req.Source {
	case action.ParamSourceBundle:
		submit = action.SubmitFromBundle{
			BundleID: req.BundleID,
			JobGroup: req.JobGroup,
			JobName:  req.JobName,
			Params:   values,
		}
	default:
		submit = action.SubmitApplications{BuildID: req.BuildID, Params: values}
	}
	e.Emit(submit, action.ClearSubmissionParams{WorkflowID: id})
	return nil
}

// submitApplications submits one job per artifact of a build
func (d Deps) submitApplications(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	req := a.(action.SubmitApplications)
	target := restTarget(s)
	token := state.InstanceToken(s)

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	artifacts := state.BuildArtifacts(s, req.BuildID)
	next := make([]action.Action, len(artifacts))
	for i, art := range artifacts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := d.Provider.SubmitJob(ctx, target, provider.SubmitJobRequest{
				Application: art.ApplicationBundle,
				Params:      req.Params,
				BearerToken: token,
			})
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("artifact %s: %w", art.Name, err))
				mu.Unlock()
				return
			}
			d.Notifier.Info("Job submission created", fmt.Sprintf("%s: submission %s", art.Name, info.ID))
			next[i] = action.GetSubmitStatus{SubmissionID: info.ID, BuildID: req.BuildID}
		}()
	}
	wg.Wait()

	e.Emit(next...)
	return errs
}

func (d Deps) submitFromBundle(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	req := a.(action.SubmitFromBundle)

	info, err := d.Provider.SubmitJob(ctx, restTarget(s), provider.SubmitJobRequest{
		Application: req.BundleID,
		JobGroup:    req.JobGroup,
		JobName:     req.JobName,
		Params:      req.Params,
		BearerToken: state.InstanceToken(s),
	})
	if err != nil {
		return err
	}
	d.Notifier.Info("Job submission created", fmt.Sprintf("%s: submission %s", req.JobName, info.ID))

	e.Emit(action.GetSubmitStatus{SubmissionID: info.ID})
	return nil
}

// submitStatus mirrors buildStatus for job submissions
func (d Deps) submitStatus(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	req := a.(action.GetSubmitStatus)
	target := restTarget(s)

	var (
		info              models.SubmissionInfo
		logs              []string
		statusErr, logErr error
		g                 errgroup.Group
	)
	g.Go(func() error {
		info, statusErr = d.Provider.GetSubmission(ctx, target, req.SubmissionID)
		return nil
	})
	g.Go(func() error {
		logs, logErr = d.Provider.GetSubmissionLogMessages(ctx, target, req.SubmissionID)
		return nil
	})
	g.Wait()

	out := make([]action.Action, 0, 3)
	if statusErr != nil {
		out = append(out, action.Error{Source: a, Err: statusErr})
	} else {
		out = append(out, action.SubmitStatusFulfilled{SubmissionID: req.SubmissionID, BuildID: req.BuildID, Info: info})
	}
	if logErr != nil {
		out = append(out, action.Error{Source: a, Err: logErr})
	} else {
		out = append(out, action.SubmitLogFulfilled{SubmissionID: req.SubmissionID, Messages: logs})
	}
	if statusErr == nil {
		out = append(out, action.SubmitStatusReceived{SubmissionID: req.SubmissionID, BuildID: req.BuildID})
	}
	e.Emit(out...)
	return nil
}

func (d Deps) submitStatusLoop(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	req := a.(action.SubmitStatusReceived)
	status := state.SubmitStatus(s, req.SubmissionID)
	d.Notifier.SubmissionStatus(req.SubmissionID, status)

	if !status.Incomplete() {
		return nil
	}
	if err := scheduler.Delay(ctx, d.Clock, d.Timings.PollInterval); err != nil {
		return err
	}
	e.Emit(action.GetSubmitStatus{SubmissionID: req.SubmissionID, BuildID: req.BuildID})
	return nil
}
