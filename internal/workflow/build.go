package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/archive"
	"github.com/lei/streams-build/internal/engine"
	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/provider"
	"github.com/lei/streams-build/internal/scheduler"
	"github.com/lei/streams-build/internal/state"
)

const buildInactivityTimeout = 15

func buildWorkflows(d Deps) []engine.Workflow {
	return []engine.Workflow{
		on("create-build", d.createBuild, action.KindNewBuild),
		on("build-source-archive", d.buildSourceArchive, action.KindUploadSource),
		on("upload-source", d.uploadSource, action.KindSourceArchiveCreated),
		on("start-build", d.startBuild, action.KindStartBuild),
		on("build-status", d.buildStatus, action.KindGetBuildStatus),
		on("build-status-loop", d.buildStatusLoop, action.KindBuildStatusReceived),
		on("build-artifacts", d.buildArtifacts, action.KindGetBuildArtifacts),
		on("post-build", d.postBuild, action.KindBuildArtifactsFulfilled),
		on("download-artifacts", d.downloadArtifacts, action.KindDownloadArtifacts),
		on("refresh-toolkits", d.refreshToolkits, action.KindRefreshToolkits),
	}
}

// buildName is the name the build service shows for a build
func buildName(fqn, makefilePath, appRoot string) string {
	switch {
	case fqn != "":
		return fqn
	case makefilePath != "":
		return filepath.Base(filepath.Dir(makefilePath))
	default:
		return filepath.Base(appRoot)
	}
}

func (d Deps) createBuild(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	req := a.(action.NewBuild)

	id, err := d.Provider.CreateBuild(ctx, buildTarget(s), provider.CreateBuildRequest{
		Name:              buildName(req.FQN, req.MakefilePath, req.AppRoot),
		Originator:        s.Session.BuildOriginator,
		InactivityTimeout: buildInactivityTimeout,
		Incremental:       true,
	})
	if err != nil {
		return err
	}

	// the staged request may have been replaced while the call was in flight
	pending, ok := state.GetPendingBuild(e.State())
	if !ok {
		pending = state.PendingBuild{
			AppRoot:         req.AppRoot,
			ToolkitRootPath: req.ToolkitRootPath,
			FQN:             req.FQN,
			MakefilePath:    req.MakefilePath,
			SourceArchive:   req.SourceArchive,
		}
	}

	d.Logger.Info("workflow: build created", "build_id", id, "app_root", pending.AppRoot)
	e.Emit(action.UploadSource{
		BuildID:         id,
		AppRoot:         pending.AppRoot,
		ToolkitRootPath: pending.ToolkitRootPath,
		FQN:             pending.FQN,
		MakefilePath:    pending.MakefilePath,
		SourceArchive:   pending.SourceArchive,
	})
	return nil
}

func (d Deps) buildSourceArchive(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	req := a.(action.UploadSource)

	toolkitRoot := req.ToolkitRootPath
	if toolkitRoot == "" {
		toolkitRoot = s.Session.ToolkitsPathSetting
	}
	if d.Archives == nil {
		return errors.New("no source archive builder configured")
	}
	path, err := d.Archives.BuildSourceArchive(ctx, archive.Request{
		BuildID:          req.BuildID,
		AppRoot:          req.AppRoot,
		ToolkitRootPath:  toolkitRoot,
		ToolkitsCacheDir: s.Session.ToolkitsCacheDir,
		FQN:              req.FQN,
		MakefilePath:     req.MakefilePath,
		SourceArchive:    req.SourceArchive,
	})
	if err != nil {
		return fmt.Errorf("build source archive: %w", err)
	}

	e.Emit(action.SourceArchiveCreated{BuildID: req.BuildID, ArchivePath: path})
	return nil
}

func (d Deps) uploadSource(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	created := a.(action.SourceArchiveCreated)
	defer func() {
		if err := os.Remove(created.ArchivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.Logger.Warn("workflow: failed to remove source archive", "path", created.ArchivePath, "error", err)
		}
	}()

	if err := d.Provider.UploadSource(ctx, buildTarget(s), created.BuildID, created.ArchivePath); err != nil {
		return err
	}

	e.Emit(action.StartBuild{BuildID: created.BuildID})
	return nil
}

func (d Deps) startBuild(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	id := a.(action.StartBuild).BuildID

	if err := d.Provider.StartBuild(ctx, buildTarget(s), id); err != nil {
		return err
	}
	d.Notifier.Info("Build started", state.BuildDisplayIdentifier(s, id))

	if err := scheduler.Delay(ctx, d.Clock, d.Timings.SettleDelay); err != nil {
		return err
	}
	e.Emit(action.GetBuildStatus{BuildID: id})
	return nil
}

// buildStatus fetches status and log messages together. Each call fails on
// its own: a failed log fetch still delivers the status, a failed status
// fetch ends the poll loop.
func (d Deps) buildStatus(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	id := a.(action.GetBuildStatus).BuildID
	target := buildTarget(s)

	var (
		info              models.BuildInfo
		logs              []string
		statusErr, logErr error
		g                 errgroup.Group
	)
	g.Go(func() error {
		info, statusErr = d.Provider.GetBuildStatus(ctx, target, id)
		return nil
	})
	g.Go(func() error {
		logs, logErr = d.Provider.GetBuildLogMessages(ctx, target, id)
		return nil
	})
	g.Wait()

	out := make([]action.Action, 0, 3)
	if statusErr != nil {
		out = append(out, action.Error{Source: a, Err: statusErr})
	} else {
		out = append(out, action.BuildStatusFulfilled{BuildID: id, Info: info})
	}
	if logErr != nil {
		out = append(out, action.Error{Source: a, Err: logErr})
	} else {
		out = append(out, action.BuildLogFulfilled{BuildID: id, Messages: logs})
	}
	if statusErr == nil {
		out = append(out, action.BuildStatusReceived{BuildID: id})
	}
	e.Emit(out...)
	return nil
}

func (d Deps) buildStatusLoop(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	id := a.(action.BuildStatusReceived).BuildID
	b, _ := state.GetBuild(s, id)

	var lastActivity time.Time
	if b.LastActivity > 0 {
		lastActivity = time.UnixMilli(b.LastActivity)
	}
	d.Notifier.BuildStatus(state.BuildDisplayIdentifier(s, id), b.Status, lastActivity)

	switch {
	case b.Status == models.BuildBuilt:
		e.Emit(action.GetBuildArtifacts{BuildID: id})
	case b.Status.InProgress():
		if err := scheduler.Delay(ctx, d.Clock, d.Timings.PollInterval); err != nil {
			return err
		}
		e.Emit(action.GetBuildStatus{BuildID: id})
	}
	return nil
}

func (d Deps) buildArtifacts(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	id := a.(action.GetBuildArtifacts).BuildID

	artifacts, err := d.Provider.GetBuildArtifacts(ctx, buildTarget(s), id)
	if err != nil {
		return err
	}
	e.Emit(action.BuildArtifactsFulfilled{BuildID: id, Artifacts: artifacts})
	return nil
}

// postBuild carries out the post-build intent recorded with the build
func (d Deps) postBuild(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	id := a.(action.BuildArtifactsFulfilled).BuildID

	var next action.Action
	switch state.PostBuildAction(s, id) {
	case models.PostBuildDownload:
		next = action.DownloadArtifacts{BuildID: id}
	case models.PostBuildSubmit:
		next = action.GetSubmissionParamsFromADL{BuildID: id}
	default:
		names := make([]string, 0, len(state.BuildArtifacts(s, id)))
		for _, art := range state.BuildArtifacts(s, id) {
			names = append(names, art.Name)
		}
		d.Notifier.Success("Build succeeded",
			fmt.Sprintf("%s: %s", state.BuildDisplayIdentifier(s, id), strings.Join(names, ", ")))
	}

	if next != nil {
		e.Emit(next, action.PostBuildArtifactsFulfilled{BuildID: id})
	} else {
		e.Emit(action.PostBuildArtifactsFulfilled{BuildID: id})
	}
	return nil
}

// downloadArtifacts fetches every artifact bundle of a build in parallel.
// File system errors are logged per artifact; transport errors are
// reported together once all downloads have finished.
func (d Deps) downloadArtifacts(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	id := a.(action.DownloadArtifacts).BuildID
	target := buildTarget(s)

	var (
		mu    sync.Mutex
		files []string
		errs  error
		wg    sync.WaitGroup
	)
	for _, art := range state.BuildArtifacts(s, id) {
		wg.Add(1)
		go func(art models.Artifact) {
			defer wg.Done()
			path, ok := state.OutputArtifactPath(s, id, art.ID)
			if !ok {
				return
			}

			body, err := d.Provider.DownloadApplicationBundle(ctx, target, id, art.ID)
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("artifact %s: %w", art.Name, err))
				mu.Unlock()
				return
			}
			defer body.Close()

			size, err := writeArtifact(path, body)
			if err != nil {
				d.Logger.Error("workflow: failed to write application bundle",
					"build_id", id,
					"path", path,
					"error", err)
				return
			}
			d.Notifier.BundleDownloaded(id, art, path, size)

			mu.Lock()
			files = append(files, path)
			mu.Unlock()
		}(art)
	}
	wg.Wait()

	e.Emit(action.PostDownloadArtifacts{BuildID: id, Files: files})
	return errs
}

// writeArtifact replaces the file at path with the content of r
func writeArtifact(path string, r io.Reader) (int64, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove stale bundle: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create bundle file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write bundle: %w", err)
	}
	return n, nil
}

func (d Deps) refreshToolkits(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	target := toolkitTarget(s)
	dir := s.Session.ToolkitsCacheDir

	list, err := d.Provider.ListToolkits(ctx, target)
	if err != nil {
		return err
	}
	d.Notifier.Info("Initializing toolkit index cache", fmt.Sprintf("%d toolkit(s) available", len(list)))

	var stale []models.Toolkit
	if d.Toolkits != nil {
		stale = d.Toolkits.NeedsCaching(dir, list)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, tk := range stale {
		g.Go(func() error {
			index, err := d.Provider.GetToolkitIndex(gctx, target, tk.ID)
			if err != nil {
				return fmt.Errorf("toolkit %s: %w", tk.Name, err)
			}
			return d.Toolkits.CacheIndex(dir, tk, index)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if d.Toolkits != nil {
		if err := d.Toolkits.Refreshed(dir, list); err != nil {
			return err
		}
	}
	d.Notifier.Success("Toolkit indexes cached successfully", fmt.Sprintf("%d index(es) updated", len(stale)))

	e.Emit(action.PostRefreshToolkits{Cached: len(stale)})
	return nil
}
