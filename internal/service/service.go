package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/journal"
	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/state"
	"github.com/lei/streams-build/pkg/logger"
)

var (
	// ErrBuildNotFound indicates the requested build doesn't exist
	ErrBuildNotFound = errors.New("build not found")
	// ErrSubmissionNotFound indicates the requested submission doesn't exist
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrParamsNotFound indicates no parameter request awaits values under the id
	ErrParamsNotFound = errors.New("parameter request not found")
	// ErrInstanceNotFound indicates the instance is not in the listed instances
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrNotAuthenticated indicates the intent needs an authenticated instance
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrLoginRejected indicates the platform or instance refused the credentials
	ErrLoginRejected = errors.New("login rejected")
	// ErrInvalidRequest indicates the intent is missing required input
	ErrInvalidRequest = errors.New("invalid request")
	// ErrJournalDisabled indicates no journal is configured
	ErrJournalDisabled = errors.New("journal disabled")
)

// Dispatcher is the part of the engine the service drives
type Dispatcher interface {
	Dispatch(actions ...action.Action)
	State() state.State
}

// Service turns user intents into actions and waits for their outcome
type Service struct {
	engine  Dispatcher
	watcher *Watcher
	journal *journal.Store
	logger  *logger.Logger

	// buildMu keeps one NewBuild in flight; the state stages a single
	// pending build request
	buildMu sync.Mutex
}

// NewService creates a new service instance. watcher must be registered
// as an observer of the engine behind d. store may be nil.
func NewService(d Dispatcher, watcher *Watcher, store *journal.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		engine:  d,
		watcher: watcher,
		journal: store,
		logger:  log,
	}
}

// getLogger retrieves logger from context or falls back to service logger
func (s *Service) getLogger(ctx context.Context) *logger.Logger {
	if ctxLogger := logger.FromContext(ctx); ctxLogger != nil {
		return ctxLogger
	}
	return s.logger
}

// AwaitAction dispatches actions and waits for the first action matching m
func (s *Service) AwaitAction(ctx context.Context, m Match, actions ...action.Action) (action.Action, error) {
	return s.watcher.Await(ctx, s.engine, m, actions...)
}

// workflowErr unwraps an ERROR action into a Go error
func workflowErr(a action.Action) error {
	if e, ok := a.(action.Error); ok {
		if e.Err == nil {
			return fmt.Errorf("%s failed", e.SourceKind())
		}
		return fmt.Errorf("%s: %w", e.SourceKind(), e.Err)
	}
	return nil
}

// LoginRequest carries platform or standalone credentials
type LoginRequest struct {
	Username         string `json:"username"`
	Password         string `json:"password"`
	RememberPassword bool   `json:"remember_password"`
}

// LoginResult describes where the login wizard stands after a login
type LoginResult struct {
	Step      int               `json:"login_step"`
	Instances []models.Instance `json:"instances,omitempty"`
}

// Login authenticates against the platform, or directly against the
// instance for standalone installations. A platform login returns once the
// available instances are listed.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	logger := s.getLogger(ctx)

	if req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidRequest)
	}
	remember := fmt.Sprint(req.RememberPassword)
	staged := []action.Action{
		action.SetFormDataField{Key: action.FieldUsername, Value: req.Username},
		action.SetFormDataField{Key: action.FieldRememberPassword, Value: remember},
	}

	if state.InstanceType(s.engine.State()) == models.InstanceStandalone {
		logger.Debug("service: standalone login", "username", req.Username)
		got, err := s.AwaitAction(ctx,
			Any(
				KindIs(action.KindSetInstanceAuthError),
				FailedFrom(action.KindAuthenticateStandalone, action.KindSetAccessTokenURL),
			),
			append(staged, action.AuthenticateStandalone{
				Username:         req.Username,
				Password:         req.Password,
				RememberPassword: req.RememberPassword,
			})...,
		)
		if err != nil {
			return nil, err
		}
		if err := workflowErr(got); err != nil {
			return nil, err
		}
		if got.(action.SetInstanceAuthError).Failed {
			logger.Warn("service: standalone login rejected", "username", req.Username)
			return nil, ErrLoginRejected
		}
		logger.Info("service: standalone login succeeded", "username", req.Username)
		return &LoginResult{Step: action.LoginStepAuthenticated}, nil
	}

	logger.Debug("service: platform login", "username", req.Username)
	got, err := s.AwaitAction(ctx,
		Any(
			KindIs(action.KindSetInstances),
			func(a action.Action) bool {
				e, ok := a.(action.SetPlatformAuthError)
				return ok && e.Code != 0
			},
			FailedFrom(action.KindAuthenticatePlatform, action.KindSetPlatformToken),
		),
		append(staged, action.AuthenticatePlatform{
			Username:         req.Username,
			Password:         req.Password,
			RememberPassword: req.RememberPassword,
		})...,
	)
	if err != nil {
		return nil, err
	}
	if err := workflowErr(got); err != nil {
		return nil, err
	}
	switch a := got.(type) {
	case action.SetPlatformAuthError:
		logger.Warn("service: platform login rejected", "username", req.Username, "status", a.Code)
		return nil, fmt.Errorf("%w: status %d", ErrLoginRejected, a.Code)
	case action.SetInstances:
		logger.Info("service: platform login succeeded", "username", req.Username, "instances", len(a.Instances))
		return &LoginResult{Step: action.LoginStepPickInstance, Instances: a.Instances}, nil
	}
	return nil, fmt.Errorf("unexpected action %s", got.Kind())
}

// SelectInstance picks a listed instance by display name or id and waits
// for the instance token
func (s *Service) SelectInstance(ctx context.Context, name string) (*state.SelectedInstance, error) {
	logger := s.getLogger(ctx)

	var found *models.Instance
	for _, in := range s.engine.State().Connection.Instances {
		if in.DisplayName == name || in.ID == name {
			in := in
			found = &in
			break
		}
	}
	if found == nil {
		logger.Debug("service: instance not found", "instance", name)
		return nil, ErrInstanceNotFound
	}

	got, err := s.AwaitAction(ctx,
		Any(KindIs(action.KindSetInstanceAuthError), FailedFrom(action.KindAuthenticateInstance)),
		action.SelectInstance{Instance: *found},
	)
	if err != nil {
		return nil, err
	}
	if err := workflowErr(got); err != nil {
		return nil, err
	}
	if got.(action.SetInstanceAuthError).Failed {
		logger.Warn("service: instance login rejected", "instance", name)
		return nil, ErrLoginRejected
	}

	logger.Info("service: instance selected", "instance", found.DisplayName)
	selected := s.engine.State().Connection.Selected
	return &selected, nil
}

// Logout drops every token and cancels pending renewals
func (s *Service) Logout(ctx context.Context) {
	s.getLogger(ctx).Info("service: logging out")
	s.engine.Dispatch(action.ResetAuth{})
}

// NewBuildRequest names the application to build
type NewBuildRequest struct {
	AppRoot         string                 `json:"app_root"`
	ToolkitRootPath string                 `json:"toolkit_root_path,omitempty"`
	FQN             string                 `json:"fqn,omitempty"`
	MakefilePath    string                 `json:"makefile_path,omitempty"`
	PostBuild       models.PostBuildAction `json:"post_build,omitempty"`
	SourceArchive   string                 `json:"source_archive,omitempty"`
}

// Accepted reports how an intent was taken in. Queued intents run once
// an instance is authenticated.
type Accepted struct {
	ID     string `json:"id,omitempty"`
	Queued bool   `json:"queued"`
}

// NewBuild creates a build and returns its id once the build service has
// assigned one
func (s *Service) NewBuild(ctx context.Context, req NewBuildRequest) (*Accepted, error) {
	logger := s.getLogger(ctx)

	if req.AppRoot == "" {
		return nil, fmt.Errorf("%w: app_root is required", ErrInvalidRequest)
	}
	if (req.FQN == "") == (req.MakefilePath == "") {
		return nil, fmt.Errorf("%w: exactly one of fqn and makefile_path is required", ErrInvalidRequest)
	}
	switch req.PostBuild {
	case models.PostBuildNone, models.PostBuildDownload, models.PostBuildSubmit:
	default:
		return nil, fmt.Errorf("%w: unknown post_build %q", ErrInvalidRequest, req.PostBuild)
	}

	intent := action.NewBuild{
		AppRoot:         req.AppRoot,
		ToolkitRootPath: req.ToolkitRootPath,
		FQN:             req.FQN,
		MakefilePath:    req.MakefilePath,
		PostBuild:       req.PostBuild,
		SourceArchive:   req.SourceArchive,
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	logger.Debug("service: requesting build", "app_root", req.AppRoot, "fqn", req.FQN, "makefile", req.MakefilePath)
	got, err := s.AwaitAction(ctx,
		Any(uploadOf(intent), FailedFor(intent), QueuedIntent(intent)),
		intent,
	)
	if err != nil {
		return nil, err
	}
	if err := workflowErr(got); err != nil {
		return nil, err
	}
	if got.Kind() == action.KindQueueAction {
		logger.Info("service: build queued until login", "app_root", req.AppRoot)
		return &Accepted{Queued: true}, nil
	}

	id := got.(action.UploadSource).BuildID
	logger.Info("service: build created", "build_id", id)
	return &Accepted{ID: id}, nil
}

// uploadOf matches the source upload of the build created for req
func uploadOf(req action.NewBuild) Match {
	return func(a action.Action) bool {
		u, ok := a.(action.UploadSource)
		return ok &&
			u.AppRoot == req.AppRoot &&
			u.ToolkitRootPath == req.ToolkitRootPath &&
			u.FQN == req.FQN &&
			u.MakefilePath == req.MakefilePath &&
			u.SourceArchive == req.SourceArchive
	}
}

// Build returns a known build
func (s *Service) Build(ctx context.Context, buildID string) (*state.Build, error) {
	b, ok := state.GetBuild(s.engine.State(), buildID)
	if !ok {
		s.getLogger(ctx).Debug("service: build not found", "build_id", buildID)
		return nil, ErrBuildNotFound
	}
	return &b, nil
}

// Builds returns every known build
func (s *Service) Builds(ctx context.Context) []state.Build {
	return state.Builds(s.engine.State())
}

// DownloadArtifacts writes the artifacts of a build under its output
// directory and returns the written files
func (s *Service) DownloadArtifacts(ctx context.Context, buildID string) ([]string, error) {
	logger := s.getLogger(ctx)

	b, err := s.Build(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if len(b.Artifacts) == 0 {
		return nil, fmt.Errorf("%w: build %s has no artifacts", ErrInvalidRequest, buildID)
	}

	intent := action.DownloadArtifacts{BuildID: buildID}
	got, err := s.AwaitAction(ctx,
		Any(
			func(a action.Action) bool {
				p, ok := a.(action.PostDownloadArtifacts)
				return ok && p.BuildID == buildID
			},
			FailedFor(intent),
		),
		intent,
	)
	if err != nil {
		return nil, err
	}
	if err := workflowErr(got); err != nil {
		return nil, err
	}
	files := got.(action.PostDownloadArtifacts).Files
	logger.Info("service: artifacts downloaded", "build_id", buildID, "files", len(files))
	return files, nil
}

// SubmitResult tells whether a submission went out or waits for parameters
type SubmitResult struct {
	Submitted  bool                         `json:"submitted"`
	WorkflowID string                       `json:"workflow_id,omitempty"`
	Params     []models.SubmissionTimeParam `json:"params,omitempty"`
}

// SubmitBuild submits every artifact of a built build. When the
// applications declare submission-time parameters the result carries the
// workflow id to resolve.
func (s *Service) SubmitBuild(ctx context.Context, buildID string) (*SubmitResult, error) {
	logger := s.getLogger(ctx)

	b, err := s.Build(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BuildBuilt || len(b.Artifacts) == 0 {
		return nil, fmt.Errorf("%w: build %s has no artifacts to submit", ErrInvalidRequest, buildID)
	}

	intent := action.GetSubmissionParamsFromADL{BuildID: buildID}
	got, err := s.AwaitAction(ctx,
		Any(
			func(a action.Action) bool {
				switch a := a.(type) {
				case action.SubmitApplications:
					return a.BuildID == buildID
				case action.AwaitSubmissionParams:
					return a.BuildID == buildID
				}
				return false
			},
			FailedFor(intent),
		),
		intent,
	)
	if err != nil {
		return nil, err
	}
	if err := workflowErr(got); err != nil {
		return nil, err
	}

	if a, ok := got.(action.AwaitSubmissionParams); ok {
		logger.Info("service: submission waits for parameters", "build_id", buildID, "workflow_id", a.WorkflowID)
		return &SubmitResult{WorkflowID: a.WorkflowID, Params: a.Params}, nil
	}
	logger.Info("service: build submitted", "build_id", buildID)
	return &SubmitResult{Submitted: true}, nil
}

// SubmitBundles uploads and submits local application bundles. Outcomes
// are reported through notifications and the submission list.
func (s *Service) SubmitBundles(ctx context.Context, bundles []models.Bundle) (*Accepted, error) {
	if len(bundles) == 0 {
		return nil, fmt.Errorf("%w: no bundles", ErrInvalidRequest)
	}
	for _, b := range bundles {
		if b.Path == "" {
			return nil, fmt.Errorf("%w: bundle_path is required", ErrInvalidRequest)
		}
	}

	queued := !state.HasAuthenticatedInstance(s.engine.State())
	s.engine.Dispatch(action.GetSubmissionParamsFromBundles{Bundles: bundles})
	s.getLogger(ctx).Info("service: bundle submission requested", "bundles", len(bundles), "queued", queued)
	return &Accepted{Queued: queued}, nil
}

// Submission returns a known submission
func (s *Service) Submission(ctx context.Context, submissionID string) (*state.Submission, error) {
	sub, ok := state.GetSubmission(s.engine.State(), submissionID)
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	return &sub, nil
}

// Submissions returns every known submission
func (s *Service) Submissions(ctx context.Context) []state.Submission {
	return state.Submissions(s.engine.State())
}

// Parameters returns the submissions waiting for parameter values
func (s *Service) Parameters(ctx context.Context) []state.ParamRequest {
	return state.AwaitingParams(s.engine.State())
}

// ResolveParameters supplies the values a suspended submission waits for.
// Required parameters without a default must be given.
func (s *Service) ResolveParameters(ctx context.Context, workflowID string, values []models.SubmitParameter) error {
	req, ok := state.GetParamRequest(s.engine.State(), workflowID)
	if !ok || req.Status != state.ParamsAwaiting {
		return ErrParamsNotFound
	}

	given := make(map[string]bool, len(values))
	for _, v := range values {
		given[v.Name] = true
	}
	for _, p := range req.Params {
		if p.Required && p.DefaultValue == "" && !given[p.Name] {
			return fmt.Errorf("%w: parameter %s is required", ErrInvalidRequest, p.Name)
		}
	}

	s.engine.Dispatch(action.ResolveSubmissionParams{WorkflowID: workflowID, Values: values})
	s.getLogger(ctx).Info("service: parameters resolved", "workflow_id", workflowID, "values", len(values))
	return nil
}

// CancelParameters abandons a suspended submission
func (s *Service) CancelParameters(ctx context.Context, workflowID string) error {
	if _, ok := state.GetParamRequest(s.engine.State(), workflowID); !ok {
		return ErrParamsNotFound
	}
	s.engine.Dispatch(action.CancelSubmissionParams{WorkflowID: workflowID})
	s.getLogger(ctx).Info("service: parameters cancelled", "workflow_id", workflowID)
	return nil
}

// RefreshToolkits caches the indexes of toolkits not cached yet and
// returns how many were fetched
func (s *Service) RefreshToolkits(ctx context.Context) (int, error) {
	if !state.HasAuthenticatedInstance(s.engine.State()) {
		return 0, ErrNotAuthenticated
	}
	got, err := s.AwaitAction(ctx,
		Any(KindIs(action.KindPostRefreshToolkits), FailedFrom(action.KindRefreshToolkits)),
		action.RefreshToolkits{},
	)
	if err != nil {
		return 0, err
	}
	if err := workflowErr(got); err != nil {
		return 0, err
	}
	return got.(action.PostRefreshToolkits).Cached, nil
}

// CheckHost checks the configured platform or standalone host
func (s *Service) CheckHost(ctx context.Context) bool {
	result := make(chan bool, 1)
	s.engine.Dispatch(action.CheckHostExists{
		OnSuccess: func() { result <- true },
		OnFailure: func() { result <- false },
	})
	select {
	case ok := <-result:
		s.getLogger(ctx).Debug("service: host checked", "reachable", ok)
		return ok
	case <-ctx.Done():
		return false
	}
}

// OpenConsole hands the instance console URL to the URL opener
func (s *Service) OpenConsole(ctx context.Context) (string, bool, error) {
	got, err := s.AwaitAction(ctx,
		Any(KindIs(action.KindPostOpenConsole), FailedFrom(action.KindOpenConsole), Queued(action.KindOpenConsole)),
		action.OpenConsole{},
	)
	if err != nil {
		return "", false, err
	}
	if err := workflowErr(got); err != nil {
		return "", false, err
	}
	if got.Kind() == action.KindQueueAction {
		return "", true, nil
	}
	return got.(action.PostOpenConsole).URL, false, nil
}

// State returns the current state snapshot
func (s *Service) State(ctx context.Context) state.State {
	return s.engine.State()
}

// Journal returns recorded actions, newest first
func (s *Service) Journal(ctx context.Context, limit int, kind string) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, ErrJournalDisabled
	}
	return s.journal.Recent(ctx, limit, kind)
}

// HealthCheck reports the login progress and collaborators
func (s *Service) HealthCheck(ctx context.Context) map[string]interface{} {
	st := s.engine.State()

	checks := map[string]interface{}{
		"session": map[string]interface{}{
			"status":            "healthy",
			"instance_type":     state.InstanceType(st),
			"login_step":        st.Connection.LoginStep,
			"platform_login":    state.HasAuthenticatedPlatform(st),
			"instance_login":    state.HasAuthenticatedInstance(st),
			"selected_instance": state.SelectedInstanceName(st),
		},
		"builds": map[string]interface{}{
			"count": len(st.Build.Builds),
		},
		"submissions": map[string]interface{}{
			"count":           len(st.Submission.Submissions),
			"awaiting_params": len(state.AwaitingParams(st)),
		},
	}

	health := map[string]interface{}{
		"status":  "healthy",
		"service": "streams-build-gateway",
		"version": st.Version,
		"checks":  checks,
	}

	if s.journal != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := s.journal.Recent(pingCtx, 1, ""); err != nil {
			s.getLogger(ctx).Warn("journal health check failed", "error", err)
			checks["journal"] = map[string]interface{}{"status": "unhealthy", "error": err.Error()}
			health["status"] = "degraded"
		} else {
			checks["journal"] = map[string]interface{}{"status": "healthy"}
		}
	}
	return health
}
