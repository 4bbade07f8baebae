package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/engine"
	"github.com/lei/streams-build/internal/journal"
	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/state"
)

// stubEngine reduces dispatched actions synchronously and answers them
// with scripted follow-ups instead of running workflows
type stubEngine struct {
	mu         sync.Mutex
	st         state.State
	watcher    *Watcher
	dispatched []action.Action
	react      func(a action.Action) []action.Action
}

func (e *stubEngine) Dispatch(actions ...action.Action) {
	for _, a := range actions {
		if a == nil {
			continue
		}
		e.mu.Lock()
		a = engine.AuthGate(e.st, a)
		e.st = state.Reduce(e.st, a)
		e.dispatched = append(e.dispatched, a)
		st := e.st
		e.mu.Unlock()

		e.watcher.Observe(a, st)
		if e.react != nil {
			e.Dispatch(e.react(a)...)
		}
	}
}

func (e *stubEngine) State() state.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

func (e *stubEngine) kinds() []action.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]action.Kind, len(e.dispatched))
	for i, a := range e.dispatched {
		out[i] = a.Kind()
	}
	return out
}

func newTestService(t *testing.T, st state.State, react func(action.Action) []action.Action) (*Service, *stubEngine) {
	t.Helper()
	w := NewWatcher()
	eng := &stubEngine{st: st, watcher: w, react: react}
	return NewService(eng, w, nil, nil), eng
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func authed() state.State {
	s := state.Initial()
	s = state.Reduce(s, action.SelectInstance{Instance: models.Instance{
		ID:          "i1",
		DisplayName: "streams-1",
		Connection:  models.ConnectionInfo{BuildEndpoint: "https://build/builds", ConsoleEndpoint: "https://console"},
	}})
	return state.Reduce(s, action.SetInstanceToken{Token: models.Token{Value: "instance-token"}})
}

func TestLogin_Platform(t *testing.T) {
	instances := []models.Instance{{ID: "i1", DisplayName: "streams-1"}}

	tests := []struct {
		name      string
		react     func(action.Action) []action.Action
		wantErr   bool
		rejected  bool
		wantCount int
	}{
		{
			name: "lists instances",
			react: func(a action.Action) []action.Action {
				switch a.(type) {
				case action.AuthenticatePlatform:
					return []action.Action{
						action.SetPlatformToken{Token: models.Token{Value: "p"}},
						action.SetPlatformAuthError{Code: 0},
					}
				case action.SetPlatformToken:
					return []action.Action{action.SetInstances{Instances: instances}}
				}
				return nil
			},
			wantCount: 1,
		},
		{
			name: "rejected",
			react: func(a action.Action) []action.Action {
				if _, ok := a.(action.AuthenticatePlatform); ok {
					return []action.Action{action.SetPlatformAuthError{Code: 401}}
				}
				return nil
			},
			wantErr:  true,
			rejected: true,
		},
		{
			name: "workflow error",
			react: func(a action.Action) []action.Action {
				if _, ok := a.(action.AuthenticatePlatform); ok {
					return []action.Action{action.Error{Source: a, Err: errors.New("connection refused")}}
				}
				return nil
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, eng := newTestService(t, state.Initial(), tt.react)

			got, err := svc.Login(testCtx(t), LoginRequest{Username: "admin", Password: "pw", RememberPassword: true})
			if tt.wantErr {
				if err == nil {
					t.Fatal("Login() error = nil, want error")
				}
				if errors.Is(err, ErrLoginRejected) != tt.rejected {
					t.Errorf("Login() error = %v, rejected %v", err, tt.rejected)
				}
				return
			}
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}
			if got.Step != action.LoginStepPickInstance || len(got.Instances) != tt.wantCount {
				t.Errorf("Login() = %+v", got)
			}
			if form := eng.State().Connection.FormData; form.Username != "admin" || !form.RememberPassword {
				t.Errorf("FormData = %+v, want staged username", form)
			}
		})
	}
}

func TestLogin_Standalone(t *testing.T) {
	st := state.Reduce(state.Initial(), action.SetInstanceType{Type: models.InstanceStandalone})

	tests := []struct {
		name    string
		failed  bool
		wantErr bool
	}{
		{"token issued", false, false},
		{"rejected", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, st, func(a action.Action) []action.Action {
				if _, ok := a.(action.AuthenticateStandalone); ok {
					return []action.Action{action.SetInstanceAuthError{Failed: tt.failed}}
				}
				return nil
			})
			got, err := svc.Login(testCtx(t), LoginRequest{Username: "admin", Password: "pw"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Login() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.Step != action.LoginStepAuthenticated {
				t.Errorf("Login().Step = %d, want %d", got.Step, action.LoginStepAuthenticated)
			}
		})
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	svc, eng := newTestService(t, state.Initial(), nil)
	if _, err := svc.Login(testCtx(t), LoginRequest{Username: "admin"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Login() error = %v, want ErrInvalidRequest", err)
	}
	if n := len(eng.kinds()); n != 0 {
		t.Errorf("dispatched %d actions, want 0", n)
	}
}

func TestSelectInstance(t *testing.T) {
	st := state.Reduce(state.Initial(), action.SetInstances{Instances: []models.Instance{
		{ID: "i1", DisplayName: "streams-1"},
	}})
	svc, _ := newTestService(t, st, func(a action.Action) []action.Action {
		if _, ok := a.(action.SelectInstance); ok {
			return []action.Action{
				action.SetInstanceToken{Token: models.Token{Value: "t"}},
				action.SetInstanceAuthError{Failed: false},
			}
		}
		return nil
	})

	got, err := svc.SelectInstance(testCtx(t), "streams-1")
	if err != nil {
		t.Fatalf("SelectInstance() error = %v", err)
	}
	if got.Name != "streams-1" {
		t.Errorf("SelectInstance().Name = %q, want streams-1", got.Name)
	}

	if _, err := svc.SelectInstance(testCtx(t), "missing"); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("SelectInstance(missing) error = %v, want ErrInstanceNotFound", err)
	}
}

func TestNewBuild(t *testing.T) {
	uploadOnNew := func(a action.Action) []action.Action {
		if nb, ok := a.(action.NewBuild); ok {
			return []action.Action{action.UploadSource{BuildID: "42", AppRoot: nb.AppRoot, FQN: nb.FQN, MakefilePath: nb.MakefilePath}}
		}
		return nil
	}

	tests := []struct {
		name       string
		st         state.State
		req        NewBuildRequest
		wantErr    error
		wantID     string
		wantQueued bool
	}{
		{"created", authed(), NewBuildRequest{AppRoot: "/p", FQN: "ns::Main"}, nil, "42", false},
		{"queued until login", state.Initial(), NewBuildRequest{AppRoot: "/p", FQN: "ns::Main"}, nil, "", true},
		{"no app root", authed(), NewBuildRequest{FQN: "ns::Main"}, ErrInvalidRequest, "", false},
		{"both identifiers", authed(), NewBuildRequest{AppRoot: "/p", FQN: "a", MakefilePath: "/p/Makefile"}, ErrInvalidRequest, "", false},
		{"unknown post build", authed(), NewBuildRequest{AppRoot: "/p", FQN: "a", PostBuild: "deploy"}, ErrInvalidRequest, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, tt.st, uploadOnNew)
			got, err := svc.NewBuild(testCtx(t), tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewBuild() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBuild() error = %v", err)
			}
			if got.ID != tt.wantID || got.Queued != tt.wantQueued {
				t.Errorf("NewBuild() = %+v, want id %q queued %v", got, tt.wantID, tt.wantQueued)
			}
		})
	}
}

// newBuilds returns the NEW_BUILD intents dispatched so far
func newBuilds(e *stubEngine) []action.NewBuild {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []action.NewBuild
	for _, a := range e.dispatched {
		if nb, ok := a.(action.NewBuild); ok {
			out = append(out, nb)
		}
	}
	return out
}

func waitNewBuilds(t *testing.T, e *stubEngine, n int) []action.NewBuild {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		if got := newBuilds(e); len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("NewBuild dispatched %d times, want %d", len(newBuilds(e)), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewBuild_Concurrent(t *testing.T) {
	svc, eng := newTestService(t, authed(), nil)
	ctx := testCtx(t)

	type result struct {
		appRoot string
		id      string
		err     error
	}
	results := make(chan result, 2)
	for _, root := range []string{"/a", "/b"} {
		go func(root string) {
			got, err := svc.NewBuild(ctx, NewBuildRequest{AppRoot: root, FQN: "ns::Main"})
			r := result{appRoot: root, err: err}
			if got != nil {
				r.id = got.ID
			}
			results <- r
		}(root)
	}

	first := waitNewBuilds(t, eng, 1)[0]

	// an upload for neither request resolves nothing
	eng.Dispatch(action.UploadSource{BuildID: "b-1"})
	time.Sleep(20 * time.Millisecond)
	select {
	case r := <-results:
		t.Fatalf("NewBuild(%s) = %q, %v before its upload", r.appRoot, r.id, r.err)
	default:
	}
	if n := len(newBuilds(eng)); n != 1 {
		t.Fatalf("NewBuild in flight = %d, want 1", n)
	}

	eng.Dispatch(action.UploadSource{BuildID: "build" + first.AppRoot, AppRoot: first.AppRoot, FQN: first.FQN})
	second := waitNewBuilds(t, eng, 2)[1]
	if second.AppRoot == first.AppRoot {
		t.Fatalf("second NewBuild app root = %q, want the other request", second.AppRoot)
	}
	eng.Dispatch(action.UploadSource{BuildID: "build" + second.AppRoot, AppRoot: second.AppRoot, FQN: second.FQN})

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Errorf("NewBuild(%s) error = %v", r.appRoot, r.err)
			continue
		}
		if want := "build" + r.appRoot; r.id != want {
			t.Errorf("NewBuild(%s) id = %q, want %q", r.appRoot, r.id, want)
		}
	}
}

func builtState(artifacts ...models.Artifact) state.State {
	s := authed()
	s = state.Reduce(s, action.NewBuild{AppRoot: "/p", FQN: "ns::Main"})
	s = state.Reduce(s, action.UploadSource{BuildID: "7", AppRoot: "/p", FQN: "ns::Main"})
	s = state.Reduce(s, action.BuildStatusFulfilled{BuildID: "7", Info: models.BuildInfo{BuildID: "7", Status: models.BuildBuilt}})
	return state.Reduce(s, action.BuildArtifactsFulfilled{BuildID: "7", Artifacts: artifacts})
}

func TestDownloadArtifacts(t *testing.T) {
	st := builtState(models.Artifact{ID: "a1", Name: "Main.sab"})
	svc, _ := newTestService(t, st, func(a action.Action) []action.Action {
		if d, ok := a.(action.DownloadArtifacts); ok {
			return []action.Action{action.PostDownloadArtifacts{BuildID: d.BuildID, Files: []string{"/p/output/Main.sab"}}}
		}
		return nil
	})

	files, err := svc.DownloadArtifacts(testCtx(t), "7")
	if err != nil {
		t.Fatalf("DownloadArtifacts() error = %v", err)
	}
	if len(files) != 1 || files[0] != "/p/output/Main.sab" {
		t.Errorf("DownloadArtifacts() = %v", files)
	}

	if _, err := svc.DownloadArtifacts(testCtx(t), "404"); !errors.Is(err, ErrBuildNotFound) {
		t.Errorf("DownloadArtifacts(404) error = %v, want ErrBuildNotFound", err)
	}
}

func TestSubmitBuild(t *testing.T) {
	params := []models.SubmissionTimeParam{{Name: "topic", Required: true}}

	tests := []struct {
		name          string
		reply         action.Action
		wantSubmitted bool
		wantWorkflow  string
	}{
		{"no parameters", action.SubmitApplications{BuildID: "7"}, true, ""},
		{"awaits parameters", action.AwaitSubmissionParams{WorkflowID: "wf-1", BuildID: "7", Params: params}, false, "wf-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := builtState(models.Artifact{ID: "a1", Name: "Main.sab"})
			svc, _ := newTestService(t, st, func(a action.Action) []action.Action {
				if _, ok := a.(action.GetSubmissionParamsFromADL); ok {
					return []action.Action{tt.reply}
				}
				return nil
			})
			got, err := svc.SubmitBuild(testCtx(t), "7")
			if err != nil {
				t.Fatalf("SubmitBuild() error = %v", err)
			}
			if got.Submitted != tt.wantSubmitted || got.WorkflowID != tt.wantWorkflow {
				t.Errorf("SubmitBuild() = %+v", got)
			}
		})
	}
}

func TestFailureOfAnotherIntent(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		react   func(a action.Action) []action.Action
		call    func(ctx context.Context, svc *Service) error
		wantErr bool
	}{
		{
			name: "new build, other request fails",
			react: func(a action.Action) []action.Action {
				if nb, ok := a.(action.NewBuild); ok {
					return []action.Action{
						action.Error{Source: action.NewBuild{AppRoot: "/other", FQN: nb.FQN}, Err: boom},
						action.UploadSource{BuildID: "42", AppRoot: nb.AppRoot, FQN: nb.FQN},
					}
				}
				return nil
			},
			call: func(ctx context.Context, svc *Service) error {
				_, err := svc.NewBuild(ctx, NewBuildRequest{AppRoot: "/p", FQN: "ns::Main"})
				return err
			},
		},
		{
			name: "new build fails",
			react: func(a action.Action) []action.Action {
				if _, ok := a.(action.NewBuild); ok {
					return []action.Action{action.Error{Source: a, Err: boom}}
				}
				return nil
			},
			call: func(ctx context.Context, svc *Service) error {
				_, err := svc.NewBuild(ctx, NewBuildRequest{AppRoot: "/p", FQN: "ns::Main"})
				return err
			},
			wantErr: true,
		},
		{
			name: "download, other build fails",
			react: func(a action.Action) []action.Action {
				if d, ok := a.(action.DownloadArtifacts); ok {
					return []action.Action{
						action.Error{Source: action.DownloadArtifacts{BuildID: "8"}, Err: boom},
						action.PostDownloadArtifacts{BuildID: d.BuildID, Files: []string{"/p/output/Main.sab"}},
					}
				}
				return nil
			},
			call: func(ctx context.Context, svc *Service) error {
				_, err := svc.DownloadArtifacts(ctx, "7")
				return err
			},
		},
		{
			name: "download fails",
			react: func(a action.Action) []action.Action {
				if _, ok := a.(action.DownloadArtifacts); ok {
					return []action.Action{action.Error{Source: a, Err: boom}}
				}
				return nil
			},
			call: func(ctx context.Context, svc *Service) error {
				_, err := svc.DownloadArtifacts(ctx, "7")
				return err
			},
			wantErr: true,
		},
		{
			name: "submit, other build fails",
			react: func(a action.Action) []action.Action {
				if g, ok := a.(action.GetSubmissionParamsFromADL); ok {
					return []action.Action{
						action.Error{Source: action.GetSubmissionParamsFromADL{BuildID: "8"}, Err: boom},
						action.SubmitApplications{BuildID: g.BuildID},
					}
				}
				return nil
			},
			call: func(ctx context.Context, svc *Service) error {
				_, err := svc.SubmitBuild(ctx, "7")
				return err
			},
		},
		{
			name: "submit fails",
			react: func(a action.Action) []action.Action {
				if _, ok := a.(action.GetSubmissionParamsFromADL); ok {
					return []action.Action{action.Error{Source: a, Err: boom}}
				}
				return nil
			},
			call: func(ctx context.Context, svc *Service) error {
				_, err := svc.SubmitBuild(ctx, "7")
				return err
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, builtState(models.Artifact{ID: "a1", Name: "Main.sab"}), tt.react)
			err := tt.call(testCtx(t), svc)
			if tt.wantErr {
				if !errors.Is(err, boom) {
					t.Errorf("error = %v, want %v", err, boom)
				}
				return
			}
			if err != nil {
				t.Errorf("error = %v, want nil", err)
			}
		})
	}
}

func TestResolveParameters(t *testing.T) {
	st := state.Reduce(authed(), action.AwaitSubmissionParams{
		WorkflowID: "wf-1",
		BuildID:    "7",
		Params: []models.SubmissionTimeParam{
			{Name: "topic", Required: true},
			{Name: "rate", Required: true, DefaultValue: "10"},
		},
	})

	tests := []struct {
		name     string
		workflow string
		values   []models.SubmitParameter
		wantErr  error
	}{
		{"unknown workflow", "wf-2", nil, ErrParamsNotFound},
		{"missing required", "wf-1", []models.SubmitParameter{{Name: "rate", Value: "1"}}, ErrInvalidRequest},
		{"resolved", "wf-1", []models.SubmitParameter{{Name: "topic", Value: "orders"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, eng := newTestService(t, st, nil)
			err := svc.ResolveParameters(testCtx(t), tt.workflow, tt.values)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ResolveParameters() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil {
				req, _ := state.GetParamRequest(eng.State(), "wf-1")
				if req.Status != state.ParamsResolved {
					t.Errorf("param status = %s, want %s", req.Status, state.ParamsResolved)
				}
			}
		})
	}
}

func TestCancelParameters(t *testing.T) {
	st := state.Reduce(authed(), action.AwaitSubmissionParams{WorkflowID: "wf-1", BuildID: "7"})
	svc, eng := newTestService(t, st, nil)

	if err := svc.CancelParameters(testCtx(t), "wf-1"); err != nil {
		t.Fatalf("CancelParameters() error = %v", err)
	}
	if _, ok := state.GetParamRequest(eng.State(), "wf-1"); ok {
		t.Error("param request still present after cancel")
	}
	if err := svc.CancelParameters(testCtx(t), "wf-1"); !errors.Is(err, ErrParamsNotFound) {
		t.Errorf("second CancelParameters() error = %v, want ErrParamsNotFound", err)
	}
}

func TestSubmitBundles(t *testing.T) {
	svc, eng := newTestService(t, state.Initial(), nil)

	if _, err := svc.SubmitBundles(testCtx(t), nil); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("SubmitBundles(nil) error = %v, want ErrInvalidRequest", err)
	}
	got, err := svc.SubmitBundles(testCtx(t), []models.Bundle{{Path: "/b/Main.sab"}})
	if err != nil {
		t.Fatalf("SubmitBundles() error = %v", err)
	}
	if !got.Queued {
		t.Error("SubmitBundles().Queued = false, want true before login")
	}
	if q := state.QueuedAction(eng.State()); q == nil || q.Kind() != action.KindGetParamsFromBundles {
		t.Errorf("queued action = %v, want %s", q, action.KindGetParamsFromBundles)
	}
}

func TestCheckHost(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"reachable", true},
		{"unreachable", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, state.Initial(), func(a action.Action) []action.Action {
				if c, ok := a.(action.CheckHostExists); ok {
					if tt.ok {
						c.OnSuccess()
					} else {
						c.OnFailure()
					}
				}
				return nil
			})
			if got := svc.CheckHost(testCtx(t)); got != tt.ok {
				t.Errorf("CheckHost() = %v, want %v", got, tt.ok)
			}
		})
	}
}

func TestOpenConsole(t *testing.T) {
	svc, _ := newTestService(t, authed(), func(a action.Action) []action.Action {
		if _, ok := a.(action.OpenConsole); ok {
			return []action.Action{action.PostOpenConsole{URL: state.ConsoleURL(authed())}}
		}
		return nil
	})
	url, queued, err := svc.OpenConsole(testCtx(t))
	if err != nil || queued || url != "https://console" {
		t.Errorf("OpenConsole() = %q, %v, %v", url, queued, err)
	}

	unauthed, _ := newTestService(t, state.Initial(), nil)
	if _, queued, err := unauthed.OpenConsole(testCtx(t)); err != nil || !queued {
		t.Errorf("OpenConsole() before login = queued %v, %v, want queued", queued, err)
	}
}

func TestRefreshToolkits_NotAuthenticated(t *testing.T) {
	svc, _ := newTestService(t, state.Initial(), nil)
	if _, err := svc.RefreshToolkits(testCtx(t)); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("RefreshToolkits() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestAwaitAction_ContextDone(t *testing.T) {
	svc, _ := newTestService(t, authed(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.AwaitAction(ctx, KindIs(action.KindPostRefreshToolkits), action.RefreshToolkits{}); !errors.Is(err, context.Canceled) {
		t.Errorf("AwaitAction() error = %v, want context.Canceled", err)
	}
}

func TestJournal(t *testing.T) {
	svc, _ := newTestService(t, state.Initial(), nil)
	if _, err := svc.Journal(testCtx(t), 10, ""); !errors.Is(err, ErrJournalDisabled) {
		t.Errorf("Journal() error = %v, want ErrJournalDisabled", err)
	}

	store, err := journal.Open(context.Background(), filepath.Join(t.TempDir(), "j.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	w := NewWatcher()
	svc = NewService(&stubEngine{st: state.Initial(), watcher: w}, w, store, nil)
	got, err := svc.Journal(testCtx(t), 10, "")
	if err != nil || len(got) != 0 {
		t.Errorf("Journal() = %v, %v, want empty", got, err)
	}
}
