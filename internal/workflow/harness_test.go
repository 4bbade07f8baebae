package workflow

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/archive"
	"github.com/lei/streams-build/internal/engine"
	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/provider"
	"github.com/lei/streams-build/internal/state"
	"github.com/lei/streams-build/pkg/logger"
)

// fakeProvider answers every call from its optional func fields and counts
// calls by method name
type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int

	createBuild     func(req provider.CreateBuildRequest) (string, error)
	buildStatus     func(id string) (models.BuildInfo, error)
	buildLog        func(id string) ([]string, error)
	buildArtifacts  func(id string) ([]models.Artifact, error)
	adl             func(buildID, artifactID string) ([]byte, error)
	download        func(buildID, artifactID string) (io.ReadCloser, error)
	uploadBundle    func(path string) (string, error)
	submitJob       func(req provider.SubmitJobRequest) (models.SubmissionInfo, error)
	submission      func(id string) (models.SubmissionInfo, error)
	toolkits        func() ([]models.Toolkit, error)
	toolkitIndex    func(id string) ([]byte, error)
	hostExists      func(url string) error
	authPlatform    func(username, password string) (provider.AuthResult, error)
	instances       func() ([]models.Instance, error)
	authInstance    func(name string) (provider.AuthResult, error)
	resources       func(t provider.Target) ([]provider.Resource, error)
	authStandalone  func(t provider.Target) (provider.AuthResult, error)
	instanceRestURL func(t provider.Target) (string, error)
}

var _ provider.Provider = (*fakeProvider)(nil)

func (f *fakeProvider) called(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeProvider) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeProvider) CreateBuild(_ context.Context, _ provider.Target, req provider.CreateBuildRequest) (string, error) {
	f.called("CreateBuild")
	if f.createBuild == nil {
		return "1", nil
	}
	return f.createBuild(req)
}

func (f *fakeProvider) UploadSource(context.Context, provider.Target, string, string) error {
	f.called("UploadSource")
	return nil
}

func (f *fakeProvider) StartBuild(context.Context, provider.Target, string) error {
	f.called("StartBuild")
	return nil
}

func (f *fakeProvider) GetBuildStatus(_ context.Context, _ provider.Target, id string) (models.BuildInfo, error) {
	f.called("GetBuildStatus")
	if f.buildStatus == nil {
		return models.BuildInfo{BuildID: id, Status: models.BuildBuilding}, nil
	}
	return f.buildStatus(id)
}

func (f *fakeProvider) GetBuildLogMessages(_ context.Context, _ provider.Target, id string) ([]string, error) {
	f.called("GetBuildLogMessages")
	if f.buildLog == nil {
		return []string{}, nil
	}
	return f.buildLog(id)
}

func (f *fakeProvider) GetBuildArtifacts(_ context.Context, _ provider.Target, id string) ([]models.Artifact, error) {
	f.called("GetBuildArtifacts")
	if f.buildArtifacts == nil {
		return []models.Artifact{}, nil
	}
	return f.buildArtifacts(id)
}

func (f *fakeProvider) GetADL(_ context.Context, _ provider.Target, buildID, artifactID string) ([]byte, error) {
	f.called("GetADL")
	if f.adl == nil {
		return []byte("<applicationSet/>"), nil
	}
	return f.adl(buildID, artifactID)
}

func (f *fakeProvider) DownloadApplicationBundle(_ context.Context, _ provider.Target, buildID, artifactID string) (io.ReadCloser, error) {
	f.called("DownloadApplicationBundle")
	if f.download == nil {
		return io.NopCloser(strings.NewReader("bundle")), nil
	}
	return f.download(buildID, artifactID)
}

func (f *fakeProvider) UploadApplicationBundle(_ context.Context, _ provider.Target, path string) (string, error) {
	f.called("UploadApplicationBundle")
	if f.uploadBundle == nil {
		return "b1", nil
	}
	return f.uploadBundle(path)
}

func (f *fakeProvider) SubmitJob(_ context.Context, _ provider.Target, req provider.SubmitJobRequest) (models.SubmissionInfo, error) {
	f.called("SubmitJob")
	if f.submitJob == nil {
		return models.SubmissionInfo{ID: "s1", Status: models.SubmissionCreated}, nil
	}
	return f.submitJob(req)
}

func (f *fakeProvider) GetSubmission(_ context.Context, _ provider.Target, id string) (models.SubmissionInfo, error) {
	f.called("GetSubmission")
	if f.submission == nil {
		return models.SubmissionInfo{ID: id, Status: models.SubmissionJobSubmitted}, nil
	}
	return f.submission(id)
}

func (f *fakeProvider) GetSubmissionLogMessages(context.Context, provider.Target, string) ([]string, error) {
	f.called("GetSubmissionLogMessages")
	return []string{}, nil
}

func (f *fakeProvider) ListToolkits(context.Context, provider.Target) ([]models.Toolkit, error) {
	f.called("ListToolkits")
	if f.toolkits == nil {
		return []models.Toolkit{}, nil
	}
	return f.toolkits()
}

func (f *fakeProvider) GetToolkitIndex(_ context.Context, _ provider.Target, id string) ([]byte, error) {
	f.called("GetToolkitIndex")
	if f.toolkitIndex == nil {
		return []byte("<toolkitModel/>"), nil
	}
	return f.toolkitIndex(id)
}

func (f *fakeProvider) HostExists(_ context.Context, url string) error {
	f.called("HostExists")
	if f.hostExists == nil {
		return nil
	}
	return f.hostExists(url)
}

func (f *fakeProvider) AuthenticatePlatform(_ context.Context, _ provider.Target, username, password string) (provider.AuthResult, error) {
	f.called("AuthenticatePlatform")
	if f.authPlatform == nil {
		return provider.AuthResult{StatusCode: 200, Token: "platform-token"}, nil
	}
	return f.authPlatform(username, password)
}

func (f *fakeProvider) ListServiceInstances(context.Context, provider.Target) ([]models.Instance, error) {
	f.called("ListServiceInstances")
	if f.instances == nil {
		return []models.Instance{}, nil
	}
	return f.instances()
}

func (f *fakeProvider) AuthenticateInstance(_ context.Context, _ provider.Target, name string) (provider.AuthResult, error) {
	f.called("AuthenticateInstance")
	if f.authInstance == nil {
		return provider.AuthResult{StatusCode: 200, Token: "instance-token"}, nil
	}
	return f.authInstance(name)
}

func (f *fakeProvider) GetResources(_ context.Context, t provider.Target) ([]provider.Resource, error) {
	f.called("GetResources")
	if f.resources == nil {
		return []provider.Resource{}, nil
	}
	return f.resources(t)
}

func (f *fakeProvider) AuthenticateStandalone(_ context.Context, t provider.Target) (provider.AuthResult, error) {
	f.called("AuthenticateStandalone")
	if f.authStandalone == nil {
		return provider.AuthResult{StatusCode: 200, Token: "standalone-token"}, nil
	}
	return f.authStandalone(t)
}

func (f *fakeProvider) GetInstanceRestURL(_ context.Context, t provider.Target) (string, error) {
	f.called("GetInstanceRestURL")
	if f.instanceRestURL == nil {
		return "", &provider.MissingIdentifierError{Resource: "instance"}
	}
	return f.instanceRestURL(t)
}

type archiveFunc func(ctx context.Context, req archive.Request) (string, error)

func (f archiveFunc) BuildSourceArchive(ctx context.Context, req archive.Request) (string, error) {
	return f(ctx, req)
}

// recordingUI captures everything handed to the user-facing collaborators
type recordingUI struct {
	nop
	mu      sync.Mutex
	prompts []action.AwaitSubmissionParams
	opened  []string
	errors  []action.Kind
	files   []string
}

func (r *recordingUI) PromptSubmissionParams(req action.AwaitSubmissionParams) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, req)
}

func (r *recordingUI) OpenURL(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, url)
	return nil
}

func (r *recordingUI) PresentError(source action.Kind, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, source)
}

func (r *recordingUI) BundleDownloaded(_ string, _ models.Artifact, path string, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, path)
}

type harness struct {
	t     *testing.T
	eng   *engine.Engine
	clock clockwork.FakeClock

	mu   sync.Mutex
	seen []action.Action
}

// newHarness runs an engine with every workflow against p, starting from s
func newHarness(t *testing.T, p provider.Provider, s state.State, configure ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{t: t, clock: clockwork.NewFakeClock()}

	n := 0
	d := Deps{
		Provider: p,
		Clock:    h.clock,
		NewID: func() string {
			n++
			return fmt.Sprintf("wf-%d", n)
		},
	}
	for _, c := range configure {
		c(&d)
	}

	h.eng = engine.New(logger.NewNop(), engine.WithState(s))
	h.eng.Use(engine.AuthGate)
	h.eng.Register(All(d)...)
	h.eng.Observe(func(a action.Action, _ state.State) {
		h.mu.Lock()
		h.seen = append(h.seen, a)
		h.mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.eng.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) actions(kind action.Kind) []action.Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []action.Action
	for _, a := range h.seen {
		if a.Kind() == kind {
			out = append(out, a)
		}
	}
	return out
}

func (h *harness) kinds() []action.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]action.Kind, len(h.seen))
	for i, a := range h.seen {
		out[i] = a.Kind()
	}
	return out
}

func (h *harness) count(kind action.Kind) int {
	return len(h.actions(kind))
}

// waitFor blocks until n actions of kind have been dispatched
func (h *harness) waitFor(kind action.Kind, n int) []action.Action {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got := h.actions(kind); len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %d %s, saw %v", n, kind, h.kinds())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// settle gives workflows woken by the fake clock time to emit
func (h *harness) settle() {
	time.Sleep(50 * time.Millisecond)
}

// authedState is a session with a selected instance and an instance token
func authedState() state.State {
	s := state.Initial()
	for _, a := range []action.Action{
		action.SetInstanceType{Type: models.InstanceCP4D},
		action.SetPlatformURL{URL: "https://cpd.example.com"},
		action.SelectInstance{Instance: models.Instance{
			ID:          "1",
			DisplayName: "streams-1",
			Type:        "streams",
			Connection: models.ConnectionInfo{
				RestEndpoint:    "https://cpd.example.com/streams-rest",
				BuildEndpoint:   "https://cpd.example.com/streams-build/builds",
				ConsoleEndpoint: "https://cpd.example.com/streams-console",
			},
		}},
		action.SetInstanceToken{Token: models.Token{Value: "instance-token"}},
	} {
		s = state.Reduce(s, a)
	}
	return s
}

// withBuild adds a finished build with artifacts to s
func withBuild(s state.State, id, appRoot string, artifacts ...models.Artifact) state.State {
	s = state.Reduce(s, action.UploadSource{BuildID: id, AppRoot: appRoot})
	s = state.Reduce(s, action.BuildStatusFulfilled{BuildID: id, Info: models.BuildInfo{BuildID: id, Status: models.BuildBuilt}})
	return state.Reduce(s, action.BuildArtifactsFulfilled{BuildID: id, Artifacts: artifacts})
}
