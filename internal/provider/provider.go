package provider

import (
	"context"
	"io"

	"github.com/lei/streams-build/internal/models"
)

// Provider abstracts the remote platform: the build service, the instance
// REST API and the two authentication tiers. Every call names its endpoint
// and credentials through a Target computed by the caller.
type Provider interface {
	// CreateBuild allocates a build and returns its id
	CreateBuild(ctx context.Context, t Target, req CreateBuildRequest) (string, error)

	// UploadSource streams a source archive into an allocated build
	UploadSource(ctx context.Context, t Target, buildID, archivePath string) error

	// StartBuild asks the build service to compile the uploaded source
	StartBuild(ctx context.Context, t Target, buildID string) error

	GetBuildStatus(ctx context.Context, t Target, buildID string) (models.BuildInfo, error)
	GetBuildLogMessages(ctx context.Context, t Target, buildID string) ([]string, error)
	GetBuildArtifacts(ctx context.Context, t Target, buildID string) ([]models.Artifact, error)

	// GetADL returns the application description XML of an artifact
	GetADL(ctx context.Context, t Target, buildID, artifactID string) ([]byte, error)

	// DownloadApplicationBundle streams an artifact's bundle. The caller closes it.
	DownloadApplicationBundle(ctx context.Context, t Target, buildID, artifactID string) (io.ReadCloser, error)

	// UploadApplicationBundle uploads a local bundle to the instance and returns its bundle id
	UploadApplicationBundle(ctx context.Context, t Target, bundlePath string) (string, error)

	SubmitJob(ctx context.Context, t Target, req SubmitJobRequest) (models.SubmissionInfo, error)
	GetSubmission(ctx context.Context, t Target, submissionID string) (models.SubmissionInfo, error)
	GetSubmissionLogMessages(ctx context.Context, t Target, submissionID string) ([]string, error)

	ListToolkits(ctx context.Context, t Target) ([]models.Toolkit, error)
	GetToolkitIndex(ctx context.Context, t Target, toolkitID string) ([]byte, error)

	// HostExists checks that url answers. Any HTTP response counts as reachable.
	HostExists(ctx context.Context, url string) error

	// AuthenticatePlatform exchanges credentials for a platform token.
	// A rejected login is reported in AuthResult, not as an error.
	AuthenticatePlatform(ctx context.Context, t Target, username, password string) (AuthResult, error)

	// ListServiceInstances returns the Streams instances registered on the platform
	ListServiceInstances(ctx context.Context, t Target) ([]models.Instance, error)

	// AuthenticateInstance exchanges a platform token for an instance token
	AuthenticateInstance(ctx context.Context, t Target, instanceName string) (AuthResult, error)

	// GetResources lists the named REST resources of a standalone installation
	GetResources(ctx context.Context, t Target) ([]Resource, error)

	// AuthenticateStandalone requests a token from a standalone token endpoint
	AuthenticateStandalone(ctx context.Context, t Target) (AuthResult, error)

	// GetInstanceRestURL returns the self URL of a standalone instance
	GetInstanceRestURL(ctx context.Context, t Target) (string, error)
}

// Target is an endpoint plus the credentials to call it with. Token takes
// precedence over basic auth.
type Target struct {
	URL      string
	Token    string
	Username string
	Password string
}

// AuthResult is the outcome of a token request that reached the server
type AuthResult struct {
	StatusCode int
	Token      string
}

// OK reports whether the server issued a token
func (r AuthResult) OK() bool {
	return r.StatusCode == 200 && r.Token != ""
}

// Resource is one entry of a REST resource listing
type Resource struct {
	Name     string `json:"name"`
	Resource string `json:"resource"`
}

// CreateBuildRequest describes a new build
type CreateBuildRequest struct {
	Name              string
	Originator        string
	InactivityTimeout int
	Incremental       bool
}

// SubmitJobRequest describes an asynchronous job submission
type SubmitJobRequest struct {
	// Application is an application bundle URL or an uploaded bundle id
	Application string
	JobGroup    string
	JobName     string
	Params      []models.SubmitParameter
	// BearerToken is handed to the job for callbacks into the instance
	BearerToken string
}
