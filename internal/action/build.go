package action

import "github.com/lei/streams-build/internal/models"

const (
	KindNewBuild                    Kind = "NEW_BUILD"
	KindUploadSource                Kind = "BUILD_UPLOAD_SOURCE"
	KindSourceArchiveCreated        Kind = "SOURCE_ARCHIVE_CREATED"
	KindStartBuild                  Kind = "START_BUILD"
	KindGetBuildStatus              Kind = "GET_BUILD_STATUS"
	KindBuildStatusFulfilled        Kind = "GET_BUILD_STATUS_FULFILLED"
	KindBuildLogFulfilled           Kind = "GET_BUILD_LOG_MESSAGES_FULFILLED"
	KindBuildStatusReceived         Kind = "BUILD_STATUS_RECEIVED"
	KindGetBuildArtifacts           Kind = "GET_BUILD_ARTIFACTS"
	KindBuildArtifactsFulfilled     Kind = "GET_BUILD_ARTIFACTS_FULFILLED"
	KindPostBuildArtifactsFulfilled Kind = "POST_GET_BUILD_ARTIFACTS_FULFILLED"
	KindDownloadArtifacts           Kind = "DOWNLOAD_BUILD_ARTIFACTS"
	KindPostDownloadArtifacts       Kind = "POST_DOWNLOAD_BUILD_ARTIFACTS"
	KindRefreshToolkits             Kind = "REFRESH_TOOLKITS"
	KindPostRefreshToolkits         Kind = "POST_REFRESH_TOOLKITS"
)

// NewBuild requests a build of the application rooted at AppRoot.
// Exactly one of FQN and MakefilePath names the build input.
type NewBuild struct {
	AppRoot         string                 `json:"app_root"`
	ToolkitRootPath string                 `json:"toolkit_root_path,omitempty"`
	FQN             string                 `json:"fqn,omitempty"`
	MakefilePath    string                 `json:"makefile_path,omitempty"`
	PostBuild       models.PostBuildAction `json:"post_build,omitempty"`
	SourceArchive   string                 `json:"source_archive,omitempty"`
}

func (NewBuild) Kind() Kind         { return KindNewBuild }
func (NewBuild) RequiresAuth() bool { return true }

// UploadSource carries the staged build request under its assigned id
type UploadSource struct {
	BuildID         string `json:"build_id"`
	AppRoot         string `json:"app_root"`
	ToolkitRootPath string `json:"toolkit_root_path,omitempty"`
	FQN             string `json:"fqn,omitempty"`
	MakefilePath    string `json:"makefile_path,omitempty"`
	SourceArchive   string `json:"source_archive,omitempty"`
}

func (UploadSource) Kind() Kind { return KindUploadSource }

type SourceArchiveCreated struct {
	BuildID     string `json:"build_id"`
	ArchivePath string `json:"archive_path"`
}

func (SourceArchiveCreated) Kind() Kind { return KindSourceArchiveCreated }

type StartBuild struct {
	BuildID string `json:"build_id"`
}

func (StartBuild) Kind() Kind { return KindStartBuild }

type GetBuildStatus struct {
	BuildID string `json:"build_id"`
}

func (GetBuildStatus) Kind() Kind { return KindGetBuildStatus }

type BuildStatusFulfilled struct {
	BuildID string           `json:"build_id"`
	Info    models.BuildInfo `json:"info"`
}

func (BuildStatusFulfilled) Kind() Kind { return KindBuildStatusFulfilled }

type BuildLogFulfilled struct {
	BuildID  string   `json:"build_id"`
	Messages []string `json:"messages"`
}

func (BuildLogFulfilled) Kind() Kind { return KindBuildLogFulfilled }

// BuildStatusReceived closes one status poll; the loop decides what comes next
type BuildStatusReceived struct {
	BuildID string `json:"build_id"`
}

func (BuildStatusReceived) Kind() Kind { return KindBuildStatusReceived }

type GetBuildArtifacts struct {
	BuildID string `json:"build_id"`
}

func (GetBuildArtifacts) Kind() Kind { return KindGetBuildArtifacts }

type BuildArtifactsFulfilled struct {
	BuildID   string            `json:"build_id"`
	Artifacts []models.Artifact `json:"artifacts"`
}

func (BuildArtifactsFulfilled) Kind() Kind { return KindBuildArtifactsFulfilled }

type PostBuildArtifactsFulfilled struct {
	BuildID string `json:"build_id"`
}

func (PostBuildArtifactsFulfilled) Kind() Kind { return KindPostBuildArtifactsFulfilled }

type DownloadArtifacts struct {
	BuildID string `json:"build_id"`
}

func (DownloadArtifacts) Kind() Kind { return KindDownloadArtifacts }

// PostDownloadArtifacts lists the files written by a download fan-out
type PostDownloadArtifacts struct {
	BuildID string   `json:"build_id"`
	Files   []string `json:"files"`
}

func (PostDownloadArtifacts) Kind() Kind { return KindPostDownloadArtifacts }

type RefreshToolkits struct{}

func (RefreshToolkits) Kind() Kind { return KindRefreshToolkits }

type PostRefreshToolkits struct {
	Cached int `json:"cached"`
}

func (PostRefreshToolkits) Kind() Kind { return KindPostRefreshToolkits }
