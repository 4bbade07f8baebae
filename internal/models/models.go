package models

import "time"

// InstanceType selects how the gateway authenticates against a Streams instance
type InstanceType string

const (
	InstanceCP4D       InstanceType = "cp4d"
	InstanceStandalone InstanceType = "standalone"
)

// BuildStatus is the status string reported by the build service
type BuildStatus string

const (
	BuildCreated  BuildStatus = "created"
	BuildWaiting  BuildStatus = "waiting"
	BuildBuilding BuildStatus = "building"
	BuildBuilt    BuildStatus = "built"
	BuildFailed   BuildStatus = "failed"
)

// InProgress reports whether the build service is still working on the build
func (s BuildStatus) InProgress() bool {
	switch s {
	case BuildCreated, BuildWaiting, BuildBuilding:
		return true
	default:
		return false
	}
}

// SubmissionStatus is the status string reported for an async job submission
type SubmissionStatus string

const (
	SubmissionCreated            SubmissionStatus = "submission.created"
	SubmissionJobSubmitting      SubmissionStatus = "job.submitting"
	SubmissionJobRegistering     SubmissionStatus = "job.registering"
	SubmissionBundleUploading    SubmissionStatus = "job.applicationBundleUploading"
	SubmissionJobSubmitted       SubmissionStatus = "job.submitted"
	SubmissionJobSubmitFailed    SubmissionStatus = "job.submitFailed"
	SubmissionFailedProcessing   SubmissionStatus = "submission.failedProcessingJob"
	SubmissionFailedBuildProcess SubmissionStatus = "submission.failedProcessingBuild"
)

// Incomplete reports whether the submission is still being processed.
// Unrecognized statuses are terminal.
func (s SubmissionStatus) Incomplete() bool {
	switch s {
	case SubmissionCreated, SubmissionJobSubmitting, SubmissionJobRegistering, SubmissionBundleUploading:
		return true
	default:
		return false
	}
}

// PostBuildAction is what happens with the artifacts of a successful build
type PostBuildAction string

const (
	PostBuildNone     PostBuildAction = ""
	PostBuildDownload PostBuildAction = "download"
	PostBuildSubmit   PostBuildAction = "submit"
)

// BuildInfo is the normalized body of a build status response
type BuildInfo struct {
	BuildID             string      `json:"build_id"`
	Name                string      `json:"name,omitempty"`
	Status              BuildStatus `json:"status"`
	CreationTime        int64       `json:"creation_time,omitempty"`
	CreationUser        string      `json:"creation_user,omitempty"`
	LastActivityTime    int64       `json:"last_activity_time,omitempty"`
	ProcessingStartTime int64       `json:"processing_start_time,omitempty"`
	ProcessingEndTime   int64       `json:"processing_end_time,omitempty"`
	SubmitCount         int         `json:"submit_count"`
}

// Artifact is a compiled application bundle produced by a build
type Artifact struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	ApplicationBundle string `json:"applicationBundle"`
	Size              int64  `json:"size,omitempty"`
}

// Instance is a Streams service instance registered on the platform
type Instance struct {
	ID          string         `json:"ID"`
	DisplayName string         `json:"ServiceInstanceDisplayName"`
	Type        string         `json:"ServiceInstanceType"`
	Version     string         `json:"ServiceInstanceVersion,omitempty"`
	Namespace   string         `json:"ServiceInstanceNamespace,omitempty"`
	Connection  ConnectionInfo `json:"connection"`
}

// ConnectionInfo lists the externally reachable endpoints of an instance
type ConnectionInfo struct {
	RestEndpoint         string `json:"externalRestEndpoint"`
	BuildEndpoint        string `json:"externalBuildEndpoint"`
	BuildToolkitEndpoint string `json:"externalBuildToolkitEndpoint"`
	ConsoleEndpoint      string `json:"externalConsoleEndpoint"`
	JmxEndpoint          string `json:"externalJmxEndpoint"`
}

// Token is a bearer credential
type Token struct {
	Value    string    `json:"-"`
	IssuedAt time.Time `json:"issued_at,omitempty"`
}

// Valid reports whether the token carries a value
func (t *Token) Valid() bool {
	return t != nil && t.Value != ""
}

// Toolkit is an entry of the build service's toolkit catalog
type Toolkit struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Path    string `json:"path,omitempty"`
}

// Bundle is a local application bundle (.sab) to submit
type Bundle struct {
	Path     string `json:"bundle_path"`
	JobGroup string `json:"job_group,omitempty"`
	JobName  string `json:"job_name"`
}

// SubmissionInfo is the normalized body of a job submission response
type SubmissionInfo struct {
	ID     string           `json:"id"`
	Status SubmissionStatus `json:"status"`
	Job    string           `json:"job,omitempty"`
	Name   string           `json:"name,omitempty"`
}

// SubmissionTimeParam is a parameter declared by an application's ADL
type SubmissionTimeParam struct {
	Name         string `json:"name"`
	Kind         string `json:"kind,omitempty"`
	Required     bool   `json:"required"`
	DefaultValue string `json:"default_value,omitempty"`
}

// SubmitParameter is a resolved submission-time value
type SubmitParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
