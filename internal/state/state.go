// Package state holds the versioned application state and the pure reducers
// that derive each new version from a dispatched action.
package state

import (
	"maps"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/models"
)

// State is an immutable snapshot. Reduce never modifies its input; maps and
// slices reachable from a State must be treated as read-only.
type State struct {
	Version    uint64          `json:"version"`
	Session    Session         `json:"session"`
	Connection Connection      `json:"connection"`
	Build      BuildSlice      `json:"build"`
	Submission SubmissionSlice `json:"submission"`
}

// Session carries process-wide settings that are not tied to a login
type Session struct {
	PackageActivated    bool   `json:"package_activated"`
	BuildOriginator     string `json:"build_originator,omitempty"`
	ToolkitsCacheDir    string `json:"toolkits_cache_dir,omitempty"`
	ToolkitsPathSetting string `json:"toolkits_path_setting,omitempty"`
}

// Connection is the connection and authentication slice
type Connection struct {
	InstanceType      models.InstanceType `json:"instance_type,omitempty"`
	PlatformURL       string              `json:"platform_url,omitempty"`
	UseMasterNodeHost bool                `json:"use_master_node_host"`
	Username          string              `json:"username,omitempty"`
	RememberPassword  bool                `json:"remember_password"`
	LoginStep         int                 `json:"login_step"`
	FormData          FormData            `json:"form_data"`
	Instances         []models.Instance   `json:"instances,omitempty"`
	Selected          SelectedInstance    `json:"selected"`
	PlatformToken     *models.Token       `json:"platform_token,omitempty"`
	PlatformAuthError int                 `json:"platform_auth_error,omitempty"`
	InstanceAuthError bool                `json:"instance_auth_error"`
	SessionEpoch      uint64              `json:"session_epoch"`
	QueuedAction      action.Action       `json:"queued_action,omitempty"`
}

// FormData is the staged content of the login form
type FormData struct {
	Username         string `json:"username,omitempty"`
	Password         string `json:"-"`
	RememberPassword bool   `json:"remember_password"`
}

// SelectedInstance is the Streams instance the session talks to. Endpoints
// are stored as reported; selectors derive the effective URLs.
type SelectedInstance struct {
	ID               string        `json:"id,omitempty"`
	Name             string        `json:"name,omitempty"`
	Version          string        `json:"version,omitempty"`
	Namespace        string        `json:"namespace,omitempty"`
	RestURL          string        `json:"rest_url,omitempty"`
	BuildURL         string        `json:"build_url,omitempty"`
	ToolkitURL       string        `json:"toolkit_url,omitempty"`
	ConsoleURL       string        `json:"console_url,omitempty"`
	JmxURL           string        `json:"jmx_url,omitempty"`
	InstancesRootURL string        `json:"instances_root_url,omitempty"`
	AccessTokenURL   string        `json:"access_token_url,omitempty"`
	Token            *models.Token `json:"token,omitempty"`
}

// BuildSlice tracks builds by id plus the request staged before an id exists
type BuildSlice struct {
	Pending *PendingBuild    `json:"pending,omitempty"`
	Builds  map[string]Build `json:"builds,omitempty"`
}

// PendingBuild is the staged NEW_BUILD request
type PendingBuild struct {
	AppRoot         string                 `json:"app_root"`
	ToolkitRootPath string                 `json:"toolkit_root_path,omitempty"`
	FQN             string                 `json:"fqn,omitempty"`
	MakefilePath    string                 `json:"makefile_path,omitempty"`
	PostBuild       models.PostBuildAction `json:"post_build,omitempty"`
	SourceArchive   string                 `json:"source_archive,omitempty"`
}

// Build is one remote build
type Build struct {
	ID              string                 `json:"build_id"`
	Name            string                 `json:"name,omitempty"`
	Status          models.BuildStatus     `json:"status,omitempty"`
	CreationUser    string                 `json:"creation_user,omitempty"`
	LastActivity    int64                  `json:"last_activity_time,omitempty"`
	SubmitCount     int                    `json:"submit_count"`
	LogMessages     []string               `json:"log_messages,omitempty"`
	Artifacts       []models.Artifact      `json:"artifacts,omitempty"`
	AppRoot         string                 `json:"app_root,omitempty"`
	ToolkitRootPath string                 `json:"toolkit_root_path,omitempty"`
	FQN             string                 `json:"fqn,omitempty"`
	MakefilePath    string                 `json:"makefile_path,omitempty"`
	PostBuild       models.PostBuildAction `json:"post_build,omitempty"`
}

// SubmissionSlice tracks job submissions and suspended parameter prompts
type SubmissionSlice struct {
	Submissions map[string]Submission   `json:"submissions,omitempty"`
	Params      map[string]ParamRequest `json:"params,omitempty"`
}

// Submission is one asynchronous job submission
type Submission struct {
	ID          string                  `json:"id"`
	BuildID     string                  `json:"build_id,omitempty"`
	Status      models.SubmissionStatus `json:"status,omitempty"`
	Job         string                  `json:"job,omitempty"`
	Name        string                  `json:"name,omitempty"`
	LogMessages []string                `json:"log_messages,omitempty"`
}

// ParamStatus is the lifecycle of a suspended parameter prompt
type ParamStatus string

const (
	ParamsAwaiting ParamStatus = "awaiting"
	ParamsResolved ParamStatus = "resolved"
)

// ParamRequest is a submission suspended until parameter values arrive.
// ResolvedAt is the state version produced by the resolving action.
type ParamRequest struct {
	WorkflowID  string                       `json:"workflow_id"`
	Source      action.ParamSource           `json:"source"`
	BuildID     string                       `json:"build_id,omitempty"`
	BundleID    string                       `json:"bundle_id,omitempty"`
	JobGroup    string                       `json:"job_group,omitempty"`
	JobName     string                       `json:"job_name,omitempty"`
	Params      []models.SubmissionTimeParam `json:"params"`
	Status      ParamStatus                  `json:"status"`
	Values      []models.SubmitParameter     `json:"values,omitempty"`
	RequestedAt uint64                       `json:"requested_at"`
	ResolvedAt  uint64                       `json:"resolved_at,omitempty"`
}

// Initial returns the state before any action has been dispatched
func Initial() State {
	return State{
		Connection: Connection{LoginStep: action.LoginStepCredentials},
	}
}

// Reduce applies a to every slice and returns the next version.
// Kinds a slice does not handle leave that slice unchanged.
func Reduce(s State, a action.Action) State {
	next := s
	next.Version = s.Version + 1
	next.Session = reduceSession(s.Session, a)
	next.Connection = reduceConnection(s.Connection, a)
	next.Build = reduceBuild(s.Build, a)
	next.Submission = reduceSubmission(s.Submission, a, next.Version)
	return next
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return make(map[K]V)
	}
	return maps.Clone(m)
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append([]T(nil), s...)
}
