package state

import (
	"net"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/models"
)

// BuildRestURL returns the effective build service endpoint
func BuildRestURL(s State) string {
	return effectiveEndpoint(s.Connection, s.Connection.Selected.BuildURL)
}

// ToolkitRestURL returns the effective toolkit catalog endpoint
func ToolkitRestURL(s State) string {
	return effectiveEndpoint(s.Connection, s.Connection.Selected.ToolkitURL)
}

// RestURL returns the effective instance REST endpoint
func RestURL(s State) string {
	return effectiveEndpoint(s.Connection, s.Connection.Selected.RestURL)
}

// ConsoleURL returns the effective console endpoint of the selected instance
func ConsoleURL(s State) string {
	return effectiveEndpoint(s.Connection, s.Connection.Selected.ConsoleURL)
}

// JmxURL returns the effective JMX endpoint of the selected instance
func JmxURL(s State) string {
	return effectiveEndpoint(s.Connection, s.Connection.Selected.JmxURL)
}

// InstancesRootURL returns the standalone instances collection endpoint
func InstancesRootURL(s State) string {
	return s.Connection.Selected.InstancesRootURL
}

// AccessTokenURL returns the standalone token endpoint, if discovered
func AccessTokenURL(s State) string {
	return s.Connection.Selected.AccessTokenURL
}

// RestResourcesURL returns the resources listing that sits beside the
// instances collection of a standalone installation.
func RestResourcesURL(s State) string {
	root := s.Connection.Selected.InstancesRootURL
	if i := strings.Index(root, "/instances"); i >= 0 {
		root = root[:i]
	}
	return strings.TrimRight(root, "/") + "/resources"
}

// PlatformURL returns the configured platform address
func PlatformURL(s State) string {
	return s.Connection.PlatformURL
}

// PlatformToken returns the platform bearer token, or "" when unauthenticated
func PlatformToken(s State) string {
	if !s.Connection.PlatformToken.Valid() {
		return ""
	}
	return s.Connection.PlatformToken.Value
}

// InstanceToken returns the instance bearer token, or "" when unauthenticated
func InstanceToken(s State) string {
	if !s.Connection.Selected.Token.Valid() {
		return ""
	}
	return s.Connection.Selected.Token.Value
}

// HasAuthenticatedPlatform reports whether a valid platform token is held
func HasAuthenticatedPlatform(s State) bool {
	return s.Connection.PlatformToken.Valid()
}

// HasAuthenticatedInstance reports whether a valid instance token is held
func HasAuthenticatedInstance(s State) bool {
	return s.Connection.Selected.Token.Valid()
}

// InstanceType returns the configured installation type
func InstanceType(s State) models.InstanceType {
	return s.Connection.InstanceType
}

// SelectedInstanceName returns the name of the selected instance
func SelectedInstanceName(s State) string {
	return s.Connection.Selected.Name
}

// SessionEpoch returns the counter bumped by every auth reset
func SessionEpoch(s State) uint64 {
	return s.Connection.SessionEpoch
}

// QueuedAction returns the action waiting for instance authentication
func QueuedAction(s State) action.Action {
	return s.Connection.QueuedAction
}

// GetPendingBuild returns the staged NEW_BUILD request, if any
func GetPendingBuild(s State) (PendingBuild, bool) {
	if s.Build.Pending == nil {
		return PendingBuild{}, false
	}
	return *s.Build.Pending, true
}

// GetBuild returns the build with the given id
func GetBuild(s State, buildID string) (Build, bool) {
	b, ok := s.Build.Builds[buildID]
	return b, ok
}

// BuildStatus returns the last reported status of a build
func BuildStatus(s State, buildID string) models.BuildStatus {
	return s.Build.Builds[buildID].Status
}

// BuildArtifacts returns the artifacts of a build
func BuildArtifacts(s State, buildID string) []models.Artifact {
	return s.Build.Builds[buildID].Artifacts
}

// PostBuildAction returns what happens with a build's artifacts once built
func PostBuildAction(s State, buildID string) models.PostBuildAction {
	return s.Build.Builds[buildID].PostBuild
}

// Builds returns every known build ordered by id
func Builds(s State) []Build {
	out := make([]Build, 0, len(s.Build.Builds))
	for _, b := range s.Build.Builds {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OutputArtifactPath is where a downloaded artifact is written:
// <appRoot>/output/<artifact name>.
func OutputArtifactPath(s State, buildID, artifactID string) (string, bool) {
	b, ok := s.Build.Builds[buildID]
	if !ok {
		return "", false
	}
	for _, a := range b.Artifacts {
		if a.ID == artifactID {
			return filepath.Join(b.AppRoot, "output", a.Name), true
		}
	}
	return "", false
}

// BuildDisplayIdentifier names a build for humans: the composite name, or the
// makefile path relative to the application's parent directory.
func BuildDisplayIdentifier(s State, buildID string) string {
	b, ok := s.Build.Builds[buildID]
	if !ok {
		return buildID
	}
	if b.MakefilePath != "" {
		rel, err := filepath.Rel(b.AppRoot, b.MakefilePath)
		if err != nil {
			rel = b.MakefilePath
		}
		return filepath.Join(filepath.Base(b.AppRoot), rel)
	}
	if b.FQN != "" {
		return b.FQN
	}
	return buildID
}

// GetSubmission returns the submission with the given id
func GetSubmission(s State, submissionID string) (Submission, bool) {
	sub, ok := s.Submission.Submissions[submissionID]
	return sub, ok
}

// SubmitStatus returns the last reported status of a submission
func SubmitStatus(s State, submissionID string) models.SubmissionStatus {
	return s.Submission.Submissions[submissionID].Status
}

// Submissions returns every known submission ordered by id
func Submissions(s State) []Submission {
	out := make([]Submission, 0, len(s.Submission.Submissions))
	for _, sub := range s.Submission.Submissions {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetParamRequest returns the parameter prompt of a suspended submission
func GetParamRequest(s State, workflowID string) (ParamRequest, bool) {
	req, ok := s.Submission.Params[workflowID]
	return req, ok
}

// AwaitingParams returns the prompts still waiting for values, oldest first
func AwaitingParams(s State) []ParamRequest {
	var out []ParamRequest
	for _, req := range s.Submission.Params {
		if req.Status == ParamsAwaiting {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt < out[j].RequestedAt })
	return out
}

func effectiveEndpoint(c Connection, endpoint string) string {
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "/") && c.PlatformURL != "" {
		endpoint = strings.TrimRight(c.PlatformURL, "/") + endpoint
	}
	if !c.UseMasterNodeHost || c.Selected.AccessTokenURL != "" {
		return endpoint
	}
	return withPlatformHost(c.PlatformURL, endpoint)
}

// withPlatformHost swaps the hostname of endpoint for the platform's,
// keeping scheme, port and path. Unparseable input is returned as is.
func withPlatformHost(platformURL, endpoint string) string {
	pu, err := url.Parse(platformURL)
	if err != nil || pu.Hostname() == "" {
		return endpoint
	}
	eu, err := url.Parse(endpoint)
	if err != nil || eu.Host == "" {
		return endpoint
	}
	host := pu.Hostname()
	if port := eu.Port(); port != "" {
		eu.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		eu.Host = "[" + host + "]"
	} else {
		eu.Host = host
	}
	return eu.String()
}
