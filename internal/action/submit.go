package action

import "github.com/lei/streams-build/internal/models"

const (
	KindGetParamsFromADL        Kind = "GET_SUBMISSION_TIME_VALUES_FROM_ADL"
	KindGetParamsFromBundles    Kind = "GET_SUBMISSION_TIME_VALUES_FROM_BUNDLE"
	KindAwaitSubmissionParams   Kind = "WAITING_FOR_SUBMISSION_TIME_PARAMETERS"
	KindResolveSubmissionParams Kind = "RESOLVE_SUBMISSION_TIME_PARAMETERS"
	KindCancelSubmissionParams  Kind = "CANCEL_SUBMISSION_TIME_PARAMETERS"
	KindClearSubmissionParams   Kind = "CLEAR_SUBMISSION_TIME_PARAMETERS"
	KindSubmitApplications      Kind = "SUBMIT_APPLICATIONS"
	KindSubmitFromBundle        Kind = "SUBMIT_APPLICATIONS_FROM_BUNDLE_FILES"
	KindGetSubmitStatus         Kind = "GET_SUBMIT_STATUS"
	KindSubmitStatusFulfilled   Kind = "GET_SUBMIT_STATUS_FULFILLED"
	KindSubmitLogFulfilled      Kind = "GET_SUBMIT_LOG_MESSAGES_FULFILLED"
	KindSubmitStatusReceived    Kind = "SUBMIT_STATUS_RECEIVED"
)

// ParamSource tells the resume workflow which submit action a suspension leads to
type ParamSource string

const (
	ParamSourceADL    ParamSource = "adl"
	ParamSourceBundle ParamSource = "bundle"
)

// GetSubmissionParamsFromADL reads the submission-time parameters of every
// artifact of a build before submitting them.
type GetSubmissionParamsFromADL struct {
	BuildID string `json:"build_id"`
}

func (GetSubmissionParamsFromADL) Kind() Kind { return KindGetParamsFromADL }

// GetSubmissionParamsFromBundles uploads local bundles and submits them
type GetSubmissionParamsFromBundles struct {
	Bundles []models.Bundle `json:"bundles"`
}

func (GetSubmissionParamsFromBundles) Kind() Kind         { return KindGetParamsFromBundles }
func (GetSubmissionParamsFromBundles) RequiresAuth() bool { return true }

// AwaitSubmissionParams suspends a submission until values for Params are
// supplied with a ResolveSubmissionParams carrying the same WorkflowID.
type AwaitSubmissionParams struct {
	WorkflowID string                       `json:"workflow_id"`
	Source     ParamSource                  `json:"source"`
	BuildID    string                       `json:"build_id,omitempty"`
	BundleID   string                       `json:"bundle_id,omitempty"`
	JobGroup   string                       `json:"job_group,omitempty"`
	JobName    string                       `json:"job_name,omitempty"`
	Params     []models.SubmissionTimeParam `json:"params"`
}

func (AwaitSubmissionParams) Kind() Kind { return KindAwaitSubmissionParams }

type ResolveSubmissionParams struct {
	WorkflowID string                   `json:"workflow_id"`
	Values     []models.SubmitParameter `json:"values"`
}

func (ResolveSubmissionParams) Kind() Kind { return KindResolveSubmissionParams }

type CancelSubmissionParams struct {
	WorkflowID string `json:"workflow_id"`
}

func (CancelSubmissionParams) Kind() Kind { return KindCancelSubmissionParams }

type ClearSubmissionParams struct {
	WorkflowID string `json:"workflow_id"`
}

func (ClearSubmissionParams) Kind() Kind { return KindClearSubmissionParams }

// SubmitApplications submits every artifact of a build as a job
type SubmitApplications struct {
	BuildID string                   `json:"build_id"`
	Params  []models.SubmitParameter `json:"params"`
}

func (SubmitApplications) Kind() Kind { return KindSubmitApplications }

// SubmitFromBundle submits a bundle previously uploaded to the instance
type SubmitFromBundle struct {
	BundleID string                   `json:"bundle_id"`
	JobGroup string                   `json:"job_group,omitempty"`
	JobName  string                   `json:"job_name,omitempty"`
	Params   []models.SubmitParameter `json:"params"`
}

func (SubmitFromBundle) Kind() Kind { return KindSubmitFromBundle }

type GetSubmitStatus struct {
	SubmissionID string `json:"submission_id"`
	BuildID      string `json:"build_id,omitempty"`
}

func (GetSubmitStatus) Kind() Kind { return KindGetSubmitStatus }

type SubmitStatusFulfilled struct {
	SubmissionID string                `json:"submission_id"`
	BuildID      string                `json:"build_id,omitempty"`
	Info         models.SubmissionInfo `json:"info"`
}

func (SubmitStatusFulfilled) Kind() Kind { return KindSubmitStatusFulfilled }

type SubmitLogFulfilled struct {
	SubmissionID string   `json:"submission_id"`
	Messages     []string `json:"messages"`
}

func (SubmitLogFulfilled) Kind() Kind { return KindSubmitLogFulfilled }

type SubmitStatusReceived struct {
	SubmissionID string `json:"submission_id"`
	BuildID      string `json:"build_id,omitempty"`
}

func (SubmitStatusReceived) Kind() Kind { return KindSubmitStatusReceived }
