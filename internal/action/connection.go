package action

import (
	"encoding/json"

	"github.com/lei/streams-build/internal/models"
)

const (
	KindSetInstanceType        Kind = "SET_INSTANCE_TYPE"
	KindSetPlatformURL         Kind = "SET_PLATFORM_URL"
	KindSetUseMasterNodeHost   Kind = "SET_USE_MASTER_NODE_HOST"
	KindSetRestURL             Kind = "SET_REST_URL"
	KindSetBuildURL            Kind = "SET_BUILD_URL"
	KindSetInstancesRootURL    Kind = "SET_INSTANCES_ROOT_URL"
	KindSetAccessTokenURL      Kind = "SET_ACCESS_TOKEN_URL"
	KindCheckHostExists        Kind = "CHECK_HOST_EXISTS"
	KindPostCheckHostExists    Kind = "POST_CHECK_HOST_EXISTS"
	KindSetLoginStep           Kind = "SET_LOGIN_STEP"
	KindSetFormDataField       Kind = "SET_FORM_DATA_FIELD"
	KindAuthenticatePlatform   Kind = "AUTHENTICATE_PLATFORM"
	KindAuthenticateInstance   Kind = "AUTHENTICATE_INSTANCE"
	KindAuthenticateStandalone Kind = "AUTHENTICATE_STANDALONE"
	KindSetInstances           Kind = "SET_INSTANCES"
	KindSelectInstance         Kind = "SELECT_INSTANCE"
	KindSetPlatformToken       Kind = "SET_PLATFORM_AUTH_TOKEN"
	KindSetPlatformAuthError   Kind = "SET_PLATFORM_AUTH_ERROR"
	KindSetInstanceToken       Kind = "SET_INSTANCE_AUTH_TOKEN"
	KindSetInstanceAuthError   Kind = "SET_INSTANCE_AUTH_ERROR"
	KindResetAuth              Kind = "RESET_AUTH"
)

// Login wizard steps
const (
	LoginStepCredentials   = 1
	LoginStepPickInstance  = 2
	LoginStepAuthenticated = 3
)

type SetInstanceType struct {
	Type models.InstanceType `json:"type"`
}

func (SetInstanceType) Kind() Kind { return KindSetInstanceType }

type SetPlatformURL struct {
	URL string `json:"url"`
}

func (SetPlatformURL) Kind() Kind { return KindSetPlatformURL }

type SetUseMasterNodeHost struct {
	Enabled bool `json:"enabled"`
}

func (SetUseMasterNodeHost) Kind() Kind { return KindSetUseMasterNodeHost }

type SetRestURL struct {
	URL string `json:"url"`
}

func (SetRestURL) Kind() Kind { return KindSetRestURL }

// SetBuildURL configures the build endpoint of a standalone instance.
// An empty ToolkitURL is derived from URL.
type SetBuildURL struct {
	URL        string `json:"url"`
	ToolkitURL string `json:"toolkit_url,omitempty"`
}

func (SetBuildURL) Kind() Kind { return KindSetBuildURL }

type SetInstancesRootURL struct {
	URL string `json:"url"`
}

func (SetInstancesRootURL) Kind() Kind { return KindSetInstancesRootURL }

// SetAccessTokenURL records the standalone token endpoint and requests a token from it
type SetAccessTokenURL struct {
	URL              string `json:"url"`
	Username         string `json:"username"`
	Password         string `json:"-"`
	RememberPassword bool   `json:"remember_password"`
}

func (SetAccessTokenURL) Kind() Kind { return KindSetAccessTokenURL }

// CheckHostExists checks that the platform URL answers. Exactly one of the callbacks runs.
type CheckHostExists struct {
	OnSuccess func() `json:"-"`
	OnFailure func() `json:"-"`
}

func (CheckHostExists) Kind() Kind { return KindCheckHostExists }

type PostCheckHostExists struct {
	Reachable bool `json:"reachable"`
}

func (PostCheckHostExists) Kind() Kind { return KindPostCheckHostExists }

type SetLoginStep struct {
	Step int `json:"step"`
}

func (SetLoginStep) Kind() Kind { return KindSetLoginStep }

// Form data fields of the login wizard
const (
	FieldUsername         = "username"
	FieldPassword         = "password"
	FieldRememberPassword = "rememberPassword"
)

// SetFormDataField stages a login form value
type SetFormDataField struct {
	Key   string
	Value string
}

func (SetFormDataField) Kind() Kind { return KindSetFormDataField }

func (a SetFormDataField) MarshalJSON() ([]byte, error) {
	value := a.Value
	if a.Key == FieldPassword && value != "" {
		value = "********"
	}
	return json.Marshal(struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}{a.Key, value})
}

// AuthenticatePlatform exchanges credentials for a platform bearer token
type AuthenticatePlatform struct {
	Username         string `json:"username"`
	Password         string `json:"-"`
	RememberPassword bool   `json:"remember_password"`
}

func (AuthenticatePlatform) Kind() Kind { return KindAuthenticatePlatform }

// AuthenticateInstance exchanges the platform token for an instance token
type AuthenticateInstance struct {
	InstanceName string `json:"instance_name"`
}

func (AuthenticateInstance) Kind() Kind { return KindAuthenticateInstance }

// AuthenticateStandalone discovers the token endpoint of a standalone instance
type AuthenticateStandalone struct {
	Username         string `json:"username"`
	Password         string `json:"-"`
	RememberPassword bool   `json:"remember_password"`
}

func (AuthenticateStandalone) Kind() Kind { return KindAuthenticateStandalone }

type SetInstances struct {
	Instances []models.Instance `json:"instances"`
}

func (SetInstances) Kind() Kind { return KindSetInstances }

type SelectInstance struct {
	Instance models.Instance `json:"instance"`
}

func (SelectInstance) Kind() Kind { return KindSelectInstance }

type SetPlatformToken struct {
	Token models.Token `json:"token"`
}

func (SetPlatformToken) Kind() Kind { return KindSetPlatformToken }

// SetPlatformAuthError records the status code of a rejected login; 0 clears it
type SetPlatformAuthError struct {
	Code int `json:"code"`
}

func (SetPlatformAuthError) Kind() Kind { return KindSetPlatformAuthError }

type SetInstanceToken struct {
	Token models.Token `json:"token"`
}

func (SetInstanceToken) Kind() Kind { return KindSetInstanceToken }

type SetInstanceAuthError struct {
	Failed bool `json:"failed"`
}

func (SetInstanceAuthError) Kind() Kind { return KindSetInstanceAuthError }

// ResetAuth drops every token and invalidates pending renewals
type ResetAuth struct{}

func (ResetAuth) Kind() Kind { return KindResetAuth }
