package state

import (
	"strconv"
	"strings"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/models"
)

func reduceConnection(c Connection, a action.Action) Connection {
	switch a := a.(type) {
	case action.SetInstanceType:
		c.InstanceType = a.Type
	case action.SetPlatformURL:
		c.PlatformURL = a.URL
	case action.SetUseMasterNodeHost:
		c.UseMasterNodeHost = a.Enabled
	case action.SetRememberedUser:
		c.Username = a.Username
		c.RememberPassword = a.RememberPassword
	case action.SetRestURL:
		c.Selected.RestURL = a.URL
	case action.SetBuildURL:
		c.Selected.BuildURL = a.URL
		c.Selected.ToolkitURL = a.ToolkitURL
		if c.Selected.ToolkitURL == "" {
			c.Selected.ToolkitURL = ToolkitURLFromBuildURL(a.URL)
		}
	case action.SetInstancesRootURL:
		c.Selected.InstancesRootURL = a.URL
	case action.SetAccessTokenURL:
		c.Selected.AccessTokenURL = a.URL
		c.Username = a.Username
		c.RememberPassword = a.RememberPassword
	case action.SetLoginStep:
		c.LoginStep = a.Step
	case action.SetFormDataField:
		c.FormData = setFormField(c.FormData, a.Key, a.Value)
	case action.AuthenticatePlatform:
		c.Username = a.Username
		c.RememberPassword = a.RememberPassword
	case action.AuthenticateStandalone:
		c.Username = a.Username
		c.RememberPassword = a.RememberPassword
	case action.SetInstances:
		c.Instances = cloneSlice(a.Instances)
	case action.SelectInstance:
		c.Selected = selectInstance(a.Instance)
		c.LoginStep = action.LoginStepAuthenticated
	case action.SetPlatformToken:
		tok := a.Token
		c.PlatformToken = &tok
		c.LoginStep = action.LoginStepPickInstance
	case action.SetPlatformAuthError:
		c.PlatformAuthError = a.Code
		if a.Code != 0 {
			c.FormData = FormData{}
		}
	case action.SetInstanceToken:
		tok := a.Token
		c.Selected.Token = &tok
		c.LoginStep = action.LoginStepAuthenticated
	case action.SetInstanceAuthError:
		c.InstanceAuthError = a.Failed
	case action.ResetAuth:
		c.PlatformToken = nil
		c.PlatformAuthError = 0
		c.Instances = nil
		c.InstanceAuthError = false
		c.Username = ""
		c.Selected.Token = nil
		c.LoginStep = action.LoginStepCredentials
		c.SessionEpoch++
	case action.QueueAction:
		c.QueuedAction = a.Queued
	case action.ClearQueuedAction:
		c.QueuedAction = nil
	}
	return c
}

func setFormField(f FormData, key, value string) FormData {
	switch key {
	case action.FieldUsername:
		f.Username = value
	case action.FieldPassword:
		f.Password = value
	case action.FieldRememberPassword:
		f.RememberPassword, _ = strconv.ParseBool(value)
	}
	return f
}

func selectInstance(in models.Instance) SelectedInstance {
	toolkitURL := in.Connection.BuildToolkitEndpoint
	if toolkitURL == "" {
		toolkitURL = ToolkitURLFromBuildURL(in.Connection.BuildEndpoint)
	}
	return SelectedInstance{
		ID:         in.ID,
		Name:       in.DisplayName,
		Version:    in.Version,
		Namespace:  in.Namespace,
		RestURL:    in.Connection.RestEndpoint,
		BuildURL:   in.Connection.BuildEndpoint,
		ToolkitURL: toolkitURL,
		ConsoleURL: in.Connection.ConsoleEndpoint,
		JmxURL:     in.Connection.JmxEndpoint,
	}
}

// ToolkitURLFromBuildURL derives the toolkit endpoint that sits next to a
// build endpoint.
func ToolkitURLFromBuildURL(buildURL string) string {
	if buildURL == "" {
		return ""
	}
	trimmed := strings.TrimRight(buildURL, "/")
	if base, ok := strings.CutSuffix(trimmed, "/builds"); ok {
		return base + "/toolkits"
	}
	return trimmed + "/toolkits"
}
