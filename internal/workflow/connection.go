package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/engine"
	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/provider"
	"github.com/lei/streams-build/internal/state"
)

const accessTokensResource = "accessTokens"

func connectionWorkflows(d Deps) []engine.Workflow {
	return []engine.Workflow{
		on("check-host", d.checkHost, action.KindCheckHostExists),
		on("authenticate-platform", d.authenticatePlatform, action.KindAuthenticatePlatform),
		on("list-instances", d.listInstances, action.KindSetPlatformToken),
		on("select-instance", d.selectInstance, action.KindSelectInstance),
		on("authenticate-instance", d.authenticateInstance, action.KindAuthenticateInstance),
		on("authenticate-standalone", d.authenticateStandalone, action.KindAuthenticateStandalone),
		on("standalone-token", d.standaloneToken, action.KindSetAccessTokenURL),
		on("standalone-rest-discovery", d.discoverRestURL, action.KindSetInstanceToken),
	}
}

// hostURL is the address checked before showing the login form
func hostURL(s state.State) string {
	if state.InstanceType(s) == models.InstanceStandalone {
		return state.InstancesRootURL(s)
	}
	return state.PlatformURL(s)
}

// checkHost resumes the caller through the callbacks on the action. A
// failed check is also reported through the error path.
func (d Deps) checkHost(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	req := a.(action.CheckHostExists)

	url := hostURL(s)
	err := errors.New("no host configured")
	if url != "" {
		err = d.Provider.HostExists(ctx, url)
	}

	if err != nil {
		if req.OnFailure != nil {
			req.OnFailure()
		}
		e.Emit(action.PostCheckHostExists{Reachable: false})
		return fmt.Errorf("check host %q: %w", url, err)
	}

	if req.OnSuccess != nil {
		req.OnSuccess()
	}
	e.Emit(action.PostCheckHostExists{Reachable: true})
	return nil
}

func (d Deps) authenticatePlatform(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	req := a.(action.AuthenticatePlatform)

	res, err := d.Provider.AuthenticatePlatform(ctx, provider.Target{URL: state.PlatformURL(s)}, req.Username, req.Password)
	if err != nil {
		return err
	}
	if !res.OK() {
		d.Logger.Warn("workflow: platform login rejected", "username", req.Username, "status", res.StatusCode)
		e.Emit(action.SetPlatformAuthError{Code: res.StatusCode})
		return nil
	}

	d.rememberCredentials(req.Username, req.Password, req.RememberPassword)
	e.Emit(
		action.SetPlatformToken{Token: models.Token{Value: res.Token, IssuedAt: d.Clock.Now()}},
		action.SetPlatformAuthError{Code: 0},
	)

	if d.renewAfter(ctx, e, state.SessionEpoch(s), d.Timings.PlatformTokenLifetime) {
		d.Logger.Info("workflow: renewing platform token", "username", req.Username)
		e.Emit(req)
	}
	return nil
}

func (d Deps) listInstances(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	instances, err := d.Provider.ListServiceInstances(ctx, platformTarget(s))
	if err != nil {
		return err
	}
	e.Emit(action.SetInstances{Instances: instances})
	return nil
}

func (d Deps) selectInstance(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	e.Emit(action.AuthenticateInstance{InstanceName: state.SelectedInstanceName(s)})
	return nil
}

func (d Deps) authenticateInstance(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	req := a.(action.AuthenticateInstance)

	res, err := d.Provider.AuthenticateInstance(ctx, platformTarget(s), req.InstanceName)
	if err != nil {
		return err
	}
	if !res.OK() {
		d.Logger.Warn("workflow: instance login rejected", "instance", req.InstanceName, "status", res.StatusCode)
		e.Emit(action.SetInstanceAuthError{Failed: true})
		return nil
	}

	d.emitInstanceToken(e, res.Token)

	if !d.renewAfter(ctx, e, state.SessionEpoch(s), d.Timings.PlatformTokenLifetime) {
		return nil
	}
	if state.SelectedInstanceName(e.State()) != req.InstanceName {
		d.Logger.Info("workflow: renewal dropped after instance change", "instance", req.InstanceName)
		return nil
	}
	e.Emit(req)
	return nil
}

// emitInstanceToken stores a fresh instance token, refreshes the toolkit
// cache and replays the action parked while unauthenticated
func (d Deps) emitInstanceToken(e engine.Emitter, token string) {
	out := []action.Action{
		action.SetInstanceToken{Token: models.Token{Value: token, IssuedAt: d.Clock.Now()}},
		action.SetInstanceAuthError{Failed: false},
		action.RefreshToolkits{},
	}
	if queued := replayQueued(e.State()); queued != nil {
		d.Logger.Info("workflow: replaying queued action", "kind", queued[0].Kind())
		out = append(out, queued...)
	}
	e.Emit(out...)
}

// authenticateStandalone finds the token endpoint of a standalone
// installation in its resource listing
func (d Deps) authenticateStandalone(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	req := a.(action.AuthenticateStandalone)

	resources, err := d.Provider.GetResources(ctx, provider.Target{
		URL:      state.RestResourcesURL(s),
		Username: req.Username,
		Password: req.Password,
	})
	if errors.Is(err, provider.ErrUnauthorized) {
		d.Logger.Warn("workflow: standalone login rejected", "username", req.Username)
		e.Emit(action.SetInstanceAuthError{Failed: true})
		return nil
	}
	if err != nil {
		return err
	}

	for _, r := range resources {
		if r.Name == accessTokensResource && r.Resource != "" {
			e.Emit(action.SetAccessTokenURL{
				URL:              r.Resource,
				Username:         req.Username,
				Password:         req.Password,
				RememberPassword: req.RememberPassword,
			})
			return nil
		}
	}
	return fmt.Errorf("resource listing has no %s entry", accessTokensResource)
}

func (d Deps) standaloneToken(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	req := a.(action.SetAccessTokenURL)
	if req.Username == "" {
		return nil
	}

	res, err := d.Provider.AuthenticateStandalone(ctx, provider.Target{
		URL:      req.URL,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	if !res.OK() {
		d.Logger.Warn("workflow: standalone token rejected", "username", req.Username, "status", res.StatusCode)
		e.Emit(action.SetInstanceAuthError{Failed: true})
		return nil
	}

	d.rememberCredentials(req.Username, req.Password, req.RememberPassword)
	d.emitInstanceToken(e, res.Token)

	if d.renewAfter(ctx, e, state.SessionEpoch(s), d.Timings.StandaloneTokenLifetime) {
		d.Logger.Info("workflow: renewing standalone token", "username", req.Username)
		e.Emit(req)
	}
	return nil
}

// discoverRestURL resolves the REST endpoint of a standalone instance once
// a token is available to ask for it
func (d Deps) discoverRestURL(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	if state.InstanceType(s) != models.InstanceStandalone || state.RestURL(s) != "" {
		return nil
	}
	root := state.InstancesRootURL(s)
	if root == "" {
		return nil
	}

	url, err := d.Provider.GetInstanceRestURL(ctx, provider.Target{URL: root, Token: state.InstanceToken(s)})
	if err != nil {
		return err
	}
	e.Emit(action.SetRestURL{URL: url})
	return nil
}
