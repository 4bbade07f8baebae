package workflow

import (
	"context"
	"errors"
	"strconv"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/credstore"
	"github.com/lei/streams-build/internal/engine"
	"github.com/lei/streams-build/internal/state"
)

func sessionWorkflows(d Deps) []engine.Workflow {
	return []engine.Workflow{
		on("package-activated", d.packageActivated, action.KindPackageActivated),
		on("open-console", d.openConsole, action.KindOpenConsole),
		on("report-error", d.reportError, action.KindError),
	}
}

// packageActivated stages a remembered password into the login form
func (d Deps) packageActivated(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	user := s.Connection.Username
	if user == "" || !s.Connection.RememberPassword || d.Creds == nil {
		e.Emit(action.PostPackageActivated{})
		return nil
	}

	password, err := d.Creds.Get(user)
	if errors.Is(err, credstore.ErrNotFound) {
		e.Emit(action.PostPackageActivated{})
		return nil
	}
	if err != nil {
		return err
	}

	e.Emit(
		action.SetFormDataField{Key: action.FieldUsername, Value: user},
		action.SetFormDataField{Key: action.FieldPassword, Value: password},
		action.SetFormDataField{Key: action.FieldRememberPassword, Value: strconv.FormatBool(true)},
		action.PostPackageActivated{},
	)
	return nil
}

func (d Deps) openConsole(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	url := state.ConsoleURL(s)
	if url == "" {
		return errors.New("console URL unknown for the selected instance")
	}
	if err := d.Opener.OpenURL(url); err != nil {
		return err
	}
	e.Emit(action.PostOpenConsole{URL: url})
	return nil
}

// reportError is the single consumer of failed workflows
func (d Deps) reportError(ctx context.Context, a action.Action, s state.State, e engine.Emitter) error {
	failed := a.(action.Error)

	d.Logger.Error("workflow: action failed",
		"source_kind", failed.SourceKind(),
		"error", failed.Err)
	d.Presenter.PresentError(failed.SourceKind(), failed.Err)

	e.Emit(action.PostError{SourceKind: failed.SourceKind()})
	return nil
}
