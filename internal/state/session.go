package state

import "github.com/lei/streams-build/internal/action"

func reduceSession(s Session, a action.Action) Session {
	switch a := a.(type) {
	case action.PackageActivated:
		s.PackageActivated = true
	case action.SetBuildOriginator:
		s.BuildOriginator = a.Originator + "::" + a.Version
	case action.SetToolkitsCacheDir:
		s.ToolkitsCacheDir = a.Dir
	case action.SetToolkitsPathSetting:
		s.ToolkitsPathSetting = a.Path
	}
	return s
}
