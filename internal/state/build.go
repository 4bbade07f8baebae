package state

import "github.com/lei/streams-build/internal/action"

func reduceBuild(b BuildSlice, a action.Action) BuildSlice {
	switch a := a.(type) {
	case action.NewBuild:
		b.Pending = &PendingBuild{
			AppRoot:         a.AppRoot,
			ToolkitRootPath: a.ToolkitRootPath,
			FQN:             a.FQN,
			MakefilePath:    a.MakefilePath,
			PostBuild:       a.PostBuild,
			SourceArchive:   a.SourceArchive,
		}
	case action.UploadSource:
		b.Builds = cloneMap(b.Builds)
		build := b.Builds[a.BuildID]
		build.ID = a.BuildID
		build.AppRoot = a.AppRoot
		build.ToolkitRootPath = a.ToolkitRootPath
		build.FQN = a.FQN
		build.MakefilePath = a.MakefilePath
		if b.Pending != nil {
			build.PostBuild = b.Pending.PostBuild
		}
		b.Builds[a.BuildID] = build
		b.Pending = nil
	case action.BuildStatusFulfilled:
		b.Builds = cloneMap(b.Builds)
		build := b.Builds[a.BuildID]
		build.ID = a.BuildID
		build.Status = a.Info.Status
		build.LastActivity = a.Info.LastActivityTime
		build.SubmitCount = a.Info.SubmitCount
		if a.Info.Name != "" {
			build.Name = a.Info.Name
		}
		if a.Info.CreationUser != "" {
			build.CreationUser = a.Info.CreationUser
		}
		b.Builds[a.BuildID] = build
	case action.BuildLogFulfilled:
		b.Builds = cloneMap(b.Builds)
		build := b.Builds[a.BuildID]
		build.ID = a.BuildID
		build.LogMessages = cloneSlice(a.Messages)
		b.Builds[a.BuildID] = build
	case action.BuildArtifactsFulfilled:
		b.Builds = cloneMap(b.Builds)
		build := b.Builds[a.BuildID]
		build.ID = a.BuildID
		build.Artifacts = cloneSlice(a.Artifacts)
		b.Builds[a.BuildID] = build
	}
	return b
}
