package action

const (
	KindPackageActivated     Kind = "PACKAGE_ACTIVATED"
	KindPostPackageActivated Kind = "POST_PACKAGE_ACTIVATED"
	KindSetBuildOriginator   Kind = "SET_BUILD_ORIGINATOR"
	KindSetRememberedUser    Kind = "SET_REMEMBERED_USER"
	KindQueueAction          Kind = "QUEUE_ACTION"
	KindClearQueuedAction    Kind = "CLEAR_QUEUED_ACTION"
	KindSetToolkitsCacheDir  Kind = "SET_TOOLKITS_CACHE_DIR"
	KindSetToolkitsPath      Kind = "SET_TOOLKITS_PATH_SETTING"
	KindOpenConsole          Kind = "OPEN_STREAMS_CONSOLE"
	KindPostOpenConsole      Kind = "POST_OPEN_STREAMS_CONSOLE"
)

type PackageActivated struct{}

func (PackageActivated) Kind() Kind { return KindPackageActivated }

type PostPackageActivated struct{}

func (PostPackageActivated) Kind() Kind { return KindPostPackageActivated }

// SetBuildOriginator records the client name and version sent with new builds
type SetBuildOriginator struct {
	Originator string `json:"originator"`
	Version    string `json:"version"`
}

func (SetBuildOriginator) Kind() Kind { return KindSetBuildOriginator }

// SetRememberedUser restores the username persisted by a previous session
type SetRememberedUser struct {
	Username         string `json:"username"`
	RememberPassword bool   `json:"remember_password"`
}

func (SetRememberedUser) Kind() Kind { return KindSetRememberedUser }

// QueueAction parks an action until instance authentication completes
type QueueAction struct {
	Queued Action `json:"queued"`
}

func (QueueAction) Kind() Kind { return KindQueueAction }

type ClearQueuedAction struct{}

func (ClearQueuedAction) Kind() Kind { return KindClearQueuedAction }

type SetToolkitsCacheDir struct {
	Dir string `json:"dir"`
}

func (SetToolkitsCacheDir) Kind() Kind { return KindSetToolkitsCacheDir }

type SetToolkitsPathSetting struct {
	Path string `json:"path"`
}

func (SetToolkitsPathSetting) Kind() Kind { return KindSetToolkitsPath }

// OpenConsole asks for the instance console to be opened
type OpenConsole struct{}

func (OpenConsole) Kind() Kind         { return KindOpenConsole }
func (OpenConsole) RequiresAuth() bool { return true }

type PostOpenConsole struct {
	URL string `json:"url"`
}

func (PostOpenConsole) Kind() Kind { return KindPostOpenConsole }
