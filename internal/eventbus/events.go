package eventbus

// Event types published by toolbox components.
const (
	SessionAcquired = "session.acquired"
	SessionReleased = "session.released"

	RecordAppended = "store.appended"
	RecordRemoved  = "store.removed"
	StoreCleared   = "store.cleared"

	PluginStarted     = "plugin.started"
	PluginStopped     = "plugin.stopped"
	PluginQuarantined = "plugin.quarantined"

	ConfigReloaded = "config.reloaded"
)

type SessionData struct {
	ChatID int64
	Tool   string
	Reason string
}

type StoreData struct {
	ChatID int64
	Tool   string
	Store  string
	ID     string
}

type PluginData struct {
	Plugin string
	Reason string
}
