package config

// ConfigDiff describes what changed between two configs. Only the log level
// is applied live; any other change needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ServerURLChanged bool
	SessionChanged   bool
	AudioChanged     bool
	TelemetryChanged bool
}

// RequiresRestart reports whether a change cannot be applied live.
func (d ConfigDiff) RequiresRestart() bool {
	return d.ServerURLChanged || d.SessionChanged || d.AudioChanged || d.TelemetryChanged
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RequiresRestart()
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{
		ServerURLChanged: old.Server.URL != new.Server.URL,
		SessionChanged:   old.Session != new.Session,
		AudioChanged:     old.Audio != new.Audio,
		TelemetryChanged: old.Telemetry != new.Telemetry,
	}
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	return d
}
