package config

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied without a restart; session and audio changes take effect on
// the next session.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when any session field differs. The running
	// session keeps its original settings.
	SessionChanged bool

	// AudioChanged is true when any audio field differs.
	AudioChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Session != new.Session {
		d.SessionChanged = true
	}
	if old.Audio != new.Audio {
		d.AudioChanged = true
	}

	return d
}
