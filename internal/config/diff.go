package config

// ConfigDiff describes what changed between two configs.
// Only the log level can be applied without a restart; everything else is
// reported so the operator can be warned.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the changed settings that only take effect
	// after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	static := []struct {
		name    string
		changed bool
	}{
		{"server.port", old.Server.Port != new.Server.Port},
		{"upstream.url", old.Upstream.URL != new.Upstream.URL},
		{"upstream.token", old.Upstream.Token != new.Upstream.Token},
		{"upstream.agent", old.Upstream.Agent != new.Upstream.Agent},
		{"timing", old.Timing != new.Timing},
		{"conversations.max", old.Conversations.Max != new.Conversations.Max},
	}
	for _, s := range static {
		if s.changed {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}
