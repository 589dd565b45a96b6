package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AccessChanged is true if default_public or any session policy changed.
	AccessChanged  bool
	AccessChanges  []AccessDiff
	DefaultPublic  bool
	DefaultChanged bool

	// TranscriptChanged is true if any transcript option changed.
	TranscriptChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart (listen address, TLS, auth, providers, storage, telemetry).
	RestartRequired []string
}

// AccessDiff describes what changed for a single session policy.
type AccessDiff struct {
	SessionID string
	Added     bool
	Removed   bool
	Modified  bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Access
	if old.Access.DefaultPublic != new.Access.DefaultPublic {
		d.DefaultChanged = true
		d.DefaultPublic = new.Access.DefaultPublic
		d.AccessChanged = true
	}
	oldSessions := make(map[string]*SessionAccess, len(old.Access.Sessions))
	for i := range old.Access.Sessions {
		oldSessions[old.Access.Sessions[i].ID] = &old.Access.Sessions[i]
	}
	newSessions := make(map[string]*SessionAccess, len(new.Access.Sessions))
	for i := range new.Access.Sessions {
		newSessions[new.Access.Sessions[i].ID] = &new.Access.Sessions[i]
	}
	for id, o := range oldSessions {
		n, exists := newSessions[id]
		switch {
		case !exists:
			d.AccessChanges = append(d.AccessChanges, AccessDiff{SessionID: id, Removed: true})
		case !sameAccess(o, n):
			d.AccessChanges = append(d.AccessChanges, AccessDiff{SessionID: id, Modified: true})
		}
	}
	for id := range newSessions {
		if _, exists := oldSessions[id]; !exists {
			d.AccessChanges = append(d.AccessChanges, AccessDiff{SessionID: id, Added: true})
		}
	}
	if len(d.AccessChanges) > 0 {
		d.AccessChanged = true
		slices.SortFunc(d.AccessChanges, func(a, b AccessDiff) int {
			switch {
			case a.SessionID < b.SessionID:
				return -1
			case a.SessionID > b.SessionID:
				return 1
			}
			return 0
		})
	}

	// Transcript
	if old.Transcript != new.Transcript {
		d.TranscriptChanged = true
	}

	// Everything else needs a restart.
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) ||
		old.Server.WriteTimeout != new.Server.WriteTimeout ||
		old.Server.PingInterval != new.Server.PingInterval {
		d.RestartRequired = append(d.RestartRequired, "server.websocket")
	}
	if old.Auth.JWTSecret != new.Auth.JWTSecret || old.Auth.JWTIssuer != new.Auth.JWTIssuer ||
		!slices.Equal(old.Auth.Tokens, new.Auth.Tokens) {
		d.RestartRequired = append(d.RestartRequired, "auth")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Chat != new.Chat {
		d.RestartRequired = append(d.RestartRequired, "chat")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func sameAccess(a, b *SessionAccess) bool {
	return a.Host == b.Host && a.Public == b.Public && slices.Equal(a.Invited, b.Invited)
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameProviders(a, b ProvidersConfig) bool {
	return sameEntry(a.LLM, b.LLM) && sameEntry(a.STT, b.STT) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, sameEntry) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, sameEntry)
}

// sameEntry compares the scalar fields and the number of options. Option
// values may be nested maps and are not compared deeply.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && len(a.Options) == len(b.Options)
}
