package config

import "time"

// Config is the top-level opencli configuration.
type Config struct {
	Verbose bool                  `toml:"verbose"`
	RPC     RPCConfig             `toml:"rpc"`
	Stream  StreamConfig          `toml:"stream"`
	Daemon  DaemonConfig          `toml:"daemon"`
	Tracker TrackerConfig         `toml:"tracker"`
	Tasks   map[string]TaskConfig `toml:"tasks"`
}

// RPCConfig describes the framed unary RPC endpoint.
type RPCConfig struct {
	Socket    string `toml:"socket"`
	TimeoutMS int    `toml:"timeout_ms"`
}

// StreamConfig describes the authenticated task-streaming endpoint.
type StreamConfig struct {
	URL        string `toml:"url"`
	DeviceID   string `toml:"device_id"`
	DeviceName string `toml:"device_name"`
	Platform   string `toml:"platform"`
	Secret     string `toml:"secret"`

	// TokenWindow buckets the auth timestamp; "0s" or empty sends the raw timestamp.
	TokenWindow       string `toml:"token_window"`
	ReconnectDelay    string `toml:"reconnect_delay"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	HeartbeatTimeout  string `toml:"heartbeat_timeout"`
}

// DaemonConfig controls auto-spawn of the daemon executable.
type DaemonConfig struct {
	Path      string `toml:"path"`
	AutoSpawn *bool  `toml:"auto_spawn"`
}

// TrackerConfig holds correlation timeouts.
type TrackerConfig struct {
	BatchTimeout string `toml:"batch_timeout"`
	TaskTimeout  string `toml:"task_timeout"`
	DedupTTL     string `toml:"dedup_ttl"`
}

// TaskConfig holds per-task-type overrides.
type TaskConfig struct {
	Schema     string `toml:"schema"`
	SchemaFile string `toml:"schema_file"`
}

// Defaults.
const (
	DefaultTimeoutMS         = 30000
	DefaultStreamURL         = "ws://127.0.0.1:9876"
	DefaultReconnectDelay    = 5 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultHeartbeatTimeout  = 45 * time.Second
	DefaultBatchTimeout      = 120 * time.Second
	DefaultTaskTimeout       = 30 * time.Second
	DefaultDedupTTL          = 10 * time.Minute
)

// AutoSpawnEnabled reports whether the dispatcher may start the daemon.
func (d DaemonConfig) AutoSpawnEnabled() bool {
	return d.AutoSpawn == nil || *d.AutoSpawn
}

// Timeout returns the RPC timeout as a duration.
func (r RPCConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// ReconnectDelayDuration returns the parsed reconnect delay or its default.
func (s StreamConfig) ReconnectDelayDuration() time.Duration {
	return durationOr(s.ReconnectDelay, DefaultReconnectDelay)
}

// HeartbeatIntervalDuration returns the parsed heartbeat interval or its default.
func (s StreamConfig) HeartbeatIntervalDuration() time.Duration {
	return durationOr(s.HeartbeatInterval, DefaultHeartbeatInterval)
}

// HeartbeatTimeoutDuration returns the parsed heartbeat timeout or its default.
func (s StreamConfig) HeartbeatTimeoutDuration() time.Duration {
	return durationOr(s.HeartbeatTimeout, DefaultHeartbeatTimeout)
}

// TokenWindowDuration returns the auth timestamp bucket, zero for raw timestamps.
func (s StreamConfig) TokenWindowDuration() time.Duration {
	return durationOr(s.TokenWindow, 0)
}

// BatchTimeoutDuration returns the global batch timeout or its default.
func (t TrackerConfig) BatchTimeoutDuration() time.Duration {
	return durationOr(t.BatchTimeout, DefaultBatchTimeout)
}

// TaskTimeoutDuration returns the per-task timeout or its default.
func (t TrackerConfig) TaskTimeoutDuration() time.Duration {
	return durationOr(t.TaskTimeout, DefaultTaskTimeout)
}

// DedupTTLDuration returns the dedup store retention or its default.
func (t TrackerConfig) DedupTTLDuration() time.Duration {
	return durationOr(t.DedupTTL, DefaultDedupTTL)
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
