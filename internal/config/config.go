package config

import (
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/opencli/opencli/internal/paths"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Environment variables consumed by every client.
const (
	EnvVerbose    = "OPENCLI_VERBOSE"
	EnvTimeout    = "OPENCLI_TIMEOUT"
	EnvSocket     = "OPENCLI_SOCKET"
	EnvStreamURL  = "OPENCLI_STREAM_URL"
	EnvSecret     = "OPENCLI_SECRET"
	EnvDaemonPath = "OPENCLI_DAEMON_PATH"
)

// Load reads the config file, applies environment overrides and fills defaults.
// If the config file does not exist, it returns the defaults (no error).
func Load() (*Config, error) {
	return LoadFrom(paths.ConfigFile())
}

// LoadFrom reads and parses a config file at the given path.
func LoadFrom(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	expandConfigEnvVars(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ExampleConfigPath returns the default config file path (for help messages).
func ExampleConfigPath() string {
	return paths.ConfigFile()
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Tasks: make(map[string]TaskConfig)}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Tasks == nil {
		cfg.Tasks = make(map[string]TaskConfig)
	}
	return &cfg, nil
}

// Default returns a config populated with every default value.
func Default() *Config {
	cfg := &Config{Tasks: make(map[string]TaskConfig)}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.RPC.Socket == "" {
		cfg.RPC.Socket = paths.DefaultSocketPath
	}
	if cfg.RPC.TimeoutMS == 0 {
		cfg.RPC.TimeoutMS = DefaultTimeoutMS
	}
	if cfg.Stream.URL == "" {
		cfg.Stream.URL = DefaultStreamURL
	}
	if cfg.Stream.DeviceID == "" {
		cfg.Stream.DeviceID = defaultDeviceID()
	}
	if cfg.Stream.DeviceName == "" {
		cfg.Stream.DeviceName = cfg.Stream.DeviceID
	}
	if cfg.Stream.Platform == "" {
		cfg.Stream.Platform = runtime.GOOS + "/" + runtime.GOARCH
	}
	if cfg.Daemon.Path == "" {
		cfg.Daemon.Path = paths.DaemonBinary()
	} else {
		cfg.Daemon.Path = paths.HomeRelative(cfg.Daemon.Path)
	}
	if cfg.Tasks == nil {
		cfg.Tasks = make(map[string]TaskConfig)
	}
}

func defaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return "opencli-" + strings.ToLower(host)
}

func applyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvVerbose); ok {
		cfg.Verbose = ParseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvTimeout)); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return fmt.Errorf("%s must be a positive integer (milliseconds), got %q", EnvTimeout, v)
		}
		cfg.RPC.TimeoutMS = ms
	}
	if v := os.Getenv(EnvSocket); v != "" {
		cfg.RPC.Socket = v
	}
	if v := os.Getenv(EnvStreamURL); v != "" {
		cfg.Stream.URL = v
	}
	if v := os.Getenv(EnvSecret); v != "" {
		cfg.Stream.Secret = v
	}
	if v := os.Getenv(EnvDaemonPath); v != "" {
		cfg.Daemon.Path = v
	}
	return nil
}

// ParseBool accepts the usual truthy spellings used in environment toggles.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func expandConfigEnvVars(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.RPC.Socket = expandEnvVars(cfg.RPC.Socket)
	cfg.Stream.URL = expandEnvVars(cfg.Stream.URL)
	cfg.Stream.DeviceID = expandEnvVars(cfg.Stream.DeviceID)
	cfg.Stream.DeviceName = expandEnvVars(cfg.Stream.DeviceName)
	cfg.Stream.Secret = expandEnvVars(cfg.Stream.Secret)
	cfg.Daemon.Path = expandEnvVars(cfg.Daemon.Path)

	for name, tc := range cfg.Tasks {
		tc.SchemaFile = expandEnvVars(tc.SchemaFile)
		cfg.Tasks[name] = tc
	}
}

// expandEnvVars replaces ${VAR_NAME} with the value of the environment variable.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // leave unresolved vars as-is
	})
}
