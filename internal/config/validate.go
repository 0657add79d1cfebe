package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"
)

// Validate checks configuration invariants and returns actionable errors.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var errs []error
	if cfg.RPC.Socket == "" {
		errs = append(errs, errors.New("rpc.socket must not be empty"))
	}
	if cfg.RPC.TimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("rpc.timeout_ms must be positive, got %d", cfg.RPC.TimeoutMS))
	}

	if cfg.Stream.URL != "" {
		u, err := url.Parse(cfg.Stream.URL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("stream.url %q: %w", cfg.Stream.URL, err))
		case u.Scheme != "ws" && u.Scheme != "wss":
			errs = append(errs, fmt.Errorf("stream.url %q must use ws:// or wss://", cfg.Stream.URL))
		case u.Host == "":
			errs = append(errs, fmt.Errorf("stream.url %q has no host", cfg.Stream.URL))
		}
	}

	errs = append(errs, validateDuration("stream.token_window", cfg.Stream.TokenWindow)...)
	errs = append(errs, validateDuration("stream.reconnect_delay", cfg.Stream.ReconnectDelay)...)
	errs = append(errs, validateDuration("stream.heartbeat_interval", cfg.Stream.HeartbeatInterval)...)
	errs = append(errs, validateDuration("stream.heartbeat_timeout", cfg.Stream.HeartbeatTimeout)...)
	errs = append(errs, validateDuration("tracker.batch_timeout", cfg.Tracker.BatchTimeout)...)
	errs = append(errs, validateDuration("tracker.task_timeout", cfg.Tracker.TaskTimeout)...)
	errs = append(errs, validateDuration("tracker.dedup_ttl", cfg.Tracker.DedupTTL)...)

	names := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tc := cfg.Tasks[name]
		if tc.Schema != "" && tc.SchemaFile != "" {
			errs = append(errs, fmt.Errorf("tasks.%s: set either schema or schema_file, not both", name))
		}
	}

	return errors.Join(errs...)
}

func validateDuration(field, raw string) []error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)}
	}
	if d < 0 {
		return []error{fmt.Errorf("%s: must not be negative, got %s", field, raw)}
	}
	return nil
}
