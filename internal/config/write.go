package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrExists is returned by Write when the target file is already present
// and overwrite was not requested.
var ErrExists = fs.ErrExist

const fileHeader = "# opencli configuration.\n# " + EnvSecret + " overrides stream.secret when set.\n\n"

// Write stores cfg at path as TOML, readable only by the owner because
// the stream table can hold the shared secret. Without overwrite an
// existing file is left untouched and ErrExists is returned; the check
// and the write are a single link, so two concurrent inits cannot both
// succeed.
func Write(path string, cfg *Config, overwrite bool) error {
	if cfg == nil {
		cfg = Default()
	}

	payload := bytes.NewBufferString(fileHeader)
	if err := toml.NewEncoder(payload).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config.toml.tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting config permissions: %w", err)
	}
	if _, err := tmp.Write(payload.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing config: %w", err)
	}

	if overwrite {
		if err := os.Rename(tmpPath, path); err != nil {
			return fmt.Errorf("replacing config file: %w", err)
		}
		return nil
	}
	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
		return fmt.Errorf("creating config file: %w", err)
	}
	return nil
}
