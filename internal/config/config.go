package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "KEEP_CONFIG"

// Config represents the optional keep configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	Jobs     []Job          `toml:"jobs"`
}

// DefaultsConfig holds persistent flag defaults. A nil field leaves the
// built-in default in place.
type DefaultsConfig struct {
	Workers     *int    `toml:"workers"`
	Tolerance   *string `toml:"tolerance"`
	Compress    *bool   `toml:"compress"`
	Multithread *bool   `toml:"multithread"`
	Verify      *bool   `toml:"verify"`
	Threshold   *string `toml:"threshold"`
	BWLimit     *string `toml:"bwlimit"`
}

// Path returns the resolved path to the config file.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "keep", "config.toml")
}

// Load reads the config file from Path. Returns a zero Config (no error)
// if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path, treating a missing file as empty.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}

// Job returns the job with the given name.
func (c Config) Job(name string) (Job, bool) {
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}
