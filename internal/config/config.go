package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"

	"github.com/lydakis/sidecar/internal/paths"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the default config file. A missing file yields an empty Config.
func Load() (*Config, error) {
	return LoadFrom(paths.ConfigFile())
}

// LoadFrom reads and parses the config file at path, expanding ${ENV_VAR}
// placeholders after parsing.
func LoadFrom(path string) (*Config, error) {
	return loadFrom(path, true)
}

// LoadForEditFrom reads the config at path without expanding placeholders,
// so a later save does not bake secrets into the file.
func LoadForEditFrom(path string) (*Config, error) {
	return loadFrom(path, false)
}

func loadFrom(path string, expand bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing config %s: unknown key %s", path, undecoded[0])
	}
	if expand {
		expandConfigEnvVars(&cfg)
	}
	return &cfg, nil
}

func expandConfigEnvVars(cfg *Config) {
	cfg.Worker = ExpandWorker(cfg.Worker)
	cfg.Log.File = expandEnvVars(cfg.Log.File)
	cfg.Metrics.Addr = expandEnvVars(cfg.Metrics.Addr)
}

// ExpandWorker returns a copy of w with ${ENV} placeholders resolved.
func ExpandWorker(w WorkerConfig) WorkerConfig {
	w.Command = expandEnvVars(w.Command)
	w.Dir = expandEnvVars(w.Dir)
	if w.Args != nil {
		args := make([]string, len(w.Args))
		for i, a := range w.Args {
			args[i] = expandEnvVars(a)
		}
		w.Args = args
	}
	if w.Env != nil {
		env := make(map[string]string, len(w.Env))
		for k, v := range w.Env {
			env[k] = expandEnvVars(v)
		}
		w.Env = env
	}
	return w
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
